package btr

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/BiyanKilani/daos/lib/umem"
	"github.com/puzpuzpuz/xsync/v3"
)

var (
	// ErrNonexist is returned when a key or tree does not exist.
	ErrNonexist = errors.New("btr: nonexistent")
	// ErrClassMismatch is returned when a root is opened with ops of another class.
	ErrClassMismatch = errors.New("btr: tree class mismatch")
	// ErrUnknownClass is returned for classes that were never registered.
	ErrUnknownClass = errors.New("btr: unknown tree class")
	// ErrClosed is returned when a closed tree handle is used.
	ErrClosed = errors.New("btr: tree closed")
)

// --------------------------------------------------------------------------
// Tree classes
// --------------------------------------------------------------------------

// ClassID identifies a tree class.
type ClassID uint32

// ClassBegin is the first class id available to users of this package.
const ClassBegin ClassID = 10

// CompareFunc orders two hkeys.
type CompareFunc func(a, b []byte) int

// Class describes a registered tree class.
type Class struct {
	ID      ClassID
	Name    string
	Compare CompareFunc // nil = bytes.Compare
}

var classes = xsync.NewMapOf[ClassID, Class]()

// RegisterClass makes a class available to Forest.Create. Registering the
// same id twice fails.
func RegisterClass(c Class) error {
	if c.Compare == nil {
		c.Compare = bytes.Compare
	}
	if _, loaded := classes.LoadOrStore(c.ID, c); loaded {
		return fmt.Errorf("btr: class %d already registered", c.ID)
	}
	return nil
}

// LookupClass returns a registered class.
func LookupClass(id ClassID) (Class, bool) {
	return classes.Load(id)
}

// --------------------------------------------------------------------------
// Root
// --------------------------------------------------------------------------

// RootSize is the encoded size of a Root.
const RootSize = 16

// Root is the on-media descriptor of a tree.
type Root struct {
	Class ClassID
	Order uint32
	Node  umem.MemID
}

// IsZero reports whether r refers to no tree.
func (r Root) IsZero() bool { return r.Node.IsNil() }

// EncodeRoot writes r into buf, which must hold RootSize bytes.
func EncodeRoot(buf []byte, r Root) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.Class))
	binary.LittleEndian.PutUint32(buf[4:8], r.Order)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(r.Node))
}

// DecodeRoot reads a Root from buf.
func DecodeRoot(buf []byte) Root {
	return Root{
		Class: ClassID(binary.LittleEndian.Uint32(buf[0:4])),
		Order: binary.LittleEndian.Uint32(buf[4:8]),
		Node:  umem.MemID(binary.LittleEndian.Uint64(buf[8:16])),
	}
}

func (r Root) String() string {
	return fmt.Sprintf("root{class: %d, order: %d, node: %s}", r.Class, r.Order, r.Node)
}

// --------------------------------------------------------------------------
// Record callbacks
// --------------------------------------------------------------------------

// Record is a tree entry: the hkey and the arena handle of the leaf.
type Record struct {
	Key   []byte
	MemID umem.MemID
}

// Ops supplies the record layout of one tree class. K is the key bundle and
// V the value bundle passed through Insert, Lookup and cursor fetches.
type Ops[K, V any] interface {
	// Class returns the class the ops belong to.
	Class() ClassID
	// HKey derives the ordered tree key from a key bundle.
	HKey(key K) ([]byte, error)
	// RecAlloc allocates and fills the leaf for a new record.
	RecAlloc(tx *umem.Tx, key K, val V) (umem.MemID, error)
	// RecFree releases the leaf of rec and everything it owns.
	RecFree(tx *umem.Tx, rec *Record) error
	// RecFetch decodes rec into key and val.
	RecFetch(mem *umem.Arena, rec *Record, key K, val V) error
	// RecUpdate overwrites the leaf of an existing record. It may replace
	// rec.MemID.
	RecUpdate(tx *umem.Tx, rec *Record, key K, val V) error
}
