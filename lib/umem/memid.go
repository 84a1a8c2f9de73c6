package umem

import "fmt"

// MemID is an opaque handle to an arena allocation.
//
// The upper 32 bits hold the chunk index plus one, the lower 32 bits the
// byte offset inside the chunk. The zero value is NilMemID.
type MemID uint64

// NilMemID never refers to an allocation.
const NilMemID MemID = 0

func makeMemID(chunk, offset int) MemID {
	return MemID(uint64(chunk+1)<<32 | uint64(uint32(offset)))
}

// IsNil reports whether id is NilMemID.
func (id MemID) IsNil() bool { return id == NilMemID }

func (id MemID) chunk() int  { return int(uint64(id)>>32) - 1 }
func (id MemID) offset() int { return int(uint32(id)) }

func (id MemID) String() string {
	if id.IsNil() {
		return "nil"
	}
	return fmt.Sprintf("%d:%#x", id.chunk(), id.offset())
}
