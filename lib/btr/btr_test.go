package btr

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/BiyanKilani/daos/lib/umem"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Test class: uint64 keys, byte slice values
// --------------------------------------------------------------------------

const testClass = ClassBegin + 100

func init() {
	if err := RegisterClass(Class{ID: testClass, Name: "test-u64"}); err != nil {
		panic(err)
	}
}

type testKey struct{ k uint64 }
type testVal struct{ v []byte }

type testOps struct{ freed int }

func (o *testOps) Class() ClassID { return testClass }

func (o *testOps) HKey(key *testKey) ([]byte, error) {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, key.k)
	return buf, nil
}

func (o *testOps) RecAlloc(tx *umem.Tx, key *testKey, val *testVal) (umem.MemID, error) {
	if len(val.v) == 0 {
		return umem.NilMemID, errors.New("empty value")
	}
	id, err := tx.Alloc(len(val.v))
	if err != nil {
		return umem.NilMemID, err
	}
	copy(tx.Arena().Deref(id), val.v)
	return id, nil
}

func (o *testOps) RecFree(tx *umem.Tx, rec *Record) error {
	o.freed++
	return tx.Free(rec.MemID)
}

func (o *testOps) RecFetch(mem *umem.Arena, rec *Record, key *testKey, val *testVal) error {
	if key != nil {
		key.k = binary.BigEndian.Uint64(rec.Key)
	}
	if val != nil {
		val.v = append([]byte(nil), mem.Deref(rec.MemID)...)
	}
	return nil
}

func (o *testOps) RecUpdate(tx *umem.Tx, rec *Record, key *testKey, val *testVal) error {
	mem := tx.Arena()
	if mem.Size(rec.MemID) == len(val.v) {
		if err := tx.AddRange(rec.MemID); err != nil {
			return err
		}
		copy(mem.Deref(rec.MemID), val.v)
		return nil
	}
	id, err := o.RecAlloc(tx, key, val)
	if err != nil {
		return err
	}
	if err := tx.Free(rec.MemID); err != nil {
		return err
	}
	old := rec.MemID
	rec.MemID = id
	tx.OnAbort(func() { rec.MemID = old })
	return nil
}

func newTestTree(t *testing.T) (*Forest, *Tree[*testKey, *testVal], *testOps) {
	t.Helper()
	f := NewForest(umem.NewArena(nil))
	ops := &testOps{}

	var root Root
	require.NoError(t, f.Arena().Update(func(tx *umem.Tx) error {
		var err error
		root, err = f.Create(tx, testClass, 0)
		return err
	}))
	tree, err := Open[*testKey, *testVal](f, root, ops)
	require.NoError(t, err)
	return f, tree, ops
}

func insert(t *testing.T, tree *Tree[*testKey, *testVal], k uint64, v string) {
	t.Helper()
	require.NoError(t, tree.forest.Arena().Update(func(tx *umem.Tx) error {
		return tree.Insert(tx, &testKey{k}, &testVal{[]byte(v)})
	}))
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestRootCodec(t *testing.T) {
	r := Root{Class: 11, Order: 23, Node: umem.MemID(0x0000000300000040)}
	buf := make([]byte, RootSize)
	EncodeRoot(buf, r)
	assert.Equal(t, r, DecodeRoot(buf))
	assert.True(t, Root{}.IsZero())
}

func TestCreateUnknownClass(t *testing.T) {
	f := NewForest(umem.NewArena(nil))
	err := f.Arena().Update(func(tx *umem.Tx) error {
		_, err := f.Create(tx, ClassBegin+999, 0)
		return err
	})
	assert.ErrorIs(t, err, ErrUnknownClass)
	assert.Zero(t, f.Len())
}

// countingLogger records how often each level was written.
type countingLogger struct {
	calls map[string]int
}

func (l *countingLogger) SetLevel(logger.LogLevel)                    {}
func (l *countingLogger) Debugf(format string, args ...interface{})   { l.calls["debug"]++ }
func (l *countingLogger) Infof(format string, args ...interface{})    { l.calls["info"]++ }
func (l *countingLogger) Warningf(format string, args ...interface{}) { l.calls["warn"]++ }
func (l *countingLogger) Errorf(format string, args ...interface{})   { l.calls["error"]++ }
func (l *countingLogger) Panicf(format string, args ...interface{})   { l.calls["panic"]++ }

// Classes are registered from package init, before the logger factory is
// installed, so registration must stay silent.
func TestRegisterClassDoesNotLog(t *testing.T) {
	spy := &countingLogger{calls: map[string]int{}}
	saved := plog
	plog = spy
	t.Cleanup(func() { plog = saved })

	require.NoError(t, RegisterClass(Class{ID: ClassBegin + 200, Name: "quiet"}))
	_, ok := LookupClass(ClassBegin + 200)
	assert.True(t, ok)
	assert.Empty(t, spy.calls)

	f := NewForest(umem.NewArena(nil))
	err := f.Arena().Update(func(tx *umem.Tx) error {
		_, err := f.Create(tx, ClassBegin+998, 0)
		return err
	})
	assert.ErrorIs(t, err, ErrUnknownClass)
	assert.Equal(t, map[string]int{"warn": 1}, spy.calls)
}

func TestRegisterTwice(t *testing.T) {
	assert.Error(t, RegisterClass(Class{ID: testClass, Name: "again"}))
}

func TestOpenClassMismatch(t *testing.T) {
	f, tree, _ := newTestTree(t)
	root := tree.Root()
	root.Class = ClassBegin + 999
	_, err := Open[*testKey, *testVal](f, root, &testOps{})
	assert.ErrorIs(t, err, ErrClassMismatch)

	_, err = Open[*testKey, *testVal](f, Root{Class: testClass, Node: 12345}, &testOps{})
	assert.ErrorIs(t, err, ErrNonexist)
}

func TestInsertLookupUpdate(t *testing.T) {
	_, tree, _ := newTestTree(t)

	insert(t, tree, 1, "one")
	insert(t, tree, 2, "two")
	assert.Equal(t, 2, tree.Len())

	val := &testVal{}
	require.NoError(t, tree.Lookup(&testKey{1}, val))
	assert.Equal(t, "one", string(val.v))

	// same size: in place, other size: reallocated
	insert(t, tree, 1, "uno")
	insert(t, tree, 2, "zwei")
	require.NoError(t, tree.Lookup(&testKey{1}, val))
	assert.Equal(t, "uno", string(val.v))
	require.NoError(t, tree.Lookup(&testKey{2}, val))
	assert.Equal(t, "zwei", string(val.v))
	assert.Equal(t, 2, tree.Len())

	assert.ErrorIs(t, tree.Lookup(&testKey{3}, val), ErrNonexist)
}

func TestInsertAbort(t *testing.T) {
	f, tree, _ := newTestTree(t)
	insert(t, tree, 1, "one")
	live := f.Arena().Stats().LiveAllocs

	boom := errors.New("boom")
	err := f.Arena().Update(func(tx *umem.Tx) error {
		require.NoError(t, tree.Insert(tx, &testKey{2}, &testVal{[]byte("two")}))
		require.NoError(t, tree.Insert(tx, &testKey{1}, &testVal{[]byte("ONE")}))
		require.NoError(t, tree.Insert(tx, &testKey{1}, &testVal{[]byte("longer")}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.Equal(t, 1, tree.Len())
	val := &testVal{}
	require.NoError(t, tree.Lookup(&testKey{1}, val))
	assert.Equal(t, "one", string(val.v))
	assert.Equal(t, live, f.Arena().Stats().LiveAllocs)
}

func TestDelete(t *testing.T) {
	f, tree, ops := newTestTree(t)
	insert(t, tree, 1, "one")
	insert(t, tree, 2, "two")

	require.NoError(t, f.Arena().Update(func(tx *umem.Tx) error {
		return tree.Delete(tx, &testKey{1})
	}))
	assert.Equal(t, 1, tree.Len())
	assert.Equal(t, 1, ops.freed)
	assert.ErrorIs(t, tree.Lookup(&testKey{1}, &testVal{}), ErrNonexist)

	err := f.Arena().Update(func(tx *umem.Tx) error {
		return tree.Delete(tx, &testKey{1})
	})
	assert.ErrorIs(t, err, ErrNonexist)

	// aborted delete keeps the record
	_ = f.Arena().Update(func(tx *umem.Tx) error {
		require.NoError(t, tree.Delete(tx, &testKey{2}))
		return errors.New("abort")
	})
	val := &testVal{}
	require.NoError(t, tree.Lookup(&testKey{2}, val))
	assert.Equal(t, "two", string(val.v))
}

func TestDestroy(t *testing.T) {
	f, tree, ops := newTestTree(t)
	for k := uint64(0); k < 10; k++ {
		insert(t, tree, k, "value")
	}
	root := tree.Root()

	require.NoError(t, f.Arena().Update(func(tx *umem.Tx) error {
		return Destroy[*testKey, *testVal](f, tx, root, ops)
	}))

	assert.Equal(t, 10, ops.freed)
	assert.Zero(t, f.Len())
	assert.Zero(t, f.Arena().Stats().LiveAllocs)
	assert.ErrorIs(t, tree.Lookup(&testKey{1}, &testVal{}), ErrClosed)

	_, err := Open[*testKey, *testVal](f, root, ops)
	assert.ErrorIs(t, err, ErrNonexist)
}

func TestCursor(t *testing.T) {
	_, tree, _ := newTestTree(t)
	for _, k := range []uint64{10, 20, 30, 40} {
		insert(t, tree, k, "v")
	}

	c := tree.NewCursor()
	key := &testKey{}
	fetch := func() uint64 {
		_, err := c.Fetch(key, nil)
		require.NoError(t, err)
		return key.k
	}

	require.NoError(t, c.Probe(ProbeFirst, nil))
	var got []uint64
	for {
		got = append(got, fetch())
		if err := c.Next(); err != nil {
			assert.ErrorIs(t, err, ErrNonexist)
			break
		}
	}
	assert.Equal(t, []uint64{10, 20, 30, 40}, got)
	assert.False(t, c.Valid())

	cases := []struct {
		op   ProbeOp
		key  uint64
		want uint64
		ok   bool
	}{
		{ProbeEQ, 20, 20, true},
		{ProbeEQ, 25, 0, false},
		{ProbeGE, 25, 30, true},
		{ProbeGE, 30, 30, true},
		{ProbeGT, 30, 40, true},
		{ProbeGT, 40, 0, false},
		{ProbeLE, 25, 20, true},
		{ProbeLE, 5, 0, false},
		{ProbeLT, 20, 10, true},
	}
	for _, tc := range cases {
		err := c.Probe(tc.op, &testKey{tc.key})
		if !tc.ok {
			assert.ErrorIs(t, err, ErrNonexist, "op %d key %d", tc.op, tc.key)
			continue
		}
		require.NoError(t, err, "op %d key %d", tc.op, tc.key)
		assert.Equal(t, tc.want, fetch(), "op %d key %d", tc.op, tc.key)
	}

	require.NoError(t, c.Probe(ProbeLast, nil))
	assert.EqualValues(t, 40, fetch())
	require.NoError(t, c.Prev())
	assert.EqualValues(t, 30, fetch())
}

func TestCursorSurvivesInserts(t *testing.T) {
	_, tree, _ := newTestTree(t)
	insert(t, tree, 10, "v")
	insert(t, tree, 30, "v")

	c := tree.NewCursor()
	require.NoError(t, c.Probe(ProbeFirst, nil))

	insert(t, tree, 20, "v")
	require.NoError(t, c.Next())
	key := &testKey{}
	_, err := c.Fetch(key, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 20, key.k)
}
