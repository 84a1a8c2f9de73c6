package testing

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/BiyanKilani/daos/lib/vos"
	"github.com/google/uuid"
)

// Env is the engine state an iterator test runs against.
type Env struct {
	Pool  *vos.Pool
	Cache *vos.ObjCache
}

// EnvFactory creates a fresh, empty Env.
type EnvFactory func() *Env

// RunIteratorTests runs the iterator conformance suite against engines built
// by factory.
func RunIteratorTests(t *testing.T, name string, factory EnvFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Containers", func(t *testing.T) {
			testContainers(t, factory())
		})

		t.Run("Objects", func(t *testing.T) {
			testObjects(t, factory())
		})

		t.Run("DKeys", func(t *testing.T) {
			testDKeys(t, factory())
		})

		t.Run("Recx", func(t *testing.T) {
			testRecx(t, factory())
		})

		t.Run("EpochFilter", func(t *testing.T) {
			testEpochFilter(t, factory())
		})

		t.Run("AnchorResume", func(t *testing.T) {
			testAnchorResume(t, factory())
		})

		t.Run("StateMachine", func(t *testing.T) {
			testStateMachine(t, factory())
		})

		t.Run("EmptyLevels", func(t *testing.T) {
			testEmptyLevels(t, factory())
		})

		t.Run("ReleasesReferences", func(t *testing.T) {
			testReleasesReferences(t, factory())
		})

		t.Run("ConcurrentUpdates", func(t *testing.T) {
			testConcurrentUpdates(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// openContainer creates and opens a container, closing it on cleanup.
func openContainer(t testing.TB, env *Env) *vos.Container {
	t.Helper()
	id := uuid.New()
	if err := env.Pool.CreateContainer(id); err != nil {
		t.Fatalf("create container: %v", err)
	}
	co, err := env.Pool.OpenContainer(id)
	if err != nil {
		t.Fatalf("open container: %v", err)
	}
	t.Cleanup(func() { _ = env.Pool.CloseContainer(co) })
	return co
}

func oid(n int) vos.UnitOID {
	return vos.UnitOID{ID: vos.ObjectID{Hi: 1, Lo: uint64(n)}}
}

func dkey(n int) []byte {
	return []byte(fmt.Sprintf("dkey-%04d", n))
}

func value(o, k, idx int, epoch uint64) []byte {
	return []byte(fmt.Sprintf("o%d/k%d/i%d@%d", o, k, idx, epoch))
}

func update(t testing.TB, env *Env, co *vos.Container, o, k, idx int, epoch uint64) {
	t.Helper()
	v := value(o, k, idx, epoch)
	recx := vos.Recx{RSize: 1, Index: uint64(idx), Nr: uint64(len(v))}
	if err := vos.ObjUpdate(env.Cache, co, oid(o), epoch, dkey(k), recx, nil, v); err != nil {
		t.Fatalf("update o%d k%d i%d @%d: %v", o, k, idx, epoch, err)
	}
}

// populate writes objects x keys x versions, each version at epochs
// 10, 20, ... for index 0.
func populate(t testing.TB, env *Env, co *vos.Container, objects, keys, versions int) {
	t.Helper()
	for o := 0; o < objects; o++ {
		for k := 0; k < keys; k++ {
			for v := 1; v <= versions; v++ {
				update(t, env, co, o, k, 0, uint64(v*10))
			}
		}
	}
}

// collect walks the iterator from anchor to the end.
func collect(t testing.TB, it *vos.Iterator, anchor vos.Anchor) ([]vos.IterEntry, []vos.Anchor) {
	t.Helper()
	var (
		entries []vos.IterEntry
		anchors []vos.Anchor
	)
	var err error
	for err = it.Probe(anchor); err == nil; err = it.Next() {
		var e vos.IterEntry
		a, ferr := it.Fetch(&e)
		if ferr != nil {
			t.Fatalf("fetch: %v", ferr)
		}
		entries = append(entries, e)
		anchors = append(anchors, a)
		if len(entries) > 1_000_000 {
			t.Fatalf("iterator does not terminate")
		}
	}
	if !errors.Is(err, vos.ErrNoMoreEntries) {
		t.Fatalf("expected ErrNoMoreEntries at the end, got %v", err)
	}
	if it.State() != vos.IterStateEnd {
		t.Fatalf("expected END state, got %d", it.State())
	}
	return entries, anchors
}

func sameEntry(a, b vos.IterEntry) bool {
	return a.Container == b.Container && a.OID == b.OID && a.Epoch == b.Epoch &&
		a.Recx == b.Recx && bytes.Equal(a.Key, b.Key) && bytes.Equal(a.Value, b.Value)
}

func prepare(t testing.TB, typ vos.IterType, param *vos.IterParam) *vos.Iterator {
	t.Helper()
	it, err := vos.Prepare(typ, param)
	if err != nil {
		t.Fatalf("prepare %s iterator: %v", typ, err)
	}
	t.Cleanup(func() { _ = it.Finish() })
	return it
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testContainers(t *testing.T, env *Env) {
	want := make([]uuid.UUID, 0, 10)
	for i := 0; i < 10; i++ {
		co := openContainer(t, env)
		want = append(want, co.ID())
	}
	sort.Slice(want, func(i, j int) bool { return bytes.Compare(want[i][:], want[j][:]) < 0 })

	it := prepare(t, vos.IterContainer, &vos.IterParam{Pool: env.Pool})
	entries, _ := collect(t, it, nil)

	if len(entries) != len(want) {
		t.Fatalf("expected %d containers, got %d", len(want), len(entries))
	}
	for i, e := range entries {
		if e.Container != want[i] {
			t.Errorf("container %d: expected %s, got %s", i, want[i], e.Container)
		}
	}
}

func testObjects(t *testing.T, env *Env) {
	co := openContainer(t, env)
	populate(t, env, co, 50, 1, 1)

	it := prepare(t, vos.IterObject, &vos.IterParam{Container: co})
	entries, _ := collect(t, it, nil)

	if len(entries) != 50 {
		t.Fatalf("expected 50 objects, got %d", len(entries))
	}
	seen := make(map[vos.UnitOID]bool)
	for _, e := range entries {
		if seen[e.OID] {
			t.Errorf("object %s returned twice", e.OID)
		}
		seen[e.OID] = true
	}
	for o := 0; o < 50; o++ {
		if !seen[oid(o)] {
			t.Errorf("object %s missing", oid(o))
		}
	}
}

func testDKeys(t *testing.T, env *Env) {
	co := openContainer(t, env)
	// insert out of order
	for _, k := range []int{7, 3, 9, 0, 5} {
		update(t, env, co, 1, k, 0, 10)
	}

	it := prepare(t, vos.IterDKey, &vos.IterParam{Cache: env.Cache, Container: co, OID: oid(1)})
	entries, anchors := collect(t, it, nil)

	want := []int{0, 3, 5, 7, 9}
	if len(entries) != len(want) {
		t.Fatalf("expected %d keys, got %d", len(want), len(entries))
	}
	for i, e := range entries {
		if !bytes.Equal(e.Key, dkey(want[i])) {
			t.Errorf("key %d: expected %s, got %s", i, dkey(want[i]), e.Key)
		}
		if anchors[i].IsZero() {
			t.Errorf("key %d: empty anchor", i)
		}
	}
}

func testRecx(t *testing.T, env *Env) {
	co := openContainer(t, env)
	update(t, env, co, 1, 1, 2, 30)
	update(t, env, co, 1, 1, 1, 20)
	update(t, env, co, 1, 1, 2, 10)
	update(t, env, co, 1, 1, 1, 40)

	it := prepare(t, vos.IterRecx, &vos.IterParam{Cache: env.Cache, Container: co, OID: oid(1), DKey: dkey(1)})
	entries, _ := collect(t, it, nil)

	// index major, epoch minor
	want := []struct {
		idx   uint64
		epoch uint64
	}{{1, 20}, {1, 40}, {2, 10}, {2, 30}}
	if len(entries) != len(want) {
		t.Fatalf("expected %d versions, got %d", len(want), len(entries))
	}
	for i, e := range entries {
		if e.Recx.Index != want[i].idx || e.Epoch != want[i].epoch {
			t.Errorf("version %d: expected (%d, %d), got (%d, %d)", i, want[i].idx, want[i].epoch, e.Recx.Index, e.Epoch)
		}
		v := value(1, 1, int(e.Recx.Index), e.Epoch)
		if !bytes.Equal(e.Value, v) {
			t.Errorf("version %d: expected value %s, got %s", i, v, e.Value)
		}
		if e.Recx.RSize != 1 || e.Recx.Nr != uint64(len(v)) {
			t.Errorf("version %d: unexpected extent %+v", i, e.Recx)
		}
	}
}

func testEpochFilter(t *testing.T, env *Env) {
	co := openContainer(t, env)
	populate(t, env, co, 1, 1, 5) // epochs 10..50
	update(t, env, co, 1, 1, 0, 35)

	epr := &vos.EpochRange{Lo: 20, Hi: 40}
	it := prepare(t, vos.IterRecx, &vos.IterParam{Cache: env.Cache, Container: co, OID: oid(0), DKey: dkey(0), Epr: epr})
	entries, _ := collect(t, it, nil)
	if len(entries) != 3 {
		t.Fatalf("expected 3 versions in %s, got %d", epr, len(entries))
	}
	for _, e := range entries {
		if !epr.Contains(e.Epoch) {
			t.Errorf("version at %d outside %s", e.Epoch, epr)
		}
	}

	// key 1 of object 1 only exists at 35
	it = prepare(t, vos.IterDKey, &vos.IterParam{Cache: env.Cache, Container: co, OID: oid(1), Epr: &vos.EpochRange{Lo: 0, Hi: 30}})
	if entries, _ = collect(t, it, nil); len(entries) != 0 {
		t.Errorf("expected no keys visible at 30, got %d", len(entries))
	}

	// punched objects disappear from object iteration at and after the punch
	if err := vos.ObjPunch(env.Cache, co, oid(1), 60); err != nil {
		t.Fatalf("punch: %v", err)
	}
	it = prepare(t, vos.IterObject, &vos.IterParam{Container: co, Epr: &vos.EpochRange{Hi: 60}})
	if entries, _ = collect(t, it, nil); len(entries) != 1 || entries[0].OID != oid(0) {
		t.Errorf("expected only %s at 60, got %v", oid(0), entries)
	}
	it = prepare(t, vos.IterObject, &vos.IterParam{Container: co, Epr: &vos.EpochRange{Hi: 59}})
	if entries, _ = collect(t, it, nil); len(entries) != 2 {
		t.Errorf("expected 2 objects at 59, got %d", len(entries))
	}
}

func testAnchorResume(t *testing.T, env *Env) {
	co := openContainer(t, env)
	populate(t, env, co, 20, 10, 3)

	params := []struct {
		typ   vos.IterType
		param *vos.IterParam
	}{
		{vos.IterObject, &vos.IterParam{Container: co}},
		{vos.IterDKey, &vos.IterParam{Cache: env.Cache, Container: co, OID: oid(4)}},
		{vos.IterRecx, &vos.IterParam{Cache: env.Cache, Container: co, OID: oid(4), DKey: dkey(6)}},
	}
	for _, p := range params {
		full, anchors := collect(t, prepare(t, p.typ, p.param), nil)
		if len(full) < 3 {
			t.Fatalf("%s: too few entries (%d)", p.typ, len(full))
		}

		// resuming from any anchor yields the same suffix
		for i, a := range anchors {
			it := prepare(t, p.typ, p.param)
			rest, _ := collect(t, it, a)
			if len(rest) != len(full)-i {
				t.Fatalf("%s: resume at %d: expected %d entries, got %d", p.typ, i, len(full)-i, len(rest))
			}
			for j := range rest {
				if !sameEntry(rest[j], full[i+j]) {
					t.Errorf("%s: resume at %d: entry %d differs", p.typ, i, j)
				}
			}
			_ = it.Finish()
		}
	}
}

func testStateMachine(t *testing.T, env *Env) {
	co := openContainer(t, env)
	populate(t, env, co, 1, 2, 1)

	it, err := vos.Prepare(vos.IterDKey, &vos.IterParam{Cache: env.Cache, Container: co, OID: oid(0)})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if it.State() != vos.IterStateNone {
		t.Errorf("expected NONE after prepare, got %d", it.State())
	}
	if err := it.Next(); !errors.Is(err, vos.ErrInvalidState) {
		t.Errorf("Next before Probe: expected ErrInvalidState, got %v", err)
	}
	var e vos.IterEntry
	if _, err := it.Fetch(&e); !errors.Is(err, vos.ErrInvalidState) {
		t.Errorf("Fetch before Probe: expected ErrInvalidState, got %v", err)
	}

	if err := it.Probe(nil); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if it.State() != vos.IterStateOK {
		t.Errorf("expected OK after probe, got %d", it.State())
	}
	if err := it.Next(); err != nil {
		t.Fatalf("next: %v", err)
	}
	if err := it.Next(); !errors.Is(err, vos.ErrNoMoreEntries) {
		t.Errorf("Next past the end: expected ErrNoMoreEntries, got %v", err)
	}
	if err := it.Next(); !errors.Is(err, vos.ErrNoMoreEntries) {
		t.Errorf("Next at END: expected ErrNoMoreEntries, got %v", err)
	}
	if _, err := it.Fetch(&e); !errors.Is(err, vos.ErrNoMoreEntries) {
		t.Errorf("Fetch at END: expected ErrNoMoreEntries, got %v", err)
	}

	// re-probing from END is allowed
	if err := it.Probe(nil); err != nil {
		t.Errorf("re-probe: %v", err)
	}

	if err := it.Finish(); err != nil {
		t.Errorf("finish: %v", err)
	}
	if err := it.Finish(); err != nil {
		t.Errorf("second finish: %v", err)
	}
	if err := it.Probe(nil); !errors.Is(err, vos.ErrInvalidState) {
		t.Errorf("Probe after Finish: expected ErrInvalidState, got %v", err)
	}

	if _, err := vos.Prepare(vos.IterType(99), &vos.IterParam{}); !errors.Is(err, vos.ErrInvalidArgument) {
		t.Errorf("unknown type: expected ErrInvalidArgument, got %v", err)
	}
	if _, err := vos.Prepare(vos.IterRecx, &vos.IterParam{Cache: env.Cache, Container: co}); !errors.Is(err, vos.ErrInvalidArgument) {
		t.Errorf("recx without dkey: expected ErrInvalidArgument, got %v", err)
	}
}

func testEmptyLevels(t *testing.T, env *Env) {
	co := openContainer(t, env)

	for _, p := range []struct {
		typ   vos.IterType
		param *vos.IterParam
	}{
		{vos.IterObject, &vos.IterParam{Container: co}},
		{vos.IterDKey, &vos.IterParam{Cache: env.Cache, Container: co, OID: oid(1)}},
		{vos.IterRecx, &vos.IterParam{Cache: env.Cache, Container: co, OID: oid(1), DKey: dkey(1)}},
	} {
		it := prepare(t, p.typ, p.param)
		if err := it.Probe(nil); !errors.Is(err, vos.ErrNoMoreEntries) {
			t.Errorf("%s: expected ErrNoMoreEntries on empty level, got %v", p.typ, err)
		}
		if it.State() != vos.IterStateEnd {
			t.Errorf("%s: expected END, got %d", p.typ, it.State())
		}
	}

	// existing object, missing key
	update(t, env, co, 1, 1, 0, 10)
	it := prepare(t, vos.IterRecx, &vos.IterParam{Cache: env.Cache, Container: co, OID: oid(1), DKey: dkey(2)})
	if err := it.Probe(nil); !errors.Is(err, vos.ErrNoMoreEntries) {
		t.Errorf("missing key: expected ErrNoMoreEntries, got %v", err)
	}
}

func testReleasesReferences(t *testing.T, env *Env) {
	co := openContainer(t, env)
	populate(t, env, co, 3, 3, 1)
	held := env.Cache.Stats().RefsHeld

	its := make([]*vos.Iterator, 0, 6)
	for o := 0; o < 3; o++ {
		its = append(its, prepare(t, vos.IterDKey, &vos.IterParam{Cache: env.Cache, Container: co, OID: oid(o)}))
		its = append(its, prepare(t, vos.IterRecx, &vos.IterParam{Cache: env.Cache, Container: co, OID: oid(o), DKey: dkey(0)}))
	}
	// two iterators per object pin three entries
	if got := env.Cache.Stats().RefsHeld; got != held+3 {
		t.Errorf("expected %d held entries, got %d", held+3, got)
	}

	// a held object cannot be evicted
	if err := env.Cache.Evict(co, oid(0)); !errors.Is(err, vos.ErrBusy) {
		t.Errorf("evict while iterating: expected ErrBusy, got %v", err)
	}

	for _, it := range its {
		collect(t, it, nil)
		if err := it.Finish(); err != nil {
			t.Errorf("finish: %v", err)
		}
	}
	if got := env.Cache.Stats().RefsHeld; got != held {
		t.Errorf("expected %d held references after finish, got %d", held, got)
	}
}

func testConcurrentUpdates(t *testing.T, env *Env) {
	co := openContainer(t, env)
	populate(t, env, co, 1, 50, 1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for k := 50; k < 150; k++ {
			v := value(0, k, 0, 10)
			recx := vos.Recx{RSize: 1, Nr: uint64(len(v))}
			if err := vos.ObjUpdate(env.Cache, co, oid(0), 10, dkey(k), recx, nil, v); err != nil {
				t.Errorf("concurrent update k%d: %v", k, err)
				return
			}
		}
	}()

	// the walk must terminate and stay ordered while keys are added
	for round := 0; round < 5; round++ {
		it := prepare(t, vos.IterDKey, &vos.IterParam{Cache: env.Cache, Container: co, OID: oid(0)})
		entries, _ := collect(t, it, nil)
		if len(entries) < 50 {
			t.Errorf("round %d: expected at least 50 keys, got %d", round, len(entries))
		}
		for i := 1; i < len(entries); i++ {
			if bytes.Compare(entries[i-1].Key, entries[i].Key) >= 0 {
				t.Fatalf("round %d: keys out of order at %d", round, i)
			}
		}
		_ = it.Finish()
	}
	wg.Wait()
}
