package bench

import (
	"fmt"
	"sync/atomic"

	"github.com/BiyanKilani/daos/lib/vos"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// engine is a populated pool with one open container
type engine struct {
	pool  *vos.Pool
	cache *vos.ObjCache
	co    *vos.Container
	value []byte
	epoch atomic.Uint64
}

func newEngine(c *config) (*engine, error) {
	pool, err := vos.CreatePool(c.engine.PoolOptions())
	if err != nil {
		return nil, err
	}
	cache, err := vos.NewObjCache(c.engine.CacheOptions())
	if err != nil {
		return nil, err
	}

	e := &engine{pool: pool, cache: cache, value: make([]byte, c.valueSize)}
	for i := range e.value {
		e.value[i] = byte('a' + i%26)
	}
	if e.co, err = e.openContainer(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *engine) openContainer() (*vos.Container, error) {
	id := uuid.New()
	if err := e.pool.CreateContainer(id); err != nil {
		return nil, err
	}
	return e.pool.OpenContainer(id)
}

func (e *engine) close() {
	_ = e.pool.CloseContainer(e.co)
	_ = e.cache.Close()
}

func oid(n int) vos.UnitOID {
	return vos.UnitOID{ID: vos.ObjectID{Hi: 0xbe9c, Lo: uint64(n)}}
}

func dkey(n int) []byte {
	return []byte(fmt.Sprintf("dkey-%08d", n))
}

// nextEpoch returns a fresh epoch for a write
func (e *engine) nextEpoch() uint64 {
	return e.epoch.Add(1)
}

func (e *engine) update(co *vos.Container, o, k int) error {
	recx := vos.Recx{RSize: 1, Nr: uint64(len(e.value))}
	return vos.ObjUpdate(e.cache, co, oid(o), e.nextEpoch(), dkey(k), recx, nil, e.value)
}

// populate writes one version of every key of every object, one object per
// goroutine.
func (e *engine) populate(c *config) error {
	var g errgroup.Group
	g.SetLimit(c.threads)
	for o := 0; o < c.objects; o++ {
		g.Go(func() error {
			for k := 0; k < c.keys; k++ {
				if err := e.update(e.co, o, k); err != nil {
					return fmt.Errorf("populate object %d key %d: %w", o, k, err)
				}
			}
			return nil
		})
	}
	return g.Wait()
}
