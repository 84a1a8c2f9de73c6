package testing

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/BiyanKilani/daos/lib/vos"
)

// RunEngineBenchmarks runs the engine benchmarks against engines built by
// factory.
func RunEngineBenchmarks(b *testing.B, name string, factory EnvFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("AcquireRelease", func(b *testing.B) {
			benchmarkAcquireRelease(b, factory())
		})

		b.Run("Update", func(b *testing.B) {
			benchmarkUpdate(b, factory())
		})

		b.Run("UpdateSameKey", func(b *testing.B) {
			benchmarkUpdateSameKey(b, factory())
		})

		b.Run("Fetch", func(b *testing.B) {
			benchmarkFetch(b, factory())
		})

		b.Run("IterateDKeys", func(b *testing.B) {
			benchmarkIterateDKeys(b, factory())
		})

		b.Run("IterateRecx", func(b *testing.B) {
			benchmarkIterateRecx(b, factory())
		})

		b.Run("PunchAggregate", func(b *testing.B) {
			benchmarkPunchAggregate(b, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

func benchmarkAcquireRelease(b *testing.B, env *Env) {
	co := openContainer(b, env)
	populate(b, env, co, 64, 1, 1)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			ref, err := env.Cache.Acquire(co, oid(counter%64))
			if err != nil {
				if errors.Is(err, vos.ErrCacheExhausted) {
					continue
				}
				b.Error(err)
				return
			}
			_ = env.Cache.Release(ref)
			counter++
		}
	})
}

// Parallel updates, each goroutine writing its own object
func benchmarkUpdate(b *testing.B, env *Env) {
	co := openContainer(b, env)
	var workers atomic.Int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		o := int(workers.Add(1))
		counter := 0
		for pb.Next() {
			v := value(o, counter, 0, 1)
			recx := vos.Recx{RSize: 1, Nr: uint64(len(v))}
			if err := vos.ObjUpdate(env.Cache, co, oid(o), 1, dkey(counter), recx, nil, v); err != nil {
				b.Error(err)
				return
			}
			counter++
		}
	})
}

// New versions of a single key
func benchmarkUpdateSameKey(b *testing.B, env *Env) {
	co := openContainer(b, env)
	v := value(0, 0, 0, 0)
	recx := vos.Recx{RSize: 1, Nr: uint64(len(v))}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := vos.ObjUpdate(env.Cache, co, oid(0), uint64(i+1), dkey(0), recx, nil, v); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkFetch(b *testing.B, env *Env) {
	co := openContainer(b, env)
	populate(b, env, co, 16, 64, 2)
	epr := vos.EpochRange{Hi: vos.EpochMax}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			_, err := vos.ObjFetch(env.Cache, co, oid(counter%16), epr, dkey(counter%64), 0)
			if err != nil && !errors.Is(err, vos.ErrCacheExhausted) {
				b.Error(err)
				return
			}
			counter++
		}
	})
}

func benchmarkIterateDKeys(b *testing.B, env *Env) {
	co := openContainer(b, env)
	populate(b, env, co, 1, 256, 1)
	param := &vos.IterParam{Cache: env.Cache, Container: co, OID: oid(0)}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		it, err := vos.Prepare(vos.IterDKey, param)
		if err != nil {
			b.Fatal(err)
		}
		collect(b, it, nil)
		_ = it.Finish()
	}
}

func benchmarkIterateRecx(b *testing.B, env *Env) {
	co := openContainer(b, env)
	populate(b, env, co, 1, 1, 256)
	param := &vos.IterParam{Cache: env.Cache, Container: co, OID: oid(0), DKey: dkey(0)}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		it, err := vos.Prepare(vos.IterRecx, param)
		if err != nil {
			b.Fatal(err)
		}
		collect(b, it, nil)
		_ = it.Finish()
	}
}

// Punch and reclaim freshly written objects
func benchmarkPunchAggregate(b *testing.B, env *Env) {
	co := openContainer(b, env)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		update(b, env, co, i, 0, 0, 1)
		if err := vos.ObjPunch(env.Cache, co, oid(i), 2); err != nil {
			b.Fatal(err)
		}
		if i%64 == 63 {
			if _, err := co.Aggregate(env.Cache, vos.EpochMax); err != nil {
				b.Fatal(err)
			}
		}
	}
}
