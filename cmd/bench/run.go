package bench

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BiyanKilani/daos/lib/vos"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
)

// benchmark is one measured operation
type benchmark struct {
	name string
	fn   func(e *engine, timer metrics.Timer) func(b *testing.B)
}

var benchmarks = []benchmark{
	{"acquire", benchAcquire},
	{"update", benchUpdate},
	{"fetch", benchFetch},
	{"iterate", benchIterate},
	{"punch", benchPunch},
}

// result is a benchmark result together with its latency timer
type result struct {
	bench testing.BenchmarkResult
	timer metrics.Timer
}

func run(_ *cobra.Command, _ []string) error {
	c := benchConfig

	fmt.Println("Performance testing tool for the versioned object store")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(c.engine.String())
	fmt.Printf("Threads: %d, objects: %d, keys: %d, value size: %d\n", c.threads, c.objects, c.keys, c.valueSize)
	fmt.Println()

	e, err := newEngine(c)
	if err != nil {
		return err
	}
	defer e.close()

	start := time.Now()
	if err := e.populate(c); err != nil {
		return err
	}
	plog.Infof("populated %d objects with %d keys in %s", c.objects, c.keys, time.Since(start))

	fmt.Println("starting tests...")

	registry := metrics.NewRegistry()
	results := make(map[string]result)
	for _, bm := range benchmarks {
		if c.shouldSkip(bm.name) {
			printResult(bm.name, result{})
			continue
		}
		timer := metrics.GetOrRegisterTimer(bm.name, registry)
		res := result{bench: testing.Benchmark(bm.fn(e, timer)), timer: timer}
		results[bm.name] = res
		printResult(bm.name, res)
	}

	fmt.Println()
	fmt.Println("Object cache:")
	e.cache.WritePrometheus(os.Stdout)

	info := e.pool.Info()
	fmt.Println()
	fmt.Printf("Pool %s: %d containers, %d objects, %d trees, %d bytes allocated\n",
		info.ID, info.Containers, info.Objects, info.Trees, info.Arena.BytesAllocated)

	if c.csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", c.csvPath)
		if err := writeResultsToCSV(c.csvPath, results, c); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}
	return nil
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

func benchAcquire(e *engine, timer metrics.Timer) func(b *testing.B) {
	c := benchConfig
	return func(b *testing.B) {
		b.SetParallelism(c.threads)
		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				start := time.Now()
				ref, err := e.cache.Acquire(e.co, oid(counter%c.objects))
				if err != nil {
					logError("acquire", err)
					continue
				}
				_ = e.cache.Release(ref)
				timer.UpdateSince(start)
				counter++
			}
		})
	}
}

func benchUpdate(e *engine, timer metrics.Timer) func(b *testing.B) {
	c := benchConfig
	return func(b *testing.B) {
		b.SetParallelism(c.threads)
		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				start := time.Now()
				if err := e.update(e.co, counter%c.objects, counter%c.keys); err != nil {
					logError("update", err)
				}
				timer.UpdateSince(start)
				counter++
			}
		})
	}
}

func benchFetch(e *engine, timer metrics.Timer) func(b *testing.B) {
	c := benchConfig
	return func(b *testing.B) {
		epr := vos.EpochRange{Hi: vos.EpochMax}
		b.SetParallelism(c.threads)
		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				start := time.Now()
				if _, err := vos.ObjFetch(e.cache, e.co, oid(counter%c.objects), epr, dkey(counter%c.keys), 0); err != nil {
					logError("fetch", err)
				}
				timer.UpdateSince(start)
				counter++
			}
		})
	}
}

// one op walks all keys of one object
func benchIterate(e *engine, timer metrics.Timer) func(b *testing.B) {
	c := benchConfig
	return func(b *testing.B) {
		b.SetParallelism(c.threads)
		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				start := time.Now()
				if n, err := iterateKeys(e, oid(counter%c.objects)); err != nil {
					logError("iterate", err)
				} else if n != c.keys {
					logError("iterate", fmt.Errorf("expected %d keys, got %d", c.keys, n))
				}
				timer.UpdateSince(start)
				counter++
			}
		})
	}
}

func iterateKeys(e *engine, id vos.UnitOID) (int, error) {
	it, err := vos.Prepare(vos.IterDKey, &vos.IterParam{Cache: e.cache, Container: e.co, OID: id})
	if err != nil {
		return 0, err
	}
	defer it.Finish()

	n := 0
	var entry vos.IterEntry
	for err = it.Probe(nil); err == nil; err = it.Next() {
		if _, err := it.Fetch(&entry); err != nil {
			return n, err
		}
		n++
	}
	if errors.Is(err, vos.ErrNoMoreEntries) {
		return n, nil
	}
	return n, err
}

// one op writes and punches a fresh object in a scratch container; the
// zombies are reclaimed after the run
func benchPunch(e *engine, timer metrics.Timer) func(b *testing.B) {
	c := benchConfig
	return func(b *testing.B) {
		co, err := e.openContainer()
		if err != nil {
			b.Fatal(err)
		}
		b.Cleanup(func() {
			if n, err := co.Aggregate(e.cache, vos.EpochMax); err != nil {
				logError("aggregate", err)
			} else {
				plog.Debugf("reclaimed %d punched objects", n)
			}
			_ = e.pool.CloseContainer(co)
			if err := e.pool.DestroyContainer(e.cache, co.ID()); err != nil {
				logError("destroy", err)
			}
		})

		var next atomic.Int64
		b.SetParallelism(c.threads)
		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				o := int(next.Add(1))
				start := time.Now()
				if err := e.update(co, o, 0); err != nil {
					logError("punch", err)
					continue
				}
				if err := vos.ObjPunch(e.cache, co, oid(o), e.nextEpoch()); err != nil {
					logError("punch", err)
				}
				timer.UpdateSince(start)
			}
		})
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

var loggedErrors atomic.Int64

// logError logs the first errors of a run and counts the rest
func logError(test string, err error) {
	if loggedErrors.Add(1) <= 10 {
		plog.Errorf("(%s) - %v", test, err)
	}
}
