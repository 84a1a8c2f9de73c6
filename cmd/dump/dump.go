package dump

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/BiyanKilani/daos/lib/vos"
)

// walk runs an iterator to the end and calls fn for every entry.
func walk(typ vos.IterType, param *vos.IterParam, fn func(e *vos.IterEntry) error) error {
	it, err := vos.Prepare(typ, param)
	if err != nil {
		return fmt.Errorf("prepare %s iterator: %w", typ, err)
	}
	defer it.Finish()

	for err = it.Probe(nil); err == nil; err = it.Next() {
		var e vos.IterEntry
		if _, err := it.Fetch(&e); err != nil {
			return err
		}
		if err := fn(&e); err != nil {
			return err
		}
	}
	if errors.Is(err, vos.ErrNoMoreEntries) {
		return nil
	}
	return err
}

// Dump prints every container, object, distribution key and value version
// of the pool visible inside epr.
func Dump(w io.Writer, pool *vos.Pool, cache *vos.ObjCache, epr vos.EpochRange) error {
	return walk(vos.IterContainer, &vos.IterParam{Pool: pool}, func(ce *vos.IterEntry) error {
		co, err := pool.OpenContainer(ce.Container)
		if err != nil {
			return err
		}
		defer pool.CloseContainer(co)

		fmt.Fprintf(w, "container %s\n", ce.Container)
		return walk(vos.IterObject, &vos.IterParam{Container: co, Epr: &epr}, func(oe *vos.IterEntry) error {
			fmt.Fprintf(w, "  object %s\n", oe.OID)
			return walk(vos.IterDKey, &vos.IterParam{Cache: cache, Container: co, OID: oe.OID, Epr: &epr}, func(ke *vos.IterEntry) error {
				fmt.Fprintf(w, "    dkey %q\n", ke.Key)
				param := &vos.IterParam{Cache: cache, Container: co, OID: oe.OID, DKey: ke.Key, Epr: &epr}
				return walk(vos.IterRecx, param, func(re *vos.IterEntry) error {
					fmt.Fprintf(w, "      [%d] @%d %dx%d %q\n", re.Recx.Index, re.Epoch, re.Recx.Nr, re.Recx.RSize, re.Value)
					return nil
				})
			})
		})
	})
}

func printInfo(w io.Writer, info vos.PoolInfo) {
	addSection := func(title string) {
		fmt.Fprintf(w, "%s\n", strings.ToUpper(title))
	}
	addField := func(name string, value any) {
		fmt.Fprintf(w, "  %-22s: %v\n", name, value)
	}

	addSection("Pool")
	addField("ID", info.ID)
	addField("Containers", info.Containers)
	addField("Open Containers", info.OpenConts)
	addField("Objects", info.Objects)
	addField("Trees", info.Trees)

	addSection("Arena")
	addField("Chunks", info.Arena.Chunks)
	addField("Bytes Reserved", info.Arena.BytesReserved)
	addField("Bytes Allocated", info.Arena.BytesAllocated)
	addField("Live Allocations", info.Arena.LiveAllocs)

	addSection("Records")
	addField("Count", info.Records.Count)
	addField("Total Bytes", info.Records.TotalBytes)
	addField("Average Size", info.Records.AverageSize)
	addField("Median Size", info.Records.MedianSize)

	addSection("Object Index Shards")
	addField("Mean", fmt.Sprintf("%.1f", info.ShardStats.Mean))
	addField("Min / Max", fmt.Sprintf("%.0f / %.0f", info.ShardStats.Min, info.ShardStats.Max))
	addField("Quality", fmt.Sprintf("%.2f", info.ShardStats.DistributionQuality))
}
