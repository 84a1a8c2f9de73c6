package dump

import (
	"encoding/json"
	"fmt"

	"github.com/BiyanKilani/daos/cmd/util"
	"github.com/BiyanKilani/daos/lib/common"
	"github.com/BiyanKilani/daos/lib/vos"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	plog = logger.GetLogger("cmd")

	DumpCmd = &cobra.Command{
		Use:   "dump",
		Short: "Populate a pool and print it level by level",
		Long: `Create a pool, fill it with generated containers, objects, keys and
versions, optionally punch some objects, and print every container,
object, distribution key and value version as the iterators see them.
The pool summary is printed last.`,
		PreRunE: processDumpConfig,
		RunE:    run,
	}

	dumpConfig = &config{}
)

// config holds the settings of one dump run
type config struct {
	engine     *common.EngineConfig
	containers int
	objects    int
	keys       int
	versions   int
	punchEvery int
	aggregate  bool
	epoch      uint64
	jsonInfo   bool
}

func init() {
	key := "containers"
	DumpCmd.Flags().Int(key, 1, util.WrapString("Number of containers to create"))
	key = "objects"
	DumpCmd.Flags().Int(key, 3, util.WrapString("Number of objects per container"))
	key = "keys"
	DumpCmd.Flags().Int(key, 2, util.WrapString("Number of distribution keys per object"))
	key = "versions"
	DumpCmd.Flags().Int(key, 2, util.WrapString("Number of versions written per key"))
	key = "punch-every"
	DumpCmd.Flags().Int(key, 0, util.WrapString("Punch every n-th object after writing (0 = never)"))
	key = "aggregate"
	DumpCmd.Flags().Bool(key, false, util.WrapString("Reclaim punched objects before printing"))
	key = "epoch"
	DumpCmd.Flags().Uint64(key, 0, util.WrapString("Read epoch of the dump (0 = latest)"))
	key = "json"
	DumpCmd.Flags().Bool(key, false, util.WrapString("Print the pool summary as JSON"))
}

func processDumpConfig(cmd *cobra.Command, _ []string) error {
	engine, err := util.BindCommandFlags(cmd)
	if err != nil {
		return err
	}

	dumpConfig.engine = engine
	dumpConfig.containers = viper.GetInt("containers")
	dumpConfig.objects = viper.GetInt("objects")
	dumpConfig.keys = viper.GetInt("keys")
	dumpConfig.versions = viper.GetInt("versions")
	dumpConfig.punchEvery = viper.GetInt("punch-every")
	dumpConfig.aggregate = viper.GetBool("aggregate")
	dumpConfig.epoch = viper.GetUint64("epoch")
	dumpConfig.jsonInfo = viper.GetBool("json")

	if dumpConfig.containers < 0 || dumpConfig.objects < 0 || dumpConfig.keys < 0 || dumpConfig.versions < 0 {
		return fmt.Errorf("counts must not be negative")
	}
	return nil
}

func run(cmd *cobra.Command, _ []string) error {
	c := dumpConfig

	pool, err := vos.CreatePool(c.engine.PoolOptions())
	if err != nil {
		return err
	}
	cache, err := vos.NewObjCache(c.engine.CacheOptions())
	if err != nil {
		return err
	}
	defer cache.Close()

	if err := populate(pool, cache, c); err != nil {
		return err
	}

	epr := vos.EpochRange{Hi: vos.EpochMax}
	if c.epoch != 0 {
		epr.Hi = c.epoch
	}

	w := cmd.OutOrStdout()
	if err := Dump(w, pool, cache, epr); err != nil {
		return err
	}

	info := pool.Info()
	fmt.Fprintln(w)
	if c.jsonInfo {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	printInfo(w, info)
	return nil
}

// populate writes containers x objects x keys x versions values; version v
// of every key is written at epoch v.
func populate(pool *vos.Pool, cache *vos.ObjCache, c *config) error {
	for i := 0; i < c.containers; i++ {
		id := uuid.New()
		if err := pool.CreateContainer(id); err != nil {
			return err
		}
		co, err := pool.OpenContainer(id)
		if err != nil {
			return err
		}

		for o := 0; o < c.objects; o++ {
			oid := vos.UnitOID{ID: vos.ObjectID{Hi: uint64(i), Lo: uint64(o)}}
			for k := 0; k < c.keys; k++ {
				for v := 1; v <= c.versions; v++ {
					value := []byte(fmt.Sprintf("c%d.o%d.k%d.v%d", i, o, k, v))
					recx := vos.Recx{RSize: 1, Nr: uint64(len(value))}
					dkey := []byte(fmt.Sprintf("dkey-%d", k))
					if err := vos.ObjUpdate(cache, co, oid, uint64(v), dkey, recx, nil, value); err != nil {
						return err
					}
				}
			}
			if c.punchEvery > 0 && o%c.punchEvery == 0 && c.keys > 0 && c.versions > 0 {
				if err := vos.ObjPunch(cache, co, oid, uint64(c.versions+1)); err != nil {
					return err
				}
			}
		}

		if c.aggregate {
			n, err := co.Aggregate(cache, vos.EpochMax)
			if err != nil {
				return err
			}
			plog.Infof("container %s: reclaimed %d punched objects", id, n)
		}
		if err := pool.CloseContainer(co); err != nil {
			return err
		}
	}
	return nil
}
