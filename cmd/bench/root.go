package bench

import (
	"fmt"
	"strings"

	"github.com/BiyanKilani/daos/cmd/util"
	"github.com/BiyanKilani/daos/lib/common"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	plog = logger.GetLogger("cmd")

	BenchCmd = &cobra.Command{
		Use:   "bench",
		Short: "Benchmark the object cache, I/O and iterator paths",
		Long: `Benchmark an in-process engine. A pool is populated with objects and
keys, then acquire/release, update, fetch, iteration and punch/aggregate are
measured in parallel. Results show throughput and per-operation latency
percentiles, followed by the object cache metrics in Prometheus format.`,
		PreRunE: processBenchConfig,
		RunE:    run,
	}

	benchConfig = &config{
		threads:   10,
		objects:   100,
		keys:      100,
		valueSize: 64,
	}
)

// config holds the settings of one bench run
type config struct {
	engine    *common.EngineConfig
	threads   int
	objects   int
	keys      int
	valueSize int
	skip      []string
	csvPath   string
}

func init() {
	key := "skip"
	BenchCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. update,punch)"))
	key = "threads"
	BenchCmd.Flags().Int(key, 10, util.WrapString("Number of goroutines per CPU to use for the benchmark"))
	key = "objects"
	BenchCmd.Flags().Int(key, 100, util.WrapString("How many objects to populate the container with"))
	key = "keys"
	BenchCmd.Flags().Int(key, 100, util.WrapString("How many distribution keys to write per object"))
	key = "value-size"
	BenchCmd.Flags().Int(key, 64, util.WrapString("Size in bytes of every written value"))
	key = "csv"
	BenchCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processBenchConfig(cmd *cobra.Command, _ []string) error {
	engine, err := util.BindCommandFlags(cmd)
	if err != nil {
		return err
	}

	benchConfig.engine = engine
	benchConfig.threads = viper.GetInt("threads")
	benchConfig.objects = viper.GetInt("objects")
	benchConfig.keys = viper.GetInt("keys")
	benchConfig.valueSize = viper.GetInt("value-size")
	benchConfig.csvPath = viper.GetString("csv")
	benchConfig.skip = nil
	if skip := viper.GetString("skip"); skip != "" {
		benchConfig.skip = strings.Split(skip, ",")
	}

	switch {
	case benchConfig.threads <= 0:
		return fmt.Errorf("threads must be positive, got %d", benchConfig.threads)
	case benchConfig.objects <= 0 || benchConfig.keys <= 0:
		return fmt.Errorf("objects and keys must be positive, got %d and %d", benchConfig.objects, benchConfig.keys)
	case benchConfig.valueSize <= 0:
		return fmt.Errorf("value size must be positive, got %d", benchConfig.valueSize)
	}
	return nil
}

func (c *config) shouldSkip(test string) bool {
	for _, skip := range c.skip {
		if test == strings.TrimSpace(skip) {
			return true
		}
	}
	return false
}
