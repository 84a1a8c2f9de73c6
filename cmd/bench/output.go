package bench

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"time"
)

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, r result) {
	if r.bench.NsPerOp() == 0 {
		fmt.Printf("%-12sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(r.bench.NsPerOp()), 1)
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-12s%.0fns/op (%s/op)\t%.0f ops/sec", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
	if r.timer != nil && r.timer.Count() > 0 {
		snap := r.timer.Snapshot()
		fmt.Printf("\tmean %s  p50 %s  p99 %s",
			time.Duration(snap.Mean()), time.Duration(snap.Percentile(0.5)), time.Duration(snap.Percentile(0.99)))
	}
	fmt.Println()
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]result, c *config) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "MeanNs", "P50Ns", "P99Ns",
		"Threads", "Objects", "Keys", "ValueSize",
		"CacheSize", "HashBuckets", "OIShards", "ArenaChunkSize",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	tests := make([]string, 0, len(results))
	for test := range results {
		tests = append(tests, test)
	}
	sort.Strings(tests)

	for _, test := range tests {
		r := results[test]
		nsPerOp := math.Max(float64(r.bench.NsPerOp()), 1)
		snap := r.timer.Snapshot()

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", 1.0/(nsPerOp/1e9)),
			fmt.Sprintf("%.0f", snap.Mean()),
			fmt.Sprintf("%.0f", snap.Percentile(0.5)),
			fmt.Sprintf("%.0f", snap.Percentile(0.99)),
			strconv.Itoa(c.threads),
			strconv.Itoa(c.objects),
			strconv.Itoa(c.keys),
			strconv.Itoa(c.valueSize),
			strconv.Itoa(c.engine.CacheSize),
			strconv.Itoa(c.engine.HashBuckets),
			strconv.Itoa(c.engine.OIShards),
			strconv.Itoa(c.engine.ArenaChunkSize),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}
	return nil
}
