package db

import (
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dbRPC/cmd/util"
	"github.com/ValentinKolb/dbRPC/rpc/client"
	"github.com/ValentinKolb/dbRPC/rpc/common"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for dbRPC servers",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__test"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfTxnSize          = 10
	perfSkip             = make([]string, 0)

	// latency of the single requests, one timer per benchmark
	perfRegistry = metrics.NewRegistry()
)

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. put,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the put-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "txn-size"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("How many writes the txn test does per transaction"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = viper.GetInt("keys")
	perfNumThreads = viper.GetInt("threads")
	perfTxnSize = viper.GetInt("txn-size")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	if perfKeySpread <= 0 || perfNumThreads <= 0 || perfTxnSize <= 0 {
		return fmt.Errorf("keys, threads and txn-size must be positive")
	}
	return nil
}

// perfBenchmark is a single benchmark of the perf command
type perfBenchmark struct {
	name string
	// setup runs before the timer starts, op is one timed request
	setup func(keys []string)
	op    func(worker int64, i int, keys []string) error
}

func perfBenchmarks() []perfBenchmark {
	value := []byte("test")
	largeValue := make([]byte, perfLargeValueSizeKB*1024)

	fill := func(keys []string) {
		for _, k := range keys {
			if err := rpcDB.Put(nil, []byte(k), value, 0); err != nil {
				log.Printf("error setting key %s: %v\n", k, err)
			}
		}
	}

	return []perfBenchmark{
		{
			name: "put",
			op: func(_ int64, i int, keys []string) error {
				return rpcDB.Put(nil, []byte(keys[i%len(keys)]), value, 0)
			},
		},
		{
			name: "put-large",
			op: func(_ int64, i int, keys []string) error {
				return rpcDB.Put(nil, []byte(keys[i%len(keys)]), largeValue, 0)
			},
		},
		{
			name:  "get",
			setup: fill,
			op: func(_ int64, i int, keys []string) error {
				_, err := rpcDB.Get(nil, []byte(keys[i%len(keys)]))
				return err
			},
		},
		{
			name:  "del",
			setup: fill,
			op: func(_ int64, i int, keys []string) error {
				err := rpcDB.Delete(nil, []byte(keys[i%len(keys)]))
				if client.IsNotFound(err) {
					return nil
				}
				return err
			},
		},
		{
			name: "txn",
			op: func(worker int64, i int, _ []string) error {
				// every worker writes its own keys, so transactions never wait for each other
				txn, err := rpcEnv.Begin(nil)
				if err != nil {
					return err
				}
				for j := 0; j < perfTxnSize; j++ {
					k := fmt.Sprintf("%s-txn-%d-%d", perfKeyPrefix, worker, (i*perfTxnSize+j)%perfKeySpread)
					if err := rpcDB.Put(txn, []byte(k), value, 0); err != nil {
						_ = txn.Abort()
						return err
					}
				}
				return txn.Commit()
			},
		},
		{
			name:  "scan",
			setup: fill,
			op: func(_ int64, _ int, _ []string) error {
				_, err := scan(rpcDB, nil, perfKeyPrefix+"-scan", perfKeySpread, false, func(_, _ []byte) {})
				return err
			},
		},
	}
}

func runPerf(_ *cobra.Command, _ []string) error {

	fmt.Println("Performance testing tool for dbRPC servers")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("starting tests...")

	results := make(map[string]testing.BenchmarkResult)
	for _, bench := range perfBenchmarks() {
		if shouldSkip(bench.name) {
			results[bench.name] = testing.BenchmarkResult{}
			printResult(bench.name, testing.BenchmarkResult{}, nil)
			continue
		}

		timer := metrics.GetOrRegisterTimer(bench.name, perfRegistry)
		result := runBenchmark(bench, timer)
		results[bench.name] = result
		printResult(bench.name, result, timer)
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		if err := writeResultsToCSV(csvPath, results, util.GetClientConfig()); err != nil {
			return err
		}
		fmt.Printf("results written to %s\n", csvPath)
	}

	return nil
}

// runBenchmark runs bench in parallel and records the latency of every op in timer
func runBenchmark(bench perfBenchmark, timer metrics.Timer) testing.BenchmarkResult {
	var workers atomic.Int64

	return testing.Benchmark(func(b *testing.B) {
		keys := getKeys(bench.name)
		if bench.setup != nil {
			bench.setup(keys)
		}

		// cleanup
		b.Cleanup(func() {
			for _, k := range keys {
				if err := rpcDB.Delete(nil, []byte(k)); err != nil && !client.IsNotFound(err) {
					log.Printf("(%s) - error deleting key: %v\n", bench.name, err)
				}
			}
		})

		b.SetParallelism(perfNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			worker := workers.Add(1)
			counter := 0
			for pb.Next() {
				start := time.Now()
				if err := bench.op(worker, counter, keys); err != nil {
					log.Printf("(%s) - error: %v\n", bench.name, err)
				}
				timer.UpdateSince(start)
				counter++
			}
		})
	})
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range perfSkip {
		if test == strings.TrimSpace(skip) {
			return true
		}
	}
	return false
}

// getKeys creates the test keys of a benchmark
func getKeys(prefix string) []string {
	keys := make([]string, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i)
	}
	return keys
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult, timer metrics.Timer) {
	if result.NsPerOp() == 0 || timer == nil {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	snapshot := timer.Snapshot()
	ps := snapshot.Percentiles([]float64{0.5, 0.99})

	// Print the formatted result
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\tp50 %s\tp99 %s\tmax %s\n",
		test, nsPerOp, time.Duration(nsPerOp), opsPerSec,
		time.Duration(ps[0]), time.Duration(ps[1]), time.Duration(snapshot.Max()))
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "P50", "P99", "Skipped",
		"Endpoints", "TimeoutSec", "ShardID", "Serializer", "Transport",
		"Threads", "LargeValueSizeKB", "Keys Count", "TxnSize",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	tests := make([]string, 0, len(results))
	for test := range results {
		tests = append(tests, test)
	}
	sort.Strings(tests)

	// Write test results
	for _, test := range tests {
		result := results[test]

		var nsPerOp, opsPerSec, p50, p99 float64
		skipped := "true"
		if result.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)

			ps := metrics.GetOrRegisterTimer(test, perfRegistry).Snapshot().Percentiles([]float64{0.5, 0.99})
			p50, p99 = ps[0], ps[1]
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			time.Duration(p50).String(),
			time.Duration(p99).String(),
			skipped,
			strings.Join(config.Transport.Endpoints, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.FormatUint(util.GetShardID(), 10),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
			strconv.Itoa(perfTxnSize),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
