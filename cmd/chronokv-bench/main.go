// Command chronokv-bench drives a synthetic transactional workload
// against a running chronokv deployment (spec.md §6 "CLI (client
// benchmark)"): a single loop runs transactions of -l ops against -k keys
// drawn from -f, writing with probability -w/100, for -d seconds, then
// reports per-txn timings to stderr and an aggregate summary to stdout.
package main

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/chronokv/chronokv/internal/config"
	"github.com/chronokv/chronokv/internal/coordinator"
	"github.com/chronokv/chronokv/internal/log"
	"github.com/spf13/cobra"
)

var (
	configBase   string
	keysFile     string
	nShards      int
	durationSecs int
	opsPerTxn    int
	writePercent int
	nKeys        int
	mode         string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "chronokv-bench",
	Short: "Run the chronokv transactional workload benchmark",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVarP(&configBase, "config", "c", "", "config path base (required)")
	rootCmd.Flags().StringVarP(&keysFile, "keys", "f", "", "file of candidate keys, one per line (required)")
	rootCmd.Flags().IntVarP(&nShards, "shards", "N", 1, "number of shards")
	rootCmd.Flags().IntVarP(&durationSecs, "duration", "d", 10, "benchmark duration in seconds")
	rootCmd.Flags().IntVarP(&opsPerTxn, "ops", "l", 1, "operations per transaction")
	rootCmd.Flags().IntVarP(&writePercent, "write-percent", "w", 50, "write percentage (0-100)")
	rootCmd.Flags().IntVarP(&nKeys, "nkeys", "k", 100, "number of keys to draw from the keys file")
	rootCmd.Flags().StringVarP(&mode, "mode", "m", "spec-l", "mode: spec-l, spec-occ, vr-l, vr-occ, fast-occ")
	_ = rootCmd.MarkFlagRequired("config")
	_ = rootCmd.MarkFlagRequired("keys")
}

func run(cmd *cobra.Command, args []string) error {
	log.Init(log.Config{Level: log.InfoLevel})

	keys, err := readKeys(keysFile, nKeys)
	if err != nil {
		return err
	}

	shardAddrs := make([]string, nShards)
	for i, path := range config.BenchConfigPaths(configBase, nShards) {
		rs, err := config.Load(path)
		if err != nil {
			return err
		}
		addr, err := rs.SelfAddress()
		if err != nil {
			return err
		}
		shardAddrs[i] = addr
	}

	tsRS, err := config.Load(config.TimestampPath(configBase))
	if err != nil {
		return err
	}
	tsAddr, err := tsRS.SelfAddress()
	if err != nil {
		return err
	}

	c, err := coordinator.New(shardAddrs, tsAddr, mode)
	if err != nil {
		return err
	}
	defer c.Close()

	return runWorkload(c, keys)
}

func readKeys(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("chronokv-bench: open keys file: %w", err)
	}
	defer f.Close()

	keys := make([]string, 0, n)
	scanner := bufio.NewScanner(f)
	for len(keys) < n && scanner.Scan() {
		keys = append(keys, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("chronokv-bench: read keys file: %w", err)
	}
	if len(keys) < n {
		return nil, fmt.Errorf("chronokv-bench: keys file has only %d lines, need %d", len(keys), n)
	}
	return keys, nil
}

// txnResult is one line of the per-txn stderr report (spec.md §6
// "Benchmark output").
type txnResult struct {
	seq       uint64
	startUs   int64
	endUs     int64
	latencyUs int64
	committed bool
}

func runWorkload(c *coordinator.Coordinator, keys []string) error {
	rng := rand.New(rand.NewSource(1))
	deadline := time.Now().Add(time.Duration(durationSecs) * time.Second)

	var seq uint64
	var commits, total int
	var prepareTotalUs, commitTotalUs, tsTotalUs int64

	for time.Now().Before(deadline) {
		seq++
		start := time.Now()

		c.Begin(seq)
		for op := 0; op < opsPerTxn; op++ {
			key := keys[rng.Intn(len(keys))]
			if rng.Intn(100) < writePercent {
				_ = c.Put(key, []byte(key))
			} else {
				_, _, _ = c.Get(key)
			}
		}
		committed := c.Commit()

		end := time.Now()
		total++
		if committed {
			commits++
		}
		prepare, commit, ts := c.LastPhaseDurations()
		prepareTotalUs += prepare.Microseconds()
		commitTotalUs += commit.Microseconds()
		tsTotalUs += ts.Microseconds()

		result := txnResult{
			seq:       seq,
			startUs:   start.UnixMicro(),
			endUs:     end.UnixMicro(),
			latencyUs: end.Sub(start).Microseconds(),
			committed: committed,
		}
		reportTxn(result)
	}

	reportSummary(total, commits, prepareTotalUs, commitTotalUs, tsTotalUs)
	return nil
}

func reportTxn(r txnResult) {
	commitFlag := 0
	if r.committed {
		commitFlag = 1
	}
	fmt.Fprintf(os.Stderr, "%d %d %d %d %d\n", r.seq, r.startUs, r.endUs, r.latencyUs, commitFlag)
}

func reportSummary(total, commits int, prepareTotalUs, commitTotalUs, tsTotalUs int64) {
	ratio := 0.0
	if total > 0 {
		ratio = float64(commits) / float64(total)
	}
	fmt.Printf("# txns=%d commits=%d commit_ratio=%.4f\n", total, commits, ratio)
	if total > 0 {
		fmt.Printf("# avg_prepare_us=%.1f avg_commit_us=%.1f avg_timestamp_us=%.1f\n",
			float64(prepareTotalUs)/float64(total),
			float64(commitTotalUs)/float64(total),
			float64(tsTotalUs)/float64(total))
	}
}
