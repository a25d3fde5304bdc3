package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/PeterRK/estuary"
	"github.com/VictoriaMetrics/metrics"
	"github.com/spf13/cobra"
	"github.com/sugawarayuuta/sonnet"
)

var (
	benchFixed    bool
	benchDuration time.Duration
	benchReport   string
)

var benchCmd = &cobra.Command{
	Use:   "bench <path> <source>",
	Short: "drive random fetches against a dictionary and report throughput",
	Args:  cobra.ExactArgs(2),
	RunE:  runBench,
}

func init() {
	benchCmd.Flags().BoolVar(&benchFixed, "fixed", false, "operate on a fixed-length (lucky) dictionary")
	benchCmd.Flags().DurationVar(&benchDuration, "duration", 3*time.Second, "how long to run the fetch loop")
	benchCmd.Flags().StringVar(&benchReport, "report", "", "optional path to write a JSON summary")
}

type benchSummary struct {
	Fetches   uint64  `json:"fetches"`
	Hits      uint64  `json:"hits"`
	Seconds   float64 `json:"seconds"`
	PerSecond float64 `json:"perSecond"`
}

func runBench(cmd *cobra.Command, args []string) error {
	policy, err := parsePolicy(policyFlag)
	if err != nil {
		return err
	}
	src, err := loadTSV(args[1])
	if err != nil {
		return err
	}
	if src.Total() == 0 {
		return fmt.Errorf("source file has no entries")
	}

	fetches := metrics.GetOrCreateCounter("estuary_bench_fetches_total")
	hits := metrics.GetOrCreateCounter("estuary_bench_hits_total")
	latency := metrics.GetOrCreateHistogram("estuary_bench_fetch_seconds")

	start := time.Now()
	rng := rand.New(rand.NewSource(start.UnixNano()))

	run := func(fetch func(key []byte) bool) {
		for time.Since(start) < benchDuration {
			key := src.Keys[rng.Intn(len(src.Keys))]
			t0 := time.Now()
			ok := fetch(key)
			latency.Update(time.Since(t0).Seconds())
			fetches.Inc()
			if ok {
				hits.Inc()
			}
		}
	}

	if benchFixed {
		lk, err := estuary.LoadLucky(args[0], policy)
		if err != nil {
			return err
		}
		defer lk.Close()
		run(func(key []byte) bool { _, ok := lk.Fetch(key); return ok })
	} else {
		es, err := estuary.Load(args[0], policy)
		if err != nil {
			return err
		}
		defer es.Close()
		run(func(key []byte) bool { _, ok := es.Fetch(key); return ok })
	}

	elapsed := time.Since(start).Seconds()
	summary := benchSummary{
		Fetches:   fetches.Get(),
		Hits:      hits.Get(),
		Seconds:   elapsed,
		PerSecond: float64(fetches.Get()) / elapsed,
	}
	fmt.Printf("fetches=%d hits=%d seconds=%.2f per-second=%.0f\n",
		summary.Fetches, summary.Hits, summary.Seconds, summary.PerSecond)

	if benchReport != "" {
		data, err := sonnet.Marshal(summary)
		if err != nil {
			return err
		}
		return os.WriteFile(benchReport, data, 0644)
	}
	return nil
}
