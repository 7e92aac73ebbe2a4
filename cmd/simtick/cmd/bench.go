package cmd

import (
	"errors"
	"fmt"
	"math"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sablecraft/simtick/logging"
	"github.com/sablecraft/simtick/recording"
	"github.com/sablecraft/simtick/tick"
	"github.com/sablecraft/simtick/worker"
)

var (
	benchTicks    int
	benchDB       string
	benchUseLocal bool
)

// benchState carries enough arithmetic per tick to make the frame budget
// observable.
type benchState struct {
	revenue float64
	idle    bool
}

func benchProcessor(state any, ticks int) (any, error) {
	s, ok := state.(*benchState)
	if !ok {
		return nil, errors.New("unexpected state type")
	}

	for i := 0; i < ticks; i++ {
		s.revenue += math.Sqrt(float64(i)+1) * 0.01
	}

	return s, nil
}

func benchIdleDetector(state any) tick.IdleVerdict {
	s, ok := state.(*benchState)
	if !ok || !s.idle {
		return tick.IdleVerdict{}
	}

	return tick.IdleVerdict{Idle: true, SkipTicks: 100, Reason: "no pending orders"}
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Benchmark offline batch catch-up and record per-batch metrics.",
	RunE: func(_ *cobra.Command, _ []string) error {
		logger := logging.New(logPath, debug)
		defer func() { _ = logger.Sync() }()

		cfg := tick.LoadConfig(configPath)
		sink := tick.NewZapSink(logger)

		recorder := recording.New(benchDB)
		recorder.CreateTable("batches", recording.BatchRecord{})

		counter := new(tick.Counter)
		client := worker.NewClient(
			cfg, counter, benchProcessor, benchIdleDetector,
			sink, logger, !benchUseLocal)
		defer client.Terminate()

		var state any = &benchState{}

		remaining := benchTicks
		batch := 0
		for remaining > 0 {
			result := client.ProcessTicks(state, remaining)
			if result.TicksProcessed == 0 {
				break
			}

			state = result.State
			remaining -= result.TicksProcessed
			batch++

			snap := client.MetricsSnapshot()
			recorder.InsertData("batches", recording.BatchRecord{
				Batch:          batch,
				TickCount:      counter.TickCount(),
				TicksProcessed: result.TicksProcessed,
				TimeSpentMs:    result.TimeSpentMs,
				AvgTickMs:      snap.AvgTickDurationMs,
				OptimalBatch:   snap.OptimalBatchSize,
			})
		}

		recorder.Flush()

		logger.Info("bench finished",
			zap.Int("batches", batch),
			zap.Uint64("ticks", counter.TickCount()),
			zap.Bool("worker", client.UsingWorker()))

		fmt.Printf("processed %d ticks in %d batches, optimal batch size %d\n",
			benchTicks-remaining, batch, client.MetricsSnapshot().OptimalBatchSize)

		return nil
	},
}

func init() {
	benchCmd.Flags().IntVar(&benchTicks, "ticks", 100000,
		"total ticks to process")
	benchCmd.Flags().StringVar(&benchDB, "db", "",
		"SQLite file for batch records (unique name when unset)")
	benchCmd.Flags().BoolVar(&benchUseLocal, "in-process", false,
		"skip the worker and run batches in-process")

	rootCmd.AddCommand(benchCmd)
}
