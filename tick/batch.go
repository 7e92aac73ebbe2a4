package tick

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// A TickProcessor advances the domain state by the given number of ticks
// and returns the new state. It must be pure with respect to the engine:
// repeated calls with the same inputs must be safe.
type TickProcessor func(state any, ticks int) (any, error)

// An IdleVerdict is the idle detector's answer for a given state.
type IdleVerdict struct {
	Idle      bool
	SkipTicks uint64
	Reason    string
}

// An IdleDetector decides whether the simulation can fast-forward without
// running per-tick domain logic. It must be a fast, pure predicate, and it
// must be conservative: never idle when any effect depends on an
// intermediate tick.
type IdleDetector func(state any) IdleVerdict

// A TickCounter exposes the scheduler-owned tick index. Engine implements
// it; Counter is a standalone implementation for worker-side use.
type TickCounter interface {
	TickCount() uint64
	AdvanceTicks(n uint64)
}

// Counter is a standalone TickCounter.
type Counter struct {
	n atomic.Uint64
}

// TickCount returns the current tick index.
func (c *Counter) TickCount() uint64 {
	return c.n.Load()
}

// AdvanceTicks moves the tick index forward by n.
func (c *Counter) AdvanceTicks(n uint64) {
	c.n.Add(n)
}

// SetTickCount sets the tick index, used when loading a saved game.
func (c *Counter) SetTickCount(n uint64) {
	c.n.Store(n)
}

// A BatchResult reports what one ProcessTicks pass actually did.
type BatchResult struct {
	State          any
	TicksProcessed int
	TimeSpentMs    float64
}

// BatchScheduler executes batches of ticks under a wall-clock budget,
// applying idle-skip and collecting metrics to advise future batch sizes.
type BatchScheduler struct {
	cfg       Config
	counter   TickCounter
	processor TickProcessor
	detector  IdleDetector
	sink      ErrorSink
	logger    *zap.Logger
	metrics   *BatchMetrics
}

// NewBatchScheduler creates a BatchScheduler that advances counter and runs
// processor for each non-skipped tick.
func NewBatchScheduler(
	cfg Config,
	counter TickCounter,
	processor TickProcessor,
	sink ErrorSink,
	logger *zap.Logger,
) *BatchScheduler {
	if counter == nil {
		counter = new(Counter)
	}
	if sink == nil {
		sink = NopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := new(BatchScheduler)
	s.cfg = cfg.Sanitized()
	s.counter = counter
	s.processor = processor
	s.sink = sink
	s.logger = logger
	s.metrics = NewBatchMetrics()

	return s
}

// SetIdleDetector registers the domain's idle predicate. A nil detector
// disables idle-skipping.
func (s *BatchScheduler) SetIdleDetector(d IdleDetector) {
	s.detector = d
}

// ProcessTicks runs up to requested ticks against state, stopping early
// when the cumulative cost exceeds the frame budget. Partial progress is
// preserved, never rolled back; a processor failure is reported through the
// error sink, not raised to the caller.
func (s *BatchScheduler) ProcessTicks(state any, requested int) BatchResult {
	start := time.Now()

	if requested <= 0 {
		return BatchResult{State: state}
	}
	if requested > s.cfg.MaxBatchSize {
		requested = s.cfg.MaxBatchSize
	}

	remaining := requested
	processed := 0

	if s.idleSkipApplies(requested) {
		verdict, err := s.detect(state)
		if err != nil {
			s.sink.Report(Report{
				Category: BatchProcessingFailed,
				Severity: SeverityError,
				Message:  "idle detector panicked",
				Context:  map[string]any{"tick": s.counter.TickCount()},
				Err:      err,
			})
			s.metrics.recordBatch(0)
			return BatchResult{State: state, TimeSpentMs: elapsedMs(start)}
		}

		if verdict.Idle && verdict.SkipTicks > 0 {
			skip := verdict.SkipTicks
			if skip > uint64(remaining) {
				skip = uint64(remaining)
			}

			s.counter.AdvanceTicks(skip)
			s.metrics.recordIdleSkip(skip)
			processed += int(skip)
			remaining -= int(skip)

			s.logger.Debug("idle skip",
				zap.Uint64("ticks", skip),
				zap.String("reason", verdict.Reason))
		}
	}

	for remaining > 0 {
		tickStart := time.Now()
		next, err := s.runProcessor(state)
		tickMs := elapsedMs(tickStart)

		if err != nil {
			s.sink.Report(Report{
				Category: BatchProcessingFailed,
				Severity: SeverityError,
				Message:  "tick processor failed",
				Context: map[string]any{
					"tick":      s.counter.TickCount() + 1,
					"processed": processed,
					"requested": requested,
				},
				Err: err,
			})
			break
		}

		state = next
		s.counter.AdvanceTicks(1)
		processed++
		remaining--
		s.metrics.recordTick(tickMs)

		if elapsedMs(start) > s.cfg.FrameBudgetMs {
			if remaining > 0 {
				s.metrics.recordOverrun()
			}
			break
		}
	}

	s.metrics.recordBatch(processed)

	return BatchResult{
		State:          state,
		TicksProcessed: processed,
		TimeSpentMs:    elapsedMs(start),
	}
}

func (s *BatchScheduler) idleSkipApplies(requested int) bool {
	return s.cfg.IdleSkipEnabled &&
		s.detector != nil &&
		requested >= s.cfg.IdleSkipThreshold
}

func (s *BatchScheduler) detect(state any) (verdict IdleVerdict, err error) {
	defer func() {
		if p := recover(); p != nil {
			verdict = IdleVerdict{}
			err = fmt.Errorf("%v", p)
		}
	}()

	return s.detector(state), nil
}

func (s *BatchScheduler) runProcessor(state any) (next any, err error) {
	defer func() {
		if p := recover(); p != nil {
			next = nil
			err = fmt.Errorf("tick processor panicked: %v", p)
		}
	}()

	return s.processor(state, 1)
}

// OptimalBatchSize advises how many ticks the next batch should request so
// that, at the observed average tick cost, 80% of the frame budget is used.
func (s *BatchScheduler) OptimalBatchSize() int {
	avg := s.metrics.AverageTickDurationMs()
	if avg <= 0 {
		return s.cfg.MaxBatchSize
	}

	n := int(0.8 * s.cfg.FrameBudgetMs / avg)

	return clampInt(n, 1, s.cfg.MaxBatchSize)
}

// MetricsSnapshot returns a copyable view of the collected metrics.
func (s *BatchScheduler) MetricsSnapshot() MetricsSnapshot {
	snap := s.metrics.snapshot()
	snap.OptimalBatchSize = s.OptimalBatchSize()
	return snap
}

func elapsedMs(since time.Time) float64 {
	return float64(time.Since(since)) / float64(time.Millisecond)
}
