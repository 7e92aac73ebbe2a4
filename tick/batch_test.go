package tick

import (
	"errors"
	"time"

	gomock "go.uber.org/mock/gomock"

	ginkgo "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// ledger is the toy state advanced by the batch tests.
type ledger struct {
	ticks int
}

func countingProcessor(state any, ticks int) (any, error) {
	l := state.(*ledger)
	l.ticks += ticks
	return l, nil
}

var _ = ginkgo.Describe("BatchScheduler", func() {
	var (
		mockCtrl *gomock.Controller
		cfg      Config
		counter  *Counter
	)

	ginkgo.BeforeEach(func() {
		mockCtrl = gomock.NewController(ginkgo.GinkgoT())
		cfg = DefaultConfig()
		cfg.MaxBatchSize = 100
		cfg.IdleSkipEnabled = false
		counter = new(Counter)
	})

	ginkgo.AfterEach(func() {
		mockCtrl.Finish()
	})

	ginkgo.It("should process the requested ticks one at a time", func() {
		s := NewBatchScheduler(cfg, counter, countingProcessor, nil, nil)

		result := s.ProcessTicks(&ledger{}, 10)

		Expect(result.TicksProcessed).To(Equal(10))
		Expect(result.State.(*ledger).ticks).To(Equal(10))
		Expect(counter.TickCount()).To(Equal(uint64(10)))
	})

	ginkgo.It("should clamp the request to the max batch size", func() {
		s := NewBatchScheduler(cfg, counter, countingProcessor, nil, nil)

		result := s.ProcessTicks(&ledger{}, 1000)

		Expect(result.TicksProcessed).To(Equal(100))
	})

	ginkgo.It("should return zero ticks for a non-positive request", func() {
		s := NewBatchScheduler(cfg, counter, countingProcessor, nil, nil)

		Expect(s.ProcessTicks(&ledger{}, 0).TicksProcessed).To(Equal(0))
		Expect(s.ProcessTicks(&ledger{}, -3).TicksProcessed).To(Equal(0))
	})

	ginkgo.It("should stop early when the frame budget is exhausted", func() {
		cfg.FrameBudgetMs = 1
		slow := func(state any, ticks int) (any, error) {
			time.Sleep(5 * time.Millisecond)
			return countingProcessor(state, ticks)
		}
		s := NewBatchScheduler(cfg, counter, slow, nil, nil)

		result := s.ProcessTicks(&ledger{}, 50)

		Expect(result.TicksProcessed).To(BeNumerically("<", 50))
		Expect(result.TicksProcessed).To(BeNumerically(">=", 1))
		// One in-flight tick may overshoot the budget, never more.
		Expect(result.TimeSpentMs).To(BeNumerically("<", cfg.FrameBudgetMs+50))
		Expect(s.MetricsSnapshot().BudgetOverruns).To(Equal(uint64(1)))
	})

	ginkgo.It("should fast-forward idle spans without invoking the processor", func() {
		cfg.IdleSkipEnabled = true
		cfg.IdleSkipThreshold = 10

		calls := 0
		processor := func(state any, ticks int) (any, error) {
			calls++
			return state, nil
		}
		s := NewBatchScheduler(cfg, counter, processor, nil, nil)
		s.SetIdleDetector(func(any) IdleVerdict {
			return IdleVerdict{Idle: true, SkipTicks: 30, Reason: "no customers"}
		})

		result := s.ProcessTicks(&ledger{}, 30)

		Expect(result.TicksProcessed).To(Equal(30))
		Expect(counter.TickCount()).To(Equal(uint64(30)))
		Expect(calls).To(Equal(0))
		Expect(s.MetricsSnapshot().IdleSkipped).To(Equal(uint64(30)))
	})

	ginkgo.It("should bound the idle skip by the batch budget", func() {
		cfg.IdleSkipEnabled = true
		cfg.IdleSkipThreshold = 0
		s := NewBatchScheduler(cfg, counter, countingProcessor, nil, nil)
		s.SetIdleDetector(func(any) IdleVerdict {
			return IdleVerdict{Idle: true, SkipTicks: 1000}
		})

		result := s.ProcessTicks(&ledger{}, 20)

		Expect(result.TicksProcessed).To(Equal(20))
		Expect(counter.TickCount()).To(Equal(uint64(20)))
	})

	ginkgo.It("should not consult the detector below the idle-skip threshold", func() {
		cfg.IdleSkipEnabled = true
		cfg.IdleSkipThreshold = 10
		consulted := false
		s := NewBatchScheduler(cfg, counter, countingProcessor, nil, nil)
		s.SetIdleDetector(func(any) IdleVerdict {
			consulted = true
			return IdleVerdict{Idle: true, SkipTicks: 100}
		})

		result := s.ProcessTicks(&ledger{}, 5)

		Expect(consulted).To(BeFalse())
		Expect(result.TicksProcessed).To(Equal(5))
	})

	ginkgo.It("should keep partial progress when the processor fails", func() {
		sink := NewMockErrorSink(mockCtrl)
		sink.EXPECT().Report(gomock.Any()).Do(func(r Report) {
			Expect(r.Category).To(Equal(BatchProcessingFailed))
		})

		boom := errors.New("negative inventory")
		processor := func(state any, ticks int) (any, error) {
			l := state.(*ledger)
			if l.ticks == 3 {
				return nil, boom
			}
			l.ticks += ticks
			return l, nil
		}
		s := NewBatchScheduler(cfg, counter, processor, sink, nil)

		state := &ledger{}
		result := s.ProcessTicks(state, 10)

		Expect(result.TicksProcessed).To(Equal(3))
		Expect(result.State.(*ledger).ticks).To(Equal(3))
		Expect(counter.TickCount()).To(Equal(uint64(3)))
	})

	ginkgo.It("should recover and report a panicking processor", func() {
		sink := NewMockErrorSink(mockCtrl)
		sink.EXPECT().Report(gomock.Any()).Do(func(r Report) {
			Expect(r.Category).To(Equal(BatchProcessingFailed))
			Expect(r.Err).To(HaveOccurred())
		})

		processor := func(state any, ticks int) (any, error) {
			panic("corrupted order book")
		}
		s := NewBatchScheduler(cfg, counter, processor, sink, nil)

		result := s.ProcessTicks(&ledger{}, 10)

		Expect(result.TicksProcessed).To(Equal(0))
	})

	ginkgo.It("should abort the batch when the idle detector panics", func() {
		sink := NewMockErrorSink(mockCtrl)
		sink.EXPECT().Report(gomock.Any()).Do(func(r Report) {
			Expect(r.Category).To(Equal(BatchProcessingFailed))
		})

		cfg.IdleSkipEnabled = true
		cfg.IdleSkipThreshold = 0
		s := NewBatchScheduler(cfg, counter, countingProcessor, sink, nil)
		s.SetIdleDetector(func(any) IdleVerdict { panic("bad state") })

		result := s.ProcessTicks(&ledger{}, 10)

		Expect(result.TicksProcessed).To(Equal(0))
		Expect(counter.TickCount()).To(Equal(uint64(0)))
	})

	ginkgo.It("should advise a batch size from the rolling average", func() {
		cfg.FrameBudgetMs = 100
		cfg.MaxBatchSize = 1000
		slow := func(state any, ticks int) (any, error) {
			time.Sleep(2 * time.Millisecond)
			return state, nil
		}
		s := NewBatchScheduler(cfg, counter, slow, nil, nil)

		s.ProcessTicks(&ledger{}, 10)

		optimal := s.OptimalBatchSize()
		// 0.8 * budget / avg tick cost, clamped to [1, max].
		Expect(optimal).To(BeNumerically(">=", 1))
		Expect(optimal).To(BeNumerically("<=", 1000))
		Expect(optimal).To(BeNumerically("<", 100))
	})

	ginkgo.It("should advise the max batch size before any measurement", func() {
		s := NewBatchScheduler(cfg, counter, countingProcessor, nil, nil)

		Expect(s.OptimalBatchSize()).To(Equal(cfg.MaxBatchSize))
	})
})
