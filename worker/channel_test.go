package worker

import (
	"sync"
	"time"

	ginkgo "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sablecraft/simtick/tick"
)

// memoSink records every report it receives.
type memoSink struct {
	lock    sync.Mutex
	reports []tick.Report
}

func (s *memoSink) Report(r tick.Report) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.reports = append(s.reports, r)
}

func (s *memoSink) categories() []tick.ErrorCategory {
	s.lock.Lock()
	defer s.lock.Unlock()

	out := make([]tick.ErrorCategory, 0, len(s.reports))
	for _, r := range s.reports {
		out = append(out, r.Category)
	}
	return out
}

// till is the toy state crossing the worker boundary in these tests.
type till struct {
	ticks int
}

func tillProcessor(state any, ticks int) (any, error) {
	t, ok := state.(*till)
	if !ok {
		t = &till{}
	}
	t.ticks += ticks
	return t, nil
}

var _ = ginkgo.Describe("Channel", func() {
	var (
		cfg  tick.Config
		sink *memoSink
	)

	ginkgo.BeforeEach(func() {
		cfg = tick.DefaultConfig()
		cfg.IdleSkipEnabled = false
		sink = &memoSink{}
	})

	ginkgo.It("should round-trip a processTicks request with a shared correlation id", func() {
		ch := Start(cfg, tillProcessor, nil, sink, nil)
		defer ch.Terminate()

		p := ch.Call(Request{Cmd: CmdProcessTicks, State: &till{}, Ticks: 5})
		Expect(p.ID).NotTo(BeEmpty())

		resp, err := p.Wait()
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.ID).To(Equal(p.ID))
		Expect(resp.TicksProcessed).To(Equal(5))
		Expect(resp.State.(*till).ticks).To(Equal(5))
		Expect(resp.TickCount).To(Equal(uint64(5)))
	})

	ginkgo.It("should keep worker-side state across requests", func() {
		ch := Start(cfg, tillProcessor, nil, sink, nil)
		defer ch.Terminate()

		_, err := ch.Call(Request{Cmd: CmdProcessTicks, State: &till{}, Ticks: 3}).Wait()
		Expect(err).NotTo(HaveOccurred())

		resp, err := ch.Call(Request{Cmd: CmdProcessTicks, Ticks: 2}).Wait()
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.State.(*till).ticks).To(Equal(5))
		Expect(resp.TickCount).To(Equal(uint64(5)))
	})

	ginkgo.It("should serve a metrics snapshot", func() {
		ch := Start(cfg, tillProcessor, nil, sink, nil)
		defer ch.Terminate()

		_, err := ch.Call(Request{Cmd: CmdProcessTicks, State: &till{}, Ticks: 4}).Wait()
		Expect(err).NotTo(HaveOccurred())

		resp, err := ch.Call(Request{Cmd: CmdGetMetrics}).Wait()
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Metrics).NotTo(BeNil())
		Expect(resp.Metrics.TicksProcessed).To(Equal(uint64(4)))
	})

	ginkgo.It("should answer an unknown command with an error response", func() {
		ch := Start(cfg, tillProcessor, nil, sink, nil)
		defer ch.Terminate()

		_, err := ch.Call(Request{Cmd: Command("selfDestruct")}).Wait()

		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("unknown command"))
	})

	ginkgo.It("should fail a request that outlives the timeout and drop the late response", func() {
		cfg.WorkerTimeoutMs = 100
		slow := func(state any, ticks int) (any, error) {
			time.Sleep(300 * time.Millisecond)
			return tillProcessor(state, ticks)
		}
		ch := Start(cfg, slow, nil, sink, nil)
		defer ch.Terminate()

		_, err := ch.Call(Request{Cmd: CmdProcessTicks, State: &till{}, Ticks: 1}).Wait()

		Expect(err).To(MatchError(ErrTimeout))
		Expect(sink.categories()).To(ContainElement(tick.WorkerTimeout))

		// The worker eventually answers; the response must be ignored,
		// not resolve the already-failed call or blow up.
		Eventually(ch.LateResponses, "1s").Should(Equal(uint64(1)))
	})

	ginkgo.It("should route uncorrelated tick notices to the registered callback", func() {
		cfg.TicksPerSecond = 10
		ch := Start(cfg, tillProcessor, nil, sink, nil)
		defer ch.Terminate()

		notices := make(chan TickNotice, 16)
		ch.OnTick(func(n TickNotice) { notices <- n })

		_, err := ch.Call(Request{Cmd: CmdUpdateState, State: &till{}}).Wait()
		Expect(err).NotTo(HaveOccurred())
		_, err = ch.Call(Request{Cmd: CmdStart}).Wait()
		Expect(err).NotTo(HaveOccurred())

		Eventually(notices, "2s").Should(Receive())
	})

	ginkgo.It("should stop pushing notices while paused", func() {
		cfg.TicksPerSecond = 10
		ch := Start(cfg, tillProcessor, nil, sink, nil)
		defer ch.Terminate()

		notices := make(chan TickNotice, 16)
		ch.OnTick(func(n TickNotice) { notices <- n })

		_, err := ch.Call(Request{Cmd: CmdStart}).Wait()
		Expect(err).NotTo(HaveOccurred())
		Eventually(notices, "2s").Should(Receive())

		_, err = ch.Call(Request{Cmd: CmdPause}).Wait()
		Expect(err).NotTo(HaveOccurred())

		// A notice pushed just before the pause landed may still be in
		// flight.
		time.Sleep(50 * time.Millisecond)
		drain(notices)

		Consistently(notices, "300ms").ShouldNot(Receive())
	})

	ginkgo.It("should settle every pending request as failed on terminate", func() {
		requests := make(chan Request, requestQueueDepth)
		responses := make(chan Response, requestQueueDepth)
		notices := make(chan TickNotice, requestQueueDepth)
		ch := connect(cfg, sink, nil, requests, responses, notices)

		p1 := ch.Call(Request{Cmd: CmdProcessTicks, Ticks: 1})
		p2 := ch.Call(Request{Cmd: CmdGetMetrics})

		ch.Terminate()

		_, err := p1.Wait()
		Expect(err).To(MatchError(ErrTerminated))
		_, err = p2.Wait()
		Expect(err).To(MatchError(ErrTerminated))
	})

	ginkgo.It("should fail fast on calls after terminate", func() {
		ch := Start(cfg, tillProcessor, nil, sink, nil)
		ch.Terminate()

		_, err := ch.Call(Request{Cmd: CmdGetMetrics}).Wait()

		Expect(err).To(MatchError(ErrTerminated))
	})

	ginkgo.It("should report a crash when the worker goes away without terminate", func() {
		requests := make(chan Request, requestQueueDepth)
		responses := make(chan Response, requestQueueDepth)
		notices := make(chan TickNotice, requestQueueDepth)
		ch := connect(cfg, sink, nil, requests, responses, notices)

		p := ch.Call(Request{Cmd: CmdProcessTicks, Ticks: 1})
		close(responses)

		Eventually(ch.Done()).Should(BeClosed())
		Expect(ch.Crashed()).To(BeTrue())
		Expect(sink.categories()).To(ContainElement(tick.WorkerCrashed))

		_, err := p.Wait()
		Expect(err).To(MatchError(ErrCrashed))
	})
})

func drain(ch chan TickNotice) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

var _ = ginkgo.Describe("Client", func() {
	var (
		cfg  tick.Config
		sink *memoSink
	)

	ginkgo.BeforeEach(func() {
		cfg = tick.DefaultConfig()
		cfg.IdleSkipEnabled = false
		sink = &memoSink{}
	})

	ginkgo.It("should execute batches on the worker when available", func() {
		counter := new(tick.Counter)
		client := NewClient(cfg, counter, tillProcessor, nil, sink, nil, true)
		defer client.Terminate()

		result := client.ProcessTicks(&till{}, 7)

		Expect(client.UsingWorker()).To(BeTrue())
		Expect(result.TicksProcessed).To(Equal(7))
		Expect(result.State.(*till).ticks).To(Equal(7))
		Expect(counter.TickCount()).To(Equal(uint64(7)))
	})

	ginkgo.It("should run in-process when the worker is disabled", func() {
		counter := new(tick.Counter)
		client := NewClient(cfg, counter, tillProcessor, nil, sink, nil, false)

		result := client.ProcessTicks(&till{}, 7)

		Expect(client.UsingWorker()).To(BeFalse())
		Expect(result.TicksProcessed).To(Equal(7))
		Expect(counter.TickCount()).To(Equal(uint64(7)))
	})

	ginkgo.It("should fall back in-process after a worker timeout", func() {
		cfg.WorkerTimeoutMs = 100

		var calls int
		var lock sync.Mutex
		processor := func(state any, ticks int) (any, error) {
			lock.Lock()
			calls++
			first := calls == 1
			lock.Unlock()

			if first {
				// Only the worker-side copy stalls; its result is dropped,
				// so it must not touch the shared state.
				time.Sleep(300 * time.Millisecond)
				return state, nil
			}
			return tillProcessor(state, ticks)
		}

		counter := new(tick.Counter)
		client := NewClient(cfg, counter, processor, nil, sink, nil, true)
		defer client.Terminate()

		result := client.ProcessTicks(&till{}, 1)

		Expect(result.TicksProcessed).To(Equal(1))
		Expect(client.UsingWorker()).To(BeFalse())
		Expect(counter.TickCount()).To(Equal(uint64(1)))
		Expect(sink.categories()).To(ContainElement(tick.WorkerTimeout))
	})
})
