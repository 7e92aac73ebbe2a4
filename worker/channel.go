package worker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/sablecraft/simtick/tick"
)

// The errors a pending request can settle with.
var (
	ErrTimeout    = errors.New("worker request timed out")
	ErrTerminated = errors.New("worker channel terminated")
	ErrCrashed    = errors.New("worker crashed")
	ErrBusy       = errors.New("worker request queue full")
)

// A Result is the settled outcome of a pending request.
type Result struct {
	Response Response
	Err      error
}

// A Pending is the future-like handle returned by Call. It settles exactly
// once: with the matching response, or with a timeout, termination, or
// crash error.
type Pending struct {
	ID string

	once sync.Once
	ch   chan Result
}

func newPending(id string) *Pending {
	return &Pending{ID: id, ch: make(chan Result, 1)}
}

func (p *Pending) settle(res Result) {
	p.once.Do(func() { p.ch <- res })
}

// Done returns the channel that delivers the settled result.
func (p *Pending) Done() <-chan Result {
	return p.ch
}

// Wait blocks until the request settles.
func (p *Pending) Wait() (Response, error) {
	res := <-p.ch
	return res.Response, res.Err
}

type pendingEntry struct {
	p        *Pending
	cmd      Command
	deadline time.Time
}

// Channel is the host-side half of the protocol. It correlates requests
// with responses by id, fails entries that outlive the configured timeout,
// routes uncorrelated tick notices to a registered callback, and drops late
// responses for ids it no longer knows.
type Channel struct {
	requests  chan Request
	responses <-chan Response
	notices   <-chan TickNotice

	timeout time.Duration
	sink    tick.ErrorSink
	logger  *zap.Logger

	lock          sync.Mutex
	pending       map[string]*pendingEntry
	onTick        func(TickNotice)
	terminated    bool
	crashed       bool
	lateResponses uint64

	stopSweep     chan struct{}
	stopSweepOnce sync.Once
	done          chan struct{}
}

// requestQueueDepth bounds how many requests may be in flight toward the
// worker before Call fails fast with ErrBusy.
const requestQueueDepth = 16

// Start spins up a worker goroutine for the given processor and returns the
// Channel connected to it.
func Start(
	cfg tick.Config,
	processor tick.TickProcessor,
	detector tick.IdleDetector,
	sink tick.ErrorSink,
	logger *zap.Logger,
) *Channel {
	cfg = cfg.Sanitized()

	requests := make(chan Request, requestQueueDepth)
	responses := make(chan Response, requestQueueDepth)
	notices := make(chan TickNotice, requestQueueDepth)

	runner := NewRunner(
		cfg, processor, detector, sink, logger,
		requests, responses, notices)
	go runner.Run()

	return connect(cfg, sink, logger, requests, responses, notices)
}

// connect builds a Channel over pre-existing message channels. Split from
// Start so tests can stand in for the runner.
func connect(
	cfg tick.Config,
	sink tick.ErrorSink,
	logger *zap.Logger,
	requests chan Request,
	responses <-chan Response,
	notices <-chan TickNotice,
) *Channel {
	if sink == nil {
		sink = tick.NopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := new(Channel)
	c.requests = requests
	c.responses = responses
	c.notices = notices
	c.timeout = time.Duration(cfg.WorkerTimeoutMs * float64(time.Millisecond))
	c.sink = sink
	c.logger = logger
	c.pending = make(map[string]*pendingEntry)
	c.stopSweep = make(chan struct{})
	c.done = make(chan struct{})

	go c.receiveLoop()
	go c.sweepLoop()

	return c
}

// OnTick registers the callback for uncorrelated tick notices.
func (c *Channel) OnTick(f func(TickNotice)) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.onTick = f
}

// Call sends a request and returns a future-like handle without blocking.
// An empty request ID is filled with a fresh correlation id.
func (c *Channel) Call(req Request) *Pending {
	if req.ID == "" {
		req.ID = xid.New().String()
	}

	p := newPending(req.ID)

	c.lock.Lock()
	if c.terminated {
		c.lock.Unlock()
		p.settle(Result{Err: ErrTerminated})
		return p
	}
	if c.crashed {
		c.lock.Unlock()
		p.settle(Result{Err: ErrCrashed})
		return p
	}

	// The send happens under the lock so that Terminate cannot close the
	// request channel between the check above and the send.
	select {
	case c.requests <- req:
		c.pending[req.ID] = &pendingEntry{
			p:        p,
			cmd:      req.Cmd,
			deadline: time.Now().Add(c.timeout),
		}
		c.lock.Unlock()
	default:
		c.lock.Unlock()
		p.settle(Result{Err: ErrBusy})
	}

	return p
}

// Terminate tears the session down. The request channel closes, the worker
// drains and exits, and every pending entry settles with ErrTerminated
// rather than being left unresolved.
func (c *Channel) Terminate() {
	c.lock.Lock()
	if c.terminated {
		c.lock.Unlock()
		return
	}
	c.terminated = true
	c.lock.Unlock()

	close(c.requests)
	c.stopSweepOnce.Do(func() { close(c.stopSweep) })
	c.failAll(ErrTerminated)
}

// Done returns a channel closed when the session has ended, either by
// Terminate or by a worker crash.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// LateResponses returns how many responses arrived for ids that were no
// longer pending.
func (c *Channel) LateResponses() uint64 {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.lateResponses
}

func (c *Channel) receiveLoop() {
	defer close(c.done)

	for {
		select {
		case resp, ok := <-c.responses:
			if !ok {
				c.sessionEnded()
				return
			}
			c.resolve(resp)
		case notice := <-c.notices:
			c.dispatchTick(notice)
		}
	}
}

// sessionEnded runs when the worker closes its response channel. A close
// without a prior Terminate means the worker went away unexpectedly.
func (c *Channel) sessionEnded() {
	c.lock.Lock()
	terminated := c.terminated
	if !terminated {
		c.crashed = true
	}
	c.lock.Unlock()

	c.stopSweepOnce.Do(func() { close(c.stopSweep) })

	if terminated {
		return
	}

	// A warning, not an error: in-process fallback takes over and the
	// crash stays invisible beyond a possible one-frame stutter.
	c.sink.Report(tick.Report{
		Category: tick.WorkerCrashed,
		Severity: tick.SeverityWarning,
		Message:  "worker ended unexpectedly",
	})
	c.failAll(ErrCrashed)
}

// Crashed reports whether the worker went away without Terminate.
func (c *Channel) Crashed() bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.crashed
}

func (c *Channel) resolve(resp Response) {
	c.lock.Lock()
	entry, ok := c.pending[resp.ID]
	if !ok {
		// A response for a request that already timed out or was never
		// ours. Dropped on purpose.
		c.lateResponses++
		c.lock.Unlock()
		c.logger.Debug("dropping uncorrelated response",
			zap.String("id", resp.ID))
		return
	}
	delete(c.pending, resp.ID)
	c.lock.Unlock()

	var err error
	if resp.Err != "" {
		err = fmt.Errorf("worker: %s", resp.Err)
	}
	entry.p.settle(Result{Response: resp, Err: err})
}

func (c *Channel) dispatchTick(notice TickNotice) {
	c.lock.Lock()
	f := c.onTick
	c.lock.Unlock()

	if f != nil {
		f(notice)
	}
}

func (c *Channel) failAll(err error) {
	c.lock.Lock()
	entries := make([]*pendingEntry, 0, len(c.pending))
	for _, entry := range c.pending {
		entries = append(entries, entry)
	}
	c.pending = make(map[string]*pendingEntry)
	c.lock.Unlock()

	for _, entry := range entries {
		entry.p.settle(Result{Err: err})
	}
}

// sweepLoop fails pending entries that outlive the per-request timeout.
// Timeouts are per-request, not per-session.
func (c *Channel) sweepLoop() {
	interval := c.timeout / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep(time.Now())
		case <-c.stopSweep:
			return
		}
	}
}

func (c *Channel) sweep(now time.Time) {
	c.lock.Lock()
	var expired []*pendingEntry
	for id, entry := range c.pending {
		if now.After(entry.deadline) {
			expired = append(expired, entry)
			delete(c.pending, id)
		}
	}
	c.lock.Unlock()

	for _, entry := range expired {
		c.sink.Report(tick.Report{
			Category: tick.WorkerTimeout,
			Severity: tick.SeverityWarning,
			Message:  "worker request timed out",
			Context: map[string]any{
				"id":  entry.p.ID,
				"cmd": string(entry.cmd),
			},
		})
		entry.p.settle(Result{Err: ErrTimeout})
	}
}
