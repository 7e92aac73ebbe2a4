package worker

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sablecraft/simtick/tick"
)

// Runner is the worker-side half of the protocol. It owns its own batch
// scheduler, tick counter, and state copy, and serves requests from its
// request channel until that channel closes.
type Runner struct {
	requests  <-chan Request
	responses chan<- Response
	notices   chan<- TickNotice

	cfg       tick.Config
	counter   *tick.Counter
	sched     *tick.BatchScheduler
	processor tick.TickProcessor
	detector  tick.IdleDetector
	sink      tick.ErrorSink
	logger    *zap.Logger

	state   any
	running bool
	paused  bool
	speed   tick.SpeedSetting
}

// NewRunner creates a Runner serving requests and writing responses and
// tick notices to the given channels.
func NewRunner(
	cfg tick.Config,
	processor tick.TickProcessor,
	detector tick.IdleDetector,
	sink tick.ErrorSink,
	logger *zap.Logger,
	requests <-chan Request,
	responses chan<- Response,
	notices chan<- TickNotice,
) *Runner {
	if sink == nil {
		sink = tick.NopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := new(Runner)
	r.cfg = cfg.Sanitized()
	r.processor = processor
	r.detector = detector
	r.sink = sink
	r.logger = logger
	r.requests = requests
	r.responses = responses
	r.notices = notices
	r.speed = tick.SpeedNormal
	r.rebuildScheduler()

	return r
}

func (r *Runner) rebuildScheduler() {
	r.counter = new(tick.Counter)
	r.sched = tick.NewBatchScheduler(
		r.cfg, r.counter, r.processor, r.sink, r.logger)
	r.sched.SetIdleDetector(r.detector)
}

// Run serves requests until the request channel closes. The response
// channel is closed on return, which the host interprets as the end of the
// session.
func (r *Runner) Run() {
	defer close(r.responses)

	ticker := time.NewTicker(r.tickInterval())
	defer ticker.Stop()

	for {
		select {
		case req, ok := <-r.requests:
			if !ok {
				return
			}
			if req.Cmd == CmdInit {
				r.handleInit(req, ticker)
				continue
			}
			r.respond(r.handle(req))
		case <-ticker.C:
			r.continuousTick()
		}
	}
}

func (r *Runner) respond(resp Response) {
	r.responses <- resp
}

func (r *Runner) tickInterval() time.Duration {
	d := time.Duration(r.cfg.TickDurationMs() * float64(time.Millisecond))
	if d <= 0 {
		d = time.Second
	}
	return d
}

func (r *Runner) handleInit(req Request, ticker *time.Ticker) {
	if req.Config != nil {
		r.cfg = req.Config.Sanitized()
		r.rebuildScheduler()
		ticker.Reset(r.tickInterval())
	}
	r.respond(Response{ID: req.ID, Cmd: req.Cmd, TickCount: r.counter.TickCount()})
}

func (r *Runner) handle(req Request) Response {
	resp := Response{ID: req.ID, Cmd: req.Cmd}

	switch req.Cmd {
	case CmdStart:
		r.running = true
		r.paused = false
	case CmdStop:
		r.running = false
	case CmdPause:
		r.paused = true
	case CmdResume:
		r.paused = false
	case CmdSetSpeed:
		r.speed = req.Speed
	case CmdUpdateState:
		r.state = req.State
	case CmdProcessTicks:
		if req.State != nil {
			r.state = req.State
		}
		result := r.sched.ProcessTicks(r.state, req.Ticks)
		r.state = result.State
		resp.State = result.State
		resp.TicksProcessed = result.TicksProcessed
		resp.TimeSpentMs = result.TimeSpentMs
	case CmdGetMetrics:
		snap := r.sched.MetricsSnapshot()
		resp.Metrics = &snap
	default:
		resp.Err = fmt.Sprintf("unknown command %q", req.Cmd)
	}

	resp.TickCount = r.counter.TickCount()

	return resp
}

// continuousTick advances the simulation by one interval's worth of ticks
// and pushes an uncorrelated notice. A full notice channel drops the push
// rather than stalling the worker.
func (r *Runner) continuousTick() {
	if !r.running || r.paused {
		return
	}

	ticks := int(r.speed.Multiplier())
	if ticks <= 0 {
		return
	}

	result := r.sched.ProcessTicks(r.state, ticks)
	r.state = result.State

	if result.TicksProcessed == 0 {
		return
	}

	select {
	case r.notices <- TickNotice{
		Ticks:     result.TicksProcessed,
		TickCount: r.counter.TickCount(),
	}:
	default:
	}
}
