package worker

import (
	"go.uber.org/zap"

	"github.com/sablecraft/simtick/tick"
)

// Client runs batch work on a worker when one is available and falls back
// to an in-process BatchScheduler when it is not. A worker crash or timeout
// degrades the client to in-process execution; the host never sees the
// failure beyond the error-sink report.
type Client struct {
	channel *Channel
	local   *tick.BatchScheduler
	counter tick.TickCounter
	sink    tick.ErrorSink
	logger  *zap.Logger

	workerOK bool
}

// NewClient creates a Client. When useWorker is false — for example, when
// the host platform cannot spare a background goroutine — everything runs
// in-process from the start.
func NewClient(
	cfg tick.Config,
	counter tick.TickCounter,
	processor tick.TickProcessor,
	detector tick.IdleDetector,
	sink tick.ErrorSink,
	logger *zap.Logger,
	useWorker bool,
) *Client {
	if sink == nil {
		sink = tick.NopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := new(Client)
	c.counter = counter
	c.sink = sink
	c.logger = logger
	c.local = tick.NewBatchScheduler(cfg, counter, processor, sink, logger)
	c.local.SetIdleDetector(detector)

	if useWorker {
		c.channel = Start(cfg, processor, detector, sink, logger)
		c.workerOK = true
	}

	return c
}

// Channel returns the underlying worker channel, or nil when running purely
// in-process.
func (c *Client) Channel() *Channel {
	return c.channel
}

// UsingWorker reports whether batch work currently goes to the worker.
func (c *Client) UsingWorker() bool {
	return c.workerOK
}

// ProcessTicks executes up to requested ticks against state, preferring the
// worker. On a worker failure the same request runs in-process from the
// caller's state checkpoint; the worker's divergent result is discarded, so
// no tick is observably duplicated.
func (c *Client) ProcessTicks(state any, requested int) tick.BatchResult {
	if !c.workerOK {
		return c.local.ProcessTicks(state, requested)
	}

	p := c.channel.Call(Request{
		Cmd:   CmdProcessTicks,
		State: state,
		Ticks: requested,
	})
	resp, err := p.Wait()
	if err != nil {
		c.degrade(err)
		return c.local.ProcessTicks(state, requested)
	}

	c.counter.AdvanceTicks(uint64(resp.TicksProcessed))

	return tick.BatchResult{
		State:          resp.State,
		TicksProcessed: resp.TicksProcessed,
		TimeSpentMs:    resp.TimeSpentMs,
	}
}

// MetricsSnapshot returns the batch metrics of whichever scheduler is
// currently executing ticks.
func (c *Client) MetricsSnapshot() tick.MetricsSnapshot {
	if c.workerOK {
		resp, err := c.channel.Call(Request{Cmd: CmdGetMetrics}).Wait()
		if err != nil {
			c.degrade(err)
		} else if resp.Metrics != nil {
			return *resp.Metrics
		}
	}

	return c.local.MetricsSnapshot()
}

// degrade switches to in-process execution. Timeout and crash reports were
// already emitted by the channel; only the mode switch is logged here.
func (c *Client) degrade(err error) {
	c.workerOK = false

	c.logger.Warn("falling back to in-process batch execution",
		zap.Error(err))

	c.channel.Terminate()
}

// Terminate shuts down the worker session, if any.
func (c *Client) Terminate() {
	if c.channel != nil {
		c.channel.Terminate()
	}
	c.workerOK = false
}
