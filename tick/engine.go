package tick

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// EngineState is the lifecycle state of an Engine.
type EngineState int

// The engine lifecycle states.
const (
	StateStopped EngineState = iota
	StateRunning
	StatePaused
)

func (s EngineState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// A TickFunc advances the domain simulation by the given number of ticks.
// An error signals a domain invariant violation; the engine stops and never
// retries.
type TickFunc func(ticks int) error

// An AutoSaveFunc is fired on a wall-clock interval, independent of the
// simulation speed.
type AutoSaveFunc func()

// Engine owns the fixed-timestep accumulator loop. It converts elapsed real
// time into a deterministic sequence of ticks, fires due scheduled events,
// and invokes the tick callback once per tick.
//
// The engine assumes one logical thread of control: frame callbacks and the
// host's synchronous calls must not overlap with long-running work inside
// onTick, and onTick must not call the engine's lifecycle methods.
type Engine struct {
	HookableBase

	cfg      Config
	source   TimeSource
	schedule *EventSchedule
	sink     ErrorSink
	logger   *zap.Logger

	lock           sync.Mutex
	state          EngineState
	speed          SpeedSetting
	tickDurationMs float64
	accumulator    float64
	lastFrameTime  TimeMs
	lastAutoSave   TimeMs
	frameHandle    FrameHandle
	onTick         TickFunc
	onAutoSave     AutoSaveFunc
	err            error

	tickCount atomic.Uint64
}

// NewEngine creates an Engine driven by source. A nil schedule, sink, or
// logger is replaced with an empty schedule, a NopSink, and a no-op logger.
func NewEngine(
	cfg Config,
	source TimeSource,
	schedule *EventSchedule,
	sink ErrorSink,
	logger *zap.Logger,
) *Engine {
	if sink == nil {
		sink = NopSink{}
	}
	if schedule == nil {
		schedule = NewEventSchedule(sink)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := new(Engine)
	e.cfg = cfg.Sanitized()
	e.source = source
	e.schedule = schedule
	e.sink = sink
	e.logger = logger
	e.speed = SpeedNormal
	e.tickDurationMs = e.cfg.TickDurationMs()

	return e
}

// Schedule returns the engine's event schedule.
func (e *Engine) Schedule() *EventSchedule {
	return e.schedule
}

// OnAutoSave registers the auto-save hook. Persistence itself is the
// host's concern.
func (e *Engine) OnAutoSave(f AutoSaveFunc) {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.onAutoSave = f
}

// Start begins the frame loop, delivering ticks to onTick. Starting a
// running engine is a no-op; starting a paused engine resumes it. The tick
// counter and schedule survive a stop, so a subsequent start continues
// from where the engine left off.
func (e *Engine) Start(onTick TickFunc) {
	e.lock.Lock()
	defer e.lock.Unlock()

	switch e.state {
	case StateRunning:
		return
	case StatePaused:
		e.resumeLocked()
		return
	}

	e.onTick = onTick
	e.err = nil
	now := e.source.Now()
	e.lastFrameTime = now
	e.lastAutoSave = now
	e.state = StateRunning
	e.frameHandle = e.source.RequestFrame(e.onFrame)

	e.logger.Info("engine started",
		zap.Uint64("tick", e.tickCount.Load()),
		zap.Float64("tick_duration_ms", e.tickDurationMs))
}

// Pause suspends tick delivery. The tick counter, schedule, and accumulator
// are preserved.
func (e *Engine) Pause() {
	e.lock.Lock()
	defer e.lock.Unlock()

	if e.state != StateRunning {
		return
	}

	e.source.CancelFrame(e.frameHandle)
	e.state = StatePaused

	e.logger.Info("engine paused", zap.Uint64("tick", e.tickCount.Load()))
}

// Resume continues a paused engine. The elapsed-time baseline is rebased to
// the current time, so no catch-up occurs across the pause.
func (e *Engine) Resume() {
	e.lock.Lock()
	defer e.lock.Unlock()

	if e.state != StatePaused {
		return
	}

	e.resumeLocked()
}

func (e *Engine) resumeLocked() {
	e.lastFrameTime = e.source.Now()
	e.state = StateRunning
	e.frameHandle = e.source.RequestFrame(e.onFrame)

	e.logger.Info("engine resumed", zap.Uint64("tick", e.tickCount.Load()))
}

// Stop cancels the pending frame registration and halts the loop. The tick
// counter and schedule persist for a subsequent start.
func (e *Engine) Stop() {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.stopLocked()
}

func (e *Engine) stopLocked() {
	if e.state == StateStopped {
		return
	}

	e.source.CancelFrame(e.frameHandle)
	e.state = StateStopped

	e.logger.Info("engine stopped", zap.Uint64("tick", e.tickCount.Load()))
}

// State returns the lifecycle state.
func (e *Engine) State() EngineState {
	e.lock.Lock()
	defer e.lock.Unlock()

	return e.state
}

// Err returns the error that stopped the engine, if any.
func (e *Engine) Err() error {
	e.lock.Lock()
	defer e.lock.Unlock()

	return e.err
}

// SetSpeed changes the speed multiplier applied to elapsed time. It is read
// on every frame.
func (e *Engine) SetSpeed(s SpeedSetting) {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.speed = s
	e.logger.Info("speed changed", zap.Stringer("speed", s))
}

// Speed returns the current speed setting.
func (e *Engine) Speed() SpeedSetting {
	e.lock.Lock()
	defer e.lock.Unlock()

	return e.speed
}

// SetTicksPerSecond changes the fixed timestep, clamped to [0.1, 10] ticks
// per second. The accumulator is kept, so the fractional carry persists
// across the change.
func (e *Engine) SetTicksPerSecond(tps float64) {
	e.lock.Lock()
	defer e.lock.Unlock()

	tps = clampFloat(tps, 0.1, 10)
	e.tickDurationMs = 1000.0 / tps

	e.logger.Info("tick rate changed",
		zap.Float64("ticks_per_second", tps),
		zap.Float64("tick_duration_ms", e.tickDurationMs))
}

// TickCount returns the current tick index, the only persisted scheduler
// state.
func (e *Engine) TickCount() uint64 {
	return e.tickCount.Load()
}

// SetTickCount sets the tick index when loading a saved game.
func (e *Engine) SetTickCount(n uint64) {
	e.tickCount.Store(n)
}

// AdvanceTicks moves the tick index forward without running domain logic.
// This is the idle-skip fast-forward path; no scheduled events fire.
func (e *Engine) AdvanceTicks(n uint64) {
	e.tickCount.Add(n)
}

// ManualTick bypasses the frame loop and synchronously fires one tick plus
// its due events. The onTick error, if any, is returned directly.
func (e *Engine) ManualTick() error {
	e.lock.Lock()
	defer e.lock.Unlock()

	return e.runTick()
}

// onFrame is the per-frame entry point registered with the time source.
func (e *Engine) onFrame(now TimeMs) {
	e.lock.Lock()
	defer e.lock.Unlock()

	if e.state != StateRunning {
		// A frame that raced with Pause or Stop.
		return
	}

	delta := float64(now - e.lastFrameTime)
	if delta < 0 {
		delta = 0
	}
	e.lastFrameTime = now

	e.accumulator += delta * e.speed.Multiplier()

	for e.accumulator >= e.tickDurationMs {
		e.accumulator -= e.tickDurationMs

		if err := e.runTick(); err != nil {
			e.err = err
			e.stopLocked()
			e.sink.Report(Report{
				Category: SchedulerError,
				Severity: SeverityFatal,
				Message:  "tick callback failed, engine stopped",
				Context:  map[string]any{"tick": e.tickCount.Load()},
				Err:      err,
			})
			return
		}
	}

	// Auto-save runs on wall-clock time, unaffected by the speed
	// multiplier.
	if e.cfg.AutoSaveIntervalMs > 0 && e.onAutoSave != nil &&
		float64(now-e.lastAutoSave) >= e.cfg.AutoSaveIntervalMs {
		e.lastAutoSave = now
		e.InvokeHook(HookCtx{
			Domain: e,
			Pos:    HookPosAutoSave,
			Tick:   e.tickCount.Load(),
		})
		e.onAutoSave()
	}

	e.frameHandle = e.source.RequestFrame(e.onFrame)
}

func (e *Engine) runTick() error {
	tickNo := e.tickCount.Add(1)

	e.InvokeHook(HookCtx{Domain: e, Pos: HookPosBeforeTick, Tick: tickNo})

	e.schedule.ProcessDue(tickNo)

	if e.onTick != nil {
		if err := e.onTick(1); err != nil {
			return err
		}
	}

	e.InvokeHook(HookCtx{Domain: e, Pos: HookPosAfterTick, Tick: tickNo})

	return nil
}
