package tick

import (
	"sync"
	"time"
)

// TimeMs is a point or span on the engine clock, in milliseconds.
type TimeMs float64

// A FrameCallback is invoked once with the current time at the next refresh.
type FrameCallback func(now TimeMs)

// A FrameHandle identifies a pending frame registration so that it can be
// cancelled before it fires.
type FrameHandle int64

// TimeSource abstracts "now" and per-refresh callback registration. The
// engine never reads the wall clock directly, which keeps the tick loop
// testable with a manually advanced source.
type TimeSource interface {
	// Now returns the current time on this source's clock.
	Now() TimeMs

	// RequestFrame registers cb to be invoked once at the next refresh.
	RequestFrame(cb FrameCallback) FrameHandle

	// CancelFrame prevents a pending registration from firing. Cancelling
	// an unknown or already-fired handle is a no-op.
	CancelFrame(handle FrameHandle)
}

type frameEntry struct {
	handle    FrameHandle
	cb        FrameCallback
	cancelled bool
}

// HostTimeSource is the production TimeSource. Now is the monotonic time
// elapsed since construction, and frame callbacks are driven by an internal
// ticker at the configured refresh interval.
type HostTimeSource struct {
	lock       sync.Mutex
	start      time.Time
	pending    []frameEntry
	nextHandle FrameHandle

	ticker *time.Ticker
	stop   chan struct{}
}

// NewHostTimeSource creates a HostTimeSource refreshing every
// refreshInterval and starts its driver goroutine.
func NewHostTimeSource(refreshInterval time.Duration) *HostTimeSource {
	if refreshInterval <= 0 {
		refreshInterval = 16667 * time.Microsecond
	}

	s := new(HostTimeSource)
	s.start = time.Now()
	s.stop = make(chan struct{})
	s.ticker = time.NewTicker(refreshInterval)

	go s.run()

	return s
}

func (s *HostTimeSource) run() {
	for {
		select {
		case <-s.ticker.C:
			s.fireFrames()
		case <-s.stop:
			s.ticker.Stop()
			return
		}
	}
}

func (s *HostTimeSource) fireFrames() {
	s.lock.Lock()
	due := s.pending
	s.pending = nil
	s.lock.Unlock()

	now := s.Now()
	for _, e := range due {
		if e.cancelled {
			continue
		}
		e.cb(now)
	}
}

// Now returns the milliseconds elapsed since the source was created.
func (s *HostTimeSource) Now() TimeMs {
	return TimeMs(time.Since(s.start).Seconds() * 1000.0)
}

// RequestFrame registers cb to fire at the next refresh.
func (s *HostTimeSource) RequestFrame(cb FrameCallback) FrameHandle {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.nextHandle++
	s.pending = append(s.pending, frameEntry{handle: s.nextHandle, cb: cb})

	return s.nextHandle
}

// CancelFrame prevents a pending callback from firing.
func (s *HostTimeSource) CancelFrame(handle FrameHandle) {
	s.lock.Lock()
	defer s.lock.Unlock()

	for i := range s.pending {
		if s.pending[i].handle == handle {
			s.pending[i].cancelled = true
			return
		}
	}
}

// Stop halts the driver goroutine. Pending frames are dropped.
func (s *HostTimeSource) Stop() {
	close(s.stop)
}

// ManualTimeSource is a deterministic TimeSource that advances only when
// explicitly told to. Callbacks registered before an Advance fire
// synchronously during that Advance, in registration order; callbacks
// registered while an Advance is in progress wait for the next one.
type ManualTimeSource struct {
	lock       sync.Mutex
	now        TimeMs
	pending    []frameEntry
	nextHandle FrameHandle
}

// NewManualTimeSource creates a ManualTimeSource at time zero.
func NewManualTimeSource() *ManualTimeSource {
	return new(ManualTimeSource)
}

// Now returns the current manual time.
func (s *ManualTimeSource) Now() TimeMs {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.now
}

// RequestFrame registers cb to fire on the next Advance.
func (s *ManualTimeSource) RequestFrame(cb FrameCallback) FrameHandle {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.nextHandle++
	s.pending = append(s.pending, frameEntry{handle: s.nextHandle, cb: cb})

	return s.nextHandle
}

// CancelFrame prevents a pending callback from firing.
func (s *ManualTimeSource) CancelFrame(handle FrameHandle) {
	s.lock.Lock()
	defer s.lock.Unlock()

	for i := range s.pending {
		if s.pending[i].handle == handle {
			s.pending[i].cancelled = true
			return
		}
	}
}

// Advance moves the clock forward by d and synchronously fires every
// callback that was pending when Advance was called.
func (s *ManualTimeSource) Advance(d TimeMs) {
	s.lock.Lock()
	s.now += d
	now := s.now
	due := s.pending
	s.pending = nil
	s.lock.Unlock()

	for _, e := range due {
		if e.cancelled {
			continue
		}
		e.cb(now)
	}
}

// Reset returns the clock to time zero and drops pending callbacks.
func (s *ManualTimeSource) Reset() {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.now = 0
	s.pending = nil
}
