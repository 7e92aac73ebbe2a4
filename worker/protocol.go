// Package worker delegates batch tick execution to a separate goroutine
// through a typed command/response protocol. The host and the worker share
// these message definitions, so the boundary is checked at compile time.
// No memory is shared: any state placed in a message must be treated as
// copied, and the sender must assume it is mutated remotely until the
// matching response arrives.
package worker

import (
	"github.com/sablecraft/simtick/tick"
)

// Command tags a request with the operation to perform.
type Command string

// The worker commands.
const (
	CmdInit         Command = "init"
	CmdStart        Command = "start"
	CmdStop         Command = "stop"
	CmdPause        Command = "pause"
	CmdResume       Command = "resume"
	CmdSetSpeed     Command = "setSpeed"
	CmdProcessTicks Command = "processTicks"
	CmdUpdateState  Command = "updateState"
	CmdGetMetrics   Command = "getMetrics"
)

// A Request is one command sent to the worker. ID is the correlation id
// echoed by the matching response.
type Request struct {
	ID     string
	Cmd    Command
	Config *tick.Config
	Speed  tick.SpeedSetting
	State  any
	Ticks  int
}

// A Response carries the result or error for the request with the same ID.
type Response struct {
	ID             string
	Cmd            Command
	State          any
	TickCount      uint64
	TicksProcessed int
	TimeSpentMs    float64
	Metrics        *tick.MetricsSnapshot
	Err            string
}

// A TickNotice is an uncorrelated push emitted while the worker runs in
// continuous mode. It routes to the host's tick callback instead of
// resolving a pending request.
type TickNotice struct {
	Ticks     int
	TickCount uint64
}
