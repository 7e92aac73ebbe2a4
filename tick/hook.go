package tick

// HookPos defines the enum of possible hooking positions.
type HookPos struct {
	Name string
}

// HookPosBeforeTick triggers before a tick is delivered to the domain.
var HookPosBeforeTick = &HookPos{Name: "BeforeTick"}

// HookPosAfterTick triggers after a tick has been delivered to the domain.
var HookPosAfterTick = &HookPos{Name: "AfterTick"}

// HookPosAutoSave triggers when the wall-clock auto-save interval elapses.
var HookPosAutoSave = &HookPos{Name: "AutoSave"}

// HookCtx holds all the information about the site where a hook triggers.
type HookCtx struct {
	Domain Hookable
	Pos    *HookPos
	Tick   uint64
	Detail any
}

// Hookable defines an object that accepts Hooks.
type Hookable interface {
	// AcceptHook registers a hook.
	AcceptHook(hook Hook)
}

// A Hook is a short piece of program invoked by a hookable object.
type Hook interface {
	// Func determines what to do when the hook is invoked.
	Func(ctx HookCtx)
}

// A HookableBase provides the utility functions for other types that
// implement the Hookable interface.
type HookableBase struct {
	Hooks []Hook
}

// NewHookableBase creates a HookableBase object.
func NewHookableBase() *HookableBase {
	h := new(HookableBase)
	h.Hooks = make([]Hook, 0)
	return h
}

// AcceptHook registers a hook.
func (h *HookableBase) AcceptHook(hook Hook) {
	h.Hooks = append(h.Hooks, hook)
}

// InvokeHook triggers the registered hooks.
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	for _, hook := range h.Hooks {
		hook.Func(ctx)
	}
}
