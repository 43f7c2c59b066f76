// Package hook implements the four ordered lifecycle phases a plugin
// can contribute callables to: pre_startup, startup, pre_shutdown, and
// shutdown.
package hook

import (
	"fmt"
	"sync"

	"github.com/lcx/hpxrt/log"
)

// Func is a nullary side-effecting callable supplied by a plugin.
type Func func() error

// Phase names the runtime state the server enters while a hook sequence
// is being drained, mirroring the consumed runtime.set_state interface.
type Phase int

const (
	PhasePreStartup Phase = iota
	PhaseStartup
	PhasePreShutdown
	PhaseShutdown
)

func (p Phase) String() string {
	switch p {
	case PhasePreStartup:
		return "pre_startup"
	case PhaseStartup:
		return "startup"
	case PhasePreShutdown:
		return "pre_shutdown"
	case PhaseShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Runtime is the slice of the consumed runtime interface the hook
// registry needs: a place to record its current lifecycle phase and a
// sink for exceptions raised by shutdown-phase hooks.
type Runtime interface {
	SetState(phase Phase)
	ReportError(err error)
}

// Registry holds the four disjoint, insertion-ordered hook sequences
// for one locality. Hooks are appended only during load_components;
// after the corresponding phase has been drained once, later callers
// still observe the same slice — Registry never forgets a hook.
type Registry struct {
	mu          sync.Mutex
	preStartup  []Func
	startup     []Func
	preShutdown []Func
	shutdown    []Func
}

// NewRegistry builds an empty hook registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// AddPreStartup appends a pre-startup hook.
func (r *Registry) AddPreStartup(f Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preStartup = append(r.preStartup, f)
}

// AddStartup appends a startup hook.
func (r *Registry) AddStartup(f Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startup = append(r.startup, f)
}

// AddPreShutdown appends a pre-shutdown hook.
func (r *Registry) AddPreShutdown(f Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preShutdown = append(r.preShutdown, f)
}

// AddShutdown appends a shutdown hook.
func (r *Registry) AddShutdown(f Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shutdown = append(r.shutdown, f)
}

// CallStartupFunctions drains the pre_startup sequence (pre=true) or
// the startup sequence (pre=false) in insertion order. An error from
// any hook aborts the remaining sequence and propagates to the caller,
// matching the rule that startup failures abort bootstrap.
func (r *Registry) CallStartupFunctions(pre bool, rt Runtime) error {
	r.mu.Lock()
	var hooks []Func
	var phase Phase
	if pre {
		phase = PhasePreStartup
		hooks = append([]Func(nil), r.preStartup...)
	} else {
		phase = PhaseStartup
		hooks = append([]Func(nil), r.startup...)
	}
	r.mu.Unlock()

	rt.SetState(phase)
	for i, h := range hooks {
		if err := h(); err != nil {
			return fmt.Errorf("hook: %s hook %d failed: %w", phase, i, err)
		}
	}
	return nil
}

// CallShutdownFunctions drains the pre_shutdown sequence (pre=true) or
// the shutdown sequence (pre=false) in insertion order, catching every
// hook's error and forwarding it to rt.ReportError so one faulty hook
// never prevents the rest from running.
func (r *Registry) CallShutdownFunctions(pre bool, rt Runtime) {
	r.mu.Lock()
	var hooks []Func
	var phase Phase
	if pre {
		phase = PhasePreShutdown
		hooks = append([]Func(nil), r.preShutdown...)
	} else {
		phase = PhaseShutdown
		hooks = append([]Func(nil), r.shutdown...)
	}
	r.mu.Unlock()

	rt.SetState(phase)
	for i, h := range hooks {
		if err := runHookCaptured(h); err != nil {
			log.Error().Err(err).Str("phase", phase.String()).Int("index", i).Msg("shutdown hook failed")
			rt.ReportError(fmt.Errorf("hook: %s hook %d: %w", phase, i, err))
		}
	}
}

// runHookCaptured invokes h, turning a panic into an error so a
// misbehaving shutdown hook cannot take the whole sequence down with it.
func runHookCaptured(h Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h()
}

// Counts returns the current length of each of the four sequences, for
// diagnostics and tests.
func (r *Registry) Counts() (preStartup, startup, preShutdown, shutdown int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.preStartup), len(r.startup), len(r.preShutdown), len(r.shutdown)
}
