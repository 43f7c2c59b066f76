// Package shutdown implements the local stop state machine (run on
// every locality) and the cluster-wide shutdown orchestrator (run only
// on the root locality).
package shutdown

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/lcx/hpxrt/locality"
	"github.com/lcx/hpxrt/log"
	"github.com/lcx/hpxrt/quiescence"
	"github.com/lcx/hpxrt/rterrors"
)

// State names a position in the local stop machine.
type State int

const (
	StateRunning State = iota
	StateArmed
	StateStopping
	StateHalted
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateArmed:
		return "armed"
	case StateStopping:
		return "stopping"
	case StateHalted:
		return "halted"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ThreadManager is the slice of the thread manager the stop machine
// drives directly: everything quiescence.Quiescent needs, plus the
// ability to coerce parked tasks out and to learn when the pool has
// fully drained.
type ThreadManager interface {
	quiescence.ThreadManager
	AbortAllSuspendedThreads() int
	Wait()
}

// AGASUnbinder is the slice of AGAS the stop machine touches when
// tearing this locality down.
type AGASUnbinder interface {
	UnbindLocal(id locality.GID) error
	UnregisterLocality(gid locality.GID) error
}

// ConnectionCacheEvictor removes this locality's address from every
// peer's connection cache, an optional step of a clean stop taken after
// this locality's own addresses are unbound.
type ConnectionCacheEvictor interface {
	EvictLocal(self locality.ID)
}

// Responder sends a synchronous reply to the locality that asked this
// one to stop, before the address space it lives in is torn down.
type Responder interface {
	RespondSync(ctx context.Context, to locality.GID) error
}

// coercePollInterval bounds how often AbortAllSuspendedThreads is
// retried once the initial drain budget has been exhausted.
const coercePollInterval = 50 * time.Millisecond

// StopMachine drives one locality through running -> armed -> stopping
// -> halted -> terminated. Run resets it for a fresh cycle; Stop and
// NotifyWaitingMain are the two ways stopping begins.
type StopMachine struct {
	mu    sync.Mutex
	state State

	stopCalled bool
	stopDone   bool
	terminated bool

	waitCond *sync.Cond
	termCond *sync.Cond

	self      locality.ID
	serverGID locality.GID
	memoryGID locality.GID

	tm        ThreadManager
	agas      AGASUnbinder
	conns     ConnectionCacheEvictor
	responder Responder
}

// NewStopMachine builds a stop machine for self, with the GIDs of its
// two always-present components (its own runtime-support server and
// its memory component) ready to unbind on stop.
func NewStopMachine(self locality.ID, generation uint16, tm ThreadManager, agas AGASUnbinder, conns ConnectionCacheEvictor, responder Responder) *StopMachine {
	m := &StopMachine{
		state:     StateRunning,
		self:      self,
		serverGID: self.RuntimeSupportGID(generation),
		memoryGID: self.MemoryGID(generation),
		tm:        tm,
		agas:      agas,
		conns:     conns,
		responder: responder,
	}
	m.waitCond = sync.NewCond(&m.mu)
	m.termCond = sync.NewCond(&m.mu)
	return m
}

// Run (re)arms the machine for a fresh running cycle, clearing every
// flag left over from a previous stop so the same process can be
// reused across repeated test or supervisor restarts.
func (m *StopMachine) Run() {
	m.mu.Lock()
	m.stopCalled = false
	m.stopDone = false
	m.terminated = false
	m.state = StateArmed
	m.mu.Unlock()
}

// State returns the machine's current state, for diagnostics.
func (m *StopMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stop begins the local stop sequence: idempotent on repeated calls
// via the stop_called flag. timeout bounds how long the initial drain
// waits before the machine switches to forcibly coercing suspended
// tasks out; timeout < 0 means wait forever without coercion.
// respondTo, if not locality.InvalidGID, is told synchronously once
// the locality has unbound its own addresses. removeFromRemoteCaches
// asks every peer to forget this locality's address on the way out.
func (m *StopMachine) Stop(ctx context.Context, timeout time.Duration, respondTo locality.GID, removeFromRemoteCaches bool) error {
	m.mu.Lock()
	if m.stopCalled {
		m.mu.Unlock()
		return nil
	}
	m.stopCalled = true
	m.state = StateStopping
	m.mu.Unlock()

	log.Info().Uint32("locality", uint32(m.self)).Dur("timeout", timeout).Msg("local stop beginning")

	m.drain(ctx, timeout)

	if err := m.agas.UnbindLocal(m.serverGID); err != nil {
		log.Warn().Err(err).Msg("stop: unbind server gid failed")
	}
	if err := m.agas.UnbindLocal(m.memoryGID); err != nil {
		log.Warn().Err(err).Msg("stop: unbind memory gid failed")
	}

	if removeFromRemoteCaches && m.conns != nil {
		m.conns.EvictLocal(m.self)
	}

	if !respondTo.IsInvalid() && m.responder != nil {
		if err := m.responder.RespondSync(ctx, respondTo); err != nil {
			log.Warn().Err(err).Str("respond_to", respondTo.String()).Msg("stop: synchronous reply failed")
		}
	}

	if err := m.agas.UnregisterLocality(m.serverGID); err != nil {
		log.Warn().Err(err).Msg("stop: unregister locality failed")
	}

	m.mu.Lock()
	m.stopDone = true
	m.state = StateHalted
	m.waitCond.Broadcast()
	m.mu.Unlock()

	go m.awaitTermination()

	return nil
}

// drain waits for the thread manager to reach quiescence, switching to
// a rate-limited coercion loop once the initial budget (if any) runs out.
func (m *StopMachine) drain(ctx context.Context, timeout time.Duration) {
	if timeout < 0 {
		quiescence.WaitUntilQuiescent(ctx, m.tm)
		return
	}

	if !quiescence.WaitUntilQuiescentDeadline(ctx, m.tm, timeout) {
		return
	}

	log.Warn().Uint32("locality", uint32(m.self)).Msg("stop: drain timed out, coercing suspended tasks")

	limiter := rate.NewLimiter(rate.Every(coercePollInterval), 1)
	deadline := time.Now().Add(timeout)
	for {
		if quiescence.Quiescent(m.tm) {
			return
		}
		if time.Now().After(deadline) {
			log.Error().Uint32("locality", uint32(m.self)).Msg("stop: coercion budget exhausted, proceeding with non-housekeeping tasks still live")
			return
		}
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		m.tm.AbortAllSuspendedThreads()
	}
}

// awaitTermination waits for the thread pool to drain completely and
// then advances the machine to terminated, waking WaitTerminated.
func (m *StopMachine) awaitTermination() {
	m.tm.Wait()
	m.mu.Lock()
	m.terminated = true
	m.state = StateTerminated
	m.termCond.Broadcast()
	m.mu.Unlock()
}

// NotifyWaitingMain is the escape hatch a signal handler or an
// out-of-band admin action uses to release a thread blocked in Wait
// without running the stop sequence's side effects.
func (m *StopMachine) NotifyWaitingMain() {
	m.mu.Lock()
	m.stopCalled = true
	m.stopDone = true
	m.waitCond.Broadcast()
	m.mu.Unlock()
}

// Wait blocks until stop_done is set, by either Stop completing its
// side effects or NotifyWaitingMain firing.
func (m *StopMachine) Wait() {
	m.mu.Lock()
	for !m.stopDone {
		m.waitCond.Wait()
	}
	m.mu.Unlock()
}

// WaitTerminated blocks until the thread pool has fully drained after
// a completed Stop. It never returns if stop was instead released via
// NotifyWaitingMain.
func (m *StopMachine) WaitTerminated() {
	m.mu.Lock()
	for !m.terminated {
		m.termCond.Wait()
	}
	m.mu.Unlock()
}

// StopCalled reports whether Stop (or NotifyWaitingMain) has already
// run once, for callers that want the idempotency check without
// invoking Stop itself.
func (m *StopMachine) StopCalled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCalled
}

// requireArmedOrRunning refuses, with InvalidStatus, to operate on a
// locality that has already begun stopping. Nothing in the repository
// calls it.
func (m *StopMachine) requireArmedOrRunning() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateStopping || m.state == StateHalted || m.state == StateTerminated {
		return fmt.Errorf("stop: locality %d is %s: %w", m.self, m.state, rterrors.InvalidStatus)
	}
	return nil
}
