package shutdown

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lcx/hpxrt/hook"
	"github.com/lcx/hpxrt/locality"
	"github.com/lcx/hpxrt/log"
	"github.com/lcx/hpxrt/metrics"
	"github.com/lcx/hpxrt/rterrors"
	"github.com/lcx/hpxrt/termination"
)

// AGASDirectory is the slice of AGAS the orchestrator needs to learn
// who else is in the cluster and to mark that a shutdown has begun.
type AGASDirectory interface {
	StartShutdown()
	GetLocalities() ([]locality.ID, error)
}

// Resumer wakes any worker threads parked indefinitely, so the
// termination rounds see their true activity level instead of a
// count depressed by tasks waiting on work that will never arrive
// once shutdown has been decided.
type Resumer interface {
	Resume()
}

// PeerDriver issues the two cluster-wide actions a root-only
// orchestrator sends to every other locality.
type PeerDriver interface {
	ShutdownAsync(ctx context.Context, id locality.ID, timeout time.Duration) error
	TerminateAsync(ctx context.Context, id locality.ID)
}

// Orchestrator runs the cluster-wide shutdown and terminate sequences.
// Only meaningful on locality.Root; every other locality only ever
// receives the per-locality Stop driven by StopMachine.
type Orchestrator struct {
	self ID

	invoked atomic.Bool

	ring  *termination.Ring
	hooks *hook.Registry
	rt    hook.Runtime
	agas  AGASDirectory
	tm    Resumer
	peers PeerDriver
	stop  *StopMachine

	counters *orchestratorCounters
}

// ID is a local alias so this file reads self-contained; it is the
// same type as locality.ID.
type ID = locality.ID

type orchestratorCounters struct {
	rounds  *metrics.Counter
	invokes *metrics.Counter
}

// NewOrchestrator wires together the pieces a root locality needs to
// drive a cluster-wide shutdown: its own termination ring, hook
// registry, AGAS directory, thread-manager resumer, a driver for
// issuing actions to peers, and its own local stop machine.
func NewOrchestrator(self ID, ring *termination.Ring, hooks *hook.Registry, rt hook.Runtime, agas AGASDirectory, tm Resumer, peers PeerDriver, stop *StopMachine, reg *metrics.Registry) *Orchestrator {
	o := &Orchestrator{self: self, ring: ring, hooks: hooks, rt: rt, agas: agas, tm: tm, peers: peers, stop: stop}
	if reg != nil {
		rounds, err := reg.CreatePerformanceCounter("shutdown.termination_rounds", metrics.PolicySum, nil)
		if err == nil {
			invokes, err := reg.CreatePerformanceCounter("shutdown.all_invocations", metrics.PolicySum, nil)
			if err == nil {
				o.counters = &orchestratorCounters{rounds: rounds, invokes: invokes}
			}
		}
	}
	return o
}

// ShutdownAll runs the cluster-wide sequence: mark shutdown started in
// AGAS, resume parked workers, run two termination-detection rounds
// around the pre_shutdown/shutdown hooks, tear every peer down in
// reverse registration order, and finally stop the root locality
// itself. The hooks run on the root locality only; this sequence does
// not invoke the shutdown hooks of any other locality. It is idempotent: a second
// concurrent or later call observes shutdown_all_invoked already set
// and returns immediately without error.
func (o *Orchestrator) ShutdownAll(ctx context.Context, timeout time.Duration) error {
	if o.self != locality.Root {
		return fmt.Errorf("shutdown: shutdown_all invoked on non-root locality %d: %w", o.self, rterrors.InvalidStatus)
	}
	if !o.invoked.CompareAndSwap(false, true) {
		log.Info().Msg("shutdown_all already invoked, ignoring duplicate")
		return nil
	}
	if o.counters != nil {
		o.counters.invokes.Record(1)
	}

	o.agas.StartShutdown()
	o.tm.Resume()

	localities, err := o.agas.GetLocalities()
	if err != nil {
		return fmt.Errorf("shutdown: enumerate localities: %w", err)
	}

	if _, err := o.ring.Detect(ctx); err != nil {
		return fmt.Errorf("shutdown: termination round 1: %w", err)
	}
	o.recordRound()

	o.hooks.CallShutdownFunctions(true, o.rt)
	o.hooks.CallShutdownFunctions(false, o.rt)

	if _, err := o.ring.Detect(ctx); err != nil {
		return fmt.Errorf("shutdown: termination round 2: %w", err)
	}
	o.recordRound()

	peers := reverseExcludingSelf(localities, o.self)
	if err := o.teardownPeers(ctx, peers, timeout); err != nil {
		return err
	}

	return o.stop.Stop(ctx, timeout, locality.InvalidGID, false)
}

func (o *Orchestrator) recordRound() {
	if o.counters != nil {
		o.counters.rounds.Record(1)
	}
}

// teardownPeers asks every non-root locality to stop, in reverse
// registration order, waiting for all to finish before returning.
func (o *Orchestrator) teardownPeers(ctx context.Context, peers []locality.ID, timeout time.Duration) error {
	var wg sync.WaitGroup
	errs := make([]error, len(peers))
	for i, id := range peers {
		wg.Add(1)
		go func(i int, id locality.ID) {
			defer wg.Done()
			errs[i] = o.peers.ShutdownAsync(ctx, id, timeout)
		}(i, id)
	}
	wg.Wait()

	for i, e := range errs {
		if e != nil {
			return fmt.Errorf("shutdown: peer %d teardown: %w", peers[i], e)
		}
	}
	return nil
}

// TerminateAll fires terminate at every other locality without
// waiting for a response, then terminates the root locality itself.
// Unlike ShutdownAll it performs no graceful draining: this is the
// abrupt, not-idempotent abort path.
func (o *Orchestrator) TerminateAll(ctx context.Context) error {
	if o.self != locality.Root {
		return fmt.Errorf("shutdown: terminate_all invoked on non-root locality %d: %w", o.self, rterrors.InvalidStatus)
	}

	localities, err := o.agas.GetLocalities()
	if err != nil {
		return fmt.Errorf("shutdown: enumerate localities: %w", err)
	}

	for _, id := range reverseExcludingSelf(localities, o.self) {
		o.peers.TerminateAsync(ctx, id)
	}

	Terminate(locality.InvalidGID, nil)
	return nil
}

// reverseExcludingSelf returns ids sorted descending, with self
// removed, implementing "reverse registration order" peer teardown.
func reverseExcludingSelf(ids []locality.ID, self locality.ID) []locality.ID {
	out := make([]locality.ID, 0, len(ids))
	for _, id := range ids {
		if id != self {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] > out[j] })
	return out
}
