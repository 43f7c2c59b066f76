package action

import (
	"context"
	"fmt"
	"time"

	"github.com/lcx/hpxrt/components"
	"github.com/lcx/hpxrt/hook"
	"github.com/lcx/hpxrt/locality"
	"github.com/lcx/hpxrt/metrics"
	"github.com/lcx/hpxrt/rterrors"
	"github.com/lcx/hpxrt/shutdown"
	"github.com/lcx/hpxrt/termination"
)

// ID names one of the twelve operations the action surface exposes.
type ID uint8

const (
	LoadComponents ID = iota
	CallStartupFunctions
	CallShutdownFunctions
	Shutdown
	ShutdownAll
	Terminate
	TerminateAll
	GetConfig
	GarbageCollect
	CreatePerformanceCounter
	RemoveFromConnectionCache
	DijkstraTermination
)

func (id ID) String() string {
	switch id {
	case LoadComponents:
		return "load_components"
	case CallStartupFunctions:
		return "call_startup_functions"
	case CallShutdownFunctions:
		return "call_shutdown_functions"
	case Shutdown:
		return "shutdown"
	case ShutdownAll:
		return "shutdown_all"
	case Terminate:
		return "terminate"
	case TerminateAll:
		return "terminate_all"
	case GetConfig:
		return "get_config"
	case GarbageCollect:
		return "garbage_collect"
	case CreatePerformanceCounter:
		return "create_performance_counter"
	case RemoveFromConnectionCache:
		return "remove_from_connection_cache"
	case DijkstraTermination:
		return "dijkstra_termination"
	default:
		return "unknown"
	}
}

// ConfigSource backs get_config: a read-only view of the locality's
// currently effective configuration.
type ConfigSource interface {
	Lookup(name string) (any, error)
}

// ConnectionCache backs remove_from_connection_cache: eviction of a
// single GID's cached address, the per-key counterpart to the stop
// machine's EvictLocal.
type ConnectionCache interface {
	Remove(id locality.GID)
}

// GarbageCollector backs garbage_collect: AGAS's non-blocking
// garbage-collection scan.
type GarbageCollector interface {
	GarbageCollectNonBlocking()
}

// Surface wires every dependency an action handler touches into one
// dispatch point. Every field but self is optional: a locality that
// never built a piece (e.g. no orchestrator on a non-root locality)
// leaves the corresponding action refusing with ServiceUnavailable
// instead of panicking. Hooks, GC and Conns are the exceptions: when
// nil, the actions that use them do nothing and report success.
type Surface struct {
	Self locality.ID

	Registry     *components.Registry
	Hooks        *hook.Registry
	Runtime      hook.Runtime
	Ring         *termination.Ring
	Orchestrator *shutdown.Orchestrator
	Stop         *shutdown.StopMachine
	Metrics      *metrics.Registry
	Config       ConfigSource
	Conns        ConnectionCache
	GC           GarbageCollector
	Responder    shutdown.Responder
}

// Dispatch decodes args for the wire-facing actions and invokes the
// matching typed method. LoadComponents, GetConfig and
// CreatePerformanceCounter carry structured configuration rather than
// flat positional arguments and are invoked directly through their
// typed methods by the admin/config path instead of through Dispatch.
func (s *Surface) Dispatch(ctx context.Context, id ID, requester locality.GID, args []byte) ([]byte, error) {
	switch id {
	case CallStartupFunctions:
		pre, err := NewReader(args).Bool()
		if err != nil {
			return nil, err
		}
		return nil, s.CallStartupFunctions(pre)
	case CallShutdownFunctions:
		pre, err := NewReader(args).Bool()
		if err != nil {
			return nil, err
		}
		s.CallShutdownFunctions(pre)
		return nil, nil
	case Shutdown:
		r := NewReader(args)
		timeoutMs, err := r.Uint64()
		if err != nil {
			return nil, err
		}
		removeFromCaches, err := r.Bool()
		if err != nil {
			return nil, err
		}
		return nil, s.ShutdownLocal(ctx, time.Duration(timeoutMs)*time.Millisecond, requester, removeFromCaches)
	case ShutdownAll:
		timeoutMs, err := NewReader(args).Uint64()
		if err != nil {
			return nil, err
		}
		return nil, s.ShutdownAll(ctx, time.Duration(timeoutMs)*time.Millisecond)
	case Terminate:
		s.TerminateLocal(requester)
		return nil, nil
	case TerminateAll:
		return nil, s.TerminateAll(ctx)
	case GarbageCollect:
		s.GarbageCollect()
		return nil, nil
	case RemoveFromConnectionCache:
		idx, err := NewReader(args).Uint64()
		if err != nil {
			return nil, err
		}
		s.RemoveFromConnectionCache(locality.GID(idx))
		return nil, nil
	case DijkstraTermination:
		return nil, s.HandleToken(ctx, args)
	default:
		return nil, fmt.Errorf("action: %s is not invocable over the wire: %w", id, rterrors.ServiceUnavailable)
	}
}

// LoadComponents implements load_components: instantiate every
// configured instance this registry has not already brought up.
func (s *Surface) LoadComponents(cfg components.Config) error {
	if s.Registry == nil {
		return fmt.Errorf("action: no component registry configured: %w", rterrors.ServiceUnavailable)
	}
	return s.Registry.LoadComponents(cfg)
}

// CallStartupFunctions implements call_startup_functions: drain the
// pre_startup sequence (pre=true) or the startup sequence (pre=false).
// A hook failure aborts bootstrap and propagates.
func (s *Surface) CallStartupFunctions(pre bool) error {
	if s.Hooks == nil {
		return nil
	}
	return s.Hooks.CallStartupFunctions(pre, s.Runtime)
}

// CallShutdownFunctions implements call_shutdown_functions: drain the
// pre_shutdown sequence (pre=true) or the shutdown sequence (pre=false).
// Every hook's error is captured and reported, never propagated.
func (s *Surface) CallShutdownFunctions(pre bool) {
	if s.Hooks == nil {
		return
	}
	s.Hooks.CallShutdownFunctions(pre, s.Runtime)
}

// ShutdownLocal implements shutdown: begin this locality's local stop
// sequence, optionally replying to requester once this locality has
// unbound its own addresses.
func (s *Surface) ShutdownLocal(ctx context.Context, timeout time.Duration, requester locality.GID, removeFromRemoteCaches bool) error {
	if s.Stop == nil {
		return fmt.Errorf("action: no stop machine configured: %w", rterrors.ServiceUnavailable)
	}
	return s.Stop.Stop(ctx, timeout, requester, removeFromRemoteCaches)
}

// ShutdownAll implements shutdown_all: the root-only cluster-wide
// sequence. Idempotent across concurrent or repeated calls.
func (s *Surface) ShutdownAll(ctx context.Context, timeout time.Duration) error {
	if s.Orchestrator == nil {
		return fmt.Errorf("action: no orchestrator configured: %w", rterrors.ServiceUnavailable)
	}
	return s.Orchestrator.ShutdownAll(ctx, timeout)
}

// TerminateLocal implements terminate: abort this process immediately,
// optionally replying to requester first.
func (s *Surface) TerminateLocal(requester locality.GID) {
	shutdown.Terminate(requester, s.Responder)
}

// TerminateAll implements terminate_all: fire terminate at every peer
// without waiting, then terminate the root locality itself.
func (s *Surface) TerminateAll(ctx context.Context) error {
	if s.Orchestrator == nil {
		return fmt.Errorf("action: no orchestrator configured: %w", rterrors.ServiceUnavailable)
	}
	return s.Orchestrator.TerminateAll(ctx)
}

// GetConfig implements get_config: read back a named configuration
// section as this locality currently has it loaded.
func (s *Surface) GetConfig(name string) (any, error) {
	if s.Config == nil {
		return nil, fmt.Errorf("action: no config source configured: %w", rterrors.ServiceUnavailable)
	}
	return s.Config.Lookup(name)
}

// GarbageCollect implements garbage_collect: ask AGAS to reclaim dead
// GID mappings without blocking the caller.
func (s *Surface) GarbageCollect() {
	if s.GC != nil {
		s.GC.GarbageCollectNonBlocking()
	}
}

// CreatePerformanceCounter implements create_performance_counter.
func (s *Surface) CreatePerformanceCounter(name string, policy metrics.Policy, dims metrics.Dimension) (*metrics.Counter, error) {
	if s.Metrics == nil {
		return nil, fmt.Errorf("action: no metrics registry configured: %w", rterrors.ServiceUnavailable)
	}
	return s.Metrics.CreatePerformanceCounter(name, policy, dims)
}

// RemoveFromConnectionCache implements remove_from_connection_cache.
func (s *Surface) RemoveFromConnectionCache(id locality.GID) {
	if s.Conns != nil {
		s.Conns.Remove(id)
	}
}

// HandleToken implements dijkstra_termination: args is a three-field
// positional payload (initiator index, ring size, color) produced by
// the sending ring's own Writer.
func (s *Surface) HandleToken(ctx context.Context, args []byte) error {
	if s.Ring == nil {
		return fmt.Errorf("action: no termination ring configured: %w", rterrors.ServiceUnavailable)
	}
	r := NewReader(args)
	initiator, err := r.Uint64()
	if err != nil {
		return err
	}
	n, err := r.Uint64()
	if err != nil {
		return err
	}
	black, err := r.Bool()
	if err != nil {
		return err
	}
	color := termination.White
	if black {
		color = termination.Black
	}
	return s.Ring.HandleToken(ctx, termination.Token{InitiatorID: locality.ID(initiator), N: int(n), Color: color})
}

// EncodeToken renders a token the same way HandleToken expects to read
// it back, for use by a Sender implementation's wire path.
func EncodeToken(tok termination.Token) []byte {
	return NewWriter().Uint64(uint64(tok.InitiatorID)).Uint64(uint64(tok.N)).Bool(tok.Color == termination.Black).Bytes()
}
