// Package server wires every component of a locality together: the
// module registry, hook registry, termination ring, AGAS client, local
// stop machine and, on the root locality, the cluster-wide shutdown
// orchestrator. It is the composition root cmd/localityd builds against.
package server

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/lcx/hpxrt/action"
	"github.com/lcx/hpxrt/agas"
	"github.com/lcx/hpxrt/components"
	"github.com/lcx/hpxrt/config"
	"github.com/lcx/hpxrt/hook"
	"github.com/lcx/hpxrt/locality"
	"github.com/lcx/hpxrt/log"
	"github.com/lcx/hpxrt/metrics"
	"github.com/lcx/hpxrt/quiescence"
	"github.com/lcx/hpxrt/rterrors"
	"github.com/lcx/hpxrt/shutdown"
	"github.com/lcx/hpxrt/termination"
	"github.com/lcx/hpxrt/threadmgr"
)

// Config is the top-level server.yaml section naming this locality's
// identity and the size of the fixed cluster it belongs to.
type Config struct {
	LocalityIndex uint32 `mapstructure:"locality_index"`
	ClusterSize   int    `mapstructure:"cluster_size"`
	Generation    uint16 `mapstructure:"generation"`
	ListenAddr    string `mapstructure:"listen_addr"`
	Workers       int    `mapstructure:"workers"`
	DynamicDir    string `mapstructure:"dynamic_component_dir"`
}

func (c *Config) GetName() string { return "server" }

func (c *Config) Validate() error {
	if c.ClusterSize <= 0 {
		return fmt.Errorf("server: cluster_size must be positive")
	}
	if int(c.LocalityIndex) >= c.ClusterSize {
		return fmt.Errorf("server: locality_index %d out of range for cluster_size %d", c.LocalityIndex, c.ClusterSize)
	}
	return nil
}

// PeerTransport is the slice of the action surface a Server needs to
// reach another locality: fire a token at a predecessor, or drive a
// peer through shutdown/terminate. A real deployment implements this
// atop the parcel transport; tests substitute an in-process fake.
type PeerTransport interface {
	termination.Sender
	shutdown.PeerDriver
}

// Server is one locality's complete runtime-support process state.
type Server struct {
	cfg  *Config
	self locality.ID

	state hook.Phase
	errs  []error

	ThreadManager *threadmgr.Manager
	Hooks         *hook.Registry
	Components    *components.Registry
	Ring          *termination.Ring
	AGAS          *agas.Client
	Metrics       *metrics.Registry
	Stop          *shutdown.StopMachine
	Orchestrator  *shutdown.Orchestrator
	Action        *action.Surface
}

// New builds a Server from its already-validated configuration and the
// peer transport it should drive the ring and the orchestrator through.
func New(cfg *Config, agasCfg *agas.Config, peers PeerTransport, flags *pflag.FlagSet) (*Server, error) {
	self := locality.ID(cfg.LocalityIndex)

	agasClient, err := agas.New(agasCfg, self, cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("server: agas client: %w", err)
	}

	tm := threadmgr.NewManager(cfg.Workers)
	hooks := hook.NewRegistry()
	metricsReg := metrics.NewRegistry()

	s := &Server{
		cfg:           cfg,
		self:          self,
		state:         hook.PhasePreStartup,
		ThreadManager: tm,
		Hooks:         hooks,
		AGAS:          agasClient,
		Metrics:       metricsReg,
	}

	s.Ring = termination.NewRing(self, cfg.ClusterSize, peers, agasClient, noopParcels{}, tm)
	s.Stop = shutdown.NewStopMachine(self, cfg.Generation, tm, agasClient, agasClient, nil)
	s.Components = components.NewRegistry(hooks, flags, cfg.DynamicDir)

	if self == locality.Root {
		s.Orchestrator = shutdown.NewOrchestrator(self, s.Ring, hooks, s, agasClient, tm, peers, s.Stop, metricsReg)
	}

	s.Action = &action.Surface{
		Self:         self,
		Registry:     s.Components,
		Hooks:        hooks,
		Runtime:      s,
		Ring:         s.Ring,
		Orchestrator: s.Orchestrator,
		Stop:         s.Stop,
		Metrics:      metricsReg,
		Config:       configSource{cm: config.GetInstance()},
		Conns:        agasClient,
		GC:           agasClient,
	}

	return s, nil
}

// configSource adapts the process-wide config manager to
// action.ConfigSource, backing get_config.
type configSource struct{ cm config.ConfigManager }

func (c configSource) Lookup(name string) (any, error) {
	return c.cm.GetConfig(name)
}

// SetState implements hook.Runtime: record the lifecycle phase the
// hook registry is currently draining.
func (s *Server) SetState(phase hook.Phase) {
	log.Info().Str("phase", phase.String()).Uint32("locality", uint32(s.self)).Msg("locality entering phase")
	s.state = phase
}

// ReportError implements hook.Runtime: capture a shutdown-phase hook
// error for later inspection instead of letting it vanish.
func (s *Server) ReportError(err error) {
	s.errs = append(s.errs, err)
}

// Errors returns every error reported by a shutdown hook so far.
func (s *Server) Errors() []error { return s.errs }

// State returns the current lifecycle phase.
func (s *Server) State() hook.Phase { return s.state }

// Bootstrap runs load_components followed by the pre_startup and
// startup hook sequences. A failure at any step aborts the rest and is
// returned, matching the rule that startup failures abort bootstrap.
func (s *Server) Bootstrap(cfg components.Config) error {
	if err := s.Components.LoadComponents(cfg); err != nil {
		return fmt.Errorf("server: load_components: %w", err)
	}
	if err := s.Hooks.CallStartupFunctions(true, s); err != nil {
		return fmt.Errorf("server: pre_startup: %w", err)
	}
	if err := s.Hooks.CallStartupFunctions(false, s); err != nil {
		return fmt.Errorf("server: startup: %w", err)
	}
	return nil
}

// Run blocks until this locality's stop machine reaches halted, driven
// either by an incoming shutdown action or by NotifyWaitingMain.
func (s *Server) Run() {
	s.Stop.Run()
	s.Stop.Wait()
}

// Quiescent reports whether this locality currently has no foreground
// work beyond the caller itself.
func (s *Server) Quiescent() bool {
	return quiescence.Quiescent(s.ThreadManager)
}

// LoadCompleteConfig decodes the locality's server.yaml section through
// the process-wide config manager, the first step any cmd entrypoint
// takes before calling New.
func LoadCompleteConfig(cm config.ConfigManager) (*Config, error) {
	cfg := &Config{Workers: 0, Generation: 0}
	if err := cm.LoadConfig("server", cfg); err != nil {
		return nil, fmt.Errorf("server: load server config: %w", err)
	}
	return cfg, nil
}

// RequireRoot returns rterrors.InvalidStatus wrapped with context when
// called on a non-root locality, the guard every root-only action uses.
func (s *Server) RequireRoot() error {
	if s.self != locality.Root {
		return fmt.Errorf("server: locality %d is not root: %w", s.self, rterrors.InvalidStatus)
	}
	return nil
}

// noopParcels satisfies termination.ParcelHandler for localities that
// have no in-flight RPC layer to flush, e.g. in tests.
type noopParcels struct{}

func (noopParcels) FlushParcels() {}
