// Command localityd runs one locality's runtime-support server: it
// loads configuration, brings up every configured component, drains
// the startup hook sequence, and then blocks until a shutdown or
// terminate action on its action surface releases it.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/lcx/hpxrt/agas"
	"github.com/lcx/hpxrt/components"
	"github.com/lcx/hpxrt/config"
	"github.com/lcx/hpxrt/locality"
	"github.com/lcx/hpxrt/log"
	"github.com/lcx/hpxrt/rterrors"
	"github.com/lcx/hpxrt/server"
	"github.com/lcx/hpxrt/termination"
)

func main() {
	flags := pflag.NewFlagSet("localityd", pflag.ExitOnError)
	configPath := flags.String("config", "./configs", "directory containing server.yaml, agas.yaml, components.yaml and logger.yaml")
	_ = flags.Parse(os.Args[1:])

	if err := log.Initialize(); err != nil {
		os.Exit(1)
	}

	cm := config.GetInstance()
	cm.SetBasePath(*configPath)

	cfg, err := server.LoadCompleteConfig(cm)
	if err != nil {
		log.Fatal().Err(err).Msg("load server config")
	}

	agasCfg := &agas.Config{}
	if err := cm.LoadConfig("agas", agasCfg); err != nil {
		log.Fatal().Err(err).Msg("load agas config")
	}

	srv, err := server.New(cfg, agasCfg, noTransport{}, flags)
	if err != nil {
		log.Fatal().Err(err).Msg("build server")
	}

	var compCfg components.Config
	if err := cm.LoadConfig("components", &compCfg); err != nil {
		log.Warn().Err(err).Msg("no components configured")
	}

	if err := srv.Bootstrap(compCfg); err != nil {
		log.Fatal().Err(err).Msg("bootstrap failed")
	}

	log.Info().Msg("locality running")
	srv.Run()
	log.Info().Msg("locality halted")
}

// noTransport is the placeholder peer transport wired in until a real
// deployment supplies one atop the parcel layer; every call reports
// itself as unavailable instead of silently doing nothing.
type noTransport struct{}

func (noTransport) SendToken(ctx context.Context, to locality.ID, tok termination.Token) error {
	return fmt.Errorf("localityd: no peer transport configured: %w", rterrors.ServiceUnavailable)
}

func (noTransport) ShutdownAsync(ctx context.Context, id locality.ID, timeout time.Duration) error {
	return fmt.Errorf("localityd: no peer transport configured: %w", rterrors.ServiceUnavailable)
}

func (noTransport) TerminateAsync(ctx context.Context, id locality.ID) {}
