package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/trybeacon/bridge/internal/bridge"
	"github.com/trybeacon/bridge/internal/host"
	"github.com/trybeacon/bridge/internal/hostloop"
	"github.com/trybeacon/bridge/internal/logging"
	"github.com/trybeacon/bridge/internal/metrics"
)

func newServeCmd() *cobra.Command {
	var (
		s         settings
		noBackend bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a standalone host with the bridge attached",
		Long: `Run a standalone host with the bridge attached until SIGINT or SIGTERM.

The standalone host serves the directory given by --server-root: worlds are
the subdirectories holding a level.dat, and the file manager is rooted there.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runServe(ctx, &s, noBackend, cmd.ErrOrStderr())
		},
	}
	s.bind(cmd)
	cmd.Flags().BoolVar(&noBackend, "no-backend", false, "Do not stage or spawn the embedded backend")
	return cmd
}

func runServe(ctx context.Context, s *settings, noBackend bool, stderr io.Writer) error {
	layout, err := s.layout()
	if err != nil {
		return err
	}
	cfg, cfgPath, err := s.load(layout)
	if err != nil {
		return err
	}
	if noBackend {
		cfg.Backend.Embedded = false
	}

	log, err := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File, Console: stderr})
	if err != nil {
		return err
	}
	defer log.Close()

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	loop := hostloop.New(hostloop.TickInterval, log.Logger)
	h := host.NewStandalone(host.StandaloneOptions{
		Layout:  layout,
		Version: Version,
		Loop:    loop,
		Logger:  log.Logger,
		OnStop:  stop,
	})

	b, err := bridge.New(bridge.Options{
		Config:     cfg,
		ConfigPath: cfgPath,
		Host:       h,
		Loop:       loop,
		Logger:     log.Logger,
		Stream:     log.Stream,
		Level:      &log.Level,
		Metrics:    metrics.Default(),
		Version:    Version,
	})
	if err != nil {
		return err
	}
	if err := b.Enable(ctx); err != nil {
		log.Error("bridge failed to start", zap.Error(err))
		return fmt.Errorf("enable bridge: %w", err)
	}
	defer b.Disable()

	log.Info("standalone host running",
		zap.String("server_root", layout.ServerRoot),
		zap.String("data_dir", layout.DataDir),
		zap.String("config", cfgPath))

	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("shutting down")
	return nil
}
