// Package cli wires the server's cobra command tree.
package cli

import (
	"context"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"deepfall/server/internal/config"
	"deepfall/server/internal/dungeon"
	"deepfall/server/internal/events"
	"deepfall/server/internal/game"
	"deepfall/server/internal/logging"
	"deepfall/server/internal/metrics"
	"deepfall/server/internal/ops"
	"deepfall/server/internal/transport"
)

// shutdownGrace bounds how long the ops listener gets to drain on exit.
const shutdownGrace = 5 * time.Second

// NewRootCommand builds the deepfall-server command tree.
func NewRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "deepfall-server",
		Short:         "Authoritative multiplayer dungeon-crawler server",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML config file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the game server until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	root.AddCommand(serve)
	return root
}

// Execute runs the command tree.
func Execute() error {
	return NewRootCommand().Execute()
}

func runServe(parent context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		Path:       cfg.Logging.Path,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry)

	opsServer := ops.New(ops.Options{
		Addr:     cfg.OpsAddr,
		Gatherer: registry,
		Logger:   logger,
		Metrics:  m,
	})
	opsServer.Start()

	tr, err := transport.New(transport.Options{
		Addr:        cfg.ListenAddr,
		PeerTimeout: cfg.PeerTimeout,
		Logger:      logger,
		Metrics:     m,
	})
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	newRun := func() *game.Manager {
		dun := dungeon.Generate(cfg.DungeonWidth, cfg.DungeonHeight, rng)
		run := game.New(game.Options{
			Dungeon:      dun,
			MonsterCount: cfg.MonsterCount,
			TickInterval: cfg.TickInterval,
			Logger:       logger,
			Metrics:      m,
			Rand:         rng,
			Observer:     opsServer.Observe(),
		})
		opsServer.SetRunID(run.RunID())
		run.Start()
		return run
	}

	router := events.New(events.Options{
		Transport:      tr,
		NewRun:         newRun,
		Logger:         logger,
		ReconnectDelay: cfg.ReconnectDelay,
	})

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("server up",
		logging.String("listen_addr", cfg.ListenAddr),
		logging.String("ops_addr", cfg.OpsAddr),
		logging.Int("monsters", cfg.MonsterCount))
	router.Run(ctx)

	//1.- Interrupted: drain the ops plane, then drop the transport loops.
	shCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := opsServer.Shutdown(shCtx); err != nil {
		logger.Warn("ops shutdown incomplete", logging.Error(err))
	}
	tr.Close()
	logger.Info("server down")
	return nil
}
