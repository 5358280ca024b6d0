package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ratecache/config"
	"ratecache/httpapi"
	"ratecache/logger"
	"ratecache/plugin"
	"ratecache/sampler"
	"ratecache/storage"
)

const shutdownTimeout = 10 * time.Second

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start samplers and serve metrics until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("setting up logger: %w", err)
			}
			defer logger.Flush(log.Logger)
			log.Infow("config loaded",
				"plugins", len(cfg.Plugins),
				"listen", cfg.Listen,
				"history", cfg.DBPath != "")
			return run(cmd.Context(), cfg, log.Logger)
		},
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	var (
		db       *storage.SQLite
		recorder *storage.Recorder
		history  storage.Store
	)
	if cfg.DBPath != "" {
		var err error
		if db, err = storage.NewSQLite(cfg.DBPath, log); err != nil {
			return err
		}
		defer db.Close()
		recorder = storage.NewRecorder(db, 0, log)
		history = db
	}

	reg := plugin.NewRegistry(log)
	for _, pc := range cfg.Plugins {
		var hook func(*sampler.Snapshot)
		if recorder != nil {
			hook = recorder.Hook(pc.Name)
		}
		p, err := plugin.New(pc, log, hook)
		if err != nil {
			return err
		}
		if err := reg.Register(p); err != nil {
			return err
		}
	}

	var srv *httpapi.Server
	if cfg.Listen != "" {
		srv = httpapi.New(cfg.Listen, reg, history, log)
		if err := srv.Start(); err != nil {
			return err
		}
	}

	reg.Start(ctx)
	log.Info("ratecache started", zap.Int("plugins", len(cfg.Plugins)))

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if srv != nil {
		errs = append(errs, srv.Stop(shutdownCtx))
	}
	errs = append(errs, reg.Stop(shutdownCtx))
	if recorder != nil {
		errs = append(errs, recorder.Close(shutdownCtx))
	}
	return errors.Join(errs...)
}
