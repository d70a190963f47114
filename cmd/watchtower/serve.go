// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianWatch/pkg/logging"
	"github.com/AleutianAI/AleutianWatch/services/advisor"
	"github.com/AleutianAI/AleutianWatch/services/engine"
	"github.com/AleutianAI/AleutianWatch/services/engine/config"
	"github.com/AleutianAI/AleutianWatch/services/engine/routes"
)

var (
	flagPort      string
	flagConfig    string
	flagDataDir   string
	flagSimulator bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the decision and allocation engine",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagPort, "port", "", "listen port (default WATCHTOWER_PORT or 8000)")
	serveCmd.Flags().StringVar(&flagConfig, "config", "watchtower.yaml", "path to the engine config file")
	serveCmd.Flags().StringVar(&flagDataDir, "data-dir", "", "directory for the feedback store (default WATCHTOWER_DATA_DIR or ./data)")
	serveCmd.Flags().BoolVar(&flagSimulator, "simulator", false, "feed the allocation loop a synthetic demand signal")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := logging.New(logging.Config{
		Level:   logging.LevelFromEnv(),
		Service: "watchtower",
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	cfgFile, err := config.Load(flagConfig)
	if err != nil {
		return err
	}

	port := firstNonEmpty(flagPort, cfgFile.Server.Port, os.Getenv("WATCHTOWER_PORT"), "8000")
	dataDir := firstNonEmpty(flagDataDir, cfgFile.Storage.FeedbackPath, os.Getenv("WATCHTOWER_DATA_DIR"), "./data")
	simulator := flagSimulator || cfgFile.Server.SimulatorMode

	cleanupTracer, err := initTracer()
	if err != nil {
		return err
	}
	defer cleanupTracer(context.Background())

	feedback, err := engine.OpenFeedbackStore(dataDir, logger.Slog())
	if err != nil {
		return err
	}
	defer feedback.Close()

	adv := advisor.FromEnv()
	eng := engine.New(engine.Options{
		Policy:        cfgFile.ApplyPolicy(engine.DefaultPolicy()),
		Context:       cfgFile.ContextConfig(),
		Advisor:       adv,
		Feedback:      feedback,
		SimulatorMode: simulator,
	})

	router := gin.Default()
	if tracingEnabled() {
		router.Use(otelgin.Middleware("watchtower"))
	}
	routes.SetupRoutes(router, eng, adv)

	srv := &http.Server{Addr: ":" + port, Handler: router}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(ctx) })
	g.Go(func() error {
		slog.Info("Starting the watchtower server", "port", port, "simulator", simulator)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		// Config file edits hot-reload the evaluation context.
		watcher, err := config.NewWatcher(flagConfig, func(f *config.File) {
			eng.ContextStore().Put(f.ContextConfig())
		})
		if err != nil {
			slog.Warn("config watcher unavailable", "error", err)
			return nil
		}
		if err := watcher.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("config watcher stopped", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("watchtower exited with error: %v", err)
		return err
	}
	slog.Info("watchtower shut down cleanly")
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
