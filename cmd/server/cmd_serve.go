package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"gas-monitor/internal/api"
	"gas-monitor/internal/services"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the prediction loop headless with the HTTP control API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger := loadConfig()
	if cmd.Flags().Changed("auto-start") {
		cfg.AutoStart, _ = cmd.Flags().GetBool("auto-start")
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.HTTPAddr = addr
	}

	logger.Info("Starting gas monitor...")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	loop, err := a.buildLoop(ctx, services.NewLogPresenter(logger))
	if err != nil {
		return err
	}
	a.start(ctx)

	var srv *http.Server
	if cfg.HTTPAddr != "" {
		h := api.NewHandlers(ctx, loop, a.manual, logger)
		if a.mqttClient != nil {
			h.AddCheck("mqtt", a.mqttClient.IsConnected)
		}
		router := api.NewRouter(h, a.registry)
		srv = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           handlers.LoggingHandler(os.Stdout, router),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.WithField("addr", cfg.HTTPAddr).Info("HTTP API listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("HTTP server failed")
				cancel()
			}
		}()
	}

	if cfg.AutoStart {
		loop.Start(ctx)
	}

	logger.WithFields(logrus.Fields{
		"feed":       cfg.FeedSource,
		"store":      cfg.StoreBackend,
		"auto_start": cfg.AutoStart,
	}).Info("=== Gas monitor is running ===")

	// === Wait for interrupt signal ===
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, stopping services...")
	case <-ctx.Done():
	}

	loop.Stop()
	loop.Wait()

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("HTTP server shutdown")
		}
	}

	// Cancel context to stop workers; they flush their queues before returning
	cancel()
	a.wait()

	logger.Info("Shutdown complete. Goodbye!")
	return nil
}
