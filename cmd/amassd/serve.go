package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/amassd/internal/events"
	"github.com/aristath/amassd/internal/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the worker (default)",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, closeLog, err := logging.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()

	// Create signal-aware context for graceful shutdown
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if path, err := a.amass.LookPath(); err != nil {
		logger.WithError(err).Warn("amass binary not found, tasks will fail until it is installed")
	} else {
		logger.WithField("binary", path).Debug("amass binary found")
	}

	logCtx, stopLog := context.WithCancel(context.Background())
	defer stopLog()
	go events.LogEvents(logCtx, a.bus.SubscribeAll(256), logger)

	// The worker outlives the signal so queued work can drain during the grace period.
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()

	report, err := a.svc.Start(workerCtx)
	if err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"store":       cfg.Store.Driver,
		"interrupted": report.Interrupted,
		"requeued":    report.Requeued,
	}).Info("service started")

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithField("addr", srv.Addr).Info("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		// Restore default signal handling (double Ctrl+C = force exit)
		stop()
		logger.Info("shutdown signal received, cleaning up")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("server forced to shutdown")
		}

		grace := time.Duration(cfg.Shutdown.GracePeriodMS) * time.Millisecond
		graceCtx, cancelGrace := context.WithTimeout(context.Background(), grace)
		defer cancelGrace()

		if err := a.svc.Stop(graceCtx); err != nil {
			logger.WithError(err).WithField("grace_period", grace.String()).
				Warn("grace period exceeded, killing running tool")
			stopWorker()
			if err := a.procs.KillAll(); err != nil {
				logger.WithError(err).Error("failed to kill subprocesses")
			}
			waitWorker(a, 5*time.Second, logger)
		}

		logger.Info("shutdown complete")
		return nil
	})

	return g.Wait()
}

// waitWorker gives a killed task time to record its failure.
func waitWorker(a *app, timeout time.Duration, logger logrus.FieldLogger) {
	select {
	case <-a.worker.Done():
	case <-time.After(timeout):
		logger.Warn("worker did not exit after kill")
	}
}
