package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aristath/amassd/internal/api"
	"github.com/aristath/amassd/internal/config"
	"github.com/aristath/amassd/internal/events"
	"github.com/aristath/amassd/internal/orchestrator"
	"github.com/aristath/amassd/internal/persistence"
	"github.com/aristath/amassd/internal/persistence/mongodb"
	"github.com/aristath/amassd/internal/queue"
	"github.com/aristath/amassd/internal/runner"
	"github.com/aristath/amassd/internal/worker"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// app is the wired server: everything serve starts and stops.
type app struct {
	store   persistence.Store
	procs   *runner.ProcessManager
	amass   *runner.Amass
	bus     *events.EventBus
	worker  *worker.Worker
	svc     *orchestrator.Service
	handler http.Handler
}

// newApp opens the store and builds the service graph. Nothing runs
// until svc.Start.
func newApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*app, error) {
	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	procs := runner.NewProcessManager()
	amass, err := runner.NewAmass(runner.Config{
		Binary:        cfg.Runner.Binary,
		OutputDir:     cfg.Runner.OutputDir,
		ExtraArgs:     cfg.Runner.ExtraArgs,
		KeepArtifacts: cfg.Runner.KeepArtifacts,
	}, procs, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to set up runner: %w", err)
	}

	bus := events.NewEventBus()
	q := queue.New()
	exec := worker.NewExecutor(store, amass, bus, logger)
	w := worker.New(q, exec, time.Duration(cfg.Worker.PollIntervalMS)*time.Millisecond, logger)

	svc := orchestrator.New(orchestrator.Deps{
		Store:    store,
		Queue:    q,
		Executor: exec,
		Worker:   w,
		Bus:      bus,
		Logger:   logger,
	})

	if logger.IsLevelEnabled(logrus.DebugLevel) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := api.SetupRoutes(api.NewHandlers(svc, logger), logger)

	return &app{
		store:   store,
		procs:   procs,
		amass:   amass,
		bus:     bus,
		worker:  w,
		svc:     svc,
		handler: handler,
	}, nil
}

// Close releases the bus and the store.
func (a *app) Close() error {
	a.bus.Close()
	return a.store.Close()
}

func openStore(ctx context.Context, cfg config.StoreConfig) (persistence.Store, error) {
	switch cfg.Driver {
	case "mongodb":
		store, err := mongodb.New(mongodb.Config{
			URL:                    cfg.MongoDB.URL,
			Database:               cfg.MongoDB.Database,
			ServerSelectionTimeout: cfg.MongoDB.ServerSelectionTimeout,
			MaxPoolSize:            cfg.MongoDB.MaxPoolSize,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open mongodb store: %w", err)
		}
		return store, nil
	default:
		store, err := persistence.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return store, nil
	}
}
