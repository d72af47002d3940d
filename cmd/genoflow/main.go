// cmd/genoflow/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/fawad-mazhar/genoflow/internal/api/routes"
	"github.com/fawad-mazhar/genoflow/internal/config"
	"github.com/fawad-mazhar/genoflow/internal/controller"
	"github.com/fawad-mazhar/genoflow/internal/drm"
	"github.com/fawad-mazhar/genoflow/internal/events"
	"github.com/fawad-mazhar/genoflow/internal/graph"
	"github.com/fawad-mazhar/genoflow/internal/log"
	"github.com/fawad-mazhar/genoflow/internal/metrics"
	"github.com/fawad-mazhar/genoflow/internal/models"
	"github.com/fawad-mazhar/genoflow/internal/outputs"
	"github.com/fawad-mazhar/genoflow/internal/pipeline"
	"github.com/fawad-mazhar/genoflow/internal/rule"
	"github.com/fawad-mazhar/genoflow/internal/storage"
	"github.com/fawad-mazhar/genoflow/internal/storage/leveldb"
	"github.com/fawad-mazhar/genoflow/internal/storage/postgres"
)

// Exit codes
const (
	exitSucceeded = 0
	exitError     = 1
	exitFailed    = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	// Load configuration
	cfg, err := config.Load(getEnv("GENOFLOW_CONFIG", "config.yaml"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitError
	}

	logger, err := log.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		return exitError
	}
	logger = logger.WithName("genoflow")

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(log.NewContext(context.Background(), logger))
	defer cancel()

	registry, err := rule.NewRegistryFromDefinitions(cfg.Rules)
	if err != nil {
		logger.Error(err, "failed to load rules")
		return exitError
	}

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		logger.Error(err, "failed to open store", "driver", cfg.Storage.Driver)
		return exitError
	}
	defer store.Close()

	wf, g, err := loadWorkflow(ctx, cfg, store, registry)
	if err != nil {
		logger.Error(err, "failed to prepare workflow")
		return exitError
	}

	rm, err := drm.New(cfg.DRM, nil, logger)
	if err != nil {
		logger.Error(err, "failed to create resource manager client")
		return exitError
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := []controller.Option{
		controller.WithStore(store),
		controller.WithMetrics(metrics.New(reg)),
		controller.WithLogger(logger),
	}
	if cfg.NATS.URL != "" {
		publisher, err := events.NewNATS(cfg.NATS, logger)
		if err != nil {
			logger.Error(err, "failed to connect to NATS")
			return exitError
		}
		defer publisher.Close()
		opts = append(opts, controller.WithPublisher(publisher))
	}

	// commands run inside their task directory, so relative paths must not leak into them
	outputRoot, err := filepath.Abs(cfg.OutputRoot)
	if err != nil {
		logger.Error(err, "failed to resolve output root", "path", cfg.OutputRoot)
		return exitError
	}

	resolver := outputs.NewResolver(outputRoot)
	if err := pipeline.Check(g, resolver); err != nil {
		logger.Error(err, "workflow has commands that cannot be rendered")
		return exitError
	}

	ctrl := controller.New(cfg.Scheduler, wf, g, resolver, rm, opts...)
	reg.MustRegister(metrics.NewStateCollector(ctrl.Counts))

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      routes.SetupRouter(ctrl, reg),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}
	go func() {
		logger.Info("starting API server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(err, "API server stopped")
		}
	}()

	// The first signal aborts the workflow and drains in-flight attempts;
	// the second stops waiting for the drain.
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go handleSignals(ctx, sigChan, ctrl, cancel, logger)

	outcome, runErr := ctrl.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(err, "failed to shut down API server")
	}

	if runErr != nil {
		logger.Error(runErr, "workflow run ended with error")
	}
	if outcome == nil {
		return exitError
	}

	kv := []interface{}{"workflow", outcome.WorkflowID, "status", outcome.Status}
	for _, state := range []models.TaskState{models.TaskStateSucceeded, models.TaskStateExhausted} {
		kv = append(kv, string(state), outcome.Tasks[state])
	}
	logger.Info("workflow outcome", kv...)

	if !outcome.Succeeded() {
		return exitFailed
	}
	return exitSucceeded
}

func handleSignals(ctx context.Context, sigChan <-chan os.Signal, ctrl *controller.Controller, cancel context.CancelFunc, logger logr.Logger) {
	aborted := false
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigChan:
			if !aborted {
				logger.Info("received shutdown signal, aborting workflow", "signal", sig.String())
				aborted = true
				ctrl.Abort()
				continue
			}
			logger.Info("received second signal, abandoning drain", "signal", sig.String())
			cancel()
			return
		}
	}
}

func openStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Driver {
	case config.StoragePostgres:
		db, err := postgres.NewClient(cfg.Postgres)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	case config.StorageLevelDB:
		return leveldb.NewClient(cfg.LevelDB)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// loadWorkflow restores the workflow named by cfg.Resume, or builds a new
// one from the pipeline definition
func loadWorkflow(ctx context.Context, cfg *config.Config, store storage.Store, registry *rule.Registry) (*models.Workflow, *graph.Graph, error) {
	logger := log.FromContextOrDiscard(ctx)

	if cfg.Resume != "" {
		rec, err := store.LoadWorkflow(ctx, cfg.Resume)
		if err != nil {
			return nil, nil, err
		}
		g, err := graph.Restore(rec.Tasks, registry)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to restore workflow %s: %w", cfg.Resume, err)
		}
		logger.Info("resuming workflow", "workflow", rec.Workflow.ID, "name", rec.Workflow.Name, "tasks", g.Len())
		return &rec.Workflow, g, nil
	}

	g, err := pipeline.Build(cfg.Pipeline, registry)
	if err != nil {
		return nil, nil, err
	}
	wf := models.NewWorkflow(cfg.Pipeline.Name)
	logger.Info("built workflow", "workflow", wf.ID, "name", wf.Name, "tasks", g.Len(), "stages", len(g.Stages()))
	return wf, g, nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
