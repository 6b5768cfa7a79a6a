package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/soochol/nodeflow/internal/api"
	"github.com/soochol/nodeflow/internal/backend"
	"github.com/soochol/nodeflow/internal/catalog"
	"github.com/soochol/nodeflow/internal/db"
	"github.com/soochol/nodeflow/internal/engine"
	"github.com/soochol/nodeflow/internal/flow"
	"github.com/soochol/nodeflow/internal/repository"
	"github.com/soochol/nodeflow/internal/services"
)

var (
	serveSimulate bool
	servePort     int

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
)

func init() {
	serveCmd.Flags().BoolVar(&serveSimulate, "simulate", false, "execute against the built-in backend simulator")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "override server.port")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if servePort > 0 {
		cfg.Server.Port = servePort
	}
	setupLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat, err := loadCatalog(cfg.Catalog.Path)
	if err != nil {
		return err
	}

	var (
		workflowRepo repository.WorkflowRepository  = repository.NewMemory()
		historyRepo  repository.ExecutionRepository = repository.NewMemoryExecutionRepository()
		scheduleRepo repository.ScheduleRepository  = repository.NewMemoryScheduleRepository()
	)
	if cfg.Database.URL != "" {
		database, err := db.New(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer database.Close()
		if err := database.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		workflowRepo = repository.NewPersistent(repository.NewMemory(), database)
		historyRepo = repository.NewPersistentExecutionRepository(repository.NewMemoryExecutionRepository(), database)
		scheduleRepo = repository.NewPersistentScheduleRepository(ctx, repository.NewMemoryScheduleRepository(), database)
		slog.Info("using postgres storage")
	} else {
		slog.Info("using in-memory storage")
	}

	var (
		be  backend.Backend
		sim *backend.Simulator
	)
	if serveSimulate || cfg.Backend.Simulate {
		sim = backend.NewSimulator(cat)
		be = sim
		slog.Info("execution backend: simulator")
	} else {
		be = backend.NewClient(cfg.Backend.URL, cfg.Backend.Timeout, backend.WithToken(cfg.Backend.Token))
		slog.Info("execution backend", "url", cfg.Backend.URL)
	}

	bus := flow.NewEventBus()
	events := services.NewEventBuffer(cfg.Events.TTL)
	defer events.Stop()

	workflows := services.NewWorkflowService(workflowRepo, cat, bus)
	executions := services.NewExecutionService(services.ExecutionConfig{
		Workflows: workflows,
		Backend:   be,
		History:   historyRepo,
		Events:    events,
		Bus:       bus,
		Options: engine.Options{
			PollInterval: cfg.Execution.PollInterval,
			MaxInterval:  cfg.Execution.MaxPollInterval,
			MaxAttempts:  cfg.Execution.MaxAttempts,
		},
		GlobalMax: cfg.Execution.GlobalMax,
	})
	defer executions.Close()

	scheduler := services.NewSchedulerService(scheduleRepo, executions)
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	defer scheduler.Stop()

	srv := api.NewServer(workflows, executions)
	srv.SetSchedulerService(scheduler)
	if sim != nil {
		srv.Mount("/simulator", sim)
	}

	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting nodeflow server", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		slog.Info("shutting down")
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// loadCatalog returns the built-in catalog, extended by path when set.
func loadCatalog(path string) (*catalog.Registry, error) {
	cat := catalog.Default()
	if path == "" {
		return cat, nil
	}
	if err := cat.LoadFile(path); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	slog.Info("loaded node catalog", "path", path)
	return cat, nil
}
