package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ErlanBelekov/workflow-scheduler/config"
	"github.com/ErlanBelekov/workflow-scheduler/internal/catalog"
	"github.com/ErlanBelekov/workflow-scheduler/internal/coord"
	"github.com/ErlanBelekov/workflow-scheduler/internal/coord/memstore"
	"github.com/ErlanBelekov/workflow-scheduler/internal/execution"
	"github.com/ErlanBelekov/workflow-scheduler/internal/health"
	"github.com/ErlanBelekov/workflow-scheduler/internal/infrastructure/postgres"
	ctxlog "github.com/ErlanBelekov/workflow-scheduler/internal/log"
	"github.com/ErlanBelekov/workflow-scheduler/internal/metrics"
	"github.com/ErlanBelekov/workflow-scheduler/internal/mq"
	"github.com/ErlanBelekov/workflow-scheduler/internal/scheduler"
	"github.com/ErlanBelekov/workflow-scheduler/internal/state"
	httptransport "github.com/ErlanBelekov/workflow-scheduler/internal/transport/http"
	"github.com/ErlanBelekov/workflow-scheduler/internal/transport/http/handler"
	"github.com/ErlanBelekov/workflow-scheduler/internal/usecase"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// nodeStore is what both store drivers provide.
type nodeStore interface {
	coord.Store
	Ping(ctx context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel()).With("node_id", cfg.NodeID)

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, elector, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		stop()
		log.Fatalf("store: %v", err)
	}
	defer closeStore()

	logger.Info("coordination store connected", "driver", cfg.StoreDriver)

	metrics.Register()

	cache := state.NewCache(store, logger)
	executions := execution.NewStore(store, cfg.MaxPayloadBytes)

	var notifier scheduler.Notifier
	if cfg.AMQPURL != "" {
		conn, err := mq.NewConnection(cfg.AMQPURL, logger)
		if err != nil {
			stop()
			log.Fatalf("amqp: %v", err)
		}
		defer conn.Close()
		if err := mq.SetupTopology(ctx, conn); err != nil {
			stop()
			log.Fatalf("amqp topology: %v", err)
		}
		notifier = mq.NewPublisher(conn, cfg.NodeID, logger)
		logger.Info("amqp connected")
	}

	sched := scheduler.New(scheduler.Config{
		Elector:      elector,
		Cache:        cache,
		Executions:   executions,
		Notifier:     notifier,
		PollInterval: cfg.PollInterval,
		RequeueDelay: cfg.RequeueDelay,
		Logger:       logger,
	})

	checker := health.NewChecker(store, cache, sched, cfg.NodeID, logger, prometheus.DefaultRegisterer)
	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)

	repo := catalog.NewRepository(store)
	scheduleHandler := handler.NewScheduleHandler(usecase.NewScheduleUsecase(repo), cache, time.Now, logger)
	workflowHandler := handler.NewWorkflowHandler(usecase.NewWorkflowUsecase(repo), logger)
	leaderHandler := handler.NewLeaderHandler(cfg.NodeID, sched)

	adminSrv := &http.Server{
		Addr:    ":" + cfg.AdminPort,
		Handler: httptransport.NewRouter(logger, scheduleHandler, workflowHandler, leaderHandler, []byte(cfg.AdminJWTSecret)),
	}

	if err := sched.Start(); err != nil {
		stop()
		log.Fatalf("scheduler: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return cache.Run(gctx)
	})

	g.Go(func() error {
		logger.Info("admin server started", "port", cfg.AdminPort)
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		sched.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := adminSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("admin server shutdown", "error", err)
		}
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("scheduler exited", "error", err)
	}

	logger.Info("scheduler shut down")
}

// openStore connects the configured coordination store driver.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (nodeStore, coord.Elector, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		store := memstore.New(memstore.WithMaxPayload(cfg.MaxPayloadBytes))
		return store, store.NewSession(cfg.NodeID), func() {}, nil

	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.SchedulerPins)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		store := postgres.NewNodeStore(pool, logger, cfg.MaxPayloadBytes)
		elector := postgres.NewElector(pool, logger, cfg.RequeueDelay, cfg.SessionCheckInterval)
		return store, elector, pool.Close, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
