// Command coordinator runs the PRSNL coordination service: a Temporal
// worker hosting the multi-agent orchestration workflows, the HTTP API for
// submitting and observing them, and the Redis pub/sub layer that keeps
// CLI and web sessions in sync.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/prsnl-dev/prsnl/go/coordinator/internal/activities"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/circuitbreaker"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/config"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/constants"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/coordination"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/db"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/health"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/httpapi"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/llm"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/registry"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/retry"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/server"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/state"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/temporal"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/tracing"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// The atomic level outlives this block: coordinator.yaml can flip
	// verbosity at runtime without a restart.
	logLevel := zap.NewAtomicLevelAt(parseLogLevel(cfg.LogLevel))
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = logLevel
	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting PRSNL coordinator",
		zap.String("environment", cfg.Environment),
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("metrics_port", cfg.MetricsPort),
	)

	circuitbreaker.StartMetricsCollection()

	ctx := context.Background()

	// Tunables: the generic file manager plus the typed overlay. Failure
	// here means running on defaults, not refusing to start.
	tunables := config.DefaultCoordinatorConfig()
	var configMgr *config.Manager
	var tunablesMgr *config.TunablesManager
	if mgr, err := config.NewManager(cfg.ConfigDir, logger); err != nil {
		logger.Warn("Config manager unavailable, running on default tunables", zap.Error(err))
	} else if err := mgr.Start(ctx); err != nil {
		logger.Warn("Config manager failed to start, running on default tunables", zap.Error(err))
	} else {
		configMgr = mgr
		tunablesMgr = config.NewTunablesManager(mgr, logger)
		// Registered before Initialize so a level in the initial load takes
		// effect too.
		tunablesMgr.OnChange(func(_, newCfg *config.CoordinatorConfig) error {
			lvl, perr := zapcore.ParseLevel(newCfg.Logging.Level)
			if perr != nil {
				return fmt.Errorf("log level %q: %w", newCfg.Logging.Level, perr)
			}
			if logLevel.Level() != lvl {
				logLevel.SetLevel(lvl)
				logger.Info("Log level updated", zap.String("level", newCfg.Logging.Level))
			}
			return nil
		})
		if err := tunablesMgr.Initialize(); err != nil {
			logger.Warn("Tunables file rejected, running on default tunables", zap.Error(err))
		}
		tunables = tunablesMgr.GetConfig()
	}

	tracingCfg := tracing.Config{
		Enabled:      tunables.Tracing.Enabled,
		ServiceName:  tunables.Tracing.ServiceName,
		OTLPEndpoint: tunables.Tracing.OTLPEndpoint,
	}
	if err := tracing.Initialize(tracingCfg, logger); err != nil {
		logger.Warn("Failed to initialize tracing", zap.Error(err))
	}

	// Health manager and HTTP server come up before any dependency dialing
	// so liveness answers while Temporal or Postgres are still starting.
	healthMgr := health.NewManagerWithConfig(&health.HealthConfiguration{
		Enabled:       tunables.Health.Enabled,
		CheckInterval: tunables.Health.CheckInterval,
		GlobalTimeout: tunables.Health.CheckTimeout,
	}, logger)
	if err := healthMgr.Start(ctx); err != nil {
		logger.Error("Failed to start health manager", zap.Error(err))
	}

	httpMux := http.NewServeMux()
	health.NewHTTPHandler(healthMgr, logger).RegisterRoutes(httpMux)

	readHeaderTimeout := tunables.Service.ReadHeaderTimeout
	if readHeaderTimeout <= 0 {
		readHeaderTimeout = 10 * time.Second
	}
	// No WriteTimeout: the event stream endpoints hold their connections
	// open indefinitely.
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	go func() {
		logger.Info("HTTP server listening", zap.Int("port", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Prometheus metrics on a dedicated port.
	go func() {
		m := http.NewServeMux()
		m.Handle("/metrics", promhttp.Handler())
		logger.Info("Metrics server listening", zap.Int("port", cfg.MetricsPort))
		if err := http.ListenAndServe(fmt.Sprintf(":%d", cfg.MetricsPort), m); err != nil {
			logger.Error("Metrics server error", zap.Error(err))
		}
	}()

	dbClient, err := db.NewClient(&db.Config{
		Host:            cfg.Postgres.Host,
		Port:            cfg.Postgres.Port,
		User:            cfg.Postgres.User,
		Password:        cfg.Postgres.Password,
		Database:        cfg.Postgres.Database,
		SSLMode:         cfg.Postgres.SSLMode,
		MaxConnections:  cfg.Postgres.MaxConnections,
		IdleConnections: cfg.Postgres.IdleConnections,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer dbClient.Close()
	if err := healthMgr.RegisterChecker(health.NewDatabaseHealthChecker(dbClient.Wrapper(), logger)); err != nil {
		logger.Error("Failed to register database health checker", zap.Error(err))
	}
	progressReader := db.NewProgressReader(sqlx.NewDb(dbClient.GetDB(), "postgres"), logger)

	stateMgr, err := state.NewManager(cfg.Redis.Addr(), logger)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer stateMgr.Wrapper().Close()
	if err := healthMgr.RegisterChecker(health.NewRedisHealthChecker(stateMgr.Wrapper(), logger)); err != nil {
		logger.Error("Failed to register redis health checker", zap.Error(err))
	}

	// The coordination service runs its own plain client: PSUBSCRIBE holds
	// a connection open, which the circuit-breaker wrapper cannot route.
	coordRdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer coordRdb.Close()
	coordSvc := coordination.NewService(coordRdb, stateMgr, logger)
	openCtx, openCancel := context.WithTimeout(ctx, 10*time.Second)
	err = coordSvc.Open(openCtx)
	openCancel()
	if err != nil {
		logger.Fatal("Failed to open coordination service", zap.Error(err))
	}
	defer coordSvc.Close()
	if err := healthMgr.RegisterChecker(health.NewCoordinationHealthChecker(coordSvc, logger)); err != nil {
		logger.Error("Failed to register coordination health checker", zap.Error(err))
	}

	// Periodic sweep for coordination keys orphaned by crashed writers.
	cleanupStop := make(chan struct{})
	go func() {
		interval := tunables.Coordination.CleanupInterval
		if interval <= 0 {
			interval = 10 * time.Minute
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				cctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				counts := coordSvc.CleanupExpiredData(cctx)
				cancel()
				total := 0
				for _, n := range counts {
					total += n
				}
				if total > 0 {
					logger.Info("Coordination cleanup removed orphaned keys",
						zap.Int("total", total),
						zap.Any("by_kind", counts))
				}
			case <-cleanupStop:
				return
			}
		}
	}()

	llmClient := llm.NewClient(llm.Config{
		BaseURL: cfg.LLM.BaseURL,
		Timeout: time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
	}, logger)
	if err := healthMgr.RegisterChecker(health.NewLLMServiceHealthChecker(llmClient, logger)); err != nil {
		logger.Error("Failed to register llm health checker", zap.Error(err))
	}

	retries, err := retry.NewManager(cfg.RetryPoliciesPath, logger)
	if err != nil {
		logger.Fatal("Failed to load retry policies", zap.Error(err))
	}

	// Block startup on Temporal: the worker and the workflow API are the
	// point of this process. Health keeps answering on the side.
	host := cfg.Temporal.Host
	for i := 1; i <= 60; i++ {
		c, err := net.DialTimeout("tcp", host, 2*time.Second)
		if err == nil {
			_ = c.Close()
			break
		}
		logger.Warn("Waiting for Temporal TCP endpoint", zap.String("host", host), zap.Int("attempt", i))
		time.Sleep(1 * time.Second)
	}
	var temporalClient client.Client
	for attempt := 1; ; attempt++ {
		temporalClient, err = client.Dial(client.Options{
			HostPort:  host,
			Namespace: cfg.Temporal.Namespace,
			Logger:    temporal.NewZapAdapter(logger),
		})
		if err == nil {
			break
		}
		delay := time.Duration(attempt)
		if delay > 15 {
			delay = 15
		}
		logger.Warn("Temporal not ready, retrying",
			zap.Int("attempt", attempt),
			zap.String("host", host),
			zap.Duration("sleep", delay*time.Second),
			zap.Error(err))
		time.Sleep(delay * time.Second)
	}
	defer temporalClient.Close()
	logger.Info("Connected to Temporal",
		zap.String("host", host),
		zap.String("namespace", cfg.Temporal.Namespace))
	if err := healthMgr.RegisterChecker(health.NewTemporalHealthChecker(temporalClient, logger)); err != nil {
		logger.Error("Failed to register temporal health checker", zap.Error(err))
	}

	coordRegistry := registry.NewCoordinatorRegistry(logger, llmClient, coordSvc, dbClient, retries)
	coordRegistry.SetSynthesisSettings(activities.SynthesisSettings{
		MaxTokens: tunables.Synthesis.MaxTokens,
	})

	wk := worker.New(temporalClient, constants.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     getEnvOrDefaultInt("WORKER_ACT", 10),
		MaxConcurrentWorkflowTaskExecutionSize: getEnvOrDefaultInt("WORKER_WF", 10),
	})
	if err := coordRegistry.RegisterWorkflows(wk); err != nil {
		logger.Fatal("Failed to register workflows", zap.Error(err))
	}
	if err := coordRegistry.RegisterActivities(wk); err != nil {
		logger.Fatal("Failed to register activities", zap.Error(err))
	}
	if err := wk.Start(); err != nil {
		logger.Fatal("Failed to start Temporal worker", zap.Error(err))
	}
	logger.Info("Temporal worker started", zap.String("queue", constants.TaskQueue))

	svc := server.NewCoordinatorService(temporalClient, dbClient, progressReader, coordSvc, logger)
	svc.SetOrchestrationLimits(
		tunables.Orchestration.DefaultMaxConcurrency,
		tunables.Orchestration.MaxConcurrencyLimit,
	)
	if tunablesMgr != nil {
		tunablesMgr.OnChange(func(_, newCfg *config.CoordinatorConfig) error {
			svc.SetOrchestrationLimits(
				newCfg.Orchestration.DefaultMaxConcurrency,
				newCfg.Orchestration.MaxConcurrencyLimit,
			)
			return nil
		})
	}

	// The mux has been serving health since startup; API routes join it
	// now that every dependency behind them is wired.
	httpapi.NewWorkflowHandler(svc, logger).RegisterRoutes(httpMux)
	httpapi.NewCoordinationHandler(svc, logger).RegisterRoutes(httpMux)
	httpapi.NewEventStreamHandler(svc, logger).RegisterRoutes(httpMux)
	logger.Info("Coordinator API registered", zap.Int("port", cfg.HTTPPort))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutting down coordinator service")

	wk.Stop()
	close(cleanupStop)

	grace := tunables.Service.GracefulTimeout
	if grace <= 0 {
		grace = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), grace)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	shutdownCancel()

	if err := healthMgr.Stop(); err != nil {
		logger.Error("Health manager stop failed", zap.Error(err))
	}
	if configMgr != nil {
		if err := configMgr.Stop(); err != nil {
			logger.Error("Config manager stop failed", zap.Error(err))
		}
	}
}

func parseLogLevel(level string) zapcore.Level {
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		return lvl
	}
	return zapcore.InfoLevel
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
