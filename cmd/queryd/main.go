// queryd is the agentic query orchestration daemon: it classifies prompts
// onto personas, dispatches them to a model execution backend and iterates
// on weak answers before returning them.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hydra-lab/queryd/internal/backend"
	"github.com/hydra-lab/queryd/internal/cache"
	"github.com/hydra-lab/queryd/internal/config"
	"github.com/hydra-lab/queryd/internal/events"
	"github.com/hydra-lab/queryd/internal/httpapi"
	"github.com/hydra-lab/queryd/internal/orchestrator"
	"github.com/hydra-lab/queryd/internal/personas"
	"github.com/hydra-lab/queryd/internal/quality"
)

func main() {
	configPath := flag.String("config", os.Getenv("QUERYD_CONFIG"), "path to queryd.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, err := cfg.Registry()
	if err != nil {
		logger.Fatal("load persona registry", zap.Error(err))
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	router := personas.NewRouter(registry, personas.NewMetrics(promReg), logger.Named("router"))
	evaluator := quality.NewEvaluator(cfg.Quality, logger.Named("quality"))
	bus := events.NewBus(1024)

	var store cache.Store
	if cfg.Cache.RedisAddr != "" {
		rds, err := cache.NewRedis(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword,
			cfg.Cache.TTL, logger.Named("cache"))
		if err != nil {
			logger.Fatal("redis unreachable", zap.String("addr", cfg.Cache.RedisAddr), zap.Error(err))
		}
		defer rds.Close()
		store = rds
		logger.Info("result cache backed by redis", zap.String("addr", cfg.Cache.RedisAddr))
	} else {
		mem := cache.NewMemory(cfg.Cache.TTL)
		defer mem.Close()
		store = mem
		logger.Info("result cache in memory", zap.Duration("ttl", cfg.Cache.TTL))
	}

	var invoker backend.Invoker = backend.NewHTTPInvoker(cfg.Backend.BaseURL, logger.Named("backend"))
	invoker = backend.NewRetryingInvoker(invoker, cfg.Backend.Retry, logger.Named("retry"))
	if cfg.Backend.RequestsPerSec > 0 {
		invoker = backend.NewThrottledInvoker(invoker, cfg.Backend.RequestsPerSec, cfg.Backend.Burst)
	}

	orch := orchestrator.New(cfg.Orchestrator, router, evaluator, invoker, store,
		nil, bus, orchestrator.NewMetrics(promReg), logger.Named("orchestrator"))
	defer orch.Close()

	if cfg.PersonaRegistry != "" {
		watcher, err := config.WatchRegistry(cfg.PersonaRegistry, router.SwapRegistry, logger.Named("watcher"))
		if err != nil {
			logger.Warn("persona registry watch unavailable", zap.Error(err))
		} else {
			defer watcher.Close()
		}
	}

	api := httpapi.NewServer(orch, bus, logger.Named("http"))
	mux := http.NewServeMux()
	api.RegisterRoutes(mux)

	apiServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		logger.Info("api listening", zap.String("addr", cfg.Server.Addr))
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("api server failed", zap.Error(err))
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: metricsMux}
	go func() {
		logger.Info("metrics listening", zap.String("addr", cfg.Server.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api shutdown incomplete", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics shutdown incomplete", zap.Error(err))
	}
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
