package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/complyforge/complyforge/internal/app/commands"
	"github.com/complyforge/complyforge/internal/app/orchestration"
	"github.com/complyforge/complyforge/internal/config"
	"github.com/complyforge/complyforge/internal/domain/analysis"
	"github.com/complyforge/complyforge/internal/infra/eventbus"
	"github.com/complyforge/complyforge/internal/infra/storage/analysis/memory"
	"github.com/complyforge/complyforge/internal/infra/storage/analysis/postgres"
	"github.com/complyforge/complyforge/internal/infra/transport"
	"github.com/complyforge/complyforge/pkg/common"
	"github.com/complyforge/complyforge/pkg/common/logger"
	"github.com/complyforge/complyforge/pkg/common/otel"
)

const serviceType = "orchestrator"

func main() {
	_, _ = maxprocs.Set()

	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		stdlog.Fatalf("orchestrator: %v", err)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("getting hostname: %w", err)
	}

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}
			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n", r.Message, errorAttrsJSON)
		},
	}
	traceIDFn := func(ctx context.Context) string { return otel.GetTraceID(ctx) }

	svcName := fmt.Sprintf("%s-%s", cfg.Service.Name, hostname)
	log := logger.NewWithMetadata(os.Stdout, logLevel(cfg.Service.LogLevel), svcName, traceIDFn, logEvents, map[string]string{
		"service":  svcName,
		"hostname": hostname,
		"app":      serviceType,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tp, telemetryTeardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      svcName,
		ExporterEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ExcludedRoutes: map[string]struct{}{
			"/v1/health":    {},
			"/v1/readiness": {},
		},
		Probability:      samplingProbability(),
		InsecureExporter: true,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer telemetryTeardown(context.Background())
	tracer := tp.Tracer(serviceType)

	ready := new(atomic.Bool)
	healthServer := common.NewHealthServer(healthAddr(), ready)
	defer func() {
		if err := healthServer.Server().Shutdown(context.Background()); err != nil {
			log.Error(ctx, "Error shutting down health server", "error", err)
		}
	}()

	var (
		runs analysis.RunRepository
		jobs analysis.JobRepository
	)
	switch cfg.Storage.Kind {
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.Storage.DSN)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer pool.Close()
		runs = postgres.NewRunStore(pool, tracer)
		jobs = postgres.NewJobStore(pool, tracer)
	case "memory":
		runs = memory.NewRunStore()
		jobs = memory.NewJobStore()
	default:
		return fmt.Errorf("unknown storage kind %q", cfg.Storage.Kind)
	}

	metrics, err := orchestration.NewOrchestrationMetrics(otel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("creating metrics collector: %w", err)
	}

	bus, err := transport.NewEventBusWithRetry(ctx, transport.FromAppConfig(cfg.Transport, svcName), metrics, log, tracer)
	if err != nil {
		return fmt.Errorf("connecting event bus: %w", err)
	}
	defer func() {
		if err := bus.Close(); err != nil {
			log.Error(ctx, "Failed to close event bus", "error", err)
		}
	}()

	dispatcher := commands.NewDispatcher(log, tracer)
	orchestrator := orchestration.NewOrchestrator(
		runs,
		jobs,
		analysis.MustStageGraph(analysis.DefaultStageRules()),
		eventbus.NewDomainEventPublisher(bus),
		dispatcher,
		metrics,
		log,
		tracer,
	)
	if err := orchestrator.RegisterHandlers(ctx); err != nil {
		return fmt.Errorf("registering handlers: %w", err)
	}

	router := orchestration.NewEventRouter(bus, orchestrator, log, tracer)
	if err := router.Start(ctx); err != nil {
		return fmt.Errorf("starting event router: %w", err)
	}

	monitor := orchestration.NewStaleJobMonitor(
		jobs,
		orchestrator,
		log,
		tracer,
		orchestration.WithSweepInterval(cfg.Monitor.SweepInterval),
		orchestration.WithJobTTL(cfg.Monitor.JobTTL),
	)

	log.Info(ctx, "Orchestrator initialized", "transport", cfg.Transport.Kind, "storage", cfg.Storage.Kind)
	ready.Store(true)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return monitor.Run(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info(context.Background(), "Orchestrator shut down")
	return nil
}

func logLevel(level string) logger.Level {
	switch level {
	case "debug":
		return logger.LevelDebug
	case "warn":
		return logger.LevelWarn
	case "error":
		return logger.LevelError
	default:
		return logger.LevelInfo
	}
}

func samplingProbability() float64 {
	if v := os.Getenv("OTEL_SAMPLING_RATIO"); v != "" {
		if p, err := strconv.ParseFloat(v, 64); err == nil {
			return p
		}
	}
	return 1.0
}

func healthAddr() string {
	if addr := os.Getenv("HEALTH_ADDR"); addr != "" {
		return addr
	}
	return ":8081"
}
