package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/davidleathers/dnc-guard/internal/api/rest"
	"github.com/davidleathers/dnc-guard/internal/domain/dnc"
	"github.com/davidleathers/dnc-guard/internal/infrastructure/cache"
	"github.com/davidleathers/dnc-guard/internal/infrastructure/channels"
	"github.com/davidleathers/dnc-guard/internal/infrastructure/config"
	"github.com/davidleathers/dnc-guard/internal/infrastructure/database"
	"github.com/davidleathers/dnc-guard/internal/infrastructure/memstore"
	"github.com/davidleathers/dnc-guard/internal/infrastructure/telemetry"
	"github.com/davidleathers/dnc-guard/internal/metrics"
	dncsvc "github.com/davidleathers/dnc-guard/internal/service/dnc"
	"github.com/davidleathers/dnc-guard/internal/service/enforcement"
)

func main() {
	configPath := flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	migrate := flag.Bool("migrate", false, "Apply database migrations before serving")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, err := telemetry.SetupLogger(cfg.LogLevel)
	if err != nil {
		slog.Error("failed to setup logger", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if err := run(ctx, cfg, logger, *migrate); err != nil {
		slog.Error("application failed", "error", err)
		os.Exit(1)
	}
}

// stores groups the repositories selected by database.driver.
type stores struct {
	entries   dnc.EntryRepository
	overrides dnc.OverrideRepository
	policy    dnc.PolicyRepository
	customers dnc.CustomerDirectory
	clients   dnc.ClientDirectory
	ping      rest.HealthCheck
	close     func()
}

func openStores(ctx context.Context, cfg *config.Config, zlog *zap.Logger, migrate bool) (*stores, error) {
	if cfg.Database.Driver == "memory" {
		zlog.Warn("using in-memory store, data is lost on restart")
		mem := memstore.New()
		return &stores{
			entries:   mem.Entries(),
			overrides: mem.Overrides(),
			policy:    mem.Policy(),
			customers: mem.Customers(),
			clients:   mem.Clients(),
			close:     func() {},
		}, nil
	}

	if migrate {
		if err := database.MigrateUp(cfg.Database.URL); err != nil {
			return nil, err
		}
		zlog.Info("database migrations applied")
	}

	pool, err := database.NewPool(ctx, cfg.Database, zlog)
	if err != nil {
		return nil, err
	}
	directory := database.NewDirectory(pool)
	return &stores{
		entries:   database.NewRegistryRepository(pool),
		overrides: database.NewOverrideRepository(pool),
		policy:    database.NewPolicyRepository(pool),
		customers: directory,
		clients:   directory,
		ping:      pool.Ping,
		close:     pool.Close,
	}, nil
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, migrate bool) error {
	logger.Info("starting dnc-guard",
		"version", cfg.Version,
		"environment", cfg.Environment,
		"port", cfg.Server.Port)

	zlog, err := telemetry.NewZapLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return fmt.Errorf("failed to create zap logger: %w", err)
	}
	defer func() { _ = zlog.Sync() }()

	provider, err := telemetry.InitializeOpenTelemetry(ctx, &telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Insecure:       cfg.Telemetry.Insecure,
		Enabled:        cfg.Telemetry.Enabled,
		SamplingRate:   cfg.Telemetry.SamplingRatio,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown telemetry", "error", err)
		}
	}()

	st, err := openStores(ctx, cfg, zlog, migrate)
	if err != nil {
		return err
	}
	defer st.close()

	healthChecks := map[string]rest.HealthCheck{}
	if st.ping != nil {
		healthChecks["database"] = st.ping
	}

	var (
		policyCache dncsvc.PolicyCache
		locker      dncsvc.Locker
	)
	if cfg.Redis.Enabled() {
		client, err := cache.NewRedisClient(ctx, cfg.Redis, zlog)
		if err != nil {
			return err
		}
		defer client.Close()

		pc, err := cache.NewPolicyCache(client, zlog, cfg.Redis.PolicyTTL)
		if err != nil {
			return err
		}
		policyCache = pc
		locker = cache.NewLocker(client)
		healthChecks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	clock := dnc.RealClock{}

	policy, err := dncsvc.NewPolicyService(zlog, st.policy, policyCache, clock)
	if err != nil {
		return err
	}
	registry, err := dncsvc.NewRegistry(zlog, dncsvc.RegistryConfig{
		AssignFallbackClient: cfg.Registry.AssignFallbackClient,
	}, st.entries, st.customers, st.clients, clock, m)
	if err != nil {
		return err
	}
	overrides, err := dncsvc.NewOverrideService(zlog, st.entries, st.overrides, policy, clock, m)
	if err != nil {
		return err
	}
	engine, err := dncsvc.NewEngine(zlog, policy, registry, overrides, m)
	if err != nil {
		return err
	}

	interceptor, err := enforcement.NewInterceptor(engine, zlog, enforcement.Config{
		FailClosed:     cfg.Enforcement.FailClosed,
		BypassKeywords: cfg.Enforcement.BypassKeywords,
	}, m)
	if err != nil {
		return err
	}
	senders, err := channels.Build(ctx, cfg.Channels, zlog)
	if err != nil {
		return err
	}
	dispatcher, err := enforcement.NewDispatcher(interceptor, senders)
	if err != nil {
		return err
	}

	var contract *rest.ContractValidator
	if cfg.Server.ValidateContract {
		if contract, err = rest.NewContractValidator(); err != nil {
			return err
		}
	}

	handler, err := rest.NewRouter(rest.Dependencies{
		Policy:         policy,
		Registry:       registry,
		Overrides:      overrides,
		Engine:         engine,
		Dispatcher:     dispatcher,
		Auth:           rest.NewAuthMiddleware(cfg.Auth.JWTSecret, cfg.Auth.Issuer, logger),
		Metrics:        m,
		Gatherer:       prometheus.DefaultGatherer,
		Logger:         logger,
		EvaluateRPS:    cfg.Server.EvaluateRPS,
		EvaluateBurst:  cfg.Server.EvaluateBurst,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		HealthChecks:   healthChecks,
		Contract:       contract,
	})
	if err != nil {
		return err
	}

	sweeper := dncsvc.NewSweeper(registry, locker, zlog, cfg.Registry.SweepInterval)
	server := rest.NewServer(cfg.Server, handler, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sweeper.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return server.Run(gctx)
	})
	return g.Wait()
}
