package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/FairForge/meridian/internal/api"
	"github.com/FairForge/meridian/internal/audit"
	"github.com/FairForge/meridian/internal/config"
	"github.com/FairForge/meridian/internal/dns"
	"github.com/FairForge/meridian/internal/failover"
	"github.com/FairForge/meridian/internal/logging"
	"github.com/FairForge/meridian/internal/metrics"
	"github.com/FairForge/meridian/internal/prober"
	"github.com/FairForge/meridian/internal/region"
	"github.com/FairForge/meridian/internal/scheduler"
	"github.com/FairForge/meridian/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load(os.Getenv("MERIDIAN_CONFIG"))
	if err != nil {
		panic(err)
	}

	logger, err := logging.New(cfg.Server.LogLevel, "")
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	var (
		st        region.Store
		auditSink failover.AuditSink
	)

	storeMode := config.GetEnvOrDefault("MERIDIAN_STORE_MODE", "postgres")
	switch storeMode {
	case "memory":
		// In-memory mode for local development; state is lost on restart.
		st = store.NewMemory()
		logger.Info("using in-memory store")

	case "postgres":
		pg, err := store.NewPostgres(cfg.Database)
		if err != nil {
			logger.Fatal("failed to open database", zap.Error(err))
		}
		defer func() { _ = pg.Close() }()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := pg.Ping(ctx); err != nil {
			cancel()
			logger.Fatal("database unreachable", zap.Error(err))
		}
		if err := pg.CreateTables(ctx); err != nil {
			cancel()
			logger.Fatal("failed to create tables", zap.Error(err))
		}
		cancel()
		st = pg
		logger.Info("using postgres store",
			zap.String("host", cfg.Database.Host),
			zap.String("database", cfg.Database.Database))

	default:
		logger.Fatal("invalid MERIDIAN_STORE_MODE", zap.String("mode", storeMode))
	}

	collector := metrics.NewCollector(prometheus.DefaultRegisterer)

	var vendor dns.VendorClient
	if base := os.Getenv("MERIDIAN_DNS_API_URL"); base != "" {
		vendor = dns.NewHTTPClient(base, os.Getenv("MERIDIAN_DNS_API_TOKEN"))
		logger.Info("using vendor dns api", zap.String("base_url", base))
	} else {
		vendor = dns.NewStaticClient()
		logger.Warn("MERIDIAN_DNS_API_URL not set, using static dns client")
	}
	traffic := dns.NewManager(vendor, cfg.DNS, logger)

	p := prober.New(st, cfg.Probe, collector, logger)
	defer p.Stop()

	if pg, ok := st.(*store.Postgres); ok {
		svc := audit.NewService(pg.DB())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := svc.CreateTable(ctx); err != nil {
			cancel()
			logger.Fatal("failed to create audit table", zap.Error(err))
		}
		cancel()
		auditSink = svc
	}

	orch := failover.New(st, traffic, p, auditSink, collector, cfg.Failover, logger)

	sched, err := scheduler.New(p, orch, st, scheduler.Config{
		ProbeSpec:   cfg.Scheduler.ProbeSpec,
		PromoteSpec: cfg.Scheduler.PromoteSpec,
	}, logger)
	if err != nil {
		logger.Fatal("failed to build scheduler", zap.Error(err))
	}
	sched.Start()
	defer sched.Stop()

	server := api.NewServer(cfg.Server.Port, orch, st, logger)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	if err := server.Start(); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
