// Command dnsweaverd is the DNS control-plane daemon: it owns the model
// store, projects it into the resolver's configuration, tracks forwarder
// health, syncs threat feeds, tails the query log and fans events out to
// subscribers.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"

	"github.com/dnsweaver/dnsweaver/internal/backup"
	"github.com/dnsweaver/dnsweaver/internal/config"
	"github.com/dnsweaver/dnsweaver/internal/events"
	"github.com/dnsweaver/dnsweaver/internal/feeds"
	"github.com/dnsweaver/dnsweaver/internal/health"
	"github.com/dnsweaver/dnsweaver/internal/ingest"
	"github.com/dnsweaver/dnsweaver/internal/model"
	"github.com/dnsweaver/dnsweaver/internal/projection"
	"github.com/dnsweaver/dnsweaver/internal/render"
	"github.com/dnsweaver/dnsweaver/internal/resolver"
	"github.com/dnsweaver/dnsweaver/internal/scheduler"
	"github.com/dnsweaver/dnsweaver/internal/store"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("daemon exited", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	cfg := config.FromEnv()

	if addr := os.Getenv("VAULT_ADDR"); addr != "" {
		sm, err := config.NewSecretManager(addr, os.Getenv("VAULT_TOKEN"))
		if err != nil {
			return err
		}
		secrets, err := sm.GetKV2(envOr("VAULT_SECRET_PATH", "secret/data/dnsweaver"))
		if err != nil {
			return err
		}
		cfg.ApplySecrets(secrets)
		logger.Info("vault secrets applied")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OTLPEndpoint != "" {
		shutdown, err := initTracer(ctx, cfg.OTLPEndpoint)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	// Store.
	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresURL)
	if err != nil {
		return err
	}
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	// Event bus, with the optional JetStream mirror.
	var mirror events.Mirror
	if cfg.NATSURL != "" {
		jsm, err := events.NewJetStreamMirror(cfg.NATSURL, logger.Named("nats"))
		if err != nil {
			return err
		}
		defer jsm.Close()
		mirror = jsm
	}

	// The store emits onto the bus and the bus persists through the store,
	// so the publisher side is wired up after both exist.
	pub := &busPublisher{}
	st := store.NewStore(pool, pub, logger.Named("store"))
	bus := events.NewBus(events.Config{
		QueueCapacity:       cfg.EventQueueCapacity,
		BatchMaxItems:       cfg.EventMaxBatchItems,
		BatchMaxBytes:       cfg.EventMaxBatchBytes,
		BatchTimeout:        cfg.EventBatchTimeout,
		CompressionMinBytes: cfg.EventCompressionMinBytes,
		DeliveryRetries:     cfg.EventDeliveryRetries,
		PersistDefault:      cfg.EventPersistDefault,
		RecoveryTimeout:     cfg.EventRecoveryTimeout,
	}, st, mirror, logger.Named("events"))
	defer bus.Close()
	pub.bus = bus

	if err := st.Migrate(ctx); err != nil {
		return err
	}

	// Projection pipeline.
	backups, err := backup.New(cfg.BackupRoot, cfg.BackupRetainPerType, cfg.BackupRetainDays,
		logger.Named("backup"))
	if err != nil {
		return err
	}
	rndc := resolver.NewRNDC(cfg.RNDCPath, cfg.CheckConfPath, logger.Named("resolver"))
	engine := projection.New(projection.Config{
		Root:           cfg.BindEtc,
		ConfPath:       cfg.BindEtc + "/named.conf",
		CommandTimeout: cfg.ResolverTimeout,
	}, modelStore{st}, backups, rndc, render.New(render.DefaultOptions()), bus, logger.Named("projection"))
	go engine.Run(ctx)

	// Health tracker.
	tracker := health.New(health.Config{
		ProbeTimeout: cfg.DNSProbeTimeout,
		SweepTimeout: cfg.DNSProbeTotalTimeout,
		Concurrency:  cfg.HealthWorkerCount,
	}, st, nil, bus, logger.Named("health"))

	// Threat feeds.
	feedSvc := feeds.NewService(st,
		feeds.NewFetcher(cfg.FeedFetchTimeout, 2*cfg.FeedFetchTimeout),
		engine, bus, logger.Named("feeds"))

	// Query-log ingestor.
	tail := ingest.New(ingest.Config{
		Path:          cfg.QueryLogPath,
		BatchSize:     cfg.LogFlushBatch,
		FlushInterval: cfg.LogFlushInterval,
		SampleEvery:   cfg.LogSampleN,
	}, st, bus, logger.Named("ingest"))
	go tail.Run(ctx)

	// Periodic maintenance.
	sched := scheduler.New(logger.Named("scheduler"), bus)
	tasks := []scheduler.Task{
		{Name: "health_probe_tick", Every: cfg.HealthProbeInterval, Run: tracker.Tick},
		{Name: "feed_refresh_tick", Every: cfg.FeedRefreshInterval, Run: feedSvc.RefreshDue},
		{Name: "backup_prune", Every: 24 * time.Hour, Run: func(context.Context) error {
			_, err := backups.Prune()
			return err
		}},
		{Name: "health_history_prune", Every: 24 * time.Hour, Run: func(ctx context.Context) error {
			horizon := time.Now().UTC().AddDate(0, 0, -cfg.HealthRetainDays)
			_, err := st.PruneForwarderHealth(ctx, horizon)
			return err
		}},
		{Name: "query_log_purge", Every: 24 * time.Hour, Run: func(ctx context.Context) error {
			horizon := time.Now().UTC().AddDate(0, 0, -cfg.LogRetainDays)
			_, err := st.PurgeQueryLogs(ctx, horizon)
			return err
		}},
	}
	for _, task := range tasks {
		if err := sched.Add(task); err != nil {
			return err
		}
	}
	sched.Start(ctx)
	defer sched.Stop()

	bus.Emit(model.Event{
		Type:     model.EventSystemStartup,
		Category: model.CategorySystem,
		Severity: model.SeverityInfo,
		Priority: model.PriorityNormal,
		Source:   "dnsweaverd",
		Persist:  true,
	})
	logger.Info("dnsweaverd up",
		zap.String("bind_etc", cfg.BindEtc),
		zap.Bool("nats_mirror", mirror != nil),
	)

	<-ctx.Done()
	logger.Info("shutting down")
	bus.Emit(model.Event{
		Type:     model.EventSystemShutdown,
		Category: model.CategorySystem,
		Severity: model.SeverityInfo,
		Priority: model.PriorityNormal,
		Source:   "dnsweaverd",
		Persist:  true,
	})
	return nil
}

func initTracer(ctx context.Context, endpoint string) (func(), error) {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("dnsweaverd")),
	)
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(ctx)
	}, nil
}

// modelStore narrows the store's change transaction to the engine's
// interface.
type modelStore struct {
	st *store.Store
}

func (m modelStore) Begin(ctx context.Context, cs model.ChangeSet) (projection.ModelTx, error) {
	tx, err := m.st.Begin(ctx, cs)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// busPublisher defers event delivery until the bus exists.
type busPublisher struct {
	bus *events.Bus
}

func (p *busPublisher) Emit(e model.Event) {
	if p.bus != nil {
		p.bus.Emit(e)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
