package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"meridian/internal/authz"
	"meridian/internal/checkpoint"
	checkpointhandler "meridian/internal/checkpoint/handler"
	checkpointmetrics "meridian/internal/checkpoint/metrics"
	checkpointstore "meridian/internal/checkpoint/store"
	dividendhandler "meridian/internal/dividend/handler"
	dividendmetrics "meridian/internal/dividend/metrics"
	dividendservice "meridian/internal/dividend/service"
	dividendstore "meridian/internal/dividend/store"
	"meridian/internal/dividend/store/claims"
	"meridian/internal/funds"
	"meridian/internal/investor"
	investorstore "meridian/internal/investor/store"
	"meridian/internal/ledger"
	ledgerstore "meridian/internal/ledger/store"
	"meridian/internal/platform/config"
	"meridian/internal/platform/httpserver"
	"meridian/internal/platform/logger"
	"meridian/internal/platform/metrics"
	platformpg "meridian/internal/platform/postgres"
	platformredis "meridian/internal/platform/redis"
	httptransport "meridian/internal/transport/http"
	"meridian/internal/withholding"
	withholdingstore "meridian/internal/withholding/store"
	"meridian/pkg/platform/audit"
	auditkafka "meridian/pkg/platform/audit/kafka"
	auditmemory "meridian/pkg/platform/audit/store/memory"
	auditpg "meridian/pkg/platform/audit/store/postgres"
	auditworker "meridian/pkg/platform/audit/worker"
)

const jwtIssuer = "meridian"

// main wires the stores, services, and transport, then runs the HTTP server
// and the audit stream worker until a shutdown signal.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	// Stores: Postgres when a DSN is configured, in-memory otherwise.
	var (
		checkpointStore  checkpoint.Store          = checkpointstore.NewMemory()
		investorRegistry investor.Registry         = investorstore.NewMemory()
		dividendStore    dividendservice.Store     = dividendstore.NewMemory()
		claimStore       dividendservice.ClaimStore = claims.NewMemory()
		withholdingStore withholding.Store         = withholdingstore.NewMemory()
		auditStore       audit.Store               = auditmemory.NewInMemoryStore()
	)

	if cfg.PostgresDSN != "" {
		db, err := platformpg.Open(cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := platformpg.EnsureSchema(ctx, db); err != nil {
			return err
		}
		checkpointStore = checkpointstore.NewPostgres(db)
		investorRegistry = investorstore.NewPostgres(db)
		dividendStore = dividendstore.NewPostgres(db)
		claimStore = claims.NewPostgres(db)
		withholdingStore = withholdingstore.NewPostgres(db)
		auditStore = auditpg.New(db)
		log.Info("postgres stores enabled")
	}

	if cfg.RedisURL != "" {
		redisClient, err := platformredis.New(cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		claimStore = claims.NewRedis(redisClient.Client)
		log.Info("redis claim store enabled")
	}

	// Audit pipeline: synchronous store write, async Kafka stream.
	var auditOpts []audit.Option
	stream := make(chan audit.Event, 1024)
	var sink *auditkafka.Sink
	if len(cfg.KafkaBrokers) > 0 {
		var err error
		sink, err = auditkafka.NewSink(ctx, auditkafka.Config{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.AuditTopic,
		})
		if err != nil {
			return err
		}
		defer sink.Close()
		auditOpts = append(auditOpts, audit.WithStream(stream))
		log.Info("kafka audit stream enabled", "topic", cfg.AuditTopic)
	}
	publisher := audit.NewPublisher(auditStore, auditOpts...)

	// Services.
	jwtAuth := authz.NewJWTAuthorizer(cfg.JWTSigningKey, jwtIssuer)
	platformMetrics := metrics.New()

	ledgerStore := ledgerstore.NewMemory()
	checkpointService := checkpoint.New(checkpointStore, ledgerStore, authz.FromContext{},
		checkpoint.WithLogger(log),
		checkpoint.WithAuditPublisher(publisher),
		checkpoint.WithMetrics(checkpointmetrics.New()),
	)
	ledgerService := ledger.New(ledgerStore, ledger.AllowAllGate{}, checkpointService, investorRegistry,
		ledger.WithLogger(log),
	)
	withholdingService := withholding.New(withholdingStore, authz.FromContext{},
		withholding.WithLogger(log),
		withholding.WithAuditPublisher(publisher),
	)
	pool := funds.NewMemoryPool()
	dividendService := dividendservice.New(dividendStore, claimStore, checkpointService, withholdingService, pool, investorRegistry, authz.FromContext{},
		dividendservice.WithLogger(log),
		dividendservice.WithAuditPublisher(publisher),
		dividendservice.WithMetrics(dividendmetrics.New()),
		dividendservice.WithExclusionLimit(cfg.ExclusionLimit),
	)

	// Transport.
	transportHandler := httptransport.NewHandler(withholdingService, ledgerService, jwtAuth, log)
	router := httptransport.NewRouter(transportHandler, platformMetrics,
		checkpointhandler.New(checkpointService, jwtAuth, log),
		dividendhandler.New(dividendService, jwtAuth, log),
	)
	srv := httpserver.New(cfg.Addr, router)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("starting meridian", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if sink != nil {
		worker := auditworker.New(sink, stream, log)
		group.Go(func() error {
			if err := worker.Run(ctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return group.Wait()
}
