// Command server runs the anchoring and claim-redemption engine. main
// wires dependencies and the process lifecycle; all business logic lives
// in the internal services.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	anchorhandler "attestor/internal/anchor/handler"
	anchormetrics "attestor/internal/anchor/metrics"
	anchorservice "attestor/internal/anchor/service"
	batchstore "attestor/internal/anchor/store"
	"attestor/internal/anchor/submitter"
	anchorworker "attestor/internal/anchor/worker"
	claimhandler "attestor/internal/claim/handler"
	claimmetrics "attestor/internal/claim/metrics"
	"attestor/internal/claim/queue"
	claimservice "attestor/internal/claim/service"
	claimstore "attestor/internal/claim/store"
	"attestor/internal/claim/workers/cleanup"
	credstore "attestor/internal/credential/store"
	"attestor/internal/events"
	"attestor/internal/platform/config"
	"attestor/internal/platform/database"
	"attestor/internal/platform/health"
	"attestor/internal/platform/kafka/producer"
	"attestor/internal/platform/logger"
	platformredis "attestor/internal/platform/redis"
	httptransport "attestor/internal/transport/http"
	verifyhandler "attestor/internal/verify/handler"
	verifymetrics "attestor/internal/verify/metrics"
	verifyservice "attestor/internal/verify/service"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	log.Info("initializing attestor",
		"addr", cfg.Addr,
		"environment", cfg.Environment,
	)

	pool, err := database.New(cfg.Database)
	if err != nil {
		log.Error("database init failed", "error", err)
		os.Exit(1)
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis init failed", "error", err)
		os.Exit(1)
	}

	// Stores fall back to in-memory when a backend is not configured, so a
	// single binary serves development and tests unchanged.
	var (
		creds   credstore.Store
		batches batchstore.Store
		tickets claimstore.Store
	)
	if pool != nil {
		creds = credstore.NewPostgres(pool.DB())
		batches = batchstore.NewPostgres(pool.DB())
		tickets = claimstore.NewPostgres(pool.DB())
	} else {
		log.Warn("no database configured, using in-memory stores")
		creds = credstore.NewMemory()
		batches = batchstore.NewMemory()
		tickets = claimstore.NewMemory()
	}

	var staging queue.Queue
	if redisClient != nil {
		staging = queue.NewRedis(redisClient.Client)
	} else {
		log.Warn("no redis configured, using in-memory claim queue")
		staging = queue.NewMemory()
	}

	var kafkaProducer *producer.Producer
	publisher := events.NewPublisher(nil, log)
	if cfg.Kafka.Brokers != "" {
		kafkaProducer, err = producer.New(cfg.Kafka, log)
		if err != nil {
			log.Error("kafka init failed", "error", err)
			os.Exit(1)
		}
		defer kafkaProducer.Close()
		publisher = events.NewPublisher(kafkaProducer, log)
	}

	ethSubmitter, err := submitter.New(cfg.Ledger, log)
	if err != nil {
		log.Error("submitter init failed", "error", err)
		os.Exit(1)
	}
	defer ethSubmitter.Close()

	anchorMetrics := anchormetrics.New()
	claimMetrics := claimmetrics.New()
	verifyMetrics := verifymetrics.New()

	submitWorker, err := anchorworker.New(ethSubmitter, log,
		anchorworker.WithAttempts(cfg.Ledger.SubmitAttempts),
		anchorworker.WithBackoff(cfg.Ledger.SubmitBackoff),
		anchorworker.WithAttemptTimeout(cfg.Ledger.SubmitTimeout),
		anchorworker.WithMetrics(anchorMetrics),
	)
	if err != nil {
		log.Error("submit worker init failed", "error", err)
		os.Exit(1)
	}

	anchorSvc, err := anchorservice.NewService(creds, batches, submitWorker, cfg.Ledger.ChainID, log,
		anchorservice.WithMetrics(anchorMetrics),
		anchorservice.WithPublisher(publisher),
	)
	if err != nil {
		log.Error("anchor service init failed", "error", err)
		os.Exit(1)
	}

	claimSvc, err := claimservice.NewService(tickets, creds, staging, cfg.PublicBaseURL, log,
		claimservice.WithMetrics(claimMetrics),
		claimservice.WithPublisher(publisher),
	)
	if err != nil {
		log.Error("claim service init failed", "error", err)
		os.Exit(1)
	}

	verifySvc, err := verifyservice.NewService(creds, batches, log,
		verifyservice.WithMetrics(verifyMetrics),
	)
	if err != nil {
		log.Error("verify service init failed", "error", err)
		os.Exit(1)
	}

	ticketSweeper := cleanup.New(tickets,
		cleanup.WithLogger(log),
		cleanup.WithInterval(cfg.CleanupInterval),
		cleanup.WithMetrics(claimMetrics),
	)

	healthHandler := health.New(cfg.Environment)
	if pool != nil {
		healthHandler.RegisterCheck("database", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return pool.Health(ctx)
		})
	}
	if redisClient != nil {
		healthHandler.RegisterCheck("redis", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return redisClient.Health(ctx)
		})
	}
	if kafkaProducer != nil {
		healthHandler.RegisterCheck("kafka", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if !kafkaProducer.Healthy(ctx) {
				return errors.New("kafka brokers unreachable")
			}
			return nil
		})
	}

	router := httptransport.NewRouter(httptransport.Handlers{
		Anchor: anchorhandler.New(anchorSvc, log),
		Claim:  claimhandler.New(claimSvc, cfg.TicketTTL, log),
		Verify: verifyhandler.New(verifySvc, log),
		Health: healthHandler,
	}, cfg.JWTSigningKey, log)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting http server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		err := submitWorker.Start(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	group.Go(func() error {
		err := ticketSweeper.Start(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	group.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down server gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}

	if pool != nil {
		pool.Close() //nolint:errcheck // process exit
	}
	if redisClient != nil {
		redisClient.Close() //nolint:errcheck // process exit
	}
	log.Info("server stopped")
}
