package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tutormesh/coordinator/internal/allocation"
	"github.com/tutormesh/coordinator/internal/assignment"
	"github.com/tutormesh/coordinator/internal/authrefresh"
	"github.com/tutormesh/coordinator/internal/cache"
	"github.com/tutormesh/coordinator/internal/cacheworker"
	"github.com/tutormesh/coordinator/internal/catalog"
	"github.com/tutormesh/coordinator/internal/config"
	"github.com/tutormesh/coordinator/internal/database"
	"github.com/tutormesh/coordinator/internal/eventlog"
	"github.com/tutormesh/coordinator/internal/idempotency"
	"github.com/tutormesh/coordinator/internal/lock"
	"github.com/tutormesh/coordinator/internal/logging"
	"github.com/tutormesh/coordinator/internal/purchase"
	"github.com/tutormesh/coordinator/internal/retry"
	"github.com/tutormesh/coordinator/internal/server"
	"github.com/tutormesh/coordinator/internal/session"
	"github.com/tutormesh/coordinator/internal/worker"
	"github.com/tutormesh/coordinator/internal/zone"
)

func main() {
	log := logging.New(logging.Config{Level: "info", Pretty: true})
	logging.SetGlobal(log)
	log.Info().Msg("starting tutormesh coordinator")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if cfg.LogLevel != "" {
		log = logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
		logging.SetGlobal(log)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.Open(ctx, database.DefaultConfig(cfg.PostgresDSN))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	redisClient := cache.New(cache.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "coordinator"
	}

	// Each worker role gets its own consumer group and its own
	// subscription, matching the topic/consumer table: purchase-created
	// is independently consumed by both the allocation worker and the
	// cache worker, which is only possible if they belong to different
	// consumer groups, since a Kafka-API broker delivers each partition
	// to exactly one member within a group.
	purchaseTransport, err := eventlog.NewTransport(eventlog.Config{
		Brokers:         cfg.KafkaBrokers,
		TransactionalID: "tutormesh-purchase-" + hostname,
		ConsumerGroup:   "coordinator-purchase",
		Topics:          []string{eventlog.TopicPurchaseConfirmed},
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect purchase worker to event log")
	}
	defer purchaseTransport.Close()

	allocationTransport, err := eventlog.NewTransport(eventlog.Config{
		Brokers:         cfg.KafkaBrokers,
		TransactionalID: "tutormesh-allocation-" + hostname,
		ConsumerGroup:   "coordinator-allocation",
		Topics:          []string{eventlog.TopicPurchaseCreated},
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect allocation worker to event log")
	}
	defer allocationTransport.Close()

	sessionTransport, err := eventlog.NewTransport(eventlog.Config{
		Brokers:         cfg.KafkaBrokers,
		TransactionalID: "tutormesh-session-" + hostname,
		ConsumerGroup:   "coordinator-session",
		Topics:          []string{eventlog.TopicTrainerAllocated},
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect session worker to event log")
	}
	defer sessionTransport.Close()

	cacheTransport, err := eventlog.NewTransport(eventlog.Config{
		Brokers:         cfg.KafkaBrokers,
		TransactionalID: "tutormesh-cache-" + hostname,
		ConsumerGroup:   "coordinator-cache",
		Topics: []string{
			eventlog.TopicPurchaseCreated,
			eventlog.TopicTrainerAllocated,
			eventlog.TopicSessionsGenerated,
		},
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect cache worker to event log")
	}
	defer cacheTransport.Close()

	// A producer-only client (no consumer group) for the retry
	// executor's dead-letter publishes, shared across every worker role.
	dlqTransport, err := eventlog.NewTransport(eventlog.Config{
		Brokers:         cfg.KafkaBrokers,
		TransactionalID: "tutormesh-dlq-" + hostname,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect dead-letter publisher to event log")
	}
	defer dlqTransport.Close()

	ledger := idempotency.NewStore(db.Pool(), log)
	purchaseEmitter := idempotency.NewEmitter(ledger, purchaseTransport, "purchase-worker", log)
	allocationEmitter := idempotency.NewEmitter(ledger, allocationTransport, "allocation-worker", log)
	sessionEmitter := idempotency.NewEmitter(ledger, sessionTransport, "session-worker", log)
	dlqEmitter := idempotency.NewEmitter(ledger, dlqTransport, "retry-executor", log)

	dlq := retry.NewDLQPublisher(dlqEmitter)
	executor := retry.NewExecutor(dlq, log)

	catalogClient := catalog.NewClient(cfg.CatalogURL, log)
	purchaseRepo := purchase.NewRepository(db.Pool(), log)
	purchaseWorker := purchase.NewWorker(purchaseRepo, catalogClient, catalogClient, ledger, purchaseEmitter, log)

	zoneRepo := zone.NewRepository(db.Pool(), log)
	zoneResolver := zone.NewResolver(zoneRepo)
	studentLocator := allocation.NewStudentLocatorRepository(db.Pool(), log)

	allocationRepo := allocation.NewRepository(db.Pool(), log)
	sessionRepo := session.NewRepository(db.Pool(), log)
	trainerDirectory := assignment.NewHTTPDirectory(cfg.TrainerDirectoryURL, log)
	committer := allocation.NewCommitter(allocationRepo, allocation.DirectoryRatingProvider{Directory: trainerDirectory})
	engine := assignment.NewEngine(trainerDirectory, sessionRepo, allocationRepo, committer, log)
	allocationWorker := allocation.NewWorker(allocationRepo, studentLocator, zoneResolver, engine, ledger, allocationEmitter, cfg.DefaultTimeSlot, log)

	sessionWorker := session.NewWorker(sessionRepo, allocationRepo, ledger, sessionEmitter, log)
	topUp := session.NewTopUp(sessionWorker, allocationRepo, cfg.TopUpInterval, log)

	cacheClient := redisClient
	cacheWorker := cacheworker.NewWorker(cacheClient, ledger, log)

	refreshLock := lock.New(redisClient.Raw(), log)
	tokenIssuer := authrefresh.NewTokenIssuer([]byte(cfg.AccessTokenSigningKey))
	authRepo := authrefresh.NewRepository(db.Pool(), log)
	authService := authrefresh.NewService(tokenIssuer, authRepo, refreshLock, cfg.RefreshLockTTL, cfg.RefreshLockWaitMax, log)
	authHandlers := authrefresh.NewHandlers(authService, log)

	harnesses := []*worker.Harness{
		worker.New("purchase", purchaseTransport, purchaseWorker.Handle, executor, retry.PurchasePolicy, false, log),
		worker.New("allocation", allocationTransport, allocationWorker.Handle, executor, retry.AllocationPolicy, false, log),
		worker.New("session", sessionTransport, sessionWorker.Handle, executor, retry.SessionPolicy, false, log),
		worker.New("cache", cacheTransport, cacheWorker.Handle, executor, retry.CachePolicy, true, log),
	}
	for _, h := range harnesses {
		h.Start(ctx)
	}

	topUp.Start(ctx)

	httpServer := server.New(server.Config{
		Port:         cfg.Port,
		Log:          log,
		DB:           db,
		AuthHandlers: authHandlers,
		DevMode:      cfg.DevMode,
	})

	go func() {
		if err := httpServer.Start(); err != nil {
			log.Error().Err(err).Msg("http server stopped")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("coordinator started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.WorkerDrainLimit)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server forced to shutdown")
	}

	topUp.Stop()
	for _, h := range harnesses {
		h.Stop()
	}

	log.Info().Msg("coordinator stopped")
}
