package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vogiaan1904/ticketbottle-admission/config"
	grpcDelivery "github.com/vogiaan1904/ticketbottle-admission/internal/delivery/grpc"
	httpDelivery "github.com/vogiaan1904/ticketbottle-admission/internal/delivery/http"
	"github.com/vogiaan1904/ticketbottle-admission/internal/delivery/kafka/consumer"
	"github.com/vogiaan1904/ticketbottle-admission/internal/delivery/kafka/producer"
	"github.com/vogiaan1904/ticketbottle-admission/internal/infra/postgres"
	"github.com/vogiaan1904/ticketbottle-admission/internal/infra/redis"
	"github.com/vogiaan1904/ticketbottle-admission/internal/metrics"
	"github.com/vogiaan1904/ticketbottle-admission/internal/repository"
	"github.com/vogiaan1904/ticketbottle-admission/internal/repository/memory"
	pgRepo "github.com/vogiaan1904/ticketbottle-admission/internal/repository/postgres"
	redisRepo "github.com/vogiaan1904/ticketbottle-admission/internal/repository/redis"
	"github.com/vogiaan1904/ticketbottle-admission/internal/service"
	"github.com/vogiaan1904/ticketbottle-admission/pkg/clock"
	pkgKafka "github.com/vogiaan1904/ticketbottle-admission/pkg/kafka"
	pkgLog "github.com/vogiaan1904/ticketbottle-admission/pkg/logger"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

const shutdownTimeout = 15 * time.Second

type repositories struct {
	entries  repository.QueueEntryRepository
	sessions repository.PurchaseSessionRepository
	catalog  repository.CatalogRepository
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	l := pkgLog.InitializeZapLogger(pkgLog.ZapConfig{
		Level:    cfg.Log.Level,
		Mode:     cfg.Log.Mode,
		Encoding: cfg.Log.Encoding,
	})
	ctx = l.With(ctx, "instance_id", cfg.InstanceID)

	// Storage
	var repos repositories
	switch cfg.Storage {
	case config.StorageMemory:
		store := memory.NewStore()
		seedDemoCatalog(store, time.Now())
		repos = repositories{store.QueueEntries(), store.PurchaseSessions(), store.Catalog()}
		l.Warn(ctx, "Using in-memory storage; state is lost on restart")
	default:
		pool, err := postgres.Connect(ctx, cfg.Postgres)
		if err != nil {
			l.Fatalf(ctx, "Failed to connect to Postgres: %v", err)
		}
		defer postgres.Disconnect(pool)

		if cfg.Postgres.AutoMigrate {
			if err := pgRepo.Migrate(ctx, pool); err != nil {
				l.Fatalf(ctx, "Failed to migrate Postgres schema: %v", err)
			}
		}
		repos = repositories{
			entries:  pgRepo.NewQueueEntryRepository(pool, l),
			sessions: pgRepo.NewPurchaseSessionRepository(pool, l),
			catalog:  pgRepo.NewCatalogRepository(pool, l),
		}
	}

	// Coordination. A memory store is single-instance, so Redis is skipped.
	var (
		leases  redisRepo.LeaseRepository
		signals redisRepo.SignalRepository
	)
	if cfg.Storage != config.StorageMemory {
		redisCli, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			l.Fatalf(ctx, "Failed to connect to Redis: %v", err)
		}
		defer redis.Disconnect(redisCli)

		leases = redisRepo.NewRedisLeaseRepository(redisCli, l)
		signals = redisRepo.NewRedisSignalRepository(redisCli, l)
	}

	// Kafka
	var (
		notifier   service.Notifier
		kConsGrCli sarama.ConsumerGroup
	)
	if cfg.Kafka.Enabled {
		kSyncProd, err := pkgKafka.NewProducer(pkgKafka.ProducerConfig{
			Brokers:      cfg.Kafka.Brokers,
			ClientID:     cfg.InstanceID,
			RetryMax:     cfg.Kafka.ProducerRetryMax,
			RequiredAcks: cfg.Kafka.ProducerRequiredAcks,
		})
		if err != nil {
			l.Fatalf(ctx, "Failed to initialize Kafka producer: %v", err)
		}
		prod := producer.NewProducer(kSyncProd, l)
		defer prod.Close()
		notifier = prod

		kConsGrCli, err = pkgKafka.NewConsumer(pkgKafka.ConsumerConfig{
			Brokers:  cfg.Kafka.Brokers,
			GroupID:  cfg.Kafka.ConsumerGroupID,
			ClientID: cfg.InstanceID,
		})
		if err != nil {
			l.Fatalf(ctx, "Failed to initialize Kafka consumer: %v", err)
		}
	} else {
		l.Warn(ctx, "Kafka disabled; notifications are only logged")
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Services
	clk := clock.New()
	a := cfg.Admission
	tokens := service.NewCheckoutTokens(
		cfg.JWT.Secret,
		a.SessionWindow+time.Duration(a.MaxExtensions)*a.ExtensionStep+a.GraceWindow,
		clk,
	)
	notify := service.NewNotificationDispatcher(notifier, a.NotifyTimeout, l)
	inventory := service.NewInventory(repos.catalog)

	processor := service.NewAdmissionProcessor(service.ProcessorDeps{
		Entries:   repos.entries,
		Catalog:   repos.catalog,
		Inventory: inventory,
		Tokens:    tokens,
		Leases:    leases,
		Signals:   signals,
		Notify:    notify,
		Metrics:   m,
		Clock:     clk,
	}, a, cfg.InstanceID, l)
	signaler := service.NewSlotSignaler(processor, signals, m, l)

	sessionSvc := service.NewSessionService(service.SessionServiceDeps{
		Entries:   repos.entries,
		Sessions:  repos.sessions,
		Catalog:   repos.catalog,
		Inventory: inventory,
		Tokens:    tokens,
		Notify:    notify,
		Signal:    signaler,
		Metrics:   m,
		Clock:     clk,
	}, a, l)
	queueSvc := service.NewQueueService(service.QueueServiceDeps{
		Entries:   repos.entries,
		Sessions:  repos.sessions,
		Catalog:   repos.catalog,
		Inventory: inventory,
		Session:   sessionSvc,
		Processor: processor,
		Notify:    notify,
		Signal:    signaler,
		Metrics:   m,
		Clock:     clk,
	}, a, l)

	reconciler := service.NewExpiryReconciler(repos.sessions, repos.entries, sessionSvc, clk, a, m, l)
	enforcer := service.NewLimitEnforcer(repos.entries, inventory, queueSvc, clk, a, m, l)

	// Background work
	if err := processor.Start(ctx); err != nil {
		l.Fatalf(ctx, "Failed to start admission processor: %v", err)
	}
	if err := reconciler.Start(ctx); err != nil {
		l.Fatalf(ctx, "Failed to start expiry reconciler: %v", err)
	}
	if err := enforcer.Start(ctx); err != nil {
		l.Fatalf(ctx, "Failed to start limit enforcer: %v", err)
	}

	var cons *consumer.Consumer
	if kConsGrCli != nil {
		cons = consumer.NewConsumer(kConsGrCli, sessionSvc, processor, l)
		if err := cons.Start(ctx); err != nil {
			l.Fatalf(ctx, "Failed to start Kafka consumer: %v", err)
		}
	}

	// Servers
	h := httpDelivery.NewHTTPHandler(queueSvc, sessionSvc, processor, l)
	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      h.Routes(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	lnr, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRpcPort))
	if err != nil {
		l.Fatalf(ctx, "gRPC server failed to listen: %v", err)
	}
	gRpcSrv := grpc.NewServer()
	healthSvc := grpcDelivery.NewHealthService(processor, 5*time.Second, l)
	healthSvc.Register(gRpcSrv)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		l.Infof(ctx, "HTTP server is listening on port: %d", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		l.Infof(ctx, "gRPC server is listening on port: %d", cfg.Server.GRpcPort)
		if err := gRpcSrv.Serve(lnr); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		healthSvc.Run(gCtx)
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		l.Info(ctx, "Server shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			l.Errorf(ctx, "Failed to shut down HTTP server: %v", err)
		}
		gRpcSrv.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		l.Errorf(ctx, "Server stopped with error: %v", err)
	}

	if cons != nil {
		if err := cons.Close(); err != nil {
			l.Errorf(ctx, "Failed to close Kafka consumer: %v", err)
		}
	}
	if err := processor.Stop(); err != nil {
		l.Errorf(ctx, "Failed to stop admission processor: %v", err)
	}
	reconciler.Stop()
	enforcer.Stop()
	notify.Wait()

	l.Info(ctx, "Server exited")
}
