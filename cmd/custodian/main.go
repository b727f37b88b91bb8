package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dandantas/custodian/internal/batch"
	"github.com/dandantas/custodian/internal/config"
	"github.com/dandantas/custodian/internal/database"
	"github.com/dandantas/custodian/internal/handler"
	"github.com/dandantas/custodian/internal/i18n"
	"github.com/dandantas/custodian/internal/jobs"
	"github.com/dandantas/custodian/internal/lock"
	"github.com/dandantas/custodian/internal/metrics"
	"github.com/dandantas/custodian/internal/model"
	"github.com/dandantas/custodian/internal/notify"
	"github.com/dandantas/custodian/internal/reconcile"
	"github.com/dandantas/custodian/internal/rules"
	"github.com/dandantas/custodian/internal/scheduler"
	"github.com/dandantas/custodian/internal/service"
	"github.com/dandantas/custodian/pkg/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

func main() {
	if err := run(); err != nil {
		zap.S().Errorw("Custodian exited with error", "error", err)
		_ = zap.L().Sync()
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := config.InitLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	podID := podIdentity()
	zap.S().Infow("Starting Custodian", "version", version, "pod_id", podID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to MongoDB
	mongoDB, err := database.Connect(ctx, database.MongoConfig{
		URI:             cfg.MongoURI,
		Database:        cfg.MongoDatabase,
		Timeout:         cfg.MongoTimeout,
		MaxPoolSize:     cfg.MongoMaxPoolSize,
		MinPoolSize:     cfg.MongoMinPoolSize,
		MaxConnIdleTime: cfg.MongoMaxConnIdleTime,
		Compressors:     cfg.MongoCompressors,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := mongoDB.Disconnect(context.Background()); err != nil {
			zap.S().Errorw("Failed to disconnect from MongoDB", "error", err)
		}
	}()

	if err := database.CreateIndexes(ctx, mongoDB); err != nil {
		return err
	}

	// Connect to the authority store
	sqlDB, err := database.OpenSQL(ctx, database.SQLConfig{
		Driver:       cfg.DBDriver,
		DSN:          cfg.DBDSN,
		MaxOpenConns: cfg.DBMaxOpenConns,
	})
	if err != nil {
		return err
	}
	defer database.CloseSQL(sqlDB)

	if err := database.EnsureSchema(ctx, sqlDB); err != nil {
		return err
	}

	checks := map[string]handler.PingFunc{
		"mongodb": mongoDB.Ping,
		"sql":     sqlDB.PingContext,
	}

	// Lock backend
	var locks lock.Service
	switch cfg.LockBackend {
	case config.LockBackendRedis:
		client, err := database.ConnectRedis(ctx, database.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return err
		}
		defer closeRedis(client)
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		locks = database.NewRedisLockRepository(client, podID)
	case config.LockBackendSQL:
		locks = database.NewSQLLockRepository(sqlDB, podID)
	case config.LockBackendMemory:
		zap.S().Warn("In-process lock backend selected, exclusion does not span instances")
		locks = lock.NewMemory(podID)
	default:
		locks = database.NewLockRepository(mongoDB, podID)
	}
	zap.S().Infow("Lock backend ready", "backend", cfg.LockBackend)

	// Triggers fired by authority writes; suspended while the job repairs
	triggers := rules.NewService()
	triggers.Register(func(_ context.Context, ev rules.Event) {
		zap.S().Debugw("Authority changed", "event", ev.Type, "authority_id", ev.ID)
	})

	loc, err := i18n.New(cfg.Locale)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector("custodian")

	var notifier service.RunNotifier
	if cfg.NotifyWebhookURL != "" {
		dispatcher, err := notify.NewDispatcher(model.Webhook{
			URL:     cfg.NotifyWebhookURL,
			Timeout: cfg.NotifyTimeout,
		})
		if err != nil {
			return err
		}
		notifier = dispatcher
	}

	runRepo := database.NewRunRepository(mongoDB)
	jobService := service.NewJobService(runRepo, notifier, collector, podID)
	historyService := service.NewRunHistoryService(runRepo)

	sched := scheduler.New(locks, podID)
	jobService.SetSchedules(sched)

	if cfg.CRCJobEnabled {
		authorities := database.NewAuthorityRepository(sqlDB, triggers)
		crcJob := reconcile.NewJob(reconcile.NewSQLStore(authorities), triggers, loc, reconcile.Config{
			LogDir: cfg.AuditLogDir,
			Batch: batch.Options{
				Workers:         cfg.CRCJobWorkers,
				BatchSize:       cfg.CRCJobBatchSize,
				LoggingInterval: cfg.CRCJobLoggingInterval,
			},
		})

		runner, err := jobs.NewRunner(jobs.Config{
			JobName:          cfg.CRCJobName,
			Namespace:        cfg.JobNamespace,
			Executer:         crcJob,
			Locks:            locks,
			LockTTL:          cfg.CRCJobLockTTL,
			AcquireRetries:   cfg.CRCJobAcquireRetries,
			AcquireRetryWait: cfg.CRCJobAcquireRetryWait,
		})
		if err != nil {
			return err
		}
		if err := jobService.Register(runner); err != nil {
			return err
		}

		if cfg.SchedulerEnabled && cfg.CRCJobSchedule != "" {
			name := cfg.CRCJobName
			err := sched.Register(name, cfg.CRCJobSchedule, func(ctx context.Context) {
				// outcome is logged and recorded by the service
				_, _ = jobService.RunNow(ctx, name, model.TriggerScheduled, "")
			})
			if err != nil {
				return err
			}
		}
	}

	if cfg.SchedulerEnabled {
		if err := sched.RegisterLockSweep(cfg.LockSweepSchedule); err != nil {
			return err
		}
		sched.Start()
	}

	corsConfig := middleware.CORSConfig{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   cfg.CORSAllowedMethods,
		AllowedHeaders:   cfg.CORSAllowedHeaders,
		AllowCredentials: cfg.CORSAllowCredentials,
		MaxAge:           cfg.CORSMaxAge,
	}

	router := handler.NewRouter(
		handler.NewJobHandler(jobService),
		handler.NewRunHandler(historyService),
		handler.NewHealthHandler(version, checks),
		collector.Handler(),
		corsConfig,
	)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Handler(),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zap.S().Infow("Starting HTTP server", "port", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zap.S().Info("Received shutdown signal, initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// Stop scheduler first; it waits for in-flight runs and releases locks
		if cfg.SchedulerEnabled {
			sched.Stop(shutdownCtx)
		}
		jobService.Shutdown(shutdownCtx)

		if err := server.Shutdown(shutdownCtx); err != nil {
			zap.S().Errorw("HTTP server shutdown error", "error", err)
		}
		return nil
	})

	err = g.Wait()

	// manual runs may still hold locks when the scheduler is disabled
	if releaser, ok := locks.(lock.HolderReleaser); ok && !cfg.SchedulerEnabled {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaser.ReleaseAll(releaseCtx); err != nil {
			zap.S().Errorw("Failed to release locks during shutdown", "error", err)
		}
	}

	zap.S().Info("Custodian stopped")
	return err
}

// podIdentity names this instance in lock records and run history
func podIdentity() string {
	if name := os.Getenv("POD_NAME"); name != "" {
		return name
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		return uuid.New().String()
	}
	return host + "-" + uuid.New().String()[:8]
}

func closeRedis(client *redis.Client) {
	if err := client.Close(); err != nil {
		zap.S().Errorw("Failed to close Redis client", "error", err)
	}
}
