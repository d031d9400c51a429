package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pkgtravel/service-booking/internal/application"
	"github.com/pkgtravel/service-booking/internal/cache"
	"github.com/pkgtravel/service-booking/internal/config"
	bookingDomain "github.com/pkgtravel/service-booking/internal/domain/booking"
	"github.com/pkgtravel/service-booking/internal/domain/markup"
	bookingEvents "github.com/pkgtravel/service-booking/internal/events"
	"github.com/pkgtravel/service-booking/internal/gateway"
	"github.com/pkgtravel/service-booking/internal/handler"
	"github.com/pkgtravel/service-booking/internal/repository"
	"github.com/pkgtravel/service-booking/pkg/auth"
	"github.com/pkgtravel/service-booking/pkg/database"
	"github.com/pkgtravel/service-booking/pkg/health"
	"github.com/pkgtravel/service-booking/pkg/kafka"
	"github.com/pkgtravel/service-booking/pkg/logger"
	"github.com/pkgtravel/service-booking/pkg/middleware"
)

const staleSweepBatch = 100

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewNamed(cfg.AppEnv, "service-booking")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting service-booking",
		zap.String("port", cfg.Port),
		zap.String("instance_id", cfg.InstanceID),
	)

	// Connect to database
	dbConfig := database.PostgresConfig{
		Host:     cfg.DBConfig.Host,
		Port:     cfg.DBConfig.Port,
		User:     cfg.DBConfig.User,
		Password: cfg.DBConfig.Password,
		DBName:   cfg.DBConfig.DBName,
		SSLMode:  cfg.DBConfig.SSLMode,
	}
	db, err := database.Connect(dbConfig, log)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}

	// Run database migrations
	if cfg.AppEnv == "development" {
		if err := repository.AutoMigrate(db); err != nil {
			log.Fatal("failed to run auto-migration", zap.Error(err))
		}
		log.Info("database migration completed (dev auto-migrate)")
	} else {
		if err := database.RunMigrations(dbConfig.DatabaseURL(), "migrations", log); err != nil {
			log.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize JWT manager
	jwtManager := auth.NewJWTManager(cfg.JWTConfig.Secret, 15*time.Minute)

	// Initialize Kafka producer
	kafkaProducer := kafka.NewProducer(cfg.KafkaConfig.Brokers, log)
	defer func() { _ = kafkaProducer.Close() }()

	// Initialize repositories
	ruleRepo := repository.NewGormRuleRepository(db)
	bookingRepo := repository.NewGormBookingRepository(db)
	paymentRepo := repository.NewGormTransactionRepository(db)
	sessionRepo := repository.NewGormSessionRepository(db)
	transactor := repository.NewGormTransactor(db)

	// Active-rule cache, optionally backed by Redis
	cacheOpts := []markup.CacheOption{
		markup.WithSharedErrorHandler(func(err error) {
			log.Warn("shared rule cache unavailable", zap.Error(err))
		}),
	}
	if cfg.RedisConfig.Addr != "" {
		redisClient, err := cache.NewClient(ctx, cfg.RedisConfig.Addr, cfg.RedisConfig.Password, cfg.RedisConfig.DB)
		if err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer func() { _ = redisClient.Close() }()
		cacheOpts = append(cacheOpts, markup.WithSharedCache(cache.NewRedisRuleCache(redisClient, "", log)))
		log.Info("shared rule cache enabled", zap.String("addr", cfg.RedisConfig.Addr))
	}
	ruleCache := markup.NewRuleCache(ruleRepo, cfg.MarkupCacheTTL, cacheOpts...)
	resolver := markup.NewResolver(ruleCache)

	// Initialize application services
	markupService := application.NewMarkupService(
		ruleRepo, transactor, resolver, ruleCache, kafkaProducer, cfg.InstanceID, log,
	)
	bookingService := application.NewBookingService(
		bookingRepo,
		transactor,
		resolver,
		bookingDomain.NewStandardCancellationPolicy(),
		application.BookingOptions{
			ReferencePrefix: cfg.ReferencePrefix,
			DefaultCurrency: cfg.DefaultCurrency,
		},
		kafkaProducer,
		log,
	)
	paymentService := application.NewPaymentService(
		bookingRepo,
		paymentRepo,
		transactor,
		gateway.NewSimulated(cfg.GatewayName, cfg.GatewayLatency, log),
		cfg.GatewayTimeout,
		kafkaProducer,
		log,
	)
	guestService := application.NewGuestService(sessionRepo, transactor, cfg.GuestSessionTTL, log)

	// Every instance reads every markup event, so the group is per instance.
	groupID := cfg.KafkaConfig.GroupPrefix + "booking-markup-" + cfg.InstanceID
	markupConsumer := bookingEvents.NewMarkupEventConsumer(
		cfg.KafkaConfig.Brokers,
		groupID,
		cfg.InstanceID,
		ruleCache,
		log,
	)
	defer func() { _ = markupConsumer.Close() }()

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// Apply global middleware
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.LoggerMiddleware(log))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())

	// Register health check routes
	health.NewHandler(db, "service-booking").RegisterRoutes(router)

	// Register routes
	handler.NewMarkupHandler(markupService).RegisterRoutes(&router.RouterGroup, jwtManager)
	handler.NewBookingHandler(bookingService).RegisterRoutes(&router.RouterGroup, jwtManager)
	handler.NewPaymentHandler(paymentService, log).RegisterRoutes(&router.RouterGroup, jwtManager)
	handler.NewGuestHandler(guestService).RegisterRoutes(&router.RouterGroup, jwtManager)
	handler.NewAdminBookingHandler(bookingService, paymentService).RegisterRoutes(&router.RouterGroup, jwtManager)

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.GatewayTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("HTTP server starting", zap.String("addr", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		log.Info("starting markup event consumer", zap.String("group_id", groupID))
		if err := markupConsumer.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("markup event consumer error", zap.Error(err))
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(cfg.PaymentSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				n, err := paymentService.ExpireStalePending(gctx, cfg.PaymentStaleAfter, staleSweepBatch)
				if err != nil {
					log.Error("stale payment sweep failed", zap.Error(err))
					continue
				}
				if n > 0 {
					log.Info("stale in-flight payments closed", zap.Int("count", n))
				}
			}
		}
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down service-booking...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server forced shutdown", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("service-booking exited with error", zap.Error(err))
		return
	}
	log.Info("service-booking stopped")
}
