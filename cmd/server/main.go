package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"checkout-service/config"
	"checkout-service/internal/api"
	"checkout-service/internal/assistant"
	"checkout-service/internal/auth"
	"checkout-service/internal/broker"
	"checkout-service/internal/paypal"
	"checkout-service/internal/ratelimit"
	"checkout-service/internal/redisclient"
	"checkout-service/internal/service"
	"checkout-service/internal/store"
	"checkout-service/internal/util"
	"checkout-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Name, cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting checkout service")

	if cfg.Observ.JaegerEndpoint != "" {
		tp, err := util.InitTracer(util.TracerConfig{
			ServiceName: cfg.Server.Name,
			Environment: cfg.Server.Env,
			Endpoint:    cfg.Observ.JaegerEndpoint,
			SampleRatio: cfg.Observ.TraceSampleRatio,
		})
		if err != nil {
			logger.Fatal("Failed to initialize tracer", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Error("Error shutting down tracer", zap.Error(err))
			}
		}()
	}

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	if cfg.Database.AutoMigrate {
		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := db.Migrate(migrateCtx)
		cancel()
		if err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
	}

	readiness := map[string]api.Pinger{"postgres": db}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	assistantWindow := time.Duration(cfg.RateLimit.AssistantWindow) * time.Second
	checkoutWindow := time.Duration(cfg.RateLimit.CheckoutWindow) * time.Second

	var assistantLimiter, checkoutLimiter ratelimit.Limiter
	if cfg.Redis.Addr != "" {
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		logger.Info("Redis connected")

		readiness["redis"] = redisClient
		assistantLimiter, err = ratelimit.NewRedisLimiter(redisClient, "assistant", cfg.RateLimit.AssistantMax, assistantWindow)
		if err != nil {
			logger.Fatal("Invalid assistant rate limit", zap.Error(err))
		}
		checkoutLimiter, err = ratelimit.NewRedisLimiter(redisClient, "checkout", cfg.RateLimit.CheckoutMax, checkoutWindow)
		if err != nil {
			logger.Fatal("Invalid checkout rate limit", zap.Error(err))
		}
	} else {
		logger.Warn("REDIS_ADDR not set, rate limits are per instance")
		local, err := ratelimit.NewLocalLimiter(cfg.RateLimit.AssistantMax, assistantWindow)
		if err != nil {
			logger.Fatal("Invalid assistant rate limit", zap.Error(err))
		}
		go local.RunCleanup(workerCtx, time.Minute)
		assistantLimiter = local

		localCheckout, err := ratelimit.NewLocalLimiter(cfg.RateLimit.CheckoutMax, checkoutWindow)
		if err != nil {
			logger.Fatal("Invalid checkout rate limit", zap.Error(err))
		}
		go localCheckout.RunCleanup(workerCtx, time.Minute)
		checkoutLimiter = localCheckout
	}

	var eventPublisher service.EventPublisher
	var auditWorker *worker.PaymentAuditWorker
	if len(cfg.Kafka.Brokers) > 0 {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
		defer producer.Close()
		eventPublisher = broker.NewEventPublisher(producer)
		logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))

		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
		auditWorker = worker.NewPaymentAuditWorker(consumer, db)
		go func() {
			if err := auditWorker.Start(workerCtx); err != nil && err != context.Canceled {
				logger.Error("Audit worker error", zap.Error(err))
			}
		}()
	} else {
		logger.Warn("KAFKA_BROKERS not set, checkout events are not published")
	}

	paypalClient := paypal.NewClient(paypal.Config{
		ClientID:     cfg.PayPal.ClientID,
		ClientSecret: cfg.PayPal.ClientSecret,
		Mode:         cfg.PayPal.Mode,
		BaseURL:      cfg.PayPal.BaseURL,
	})
	if !cfg.PayPal.Configured() {
		logger.Warn("PayPal credentials not set, checkout sessions will be unavailable")
	}

	validator := auth.NewValidator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if validator == nil {
		logger.Warn("AUTH_JWT_SECRET not set, every /api/v1 request will be rejected")
	}

	assistantClient := assistant.NewClient(assistant.Config{
		Endpoint:   cfg.Assistant.Endpoint,
		APIKey:     cfg.Assistant.APIKey,
		Deployment: cfg.Assistant.Deployment,
		APIVersion: cfg.Assistant.APIVersion,
	})
	if !cfg.Assistant.Configured() {
		logger.Warn("Azure OpenAI endpoint or key not set, the assistant will be unavailable")
	}

	orderService := service.NewOrderService(db, eventPublisher)
	checkoutService := service.NewCheckoutService(db, db, paypalClient, eventPublisher, cfg.PayPal.BrandName)
	cartService := service.NewCartService(db)
	catalogService := service.NewCatalogService(db)
	assistantService := service.NewAssistantService(assistantClient, db, assistantLimiter)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	handler := api.NewHandler(api.Options{
		Orders:          orderService,
		Checkout:        checkoutService,
		Carts:           cartService,
		Catalog:         catalogService,
		Assistant:       assistantService,
		Validator:       validator,
		CheckoutLimiter: checkoutLimiter,
		AppOrigin:       cfg.App.Origin,
		Readiness:       readiness,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if auditWorker != nil {
		if err := auditWorker.Stop(); err != nil {
			logger.Error("Error stopping audit worker", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}
