package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerkean/gnizde.4ko/cache"
	"github.com/nerkean/gnizde.4ko/config"
	"github.com/nerkean/gnizde.4ko/database"
	"github.com/nerkean/gnizde.4ko/handlers"
	"github.com/nerkean/gnizde.4ko/kafka"
	"github.com/nerkean/gnizde.4ko/ledger"
	"github.com/nerkean/gnizde.4ko/middleware"
	"github.com/nerkean/gnizde.4ko/notify"
	"github.com/nerkean/gnizde.4ko/payment"
	"github.com/nerkean/gnizde.4ko/repository"
	"github.com/nerkean/gnizde.4ko/settings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

const serviceName = "gnizde-shop"

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg := config.Load(logger)

	// Initialize database
	db, err := database.InitDB(cfg.DB, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Redis is optional; the catalog falls back to Postgres without it.
	rdb, err := cache.InitRedis(cfg.Redis, logger)
	if err != nil {
		logger.Warn("Redis unavailable, product cache disabled", zap.Error(err))
	} else {
		defer rdb.Close()
	}
	productCache := cache.NewProductCache(rdb, logger)

	if cfg.TracingEnabled {
		shutdown, err := middleware.InitTracing(serviceName, cfg.JaegerEndpoint)
		if err != nil {
			logger.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				logger.Error("Failed to flush traces", zap.Error(err))
			}
		}()
	}

	orders := repository.NewOrderStore(db)
	products := repository.NewProductStore(db)
	content := repository.NewContentStore(db)
	settingsLoader := settings.NewLoader(content, logger)

	telegram := notify.NewTelegram(notify.TelegramConfig{
		Token:       cfg.TelegramBotToken,
		StaticChats: cfg.TelegramChatIDs,
	}, settingsLoader, logger)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// With Kafka enabled, notifications go through the order_events topic and
	// are delivered by the in-process consumer.
	var notifier ledger.Notifier = notify.NewDirect(telegram, logger)
	if cfg.Kafka.Enabled {
		producer, err := kafka.InitProducer(cfg.Kafka, logger)
		if err != nil {
			logger.Fatal("Failed to initialize Kafka producer", zap.Error(err))
		}
		defer producer.Close()

		consumer, err := kafka.InitConsumer(cfg.Kafka, logger)
		if err != nil {
			logger.Fatal("Failed to initialize Kafka consumer", zap.Error(err))
		}
		defer consumer.Close()

		go func() {
			nc := kafka.NewNotificationConsumer(telegram, logger)
			if err := nc.Start(ctx, consumer, cfg.Kafka.Topic); err != nil {
				logger.Error("Kafka consumer error", zap.Error(err))
			}
		}()
		notifier = kafka.NewPublisher(producer, cfg.Kafka.Topic, logger)
	}

	orderLedger := ledger.New(orders, products, notifier, logger)
	sessions := middleware.NewSessions(cfg.SessionSecret, cfg.SessionTTL)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware())

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", middleware.PrometheusHandler())

	catalogHandler := handlers.NewCatalogHandler(products, productCache, logger)
	checkoutHandler := handlers.NewCheckoutHandler(orderLedger, logger)
	webhookHandler := handlers.NewWebhookHandler(orderLedger,
		payment.NewLiqPay(cfg.LiqPayPrivateKey),
		payment.NewFondy(cfg.FondyMerchantPassword),
		cfg.PublicBaseURL, logger)
	contentHandler := handlers.NewContentHandler(content, logger)

	api := router.Group("/api")
	{
		api.GET("/products", catalogHandler.ListProducts)
		api.GET("/products/:id", catalogHandler.GetProduct)
		api.GET("/orders/:orderId", checkoutHandler.GetOrder)
		api.POST("/checkout/place-order", checkoutHandler.PlaceOrder)
		api.POST("/webhooks/liqpay", webhookHandler.LiqPay)
		api.POST("/webhooks/fondy", webhookHandler.Fondy)
		api.POST("/fondy-return", webhookHandler.FondyReturn)
		api.GET("/fondy-return", webhookHandler.FondyReturnGet)
		api.GET("/content/:key", contentHandler.GetBlock)
	}

	authHandler := handlers.NewAuthHandler(sessions, settingsLoader, cfg.AdminUser, cfg.AdminPass, logger)
	router.POST("/api/admin/login", authHandler.Login)
	router.POST("/api/admin/logout", authHandler.Logout)

	adminOrders := handlers.NewAdminOrderHandler(orderLedger, logger)
	adminProducts := handlers.NewAdminProductHandler(products, productCache, logger)
	adminSettings := handlers.NewAdminSettingsHandler(content, settingsLoader, logger)

	admin := router.Group("/api", middleware.AdminAuth(sessions, logger))
	{
		admin.GET("/admin/orders", adminOrders.ListOrders)
		admin.GET("/admin/orders/:id", adminOrders.GetOrder)
		admin.PATCH("/admin/orders/:id", adminOrders.UpdateStatus)
		admin.DELETE("/admin/orders/:id", adminOrders.DeleteOrder)

		admin.GET("/admin/products", adminProducts.ListProducts)
		admin.GET("/admin/products/:id", adminProducts.GetProduct)
		admin.POST("/admin/products", adminProducts.CreateProduct)
		admin.PUT("/admin/products/:id", adminProducts.UpdateProduct)
		admin.PATCH("/admin/products/:id", adminProducts.UpdateProduct)
		admin.DELETE("/admin/products/:id", adminProducts.DeleteProduct)

		admin.GET("/admin/settings", adminSettings.GetSettings)
		admin.PUT("/admin/settings", adminSettings.UpdateSettings)

		admin.PUT("/content/:key", contentHandler.UpsertBlock)
		admin.POST("/content/:key", contentHandler.UpsertBlock)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Shop API started", zap.String("addr", cfg.HTTPAddr))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
