package main

import (
	"context"
	"log"
	"time"

	"storefront/config"
	"storefront/controllers"
	"storefront/database"
	"storefront/middleware"
	"storefront/models"
	"storefront/repository"
	"storefront/routes"
	"storefront/services"
	"storefront/worker"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config: ", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("Failed to initialize logger: ", err)
	}
	defer logger.Sync()

	db, err := database.Connect(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := db.AutoMigrate(
		&models.Product{},
		&models.Cart{},
		&models.CartItem{},
		&models.Order{},
		&models.OrderItem{},
	); err != nil {
		logger.Fatal("Failed to migrate schema", zap.Error(err))
	}

	productRepo := repository.NewGormProductRepo(db)
	cartRepo := repository.NewGormCartRepo(db)
	orderRepo := repository.NewGormOrderRepo(db)

	stripeSvc := services.NewStripeService(cfg.StripeSecretKey, cfg.StripeWebhookKey, cfg.FrontendURL)

	var notifier services.Notifier
	if sender, err := services.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass); err != nil {
		logger.Warn("Email sending disabled", zap.Error(err))
	} else {
		notifier = services.NewNotificationService(sender, cfg.AdminEmail, logger)
	}

	cartSvc := services.NewCartService(cartRepo, productRepo, logger)
	orderSvc := services.NewOrderService(orderRepo, cartRepo, productRepo, logger)
	paymentSvc := services.NewPaymentService(orderRepo, stripeSvc, logger)
	webhookSvc := services.NewWebhookService(orderRepo, productRepo, notifier, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sweeper := worker.NewReconciliationWorker(orderRepo, productRepo, cfg.SweepInterval, cfg.AbandonAfter, logger)
	go sweeper.Run(ctx)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	// 10 checkout requests per minute per IP.
	checkoutLimiter := middleware.NewRateLimiter(rate.Every(time.Minute/10), 10)

	routes.RegisterRoutes(r,
		controllers.NewProductController(productRepo),
		controllers.NewCartController(cartSvc),
		controllers.NewOrderController(orderSvc),
		&controllers.PaymentController{
			Payments: paymentSvc,
			Parser:   stripeSvc,
			Handler:  webhookSvc,
			Logger:   logger,
		},
		checkoutLimiter,
	)

	logger.Info("Storefront running", zap.String("port", cfg.Port))
	if err := r.Run(":" + cfg.Port); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}
