package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/sefazor/portfolio-billing/internal/config"
	"github.com/sefazor/portfolio-billing/internal/handler"
	"github.com/sefazor/portfolio-billing/internal/jobs"
	"github.com/sefazor/portfolio-billing/internal/middleware"
	"github.com/sefazor/portfolio-billing/internal/models"
	"github.com/sefazor/portfolio-billing/internal/ratelimit"
	"github.com/sefazor/portfolio-billing/internal/repository"
	"github.com/sefazor/portfolio-billing/internal/service"
	"github.com/sefazor/portfolio-billing/internal/tasks"
	"github.com/sefazor/portfolio-billing/pkg/database"
	"github.com/sefazor/portfolio-billing/pkg/email"
	"github.com/sefazor/portfolio-billing/pkg/jwt"
	"github.com/sefazor/portfolio-billing/pkg/logger"
	"github.com/sefazor/portfolio-billing/pkg/payment"
	"github.com/sefazor/portfolio-billing/pkg/storage"
	"github.com/sefazor/portfolio-billing/pkg/utils"
)

const tokenTTL = 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config: ", err)
	}

	zlog, err := logger.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		log.Fatal("Failed to build logger: ", err)
	}
	defer zlog.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage backend
	var (
		store        repository.Store
		packageRepo  repository.CreditPackageRepository
		limitStorage fiber.Storage
		limitGC      jobs.RateLimitCollector
	)
	switch cfg.Store {
	case config.StorePostgres:
		db, err := database.NewDatabase(cfg.DatabaseURL)
		if err != nil {
			zlog.Fatal("failed to connect to database", zap.Error(err))
		}
		store = repository.NewGormStore(db)
		packageRepo = repository.NewCreditPackageRepository(db)
		gormLimits := ratelimit.NewGormStorage(db)
		limitStorage, limitGC = gormLimits, gormLimits
	default:
		zlog.Warn("using in-memory store; balances are lost on restart")
		store = repository.NewMemoryStore()
		packageRepo = repository.NewStaticCreditPackageRepository(repository.DefaultCreditPackages())
	}

	// Services
	opts := service.Options{FreeWeeklyActions: cfg.FreeWeeklyActions, Logger: zlog}
	stripeService := payment.NewStripeService(cfg.StripeSecretKey, cfg.StripeWebhookKey, cfg.CheckoutSuccessURL, cfg.CheckoutCancelURL)

	accessService := service.NewAccessService(store, opts)
	ledgerService := service.NewLedgerService(store, opts)
	usageService := service.NewUsageService(store, opts)
	purchaseService := service.NewPurchaseService(store, packageRepo, stripeService, opts)
	adminService := service.NewAdminService(store, opts)
	packageService := service.NewPackageService(packageRepo)

	// Outbox worker
	worker := tasks.NewWorker(store, tasks.Config{
		BatchSize:   cfg.TaskBatchSize,
		MaxAttempts: cfg.TaskMaxAttempts,
	}, zlog)
	if cfg.EmailEnabled() {
		emailService := email.NewEmailService(cfg.ResendAPIKey, cfg.FromAddress, cfg.FromName, zlog)
		worker.Register(models.TaskPurchaseReceipt, tasks.PurchaseReceiptProcessor(emailService))
	} else {
		worker.Register(models.TaskPurchaseReceipt, tasks.Discard(zlog, "email not configured"))
	}
	if cfg.R2Enabled() {
		r2Storage, err := storage.NewCloudflareStorage(ctx, cfg.R2Config, zlog)
		if err != nil {
			zlog.Fatal("failed to initialize R2 storage", zap.Error(err))
		}
		worker.Register(models.TaskConsolidationArchive, tasks.ConsolidationArchiveProcessor(r2Storage))
	} else {
		worker.Register(models.TaskConsolidationArchive, tasks.Discard(zlog, "archive storage not configured"))
	}

	scheduler := jobs.NewScheduler(jobs.Config{
		TaskPollSpec: cfg.TaskPollSpec,
		SweepSpec:    cfg.SweepSpec,
		UsageTimeout: cfg.UsageTimeout,
	}, worker, usageService, limitGC, zlog)
	if err := scheduler.Start(ctx); err != nil {
		zlog.Fatal("failed to start scheduler", zap.Error(err))
	}
	defer scheduler.Stop()

	// Handlers
	validator := utils.NewValidator()
	tokens := jwt.NewManager(cfg.JWTSecret, tokenTTL)

	handlers := handler.Handlers{
		Billing:  handler.NewBillingHandler(accessService, ledgerService, zlog),
		Usage:    handler.NewUsageHandler(usageService, validator, zlog),
		Payment:  handler.NewPaymentHandler(purchaseService, stripeService, zlog),
		Packages: handler.NewCreditPackageHandler(packageService, zlog),
		Admin:    handler.NewAdminHandler(adminService, ledgerService, validator, zlog),
	}
	middlewares := handler.Middlewares{
		Auth:  middleware.AuthMiddleware(tokens, zlog),
		Admin: middleware.AdminMiddleware(cfg.IsAdminEmail, zlog),
		UserLimit: ratelimit.New(ratelimit.Config{
			Max:       cfg.RateLimitMax,
			Window:    cfg.RateLimitWindow,
			Storage:   limitStorage,
			KeyPrefix: "user:",
		}),
	}

	// Router
	app := fiber.New(fiber.Config{
		AppName:               "portfolio-billing",
		DisableStartupMessage: cfg.IsProduction(),
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET, POST",
		AllowCredentials: true,
	}))
	app.Use(fiberlogger.New())
	app.Use(ratelimit.New(ratelimit.Config{
		Max:       cfg.RateLimitMax * 3,
		Window:    cfg.RateLimitWindow,
		Storage:   limitStorage,
		KeyPrefix: "global:",
	}))

	handler.RegisterRoutes(app, handlers, middlewares)

	go func() {
		<-ctx.Done()
		zlog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			zlog.Error("shutdown failed", zap.Error(err))
		}
	}()

	zlog.Info("billing api listening", zap.String("port", cfg.Port), zap.String("store", cfg.Store))
	if err := app.Listen(":" + cfg.Port); err != nil && !errors.Is(err, context.Canceled) {
		zlog.Fatal("server stopped", zap.Error(err))
	}
}
