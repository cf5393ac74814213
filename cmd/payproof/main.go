package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/PayProof/app/controllers"
	"github.com/ManuelReschke/PayProof/app/repository"
	"github.com/ManuelReschke/PayProof/internal/pkg/cache"
	"github.com/ManuelReschke/PayProof/internal/pkg/database"
	"github.com/ManuelReschke/PayProof/internal/pkg/env"
	"github.com/ManuelReschke/PayProof/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PayProof/internal/pkg/mail"
	"github.com/ManuelReschke/PayProof/internal/pkg/matching"
	"github.com/ManuelReschke/PayProof/internal/pkg/middleware"
	"github.com/ManuelReschke/PayProof/internal/pkg/ocr"
	"github.com/ManuelReschke/PayProof/internal/pkg/payment"
	"github.com/ManuelReschke/PayProof/internal/pkg/ratelimit"
	"github.com/ManuelReschke/PayProof/internal/pkg/receiptstore"
	"github.com/ManuelReschke/PayProof/internal/pkg/router"
	"github.com/ManuelReschke/PayProof/internal/pkg/upload"
)

const shutdownTimeout = 15 * time.Second

func main() {
	app, cleanup := NewApplication()

	go func() {
		addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
		if err := app.Listen(addr); err != nil {
			log.Fatalf("server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down...")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		log.Errorf("HTTP shutdown: %v", err)
	}
	cleanup()
}

func NewApplication() (*fiber.App, func()) {
	env.SetupEnvFile()
	if env.IsDev() {
		log.SetLevel(log.LevelDebug)
	}
	database.SetupDatabase()
	cache.SetupCache()

	ctx := context.Background()
	db := database.GetDB()
	repository.InitializeFactory(db)
	repos := repository.GetGlobalRepositories()

	matchCfg, err := matching.LoadConfig()
	if err != nil {
		log.Fatalf("[Matching] Invalid configuration: %v", err)
	}
	engine := matching.NewEngine(repos.Rule, matchCfg)
	if err := engine.Initialize(ctx); err != nil {
		// Evaluate retries the load; until then auto-matching degrades to manual review.
		log.Warnf("[Matching] Initial rule load failed: %v", err)
	}

	ocrCfg := ocr.LoadConfig()
	pipeline := ocr.NewPipelineFromConfig(ocrCfg, &http.Client{Timeout: ocrCfg.ProviderTimeout + 5*time.Second})

	svc := payment.NewService(payment.Dependencies{
		Requests:  repos.PaymentRequest,
		Wallets:   repos.WalletConfig,
		Logs:      repos.VerificationLog,
		Purchases: repos.Purchase,
		Users:     repos.User,
		Matcher:   engine,
		OCR:       pipeline,
	}, payment.LoadConfig())

	manager := jobqueue.GetManager()
	mailer := mail.NewSMTPMailer(mail.LoadConfig())
	deps := jobqueue.Dependencies{Purchases: repos.Purchase}
	if mailer.Configured() {
		deps.Mailer = mailer
		svc.SetNotifier(manager.GetQueue())
	} else {
		log.Warn("[Payment] SMTP is not configured, buyer notifications are disabled")
	}
	manager.GetQueue().SetDependencies(deps)
	svc.SetGrantRetryScheduler(manager.GetQueue())
	manager.Start()

	if archiveCfg, err := receiptstore.LoadConfig(); err != nil {
		log.Errorf("[ReceiptStore] Invalid configuration: %v", err)
	} else if archiveCfg.IsEnabled() {
		archive, err := receiptstore.NewClient(ctx, archiveCfg)
		if err != nil {
			log.Errorf("[ReceiptStore] Archive disabled: %v", err)
		} else {
			svc.SetArchive(archive)
		}
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: controllers.ErrorHandler,
		BodyLimit:    upload.MaxReceiptSize + 1024*1024,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	app.Use(swagger.New(swagger.Config{
		BasePath: "/docs/api/",
		FilePath: "./public/docs/v1/openapi.yml",
		Path:     "v1",
	}))

	cacheUp := cache.Ping(ctx) == nil
	var limiterStorage fiber.Storage
	if cacheUp {
		limiterStorage = ratelimit.NewRedisStorage()
	}

	router.InstallRouter(app, router.Dependencies{
		Payments:       svc,
		Rules:          engine,
		Jobs:           manager.GetQueue(),
		Auth:           middleware.LoadAuthConfig(),
		LimiterStorage: limiterStorage,
		ReceiptLimit:   ratelimit.LoadConfig(),
		CacheWallets:   cacheUp,
		PingDB:         database.Ping,
		RulesReady:     engine.Ready,
	})

	cleanup := func() {
		svc.Wait()
		manager.Stop()
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	return app, cleanup
}
