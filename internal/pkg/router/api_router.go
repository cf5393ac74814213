package router

import (
	"github.com/ManuelReschke/PayProof/app/controllers"
	"github.com/ManuelReschke/PayProof/internal/pkg/middleware"
	"github.com/ManuelReschke/PayProof/internal/pkg/payment"
	"github.com/ManuelReschke/PayProof/internal/pkg/ratelimit"

	"github.com/gofiber/fiber/v2"
)

// Dependencies are what the routes are served from.
type Dependencies struct {
	Payments *payment.Service
	Rules    controllers.RuleRefresher
	// Jobs is optional, the stats route answers 503 without it.
	Jobs controllers.QueueStats
	Auth     middleware.AuthConfig
	// LimiterStorage backs the receipt limiter, nil keeps it in memory.
	LimiterStorage fiber.Storage
	ReceiptLimit   ratelimit.Config
	CacheWallets   bool
	PingDB         func() error
	RulesReady     func() bool
}

type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	payments := controllers.NewPaymentController(h.deps.Payments, h.deps.CacheWallets)
	admin := controllers.NewAdminPaymentController(h.deps.Payments, h.deps.Rules)
	jobs := controllers.NewAdminQueueController(h.deps.Jobs)

	v1 := app.Group("/api/v1", middleware.JWTAuth(h.deps.Auth), middleware.RequireAuth)
	v1.Get("/wallets", payments.HandleListWallets)

	p := v1.Group("/payments")
	p.Post("/", payments.HandleInitiatePayment)
	p.Get("/", payments.HandleListPayments)
	p.Get("/:id", payments.HandleGetPayment)
	p.Post("/:id/deeplink-click", payments.HandleDeepLinkClick)
	p.Post("/:id/transaction", payments.HandleSubmitTransaction)
	p.Post("/:id/receipt", ratelimit.ReceiptLimiter(h.deps.ReceiptLimit, h.deps.LimiterStorage), payments.HandleUploadReceipt)
	p.Post("/:id/cancel", payments.HandleCancelPayment)

	a := v1.Group("/admin", middleware.RequireAdmin)
	a.Post("/payments/:id/verify", admin.HandleVerifyPayment)
	a.Get("/payments/:id/logs", admin.HandleVerificationLogs)
	a.Post("/rules/refresh", admin.HandleRefreshRules)
	a.Get("/jobs", jobs.HandleQueueStats)
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}
