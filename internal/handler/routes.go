package handler

import (
	"github.com/gofiber/fiber/v2"
)

type Handlers struct {
	Billing  *BillingHandler
	Usage    *UsageHandler
	Payment  *PaymentHandler
	Packages *CreditPackageHandler
	Admin    *AdminHandler
}

type Middlewares struct {
	Auth      fiber.Handler
	Admin     fiber.Handler
	UserLimit fiber.Handler
}

func RegisterRoutes(app *fiber.App, h Handlers, mw Middlewares) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	// Public routes
	billing := api.Group("/billing")
	billing.Get("/packages", h.Packages.GetAllPackages)
	billing.Get("/packages/:id", h.Packages.GetPackageByID)
	billing.Post("/webhook", h.Payment.HandleStripeWebhook)

	// Protected routes
	authed := []fiber.Handler{mw.Auth}
	if mw.UserLimit != nil {
		authed = append(authed, mw.UserLimit)
	}
	me := billing.Group("", authed...)
	me.Get("/me", h.Billing.GetMe)
	me.Get("/access", h.Billing.GetAccess)
	me.Get("/ledger", h.Billing.GetLedger)
	me.Get("/purchases", h.Payment.GetPurchaseHistory)
	me.Post("/checkout/:packageId", h.Payment.CreateCheckoutSession)
	me.Get("/usage", h.Usage.ListUsage)
	me.Post("/usage", h.Usage.StartUsage)
	me.Post("/usage/:id/succeeded", h.Usage.MarkSucceeded)
	me.Post("/usage/:id/failed", h.Usage.MarkFailed)
	me.Post("/usage/:id/refund", h.Usage.RefundUsage)

	// Admin routes
	admin := api.Group("/admin/billing", append(authed, mw.Admin)...)
	admin.Post("/adjust", h.Admin.AdjustCredits)
	admin.Post("/consolidate", h.Admin.ConsolidateUsers)
	admin.Get("/users/:uid", h.Admin.GetUser)
	admin.Get("/users/:uid/reconcile", h.Admin.Reconcile)
}
