package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/passgate/passgate/app/controllers"
	"github.com/passgate/passgate/internal/pkg/constants"
	"github.com/passgate/passgate/internal/pkg/middleware"
	"github.com/passgate/passgate/internal/pkg/ratelimit"
	"github.com/passgate/passgate/internal/pkg/security"
)

type ApiRouter struct {
	deps Deps
}

func NewApiRouter(deps Deps) *ApiRouter {
	return &ApiRouter{deps: deps}
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	cfg := h.deps.Config

	api := app.Group(constants.APIRoute, limiter.New(limiter.Config{
		Max:        cfg.APIRequestLimit,
		Expiration: cfg.RateLimitWindow,
		Storage:    h.deps.LimiterStorage,
		Next: func(c *fiber.Ctx) bool {
			// Provider callbacks arrive from a handful of addresses and must not be throttled.
			return c.Path() == constants.WebhookRoute
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited"})
		},
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "passgate api",
		})
	})

	purchaseLimit := middleware.RateLimit(h.limiter(h.deps.PurchaseLimiter, cfg.PurchaseRateLimit), "purchase")
	resolveLimit := middleware.RateLimit(h.limiter(h.deps.ResolveLimiter, cfg.ResolveRateLimit), "resolve")
	signed := middleware.ClientSignature(security.RequestVerifier{
		Secret:  cfg.ClientHMACSecret,
		MaxSkew: cfg.ClientHMACMaxSkew,
	})

	orders := controllers.NewOrderController(h.deps.Service)
	webhooks := controllers.NewWebhookController(h.deps.Gateway)
	settings := controllers.NewSettingsController(h.deps.Repos.Setting, cfg.MinChargeCents)
	system := controllers.NewSystemController(h.deps.Service, h.deps.Counter, h.deps.Queue)

	v1 := api.Group("/v1")
	v1.Get("/health", system.HandleHealth)
	v1.Get("/settings", settings.HandleGetSettings)
	v1.Get("/quote", settings.HandleQuote)

	v1.Post("/items/resolve", resolveLimit, signed, orders.HandleResolveItem)
	v1.Get("/items", resolveLimit, orders.HandleListItems)
	v1.Post("/buyers/link", resolveLimit, signed, orders.HandleLinkBuyer)

	v1.Post("/charges", purchaseLimit, signed, orders.HandleCreateCharge)
	v1.Post("/buy-now", purchaseLimit, signed, orders.HandleBuyNow)
	v1.Get("/orders/:id", orders.HandleOrderStatus)

	v1.Post("/payments/simulate", purchaseLimit, webhooks.HandleSimulatePayment)
	v1.Post("/webhooks/abacatepay", webhooks.HandleWebhook)
}

// limiter returns l, or an in-memory limiter with the configured capacity when none was injected.
func (h ApiRouter) limiter(l ratelimit.Limiter, capacity int) ratelimit.Limiter {
	if l != nil {
		return l
	}
	return ratelimit.NewMemoryLimiter(ratelimit.Rule{Limit: capacity, Window: h.deps.Config.RateLimitWindow})
}
