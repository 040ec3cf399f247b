package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/monitor"

	"github.com/passgate/passgate/app/controllers"
	"github.com/passgate/passgate/internal/pkg/constants"
)

// AdminRouter mounts the operator endpoints behind basic auth. They are not installed without a password.
type AdminRouter struct {
	deps Deps
}

func NewAdminRouter(deps Deps) *AdminRouter {
	return &AdminRouter{deps: deps}
}

func (h AdminRouter) InstallRouter(app *fiber.App) {
	cfg := h.deps.Config
	if cfg.AdminPassword == "" {
		log.Warn("[Router] ADMIN_PASSWORD not set, admin endpoints are disabled")
		return
	}

	adminAuth := basicauth.New(basicauth.Config{
		Users: map[string]string{
			cfg.AdminUser: cfg.AdminPassword,
		},
		Unauthorized: func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderWWWAuthenticate, `Basic realm="Restricted"`)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		},
	})

	settings := controllers.NewSettingsController(h.deps.Repos.Setting, cfg.MinChargeCents)
	system := controllers.NewSystemController(h.deps.Service, h.deps.Counter, h.deps.Queue)

	// fiber metrics
	app.Get(constants.MetricsRoute, adminAuth, monitor.New())

	app.Get(constants.APIV1Route+"/diagnostics", adminAuth, system.HandleDiagnostics)

	admin := app.Group(constants.AdminRoute, adminAuth)
	admin.Put("/settings", settings.HandleSaveSettings)
	admin.Get("/stats", system.HandleStats)
}
