package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/passgate/passgate/app/repository"
	"github.com/passgate/passgate/internal/pkg/billing"
	"github.com/passgate/passgate/internal/pkg/config"
	"github.com/passgate/passgate/internal/pkg/jobqueue"
	"github.com/passgate/passgate/internal/pkg/metrics/counter"
	"github.com/passgate/passgate/internal/pkg/ratelimit"
)

// Router installs a group of routes on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

// Deps are the services the HTTP surface is built on.
type Deps struct {
	Config  *config.Config
	Service *billing.Service
	Gateway *billing.Gateway
	Repos   *repository.Repositories
	Counter counter.Recorder
	// Queue is nil when purchases run inline.
	Queue *jobqueue.Queue

	PurchaseLimiter ratelimit.Limiter
	ResolveLimiter  ratelimit.Limiter
	// LimiterStorage backs the coarse /api limiter; nil keeps it in memory.
	LimiterStorage fiber.Storage
}

func InstallRouter(app *fiber.App, deps Deps) {
	setup(app, NewApiRouter(deps), NewAdminRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
