package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/passgate/passgate/internal/pkg/apperr"
	"github.com/passgate/passgate/internal/pkg/billing"
	"github.com/passgate/passgate/internal/pkg/jobqueue"
	"github.com/passgate/passgate/internal/pkg/metrics/counter"
)

// SystemController serves health, upstream diagnostics and reconciliation statistics.
type SystemController struct {
	svc     *billing.Service
	counter counter.Recorder
	queue   *jobqueue.Queue
	now     func() time.Time
}

// NewSystemController creates the controller. queue is nil when purchases run inline.
func NewSystemController(svc *billing.Service, rec counter.Recorder, queue *jobqueue.Queue) *SystemController {
	if rec == nil {
		rec = counter.Nop{}
	}
	return &SystemController{svc: svc, counter: rec, queue: queue, now: time.Now}
}

func (sc *SystemController) HandleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"ok": true, "now": sc.now().UTC().Format(time.RFC3339)})
}

// HandleDiagnostics checks that the platform session cookie still authenticates.
func (sc *SystemController) HandleDiagnostics(c *fiber.Ctx) error {
	return c.JSON(sc.svc.Diagnostics(c.UserContext()))
}

// HandleStats returns outcome counters and, in queue mode, the purchase queue depth.
func (sc *SystemController) HandleStats(c *fiber.Ctx) error {
	ctx := c.UserContext()
	outcomes, err := sc.counter.Snapshot(ctx)
	if err != nil {
		return apperr.Internal("stats_unavailable", err)
	}
	body := fiber.Map{"outcomes": outcomes}
	if sc.queue != nil {
		body["queue"] = sc.queueStats(ctx)
	}
	return c.JSON(body)
}

func (sc *SystemController) queueStats(ctx context.Context) fiber.Map {
	out := fiber.Map{}
	if n, err := sc.queue.GetQueueSize(ctx); err == nil {
		out["pending"] = n
	}
	if n, err := sc.queue.GetProcessingSize(ctx); err == nil {
		out["processing"] = n
	}
	if stats, err := sc.queue.GetJobStats(ctx); err == nil {
		out["totals"] = stats
	}
	return out
}
