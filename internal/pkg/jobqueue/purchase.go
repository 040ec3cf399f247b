package jobqueue

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/passgate/passgate/internal/pkg/billing"
)

// Fulfiller purchases the item of a paid order.
type Fulfiller interface {
	Fulfill(ctx context.Context, orderID string) (*billing.FulfillResult, error)
}

// RegisterPurchaseHandler wires purchase jobs to the fulfiller. Purchase jobs are never retried:
// a second blind attempt could buy twice, and a failed order stays failed for support.
func RegisterPurchaseHandler(q *Queue, f Fulfiller) {
	q.Handle(JobTypePurchase, 0, func(ctx context.Context, job *Job) error {
		payload, err := PurchaseJobPayloadFromMap(job.Payload)
		if err != nil {
			return fmt.Errorf("decode purchase payload: %w", err)
		}
		if payload.OrderID == "" {
			return fmt.Errorf("purchase job %s has no order id", job.ID)
		}

		res, err := f.Fulfill(ctx, payload.OrderID)
		if err != nil {
			return err
		}
		if !res.Attempted {
			log.Infof("[JobQueue] Order %s needed no purchase (payment=%s purchase=%s)",
				payload.OrderID, res.Order.PaymentStatus, res.Order.PurchaseStatus)
			return nil
		}
		return res.Err
	})
}

// PurchaseDispatcher hands confirmed orders to the queue instead of purchasing in the caller.
type PurchaseDispatcher struct {
	queue *Queue
}

func NewPurchaseDispatcher(q *Queue) *PurchaseDispatcher {
	return &PurchaseDispatcher{queue: q}
}

// DispatchPurchase enqueues a purchase job for the order.
func (d *PurchaseDispatcher) DispatchPurchase(ctx context.Context, orderID string) error {
	_, err := d.queue.EnqueueJob(ctx, JobTypePurchase, PurchaseJobPayload{OrderID: orderID}.ToMap())
	return err
}

var _ billing.Dispatcher = (*PurchaseDispatcher)(nil)
