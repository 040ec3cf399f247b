package billing

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/passgate/passgate/app/models"
	"github.com/passgate/passgate/internal/pkg/abacatepay"
	"github.com/passgate/passgate/internal/pkg/apperr"
	"github.com/passgate/passgate/internal/pkg/idempotency"
	"github.com/passgate/passgate/internal/pkg/metrics/counter"
)

const eventClaimTTL = 2 * time.Minute

// Credentials are the authentication inputs of a webhook delivery.
type Credentials struct {
	Timestamp   string
	Signature   string
	QuerySecret string
}

// Gateway authenticates provider notifications, deduplicates them by event id and applies them.
type Gateway struct {
	svc       *Service
	claims    idempotency.Claimer
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

func NewGateway(svc *Service, claims idempotency.Claimer, secret string, tolerance time.Duration) *Gateway {
	if claims == nil {
		claims = idempotency.NewMemoryClaimer()
	}
	if tolerance <= 0 {
		tolerance = abacatepay.DefaultTolerance
	}
	return &Gateway{svc: svc, claims: claims, secret: secret, tolerance: tolerance, now: time.Now}
}

// Authenticate accepts a valid timestamped signature, or the shared secret in the query string.
// A signature that is present but stale or wrong is rejected without trying the query secret.
func (g *Gateway) Authenticate(raw []byte, cred Credentials) error {
	if cred.Timestamp != "" && cred.Signature != "" {
		err := abacatepay.VerifySignature(raw, cred.Timestamp, cred.Signature, g.secret, g.now(), g.tolerance)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, abacatepay.ErrTimestampOutOfWindow):
			return apperr.Validation("invalid_timestamp", "webhook timestamp outside tolerance")
		default:
			return apperr.Auth("invalid_signature", "webhook signature mismatch")
		}
	}
	if g.secret != "" && subtle.ConstantTimeCompare([]byte(cred.QuerySecret), []byte(g.secret)) == 1 {
		return nil
	}
	return apperr.Auth("unauthorized", "missing webhook credentials")
}

// Handle authenticates, decodes and processes one webhook delivery.
func (g *Gateway) Handle(ctx context.Context, raw []byte, cred Credentials) (*EventResult, error) {
	if err := g.Authenticate(raw, cred); err != nil {
		return nil, err
	}
	evt, err := abacatepay.ParseEvent(raw)
	if err != nil {
		return nil, apperr.Validation("invalid_payload", "%v", err)
	}
	return g.Process(ctx, evt, raw)
}

// Process applies an authenticated event at most once.
//
// The ledger row is written only after the event's effects, so a failure part way leaves the event
// unrecorded and the provider's redelivery retries it. Unrecognized events and events for unknown
// orders are acknowledged without a ledger row.
func (g *Gateway) Process(ctx context.Context, evt *abacatepay.Event, raw []byte) (*EventResult, error) {
	repo := g.svc.repo
	res := &EventResult{EventID: evt.ID}

	done, err := repo.HasProcessedEvent(ctx, evt.ID)
	if err != nil {
		return nil, apperr.Internal("event_lookup_failed", err)
	}
	if done {
		g.svc.count(ctx, counter.EventDuplicate)
		res.Status = EventStatusDuplicate
		return res, nil
	}

	claimed, err := g.claims.Claim(ctx, "event:"+evt.ID, eventClaimTTL)
	if err != nil {
		log.Warnf("[Webhook] Claim store unavailable for %s, relying on ledger: %v", evt.ID, err)
		claimed = true
	}
	if !claimed {
		log.Infof("[Webhook] Event %s is already being processed", evt.ID)
		g.svc.count(ctx, counter.EventDuplicate)
		res.Status = EventStatusDuplicate
		return res, nil
	}
	defer func() {
		if err := g.claims.Release(context.WithoutCancel(ctx), "event:"+evt.ID); err != nil {
			log.Warnf("[Webhook] Release claim %s: %v", evt.ID, err)
		}
	}()

	action := evt.Action()
	if action == abacatepay.ActionIgnore {
		log.Infof("[Webhook] Ignoring event %s of type %q", evt.ID, evt.Type)
		g.svc.count(ctx, counter.EventIgnored)
		res.Status = EventStatusIgnored
		return res, nil
	}

	order, err := g.findOrder(ctx, evt)
	if errors.Is(err, ErrOrderNotFound) {
		log.Warnf("[Webhook] Event %s (%s) matches no order", evt.ID, evt.Type)
		g.svc.count(ctx, counter.EventIgnored)
		res.Status = EventStatusIgnored
		return res, nil
	}
	if err != nil {
		return nil, apperr.Internal("order_lookup_failed", err)
	}
	res.OrderID = order.ID

	switch action {
	case abacatepay.ActionConfirm:
		_, err = g.svc.ConfirmPayment(ctx, order.ID)
	case abacatepay.ActionFail:
		_, err = g.svc.FailPayment(ctx, order.ID)
	case abacatepay.ActionRefund:
		_, err = g.svc.RefundPayment(ctx, order.ID)
	}
	if err != nil {
		return nil, apperr.Internal("event_apply_failed", err)
	}

	if _, err := repo.RecordProcessedEvent(context.WithoutCancel(ctx), &models.ProcessedEvent{
		EventID:     evt.ID,
		EventType:   evt.Type,
		OrderID:     order.ID,
		PayloadJSON: string(raw),
	}); err != nil {
		return nil, apperr.Internal("event_record_failed", err)
	}
	log.Infof("[Webhook] Event %s (%s) applied to order %s", evt.ID, action, order.ID)
	res.Status = EventStatusProcessed
	return res, nil
}

// findOrder prefers the order id echoed in metadata and falls back to the provider charge ids.
func (g *Gateway) findOrder(ctx context.Context, evt *abacatepay.Event) (*models.Order, error) {
	repo := g.svc.repo
	if evt.CorrelationID != "" {
		o, err := repo.GetOrder(ctx, evt.CorrelationID)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, ErrOrderNotFound) {
			return nil, err
		}
	}
	return repo.FindOrderByChargeIDs(ctx, evt.ChargeIDs)
}

// Simulate pays a charge in the provider's sandbox and then applies the same confirmation a webhook
// would, under a synthetic event id.
func (g *Gateway) Simulate(ctx context.Context, chargeID string) (*EventResult, error) {
	if chargeID == "" {
		return nil, apperr.Validation("invalid_body", "providerChargeId is required")
	}
	if _, err := g.svc.provider.SimulatePayment(ctx, chargeID); err != nil {
		return nil, apperr.UpstreamTransient("simulate_failed", err).WithStatus(502)
	}

	evt := &abacatepay.Event{
		ID:        "simulate:" + uuid.NewString(),
		Type:      abacatepay.EventChargeSucceeded,
		ChargeIDs: []string{chargeID},
	}
	raw, _ := json.Marshal(map[string]any{
		"id":   evt.ID,
		"type": evt.Type,
		"data": map[string]any{"id": chargeID},
	})
	return g.Process(ctx, evt, raw)
}
