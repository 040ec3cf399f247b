package billing

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passgate/passgate/app/models"
	"github.com/passgate/passgate/internal/pkg/abacatepay"
	"github.com/passgate/passgate/internal/pkg/apperr"
)

func signed(raw []byte) Credentials {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	return Credentials{Timestamp: ts, Signature: abacatepay.Sign(raw, ts, testWebhookSecret)}
}

func paidEvent(eventID, orderID string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"type":"charge.succeeded","data":{"id":"pix_x","metadata":{"order_id":%q}}}`, eventID, orderID))
}

func (h *harness) pendingItemOrder(t *testing.T) string {
	t.Helper()
	res, err := h.svc.CreateCharge(context.Background(), CreateChargeInput{UserID: "user-1", ItemID: 42})
	require.NoError(t, err)
	return res.OrderID
}

func TestGatewayAuthenticate(t *testing.T) {
	h := newHarness(t)
	raw := []byte(`{"id":"evt"}`)

	assert.NoError(t, h.gateway.Authenticate(raw, signed(raw)))
	assert.NoError(t, h.gateway.Authenticate(raw, Credentials{QuerySecret: testWebhookSecret}))

	stale := strconv.FormatInt(time.Now().Add(-10*time.Minute).Unix(), 10)
	err := h.gateway.Authenticate(raw, Credentials{Timestamp: stale, Signature: abacatepay.Sign(raw, stale, testWebhookSecret)})
	assert.True(t, apperr.Is(err, "invalid_timestamp"))
	assert.Equal(t, http.StatusBadRequest, apperr.StatusOf(err))

	cred := signed(raw)
	cred.Signature = abacatepay.Sign(raw, cred.Timestamp, "other")
	cred.QuerySecret = testWebhookSecret
	err = h.gateway.Authenticate(raw, cred)
	assert.True(t, apperr.Is(err, "invalid_signature"), "a bad signature is not rescued by the query secret")

	err = h.gateway.Authenticate(raw, Credentials{QuerySecret: "nope"})
	assert.Equal(t, http.StatusUnauthorized, apperr.StatusOf(err))

	err = h.gateway.Authenticate(raw, Credentials{})
	assert.Equal(t, http.StatusUnauthorized, apperr.StatusOf(err))
}

func TestGatewayEmptySecretRejectsQueryPath(t *testing.T) {
	h := newHarness(t)
	g := NewGateway(h.svc, nil, "", 0)
	err := g.Authenticate([]byte(`{}`), Credentials{QuerySecret: ""})
	assert.Equal(t, apperr.KindAuth, apperr.KindOf(err))
}

func TestWebhookConfirmsAndPurchases(t *testing.T) {
	h := newHarness(t)
	orderID := h.pendingItemOrder(t)
	raw := paidEvent("evt_1", orderID)

	res, err := h.gateway.Handle(context.Background(), raw, signed(raw))
	require.NoError(t, err)
	assert.Equal(t, EventStatusProcessed, res.Status)
	assert.Equal(t, orderID, res.OrderID)

	o := h.order(t, orderID)
	assert.Equal(t, models.PaymentStatusPaid, o.PaymentStatus)
	assert.Equal(t, models.PurchaseStatusPurchased, o.PurchaseStatus)

	done, err := h.repo.HasProcessedEvent(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestWebhookReplayIsNoop(t *testing.T) {
	h := newHarness(t)
	orderID := h.pendingItemOrder(t)
	raw := paidEvent("evt_1", orderID)

	_, err := h.gateway.Handle(context.Background(), raw, signed(raw))
	require.NoError(t, err)
	before := h.order(t, orderID)

	res, err := h.gateway.Handle(context.Background(), raw, signed(raw))
	require.NoError(t, err)
	assert.Equal(t, EventStatusDuplicate, res.Status)

	after := h.order(t, orderID)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
	assert.Equal(t, int32(1), h.platform.purchases.Load())
}

func TestWebhookConcurrentDeliveriesPurchaseOnce(t *testing.T) {
	h := newHarness(t)
	h.platform.purchaseDelay = 20 * time.Millisecond
	orderID := h.pendingItemOrder(t)
	chargeID := h.order(t, orderID).ProviderChargeID

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var raw []byte
			switch i % 3 {
			case 0:
				// Same event id delivered repeatedly.
				raw = paidEvent("evt_same", orderID)
			case 1:
				// Distinct event ids for the same order.
				raw = paidEvent(fmt.Sprintf("evt_%d", i), orderID)
			default:
				// Charge id only, no correlation id.
				raw = []byte(fmt.Sprintf(`{"id":"evt_c%d","type":"billing.paid","data":{"pixQrCode":{"id":%q}}}`, i, chargeID))
			}
			_, err := h.gateway.Handle(context.Background(), raw, signed(raw))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	_, err := h.gateway.Simulate(context.Background(), chargeID)
	require.NoError(t, err)

	o := h.order(t, orderID)
	assert.Equal(t, models.PurchaseStatusPurchased, o.PurchaseStatus)
	assert.Equal(t, int32(1), h.platform.purchases.Load())
}

func TestWebhookMatchesByChargeID(t *testing.T) {
	h := newHarness(t)
	orderID := h.pendingItemOrder(t)
	chargeID := h.order(t, orderID).ProviderChargeID
	raw := []byte(fmt.Sprintf(`{"event":"BILLING.PAID","data":{"data":{"id":%q}}}`, chargeID))

	res, err := h.gateway.Handle(context.Background(), raw, Credentials{QuerySecret: testWebhookSecret})
	require.NoError(t, err)
	assert.Equal(t, EventStatusProcessed, res.Status)
	assert.Equal(t, models.PaymentStatusPaid, h.order(t, orderID).PaymentStatus)
}

func TestWebhookIgnoresUnknownTypesWithoutLedger(t *testing.T) {
	h := newHarness(t)
	orderID := h.pendingItemOrder(t)
	raw := []byte(fmt.Sprintf(`{"id":"evt_u","type":"charge.created","data":{"metadata":{"order_id":%q}}}`, orderID))

	res, err := h.gateway.Handle(context.Background(), raw, signed(raw))
	require.NoError(t, err)
	assert.Equal(t, EventStatusIgnored, res.Status)

	done, err := h.repo.HasProcessedEvent(context.Background(), "evt_u")
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, models.PaymentStatusPending, h.order(t, orderID).PaymentStatus)
}

func TestWebhookUnknownOrderIsIgnored(t *testing.T) {
	h := newHarness(t)
	raw := paidEvent("evt_x", "00000000-0000-0000-0000-000000000000")

	res, err := h.gateway.Handle(context.Background(), raw, signed(raw))
	require.NoError(t, err)
	assert.Equal(t, EventStatusIgnored, res.Status)
}

func TestWebhookFailAndRefund(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pending := h.pendingItemOrder(t)
	raw := []byte(fmt.Sprintf(`{"id":"evt_f","type":"charge.failed","data":{"metadata":{"orderId":%q}}}`, pending))
	_, err := h.gateway.Handle(ctx, raw, signed(raw))
	require.NoError(t, err)
	o := h.order(t, pending)
	assert.Equal(t, models.PaymentStatusFailed, o.PaymentStatus)
	assert.Equal(t, models.PurchaseStatusNone, o.PurchaseStatus)

	paid := h.pendingItemOrder(t)
	raw = paidEvent("evt_p", paid)
	_, err = h.gateway.Handle(ctx, raw, signed(raw))
	require.NoError(t, err)

	raw = []byte(fmt.Sprintf(`{"id":"evt_r","type":"refund.succeeded","data":{"metadata":{"externalId":%q}}}`, paid))
	_, err = h.gateway.Handle(ctx, raw, signed(raw))
	require.NoError(t, err)
	o = h.order(t, paid)
	assert.Equal(t, models.PaymentStatusRefunded, o.PaymentStatus)
	assert.Equal(t, models.PurchaseStatusPurchased, o.PurchaseStatus, "refunds leave the purchase alone")
}

func TestWebhookRefundWithoutEventIDAfterPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orderID := h.pendingItemOrder(t)
	chargeID := h.order(t, orderID).ProviderChargeID

	raw := []byte(fmt.Sprintf(`{"type":"charge.succeeded","data":{"id":%q}}`, chargeID))
	res, err := h.gateway.Handle(ctx, raw, signed(raw))
	require.NoError(t, err)
	assert.Equal(t, EventStatusProcessed, res.Status)
	assert.Equal(t, models.PaymentStatusPaid, h.order(t, orderID).PaymentStatus)

	raw = []byte(fmt.Sprintf(`{"type":"refund.succeeded","data":{"id":%q}}`, chargeID))
	res, err = h.gateway.Handle(ctx, raw, signed(raw))
	require.NoError(t, err)
	assert.Equal(t, EventStatusProcessed, res.Status)
	assert.NotEqual(t, chargeID, res.EventID)
	assert.Equal(t, models.PaymentStatusRefunded, h.order(t, orderID).PaymentStatus)

	// A redelivery of the same refund body is still deduplicated.
	res, err = h.gateway.Handle(ctx, raw, signed(raw))
	require.NoError(t, err)
	assert.Equal(t, EventStatusDuplicate, res.Status)
}

func TestWebhookRejectsBadPayload(t *testing.T) {
	h := newHarness(t)
	raw := []byte(`not json`)
	_, err := h.gateway.Handle(context.Background(), raw, signed(raw))
	assert.Equal(t, http.StatusBadRequest, apperr.StatusOf(err))
}

func TestSimulatePayment(t *testing.T) {
	h := newHarness(t)
	orderID := h.pendingItemOrder(t)
	chargeID := h.order(t, orderID).ProviderChargeID

	res, err := h.gateway.Simulate(context.Background(), chargeID)
	require.NoError(t, err)
	assert.Equal(t, EventStatusProcessed, res.Status)
	assert.Equal(t, []string{chargeID}, h.provider.simulated)
	assert.Equal(t, models.PurchaseStatusPurchased, h.order(t, orderID).PurchaseStatus)

	_, err = h.gateway.Simulate(context.Background(), "")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}
