package billing

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passgate/passgate/app/models"
	"github.com/passgate/passgate/internal/pkg/apperr"
	"github.com/passgate/passgate/internal/pkg/metrics/counter"
	"github.com/passgate/passgate/internal/pkg/roblox"
)

func TestCreateChargeForItemUsesLiveCatalogPrice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.svc.CreateCharge(ctx, CreateChargeInput{UserID: "user-1", ItemID: 42})
	require.NoError(t, err)

	assert.Equal(t, int64(500), res.TargetQuantity)
	assert.Equal(t, int64(10000), res.AmountMinor, "500 units at 0.20")
	assert.NotEmpty(t, res.ProviderChargeID)
	assert.Equal(t, "00020101", res.CopyPasteCode)

	o := h.order(t, res.OrderID)
	assert.Equal(t, models.PaymentStatusPending, o.PaymentStatus)
	assert.Equal(t, models.PurchaseStatusNone, o.PurchaseStatus)
	assert.Equal(t, res.ProviderChargeID, o.ProviderChargeID)
	require.NotNil(t, o.CatalogProductID)
	assert.Equal(t, int64(9001), *o.CatalogProductID)
	require.NotNil(t, o.SellerID)
	assert.Equal(t, int64(77), *o.SellerID)

	require.Len(t, h.provider.requests, 1)
	req := h.provider.requests[0]
	assert.Equal(t, res.OrderID, req.Metadata["order_id"])
	assert.Equal(t, "500", req.Metadata["expected_price"])
	assert.Equal(t, 900*time.Second, req.ExpiresIn)
}

func TestCreateChargeAppliesMinimum(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.CreateCharge(context.Background(), CreateChargeInput{UserID: "user-1", NetQuantity: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.AmountMinor)
	assert.False(t, h.order(t, res.OrderID).HasItem())
}

func TestCreateChargeUsesStoredPricing(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.repos.Setting.SavePricing(models.PricingSettings{UnitSalePrice: 0.25, GrossUnitCost: 0.035}))

	res, err := h.svc.CreateCharge(context.Background(), CreateChargeInput{UserID: "user-1", NetQuantity: 1000})
	require.NoError(t, err)
	assert.Equal(t, int64(25000), res.AmountMinor)
}

func TestCreateChargeValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.CreateCharge(ctx, CreateChargeInput{NetQuantity: 10})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = h.svc.CreateCharge(ctx, CreateChargeInput{UserID: "u"})
	assert.True(t, apperr.Is(err, "invalid_amount"))

	_, err = h.svc.CreateCharge(ctx, CreateChargeInput{UserID: "u", ItemID: 42, SellerID: 5})
	assert.True(t, apperr.Is(err, ReasonSellerMismatch))
	assert.Empty(t, h.provider.requests)
}

func TestCreateChargeProviderFailureClosesOrder(t *testing.T) {
	h := newHarness(t)
	h.provider.createErr = errBoom

	_, err := h.svc.CreateCharge(context.Background(), CreateChargeInput{UserID: "user-1", NetQuantity: 500})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, "charge_failed"))
	assert.Equal(t, http.StatusBadGateway, apperr.StatusOf(err))

	require.Len(t, h.provider.requests, 1)
	o := h.order(t, h.provider.requests[0].OrderID)
	assert.Equal(t, models.PaymentStatusFailed, o.PaymentStatus)
}

func TestCreateChargeResolveFailure(t *testing.T) {
	h := newHarness(t)
	h.platform.resolveEr = &roblox.ResolveError{ItemID: 42, Err: errBoom}

	_, err := h.svc.CreateCharge(context.Background(), CreateChargeInput{UserID: "user-1", ItemID: 42})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, "resolve_failed"))
	assert.Empty(t, h.provider.requests)
}

func TestConfirmPaymentPurchasesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res, err := h.svc.CreateCharge(ctx, CreateChargeInput{UserID: "user-1", ItemID: 42})
	require.NoError(t, err)

	applied, err := h.svc.ConfirmPayment(ctx, res.OrderID)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = h.svc.ConfirmPayment(ctx, res.OrderID)
	require.NoError(t, err)
	assert.False(t, applied)

	o := h.order(t, res.OrderID)
	assert.Equal(t, models.PaymentStatusPaid, o.PaymentStatus)
	assert.NotNil(t, o.PaidAt)
	assert.Equal(t, models.PurchaseStatusPurchased, o.PurchaseStatus)
	assert.Equal(t, "rcpt-1", o.PurchaseReceiptID)
	assert.NotNil(t, o.PurchasedAt)
	assert.Equal(t, int32(1), h.platform.purchases.Load())
}

func TestConfirmPaymentWithoutItemDoesNotPurchase(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res, err := h.svc.CreateCharge(ctx, CreateChargeInput{UserID: "user-1", NetQuantity: 500})
	require.NoError(t, err)

	_, err = h.svc.ConfirmPayment(ctx, res.OrderID)
	require.NoError(t, err)
	o := h.order(t, res.OrderID)
	assert.Equal(t, models.PaymentStatusPaid, o.PaymentStatus)
	assert.Equal(t, models.PurchaseStatusNone, o.PurchaseStatus)
	assert.Zero(t, h.platform.purchases.Load())
}

func TestPaymentTransitions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res, err := h.svc.CreateCharge(ctx, CreateChargeInput{UserID: "user-1", NetQuantity: 500})
	require.NoError(t, err)

	// Refund only applies to paid orders.
	applied, err := h.svc.RefundPayment(ctx, res.OrderID)
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = h.svc.FailPayment(ctx, res.OrderID)
	require.NoError(t, err)
	assert.True(t, applied)

	// Failed is terminal.
	applied, err = h.svc.ConfirmPayment(ctx, res.OrderID)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, models.PaymentStatusFailed, h.order(t, res.OrderID).PaymentStatus)

	paid := h.paidItemOrder(t, func(o *models.Order) { o.ItemID = nil })
	applied, err = h.svc.RefundPayment(ctx, paid.ID)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, models.PaymentStatusRefunded, h.order(t, paid.ID).PaymentStatus)
	assert.Equal(t, models.PurchaseStatusNone, h.order(t, paid.ID).PurchaseStatus)
}

func TestFulfillPriceMismatchNeverPurchases(t *testing.T) {
	h := newHarness(t)
	h.platform.quote.Price = 480
	o := h.paidItemOrder(t, nil)

	res, err := h.svc.Fulfill(context.Background(), o.ID)
	require.NoError(t, err)
	assert.True(t, res.Attempted)
	assert.True(t, apperr.Is(res.Err, ReasonPriceMismatch))
	assert.Equal(t, models.PurchaseStatusFailed, res.Order.PurchaseStatus)
	assert.Contains(t, res.Order.PurchaseError, ReasonPriceMismatch)
	assert.Zero(t, h.platform.purchases.Load())

	snap, _ := h.counter.Snapshot(context.Background())
	assert.Equal(t, int64(1), snap[counter.PurchaseMismatch])
}

func TestFulfillSellerMismatch(t *testing.T) {
	h := newHarness(t)
	h.platform.quote.SellerID = 99
	o := h.paidItemOrder(t, nil)

	res, err := h.svc.Fulfill(context.Background(), o.ID)
	require.NoError(t, err)
	assert.True(t, apperr.Is(res.Err, ReasonSellerMismatch))
	assert.Equal(t, models.PurchaseStatusFailed, res.Order.PurchaseStatus)
	assert.Zero(t, h.platform.purchases.Load())
}

func TestFulfillAlreadyOwned(t *testing.T) {
	h := newHarness(t)
	h.platform.ownership = roblox.OwnershipOwned
	o := h.paidItemOrder(t, func(o *models.Order) { o.BuyerExternalID = ptr(int64(555)) })

	res, err := h.svc.Fulfill(context.Background(), o.ID)
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.Equal(t, models.PurchaseStatusPurchased, res.Order.PurchaseStatus)
	assert.Equal(t, models.PurchaseReasonAlreadyOwned, res.Order.PurchaseError)
	assert.Empty(t, res.Order.PurchaseReceiptID)
	assert.Zero(t, h.platform.purchases.Load())
	assert.Zero(t, h.platform.resolves.Load())
}

func TestFulfillUnknownOwnershipStillPurchases(t *testing.T) {
	h := newHarness(t)
	h.platform.ownership = roblox.OwnershipUnknown
	o := h.paidItemOrder(t, func(o *models.Order) { o.BuyerExternalID = ptr(int64(555)) })

	res, err := h.svc.Fulfill(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseStatusPurchased, res.Order.PurchaseStatus)
	assert.Equal(t, int32(1), h.platform.purchases.Load())
}

func TestFulfillInvalidSession(t *testing.T) {
	h := newHarness(t)
	h.platform.whoAmIErr = roblox.ErrSessionInvalid
	o := h.paidItemOrder(t, nil)

	res, err := h.svc.Fulfill(context.Background(), o.ID)
	require.NoError(t, err)
	assert.True(t, apperr.Is(res.Err, ReasonSessionInvalid))
	assert.Equal(t, http.StatusUnauthorized, apperr.StatusOf(res.Err))
	assert.Equal(t, models.PurchaseStatusFailed, res.Order.PurchaseStatus)
	assert.Contains(t, res.Order.PurchaseError, ReasonSessionInvalid)
	assert.Zero(t, h.platform.purchases.Load())
}

func TestFulfillPurchaseFailureKeepsUpstreamText(t *testing.T) {
	h := newHarness(t)
	h.platform.buyErr = &roblox.PurchaseError{StatusCode: http.StatusForbidden, Body: `{"errors":[{"message":"Token Validation Failed"}]}`}
	o := h.paidItemOrder(t, nil)

	res, err := h.svc.Fulfill(context.Background(), o.ID)
	require.NoError(t, err)
	assert.True(t, apperr.Is(res.Err, ReasonPurchaseFailed))
	assert.Equal(t, http.StatusForbidden, apperr.StatusOf(res.Err))
	assert.Equal(t, models.PurchaseStatusFailed, res.Order.PurchaseStatus)
	assert.Contains(t, res.Order.PurchaseError, "Token Validation Failed")
	assert.Equal(t, int32(1), h.platform.purchases.Load())
}

func TestFulfillCancelledContextRecordsFailure(t *testing.T) {
	h := newHarness(t)
	h.platform.purchaseDelay = time.Second
	o := h.paidItemOrder(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res, err := h.svc.Fulfill(ctx, o.ID)
	require.NoError(t, err)
	require.Error(t, res.Err)

	stored := h.order(t, o.ID)
	assert.Equal(t, models.PurchaseStatusFailed, stored.PurchaseStatus)
	assert.NotEmpty(t, stored.PurchaseError)
}

func TestFulfillSkipsTerminalAndUnpaid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	done := h.paidItemOrder(t, func(o *models.Order) { o.PurchaseStatus = models.PurchaseStatusPurchased })
	res, err := h.svc.Fulfill(ctx, done.ID)
	require.NoError(t, err)
	assert.False(t, res.Attempted)

	unpaid := h.paidItemOrder(t, func(o *models.Order) { o.PaymentStatus = models.PaymentStatusPending; o.PaidAt = nil })
	res, err = h.svc.Fulfill(ctx, unpaid.ID)
	require.NoError(t, err)
	assert.False(t, res.Attempted)
	assert.Equal(t, models.PurchaseStatusNone, res.Order.PurchaseStatus)

	assert.Zero(t, h.platform.purchases.Load())
}

func TestFailStalePurchases(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.paidItemOrder(t, nil)

	started := time.Now().UTC().Add(-time.Hour)
	claimed, err := h.repo.ClaimPurchase(ctx, o.ID, started)
	require.NoError(t, err)
	require.True(t, claimed)

	fresh := h.paidItemOrder(t, nil)
	_, err = h.repo.ClaimPurchase(ctx, fresh.ID, time.Now().UTC())
	require.NoError(t, err)

	n, err := h.svc.FailStalePurchases(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stale := h.order(t, o.ID)
	assert.Equal(t, models.PurchaseStatusFailed, stale.PurchaseStatus)
	assert.Equal(t, ReasonPurchaseInterrupted, stale.PurchaseError)
	assert.Equal(t, models.PurchaseStatusPending, h.order(t, fresh.ID).PurchaseStatus)
}

func TestOrderStatusAndLinkBuyer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.platform.users["Builder"] = 321

	buyer, err := h.svc.LinkBuyer(ctx, "user-1", "Builder")
	require.NoError(t, err)
	assert.Equal(t, int64(321), buyer.ExternalID)

	_, err = h.svc.LinkBuyer(ctx, "user-1", "ghost")
	assert.True(t, apperr.Is(err, "username_not_found"))

	o := h.paidItemOrder(t, nil)
	got, user, err := h.svc.OrderStatus(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	require.NotNil(t, user)
	assert.Equal(t, "Builder", user.Username)

	_, _, err = h.svc.OrderStatus(ctx, "missing")
	assert.Equal(t, http.StatusNotFound, apperr.StatusOf(err))
}

func TestCreateChargeUsesLinkedBuyer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.platform.users["Builder"] = 321
	_, err := h.svc.LinkBuyer(ctx, "user-1", "Builder")
	require.NoError(t, err)

	res, err := h.svc.CreateCharge(ctx, CreateChargeInput{UserID: "user-1", ItemID: 42})
	require.NoError(t, err)
	o := h.order(t, res.OrderID)
	require.NotNil(t, o.BuyerExternalID)
	assert.Equal(t, int64(321), *o.BuyerExternalID)
}
