package billing

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passgate/passgate/app/models"
	"github.com/passgate/passgate/internal/pkg/apperr"
	"github.com/passgate/passgate/internal/pkg/roblox"
)

func TestBuyNowPurchases(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.BuyNow(context.Background(), BuyNowInput{ItemID: 42, ExpectedPrice: 500})
	require.NoError(t, err)
	assert.Equal(t, BuyNowStatusOK, res.Status)
	assert.Equal(t, "rcpt-1", res.ReceiptID)

	o := h.order(t, res.OrderID)
	assert.Equal(t, models.OrderRouteBuyNow, o.Route)
	assert.Equal(t, models.PaymentStatusPaid, o.PaymentStatus)
	assert.Equal(t, models.PurchaseStatusPurchased, o.PurchaseStatus)
	assert.Equal(t, int64(10000), o.AmountMinorUnits)
}

func TestBuyNowReplayWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.svc.BuyNow(ctx, BuyNowInput{ItemID: 42, ExpectedPrice: 500})
	require.NoError(t, err)

	second, err := h.svc.BuyNow(ctx, BuyNowInput{ItemID: 42, ExpectedPrice: 500})
	require.NoError(t, err)
	assert.Equal(t, BuyNowStatusAlreadyPurchased, second.Status)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, int32(1), h.platform.purchases.Load())
}

func TestBuyNowPriceMismatchReportsDetected(t *testing.T) {
	h := newHarness(t)
	h.platform.quote.Price = 480

	_, err := h.svc.BuyNow(context.Background(), BuyNowInput{ItemID: 42, ExpectedPrice: 500})
	require.Error(t, err)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, ReasonPriceMismatch, e.Code)
	assert.Equal(t, http.StatusConflict, e.Status())
	assert.Equal(t, int64(480), e.Details["detected"])
	assert.Zero(t, h.platform.purchases.Load())
}

func TestBuyNowSellerMismatch(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.BuyNow(context.Background(), BuyNowInput{ItemID: 42, ExpectedPrice: 500, SellerID: 1})
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, ReasonSellerMismatch, e.Code)
	assert.Equal(t, int64(77), e.Details["detected"])
}

func TestBuyNowAlreadyOwnedByUsername(t *testing.T) {
	h := newHarness(t)
	h.platform.ownership = roblox.OwnershipOwned
	h.platform.users["Builder"] = 321

	res, err := h.svc.BuyNow(context.Background(), BuyNowInput{ItemID: 42, ExpectedPrice: 500, BuyerUsername: "Builder"})
	require.NoError(t, err)
	assert.Equal(t, BuyNowStatusAlreadyOwned, res.Status)

	o := h.order(t, res.OrderID)
	require.NotNil(t, o.BuyerExternalID)
	assert.Equal(t, int64(321), *o.BuyerExternalID)
	assert.Zero(t, h.platform.purchases.Load())
}

func TestBuyNowPrefersLinkedBuyer(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.repos.Buyer.Link(&models.Buyer{UserID: "u9", Username: "Builder", ExternalID: 999}))
	h.platform.users["Builder"] = 321

	res, err := h.svc.BuyNow(context.Background(), BuyNowInput{ItemID: 42, ExpectedPrice: 500, BuyerUsername: "builder"})
	require.NoError(t, err)
	o := h.order(t, res.OrderID)
	require.NotNil(t, o.BuyerExternalID)
	assert.Equal(t, int64(999), *o.BuyerExternalID)
}

func TestBuyNowSessionInvalid(t *testing.T) {
	h := newHarness(t)
	h.platform.whoAmIErr = roblox.ErrSessionInvalid

	_, err := h.svc.BuyNow(context.Background(), BuyNowInput{ItemID: 42, ExpectedPrice: 500})
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, ReasonSessionInvalid, e.Code)
	assert.Equal(t, http.StatusUnauthorized, e.Status())
	require.NotEmpty(t, e.Details["orderId"])

	o := h.order(t, e.Details["orderId"].(string))
	assert.Equal(t, models.PurchaseStatusFailed, o.PurchaseStatus)
}

func TestBuyNowPurchaseRateLimited(t *testing.T) {
	h := newHarness(t)
	h.platform.buyErr = &roblox.PurchaseError{StatusCode: http.StatusTooManyRequests, Body: "slow down"}

	_, err := h.svc.BuyNow(context.Background(), BuyNowInput{ItemID: 42, ExpectedPrice: 500})
	assert.True(t, apperr.Is(err, ReasonPurchaseFailed))
	assert.Equal(t, http.StatusTooManyRequests, apperr.StatusOf(err))

	// A failed purchase does not count as a replayable success.
	h.platform.buyErr = nil
	res, err := h.svc.BuyNow(context.Background(), BuyNowInput{ItemID: 42, ExpectedPrice: 500})
	require.NoError(t, err)
	assert.Equal(t, BuyNowStatusOK, res.Status)
}

func TestBuyNowValidation(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.BuyNow(context.Background(), BuyNowInput{ItemID: 42})
	assert.True(t, apperr.Is(err, "invalid_expected_price"))
	_, err = h.svc.BuyNow(context.Background(), BuyNowInput{ExpectedPrice: 5})
	assert.True(t, apperr.Is(err, "invalid_item_id"))
}

func TestBuyNowConcurrentCallsBuyOnce(t *testing.T) {
	h := newHarness(t)
	h.platform.purchaseDelay = 100 * time.Millisecond

	var wg sync.WaitGroup
	results := make([]*BuyNowResult, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.svc.BuyNow(context.Background(), BuyNowInput{ItemID: 42, ExpectedPrice: 500})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), h.platform.purchases.Load())
	var bought int
	for i := range results {
		if errs[i] != nil {
			e, isApp := apperr.As(errs[i])
			require.True(t, isApp)
			assert.Equal(t, ReasonPurchaseInProgress, e.Code)
			assert.Equal(t, http.StatusConflict, e.Status())
			continue
		}
		if results[i].Status == BuyNowStatusOK {
			bought++
			continue
		}
		assert.Equal(t, BuyNowStatusAlreadyPurchased, results[i].Status)
	}
	assert.Equal(t, 1, bought)

	// The claim is released, so a later call replays the finished order.
	again, err := h.svc.BuyNow(context.Background(), BuyNowInput{ItemID: 42, ExpectedPrice: 500})
	require.NoError(t, err)
	assert.Equal(t, BuyNowStatusAlreadyPurchased, again.Status)
	assert.Equal(t, int32(1), h.platform.purchases.Load())
}

func TestBuyNowReplayOfOwnedItemReportsAlreadyOwned(t *testing.T) {
	h := newHarness(t)
	h.platform.ownership = roblox.OwnershipOwned
	ctx := context.Background()

	first, err := h.svc.BuyNow(ctx, BuyNowInput{ItemID: 42, ExpectedPrice: 500, BuyerID: 321})
	require.NoError(t, err)
	assert.Equal(t, BuyNowStatusAlreadyOwned, first.Status)
	assert.Empty(t, first.ReceiptID)

	o := h.order(t, first.OrderID)
	assert.Equal(t, models.PurchaseReasonAlreadyOwned, o.PurchaseError)
	assert.Empty(t, o.PurchaseReceiptID)

	second, err := h.svc.BuyNow(ctx, BuyNowInput{ItemID: 42, ExpectedPrice: 500, BuyerID: 321})
	require.NoError(t, err)
	assert.Equal(t, BuyNowStatusAlreadyOwned, second.Status)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Empty(t, second.ReceiptID)
}
