package billing

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/passgate/passgate/app/models"
	"github.com/passgate/passgate/internal/pkg/apperr"
	"github.com/passgate/passgate/internal/pkg/metrics/counter"
	"github.com/passgate/passgate/internal/pkg/pricing"
)

// BuyNow purchases an item directly, without a PIX charge.
//
// The live quote must match expectedPrice (and the seller, when given). An identical item and price
// purchased within the replay window returns that earlier order instead of buying again.
// Concurrent calls for the same item and price are serialized by a claim, and the loser gets a conflict.
func (s *Service) BuyNow(ctx context.Context, in BuyNowInput) (*BuyNowResult, error) {
	if in.ItemID <= 0 {
		return nil, apperr.Validation("invalid_item_id", "item id must be positive")
	}
	if in.ExpectedPrice <= 0 {
		return nil, apperr.Validation("invalid_expected_price", "expectedPrice must be positive")
	}

	buyerID := s.resolveBuyer(ctx, in)

	quote, err := s.ResolveItem(ctx, in.ItemID)
	if err != nil {
		return nil, err
	}
	if quote.Price != in.ExpectedPrice {
		s.count(ctx, counter.PurchaseMismatch)
		return nil, apperr.UpstreamRejected(ReasonPriceMismatch, "expected %d, catalog has %d", in.ExpectedPrice, quote.Price).
			WithDetail("detected", quote.Price)
	}
	if in.SellerID > 0 && in.SellerID != quote.SellerID {
		s.count(ctx, counter.PurchaseMismatch)
		return nil, apperr.UpstreamRejected(ReasonSellerMismatch, "expected %d, catalog has %d", in.SellerID, quote.SellerID).
			WithDetail("detected", quote.SellerID)
	}

	key := buyNowKey(in.ItemID, in.ExpectedPrice)
	claimed, err := s.claims.Claim(ctx, key, buyNowClaimTTL)
	if err != nil {
		return nil, apperr.Internal("purchase_claim_failed", err)
	}
	if !claimed {
		return nil, apperr.Conflict(ReasonPurchaseInProgress, "item %d at %d is already being purchased", in.ItemID, in.ExpectedPrice)
	}
	defer func() {
		if err := s.claims.Release(context.WithoutCancel(ctx), key); err != nil {
			log.Warnf("[Purchase] Release claim %s: %v", key, err)
		}
	}()

	now := s.now()
	recent, err := s.repo.FindRecentPurchase(ctx, in.ItemID, in.ExpectedPrice, now.Add(-s.opts.ReplayWindow))
	if err != nil {
		return nil, apperr.Internal("order_lookup_failed", err)
	}
	if recent != nil {
		s.count(ctx, counter.PurchaseReplayed)
		log.Infof("[Purchase] Item %d at %d already purchased by order %s, replaying", in.ItemID, in.ExpectedPrice, recent.ID)
		status := BuyNowStatusAlreadyPurchased
		if recent.PurchaseError == models.PurchaseReasonAlreadyOwned {
			status = BuyNowStatusAlreadyOwned
		}
		return &BuyNowResult{Status: status, OrderID: recent.ID, ReceiptID: recent.PurchaseReceiptID}, nil
	}

	prices, err := s.Pricing()
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		UserID:           strings.TrimSpace(in.UserID),
		Route:            models.OrderRouteBuyNow,
		AmountMinorUnits: pricing.WithMinimum(pricing.ChargeAmount(in.ExpectedPrice, prices.UnitSalePrice), s.opts.MinChargeCents),
		TargetQuantity:   in.ExpectedPrice,
		ItemID:           ptr(in.ItemID),
		CatalogProductID: ptr(quote.ProductID),
		SellerID:         ptr(quote.SellerID),
		PaymentStatus:    models.PaymentStatusPaid,
		PurchaseStatus:   models.PurchaseStatusNone,
		PaidAt:           &now,
	}
	if buyerID > 0 {
		order.BuyerExternalID = ptr(buyerID)
	}
	if err := s.repo.CreateOrder(ctx, order); err != nil {
		return nil, apperr.Internal("order_insert_failed", err)
	}

	res, err := s.Fulfill(ctx, order.ID)
	if err != nil {
		return nil, apperr.Internal("purchase_record_failed", err)
	}
	if res.Err != nil {
		if e, ok := apperr.As(res.Err); ok {
			return nil, e.WithDetail("orderId", order.ID)
		}
		return nil, res.Err
	}

	final := res.Order
	if final.PurchaseError == models.PurchaseReasonAlreadyOwned {
		return &BuyNowResult{Status: BuyNowStatusAlreadyOwned, OrderID: order.ID}, nil
	}
	return &BuyNowResult{Status: BuyNowStatusOK, OrderID: order.ID, ReceiptID: final.PurchaseReceiptID}, nil
}

// buyNowClaimTTL bounds how long a crashed instance can hold a buy-now claim.
const buyNowClaimTTL = 2 * time.Minute

func buyNowKey(itemID, price int64) string {
	return "buynow:" + strconv.FormatInt(itemID, 10) + ":" + strconv.FormatInt(price, 10)
}

// resolveBuyer prefers an explicit id, then a linked buyer, then the platform's username lookup.
// Zero means unknown, and ownership is then not checked.
func (s *Service) resolveBuyer(ctx context.Context, in BuyNowInput) int64 {
	if in.BuyerID > 0 {
		return in.BuyerID
	}
	name := strings.TrimSpace(in.BuyerUsername)
	if name == "" {
		return 0
	}
	if s.buyers != nil {
		b, err := s.buyers.GetByUsername(name)
		if err == nil && b.ExternalID > 0 {
			return b.ExternalID
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("[Purchase] Buyer lookup for %q failed: %v", name, err)
		}
	}
	u, err := s.platform.LookupUsername(ctx, name)
	if err != nil {
		log.Warnf("[Purchase] Username lookup for %q failed: %v", name, err)
		return 0
	}
	if u == nil {
		return 0
	}
	return u.ID
}
