package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2/log"

	"github.com/passgate/passgate/app/models"
	"github.com/passgate/passgate/internal/pkg/apperr"
	"github.com/passgate/passgate/internal/pkg/metrics/counter"
	"github.com/passgate/passgate/internal/pkg/roblox"
)

// Failure reasons written to Order.PurchaseError.
const (
	ReasonPriceMismatch       = "price_mismatch"
	ReasonSellerMismatch      = "seller_mismatch"
	ReasonSessionInvalid      = "roblox_cookie_invalid_or_challenged"
	ReasonPurchaseInterrupted = "purchase_interrupted"
	ReasonPurchaseFailed      = "purchase_failed"
)

// ReasonPurchaseInProgress is returned when another buy-now call holds the item's claim.
const ReasonPurchaseInProgress = "purchase_in_progress"

// FulfillResult is what a fulfillment attempt left on the order.
type FulfillResult struct {
	Order *models.Order
	// Attempted is false when another caller owns, or already finished, the purchase.
	Attempted bool
	// Err is the classified purchase failure, nil when the order ended purchased.
	Err error
}

// Fulfill purchases the item of a paid order.
//
// The returned error is reserved for order store failures; purchase failures are written to the order
// and reported in FulfillResult.Err.
func (s *Service) Fulfill(ctx context.Context, orderID string) (*FulfillResult, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.HasItem() || order.PaymentStatus != models.PaymentStatusPaid || order.PurchaseStatus != models.PurchaseStatusNone {
		return &FulfillResult{Order: order}, nil
	}

	claimed, err := s.repo.ClaimPurchase(ctx, orderID, s.now())
	if err != nil {
		return nil, err
	}
	if !claimed {
		log.Infof("[Purchase] Order %s already claimed, skipping", orderID)
		order, err = s.repo.GetOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		return &FulfillResult{Order: order}, nil
	}

	outcome, failure := s.attemptPurchase(ctx, order)

	// The outcome is recorded even when the caller's context is gone.
	final := context.WithoutCancel(ctx)
	if _, err := s.repo.FinishPurchase(final, orderID, outcome, s.now()); err != nil {
		return nil, fmt.Errorf("record purchase outcome for order %s: %w", orderID, err)
	}
	order, err = s.repo.GetOrder(final, orderID)
	if err != nil {
		return nil, err
	}
	return &FulfillResult{Order: order, Attempted: true, Err: failure}, nil
}

func (s *Service) attemptPurchase(ctx context.Context, order *models.Order) (PurchaseOutcome, error) {
	itemID := *order.ItemID

	if order.BuyerExternalID != nil {
		owned, err := s.platform.CheckOwnership(ctx, *order.BuyerExternalID, itemID)
		if err != nil {
			log.Warnf("[Purchase] Ownership check for order %s failed, continuing: %v", order.ID, err)
		}
		if owned == roblox.OwnershipOwned {
			s.count(ctx, counter.PurchaseOwned)
			log.Infof("[Purchase] Order %s: buyer %d already owns item %d", order.ID, *order.BuyerExternalID, itemID)
			return PurchaseOutcome{Status: models.PurchaseStatusPurchased, Error: models.PurchaseReasonAlreadyOwned}, nil
		}
	}

	if _, err := s.platform.WhoAmI(ctx); err != nil {
		failure := classifyPlatformError(ReasonSessionInvalid, err)
		if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			failure = apperr.Wrap(apperr.UpstreamRejected(ReasonSessionInvalid, ""), err).WithStatus(http.StatusUnauthorized)
		}
		return s.failed(ctx, order, failure)
	}

	quote, err := s.platform.ResolveItem(ctx, itemID)
	if err != nil {
		return s.failed(ctx, order, classifyPlatformError("resolve_failed", err))
	}
	if quote.Price != order.TargetQuantity {
		s.count(ctx, counter.PurchaseMismatch)
		return s.failed(ctx, order, apperr.UpstreamRejected(ReasonPriceMismatch,
			"expected %d, catalog has %d", order.TargetQuantity, quote.Price).WithDetail("detected", quote.Price))
	}
	if order.SellerID != nil && *order.SellerID != quote.SellerID {
		s.count(ctx, counter.PurchaseMismatch)
		return s.failed(ctx, order, apperr.UpstreamRejected(ReasonSellerMismatch,
			"expected %d, catalog has %d", *order.SellerID, quote.SellerID).WithDetail("detected", quote.SellerID))
	}

	receipt, err := s.platform.Purchase(ctx, quote.ProductID, order.TargetQuantity, quote.SellerID)
	if err != nil {
		return s.failed(ctx, order, classifyPurchaseError(err))
	}
	s.count(ctx, counter.PurchaseSucceeded)
	log.Infof("[Purchase] Order %s purchased product %d for %d (receipt %q)", order.ID, quote.ProductID, order.TargetQuantity, receipt.ID)
	return PurchaseOutcome{Status: models.PurchaseStatusPurchased, ReceiptID: receipt.ID}, nil
}

func (s *Service) failed(ctx context.Context, order *models.Order, failure error) (PurchaseOutcome, error) {
	s.count(ctx, counter.PurchaseFailed)
	log.Warnf("[Purchase] Order %s failed: %v", order.ID, failure)
	return PurchaseOutcome{Status: models.PurchaseStatusFailed, Error: failure.Error()}, failure
}

// classifyPurchaseError keeps the upstream text and maps auth rejections to 403 and throttling to 429.
func classifyPurchaseError(err error) error {
	var pe *roblox.PurchaseError
	if errors.As(err, &pe) {
		status := http.StatusInternalServerError
		switch pe.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			status = http.StatusForbidden
		case http.StatusTooManyRequests:
			status = http.StatusTooManyRequests
		}
		return apperr.Wrap(apperr.UpstreamRejected(ReasonPurchaseFailed, ""), err).WithStatus(status)
	}
	return classifyPlatformError(ReasonPurchaseFailed, err)
}

// InlineDispatcher fulfills within the caller's request.
type InlineDispatcher struct {
	svc *Service
}

func (d InlineDispatcher) DispatchPurchase(ctx context.Context, orderID string) error {
	_, err := d.svc.Fulfill(ctx, orderID)
	return err
}
