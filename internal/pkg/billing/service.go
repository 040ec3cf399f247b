package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/passgate/passgate/app/models"
	"github.com/passgate/passgate/internal/pkg/abacatepay"
	"github.com/passgate/passgate/internal/pkg/apperr"
	"github.com/passgate/passgate/internal/pkg/idempotency"
	"github.com/passgate/passgate/internal/pkg/metrics/counter"
	"github.com/passgate/passgate/internal/pkg/pricing"
	"github.com/passgate/passgate/internal/pkg/roblox"
)

const (
	DefaultMinChargeCents = 100
	DefaultReplayWindow   = 6 * time.Hour
	DefaultStaleAfter     = 15 * time.Minute
	chargeExpiry          = 900 * time.Second
)

type Options struct {
	MinChargeCents int64
	ReplayWindow   time.Duration
	// StaleAfter is how long a purchase may stay pending before the sweeper fails it.
	StaleAfter time.Duration
	Counter    counter.Recorder
	// Claims serializes buy-now purchases of the same item and price.
	Claims idempotency.Claimer
	Now    func() time.Time
}

// Service drives orders from charge creation through payment to the platform purchase.
type Service struct {
	repo       Repository
	platform   Platform
	provider   PaymentProvider
	pricing    PricingSource
	buyers     BuyerDirectory
	dispatcher Dispatcher
	counter    counter.Recorder
	claims     idempotency.Claimer
	opts       Options
}

// NewService creates a reconciliation service. Purchases run inline until SetDispatcher is called.
func NewService(repo Repository, platform Platform, provider PaymentProvider, prices PricingSource, buyers BuyerDirectory, opts Options) *Service {
	if opts.MinChargeCents <= 0 {
		opts.MinChargeCents = DefaultMinChargeCents
	}
	if opts.ReplayWindow <= 0 {
		opts.ReplayWindow = DefaultReplayWindow
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.Counter == nil {
		opts.Counter = counter.Nop{}
	}
	if opts.Claims == nil {
		opts.Claims = idempotency.NewMemoryClaimer()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	s := &Service{
		repo:     repo,
		platform: platform,
		provider: provider,
		pricing:  prices,
		buyers:   buyers,
		counter:  opts.Counter,
		claims:   opts.Claims,
		opts:     opts,
	}
	s.dispatcher = InlineDispatcher{svc: s}
	return s
}

func (s *Service) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

func (s *Service) now() time.Time {
	return s.opts.Now()
}

func (s *Service) count(ctx context.Context, outcome string) {
	if err := s.counter.Add(ctx, outcome); err != nil {
		log.Debugf("[Billing] counter %s: %v", outcome, err)
	}
}

// Pricing returns the active pricing settings.
func (s *Service) Pricing() (models.PricingSettings, error) {
	p, err := s.pricing.GetPricing()
	if err != nil {
		return p, apperr.Internal("settings_unavailable", err)
	}
	return p, nil
}

// ResolveItem returns the live quote for a Game Pass.
func (s *Service) ResolveItem(ctx context.Context, itemID int64) (*roblox.PriceQuote, error) {
	if itemID <= 0 {
		return nil, apperr.Validation("invalid_item_id", "item id must be positive")
	}
	quote, err := s.platform.ResolveItem(ctx, itemID)
	if err != nil {
		return nil, classifyPlatformError("resolve_failed", err)
	}
	return quote, nil
}

// ListItems lists the Game Passes of an experience, empty on upstream failure.
func (s *Service) ListItems(ctx context.Context, experienceID int64) []roblox.CollectionItem {
	items := s.platform.ListItemsForCollection(ctx, experienceID)
	if items == nil {
		return []roblox.CollectionItem{}
	}
	return items
}

// CreateCharge prices an order, stores it pending and opens the PIX charge for it.
func (s *Service) CreateCharge(ctx context.Context, in CreateChargeInput) (*ChargeResult, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return nil, apperr.Validation("invalid_body", "userId is required")
	}
	prices, err := s.Pricing()
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		UserID:         strings.TrimSpace(in.UserID),
		Route:          models.OrderRouteCharge,
		PaymentStatus:  models.PaymentStatusPending,
		PurchaseStatus: models.PurchaseStatusNone,
	}

	quantity := in.NetQuantity
	if in.ItemID > 0 {
		quote, err := s.ResolveItem(ctx, in.ItemID)
		if err != nil {
			return nil, err
		}
		if in.SellerID > 0 && in.SellerID != quote.SellerID {
			return nil, apperr.UpstreamRejected("seller_mismatch", "item %d is sold by %d", in.ItemID, quote.SellerID).
				WithDetail("detected", quote.SellerID)
		}
		quantity = quote.Price
		order.ItemID = ptr(in.ItemID)
		order.CatalogProductID = ptr(quote.ProductID)
		order.SellerID = ptr(quote.SellerID)
	}
	if quantity <= 0 {
		return nil, apperr.Validation("invalid_amount", "quantity must be positive")
	}
	if in.BuyerID > 0 {
		order.BuyerExternalID = ptr(in.BuyerID)
	} else if b := s.linkedBuyer(order.UserID); b != nil {
		order.BuyerExternalID = ptr(b.ExternalID)
	}

	order.TargetQuantity = quantity
	order.AmountMinorUnits = pricing.WithMinimum(pricing.ChargeAmount(quantity, prices.UnitSalePrice), s.opts.MinChargeCents)

	if err := s.repo.CreateOrder(ctx, order); err != nil {
		return nil, apperr.Internal("order_insert_failed", err)
	}

	metadata := map[string]string{
		"order_id": order.ID,
		"user_id":  order.UserID,
	}
	if order.HasItem() {
		metadata["item_id"] = strconv.FormatInt(*order.ItemID, 10)
		metadata["expected_price"] = strconv.FormatInt(order.TargetQuantity, 10)
	}
	charge, err := s.provider.CreateCharge(ctx, abacatepay.ChargeRequest{
		AmountMinor: order.AmountMinorUnits,
		OrderID:     order.ID,
		Description: "Order " + order.ID,
		Metadata:    metadata,
		ExpiresIn:   chargeExpiry,
	})
	if err != nil {
		// No charge exists, the order can never be paid.
		if _, terr := s.repo.TransitionPayment(context.WithoutCancel(ctx), order.ID,
			[]string{models.PaymentStatusPending}, models.PaymentStatusFailed, s.now()); terr != nil {
			log.Errorf("[Billing] Failed to close order %s after charge error: %v", order.ID, terr)
		}
		return nil, apperr.UpstreamTransient("charge_failed", err).WithStatus(502)
	}
	if err := s.repo.SetProviderChargeID(ctx, order.ID, charge.ID); err != nil {
		return nil, apperr.Internal("order_update_failed", err)
	}
	s.count(ctx, counter.ChargeCreated)
	log.Infof("[Billing] Order %s charged %d cents for %d units (charge %s)", order.ID, order.AmountMinorUnits, order.TargetQuantity, charge.ID)

	return &ChargeResult{
		OrderID:          order.ID,
		ProviderChargeID: charge.ID,
		QRImage:          charge.QRImage,
		CopyPasteCode:    charge.CopyPaste,
		AmountMinor:      order.AmountMinorUnits,
		TargetQuantity:   order.TargetQuantity,
	}, nil
}

// ConfirmPayment marks a pending order paid and hands item orders to the dispatcher.
//
// It returns whether this call performed the transition. An order that is already paid but whose
// purchase never started is dispatched again; ClaimPurchase keeps that at most one purchase.
func (s *Service) ConfirmPayment(ctx context.Context, orderID string) (bool, error) {
	applied, err := s.repo.TransitionPayment(ctx, orderID, []string{models.PaymentStatusPending}, models.PaymentStatusPaid, s.now())
	if err != nil {
		return false, err
	}
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return applied, err
	}
	if applied {
		s.count(ctx, counter.PaymentConfirmed)
		log.Infof("[Billing] Order %s paid", orderID)
	}
	if order.PaymentStatus != models.PaymentStatusPaid || !order.HasItem() || order.PurchaseStatus != models.PurchaseStatusNone {
		return applied, nil
	}
	if err := s.dispatcher.DispatchPurchase(ctx, orderID); err != nil {
		return applied, fmt.Errorf("dispatch purchase for order %s: %w", orderID, err)
	}
	return applied, nil
}

// FailPayment moves a pending order to failed. Purchase state is untouched.
func (s *Service) FailPayment(ctx context.Context, orderID string) (bool, error) {
	applied, err := s.repo.TransitionPayment(ctx, orderID, []string{models.PaymentStatusPending}, models.PaymentStatusFailed, s.now())
	if applied {
		s.count(ctx, counter.PaymentFailed)
		log.Infof("[Billing] Order %s payment failed", orderID)
	}
	return applied, err
}

// RefundPayment moves a paid order to refunded. Purchase state is untouched.
func (s *Service) RefundPayment(ctx context.Context, orderID string) (bool, error) {
	applied, err := s.repo.TransitionPayment(ctx, orderID, []string{models.PaymentStatusPaid}, models.PaymentStatusRefunded, s.now())
	if applied {
		s.count(ctx, counter.PaymentRefunded)
		log.Infof("[Billing] Order %s refunded", orderID)
	}
	return applied, err
}

// OrderStatus returns an order and, when linked, its buyer.
func (s *Service) OrderStatus(ctx context.Context, orderID string) (*models.Order, *models.Buyer, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if errors.Is(err, ErrOrderNotFound) {
		return nil, nil, apperr.Validation("order_not_found", "order %s not found", orderID).WithStatus(404)
	}
	if err != nil {
		return nil, nil, apperr.Internal("order_lookup_failed", err)
	}
	return order, s.linkedBuyer(order.UserID), nil
}

// LinkBuyer resolves a platform username and stores it for userID.
func (s *Service) LinkBuyer(ctx context.Context, userID, username string) (*models.Buyer, error) {
	userID = strings.TrimSpace(userID)
	username = strings.TrimSpace(username)
	if userID == "" || username == "" {
		return nil, apperr.Validation("invalid_body", "userId and username are required")
	}
	u, err := s.platform.LookupUsername(ctx, username)
	if err != nil {
		return nil, classifyPlatformError("username_lookup_failed", err)
	}
	if u == nil {
		return nil, apperr.Validation("username_not_found", "no account named %s", username).WithStatus(404)
	}
	buyer := &models.Buyer{UserID: userID, Username: u.Name, ExternalID: u.ID}
	if buyer.Username == "" {
		buyer.Username = username
	}
	if err := s.buyers.Link(buyer); err != nil {
		return nil, apperr.Internal("buyer_link_failed", err)
	}
	return buyer, nil
}

// Diagnostics reports whether the platform session works.
func (s *Service) Diagnostics(ctx context.Context) map[string]any {
	out := map[string]any{"ok": false}
	me, err := s.platform.WhoAmI(ctx)
	if err != nil {
		out["error"] = apperr.CodeOf(classifyPlatformError("whoami_failed", err))
		return out
	}
	out["ok"] = true
	out["user"] = me
	return out
}

// FailStalePurchases fails purchases stuck in pending past StaleAfter so they carry a visible reason.
func (s *Service) FailStalePurchases(ctx context.Context) (int, error) {
	now := s.now()
	stale, err := s.repo.ListStalePurchases(ctx, now.Add(-s.opts.StaleAfter), 100)
	if err != nil {
		return 0, err
	}
	failed := 0
	for _, o := range stale {
		ok, err := s.repo.FinishPurchase(ctx, o.ID, PurchaseOutcome{
			Status: models.PurchaseStatusFailed,
			Error:  ReasonPurchaseInterrupted,
		}, now)
		if err != nil {
			return failed, err
		}
		if ok {
			failed++
			s.count(ctx, counter.PurchaseFailed)
			log.Warnf("[Billing] Order %s purchase stuck since %v, marked failed", o.ID, o.PurchaseStartedAt)
		}
	}
	return failed, nil
}

func (s *Service) linkedBuyer(userID string) *models.Buyer {
	if userID == "" || s.buyers == nil {
		return nil
	}
	b, err := s.buyers.GetByUserID(userID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("[Billing] Buyer lookup for %s failed: %v", userID, err)
		}
		return nil
	}
	return b
}

// classifyPlatformError maps platform client failures to application errors.
func classifyPlatformError(code string, err error) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, roblox.ErrMissingCookie), errors.Is(err, roblox.ErrSessionInvalid):
		return apperr.Wrap(apperr.UpstreamRejected(ReasonSessionInvalid, ""), err).WithStatus(401)
	case errors.Is(err, context.DeadlineExceeded):
		return apperr.UpstreamTransient("timeout", err).WithStatus(504)
	}
	var re *roblox.ResolveError
	if errors.As(err, &re) {
		return apperr.UpstreamTransient(code, err).WithStatus(502)
	}
	return apperr.UpstreamTransient(code, err)
}

func ptr[T any](v T) *T {
	return &v
}
