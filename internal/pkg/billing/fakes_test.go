package billing

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/passgate/passgate/app/models"
	"github.com/passgate/passgate/app/repository"
	"github.com/passgate/passgate/internal/pkg/abacatepay"
	"github.com/passgate/passgate/internal/pkg/database/dbtest"
	"github.com/passgate/passgate/internal/pkg/metrics/counter"
	"github.com/passgate/passgate/internal/pkg/roblox"
)

type fakePlatform struct {
	mu        sync.Mutex
	quote     *roblox.PriceQuote
	resolveEr error
	ownership roblox.Ownership
	whoAmIErr error
	receipt   string
	buyErr    error
	// purchaseDelay simulates a slow upstream so concurrent callers overlap.
	purchaseDelay time.Duration
	users         map[string]int64

	purchases atomic.Int32
	resolves  atomic.Int32
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		quote:     &roblox.PriceQuote{ProductID: 9001, Price: 500, SellerID: 77},
		ownership: roblox.OwnershipNotOwned,
		receipt:   "rcpt-1",
		users:     map[string]int64{},
	}
}

func (f *fakePlatform) ResolveItem(ctx context.Context, itemID int64) (*roblox.PriceQuote, error) {
	f.resolves.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolveEr != nil {
		return nil, f.resolveEr
	}
	q := *f.quote
	return &q, nil
}

func (f *fakePlatform) ListItemsForCollection(ctx context.Context, collectionID int64) []roblox.CollectionItem {
	return []roblox.CollectionItem{{ID: 1, Name: "VIP"}}
}

func (f *fakePlatform) Purchase(ctx context.Context, productID, expectedPrice, expectedSellerID int64) (*roblox.Receipt, error) {
	f.purchases.Add(1)
	if f.purchaseDelay > 0 {
		select {
		case <-time.After(f.purchaseDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buyErr != nil {
		return nil, f.buyErr
	}
	return &roblox.Receipt{ID: f.receipt}, nil
}

func (f *fakePlatform) CheckOwnership(ctx context.Context, userID, itemID int64) (roblox.Ownership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ownership, nil
}

func (f *fakePlatform) WhoAmI(ctx context.Context) (*roblox.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.whoAmIErr != nil {
		return nil, f.whoAmIErr
	}
	return &roblox.User{ID: 1, Name: "shop"}, nil
}

func (f *fakePlatform) LookupUsername(ctx context.Context, username string) (*roblox.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.users[username]; ok {
		return &roblox.User{ID: id, Name: username}, nil
	}
	return nil, nil
}

type fakeProvider struct {
	mu        sync.Mutex
	requests  []abacatepay.ChargeRequest
	createErr error
	simulated []string
}

func (p *fakeProvider) CreateCharge(ctx context.Context, req abacatepay.ChargeRequest) (*abacatepay.Charge, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.createErr != nil {
		return nil, p.createErr
	}
	return &abacatepay.Charge{
		ID:          "pix_" + req.OrderID[:8],
		AmountMinor: req.AmountMinor,
		Status:      "PENDING",
		QRImage:     "data:image/png;base64,AAAA",
		CopyPaste:   "00020101",
	}, nil
}

func (p *fakeProvider) SimulatePayment(ctx context.Context, chargeID string) (map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.simulated = append(p.simulated, chargeID)
	return map[string]any{"status": "PAID"}, nil
}

type harness struct {
	svc      *Service
	repo     Repository
	repos    *repository.Repositories
	platform *fakePlatform
	provider *fakeProvider
	counter  *counter.MemoryCounter
	gateway  *Gateway
}

const testWebhookSecret = "whsec"

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := dbtest.New(t)
	repos := repository.NewRepositories(db)
	h := &harness{
		repo:     NewRepository(db),
		repos:    repos,
		platform: newFakePlatform(),
		provider: &fakeProvider{},
		counter:  counter.NewMemoryCounter(),
	}
	h.svc = NewService(h.repo, h.platform, h.provider, repos.Setting, repos.Buyer, Options{Counter: h.counter})
	h.gateway = NewGateway(h.svc, nil, testWebhookSecret, 0)
	return h
}

// paidItemOrder stores an order for item 42 at 500 that is already paid but not yet purchased.
func (h *harness) paidItemOrder(t *testing.T, mutate func(*models.Order)) *models.Order {
	t.Helper()
	now := time.Now().UTC()
	o := &models.Order{
		UserID:           "user-1",
		AmountMinorUnits: 10000,
		TargetQuantity:   500,
		ItemID:           ptr(int64(42)),
		SellerID:         ptr(int64(77)),
		PaymentStatus:    models.PaymentStatusPaid,
		PurchaseStatus:   models.PurchaseStatusNone,
		PaidAt:           &now,
	}
	if mutate != nil {
		mutate(o)
	}
	if err := h.repo.CreateOrder(context.Background(), o); err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

func (h *harness) order(t *testing.T, id string) *models.Order {
	t.Helper()
	o, err := h.repo.GetOrder(context.Background(), id)
	if err != nil {
		t.Fatalf("get order %s: %v", id, err)
	}
	return o
}

var errBoom = errors.New("boom")
