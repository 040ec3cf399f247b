// Package billingtest provides in-memory stand-ins for the platform and payment provider.
package billingtest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/passgate/passgate/internal/pkg/abacatepay"
	"github.com/passgate/passgate/internal/pkg/roblox"
)

// Platform answers every item with Quote and records purchases.
type Platform struct {
	mu        sync.Mutex
	Quote     roblox.PriceQuote
	Ownership roblox.Ownership
	Users     map[string]int64
	WhoAmIErr error
	BuyErr    error

	Purchases atomic.Int32
}

func NewPlatform() *Platform {
	return &Platform{
		Quote:     roblox.PriceQuote{ProductID: 9001, Price: 500, SellerID: 77},
		Ownership: roblox.OwnershipNotOwned,
		Users:     map[string]int64{},
	}
}

func (p *Platform) ResolveItem(ctx context.Context, itemID int64) (*roblox.PriceQuote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	q := p.Quote
	return &q, nil
}

func (p *Platform) ListItemsForCollection(ctx context.Context, collectionID int64) []roblox.CollectionItem {
	return []roblox.CollectionItem{{ID: 42, Name: "VIP"}}
}

func (p *Platform) Purchase(ctx context.Context, productID, expectedPrice, expectedSellerID int64) (*roblox.Receipt, error) {
	p.Purchases.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.BuyErr != nil {
		return nil, p.BuyErr
	}
	return &roblox.Receipt{ID: "rcpt-1"}, nil
}

func (p *Platform) CheckOwnership(ctx context.Context, userID, itemID int64) (roblox.Ownership, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Ownership, nil
}

func (p *Platform) WhoAmI(ctx context.Context) (*roblox.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.WhoAmIErr != nil {
		return nil, p.WhoAmIErr
	}
	return &roblox.User{ID: 1, Name: "shop"}, nil
}

func (p *Platform) LookupUsername(ctx context.Context, username string) (*roblox.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.Users[username]; ok {
		return &roblox.User{ID: id, Name: username}, nil
	}
	return nil, nil
}

// Provider issues charges with predictable ids ("pix_" + first 8 chars of the order id).
type Provider struct {
	mu        sync.Mutex
	Simulated []string
}

func (p *Provider) CreateCharge(ctx context.Context, req abacatepay.ChargeRequest) (*abacatepay.Charge, error) {
	id := req.OrderID
	if len(id) > 8 {
		id = id[:8]
	}
	return &abacatepay.Charge{
		ID:          "pix_" + id,
		AmountMinor: req.AmountMinor,
		Status:      "PENDING",
		QRImage:     "data:image/png;base64,AAAA",
		CopyPaste:   "00020101",
	}, nil
}

func (p *Provider) SimulatePayment(ctx context.Context, chargeID string) (map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Simulated = append(p.Simulated, chargeID)
	return map[string]any{"status": "PAID"}, nil
}
