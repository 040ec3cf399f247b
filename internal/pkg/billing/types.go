package billing

import (
	"context"

	"github.com/passgate/passgate/app/models"
	"github.com/passgate/passgate/internal/pkg/abacatepay"
	"github.com/passgate/passgate/internal/pkg/roblox"
)

// Platform is the slice of the game platform client the reconciliation engine drives.
type Platform interface {
	ResolveItem(ctx context.Context, itemID int64) (*roblox.PriceQuote, error)
	ListItemsForCollection(ctx context.Context, collectionID int64) []roblox.CollectionItem
	Purchase(ctx context.Context, productID, expectedPrice, expectedSellerID int64) (*roblox.Receipt, error)
	CheckOwnership(ctx context.Context, userID, itemID int64) (roblox.Ownership, error)
	WhoAmI(ctx context.Context) (*roblox.User, error)
	LookupUsername(ctx context.Context, username string) (*roblox.User, error)
}

// PaymentProvider creates and simulates PIX charges.
type PaymentProvider interface {
	CreateCharge(ctx context.Context, req abacatepay.ChargeRequest) (*abacatepay.Charge, error)
	SimulatePayment(ctx context.Context, chargeID string) (map[string]any, error)
}

// PricingSource returns the current unit sale price and cost basis.
type PricingSource interface {
	GetPricing() (models.PricingSettings, error)
}

// BuyerDirectory stores and looks up linked buyers.
type BuyerDirectory interface {
	Link(buyer *models.Buyer) error
	GetByUserID(userID string) (*models.Buyer, error)
	GetByUsername(username string) (*models.Buyer, error)
}

// Dispatcher runs fulfillment of a paid order, inline or through a queue.
type Dispatcher interface {
	DispatchPurchase(ctx context.Context, orderID string) error
}

// CreateChargeInput is the create-charge request after transport decoding.
type CreateChargeInput struct {
	UserID string
	// ItemID, when set, prices the charge from the live catalog and triggers a purchase once paid.
	ItemID int64
	// NetQuantity is used when no ItemID is given.
	NetQuantity int64
	SellerID    int64
	BuyerID     int64
}

// ChargeResult is returned to the storefront so it can render the PIX QR code.
type ChargeResult struct {
	OrderID          string `json:"orderId"`
	ProviderChargeID string `json:"providerChargeId"`
	QRImage          string `json:"qrImage"`
	CopyPasteCode    string `json:"copyPasteCode"`
	AmountMinor      int64  `json:"amountMinor"`
	TargetQuantity   int64  `json:"targetQuantity"`
}

// BuyNowInput is a direct purchase request that bypasses the charge flow.
type BuyNowInput struct {
	ItemID        int64
	ExpectedPrice int64
	SellerID      int64
	BuyerID       int64
	BuyerUsername string
	UserID        string
}

const (
	BuyNowStatusOK               = "ok"
	BuyNowStatusAlreadyPurchased = "already_purchased"
	BuyNowStatusAlreadyOwned     = models.PurchaseReasonAlreadyOwned
)

// BuyNowResult reports what a direct purchase did.
type BuyNowResult struct {
	Status    string `json:"status"`
	OrderID   string `json:"orderId"`
	ReceiptID string `json:"receiptId,omitempty"`
}

// EventResult is the webhook gateway's answer for one event.
type EventResult struct {
	EventID string `json:"eventId"`
	// Status is "processed", "duplicate" or "ignored".
	Status  string `json:"status"`
	OrderID string `json:"orderId,omitempty"`
}

const (
	EventStatusProcessed = "processed"
	EventStatusDuplicate = "duplicate"
	EventStatusIgnored   = "ignored"
)
