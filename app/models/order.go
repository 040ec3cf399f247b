package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusFailed   = "failed"
	PaymentStatusRefunded = "refunded"
)

const (
	PurchaseStatusNone      = "none"
	PurchaseStatusPending   = "pending"
	PurchaseStatusPurchased = "purchased"
	PurchaseStatusFailed    = "failed"
)

// Route records which entry point created the order.
const (
	OrderRouteCharge = "CHARGE"
	OrderRouteBuyNow = "BUY_NOW"
)

// PurchaseReasonAlreadyOwned is stored as the purchase error of a purchased order whose buyer
// owned the item before any purchase. Such orders carry no receipt.
const PurchaseReasonAlreadyOwned = "alreadyOwned"

// Order is one checkout attempt and the outcome of its downstream purchase.
type Order struct {
	ID                string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID            string     `gorm:"type:varchar(191);index" json:"user_id"`
	Route             string     `gorm:"type:varchar(20);not null;default:'CHARGE'" json:"route"`
	AmountMinorUnits  int64      `gorm:"not null" json:"amount_minor_units"`
	TargetQuantity    int64      `gorm:"not null" json:"target_quantity"`
	ItemID            *int64     `gorm:"index:idx_orders_item_quantity,priority:1" json:"item_id,omitempty"`
	CatalogProductID  *int64     `json:"catalog_product_id,omitempty"`
	SellerID          *int64     `json:"seller_id,omitempty"`
	BuyerExternalID   *int64     `json:"buyer_external_id,omitempty"`
	PaymentStatus     string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"payment_status"`
	PurchaseStatus    string     `gorm:"type:varchar(20);not null;default:'none';index" json:"purchase_status"`
	PurchaseReceiptID string     `gorm:"type:varchar(191)" json:"purchase_receipt_id,omitempty"`
	PurchaseError     string     `gorm:"type:text" json:"purchase_error,omitempty"`
	PurchaseStartedAt *time.Time `json:"purchase_started_at,omitempty"`
	PurchasedAt       *time.Time `gorm:"index" json:"purchased_at,omitempty"`
	ProviderChargeID  string     `gorm:"type:varchar(191);index" json:"provider_charge_id,omitempty"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.PaymentStatus == "" {
		o.PaymentStatus = PaymentStatusPending
	}
	if o.PurchaseStatus == "" {
		o.PurchaseStatus = PurchaseStatusNone
	}
	if o.Route == "" {
		o.Route = OrderRouteCharge
	}
	return nil
}

// HasItem reports whether paying for the order should trigger a purchase.
func (o *Order) HasItem() bool {
	return o.ItemID != nil && *o.ItemID > 0
}

// ProcessedEvent marks a payment provider event whose effects have been applied.
type ProcessedEvent struct {
	EventID     string    `gorm:"type:varchar(191);primaryKey" json:"event_id"`
	EventType   string    `gorm:"type:varchar(100);not null;index" json:"event_type"`
	OrderID     string    `gorm:"type:varchar(36);index" json:"order_id,omitempty"`
	PayloadJSON string    `gorm:"type:text" json:"payload_json,omitempty"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// Buyer links a storefront user to their platform account.
type Buyer struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"user_id"`
	Username   string    `gorm:"type:varchar(191);not null;index" json:"username"`
	ExternalID int64     `gorm:"not null;index" json:"external_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
