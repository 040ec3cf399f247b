package billing

import (
	"context"
	"errors"
	"time"

	"github.com/passgate/passgate/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrOrderNotFound is returned when no order matches a lookup.
var ErrOrderNotFound = errors.New("order not found")

// Repository provides the order store used by the reconciliation service.
//
// Every state change is a conditional UPDATE on the current status, so concurrent callers racing on
// the same order see exactly one of them report applied=true.
type Repository interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	FindOrderByChargeIDs(ctx context.Context, chargeIDs []string) (*models.Order, error)
	SetProviderChargeID(ctx context.Context, id, chargeID string) error
	TransitionPayment(ctx context.Context, id string, from []string, to string, at time.Time) (bool, error)
	ClaimPurchase(ctx context.Context, id string, at time.Time) (bool, error)
	FinishPurchase(ctx context.Context, id string, outcome PurchaseOutcome, at time.Time) (bool, error)
	FindRecentPurchase(ctx context.Context, itemID, quantity int64, since time.Time) (*models.Order, error)
	ListStalePurchases(ctx context.Context, startedBefore time.Time, limit int) ([]models.Order, error)
	HasProcessedEvent(ctx context.Context, eventID string) (bool, error)
	RecordProcessedEvent(ctx context.Context, event *models.ProcessedEvent) (bool, error)
}

// PurchaseOutcome is the terminal purchase state written to an order.
type PurchaseOutcome struct {
	Status    string
	ReceiptID string
	Error     string
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates an order repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *gormRepository) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var o models.Order
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// FindOrderByChargeIDs returns the newest order whose provider charge id is one of chargeIDs.
func (r *gormRepository) FindOrderByChargeIDs(ctx context.Context, chargeIDs []string) (*models.Order, error) {
	ids := make([]string, 0, len(chargeIDs))
	for _, id := range chargeIDs {
		if id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, ErrOrderNotFound
	}

	var o models.Order
	err := r.db.WithContext(ctx).
		Where("provider_charge_id IN ?", ids).
		Order("created_at DESC").
		First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *gormRepository) SetProviderChargeID(ctx context.Context, id, chargeID string) error {
	return r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", id).
		Update("provider_charge_id", chargeID).Error
}

// TransitionPayment moves payment_status to `to` only while it is one of `from`.
func (r *gormRepository) TransitionPayment(ctx context.Context, id string, from []string, to string, at time.Time) (bool, error) {
	updates := map[string]interface{}{
		"payment_status": to,
		"updated_at":     at,
	}
	if to == models.PaymentStatusPaid {
		updates["paid_at"] = at
	}
	tx := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND payment_status IN ?", id, from).
		Updates(updates)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// ClaimPurchase moves a paid order from purchase none to pending. Only the winning caller may purchase.
func (r *gormRepository) ClaimPurchase(ctx context.Context, id string, at time.Time) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND payment_status = ? AND purchase_status = ?", id, models.PaymentStatusPaid, models.PurchaseStatusNone).
		Updates(map[string]interface{}{
			"purchase_status":     models.PurchaseStatusPending,
			"purchase_started_at": at,
			"purchase_error":      "",
			"updated_at":          at,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// FinishPurchase writes a terminal purchase outcome to an order still pending.
func (r *gormRepository) FinishPurchase(ctx context.Context, id string, outcome PurchaseOutcome, at time.Time) (bool, error) {
	updates := map[string]interface{}{
		"purchase_status":     outcome.Status,
		"purchase_receipt_id": outcome.ReceiptID,
		"purchase_error":      outcome.Error,
		"updated_at":          at,
	}
	if outcome.Status == models.PurchaseStatusPurchased {
		updates["purchased_at"] = at
	}
	tx := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND purchase_status = ?", id, models.PurchaseStatusPending).
		Updates(updates)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) FindRecentPurchase(ctx context.Context, itemID, quantity int64, since time.Time) (*models.Order, error) {
	var o models.Order
	err := r.db.WithContext(ctx).
		Where("item_id = ? AND target_quantity = ? AND purchase_status = ? AND purchased_at >= ?",
			itemID, quantity, models.PurchaseStatusPurchased, since).
		Order("purchased_at DESC").
		First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *gormRepository) ListStalePurchases(ctx context.Context, startedBefore time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("purchase_status = ? AND purchase_started_at < ?", models.PurchaseStatusPending, startedBefore).
		Order("purchase_started_at ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

func (r *gormRepository) HasProcessedEvent(ctx context.Context, eventID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ProcessedEvent{}).
		Where("event_id = ?", eventID).
		Count(&count).Error
	return count > 0, err
}

// RecordProcessedEvent inserts the ledger row, reporting false when it already existed.
func (r *gormRepository) RecordProcessedEvent(ctx context.Context, event *models.ProcessedEvent) (bool, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}
