package abacatepay

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Action is what an event asks the order store to do.
type Action int

const (
	ActionIgnore Action = iota
	ActionConfirm
	ActionFail
	ActionRefund
)

func (a Action) String() string {
	switch a {
	case ActionConfirm:
		return "confirm"
	case ActionFail:
		return "fail"
	case ActionRefund:
		return "refund"
	default:
		return "ignore"
	}
}

const (
	EventChargeSucceeded = "charge.succeeded"
	EventBillingPaid     = "billing.paid"
	EventChargeFailed    = "charge.failed"
	EventBillingFailed   = "billing.failed"
	EventRefundSucceeded = "refund.succeeded"
)

// Event is a provider notification reduced to what reconciliation needs.
type Event struct {
	ID   string
	Type string
	// CorrelationID is our order id when the provider echoes it back in metadata.
	CorrelationID string
	// ChargeIDs are the provider charge id candidates, in priority order.
	ChargeIDs []string
}

func (e *Event) Action() Action {
	switch e.Type {
	case EventChargeSucceeded, EventBillingPaid:
		return ActionConfirm
	case EventChargeFailed, EventBillingFailed:
		return ActionFail
	case EventRefundSucceeded:
		return ActionRefund
	default:
		return ActionIgnore
	}
}

// ParseEvent decodes a webhook body. The payload is data.data, data, or the event itself.
// Events without an id are keyed by a hash of the body so redeliveries still deduplicate.
// The payload id is the charge id and is shared by every event of a charge, so it never keys an event.
func ParseEvent(raw []byte) (*Event, error) {
	doc := map[string]any{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	payload := doc
	if data, ok := doc["data"].(map[string]any); ok {
		payload = data
		if inner, ok := data["data"].(map[string]any); ok {
			payload = inner
		}
	}

	evt := &Event{
		ID:        firstString(doc, "id"),
		Type:      strings.ToLower(firstString(doc, "type", "event")),
		ChargeIDs: stringsAt(payload, "id", "paymentId", "payment_id", "pixQrCode.id", "qrCodeId", "qr_id", "pix.id"),
	}
	if evt.ID == "" {
		sum := sha256.Sum256(raw)
		evt.ID = "hash:" + hex.EncodeToString(sum[:])
	}

	meta, _ := payload["metadata"].(map[string]any)
	if len(meta) == 0 {
		meta, _ = doc["metadata"].(map[string]any)
	}
	if meta != nil {
		evt.CorrelationID = firstString(meta, "order_id", "externalId", "orderId")
	}
	return evt, nil
}
