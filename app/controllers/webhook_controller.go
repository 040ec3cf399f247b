package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/passgate/passgate/internal/pkg/abacatepay"
	"github.com/passgate/passgate/internal/pkg/billing"
)

// WebhookSecretQuery carries the shared secret for callers that cannot sign.
const WebhookSecretQuery = "webhookSecret"

// WebhookController receives payment provider notifications and the sandbox simulate trigger.
type WebhookController struct {
	gateway *billing.Gateway
}

func NewWebhookController(gateway *billing.Gateway) *WebhookController {
	return &WebhookController{gateway: gateway}
}

// HandleWebhook applies one provider event. Authentication failures answer non-2xx so the provider retries.
func (wc *WebhookController) HandleWebhook(c *fiber.Ctx) error {
	// The body buffer is reused by fasthttp after the handler returns.
	raw := append([]byte(nil), c.Body()...)

	res, err := wc.gateway.Handle(c.UserContext(), raw, billing.Credentials{
		Timestamp:   c.Get(abacatepay.TimestampHeader),
		Signature:   c.Get(abacatepay.SignatureHeader),
		QuerySecret: c.Query(WebhookSecretQuery),
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true, "status": res.Status, "eventId": res.EventID, "orderId": res.OrderID})
}

type simulateRequest struct {
	ProviderChargeID string `json:"providerChargeId" validate:"required,max=191"`
}

// HandleSimulatePayment pays a sandbox charge and applies the confirmation like a webhook would.
func (wc *WebhookController) HandleSimulatePayment(c *fiber.Ctx) error {
	var req simulateRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	res, err := wc.gateway.Simulate(c.UserContext(), req.ProviderChargeID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true, "status": res.Status, "orderId": res.OrderID})
}
