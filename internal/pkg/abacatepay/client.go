package abacatepay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/hashicorp/go-multierror"
)

const defaultExpiresIn = 900 * time.Second

// DefaultChargePaths are tried in order until one answers 2xx.
var DefaultChargePaths = []string{
	"/v1/pixQrCode/create",
	"/v1/charges",
	"/charges",
	"/v1/payments",
	"/payments",
	"/v1/pix/charges",
	"/pix/charges",
}

var simulatePaths = []string{
	"/v1/pixQrCode/simulate-payment",
	"/pixQrCode/simulate-payment",
}

var pixQrCodePathRe = regexp.MustCompile(`(?i)pixQrCode/create$`)

// ErrNotConfigured is returned when no API base URL is set.
var ErrNotConfigured = errors.New("abacatepay: ABACATEPAY_API is not configured")

type Config struct {
	BaseURL string
	APIKey  string
	// ChargesPath pins a single charge-creation path instead of DefaultChargePaths.
	ChargesPath string
	HTTPClient  *http.Client
}

// Client is a PIX payment provider client.
type Client struct {
	baseURL     string
	apiKey      string
	chargePaths []string
	httpClient  *http.Client
}

func NewClient(cfg Config) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		chargePaths: DefaultChargePaths,
		httpClient:  cfg.HTTPClient,
	}
	if p := strings.TrimSpace(cfg.ChargesPath); p != "" {
		c.chargePaths = []string{p}
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return c
}

// ChargeRequest describes a PIX charge in BRL cents.
type ChargeRequest struct {
	AmountMinor int64
	OrderID     string
	Description string
	Metadata    map[string]string
	ExpiresIn   time.Duration
}

// Charge is the provider charge normalized over its response variants.
type Charge struct {
	ID          string `json:"id"`
	AmountMinor int64  `json:"amount"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
	QRImage     string `json:"qrImage"`
	CopyPaste   string `json:"copyPaste"`
}

// CreateCharge creates a PIX charge, trying each configured path until one succeeds.
func (c *Client) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}

	var failures *multierror.Error
	for _, path := range c.chargePaths {
		status, body, err := c.post(ctx, c.baseURL+path, chargePayload(path, req))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failures = multierror.Append(failures, fmt.Errorf("%s: %w", path, err))
			continue
		}
		if status < 200 || status >= 300 {
			failures = multierror.Append(failures, fmt.Errorf("%s: status %d %s", path, status, truncate(body, 200)))
			continue
		}
		charge, err := parseCharge(body)
		if err != nil {
			failures = multierror.Append(failures, fmt.Errorf("%s: %w", path, err))
			continue
		}
		log.Infof("[AbacatePay] Created charge %s via %s", charge.ID, path)
		return charge, nil
	}
	return nil, fmt.Errorf("abacatepay create charge failed: %w", failures.ErrorOrNil())
}

// SimulatePayment asks the provider's sandbox to pay a PIX QR code.
func (c *Client) SimulatePayment(ctx context.Context, chargeID string) (map[string]any, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}

	var failures *multierror.Error
	for _, path := range simulatePaths {
		u := c.baseURL + path + "?id=" + url.QueryEscape(chargeID)
		status, body, err := c.post(ctx, u, map[string]any{"metadata": map[string]any{}})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failures = multierror.Append(failures, fmt.Errorf("%s: %w", path, err))
			continue
		}
		if status < 200 || status >= 300 {
			failures = multierror.Append(failures, fmt.Errorf("%s: status %d %s", path, status, truncate(body, 200)))
			continue
		}
		out := map[string]any{}
		_ = json.Unmarshal(body, &out)
		return out, nil
	}
	return nil, fmt.Errorf("abacatepay simulate payment failed: %w", failures.ErrorOrNil())
}

func (c *Client) post(ctx context.Context, u string, payload any) (int, []byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(raw))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return resp.StatusCode, body, nil
}

// chargePayload maps the request onto the body shape expected by path.
func chargePayload(path string, req ChargeRequest) map[string]any {
	if pixQrCodePathRe.MatchString(path) {
		expires := req.ExpiresIn
		if expires <= 0 {
			expires = defaultExpiresIn
		}
		description := req.Description
		if description == "" {
			description = "Order"
			if req.OrderID != "" {
				description = "Order " + req.OrderID
			}
		}
		body := map[string]any{
			"amount":      req.AmountMinor,
			"expiresIn":   int(expires.Seconds()),
			"description": description,
		}
		if req.OrderID != "" {
			body["metadata"] = map[string]any{"externalId": req.OrderID}
		}
		return body
	}

	metadata := map[string]string{}
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	if req.OrderID != "" {
		metadata["order_id"] = req.OrderID
	}
	return map[string]any{
		"amount":         req.AmountMinor,
		"currency":       "BRL",
		"payment_method": "pix",
		"metadata":       metadata,
	}
}

func parseCharge(body []byte) (*Charge, error) {
	doc := map[string]any{}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode charge: %w", err)
	}
	data := unwrap(doc)

	charge := &Charge{
		ID:        firstString(data, "id", "charge_id", "payment_id", "transaction_id"),
		Currency:  firstString(data, "currency"),
		Status:    firstString(data, "status"),
		QRImage:   firstString(data, "pix.qr_code_image", "pix.qrcode", "qrcode", "qr_code_image", "qrCodeImage", "qrCode", "qr_code", "pixQrCode.qrCodeImage", "brCodeBase64"),
		CopyPaste: firstString(data, "pix.copy_paste", "pix.payload", "copy_paste", "payload", "qrCode", "qr_string", "pixQrCode.qrCode", "brCode"),
	}
	if n, ok := firstNumber(data, "amount", "value", "total"); ok {
		charge.AmountMinor = n
	}
	if charge.Currency == "" {
		charge.Currency = "BRL"
	}
	if charge.Status == "" {
		charge.Status = "pending"
	}
	if charge.ID == "" {
		return nil, errors.New("charge response has no id")
	}
	return charge, nil
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n]
	}
	return s
}
