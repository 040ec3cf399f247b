package roblox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2/log"
)

// Ownership is the tri-state answer of the ownership endpoint.
type Ownership int

const (
	OwnershipUnknown Ownership = iota
	OwnershipOwned
	OwnershipNotOwned
)

func (o Ownership) String() string {
	switch o {
	case OwnershipOwned:
		return "owned"
	case OwnershipNotOwned:
		return "not_owned"
	default:
		return "unknown"
	}
}

// Receipt identifies a completed purchase. ID may be empty when the platform returns none.
type Receipt struct {
	ID string `json:"receiptId"`
}

// PurchaseError is a terminal purchase failure carrying the upstream status and body.
type PurchaseError struct {
	StatusCode int
	Body       string
}

func (e *PurchaseError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("purchase failed: %d", e.StatusCode)
	}
	return fmt.Sprintf("purchase failed: %d %s", e.StatusCode, e.Body)
}

type purchaseRequest struct {
	ExpectedCurrency int   `json:"expectedCurrency"`
	ExpectedPrice    int64 `json:"expectedPrice"`
	ExpectedSellerID int64 `json:"expectedSellerId"`
}

// Purchase buys productID for exactly expectedPrice Robux from expectedSellerID.
//
// The first call goes out without a token. On 401/403 the token echoed by that response is used, or a
// freshly forced one, and the call is retried exactly once. Any other failure is terminal.
func (c *Client) Purchase(ctx context.Context, productID, expectedPrice, expectedSellerID int64) (*Receipt, error) {
	header, err := c.sessionHeaders(true)
	if err != nil {
		return nil, err
	}
	header.Set("Accept-Language", "en-US,en;q=0.9")
	header.Set("X-Requested-With", "XMLHttpRequest")

	body, err := json.Marshal(purchaseRequest{
		ExpectedCurrency: 1,
		ExpectedPrice:    expectedPrice,
		ExpectedSellerID: expectedSellerID,
	})
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/v1/purchases/products/%d", c.endpoints.Economy, productID)

	resp, err := c.do(ctx, c.retry, http.MethodPost, url, header, body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		token := resp.Header.Get(csrfHeader)
		if token == "" {
			c.tokens.Invalidate()
			token, err = c.tokens.ForceRefresh(ctx)
			if err != nil {
				return nil, fmt.Errorf("purchase token refresh: %w", err)
			}
		}
		log.Infof("[Roblox] Purchase of product %d rejected with %d, retrying once with token", productID, resp.StatusCode)

		header.Set(csrfHeader, token)
		resp, err = c.do(ctx, c.retry, http.MethodPost, url, header, body)
		if err != nil {
			return nil, err
		}
	}

	if !resp.ok() {
		return nil, &PurchaseError{StatusCode: resp.StatusCode, Body: resp.snippet(500)}
	}
	return &Receipt{ID: receiptID(resp.Body)}, nil
}

// receiptID reads purchaseId, purchased or id, skipping empty, zero and false values.
func receiptID(body []byte) string {
	doc, ok := decodeDocument(body)
	if !ok {
		return ""
	}
	for _, key := range []string{"purchaseId", "purchased", "id"} {
		if s := truthyString(doc[key]); s != "" {
			return s
		}
	}
	return ""
}

func truthyString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
	case json.Number:
		if f, err := t.Float64(); err == nil && f != 0 {
			return t.String()
		}
	}
	return ""
}

// CheckOwnership reports whether userID already owns itemID. A zero userID is always unknown.
func (c *Client) CheckOwnership(ctx context.Context, userID, itemID int64) (Ownership, error) {
	if userID <= 0 {
		return OwnershipUnknown, nil
	}
	url := fmt.Sprintf("%s/ownership/hasasset?userId=%d&assetId=%d", c.endpoints.Legacy, userID, itemID)
	resp, err := c.do(ctx, c.retry, http.MethodGet, url, publicHeaders(false), nil)
	if err != nil {
		return OwnershipUnknown, err
	}
	if !resp.ok() {
		return OwnershipUnknown, nil
	}
	switch strings.TrimSpace(string(resp.Body)) {
	case "true":
		return OwnershipOwned, nil
	case "false":
		return OwnershipNotOwned, nil
	default:
		return OwnershipUnknown, nil
	}
}
