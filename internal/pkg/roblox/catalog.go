package roblox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/hashicorp/go-multierror"
)

// PriceQuote is the live price and seller of a Game Pass. It is never persisted.
type PriceQuote struct {
	ProductID int64 `json:"productId"`
	Price     int64 `json:"price"`
	SellerID  int64 `json:"sellerId"`
}

// CollectionItem is a Game Pass listed under an experience.
type CollectionItem struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ResolveError aggregates the failure of every catalog candidate for one item.
type ResolveError struct {
	ItemID int64
	Err    error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve failed for item %d: %v", e.ItemID, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// fieldPath walks nested objects, e.g. {"Seller", "Id"}.
type fieldPath []string

// quoteRules lists, per field, the historical key variants in priority order.
// The first present, non-null value wins; it must then be a finite integer.
var quoteRules = struct {
	ProductID []fieldPath
	Price     []fieldPath
	SellerID  []fieldPath
}{
	ProductID: []fieldPath{{"ProductId"}, {"productId"}, {"item", "productId"}},
	Price:     []fieldPath{{"PriceInRobux"}, {"priceInRobux"}, {"price"}, {"salePrice"}},
	SellerID:  []fieldPath{{"Seller", "Id"}, {"sellerId"}, {"creatorId"}, {"Creator", "Id"}, {"creator", "id"}},
}

type catalogCandidate struct {
	name string
	url  func(e Endpoints, itemID int64) string
}

var catalogCandidates = []catalogCandidate{
	{
		name: "marketplace-items",
		url: func(e Endpoints, id int64) string {
			return fmt.Sprintf("%s/marketplace-items/v1/items/details?itemType=GamePass&itemTargetId=%d", e.APIs, id)
		},
	},
	{
		name: "game-passes product-info",
		url: func(e Endpoints, id int64) string {
			return fmt.Sprintf("%s/v1/game-passes/%d/product-info", e.Economy, id)
		},
	},
	{
		name: "game-pass-product-info",
		url: func(e Endpoints, id int64) string {
			return fmt.Sprintf("%s/v1/game-pass/%d/game-pass-product-info", e.Economy, id)
		},
	},
}

// ResolveItem returns the live price quote of a Game Pass, trying every catalog candidate in order.
func (c *Client) ResolveItem(ctx context.Context, itemID int64) (*PriceQuote, error) {
	header, err := c.sessionHeaders(false)
	if err != nil {
		return nil, err
	}

	var failures *multierror.Error
	for _, cand := range catalogCandidates {
		url := cand.url(c.endpoints, itemID)
		resp, err := c.do(ctx, c.retry, http.MethodGet, url, header, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failures = multierror.Append(failures, fmt.Errorf("%s: %w", cand.name, err))
			continue
		}
		if !resp.ok() {
			failures = multierror.Append(failures, fmt.Errorf("%s: status %d", cand.name, resp.StatusCode))
			continue
		}
		quote, ok := extractQuote(resp.Body)
		if !ok {
			failures = multierror.Append(failures, fmt.Errorf("%s: invalid mapping", cand.name))
			continue
		}
		return quote, nil
	}
	return nil, &ResolveError{ItemID: itemID, Err: failures.ErrorOrNil()}
}

// ListItemsForCollection lists the Game Passes of an experience. Upstream failures yield an empty list.
func (c *Client) ListItemsForCollection(ctx context.Context, collectionID int64) []CollectionItem {
	url := fmt.Sprintf("%s/v1/games/%d/game-passes?limit=100", c.endpoints.Games, collectionID)
	resp, err := c.do(ctx, c.retry, http.MethodGet, url, publicHeaders(false), nil)
	if err != nil {
		log.Warnf("[Roblox] Listing game passes of %d failed: %v", collectionID, err)
		return []CollectionItem{}
	}
	if !resp.ok() {
		log.Warnf("[Roblox] Listing game passes of %d returned %d", collectionID, resp.StatusCode)
		return []CollectionItem{}
	}

	var doc struct {
		Data []struct {
			ID   json.Number `json:"id"`
			Name string      `json:"name"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		return []CollectionItem{}
	}
	items := make([]CollectionItem, 0, len(doc.Data))
	for _, d := range doc.Data {
		id, err := d.ID.Int64()
		if err != nil {
			continue
		}
		items = append(items, CollectionItem{ID: id, Name: d.Name})
	}
	return items
}

func extractQuote(body []byte) (*PriceQuote, bool) {
	doc, ok := decodeDocument(body)
	if !ok {
		return nil, false
	}
	productID, ok1 := firstInt(doc, quoteRules.ProductID)
	price, ok2 := firstInt(doc, quoteRules.Price)
	sellerID, ok3 := firstInt(doc, quoteRules.SellerID)
	if !ok1 || !ok2 || !ok3 {
		return nil, false
	}
	return &PriceQuote{ProductID: productID, Price: price, SellerID: sellerID}, true
}

// decodeDocument decodes a JSON object, taking the first element when the payload is an array.
func decodeDocument(body []byte) (map[string]any, bool) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	if arr, ok := v.([]any); ok {
		if len(arr) == 0 {
			return nil, false
		}
		v = arr[0]
	}
	m, ok := v.(map[string]any)
	return m, ok
}

func lookup(doc map[string]any, path fieldPath) (any, bool) {
	var cur any = doc
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

// firstInt applies the rules in order; only the first present value is considered.
func firstInt(doc map[string]any, rules []fieldPath) (int64, bool) {
	for _, path := range rules {
		if v, ok := lookup(doc, path); ok {
			return toInt(v)
		}
	}
	return 0, false
}

func toInt(v any) (int64, bool) {
	var f float64
	switch t := v.(type) {
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case float64:
		f = t
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}
