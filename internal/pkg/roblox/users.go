package roblox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// ErrSessionInvalid means the configured cookie is expired or challenged.
var ErrSessionInvalid = errors.New("roblox_cookie_invalid_or_challenged")

// User is a platform account.
type User struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// WhoAmI returns the account behind the configured cookie.
func (c *Client) WhoAmI(ctx context.Context) (*User, error) {
	header, err := c.sessionHeaders(false)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, c.retry, http.MethodGet, c.endpoints.Users+"/v1/users/authenticated", header, nil)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, ErrSessionInvalid
	}
	var u User
	if err := json.Unmarshal(resp.Body, &u); err != nil || u.ID == 0 {
		return nil, ErrSessionInvalid
	}
	return &u, nil
}

// LookupUsername resolves a username to an account. It returns nil, nil when no account matches.
func (c *Client) LookupUsername(ctx context.Context, username string) (*User, error) {
	name := strings.TrimSpace(username)
	if name == "" {
		return nil, nil
	}
	u, err := c.lookupPrimary(ctx, name)
	if err == nil && u != nil {
		return u, nil
	}
	fb, fbErr := c.lookupLegacy(ctx, name)
	if fbErr != nil && err != nil {
		return nil, fmt.Errorf("username lookup: %w", errors.Join(err, fbErr))
	}
	return fb, nil
}

func (c *Client) lookupPrimary(ctx context.Context, name string) (*User, error) {
	body, err := json.Marshal(map[string]any{
		"usernames":          []string{name},
		"excludeBannedUsers": true,
	})
	if err != nil {
		return nil, err
	}
	endpoint := c.endpoints.Users + "/v1/usernames/users"

	header := publicHeaders(true)
	if token, ok := c.tokens.Cached(); ok {
		header.Set(csrfHeader, token)
	}
	resp, err := c.do(ctx, c.retry, http.MethodPost, endpoint, header, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusForbidden && c.HasCookie() {
		// stale cached token: refresh the shared one and try once more
		token, terr := c.tokens.RefreshAndCache(ctx)
		if terr != nil {
			return nil, terr
		}
		header.Set(csrfHeader, token)
		if resp, err = c.do(ctx, c.retry, http.MethodPost, endpoint, header, body); err != nil {
			return nil, err
		}
	}
	if !resp.ok() {
		return nil, fmt.Errorf("usernames lookup: status %d", resp.StatusCode)
	}

	var doc struct {
		Data []struct {
			ID                json.Number `json:"id"`
			Name              string      `json:"name"`
			RequestedUsername string      `json:"requestedUsername"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		return nil, err
	}
	if len(doc.Data) == 0 {
		return nil, nil
	}
	id, err := doc.Data[0].ID.Int64()
	if err != nil || id <= 0 {
		return nil, nil
	}
	display := doc.Data[0].Name
	if display == "" {
		display = name
	}
	return &User{ID: id, Name: display}, nil
}

func (c *Client) lookupLegacy(ctx context.Context, name string) (*User, error) {
	endpoint := c.endpoints.Legacy + "/users/get-by-username?username=" + url.QueryEscape(name)
	resp, err := c.do(ctx, c.retry, http.MethodGet, endpoint, publicHeaders(false), nil)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, nil
	}
	doc, ok := decodeDocument(resp.Body)
	if !ok {
		return nil, nil
	}
	id, ok := firstInt(doc, []fieldPath{{"Id"}, {"id"}})
	if !ok || id <= 0 {
		return nil, nil
	}
	display, _ := doc["Username"].(string)
	if display == "" {
		display, _ = doc["username"].(string)
	}
	if display == "" {
		display = name
	}
	return &User{ID: id, Name: display}, nil
}
