package roblox

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

const (
	defaultAPIsURL    = "https://apis.roblox.com"
	defaultEconomyURL = "https://economy.roblox.com"
	defaultCatalogURL = "https://catalog.roblox.com"
	defaultLegacyURL  = "https://api.roblox.com"
	defaultUsersURL   = "https://users.roblox.com"
	defaultGamesURL   = "https://games.roblox.com"

	defaultCSRFTTL = 900 * time.Second

	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36"
)

// ErrMissingCookie is returned by authenticated calls when no session cookie is configured.
var ErrMissingCookie = errors.New("roblox: ROBLOX_SECURITY_COOKIE is not configured")

// Endpoints holds the base URLs of the platform services. Overridable for tests.
type Endpoints struct {
	APIs    string
	Economy string
	Catalog string
	Legacy  string
	Users   string
	Games   string
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		APIs:    defaultAPIsURL,
		Economy: defaultEconomyURL,
		Catalog: defaultCatalogURL,
		Legacy:  defaultLegacyURL,
		Users:   defaultUsersURL,
		Games:   defaultGamesURL,
	}
}

// Config configures a Client. Zero values fall back to production defaults.
type Config struct {
	Cookie     string
	Endpoints  Endpoints
	CSRFTTL    time.Duration
	Retry      RetryPolicy
	HTTPClient *http.Client
	// Tokens overrides the anti-forgery token source. Nil builds a CSRFCache bound to this client.
	Tokens TokenSource
}

// Client talks to the catalog, economy and users APIs with a single account session.
type Client struct {
	cookie     string
	endpoints  Endpoints
	retry      RetryPolicy
	httpClient *http.Client
	tokens     TokenSource
}

func NewClient(cfg Config) *Client {
	c := &Client{
		cookie:     strings.TrimSpace(cfg.Cookie),
		endpoints:  withDefaults(cfg.Endpoints),
		retry:      cfg.Retry.withDefaults(),
		httpClient: cfg.HTTPClient,
		tokens:     cfg.Tokens,
	}
	if c.httpClient == nil {
		// per-attempt timeouts come from the retry policy
		c.httpClient = &http.Client{}
	}
	if c.tokens == nil {
		ttl := cfg.CSRFTTL
		if ttl <= 0 {
			ttl = defaultCSRFTTL
		}
		c.tokens = NewCSRFCache(c.fetchCSRFToken, ttl)
	}
	return c
}

// Tokens exposes the token source used for mutating calls.
func (c *Client) Tokens() TokenSource {
	return c.tokens
}

// HasCookie reports whether an account session is configured.
func (c *Client) HasCookie() bool {
	return c.cookie != ""
}

func withDefaults(e Endpoints) Endpoints {
	d := DefaultEndpoints()
	pick := func(v, def string) string {
		if v = strings.TrimRight(strings.TrimSpace(v), "/"); v != "" {
			return v
		}
		return def
	}
	return Endpoints{
		APIs:    pick(e.APIs, d.APIs),
		Economy: pick(e.Economy, d.Economy),
		Catalog: pick(e.Catalog, d.Catalog),
		Legacy:  pick(e.Legacy, d.Legacy),
		Users:   pick(e.Users, d.Users),
		Games:   pick(e.Games, d.Games),
	}
}

// sessionHeaders returns browser-like headers carrying the account cookie.
func (c *Client) sessionHeaders(withJSONBody bool) (http.Header, error) {
	if c.cookie == "" {
		return nil, ErrMissingCookie
	}
	h := publicHeaders(withJSONBody)
	h.Set("Cookie", ".ROBLOSECURITY="+c.cookie)
	h.Set("Origin", "https://www.roblox.com")
	h.Set("Referer", "https://www.roblox.com/")
	return h, nil
}

func publicHeaders(withJSONBody bool) http.Header {
	h := http.Header{}
	h.Set("User-Agent", browserUserAgent)
	h.Set("Accept", "application/json, text/plain, */*")
	if withJSONBody {
		h.Set("Content-Type", "application/json")
	}
	return h
}
