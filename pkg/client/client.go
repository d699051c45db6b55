// Package client provides the Eco-Chain Go SDK for calculating emissions,
// issuing and verifying tokens, and proving their inclusion in the ledger.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/ecochain/ecochain/internal/emission"
	"github.com/ecochain/ecochain/internal/ledger"
	"github.com/ecochain/ecochain/internal/registry/service"
	"github.com/ecochain/ecochain/internal/token"
)

// Response and request types shared with the server.
type (
	Token             = token.Token
	Assessment        = emission.Assessment
	CalculateRequest  = service.CalculateRequest
	IssueRequest      = service.IssueRequest
	Issuance          = service.Issuance
	TokenVerification = service.TokenVerification
	Record            = service.Record
	Registry          = service.Registry
	RegistryProof     = service.RegistryProof
	InclusionProof    = ledger.InclusionProof
	LedgerSummary     = ledger.Summary
	Block             = ledger.Block
)

// ErrNotFound matches any *APIError with status 404.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ecochain API error %d: %s", e.StatusCode, e.Message)
}

// Is reports whether e is a 404 when target is ErrNotFound.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Client is the Eco-Chain SDK entry point.
type Client struct {
	rc    *resty.Client
	cache *recordCache

	hc      *http.Client
	token   string
	timeout time.Duration
	retries int
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("http client must not be nil")
		}
		c.hc = hc
		return nil
	}
}

// WithBearerToken attaches an issuer token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.timeout = d
		return nil
	}
}

// WithRetries retries requests that fail at the transport level up to n
// times.
func WithRetries(n int) Option {
	return func(c *Client) error {
		if n < 0 {
			return fmt.Errorf("retries must be >= 0, got %d", n)
		}
		c.retries = n
		return nil
	}
}

// WithCacheTTL caches successful Lookup results for ttl. Misses are never
// cached.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) error {
		c.cache = newRecordCache(ttl)
		return nil
	}
}

// New creates a Client for the server at baseURL.
//
//	c, err := client.New("http://localhost:8080",
//	    client.WithBearerToken(tok),
//	)
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}
	c := &Client{timeout: 10 * time.Second}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}

	if c.hc != nil {
		c.rc = resty.NewWithClient(c.hc)
	} else {
		c.rc = resty.New()
	}
	c.rc.SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(c.timeout).
		SetHeader("Accept", "application/json")
	if c.token != "" {
		c.rc.SetAuthToken(c.token)
	}
	if c.retries > 0 {
		c.rc.SetRetryCount(c.retries).SetRetryWaitTime(200 * time.Millisecond)
	}
	return c, nil
}

// MustNew is like New but panics on error.
func MustNew(baseURL string, opts ...Option) *Client {
	c, err := New(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// do sends one request. out may be nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) (*resty.Response, error) {
	req := c.rc.R().SetContext(ctx).SetError(&errorBody{})
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}
	resp, err := req.Execute(method, "/api/v1"+path)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		msg := resp.Status()
		if e, ok := resp.Error().(*errorBody); ok {
			switch {
			case e.Error != "":
				msg = e.Error
			case e.Message != "":
				msg = e.Message
			}
		}
		return resp, &APIError{StatusCode: resp.StatusCode(), Message: msg}
	}
	return resp, nil
}

// Calculate assesses energy data on the server without issuing anything.
func (c *Client) Calculate(ctx context.Context, req CalculateRequest) (*Assessment, error) {
	var out Assessment
	if _, err := c.do(ctx, http.MethodPost, "/emissions/calculate", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Issue issues and records a token. Requires WithBearerToken when the server
// guards issuance.
func (c *Client) Issue(ctx context.Context, req IssueRequest) (*Issuance, error) {
	var out Issuance
	if _, err := c.do(ctx, http.MethodPost, "/tokens", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyToken asks the server to re-hash tok and check it is on chain.
func (c *Client) VerifyToken(ctx context.Context, tok *Token) (*TokenVerification, error) {
	var out TokenVerification
	if _, err := c.do(ctx, http.MethodPost, "/tokens/verify", tok, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Lookup returns the recorded token with the given hash and its block.
func (c *Client) Lookup(ctx context.Context, tokenHash string) (*Record, error) {
	if c.cache != nil {
		if rec, ok := c.cache.get(tokenHash); ok {
			return rec, nil
		}
	}
	var out Record
	if _, err := c.do(ctx, http.MethodGet, "/tokens/"+url.PathEscape(tokenHash), nil, &out); err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.set(tokenHash, &out)
	}
	return &out, nil
}

// Proof returns the ledger proof of inclusion for tokenHash. An unknown token
// yields a proof with Verified false and no error.
func (c *Client) Proof(ctx context.Context, tokenHash string) (*InclusionProof, error) {
	var out InclusionProof
	_, err := c.do(ctx, http.MethodGet, "/ledger/proof/"+url.PathEscape(tokenHash), nil, &out)
	if errors.Is(err, ErrNotFound) {
		var apiErr *APIError
		errors.As(err, &apiErr)
		return &InclusionProof{Verified: false, Message: apiErr.Message}, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Tokens lists every recorded token in chain order.
func (c *Client) Tokens(ctx context.Context) ([]*Token, error) {
	var out struct {
		Tokens []*Token `json:"tokens"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/tokens", nil, &out); err != nil {
		return nil, err
	}
	return out.Tokens, nil
}

// BusinessTypes lists the business types with a known baseline factor.
func (c *Client) BusinessTypes(ctx context.Context) ([]string, error) {
	var out struct {
		BusinessTypes []string `json:"business_types"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/emissions/business-types", nil, &out); err != nil {
		return nil, err
	}
	return out.BusinessTypes, nil
}

// Registry returns every issued token hash and their Merkle root.
func (c *Client) Registry(ctx context.Context) (*Registry, error) {
	var out Registry
	if _, err := c.do(ctx, http.MethodGet, "/registry", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RegistryProof returns the Merkle path from tokenHash to the registry root.
func (c *Client) RegistryProof(ctx context.Context, tokenHash string) (*RegistryProof, error) {
	var out RegistryProof
	if _, err := c.do(ctx, http.MethodGet, "/registry/proof/"+url.PathEscape(tokenHash), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LedgerStatus returns the ledger summary.
func (c *Client) LedgerStatus(ctx context.Context) (*LedgerSummary, error) {
	var out LedgerSummary
	if _, err := c.do(ctx, http.MethodGet, "/ledger", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExportLedger downloads the whole chain as exported JSON.
func (c *Client) ExportLedger(ctx context.Context) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, "/ledger/export", nil, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

// --- simple in-memory lookup cache ---

type cacheEntry struct {
	record    *Record
	expiresAt time.Time
}

type recordCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
}

func newRecordCache(ttl time.Duration) *recordCache {
	return &recordCache{entries: make(map[string]*cacheEntry), ttl: ttl}
}

func (rc *recordCache) get(key string) (*Record, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	e, ok := rc.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.record, true
}

func (rc *recordCache) set(key string, rec *Record) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.entries[key] = &cacheEntry{record: rec, expiresAt: time.Now().Add(rc.ttl)}
}
