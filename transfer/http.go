package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xraph/subvault/id"
	"github.com/xraph/subvault/types"
)

var _ Transferer = (*HTTPGateway)(nil)

// HTTPGateway calls an external token service over HTTP. It POSTs a JSON
// transfer request to {BaseURL}/transfers and treats any 2xx as success.
// A 402 or 409 response is a business rejection (insufficient funds).
//
// Every request carries an Idempotency-Key header: the key from the context
// when set, otherwise a fresh transfer ID.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
	apiKey  string
}

// HTTPOption configures an HTTPGateway.
type HTTPOption func(*HTTPGateway)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(g *HTTPGateway) { g.client = c }
}

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) HTTPOption {
	return func(g *HTTPGateway) { g.apiKey = key }
}

// NewHTTPGateway creates a gateway for the token service at baseURL.
func NewHTTPGateway(baseURL string, opts ...HTTPOption) *HTTPGateway {
	g := &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type transferRequest struct {
	Token  types.Address `json:"token"`
	From   types.Address `json:"from"`
	To     types.Address `json:"to"`
	Amount types.Amount  `json:"amount"`
}

// Transfer implements Transferer.
func (g *HTTPGateway) Transfer(ctx context.Context, token, from, to types.Address, amount types.Amount) error {
	body, err := json.Marshal(transferRequest{Token: token, From: from, To: to, Amount: amount})
	if err != nil {
		return fmt.Errorf("transfer: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/transfers", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("transfer: build request: %w", err)
	}
	key := IdempotencyKey(ctx)
	if key == "" {
		key = id.NewTransferID().String()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", key)
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for connection reuse
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024)) //nolint:errcheck // best-effort error detail
	switch resp.StatusCode {
	case http.StatusPaymentRequired, http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrInsufficientFunds, strings.TrimSpace(string(msg)))
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrInvalidAmount, strings.TrimSpace(string(msg)))
	default:
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
}
