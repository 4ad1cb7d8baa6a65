package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/trustbank/trade-api/internal/types"
)

// Client is the boundary contract with the external exchange. Submissions
// carry a client-supplied idempotency key and are never blindly retried;
// price and status reads are idempotent and safe to repeat.
type Client interface {
	TickerPrice(ctx context.Context, pair string) (float64, error)
	SubmitTrade(ctx context.Context, req *SubmitRequest) (*SubmitResult, error)
	TradeStatus(ctx context.Context, externalRef string) (string, error)
}

// SubmitRequest is the order the exchange executes on our behalf.
type SubmitRequest struct {
	IdempotencyKey string              `json:"-"`
	UserID         string              `json:"user_id"`
	Pair           string              `json:"pair"`
	Side           types.TradeSide     `json:"side"`
	Amount         float64             `json:"amount"`
	PaymentMethod  types.PaymentMethod `json:"payment_method"`
}

// SubmitResult normalizes the exchange's acceptance response.
type SubmitResult struct {
	Accepted          bool   `json:"accepted"`
	ExternalReference string `json:"reference"`
	Status            string `json:"status"`
	RedirectURL       string `json:"redirect_url,omitempty"`
}

// HTTPClient talks to the exchange REST API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client

	// Bounded backoff for idempotent reads.
	maxAttempts int
	baseDelay   time.Duration
}

func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL:     baseURL,
		apiKey:      apiKey,
		client:      &http.Client{Timeout: 10 * time.Second},
		maxAttempts: 3,
		baseDelay:   500 * time.Millisecond,
	}
}

func (c *HTTPClient) TickerPrice(ctx context.Context, pair string) (float64, error) {
	var payload struct {
		Price string `json:"price"`
	}
	err := c.getWithRetry(ctx, fmt.Sprintf("%s/v1/markets/%s/ticker", c.baseURL, pair), &payload)
	if err != nil {
		return 0, err
	}
	price, err := strconv.ParseFloat(payload.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed ticker price %q: %w", payload.Price, err)
	}
	return price, nil
}

func (c *HTTPClient) SubmitTrade(ctx context.Context, req *SubmitRequest) (*SubmitResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/trades", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	// State-mutating call: exactly one attempt. The idempotency key makes a
	// client-level retry safe, but retries are the caller's decision.
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("trade submission failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusPaymentRequired {
		return &SubmitResult{Accepted: false}, nil
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("trade submission returned status %d", resp.StatusCode)
	}

	var result SubmitResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("malformed submission response: %w", err)
	}
	result.Accepted = true
	return &result, nil
}

func (c *HTTPClient) TradeStatus(ctx context.Context, externalRef string) (string, error) {
	var payload struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
	}
	err := c.getWithRetry(ctx, fmt.Sprintf("%s/v1/trades/%s", c.baseURL, externalRef), &payload)
	if err != nil {
		return "", err
	}
	return payload.Status, nil
}

// getWithRetry performs an idempotent GET with bounded exponential backoff
// and jitter, honoring context cancellation between attempts.
func (c *HTTPClient) getWithRetry(ctx context.Context, url string, out interface{}) error {
	var lastErr error
	delay := c.baseDelay

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			jitter := time.Duration(rand.Int63n(int64(delay) / 2))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay + jitter):
			}
			delay *= 2
		}

		lastErr = c.getOnce(ctx, url, out)
		if lastErr == nil {
			return nil
		}
		log.Warn().
			Err(lastErr).
			Str("url", url).
			Int("attempt", attempt).
			Msg("exchange read failed")
	}
	return fmt.Errorf("exchange read failed after %d attempts: %w", c.maxAttempts, lastErr)
}

func (c *HTTPClient) getOnce(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
