// Package marketdata fetches live quotes from the upstream quote provider.
package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/aquilalabs/watchdeck/internal/domain"
)

// ErrCodeNotFound means the provider does not know the stock code. Cards
// carrying such a code are skipped, not failed.
var ErrCodeNotFound = errors.New("stock code not found")

// ErrUnavailable means the provider could not be reached or answered with a
// server error. The fetch is retryable.
var ErrUnavailable = errors.New("market data unavailable")

// Client is the quote provider HTTP client.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	now     func() time.Time
	log     zerolog.Logger
}

// NewClient creates a new market data client.
func NewClient(baseURL, apiKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		now: time.Now,
		log: log.With().Str("client", "marketdata").Logger(),
	}
}

// quoteResponse is the provider's quote payload.
type quoteResponse struct {
	Code          string  `json:"code"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	PreviousClose float64 `json:"previousClose"`
	ChangePercent float64 `json:"changePercent"`
	Volume        int64   `json:"volume"`
}

// FetchQuote fetches the current quote for one stock code.
func (c *Client) FetchQuote(ctx context.Context, code string) (*domain.Snapshot, error) {
	endpoint := fmt.Sprintf("%s/quotes/%s", c.baseURL, url.PathEscape(code))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build quote request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrCodeNotFound, code)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: provider returned %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status %d fetching quote for %s", resp.StatusCode, code)
	}

	var quote quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return nil, fmt.Errorf("failed to decode quote response: %w", err)
	}

	return &domain.Snapshot{
		Code:          quote.Code,
		Name:          quote.Name,
		Price:         quote.Price,
		Open:          quote.Open,
		High:          quote.High,
		Low:           quote.Low,
		PreviousClose: quote.PreviousClose,
		ChangePercent: quote.ChangePercent,
		Volume:        quote.Volume,
		FetchedAt:     c.now(),
	}, nil
}

// FetchQuotesBatch fetches quotes for several codes. The result preserves
// input order; codes the provider does not know are left nil rather than
// failing the batch. Provider outages abort the whole batch.
func (c *Client) FetchQuotesBatch(ctx context.Context, codes []string) ([]*domain.Snapshot, error) {
	snapshots := make([]*domain.Snapshot, len(codes))
	for i, code := range codes {
		snap, err := c.FetchQuote(ctx, code)
		if errors.Is(err, ErrCodeNotFound) {
			c.log.Warn().Str("stock_code", code).Msg("Unknown stock code, skipping")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to fetch quote for %s: %w", code, err)
		}
		snapshots[i] = snap
	}
	return snapshots, nil
}

// IsValidCode checks whether the provider recognizes the stock code.
func (c *Client) IsValidCode(ctx context.Context, code string) (bool, error) {
	_, err := c.FetchQuote(ctx, code)
	if errors.Is(err, ErrCodeNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
