// Package payment talks to the payment provider's REST API.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/srgjo27/batch_invite/internal/core/domain"
)

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPGateway(cfg Config) *HTTPGateway {
	return &HTTPGateway{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

type createAuthorizationRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type createAuthorizationResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type refundRequest struct {
	PaymentRef string `json:"payment_ref"`
	Amount     int64  `json:"amount"`
}

type refundResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (g *HTTPGateway) CreateAuthorization(ctx context.Context, amount int64, currency string, metadata map[string]string) (domain.PaymentLink, error) {
	var resp createAuthorizationResponse
	err := g.do(ctx, http.MethodPost, "/v1/authorizations", createAuthorizationRequest{
		Amount:   amount,
		Currency: currency,
		Metadata: metadata,
	}, &resp)
	if err != nil {
		return domain.PaymentLink{}, err
	}

	if resp.ID == "" || resp.URL == "" {
		return domain.PaymentLink{}, fmt.Errorf("authorization response missing id or url")
	}

	return domain.PaymentLink{Ref: resp.ID, URL: resp.URL}, nil
}

func (g *HTTPGateway) Revoke(ctx context.Context, ref string) error {
	return g.do(ctx, http.MethodPost, "/v1/authorizations/"+url.PathEscape(ref)+"/revoke", nil, nil)
}

func (g *HTTPGateway) Refund(ctx context.Context, paymentRef string, amount int64) (string, error) {
	var resp refundResponse
	err := g.do(ctx, http.MethodPost, "/v1/refunds", refundRequest{PaymentRef: paymentRef, Amount: amount}, &resp)
	if err != nil {
		return "", err
	}

	if resp.ID == "" {
		return "", fmt.Errorf("refund response missing id")
	}
	return resp.ID, nil
}

func (g *HTTPGateway) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e errorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, e.Error)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
