// Package mlengine is the REST client for the ensemble prediction engine.
// The engine runs the four sub-models (LSTM, GRU, Prophet, XGBoost) and
// returns their outputs plus weights; everything downstream of it treats the
// prediction as opaque input.
package mlengine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/apollonlabs/zkoracle/internal/crypto"
	"github.com/apollonlabs/zkoracle/internal/domain"
)

// Client is the REST client for the prediction engine API.
type Client struct {
	baseURL    string
	auth       *crypto.HMACAuth
	httpClient *http.Client
}

// NewClient creates a new prediction engine client.
//
// baseURL is the API root, e.g. "https://mlengine.internal:9443/v1".
// auth may be nil when the engine runs unauthenticated (local development).
func NewClient(baseURL string, auth *crypto.HMACAuth) *Client {
	return &Client{
		baseURL: baseURL,
		auth:    auth,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Predict fetches a fresh ensemble prediction for the given asset and
// timeframe.
func (c *Client) Predict(ctx context.Context, asset string, tf domain.Timeframe) (domain.EnsemblePrediction, error) {
	params := url.Values{}
	params.Set("asset", asset)
	params.Set("timeframe", string(tf))
	path := "/predict?" + params.Encode()

	body, err := c.doRequest(ctx, http.MethodGet, path)
	if err != nil {
		return domain.EnsemblePrediction{}, fmt.Errorf("mlengine: predict %s/%s: %w", asset, tf, err)
	}

	var resp predictionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.EnsemblePrediction{}, fmt.Errorf("mlengine: decode prediction: %w", err)
	}

	return resp.toDomain(), nil
}

// Health checks the engine's health endpoint and reports the loaded models.
func (c *Client) Health(ctx context.Context) ([]string, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/health")
	if err != nil {
		return nil, fmt.Errorf("mlengine: health: %w", err)
	}

	var resp healthResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("mlengine: decode health: %w", err)
	}
	if resp.Status != "ok" {
		return resp.Models, fmt.Errorf("mlengine: engine reports status %q", resp.Status)
	}

	return resp.Models, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doRequest builds, authenticates, sends, and reads an HTTP request against
// the prediction engine API.
func (c *Client) doRequest(ctx context.Context, method, path string) ([]byte, error) {
	fullURL := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if c.auth != nil {
		for k, v := range c.auth.Headers(method, path, "") {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := c.checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	return respBody, nil
}

// checkStatus maps non-2xx HTTP status codes to appropriate errors.
func (c *Client) checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr errorResponse
	_ = json.Unmarshal(body, &apiErr)

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("not found: %s (%s)", apiErr.Error, apiErr.Code)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("unauthorized: %s (%s)", apiErr.Error, apiErr.Code)
	case http.StatusTooManyRequests:
		return fmt.Errorf("rate limited: %s (%s)", apiErr.Error, apiErr.Code)
	case http.StatusBadRequest:
		return fmt.Errorf("bad request: %s (%s)", apiErr.Error, apiErr.Code)
	default:
		return fmt.Errorf("HTTP %d: %s (%s)", statusCode, apiErr.Error, apiErr.Code)
	}
}
