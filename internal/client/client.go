// Package client talks to a running prediction server.
package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"titanic-predictor/internal/features"
)

// Client calls the prediction HTTP API.
type Client struct {
	base string
	rest *resty.Client
}

// New returns a client for the server at base, e.g. http://localhost:5000.
func New(base string, timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(5 * time.Second)
	}
	r.SetBaseURL(base)
	r.SetHeader("Content-Type", "application/json")
	return &Client{base: base, rest: r}
}

// Health is the /health response.
type Health struct {
	Status      string `json:"status"`
	ModelStatus string `json:"model_status"`
}

// Prediction is the /predict response.
type Prediction struct {
	Prediction    string             `json:"prediction"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"probabilities"`
	Input         features.Record    `json:"input_features"`
	RequestID     string             `json:"request_id"`
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string `json:"error"`
	Field   string `json:"field"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Health fetches the server's health.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	out := &Health{}
	apiErr := &APIError{}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(out).
		SetError(apiErr).
		Get("/health")
	if err != nil {
		return nil, fmt.Errorf("health request failed: %w", err)
	}
	if resp.IsError() {
		apiErr.Status = resp.StatusCode()
		return nil, apiErr
	}
	return out, nil
}

// Predict asks the server to score rec.
func (c *Client) Predict(ctx context.Context, rec features.Record) (*Prediction, error) {
	return c.predict(ctx, rec)
}

// PredictRaw posts body as is. It lets callers send payloads the typed
// record cannot express, such as one with a field left out.
func (c *Client) PredictRaw(ctx context.Context, body map[string]interface{}) (*Prediction, error) {
	return c.predict(ctx, body)
}

func (c *Client) predict(ctx context.Context, body interface{}) (*Prediction, error) {
	out := &Prediction{}
	apiErr := &APIError{}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(out).
		SetError(apiErr).
		Post("/predict")
	if err != nil {
		return nil, fmt.Errorf("predict request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		apiErr.Status = resp.StatusCode()
		return nil, apiErr
	}
	return out, nil
}
