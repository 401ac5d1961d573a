// Package remote calls a structural solver exposed over HTTP.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/kiranshivaraju/fragility/pkg/models"
)

// HTTPBackend implements models.StructuralBackend against a solver service
// that accepts POST /v1/analyses and answers with a BackendResponse.
type HTTPBackend struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPBackend creates a solver client. timeout bounds each request in
// addition to the caller's context.
func NewHTTPBackend(baseURL, token string, timeout time.Duration) *HTTPBackend {
	return &HTTPBackend{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPBackend) Name() string { return "http" }

func (c *HTTPBackend) RunOnce(ctx context.Context, req models.BackendRequest) (models.BackendResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return models.BackendResponse{}, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/analyses", bytes.NewReader(body))
	if err != nil {
		return models.BackendResponse{}, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return models.BackendResponse{}, classifyError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusBadGateway:
		return models.BackendResponse{}, fmt.Errorf("%w: status %d", models.ErrBackendUnavailable, resp.StatusCode)
	case resp.StatusCode == http.StatusGatewayTimeout:
		return models.BackendResponse{}, fmt.Errorf("%w: status %d", models.ErrBackendTimeout, resp.StatusCode)
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return models.BackendResponse{}, fmt.Errorf("solver rejected request: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out models.BackendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.BackendResponse{}, fmt.Errorf("%w: %v", models.ErrInvalidResponse, err)
	}
	return out, nil
}

// Ready checks GET /ready.
func (c *HTTPBackend) Ready(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ready", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: solver not ready (status %d)", models.ErrBackendUnavailable, resp.StatusCode)
	}
	return nil
}

func (c *HTTPBackend) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", models.ErrBackendTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", models.ErrBackendTimeout, err)
	}

	return fmt.Errorf("%w: %v", models.ErrBackendUnavailable, err)
}

var _ models.StructuralBackend = (*HTTPBackend)(nil)
