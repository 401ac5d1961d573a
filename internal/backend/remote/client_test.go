package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kiranshivaraju/fragility/pkg/models"
)

// --- helpers ---

func solverServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(handler)
}

func testRequest() models.BackendRequest {
	return models.BackendRequest{
		Params:   models.StructuralParameterSet{Code: "SC-POST-7F-M"},
		Waveform: []float64{0, 12.5, -3},
		DT:       0.05,
		Damping:  0.05,
	}
}

// --- RunOnce tests ---

func TestRunOnce_ValidResponse(t *testing.T) {
	ts := solverServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/analyses" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer s3cret" {
			t.Errorf("unexpected auth header: %q", got)
		}

		var req models.BackendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.Params.Code != "SC-POST-7F-M" || len(req.Waveform) != 3 {
			t.Errorf("unexpected request: %+v", req)
		}

		json.NewEncoder(w).Encode(models.BackendResponse{MaxDriftRatio: 0.021, Converged: true})
	})
	defer ts.Close()

	c := NewHTTPBackend(ts.URL, "s3cret", 5*time.Second)
	resp, err := c.RunOnce(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.MaxDriftRatio != 0.021 || !resp.Converged {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestRunOnce_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusServiceUnavailable, models.ErrBackendUnavailable},
		{http.StatusBadGateway, models.ErrBackendUnavailable},
		{http.StatusGatewayTimeout, models.ErrBackendTimeout},
	}
	for _, tt := range tests {
		ts := solverServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		})
		_, err := NewHTTPBackend(ts.URL, "", 5*time.Second).RunOnce(context.Background(), testRequest())
		ts.Close()
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: expected %v, got %v", tt.status, tt.want, err)
		}
	}
}

func TestRunOnce_BadRequest(t *testing.T) {
	ts := solverServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "stories missing", http.StatusBadRequest)
	})
	defer ts.Close()

	_, err := NewHTTPBackend(ts.URL, "", 5*time.Second).RunOnce(context.Background(), testRequest())
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, models.ErrBackendUnavailable) {
		t.Errorf("client errors must not look like an outage: %v", err)
	}
}

func TestRunOnce_InvalidJSON(t *testing.T) {
	ts := solverServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{not json"))
	})
	defer ts.Close()

	_, err := NewHTTPBackend(ts.URL, "", 5*time.Second).RunOnce(context.Background(), testRequest())
	if !errors.Is(err, models.ErrInvalidResponse) {
		t.Errorf("expected ErrInvalidResponse, got %v", err)
	}
}

func TestRunOnce_Timeout(t *testing.T) {
	ts := solverServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	})
	defer ts.Close()

	_, err := NewHTTPBackend(ts.URL, "", 50*time.Millisecond).RunOnce(context.Background(), testRequest())
	if !errors.Is(err, models.ErrBackendTimeout) {
		t.Errorf("expected ErrBackendTimeout, got %v", err)
	}
}

func TestRunOnce_Unreachable(t *testing.T) {
	_, err := NewHTTPBackend("http://127.0.0.1:1", "", time.Second).RunOnce(context.Background(), testRequest())
	if !errors.Is(err, models.ErrBackendUnavailable) {
		t.Errorf("expected ErrBackendUnavailable, got %v", err)
	}
}

// --- Ready tests ---

func TestReady(t *testing.T) {
	ts := solverServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ready" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	defer ts.Close()

	if err := NewHTTPBackend(ts.URL, "", time.Second).Ready(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestReady_NotReady(t *testing.T) {
	ts := solverServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	defer ts.Close()

	err := NewHTTPBackend(ts.URL, "", time.Second).Ready(context.Background())
	if !errors.Is(err, models.ErrBackendUnavailable) {
		t.Errorf("expected ErrBackendUnavailable, got %v", err)
	}
}
