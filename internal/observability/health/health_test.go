package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeChecker struct{ connected bool }

func (f fakeChecker) IsConnected() bool { return f.connected }

func TestHandleHealthzReportsStatus(t *testing.T) {
	r := New(":0")
	r.SetStatus(StatusHealthy, "")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.handleHealthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp healthzResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if resp.Status != string(StatusHealthy) {
		t.Errorf("status = %q, want %q", resp.Status, StatusHealthy)
	}
}

func TestHandleHealthzStoppingReturns503(t *testing.T) {
	r := New(":0")
	r.SetStatus(StatusStopping, "shutting down")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.handleHealthz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestHandleReadyzAllUp(t *testing.T) {
	r := New(":0")
	r.RegisterChecker("mqtt", fakeChecker{connected: true})
	r.RegisterChecker("cloud", fakeChecker{connected: true})

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	r.handleReadyz(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp readyzResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if !resp.Ready {
		t.Error("expected ready=true when all checkers connected")
	}
}

func TestHandleReadyzOneDown(t *testing.T) {
	r := New(":0")
	r.RegisterChecker("mqtt", fakeChecker{connected: true})
	r.RegisterChecker("cloud", fakeChecker{connected: false})

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	r.handleReadyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var resp readyzResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if resp.Ready {
		t.Error("expected ready=false when a checker is down")
	}
	if resp.Checkers["cloud"] {
		t.Error("expected cloud checker to report false")
	}
}
