package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nlononosov/Avatars-prod/store"
)

type stubSessions struct {
	id       string
	sessions []string
}

func (s stubSessions) ProcessID() string        { return s.id }
func (s stubSessions) ActiveSessions() []string { return s.sessions }

func newTestMux() http.Handler {
	h := NewHandlers(nil, store.NewMemory(), stubSessions{id: "pid-1", sessions: []string{"s1", "s2"}})
	return NewMux(h)
}

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Fatalf("healthz body = %q", rec.Body.String())
	}
	if rec.Header().Get("X-Correlation-ID") == "" {
		t.Fatal("missing correlation id header")
	}
}

func TestHealthzReusesCorrelationID(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "corr-42")
	newTestMux().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Correlation-ID"); got != "corr-42" {
		t.Fatalf("correlation id = %q, want corr-42", got)
	}
}

func TestReadyz(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode readyz body: %v", err)
	}
	if body["status"] != "ready" {
		t.Fatalf("status = %q, want ready", body["status"])
	}
}

func TestStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		ProcessID      string   `json:"processId"`
		ActiveSessions []string `json:"activeSessions"`
		SessionCount   int      `json:"sessionCount"`
		StoreDegraded  bool     `json:"storeDegraded"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode status body: %v", err)
	}
	if body.ProcessID != "pid-1" || body.SessionCount != 2 {
		t.Fatalf("unexpected status: %+v", body)
	}
	if !body.StoreDegraded {
		t.Fatal("memory store should report degraded")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d, want 200", rec.Code)
	}
}
