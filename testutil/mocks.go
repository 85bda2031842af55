package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// MockDonationAlerts is a test server that mocks the DonationAlerts API.
// Register handlers by path; unregistered paths return 404.
type MockDonationAlerts struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockDonationAlerts creates a new mock DonationAlerts API server.
func NewMockDonationAlerts(t *testing.T) *MockDonationAlerts {
	t.Helper()
	m := &MockDonationAlerts{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := m.Handlers[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// MockDonationsFeed adds a handler for the donations feed endpoint.
func (m *MockDonationAlerts) MockDonationsFeed(donations []map[string]any) {
	m.Handlers["/api/v1/alerts/donations"] = func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": donations}) //nolint:errcheck // test mock response
	}
}

// MockDonationsError makes the donations feed endpoint fail with a status.
func (m *MockDonationAlerts) MockDonationsError(status int) {
	m.Handlers["/api/v1/alerts/donations"] = func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}
}

// MockTokenResponse adds a handler for the OAuth token endpoint.
func (m *MockDonationAlerts) MockTokenResponse(accessToken, refreshToken string, expiresIn int) {
	m.Handlers["/oauth/token"] = func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck // test mock response
			"access_token":  accessToken,
			"refresh_token": refreshToken,
			"token_type":    "Bearer",
			"expires_in":    expiresIn,
		})
	}
}
