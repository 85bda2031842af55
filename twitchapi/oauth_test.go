package twitchapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestComputeExpiry(t *testing.T) {
	tests := []struct {
		name      string
		expiresIn int
		wantAfter time.Duration
	}{
		{
			name:      "4 hours",
			expiresIn: 14400,
			wantAfter: 4 * time.Hour,
		},
		{
			name:      "1 hour",
			expiresIn: 3600,
			wantAfter: 1 * time.Hour,
		},
		{
			name:      "zero defaults to 60 minutes",
			expiresIn: 0,
			wantAfter: 60 * time.Minute,
		},
		{
			name:      "negative defaults to 60 minutes",
			expiresIn: -100,
			wantAfter: 60 * time.Minute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := time.Now()
			expiry := ComputeExpiry(tt.expiresIn)
			after := time.Now()

			expectedExpiry := before.Add(tt.wantAfter)

			// Allow 2 second tolerance
			if expiry.Before(expectedExpiry.Add(-2*time.Second)) || expiry.After(after.Add(tt.wantAfter).Add(2*time.Second)) {
				t.Errorf("ComputeExpiry(%d) = %v, want approximately %v", tt.expiresIn, expiry, expectedExpiry)
			}
		})
	}
}

func TestRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.Form.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q, want refresh_token", got)
		}
		if got := r.Form.Get("refresh_token"); got != "old-refresh" {
			t.Errorf("refresh_token = %q, want old-refresh", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"new-access","refresh_token":"new-refresh","token_type":"bearer","scope":["chat:read","chat:edit"],"expires_in":14400}`))
	}))
	defer srv.Close()

	orig := tokenURL
	tokenURL = srv.URL
	defer func() { tokenURL = orig }()

	res, err := RefreshToken(context.Background(), "cid", "secret", "old-refresh")
	if err != nil {
		t.Fatalf("RefreshToken: %v", err)
	}
	if res.AccessToken != "new-access" || res.RefreshToken != "new-refresh" {
		t.Errorf("result = %+v", res)
	}
	if res.ExpiresIn != 14400 || len(res.Scope) != 2 {
		t.Errorf("result = %+v", res)
	}
}

func TestRefreshTokenRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status":400,"message":"Invalid refresh token"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	orig := tokenURL
	tokenURL = srv.URL
	defer func() { tokenURL = orig }()

	if _, err := RefreshToken(context.Background(), "cid", "secret", "bad"); err == nil {
		t.Fatal("expected error for rejected refresh")
	}
}

func TestRefreshTokenMissingParams(t *testing.T) {
	if _, err := RefreshToken(context.Background(), "", "secret", "r"); err == nil {
		t.Error("expected error for missing client id")
	}
	if _, err := RefreshToken(context.Background(), "cid", "secret", ""); err == nil {
		t.Error("expected error for missing refresh token")
	}
}
