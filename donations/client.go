// Package donations polls the DonationAlerts API for every linked streamer
// and turns new donations into avatar appearances on the overlay.
package donations

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

const fetchLimit = 50

// API endpoints; package vars so tests can point them at a local server.
var (
	apiURL   = "https://www.donationalerts.com/api/v1/alerts/donations"
	tokenURL = "https://www.donationalerts.com/oauth/token"
)

// ProviderError is a non-2xx response from the DonationAlerts API.
type ProviderError struct {
	Status int
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("donationalerts: http %d", e.Status)
}

// Donation is one alert from the donations feed.
type Donation struct {
	ID        int64   `json:"id"`
	Username  string  `json:"username"`
	DAUserID  int64   `json:"user_id"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	Message   string  `json:"message"`
	CreatedAt string  `json:"created_at"`
}

type feedResponse struct {
	Data []Donation `json:"data"`
}

// Provider is the DonationAlerts API surface the poller needs.
type Provider interface {
	FetchDonations(ctx context.Context, accessToken string, sinceID int64) ([]Donation, error)
	Refresh(ctx context.Context, clientID, clientSecret, refreshToken string) (*oauth2.Token, error)
}

// Client talks to the real DonationAlerts API.
type Client struct {
	http *http.Client
}

func NewClient() *Client {
	return &Client{http: &http.Client{Timeout: 10 * time.Second}}
}

// FetchDonations returns donations for the authorized streamer, newest first,
// up to fetchLimit entries. A non-zero sinceID narrows the feed to donations
// after that id so steady-state polls don't rescan the whole page.
func (c *Client) FetchDonations(ctx context.Context, accessToken string, sinceID int64) ([]Donation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	q.Set("limit", fmt.Sprintf("%d", fetchLimit))
	if sinceID > 0 {
		q.Set("since", fmt.Sprintf("%d", sinceID))
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Status: resp.StatusCode}
	}
	var feed feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("decode donations feed: %w", err)
	}
	return feed.Data, nil
}

// Refresh exchanges a refresh token for a new token pair.
func (c *Client) Refresh(ctx context.Context, clientID, clientSecret, refreshToken string) (*oauth2.Token, error) {
	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh donationalerts token: %w", err)
	}
	return tok, nil
}
