package donations

import (
	"context"
	"database/sql"
	"time"

	"github.com/nlononosov/Avatars-prod/db"
)

// Repo is the slice of the persistent store the poller needs.
type Repo interface {
	ListActiveDonationStreamers(ctx context.Context) ([]string, error)
	GetDonationAlerts(ctx context.Context, streamerID string) (db.DonationAlertsCreds, error)
	UpdateDonationAlertsTokens(ctx context.Context, streamerID, access, refresh string, expiresAt time.Time) error
	SetDonationAlertsStatus(ctx context.Context, streamerID, status string) error
	SetLastDonationID(ctx context.Context, streamerID string, id int64) error
	MarkDonationProcessed(ctx context.Context, streamerID, donationID string) (bool, error)
	GetUserByDAUserID(ctx context.Context, daUserID string) (db.User, error)
	GetUserByLogin(ctx context.Context, login string) (db.User, error)
	GetAvatar(ctx context.Context, twitchUserID string) (db.Avatar, error)
	AddUserToStreamer(ctx context.Context, streamerID, twitchUserID string) error
}

// SQLRepo backs Repo with the Postgres queries from package db.
type SQLRepo struct {
	DB *sql.DB
}

func (r SQLRepo) ListActiveDonationStreamers(ctx context.Context) ([]string, error) {
	return db.ListActiveDonationStreamers(ctx, r.DB)
}

func (r SQLRepo) GetDonationAlerts(ctx context.Context, streamerID string) (db.DonationAlertsCreds, error) {
	return db.GetDonationAlerts(ctx, r.DB, streamerID)
}

func (r SQLRepo) UpdateDonationAlertsTokens(ctx context.Context, streamerID, access, refresh string, expiresAt time.Time) error {
	return db.UpdateDonationAlertsTokens(ctx, r.DB, streamerID, access, refresh, expiresAt)
}

func (r SQLRepo) SetDonationAlertsStatus(ctx context.Context, streamerID, status string) error {
	return db.SetDonationAlertsStatus(ctx, r.DB, streamerID, status)
}

func (r SQLRepo) SetLastDonationID(ctx context.Context, streamerID string, id int64) error {
	return db.SetLastDonationID(ctx, r.DB, streamerID, id)
}

func (r SQLRepo) MarkDonationProcessed(ctx context.Context, streamerID, donationID string) (bool, error) {
	return db.MarkDonationProcessed(ctx, r.DB, streamerID, donationID)
}

func (r SQLRepo) GetUserByDAUserID(ctx context.Context, daUserID string) (db.User, error) {
	return db.GetUserByDAUserID(ctx, r.DB, daUserID)
}

func (r SQLRepo) GetUserByLogin(ctx context.Context, login string) (db.User, error) {
	return db.GetUserByLogin(ctx, r.DB, login)
}

func (r SQLRepo) GetAvatar(ctx context.Context, twitchUserID string) (db.Avatar, error) {
	return db.GetAvatar(ctx, r.DB, twitchUserID)
}

func (r SQLRepo) AddUserToStreamer(ctx context.Context, streamerID, twitchUserID string) error {
	return db.AddUserToStreamer(ctx, r.DB, streamerID, twitchUserID)
}
