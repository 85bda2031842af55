package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// DonationAlerts credential statuses.
const (
	DAStatusActive     = "active"
	DAStatusNeedReauth = "need_reauth"
)

// DonationAlertsCreds is a streamer's DonationAlerts link.
type DonationAlertsCreds struct {
	StreamerID     string
	DAUserID       string
	AccessToken    string
	RefreshToken   string
	ExpiresAt      time.Time
	Status         string
	LastDonationID int64
}

// MarkDonationProcessed records a processed donation id and reports whether
// this call was the first to do so. The write-once row is the idempotency
// guarantee across instances.
func MarkDonationProcessed(ctx context.Context, dbx *sql.DB, streamerID, donationID string) (bool, error) {
	res, err := dbx.ExecContext(ctx,
		`INSERT INTO donations_processed(streamer_id, donation_id)
		 VALUES($1,$2) ON CONFLICT DO NOTHING`, streamerID, donationID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// IsDonationProcessed reports whether a donation id was already handled.
func IsDonationProcessed(ctx context.Context, dbx *sql.DB, streamerID, donationID string) (bool, error) {
	var one int
	row := dbx.QueryRowContext(ctx,
		`SELECT 1 FROM donations_processed WHERE streamer_id=$1 AND donation_id=$2`, streamerID, donationID)
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// UpsertDonationAlerts stores a streamer's DonationAlerts link with encrypted
// tokens and resets its status to active.
func UpsertDonationAlerts(ctx context.Context, dbx *sql.DB, streamerID, daUserID, access, refresh string, expiresAt time.Time) error {
	accessStored, refreshStored, version, err := encryptPair(access, refresh)
	if err != nil {
		return err
	}
	q := `INSERT INTO streamer_donationalerts(streamer_id, da_user_id, access_token, refresh_token, expires_at, status, encryption_version, updated_at)
		  VALUES($1,$2,$3,$4,$5,$6,$7,NOW())
		  ON CONFLICT(streamer_id) DO UPDATE SET
		    da_user_id=EXCLUDED.da_user_id,
		    access_token=EXCLUDED.access_token,
		    refresh_token=EXCLUDED.refresh_token,
		    expires_at=EXCLUDED.expires_at,
		    status=EXCLUDED.status,
		    encryption_version=EXCLUDED.encryption_version,
		    updated_at=NOW()`
	_, err = dbx.ExecContext(ctx, q, streamerID, daUserID, accessStored, refreshStored, expiresAt, DAStatusActive, version)
	return err
}

// GetDonationAlerts loads and decrypts a streamer's DonationAlerts link.
func GetDonationAlerts(ctx context.Context, dbx *sql.DB, streamerID string) (DonationAlertsCreds, error) {
	var (
		c               DonationAlertsCreds
		access, refresh sql.NullString
		expires         sql.NullTime
		version         int
	)
	row := dbx.QueryRowContext(ctx,
		`SELECT streamer_id, COALESCE(da_user_id,''), access_token, refresh_token, expires_at,
		        COALESCE(status,'active'), COALESCE(last_donation_id,0), COALESCE(encryption_version,0)
		 FROM streamer_donationalerts WHERE streamer_id=$1`, streamerID)
	if err := row.Scan(&c.StreamerID, &c.DAUserID, &access, &refresh, &expires, &c.Status, &c.LastDonationID, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DonationAlertsCreds{}, ErrNotFound
		}
		return DonationAlertsCreds{}, err
	}
	a, r, err := decryptPair(access.String, refresh.String, version)
	if err != nil {
		return DonationAlertsCreds{}, err
	}
	c.AccessToken = a
	c.RefreshToken = r
	c.ExpiresAt = expires.Time
	return c, nil
}

// UpdateDonationAlertsTokens replaces the token pair after a refresh.
func UpdateDonationAlertsTokens(ctx context.Context, dbx *sql.DB, streamerID, access, refresh string, expiresAt time.Time) error {
	accessStored, refreshStored, version, err := encryptPair(access, refresh)
	if err != nil {
		return err
	}
	_, err = dbx.ExecContext(ctx,
		`UPDATE streamer_donationalerts SET access_token=$2, refresh_token=$3, expires_at=$4,
		 encryption_version=$5, status=$6, updated_at=NOW() WHERE streamer_id=$1`,
		streamerID, accessStored, refreshStored, expiresAt, version, DAStatusActive)
	return err
}

// SetDonationAlertsStatus flips a streamer's link status (e.g. to need_reauth
// after a refresh failure or a 401).
func SetDonationAlertsStatus(ctx context.Context, dbx *sql.DB, streamerID, status string) error {
	_, err := dbx.ExecContext(ctx,
		`UPDATE streamer_donationalerts SET status=$2, updated_at=NOW() WHERE streamer_id=$1`, streamerID, status)
	return err
}

// SetLastDonationID advances the poll cursor. It never moves backwards.
func SetLastDonationID(ctx context.Context, dbx *sql.DB, streamerID string, id int64) error {
	_, err := dbx.ExecContext(ctx,
		`UPDATE streamer_donationalerts SET last_donation_id = GREATEST(COALESCE(last_donation_id,0), $2), updated_at=NOW()
		 WHERE streamer_id=$1`, streamerID, id)
	return err
}

// ListActiveDonationStreamers returns streamer ids with an active
// DonationAlerts link; this is the poll scheduler's tenant list.
func ListActiveDonationStreamers(ctx context.Context, dbx *sql.DB) ([]string, error) {
	rows, err := dbx.QueryContext(ctx,
		`SELECT streamer_id FROM streamer_donationalerts WHERE status=$1 ORDER BY streamer_id`, DAStatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
