package db

import (
	"context"
	"database/sql"
	"errors"
)

// DefaultAvatarTimeoutSeconds is used when a streamer has no settings row.
const DefaultAvatarTimeoutSeconds = 300

// GetAvatarTimeoutSeconds returns a streamer's configured idle timeout,
// falling back to the default when no row exists.
func GetAvatarTimeoutSeconds(ctx context.Context, dbx *sql.DB, streamerID string) (int, error) {
	var seconds int
	row := dbx.QueryRowContext(ctx,
		`SELECT COALESCE(avatar_timeout_seconds, $2) FROM streamer_settings WHERE streamer_id=$1`,
		streamerID, DefaultAvatarTimeoutSeconds)
	if err := row.Scan(&seconds); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DefaultAvatarTimeoutSeconds, nil
		}
		return 0, err
	}
	if seconds <= 0 {
		return DefaultAvatarTimeoutSeconds, nil
	}
	return seconds, nil
}

// SetAvatarTimeoutSeconds stores a streamer's idle timeout.
func SetAvatarTimeoutSeconds(ctx context.Context, dbx *sql.DB, streamerID string, seconds int) error {
	q := `INSERT INTO streamer_settings(streamer_id, avatar_timeout_seconds)
		  VALUES($1,$2)
		  ON CONFLICT(streamer_id) DO UPDATE SET
		    avatar_timeout_seconds=EXCLUDED.avatar_timeout_seconds,
		    updated_at=NOW()`
	_, err := dbx.ExecContext(ctx, q, streamerID, seconds)
	return err
}
