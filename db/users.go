package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// User is a chat participant or streamer known to the system.
type User struct {
	TwitchUserID string
	Login        string
	DisplayName  string
	BotEnabled   bool
}

// Tokens is a decrypted OAuth token pair with its expiry.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// NormalizeLogin lowercases and trims a Twitch login for comparisons.
func NormalizeLogin(login string) string {
	return strings.ToLower(strings.TrimSpace(login))
}

// UpsertUser creates or refreshes a user profile row. Tokens are untouched.
func UpsertUser(ctx context.Context, dbx *sql.DB, twitchUserID, login, displayName string) error {
	q := `INSERT INTO users(twitch_user_id, login, display_name, updated_at)
		  VALUES($1,$2,$3,NOW())
		  ON CONFLICT(twitch_user_id) DO UPDATE SET
		    login=EXCLUDED.login,
		    display_name=EXCLUDED.display_name,
		    updated_at=NOW()`
	_, err := dbx.ExecContext(ctx, q, twitchUserID, NormalizeLogin(login), displayName)
	return err
}

// GetUser looks a user up by Twitch id. Returns ErrNotFound when absent.
func GetUser(ctx context.Context, dbx *sql.DB, twitchUserID string) (User, error) {
	var u User
	row := dbx.QueryRowContext(ctx,
		`SELECT twitch_user_id, COALESCE(login,''), COALESCE(display_name,''), bot_enabled
		 FROM users WHERE twitch_user_id = $1`, twitchUserID)
	if err := row.Scan(&u.TwitchUserID, &u.Login, &u.DisplayName, &u.BotEnabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}

// GetUserByLogin looks a user up by normalized login.
func GetUserByLogin(ctx context.Context, dbx *sql.DB, login string) (User, error) {
	var u User
	row := dbx.QueryRowContext(ctx,
		`SELECT twitch_user_id, COALESCE(login,''), COALESCE(display_name,''), bot_enabled
		 FROM users WHERE login = $1`, NormalizeLogin(login))
	if err := row.Scan(&u.TwitchUserID, &u.Login, &u.DisplayName, &u.BotEnabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}

// GetUserByDAUserID looks a user up by their linked DonationAlerts account id.
func GetUserByDAUserID(ctx context.Context, dbx *sql.DB, daUserID string) (User, error) {
	var u User
	row := dbx.QueryRowContext(ctx,
		`SELECT twitch_user_id, COALESCE(login,''), COALESCE(display_name,''), bot_enabled
		 FROM users WHERE da_user_id = $1`, daUserID)
	if err := row.Scan(&u.TwitchUserID, &u.Login, &u.DisplayName, &u.BotEnabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}

// SetUserDAUserID links a Twitch user to their DonationAlerts account, used to
// match incoming donations without relying on the username.
func SetUserDAUserID(ctx context.Context, dbx *sql.DB, twitchUserID, daUserID string) error {
	_, err := dbx.ExecContext(ctx,
		`UPDATE users SET da_user_id=$2, updated_at=NOW() WHERE twitch_user_id=$1`, twitchUserID, daUserID)
	return err
}

// ListBotEnabledStreamers returns the streamers whose channels should have a
// live chat session.
func ListBotEnabledStreamers(ctx context.Context, dbx *sql.DB) ([]User, error) {
	rows, err := dbx.QueryContext(ctx,
		`SELECT twitch_user_id, COALESCE(login,''), COALESCE(display_name,''), bot_enabled
		 FROM users WHERE bot_enabled ORDER BY twitch_user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.TwitchUserID, &u.Login, &u.DisplayName, &u.BotEnabled); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SaveUserTokens stores a user's Twitch token pair, encrypted when
// ENCRYPTION_KEY is configured.
func SaveUserTokens(ctx context.Context, dbx *sql.DB, twitchUserID string, t Tokens) error {
	access, refresh, version, err := encryptPair(t.AccessToken, t.RefreshToken)
	if err != nil {
		return err
	}
	q := `UPDATE users SET access_token=$2, refresh_token=$3, token_expires_at=$4,
	      encryption_version=$5, updated_at=NOW() WHERE twitch_user_id=$1`
	res, err := dbx.ExecContext(ctx, q, twitchUserID, access, refresh, t.ExpiresAt, version)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("save tokens for %s: %w", twitchUserID, ErrNotFound)
	}
	return nil
}

// GetUserTokens loads and decrypts a user's Twitch token pair. ErrNotFound
// covers both a missing user and a user with no stored tokens.
func GetUserTokens(ctx context.Context, dbx *sql.DB, twitchUserID string) (Tokens, error) {
	var (
		access, refresh sql.NullString
		expires         sql.NullTime
		version         int
	)
	row := dbx.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, token_expires_at, COALESCE(encryption_version, 0)
		 FROM users WHERE twitch_user_id = $1`, twitchUserID)
	if err := row.Scan(&access, &refresh, &expires, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Tokens{}, ErrNotFound
		}
		return Tokens{}, err
	}
	if !access.Valid || access.String == "" {
		return Tokens{}, ErrNotFound
	}
	a, r, err := decryptPair(access.String, refresh.String, version)
	if err != nil {
		return Tokens{}, err
	}
	return Tokens{AccessToken: a, RefreshToken: r, ExpiresAt: expires.Time}, nil
}
