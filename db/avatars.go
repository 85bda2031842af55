package db

import (
	"context"
	"database/sql"
	"errors"
)

// Avatar holds the cosmetic layers rendered for one user.
type Avatar struct {
	TwitchUserID string `json:"twitchUserId"`
	BodySkin     string `json:"bodySkin"`
	FaceSkin     string `json:"faceSkin"`
	ClothesType  string `json:"clothesType"`
	Others       string `json:"others"`
}

// Default cosmetics given to a user on first !start.
const (
	DefaultBodySkin    = "body_skin_1"
	DefaultFaceSkin    = "face_skin_1"
	DefaultClothesType = "clothes_type_1"
	DefaultOthers      = "others_1"
)

// EnsureAvatar creates the default avatar row for a user if none exists and
// returns the current avatar either way.
func EnsureAvatar(ctx context.Context, dbx *sql.DB, twitchUserID string) (Avatar, error) {
	q := `INSERT INTO avatars(twitch_user_id, body_skin, face_skin, clothes_type, others)
		  VALUES($1,$2,$3,$4,$5)
		  ON CONFLICT(twitch_user_id) DO NOTHING`
	if _, err := dbx.ExecContext(ctx, q, twitchUserID, DefaultBodySkin, DefaultFaceSkin, DefaultClothesType, DefaultOthers); err != nil {
		return Avatar{}, err
	}
	return GetAvatar(ctx, dbx, twitchUserID)
}

// GetAvatar returns a user's avatar. Returns ErrNotFound when the user never
// ran !start.
func GetAvatar(ctx context.Context, dbx *sql.DB, twitchUserID string) (Avatar, error) {
	var a Avatar
	row := dbx.QueryRowContext(ctx,
		`SELECT twitch_user_id, COALESCE(body_skin,''), COALESCE(face_skin,''), COALESCE(clothes_type,''), COALESCE(others,'')
		 FROM avatars WHERE twitch_user_id = $1`, twitchUserID)
	if err := row.Scan(&a.TwitchUserID, &a.BodySkin, &a.FaceSkin, &a.ClothesType, &a.Others); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Avatar{}, ErrNotFound
		}
		return Avatar{}, err
	}
	return a, nil
}

// AddUserToStreamer links a user to a streamer's roster. Idempotent.
func AddUserToStreamer(ctx context.Context, dbx *sql.DB, streamerID, twitchUserID string) error {
	q := `INSERT INTO streamer_users(streamer_id, twitch_user_id)
		  VALUES($1,$2)
		  ON CONFLICT(streamer_id, twitch_user_id) DO NOTHING`
	_, err := dbx.ExecContext(ctx, q, streamerID, twitchUserID)
	return err
}

// IsUserOnRoster reports whether a user is already linked to a streamer.
func IsUserOnRoster(ctx context.Context, dbx *sql.DB, streamerID, twitchUserID string) (bool, error) {
	var one int
	row := dbx.QueryRowContext(ctx,
		`SELECT 1 FROM streamer_users WHERE streamer_id=$1 AND twitch_user_id=$2`, streamerID, twitchUserID)
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
