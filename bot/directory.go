package bot

import (
	"context"
	"database/sql"

	"github.com/nlononosov/Avatars-prod/db"
)

// Directory is the slice of the persistent store the chat sessions need.
type Directory interface {
	GetUser(ctx context.Context, twitchUserID string) (db.User, error)
	GetUserTokens(ctx context.Context, twitchUserID string) (db.Tokens, error)
	SaveUserTokens(ctx context.Context, twitchUserID string, t db.Tokens) error
	UpsertUser(ctx context.Context, twitchUserID, login, displayName string) error
	EnsureAvatar(ctx context.Context, twitchUserID string) (db.Avatar, error)
	GetAvatar(ctx context.Context, twitchUserID string) (db.Avatar, error)
	AddUserToStreamer(ctx context.Context, streamerID, twitchUserID string) error
	AvatarTimeoutSeconds(ctx context.Context, streamerID string) (int, error)
	ListBotEnabledStreamers(ctx context.Context) ([]db.User, error)
}

// SQLDirectory backs Directory with the Postgres queries from package db.
type SQLDirectory struct {
	DB *sql.DB
}

func (d SQLDirectory) GetUser(ctx context.Context, twitchUserID string) (db.User, error) {
	return db.GetUser(ctx, d.DB, twitchUserID)
}

func (d SQLDirectory) GetUserTokens(ctx context.Context, twitchUserID string) (db.Tokens, error) {
	return db.GetUserTokens(ctx, d.DB, twitchUserID)
}

func (d SQLDirectory) SaveUserTokens(ctx context.Context, twitchUserID string, t db.Tokens) error {
	return db.SaveUserTokens(ctx, d.DB, twitchUserID, t)
}

func (d SQLDirectory) UpsertUser(ctx context.Context, twitchUserID, login, displayName string) error {
	return db.UpsertUser(ctx, d.DB, twitchUserID, login, displayName)
}

func (d SQLDirectory) EnsureAvatar(ctx context.Context, twitchUserID string) (db.Avatar, error) {
	return db.EnsureAvatar(ctx, d.DB, twitchUserID)
}

func (d SQLDirectory) GetAvatar(ctx context.Context, twitchUserID string) (db.Avatar, error) {
	return db.GetAvatar(ctx, d.DB, twitchUserID)
}

func (d SQLDirectory) AddUserToStreamer(ctx context.Context, streamerID, twitchUserID string) error {
	return db.AddUserToStreamer(ctx, d.DB, streamerID, twitchUserID)
}

func (d SQLDirectory) AvatarTimeoutSeconds(ctx context.Context, streamerID string) (int, error) {
	return db.GetAvatarTimeoutSeconds(ctx, d.DB, streamerID)
}

func (d SQLDirectory) ListBotEnabledStreamers(ctx context.Context) ([]db.User, error) {
	return db.ListBotEnabledStreamers(ctx, d.DB)
}
