// Package state mirrors session liveness, avatar presence and game snapshots
// through the distributed store so any instance can answer "who owns this
// channel" and "who is on screen" without talking to the owner.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nlononosov/Avatars-prod/store"
)

// Key TTLs. Liveness records are refreshed by the watchdog well inside the
// hour; presence and game keys are refreshed on activity.
const (
	botStateTTL  = time.Hour
	presenceTTL  = 10 * time.Minute
	gameStateTTL = 30 * time.Minute

	botStateCacheTTL = 5 * time.Second
)

// BotState is the liveness record for one streamer's chat session.
type BotState struct {
	Active               bool      `json:"active"`
	OwnerProcessID       string    `json:"ownerProcessId"`
	AvatarTimeoutSeconds int       `json:"avatarTimeoutSeconds"`
	LastUpdate           time.Time `json:"lastUpdate"`
}

type cachedBotState struct {
	state   BotState
	ok      bool
	fetched time.Time
}

type Manager struct {
	store *store.Store

	mu    sync.Mutex
	cache map[string]cachedBotState
}

func New(st *store.Store) *Manager {
	return &Manager{store: st, cache: make(map[string]cachedBotState)}
}

func botStateKey(streamerID string) string { return "bot:state:" + streamerID }
func activeSetKey(streamerID string) string {
	return "avatar:active:" + streamerID
}
func activityKey(streamerID, userID string) string {
	return "avatar:activity:" + streamerID + ":" + userID
}
func lifecycleKey(streamerID, userID string) string {
	return "avatar:state:" + streamerID + ":" + userID
}
func gameKey(game, streamerID string) string { return "game:" + game + ":" + streamerID }

// SaveBotState writes the liveness record and refreshes the local cache.
func (m *Manager) SaveBotState(ctx context.Context, streamerID string, st BotState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal bot state: %w", err)
	}
	if err := m.store.SetEx(ctx, botStateKey(streamerID), string(raw), botStateTTL); err != nil {
		return err
	}
	m.mu.Lock()
	m.cache[streamerID] = cachedBotState{state: st, ok: true, fetched: time.Now()}
	m.mu.Unlock()
	return nil
}

// GetBotState returns the liveness record for a streamer. Reads are served
// from a short local cache so hot paths don't round-trip on every message.
func (m *Manager) GetBotState(ctx context.Context, streamerID string) (BotState, bool, error) {
	m.mu.Lock()
	if c, ok := m.cache[streamerID]; ok && time.Since(c.fetched) < botStateCacheTTL {
		m.mu.Unlock()
		return c.state, c.ok, nil
	}
	m.mu.Unlock()

	raw, err := m.store.Get(ctx, botStateKey(streamerID))
	if errors.Is(err, store.ErrNotFound) {
		m.mu.Lock()
		m.cache[streamerID] = cachedBotState{fetched: time.Now()}
		m.mu.Unlock()
		return BotState{}, false, nil
	}
	if err != nil {
		return BotState{}, false, err
	}
	var st BotState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return BotState{}, false, fmt.Errorf("unmarshal bot state %s: %w", streamerID, err)
	}
	m.mu.Lock()
	m.cache[streamerID] = cachedBotState{state: st, ok: true, fetched: time.Now()}
	m.mu.Unlock()
	return st, true, nil
}

// GetBotStateFresh reads the liveness record straight from the store,
// bypassing the local cache. Ownership decisions go through this: a cached
// miss taken moments before another instance wrote its record must not stand
// in for the store's answer.
func (m *Manager) GetBotStateFresh(ctx context.Context, streamerID string) (BotState, bool, error) {
	m.mu.Lock()
	delete(m.cache, streamerID)
	m.mu.Unlock()
	return m.GetBotState(ctx, streamerID)
}

// DeleteBotState removes the liveness record and drops the cache entry.
func (m *Manager) DeleteBotState(ctx context.Context, streamerID string) error {
	m.mu.Lock()
	delete(m.cache, streamerID)
	m.mu.Unlock()
	return m.store.Del(ctx, botStateKey(streamerID))
}

// AddActiveAvatar puts a user on the streamer's active set and stamps their
// activity.
func (m *Manager) AddActiveAvatar(ctx context.Context, streamerID, userID string) error {
	if err := m.store.SAdd(ctx, activeSetKey(streamerID), userID); err != nil {
		return err
	}
	return m.TouchActivity(ctx, streamerID, userID, time.Now())
}

// RemoveActiveAvatar evicts a user from the active set and clears their
// per-user keys.
func (m *Manager) RemoveActiveAvatar(ctx context.Context, streamerID, userID string) error {
	if err := m.store.SRem(ctx, activeSetKey(streamerID), userID); err != nil {
		return err
	}
	return m.store.Del(ctx, activityKey(streamerID, userID), lifecycleKey(streamerID, userID))
}

// ActiveAvatars lists the user ids currently on screen for a streamer.
func (m *Manager) ActiveAvatars(ctx context.Context, streamerID string) ([]string, error) {
	return m.store.SMembers(ctx, activeSetKey(streamerID))
}

// TouchActivity records the last time a user spoke, as unix milliseconds.
func (m *Manager) TouchActivity(ctx context.Context, streamerID, userID string, at time.Time) error {
	return m.store.SetEx(ctx, activityKey(streamerID, userID), strconv.FormatInt(at.UnixMilli(), 10), presenceTTL)
}

// LastActivity returns the last recorded activity for a user, if any.
func (m *Manager) LastActivity(ctx context.Context, streamerID, userID string) (time.Time, bool, error) {
	raw, err := m.store.Get(ctx, activityKey(streamerID, userID))
	if errors.Is(err, store.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse activity timestamp: %w", err)
	}
	return time.UnixMilli(ms), true, nil
}

// SetLifecycle records an avatar's lifecycle state ("normal" or "tired").
func (m *Manager) SetLifecycle(ctx context.Context, streamerID, userID, lifecycle string) error {
	return m.store.SetEx(ctx, lifecycleKey(streamerID, userID), lifecycle, presenceTTL)
}

// Lifecycle returns an avatar's lifecycle state, defaulting to "normal" when
// no record exists.
func (m *Manager) Lifecycle(ctx context.Context, streamerID, userID string) (string, error) {
	raw, err := m.store.Get(ctx, lifecycleKey(streamerID, userID))
	if errors.Is(err, store.ErrNotFound) {
		return "normal", nil
	}
	if err != nil {
		return "", err
	}
	return raw, nil
}

// SaveGameSnapshot stores a JSON snapshot of a running game for crash
// recovery and overlay reloads.
func (m *Manager) SaveGameSnapshot(ctx context.Context, game, streamerID string, snapshot any) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal %s snapshot: %w", game, err)
	}
	return m.store.SetEx(ctx, gameKey(game, streamerID), string(raw), gameStateTTL)
}

// LoadGameSnapshot loads a stored snapshot into dst. Returns false when no
// snapshot exists.
func (m *Manager) LoadGameSnapshot(ctx context.Context, game, streamerID string, dst any) (bool, error) {
	raw, err := m.store.Get(ctx, gameKey(game, streamerID))
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, fmt.Errorf("unmarshal %s snapshot: %w", game, err)
	}
	return true, nil
}

// DeleteGameSnapshot clears a stored snapshot after a game resets.
func (m *Manager) DeleteGameSnapshot(ctx context.Context, game, streamerID string) error {
	return m.store.Del(ctx, gameKey(game, streamerID))
}
