package bot

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nlononosov/Avatars-prod/state"
)

// StartWatchdog launches the background loop that keeps liveness records
// fresh and re-acquires sessions for bot-enabled streamers that lost theirs.
// The first pass runs shortly after start so restarts recover quickly.
func (m *Manager) StartWatchdog(ctx context.Context) {
	go func() {
		first := time.NewTimer(watchdogFirstPass)
		defer first.Stop()
		select {
		case <-ctx.Done():
			return
		case <-first.C:
		}
		m.watchdogPass(ctx)

		ticker := time.NewTicker(m.cfg.WatchdogInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.watchdogPass(ctx)
			}
		}
	}()
}

func (m *Manager) watchdogPass(ctx context.Context) {
	// Refresh liveness for the sessions we run so other instances keep
	// seeing us as the owner.
	for _, id := range m.ActiveSessions() {
		st, ok, err := m.state.GetBotState(ctx, id)
		if err != nil || !ok || st.OwnerProcessID != m.processID {
			st = state.BotState{OwnerProcessID: m.processID, AvatarTimeoutSeconds: m.cfg.AvatarTimeoutSeconds}
		}
		st.Active = true
		st.LastUpdate = time.Now().UTC()
		if err := m.state.SaveBotState(ctx, id, st); err != nil {
			slog.Warn("refresh liveness record", slog.String("streamer_id", id), slog.Any("err", err))
		}
	}

	// Pick up streamers nobody serves.
	m.acquireEnabled(ctx)
}

// Restore starts sessions for every bot-enabled streamer at process startup.
func (m *Manager) Restore(ctx context.Context) {
	m.acquireEnabled(ctx)
}

func (m *Manager) acquireEnabled(ctx context.Context) {
	streamers, err := m.dir.ListBotEnabledStreamers(ctx)
	if err != nil {
		slog.Error("list bot-enabled streamers", slog.Any("err", err))
		return
	}
	owned := make(map[string]struct{})
	for _, id := range m.ActiveSessions() {
		owned[id] = struct{}{}
	}
	for _, u := range streamers {
		if _, ok := owned[u.TwitchUserID]; ok {
			continue
		}
		err := m.Acquire(ctx, u.TwitchUserID)
		switch {
		case err == nil:
		case errors.Is(err, ErrAlreadyElsewhere):
			// Another instance serves this streamer.
		case errors.Is(err, ErrCredentialMissing):
			slog.Debug("streamer not connectable yet", slog.String("streamer_id", u.TwitchUserID), slog.Any("err", err))
		default:
			slog.Warn("acquire session", slog.String("streamer_id", u.TwitchUserID), slog.Any("err", err))
		}
	}
}
