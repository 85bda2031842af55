package bot

import (
	"context"
	"log/slog"
	"time"
)

// sweepPresence removes idle avatars from a streamer's screen. Avatars go
// tired at half the configured timeout and disappear at the full timeout. The
// sweep runs at a quarter of the timeout, clamped to [1s, 10s], and picks up
// timeout changes from the settings table on every pass.
func (m *Manager) sweepPresence(ctx context.Context, streamerID string, timeoutSeconds int) {
	period := sweepPeriod(timeoutSeconds)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	m.sweepOnce(ctx, streamerID, timeoutSeconds)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s, err := m.dir.AvatarTimeoutSeconds(ctx, streamerID); err == nil && s > 0 && s != timeoutSeconds {
				timeoutSeconds = s
				ticker.Reset(sweepPeriod(timeoutSeconds))
			}
			m.sweepOnce(ctx, streamerID, timeoutSeconds)
		}
	}
}

func sweepPeriod(timeoutSeconds int) time.Duration {
	period := time.Duration(timeoutSeconds) * time.Second / 4
	if period < sweepPeriodMin {
		period = sweepPeriodMin
	}
	if period > sweepPeriodMax {
		period = sweepPeriodMax
	}
	return period
}

func (m *Manager) sweepOnce(ctx context.Context, streamerID string, timeoutSeconds int) {
	timeout := time.Duration(timeoutSeconds) * time.Second
	tiredAfter := timeout / 2

	ids, err := m.state.ActiveAvatars(ctx, streamerID)
	if err != nil {
		slog.Warn("list active avatars", slog.String("streamer_id", streamerID), slog.Any("err", err))
		return
	}
	now := time.Now()
	for _, userID := range ids {
		last, ok, err := m.state.LastActivity(ctx, streamerID, userID)
		if err != nil {
			slog.Warn("read avatar activity", slog.String("streamer_id", streamerID), slog.String("user_id", userID), slog.Any("err", err))
			continue
		}
		idle := timeout + 1
		if ok {
			idle = now.Sub(last)
		}

		switch {
		case idle > timeout:
			if err := m.state.RemoveActiveAvatar(ctx, streamerID, userID); err != nil {
				slog.Warn("remove idle avatar", slog.String("streamer_id", streamerID), slog.String("user_id", userID), slog.Any("err", err))
				continue
			}
			m.bus.EmitToStreamer(streamerID, "avatarRemoved", map[string]any{"userId": userID})
		case idle > tiredAfter:
			lifecycle, err := m.state.Lifecycle(ctx, streamerID, userID)
			if err != nil || lifecycle == "tired" {
				continue
			}
			if err := m.state.SetLifecycle(ctx, streamerID, userID, "tired"); err != nil {
				slog.Warn("mark avatar tired", slog.String("streamer_id", streamerID), slog.String("user_id", userID), slog.Any("err", err))
				continue
			}
			m.bus.EmitToStreamer(streamerID, "avatarStateChanged", map[string]any{"userId": userID, "state": "tired"})
		}
	}
}

// touchPresence stamps a user's activity, wakes a tired avatar up and lazily
// respawns their avatar when the overlay has not seen them this session.
func (m *Manager) touchPresence(ctx context.Context, s *session, userID, displayName, color string) {
	known := s.markSeen(userID)

	if err := m.state.TouchActivity(ctx, s.streamerID, userID, time.Now()); err != nil {
		slog.Warn("touch activity", slog.String("streamer_id", s.streamerID), slog.String("user_id", userID), slog.Any("err", err))
	}

	lifecycle, err := m.state.Lifecycle(ctx, s.streamerID, userID)
	if err == nil && lifecycle == "tired" {
		if err := m.state.SetLifecycle(ctx, s.streamerID, userID, "normal"); err == nil {
			m.bus.EmitToStreamer(s.streamerID, "avatarStateChanged", map[string]any{"userId": userID, "state": "normal"})
		}
	}

	if known {
		return
	}
	avatar, err := m.dir.GetAvatar(ctx, userID)
	if err != nil {
		return // never ran !start, nothing to respawn
	}
	if err := m.state.AddActiveAvatar(ctx, s.streamerID, userID); err != nil {
		slog.Warn("add active avatar", slog.String("streamer_id", s.streamerID), slog.String("user_id", userID), slog.Any("err", err))
	}
	m.bus.EmitToStreamer(s.streamerID, "spawn", map[string]any{
		"userId":      userID,
		"displayName": displayName,
		"color":       color,
		"avatarData":  avatar,
		"ts":          time.Now().UnixMilli(),
	})
}
