package bot

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"
	"unicode/utf8"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/nlononosov/Avatars-prod/db"
	"github.com/nlononosov/Avatars-prod/games"
	"github.com/nlononosov/Avatars-prod/telemetry"
)

const (
	moveDistancePerChar = 8
	moveDistanceMax     = 200
)

func (m *Manager) handleMessage(s *session, msg twitch.PrivateMessage) {
	userID := msg.User.ID
	if userID == "" || !s.ready.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	text := strings.ToLower(strings.TrimSpace(msg.Message))
	displayName := msg.User.DisplayName
	if displayName == "" {
		displayName = msg.User.Name
	}

	m.touchPresence(ctx, s, userID, displayName, msg.User.Color)

	switch text {
	case "!ping":
		s.client.Say(s.channel, "pong")
		return
	case "!start":
		m.handleStart(ctx, s, userID, displayName, msg.User.Color)
		return
	case "!race":
		m.openGame(s, "race", m.games.Race(s.streamerID).Open(games.DefaultRaceConfig()),
			"🏁 Гонка уже идет! Дождитесь завершения.")
		return
	case "!food":
		m.openGame(s, "food", m.games.Food(s.streamerID).Open(games.DefaultFoodConfig()),
			"🥕 Игра уже идет! Дождитесь завершения.")
		return
	case "!race-plan":
		m.openGame(s, "race-plan", m.games.Plane(s.streamerID).Open(games.DefaultPlaneConfig()),
			"✈️ Гонка на самолетах уже идет! Дождитесь завершения.")
		return
	case "+":
		m.joinOpenGame(s, userID, displayName)
		return
	case "1":
		m.games.Food(s.streamerID).FlipDirection(userID)
		return
	}

	if delta, ok := games.ParseLaneCommand(text); ok {
		m.games.Plane(s.streamerID).Steer(userID, delta)
		return
	}

	// Mentions of a participant count as cheering; the engines ignore them
	// outside an active round.
	m.games.Race(s.streamerID).Cheer(text)
	m.games.Food(s.streamerID).Cheer(text)

	m.react(s, userID, msg)
}

func (m *Manager) openGame(s *session, game string, err error, busyMessage string) {
	switch {
	case err == nil:
		if telemetry.GamesStarted != nil {
			telemetry.GamesStarted.WithLabelValues(game).Inc()
		}
	case errors.Is(err, games.ErrGameActive):
		s.client.Say(s.channel, busyMessage)
	default:
		slog.Warn("open game", slog.String("game", game), slog.String("streamer_id", s.streamerID), slog.Any("err", err))
	}
}

// joinOpenGame routes "+" to whichever game is taking registrations.
func (m *Manager) joinOpenGame(s *session, userID, displayName string) {
	if r := m.games.Race(s.streamerID); r.Phase() == games.PhaseRegistering {
		r.Join(userID, displayName)
		return
	}
	if f := m.games.Food(s.streamerID); f.Phase() == games.PhaseRegistering {
		f.Join(userID, displayName)
		return
	}
	if p := m.games.Plane(s.streamerID); p.Phase() == games.PhaseRegistering {
		p.Join(userID, displayName)
	}
}

// handleStart creates the user and their default avatar if needed, links them
// to the streamer's roster and shows the avatar on the overlay.
func (m *Manager) handleStart(ctx context.Context, s *session, userID, displayName, color string) {
	if _, err := m.dir.GetUser(ctx, userID); errors.Is(err, db.ErrNotFound) {
		login := strings.ReplaceAll(strings.ToLower(displayName), " ", "")
		if err := m.dir.UpsertUser(ctx, userID, login, displayName); err != nil {
			slog.Warn("create chat user", slog.String("user_id", userID), slog.Any("err", err))
			return
		}
	} else if err != nil {
		slog.Warn("look chat user up", slog.String("user_id", userID), slog.Any("err", err))
		return
	}

	avatar, err := m.dir.EnsureAvatar(ctx, userID)
	if err != nil {
		slog.Warn("ensure avatar", slog.String("user_id", userID), slog.Any("err", err))
		return
	}
	if err := m.dir.AddUserToStreamer(ctx, s.streamerID, userID); err != nil {
		slog.Warn("add user to roster", slog.String("streamer_id", s.streamerID), slog.String("user_id", userID), slog.Any("err", err))
	}

	var colorVal any
	if color != "" {
		colorVal = color
	}
	m.bus.EmitToStreamer(s.streamerID, "avatar:show", map[string]any{
		"streamerId":   s.streamerID,
		"twitchUserId": userID,
		"displayName":  displayName,
		"color":        colorVal,
		"avatarData":   avatar,
		"source":       "twitch_chat",
	})
	if err := m.state.AddActiveAvatar(ctx, s.streamerID, userID); err != nil {
		slog.Warn("add active avatar", slog.String("streamer_id", s.streamerID), slog.String("user_id", userID), slog.Any("err", err))
	}
}

// react turns an ordinary chat message into an overlay reaction: a wave for
// greetings, a laugh, the emote for emote-only messages, otherwise a walk
// proportional to the message length.
func (m *Manager) react(s *session, userID string, msg twitch.PrivateMessage) {
	if isGreeting(msg.Message) {
		m.bus.EmitToStreamer(s.streamerID, "hi", map[string]any{"userId": userID})
		return
	}
	if isLaughing(msg.Message) {
		m.bus.EmitToStreamer(s.streamerID, "laugh", map[string]any{"userId": userID})
		return
	}
	if emoji, ok := emoteOnly(msg); ok {
		m.bus.EmitToStreamer(s.streamerID, "emoji", map[string]any{"userId": userID, "emoji": emoji})
		return
	}

	length := utf8.RuneCountInString(msg.Message)
	distance := length * moveDistancePerChar
	if distance > moveDistanceMax {
		distance = moveDistanceMax
	}
	if rand.IntN(2) == 0 {
		distance = -distance
	}
	m.bus.EmitToStreamer(s.streamerID, "move", map[string]any{
		"userId":        userID,
		"distance":      distance,
		"messageLength": length,
	})
}
