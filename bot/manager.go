package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/nlononosov/Avatars-prod/bus"
	"github.com/nlononosov/Avatars-prod/config"
	"github.com/nlononosov/Avatars-prod/db"
	"github.com/nlononosov/Avatars-prod/games"
	"github.com/nlononosov/Avatars-prod/state"
	"github.com/nlononosov/Avatars-prod/store"
	"github.com/nlononosov/Avatars-prod/telemetry"
	"github.com/nlononosov/Avatars-prod/twitchapi"
)

// session is one live chat connection to a streamer's channel.
type session struct {
	streamerID string
	channel    string
	client     ircClient
	cancel     context.CancelFunc
	ready      atomic.Bool

	mu   sync.Mutex
	seen map[string]struct{}
}

// markSeen records that a user spoke in this session and reports whether they
// had spoken before.
func (s *session) markSeen(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, known := s.seen[userID]
	s.seen[userID] = struct{}{}
	return known
}

// Manager runs the chat sessions this instance owns. Ownership is coordinated
// through liveness records and creation locks in the distributed store, so
// several instances can split the streamer population between them.
type Manager struct {
	cfg   *config.Config
	dir   Directory
	store *store.Store
	state *state.Manager
	bus   *bus.Bus
	games *games.Hub

	processID string

	mu       sync.Mutex
	sessions map[string]*session
}

func NewManager(cfg *config.Config, dir Directory, st *store.Store, sm *state.Manager, b *bus.Bus) *Manager {
	m := &Manager{
		cfg:       cfg,
		dir:       dir,
		store:     st,
		state:     sm,
		bus:       b,
		processID: fmt.Sprintf("%d-%d", os.Getpid(), time.Now().UnixMilli()),
		sessions:  make(map[string]*session),
	}
	m.games = games.NewHub(b, m, snapshotSink{state: sm})
	return m
}

// Games exposes the per-streamer game engines, used by HTTP routes that start
// games or report overlay pickups.
func (m *Manager) Games() *games.Hub { return m.games }

// ProcessID is this instance's owner id, written into liveness records.
func (m *Manager) ProcessID() string { return m.processID }

// ActiveSessions lists the streamer ids with a live session on this instance.
func (m *Manager) ActiveSessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

func createLockKey(streamerID string) string { return "lock:bot:create:" + streamerID }

// Acquire takes ownership of a streamer's chat session. It is idempotent for
// sessions this instance already runs and returns ErrAlreadyElsewhere when a
// different live instance owns the streamer.
func (m *Manager) Acquire(ctx context.Context, streamerID string) error {
	start := time.Now()
	defer func() {
		if telemetry.AcquireDuration != nil {
			telemetry.AcquireDuration.Observe(time.Since(start).Seconds())
		}
	}()

	m.mu.Lock()
	if _, ok := m.sessions[streamerID]; ok {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := m.checkOwner(ctx, streamerID); err != nil {
		return err
	}

	lock, err := m.store.Lock(ctx, createLockKey(streamerID), createLockTTL)
	if err != nil {
		if errors.Is(err, store.ErrLockContended) {
			return fmt.Errorf("create lock for %s: %w", streamerID, ErrAlreadyElsewhere)
		}
		return err
	}
	defer func() {
		if err := lock.Unlock(ctx); err != nil {
			slog.Warn("release create lock", slog.String("streamer_id", streamerID), slog.Any("err", err))
		}
	}()

	// Another instance may have won the race before we got the lock.
	if err := m.checkOwner(ctx, streamerID); err != nil {
		return err
	}

	sess, err := m.connect(ctx, streamerID)
	if err != nil {
		if derr := m.state.DeleteBotState(ctx, streamerID); derr != nil {
			slog.Warn("clear bot state after failed connect", slog.String("streamer_id", streamerID), slog.Any("err", derr))
		}
		return err
	}

	timeoutSeconds, err := m.dir.AvatarTimeoutSeconds(ctx, streamerID)
	if err != nil {
		slog.Warn("load avatar timeout, using default", slog.String("streamer_id", streamerID), slog.Any("err", err))
		timeoutSeconds = m.cfg.AvatarTimeoutSeconds
	}
	if err := m.state.SaveBotState(ctx, streamerID, state.BotState{
		Active:               true,
		OwnerProcessID:       m.processID,
		AvatarTimeoutSeconds: timeoutSeconds,
		LastUpdate:           time.Now().UTC(),
	}); err != nil {
		_ = sess.client.Disconnect()
		return fmt.Errorf("record session ownership for %s: %w", streamerID, err)
	}

	m.recoverGames(ctx, streamerID)

	sweepCtx, cancel := context.WithCancel(context.Background())
	sess.cancel = cancel
	go m.sweepPresence(sweepCtx, streamerID, timeoutSeconds)

	m.mu.Lock()
	m.sessions[streamerID] = sess
	n := len(m.sessions)
	m.mu.Unlock()
	telemetry.SetActiveSessions(n)

	slog.Info("chat session acquired",
		slog.String("streamer_id", streamerID),
		slog.String("channel", sess.channel),
		slog.String("owner", m.processID))
	return nil
}

// checkOwner inspects the stored liveness record, always against the store
// itself: served from the local cache, the re-check after the creation lock
// would repeat whatever a pre-lock read saw and two instances could both win.
// A record owned by this process id but without a local session is a leftover
// from a crash and is cleared.
func (m *Manager) checkOwner(ctx context.Context, streamerID string) error {
	st, ok, err := m.state.GetBotStateFresh(ctx, streamerID)
	if err != nil {
		return fmt.Errorf("read bot state for %s: %w", streamerID, err)
	}
	if !ok || !st.Active {
		return nil
	}
	if st.OwnerProcessID != m.processID {
		return fmt.Errorf("streamer %s owned by %s: %w", streamerID, st.OwnerProcessID, ErrAlreadyElsewhere)
	}
	slog.Warn("clearing stale liveness record from a previous run", slog.String("streamer_id", streamerID))
	return m.state.DeleteBotState(ctx, streamerID)
}

// connect loads the streamer's credentials, refreshes them when close to
// expiry and establishes the IRC connection, waiting for the server ack.
func (m *Manager) connect(ctx context.Context, streamerID string) (*session, error) {
	user, err := m.dir.GetUser(ctx, streamerID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("streamer %s has no profile: %w", streamerID, ErrCredentialMissing)
	}
	if err != nil {
		return nil, fmt.Errorf("load streamer %s: %w", streamerID, err)
	}
	tokens, err := m.dir.GetUserTokens(ctx, streamerID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("streamer %s has no tokens: %w", streamerID, ErrCredentialMissing)
	}
	if err != nil {
		return nil, fmt.Errorf("load tokens for %s: %w", streamerID, err)
	}

	if time.Until(tokens.ExpiresAt) < tokenRefreshGrace {
		res, err := twitchapi.RefreshToken(ctx, m.cfg.TwitchClientID, m.cfg.TwitchClientSecret, tokens.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("refresh token for %s: %v: %w", streamerID, err, ErrAuthRejected)
		}
		tokens = db.Tokens{
			AccessToken:  res.AccessToken,
			RefreshToken: res.RefreshToken,
			ExpiresAt:    twitchapi.ComputeExpiry(res.ExpiresIn),
		}
		if err := m.dir.SaveUserTokens(ctx, streamerID, tokens); err != nil {
			return nil, fmt.Errorf("save refreshed tokens for %s: %w", streamerID, err)
		}
	}

	channel := user.Login
	client := newIRCClient(user.Login, tokens.AccessToken)
	sess := &session{
		streamerID: streamerID,
		channel:    channel,
		client:     client,
		seen:       make(map[string]struct{}),
	}

	connected := make(chan struct{})
	var connectedOnce sync.Once
	client.OnConnect(func() {
		sess.ready.Store(true)
		connectedOnce.Do(func() { close(connected) })
	})
	authRejected := make(chan string, 1)
	client.OnNoticeMessage(func(msg twitch.NoticeMessage) {
		if msg.MsgID == "login_unrecognized" || msg.MsgID == "login_authentication_failed" {
			select {
			case authRejected <- msg.Message:
			default:
			}
		}
	})
	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		m.handleMessage(sess, msg)
	})
	client.Join(channel)

	errCh := make(chan error, 1)
	go func() { errCh <- client.Connect() }()

	select {
	case <-connected:
	case reason := <-authRejected:
		_ = client.Disconnect()
		return nil, fmt.Errorf("login to %s failed: %s: %w", channel, reason, ErrAuthRejected)
	case err := <-errCh:
		if errors.Is(err, twitch.ErrLoginAuthenticationFailed) {
			return nil, fmt.Errorf("login to %s failed: %w", channel, ErrAuthRejected)
		}
		if err == nil {
			err = errors.New("connection closed before ack")
		}
		return nil, fmt.Errorf("connect to %s: %w", channel, err)
	case <-time.After(m.cfg.BotConnectTimeout):
		_ = client.Disconnect()
		return nil, fmt.Errorf("connect to %s: %w", channel, ErrConnectTimeout)
	case <-ctx.Done():
		_ = client.Disconnect()
		return nil, ctx.Err()
	}

	go func() {
		err := <-errCh
		m.dropSession(sess, err)
	}()
	return sess, nil
}

// dropSession tears local state down after the IRC connection ended on its
// own. Deliberate releases remove the session from the map first, so this
// becomes a no-op for them.
func (m *Manager) dropSession(sess *session, cause error) {
	m.mu.Lock()
	cur, ok := m.sessions[sess.streamerID]
	if !ok || cur != sess {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, sess.streamerID)
	n := len(m.sessions)
	m.mu.Unlock()
	telemetry.SetActiveSessions(n)

	sess.ready.Store(false)
	if sess.cancel != nil {
		sess.cancel()
	}
	slog.Warn("chat session dropped", slog.String("streamer_id", sess.streamerID), slog.Any("err", cause))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.state.DeleteBotState(ctx, sess.streamerID); err != nil {
		slog.Warn("clear bot state after drop", slog.String("streamer_id", sess.streamerID), slog.Any("err", err))
	}
}

// Release disconnects one session and clears its liveness record.
func (m *Manager) Release(ctx context.Context, streamerID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[streamerID]
	if ok {
		delete(m.sessions, streamerID)
	}
	n := len(m.sessions)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	telemetry.SetActiveSessions(n)

	if sess.cancel != nil {
		sess.cancel()
	}
	if err := sess.client.Disconnect(); err != nil {
		slog.Warn("disconnect chat client", slog.String("streamer_id", streamerID), slog.Any("err", err))
	}
	if err := m.state.DeleteBotState(ctx, streamerID); err != nil {
		return fmt.Errorf("clear bot state for %s: %w", streamerID, err)
	}
	slog.Info("chat session released", slog.String("streamer_id", streamerID))
	return nil
}

// ReleaseAll disconnects every session, used on shutdown.
func (m *Manager) ReleaseAll(ctx context.Context) {
	for _, id := range m.ActiveSessions() {
		if err := m.Release(ctx, id); err != nil {
			slog.Warn("release session", slog.String("streamer_id", id), slog.Any("err", err))
		}
	}
}

// Announce sends a chat message to a streamer's channel. Implements
// games.Announcer; messages for streamers without a local session are dropped.
func (m *Manager) Announce(streamerID, message string) {
	m.mu.Lock()
	sess, ok := m.sessions[streamerID]
	m.mu.Unlock()
	if !ok || !sess.ready.Load() {
		return
	}
	sess.client.Say(sess.channel, message)
}

// recoverGames inspects game snapshots left by a previous owner. Mid-round
// timers cannot survive a process change, so a round found in flight is ended
// with a no-winner event and its snapshot dropped, unsticking the overlay.
func (m *Manager) recoverGames(ctx context.Context, streamerID string) {
	endEvents := map[string]string{
		"race":      "raceFinish",
		"food":      "foodGameEnd",
		"race-plan": "racePlanEnd",
	}
	for game, event := range endEvents {
		var snap struct {
			Phase string `json:"phase"`
		}
		ok, err := m.state.LoadGameSnapshot(ctx, game, streamerID, &snap)
		if err != nil {
			slog.Warn("load game snapshot", slog.String("game", game), slog.String("streamer_id", streamerID), slog.Any("err", err))
			continue
		}
		if !ok {
			continue
		}
		if snap.Phase != "" && snap.Phase != string(games.PhaseIdle) && snap.Phase != string(games.PhaseFinished) {
			slog.Info("ending game round from previous session owner",
				slog.String("game", game),
				slog.String("streamer_id", streamerID),
				slog.String("phase", snap.Phase))
			payload := map[string]any{"winner": nil}
			if game == "race-plan" {
				payload["noWinners"] = true
			}
			m.bus.EmitToStreamer(streamerID, event, payload)
		}
		if err := m.state.DeleteGameSnapshot(ctx, game, streamerID); err != nil {
			slog.Warn("clear stale game snapshot", slog.String("game", game), slog.String("streamer_id", streamerID), slog.Any("err", err))
		}
	}
}

// snapshotSink bridges the games engines to the state manager's snapshot
// storage. Errors are logged; a lost snapshot only costs crash recovery.
type snapshotSink struct {
	state *state.Manager
}

func (s snapshotSink) SaveSnapshot(game, streamerID string, snapshot any) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.state.SaveGameSnapshot(ctx, game, streamerID, snapshot); err != nil {
		slog.Warn("save game snapshot", slog.String("game", game), slog.String("streamer_id", streamerID), slog.Any("err", err))
	}
}

func (s snapshotSink) ClearSnapshot(game, streamerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.state.DeleteGameSnapshot(ctx, game, streamerID); err != nil {
		slog.Warn("clear game snapshot", slog.String("game", game), slog.String("streamer_id", streamerID), slog.Any("err", err))
	}
}
