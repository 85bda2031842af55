package donations

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/nlononosov/Avatars-prod/bus"
	"github.com/nlononosov/Avatars-prod/config"
	"github.com/nlononosov/Avatars-prod/db"
	"github.com/nlononosov/Avatars-prod/store"
	"github.com/nlononosov/Avatars-prod/telemetry"
)

const (
	tokenRefreshGrace = 60 * time.Second
	presenceLifetime  = 5 * time.Minute

	minInterval = 3 * time.Second
	maxInterval = 30 * time.Second

	minConcurrency = 2
	maxConcurrency = 50

	staggerMin = 100 * time.Millisecond
	staggerMax = 500 * time.Millisecond
)

// Presence is the slice of the state manager the poller needs to put donated
// avatars on screen and take them off again.
type Presence interface {
	AddActiveAvatar(ctx context.Context, streamerID, userID string) error
	RemoveActiveAvatar(ctx context.Context, streamerID, userID string) error
	TouchActivity(ctx context.Context, streamerID, userID string, at time.Time) error
}

// Poller drives the donation polling cycles. Per-streamer locks in the
// distributed store keep instances from polling the same account twice, and
// the processed-donation markers make handling idempotent either way.
type Poller struct {
	cfg      *config.Config
	repo     Repo
	locks    *store.Store
	presence Presence
	bus      *bus.Bus
	provider Provider
	backoff  *backoffTracker

	// removeDelay is how long a donated avatar stays before auto-removal.
	removeDelay time.Duration
}

func NewPoller(cfg *config.Config, repo Repo, locks *store.Store, presence Presence, b *bus.Bus) *Poller {
	return &Poller{
		cfg:         cfg,
		repo:        repo,
		locks:       locks,
		presence:    presence,
		bus:         b,
		provider:    NewClient(),
		backoff:     newBackoffTracker(),
		removeDelay: presenceLifetime,
	}
}

// Start launches the polling loop until ctx is canceled.
func (p *Poller) Start(ctx context.Context) {
	go func() {
		for {
			interval := p.cycle(ctx)
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}
		}
	}()
}

func pollLockKey(streamerID string) string { return "locks:donationalerts:" + streamerID }

// dynamicConcurrency scales workers with the tenant population: four workers
// per ten streamers, at least two, capped at maxWorkers (DA_POLL_CONCURRENCY).
func dynamicConcurrency(streamers, maxWorkers int) int {
	if maxWorkers <= 0 {
		maxWorkers = maxConcurrency
	}
	c := int(math.Ceil(float64(streamers) / 10 * 4))
	if c < minConcurrency {
		c = minConcurrency
	}
	if c > maxWorkers {
		c = maxWorkers
	}
	return c
}

// dynamicInterval targets twice the estimated cycle time at ~1s per streamer,
// clamped to [3s, 30s].
func dynamicInterval(streamers, concurrency int) time.Duration {
	estimated := time.Duration(float64(streamers) / float64(concurrency) * float64(time.Second))
	interval := 2 * estimated
	if interval < minInterval {
		interval = minInterval
	}
	if interval > maxInterval {
		interval = maxInterval
	}
	return interval
}

// staggerDelay spreads poll starts across the interval, between 100ms and
// 500ms apart.
func staggerDelay(interval time.Duration, streamers int) time.Duration {
	if streamers < 1 {
		streamers = 1
	}
	d := interval / time.Duration(streamers)
	if d < staggerMin {
		d = staggerMin
	}
	if d > staggerMax {
		d = staggerMax
	}
	return d
}

// cycle polls every linked streamer once and returns the interval to wait
// before the next cycle.
func (p *Poller) cycle(ctx context.Context) time.Duration {
	streamers, err := p.repo.ListActiveDonationStreamers(ctx)
	if err != nil {
		slog.Error("list donation streamers", slog.Any("err", err))
		telemetry.CountPollError("db")
		return p.cfg.PollInterval
	}
	n := len(streamers)
	if n == 0 {
		return p.cfg.PollInterval
	}

	concurrency := dynamicConcurrency(n, p.cfg.PollConcurrency)
	interval := dynamicInterval(n, concurrency)
	stagger := staggerDelay(interval, n)
	if telemetry.PollConcurrency != nil {
		telemetry.PollConcurrency.Set(float64(concurrency))
		telemetry.PollIntervalSec.Set(interval.Seconds())
		telemetry.PollQueueDepth.Set(float64(n))
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for i, id := range streamers {
		if i > 0 {
			select {
			case <-ctx.Done():
				wg.Wait()
				return interval
			case <-time.After(stagger):
			}
		}
		wg.Add(1)
		go func(streamerID string, queued int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			p.pollStreamer(ctx, streamerID)
			if telemetry.PollQueueDepth != nil {
				telemetry.PollQueueDepth.Set(float64(queued))
			}
		}(id, n-i-1)
	}
	wg.Wait()
	return interval
}

// pollStreamer handles one streamer's poll under the distributed lock. A
// contended lock means another instance already polls this streamer in this
// window; that is the normal case in a multi-instance deployment.
func (p *Poller) pollStreamer(ctx context.Context, streamerID string) {
	lock, err := p.locks.Lock(ctx, pollLockKey(streamerID), p.cfg.PollLockTTL)
	if err != nil {
		if errors.Is(err, store.ErrLockContended) {
			slog.Debug("poll lock held elsewhere", slog.String("streamer_id", streamerID))
			return
		}
		slog.Warn("acquire poll lock", slog.String("streamer_id", streamerID), slog.Any("err", err))
		telemetry.CountPollError("lock")
		return
	}
	defer func() {
		if err := lock.Unlock(ctx); err != nil {
			slog.Warn("release poll lock", slog.String("streamer_id", streamerID), slog.Any("err", err))
		}
	}()

	start := time.Now()
	defer func() {
		if telemetry.PollDuration != nil {
			telemetry.PollDuration.Observe(time.Since(start).Seconds())
		}
	}()

	if remaining, ok := p.backoff.inBackoff(streamerID); ok {
		slog.Debug("streamer in backoff",
			slog.String("streamer_id", streamerID),
			slog.Duration("remaining", remaining))
		return
	}

	creds, err := p.repo.GetDonationAlerts(ctx, streamerID)
	if errors.Is(err, db.ErrNotFound) {
		return
	}
	if err != nil {
		slog.Warn("load donationalerts creds", slog.String("streamer_id", streamerID), slog.Any("err", err))
		telemetry.CountPollError("db")
		return
	}
	if creds.Status != db.DAStatusActive {
		return
	}

	if time.Until(creds.ExpiresAt) < tokenRefreshGrace {
		tok, err := p.provider.Refresh(ctx, p.cfg.DAClientID, p.cfg.DAClientSecret, creds.RefreshToken)
		if err != nil {
			slog.Warn("refresh donationalerts token", slog.String("streamer_id", streamerID), slog.Any("err", err))
			if serr := p.repo.SetDonationAlertsStatus(ctx, streamerID, db.DAStatusNeedReauth); serr != nil {
				slog.Error("mark need_reauth", slog.String("streamer_id", streamerID), slog.Any("err", serr))
			}
			telemetry.CountPollError("auth")
			return
		}
		refresh := tok.RefreshToken
		if refresh == "" {
			refresh = creds.RefreshToken
		}
		if err := p.repo.UpdateDonationAlertsTokens(ctx, streamerID, tok.AccessToken, refresh, tok.Expiry); err != nil {
			slog.Error("save refreshed donationalerts tokens", slog.String("streamer_id", streamerID), slog.Any("err", err))
			telemetry.CountPollError("db")
			return
		}
		creds.AccessToken = tok.AccessToken
	}

	donations, err := p.provider.FetchDonations(ctx, creds.AccessToken, creds.LastDonationID)
	if err != nil {
		p.handleFetchError(ctx, streamerID, err)
		return
	}
	p.backoff.success(streamerID)

	for _, d := range donations {
		p.processDonation(ctx, streamerID, d)
	}
}

func (p *Poller) handleFetchError(ctx context.Context, streamerID string, err error) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		switch {
		case pe.Status == 429 || pe.Status >= 500:
			delay := p.backoff.rateLimited(streamerID)
			slog.Warn("donationalerts throttling, backing off",
				slog.String("streamer_id", streamerID),
				slog.Int("status", pe.Status),
				slog.Duration("backoff", delay))
			telemetry.CountPollError("http")
			return
		case pe.Status == 401:
			slog.Warn("donationalerts token rejected, needs reauth", slog.String("streamer_id", streamerID))
			if serr := p.repo.SetDonationAlertsStatus(ctx, streamerID, db.DAStatusNeedReauth); serr != nil {
				slog.Error("mark need_reauth", slog.String("streamer_id", streamerID), slog.Any("err", serr))
			}
			p.backoff.reset(streamerID)
			telemetry.CountPollError("auth")
			return
		}
	}
	if delay := p.backoff.failed(streamerID); delay > 0 {
		slog.Warn("repeated donation poll failures, backing off",
			slog.String("streamer_id", streamerID),
			slog.Duration("backoff", delay),
			slog.Any("err", err))
	} else {
		slog.Warn("donation poll failed", slog.String("streamer_id", streamerID), slog.Any("err", err))
	}
	telemetry.CountPollError("http")
}

// processDonation handles one donation exactly once across all instances: the
// write-once marker decides the winner, everything after it is best effort.
func (p *Poller) processDonation(ctx context.Context, streamerID string, d Donation) {
	donationID := strconv.FormatInt(d.ID, 10)
	first, err := p.repo.MarkDonationProcessed(ctx, streamerID, donationID)
	if err != nil {
		slog.Error("mark donation processed", slog.String("streamer_id", streamerID), slog.String("donation_id", donationID), slog.Any("err", err))
		telemetry.CountPollError("db")
		return
	}
	if !first {
		if telemetry.DonationsDuplicate != nil {
			telemetry.DonationsDuplicate.Inc()
		}
		return
	}
	if err := p.repo.SetLastDonationID(ctx, streamerID, d.ID); err != nil {
		slog.Warn("advance donation cursor", slog.String("streamer_id", streamerID), slog.Any("err", err))
	}

	user, ok := p.matchUser(ctx, d)
	if !ok {
		slog.Info("no user matched for donation",
			slog.String("streamer_id", streamerID),
			slog.String("donation_id", donationID),
			slog.String("da_username", d.Username))
		return
	}

	avatar, err := p.repo.GetAvatar(ctx, user.TwitchUserID)
	if err != nil {
		return // donor never created an avatar
	}
	if err := p.repo.AddUserToStreamer(ctx, streamerID, user.TwitchUserID); err != nil {
		slog.Warn("add donor to roster", slog.String("streamer_id", streamerID), slog.String("user_id", user.TwitchUserID), slog.Any("err", err))
	}

	displayName := user.DisplayName
	if displayName == "" {
		displayName = d.Username
	}
	if displayName == "" {
		displayName = "Donator"
	}
	currency := d.Currency
	if currency == "" {
		currency = "RUB"
	}
	var daUsername any
	if d.Username != "" {
		daUsername = d.Username
	}
	p.bus.EmitToStreamer(streamerID, "avatar:show", map[string]any{
		"streamerId":   streamerID,
		"twitchUserId": user.TwitchUserID,
		"displayName":  displayName,
		"color":        nil,
		"avatarData":   avatar,
		"source":       "donationalerts",
		"amount":       d.Amount,
		"message":      d.Message,
		"da_username":  daUsername,
		"currency":     currency,
	})

	if err := p.presence.AddActiveAvatar(ctx, streamerID, user.TwitchUserID); err != nil {
		slog.Warn("add donated avatar to presence", slog.String("streamer_id", streamerID), slog.String("user_id", user.TwitchUserID), slog.Any("err", err))
	}
	// Count the donation as activity so the idle sweeper leaves the avatar
	// alone until the scheduled removal.
	if err := p.presence.TouchActivity(ctx, streamerID, user.TwitchUserID, time.Now().UTC()); err != nil {
		slog.Warn("touch donated avatar activity", slog.String("streamer_id", streamerID), slog.String("user_id", user.TwitchUserID), slog.Any("err", err))
	}
	if telemetry.DonationsProcessed != nil {
		telemetry.DonationsProcessed.Inc()
	}

	userID := user.TwitchUserID
	time.AfterFunc(p.removeDelay, func() {
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.presence.RemoveActiveAvatar(rctx, streamerID, userID); err != nil {
			slog.Warn("auto-remove donated avatar", slog.String("streamer_id", streamerID), slog.String("user_id", userID), slog.Any("err", err))
		}
	})
}

// matchUser finds the donor's Twitch account, preferring their linked
// DonationAlerts id and falling back to a normalized username match.
func (p *Poller) matchUser(ctx context.Context, d Donation) (db.User, bool) {
	if d.DAUserID != 0 {
		if user, err := p.repo.GetUserByDAUserID(ctx, strconv.FormatInt(d.DAUserID, 10)); err == nil {
			return user, true
		}
	}
	if d.Username != "" {
		if user, err := p.repo.GetUserByLogin(ctx, db.NormalizeLogin(d.Username)); err == nil {
			return user, true
		}
	}
	return db.User{}, false
}
