// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	DonationsProcessed prometheus.Counter
	DonationsDuplicate prometheus.Counter
	PollErrors         *prometheus.CounterVec // labeled by error type
	GamesStarted       *prometheus.CounterVec // labeled by game
	GamesFinished      *prometheus.CounterVec
	ObstacleCollisions prometheus.Counter

	// Histograms (seconds)
	PollDuration    prometheus.Observer
	AcquireDuration prometheus.Observer

	// Gauges
	ActiveSessions  prometheus.Gauge
	PollConcurrency prometheus.Gauge
	PollIntervalSec prometheus.Gauge
	PollQueueDepth  prometheus.Gauge // streamers waiting in the current cycle
	StoreDegraded   prometheus.Gauge // 1=in-memory fallback, 0=redis
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		DonationsProcessed = promauto.NewCounter(prometheus.CounterOpts{Name: "avatarbot_donations_processed_total", Help: "Number of donations processed"})
		DonationsDuplicate = promauto.NewCounter(prometheus.CounterOpts{Name: "avatarbot_donations_duplicate_total", Help: "Number of donations skipped as already processed"})
		PollErrors = promauto.NewCounterVec(prometheus.CounterOpts{Name: "avatarbot_poll_errors_total", Help: "Donation poll errors by type"}, []string{"type"})
		GamesStarted = promauto.NewCounterVec(prometheus.CounterOpts{Name: "avatarbot_games_started_total", Help: "Games started by type"}, []string{"game"})
		GamesFinished = promauto.NewCounterVec(prometheus.CounterOpts{Name: "avatarbot_games_finished_total", Help: "Games finished by type"}, []string{"game"})
		ObstacleCollisions = promauto.NewCounter(prometheus.CounterOpts{Name: "avatarbot_obstacle_collisions_total", Help: "Obstacle collisions resolved in the lane runner"})
		PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "avatarbot_poll_duration_seconds", Help: "Per-streamer donation poll duration seconds", Buckets: prometheus.DefBuckets})
		AcquireDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "avatarbot_session_acquire_duration_seconds", Help: "Chat session acquire duration seconds", Buckets: prometheus.DefBuckets})
		ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{Name: "avatarbot_active_sessions", Help: "Chat sessions owned by this instance"})
		PollConcurrency = promauto.NewGauge(prometheus.GaugeOpts{Name: "avatarbot_poll_concurrency", Help: "Donation poll concurrency for the current cycle"})
		PollIntervalSec = promauto.NewGauge(prometheus.GaugeOpts{Name: "avatarbot_poll_interval_seconds", Help: "Donation poll interval for the current cycle"})
		PollQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{Name: "avatarbot_poll_queue_depth", Help: "Streamers queued in the current poll cycle"})
		StoreDegraded = promauto.NewGauge(prometheus.GaugeOpts{Name: "avatarbot_store_degraded", Help: "In-memory state fallback active=1 redis=0"})
	})
}

// SetStoreDegraded sets the fallback gauge to 1 if degraded else 0.
func SetStoreDegraded(degraded bool) {
	if StoreDegraded != nil {
		if degraded {
			StoreDegraded.Set(1)
		} else {
			StoreDegraded.Set(0)
		}
	}
}

// SetActiveSessions records the number of chat sessions this instance owns.
func SetActiveSessions(n int) {
	if ActiveSessions != nil {
		ActiveSessions.Set(float64(n))
	}
}

// CountPollError increments the poll error counter for the given type
// (e.g. "http", "auth", "lock", "db").
func CountPollError(kind string) {
	if PollErrors != nil {
		PollErrors.WithLabelValues(kind).Inc()
	}
}

// CountGameFinished increments the finished-games counter for the given game.
func CountGameFinished(game string) {
	if GamesFinished != nil {
		GamesFinished.WithLabelValues(game).Inc()
	}
}

// CountObstacleCollision increments the lane-runner collision counter.
func CountObstacleCollision() {
	if ObstacleCollisions != nil {
		ObstacleCollisions.Inc()
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
