package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/nlononosov/Avatars-prod/store"
)

// SessionSource is the slice of the bot manager the status endpoint reads.
type SessionSource interface {
	ProcessID() string
	ActiveSessions() []string
}

type Handlers struct {
	db       *sql.DB // nil when running without Postgres (tests, probes)
	store    *store.Store
	sessions SessionSource
	started  time.Time
}

func NewHandlers(db *sql.DB, st *store.Store, sessions SessionSource) *Handlers {
	return &Handlers{db: db, store: st, sessions: sessions, started: time.Now()}
}

// HandleHealthz is the liveness probe: database and distributed store must
// both be reachable. A degraded optional store still counts as healthy; a
// mandatory store failure does not.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.PingContext(r.Context()); err != nil {
			http.Error(w, "unhealthy: database", http.StatusServiceUnavailable)
			return
		}
	}
	if err := h.store.Healthy(r.Context()); err != nil {
		slog.Error("mandatory distributed store unavailable", slog.Any("err", err))
		http.Error(w, "unhealthy: store", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports readiness with per-check detail.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error {
			if h.db == nil {
				return nil
			}
			return h.db.PingContext(r.Context())
		}},
		{"store", func() error { return h.store.Healthy(r.Context()) }},
	}

	w.Header().Set("Content-Type", "application/json")
	for _, check := range checks {
		if err := check.fn(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// HandleStatus summarizes this instance: owned chat sessions, store mode,
// uptime.
func (h *Handlers) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	sessions := h.sessions.ActiveSessions()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"processId":      h.sessions.ProcessID(),
		"activeSessions": sessions,
		"sessionCount":   len(sessions),
		"storeDegraded":  h.store.Degraded(),
		"uptimeSeconds":  int(time.Since(h.started).Seconds()),
	})
}
