// Package games implements the three chat games: the foot race, the carrot
// collection game and the plane lane runner. Engines are per streamer and are
// driven by chat commands plus their own timers; every observable change is
// emitted as an overlay event.
package games

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

// Phase is the lifecycle of a game round.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseRegistering Phase = "registering"
	PhaseCountdown   Phase = "countdown"
	PhaseActive      Phase = "active"
	PhaseFinished    Phase = "finished"
)

// ErrGameActive is returned when a round is already running.
var ErrGameActive = fmt.Errorf("games: round already active")

// Emitter delivers overlay events. *bus.Bus satisfies it.
type Emitter interface {
	EmitToStreamer(streamerID, event string, payload any)
}

// Announcer posts a chat message to a streamer's channel. The session manager
// satisfies it; a nil announcer silently drops announcements.
type Announcer interface {
	Announce(streamerID, message string)
}

// SnapshotSink persists game snapshots for crash recovery. The state manager
// is adapted onto it in the bot wiring.
type SnapshotSink interface {
	SaveSnapshot(game, streamerID string, snapshot any)
	ClearSnapshot(game, streamerID string)
}

// Lane words accepted from chat for the plane game.
var (
	upWords   = map[string]struct{}{"верх": {}, "вверх": {}, "up": {}, "u": {}, "w": {}, "↑": {}}
	downWords = map[string]struct{}{"низ": {}, "вниз": {}, "down": {}, "d": {}, "s": {}, "↓": {}}
)

// ParseLaneCommand maps a chat word to a lane delta: -1 for up, +1 for down.
func ParseLaneCommand(word string) (int, bool) {
	w := strings.ToLower(strings.TrimSpace(word))
	if _, ok := upWords[w]; ok {
		return -1, true
	}
	if _, ok := downWords[w]; ok {
		return 1, true
	}
	return 0, false
}

func clampLane(lane int) int {
	if lane < 0 {
		return 0
	}
	if lane > 2 {
		return 2
	}
	return lane
}

// roster tracks join order during registration. First come, first served:
// when more people join than the round allows, the overflow is cut from the
// tail when registration closes.
type roster struct {
	order []string
	names map[string]string
}

func newRoster() *roster {
	return &roster{names: make(map[string]string)}
}

func (r *roster) add(userID, displayName string) bool {
	if _, ok := r.names[userID]; ok {
		return false
	}
	r.order = append(r.order, userID)
	r.names[userID] = displayName
	return true
}

func (r *roster) has(userID string) bool {
	_, ok := r.names[userID]
	return ok
}

func (r *roster) size() int { return len(r.order) }

func (r *roster) trim(max int) {
	if len(r.order) <= max {
		return
	}
	for _, id := range r.order[max:] {
		delete(r.names, id)
	}
	r.order = r.order[:max]
}

func (r *roster) ids() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *roster) nameOf(userID string) string {
	if n, ok := r.names[userID]; ok {
		return n
	}
	return userID
}

// matchMention finds the first participant whose display name appears in the
// message (with or without a leading @). Case-insensitive.
func (r *roster) matchMention(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, id := range r.order {
		name := strings.ToLower(r.names[id])
		if name == "" {
			continue
		}
		if strings.Contains(lower, "@"+name) || strings.Contains(lower, name) {
			return id, true
		}
	}
	return "", false
}

func randInt(rng *rand.Rand, min, max int) int {
	return min + rng.IntN(max-min+1)
}

func newRNG(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewPCG(uint64(seed), uint64(seed>>1)))
}
