package games

import (
	"sync"
	"testing"
	"time"
)

type recordedEvent struct {
	streamerID string
	name       string
	payload    any
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (e *fakeEmitter) EmitToStreamer(streamerID, event string, payload any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, recordedEvent{streamerID: streamerID, name: event, payload: payload})
}

func (e *fakeEmitter) count(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.events {
		if ev.name == name {
			n++
		}
	}
	return n
}

func (e *fakeEmitter) last(name string) (recordedEvent, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.events) - 1; i >= 0; i-- {
		if e.events[i].name == name {
			return e.events[i], true
		}
	}
	return recordedEvent{}, false
}

type fakeAnnouncer struct {
	mu   sync.Mutex
	msgs []string
}

func (a *fakeAnnouncer) Announce(streamerID, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.msgs = append(a.msgs, message)
}

func (a *fakeAnnouncer) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.msgs)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition not met before deadline")
	}
}

func TestParseLaneCommand(t *testing.T) {
	ups := []string{"верх", "вверх", "up", "u", "w", "↑", "UP", " Вверх "}
	for _, w := range ups {
		if d, ok := ParseLaneCommand(w); !ok || d != -1 {
			t.Errorf("ParseLaneCommand(%q) = %d, %v; want -1, true", w, d, ok)
		}
	}
	downs := []string{"низ", "вниз", "down", "d", "s", "↓"}
	for _, w := range downs {
		if d, ok := ParseLaneCommand(w); !ok || d != 1 {
			t.Errorf("ParseLaneCommand(%q) = %d, %v; want 1, true", w, d, ok)
		}
	}
	for _, w := range []string{"", "+", "hello", "uup"} {
		if _, ok := ParseLaneCommand(w); ok {
			t.Errorf("ParseLaneCommand(%q) accepted, want rejection", w)
		}
	}
}

func TestRosterTrimKeepsJoinOrder(t *testing.T) {
	r := newRoster()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		r.add(id, "name-"+id)
	}
	if r.add("a", "dup") {
		t.Error("duplicate join accepted")
	}
	r.trim(3)
	ids := r.ids()
	if len(ids) != 3 || ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
		t.Fatalf("trim kept %v, want first three joiners", ids)
	}
	if r.has("d") || r.has("e") {
		t.Error("trimmed participants still present")
	}
}

func TestRosterMatchMention(t *testing.T) {
	r := newRoster()
	r.add("1", "SpeedyGonzales")
	r.add("2", "Turtle")

	if id, ok := r.matchMention("давай @turtle вперед!"); !ok || id != "2" {
		t.Errorf("matchMention = %q, %v; want 2", id, ok)
	}
	if id, ok := r.matchMention("SPEEDYGONZALES is the best"); !ok || id != "1" {
		t.Errorf("matchMention without @ = %q, %v; want 1", id, ok)
	}
	if _, ok := r.matchMention("nobody here"); ok {
		t.Error("matchMention matched a non-participant")
	}
}

func TestHubReturnsSameEngine(t *testing.T) {
	h := NewHub(&fakeEmitter{}, nil, nil)
	if h.Race("1") != h.Race("1") {
		t.Error("Race returned different engines for the same streamer")
	}
	if h.Race("1") == h.Race("2") {
		t.Error("Race shared an engine across streamers")
	}
	if h.Food("1") != h.Food("1") || h.Plane("1") != h.Plane("1") {
		t.Error("Food/Plane engines not stable per streamer")
	}
}
