package bot

import (
	"context"
	"testing"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/nlononosov/Avatars-prod/bus"
	"github.com/nlononosov/Avatars-prod/games"
)

// chatSession builds a ready session wired to a fake client, without going
// through Acquire.
func chatSession(m *Manager, client ircClient) *session {
	s := &session{streamerID: "100", channel: "streamer", client: client, seen: make(map[string]struct{})}
	s.ready.Store(true)
	return s
}

func chatMessage(userID, displayName, text string) twitch.PrivateMessage {
	return twitch.PrivateMessage{
		Message: text,
		User:    twitch.User{ID: userID, Name: displayName, DisplayName: displayName},
	}
}

// drainEvents reads everything currently buffered on the bus subscription.
func drainEvents(ch <-chan bus.Event) []bus.Event {
	var events []bus.Event
	for {
		select {
		case ev := <-ch:
			events = append(events, ev)
		default:
			return events
		}
	}
}

func findEvent(events []bus.Event, name string) (bus.Event, bool) {
	for _, ev := range events {
		if ev.Name == name {
			return ev, true
		}
	}
	return bus.Event{}, false
}

func TestHandlePing(t *testing.T) {
	dir := newFakeDirectory()
	m, _, _ := newTestManager(dir)
	client := newFakeIRC(true)
	s := chatSession(m, client)

	m.handleMessage(s, chatMessage("u1", "Viewer", "!ping"))
	said := client.saidMessages()
	if len(said) != 1 || said[0] != "pong" {
		t.Fatalf("said = %v, want pong", said)
	}
}

func TestHandleStart(t *testing.T) {
	dir := newFakeDirectory()
	m, sm, b := newTestManager(dir)
	ch, cancel := b.Subscribe()
	defer cancel()
	client := newFakeIRC(true)
	s := chatSession(m, client)

	m.handleMessage(s, chatMessage("u1", "New Viewer", "!start"))

	if _, err := dir.GetUser(context.Background(), "u1"); err != nil {
		t.Fatalf("user not created: %v", err)
	}
	if _, err := dir.GetAvatar(context.Background(), "u1"); err != nil {
		t.Fatalf("avatar not created: %v", err)
	}
	if _, ok := dir.roster["100"]["u1"]; !ok {
		t.Fatal("user not on streamer roster")
	}

	events := drainEvents(ch)
	show, ok := findEvent(events, "avatar:show")
	if !ok {
		t.Fatalf("no avatar:show in %v", events)
	}
	payload := show.Payload.(map[string]any)
	if payload["twitchUserId"] != "u1" || payload["source"] != "twitch_chat" {
		t.Fatalf("avatar:show payload = %v", payload)
	}

	active, err := sm.ActiveAvatars(context.Background(), "100")
	if err != nil || len(active) != 1 || active[0] != "u1" {
		t.Fatalf("active avatars = %v, err %v", active, err)
	}
}

func TestHandleReactions(t *testing.T) {
	dir := newFakeDirectory()
	m, _, b := newTestManager(dir)
	ch, cancel := b.Subscribe()
	defer cancel()
	client := newFakeIRC(true)
	s := chatSession(m, client)

	m.handleMessage(s, chatMessage("u1", "Viewer", "привет чат"))
	if _, ok := findEvent(drainEvents(ch), "hi"); !ok {
		t.Fatal("greeting did not emit hi")
	}

	m.handleMessage(s, chatMessage("u1", "Viewer", "ахахаха"))
	if _, ok := findEvent(drainEvents(ch), "laugh"); !ok {
		t.Fatal("laughter did not emit laugh")
	}

	m.handleMessage(s, chatMessage("u1", "Viewer", "какое-то длинное сообщение"))
	events := drainEvents(ch)
	move, ok := findEvent(events, "move")
	if !ok {
		t.Fatalf("no move in %v", events)
	}
	payload := move.Payload.(map[string]any)
	d := payload["distance"].(int)
	if d < -moveDistanceMax || d > moveDistanceMax || d == 0 {
		t.Fatalf("move distance = %d", d)
	}
}

func TestHandleLazyRespawn(t *testing.T) {
	dir := newFakeDirectory()
	m, sm, b := newTestManager(dir)
	ch, cancel := b.Subscribe()
	defer cancel()
	client := newFakeIRC(true)
	s := chatSession(m, client)

	// First message from a user with a stored avatar respawns it.
	if _, err := dir.EnsureAvatar(context.Background(), "u1"); err != nil {
		t.Fatalf("seed avatar: %v", err)
	}
	m.handleMessage(s, chatMessage("u1", "Viewer", "первое сообщение без команды"))
	if _, ok := findEvent(drainEvents(ch), "spawn"); !ok {
		t.Fatal("first message did not respawn the avatar")
	}
	active, _ := sm.ActiveAvatars(context.Background(), "100")
	if len(active) != 1 {
		t.Fatalf("active avatars = %v", active)
	}

	// Later messages only refresh activity.
	m.handleMessage(s, chatMessage("u1", "Viewer", "второе сообщение"))
	if _, ok := findEvent(drainEvents(ch), "spawn"); ok {
		t.Fatal("second message respawned again")
	}

	// Users without an avatar record are not spawned.
	m.handleMessage(s, chatMessage("u2", "Other", "сообщение без аватара"))
	if _, ok := findEvent(drainEvents(ch), "spawn"); ok {
		t.Fatal("user without avatar record spawned")
	}
}

func TestHandleGameFlow(t *testing.T) {
	dir := newFakeDirectory()
	m, _, b := newTestManager(dir)
	ch, cancel := b.Subscribe()
	defer cancel()
	client := newFakeIRC(true)
	s := chatSession(m, client)

	race := m.games.Race("100")
	cfg := games.DefaultRaceConfig()
	cfg.RegistrationTime = 60 * time.Millisecond
	cfg.CountdownInterval = 5 * time.Millisecond
	if err := race.Open(cfg); err != nil {
		t.Fatalf("open race: %v", err)
	}

	m.handleMessage(s, chatMessage("u1", "Runner", "+"))
	m.handleMessage(s, chatMessage("u2", "Walker", "+"))

	// Busy message for a start attempt while a round is running.
	m.handleMessage(s, chatMessage("streamer", "Streamer", "!race"))
	said := client.saidMessages()
	if len(said) == 0 || said[len(said)-1] != "🏁 Гонка уже идет! Дождитесь завершения." {
		t.Fatalf("said = %v, want busy message last", said)
	}

	deadline := time.Now().Add(2 * time.Second)
	for race.Phase() != games.PhaseActive && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if race.Phase() != games.PhaseActive {
		t.Fatal("race never became active")
	}

	m.handleMessage(s, chatMessage("u3", "Fan", "давай @runner!"))
	if got := race.SpeedModifier("u1"); got < 0.049 || got > 0.051 {
		t.Fatalf("speed modifier = %v, want 0.05", got)
	}
	if _, ok := findEvent(drainEvents(ch), "raceSpeedUpdate"); !ok {
		t.Fatal("cheer did not emit raceSpeedUpdate")
	}
}
