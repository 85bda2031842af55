package games

import (
	"testing"
	"time"
)

func fastPlaneConfig() PlaneConfig {
	return PlaneConfig{
		MinParticipants:   1,
		MaxParticipants:   8,
		RegistrationTime:  40 * time.Millisecond,
		CountdownInterval: 5 * time.Millisecond,
		TickInterval:      10 * time.Millisecond,
		SpawnInterval:     time.Hour, // tests spawn obstacles by hand
		ResetDelay:        30 * time.Millisecond,
		Seed:              1,
	}
}

func startedPlane(t *testing.T, em *fakeEmitter, users ...string) *Plane {
	t.Helper()
	p := NewPlane("100", em, &fakeAnnouncer{}, nil)
	if err := p.Open(fastPlaneConfig()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, u := range users {
		p.Join(u, "Name"+u)
	}
	waitFor(t, time.Second, func() bool { return p.Phase() == PhaseActive })
	return p
}

func TestSweptOverlap1D(t *testing.T) {
	cases := []struct {
		name           string
		x0, x1, cx, hs float64
		want           bool
	}{
		{"static overlap", 110, 110, 115, 20, true},
		{"static miss left", 80, 80, 115, 20, false},
		{"static miss right", 150, 150, 115, 20, false},
		{"swept through", 100, 130, 115, 20, true},
		{"fast tunnel", 50, 300, 115, 20, true},
		{"touch at edge", 95, 95, 115, 20, true},
		{"reversed segment", 130, 100, 115, 20, true},
	}
	for _, c := range cases {
		if got := sweptOverlap1D(c.x0, c.x1, c.cx, c.hs); got != c.want {
			t.Errorf("%s: sweptOverlap1D(%v, %v, %v, %v) = %v, want %v",
				c.name, c.x0, c.x1, c.cx, c.hs, got, c.want)
		}
	}
}

func TestPlaneCollisionHitsOnce(t *testing.T) {
	em := &fakeEmitter{}
	p := startedPlane(t, em, "u1")

	p.mu.Lock()
	pl := p.players["u1"]
	pl.prevX, pl.x = 100, 130
	o := &planeObstacle{id: "obs1", lane: 1, x: 115, otype: "bird", hitFor: map[string]struct{}{}}
	p.obstacles = []*planeObstacle{o}
	p.collideLocked()
	lives := pl.lives
	remaining := len(p.obstacles)
	p.mu.Unlock()

	if lives != planeMaxLives-1 {
		t.Fatalf("lives = %d, want %d", lives, planeMaxLives-1)
	}
	if remaining != 0 {
		t.Fatal("spent obstacle not removed")
	}
	ev, ok := em.last("racePlanCollision")
	if !ok {
		t.Fatal("no racePlanCollision event")
	}
	if ev.payload.(map[string]any)["playerId"] != "u1" {
		t.Fatalf("collision payload = %v", ev.payload)
	}
	if em.count("obstacleRemove") != 1 {
		t.Fatalf("obstacleRemove count = %d, want 1", em.count("obstacleRemove"))
	}

	// Same obstacle can't hit the same player again.
	p.mu.Lock()
	pl.prevX, pl.x = 100, 130
	p.obstacles = []*planeObstacle{o}
	p.collideLocked()
	lives = pl.lives
	p.mu.Unlock()
	if lives != planeMaxLives-1 {
		t.Fatalf("lives after repeat = %d, want %d", lives, planeMaxLives-1)
	}
}

func TestPlaneCollisionLaneMismatch(t *testing.T) {
	em := &fakeEmitter{}
	p := startedPlane(t, em, "u1")

	p.mu.Lock()
	pl := p.players["u1"]
	pl.prevX, pl.x = 100, 130
	p.obstacles = []*planeObstacle{{id: "obs1", lane: 0, x: 115, otype: "rock", hitFor: map[string]struct{}{}}}
	p.collideLocked()
	lives := pl.lives
	p.mu.Unlock()

	if lives != planeMaxLives {
		t.Fatalf("lives = %d, want untouched %d", lives, planeMaxLives)
	}
	if em.count("racePlanCollision") != 0 {
		t.Fatal("collision emitted across lanes")
	}
}

func TestPlaneSteerClamps(t *testing.T) {
	em := &fakeEmitter{}
	p := startedPlane(t, em, "u1")

	if p.Lane("u1") != 1 {
		t.Fatalf("start lane = %d, want 1", p.Lane("u1"))
	}
	p.Steer("u1", -1)
	p.Steer("u1", -1)
	p.Steer("u1", -1)
	if p.Lane("u1") != 0 {
		t.Fatalf("lane after steering up = %d, want clamped 0", p.Lane("u1"))
	}
	for i := 0; i < 5; i++ {
		p.Steer("u1", 1)
	}
	if p.Lane("u1") != 2 {
		t.Fatalf("lane after steering down = %d, want clamped 2", p.Lane("u1"))
	}
	if em.count("racePlanLevelUpdate") != 8 {
		t.Fatalf("level updates = %d, want 8", em.count("racePlanLevelUpdate"))
	}
}

func TestPlaneFinishWinner(t *testing.T) {
	em := &fakeEmitter{}
	p := startedPlane(t, em, "u1", "u2")

	p.mu.Lock()
	p.players["u1"].x = planeTrackWidth - planeFinishMargin - avatarFinishWidth + 1
	p.checkFinishLocked()
	p.mu.Unlock()

	ev, ok := em.last("racePlanEnd")
	if !ok {
		t.Fatal("no racePlanEnd event")
	}
	payload := ev.payload.(map[string]any)
	if payload["winner"] != "u1" || payload["noWinners"] != false {
		t.Fatalf("racePlanEnd payload = %v, want winner u1", payload)
	}
	if payload["winnerName"] != "Nameu1" {
		t.Fatalf("winnerName = %v, want Nameu1", payload["winnerName"])
	}

	waitFor(t, time.Second, func() bool { return p.Phase() == PhaseIdle })
	if err := p.Open(fastPlaneConfig()); err != nil {
		t.Fatalf("Open after reset: %v", err)
	}
}

func TestPlaneAllOutNoWinners(t *testing.T) {
	em := &fakeEmitter{}
	p := startedPlane(t, em, "u1", "u2")

	p.mu.Lock()
	for _, pl := range p.players {
		pl.lives = 0
		pl.out = true
	}
	p.checkFinishLocked()
	p.mu.Unlock()

	ev, ok := em.last("racePlanEnd")
	if !ok {
		t.Fatal("no racePlanEnd event")
	}
	payload := ev.payload.(map[string]any)
	if payload["noWinners"] != true || payload["winner"] != nil {
		t.Fatalf("racePlanEnd payload = %v, want noWinners", payload)
	}
}

func TestPlaneOpenWhileFinishedStartsFreshRound(t *testing.T) {
	em := &fakeEmitter{}
	cfg := fastPlaneConfig()
	cfg.ResetDelay = time.Hour
	p := NewPlane("100", em, &fakeAnnouncer{}, nil)
	if err := p.Open(cfg); err != nil {
		t.Fatalf("Open: %v", err)
	}
	p.Join("u1", "Nameu1")
	waitFor(t, time.Second, func() bool { return p.Phase() == PhaseActive })

	p.mu.Lock()
	p.players["u1"].x = planeTrackWidth - planeFinishMargin - avatarFinishWidth + 1
	p.checkFinishLocked()
	p.mu.Unlock()
	if p.Phase() != PhaseFinished {
		t.Fatalf("phase = %v, want finished", p.Phase())
	}

	if err := p.Open(cfg); err != nil {
		t.Fatalf("Open while finished: %v", err)
	}
	if p.Phase() != PhaseRegistering {
		t.Fatalf("phase = %v, want registering", p.Phase())
	}
	if p.Lives("u1") != 0 {
		t.Fatal("previous round's player carried into the new roster")
	}
}

func TestPlaneStateBroadcast(t *testing.T) {
	em := &fakeEmitter{}
	p := startedPlane(t, em, "u1")

	waitFor(t, time.Second, func() bool { return em.count("racePlanState") >= 2 })
	if p.Phase() != PhaseActive {
		t.Fatalf("phase = %v, want active while broadcasting", p.Phase())
	}
	ev, _ := em.last("racePlanState")
	payload := ev.payload.(map[string]any)
	players := payload["players"].([]map[string]any)
	if len(players) != 1 || players[0]["id"] != "u1" {
		t.Fatalf("players = %v", players)
	}
	x := players[0]["x"].(float64)
	if x <= planeStartX {
		t.Fatalf("player x = %v, want forward progress past %v", x, planeStartX)
	}
	if payload["started"] != true {
		t.Fatal("state not marked started")
	}
}

func TestPlaneCustomHitbox(t *testing.T) {
	em := &fakeEmitter{}
	p := startedPlane(t, em, "u1")
	p.SetAvatarMetrics("u1", 2)

	// With a tiny hitbox the default-width hit becomes a miss.
	p.mu.Lock()
	pl := p.players["u1"]
	pl.prevX, pl.x = 160, 160 // obstacle half 40 + player half 2 = 42 < 45
	p.obstacles = []*planeObstacle{{id: "obs1", lane: 1, x: 115, otype: "plane", hitFor: map[string]struct{}{}}}
	p.collideLocked()
	lives := pl.lives
	p.mu.Unlock()

	if lives != planeMaxLives {
		t.Fatalf("lives = %d, want no hit with shrunken hitbox", lives)
	}
	if em.count("racePlanCollision") != 0 {
		t.Fatal("collision emitted despite shrunken hitbox")
	}
}
