package games

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/nlononosov/Avatars-prod/telemetry"
)

// Field geometry and motion constants, in overlay pixels.
const (
	planeTrackWidth   = 1200.0
	planeFinishMargin = 50.0
	planeStartX       = 50.0
	avatarSpeed       = 20.0  // px/s
	obstacleSpeed     = 180.0 // px/s
	obstacleWidth     = 80.0
	avatarBaseWidth   = 72.0
	avatarScale       = 0.4 // overlay render scale
	avatarFinishWidth = 40.0
	planeMaxLives     = 3
	maxTickDelta      = 200 * time.Millisecond
)

var obstacleTypes = []string{"bird", "plane", "rock"}

// PlaneConfig controls one lane-runner round.
type PlaneConfig struct {
	MinParticipants   int
	MaxParticipants   int
	RegistrationTime  time.Duration
	CountdownInterval time.Duration
	TickInterval      time.Duration
	SpawnInterval     time.Duration
	ResetDelay        time.Duration
	Seed              int64
}

func DefaultPlaneConfig() PlaneConfig {
	return PlaneConfig{
		MinParticipants:   1,
		MaxParticipants:   8,
		RegistrationTime:  10 * time.Second,
		CountdownInterval: time.Second,
		TickInterval:      100 * time.Millisecond,
		SpawnInterval:     1600 * time.Millisecond,
		ResetDelay:        5 * time.Second,
	}
}

type planePlayer struct {
	lane  int
	x     float64
	prevX float64
	lives int
	out   bool
	halfW float64 // 0 means derive from base width
}

type planeObstacle struct {
	id     string
	lane   int
	x      float64
	speed  int // decorative, forwarded to the overlay
	otype  string
	hitFor map[string]struct{}
}

// Plane is the lane runner: planes fly right across three lanes, obstacles
// fly left, chat steers with "верх"/"низ". Survive to the finish line first.
type Plane struct {
	streamerID string
	emit       Emitter
	announce   Announcer
	snapshots  SnapshotSink

	mu        sync.Mutex
	cfg       PlaneConfig
	phase     Phase
	roster    *roster
	players   map[string]*planePlayer
	obstacles []*planeObstacle
	winner    string
	round     int
	rng       *rand.Rand
	lastTick  time.Time
	nextSpawn time.Time
	regTimer  *time.Timer
}

type planeSnapshot struct {
	Phase        string            `json:"phase"`
	Participants []string          `json:"participants"`
	Names        map[string]string `json:"participantNames"`
	Lives        map[string]int    `json:"lives"`
	Lanes        map[string]int    `json:"levels"`
	Winner       string            `json:"winner,omitempty"`
}

func NewPlane(streamerID string, emit Emitter, announce Announcer, snapshots SnapshotSink) *Plane {
	return &Plane{
		streamerID: streamerID,
		emit:       emit,
		announce:   announce,
		snapshots:  snapshots,
		phase:      PhaseIdle,
		roster:     newRoster(),
		players:    make(map[string]*planePlayer),
	}
}

func (p *Plane) Phase() Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

// Open announces a new round and opens registration. A finished round still
// waiting out its reset delay is cleared so the next one starts immediately.
func (p *Plane) Open(cfg PlaneConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.phase == PhaseFinished {
		p.resetLocked()
	}
	if p.phase != PhaseIdle {
		return ErrGameActive
	}
	if cfg.MinParticipants <= 0 {
		cfg = DefaultPlaneConfig()
	}
	p.cfg = cfg
	p.phase = PhaseRegistering
	p.roster = newRoster()
	p.players = make(map[string]*planePlayer)
	p.obstacles = nil
	p.winner = ""
	p.rng = newRNG(cfg.Seed)
	p.round++
	round := p.round

	p.say(fmt.Sprintf("✈️ Кто хочет участвовать в гонке на самолетах, отправьте + в чат! У вас есть %d секунд! (%d-%d участников)",
		int(cfg.RegistrationTime.Seconds()), cfg.MinParticipants, cfg.MaxParticipants))
	p.persistLocked()

	p.regTimer = time.AfterFunc(cfg.RegistrationTime, func() { p.closeRegistration(round) })
	return nil
}

// Join registers a viewer who typed "+" during registration. Everyone starts
// in the middle lane with three lives.
func (p *Plane) Join(userID, displayName string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.phase != PhaseRegistering {
		return
	}
	if p.roster.has(userID) {
		p.say(fmt.Sprintf("@%s вы уже участвуете в гонке на самолетах!", displayName))
		return
	}
	p.roster.add(userID, displayName)
	p.players[userID] = &planePlayer{lane: 1, x: planeStartX, prevX: planeStartX, lives: planeMaxLives}
	p.say(fmt.Sprintf("✈️ @%s присоединился к гонке на самолетах! Участников: %d", displayName, p.roster.size()))
}

func (p *Plane) closeRegistration(round int) {
	p.mu.Lock()
	if p.phase != PhaseRegistering || p.round != round {
		p.mu.Unlock()
		return
	}
	if p.regTimer != nil {
		p.regTimer.Stop()
	}
	if p.roster.size() < p.cfg.MinParticipants {
		p.say(fmt.Sprintf("⏰ Время вышло! Недостаточно участников (%d/%d). Гонка отменена.",
			p.roster.size(), p.cfg.MinParticipants))
		p.resetLocked()
		p.mu.Unlock()
		return
	}
	if p.roster.size() > p.cfg.MaxParticipants {
		p.roster.trim(p.cfg.MaxParticipants)
		for id := range p.players {
			if !p.roster.has(id) {
				delete(p.players, id)
			}
		}
		p.say(fmt.Sprintf("🎯 Слишком много участников! Выбраны первые %d участников.", p.cfg.MaxParticipants))
	}

	p.phase = PhaseCountdown
	lanes := make(map[string]int, len(p.players))
	lives := make(map[string]int, len(p.players))
	for id, pl := range p.players {
		lanes[id] = pl.lane
		lives[id] = pl.lives
	}
	p.emit.EmitToStreamer(p.streamerID, "racePlanStart", map[string]any{
		"participants": p.roster.ids(),
		"countdown":    3,
		"levels":       lanes,
		"lives":        lives,
	})
	p.persistLocked()
	interval := p.cfg.CountdownInterval
	p.mu.Unlock()

	go func() {
		for count := 3; count > 0; count-- {
			p.mu.Lock()
			if p.phase != PhaseCountdown || p.round != round {
				p.mu.Unlock()
				return
			}
			p.say(fmt.Sprintf("✈️ %d...", count))
			p.mu.Unlock()
			time.Sleep(interval)
		}
		p.begin(round)
	}()
}

func (p *Plane) begin(round int) {
	p.mu.Lock()
	if p.phase != PhaseCountdown || p.round != round {
		p.mu.Unlock()
		return
	}
	p.phase = PhaseActive
	now := time.Now()
	p.lastTick = now
	p.nextSpawn = now
	p.say("✈️ ГОНКА НАЧАЛАСЬ! Пишите \"верх\" или \"низ\" для управления!")
	p.persistLocked()
	tick := p.cfg.TickInterval
	p.mu.Unlock()

	go func() {
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		for now := range ticker.C {
			p.mu.Lock()
			if p.phase != PhaseActive || p.round != round {
				p.mu.Unlock()
				return
			}
			p.stepLocked(now)
			p.mu.Unlock()
		}
	}()
}

// Steer moves a participant one lane up or down (delta -1 or +1), clamped to
// the three lanes.
func (p *Plane) Steer(userID string, delta int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.phase != PhaseActive {
		return
	}
	pl, ok := p.players[userID]
	if !ok || pl.out {
		return
	}
	pl.lane = clampLane(pl.lane + delta)
	p.emit.EmitToStreamer(p.streamerID, "racePlanLevelUpdate", map[string]any{
		"userId": userID,
		"level":  pl.lane,
	})
}

// SetAvatarMetrics overrides a player's hitbox half-width, reported by the
// overlay for custom-sized avatars.
func (p *Plane) SetAvatarMetrics(userID string, halfW float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pl, ok := p.players[userID]; ok && halfW > 0 {
		pl.halfW = halfW
	}
}

// Lives returns a player's remaining lives.
func (p *Plane) Lives(userID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pl, ok := p.players[userID]; ok {
		return pl.lives
	}
	return 0
}

// Lane returns a player's current lane.
func (p *Plane) Lane(userID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pl, ok := p.players[userID]; ok {
		return pl.lane
	}
	return 1
}

// sweptOverlap1D reports whether the segment travelled between x0 and x1
// crosses the interval [cx-halfSum, cx+halfSum]. Sweeping prevents fast
// movers from tunneling through obstacles between ticks.
func sweptOverlap1D(x0, x1, cx, halfSum float64) bool {
	minX, maxX := x0, x1
	if minX > maxX {
		minX, maxX = maxX, minX
	}
	return !(maxX < cx-halfSum || minX > cx+halfSum)
}

// stepLocked advances the simulation one tick. Caller holds p.mu.
func (p *Plane) stepLocked(now time.Time) {
	dt := now.Sub(p.lastTick)
	if dt > maxTickDelta {
		dt = maxTickDelta
	}
	if dt < 0 {
		dt = 0
	}
	p.lastTick = now
	seconds := dt.Seconds()

	for _, pl := range p.players {
		if pl.out || pl.lives <= 0 {
			continue
		}
		pl.prevX = pl.x
		pl.x += avatarSpeed * seconds
	}

	p.maybeSpawnLocked(now)

	for _, o := range p.obstacles {
		o.x -= obstacleSpeed * seconds
	}

	p.collideLocked()
	p.checkFinishLocked()

	// Drop obstacles that flew off the left edge.
	kept := p.obstacles[:0]
	for _, o := range p.obstacles {
		if o.x+obstacleWidth > 0 {
			kept = append(kept, o)
		}
	}
	p.obstacles = kept

	p.broadcastLocked()
}

func (p *Plane) maybeSpawnLocked(now time.Time) {
	if now.Before(p.nextSpawn) {
		return
	}
	o := &planeObstacle{
		id:     fmt.Sprintf("obs_%d_%04x", now.UnixMilli(), p.rng.IntN(0x10000)),
		lane:   randInt(p.rng, 0, 2),
		x:      planeTrackWidth,
		speed:  randInt(p.rng, 6, 10),
		otype:  obstacleTypes[randInt(p.rng, 0, len(obstacleTypes)-1)],
		hitFor: make(map[string]struct{}),
	}
	p.obstacles = append(p.obstacles, o)
	p.emit.EmitToStreamer(p.streamerID, "racePlanObstacleSpawn", map[string]any{
		"id":   o.id,
		"lane": o.lane,
		"x":    o.x,
		"type": o.otype,
	})
	p.nextSpawn = now.Add(p.cfg.SpawnInterval)
}

func (p *Plane) collideLocked() {
	for _, id := range p.roster.ids() {
		pl, ok := p.players[id]
		if !ok || pl.out || pl.lives <= 0 {
			continue
		}
		for _, o := range p.obstacles {
			if _, hitAlready := o.hitFor[id]; hitAlready {
				continue
			}
			if pl.lane != o.lane {
				continue
			}
			pHalf := pl.halfW
			if pHalf <= 0 {
				pHalf = avatarBaseWidth * avatarScale / 2
			}
			halfSum := pHalf + obstacleWidth/2
			if !sweptOverlap1D(pl.prevX, pl.x, o.x, halfSum) {
				continue
			}

			pl.lives--
			if pl.lives <= 0 {
				pl.lives = 0
				pl.out = true
			}
			o.hitFor[id] = struct{}{}
			telemetry.CountObstacleCollision()
			p.emit.EmitToStreamer(p.streamerID, "racePlanCollision", map[string]any{
				"playerId": id,
				"lives":    pl.lives,
			})
			break
		}
		pl.prevX = pl.x
	}

	// An obstacle that hit anyone is spent and leaves the field.
	kept := p.obstacles[:0]
	for _, o := range p.obstacles {
		if len(o.hitFor) > 0 {
			p.emit.EmitToStreamer(p.streamerID, "obstacleRemove", map[string]any{"id": o.id})
			continue
		}
		kept = append(kept, o)
	}
	p.obstacles = kept
}

func (p *Plane) checkFinishLocked() {
	if p.phase != PhaseActive {
		return
	}
	finishLine := planeTrackWidth - planeFinishMargin
	alive := 0
	winner := ""
	var maxX float64
	for _, id := range p.roster.ids() {
		pl := p.players[id]
		if pl == nil || pl.out || pl.lives <= 0 {
			continue
		}
		alive++
		if pl.x+avatarFinishWidth >= finishLine && (winner == "" || pl.x > maxX) {
			winner = id
			maxX = pl.x
		}
	}

	if alive == 0 {
		p.finishLocked("", true)
		return
	}
	if winner != "" {
		p.finishLocked(winner, false)
	}
}

func (p *Plane) finishLocked(winner string, noWinners bool) {
	p.phase = PhaseFinished
	p.winner = winner
	lives := make(map[string]int, len(p.players))
	for id, pl := range p.players {
		lives[id] = pl.lives
	}
	payload := map[string]any{
		"winner":     nil,
		"winnerName": nil,
		"noWinners":  noWinners,
		"finalLives": lives,
	}
	if winner != "" {
		payload["winner"] = winner
		payload["winnerName"] = p.roster.nameOf(winner)
	}
	p.emit.EmitToStreamer(p.streamerID, "racePlanEnd", payload)
	if noWinners {
		p.say("💀 Гонка завершена! Победителей нет - все игроки выбыли!")
	} else {
		p.say(fmt.Sprintf("🏆 Гонка завершена! Победитель: @%s!", p.roster.nameOf(winner)))
	}
	p.persistLocked()
	telemetry.CountGameFinished("race-plan")

	round := p.round
	time.AfterFunc(p.cfg.ResetDelay, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.round == round && p.phase == PhaseFinished {
			p.resetLocked()
		}
	})
}

func (p *Plane) broadcastLocked() {
	players := make([]map[string]any, 0, len(p.players))
	for _, id := range p.roster.ids() {
		pl := p.players[id]
		if pl == nil {
			continue
		}
		players = append(players, map[string]any{
			"id":    id,
			"lane":  pl.lane,
			"x":     pl.x,
			"lives": pl.lives,
			"out":   pl.out,
		})
	}
	p.emit.EmitToStreamer(p.streamerID, "racePlanState", map[string]any{
		"players":  players,
		"started":  p.phase == PhaseActive,
		"finished": p.phase == PhaseFinished,
	})

	if len(p.obstacles) == 0 {
		return
	}
	batch := make([]map[string]any, 0, len(p.obstacles))
	for _, o := range p.obstacles {
		batch = append(batch, map[string]any{
			"id":   o.id,
			"x":    o.x,
			"lane": o.lane,
			"type": o.otype,
		})
	}
	p.emit.EmitToStreamer(p.streamerID, "racePlanObstacleBatch", batch)
}

func (p *Plane) resetLocked() {
	p.phase = PhaseIdle
	p.roster = newRoster()
	p.players = make(map[string]*planePlayer)
	p.obstacles = nil
	p.winner = ""
	if p.snapshots != nil {
		p.snapshots.ClearSnapshot("race-plan", p.streamerID)
	}
}

func (p *Plane) persistLocked() {
	if p.snapshots == nil {
		return
	}
	lanes := make(map[string]int, len(p.players))
	lives := make(map[string]int, len(p.players))
	for id, pl := range p.players {
		lanes[id] = pl.lane
		lives[id] = pl.lives
	}
	p.snapshots.SaveSnapshot("race-plan", p.streamerID, planeSnapshot{
		Phase:        string(p.phase),
		Participants: p.roster.ids(),
		Names:        p.roster.names,
		Lives:        lives,
		Lanes:        lanes,
		Winner:       p.winner,
	})
}

func (p *Plane) say(message string) {
	if p.announce != nil {
		p.announce.Announce(p.streamerID, message)
	}
}
