package games

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/nlononosov/Avatars-prod/telemetry"
)

const (
	foodWinScore    = 10
	foodMaxSpeedMod = 3.0
	foodFieldWidth  = 1200
	carrotLifetime  = 15 * time.Second
	foodCheckEvery  = 100 * time.Millisecond
)

// FoodConfig controls one carrot collection round.
type FoodConfig struct {
	MinParticipants   int
	MaxParticipants   int
	RegistrationTime  time.Duration
	CountdownInterval time.Duration
	SpawnInterval     time.Duration
	ResetDelay        time.Duration
	Seed              int64
}

func DefaultFoodConfig() FoodConfig {
	return FoodConfig{
		MinParticipants:   1,
		MaxParticipants:   10,
		RegistrationTime:  10 * time.Second,
		CountdownInterval: time.Second,
		SpawnInterval:     2 * time.Second,
		ResetDelay:        5 * time.Second,
	}
}

type carrot struct {
	ID    string  `json:"id"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Speed float64 `json:"speed"`
}

// Food is the carrot collection game: avatars walk back and forth, carrots
// drop from the top, the overlay reports pickups and the first player to ten
// carrots wins. "1" in chat flips your walking direction.
type Food struct {
	streamerID string
	emit       Emitter
	announce   Announcer
	snapshots  SnapshotSink

	mu         sync.Mutex
	cfg        FoodConfig
	phase      Phase
	roster     *roster
	scores     map[string]int
	directions map[string]int
	speedMods  map[string]float64
	carrots    []carrot
	winner     string
	round      int
	rng        *rand.Rand
	regTimer   *time.Timer
}

type foodSnapshot struct {
	Phase          string             `json:"phase"`
	Participants   []string           `json:"participants"`
	Names          map[string]string  `json:"participantNames"`
	Scores         map[string]int     `json:"scores"`
	Directions     map[string]int     `json:"directions"`
	SpeedModifiers map[string]float64 `json:"speedModifiers"`
	Winner         string             `json:"winner,omitempty"`
}

func NewFood(streamerID string, emit Emitter, announce Announcer, snapshots SnapshotSink) *Food {
	return &Food{
		streamerID: streamerID,
		emit:       emit,
		announce:   announce,
		snapshots:  snapshots,
		phase:      PhaseIdle,
		roster:     newRoster(),
		scores:     make(map[string]int),
		directions: make(map[string]int),
		speedMods:  make(map[string]float64),
	}
}

func (f *Food) Phase() Phase {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phase
}

// Open announces a new round and opens registration. A finished round still
// waiting out its reset delay is cleared so the next one starts immediately.
func (f *Food) Open(cfg FoodConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.phase == PhaseFinished {
		f.resetLocked()
	}
	if f.phase != PhaseIdle {
		return ErrGameActive
	}
	if cfg.MinParticipants <= 0 {
		cfg = DefaultFoodConfig()
	}
	f.cfg = cfg
	f.phase = PhaseRegistering
	f.roster = newRoster()
	f.scores = make(map[string]int)
	f.directions = make(map[string]int)
	f.speedMods = make(map[string]float64)
	f.carrots = nil
	f.winner = ""
	f.rng = newRNG(cfg.Seed)
	f.round++
	round := f.round

	f.say(fmt.Sprintf("🥕 Кто хочет участвовать в игре \"Собери еду\", отправьте + в чат! У вас есть %d секунд! (%d-%d участников)",
		int(cfg.RegistrationTime.Seconds()), cfg.MinParticipants, cfg.MaxParticipants))
	f.persistLocked()

	f.regTimer = time.AfterFunc(cfg.RegistrationTime, func() { f.closeRegistration(round) })
	return nil
}

// Join registers a viewer who typed "+" during registration.
func (f *Food) Join(userID, displayName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.phase != PhaseRegistering {
		return
	}
	if f.roster.has(userID) {
		f.say(fmt.Sprintf("@%s вы уже участвуете в игре!", displayName))
		return
	}
	f.roster.add(userID, displayName)
	f.scores[userID] = 0
	f.directions[userID] = 1
	f.speedMods[userID] = 0
	f.say(fmt.Sprintf("🥕 @%s присоединился к игре! Участников: %d", displayName, f.roster.size()))
}

func (f *Food) closeRegistration(round int) {
	f.mu.Lock()
	if f.phase != PhaseRegistering || f.round != round {
		f.mu.Unlock()
		return
	}
	if f.regTimer != nil {
		f.regTimer.Stop()
	}
	if f.roster.size() < f.cfg.MinParticipants {
		f.say(fmt.Sprintf("⏰ Время вышло! Недостаточно участников (%d/%d). Игра отменена.",
			f.roster.size(), f.cfg.MinParticipants))
		f.resetLocked()
		f.mu.Unlock()
		return
	}
	if f.roster.size() > f.cfg.MaxParticipants {
		f.roster.trim(f.cfg.MaxParticipants)
		f.say(fmt.Sprintf("🎯 Слишком много участников! Выбраны первые %d участников.", f.cfg.MaxParticipants))
	}

	f.phase = PhaseCountdown
	participants := make([]map[string]string, 0, f.roster.size())
	for _, id := range f.roster.ids() {
		f.scores[id] = 0
		f.directions[id] = 1
		f.speedMods[id] = 0
		participants = append(participants, map[string]string{
			"userId":      id,
			"displayName": f.roster.nameOf(id),
		})
	}
	f.emit.EmitToStreamer(f.streamerID, "foodGameStart", map[string]any{
		"participants": participants,
		"countdown":    3,
	})
	f.persistLocked()
	interval := f.cfg.CountdownInterval
	f.mu.Unlock()

	go func() {
		for count := 3; count > 0; count-- {
			f.mu.Lock()
			if f.phase != PhaseCountdown || f.round != round {
				f.mu.Unlock()
				return
			}
			f.say(fmt.Sprintf("🥕 %d...", count))
			f.mu.Unlock()
			time.Sleep(interval)
		}
		f.begin(round)
	}()
}

func (f *Food) begin(round int) {
	f.mu.Lock()
	if f.phase != PhaseCountdown || f.round != round {
		f.mu.Unlock()
		return
	}
	f.phase = PhaseActive
	f.say("🥕 ИГРА НАЧАЛАСЬ! Собирайте падающие морковки! Пишите \"1\" чтобы повернуть!")
	f.emit.EmitToStreamer(f.streamerID, "foodGameMonitoring", map[string]any{
		"participants":   f.roster.ids(),
		"scores":         f.scores,
		"directions":     f.directions,
		"speedModifiers": f.speedMods,
	})
	f.persistLocked()
	spawnInterval := f.cfg.SpawnInterval
	f.mu.Unlock()

	go f.spawnLoop(round, spawnInterval)
	go f.winLoop(round)
}

func (f *Food) spawnLoop(round int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		f.mu.Lock()
		if f.phase != PhaseActive || f.round != round {
			f.mu.Unlock()
			return
		}
		c := carrot{
			ID:    fmt.Sprintf("carrot_%d_%04x", time.Now().UnixMilli(), f.rng.IntN(0x10000)),
			X:     f.rng.Float64() * foodFieldWidth,
			Y:     -30,
			Speed: 2 + f.rng.Float64()*2,
		}
		f.carrots = append(f.carrots, c)
		f.emit.EmitToStreamer(f.streamerID, "carrotSpawn", c)
		f.mu.Unlock()

		time.AfterFunc(carrotLifetime, func() { f.expireCarrot(round, c.ID) })
	}
}

func (f *Food) expireCarrot(round int, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.round != round {
		return
	}
	if f.removeCarrotLocked(id) {
		f.emit.EmitToStreamer(f.streamerID, "carrotRemove", map[string]any{"id": id})
	}
}

func (f *Food) removeCarrotLocked(id string) bool {
	for i, c := range f.carrots {
		if c.ID == id {
			f.carrots = append(f.carrots[:i], f.carrots[i+1:]...)
			return true
		}
	}
	return false
}

func (f *Food) winLoop(round int) {
	ticker := time.NewTicker(foodCheckEvery)
	defer ticker.Stop()
	for range ticker.C {
		f.mu.Lock()
		if f.phase != PhaseActive || f.round != round {
			f.mu.Unlock()
			return
		}
		f.checkWinnerLocked()
		f.mu.Unlock()
	}
}

func (f *Food) checkWinnerLocked() {
	for _, id := range f.roster.ids() {
		if f.scores[id] < foodWinScore {
			continue
		}
		f.phase = PhaseFinished
		f.winner = id
		winnerName := f.roster.nameOf(id)
		f.emit.EmitToStreamer(f.streamerID, "foodGameEnd", map[string]any{
			"winner":      id,
			"winnerName":  winnerName,
			"finalScores": f.scores,
		})
		f.say(fmt.Sprintf("🏁 Игра \"Собери морковку\" завершена! Победитель: @%s!", winnerName))
		f.persistLocked()
		telemetry.CountGameFinished("food")

		round := f.round
		time.AfterFunc(f.cfg.ResetDelay, func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.round == round && f.phase == PhaseFinished {
				f.resetLocked()
			}
		})
		return
	}
}

// CollectCarrot is called by the overlay when an avatar picked a carrot up.
func (f *Food) CollectCarrot(carrotID, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.phase != PhaseActive || !f.roster.has(userID) {
		return
	}
	if !f.removeCarrotLocked(carrotID) {
		return
	}
	f.scores[userID]++
	f.emit.EmitToStreamer(f.streamerID, "carrotRemove", map[string]any{"id": carrotID})
	f.emit.EmitToStreamer(f.streamerID, "foodGameScoreUpdate", map[string]any{
		"userId": userID,
		"score":  f.scores[userID],
	})
	f.checkWinnerLocked()
}

// AddScore credits points directly, used by the overlay when it resolves
// pickups itself.
func (f *Food) AddScore(userID string, points int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.phase != PhaseActive || !f.roster.has(userID) || points <= 0 {
		return
	}
	f.scores[userID] += points
	f.emit.EmitToStreamer(f.streamerID, "foodGameScoreUpdate", map[string]any{
		"userId": userID,
		"score":  f.scores[userID],
	})
	f.checkWinnerLocked()
}

// FlipDirection reverses a participant's walking direction ("1" in chat).
func (f *Food) FlipDirection(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.phase != PhaseActive || !f.roster.has(userID) {
		return
	}
	dir := f.directions[userID]
	if dir == 0 {
		dir = 1
	}
	f.directions[userID] = -dir
	f.emit.EmitToStreamer(f.streamerID, "foodGameDirectionUpdate", map[string]any{
		"userId":    userID,
		"direction": f.directions[userID],
	})
}

// Cheer gives a mentioned participant a speed boost, capped at +300%.
func (f *Food) Cheer(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.phase != PhaseActive {
		return
	}
	id, ok := f.roster.matchMention(text)
	if !ok {
		return
	}
	mod := f.speedMods[id] + 0.05
	if mod > foodMaxSpeedMod {
		mod = foodMaxSpeedMod
	}
	f.speedMods[id] = mod
	f.emit.EmitToStreamer(f.streamerID, "foodGameSpeedUpdate", map[string]any{
		"userId":        id,
		"speedModifier": mod,
	})
	f.say(fmt.Sprintf("💨 @%s получил ускорение! Скорость: +%d%%", f.roster.nameOf(id), int(mod*100)))
}

// Score returns a participant's current score.
func (f *Food) Score(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scores[userID]
}

// Direction returns a participant's walking direction (+1 or -1).
func (f *Food) Direction(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d := f.directions[userID]; d != 0 {
		return d
	}
	return 1
}

func (f *Food) resetLocked() {
	f.phase = PhaseIdle
	f.roster = newRoster()
	f.scores = make(map[string]int)
	f.directions = make(map[string]int)
	f.speedMods = make(map[string]float64)
	f.carrots = nil
	f.winner = ""
	if f.snapshots != nil {
		f.snapshots.ClearSnapshot("food", f.streamerID)
	}
}

func (f *Food) persistLocked() {
	if f.snapshots == nil {
		return
	}
	f.snapshots.SaveSnapshot("food", f.streamerID, foodSnapshot{
		Phase:          string(f.phase),
		Participants:   f.roster.ids(),
		Names:          f.roster.names,
		Scores:         f.scores,
		Directions:     f.directions,
		SpeedModifiers: f.speedMods,
		Winner:         f.winner,
	})
}

func (f *Food) say(message string) {
	if f.announce != nil {
		f.announce.Announce(f.streamerID, message)
	}
}
