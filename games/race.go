package games

import (
	"fmt"
	"sync"
	"time"

	"github.com/nlononosov/Avatars-prod/telemetry"
)

// RaceConfig controls one race round. Durations are configurable so the
// dashboard can shorten registration; tests use millisecond values.
type RaceConfig struct {
	MinParticipants   int
	MaxParticipants   int
	RegistrationTime  time.Duration
	CountdownInterval time.Duration
	EarlyStartDelay   time.Duration
	ResetDelay        time.Duration
}

func DefaultRaceConfig() RaceConfig {
	return RaceConfig{
		MinParticipants:   1,
		MaxParticipants:   10,
		RegistrationTime:  10 * time.Second,
		CountdownInterval: time.Second,
		EarlyStartDelay:   time.Second,
		ResetDelay:        5 * time.Second,
	}
}

// Race is the foot race: viewers join with "+", avatars run across the
// overlay, chat mentions speed runners up, the overlay reports who crossed
// the line first.
type Race struct {
	streamerID string
	emit       Emitter
	announce   Announcer
	snapshots  SnapshotSink

	mu        sync.Mutex
	cfg       RaceConfig
	phase     Phase
	roster    *roster
	speedMods map[string]float64
	winner    string
	round     int
	regTimer  *time.Timer
}

// raceSnapshot is what gets mirrored into the distributed store.
type raceSnapshot struct {
	Phase          string             `json:"phase"`
	Participants   []string           `json:"participants"`
	Names          map[string]string  `json:"participantNames"`
	SpeedModifiers map[string]float64 `json:"speedModifiers"`
	Winner         string             `json:"winner,omitempty"`
}

func NewRace(streamerID string, emit Emitter, announce Announcer, snapshots SnapshotSink) *Race {
	return &Race{
		streamerID: streamerID,
		emit:       emit,
		announce:   announce,
		snapshots:  snapshots,
		phase:      PhaseIdle,
		roster:     newRoster(),
		speedMods:  make(map[string]float64),
	}
}

func (r *Race) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Open announces a new race and opens registration. A finished round that is
// still waiting out its reset delay gives way: its state is cleared and the
// new round starts immediately.
func (r *Race) Open(cfg RaceConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase == PhaseFinished {
		r.resetLocked()
	}
	if r.phase != PhaseIdle {
		return ErrGameActive
	}
	if cfg.MinParticipants <= 0 {
		cfg = DefaultRaceConfig()
	}
	r.cfg = cfg
	r.phase = PhaseRegistering
	r.roster = newRoster()
	r.speedMods = make(map[string]float64)
	r.winner = ""
	r.round++
	round := r.round

	r.say(fmt.Sprintf("🏁 Кто хочет участвовать в гонке, отправьте + в чат! У вас есть %d секунд! (%d-%d участников)",
		int(cfg.RegistrationTime.Seconds()), cfg.MinParticipants, cfg.MaxParticipants))
	r.persistLocked()

	r.regTimer = time.AfterFunc(cfg.RegistrationTime, func() { r.closeRegistration(round) })
	return nil
}

// Join registers a viewer who typed "+" during registration.
func (r *Race) Join(userID, displayName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase != PhaseRegistering || r.roster.has(userID) {
		return
	}
	if r.roster.size() >= r.cfg.MaxParticipants {
		r.say(fmt.Sprintf("@%s Гонка уже заполнена! Максимум %d участников.", displayName, r.cfg.MaxParticipants))
		return
	}
	r.roster.add(userID, displayName)
	r.say(fmt.Sprintf("@%s присоединился к гонке! (%d/%d)", displayName, r.roster.size(), r.cfg.MaxParticipants))

	// A full roster starts the countdown without waiting out the window.
	if r.roster.size() >= r.cfg.MaxParticipants {
		round := r.round
		time.AfterFunc(r.cfg.EarlyStartDelay, func() { r.closeRegistration(round) })
	}
}

func (r *Race) closeRegistration(round int) {
	r.mu.Lock()
	if r.phase != PhaseRegistering || r.round != round {
		r.mu.Unlock()
		return
	}
	if r.regTimer != nil {
		r.regTimer.Stop()
	}
	if r.roster.size() < r.cfg.MinParticipants {
		r.say(fmt.Sprintf("⏰ Время вышло! Недостаточно участников (%d/%d). Гонка отменена.",
			r.roster.size(), r.cfg.MinParticipants))
		r.resetLocked()
		r.mu.Unlock()
		return
	}
	if r.roster.size() > r.cfg.MaxParticipants {
		r.roster.trim(r.cfg.MaxParticipants)
		r.say(fmt.Sprintf("🎯 Слишком много участников! Выбраны первые %d участников.", r.cfg.MaxParticipants))
	}

	r.phase = PhaseCountdown
	participants := r.roster.ids()
	r.emit.EmitToStreamer(r.streamerID, "raceStart", map[string]any{
		"participants": participants,
		"countdown":    3,
	})
	r.persistLocked()
	interval := r.cfg.CountdownInterval
	r.mu.Unlock()

	go func() {
		for count := 3; count > 0; count-- {
			r.mu.Lock()
			if r.phase != PhaseCountdown || r.round != round {
				r.mu.Unlock()
				return
			}
			r.say(fmt.Sprintf("🏁 %d...", count))
			r.mu.Unlock()
			time.Sleep(interval)
		}
		r.begin(round)
	}()
}

func (r *Race) begin(round int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase != PhaseCountdown || r.round != round {
		return
	}
	r.phase = PhaseActive
	r.say("🏁 ГОНКА НАЧАЛАСЬ! Бегите к финишу!")
	r.emit.EmitToStreamer(r.streamerID, "raceMonitoring", map[string]any{
		"participants":   r.roster.ids(),
		"speedModifiers": r.speedMods,
	})
	r.persistLocked()
}

// Cheer scans a chat message for a participant mention and gives that runner
// a cumulative 5% speed boost.
func (r *Race) Cheer(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase != PhaseActive {
		return
	}
	id, ok := r.roster.matchMention(text)
	if !ok {
		return
	}
	r.speedMods[id] += 0.05
	r.emit.EmitToStreamer(r.streamerID, "raceSpeedUpdate", map[string]any{
		"participantId": id,
		"speedModifier": r.speedMods[id],
	})
	r.say(fmt.Sprintf("💨 @%s получил ускорение!", r.roster.nameOf(id)))
}

// SpeedModifier returns a runner's accumulated boost.
func (r *Race) SpeedModifier(userID string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.speedMods[userID]
}

// DeclareWinner ends the race. The overlay runs the animation and reports
// who crossed the line, so the winner arrives from outside the engine.
func (r *Race) DeclareWinner(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase != PhaseActive {
		return
	}
	r.phase = PhaseFinished
	r.winner = userID
	r.emit.EmitToStreamer(r.streamerID, "raceFinish", map[string]any{
		"winner":       userID,
		"participants": r.roster.ids(),
	})
	r.say(fmt.Sprintf("🏆 Гонка завершена! Поздравляем победителя @%s!", r.roster.nameOf(userID)))
	r.persistLocked()
	telemetry.CountGameFinished("race")

	round := r.round
	time.AfterFunc(r.cfg.ResetDelay, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.round == round && r.phase == PhaseFinished {
			r.resetLocked()
		}
	})
}

func (r *Race) resetLocked() {
	r.phase = PhaseIdle
	r.roster = newRoster()
	r.speedMods = make(map[string]float64)
	r.winner = ""
	if r.snapshots != nil {
		r.snapshots.ClearSnapshot("race", r.streamerID)
	}
}

func (r *Race) persistLocked() {
	if r.snapshots == nil {
		return
	}
	r.snapshots.SaveSnapshot("race", r.streamerID, raceSnapshot{
		Phase:          string(r.phase),
		Participants:   r.roster.ids(),
		Names:          r.roster.names,
		SpeedModifiers: r.speedMods,
		Winner:         r.winner,
	})
}

func (r *Race) say(message string) {
	if r.announce != nil {
		r.announce.Announce(r.streamerID, message)
	}
}
