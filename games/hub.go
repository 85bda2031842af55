package games

import "sync"

// Hub hands out per-streamer game engines, creating them on first use. All
// three games can run for different streamers at once; one streamer runs at
// most one round per game.
type Hub struct {
	emit      Emitter
	announce  Announcer
	snapshots SnapshotSink

	mu     sync.Mutex
	races  map[string]*Race
	foods  map[string]*Food
	planes map[string]*Plane
}

func NewHub(emit Emitter, announce Announcer, snapshots SnapshotSink) *Hub {
	return &Hub{
		emit:      emit,
		announce:  announce,
		snapshots: snapshots,
		races:     make(map[string]*Race),
		foods:     make(map[string]*Food),
		planes:    make(map[string]*Plane),
	}
}

func (h *Hub) Race(streamerID string) *Race {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.races[streamerID]
	if !ok {
		r = NewRace(streamerID, h.emit, h.announce, h.snapshots)
		h.races[streamerID] = r
	}
	return r
}

func (h *Hub) Food(streamerID string) *Food {
	h.mu.Lock()
	defer h.mu.Unlock()
	f, ok := h.foods[streamerID]
	if !ok {
		f = NewFood(streamerID, h.emit, h.announce, h.snapshots)
		h.foods[streamerID] = f
	}
	return f
}

func (h *Hub) Plane(streamerID string) *Plane {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.planes[streamerID]
	if !ok {
		p = NewPlane(streamerID, h.emit, h.announce, h.snapshots)
		h.planes[streamerID] = p
	}
	return p
}
