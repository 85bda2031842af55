// Package bus fans overlay events out to in-process subscribers and mirrors
// them to Redis pub/sub so overlays connected to other instances see them too.
// Delivery is at-most-once; a slow subscriber loses its oldest events rather
// than blocking game ticks or chat handlers.
package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nlononosov/Avatars-prod/store"
)

// Channel is the Redis pub/sub channel overlay events are mirrored to.
const Channel = "overlay:events"

const subscriberBuffer = 64

// Event is a single overlay event. StreamerID is empty for broadcast events.
type Event struct {
	Name       string    `json:"event"`
	StreamerID string    `json:"streamerId,omitempty"`
	Payload    any       `json:"payload,omitempty"`
	At         time.Time `json:"at"`
}

type Bus struct {
	store *store.Store // nil disables the Redis mirror

	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
}

func New(st *store.Store) *Bus {
	return &Bus{store: st, subs: make(map[int]chan Event)}
}

// Emit broadcasts an event to all subscribers.
func (b *Bus) Emit(event string, payload any) {
	b.publish(Event{Name: event, Payload: payload, At: time.Now().UTC()})
}

// EmitToStreamer publishes an event scoped to one streamer's overlay.
func (b *Bus) EmitToStreamer(streamerID, event string, payload any) {
	b.publish(Event{Name: event, StreamerID: streamerID, Payload: payload, At: time.Now().UTC()})
}

func (b *Bus) publish(ev Event) {
	b.mu.Lock()
	for _, ch := range b.subs {
		// Drop the oldest event when the subscriber is behind.
		for {
			select {
			case ch <- ev:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
	b.mu.Unlock()

	if b.store == nil {
		return
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshal overlay event", slog.String("event", ev.Name), slog.Any("err", err))
		return
	}
	// Best effort: overlays on this instance were already served above.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.store.Publish(ctx, Channel, string(raw)); err != nil {
		slog.Debug("overlay event mirror failed", slog.String("event", ev.Name), slog.Any("err", err))
	}
}

// Subscribe registers a new subscriber. The returned cancel func must be
// called to release the channel; the channel is closed on cancel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}
