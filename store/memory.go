package store

import (
	"sync"
	"time"
)

// memoryKV is the in-process fallback. TTLs are honored lazily on read, which
// is enough for the session liveness and presence records kept here.
type memoryKV struct {
	mu   sync.Mutex
	kv   map[string]memEntry
	sets map[string]map[string]struct{}
}

type memEntry struct {
	value   string
	expires time.Time
}

func newMemoryKV() *memoryKV {
	return &memoryKV{
		kv:   make(map[string]memEntry),
		sets: make(map[string]map[string]struct{}),
	}
}

func (m *memoryKV) live(key string) (memEntry, bool) {
	e, ok := m.kv[key]
	if !ok {
		return memEntry{}, false
	}
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		delete(m.kv, key)
		return memEntry{}, false
	}
	return e, true
}

func (m *memoryKV) Get(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok {
		return "", ErrNotFound
	}
	return e.value, nil
}

func (m *memoryKV) SetEx(key, value string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memEntry{value: value}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}
	m.kv[key] = e
}

func (m *memoryKV) Del(keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.kv, k)
		delete(m.sets, k)
	}
}

func (m *memoryKV) SAdd(key string, members ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]struct{})
		m.sets[key] = set
	}
	for _, member := range members {
		set[member] = struct{}{}
	}
}

func (m *memoryKV) SRem(key string, members ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[key]
	if !ok {
		return
	}
	for _, member := range members {
		delete(set, member)
	}
	if len(set) == 0 {
		delete(m.sets, key)
	}
}

func (m *memoryKV) SMembers(key string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.sets[key]
	members := make([]string, 0, len(set))
	for member := range set {
		members = append(members, member)
	}
	return members
}

func (m *memoryKV) SetNX(key, value string, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live(key); ok {
		return false
	}
	e := memEntry{value: value}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}
	m.kv[key] = e
	return true
}

func (m *memoryKV) CompareAndDelete(key, value string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok || e.value != value {
		return false
	}
	delete(m.kv, key)
	return true
}
