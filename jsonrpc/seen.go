package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// ErrDuplicateID is returned by [*SeenIDWindow.Observe] for an id that was
// already used on the connection within the cooldown.
var ErrDuplicateID = errors.New("jsonrpc: duplicate request id")

// SeenIDWindow remembers the non-null request ids used on one connection
// for a cooldown period. Expired ids are dropped lazily on each
// observation. When the window is full the oldest id is dropped early.
//
// It is safe for concurrent use.
type SeenIDWindow struct {
	mu       sync.Mutex
	cooldown time.Duration
	capacity int
	now      func() time.Time
	seen     map[string]time.Time
	order    []seenEntry
}

type seenEntry struct {
	key string
	at  time.Time
}

// NewSeenIDWindow creates a window. A capacity of zero or less is
// unbounded; a nil now uses [time.Now].
func NewSeenIDWindow(cooldown time.Duration, capacity int, now func() time.Time) *SeenIDWindow {
	if now == nil {
		now = time.Now
	}
	return &SeenIDWindow{
		cooldown: cooldown,
		capacity: capacity,
		now:      now,
		seen:     make(map[string]time.Time),
	}
}

// Observe records id and returns [ErrDuplicateID] if it is still within
// the cooldown. Null and absent ids are never tracked. Ids are compared by
// their JSON text.
func (w *SeenIDWindow) Observe(id json.RawMessage) error {
	key := string(bytes.TrimSpace(id))
	if key == "" || key == "null" || w.cooldown <= 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	w.evictExpired(now)
	if at, ok := w.seen[key]; ok && now.Sub(at) < w.cooldown {
		return ErrDuplicateID
	}
	if w.capacity > 0 && len(w.seen) >= w.capacity {
		w.evictOldest()
	}
	w.seen[key] = now
	w.order = append(w.order, seenEntry{key: key, at: now})
	return nil
}

// Len returns the number of ids currently tracked.
func (w *SeenIDWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

func (w *SeenIDWindow) evictExpired(now time.Time) {
	n := 0
	for n < len(w.order) && now.Sub(w.order[n].at) >= w.cooldown {
		w.forget(w.order[n])
		n++
	}
	w.order = w.order[n:]
}

func (w *SeenIDWindow) evictOldest() {
	for len(w.order) > 0 {
		e := w.order[0]
		w.order = w.order[1:]
		if w.forget(e) {
			return
		}
	}
}

// forget removes e unless its key was recorded again later.
func (w *SeenIDWindow) forget(e seenEntry) bool {
	if at, ok := w.seen[e.key]; ok && at.Equal(e.at) {
		delete(w.seen, e.key)
		return true
	}
	return false
}
