package proctor

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultWindowCapacity is the per-channel ring size when none is configured.
const DefaultWindowCapacity = 30

// Sample is one observation pushed into a channel window.
type Sample struct {
	At    time.Time
	Flag  bool
	Value float64
}

// Ring is a fixed-capacity FIFO; pushing into a full ring evicts the oldest
// sample.
type Ring struct {
	buf   []Sample
	start int
	size  int
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultWindowCapacity
	}
	return &Ring{buf: make([]Sample, capacity)}
}

func (r *Ring) Cap() int { return len(r.buf) }
func (r *Ring) Len() int { return r.size }

// Push appends s, evicting the oldest sample when the ring is full.
func (r *Ring) Push(s Sample) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = s
		r.size++
		return
	}
	r.buf[r.start] = s
	r.start = (r.start + 1) % len(r.buf)
}

// Last returns up to n most recent samples, oldest first.
func (r *Ring) Last(n int) []Sample {
	if n > r.size {
		n = r.size
	}
	if n <= 0 {
		return nil
	}
	out := make([]Sample, n)
	offset := r.size - n
	for i := 0; i < n; i++ {
		out[i] = r.buf[(r.start+offset+i)%len(r.buf)]
	}
	return out
}

// Snapshot returns every sample in the ring, oldest first.
func (r *Ring) Snapshot() []Sample {
	return r.Last(r.size)
}

// Flagged counts flagged samples among the n most recent.
func (r *Ring) Flagged(n int) int {
	count := 0
	for _, s := range r.Last(n) {
		if s.Flag {
			count++
		}
	}
	return count
}

// TrailingFlagged counts consecutive flagged samples ending at the newest one.
func (r *Ring) TrailingFlagged() int {
	count := 0
	for i := r.size - 1; i >= 0; i-- {
		if !r.buf[(r.start+i)%len(r.buf)].Flag {
			break
		}
		count++
	}
	return count
}

// StudentHistory is the disposable smoothing cache for one session. It is
// not safe for concurrent use; the Registry serializes access.
type StudentHistory struct {
	capacity      int
	windows       map[Channel]*Ring
	lastTriggered map[ViolationType]time.Time
	lastSeen      time.Time
}

func NewStudentHistory(capacity int) *StudentHistory {
	if capacity <= 0 {
		capacity = DefaultWindowCapacity
	}
	return &StudentHistory{
		capacity:      capacity,
		windows:       make(map[Channel]*Ring),
		lastTriggered: make(map[ViolationType]time.Time),
	}
}

// Window returns the ring for ch, creating an empty one on first use.
func (h *StudentHistory) Window(ch Channel) *Ring {
	w, ok := h.windows[ch]
	if !ok {
		w = NewRing(h.capacity)
		h.windows[ch] = w
	}
	return w
}

// Update appends s to the channel window and returns the window contents.
func (h *StudentHistory) Update(ch Channel, s Sample) []Sample {
	w := h.Window(ch)
	w.Push(s)
	if s.At.After(h.lastSeen) {
		h.lastSeen = s.At
	}
	return w.Snapshot()
}

// LastTriggered returns when t was last emitted for this session.
func (h *StudentHistory) LastTriggered(t ViolationType) (time.Time, bool) {
	at, ok := h.lastTriggered[t]
	return at, ok
}

// MarkTriggered records an emission of t at the given time.
func (h *StudentHistory) MarkTriggered(t ViolationType, at time.Time) {
	if prev, ok := h.lastTriggered[t]; ok && prev.After(at) {
		return
	}
	h.lastTriggered[t] = at
}

func (h *StudentHistory) triggeredSnapshot() map[ViolationType]time.Time {
	out := make(map[ViolationType]time.Time, len(h.lastTriggered))
	for t, at := range h.lastTriggered {
		out[t] = at
	}
	return out
}

func (h *StudentHistory) restoreTriggered(prev map[ViolationType]time.Time) {
	h.lastTriggered = prev
}

// Registry owns the StudentHistory of every active session. The registry
// lock only guards the map; each session has its own mutex so sessions never
// contend with each other.
type Registry struct {
	mu       sync.Mutex
	capacity int
	sessions map[SessionKey]*sessionEntry
}

type sessionEntry struct {
	mu       sync.Mutex
	history  *StudentHistory
	touched  time.Time
	released atomic.Bool
}

func NewRegistry(capacity int) *Registry {
	return &Registry{
		capacity: capacity,
		sessions: make(map[SessionKey]*sessionEntry),
	}
}

func (r *Registry) entry(key SessionKey) *sessionEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[key]
	if !ok {
		e = &sessionEntry{history: NewStudentHistory(r.capacity)}
		r.sessions[key] = e
	}
	return e
}

func (r *Registry) setCapacity(capacity int) {
	r.mu.Lock()
	r.capacity = capacity
	r.mu.Unlock()
}

// With runs fn with exclusive access to the session's history, creating the
// history on first use. now refreshes the idle clock.
func (r *Registry) With(key SessionKey, now time.Time, fn func(h *StudentHistory)) {
	for {
		e := r.entry(key)
		e.mu.Lock()
		if e.released.Load() {
			// Released between lookup and lock; a fresh entry replaces it.
			e.mu.Unlock()
			continue
		}
		e.touched = now
		fn(e.history)
		e.mu.Unlock()
		return
	}
}

// Release disposes of the session's history. It is safe to call from inside
// With for the same key.
func (r *Registry) Release(key SessionKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[key]
	if !ok {
		return false
	}
	e.released.Store(true)
	delete(r.sessions, key)
	return true
}

// Sweep disposes of sessions idle for longer than idle. Sessions that are
// being processed right now are skipped.
func (r *Registry) Sweep(idle time.Duration, now time.Time) []SessionKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	var evicted []SessionKey
	for key, e := range r.sessions {
		if !e.mu.TryLock() {
			continue
		}
		if now.Sub(e.touched) > idle {
			e.released.Store(true)
			delete(r.sessions, key)
			evicted = append(evicted, key)
		}
		e.mu.Unlock()
	}
	return evicted
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
