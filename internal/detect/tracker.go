package detect

import (
	"fmt"
	"sync"
	"time"

	"rfids/internal/model"
)

type Sighting struct {
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Status    string    `json:"status"`
}

// Tracker remembers when each anomaly or device key was first and last seen.
type Tracker struct {
	mu    sync.Mutex
	seen  map[string]*Sighting
	limit int
}

func NewTracker(limit int) *Tracker {
	if limit <= 0 {
		limit = 5000
	}
	return &Tracker{seen: make(map[string]*Sighting), limit: limit}
}

func AnomalyKey(centerMHz, freqMHz float64) string {
	return fmt.Sprintf("%g_%.3f", centerMHz, freqMHz)
}

func DeviceKey(class model.DeviceClass, centerMHz float64) string {
	return fmt.Sprintf("%s_%g", class, centerMHz)
}

func (t *Tracker) Observe(key, status string, now time.Time) Sighting {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.seen[key]
	if !ok {
		s = &Sighting{FirstSeen: now}
		if len(t.seen) >= t.limit {
			t.evictOldest()
		}
		t.seen[key] = s
	}
	s.LastSeen = now
	s.Status = status
	return *s
}

func (t *Tracker) Get(key string) (Sighting, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.seen[key]
	if !ok {
		return Sighting{}, false
	}
	return *s, true
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}

func (t *Tracker) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for k, s := range t.seen {
		if oldestKey == "" || s.LastSeen.Before(oldest) {
			oldestKey = k
			oldest = s.LastSeen
		}
	}
	if oldestKey != "" {
		delete(t.seen, oldestKey)
	}
}

func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen = make(map[string]*Sighting)
}
