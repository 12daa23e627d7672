package metrics

import (
	"sort"
	"sync"

	"rfids/internal/model"
)

// Store keeps the latest sweep summary per monitored center frequency for
// the status endpoint.
type Store struct {
	mu     sync.RWMutex
	byFreq map[float64]model.SweepSummary
	limit  int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 256
	}
	return &Store{byFreq: make(map[float64]model.SweepSummary), limit: limit}
}

func (s *Store) Update(sweep model.SweepSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byFreq[sweep.CenterFreq]; !ok && len(s.byFreq) >= s.limit {
		s.evictOldest()
	}
	s.byFreq[sweep.CenterFreq] = sweep
}

func (s *Store) Get(centerMHz float64) (model.SweepSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sweep, ok := s.byFreq[centerMHz]
	return sweep, ok
}

// GetAll returns the summaries ordered by center frequency.
func (s *Store) GetAll() []model.SweepSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.SweepSummary, 0, len(s.byFreq))
	for _, sweep := range s.byFreq {
		out = append(out, sweep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CenterFreq < out[j].CenterFreq })
	return out
}

func (s *Store) evictOldest() {
	var oldestFreq float64
	var found bool
	var oldest model.SweepSummary
	for freq, sweep := range s.byFreq {
		if !found || sweep.Timestamp.Before(oldest.Timestamp) {
			oldestFreq, oldest, found = freq, sweep, true
		}
	}
	if found {
		delete(s.byFreq, oldestFreq)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byFreq = make(map[float64]model.SweepSummary)
}
