package baseline

import (
	"sort"
	"sync/atomic"
	"time"

	"rfids/internal/model"
)

// Model holds the active baseline set. Replacement swaps the whole set, so a
// reader that already obtained a baseline keeps a consistent view.
type Model struct {
	current atomic.Pointer[model.BaselineSet]
}

func NewModel(set *model.BaselineSet) *Model {
	m := &Model{}
	if set != nil {
		m.current.Store(set)
	}
	return m
}

func (m *Model) Current() *model.BaselineSet {
	return m.current.Load()
}

func (m *Model) Replace(set *model.BaselineSet) {
	m.current.Store(set)
}

func (m *Model) For(centerMHz float64) (*model.Baseline, bool) {
	set := m.current.Load()
	if set == nil {
		return nil, false
	}
	b, ok := set.Entries[centerMHz]
	return b, ok && b != nil
}

// Put returns a new set containing b for centerMHz and installs it.
func (m *Model) Put(centerMHz float64, b *model.Baseline) *model.BaselineSet {
	for {
		old := m.current.Load()
		next := &model.BaselineSet{CreatedAt: time.Now().UTC(), Entries: make(map[float64]*model.Baseline)}
		if old != nil {
			next.CreatedAt = old.CreatedAt
			for k, v := range old.Entries {
				next.Entries[k] = v
			}
		}
		next.Entries[centerMHz] = b
		if m.current.CompareAndSwap(old, next) {
			return next
		}
	}
}

func (m *Model) Missing(freqs []float64) []float64 {
	set := m.current.Load()
	out := make([]float64, 0)
	for _, f := range freqs {
		if set == nil {
			out = append(out, f)
			continue
		}
		if b, ok := set.Entries[f]; !ok || b == nil {
			out = append(out, f)
		}
	}
	return out
}

func (m *Model) Frequencies() []float64 {
	set := m.current.Load()
	if set == nil {
		return nil
	}
	out := make([]float64, 0, len(set.Entries))
	for f := range set.Entries {
		out = append(out, f)
	}
	sort.Float64s(out)
	return out
}
