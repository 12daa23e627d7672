package alerts

import (
	"sync"
	"time"

	"rfids/internal/model"
)

const (
	DefaultAnomalyCooldown   = 300 * time.Second
	DefaultProximityCooldown = 60 * time.Second
)

// Governor rate-limits outgoing alerts. Both alert kinds share one
// last-alert timestamp; only the cooldown applied at admission differs.
type Governor struct {
	mu        sync.Mutex
	state     model.AlertState
	cooldowns map[model.AlertKind]time.Duration
}

func NewGovernor(anomalyCooldown, proximityCooldown time.Duration) *Governor {
	g := &Governor{cooldowns: make(map[model.AlertKind]time.Duration, 2)}
	g.SetCooldowns(anomalyCooldown, proximityCooldown)
	return g
}

func (g *Governor) SetCooldowns(anomalyCooldown, proximityCooldown time.Duration) {
	if anomalyCooldown <= 0 {
		anomalyCooldown = DefaultAnomalyCooldown
	}
	if proximityCooldown <= 0 {
		proximityCooldown = DefaultProximityCooldown
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cooldowns[model.KindAnomaly] = anomalyCooldown
	g.cooldowns[model.KindProximity] = proximityCooldown
}

func (g *Governor) Cooldown(kind model.AlertKind) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cooldowns[kind]
}

func (g *Governor) Admit(kind model.AlertKind, now time.Time) bool {
	return g.AdmitWithin(g.Cooldown(kind), now)
}

// AdmitWithin admits the alert unless the previous admitted alert was less
// than cooldown ago. Admission records now and increments the count.
func (g *Governor) AdmitWithin(cooldown time.Duration, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.state.LastAlertAt.IsZero() && now.Sub(g.state.LastAlertAt) < cooldown {
		return false
	}
	g.state.LastAlertAt = now
	g.state.AlertCount++
	return true
}

func (g *Governor) State() model.AlertState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Governor) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = model.AlertState{}
}
