package services

import (
	"time"

	"github.com/deskops/snowsync/internal/models"
)

// RefreshPriority ranks how urgently a stale ticket should be refreshed
type RefreshPriority string

const (
	PriorityHigh   RefreshPriority = "high"
	PriorityMedium RefreshPriority = "medium"
	PriorityLow    RefreshPriority = "low"
)

// Cache TTLs by ticket bucket
const (
	ttlTerminal = time.Hour
	ttlCritical = time.Minute
	ttlUrgent   = 2 * time.Minute
	ttlDefault  = 5 * time.Minute
)

// FreshnessPolicy computes cache time-to-live and refresh priority for a
// ticket from its state and priority. Pure functions, no stored state.
//
// Note the deliberate asymmetry: TTL checks the terminal state before
// priority, RefreshPriority checks priority before the terminal state.
// A closed priority-1 ticket therefore gets the 1-hour TTL but the high
// refresh priority. Keep both orderings as they are.
type FreshnessPolicy struct{}

// NewFreshnessPolicy creates a freshness policy
func NewFreshnessPolicy() *FreshnessPolicy {
	return &FreshnessPolicy{}
}

// TTL returns how long a cached copy of the ticket stays fresh
func (p *FreshnessPolicy) TTL(t *models.Ticket) time.Duration {
	if t.State.IsTerminal() {
		return ttlTerminal
	}
	switch t.Priority {
	case 1:
		return ttlCritical
	case 2:
		return ttlUrgent
	default:
		return ttlDefault
	}
}

// ShouldRefresh reports whether the cached copy has outlived its TTL
func (p *FreshnessPolicy) ShouldRefresh(t *models.Ticket, now time.Time) bool {
	return now.Sub(t.UpdatedAt) > p.TTL(t)
}

// RefreshPriority ranks the ticket for background refresh ordering
func (p *FreshnessPolicy) RefreshPriority(t *models.Ticket) RefreshPriority {
	switch t.Priority {
	case 1:
		return PriorityHigh
	case 2:
		return PriorityMedium
	}
	if t.State.IsTerminal() {
		return PriorityLow
	}
	return PriorityMedium
}
