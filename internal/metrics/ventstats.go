package metrics

import (
	"sort"
	"time"
)

// DefaultVentStatsWindow is the trailing window for per-vent command stats.
const DefaultVentStatsWindow = 24 * time.Hour

type adjustment struct {
	at       time.Time
	movement int
}

// VentSummary is one vent's activity over the window.
type VentSummary struct {
	Adjustments int `json:"adjustments"`
	Movement    int `json:"movement"`
}

// VentStats keeps per-vent adjustment history pruned to a trailing window.
// Owned by the control loop; readers take Summaries.
type VentStats struct {
	window time.Duration
	events map[string][]adjustment
}

// NewVentStats creates stats over the given window.
func NewVentStats(window time.Duration) *VentStats {
	if window <= 0 {
		window = DefaultVentStatsWindow
	}
	return &VentStats{window: window, events: map[string][]adjustment{}}
}

// Record adds one successful command.
func (v *VentStats) Record(ventID string, movement int, at time.Time) {
	v.events[ventID] = append(v.prune(ventID, at), adjustment{at: at, movement: movement})
}

func (v *VentStats) prune(ventID string, now time.Time) []adjustment {
	evs := v.events[ventID]
	cutoff := now.Add(-v.window)
	i := sort.Search(len(evs), func(i int) bool { return evs[i].at.After(cutoff) })
	return evs[i:]
}

// Summary returns a vent's activity within the window ending at now.
func (v *VentStats) Summary(ventID string, now time.Time) VentSummary {
	var s VentSummary
	for _, e := range v.prune(ventID, now) {
		s.Adjustments++
		s.Movement += e.movement
	}
	return s
}

// Summaries returns every vent's activity.
func (v *VentStats) Summaries(now time.Time) map[string]VentSummary {
	out := make(map[string]VentSummary, len(v.events))
	for id := range v.events {
		out[id] = v.Summary(id, now)
	}
	return out
}
