package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrategyMetricsRecord(t *testing.T) {
	s := NewStrategyMetrics()
	s.Record(CycleOutcome{Strategy: "dab", TempError: 2, Adjustments: 4, Movement: 80, ActiveRooms: 2})
	s.Record(CycleOutcome{Strategy: "dab", TempError: 0, Adjustments: 0, Movement: 0, ActiveRooms: 0})
	s.Record(CycleOutcome{Strategy: "cost", TempError: 1, Adjustments: 2, Movement: 20, ActiveRooms: 1})

	dab := s.Entries["dab"]
	assert.Equal(t, 2, dab.Cycles)
	assert.Equal(t, 1, dab.ActiveCycles)
	assert.InDelta(t, 1.0, dab.AvgTempError, 1e-9)
	assert.InDelta(t, 2.0, dab.AvgActiveTempError, 1e-9)
	assert.InDelta(t, 2.0, dab.LastActiveTempError, 1e-9)
	assert.InDelta(t, 0.0, dab.LastTempError, 1e-9)
	assert.InDelta(t, 40.0, dab.AvgMovement, 1e-9)
	assert.InDelta(t, 1.0, dab.AvgActiveRooms, 1e-9)
	assert.Equal(t, "cost", s.LastStrategy)

	assert.InDelta(t, 1.5, s.AvgActiveTempError(), 1e-9)

	cp := s.Clone()
	cp.Entries["dab"] = Entry{}
	assert.Equal(t, 2, s.Entries["dab"].Cycles)
}

func TestStrategyMetricsEmpty(t *testing.T) {
	var s StrategyMetrics
	assert.Equal(t, 0.0, s.AvgActiveTempError())
	s.Record(CycleOutcome{})
	assert.Equal(t, 1, s.Entries["unknown"].Cycles)
}

func TestVentStatsWindow(t *testing.T) {
	now := time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)
	v := NewVentStats(24 * time.Hour)
	v.Record("v1", 30, now.Add(-30*time.Hour))
	v.Record("v1", 10, now.Add(-2*time.Hour))
	v.Record("v1", 5, now.Add(-time.Hour))

	got := v.Summary("v1", now)
	assert.Equal(t, VentSummary{Adjustments: 2, Movement: 15}, got)
	assert.Equal(t, VentSummary{}, v.Summary("v9", now))

	all := v.Summaries(now)
	require.Contains(t, all, "v1")
}

func TestCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollectors(reg)

	c.ObserveCommand("v1", 40, true, 0.01)
	c.ObserveCommand("v2", 40, false, 0.02)
	c.ObserveFinalize("v1", "heating", true, 0.3, 0.7)
	c.SetRunning("t1", true)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.commands.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.commands.WithLabelValues("error")))
	assert.Equal(t, 40.0, testutil.ToFloat64(c.aperture.WithLabelValues("v1")))
	assert.Equal(t, 0.3, testutil.ToFloat64(c.efficiency.WithLabelValues("v1", "heating")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.running.WithLabelValues("t1")))

	var nilCollectors *Collectors
	nilCollectors.ObserveCommand("v1", 1, true, 0)
}
