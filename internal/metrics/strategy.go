package metrics

// #region types
// CycleOutcome is what one finished cycle contributes to strategy metrics.
type CycleOutcome struct {
	Strategy    string
	TempError   float64
	Adjustments int
	Movement    int
	ActiveRooms int
}

// Entry is the accumulated effectiveness of one strategy. Averages are
// cumulative means; active_temp_error only counts cycles with active rooms.
type Entry struct {
	Cycles              int     `json:"cycles"`
	ActiveCycles        int     `json:"active_cycles"`
	AvgTempError        float64 `json:"avg_temp_error"`
	LastTempError       float64 `json:"last_temp_error"`
	AvgActiveTempError  float64 `json:"avg_active_temp_error"`
	LastActiveTempError float64 `json:"last_active_temp_error"`
	AvgAdjustments      float64 `json:"avg_adjustments"`
	LastAdjustments     float64 `json:"last_adjustments"`
	AvgMovement         float64 `json:"avg_movement"`
	LastMovement        float64 `json:"last_movement"`
	AvgActiveRooms      float64 `json:"avg_active_rooms"`
	LastActiveRooms     float64 `json:"last_active_rooms"`
}

// StrategyMetrics is keyed by strategy name and persisted with the models.
type StrategyMetrics struct {
	Entries      map[string]Entry `json:"entries"`
	LastStrategy string           `json:"last_strategy"`
}

// #endregion types

// NewStrategyMetrics returns an empty set.
func NewStrategyMetrics() *StrategyMetrics {
	return &StrategyMetrics{Entries: map[string]Entry{}}
}

// #region record
// Record folds one cycle into its strategy's entry.
func (s *StrategyMetrics) Record(c CycleOutcome) {
	if s.Entries == nil {
		s.Entries = map[string]Entry{}
	}
	name := c.Strategy
	if name == "" {
		name = "unknown"
	}
	e := s.Entries[name]

	e.Cycles++
	n := float64(e.Cycles)
	e.AvgTempError = fold(e.AvgTempError, c.TempError, n)
	e.LastTempError = c.TempError
	e.AvgAdjustments = fold(e.AvgAdjustments, float64(c.Adjustments), n)
	e.LastAdjustments = float64(c.Adjustments)
	e.AvgMovement = fold(e.AvgMovement, float64(c.Movement), n)
	e.LastMovement = float64(c.Movement)
	e.AvgActiveRooms = fold(e.AvgActiveRooms, float64(c.ActiveRooms), n)
	e.LastActiveRooms = float64(c.ActiveRooms)

	if c.ActiveRooms > 0 {
		e.ActiveCycles++
		e.AvgActiveTempError = fold(e.AvgActiveTempError, c.TempError, float64(e.ActiveCycles))
		e.LastActiveTempError = c.TempError
	}

	s.Entries[name] = e
	s.LastStrategy = name
}

func fold(avg, x, n float64) float64 {
	return avg + (x-avg)/n
}

// #endregion record

// #region queries
// AvgActiveTempError is the cycle-weighted mean error over all strategies'
// active cycles, or 0 before any active cycle.
func (s *StrategyMetrics) AvgActiveTempError() float64 {
	var sum float64
	var n int
	for _, e := range s.Entries {
		sum += e.AvgActiveTempError * float64(e.ActiveCycles)
		n += e.ActiveCycles
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Clone returns a copy safe to hand to readers.
func (s *StrategyMetrics) Clone() *StrategyMetrics {
	out := &StrategyMetrics{Entries: make(map[string]Entry, len(s.Entries)), LastStrategy: s.LastStrategy}
	for k, v := range s.Entries {
		out.Entries[k] = v
	}
	return out
}

// #endregion queries
