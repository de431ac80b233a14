package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors exposes the engine's activity to Prometheus.
type Collectors struct {
	commands       *prometheus.CounterVec
	finalizes      *prometheus.CounterVec
	aperture       *prometheus.GaugeVec
	efficiency     *prometheus.GaugeVec
	confidence     *prometheus.GaugeVec
	running        *prometheus.GaugeVec
	strategyError  *prometheus.GaugeVec
	commandLatency prometheus.Histogram
	persistErrors  prometheus.Counter
}

// NewCollectors builds the collectors and registers them with reg.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dab_vent_commands_total",
			Help: "Vent aperture commands by result.",
		}, []string{"result"}),
		finalizes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dab_cycle_vent_outcomes_total",
			Help: "Per-vent finalize outcomes by mode and result.",
		}, []string{"mode", "result"}),
		aperture: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dab_vent_target_percent",
			Help: "Last committed target aperture per vent.",
		}, []string{"vent"}),
		efficiency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dab_vent_effective_rate",
			Help: "Effective efficiency per vent and mode.",
		}, []string{"vent", "mode"}),
		confidence: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dab_vent_regime_confidence",
			Help: "Regime confidence per vent and mode.",
		}, []string{"vent", "mode"}),
		running: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dab_circuit_running",
			Help: "1 while a circuit is heating or cooling.",
		}, []string{"circuit"}),
		strategyError: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dab_strategy_avg_temp_error",
			Help: "Average temperature error per strategy.",
		}, []string{"strategy"}),
		commandLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dab_vent_command_duration_seconds",
			Help:    "Device call latency for vent commands.",
			Buckets: prometheus.DefBuckets,
		}),
		persistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dab_persist_errors_total",
			Help: "Failed snapshot saves.",
		}),
	}

	reg.MustRegister(
		c.commands,
		c.finalizes,
		c.aperture,
		c.efficiency,
		c.confidence,
		c.running,
		c.strategyError,
		c.commandLatency,
		c.persistErrors,
	)
	return c
}

// ObserveCommand counts one device call.
func (c *Collectors) ObserveCommand(ventID string, percent int, ok bool, seconds float64) {
	if c == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	} else {
		c.aperture.WithLabelValues(ventID).Set(float64(percent))
	}
	c.commands.WithLabelValues(result).Inc()
	c.commandLatency.Observe(seconds)
}

// ObserveFinalize counts one vent's finalize outcome and its model state.
func (c *Collectors) ObserveFinalize(ventID, mode string, accepted bool, effective, confidence float64) {
	if c == nil {
		return
	}
	result := "rejected"
	if accepted {
		result = "accepted"
		c.efficiency.WithLabelValues(ventID, mode).Set(effective)
		c.confidence.WithLabelValues(ventID, mode).Set(confidence)
	}
	c.finalizes.WithLabelValues(mode, result).Inc()
}

// SetRunning flags a circuit as running or idle.
func (c *Collectors) SetRunning(circuit string, running bool) {
	if c == nil {
		return
	}
	v := 0.0
	if running {
		v = 1
	}
	c.running.WithLabelValues(circuit).Set(v)
}

// SetStrategyError publishes a strategy's average error.
func (c *Collectors) SetStrategyError(strategy string, avg float64) {
	if c == nil {
		return
	}
	c.strategyError.WithLabelValues(strategy).Set(avg)
}

// PersistFailed counts a failed save.
func (c *Collectors) PersistFailed() {
	if c == nil {
		return
	}
	c.persistErrors.Inc()
}
