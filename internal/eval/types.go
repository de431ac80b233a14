package eval

// #region eval-config
// EvalConfig holds the bounds a freshly updated vent model must respect.
type EvalConfig struct {
	MaxEfficiency float64 // reject if baseline or effective exceeds this
	MaxRate       float64 // drop the rate fit if it predicts more than this at full aperture (°C/min)
	MaxOffsets    int     // reject if the offset list outgrew its window
}

// DefaultEvalConfig returns bounds that only trip on corrupted models.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		MaxEfficiency: 10.0,
		MaxRate:       5.0,
		MaxOffsets:    64,
	}
}

// #endregion eval-config

// #region eval-metric
// EvalMetric captures a single validation check result.
type EvalMetric struct {
	Name  string
	Value float64
	Pass  bool
}

// #endregion eval-metric

// #region eval-result
// EvalResult is the output of post-update validation.
type EvalResult struct {
	Passed       bool
	RateRejected bool // keep the previous rate model
	Metrics      []EvalMetric
	Reason       string
}

// #endregion eval-result
