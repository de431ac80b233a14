package cycle

import (
	"sort"
	"time"
)

// DefaultWindow is the trailing duration kept for each vent's samples.
const DefaultWindow = 30 * time.Minute

// #region window
// Window returns the samples within d of the latest sample, oldest first.
// The input is not modified.
func Window(samples []Sample, d time.Duration) []Sample {
	if len(samples) == 0 {
		return nil
	}
	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].At.Before(sorted[j].At) })

	cutoff := sorted[len(sorted)-1].At.Add(-d)
	idx := sort.Search(len(sorted), func(i int) bool { return !sorted[i].At.Before(cutoff) })
	return sorted[idx:]
}

// After drops samples taken before t.
func After(samples []Sample, t time.Time) []Sample {
	out := make([]Sample, 0, len(samples))
	for _, s := range samples {
		if !s.At.Before(t) {
			out = append(out, s)
		}
	}
	return out
}

// #endregion window

// #region append
// appendSample inserts s keeping the slice ordered and unique by timestamp,
// then trims to the trailing window.
func appendSample(samples []Sample, s Sample, window time.Duration) []Sample {
	i := sort.Search(len(samples), func(i int) bool { return !samples[i].At.Before(s.At) })
	if i < len(samples) && samples[i].At.Equal(s.At) {
		samples[i] = s
	} else {
		samples = append(samples, Sample{})
		copy(samples[i+1:], samples[i:])
		samples[i] = s
	}
	if window <= 0 {
		return samples
	}
	return Window(samples, window)
}

// #endregion append
