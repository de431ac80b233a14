package target

import (
	"math"
	"sort"
	"time"

	"github.com/ventwise/dab-controller/internal/hvac"
)

// #region calculate
// Calculate computes a target for every vent on one circuit, decides per vent
// whether the target clears hysteresis, then applies the conventional-vent
// floor to the apertures that result. It never touches devices.
func Calculate(in Input, cfg Config) Result {
	res := Result{Strategy: cfg.Strategy, Targets: make([]VentTarget, 0, len(in.Vents))}

	rooms := map[string]bool{}
	var errSum float64
	var errN int

	for _, v := range in.Vents {
		vt := VentTarget{VentID: v.VentID, Strategy: cfg.Strategy}

		if v.TempC != nil {
			vt.TempError, vt.HasError = hvac.TempError(in.Action, *v.TempC, in.SetpointC)
		}

		switch {
		case !v.Active && cfg.CloseInactiveRooms:
			vt.Raw = float64(cfg.ClosedTarget)
			vt.Target = roundTo(vt.Raw, cfg.Granularity)
			vt.Reason = "inactive"
		case !v.Active:
			vt.Target = holdValue(v)
			vt.Raw = float64(vt.Target)
			vt.Reason = "inactive_hold"
		case !vt.HasError:
			vt.Target = holdValue(v)
			vt.Raw = float64(vt.Target)
			vt.Reason = "no_temperature"
		default:
			rooms[v.RoomID] = true
			errSum += vt.TempError
			errN++
			vt.Raw, vt.Strategy = cfg.Strategy.compute(v, vt.TempError, in, cfg)
			vt.Target = roundTo(vt.Raw, cfg.Granularity)
		}
		res.Targets = append(res.Targets, vt)
	}

	res.ActiveRooms = len(rooms)
	if errN > 0 {
		res.MeanTempError = errSum / float64(errN)
	}

	for i := range res.Targets {
		vt := &res.Targets[i]
		v := in.Vents[i]
		if vt.Reason == "inactive_hold" || vt.Reason == "no_temperature" {
			continue
		}
		commit, reason := ShouldCommit(vt.Target, v.LastCommanded, v.LastCommandedAt, v.Aperture, in.Now, vt.TempError, vt.HasError, cfg)
		vt.Commit = commit
		if vt.Reason == "" || commit {
			vt.Reason = reason
		}
	}

	res.FloorApplied = applyFloor(res.Targets, in, cfg)
	return res
}

func holdValue(v VentInput) int {
	switch {
	case v.LastCommanded != nil:
		return *v.LastCommanded
	case v.Aperture != nil:
		return *v.Aperture
	}
	return 0
}

// #endregion calculate

// #region floor
// applyFloor raises effective apertures until the circuit's smart vents
// provide at least the open area of its conventional vents. A vent's
// effective aperture is its target when it commits and its held value
// otherwise. Raised vents always commit: hysteresis may not hold the floor
// back. Active rooms with the largest error are raised first. Reports whether
// any target changed.
func applyFloor(targets []VentTarget, in Input, cfg Config) bool {
	if in.ConventionalVents <= 0 || len(targets) == 0 {
		return false
	}
	required := float64(in.ConventionalVents) * cfg.ConventionalOpenPct
	if ceiling := 100 * float64(len(targets)); required > ceiling {
		required = ceiling
	}

	effective := make([]int, len(targets))
	var total float64
	for i, t := range targets {
		effective[i] = t.Target
		if !t.Commit {
			effective[i] = holdValue(in.Vents[i])
		}
		total += float64(effective[i])
	}
	if total >= required {
		return false
	}

	order := make([]int, len(targets))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ta, tb := targets[order[a]], targets[order[b]]
		pa, pb := floorPriority(ta, in.Vents[order[a]]), floorPriority(tb, in.Vents[order[b]])
		if pa != pb {
			return pa < pb
		}
		if ta.TempError != tb.TempError {
			return ta.TempError > tb.TempError
		}
		return ta.VentID < tb.VentID
	})

	deficit := required - total
	step := cfg.Granularity
	if step <= 0 {
		step = 1
	}
	for _, i := range order {
		if deficit <= 0 {
			break
		}
		t := &targets[i]
		room := 100 - effective[i]
		if room <= 0 {
			continue
		}
		add := int(math.Ceil(math.Min(deficit, float64(room))/float64(step))) * step
		if effective[i]+add > 100 {
			add = 100 - effective[i]
		}
		t.Target = effective[i] + add
		t.Raw = float64(t.Target)
		t.Floor = true
		t.Commit = true
		t.Reason = "airflow_floor"
		deficit -= float64(add)
	}
	return true
}

// floorPriority orders active vents with a known error first, then other
// active vents, then inactive ones.
func floorPriority(t VentTarget, v VentInput) int {
	switch {
	case v.Active && t.HasError:
		return 0
	case v.Active:
		return 1
	}
	return 2
}

// #endregion floor

// #region hysteresis
// ShouldCommit decides whether target is worth sending. A vent never
// commanded before commits whenever target differs from what it reports.
// Otherwise the change must reach MinAdjustPercent and the last command must
// be at least MinAdjustInterval old, unless the temperature error reaches
// TempErrorOverrideC.
func ShouldCommit(target int, last *int, lastAt time.Time, reported *int, now time.Time, tempErr float64, hasErr bool, cfg Config) (bool, string) {
	if last == nil {
		if reported != nil && *reported == target {
			return false, "unchanged"
		}
		return true, "initial"
	}
	diff := target - *last
	if diff < 0 {
		diff = -diff
	}
	if diff == 0 {
		return false, "unchanged"
	}
	if hasErr && cfg.TempErrorOverrideC > 0 && math.Abs(tempErr) >= cfg.TempErrorOverrideC {
		return true, "override"
	}
	if diff >= cfg.MinAdjustPercent && now.Sub(lastAt) >= cfg.MinAdjustInterval {
		return true, "adjust"
	}
	return false, "hysteresis"
}

// #endregion hysteresis

// #region rounding
// roundTo snaps p to the nearest multiple of step within 0-100.
func roundTo(p float64, step int) int {
	p = clampPct(p)
	if step <= 1 {
		return int(math.Round(p))
	}
	r := int(math.Round(p/float64(step))) * step
	if r > 100 {
		r = 100
	}
	return r
}

// #endregion rounding
