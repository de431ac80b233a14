package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/ventwise/dab-controller/internal/hvac"
	"github.com/ventwise/dab-controller/internal/state"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to dab_state.db")
	last := flag.Int("last", 20, "show N most recent versions or cycle log rows")
	version := flag.String("version", "", "show single version detail")
	cycles := flag.Bool("cycles", false, "show the cycle log instead of versions")
	vent := flag.String("vent", "", "filter the cycle log to one vent")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/dab_state.db [--last N] [--version id] [--cycles [--vent id]] [--json]")
		os.Exit(2)
	}

	store, err := state.NewStore(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	switch {
	case *version != "":
		err = runDetailMode(store, *version, *jsonOut)
	case *cycles:
		err = runCycleMode(store, *vent, *last, *jsonOut)
	default:
		err = runListMode(store, *last, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region list-mode

type listRow struct {
	VersionID     string  `json:"version_id"`
	ParentID      string  `json:"parent_id,omitempty"`
	Active        bool    `json:"active"`
	Trigger       string  `json:"trigger"`
	Vents         int     `json:"vents"`
	MaxHeating    float64 `json:"max_heating_rate"`
	MaxCooling    float64 `json:"max_cooling_rate"`
	LastStrategy  string  `json:"last_strategy,omitempty"`
	AvgTempErrorC float64 `json:"avg_active_temp_error_c"`
	CreatedAt     string  `json:"created_at"`
}

func runListMode(store *state.Store, last int, jsonOut bool) error {
	versions, err := store.ListVersions(last)
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		fmt.Fprintln(os.Stderr, "no versions found")
		return nil
	}
	active, err := store.ActiveVersionID()
	if err != nil {
		return err
	}

	// Store returns DESC, reverse for chronological
	rows := make([]listRow, len(versions))
	for i, rec := range versions {
		m := rec.Snapshot.Models
		rows[len(versions)-1-i] = listRow{
			VersionID:     rec.VersionID,
			ParentID:      rec.ParentID,
			Active:        rec.VersionID == active,
			Trigger:       rec.Trigger,
			Vents:         len(m.VentRates),
			MaxHeating:    m.MaxRates[hvac.ActionHeating],
			MaxCooling:    m.MaxRates[hvac.ActionCooling],
			LastStrategy:  rec.Snapshot.Strategy.LastStrategy,
			AvgTempErrorC: rec.Snapshot.Strategy.AvgActiveTempError(),
			CreatedAt:     rec.CreatedAt.Format("2006-01-02T15:04:05Z"),
		}
	}

	if jsonOut {
		return printJSON(rows)
	}

	fmt.Printf("%-12s  %-9s  %5s  %8s  %8s  %-8s  %7s  %s\n",
		"Version", "Trigger", "Vents", "MaxHeat", "MaxCool", "Strategy", "AvgErr", "Time")
	fmt.Printf("%-12s+-%-9s+-%5s+-%8s+-%8s+-%-8s+-%7s+-%s\n",
		"------------", "---------", "-----", "--------", "--------", "--------", "-------", "--------------------")
	for _, r := range rows {
		id := shortID(r.VersionID)
		if r.Active {
			id += "*"
		}
		fmt.Printf("%-12s  %-9s  %5d  %8.4f  %8.4f  %-8s  %7.3f  %s\n",
			id, r.Trigger, r.Vents, r.MaxHeating, r.MaxCooling, r.LastStrategy, r.AvgTempErrorC, r.CreatedAt)
	}
	return nil
}

// #endregion list-mode

// #region detail-mode

type ventDetail struct {
	VentID     string             `json:"vent_id"`
	Rates      map[string]float64 `json:"rates"`
	Baseline   map[string]float64 `json:"baseline,omitempty"`
	Confidence map[string]float64 `json:"confidence,omitempty"`
	Samples    map[string]int     `json:"samples,omitempty"`
}

type detailOutput struct {
	VersionID         string             `json:"version_id"`
	ParentID          string             `json:"parent_id,omitempty"`
	Trigger           string             `json:"trigger"`
	CreatedAt         string             `json:"created_at"`
	MaxRates          map[string]float64 `json:"max_rates"`
	MaxRunningMinutes map[string]float64 `json:"max_running_minutes"`
	Vents             []ventDetail       `json:"vents"`
}

func runDetailMode(store *state.Store, versionID string, jsonOut bool) error {
	rec, err := store.GetVersion(versionID)
	if err != nil {
		return err
	}
	m := rec.Snapshot.Models

	out := detailOutput{
		VersionID:         rec.VersionID,
		ParentID:          rec.ParentID,
		Trigger:           rec.Trigger,
		CreatedAt:         rec.CreatedAt.Format("2006-01-02T15:04:05Z"),
		MaxRates:          map[string]float64{},
		MaxRunningMinutes: m.MaxRunningMinutes,
	}
	for mode, r := range m.MaxRates {
		out.MaxRates[string(mode)] = r
	}

	ids := make([]string, 0, len(m.VentRates))
	for id := range m.VentRates {
		ids = append(ids, id)
	}
	for id := range m.Efficiency {
		if _, ok := m.VentRates[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		d := ventDetail{
			VentID:     id,
			Rates:      map[string]float64{},
			Baseline:   map[string]float64{},
			Confidence: map[string]float64{},
			Samples:    map[string]int{},
		}
		for mode, r := range m.VentRates[id] {
			d.Rates[string(mode)] = r
		}
		for mode, e := range m.Efficiency[id] {
			d.Baseline[string(mode)] = e.Baseline
			d.Confidence[string(mode)] = e.Confidence
			d.Samples[string(mode)] = e.BaselineN
		}
		out.Vents = append(out.Vents, d)
	}

	if jsonOut {
		return printJSON(out)
	}

	fmt.Printf("Version:  %s\n", out.VersionID)
	if out.ParentID != "" {
		fmt.Printf("Parent:   %s\n", out.ParentID)
	}
	fmt.Printf("Trigger:  %s\n", out.Trigger)
	fmt.Printf("Created:  %s\n", out.CreatedAt)
	fmt.Printf("Max rates: heating=%.4f cooling=%.4f\n\n",
		out.MaxRates[string(hvac.ActionHeating)], out.MaxRates[string(hvac.ActionCooling)])

	fmt.Printf("%-16s  %-8s  %8s  %8s  %6s  %4s\n", "Vent", "Mode", "Rate", "Baseline", "Conf", "N")
	fmt.Printf("%-16s+-%-8s+-%8s+-%8s+-%6s+-%4s\n", "----------------", "--------", "--------", "--------", "------", "----")
	for _, d := range out.Vents {
		for _, mode := range []string{string(hvac.ActionHeating), string(hvac.ActionCooling)} {
			r, hasRate := d.Rates[mode]
			n, hasModel := d.Samples[mode]
			if !hasRate && !hasModel {
				continue
			}
			fmt.Printf("%-16s  %-8s  %8.4f  %8.4f  %6.2f  %4d\n",
				d.VentID, mode, r, d.Baseline[mode], d.Confidence[mode], n)
		}
	}
	return nil
}

// #endregion detail-mode

// #region cycle-mode

func runCycleMode(store *state.Store, ventID string, last int, jsonOut bool) error {
	rows, err := store.RecentCycleLog(ventID, last)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(os.Stderr, "no cycles logged")
		return nil
	}

	fmt.Printf("%-20s  %-10s  %-12s  %-8s  %-11s  %8s  %5s  %s\n",
		"Time", "Circuit", "Vent", "Mode", "Decision", "Eff", "Score", "Reason")
	for _, r := range rows {
		fmt.Printf("%-20s  %-10s  %-12s  %-8s  %-11s  %8.4f  %5.2f  %s\n",
			r.CreatedAt.Format("2006-01-02T15:04:05Z"), r.CircuitID, r.VentID, r.Mode,
			r.Decision, r.Efficiency, r.SoftScore, r.Reason)
	}
	return nil
}

// #endregion cycle-mode

// #region helpers

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// #endregion helpers
