package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/ventwise/dab-controller/internal/hvac"
	"github.com/ventwise/dab-controller/internal/replay"
	"github.com/ventwise/dab-controller/internal/state"
)

// #region main

func main() {
	fixturePath := flag.String("fixture", "", "path to fixture JSON")
	dbPath := flag.String("db", "", "start from the active snapshot in this dab_state.db instead of the fixture's start_models")
	flag.Parse()

	if *fixturePath == "" {
		fmt.Fprintln(os.Stderr, "usage: replay --fixture path/to/fixture.json [--db path/to/dab_state.db]")
		os.Exit(2)
	}
	os.Exit(runFixtureMode(*fixturePath, *dbPath))
}

// #endregion main

// #region fixture-mode

func runFixtureMode(path, dbPath string) int {
	f, err := replay.LoadFixture(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load fixture: %v\n", err)
		return 2
	}

	start := f.StartModels
	if dbPath != "" {
		store, err := state.NewStore(dbPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open db: %v\n", err)
			return 2
		}
		snap, err := store.Load()
		store.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "load snapshot: %v\n", err)
			return 2
		}
		if snap != nil {
			start = snap.Models
		}
	}

	results, final := replay.Replay(start, f.ToCycles(), f.Config.ToReplayConfig())

	expected := make([]string, len(f.ExpectedResults))
	for i, e := range f.ExpectedResults {
		expected[i] = e.Action
	}

	code := printComparison(results, expected)
	printSummary(replay.Summarize(results, final))
	return code
}

// #endregion fixture-mode

// #region output

// printComparison outputs a comparison table and returns exit code. Cycles
// with no expected action are shown but not counted.
func printComparison(results []replay.ReplayResult, expected []string) int {
	fmt.Printf("%-10s| %-10s| %-8s| %-14s| %-14s| %-10s| %s\n",
		"Cycle", "Vent", "Mode", "Expected", "Replayed", "Rate", "Match")
	fmt.Printf("%-10s+%-11s+%-9s+%-15s+%-15s+%-11s+%s\n",
		"----------", "-----------", "---------", "---------------", "---------------", "-----------", "------")

	matches, total := 0, 0
	for i, r := range results {
		exp := "-"
		match := ""
		if i < len(expected) {
			exp = expected[i]
			total++
			if exp == r.Action {
				match = "OK"
				matches++
			} else {
				match = "DIFF"
			}
		}
		fmt.Printf("%-10s| %-10s| %-8s| %-14s| %-14s| %-10.4f| %s\n",
			r.CycleID, r.VentID, r.Mode, exp, r.Action, r.EffectiveRate, match)
		if match == "DIFF" {
			fmt.Printf("%10s  reason: %s\n", "", r.Reason)
		}
	}

	diverge := total - matches
	fmt.Printf("\nSummary: %d total, %d match, %d diverge\n", total, matches, diverge)
	if diverge > 0 {
		return 1
	}
	return 0
}

func printSummary(s replay.ReplaySummary) {
	fmt.Printf("Actions: %d commit, %d gate_reject, %d eval_rollback, %d no_op\n",
		s.Commits, s.GateRejects, s.EvalRollbacks, s.NoOps)
	if s.FinalModels == nil {
		return
	}
	vents := make([]string, 0, len(s.FinalModels.VentRates))
	for id := range s.FinalModels.VentRates {
		vents = append(vents, id)
	}
	sort.Strings(vents)
	for _, id := range vents {
		for _, mode := range []hvac.Action{hvac.ActionHeating, hvac.ActionCooling} {
			if rate, ok := s.FinalModels.VentRates[id][mode]; ok {
				fmt.Printf("  %s %s: %.4f\n", id, mode, rate)
			}
		}
	}
}

// #endregion output
