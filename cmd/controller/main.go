// Package main provides the dab-controller CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ventwise/dab-controller/internal/config"
	"github.com/ventwise/dab-controller/internal/engine"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dab-controller",
		Short: "Dynamic airflow balancing for smart vents",
		Long: `dab-controller learns how quickly each vent heats or cools its room and
sets vent apertures so every room on a thermostat reaches its setpoint
at about the same time.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", os.Getenv("DAB_CONFIG"), "path to YAML config (DAB_* env vars override it)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dab-controller v%s (%s)\n", version, commit)
		},
	})
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(exportCmd(), importCmd())
	rootCmd.AddCommand(versionsCmd(), rollbackCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// #region config
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// engineConfig maps the file/env configuration onto the engine's settings.
func engineConfig(cfg config.Config) engine.Config {
	return engine.Config{
		StructureID:            cfg.StructureID,
		Enabled:                cfg.DAB.Enabled,
		ManualVents:            cfg.DAB.ManualVents,
		ForceStructureManual:   cfg.DAB.ForceStructureManual,
		PollActive:             cfg.DAB.PollActive,
		PollIdle:               cfg.DAB.PollIdle,
		FinalizeDelay:          cfg.DAB.FinalizeDelay,
		SetpointOffsetC:        cfg.DAB.SetpointOffsetC,
		PreAdjust:              cfg.DAB.PreAdjust,
		PreAdjustMarginC:       cfg.DAB.PreAdjustMarginC,
		InitialRate:            cfg.InitialRate(),
		EfficiencyChangeLogPct: cfg.DAB.EfficiencyChangeLogPct,
		Circuits:               cfg.Circuits(),
		Gate:                   cfg.GateConfig(),
		Target:                 cfg.TargetConfig(),
		Dispatch:               cfg.DispatchConfig(),
		Update:                 cfg.UpdateConfig(),
		Eval:                   cfg.EvalConfig(),
	}
}

// #endregion config
