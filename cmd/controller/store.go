package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ventwise/dab-controller/internal/config"
	"github.com/ventwise/dab-controller/internal/exchange"
	"github.com/ventwise/dab-controller/internal/state"
)

// The commands in this file work on the store directly and must not run
// against a database a live controller is writing to.

func openStore(cmd *cobra.Command) (config.Config, *state.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return config.Config{}, nil, err
	}
	store, err := state.NewStore(cfg.DBPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("open store: %w", err)
	}
	return cfg, store, nil
}

func loadSnapshot(store *state.Store) (state.Snapshot, error) {
	snap, err := store.Load()
	if err != nil {
		return state.Snapshot{}, err
	}
	if snap == nil {
		snap = &state.Snapshot{}
	}
	snap.Normalize()
	return *snap, nil
}

// #region export-import
func exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Write learned vent efficiencies as JSON (stdout when no file is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			snap, err := loadSnapshot(store)
			if err != nil {
				return err
			}
			p := exchange.Build(cfg.StructureID, snap.Models, configuredRefs(cfg, snap), time.Now().UTC())
			if len(args) == 1 {
				return exchange.WriteFile(args[0], p)
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(p)
		},
	}
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Apply an efficiency export to the stored models",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			p, err := exchange.ReadFile(args[0])
			if err != nil {
				return err
			}
			snap, err := loadSnapshot(store)
			if err != nil {
				return err
			}
			res, err := exchange.Apply(snap.Models, p, configuredRefs(cfg, snap))
			if err != nil {
				return err
			}
			snap.Trigger = "import"
			rec, err := store.SaveVersion(snap)
			if err != nil {
				return fmt.Errorf("save imported models: %w", err)
			}
			fmt.Printf("imported %d of %d entries (%d unmatched) as version %s\n",
				res.Applied, res.Entries, res.Unmatched, rec.VersionID)
			for _, key := range res.Skipped {
				fmt.Printf("  skipped %s\n", key)
			}
			return nil
		},
	}
}

// configuredRefs lists the configured vents plus any only known from models.
// Without a live fleet there are no room names, so only ventId matches.
func configuredRefs(cfg config.Config, snap state.Snapshot) []exchange.VentRef {
	refs := exchange.RefsFromModels(snap.Models)
	seen := map[string]bool{}
	for _, r := range refs {
		seen[r.VentID] = true
	}
	for _, c := range cfg.Circuits() {
		for _, v := range c.VentIDs {
			if !seen[v] {
				seen[v] = true
				refs = append(refs, exchange.VentRef{VentID: v})
			}
		}
	}
	return refs
}

// #endregion export-import

// #region versions
func versionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "List stored snapshot versions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			last, _ := cmd.Flags().GetInt("last")
			recs, err := store.ListVersions(last)
			if err != nil {
				return err
			}
			active, err := store.ActiveVersionID()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "VERSION\tTRIGGER\tVENTS\tCREATED\t")
			for _, r := range recs {
				marker := ""
				if r.VersionID == active {
					marker = "*"
				}
				fmt.Fprintf(tw, "%s%s\t%s\t%d\t%s\t\n",
					r.VersionID, marker, r.Trigger, len(r.Snapshot.Models.VentRates),
					r.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Int("last", 20, "number of versions to show")
	return cmd
}

func rollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <version-id>",
		Short: "Make a previous snapshot version active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Rollback(args[0]); err != nil {
				return err
			}
			fmt.Printf("active version is now %s\n", args[0])
			return nil
		},
	}
}

// #endregion versions
