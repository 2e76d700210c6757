package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"endpoint-reconciler/internal/config"
	"endpoint-reconciler/internal/store"
)

// withStore opens the store for short-lived informational commands.
func withStore(ctx context.Context, fn func(ctx context.Context, st *store.Store) error) error {
	cfg := config.Load()
	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer st.Close()
	return fn(ctx, st)
}

var progressCmd = &cobra.Command{
	Use:   "progress <run-id>",
	Short: "Show a run's watermark and outcome count",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			run, err := st.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			wm, err := st.GetWatermark(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"run": run, "watermark": wm})
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats <run-id>",
	Short: "Show a run's outcome counts by status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			stats, err := st.RunStats(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"run_id": args[0], "stats": stats})
		})
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			runs, err := st.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("no runs recorded")
				return nil
			}
			for _, r := range runs {
				fmt.Printf("%-40s %-7s %-10s batches=%-5d started=%s\n",
					r.ID, r.Mode, r.State, r.BatchCount, r.StartedAt.Format(time.RFC3339))
			}
			return nil
		})
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	runsCmd.Flags().Int("limit", 20, "max runs to list")
	rootCmd.AddCommand(progressCmd, statsCmd, runsCmd)
}
