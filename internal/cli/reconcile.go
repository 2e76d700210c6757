package cli

import (
	"github.com/spf13/cobra"

	"endpoint-reconciler/internal/models"
)

// runFlags are the per-invocation overrides shared by reconcile and delete.
type runFlags struct {
	table       string
	idColumn    string
	arnColumn   string
	chunkSize   int
	batchSize   int
	concurrency int
	limit       int64
	resumeRunID string
	dryRun      bool
}

func bindRunFlags(cmd *cobra.Command, f *runFlags) {
	cmd.Flags().StringVar(&f.table, "table", "", "source table holding endpoint rows (default from SOURCE_TABLE)")
	cmd.Flags().StringVar(&f.idColumn, "id-column", "", "ordinal column of the source table")
	cmd.Flags().StringVar(&f.arnColumn, "arn-column", "", "endpoint ARN column of the source table")
	cmd.Flags().IntVar(&f.chunkSize, "chunk-size", 0, "records fetched per chunk")
	cmd.Flags().IntVar(&f.batchSize, "batch-size", 0, "records processed and persisted per batch")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 0, "max concurrent remote calls within a batch")
	cmd.Flags().Int64Var(&f.limit, "limit", 0, "stop after this many records (0 = run to exhaustion)")
	cmd.Flags().StringVar(&f.resumeRunID, "resume", "", "resume a prior run by id instead of starting fresh")
}

var reconcileCmd = func() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Check every endpoint's remote status and record the outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(cmd.Context(), models.ModeCheck, flags)
		},
	}
	bindRunFlags(cmd, &flags)
	return cmd
}()

var deleteCmd = func() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete every endpoint remotely, recording outcomes; absent endpoints count as already deleted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(cmd.Context(), models.ModeDelete, flags)
		},
	}
	bindRunFlags(cmd, &flags)
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "report what would be deleted without deleting")
	return cmd
}()

func init() {
	rootCmd.AddCommand(reconcileCmd, deleteCmd)
}
