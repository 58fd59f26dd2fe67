package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/BJohnRogers/FinalVision/internal/storage"
)

var (
	historySurface string
	historyLimit   int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded scan sessions of a surface",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().StringVarP(&historySurface, "surface", "s", "cli", "surface ID")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of sessions")
}

func runHistory(cmd *cobra.Command, args []string) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for history")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := storage.OpenSessionStore(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	records, err := store.ListRecent(ctx, historySurface, historyLimit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSESSION\tOUTCOME\tQUERY\tRESULT")
	for _, rec := range records {
		result := rec.CardURI
		if result == "" {
			result = rec.ErrorMessage
		}
		outcome := rec.Outcome
		if outcome == "" {
			outcome = rec.Stage
		}
		id := rec.ID
		if len(id) > 8 {
			id = id[:8]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%q\t%s\n",
			rec.CreatedAt.Local().Format(time.DateTime),
			id,
			outcome,
			rec.Query,
			result)
	}
	return w.Flush()
}
