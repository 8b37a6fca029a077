package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/fleetcall/internal/core/domain"
	"github.com/vietddude/fleetcall/internal/infra/storage/postgres"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent calls recorded in the journal database",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of records to show")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	if cfg.Database.URL == "" {
		return fmt.Errorf("database.url is not set; the journal is only kept in memory")
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		_ = db.Close()
	}()

	recs, err := postgres.NewCallRepo(db).Recent(ctx, historyLimit)
	if err != nil {
		return err
	}

	writeHistory(cmd.OutOrStdout(), recs)
	return nil
}

func writeHistory(out io.Writer, recs []*domain.CallRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "STARTED\tMETHOD\tOUTCOME\tATTEMPTS\tCODE\tDURATION")
	for _, r := range recs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			r.StartedAt.Local().Format(time.DateTime),
			r.Method,
			r.Outcome,
			r.Attempts,
			r.Code,
			r.Duration.Round(time.Millisecond),
		)
	}
	_ = w.Flush()
}
