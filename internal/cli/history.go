// history.go implements "amlburn history": list recent run records.
package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/amlburn/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent burn runs",
	RunE:  runHistory,
}

var (
	historyDBFlag    string
	historyLimitFlag int
)

func init() {
	historyCmd.Flags().StringVar(&historyDBFlag, "db", "", "History database path (overrides config)")
	historyCmd.Flags().IntVar(&historyLimitFlag, "limit", 20, "Maximum number of runs to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if historyDBFlag != "" {
		cfg.HistoryDB = historyDBFlag
	}

	ctx := context.Background()
	store, err := history.Open(ctx, cfg.HistoryDB)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.ListRecent(ctx, historyLimitFlag)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no runs recorded yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tOUTCOME\tSTATE\tDEVICE\tIMAGE\tDURATION\tRUN ID")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Outcome, r.FinalState, r.Device, r.Image,
			r.Duration.Round(time.Second), shortID(r.ID))
	}
	return w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
