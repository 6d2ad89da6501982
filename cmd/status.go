package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/sells-group/resale-arb/internal/model"
	"github.com/sells-group/resale-arb/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent profitable decisions and the last run",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("status"); err != nil {
			return err
		}
		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		limit, _ := cmd.Flags().GetInt("limit")
		minSpread, _ := cmd.Flags().GetFloat64("min-spread")
		if !cmd.Flags().Changed("min-spread") {
			minSpread = cfg.Scan.NotifyThreshold
		}

		return printStatus(cmd, st, limit, minSpread)
	},
}

func printStatus(cmd *cobra.Command, st store.Store, limit int, minSpread float64) error {
	ctx := cmd.Context()

	decisions, err := st.RecentDecisions(ctx, limit, minSpread)
	if err != nil {
		return eris.Wrap(err, "status: recent decisions")
	}
	last, err := st.LastRun(ctx)
	if err != nil {
		return eris.Wrap(err, "status: last run")
	}

	if last != nil {
		formatRunSummary(os.Stdout, *last)
	} else {
		fmt.Fprintln(os.Stderr, "No runs recorded.")
	}

	if len(decisions) == 0 {
		fmt.Fprintln(os.Stderr, "No decisions above the spread threshold.")
		return nil
	}
	formatDecisions(os.Stdout, decisions)
	return nil
}

func init() {
	statusCmd.Flags().Int("limit", store.DefaultRecentLimit, "max decisions to display")
	statusCmd.Flags().Float64("min-spread", 0, "minimum net spread in EUR (default scan.notify_threshold)")
	rootCmd.AddCommand(statusCmd)
}

// formatDecisions writes a tabular list of decisions to w.
func formatDecisions(out io.Writer, decisions []model.Decision) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTITLE\tCATEGORY\tPRICE\tBEST\tOFFER\tNET\tNOTIFY\tCREATED")
	for _, d := range decisions {
		best, offer := "-", "-"
		if d.Best != nil {
			best = string(d.Best.Provider)
			offer = money(d.Best.Offer)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
			shortID(d.ID),
			truncate(d.Candidate.Title, 40),
			d.Candidate.Category,
			d.Candidate.Price.StringFixed(2),
			best,
			offer,
			money(d.NetSpread),
			d.Notify,
			d.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatRunSummary writes a per-provider breakdown of r to w.
func formatRunSummary(out io.Writer, r model.RunReport) {
	_, _ = fmt.Fprintf(out, "Last run %s finished %s: %d candidates, %d evaluated, %d profitable, %d sink failures\n",
		shortID(r.ID), r.FinishedAt.Format("2006-01-02 15:04"), r.Candidates, r.Evaluated, r.Profitable, r.SinkFailures)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PROVIDER\tATTEMPTS\tVALID\tHARD\tTIMEOUTS\tSKIPPED")
	for _, id := range []model.ProviderID{model.ProviderMPB, model.ProviderTrendDevice, model.ProviderRebuy} {
		s, ok := r.Providers[id]
		if !ok {
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\n", id, s.Attempts, s.Valid, s.HardFailures, s.Timeouts, s.Skipped)
	}
	_ = w.Flush()
	_, _ = fmt.Fprintln(out)
}

func money(v *decimal.Decimal) string {
	if v == nil {
		return "-"
	}
	return v.StringFixed(2)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
