package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/resale-arb/internal/ingest"
	"github.com/sells-group/resale-arb/internal/orchestrator"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Evaluate a candidate file against the buy-back providers",
	Long:  "Loads candidates from a JSON or XLSX file, selects the most promising within the budget, quotes them, and prints decisions with the run report.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		input, _ := cmd.Flags().GetString("input")
		budget, _ := cmd.Flags().GetInt("budget")
		maxParallel, _ := cmd.Flags().GetInt("max-parallel")
		profile, _ := cmd.Flags().GetString("profile")
		format, _ := cmd.Flags().GetString("format")

		if budget < 0 {
			budget = cfg.Scan.Budget
		}
		if maxParallel > 0 {
			cfg.Scan.MaxParallel = maxParallel
		}

		candidates, err := ingest.LoadFile(ctx, input)
		if err != nil {
			return eris.Wrap(err, "scan: load input")
		}

		env, err := initScanEnv(ctx, cfg, "scan", profile)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Orchestrator.Scan(ctx, candidates, budget)
		if res == nil {
			return eris.Wrap(err, "scan")
		}
		if err != nil {
			zap.L().Warn("scan interrupted, printing partial result", zap.Error(err))
		}

		if werr := writeResult(os.Stdout, format, res); werr != nil {
			return werr
		}
		return err
	},
}

// writeResult prints res as indented JSON or as a decision table.
func writeResult(out io.Writer, format string, res *orchestrator.Result) error {
	switch format {
	case "json", "":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	case "table":
		formatDecisions(out, res.Decisions)
		r := res.Report
		_, _ = fmt.Fprintf(out, "\nrun %s: %d candidates, %d groups, %d profitable, %d timeouts, %d sink failures\n",
			shortID(r.ID), r.Candidates, r.Groups, r.Profitable, r.Timeouts, r.SinkFailures)
		if len(r.DisabledProviders) > 0 {
			_, _ = fmt.Fprintf(out, "disabled providers: %v\n", r.DisabledProviders)
		}
		if r.Excluded > 0 {
			_, _ = fmt.Fprintf(out, "excluded: %d recent non-profitable listings\n", r.Excluded)
		}
		if c := r.Coverage; c != nil {
			_, _ = fmt.Fprintf(out, "coverage: %d/%d complete, %d incomplete, %d refill rounds\n",
				c.Accepted, c.Target, c.Rejected, c.RefillRounds)
		}
		return nil
	default:
		return eris.Errorf("scan: unknown format %q (json, table)", format)
	}
}

func init() {
	scanCmd.Flags().String("input", "", "candidate file (.json or .xlsx)")
	scanCmd.Flags().Int("budget", -1, "max candidates to evaluate, 0 for all (default from config)")
	scanCmd.Flags().Int("max-parallel", 0, "concurrent groups (default from config)")
	scanCmd.Flags().String("profile", "", "strategy profile (default from config)")
	scanCmd.Flags().String("format", "json", "output format: json or table")
	_ = scanCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(scanCmd)
}
