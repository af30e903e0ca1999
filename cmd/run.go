package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/civicwatch/expense-audit/internal/model"
	"github.com/civicwatch/expense-audit/internal/pipeline"
	"github.com/civicwatch/expense-audit/internal/score"
	"github.com/civicwatch/expense-audit/internal/sink"
)

var (
	runLegislature   string
	runSubjects      []string
	runRecordLimit   int
	runMonths        int
	runReferenceDate string
	runXLSXPath      string
	runQuiet         bool
	runConcurrency   int
	runSinkDriver    string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a full audit cycle",
	Long:  "Extracts expense records for every subject of the legislature, transforms and scores them, and loads rankings and statistics into the configured store. Exits non-zero when the run failed or finished with failures.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if runConcurrency > 0 {
			cfg.Upstream.Concurrency = runConcurrency
		}
		if runSinkDriver != "" {
			cfg.Sink.Driver = runSinkDriver
		}

		if err := cfg.Validate(); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		api, extractor := initUpstream(cfg.Upstream)

		params, err := score.LoadParams(cfg.Score.RulesFile)
		if err != nil {
			return err
		}
		if cfg.Score.MonthlyLimit > 0 {
			params.MonthlyLimit = cfg.Score.MonthlyLimit
		}
		tiers := score.TierThresholds{
			Suspect:  cfg.Score.TierSuspect,
			HighRisk: cfg.Score.TierHighRisk,
			Critical: cfg.Score.TierCritical,
		}
		scorer := score.NewEngine(score.SubjectRules(params), score.CounterpartyRules(params), tiers)

		loader := sink.NewLoader(st, sink.LoaderOptions{
			MaxBatchWidth:    cfg.Sink.MaxBatchWidth,
			MaxDocBytes:      cfg.Sink.MaxDocBytes,
			MaxInflight:      cfg.Sink.MaxInflight,
			FailureThreshold: cfg.Sink.FailureThreshold,
		})

		var reporter pipeline.Reporter
		if !runQuiet {
			reporter = func(p model.Progress) {
				fmt.Fprintf(os.Stderr, "[%-12s] %3.0f%% %s\n", p.State, p.Percent, p.Message)
			}
		}

		opts := pipeline.Options{
			Legislature: runLegislature,
			SubjectIDs:  runSubjects,
			RecordLimit: runRecordLimit,
			Months:      runMonths,
			XLSXPath:    runXLSXPath,
		}
		if runReferenceDate != "" {
			ref, err := time.Parse("2006-01-02", runReferenceDate)
			if err != nil {
				return eris.Wrapf(err, "parse reference date %q", runReferenceDate)
			}
			opts.ReferenceDate = ref
		}

		p := pipeline.New(cfg, api, extractor, scorer, loader, reporter)
		result, runErr := p.Run(ctx, opts)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}

		if runErr != nil {
			return eris.Wrap(runErr, "audit run")
		}
		if result.Failures > 0 {
			zap.L().Warn("run finished with failures",
				zap.Int("failures", result.Failures),
				zap.Int("subject_failures", len(result.SubjectFailures)),
			)
			return eris.Errorf("run %s finished with %d failures", result.RunID, result.Failures)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runLegislature, "legislature", "", "legislature to audit (default: upstream's current)")
	runCmd.Flags().StringSliceVar(&runSubjects, "subject", nil, "restrict the run to these subject ids (repeatable)")
	runCmd.Flags().IntVar(&runRecordLimit, "record-limit", 0, "cap records per subject, 0 for no cap")
	runCmd.Flags().IntVar(&runMonths, "months", 0, "incremental window in months, 0 for a full walk")
	runCmd.Flags().StringVar(&runReferenceDate, "reference-date", "", "anchor date for the incremental window (YYYY-MM-DD, default today)")
	runCmd.Flags().StringVar(&runXLSXPath, "xlsx", "", "also write a spreadsheet snapshot of rankings and statistics to this path")
	runCmd.Flags().BoolVar(&runQuiet, "quiet", false, "suppress progress output")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "override the configured extraction batch width")
	runCmd.Flags().StringVar(&runSinkDriver, "sink", "", "override the configured sink driver (sqlite or postgres)")
	rootCmd.AddCommand(runCmd)
}
