package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"punchsync/config"
	"punchsync/formsession"
	"punchsync/internal/timeutil"
	"punchsync/mapping"
	"punchsync/output"
	"punchsync/reconcile"
	"punchsync/timerec"
	"punchsync/worklog"
)

const (
	lunchAuto = "auto"
	lunchOn   = "on"
	lunchOff  = "off"
)

var (
	reportBackend   string
	reportDryRun    bool
	reportNoDL      bool
	reportLunch     string
	reportKeepGoing bool
	reportOutput    string
	reportTimeout   time.Duration
)

var reportCmd = &cobra.Command{
	Use:   "report <range>",
	Short: "Report punch-clock time to a timesheet system.",
	Long: `Read punch-clock entries for a date range, translate their accounts through the
mapping table and report them day by day to one timesheet system.

Range formats:
- YYMMDD-YYMMDD  inclusive range
- YYMM           full month
- YYMMDD         single day

Every day is reconciled before the first one is submitted, so a missing mapping
stops the run without touching the timesheet. Days are then submitted in one
session; the first failing day stops the run unless --keep-going is set.

Lunch handling (--lunch):
- auto: follow insert_lunch of the backend config
- on:   insert a lunch break between 10:30 and 14:00 when the day has none
- off:  never insert lunch`,
	Example: `
  # Preview March 2026 for FlexHRM without submitting
  punchsync report 2603 --backend flexhrm --dry-run

  # Submit one week to Millnet with lunch breaks, using the current snapshot
  punchsync report 260302-260306 --backend millnet --lunch on --no-dl

  # Submit a month and keep the reconciled rows as a spreadsheet
  punchsync report 2602 --backend xledger --output february.xlsx
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		begin, end, err := timeutil.ParseRange(args[0])
		if err != nil {
			return err
		}
		backendCfg, err := cfg.Backend(reportBackend)
		if err != nil {
			return err
		}
		insertLunch, err := resolveLunch(reportLunch, backendCfg.InsertLunch)
		if err != nil {
			return err
		}

		ctx, cancel := withTimeout(cmd.Context(), reportTimeout)
		defer cancel()

		if !reportNoDL {
			if cfg.TimeRec.GoogleFileID == "" {
				log.Infof("%s is not set, using the existing snapshot", config.KeyTimeRecGoogleFileID)
			} else if _, err := fetchSnapshot(ctx, cfg); err != nil {
				return err
			}
		}

		store, err := openSnapshot(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		mappingPath, err := configuredPath(config.KeyMappingFile, cfg.MappingFile)
		if err != nil {
			return err
		}
		table, err := mapping.LoadFile(mappingPath)
		if err != nil {
			return err
		}

		backend, err := newBackend(cfg, reportBackend)
		if err != nil {
			return err
		}

		_, err = runReport(ctx, reportRun{
			Source:    store,
			Table:     table,
			Backend:   backend,
			Days:      timeutil.Days(begin, end),
			Options:   reconcileOptions(cfg, backend.Name(), insertLunch),
			DryRun:    reportDryRun,
			KeepGoing: reportKeepGoing,
			Output:    reportOutput,
		}, os.Stdout)
		return err
	},
}

func resolveLunch(mode string, configured bool) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case lunchAuto, "":
		return configured, nil
	case lunchOn:
		return true, nil
	case lunchOff:
		return false, nil
	default:
		return false, fmt.Errorf("invalid --lunch %q (valid: %s, %s, %s)", mode, lunchAuto, lunchOn, lunchOff)
	}
}

func reconcileOptions(cfg *config.Config, backend string, insertLunch bool) reconcile.Options {
	return reconcile.Options{
		From:             worklog.SystemTimeRec,
		To:               backend,
		InsertLunch:      insertLunch,
		LunchMinDuration: cfg.Lunch.MinDuration,
		LunchAccount:     worklog.NewAccountKey(cfg.Lunch.Account...),
		LunchWindow:      reconcile.LunchWindow,
	}
}

// openSnapshot opens the punch-clock database. A missing file is an error
// here since sqlite would otherwise create an empty one.
func openSnapshot(cfg *config.Config) (*timerec.Store, error) {
	path, err := configuredPath(config.KeyTimeRecDatabase, cfg.TimeRec.Database)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("punch-clock snapshot %s not found; run: punchsync fetch", path)
	}
	return timerec.Open(path)
}

type reportRun struct {
	Source    reconcile.Source
	Table     *mapping.Table
	Backend   formsession.Backend
	Days      []time.Time
	Options   reconcile.Options
	DryRun    bool
	KeepGoing bool
	Output    string
}

type reportResult struct {
	Results   []reconcile.Result
	Submitted int
	Failed    int
}

// runReport reconciles every day of run, prints them, optionally writes
// them to a file and submits them unless it is a dry run.
func runReport(ctx context.Context, run reportRun, out io.Writer) (reportResult, error) {
	name := run.Backend.Name()
	if !run.Table.HasSystem(worklog.SystemTimeRec) {
		return reportResult{}, fmt.Errorf("mapping table has no %s columns", worklog.SystemTimeRec)
	}
	if !run.Table.HasSystem(name) {
		return reportResult{}, fmt.Errorf("mapping table has no %s columns (systems: %s)", name, strings.Join(run.Table.Systems(), ", "))
	}

	results, err := reconcile.Collect(ctx, run.Source, run.Table, run.Days, run.Options)
	if err != nil {
		return reportResult{}, err
	}
	report := reportResult{Results: results}

	days := make([]worklog.Day, 0, len(results))
	dropped := 0
	for _, result := range results {
		days = append(days, result.Day)
		dropped += result.Dropped
		if result.Lunch != nil {
			log.WithFields(log.Fields{
				"date":  result.Date.Format("2006-01-02"),
				"lunch": result.Lunch.Begin.Format("15:04") + "-" + result.Lunch.End.Format("15:04"),
			}).Debug("lunch inserted")
		}
	}

	rows := output.BuildDayRows(days, run.Backend.Mode())
	if err := output.Print(out, rows); err != nil {
		return report, err
	}
	fmt.Fprintln(out)
	if err := output.Print(out, output.SummaryReport(output.BuildDailySummaries(days))); err != nil {
		return report, err
	}
	if dropped > 0 {
		fmt.Fprintf(out, "%d entries are not reported to %s\n", dropped, name)
	}

	if run.Output != "" {
		writer, err := output.WriterForPath(run.Output)
		if err != nil {
			return report, err
		}
		if err := writer.Write(run.Output, rows); err != nil {
			return report, err
		}
		fmt.Fprintf(out, "Rows written: %s\n", run.Output)
	}

	if run.DryRun {
		fmt.Fprintf(out, "Dry run: %d days not submitted to %s\n", len(results), name)
		return report, nil
	}

	var failures error
	err = formsession.With(ctx, run.Backend, func(backend formsession.Backend) error {
		for _, result := range results {
			date := result.Date.Format("2006-01-02")
			if err := backend.SetDay(ctx, result.Day); err != nil {
				if !run.KeepGoing {
					return fmt.Errorf("%s: %w", date, err)
				}
				report.Failed++
				failures = multierr.Append(failures, fmt.Errorf("%s: %w", date, err))
				log.WithError(err).WithField("date", date).Error("day not submitted")
				continue
			}
			report.Submitted++
			fmt.Fprintf(out, "Submitted %s\n", date)
		}
		return nil
	})
	if err != nil {
		return report, err
	}

	fmt.Fprintf(out, "Submitted %d of %d days to %s\n", report.Submitted, len(results), name)
	if failures != nil {
		return report, fmt.Errorf("%d days failed: %w", report.Failed, failures)
	}
	return report, nil
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringVar(&reportBackend, "backend", "", "Timesheet system to report to (flexhrm, millnet, xledger)")
	reportCmd.Flags().BoolVar(&reportDryRun, "dry-run", false, "Reconcile and print the days without submitting")
	reportCmd.Flags().BoolVar(&reportNoDL, "no-dl", false, "Use the existing snapshot instead of downloading a fresh one")
	reportCmd.Flags().StringVar(&reportLunch, "lunch", lunchAuto, "Insert lunch breaks: auto, on or off")
	reportCmd.Flags().BoolVar(&reportKeepGoing, "keep-going", false, "Continue with the next day when a day fails")
	reportCmd.Flags().StringVar(&reportOutput, "output", "", "Also write the reconciled rows to a .csv or .xlsx file")
	reportCmd.Flags().DurationVar(&reportTimeout, "timeout", 0, "Maximum time for the whole run (0: no limit)")
	_ = reportCmd.MarkFlagRequired("backend")
}
