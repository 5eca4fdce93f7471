package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"sdcampaign/campaign"
	"sdcampaign/db"
)

func (a *app) historyCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recent campaign runs, or the categories of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			history, err := a.openHistoryReadOnly(cmd)
			if err != nil {
				return err
			}
			defer history.Close()

			repo := db.NewRepository(history, nil)
			if len(args) == 1 {
				results, err := repo.CategoryResults(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if len(results) == 0 {
					return fmt.Errorf("no category results for run %s", args[0])
				}
				printRunDetail(a.stdout, args[0], results)
				return nil
			}

			runs, err := repo.RecentRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printRuns(a.stdout, runs, time.Now())
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of runs to list")
	cmd.AddCommand(a.pruneCommand())
	return cmd
}

func (a *app) pruneCommand() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete runs older than --days from the history (image files are kept)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 0 {
				return fmt.Errorf("--days must be non-negative, got %d", days)
			}
			history, err := a.openHistoryReadOnly(cmd)
			if err != nil {
				return err
			}
			defer history.Close()

			result, err := history.Cleanup(cmd.Context(), days)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Deleted %d runs, %d category results and %d image records in %v\n",
				result.RunsDeleted, result.CategoriesDeleted, result.ImagesDeleted,
				result.Duration.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 90, "keep runs started within this many days")
	return cmd
}

// openHistoryReadOnly opens an existing history database. Unlike a campaign
// run it never creates one.
func (a *app) openHistoryReadOnly(cmd *cobra.Command) (*db.Database, error) {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if !cfg.HistoryEnabled() {
		return nil, errors.New("run history is disabled (HISTORY_DB=off)")
	}
	if _, err := os.Stat(cfg.HistoryDB); err != nil {
		return nil, fmt.Errorf("no history database at %s: %w", cfg.HistoryDB, err)
	}
	return db.Open(cfg.HistoryDB)
}

func printRuns(w io.Writer, runs []db.RunRecord, now time.Time) {
	color.New(color.FgCyan, color.Bold).Fprintln(w, "━━━ Recent Runs ━━━")
	if len(runs) == 0 {
		color.New(color.FgHiBlack).Fprintln(w, "  no runs recorded")
		return
	}

	dim := color.New(color.FgHiBlack)
	for _, run := range runs {
		icon, clr, status := runStatus(run)
		clr.Fprintf(w, "  %s %s", icon, run.ID)
		dim.Fprintf(w, " - %s (%s), %d/%d images, %s",
			run.StartedAt.Local().Format("2006-01-02 15:04"),
			humanize.RelTime(run.StartedAt, now, "ago", "from now"),
			run.Generated, run.Target, status)
		fmt.Fprintln(w)
	}
}

func runStatus(run db.RunRecord) (string, *color.Color, string) {
	switch {
	case run.FinishedAt.IsZero():
		return "○", color.New(color.FgHiBlack), "did not finish"
	case run.Interrupted:
		return "!", color.New(color.FgYellow), "interrupted after " + run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String()
	case run.Generated < run.Target:
		return "✗", color.New(color.FgRed), "finished with gaps in " + run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String()
	default:
		return "✓", color.New(color.FgGreen), "complete in " + run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String()
	}
}

func printRunDetail(w io.Writer, runID string, results []db.CategoryRecord) {
	color.New(color.FgCyan, color.Bold).Fprintf(w, "━━━ Run %s ━━━\n", runID)

	dim := color.New(color.FgHiBlack)
	for _, rec := range results {
		switch {
		case rec.Skipped:
			color.New(color.FgHiBlack).Fprintf(w, "  ○ %s", rec.Category)
			dim.Fprint(w, " - skipped (images_count 0)")
		case rec.State == campaign.StateCompleted:
			color.New(color.FgGreen).Fprintf(w, "  ✓ %s", rec.Category)
		default:
			color.New(color.FgRed).Fprintf(w, "  ✗ %s", rec.Category)
		}
		if !rec.Skipped {
			dim.Fprintf(w, " - %d/%d, %s, %s, %s",
				rec.Generated, rec.Target,
				plural(rec.Attempts, "attempt"), plural(rec.Failures, "failure"), rec.OutputDir)
		}
		fmt.Fprintln(w)
		if rec.AbandonReason != "" {
			color.New(color.FgRed).Fprintf(w, "    └─ %s\n", rec.AbandonReason)
		}
	}
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return fmt.Sprintf("%s %ss", humanize.Comma(int64(n)), word)
}

