package campaign

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
)

// PrintReport writes the per-category tally and the campaign totals to w.
func PrintReport(w io.Writer, progress CampaignProgress) {
	fmt.Fprintln(w)
	color.New(color.FgCyan, color.Bold).Fprintf(w, "━━━ Campaign %s ━━━\n", progress.RunID)
	fmt.Fprintln(w)

	for _, p := range progress.Categories {
		printCategory(w, p)
	}

	t := progress.Totals()
	fmt.Fprintln(w)
	dim := color.New(color.FgHiBlack)
	switch {
	case progress.Interrupted:
		banner := color.New(color.FgYellow, color.Bold)
		banner.Fprintf(w, "━━━ Campaign Interrupted ")
		dim.Fprintf(w, "(%d/%d images, %d categories not reached)", t.Generated, t.Target, t.Pending)
		banner.Fprintln(w, " ━━━")
	case t.Abandoned > 0:
		banner := color.New(color.FgRed, color.Bold)
		banner.Fprintf(w, "━━━ Campaign Finished With Gaps ")
		dim.Fprintf(w, "(%d/%d images, %d abandoned, %d failed requests)", t.Generated, t.Target, t.Abandoned, t.Failures)
		banner.Fprintln(w, " ━━━")
	default:
		banner := color.New(color.FgGreen, color.Bold)
		banner.Fprintf(w, "━━━ Campaign Complete ")
		dim.Fprintf(w, "(%d/%d images in %v)", t.Generated, t.Target, progress.FinishedAt.Sub(progress.StartedAt).Round(time.Second))
		banner.Fprintln(w, " ━━━")
	}
	fmt.Fprintln(w)
}

func printCategory(w io.Writer, p CategoryProgress) {
	var (
		icon string
		clr  *color.Color
	)
	switch {
	case p.Skipped:
		icon, clr = "○", color.New(color.FgHiBlack)
	case p.State == StateCompleted:
		icon, clr = "✓", color.New(color.FgGreen)
	case p.State == StateAbandoned:
		icon, clr = "✗", color.New(color.FgRed)
	default:
		icon, clr = "○", color.New(color.FgHiBlack)
	}

	clr.Fprintf(w, "  %s %s", icon, p.Name)
	dim := color.New(color.FgHiBlack)
	switch {
	case p.Skipped:
		dim.Fprint(w, " - skipped (images_count 0)")
	case p.State == StatePending:
		dim.Fprint(w, " - not started")
	default:
		dim.Fprintf(w, " - %d/%d, %d attempts, %d failures", p.Generated, p.Target, p.Attempts, p.Failures)
	}
	fmt.Fprintln(w)

	if p.AbandonReason != "" {
		color.New(color.FgRed).Fprintf(w, "    └─ %s\n", p.AbandonReason)
	}
}
