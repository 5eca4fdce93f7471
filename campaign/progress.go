package campaign

import (
	"time"

	"go.uber.org/zap/zapcore"
)

// CategoryState is the lifecycle state of a category run.
type CategoryState string

const (
	StatePending   CategoryState = "PENDING"
	StateRunning   CategoryState = "RUNNING"
	StateCompleted CategoryState = "COMPLETED"
	StateAbandoned CategoryState = "ABANDONED"
)

// Abandon reasons.
const (
	ReasonFailureLimit = "consecutive failure limit reached"
	ReasonInterrupted  = "interrupted"
)

// CategoryProgress holds the counters of one category run.
type CategoryProgress struct {
	Name   string
	Target int

	// Generated counts files actually written.
	Generated int

	// Requests counts Execute calls; Attempts counts HTTP calls.
	Requests int
	Attempts int

	// Failures counts requests that ended in a terminal failure.
	Failures      int
	WriteFailures int
	Downgrades    int

	State     CategoryState
	OutputDir string

	// Skipped is set when the target was 0.
	Skipped       bool
	AbandonReason string

	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is the wall time of the run, zero if it has not finished.
func (p CategoryProgress) Duration() time.Duration {
	if p.StartedAt.IsZero() || p.FinishedAt.IsZero() {
		return 0
	}
	return p.FinishedAt.Sub(p.StartedAt)
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (p CategoryProgress) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("category", p.Name)
	enc.AddString("state", string(p.State))
	enc.AddInt("generated", p.Generated)
	enc.AddInt("target", p.Target)
	enc.AddInt("requests", p.Requests)
	enc.AddInt("attempts", p.Attempts)
	enc.AddInt("failures", p.Failures)
	if p.WriteFailures > 0 {
		enc.AddInt("write_failures", p.WriteFailures)
	}
	if p.Downgrades > 0 {
		enc.AddInt("downgrades", p.Downgrades)
	}
	if p.AbandonReason != "" {
		enc.AddString("reason", p.AbandonReason)
	}
	enc.AddDuration("duration", p.Duration())
	return nil
}

// Totals is the global tally across categories.
type Totals struct {
	Categories int
	Completed  int
	Abandoned  int
	Skipped    int
	Pending    int

	Generated int
	Target    int
	Requests  int
	Attempts  int
	Failures  int
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (t Totals) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("categories", t.Categories)
	enc.AddInt("completed", t.Completed)
	enc.AddInt("abandoned", t.Abandoned)
	enc.AddInt("skipped", t.Skipped)
	enc.AddInt("pending", t.Pending)
	enc.AddInt("generated", t.Generated)
	enc.AddInt("target", t.Target)
	enc.AddInt("attempts", t.Attempts)
	enc.AddInt("failures", t.Failures)
	return nil
}

// CampaignProgress is the result of a campaign run, in category order.
type CampaignProgress struct {
	RunID      string
	Categories []CategoryProgress

	StartedAt   time.Time
	FinishedAt  time.Time
	Interrupted bool
}

// Totals sums the per-category counters.
func (c CampaignProgress) Totals() Totals {
	t := Totals{Categories: len(c.Categories)}
	for _, p := range c.Categories {
		switch {
		case p.Skipped:
			t.Skipped++
		case p.State == StateCompleted:
			t.Completed++
		case p.State == StateAbandoned:
			t.Abandoned++
		default:
			t.Pending++
		}
		t.Generated += p.Generated
		t.Target += p.Target
		t.Requests += p.Requests
		t.Attempts += p.Attempts
		t.Failures += p.Failures
	}
	return t
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (c CampaignProgress) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("run_id", c.RunID)
	enc.AddBool("interrupted", c.Interrupted)
	if !c.FinishedAt.IsZero() {
		enc.AddDuration("duration", c.FinishedAt.Sub(c.StartedAt))
	}
	return enc.AddObject("totals", c.Totals())
}
