// Package validation runs the preflight checks behind the check command:
// environment file, WebUI address and reachability, category and output
// directories, free disk space and the history database location.
package validation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"

	"sdcampaign/core"
)

// ValidationStep is one preflight check and its outcome.
type ValidationStep struct {
	Name    string
	Status  StepStatus
	Message string
	Error   error
	Latency time.Duration
}

// StepStatus represents the status of a validation step.
type StepStatus int

const (
	StepPending StepStatus = iota
	StepRunning
	StepPassed
	StepFailed
	StepWarning
	StepSkipped
)

// String returns the string representation of a step status.
func (s StepStatus) String() string {
	switch s {
	case StepPending:
		return "pending"
	case StepRunning:
		return "running"
	case StepPassed:
		return "passed"
	case StepFailed:
		return "failed"
	case StepWarning:
		return "warning"
	case StepSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// SuiteResult represents the complete result of validation suite execution.
type SuiteResult struct {
	Steps       []ValidationStep
	TotalSteps  int
	PassedSteps int
	FailedSteps int
	Warnings    int
	Duration    time.Duration
	Success     bool
}

// Pinger reports whether the WebUI answers. *sd.Client implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// outcome is what a check function reports back to runStep.
type outcome struct {
	status  StepStatus
	message string
	err     error
}

// Suite runs the preflight checks against a loaded configuration.
// Warnings never fail the suite; a campaign can run with defaults for
// everything a warning is about.
type Suite struct {
	output       io.Writer
	cfg          *core.Config
	pinger       Pinger
	envPath      string
	timeout      time.Duration
	showProgress bool
	failFast     bool
}

// NewSuite creates a Suite for cfg. pinger may be nil to skip the
// connectivity check.
func NewSuite(cfg *core.Config, pinger Pinger) *Suite {
	return &Suite{
		output:       os.Stdout,
		cfg:          cfg,
		pinger:       pinger,
		envPath:      ".env",
		timeout:      10 * time.Second,
		showProgress: true,
	}
}

// WithOutput sets the output writer for progress messages.
func (s *Suite) WithOutput(w io.Writer) *Suite {
	s.output = w
	return s
}

// WithTimeout bounds the connectivity check.
func (s *Suite) WithTimeout(timeout time.Duration) *Suite {
	s.timeout = timeout
	return s
}

// WithShowProgress enables or disables progress output.
func (s *Suite) WithShowProgress(show bool) *Suite {
	s.showProgress = show
	return s
}

// WithFailFast stops validation on first failure if enabled.
func (s *Suite) WithFailFast(failFast bool) *Suite {
	s.failFast = failFast
	return s
}

// WithEnvPath sets a custom path for the .env file.
func (s *Suite) WithEnvPath(path string) *Suite {
	s.envPath = path
	return s
}

// Validate runs every check in order and prints progress when enabled.
func (s *Suite) Validate(ctx context.Context) SuiteResult {
	start := time.Now()
	if s.showProgress {
		s.printHeader("sdcampaign Preflight")
	}

	checks := []struct {
		name string
		fn   func(ctx context.Context, done []ValidationStep) outcome
	}{
		{"Environment File", s.checkEnvFile},
		{"WebUI URL", s.checkServerURL},
		{"Config Directory", s.checkConfigDir},
		{"Output Directory", s.checkOutputDir},
		{"Disk Space", s.checkDiskSpace},
		{"History Database", s.checkHistory},
		{"WebUI Connectivity", s.checkConnectivity},
	}

	steps := make([]ValidationStep, 0, len(checks))
	for _, check := range checks {
		step := s.runStep(check.name, func() outcome { return check.fn(ctx, steps) })
		steps = append(steps, step)
		if s.failFast && step.Status == StepFailed {
			break
		}
	}

	result := buildResult(steps, start)
	if s.showProgress {
		s.printSummary(result)
	}
	return result
}

func (s *Suite) checkEnvFile(ctx context.Context, _ []ValidationStep) outcome {
	err := CheckFileExists(s.envPath)
	switch {
	case err == nil:
		return outcome{status: StepPassed, message: s.envPath}
	case IsNotExist(err):
		return outcome{status: StepWarning, message: "not found, using the process environment and defaults"}
	default:
		return outcome{status: StepWarning, message: "unreadable, using the process environment and defaults", err: err}
	}
}

func (s *Suite) checkServerURL(ctx context.Context, _ []ValidationStep) outcome {
	if err := ValidateServerURL(s.cfg.ServerURL); err != nil {
		return outcome{status: StepFailed, message: s.cfg.ServerURL, err: err}
	}
	return outcome{status: StepPassed, message: s.cfg.ServerURL}
}

func (s *Suite) checkConfigDir(ctx context.Context, _ []ValidationStep) outcome {
	if err := CheckDirectory(s.cfg.ConfigDir); err != nil {
		if IsNotExist(err) {
			return outcome{status: StepWarning, message: "not found, every category uses built-in defaults"}
		}
		return outcome{status: StepFailed, err: err}
	}
	docs, _ := filepath.Glob(filepath.Join(s.cfg.ConfigDir, "config_*"))
	return outcome{status: StepPassed, message: fmt.Sprintf("%d category documents in %s", len(docs), s.cfg.ConfigDir)}
}

func (s *Suite) checkOutputDir(ctx context.Context, _ []ValidationStep) outcome {
	if err := CheckWritableDir(s.cfg.OutputBaseDir); err != nil {
		return outcome{status: StepFailed, err: err}
	}
	return outcome{status: StepPassed, message: s.cfg.OutputBaseDir}
}

func (s *Suite) checkDiskSpace(ctx context.Context, _ []ValidationStep) outcome {
	required := uint64(s.cfg.MinFreeDiskMB) * 1024 * 1024
	info, err := CheckDiskSpace(s.cfg.OutputBaseDir, required)

	var spaceErr *DiskSpaceError
	switch {
	case errors.As(err, &spaceErr):
		return outcome{status: StepWarning, message: info.String(), err: err}
	case err != nil:
		return outcome{status: StepWarning, message: "could not measure free space", err: err}
	}
	return outcome{status: StepPassed, message: info.String()}
}

func (s *Suite) checkHistory(ctx context.Context, _ []ValidationStep) outcome {
	if !s.cfg.HistoryEnabled() {
		return outcome{status: StepSkipped, message: "history disabled"}
	}
	if err := CheckWritableDir(filepath.Dir(s.cfg.HistoryDB)); err != nil {
		return outcome{status: StepFailed, err: err}
	}
	return outcome{status: StepPassed, message: s.cfg.HistoryDB}
}

func (s *Suite) checkConnectivity(ctx context.Context, done []ValidationStep) outcome {
	if s.pinger == nil {
		return outcome{status: StepSkipped, message: "no client configured"}
	}
	for _, step := range done {
		if step.Name == "WebUI URL" && step.Status == StepFailed {
			return outcome{status: StepSkipped, message: "skipped due to an invalid URL"}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	start := time.Now()
	if err := s.pinger.Ping(ctx); err != nil {
		return outcome{status: StepFailed, message: "is the WebUI running with --api?", err: err}
	}
	return outcome{status: StepPassed, message: fmt.Sprintf("reachable (latency: %v)", time.Since(start).Round(time.Millisecond))}
}

// runStep executes a validation step with timing and progress output.
func (s *Suite) runStep(name string, fn func() outcome) ValidationStep {
	if s.showProgress {
		s.printStepStart(name)
	}

	start := time.Now()
	out := fn()
	step := ValidationStep{
		Name:    name,
		Status:  out.status,
		Message: out.message,
		Error:   out.err,
		Latency: time.Since(start),
	}

	if s.showProgress {
		s.printStep(step)
	}
	return step
}

func buildResult(steps []ValidationStep, start time.Time) SuiteResult {
	result := SuiteResult{
		Steps:      steps,
		TotalSteps: len(steps),
		Duration:   time.Since(start),
		Success:    true,
	}
	for _, step := range steps {
		switch step.Status {
		case StepPassed:
			result.PassedSteps++
		case StepFailed:
			result.FailedSteps++
			result.Success = false
		case StepWarning:
			result.Warnings++
		}
	}
	return result
}

func (s *Suite) printHeader(title string) {
	fmt.Fprintln(s.output)
	color.New(color.FgCyan, color.Bold).Fprintf(s.output, "━━━ %s ━━━\n", title)
	fmt.Fprintln(s.output)
}

// printStepStart prints the step name before execution (for real-time feedback).
func (s *Suite) printStepStart(name string) {
	fmt.Fprintf(s.output, "  ◌ %s...", name)
}

func (s *Suite) printStep(step ValidationStep) {
	var icon string
	var clr *color.Color

	switch step.Status {
	case StepPassed:
		icon, clr = "✓", color.New(color.FgGreen)
	case StepFailed:
		icon, clr = "✗", color.New(color.FgRed)
	case StepWarning:
		icon, clr = "!", color.New(color.FgYellow)
	case StepSkipped:
		icon, clr = "○", color.New(color.FgHiBlack)
	default:
		icon, clr = "?", color.New(color.FgWhite)
	}

	// Overwrite the "running" line.
	fmt.Fprintf(s.output, "\r")
	clr.Fprintf(s.output, "  %s %s", icon, step.Name)
	if step.Message != "" {
		color.New(color.FgHiBlack).Fprintf(s.output, " - %s", step.Message)
	}
	fmt.Fprintln(s.output)

	if (step.Status == StepFailed || step.Status == StepWarning) && step.Error != nil {
		clr.Fprintf(s.output, "    └─ %s\n", step.Error.Error())
	}
}

func (s *Suite) printSummary(result SuiteResult) {
	fmt.Fprintln(s.output)

	if result.Success {
		ok := color.New(color.FgGreen, color.Bold)
		ok.Fprintf(s.output, "━━━ Ready To Run ")
		color.New(color.FgHiBlack).Fprintf(s.output, "(%d/%d checks passed, %d warnings)",
			result.PassedSteps, result.TotalSteps, result.Warnings)
		ok.Fprintln(s.output, " ━━━")
	} else {
		fail := color.New(color.FgRed, color.Bold)
		fail.Fprintf(s.output, "━━━ Preflight Failed ")
		color.New(color.FgHiBlack).Fprintf(s.output, "(%d passed, %d failed)",
			result.PassedSteps, result.FailedSteps)
		fail.Fprintln(s.output, " ━━━")
	}

	fmt.Fprintln(s.output)
}

// FirstError returns the error of the first failed step, or nil.
func (r SuiteResult) FirstError() error {
	for _, step := range r.Steps {
		if step.Status == StepFailed && step.Error != nil {
			return step.Error
		}
	}
	return nil
}

// Summary returns a one-line summary for logs.
func (r SuiteResult) Summary() string {
	var sb strings.Builder
	if r.Success {
		sb.WriteString("Preflight passed: ")
	} else {
		sb.WriteString("Preflight failed: ")
	}
	fmt.Fprintf(&sb, "%d/%d checks passed", r.PassedSteps, r.TotalSteps)
	if r.FailedSteps > 0 {
		fmt.Fprintf(&sb, ", %d failed", r.FailedSteps)
	}
	if r.Warnings > 0 {
		fmt.Fprintf(&sb, ", %d warnings", r.Warnings)
	}
	fmt.Fprintf(&sb, " (took %v)", r.Duration.Round(time.Millisecond))
	return sb.String()
}
