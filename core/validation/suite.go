// Package validation runs the startup checks of the gateway and prints
// their progress to the console.
package validation

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"sdgateway/backend"
	"sdgateway/core"
)

// ValidationStep is a single check and its outcome.
type ValidationStep struct {
	Name    string
	Status  StepStatus
	Message string
	Error   error
	Latency time.Duration
}

// StepStatus is the outcome of a step.
type StepStatus int

const (
	StepPending StepStatus = iota
	StepRunning
	StepPassed
	StepFailed
	StepWarning
	StepSkipped
)

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

// SuiteResult is the outcome of a whole run. Warnings do not fail it.
type SuiteResult struct {
	Steps       []ValidationStep
	TotalSteps  int
	PassedSteps int
	FailedSteps int
	Warnings    int
	Duration    time.Duration
	Success     bool
}

// Suite checks the configuration, the database location and every
// backend. An unreachable backend is a warning: the gateway starts anyway
// and requests routed to it fail until it comes up.
type Suite struct {
	cfg          *core.Config
	pool         *backend.Pool
	prober       Prober
	output       io.Writer
	timeout      time.Duration
	showProgress bool
}

// NewSuite creates a Suite. prober may be nil to skip the network checks.
func NewSuite(cfg *core.Config, pool *backend.Pool, prober Prober) *Suite {
	return &Suite{
		cfg:          cfg,
		pool:         pool,
		prober:       prober,
		output:       os.Stdout,
		timeout:      10 * time.Second,
		showProgress: true,
	}
}

// WithOutput sets where progress is printed.
func (s *Suite) WithOutput(w io.Writer) *Suite {
	s.output = w
	return s
}

// WithTimeout sets the per-backend probe timeout.
func (s *Suite) WithTimeout(timeout time.Duration) *Suite {
	s.timeout = timeout
	return s
}

// WithShowProgress enables or disables console output.
func (s *Suite) WithShowProgress(show bool) *Suite {
	s.showProgress = show
	return s
}

// Validate runs every check in order.
func (s *Suite) Validate(ctx context.Context) SuiteResult {
	start := time.Now()
	var steps []ValidationStep

	if s.showProgress {
		s.printHeader("sdgateway startup checks")
	}

	steps = append(steps, s.runStep("Configuration", func() (StepStatus, string, error) {
		if err := s.cfg.Validate(); err != nil {
			return StepFailed, "", err
		}
		return StepPassed, fmt.Sprintf("%d backend(s), output mode %q", len(s.cfg.Servers), s.cfg.OutputMode), nil
	}))

	steps = append(steps, s.runStep("Backend URLs", func() (StepStatus, string, error) {
		for i, u := range s.cfg.Servers {
			if err := ValidateBackendURL(u); err != nil {
				return StepFailed, "", fmt.Errorf("server %d: %w", i, err)
			}
		}
		return StepPassed, "", nil
	}))

	steps = append(steps, s.runStep("Database Disk Space", func() (StepStatus, string, error) {
		dir, free, err := FreeSpace(s.cfg.DatabasePath)
		if err != nil {
			return StepWarning, "could not determine free space", err
		}
		if free < MinDatabaseFreeBytes {
			return StepFailed, "", &DiskSpaceError{Path: dir, Required: MinDatabaseFreeBytes, Available: free}
		}
		return StepPassed, humanize.IBytes(uint64(free)) + " free at " + dir, nil
	}))

	steps = append(steps, s.runStep("Translation", func() (StepStatus, string, error) {
		t := s.cfg.Translation
		switch {
		case !t.Enabled:
			return StepSkipped, "disabled", nil
		case t.APIKey == "":
			return StepWarning, "enabled without an API key", nil
		default:
			return StepPassed, "model " + t.Model, nil
		}
	}))

	if s.prober == nil || s.pool == nil || !allPassed(steps) {
		step := ValidationStep{Name: "Backend Connectivity", Status: StepSkipped, Message: "skipped"}
		if s.showProgress {
			s.printStep(step)
		}
		steps = append(steps, step)
	} else {
		for _, r := range CheckBackends(ctx, s.pool, s.prober, s.timeout) {
			step := ValidationStep{
				Name:    fmt.Sprintf("Backend %d", r.Server.Index),
				Latency: r.Latency,
				Error:   r.Error,
			}
			if r.Reachable {
				step.Status = StepPassed
				step.Message = fmt.Sprintf("reachable (latency: %v)", r.Latency.Round(time.Millisecond))
			} else {
				step.Status = StepWarning
				step.Message = "unreachable"
			}
			if s.showProgress {
				s.printStep(step)
			}
			steps = append(steps, step)
		}
	}

	result := buildResult(steps, start)
	if s.showProgress {
		s.printSummary(result)
	}
	return result
}

func (s *Suite) runStep(name string, fn func() (StepStatus, string, error)) ValidationStep {
	if s.showProgress {
		fmt.Fprintf(s.output, "  ◌ %s...", name)
	}
	start := time.Now()
	status, message, err := fn()
	step := ValidationStep{
		Name:    name,
		Status:  status,
		Message: message,
		Error:   err,
		Latency: time.Since(start),
	}
	if s.showProgress {
		s.printStep(step)
	}
	return step
}

func allPassed(steps []ValidationStep) bool {
	for _, step := range steps {
		if step.Status == StepFailed {
			return false
		}
	}
	return true
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

func (s *Suite) printStep(step ValidationStep) {
	var (
		icon string
		clr  *color.Color
	)
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

	fmt.Fprintf(s.output, "\r")
	clr.Fprintf(s.output, "  %s %s", icon, step.Name)
	if step.Message != "" {
		color.New(color.FgHiBlack).Fprintf(s.output, " - %s", step.Message)
	}
	fmt.Fprintln(s.output)

	if step.Error != nil && (step.Status == StepFailed || step.Status == StepWarning) {
		clr.Fprintf(s.output, "    └─ %s\n", step.Error.Error())
	}
}

func (s *Suite) printSummary(result SuiteResult) {
	fmt.Fprintln(s.output)
	if result.Success {
		ok := color.New(color.FgGreen, color.Bold)
		ok.Fprintf(s.output, "━━━ Checks Passed ")
		color.New(color.FgHiBlack).Fprintf(s.output, "(%d/%d passed, %d warnings, %v)",
			result.PassedSteps, result.TotalSteps, result.Warnings, result.Duration.Round(time.Millisecond))
		ok.Fprintln(s.output, " ━━━")
	} else {
		fail := color.New(color.FgRed, color.Bold)
		fail.Fprintf(s.output, "━━━ Checks Failed ")
		color.New(color.FgHiBlack).Fprintf(s.output, "(%d passed, %d failed)",
			result.PassedSteps, result.FailedSteps)
		fail.Fprintln(s.output, " ━━━")
	}
	fmt.Fprintln(s.output)
}

// FirstError returns the error of the first failed step.
func (r SuiteResult) FirstError() error {
	for _, step := range r.Steps {
		if step.Status == StepFailed && step.Error != nil {
			return step.Error
		}
	}
	return nil
}

// Summary returns a one-line description of the run.
func (r SuiteResult) Summary() string {
	var sb strings.Builder
	if r.Success {
		sb.WriteString("checks passed: ")
	} else {
		sb.WriteString("checks failed: ")
	}
	fmt.Fprintf(&sb, "%d/%d passed", r.PassedSteps, r.TotalSteps)
	if r.FailedSteps > 0 {
		fmt.Fprintf(&sb, ", %d failed", r.FailedSteps)
	}
	if r.Warnings > 0 {
		fmt.Fprintf(&sb, ", %d warnings", r.Warnings)
	}
	return sb.String()
}
