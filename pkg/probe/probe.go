// Package probe runs startup checks and decides whether the app may start.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// DefaultTimeout bounds a single check when the probe sets none.
const DefaultTimeout = 5 * time.Second

// CheckFunc performs a check and returns nil when it passes.
type CheckFunc func(ctx context.Context) error

// Probe is a single startup check.
type Probe struct {
	Name     string
	Check    CheckFunc
	Critical bool // A failure prevents startup.
	Timeout  time.Duration
}

// Result holds the outcome of a single probe.
type Result struct {
	Probe    Probe
	Error    error
	Duration time.Duration
}

// Passed reports whether the check succeeded.
func (r Result) Passed() bool { return r.Error == nil }

// Run executes the probes in order, each under its own timeout.
func Run(ctx context.Context, probes []Probe) []Result {
	results := make([]Result, len(probes))

	for i, p := range probes {
		timeout := p.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		err := p.Check(checkCtx)
		cancel()

		results[i] = Result{
			Probe:    p,
			Error:    err,
			Duration: time.Since(start),
		}
	}

	return results
}

// AnalyzeResults logs every result and joins the errors of failed critical probes.
func AnalyzeResults(results []Result) error {
	var criticalErrors []error

	for _, r := range results {
		d := r.Duration.Round(time.Millisecond)
		switch {
		case r.Passed():
			slog.Info("Startup: Check passed", "check", r.Probe.Name, "duration", d)
		case r.Probe.Critical:
			slog.Error("Startup: Critical check failed", "check", r.Probe.Name, "duration", d, "error", r.Error)
			criticalErrors = append(criticalErrors, fmt.Errorf("%s: %w", r.Probe.Name, r.Error))
		default:
			slog.Warn("Startup: Check failed", "check", r.Probe.Name, "duration", d, "error", r.Error)
		}
	}

	return errors.Join(criticalErrors...)
}

// FileReadable checks that path names a readable regular file. An empty
// path passes when optional is set.
func FileReadable(path string, optional bool) CheckFunc {
	return func(ctx context.Context) error {
		if path == "" {
			if optional {
				return nil
			}
			return errors.New("no path configured")
		}
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if info.IsDir() {
			return fmt.Errorf("%s is a directory", path)
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		return f.Close()
	}
}
