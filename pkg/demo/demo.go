// Package demo runs every schedule at every isolation level against one
// dataset and reports what each combination ended with.
package demo

import (
	"context"
	"fmt"
	"io"
	"log"

	"isolab/pkg/dataset"
	"isolab/pkg/history"
	"isolab/pkg/isolation"
	"isolab/pkg/row"
	"isolab/pkg/schedule"
	"isolab/pkg/scheduler"
	"isolab/pkg/txerr"
)

// Options selects what a demo runs. Empty Levels and Schedules mean all
// levels and every schedule in the library.
type Options struct {
	Levels    []isolation.Level
	Schedules []string
	Library   *schedule.Library
	Recorder  *history.Recorder
	Logger    *log.Logger
}

// Outcome is how one schedule ended at one level.
type Outcome struct {
	Level    isolation.Level
	Schedule string
	Err      error // nil if both transactions committed
	Result   *scheduler.Result
	Rows     []row.Row // committed rows before the reset that followed
}

// Kind returns "ok" or the failure's kind.
func (o Outcome) Kind() string {
	if o.Err == nil {
		return "ok"
	}
	return txerr.KindOf(o.Err).String()
}

// Report collects every outcome in run order.
type Report struct {
	Outcomes []Outcome
}

// Lookup returns the outcome of schedule name at level.
func (r *Report) Lookup(level isolation.Level, name string) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Level == level && o.Schedule == name {
			return o, true
		}
	}
	return Outcome{}, false
}

// Print writes a one-line summary per outcome.
func (r *Report) Print(w io.Writer) {
	fmt.Fprintln(w, "\n=== Summary ===")
	for _, o := range r.Outcomes {
		fmt.Fprintf(w, "%-16s %-4s %s\n", o.Level, o.Schedule, o.Kind())
	}
}

// Run resets ds, then for each level runs each schedule on a fresh pair of
// sessions, resetting ds after every schedule. Expected failures are
// reported and the run goes on; so do unexpected ones, which are also
// returned once the run is over. Only a failed reset or connect stops it.
func Run(ctx context.Context, ds dataset.Dataset, opts Options, out io.Writer) (*Report, error) {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Library == nil {
		opts.Library = schedule.Canonical()
	}
	levels := opts.Levels
	if len(levels) == 0 {
		levels = isolation.Levels()
	}
	names := opts.Schedules
	if len(names) == 0 {
		names = opts.Library.Names()
	}

	if err := ds.Reset(ctx); err != nil {
		return nil, err
	}
	report := &Report{}
	var unexpected error
	for _, level := range levels {
		err := runLevel(ctx, ds, opts, level, names, report, out)
		if err != nil && !isScheduleFailure(err) {
			return report, err
		}
		if err != nil && unexpected == nil {
			unexpected = err
		}
	}
	return report, unexpected
}

// scheduleFailure marks an unexpected error from one schedule, after which
// the demo still goes on.
type scheduleFailure struct{ error }

func (f scheduleFailure) Unwrap() error { return f.error }

func isScheduleFailure(err error) bool {
	_, ok := err.(scheduleFailure)
	return ok
}

func runLevel(ctx context.Context, ds dataset.Dataset, opts Options, level isolation.Level,
	names []string, report *Report, out io.Writer) (err error) {
	fmt.Fprintf(out, "\n=== Testing with %s ===\n", label(level))
	s, err := scheduler.New(ctx, ds,
		scheduler.WithLibrary(opts.Library),
		scheduler.WithOutput(out),
		scheduler.WithLogger(opts.Logger),
		scheduler.WithRecorder(opts.Recorder),
	)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			opts.Logger.Printf("error closing connections: %v", cerr)
		}
	}()
	if err := s.SetIsolationLevel(level); err != nil {
		return err
	}

	var failed error
	for _, name := range names {
		fmt.Fprintf(out, "\nExecuting Schedule %s:\n", name)
		res, runErr := s.Execute(ctx, name)
		switch {
		case runErr == nil:
		case txerr.Expected(runErr):
			fmt.Fprintf(out, "Schedule %s aborted (%s): %v\n", name, txerr.KindOf(runErr), runErr)
		default:
			fmt.Fprintf(out, "Schedule %s failed: %v\n", name, runErr)
			if failed == nil {
				failed = scheduleFailure{runErr}
			}
		}
		rows, err := ds.Rows(ctx)
		if err != nil {
			return err
		}
		report.Outcomes = append(report.Outcomes, Outcome{
			Level:    level,
			Schedule: name,
			Err:      runErr,
			Result:   res,
			Rows:     rows,
		})
		if err := ds.Reset(ctx); err != nil {
			return err
		}
	}
	return failed
}

func label(level isolation.Level) string {
	if level == isolation.Default {
		return level.String() + " (Default)"
	}
	return level.String()
}
