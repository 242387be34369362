package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"isolab/pkg/dataset"
	"isolab/pkg/history"
	"isolab/pkg/isolation"
	"isolab/pkg/repl"
	"isolab/pkg/schedule"
	"isolab/pkg/session"
	"isolab/pkg/txerr"
)

// Scheduler REPL.
func SchedulerREPL(ds dataset.Dataset, s *Scheduler) *repl.REPL {
	r := repl.NewRepl()
	r.AddCommand("level", func(payload string, replConfig *repl.REPLConfig) (string, error) {
		return HandleLevel(s, payload)
	}, "Set the isolation level of both sessions. usage: level <rc|rr|serializable>")

	r.AddCommand("run", func(payload string, replConfig *repl.REPLConfig) (string, error) {
		return HandleRun(replConfig.Context(), s, payload)
	}, "Run a schedule. usage: run <name>")

	r.AddCommand("define", func(payload string, replConfig *repl.REPLConfig) (string, error) {
		return HandleDefine(s, payload)
	}, "Define a schedule. usage: define <name> <op> [op...], e.g. define s4 r1(x) w2(x) c2 c1")

	r.AddCommand("schedules", func(payload string, replConfig *repl.REPLConfig) (string, error) {
		return HandleSchedules(s, payload)
	}, "List the defined schedules. usage: schedules")

	r.AddCommand("reset", func(payload string, replConfig *repl.REPLConfig) (string, error) {
		return "", HandleReset(replConfig.Context(), ds, s, payload)
	}, "Recreate the table with its initial rows. usage: reset")

	r.AddCommand("rows", func(payload string, replConfig *repl.REPLConfig) (string, error) {
		return HandleRows(replConfig.Context(), ds, payload)
	}, "Print the committed rows. usage: rows")

	r.AddCommand("read", func(payload string, replConfig *repl.REPLConfig) (string, error) {
		return "", HandleRead(replConfig.Context(), s, payload)
	}, "Read a row in a session. usage: read <1|2> <id>")

	r.AddCommand("write", func(payload string, replConfig *repl.REPLConfig) (string, error) {
		return "", HandleWrite(replConfig.Context(), s, payload)
	}, "Set a row's name in a session. usage: write <1|2> <id> <name>")

	r.AddCommand("commit", func(payload string, replConfig *repl.REPLConfig) (string, error) {
		return "", HandleCommit(replConfig.Context(), s, payload)
	}, "Commit a session's transaction. usage: commit <1|2>")

	r.AddCommand("rollback", func(payload string, replConfig *repl.REPLConfig) (string, error) {
		return HandleRollback(replConfig.Context(), s, payload)
	}, "Roll back both sessions. usage: rollback")

	r.AddCommand("history", func(payload string, replConfig *repl.REPLConfig) (string, error) {
		return HandleHistory(s, payload)
	}, "Print the last recorded run. usage: history")

	return r
}

// Handle level.
func HandleLevel(s *Scheduler, payload string) (output string, err error) {
	fields := strings.Fields(payload)
	// Usage: level <rc|rr|serializable>
	if len(fields) < 2 {
		return "", errors.New("usage: level <rc|rr|serializable>")
	}
	level, err := isolation.Parse(strings.Join(fields[1:], " "))
	if err != nil {
		return "", fmt.Errorf("level error: %w", err)
	}
	if err = s.SetIsolationLevel(level); err != nil {
		return "", fmt.Errorf("level error: %w", err)
	}
	return fmt.Sprintf("isolation level set to %s", level), nil
}

// Handle run.
func HandleRun(ctx context.Context, s *Scheduler, payload string) (output string, err error) {
	fields := strings.Fields(payload)
	// Usage: run <name>
	if len(fields) != 2 {
		return "", errors.New("usage: run <name>")
	}
	res, err := s.Execute(ctx, fields[1])
	if err != nil {
		if txerr.Expected(err) {
			return fmt.Sprintf("Schedule %s aborted (%s)", fields[1], txerr.KindOf(err)), nil
		}
		return "", fmt.Errorf("run error: %w", err)
	}
	return fmt.Sprintf("Schedule %s completed at %s (%d steps)", res.Schedule, res.Level, len(res.Steps)), nil
}

// Handle define.
func HandleDefine(s *Scheduler, payload string) (output string, err error) {
	fields := strings.Fields(payload)
	// Usage: define <name> <op> [op...]
	if len(fields) < 3 {
		return "", errors.New("usage: define <name> <op> [op...]")
	}
	sched, err := schedule.Parse(fields[1], strings.Join(fields[2:], " "))
	if err != nil {
		return "", fmt.Errorf("define error: %w", err)
	}
	if err = s.Library().Add(sched); err != nil {
		return "", fmt.Errorf("define error: %w", err)
	}
	return fmt.Sprintf("%s = %s", sched.Name, sched), nil
}

// Handle schedules.
func HandleSchedules(s *Scheduler, payload string) (output string, err error) {
	if len(strings.Fields(payload)) != 1 {
		return "", errors.New("usage: schedules")
	}
	var sb strings.Builder
	for _, name := range s.Library().Names() {
		sched, err := s.Library().Lookup(name)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "%s: %s\n", sched.Name, sched)
	}
	return sb.String(), nil
}

// Handle reset. Refused while either session has an open transaction.
func HandleReset(ctx context.Context, ds dataset.Dataset, s *Scheduler, payload string) (err error) {
	if len(strings.Fields(payload)) != 1 {
		return errors.New("usage: reset")
	}
	for n := 1; n <= 2; n++ {
		sess, _ := s.Session(n)
		if sess.InTransaction() {
			return fmt.Errorf("reset error: %s has an open transaction", sess.Name())
		}
	}
	if err = ds.Reset(ctx); err != nil {
		return fmt.Errorf("reset error: %w", err)
	}
	return nil
}

// Handle rows. Reads outside both sessions; only committed rows are shown.
func HandleRows(ctx context.Context, ds dataset.Dataset, payload string) (output string, err error) {
	if len(strings.Fields(payload)) != 1 {
		return "", errors.New("usage: rows")
	}
	rows, err := ds.Rows(ctx)
	if err != nil {
		return "", fmt.Errorf("rows error: %w", err)
	}
	var sb strings.Builder
	for _, r := range rows {
		r.Print(&sb)
	}
	return sb.String(), nil
}

// parseSession resolves the session argument of a manual step.
func parseSession(s *Scheduler, field string) (*session.Session, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.ToUpper(field), "T"))
	if err != nil {
		return nil, fmt.Errorf("invalid session %q", field)
	}
	return s.Session(n)
}

// Handle read.
func HandleRead(ctx context.Context, s *Scheduler, payload string) (err error) {
	fields := strings.Fields(payload)
	// Usage: read <1|2> <id>
	if len(fields) != 3 {
		return errors.New("usage: read <1|2> <id>")
	}
	sess, err := parseSession(s, fields[1])
	if err != nil {
		return fmt.Errorf("read error: %w", err)
	}
	id, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return fmt.Errorf("read error: %w", err)
	}
	if _, err = sess.Read(ctx, id); err != nil {
		return fmt.Errorf("read error: %w", err)
	}
	return nil
}

// Handle write.
func HandleWrite(ctx context.Context, s *Scheduler, payload string) (err error) {
	fields := strings.Fields(payload)
	// Usage: write <1|2> <id> <name>
	if len(fields) < 4 {
		return errors.New("usage: write <1|2> <id> <name>")
	}
	sess, err := parseSession(s, fields[1])
	if err != nil {
		return fmt.Errorf("write error: %w", err)
	}
	id, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return fmt.Errorf("write error: %w", err)
	}
	if err = sess.Write(ctx, id, strings.Join(fields[3:], " ")); err != nil {
		return fmt.Errorf("write error: %w", err)
	}
	return nil
}

// Handle commit.
func HandleCommit(ctx context.Context, s *Scheduler, payload string) (err error) {
	fields := strings.Fields(payload)
	// Usage: commit <1|2>
	if len(fields) != 2 {
		return errors.New("usage: commit <1|2>")
	}
	sess, err := parseSession(s, fields[1])
	if err != nil {
		return fmt.Errorf("commit error: %w", err)
	}
	if err = sess.Commit(ctx); err != nil {
		return fmt.Errorf("commit error: %w", err)
	}
	return nil
}

// Handle rollback.
func HandleRollback(ctx context.Context, s *Scheduler, payload string) (output string, err error) {
	if len(strings.Fields(payload)) != 1 {
		return "", errors.New("usage: rollback")
	}
	s.Rollback(ctx)
	return "Transactions rolled back", nil
}

// Handle history.
func HandleHistory(s *Scheduler, payload string) (output string, err error) {
	if len(strings.Fields(payload)) != 1 {
		return "", errors.New("usage: history")
	}
	if s.recorder == nil {
		return "", errors.New("history error: no trace is being recorded")
	}
	run, err := history.LastRun(s.recorder.Path())
	if err != nil {
		return "", fmt.Errorf("history error: %w", err)
	}
	if run == nil {
		return "no runs recorded", nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s at %s (run %s)\n", run.Schedule, run.Level, run.ID)
	for _, st := range run.Steps {
		fmt.Fprintln(&sb, st)
	}
	outcome := run.Outcome
	if outcome == "" {
		outcome = "unfinished"
	}
	fmt.Fprintf(&sb, "outcome: %s\n", outcome)
	return sb.String(), nil
}
