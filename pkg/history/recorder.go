// Package history keeps an append-only trace of schedule runs, so the
// interleaving of the last run can be inspected after the fact.
package history

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"isolab/pkg/row"
	"isolab/pkg/txerr"

	"github.com/google/uuid"
	"github.com/icza/backscanner"
	"github.com/otiai10/copy"
)

// Recorder appends trace lines for schedule runs to a file. Each line is
// synced before the call returns.
type Recorder struct {
	path    string
	logFile *os.File
	run     uuid.UUID
	mtx     sync.Mutex
}

// Open opens (creating if needed) the trace file at path for appending.
func Open(path string) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0775); err != nil {
		return nil, err
	}
	logFile, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0666)
	if err != nil {
		return nil, err
	}
	return &Recorder{path: path, logFile: logFile}, nil
}

// Path returns the trace file path.
func (r *Recorder) Path() string {
	return r.path
}

// flushLog serializes the specified log and immediately appends it
// to the end of the trace file. Expects r.mtx to be locked.
func (r *Recorder) flushLog(l log) error {
	if _, err := r.logFile.WriteString(l.toString()); err != nil {
		return err
	}
	return r.logFile.Sync()
}

// Start records the beginning of a run and returns its id.
func (r *Recorder) Start(schedule, level string) (uuid.UUID, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.run = uuid.New()
	if err := r.flushLog(startLog{id: r.run, schedule: schedule, level: level}); err != nil {
		return uuid.Nil, fmt.Errorf("error writing a Start log: %w", err)
	}
	return r.run, nil
}

// Read records a row a session read.
func (r *Recorder) Read(session int, rw row.Row) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.flushLog(readLog{id: r.run, session: session, row: rw})
}

// Write records a name a session wrote.
func (r *Recorder) Write(session int, key int64, name string) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.flushLog(writeLog{id: r.run, session: session, key: key, name: name})
}

// Commit records a session's commit.
func (r *Recorder) Commit(session int) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.flushLog(commitLog{id: r.run, session: session})
}

// End records the outcome of the current run.
func (r *Recorder) End(runErr error) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	outcome := "ok"
	if runErr != nil {
		outcome = fmt.Sprintf("%s: %v", txerr.KindOf(runErr), runErr)
	}
	if err := r.flushLog(endLog{id: r.run, outcome: outcome}); err != nil {
		return fmt.Errorf("error writing an End log: %w", err)
	}
	return nil
}

func (r *Recorder) Close() error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.logFile.Close()
}

// StepKind tells what a Step records.
type StepKind int

const (
	StepRead StepKind = iota
	StepWrite
	StepCommit
)

// Step is one recorded operation of a run.
type Step struct {
	Kind    StepKind
	Session int
	Row     row.Row // for writes only ID and Name are set
}

func (s Step) String() string {
	switch s.Kind {
	case StepRead:
		return fmt.Sprintf("T%d reads: name=%s, value=%d", s.Session, s.Row.Name, s.Row.Value)
	case StepWrite:
		return fmt.Sprintf("T%d writes: %s", s.Session, s.Row.Name)
	default:
		return fmt.Sprintf("T%d commits", s.Session)
	}
}

// Run is one schedule execution read back from a trace.
type Run struct {
	ID       uuid.UUID
	Schedule string
	Level    string
	Steps    []Step
	Outcome  string // empty if the run never ended
}

// LastRun scans the trace at path backwards to the most recent start
// marker and returns that run. It returns nil if the trace holds no run.
func LastRun(path string) (*Run, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fstats, err := f.Stat()
	if err != nil {
		return nil, err
	}

	scanner := backscanner.New(f, int(fstats.Size()))
	var logs []log
	for {
		line, _, err := scanner.Line()
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if line == "" {
			continue
		}
		l, err := logFromString(line)
		if err != nil {
			return nil, err
		}
		if start, ok := l.(startLog); ok {
			return buildRun(start, logs), nil
		}
		logs = append(logs, l)
	}
}

// buildRun assembles a run from its start log and the logs that followed
// it, given newest first.
func buildRun(start startLog, newestFirst []log) *Run {
	run := &Run{ID: start.id, Schedule: start.schedule, Level: start.level}
	for i := len(newestFirst) - 1; i >= 0; i-- {
		l := newestFirst[i]
		if l.runID() != start.id {
			continue
		}
		switch l := l.(type) {
		case readLog:
			run.Steps = append(run.Steps, Step{Kind: StepRead, Session: l.session, Row: l.row})
		case writeLog:
			run.Steps = append(run.Steps, Step{Kind: StepWrite, Session: l.session, Row: row.Row{ID: l.key, Name: l.name}})
		case commitLog:
			run.Steps = append(run.Steps, Step{Kind: StepCommit, Session: l.session})
		case endLog:
			run.Outcome = l.outcome
		}
	}
	return run
}

// Rotate keeps the current trace at path as path+".prev" and empties
// path. A missing trace is not an error.
func Rotate(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := copy.Copy(path, path+".prev"); err != nil {
		return err
	}
	return os.Truncate(path, 0)
}
