package schedule

import (
	"sync"

	"isolab/pkg/txerr"
)

// Rows the canonical schedules touch.
const (
	X int64 = 1
	Y int64 = 2
)

// The canonical catalog.
var (
	S1 = Schedule{
		Name:        "S1",
		Description: "T1 re-reads x after T2 committed a write to it and T1 wrote it too (non-repeatable read / lost update)",
		Ops: []Op{
			Read(1, X),
			Write(2, X, "Updated by T2"),
			Commit(2),
			Write(1, X, "Updated by T1"),
			Read(1, X),
			Commit(1),
		},
	}
	S2 = Schedule{
		Name:        "S2",
		Description: "T1 re-reads x after T2 committed a write to it (non-repeatable read)",
		Ops: []Op{
			Read(1, X),
			Write(2, X, "Updated by T2"),
			Commit(2),
			Read(1, X),
			Commit(1),
		},
	}
	S3 = Schedule{
		Name:        "S3",
		Description: "T2 reads x, T1 writes x and y and commits, then T2 writes both (write skew across two rows)",
		Ops: []Op{
			Read(2, X),
			Write(1, X, "Updated X by T1"),
			Write(1, Y, "Updated Y by T1"),
			Commit(1),
			Read(2, Y),
			Write(2, X, "Updated X by T2"),
			Write(2, Y, "Updated Y by T2"),
			Commit(2),
		},
	}
)

// Library maps schedule names to schedules. Lookups return copies, so the
// catalog cannot be changed through them.
type Library struct {
	schedules map[string]Schedule
	order     []string
	mtx       sync.RWMutex
}

// NewLibrary returns a library holding the given schedules.
func NewLibrary(schedules ...Schedule) (*Library, error) {
	l := &Library{schedules: make(map[string]Schedule)}
	for _, s := range schedules {
		if err := l.Add(s); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Canonical returns a library holding S1, S2 and S3.
func Canonical() *Library {
	l, err := NewLibrary(S1, S2, S3)
	if err != nil {
		panic(err)
	}
	return l
}

// Add validates s and adds it under its name; names are unique.
func (l *Library) Add(s Schedule) error {
	if err := s.Validate(); err != nil {
		return err
	}
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if _, exists := l.schedules[s.Name]; exists {
		return txerr.Newf(txerr.KindConfiguration, "schedule "+s.Name, "already defined")
	}
	l.schedules[s.Name] = s.clone()
	l.order = append(l.order, s.Name)
	return nil
}

// Lookup returns the schedule called name.
func (l *Library) Lookup(name string) (Schedule, error) {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	s, found := l.schedules[name]
	if !found {
		return Schedule{}, txerr.Newf(txerr.KindUnknownSchedule, "lookup", "unknown schedule type: %s", name)
	}
	return s.clone(), nil
}

// Names returns the schedule names in the order they were added.
func (l *Library) Names() []string {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	names := make([]string, len(l.order))
	copy(names, l.order)
	return names
}
