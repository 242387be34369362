package history

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"isolab/pkg/row"

	"github.com/google/uuid"
)

/*
   Trace lines come in the following forms:

   START log -- a schedule run begins:
   < Run start S1 SERIALIZABLE >

   READ log -- a session read a row:
   < Run T1 read id value name >

   WRITE log -- a session set a row's name:
   < Run T2 write id name >

   COMMIT log -- a session committed:
   < Run T2 commit >

   END log -- the run finished; outcome is "ok" or "<kind>: <message>":
   < Run end outcome >
*/

// Interface that all log structs share.
type log interface {
	runID() uuid.UUID
	toString() string // Serializes the log to a string
}

type startLog struct {
	id       uuid.UUID
	schedule string
	level    string
}

func (sl startLog) runID() uuid.UUID { return sl.id }

func (sl startLog) toString() string {
	return fmt.Sprintf("< %s start %s %s >\n", sl.id, sl.schedule, sl.level)
}

type readLog struct {
	id      uuid.UUID
	session int
	row     row.Row
}

func (rl readLog) runID() uuid.UUID { return rl.id }

func (rl readLog) toString() string {
	return fmt.Sprintf("< %s T%d read %d %d %s >\n", rl.id, rl.session, rl.row.ID, rl.row.Value, oneLine(rl.row.Name))
}

type writeLog struct {
	id      uuid.UUID
	session int
	key     int64
	name    string
}

func (wl writeLog) runID() uuid.UUID { return wl.id }

func (wl writeLog) toString() string {
	return fmt.Sprintf("< %s T%d write %d %s >\n", wl.id, wl.session, wl.key, oneLine(wl.name))
}

type commitLog struct {
	id      uuid.UUID
	session int
}

func (cl commitLog) runID() uuid.UUID { return cl.id }

func (cl commitLog) toString() string {
	return fmt.Sprintf("< %s T%d commit >\n", cl.id, cl.session)
}

type endLog struct {
	id      uuid.UUID
	outcome string
}

func (el endLog) runID() uuid.UUID { return el.id }

func (el endLog) toString() string {
	return fmt.Sprintf("< %s end %s >\n", el.id, oneLine(el.outcome))
}

// Keeps free text on one trace line.
func oneLine(s string) string {
	return strings.NewReplacer("\n", " ", "\r", " ").Replace(s)
}

// Regex pattern for a uuid
const uuidPattern = "[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}"

var startExp = regexp.MustCompile(fmt.Sprintf(`^< (%s) start (\S+) (.+) >$`, uuidPattern))
var readExp = regexp.MustCompile(fmt.Sprintf(`^< (%s) T(\d+) read (\d+) (-?\d+) (.*) >$`, uuidPattern))
var writeExp = regexp.MustCompile(fmt.Sprintf(`^< (%s) T(\d+) write (\d+) (.*) >$`, uuidPattern))
var commitExp = regexp.MustCompile(fmt.Sprintf(`^< (%s) T(\d+) commit >$`, uuidPattern))
var endExp = regexp.MustCompile(fmt.Sprintf(`^< (%s) end (.*) >$`, uuidPattern))

// Convert the textual representation of a log to its respective struct.
// Returns an error if the string could not be parsed into a log.
func logFromString(s string) (log, error) {
	s = strings.TrimRight(s, "\r\n")
	switch {
	case startExp.MatchString(s):
		m := startExp.FindStringSubmatch(s)
		return startLog{id: uuid.MustParse(m[1]), schedule: m[2], level: m[3]}, nil
	case readExp.MatchString(s):
		m := readExp.FindStringSubmatch(s)
		session, _ := strconv.Atoi(m[2])
		key, _ := strconv.ParseInt(m[3], 10, 64)
		value, _ := strconv.ParseInt(m[4], 10, 64)
		return readLog{
			id:      uuid.MustParse(m[1]),
			session: session,
			row:     row.New(key, m[5], value),
		}, nil
	case writeExp.MatchString(s):
		m := writeExp.FindStringSubmatch(s)
		session, _ := strconv.Atoi(m[2])
		key, _ := strconv.ParseInt(m[3], 10, 64)
		return writeLog{id: uuid.MustParse(m[1]), session: session, key: key, name: m[4]}, nil
	case commitExp.MatchString(s):
		m := commitExp.FindStringSubmatch(s)
		session, _ := strconv.Atoi(m[2])
		return commitLog{id: uuid.MustParse(m[1]), session: session}, nil
	case endExp.MatchString(s):
		m := endExp.FindStringSubmatch(s)
		return endLog{id: uuid.MustParse(m[1]), outcome: m[2]}, nil
	default:
		return nil, errors.New("could not parse log")
	}
}
