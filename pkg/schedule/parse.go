package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"isolab/pkg/txerr"
)

var opExp = regexp.MustCompile(`^([rwc])([0-9]+)(?:\((\w+)\))?$`)

var varRows = map[string]int64{"x": 1, "y": 2, "z": 3}

// Parse builds a schedule from textbook notation such as
// "r1(x) w2(x) c2 w1(x) r1(x) c1". Rows are named x, y, z (ids 1, 2, 3)
// or by number. Writes set the name to "Updated X by T1".
func Parse(name, notation string) (Schedule, error) {
	op := "parse " + name
	s := Schedule{Name: name, Description: notation}
	for _, tok := range strings.Fields(notation) {
		m := opExp.FindStringSubmatch(strings.ToLower(tok))
		if m == nil {
			return Schedule{}, txerr.Newf(txerr.KindConfiguration, op, "bad operation %q", tok)
		}
		session, _ := strconv.Atoi(m[2])
		kind, arg := m[1], m[3]
		if kind == "c" {
			if arg != "" {
				return Schedule{}, txerr.Newf(txerr.KindConfiguration, op, "commit %q takes no row", tok)
			}
			s.Ops = append(s.Ops, Commit(session))
			continue
		}
		if arg == "" {
			return Schedule{}, txerr.Newf(txerr.KindConfiguration, op, "%q needs a row", tok)
		}
		id, err := parseRow(arg)
		if err != nil {
			return Schedule{}, txerr.Newf(txerr.KindConfiguration, op, "%q: %v", tok, err)
		}
		if kind == "r" {
			s.Ops = append(s.Ops, Read(session, id))
		} else {
			label := strings.ToUpper(arg)
			s.Ops = append(s.Ops, Write(session, id, fmt.Sprintf("Updated %s by T%d", label, session)))
		}
	}
	if err := s.Validate(); err != nil {
		return Schedule{}, err
	}
	return s, nil
}

func parseRow(arg string) (int64, error) {
	if id, ok := varRows[arg]; ok {
		return id, nil
	}
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unknown row %q", arg)
	}
	return id, nil
}
