package tenants

import (
	"strconv"
	"strings"
)

// Selection is the college chosen before or during login: a decimal college id
// or the sentinel SelectionNone.
type Selection string

const SelectionNone Selection = "none"

// SelectionFor returns the selection naming college id.
func SelectionFor(id int64) Selection {
	return Selection(strconv.FormatInt(id, 10))
}

// Normalize trims whitespace and maps the empty string to SelectionNone.
func (s Selection) Normalize() Selection {
	t := strings.TrimSpace(string(s))
	if t == "" {
		return SelectionNone
	}
	return Selection(t)
}

func (s Selection) IsNone() bool {
	return s.Normalize() == SelectionNone
}

// CollegeID parses the selection. ok is false for SelectionNone and for
// anything that is not a base-10 integer.
func (s Selection) CollegeID() (id int64, ok bool) {
	n := s.Normalize()
	if n == SelectionNone {
		return 0, false
	}
	id, err := strconv.ParseInt(string(n), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (s Selection) String() string {
	return string(s.Normalize())
}
