package assign

import (
	"fmt"
	"strings"
)

// Policy selects how slots are handed out to fields
type Policy int

const (
	// NoConflict hands slots to fields in order of their best formula/linear error
	NoConflict Policy = iota
	// ByShape hands slots out by shape correlation, then fits scale and intercept
	ByShape
	// Hybrid keeps exact NoConflict matches and resolves the rest ByShape
	Hybrid
)

var policyNames = map[Policy]string{
	NoConflict: "no-conflict",
	ByShape:    "by-shape",
	Hybrid:     "hybrid",
}

func (p Policy) String() string {
	if s, ok := policyNames[p]; ok {
		return s
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

// ParsePolicy accepts the names printed by String
func ParsePolicy(s string) (Policy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for p, name := range policyNames {
		if s == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown policy %q (want no-conflict, by-shape or hybrid)", s)
}

// MarshalText lets policies appear in YAML and JSON as their names
func (p Policy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses a policy name
func (p *Policy) UnmarshalText(b []byte) error {
	v, err := ParsePolicy(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
