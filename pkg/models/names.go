package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"
)

var (
	ErrUnknownField   = errors.New("unknown field")
	ErrUnknownChannel = errors.New("unknown channel")
	ErrUnknownFormula = errors.New("unknown formula")
	ErrBadExclusion   = errors.New("bad exclusion")
)

// maxSuggestDistance bounds how far a typo may be from a known name
const maxSuggestDistance = 4

// Suggest returns the closest candidate to name, or "" when nothing is close
func Suggest(name string, candidates []string) string {
	best := ""
	bestDist := maxSuggestDistance + 1
	for _, c := range candidates {
		d := levenshtein.ComputeDistance(strings.ToLower(name), strings.ToLower(c))
		if d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func unknown(kind error, name string, candidates []string) error {
	if s := Suggest(name, candidates); s != "" {
		return fmt.Errorf("%w %q (did you mean %q?)", kind, name, s)
	}
	return fmt.Errorf("%w %q", kind, name)
}

// ResolveField finds name in fields
func ResolveField(name string, fields []Field) (Field, error) {
	name = strings.TrimSpace(name)
	names := make([]string, len(fields))
	for i, f := range fields {
		if string(f) == name {
			return f, nil
		}
		names[i] = string(f)
	}
	return "", unknown(ErrUnknownField, name, names)
}

// ResolveChannel finds name in channels, ignoring case
func ResolveChannel(name string, channels []Channel) (Channel, error) {
	name = strings.TrimSpace(name)
	names := make([]string, len(channels))
	for i, c := range channels {
		if strings.EqualFold(string(c), name) {
			return c, nil
		}
		names[i] = string(c)
	}
	return "", unknown(ErrUnknownChannel, name, names)
}

// ResolveFormula finds a formula by label
func ResolveFormula(label string, formulas []Formula) (Formula, error) {
	label = strings.TrimSpace(label)
	names := make([]string, len(formulas))
	for i, f := range formulas {
		if f.Label == label {
			return f, nil
		}
		names[i] = f.Label
	}
	return Formula{}, unknown(ErrUnknownFormula, label, names)
}

// ParseExclusion parses "field:channel:offset"
func ParseExclusion(s string, fields []Field, channels []Channel) (Exclusion, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return Exclusion{}, fmt.Errorf("%w %q: want field:channel:offset", ErrBadExclusion, s)
	}
	field, err := ResolveField(parts[0], fields)
	if err != nil {
		return Exclusion{}, err
	}
	channel, err := ResolveChannel(parts[1], channels)
	if err != nil {
		return Exclusion{}, err
	}
	offset, err := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err != nil || offset < 0 {
		return Exclusion{}, fmt.Errorf("%w %q: offset must be a non-negative integer", ErrBadExclusion, s)
	}
	return Exclusion{Field: field, Slot: Slot{Channel: channel, Offset: offset}}, nil
}
