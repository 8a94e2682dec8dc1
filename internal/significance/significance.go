// Package significance holds the pure predicates that decide whether an event
// is worth a notification. Nothing here touches history or the network.
package significance

import (
	"fmt"
	"math"
)

// Magnitude qualifies an event when the absolute primary measure reaches
// MinPrimary OR the absolute secondary measure reaches MinSecondary. Either
// measure alone is enough. A MinSecondary of zero disables the secondary
// test.
type Magnitude struct {
	MinPrimary   float64
	MinSecondary float64
}

// Significant evaluates the thresholds.
func (m Magnitude) Significant(primary, secondary float64) bool {
	if math.Abs(primary) >= m.MinPrimary {
		return true
	}
	return m.MinSecondary > 0 && math.Abs(secondary) >= m.MinSecondary
}

// MissingPolicy decides what happens to an event whose valuation is unknown.
type MissingPolicy int

const (
	// MissingInclude gives the event the benefit of the doubt.
	MissingInclude MissingPolicy = iota
	// MissingExclude requires a present, numeric valuation.
	MissingExclude
)

// ParseMissingPolicy maps the config spelling of a policy.
func ParseMissingPolicy(s string) (MissingPolicy, error) {
	switch s {
	case "include":
		return MissingInclude, nil
	case "exclude", "":
		return MissingExclude, nil
	default:
		return MissingExclude, fmt.Errorf("unknown missing value policy %q", s)
	}
}

func (p MissingPolicy) String() string {
	if p == MissingInclude {
		return "include"
	}
	return "exclude"
}

// Existence qualifies an event on a valuation field. A nil or zero value is
// missing and handled by Missing; a present value must reach Min.
type Existence struct {
	Min     float64
	Missing MissingPolicy
}

// Significant evaluates the valuation.
func (e Existence) Significant(value *float64) bool {
	if value == nil || *value == 0 || math.IsNaN(*value) {
		return e.Missing == MissingInclude
	}
	return *value >= e.Min
}

// Always qualifies every event.
func Always() bool { return true }
