package units

import (
	"fmt"
	"strings"
)

// Unit tags a time-denominated quantity.
type Unit string

const (
	Seconds Unit = "seconds"
	Minutes Unit = "minutes"
	Hours   Unit = "hours"
	Days    Unit = "days"
	Weeks   Unit = "weeks"
	Months  Unit = "months"
	Years   Unit = "years"
)

// seconds per unit; a year is 365.25 days and a month a twelfth of that.
var seconds = map[Unit]float64{
	Seconds: 1,
	Minutes: 60,
	Hours:   3600,
	Days:    86400,
	Weeks:   604800,
	Months:  2629800,
	Years:   31557600,
}

var aliases = map[string]Unit{
	"s": Seconds, "sec": Seconds, "second": Seconds, "seconds": Seconds,
	"min": Minutes, "minute": Minutes, "minutes": Minutes,
	"h": Hours, "hr": Hours, "hour": Hours, "hours": Hours,
	"d": Days, "day": Days, "days": Days,
	"w": Weeks, "week": Weeks, "weeks": Weeks,
	"mo": Months, "month": Months, "months": Months,
	"y": Years, "yr": Years, "year": Years, "years": Years,
}

// Parse resolves a unit name or common abbreviation.
func Parse(s string) (Unit, error) {
	u, ok := aliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unknown time unit %q", s)
	}
	return u, nil
}

// Valid reports whether u is a known unit.
func (u Unit) Valid() bool {
	_, ok := seconds[u]
	return ok
}

// Factor returns the multiplier converting a value in from into to.
func Factor(from, to Unit) (float64, error) {
	f, ok := seconds[from]
	if !ok {
		return 0, fmt.Errorf("unknown time unit %q", from)
	}
	t, ok := seconds[to]
	if !ok {
		return 0, fmt.Errorf("unknown time unit %q", to)
	}
	return f / t, nil
}

// Convert scales v from one unit to another.
func Convert(v float64, from, to Unit) (float64, error) {
	f, err := Factor(from, to)
	if err != nil {
		return 0, err
	}
	return v * f, nil
}

// Quantity is a value with its unit attached.
type Quantity struct {
	Value float64 `json:"value" yaml:"value"`
	Unit  Unit    `json:"unit" yaml:"unit"`
}

// In converts q into the target unit.
func (q Quantity) In(to Unit) (Quantity, error) {
	v, err := Convert(q.Value, q.Unit, to)
	if err != nil {
		return Quantity{}, err
	}
	return Quantity{Value: v, Unit: to}, nil
}
