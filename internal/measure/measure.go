// Package measure provides typed numeric values carrying a time or data-size unit.
package measure

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// ErrIncompatibleUnitFamily is returned when converting between a time unit and a data-size unit.
var ErrIncompatibleUnitFamily = errors.New("measure: incompatible unit family")

// Family groups units that can be converted into each other.
type Family int

const (
	// FamilyTime has microseconds as its base unit.
	FamilyTime Family = iota
	// FamilyDataSize has bytes as its base unit.
	FamilyDataSize
)

func (f Family) String() string {
	switch f {
	case FamilyTime:
		return "time"
	case FamilyDataSize:
		return "data_size"
	default:
		return "unknown"
	}
}

// Unit is a member of a unit family with a conversion factor relative to the family base.
type Unit struct {
	name   string
	abbr   string
	factor float64
	family Family
}

// Time units.
var (
	Microseconds = Unit{"microseconds", "µs", 1, FamilyTime}
	Milliseconds = Unit{"milliseconds", "ms", 1e3, FamilyTime}
	Seconds      = Unit{"seconds", "s", 1e6, FamilyTime}
	Minutes      = Unit{"minutes", "m", 60e6, FamilyTime}
	Hours        = Unit{"hours", "h", 3600e6, FamilyTime}
	Days         = Unit{"days", "d", 86400e6, FamilyTime}
	Weeks        = Unit{"weeks", "w", 7 * 86400e6, FamilyTime}
	Months       = Unit{"months", "M", 30 * 86400e6, FamilyTime}
	Years        = Unit{"years", "y", 365 * 86400e6, FamilyTime}
)

// Data-size units (binary multiples).
var (
	Bytes     = Unit{"bytes", "B", 1, FamilyDataSize}
	Kilobytes = Unit{"kilobytes", "KB", 1 << 10, FamilyDataSize}
	Megabytes = Unit{"megabytes", "MB", 1 << 20, FamilyDataSize}
	Gigabytes = Unit{"gigabytes", "GB", 1 << 30, FamilyDataSize}
	Terabytes = Unit{"terabytes", "TB", 1 << 40, FamilyDataSize}
	Petabytes = Unit{"petabytes", "PB", 1 << 50, FamilyDataSize}
)

// Ordered smallest to largest; auto formatting walks these.
var (
	timeUnits = []Unit{Microseconds, Milliseconds, Seconds, Minutes, Hours, Days, Weeks, Months, Years}
	dataUnits = []Unit{Bytes, Kilobytes, Megabytes, Gigabytes, Terabytes, Petabytes}
)

// Name returns the long unit name, e.g. "milliseconds".
func (u Unit) Name() string { return u.name }

// Abbreviation returns the short unit label, e.g. "ms".
func (u Unit) Abbreviation() string { return u.abbr }

// Factor returns the number of base units in one of u.
func (u Unit) Factor() float64 { return u.factor }

// Family returns the unit family.
func (u Unit) Family() Family { return u.family }

func (u Unit) String() string { return u.name }

// MarshalJSON encodes the unit as its long name.
func (u Unit) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.name)
}

// UnmarshalJSON decodes a long unit name.
func (u *Unit) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseUnit(s)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// ParseUnit looks a unit up by long name or abbreviation.
func ParseUnit(s string) (Unit, error) {
	for _, units := range [][]Unit{timeUnits, dataUnits} {
		for _, u := range units {
			if u.name == s || u.abbr == s {
				return u, nil
			}
		}
	}
	return Unit{}, fmt.Errorf("measure: unknown unit %q", s)
}

// Measurement is a value expressed in a unit.
type Measurement struct {
	Value float64
	Unit  Unit
}

// New returns a measurement of v in unit.
func New(v float64, unit Unit) Measurement {
	return Measurement{Value: v, Unit: unit}
}

// FromDuration returns d as a millisecond measurement.
func FromDuration(d time.Duration) Measurement {
	return Measurement{Value: float64(d) / float64(time.Millisecond), Unit: Milliseconds}
}

// FromTime returns t as microseconds since the Unix epoch.
func FromTime(t time.Time) Measurement {
	return Measurement{Value: float64(t.UnixNano()) / 1e3, Unit: Microseconds}
}

// FromBytes returns n as a byte measurement.
func FromBytes(n uint64) Measurement {
	return Measurement{Value: float64(n), Unit: Bytes}
}

// In returns the value expressed in unit without modifying m.
func (m Measurement) In(unit Unit) (float64, error) {
	if m.Unit.family != unit.family {
		return 0, fmt.Errorf("%w: %s to %s", ErrIncompatibleUnitFamily, m.Unit.name, unit.name)
	}
	if m.Unit == unit {
		return m.Value, nil
	}
	return m.Value * m.Unit.factor / unit.factor, nil
}

// ConvertTo rewrites m in place to unit.
func (m *Measurement) ConvertTo(unit Unit) error {
	v, err := m.In(unit)
	if err != nil {
		return err
	}
	m.Value = v
	m.Unit = unit
	return nil
}

// Sub returns m - other expressed in m's unit.
func (m Measurement) Sub(other Measurement) (Measurement, error) {
	v, err := other.In(m.Unit)
	if err != nil {
		return Measurement{}, err
	}
	return Measurement{Value: m.Value - v, Unit: m.Unit}, nil
}

// IsZero reports whether the value is zero.
func (m Measurement) IsZero() bool { return m.Value == 0 }

// Format renders m with at most maxFractionDigits fraction digits. When force is
// given the value is converted to force[0]; otherwise the best fitting unit of the
// family is chosen.
func (m Measurement) Format(maxFractionDigits int, force ...Unit) string {
	sign := ""
	abs := m
	if m.Value < 0 {
		sign = "-"
		abs.Value = -m.Value
	}

	if len(force) > 0 {
		v, err := abs.In(force[0])
		if err != nil {
			return sign + formatNumber(abs.Value, maxFractionDigits) + separator(abs.Unit) + abs.Unit.abbr
		}
		return sign + formatNumber(v, maxFractionDigits) + separator(force[0]) + force[0].abbr
	}

	units := timeUnits
	if m.Unit.family == FamilyDataSize {
		units = dataUnits
	}
	base := abs.Value * abs.Unit.factor
	best := units[0]
	for _, u := range units {
		if base >= u.factor {
			best = u
		}
	}
	if base == 0 {
		sign = ""
	}
	return sign + formatNumber(base/best.factor, maxFractionDigits) + separator(best) + best.abbr
}

func (m Measurement) String() string {
	return m.Format(2)
}

type measurementJSON struct {
	Value     float64 `json:"value"`
	Unit      Unit    `json:"unit"`
	Formatted string  `json:"formatted"`
}

// MarshalJSON encodes the measurement with its formatted form.
func (m Measurement) MarshalJSON() ([]byte, error) {
	return json.Marshal(measurementJSON{Value: m.Value, Unit: m.Unit, Formatted: m.String()})
}

// UnmarshalJSON decodes value and unit, ignoring the formatted form.
func (m *Measurement) UnmarshalJSON(data []byte) error {
	var raw measurementJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Value = raw.Value
	m.Unit = raw.Unit
	return nil
}

// Round rounds v half away from zero to digits fraction digits.
func Round(v float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	return math.Round(v*p) / p
}

// Percentage returns part as a share of total in percent, rounded to two digits.
// Non-positive inputs yield zero.
func Percentage(part, total float64) float64 {
	if part <= 0 || total <= 0 {
		return 0
	}
	return Round(part/total*100, 2)
}

func formatNumber(v float64, digits int) string {
	if digits < 0 {
		digits = 0
	}
	return strconv.FormatFloat(Round(v, digits), 'f', -1, 64)
}

func separator(u Unit) string {
	if u.family == FamilyDataSize {
		return " "
	}
	return ""
}
