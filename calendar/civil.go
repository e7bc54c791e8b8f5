// Package calendar converts between civil dates, Julian-day based continuous
// time (JSD) and Greenwich mean sidereal time (GMST).
//
// All conversions are value based: every operation returns a new date and
// leaves its receiver untouched.
package calendar

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// SecondsPerDay is the length of a civil (UTC) day in seconds.
const SecondsPerDay = 86400

// ErrMalformedDate is returned when an encoded date cannot be parsed.
var ErrMalformedDate = errors.New("malformed date")

// CivilDate is a Gregorian calendar date with the time of day expressed as a
// whole second count plus a fractional second.
type CivilDate struct {
	Year     int
	Month    int // 1-12
	Day      int // 1-31
	Second   int // second of day, [0, 86400) once normalized
	Fraction float64
}

// NewCivilDate builds a normalized date from calendar fields and a real
// second-of-day value.
func NewCivilDate(year, month, day int, secondOfDay float64) CivilDate {
	whole := math.Floor(secondOfDay)
	return CivilDate{
		Year:     year,
		Month:    month,
		Day:      day,
		Second:   int(whole),
		Fraction: secondOfDay - whole,
	}.Normalize()
}

// IsLeapYear reports whether year is a Gregorian leap year.
func IsLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

var monthLengths = [12]int{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

// DaysInMonth returns the number of days of month (1-12) in year.
func DaysInMonth(year, month int) int {
	if month == 2 && IsLeapYear(year) {
		return 29
	}
	return monthLengths[month-1]
}

// SecondOfDay returns the real-valued time of day in seconds.
func (d CivilDate) SecondOfDay() float64 {
	return float64(d.Second) + d.Fraction
}

// Normalize carries fractional-second, second, day and month overflow (or
// underflow) into the next coarser field so that Fraction is in [0,1),
// Second in [0,86400) and Day/Month form a valid calendar date. Normalizing
// an already normalized date returns it unchanged.
func (d CivilDate) Normalize() CivilDate {
	if d.Fraction < 0 || d.Fraction >= 1 {
		carry := math.Floor(d.Fraction)
		d.Fraction -= carry
		d.Second += int(carry)
		// Guard against rounding pushing the remainder onto 1.
		if d.Fraction >= 1 {
			d.Fraction = 0
			d.Second++
		}
	}

	days := floorDiv(d.Second, SecondsPerDay)
	d.Second -= days * SecondsPerDay
	d.Day += days

	years := floorDiv(d.Month-1, 12)
	d.Month -= years * 12
	d.Year += years

	for d.Day > DaysInMonth(d.Year, d.Month) {
		d.Day -= DaysInMonth(d.Year, d.Month)
		d.Month++
		if d.Month > 12 {
			d.Month = 1
			d.Year++
		}
	}
	for d.Day < 1 {
		d.Month--
		if d.Month < 1 {
			d.Month = 12
			d.Year--
		}
		d.Day += DaysInMonth(d.Year, d.Month)
	}
	return d
}

// AddSeconds returns the normalized date offset by the given number of
// seconds, which may be negative.
func (d CivilDate) AddSeconds(seconds float64) CivilDate {
	whole := math.Floor(seconds)
	d.Second += int(whole)
	d.Fraction += seconds - whole
	return d.Normalize()
}

// JSD converts the civil date to its Julian-day representation.
func (d CivilDate) JSD() JSDDate {
	n := d.Normalize()
	return JSDDate{
		Day:      julianDayNumber(n.Year, n.Month, n.Day),
		Fraction: n.SecondOfDay() / SecondsPerDay,
	}.Normalize()
}

// String formats the date as ISO-8601 with millisecond resolution.
func (d CivilDate) String() string {
	n := d.Normalize()
	ms := int(math.Round(n.Fraction * 1000))
	sec := n.Second
	if ms == 1000 {
		ms = 0
		sec++
	}
	return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02d.%03dZ",
		n.Year, n.Month, n.Day, sec/3600, (sec%3600)/60, sec%60, ms)
}

// ParseAcquisitionTime decodes the fixed-width YYYYMMDDHHMMSSmmm timestamps
// found in ERS leader files. Every field must be made of digits and lie in
// its calendar range.
func ParseAcquisitionTime(s string) (CivilDate, error) {
	if len(s) < 17 {
		return CivilDate{}, fmt.Errorf("%w: %q is shorter than 17 characters", ErrMalformedDate, s)
	}

	fields := [...]struct {
		name     string
		from, to int
		min, max int
	}{
		{"year", 0, 4, 0, 9999},
		{"month", 4, 6, 1, 12},
		{"day", 6, 8, 1, 31},
		{"hour", 8, 10, 0, 23},
		{"minute", 10, 12, 0, 59},
		{"second", 12, 14, 0, 60},
		{"millisecond", 14, 17, 0, 999},
	}

	var v [len(fields)]int
	for i, f := range fields {
		raw := s[f.from:f.to]
		n, err := strconv.Atoi(raw)
		if err != nil || !isDigits(raw) {
			return CivilDate{}, fmt.Errorf("%w: %s field %q in %q", ErrMalformedDate, f.name, raw, s)
		}
		if n < f.min || n > f.max {
			return CivilDate{}, fmt.Errorf("%w: %s %d out of range [%d,%d]", ErrMalformedDate, f.name, n, f.min, f.max)
		}
		v[i] = n
	}
	if v[2] > DaysInMonth(v[0], v[1]) {
		return CivilDate{}, fmt.Errorf("%w: day %d does not exist in %04d-%02d", ErrMalformedDate, v[2], v[0], v[1])
	}

	return CivilDate{
		Year:     v[0],
		Month:    v[1],
		Day:      v[2],
		Second:   v[3]*3600 + v[4]*60 + v[5],
		Fraction: float64(v[6]) / 1000,
	}.Normalize(), nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// julianDayNumber returns the Julian day number of the Gregorian date, i.e.
// the Julian date at noon of that day.
func julianDayNumber(year, month, day int) int64 {
	a := int64((14 - month) / 12)
	y := int64(year) + 4800 - a
	m := int64(month) + 12*a - 3
	return int64(day) + (153*m+2)/5 + 365*y + floorDiv64(y, 4) - floorDiv64(y, 100) + floorDiv64(y, 400) - 32045
}

// gregorianFromJDN inverts julianDayNumber.
func gregorianFromJDN(jdn int64) (year, month, day int) {
	a := jdn + 32044
	b := floorDiv64(4*a+3, 146097)
	c := a - floorDiv64(146097*b, 4)
	d := floorDiv64(4*c+3, 1461)
	e := c - floorDiv64(1461*d, 4)
	m := floorDiv64(5*e+2, 153)

	day = int(e - floorDiv64(153*m+2, 5) + 1)
	month = int(m + 3 - 12*floorDiv64(m, 10))
	year = int(100*b + d - 4800 + floorDiv64(m, 10))
	return year, month, day
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorDiv64(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
