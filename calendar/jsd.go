package calendar

import (
	"fmt"
	"math"
)

// JSDDate is a continuous time scale made of a Julian day number and the
// fraction of day elapsed since 0h UT of that day. The Julian date of the
// instant is therefore Day - 0.5 + Fraction.
type JSDDate struct {
	Day      int64
	Fraction float64 // [0,1) once normalized
}

// Normalize renormalizes Fraction into [0,1) and carries whole days into
// Day.
func (j JSDDate) Normalize() JSDDate {
	if j.Fraction >= 0 && j.Fraction < 1 {
		return j
	}
	carry := math.Floor(j.Fraction)
	j.Day += int64(carry)
	j.Fraction -= carry
	if j.Fraction >= 1 {
		j.Fraction = 0
		j.Day++
	}
	return j
}

// Add returns the date shifted by seconds (possibly negative).
func (j JSDDate) Add(seconds float64) JSDDate {
	days := math.Trunc(seconds / SecondsPerDay)
	rest := seconds - days*SecondsPerDay
	return JSDDate{
		Day:      j.Day + int64(days),
		Fraction: j.Fraction + rest/SecondsPerDay,
	}.Normalize()
}

// Sub returns j - other in seconds.
func (j JSDDate) Sub(other JSDDate) float64 {
	return float64(j.Day-other.Day)*SecondsPerDay + (j.Fraction-other.Fraction)*SecondsPerDay
}

// Before reports whether j is strictly earlier than other.
func (j JSDDate) Before(other JSDDate) bool {
	return j.Sub(other) < 0
}

// JD returns the Julian date as a single float. Precision is limited to a
// few tens of microseconds; use Sub for time differences.
func (j JSDDate) JD() float64 {
	return float64(j.Day) - 0.5 + j.Fraction
}

// Civil converts the date back to the Gregorian calendar. The time of day
// is rounded to the nanosecond to absorb the representation error of the
// day fraction.
func (j JSDDate) Civil() CivilDate {
	n := j.Normalize()
	year, month, day := gregorianFromJDN(n.Day)

	sod := math.Round(n.Fraction*SecondsPerDay*1e9) / 1e9
	whole := math.Floor(sod)
	return CivilDate{
		Year:     year,
		Month:    month,
		Day:      day,
		Second:   int(whole),
		Fraction: sod - whole,
	}.Normalize()
}

func (j JSDDate) String() string {
	return fmt.Sprintf("JSD(%d+%.12f)", j.Day, j.Fraction)
}
