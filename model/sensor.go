package model

import (
	"errors"
	"fmt"
	"strings"
)

// SpeedOfLight in vacuum, m/s.
const SpeedOfLight = 2.99792458e8

// SightDirection is the side of the ground track the antenna looks at.
type SightDirection int

const (
	// Right-looking antenna (ERS-1/2).
	Right SightDirection = iota
	// Left-looking antenna.
	Left
)

func (s SightDirection) String() string {
	if s == Left {
		return "left"
	}
	return "right"
}

// ParseSightDirection accepts "left" or "right" in any case.
func ParseSightDirection(s string) (SightDirection, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "right":
		return Right, nil
	case "left":
		return Left, nil
	default:
		return Right, fmt.Errorf("unknown sight direction %q", s)
	}
}

// Sign returns +1 for a right-looking and -1 for a left-looking sensor.
func (s SightDirection) Sign() float64 {
	if s == Left {
		return -1
	}
	return 1
}

// DirectionFromString maps the leader-file time direction flags to an
// image axis sign: "INCREASE" (any case) is +1, anything else -1.
func DirectionFromString(s string) int {
	if strings.EqualFold(strings.TrimSpace(s), "INCREASE") {
		return 1
	}
	return -1
}

// SensorParams holds the static radar acquisition parameters.
type SensorParams struct {
	PRF               float64 // pulse repetition frequency, Hz
	SamplingFrequency float64 // range sampling frequency, Hz
	Wavelength        float64 // m
	AzimuthLooks      float64
	RangeLooks        float64
	ColumnDirection   int // +1 when the column index increases with range time
	LineDirection     int // +1 when the line index increases with azimuth time
	Sight             SightDirection
	SemiMajorAxis     float64 // m
	SemiMinorAxis     float64 // m
}

// EllipsoidFromKm converts leader-file ellipsoid axes given in kilometres
// to metres.
func EllipsoidFromKm(majorKm, minorKm float64) (major, minor float64) {
	return majorKm * 1000, minorKm * 1000
}

// LineDuration is the azimuth time between two consecutive image lines.
func (s SensorParams) LineDuration() float64 {
	return s.AzimuthLooks / s.PRF
}

// PixelSlantSpacing is the slant range distance between two consecutive
// slant range columns.
func (s SensorParams) PixelSlantSpacing() float64 {
	return (SpeedOfLight / 2) * s.RangeLooks / s.SamplingFrequency
}

// Looks returns the combined number of looks.
func (s SensorParams) Looks() float64 {
	return s.AzimuthLooks * s.RangeLooks
}

// Validate checks the parameters needed by the geometric model.
func (s SensorParams) Validate() error {
	var problems []string
	if !(s.PRF > 0) {
		problems = append(problems, fmt.Sprintf("prf %v must be positive", s.PRF))
	}
	if !(s.SamplingFrequency > 0) {
		problems = append(problems, fmt.Sprintf("sampling frequency %v must be positive", s.SamplingFrequency))
	}
	if !(s.AzimuthLooks > 0) || !(s.RangeLooks > 0) {
		problems = append(problems, fmt.Sprintf("look counts %v/%v must be positive", s.AzimuthLooks, s.RangeLooks))
	}
	if s.ColumnDirection != 1 && s.ColumnDirection != -1 {
		problems = append(problems, fmt.Sprintf("column direction %d must be ±1", s.ColumnDirection))
	}
	if s.LineDirection != 1 && s.LineDirection != -1 {
		problems = append(problems, fmt.Sprintf("line direction %d must be ±1", s.LineDirection))
	}
	if !(s.SemiMinorAxis > 0) || s.SemiMinorAxis > s.SemiMajorAxis {
		problems = append(problems, fmt.Sprintf("ellipsoid axes %v/%v are inconsistent", s.SemiMajorAxis, s.SemiMinorAxis))
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidSensorParams, strings.Join(problems, "; "))
}

// ErrInvalidSensorParams is wrapped by SensorParams.Validate failures.
var ErrInvalidSensorParams = errors.New("invalid sensor parameters")
