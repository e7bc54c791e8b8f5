package model

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/sargeom/ephemeris"
)

// ErrInvalidRefPoint is returned by RefPoint.Validate.
var ErrInvalidRefPoint = errors.New("invalid reference point")

// RefPoint anchors the sensor geometry: an image position, its slant range
// distance and the platform state at its acquisition date.
type RefPoint struct {
	Line      float64
	Pixel     float64
	Distance  float64 // slant range, m
	Ephemeris ephemeris.Ephemeris
}

// SlantRangeDistance returns the slant range of the reference pixel from the
// range gate delay of the first pixel (milliseconds), the reference column,
// the range look count and the sampling frequency (Hz):
//
//	d = (delay·1e-3 + pixel·looks/fs) · c/2
func SlantRangeDistance(rangeGateDelayMs, refPixel, rangeLooks, samplingFrequency float64) float64 {
	return (rangeGateDelayMs*1e-3 + refPixel*rangeLooks/samplingFrequency) * (SpeedOfLight / 2)
}

// TwoWayTime returns the round trip travel time matching Distance.
func (r RefPoint) TwoWayTime() float64 {
	return 2 * r.Distance / SpeedOfLight
}

// Validate enforces a strictly positive, finite slant range.
func (r RefPoint) Validate() error {
	if !(r.Distance > 0) || r.Distance > 1e9 {
		return fmt.Errorf("%w: slant range distance %v m", ErrInvalidRefPoint, r.Distance)
	}
	return nil
}
