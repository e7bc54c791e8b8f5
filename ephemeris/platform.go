package ephemeris

import (
	"errors"
	"fmt"
	"sort"

	"github.com/golang/geo/r3"

	"github.com/signalsfoundry/sargeom/calendar"
)

var (
	// ErrNoEphemeris is returned when a platform position holds no sample.
	ErrNoEphemeris = errors.New("platform position has no ephemeris")
	// ErrOutOfRange is returned when an interpolation date lies outside the
	// time span covered by the samples.
	ErrOutOfRange = errors.New("date outside ephemeris coverage")
	// ErrMixedFrames is returned when samples are not all in the same frame.
	ErrMixedFrames = errors.New("ephemeris samples use different frames")
)

const (
	// interpolationPoints is the maximum number of samples used by one
	// Hermite interpolation.
	interpolationPoints = 8
	// edgeTolerance is how far (in seconds) a query may fall outside the
	// first/last sample and still be served.
	edgeTolerance = 1e-3
)

// PlatformPosition is an ordered table of ephemeris samples able to
// produce the platform state at any date within its coverage.
// It is immutable and safe for concurrent use.
type PlatformPosition struct {
	samples []Ephemeris
	// offsets[i] is samples[i].Date - samples[0].Date in seconds.
	offsets []float64
}

// NewPlatformPosition copies and sorts the samples by date. All samples
// must share the same frame.
func NewPlatformPosition(samples []Ephemeris) (*PlatformPosition, error) {
	if len(samples) == 0 {
		return nil, ErrNoEphemeris
	}

	sorted := make([]Ephemeris, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	frame := sorted[0].Frame
	offsets := make([]float64, len(sorted))
	for i, s := range sorted {
		if s.Frame != frame {
			return nil, fmt.Errorf("%w: sample %d is %s, sample 0 is %s", ErrMixedFrames, i, s.Frame, frame)
		}
		offsets[i] = s.Date.Sub(sorted[0].Date)
		if i > 0 && offsets[i] == offsets[i-1] {
			return nil, fmt.Errorf("duplicate ephemeris date %s", s.Date)
		}
	}

	return &PlatformPosition{samples: sorted, offsets: offsets}, nil
}

// Len returns the number of samples.
func (p *PlatformPosition) Len() int {
	if p == nil {
		return 0
	}
	return len(p.samples)
}

// Samples returns a copy of the samples in date order.
func (p *PlatformPosition) Samples() []Ephemeris {
	if p == nil {
		return nil
	}
	out := make([]Ephemeris, len(p.samples))
	copy(out, p.samples)
	return out
}

// Frame returns the frame shared by all samples.
func (p *PlatformPosition) Frame() Frame {
	return p.samples[0].Frame
}

// Span returns the dates of the first and last sample.
func (p *PlatformPosition) Span() (first, last calendar.JSDDate) {
	return p.samples[0].Date, p.samples[len(p.samples)-1].Date
}

// Interpolate returns the platform state at date. Positions and velocities
// are Hermite-interpolated over up to eight samples straddling the date,
// so a query exactly on a sample returns that sample.
func (p *PlatformPosition) Interpolate(date calendar.JSDDate) (Ephemeris, error) {
	if p.Len() == 0 {
		return Ephemeris{}, ErrNoEphemeris
	}

	t := date.Sub(p.samples[0].Date)
	last := p.offsets[len(p.offsets)-1]
	if t < -edgeTolerance || t > last+edgeTolerance {
		return Ephemeris{}, fmt.Errorf("%w: %s is %.3f s from first sample, coverage is [0, %.3f] s",
			ErrOutOfRange, date, t, last)
	}

	if len(p.samples) == 1 {
		return Ephemeris{Date: date, Position: p.samples[0].Position, Velocity: p.samples[0].Velocity, Frame: p.samples[0].Frame}, nil
	}

	lo, hi := p.window(t)
	pos, vel := hermite(p.offsets[lo:hi], p.samples[lo:hi], t)

	return Ephemeris{
		Date:     date,
		Position: pos,
		Velocity: vel,
		Frame:    p.samples[0].Frame,
	}, nil
}

// window returns the [lo, hi) sample range used for a query at offset t:
// the interpolationPoints samples closest to t, centred when possible.
func (p *PlatformPosition) window(t float64) (int, int) {
	n := len(p.offsets)
	size := interpolationPoints
	if n < size {
		size = n
	}

	// index of the first sample after t
	after := sort.SearchFloat64s(p.offsets, t)
	lo := after - size/2
	if lo < 0 {
		lo = 0
	}
	if lo+size > n {
		lo = n - size
	}
	return lo, lo + size
}

// hermite evaluates the Hermite interpolation polynomial through the
// samples (value and derivative) and its derivative at t.
func hermite(ts []float64, samples []Ephemeris, t float64) (r3.Vector, r3.Vector) {
	var pos, vel r3.Vector
	n := len(ts)
	for i := 0; i < n; i++ {
		li := 1.0     // L_i(t)
		dli := 0.0    // L_i'(t)
		sumInv := 0.0 // L_i'(t_i) / L_i(t_i) = Σ 1/(t_i - t_j)
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			denom := ts[i] - ts[j]
			sumInv += 1 / denom

			// product rule for L_i'(t), accumulated alongside L_i(t)
			dli = dli*(t-ts[j])/denom + li/denom
			li *= (t - ts[j]) / denom
		}

		dt := t - ts[i]
		h := (1 - 2*dt*sumInv) * li * li
		dh := -2*sumInv*li*li + (1-2*dt*sumInv)*2*li*dli
		k := dt * li * li
		dk := li*li + dt*2*li*dli

		s := samples[i]
		pos = pos.Add(s.Position.Mul(h)).Add(s.Velocity.Mul(k))
		vel = vel.Add(s.Position.Mul(dh)).Add(s.Velocity.Mul(dk))
	}
	return pos, vel
}
