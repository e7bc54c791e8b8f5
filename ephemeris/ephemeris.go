// Package ephemeris models timestamped platform state vectors and the
// interpolation of an orbit from a table of them.
package ephemeris

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"

	"github.com/signalsfoundry/sargeom/calendar"
)

// OmegaEarth is Earth's rotation rate in rad/s (IAU value).
const OmegaEarth = 7.292115146706979e-5

// Frame identifies the coordinate frame of a state vector.
type Frame int

const (
	// Geographic is the Earth-fixed (ECEF) frame.
	Geographic Frame = iota
	// Galilean is the inertial frame, aligned with Geographic at GMST 0.
	Galilean
)

func (f Frame) String() string {
	switch f {
	case Geographic:
		return "geographic"
	case Galilean:
		return "galilean"
	default:
		return fmt.Sprintf("frame(%d)", int(f))
	}
}

// ParseFrame is the inverse of Frame.String.
func ParseFrame(s string) (Frame, error) {
	switch s {
	case "geographic":
		return Geographic, nil
	case "galilean":
		return Galilean, nil
	default:
		return 0, fmt.Errorf("unknown ephemeris frame %q", s)
	}
}

// Ephemeris is one platform state sample: position in metres and velocity
// in metres per second, tagged with its date and frame.
type Ephemeris struct {
	Date     calendar.JSDDate
	Position r3.Vector
	Velocity r3.Vector
	Frame    Frame
}

// New builds an ephemeris sample.
func New(date calendar.JSDDate, pos, vel r3.Vector, frame Frame) Ephemeris {
	return Ephemeris{Date: date.Normalize(), Position: pos, Velocity: vel, Frame: frame}
}

// In returns the sample expressed in the requested frame.
func (e Ephemeris) In(frame Frame) Ephemeris {
	if frame == Galilean {
		return e.ToGalilean()
	}
	return e.ToGeographic()
}

// ToGalilean rotates an Earth-fixed sample into the inertial frame using
// the sidereal angle at the sample date:
//
//	r_i = R3(-θ) r_e
//	v_i = R3(-θ) (v_e + ω × r_e)
func (e Ephemeris) ToGalilean() Ephemeris {
	if e.Frame == Galilean {
		return e
	}
	theta := e.Date.GMST().Angle()
	c, s := math.Cos(theta), math.Sin(theta)

	r := e.Position
	v := r3.Vector{
		X: e.Velocity.X - OmegaEarth*r.Y,
		Y: e.Velocity.Y + OmegaEarth*r.X,
		Z: e.Velocity.Z,
	}

	return Ephemeris{
		Date:     e.Date,
		Position: rotateZ(r, c, -s),
		Velocity: rotateZ(v, c, -s),
		Frame:    Galilean,
	}
}

// ToGeographic is the inverse of ToGalilean:
//
//	r_e = R3(θ) r_i
//	v_e = R3(θ) v_i − ω × r_e
func (e Ephemeris) ToGeographic() Ephemeris {
	if e.Frame == Geographic {
		return e
	}
	theta := e.Date.GMST().Angle()
	c, s := math.Cos(theta), math.Sin(theta)

	r := rotateZ(e.Position, c, s)
	v := rotateZ(e.Velocity, c, s)
	v.X += OmegaEarth * r.Y
	v.Y -= OmegaEarth * r.X

	return Ephemeris{
		Date:     e.Date,
		Position: r,
		Velocity: v,
		Frame:    Geographic,
	}
}

// rotateZ applies R3 with the given cosine and sine:
// x' = x·c + y·s, y' = −x·s + y·c.
func rotateZ(v r3.Vector, c, s float64) r3.Vector {
	return r3.Vector{
		X: v.X*c + v.Y*s,
		Y: -v.X*s + v.Y*c,
		Z: v.Z,
	}
}
