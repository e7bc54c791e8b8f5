package model

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrDegenerateSRGR is returned when the SRGR samples do not define a
// quadratic (coincident pixel indices).
var ErrDegenerateSRGR = errors.New("degenerate SRGR samples")

// SRGR maps a ground range column to a two-way travel time with one
// quadratic polynomial per along-track segment:
//
//	t(x) = c0 + c1·x + c2·x²
type SRGR struct {
	Sets [][3]float64
}

// NewSRGR solves the quadratic through (0,t1), (x2,t2), (x3,t3) where the
// times are given in milliseconds for the first, centre and last pixel, x2
// is the 0-based centre pixel and x3 = 2·(x2+1) − 1.
func NewSRGR(firstMs, centerMs, lastMs, centerPixel float64) (SRGR, error) {
	t1 := firstMs * 1e-3
	t2 := centerMs * 1e-3
	t3 := lastMs * 1e-3
	x2 := centerPixel
	x3 := 2*(x2+1) - 1

	if x2 == 0 || x3 == 0 || x2 == x3 {
		return SRGR{}, fmt.Errorf("%w: centre pixel %v", ErrDegenerateSRGR, centerPixel)
	}

	c0 := t1
	c1 := ((t2-t1)/(x2*x2) + (t1-t3)/(x3*x3)) / (1/x2 - 1/x3)
	c2 := ((t2-t1)/x2 + (t1-t3)/x3) / (x2 - x3)

	return SRGR{Sets: [][3]float64{{c0, c1, c2}}}, nil
}

// NumberOfCoefficients returns the number of coefficient sets.
func (s SRGR) NumberOfCoefficients() int {
	return len(s.Sets)
}

// Eval returns the two-way travel time of ground range column x using the
// first coefficient set.
func (s SRGR) Eval(x float64) float64 {
	return s.EvalSet(0, x)
}

// EvalSet evaluates coefficient set i at x.
func (s SRGR) EvalSet(i int, x float64) float64 {
	c := s.Sets[i]
	return c[0] + c[1]*x + c[2]*x*x
}

// SlantRange converts a ground range column to a slant range distance.
func (s SRGR) SlantRange(col float64) float64 {
	return s.Eval(col) * (SpeedOfLight / 2)
}

// Column inverts SlantRange: it returns the ground range column whose
// two-way time matches the slant range, choosing the root nearest to the
// linear solution.
func (s SRGR) Column(slantRange float64) (float64, error) {
	if len(s.Sets) == 0 {
		return 0, fmt.Errorf("%w: no coefficient set", ErrDegenerateSRGR)
	}
	c := s.Sets[0]
	tau := 2 * slantRange / SpeedOfLight
	if c[1] == 0 {
		return 0, fmt.Errorf("%w: zero linear coefficient", ErrDegenerateSRGR)
	}

	x := (tau - c[0]) / c[1]
	for i := 0; i < 20; i++ {
		f := c[0] + c[1]*x + c[2]*x*x - tau
		df := c[1] + 2*c[2]*x
		if df == 0 {
			break
		}
		step := f / df
		x -= step
		if math.Abs(step) < 1e-9 {
			return x, nil
		}
	}
	return x, nil
}

// IsGeoreferencedProduct reports whether a product file name designates a
// ground range (PRI) product.
func IsGeoreferencedProduct(filename string) bool {
	return strings.Contains(strings.ToUpper(filename), "PRI")
}
