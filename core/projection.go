package core

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/signalsfoundry/sargeom/calendar"
	"github.com/signalsfoundry/sargeom/ephemeris"
	"github.com/signalsfoundry/sargeom/model"
)

// ErrInvalidPoint is returned for NaN query coordinates.
var ErrInvalidPoint = errors.New("invalid point")

const (
	intersectionIterations = 50
	// tangentTolerance (m) lets a range sphere that just touches the
	// ellipsoid count as intersecting it.
	tangentTolerance = 1e-3
	angleTolerance   = 1e-4 // m of arc along the range circle

	heightIterations = 30
	heightTolerance  = 1e-2 // m

	dopplerIterations = 30
	dopplerTolerance  = 1e-9 // s

	refineIterations = 20
	refineTolerance  = 1e-3 // px
	groundTolerance  = 1.0  // m
)

// LineSampleHeightToWorld returns the ground position seen at image point
// p on the ellipsoid raised by h metres.
func (m *ErsSarModel) LineSampleHeightToWorld(p model.ImagePoint, h float64) (model.GroundPoint, error) {
	s, cal, err := m.ready()
	if err != nil {
		return model.GroundPoint{}, err
	}
	if p.HasNaN() || math.IsNaN(h) {
		return model.GroundPoint{}, fmt.Errorf("%w: %v at height %v", ErrInvalidPoint, p, h)
	}
	g, n, err := s.forward(cal, p, h)
	m.opts.metrics.ObserveGeocode(DirectionForward, n, err)
	return g, err
}

// LineSampleToWorld returns the ground position seen at image point p. The
// height comes from the model ElevationSource and is refined by fixed-point
// iteration.
func (m *ErsSarModel) LineSampleToWorld(p model.ImagePoint) (model.GroundPoint, error) {
	s, cal, err := m.ready()
	if err != nil {
		return model.GroundPoint{}, err
	}
	if p.HasNaN() {
		return model.GroundPoint{}, fmt.Errorf("%w: %v", ErrInvalidPoint, p)
	}

	g, n, err := s.forwardOnTerrain(cal, p, m.opts.elevation)
	m.opts.metrics.ObserveGeocode(DirectionForward, n, err)
	return g, err
}

// WorldToLineSample returns the image point that sees ground position g.
func (m *ErsSarModel) WorldToLineSample(g model.GroundPoint) (model.ImagePoint, error) {
	s, cal, err := m.ready()
	if err != nil {
		return model.ImagePoint{}, err
	}
	if g.HasNaN() || math.IsNaN(g.Height) {
		return model.ImagePoint{}, fmt.Errorf("%w: %v", ErrInvalidPoint, g)
	}

	p, n, err := s.inverse(cal, g)
	m.opts.metrics.ObserveGeocode(DirectionInverse, n, err)
	return p, err
}

// lineDate returns the azimuth time of a model line.
func (s *scene) lineDate(line float64) calendar.JSDDate {
	dt := float64(s.params.LineDirection) * (line - s.ref.Line) * s.params.LineDuration()
	return s.ref.Ephemeris.Date.Add(dt)
}

// slantRange returns the slant range of a model column.
func (s *scene) slantRange(pixel float64) float64 {
	if s.georeferenced {
		return s.srgr.SlantRange(pixel)
	}
	return s.ref.Distance + float64(s.params.ColumnDirection)*(pixel-s.ref.Pixel)*s.params.PixelSlantSpacing()
}

// platformAt returns the Earth-fixed platform state at date.
func (s *scene) platformAt(date calendar.JSDDate) (ephemeris.Ephemeris, error) {
	eph, err := s.platform.Interpolate(date)
	if err != nil {
		return ephemeris.Ephemeris{}, err
	}
	return eph.In(ephemeris.Geographic), nil
}

func (s *scene) forward(cal Calibration, p model.ImagePoint, h float64) (model.GroundPoint, int, error) {
	q := cal.correct(p)
	eph, err := s.platformAt(s.lineDate(q.Line))
	if err != nil {
		return model.GroundPoint{}, 0, fmt.Errorf("line %.3f: %w", p.Line, err)
	}

	surface := s.ellipsoid.Raised(h)
	x, n, err := intersect(eph.Position, eph.Velocity, s.slantRange(q.Pixel), surface, s.params.Sight.Sign())
	if err != nil {
		return model.GroundPoint{}, n, fmt.Errorf("%v: %w", p, err)
	}
	lat, lon := surface.SurfaceLatLon(x)
	return model.GroundPoint{Lat: lat, Lon: lon, Height: h}, n, nil
}

func (s *scene) forwardOnTerrain(cal Calibration, p model.ImagePoint, terrain ElevationSource) (model.GroundPoint, int, error) {
	h := 0.0
	total := 0
	for i := 0; i < heightIterations; i++ {
		g, n, err := s.forward(cal, p, h)
		total += n
		if err != nil {
			return model.GroundPoint{}, total, err
		}
		next := terrain.Height(g.Lat, g.Lon)
		if math.Abs(next-h) < heightTolerance {
			return g, total, nil
		}
		h = next
	}
	return model.GroundPoint{}, total, fmt.Errorf("%w: terrain height at %v after %d iterations", ErrNotConverged, p, heightIterations)
}

// intersect returns the point of the zero-Doppler plane of (pos, vel) at
// distance rng from pos lying on the surface, on the given side of the
// ground track (+1 right, -1 left). The point is searched on the range
// circle by its angle from the downward direction.
func intersect(pos, vel r3.Vector, rng float64, surface Ellipsoid, side float64) (r3.Vector, int, error) {
	if !(rng > 0) {
		return r3.Vector{}, 0, fmt.Errorf("%w: slant range %v m", ErrNoIntersection, rng)
	}
	speed := vel.Norm()
	if speed == 0 {
		return r3.Vector{}, 0, fmt.Errorf("%w: platform velocity is zero", ErrNoIntersection)
	}
	along := vel.Mul(1 / speed)
	down := surface.Normal(pos).Mul(-1)
	u := down.Sub(along.Mul(down.Dot(along)))
	if u.Norm() < 1e-12 {
		return r3.Vector{}, 0, fmt.Errorf("%w: platform moves vertically", ErrNoIntersection)
	}
	u = u.Normalize()
	w := u.Cross(along).Mul(side)

	point := func(theta float64) r3.Vector {
		sn, cs := math.Sincos(theta)
		return pos.Add(u.Mul(rng * cs)).Add(w.Mul(rng * sn))
	}

	f0 := surface.Implicit(point(0))
	if math.Abs(f0) <= 2*tangentTolerance/surface.A {
		return point(0), 0, nil
	}
	if f0 > 0 {
		return r3.Vector{}, 0, fmt.Errorf("%w: slant range %.1f m is shorter than the platform height", ErrNoIntersection, rng)
	}
	lo, hi := 0.0, math.Pi/2
	if surface.Implicit(point(hi)) <= 0 {
		return r3.Vector{}, 0, fmt.Errorf("%w: platform is inside the ellipsoid", ErrNoIntersection)
	}

	// Flat Earth look angle as a starting point.
	theta := 0.5
	if height := pos.Norm() - surfaceRadius(surface, pos); height > 0 && height < rng {
		theta = math.Acos(height / rng)
	}
	a2, b2 := surface.A*surface.A, surface.B*surface.B
	for i := 1; i <= intersectionIterations; i++ {
		x := point(theta)
		f := surface.Implicit(x)
		if f < 0 {
			lo = theta
		} else {
			hi = theta
		}

		sn, cs := math.Sincos(theta)
		dx := u.Mul(-rng * sn).Add(w.Mul(rng * cs))
		df := 2 * ((x.X*dx.X+x.Y*dx.Y)/a2 + x.Z*dx.Z/b2)

		next := theta - f/df
		if df == 0 || math.IsNaN(next) || next <= lo || next >= hi {
			next = (lo + hi) / 2
		}
		if math.Abs(next-theta)*rng < angleTolerance {
			return point(next), i, nil
		}
		theta = next
	}
	return r3.Vector{}, intersectionIterations, fmt.Errorf("%w: ellipsoid intersection after %d iterations", ErrNotConverged, intersectionIterations)
}

// surfaceRadius returns the distance from the centre to the surface along
// the direction of p.
func surfaceRadius(e Ellipsoid, p r3.Vector) float64 {
	d := p.Normalize()
	return 1 / math.Sqrt((d.X*d.X+d.Y*d.Y)/(e.A*e.A)+d.Z*d.Z/(e.B*e.B))
}

func (s *scene) inverse(cal Calibration, g model.GroundPoint) (model.ImagePoint, int, error) {
	target := s.ellipsoid.GroundToECEF(g.Lat, g.Lon, g.Height)

	dt, eph, n, err := s.zeroDoppler(target)
	if err != nil {
		return model.ImagePoint{}, n, fmt.Errorf("%v: %w", g, err)
	}

	line := s.ref.Line + float64(s.params.LineDirection)*dt/s.params.LineDuration()
	rng := target.Distance(eph.Position)
	var pixel float64
	if s.georeferenced {
		if pixel, err = s.srgr.Column(rng); err != nil {
			return model.ImagePoint{}, n, err
		}
	} else {
		pixel = s.ref.Pixel + float64(s.params.ColumnDirection)*(rng-s.ref.Distance)/s.params.PixelSlantSpacing()
	}

	guess := cal.uncorrect(model.ImagePoint{Line: line, Pixel: pixel})
	p, k, err := s.refine(cal, g, target, guess)
	return p, n + k, err
}

// zeroDoppler finds the time offset from the reference date at which the
// platform velocity is orthogonal to the line of sight to target.
func (s *scene) zeroDoppler(target r3.Vector) (float64, ephemeris.Ephemeris, int, error) {
	doppler := func(dt float64) (float64, ephemeris.Ephemeris, error) {
		eph, err := s.platformAt(s.ref.Ephemeris.Date.Add(dt))
		if err != nil {
			return 0, eph, err
		}
		return target.Sub(eph.Position).Dot(eph.Velocity), eph, nil
	}

	dt := 0.0
	d, eph, err := doppler(dt)
	if err != nil {
		return 0, eph, 0, err
	}
	// d(dt) ≈ d(0) - |V|²·dt gives the first step; secant steps follow.
	slope := -eph.Velocity.Norm2()
	for i := 1; i <= dopplerIterations; i++ {
		step := -d / slope
		next := dt + step
		nd, neph, err := doppler(next)
		if err != nil {
			return 0, neph, i, err
		}
		if math.Abs(step) < dopplerTolerance {
			return next, neph, i, nil
		}
		if nd != d {
			slope = (nd - d) / (next - dt)
		}
		dt, d = next, nd
	}
	return 0, ephemeris.Ephemeris{}, dopplerIterations, fmt.Errorf("%w: zero-Doppler time after %d iterations", ErrNotConverged, dopplerIterations)
}

// refine runs Newton iterations on the forward model from guess until the
// image step falls under refineTolerance. Partial derivatives are taken
// numerically with one pixel steps.
func (s *scene) refine(cal Calibration, g model.GroundPoint, target r3.Vector, guess model.ImagePoint) (model.ImagePoint, int, error) {
	p := guess
	for i := 1; i <= refineIterations; i++ {
		f, _, err := s.forward(cal, p, g.Height)
		if err != nil {
			return p, i, err
		}
		latL, lonL, err := s.partial(cal, p, f, 1, 0)
		if err != nil {
			return p, i, err
		}
		latP, lonP, err := s.partial(cal, p, f, 0, 1)
		if err != nil {
			return p, i, err
		}

		j := mat.NewDense(2, 2, []float64{latL, latP, lonL, lonP})
		rhs := mat.NewVecDense(2, []float64{g.Lat - f.Lat, wrapDegrees(g.Lon - f.Lon)})
		var delta mat.VecDense
		if err := delta.SolveVec(j, rhs); err != nil {
			var cond mat.Condition
			if !errors.As(err, &cond) {
				return p, i, fmt.Errorf("%w: singular jacobian at %v", ErrNotConverged, p)
			}
		}

		p.Line += delta.AtVec(0)
		p.Pixel += delta.AtVec(1)
		if math.Hypot(delta.AtVec(0), delta.AtVec(1)) < refineTolerance {
			return p, i, s.checkGround(cal, p, g, target)
		}
	}
	return p, refineIterations, fmt.Errorf("%w: image refinement of %v after %d iterations", ErrNotConverged, g, refineIterations)
}

// partial returns the change of latitude and longitude for a one step move
// of p by (dLine, dPixel). The step is reversed when the forward one leaves
// the ephemeris coverage or misses the ellipsoid.
func (s *scene) partial(cal Calibration, p model.ImagePoint, base model.GroundPoint, dLine, dPixel float64) (float64, float64, error) {
	step := model.ImagePoint{Line: p.Line + dLine, Pixel: p.Pixel + dPixel}
	g, _, err := s.forward(cal, step, base.Height)
	if err == nil {
		return g.Lat - base.Lat, wrapDegrees(g.Lon - base.Lon), nil
	}
	step = model.ImagePoint{Line: p.Line - dLine, Pixel: p.Pixel - dPixel}
	g, _, err = s.forward(cal, step, base.Height)
	if err != nil {
		return 0, 0, err
	}
	return base.Lat - g.Lat, wrapDegrees(base.Lon - g.Lon), nil
}

// checkGround rejects image points whose forward projection does not come
// back to target. Newton steps shrink without reaching the target when it
// is not visible from the sensor.
func (s *scene) checkGround(cal Calibration, p model.ImagePoint, g model.GroundPoint, target r3.Vector) error {
	f, _, err := s.forward(cal, p, g.Height)
	if err != nil {
		return err
	}
	got := s.ellipsoid.GroundToECEF(f.Lat, f.Lon, f.Height)
	if d := got.Distance(target); d > groundTolerance {
		return fmt.Errorf("%w: %v projects %.2f m away from %v", ErrNotConverged, p, d, g)
	}
	return nil
}
