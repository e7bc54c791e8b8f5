package core

import (
	"context"
	"math"

	geo "github.com/kellydunn/golang-geo"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/signalsfoundry/sargeom/internal/logging"
	"github.com/signalsfoundry/sargeom/model"
)

// floatEpsilon is the smallest coordinate variance a calibration factor is
// fitted on (single precision machine epsilon).
const floatEpsilon = 1.1920929e-07

// maxCalibrationFactor bounds the partial derivatives of an accepted
// correction anywhere on the image; larger fits are treated as degenerate.
const maxCalibrationFactor = 0.5

// maxCalibrationCondition is the largest condition number of the bilinear
// design matrix accepted before falling back to per-axis fits.
const maxCalibrationCondition = 1e10

const (
	uncorrectIterations = 20
	uncorrectTolerance  = 1e-10 // px
)

// Calibration is a bilinear correction of each image axis fitted on ground
// control points. A pixel p of the image at line l is seen by the sensor
// geometry at
//
//	p - (BiasX + FactorX·p + SkewX·l + TwistX·p·l)
//
// and the line l at
//
//	l - (BiasY + FactorY·l + SkewY·p + TwistY·p·l).
type Calibration struct {
	FactorX float64
	FactorY float64
	BiasX   float64
	BiasY   float64
	SkewX   float64
	SkewY   float64
	TwistX  float64
	TwistY  float64
}

// IsIdentity reports whether the calibration leaves coordinates unchanged.
func (c Calibration) IsIdentity() bool {
	return c == Calibration{}
}

// offset returns the correction subtracted from p.
func (c Calibration) offset(p model.ImagePoint) (dLine, dPixel float64) {
	pl := p.Pixel * p.Line
	dPixel = c.BiasX + c.FactorX*p.Pixel + c.SkewX*p.Line + c.TwistX*pl
	dLine = c.BiasY + c.FactorY*p.Line + c.SkewY*p.Pixel + c.TwistY*pl
	return dLine, dPixel
}

// jacobian returns the partial derivatives of the correction at p: the
// pixel correction by pixel and by line, then the line correction by pixel
// and by line.
func (c Calibration) jacobian(p model.ImagePoint) (xp, xl, yp, yl float64) {
	xp = c.FactorX + c.TwistX*p.Line
	xl = c.SkewX + c.TwistX*p.Pixel
	yp = c.SkewY + c.TwistY*p.Line
	yl = c.FactorY + c.TwistY*p.Pixel
	return xp, xl, yp, yl
}

func (c Calibration) correct(p model.ImagePoint) model.ImagePoint {
	dLine, dPixel := c.offset(p)
	return model.ImagePoint{Line: p.Line - dLine, Pixel: p.Pixel - dPixel}
}

// uncorrect returns the image point correct maps onto q.
func (c Calibration) uncorrect(q model.ImagePoint) model.ImagePoint {
	p := q
	for i := 0; i < uncorrectIterations; i++ {
		g := c.correct(p)
		rl, rp := g.Line-q.Line, g.Pixel-q.Pixel
		if math.Abs(rl) < uncorrectTolerance && math.Abs(rp) < uncorrectTolerance {
			break
		}
		xp, xl, yp, yl := c.jacobian(p)
		a, b := 1-xp, -xl
		d, e := -yp, 1-yl
		det := a*e - b*d
		if det == 0 {
			break
		}
		p.Pixel -= (rp*e - b*rl) / det
		p.Line -= (a*rl - d*rp) / det
	}
	return p
}

// stableOver reports whether c is finite and its partial derivatives stay
// below maxCalibrationFactor on r, which keeps correct invertible there.
// The derivatives are linear in each coordinate so the corners bound them.
func (c Calibration) stableOver(r model.Rect) bool {
	for _, v := range []float64{c.BiasX, c.BiasY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	for _, corner := range r.Corners() {
		xp, xl, yp, yl := c.jacobian(corner)
		for _, v := range []float64{xp, xl, yp, yl} {
			if !(math.Abs(v) < maxCalibrationFactor) {
				return false
			}
		}
	}
	return true
}

// Residual reports how well one GCP is reproduced by the model.
type Residual struct {
	GCP model.GCP
	// Projected is the image position of the GCP ground point.
	Projected model.ImagePoint
	// PixelError is the image distance between Projected and the GCP.
	PixelError float64
	// GroundErrorKm is the great circle distance between the GCP ground
	// point and the projection of its image point.
	GroundErrorKm float64
}

// Optimize fits the calibration to gcps, replacing the stored GCPs and the
// previous calibration. GCPs the uncalibrated model cannot project are
// skipped; without any usable GCP the calibration is reset.
func (m *ErsSarModel) Optimize(ctx context.Context, gcps []model.GCP) (Calibration, error) {
	s, _, err := m.ready()
	if err != nil {
		return Calibration{}, err
	}
	cal := fitCalibration(ctx, m.opts.logger.With(logging.String("model", KindErsSar)), s, gcps)

	m.mu.Lock()
	m.cal = cal
	m.gcps = append([]model.GCP(nil), gcps...)
	m.mu.Unlock()
	return cal, nil
}

// ClearGCPs drops the stored GCPs and resets the calibration.
func (m *ErsSarModel) ClearGCPs() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gcps = nil
	m.cal = Calibration{}
}

// GCPs returns a copy of the stored GCPs.
func (m *ErsSarModel) GCPs() []model.GCP {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.GCP(nil), m.gcps...)
}

// CalibrationResiduals projects every stored GCP with the calibrated model.
// Residuals of GCPs that fail to project carry NaN errors and the failures
// are returned combined.
func (m *ErsSarModel) CalibrationResiduals() ([]Residual, error) {
	s, cal, err := m.ready()
	if err != nil {
		return nil, err
	}
	gcps := m.GCPs()

	res := make([]Residual, 0, len(gcps))
	var errs error
	for _, gcp := range gcps {
		r := Residual{GCP: gcp, PixelError: math.NaN(), GroundErrorKm: math.NaN()}

		if p, _, err := s.inverse(cal, gcp.Ground); err != nil {
			errs = multierr.Append(errs, err)
		} else {
			r.Projected = p
			r.PixelError = math.Hypot(p.Line-gcp.Image.Line, p.Pixel-gcp.Image.Pixel)
		}

		if g, _, err := s.forward(cal, gcp.Image, gcp.Ground.Height); err != nil {
			errs = multierr.Append(errs, err)
		} else {
			r.GroundErrorKm = geo.NewPoint(gcp.Ground.Lat, gcp.Ground.Lon).
				GreatCircleDistance(geo.NewPoint(g.Lat, g.Lon))
		}
		res = append(res, r)
	}
	return res, errs
}

// fitCalibration fits, per image axis, the error between each GCP image
// coordinate and the uncalibrated projection of its ground point. With four
// or more GCPs spanning both axes the error is fitted bilinearly in pixel
// and line by least squares, which reproduces four corners exactly.
// Otherwise, or when that fit would not be invertible on the image, each
// axis is regressed on its own coordinate.
func fitCalibration(ctx context.Context, log logging.Logger, s *scene, gcps []model.GCP) Calibration {
	var pts []model.ImagePoint
	var pixelErrs, lineErrs []float64
	for i, gcp := range gcps {
		p, _, err := s.inverse(Calibration{}, gcp.Ground)
		if err != nil {
			log.Warn(ctx, "gcp skipped by calibration",
				logging.Int("index", i),
				logging.String("gcp", gcp.Ground.String()),
				logging.Err(err),
			)
			continue
		}
		pts = append(pts, gcp.Image)
		pixelErrs = append(pixelErrs, gcp.Image.Pixel-p.Pixel)
		lineErrs = append(lineErrs, gcp.Image.Line-p.Line)
	}
	if len(pts) == 0 {
		if len(gcps) > 0 {
			log.Warn(ctx, "no usable gcp, calibration left at identity", logging.Int("gcps", len(gcps)))
		}
		return Calibration{}
	}

	method := "bilinear"
	cal, ok := fitBilinear(pts, pixelErrs, lineErrs)
	if !ok || !cal.stableOver(s.clip) {
		method = "per_axis"
		cal = fitAxes(pts, pixelErrs, lineErrs)
	}
	log.Debug(ctx, "calibration fitted",
		logging.Int("gcps_used", len(pts)),
		logging.String("method", method),
		logging.Float64("factor_x", cal.FactorX),
		logging.Float64("factor_y", cal.FactorY),
		logging.Float64("bias_x", cal.BiasX),
		logging.Float64("bias_y", cal.BiasY),
	)
	return cal
}

// fitBilinear solves errs = bias + factor·own + skew·other + twist·pixel·line
// for both axes. It fails on fewer than four points or a rank deficient
// design, such as GCPs along a single line.
func fitBilinear(pts []model.ImagePoint, pixelErrs, lineErrs []float64) (Calibration, bool) {
	if len(pts) < 4 {
		return Calibration{}, false
	}
	// Columns are scaled to unit magnitude and the solution unscaled.
	sp, sl := 1.0, 1.0
	for _, p := range pts {
		sp = math.Max(sp, math.Abs(p.Pixel))
		sl = math.Max(sl, math.Abs(p.Line))
	}
	a := mat.NewDense(len(pts), 4, nil)
	for i, p := range pts {
		u, v := p.Pixel/sp, p.Line/sl
		a.SetRow(i, []float64{1, u, v, u * v})
	}
	var qr mat.QR
	qr.Factorize(a)
	if !(qr.Cond() < maxCalibrationCondition) {
		return Calibration{}, false
	}
	var x, y mat.VecDense
	if err := qr.SolveVecTo(&x, false, mat.NewVecDense(len(pixelErrs), pixelErrs)); err != nil {
		return Calibration{}, false
	}
	if err := qr.SolveVecTo(&y, false, mat.NewVecDense(len(lineErrs), lineErrs)); err != nil {
		return Calibration{}, false
	}
	return Calibration{
		BiasX:   x.AtVec(0),
		FactorX: x.AtVec(1) / sp,
		SkewX:   x.AtVec(2) / sl,
		TwistX:  x.AtVec(3) / (sp * sl),
		BiasY:   y.AtVec(0),
		SkewY:   y.AtVec(1) / sp,
		FactorY: y.AtVec(2) / sl,
		TwistY:  y.AtVec(3) / (sp * sl),
	}, true
}

func fitAxes(pts []model.ImagePoint, pixelErrs, lineErrs []float64) Calibration {
	pixels := make([]float64, len(pts))
	lines := make([]float64, len(pts))
	for i, p := range pts {
		pixels[i], lines[i] = p.Pixel, p.Line
	}
	var cal Calibration
	cal.FactorX, cal.BiasX = regress(pixels, pixelErrs)
	cal.FactorY, cal.BiasY = regress(lines, lineErrs)
	return cal
}

// regress fits errs = factor·coords + bias. With a single distinct
// coordinate only the mean offset is kept.
func regress(coords, errs []float64) (factor, bias float64) {
	if len(coords) >= 2 && stat.Variance(coords, nil) >= floatEpsilon {
		alpha, beta := stat.LinearRegression(coords, errs, nil, false)
		if math.Abs(beta) < maxCalibrationFactor {
			return beta, alpha
		}
	}
	return 0, stat.Mean(errs, nil)
}
