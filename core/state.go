package core

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/signalsfoundry/sargeom/calendar"
	"github.com/signalsfoundry/sargeom/ephemeris"
	"github.com/signalsfoundry/sargeom/internal/logging"
	"github.com/signalsfoundry/sargeom/kb"
	"github.com/signalsfoundry/sargeom/model"
)

// Keys written by SaveState, relative to the caller prefix.
const (
	keyType                = "type"
	keyFilename            = "filename"
	keyGeoreferenced       = "product_georeferenced_flag"
	keyOptimizationFactorX = "optimization_factor_x"
	keyOptimizationFactorY = "optimization_factor_y"
	keyOptimizationBiasX   = "optimization_bias_x"
	keyOptimizationBiasY   = "optimization_bias_y"
	keyOptimizationSkewX   = "optimization_skew_x"
	keyOptimizationSkewY   = "optimization_skew_y"
	keyOptimizationTwistX  = "optimization_twist_x"
	keyOptimizationTwistY  = "optimization_twist_y"
	keyWidth               = "num_pix"
	keyHeight              = "num_lines"
	sensorPrefix           = "sensor."
	refPrefix              = "ref_point."
	platformPrefix         = "platform_position."
	srgrPrefix             = "srgr."
	gcpPrefix              = "gcp."
)

// SaveState writes everything needed to rebuild the model with LoadState
// under prefix.
func (m *ErsSarModel) SaveState(kwl *kb.Keywordlist, prefix string) error {
	s, cal, err := m.ready()
	if err != nil {
		return err
	}
	gcps := m.GCPs()

	kwl.Add(prefix, keyType, KindErsSar)
	kwl.Add(prefix, keyFilename, s.filename)
	kwl.AddBool(prefix, keyGeoreferenced, s.georeferenced)
	kwl.AddFloat(prefix, keyOptimizationFactorX, cal.FactorX)
	kwl.AddFloat(prefix, keyOptimizationFactorY, cal.FactorY)
	kwl.AddFloat(prefix, keyOptimizationBiasX, cal.BiasX)
	kwl.AddFloat(prefix, keyOptimizationBiasY, cal.BiasY)
	kwl.AddFloat(prefix, keyOptimizationSkewX, cal.SkewX)
	kwl.AddFloat(prefix, keyOptimizationSkewY, cal.SkewY)
	kwl.AddFloat(prefix, keyOptimizationTwistX, cal.TwistX)
	kwl.AddFloat(prefix, keyOptimizationTwistY, cal.TwistY)
	kwl.AddInt(prefix, keyWidth, int64(s.width))
	kwl.AddInt(prefix, keyHeight, int64(s.height))

	sp := prefix + sensorPrefix
	kwl.AddFloat(sp, "prf", s.params.PRF)
	kwl.AddFloat(sp, "sampling_frequency", s.params.SamplingFrequency)
	kwl.AddFloat(sp, "wavelength", s.params.Wavelength)
	kwl.AddFloat(sp, "azimuth_looks", s.params.AzimuthLooks)
	kwl.AddFloat(sp, "range_looks", s.params.RangeLooks)
	kwl.AddInt(sp, "column_direction", int64(s.params.ColumnDirection))
	kwl.AddInt(sp, "line_direction", int64(s.params.LineDirection))
	kwl.Add(sp, "sight_direction", s.params.Sight.String())
	kwl.AddFloat(sp, "semi_major_axis", s.params.SemiMajorAxis)
	kwl.AddFloat(sp, "semi_minor_axis", s.params.SemiMinorAxis)

	rp := prefix + refPrefix
	kwl.AddFloat(rp, "line", s.ref.Line)
	kwl.AddFloat(rp, "pixel", s.ref.Pixel)
	kwl.AddFloat(rp, "distance", s.ref.Distance)
	kwl.AddInt(rp, "date_day", s.ref.Ephemeris.Date.Day)
	kwl.AddFloat(rp, "date_fraction", s.ref.Ephemeris.Date.Fraction)

	pp := prefix + platformPrefix
	samples := s.platform.Samples()
	kwl.AddInt(pp, "count", int64(len(samples)))
	kwl.Add(pp, "frame", s.platform.Frame().String())
	for i, e := range samples {
		ep := fmt.Sprintf("%seph%d.", pp, i)
		kwl.AddInt(ep, "date_day", e.Date.Day)
		kwl.AddFloat(ep, "date_fraction", e.Date.Fraction)
		kwl.AddFloat(ep, "posX", e.Position.X)
		kwl.AddFloat(ep, "posY", e.Position.Y)
		kwl.AddFloat(ep, "posZ", e.Position.Z)
		kwl.AddFloat(ep, "velX", e.Velocity.X)
		kwl.AddFloat(ep, "velY", e.Velocity.Y)
		kwl.AddFloat(ep, "velZ", e.Velocity.Z)
	}

	if s.georeferenced {
		gp := prefix + srgrPrefix
		kwl.AddInt(gp, "count", int64(len(s.srgr.Sets)))
		for i, set := range s.srgr.Sets {
			for j, c := range set {
				kwl.AddFloat(gp, fmt.Sprintf("coef%d_%d", i, j), c)
			}
		}
	}

	cp := prefix + gcpPrefix
	kwl.AddInt(cp, "count", int64(len(gcps)))
	for i, g := range gcps {
		p := fmt.Sprintf("%s%d.", cp, i)
		kwl.AddFloat(p, "line", g.Image.Line)
		kwl.AddFloat(p, "pixel", g.Image.Pixel)
		kwl.AddFloat(p, "lat", g.Ground.Lat)
		kwl.AddFloat(p, "lon", g.Ground.Lon)
		kwl.AddFloat(p, "height", g.Ground.Height)
	}
	return nil
}

// LoadState rebuilds a model written by SaveState. The stored calibration
// is restored without refitting; one that is not invertible on the image
// is rejected. Skew and twist terms default to zero.
func (m *ErsSarModel) LoadState(ctx context.Context, kwl *kb.Keywordlist, prefix string) error {
	if err := m.begin(); err != nil {
		return err
	}
	log := m.opts.logger.With(logging.String("model", KindErsSar), logging.String("prefix", prefix))

	s, cal, gcps, err := readState(kwl, prefix)
	return m.finish(ctx, log, s, cal, gcps, err)
}

func readState(kwl *kb.Keywordlist, prefix string) (*scene, Calibration, []model.GCP, error) {
	if kwl == nil {
		return nil, Calibration{}, nil, fmt.Errorf("%w: no keyword list", ErrInvalidMetadata)
	}
	r := &keyReader{kwl: kwl, prefix: prefix}
	if kind := r.string(keyType); r.err == nil && kind != KindErsSar {
		return nil, Calibration{}, nil, fmt.Errorf("%w: state of a %q model", ErrInvalidMetadata, kind)
	}

	s := &scene{}
	s.filename, _ = kwl.String(prefix, keyFilename)
	georef, err := kwl.Bool(prefix, keyGeoreferenced)
	r.err = multierr.Append(r.err, err)
	s.georeferenced = georef

	var cal Calibration
	cal.FactorX = r.float(keyOptimizationFactorX)
	cal.FactorY = r.float(keyOptimizationFactorY)
	cal.BiasX = r.float(keyOptimizationBiasX)
	cal.BiasY = r.float(keyOptimizationBiasY)
	cal.SkewX = r.optionalFloat(keyOptimizationSkewX, 0)
	cal.SkewY = r.optionalFloat(keyOptimizationSkewY, 0)
	cal.TwistX = r.optionalFloat(keyOptimizationTwistX, 0)
	cal.TwistY = r.optionalFloat(keyOptimizationTwistY, 0)
	s.width = r.int(keyWidth)
	s.height = r.int(keyHeight)
	if r.err == nil && (s.width <= 0 || s.height <= 0) {
		r.fail(fmt.Errorf("image size %dx%d", s.width, s.height))
	}
	s.clip = model.ImageRect(s.width, s.height)
	if r.err == nil && !cal.stableOver(s.clip) {
		r.fail(fmt.Errorf("calibration %+v is not invertible on the image", cal))
	}

	sr := &keyReader{kwl: kwl, prefix: prefix + sensorPrefix}
	s.params = model.SensorParams{
		PRF:               sr.float("prf"),
		SamplingFrequency: sr.float("sampling_frequency"),
		Wavelength:        sr.float("wavelength"),
		AzimuthLooks:      sr.float("azimuth_looks"),
		RangeLooks:        sr.float("range_looks"),
		ColumnDirection:   sr.int("column_direction"),
		LineDirection:     sr.int("line_direction"),
		SemiMajorAxis:     sr.float("semi_major_axis"),
		SemiMinorAxis:     sr.float("semi_minor_axis"),
	}
	if sight, err := model.ParseSightDirection(sr.string("sight_direction")); err != nil && sr.err == nil {
		sr.fail(err)
	} else {
		s.params.Sight = sight
	}
	s.ellipsoid = Ellipsoid{A: s.params.SemiMajorAxis, B: s.params.SemiMinorAxis}

	rr := &keyReader{kwl: kwl, prefix: prefix + refPrefix}
	s.ref.Line = rr.float("line")
	s.ref.Pixel = rr.float("pixel")
	s.ref.Distance = rr.float("distance")
	refDate := calendar.JSDDate{Day: int64(rr.int("date_day")), Fraction: rr.float("date_fraction")}

	if err := multierr.Combine(r.err, sr.err, rr.err); err != nil {
		return nil, Calibration{}, nil, err
	}
	if err := s.params.Validate(); err != nil {
		return nil, Calibration{}, nil, fmt.Errorf("%w: %w", ErrInvalidMetadata, err)
	}
	if err := s.ref.Validate(); err != nil {
		return nil, Calibration{}, nil, fmt.Errorf("%w: %w", ErrInvalidMetadata, err)
	}

	platform, err := readPlatformState(kwl, prefix+platformPrefix)
	if err != nil {
		return nil, Calibration{}, nil, fmt.Errorf("platform position: %w", err)
	}
	s.platform = platform
	if s.ref.Ephemeris, err = platform.Interpolate(refDate); err != nil {
		return nil, Calibration{}, nil, fmt.Errorf("reference point: %w", err)
	}

	if s.georeferenced {
		gr := &keyReader{kwl: kwl, prefix: prefix + srgrPrefix}
		count := gr.int("count")
		if err := checkCount(gr.err, count); err != nil {
			return nil, Calibration{}, nil, fmt.Errorf("srgr: %w", err)
		}
		for i := 0; i < count && gr.err == nil; i++ {
			var set [3]float64
			for j := range set {
				set[j] = gr.float(fmt.Sprintf("coef%d_%d", i, j))
			}
			s.srgr.Sets = append(s.srgr.Sets, set)
		}
		if gr.err != nil {
			return nil, Calibration{}, nil, fmt.Errorf("srgr: %w", gr.err)
		}
		if len(s.srgr.Sets) == 0 {
			return nil, Calibration{}, nil, fmt.Errorf("srgr: %w", model.ErrDegenerateSRGR)
		}
	}

	gcps, err := readGCPState(kwl, prefix+gcpPrefix)
	if err != nil {
		return nil, Calibration{}, nil, fmt.Errorf("gcps: %w", err)
	}
	return s, cal, gcps, nil
}

func readPlatformState(kwl *kb.Keywordlist, prefix string) (*ephemeris.PlatformPosition, error) {
	r := &keyReader{kwl: kwl, prefix: prefix}
	count := r.int("count")
	frameName := r.string("frame")
	if err := checkCount(r.err, count); err != nil {
		return nil, err
	}
	frame, err := ephemeris.ParseFrame(frameName)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMetadata, err)
	}

	samples := make([]ephemeris.Ephemeris, 0, count)
	for i := 0; i < count; i++ {
		er := &keyReader{kwl: kwl, prefix: fmt.Sprintf("%seph%d.", prefix, i)}
		date := calendar.JSDDate{Day: int64(er.int("date_day")), Fraction: er.float("date_fraction")}
		pos := er.vector("pos")
		vel := er.vector("vel")
		if er.err != nil {
			return nil, er.err
		}
		samples = append(samples, ephemeris.New(date, pos, vel, frame))
	}
	return ephemeris.NewPlatformPosition(samples)
}

func readGCPState(kwl *kb.Keywordlist, prefix string) ([]model.GCP, error) {
	r := &keyReader{kwl: kwl, prefix: prefix}
	count := r.int("count")
	if err := checkCount(r.err, count); err != nil {
		return nil, err
	}
	gcps := make([]model.GCP, 0, count)
	for i := 0; i < count; i++ {
		gr := &keyReader{kwl: kwl, prefix: fmt.Sprintf("%s%d.", prefix, i)}
		g := model.GCP{
			Image:  model.ImagePoint{Line: gr.float("line"), Pixel: gr.float("pixel")},
			Ground: model.GroundPoint{Lat: gr.float("lat"), Lon: gr.float("lon"), Height: gr.float("height")},
		}
		if gr.err != nil {
			return nil, gr.err
		}
		gcps = append(gcps, g)
	}
	return gcps, nil
}

// checkCount passes a read error through and rejects counts outside
// [0, maxMetadataCount].
func checkCount(readErr error, count int) error {
	if readErr != nil {
		return readErr
	}
	if count < 0 || count > maxMetadataCount {
		return fmt.Errorf("%w: count %d outside [0, %d]", ErrInvalidMetadata, count, maxMetadataCount)
	}
	return nil
}
