package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/geo/r3"
	"go.uber.org/multierr"

	"github.com/signalsfoundry/sargeom/calendar"
	"github.com/signalsfoundry/sargeom/ephemeris"
	"github.com/signalsfoundry/sargeom/internal/logging"
	"github.com/signalsfoundry/sargeom/kb"
	"github.com/signalsfoundry/sargeom/model"
)

// ErsSarModel is the geometric model of an ERS-1/2 SAR scene. It moves
// from StateUnloaded to StateReady or StateFailed exactly once; once Ready
// its queries are read-only and safe for concurrent use.
type ErsSarModel struct {
	opts options

	mu      sync.RWMutex
	state   State
	loadErr error
	scene   *scene
	cal     Calibration
	gcps    []model.GCP
}

// scene is the immutable geometry of a loaded model.
type scene struct {
	filename      string
	georeferenced bool
	params        model.SensorParams
	platform      *ephemeris.PlatformPosition
	ref           model.RefPoint
	srgr          model.SRGR
	width         int
	height        int
	clip          model.Rect
	ellipsoid     Ellipsoid
}

var _ SensorModel = (*ErsSarModel)(nil)

// NewErsSarModel returns an unloaded model.
func NewErsSarModel(opts ...Option) *ErsSarModel {
	return &ErsSarModel{opts: buildOptions(opts)}
}

// State returns the lifecycle state.
func (m *ErsSarModel) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Kind returns KindErsSar.
func (m *ErsSarModel) Kind() string {
	return KindErsSar
}

// Err returns the error that moved the model to StateFailed.
func (m *ErsSarModel) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadErr
}

// Open loads the model from ERS leader-file metadata. The platform
// position, sensor parameters, reference point and SRGR are built in that
// order and the first failing step aborts the load. The corner GCPs then
// calibrate the model unless WithoutCornerCalibration was given.
func (m *ErsSarModel) Open(ctx context.Context, kwl *kb.Keywordlist) error {
	if err := m.begin(); err != nil {
		return err
	}
	log := m.opts.logger.With(logging.String("model", KindErsSar))

	s, err := loadScene(kwl)
	var gcps []model.GCP
	cal := Calibration{}
	if err == nil {
		gcps, err = readCornerGCPs(kwl)
		if err != nil && !m.opts.cornerCalibration {
			log.Debug(ctx, "corner GCPs unavailable", logging.Err(err))
			gcps, err = nil, nil
		}
	}
	if err == nil && m.opts.cornerCalibration {
		cal = fitCalibration(ctx, log, s, gcps)
	}

	return m.finish(ctx, log, s, cal, gcps, err)
}

func (m *ErsSarModel) begin() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateUnloaded {
		return fmt.Errorf("%w: model is %s", ErrAlreadyOpened, m.state)
	}
	m.state = StateLoading
	return nil
}

func (m *ErsSarModel) finish(ctx context.Context, log logging.Logger, s *scene, cal Calibration, gcps []model.GCP, err error) error {
	m.mu.Lock()
	if err != nil {
		m.state = StateFailed
		m.loadErr = err
	} else {
		m.state = StateReady
		m.scene = s
		m.cal = cal
		m.gcps = gcps
	}
	m.mu.Unlock()

	m.opts.metrics.ObserveLoad(KindErsSar, err)
	if err != nil {
		log.Error(ctx, "sensor model load failed", logging.Err(err))
		return err
	}
	log.Info(ctx, "sensor model ready",
		logging.String("filename", s.filename),
		logging.Bool("georeferenced", s.georeferenced),
		logging.Int("width", s.width),
		logging.Int("height", s.height),
		logging.Int("ephemeris_samples", s.platform.Len()),
		logging.Float64("ref_distance_m", s.ref.Distance),
		logging.Any("calibration", cal),
	)
	return nil
}

// ready returns the loaded scene and calibration, or ErrNotReady.
func (m *ErsSarModel) ready() (*scene, Calibration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateReady {
		return nil, Calibration{}, fmt.Errorf("%w: model is %s", ErrNotReady, m.state)
	}
	return m.scene, m.cal, nil
}

// ImageSize returns the image width and height in pixels.
func (m *ErsSarModel) ImageSize() (width, height int, err error) {
	s, _, err := m.ready()
	if err != nil {
		return 0, 0, err
	}
	return s.width, s.height, nil
}

// ReferencePoint returns the model anchor.
func (m *ErsSarModel) ReferencePoint() (model.RefPoint, error) {
	s, _, err := m.ready()
	if err != nil {
		return model.RefPoint{}, err
	}
	return s.ref, nil
}

// Calibration returns the current image calibration.
func (m *ErsSarModel) Calibration() Calibration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cal
}

// Describe summarises the model. Fields other than Kind and State are
// zero until the model is Ready. The corner projections are not reported
// as geocodes to the metrics recorder.
func (m *ErsSarModel) Describe() Description {
	m.mu.RLock()
	d := Description{Kind: KindErsSar, State: m.state, Calibration: m.cal, GCPCount: len(m.gcps)}
	s, cal := m.scene, m.cal
	m.mu.RUnlock()
	if s == nil {
		return d
	}

	d.Filename = s.filename
	d.Georeferenced = s.georeferenced
	d.Width, d.Height = s.width, s.height
	d.RefLine, d.RefPixel, d.RefDistance = s.ref.Line, s.ref.Pixel, s.ref.Distance
	d.RefDate = s.ref.Ephemeris.Date.Civil().String()

	for _, c := range s.clip.Corners() {
		if g, _, err := s.forwardOnTerrain(cal, c, m.opts.elevation); err == nil {
			d.Corners = append(d.Corners, g)
		}
	}
	if g, _, err := s.forward(cal, model.ImagePoint{Line: s.ref.Line, Pixel: s.ref.Pixel}, 0); err == nil {
		ground := s.ellipsoid.GroundToECEF(g.Lat, g.Lon, g.Height)
		sensor := s.ref.Ephemeris.In(ephemeris.Geographic).Position
		d.Incidence = s.ellipsoid.IncidenceDegrees(sensor, ground)
	}
	return d
}

// keyReader reads typed metadata values and accumulates every failure so
// one load reports all missing or malformed keys of a step together.
type keyReader struct {
	kwl    *kb.Keywordlist
	prefix string
	err    error
}

func (r *keyReader) float(key string) float64 {
	v, err := r.kwl.Float(r.prefix, key)
	r.err = multierr.Append(r.err, err)
	return v
}

func (r *keyReader) int(key string) int {
	v, err := r.kwl.Int(r.prefix, key)
	r.err = multierr.Append(r.err, err)
	return v
}

func (r *keyReader) string(key string) string {
	v, err := r.kwl.String(r.prefix, key)
	r.err = multierr.Append(r.err, err)
	return v
}

func (r *keyReader) vector(key string) r3.Vector {
	return r3.Vector{X: r.float(key + "X"), Y: r.float(key + "Y"), Z: r.float(key + "Z")}
}

func (r *keyReader) optionalFloat(key string, def float64) float64 {
	if !r.kwl.Has(r.prefix, key) {
		return def
	}
	return r.float(key)
}

func (r *keyReader) fail(err error) {
	r.err = multierr.Append(r.err, fmt.Errorf("%w: %w", ErrInvalidMetadata, err))
}

func loadScene(kwl *kb.Keywordlist) (*scene, error) {
	if kwl == nil {
		return nil, fmt.Errorf("%w: no keyword list", ErrInvalidMetadata)
	}
	s := &scene{}

	var err error
	if s.platform, err = loadPlatformPosition(kwl); err != nil {
		return nil, fmt.Errorf("platform position: %w", err)
	}
	if s.params, err = loadSensorParams(kwl); err != nil {
		return nil, fmt.Errorf("sensor params: %w", err)
	}
	s.ellipsoid = Ellipsoid{A: s.params.SemiMajorAxis, B: s.params.SemiMinorAxis}
	if err = s.loadRefPoint(kwl); err != nil {
		return nil, fmt.Errorf("reference point: %w", err)
	}
	if err = s.loadSRGR(kwl); err != nil {
		return nil, fmt.Errorf("srgr: %w", err)
	}
	return s, nil
}

// maxMetadataCount bounds the ephemeris samples, SRGR sets and GCPs a
// metadata list may declare.
const maxMetadataCount = 10000

func loadPlatformPosition(kwl *kb.Keywordlist) (*ephemeris.PlatformPosition, error) {
	r := &keyReader{kwl: kwl}
	neph := r.int("neph")
	interval := r.float("eph_int")
	year := r.int("eph_year")
	month := r.int("eph_month")
	day := r.int("eph_day")
	sec := r.float("eph_sec")
	if r.err != nil {
		return nil, r.err
	}
	if neph <= 0 {
		return nil, fmt.Errorf("%w: neph is %d", ephemeris.ErrNoEphemeris, neph)
	}
	if neph > maxMetadataCount {
		return nil, fmt.Errorf("%w: neph %d exceeds %d", ErrInvalidMetadata, neph, maxMetadataCount)
	}
	if month < 1 || month > 12 || day < 1 || day > calendar.DaysInMonth(year, month) {
		return nil, fmt.Errorf("%w: ephemeris epoch %04d-%02d-%02d", ErrInvalidMetadata, year, month, day)
	}
	if neph > 1 && !(interval > 0) {
		return nil, fmt.Errorf("%w: eph_int %v must be positive", ErrInvalidMetadata, interval)
	}

	epoch := calendar.NewCivilDate(year, month, day, sec)
	samples := make([]ephemeris.Ephemeris, 0, neph)
	for i := 0; i < neph; i++ {
		pos := r.vector(fmt.Sprintf("eph%d_pos", i))
		vel := r.vector(fmt.Sprintf("eph%d_vel", i))
		date := epoch.AddSeconds(float64(i) * interval).JSD()
		samples = append(samples, ephemeris.New(date, pos, vel, ephemeris.Geographic))
	}
	if r.err != nil {
		return nil, r.err
	}
	return ephemeris.NewPlatformPosition(samples)
}

func loadSensorParams(kwl *kb.Keywordlist) (model.SensorParams, error) {
	r := &keyReader{kwl: kwl}
	var p model.SensorParams
	p.Wavelength = r.float("wave_length")
	p.SamplingFrequency = r.float("fr") * 1e6
	p.PRF = r.float("fa")
	p.ColumnDirection = model.DirectionFromString(r.string("time_dir_pix"))
	p.LineDirection = model.DirectionFromString(r.string("time_dir_lin"))
	p.AzimuthLooks = r.float("nlooks_az")
	p.RangeLooks = r.float("n_rnglok")
	p.SemiMajorAxis, p.SemiMinorAxis = model.EllipsoidFromKm(r.float("ellip_maj"), r.float("ellip_min"))
	p.Sight = model.Right
	if r.err != nil {
		return model.SensorParams{}, r.err
	}
	if err := p.Validate(); err != nil {
		return model.SensorParams{}, fmt.Errorf("%w: %w", ErrInvalidMetadata, err)
	}
	return p, nil
}

func (s *scene) loadRefPoint(kwl *kb.Keywordlist) error {
	r := &keyReader{kwl: kwl}
	s.ref.Line = r.float("sc_lin")
	s.ref.Pixel = r.float("sc_pix")
	stamp := r.string("inp_sctim")
	rangeGateDelay := r.float("zero_dop_range_time_f_pixel")
	s.width = r.int("num_pix")
	s.height = r.int("num_lines")
	if r.err != nil {
		return r.err
	}
	if s.width <= 0 || s.height <= 0 {
		return fmt.Errorf("%w: image size %dx%d", ErrInvalidMetadata, s.width, s.height)
	}
	s.clip = model.ImageRect(s.width, s.height)

	acquired, err := calendar.ParseAcquisitionTime(stamp)
	if err != nil {
		return fmt.Errorf("%w: inp_sctim: %w", ErrInvalidMetadata, err)
	}
	eph, err := s.platform.Interpolate(acquired.JSD())
	if err != nil {
		return err
	}
	s.ref.Ephemeris = eph

	s.ref.Distance = model.SlantRangeDistance(rangeGateDelay, s.ref.Pixel, s.params.RangeLooks, s.params.SamplingFrequency)
	if err := s.ref.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMetadata, err)
	}
	return nil
}

func (s *scene) loadSRGR(kwl *kb.Keywordlist) error {
	s.filename, _ = kwl.String("", "filename")
	s.georeferenced = model.IsGeoreferencedProduct(s.filename)
	if !s.georeferenced {
		return nil
	}

	r := &keyReader{kwl: kwl}
	first := r.float("zero_dop_range_time_f_pixel")
	center := r.float("zero_dop_range_time_c_pixel")
	last := r.float("zero_dop_range_time_l_pixel")
	centerPixel := r.float("sc_pix")
	if r.err != nil {
		return r.err
	}
	srgr, err := model.NewSRGR(first, center, last, centerPixel)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMetadata, err)
	}
	s.srgr = srgr
	return nil
}

// CornerKeys are the leader keys of the image corners, in the order of
// model.Rect.Corners. Each takes a _lat and _lon suffix.
var CornerKeys = [4]string{
	"first_line_first_pixel",
	"first_line_last_pixel",
	"last_line_last_pixel",
	"last_line_first_pixel",
}

// readCornerGCPs pairs the four image corners with their leader-file
// positions. Longitudes must lie in [-180, 360) and are folded onto
// (-180, 180].
func readCornerGCPs(kwl *kb.Keywordlist) ([]model.GCP, error) {
	r := &keyReader{kwl: kwl}
	width := r.int("num_pix")
	height := r.int("num_lines")
	h := r.optionalFloat("avg_scene_height", 0)
	if r.err != nil {
		return nil, r.err
	}

	corners := model.ImageRect(width, height).Corners()
	gcps := make([]model.GCP, 0, len(CornerKeys))
	for i, key := range CornerKeys {
		lat := r.float(key + "_lat")
		lon := r.float(key + "_lon")
		if !(lat >= -90 && lat <= 90) {
			r.fail(fmt.Errorf("%s_lat %v outside [-90, 90]", key, lat))
		}
		if !(lon >= -180 && lon < 360) {
			r.fail(fmt.Errorf("%s_lon %v outside [-180, 360)", key, lon))
		}
		lon = model.NormalizeLongitude(lon)
		gcps = append(gcps, model.GCP{
			Image:  corners[i],
			Ground: model.GroundPoint{Lat: lat, Lon: lon, Height: h},
		})
	}
	if r.err != nil {
		return nil, fmt.Errorf("corner gcps: %w", r.err)
	}
	return gcps, nil
}
