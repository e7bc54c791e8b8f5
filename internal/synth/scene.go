// Package synth builds complete ERS leader metadata for a scene imaged by a
// satellite given as a TLE. The orbit comes from SGP4 and the corner
// coordinates from the sensor model itself, so the result opens cleanly and
// is self-consistent.
package synth

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/golang/geo/r3"
	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/sargeom/calendar"
	"github.com/signalsfoundry/sargeom/core"
	"github.com/signalsfoundry/sargeom/ephemeris"
	"github.com/signalsfoundry/sargeom/internal/logging"
	"github.com/signalsfoundry/sargeom/kb"
	"github.com/signalsfoundry/sargeom/model"
)

// ErrInvalidTLE is returned for TLE lines SGP4 cannot use.
var ErrInvalidTLE = errors.New("invalid TLE")

// ErrInvalidConfig is returned for scene parameters outside their domain.
var ErrInvalidConfig = errors.New("invalid scene config")

const kmToM = 1000.0

// Config describes the scene to synthesise.
type Config struct {
	TLE1, TLE2 string
	// Start is the date of the first ephemeris sample, truncated to the
	// second.
	Start time.Time
	// Samples ephemeris states are written Interval apart. The reference
	// line is acquired at the middle of the span.
	Samples  int
	Interval time.Duration

	Width, Height int
	// IncidenceDeg is the incidence angle at the reference pixel.
	IncidenceDeg float64
	// Georeferenced produces a PRI product with SRGR coefficients.
	Georeferenced bool
	// GroundPixelSpacing is the PRI column spacing on the ground (m).
	GroundPixelSpacing float64

	PRF               float64 // Hz
	SamplingFrequency float64 // MHz
	Wavelength        float64 // m
	AzimuthLooks      int
	RangeLooks        int
}

// DefaultConfig returns ERS-like parameters for a 1000×2000 scene.
func DefaultConfig() Config {
	return Config{
		Samples:            9,
		Interval:           10 * time.Second,
		Width:              1000,
		Height:             2000,
		IncidenceDeg:       23,
		GroundPixelSpacing: 12.5,
		PRF:                1679.9,
		SamplingFrequency:  18.96,
		Wavelength:         0.0566,
		AzimuthLooks:       1,
		RangeLooks:         1,
	}
}

func (c Config) validate() error {
	switch {
	case c.Samples < 2:
		return fmt.Errorf("%w: %d ephemeris samples", ErrInvalidConfig, c.Samples)
	case c.Interval < time.Second:
		return fmt.Errorf("%w: sample interval %s below one second", ErrInvalidConfig, c.Interval)
	case c.Width < 2 || c.Height < 2:
		return fmt.Errorf("%w: image size %dx%d", ErrInvalidConfig, c.Width, c.Height)
	case !(c.IncidenceDeg > 0 && c.IncidenceDeg < 80):
		return fmt.Errorf("%w: incidence %v degrees", ErrInvalidConfig, c.IncidenceDeg)
	case !(c.PRF > 0 && c.SamplingFrequency > 0 && c.Wavelength > 0):
		return fmt.Errorf("%w: PRF, sampling frequency and wavelength must be positive", ErrInvalidConfig)
	case c.AzimuthLooks < 1 || c.RangeLooks < 1:
		return fmt.Errorf("%w: looks must be at least 1", ErrInvalidConfig)
	case c.Georeferenced && !(c.GroundPixelSpacing > 0):
		return fmt.Errorf("%w: ground pixel spacing %v", ErrInvalidConfig, c.GroundPixelSpacing)
	}
	return nil
}

// Orbit propagates a TLE with SGP4.
type Orbit struct {
	sat satellite.Satellite
}

// NewOrbit parses a TLE. The lines are checked before go-satellite sees
// them since it exits the process on malformed input.
func NewOrbit(line1, line2 string) (*Orbit, error) {
	line1, line2 = strings.TrimSpace(line1), strings.TrimSpace(line2)
	if len(line1) != 69 || len(line2) != 69 {
		return nil, fmt.Errorf("%w: line lengths %d and %d, want 69", ErrInvalidTLE, len(line1), len(line2))
	}
	if line1[0] != '1' || line2[0] != '2' {
		return nil, fmt.Errorf("%w: lines must start with 1 and 2", ErrInvalidTLE)
	}
	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS72)
	if sat.Error != 0 {
		return nil, fmt.Errorf("%w: sgp4 init code %d %s", ErrInvalidTLE, sat.Error, sat.ErrorStr)
	}
	return &Orbit{sat: sat}, nil
}

// State returns the inertial platform state at t (whole seconds).
func (o *Orbit) State(t time.Time) (ephemeris.Ephemeris, error) {
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	pos, vel := satellite.Propagate(o.sat, year, int(month), day, hour, min, sec)
	p := r3.Vector{X: pos.X, Y: pos.Y, Z: pos.Z}.Mul(kmToM)
	v := r3.Vector{X: vel.X, Y: vel.Y, Z: vel.Z}.Mul(kmToM)
	if math.IsNaN(p.X+p.Y+p.Z) || p.Norm() < 6200e3 {
		return ephemeris.Ephemeris{}, fmt.Errorf("sgp4 propagation failed at %s: position %v", t.Format(time.RFC3339), p)
	}

	date := calendar.NewCivilDate(year, int(month), day, float64(hour*3600+min*60+sec)).JSD()
	return ephemeris.New(date, p, v, ephemeris.Galilean), nil
}

// Generate returns leader metadata for the scene described by cfg.
func Generate(ctx context.Context, cfg Config, log logging.Logger) (*kb.Keywordlist, error) {
	if log == nil {
		log = logging.Noop()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	orbit, err := NewOrbit(cfg.TLE1, cfg.TLE2)
	if err != nil {
		return nil, err
	}

	start := cfg.Start.UTC().Truncate(time.Second)
	interval := cfg.Interval.Truncate(time.Second)
	kwl := kb.New()

	year, month, day := start.Date()
	sod := start.Sub(time.Date(year, month, day, 0, 0, 0, 0, time.UTC)).Seconds()
	kwl.AddInt("", "neph", int64(cfg.Samples))
	kwl.AddFloat("", "eph_int", interval.Seconds())
	kwl.AddInt("", "eph_year", int64(year))
	kwl.AddInt("", "eph_month", int64(month))
	kwl.AddInt("", "eph_day", int64(day))
	kwl.AddFloat("", "eph_sec", sod)

	samples := make([]ephemeris.Ephemeris, 0, cfg.Samples)
	for i := 0; i < cfg.Samples; i++ {
		inertial, err := orbit.State(start.Add(time.Duration(i) * interval))
		if err != nil {
			return nil, err
		}
		e := inertial.ToGeographic()
		samples = append(samples, e)
		p := fmt.Sprintf("eph%d_", i)
		kwl.AddFloat(p, "posX", e.Position.X)
		kwl.AddFloat(p, "posY", e.Position.Y)
		kwl.AddFloat(p, "posZ", e.Position.Z)
		kwl.AddFloat(p, "velX", e.Velocity.X)
		kwl.AddFloat(p, "velY", e.Velocity.Y)
		kwl.AddFloat(p, "velZ", e.Velocity.Z)
	}
	platform, err := ephemeris.NewPlatformPosition(samples)
	if err != nil {
		return nil, err
	}

	filename := "SAR_IMS_1P_SYNTH"
	if cfg.Georeferenced {
		filename = "SAR_IMP_1P_PRI_SYNTH"
	}
	kwl.Add("", "filename", filename)
	kwl.AddFloat("", "wave_length", cfg.Wavelength)
	kwl.AddFloat("", "fr", cfg.SamplingFrequency)
	kwl.AddFloat("", "fa", cfg.PRF)
	kwl.Add("", "time_dir_pix", "INCREASE")
	kwl.Add("", "time_dir_lin", "INCREASE")
	kwl.AddInt("", "nlooks_az", int64(cfg.AzimuthLooks))
	kwl.AddInt("", "n_rnglok", int64(cfg.RangeLooks))
	kwl.AddFloat("", "ellip_maj", core.WGS84.A/kmToM)
	kwl.AddFloat("", "ellip_min", core.WGS84.B/kmToM)

	refLine, refPixel := cfg.Height/2, cfg.Width/2
	acquired := start.Add(time.Duration(cfg.Samples-1) * interval / 2)
	ref, err := platform.Interpolate(civilDate(acquired).JSD())
	if err != nil {
		return nil, err
	}
	rng := slantRangeAtIncidence(ref.Position, cfg.IncidenceDeg)
	fs := cfg.SamplingFrequency * 1e6

	kwl.AddInt("", "sc_lin", int64(refLine))
	kwl.AddInt("", "sc_pix", int64(refPixel))
	kwl.Add("", "inp_sctim", acquisitionStamp(acquired))
	kwl.AddFloat("", "zero_dop_range_time_f_pixel", (2*rng/model.SpeedOfLight-float64(refPixel*cfg.RangeLooks)/fs)*1e3)
	kwl.AddInt("", "num_pix", int64(cfg.Width))
	kwl.AddInt("", "num_lines", int64(cfg.Height))
	kwl.AddFloat("", "avg_scene_height", 0)

	if cfg.Georeferenced {
		// Slant range grows by the ground spacing projected on the line of
		// sight for each column.
		step := cfg.GroundPixelSpacing * math.Sin(cfg.IncidenceDeg*math.Pi/180)
		twoWayMs := func(d float64) float64 { return 2 * d / model.SpeedOfLight * 1e3 }
		kwl.AddFloat("", "zero_dop_range_time_f_pixel", twoWayMs(rng-float64(refPixel)*step))
		kwl.AddFloat("", "zero_dop_range_time_c_pixel", twoWayMs(rng))
		kwl.AddFloat("", "zero_dop_range_time_l_pixel", twoWayMs(rng+float64(refPixel+1)*step))
	}

	if err := addCorners(ctx, kwl, cfg.Width, cfg.Height); err != nil {
		return nil, err
	}

	log.Debug(ctx, "synthetic scene generated",
		logging.String("filename", filename),
		logging.String("acquired", acquired.Format(time.RFC3339Nano)),
		logging.Float64("ref_slant_range_m", rng),
		logging.Int("ephemeris_samples", cfg.Samples),
	)
	return kwl, nil
}

// slantRangeAtIncidence returns the distance from pos to the ground point
// seen at the given incidence, on a sphere of the local Earth radius.
func slantRangeAtIncidence(pos r3.Vector, incidenceDeg float64) float64 {
	lat, lon := core.WGS84.SurfaceLatLon(pos)
	re := core.WGS84.SurfacePoint(lat, lon).Norm()
	r := pos.Norm()

	inc := incidenceDeg * math.Pi / 180
	look := math.Asin(re / r * math.Sin(inc))
	gamma := inc - look
	return math.Sqrt(r*r + re*re - 2*r*re*math.Cos(gamma))
}

// addCorners writes the ground position of the four image corners as seen by
// the uncalibrated model, longitudes in [0, 360) like the leader files do.
func addCorners(ctx context.Context, kwl *kb.Keywordlist, width, height int) error {
	m := core.NewErsSarModel(core.WithoutCornerCalibration())
	if err := m.Open(ctx, kwl); err != nil {
		return fmt.Errorf("open generated scene: %w", err)
	}
	for i, c := range model.ImageRect(width, height).Corners() {
		g, err := m.LineSampleToWorld(c)
		if err != nil {
			return fmt.Errorf("corner %v: %w", c, err)
		}
		kwl.AddFloat("", core.CornerKeys[i]+"_lat", g.Lat)
		kwl.AddFloat("", core.CornerKeys[i]+"_lon", math.Mod(g.Lon+360, 360))
	}
	return nil
}

func civilDate(t time.Time) calendar.CivilDate {
	year, month, day := t.Date()
	sod := t.Sub(time.Date(year, month, day, 0, 0, 0, 0, time.UTC)).Seconds()
	return calendar.NewCivilDate(year, int(month), day, sod)
}

// acquisitionStamp formats t as YYYYMMDDhhmmssttt.
func acquisitionStamp(t time.Time) string {
	return t.Format("20060102150405") + fmt.Sprintf("%03d", t.Nanosecond()/int(time.Millisecond))
}
