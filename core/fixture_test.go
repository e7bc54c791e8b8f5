package core

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"testing"

	"github.com/golang/geo/r3"

	"github.com/signalsfoundry/sargeom/calendar"
	"github.com/signalsfoundry/sargeom/ephemeris"
	"github.com/signalsfoundry/sargeom/kb"
	"github.com/signalsfoundry/sargeom/model"
)

const (
	earthMu      = 3.986004418e14
	testPRF      = 1679.9
	testFrMHz    = 18.96
	testWidth    = 1000
	testHeight   = 2000
	testRefLine  = 1000
	testRefPixel = 500
	testRefRange = 850e3
	testAltitude = 785e3
	testNumEph   = 9
	testEphStep  = 10.0
	testEpochSec = 37770.0 // 10:29:30
	testAcquired = "19950617103010000"
	slcFilename  = "SAR_IMS_1P_SLC_19950617"
	priFilename  = "SAR_IMP_1P_PRI_19950617"
)

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// circularOrbitState returns the inertial state of a circular orbit with
// inclination 98.5° at t seconds after epoch, converted to Earth-fixed.
func circularOrbitState(epoch calendar.JSDDate, t float64) ephemeris.Ephemeris {
	r := WGS84.A + testAltitude
	n := math.Sqrt(earthMu / (r * r * r))
	inc := 98.5 * math.Pi / 180
	node := 0.3
	u := 0.6 + n*t

	xNode := r3.Vector{X: math.Cos(node), Y: math.Sin(node)}
	yPlane := r3.Vector{X: -math.Sin(node) * math.Cos(inc), Y: math.Cos(node) * math.Cos(inc), Z: math.Sin(inc)}

	su, cu := math.Sincos(u)
	pos := xNode.Mul(r * cu).Add(yPlane.Mul(r * su))
	vel := xNode.Mul(-r * n * su).Add(yPlane.Mul(r * n * cu))
	return ephemeris.New(epoch.Add(t), pos, vel, ephemeris.Galilean).ToGeographic()
}

// baseMetadata returns ERS leader metadata without corner coordinates.
func baseMetadata(filename string) *kb.Keywordlist {
	kwl := kb.New()
	epoch := calendar.NewCivilDate(1995, 6, 17, testEpochSec).JSD()

	kwl.Add("", "filename", filename)
	kwl.AddInt("", "neph", testNumEph)
	kwl.AddFloat("", "eph_int", testEphStep)
	kwl.AddInt("", "eph_year", 1995)
	kwl.AddInt("", "eph_month", 6)
	kwl.AddInt("", "eph_day", 17)
	kwl.AddFloat("", "eph_sec", testEpochSec)
	for i := 0; i < testNumEph; i++ {
		e := circularOrbitState(epoch, float64(i)*testEphStep)
		p := fmt.Sprintf("eph%d_", i)
		kwl.AddFloat(p, "posX", e.Position.X)
		kwl.AddFloat(p, "posY", e.Position.Y)
		kwl.AddFloat(p, "posZ", e.Position.Z)
		kwl.AddFloat(p, "velX", e.Velocity.X)
		kwl.AddFloat(p, "velY", e.Velocity.Y)
		kwl.AddFloat(p, "velZ", e.Velocity.Z)
	}

	kwl.AddFloat("", "wave_length", 0.0566)
	kwl.AddFloat("", "fr", testFrMHz)
	kwl.AddFloat("", "fa", testPRF)
	kwl.Add("", "time_dir_pix", "INCREASE")
	kwl.Add("", "time_dir_lin", "increase")
	kwl.AddInt("", "nlooks_az", 1)
	kwl.AddInt("", "n_rnglok", 1)
	kwl.AddFloat("", "ellip_maj", 6378.137)
	kwl.AddFloat("", "ellip_min", 6356.752314245)

	kwl.AddInt("", "sc_lin", testRefLine)
	kwl.AddInt("", "sc_pix", testRefPixel)
	kwl.Add("", "inp_sctim", testAcquired)
	kwl.AddFloat("", "zero_dop_range_time_f_pixel", rangeGateDelayMs(testRefRange, testRefPixel))
	kwl.AddInt("", "num_pix", testWidth)
	kwl.AddInt("", "num_lines", testHeight)

	if model.IsGeoreferencedProduct(filename) {
		kwl.AddFloat("", "zero_dop_range_time_f_pixel", twoWayMs(840e3))
		kwl.AddFloat("", "zero_dop_range_time_c_pixel", twoWayMs(850e3))
		kwl.AddFloat("", "zero_dop_range_time_l_pixel", twoWayMs(861e3))
	}
	return kwl
}

// rangeGateDelayMs returns the first pixel delay placing refPixel at the
// slant range dist.
func rangeGateDelayMs(dist, refPixel float64) float64 {
	return (2*dist/model.SpeedOfLight - refPixel/(testFrMHz*1e6)) * 1e3
}

func twoWayMs(dist float64) float64 {
	return 2 * dist / model.SpeedOfLight * 1e3
}

// addCorners projects the image corners with an uncalibrated model and
// stores them in leader style, longitudes in [0, 360). shift moves the
// image position each ground corner is computed at.
func addCorners(t *testing.T, kwl *kb.Keywordlist, shift model.ImagePoint) {
	t.Helper()
	addShiftedCorners(t, kwl, [4]model.ImagePoint{shift, shift, shift, shift})
}

// addShiftedCorners is addCorners with one shift per corner, in the order
// of model.Rect.Corners.
func addShiftedCorners(t *testing.T, kwl *kb.Keywordlist, shifts [4]model.ImagePoint) {
	t.Helper()
	m := NewErsSarModel(WithoutCornerCalibration())
	if err := m.Open(context.Background(), kwl); err != nil {
		t.Fatalf("Open uncalibrated model: %v", err)
	}
	for i, c := range model.ImageRect(testWidth, testHeight).Corners() {
		p := model.ImagePoint{Line: c.Line + shifts[i].Line, Pixel: c.Pixel + shifts[i].Pixel}
		g, err := m.LineSampleToWorld(p)
		if err != nil {
			t.Fatalf("corner %v: %v", p, err)
		}
		kwl.AddFloat("", CornerKeys[i]+"_lat", g.Lat)
		kwl.AddFloat("", CornerKeys[i]+"_lon", math.Mod(g.Lon+360, 360))
	}
}

// sceneMetadata returns complete metadata whose corners agree with the
// sensor geometry.
func sceneMetadata(t *testing.T, filename string) *kb.Keywordlist {
	t.Helper()
	kwl := baseMetadata(filename)
	addCorners(t, kwl, model.ImagePoint{})
	return kwl
}

func openScene(t *testing.T, kwl *kb.Keywordlist, opts ...Option) *ErsSarModel {
	t.Helper()
	m := NewErsSarModel(opts...)
	if err := m.Open(context.Background(), kwl); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if m.State() != StateReady {
		t.Fatalf("State = %v, want ready", m.State())
	}
	return m
}

// interiorPoints returns a grid of image points well inside the scene.
func interiorPoints() []model.ImagePoint {
	var pts []model.ImagePoint
	for _, line := range []float64{100, 555.5, 1000, 1499.25, 1900} {
		for _, pixel := range []float64{50, 333.3, 500, 777.7, 950} {
			pts = append(pts, model.ImagePoint{Line: line, Pixel: pixel})
		}
	}
	return pts
}

type fakeMetrics struct {
	loads    map[string]int
	geocodes map[string]int
	failures int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{loads: map[string]int{}, geocodes: map[string]int{}}
}

func (f *fakeMetrics) ObserveLoad(kind string, err error) {
	if err != nil {
		f.loads[kind+"/failed"]++
		return
	}
	f.loads[kind+"/ready"]++
}

func (f *fakeMetrics) ObserveGeocode(direction string, iterations int, err error) {
	f.geocodes[direction]++
	if err != nil {
		f.failures++
	}
}
