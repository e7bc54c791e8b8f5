package synth

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/signalsfoundry/sargeom/core"
	"github.com/signalsfoundry/sargeom/ephemeris"
	"github.com/signalsfoundry/sargeom/internal/logging"
	"github.com/signalsfoundry/sargeom/model"
)

const (
	issLine1 = "1 25544U 98067A   08264.51782528 -.00002182  00000-0 -11606-4 0  2927"
	issLine2 = "2 25544  51.6416 247.4627 0006703 130.5360 325.0288 15.72125391563537"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TLE1, cfg.TLE2 = issLine1, issLine2
	cfg.Start = time.Date(2008, 9, 20, 12, 30, 0, 0, time.UTC)
	return cfg
}

func TestOrbitState(t *testing.T) {
	orbit, err := NewOrbit(issLine1, issLine2)
	if err != nil {
		t.Fatalf("NewOrbit error: %v", err)
	}
	e, err := orbit.State(time.Date(2008, 9, 20, 12, 30, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("State error: %v", err)
	}
	if e.Frame != ephemeris.Galilean {
		t.Fatalf("frame = %v, want galilean", e.Frame)
	}
	if alt := e.Position.Norm() - core.WGS84.A; alt < 300e3 || alt > 420e3 {
		t.Fatalf("altitude = %v m", alt)
	}
	if v := e.Velocity.Norm(); v < 7500 || v > 7800 {
		t.Fatalf("speed = %v m/s", v)
	}
}

func TestNewOrbitRejectsMalformedTLE(t *testing.T) {
	cases := [][2]string{
		{"1 25544U", issLine2},
		{issLine2, issLine1},
	}
	for _, tc := range cases {
		if _, err := NewOrbit(tc[0], tc[1]); !errors.Is(err, ErrInvalidTLE) {
			t.Errorf("NewOrbit(%q, %q) err = %v", tc[0], tc[1], err)
		}
	}
}

func TestGenerateOpensAndRoundTrips(t *testing.T) {
	for _, georef := range []bool{false, true} {
		cfg := testConfig()
		cfg.Georeferenced = georef

		rec := logging.NewRecorder()
		kwl, err := Generate(context.Background(), cfg, rec)
		if err != nil {
			t.Fatalf("Generate(georeferenced=%v) error: %v", georef, err)
		}
		if n, _ := kwl.Int("", "neph"); n != cfg.Samples {
			t.Fatalf("neph = %d", n)
		}
		if s, _ := kwl.String("", "inp_sctim"); s != "20080920123040000" {
			t.Fatalf("inp_sctim = %q", s)
		}
		if msgs := rec.Messages(slog.LevelDebug); len(msgs) != 1 || msgs[0] != "synthetic scene generated" {
			t.Fatalf("debug logs = %v", msgs)
		}

		m := core.NewErsSarModel()
		if err := m.Open(context.Background(), kwl); err != nil {
			t.Fatalf("Open generated scene: %v", err)
		}
		d := m.Describe()
		if d.Georeferenced != georef {
			t.Fatalf("georeferenced = %v, want %v", d.Georeferenced, georef)
		}
		if math.Abs(d.Incidence-cfg.IncidenceDeg) > 1 {
			t.Fatalf("incidence = %v, want about %v", d.Incidence, cfg.IncidenceDeg)
		}
		cal := m.Calibration()
		if math.Abs(cal.BiasX) > 1e-3 || math.Abs(cal.BiasY) > 1e-3 {
			t.Fatalf("calibration = %+v, want near identity", cal)
		}

		for _, p := range []model.ImagePoint{{Line: 10, Pixel: 10}, {Line: 1000, Pixel: 500}, {Line: 1800, Pixel: 900}} {
			g, err := m.LineSampleToWorld(p)
			if err != nil {
				t.Fatalf("LineSampleToWorld(%v): %v", p, err)
			}
			back, err := m.WorldToLineSample(g)
			if err != nil {
				t.Fatalf("WorldToLineSample(%v): %v", g, err)
			}
			if math.Hypot(back.Line-p.Line, back.Pixel-p.Pixel) > 0.1 {
				t.Fatalf("round trip of %v came back at %v", p, back)
			}
		}
	}
}

func TestGenerateRejectsBadConfig(t *testing.T) {
	mutations := []func(*Config){
		func(c *Config) { c.Samples = 1 },
		func(c *Config) { c.Interval = 100 * time.Millisecond },
		func(c *Config) { c.Width = 0 },
		func(c *Config) { c.IncidenceDeg = 95 },
		func(c *Config) { c.PRF = 0 },
		func(c *Config) { c.RangeLooks = 0 },
		func(c *Config) { c.Georeferenced, c.GroundPixelSpacing = true, 0 },
	}
	for i, mutate := range mutations {
		cfg := testConfig()
		mutate(&cfg)
		if _, err := Generate(context.Background(), cfg, nil); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("mutation %d: err = %v, want ErrInvalidConfig", i, err)
		}
	}
}

func TestSlantRangeAtIncidence(t *testing.T) {
	pos := core.WGS84.SurfacePoint(0, 0).Mul((core.WGS84.A + 700e3) / core.WGS84.A)
	if got := slantRangeAtIncidence(pos, 1e-9); math.Abs(got-700e3) > 1e-3 {
		t.Fatalf("slant range at nadir = %v", got)
	}
	near := slantRangeAtIncidence(pos, 20)
	far := slantRangeAtIncidence(pos, 40)
	if !(near > 700e3 && far > near) {
		t.Fatalf("slant ranges near %v far %v", near, far)
	}
}

func TestAcquisitionStamp(t *testing.T) {
	ts := time.Date(1995, 6, 17, 10, 30, 10, 250*int(time.Millisecond), time.UTC)
	if got := acquisitionStamp(ts); got != "19950617103010250" {
		t.Fatalf("acquisitionStamp = %q", got)
	}
}
