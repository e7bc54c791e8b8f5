package core

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/signalsfoundry/sargeom/calendar"
	"github.com/signalsfoundry/sargeom/ephemeris"
	"github.com/signalsfoundry/sargeom/internal/logging"
	"github.com/signalsfoundry/sargeom/kb"
	"github.com/signalsfoundry/sargeom/model"
)

func TestOpenReachesReady(t *testing.T) {
	rec := logging.NewRecorder()
	metrics := newFakeMetrics()
	m := openScene(t, sceneMetadata(t, slcFilename), WithLogger(rec), WithMetrics(metrics))

	w, h, err := m.ImageSize()
	if err != nil || w != testWidth || h != testHeight {
		t.Fatalf("ImageSize = %d, %d, %v", w, h, err)
	}

	ref, err := m.ReferencePoint()
	if err != nil {
		t.Fatalf("ReferencePoint error: %v", err)
	}
	if math.Abs(ref.Distance-testRefRange) > 1e-6 {
		t.Fatalf("reference distance = %v, want %v", ref.Distance, testRefRange)
	}
	if ref.Line != testRefLine || ref.Pixel != testRefPixel {
		t.Fatalf("reference point at (%v, %v)", ref.Line, ref.Pixel)
	}
	if got := ref.Ephemeris.Date.Civil().String(); got != "1995-06-17T10:30:10.000Z" {
		t.Fatalf("reference date = %s", got)
	}
	if ref.Ephemeris.Frame != ephemeris.Geographic {
		t.Fatalf("reference ephemeris frame = %v", ref.Ephemeris.Frame)
	}

	if len(m.GCPs()) != 4 {
		t.Fatalf("GCPs = %d, want 4", len(m.GCPs()))
	}
	for _, g := range m.GCPs() {
		if g.Ground.Lon <= -180 || g.Ground.Lon > 180 {
			t.Fatalf("GCP longitude %v not normalized", g.Ground.Lon)
		}
	}

	if metrics.loads["ers_sar/ready"] != 1 {
		t.Fatalf("load metrics = %v", metrics.loads)
	}
	if msgs := rec.Messages(slog.LevelInfo); len(msgs) != 1 || msgs[0] != "sensor model ready" {
		t.Fatalf("info logs = %v", msgs)
	}
}

func TestDescribe(t *testing.T) {
	m := NewErsSarModel()
	if d := m.Describe(); d.State != StateUnloaded || d.Kind != KindErsSar || d.Width != 0 {
		t.Fatalf("Describe before open = %+v", d)
	}

	metrics := newFakeMetrics()
	m = openScene(t, sceneMetadata(t, slcFilename), WithMetrics(metrics))
	d := m.Describe()
	if len(metrics.geocodes) != 0 {
		t.Fatalf("Describe reported geocodes %v", metrics.geocodes)
	}
	if d.State != StateReady || d.Filename != slcFilename || d.Georeferenced {
		t.Fatalf("Describe = %+v", d)
	}
	if len(d.Corners) != 4 || d.GCPCount != 4 {
		t.Fatalf("Describe corners = %d, gcps = %d", len(d.Corners), d.GCPCount)
	}
	// 850 km slant range from ~791 km height.
	if d.Incidence < 18 || d.Incidence > 26 {
		t.Fatalf("incidence = %v degrees", d.Incidence)
	}
}

func TestOpenTwiceFails(t *testing.T) {
	kwl := sceneMetadata(t, slcFilename)
	m := openScene(t, kwl)
	if err := m.Open(context.Background(), kwl); !errors.Is(err, ErrAlreadyOpened) {
		t.Fatalf("second Open err = %v, want ErrAlreadyOpened", err)
	}
	if m.State() != StateReady {
		t.Fatalf("second Open changed state to %v", m.State())
	}
}

func TestOpenReportsAllMissingKeysOfAStep(t *testing.T) {
	kwl := kb.FromMap(sceneMetadata(t, slcFilename).Map())
	broken := kb.New()
	for k, v := range kwl.Map() {
		if k == "fa" || k == "ellip_min" {
			continue
		}
		broken.Add("", k, v)
	}

	metrics := newFakeMetrics()
	m := NewErsSarModel(WithMetrics(metrics))
	err := m.Open(context.Background(), broken)
	if !errors.Is(err, kb.ErrMissingKey) {
		t.Fatalf("Open err = %v, want ErrMissingKey", err)
	}
	for _, key := range []string{`"fa"`, `"ellip_min"`, "sensor params"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
	if m.State() != StateFailed || !errors.Is(m.Err(), kb.ErrMissingKey) {
		t.Fatalf("State = %v, Err = %v", m.State(), m.Err())
	}
	if metrics.loads["ers_sar/failed"] != 1 {
		t.Fatalf("load metrics = %v", metrics.loads)
	}

	if _, err := m.LineSampleToWorld(model.ImagePoint{Line: 1, Pixel: 1}); !errors.Is(err, ErrNotReady) {
		t.Fatalf("LineSampleToWorld on failed model err = %v", err)
	}
	if _, err := m.WorldToLineSample(model.GroundPoint{}); !errors.Is(err, ErrNotReady) {
		t.Fatalf("WorldToLineSample on failed model err = %v", err)
	}
	if err := m.SaveState(kb.New(), ""); !errors.Is(err, ErrNotReady) {
		t.Fatalf("SaveState on failed model err = %v", err)
	}
}

func TestOpenFailures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*kb.Keywordlist)
		want   error
	}{
		{
			name:   "empty ephemeris",
			mutate: func(k *kb.Keywordlist) { k.AddInt("", "neph", 0) },
			want:   ephemeris.ErrNoEphemeris,
		},
		{
			name:   "negative ephemeris count",
			mutate: func(k *kb.Keywordlist) { k.AddInt("", "neph", -1) },
			want:   ephemeris.ErrNoEphemeris,
		},
		{
			name:   "huge ephemeris count",
			mutate: func(k *kb.Keywordlist) { k.AddInt("", "neph", 1<<50) },
			want:   ErrInvalidMetadata,
		},
		{
			name:   "reference outside ephemeris",
			mutate: func(k *kb.Keywordlist) { k.Add("", "inp_sctim", "19950617110000000") },
			want:   ephemeris.ErrOutOfRange,
		},
		{
			name:   "malformed acquisition time",
			mutate: func(k *kb.Keywordlist) { k.Add("", "inp_sctim", "1995061710301O000") },
			want:   calendar.ErrMalformedDate,
		},
		{
			name:   "non positive slant range",
			mutate: func(k *kb.Keywordlist) { k.AddFloat("", "zero_dop_range_time_f_pixel", -10) },
			want:   model.ErrInvalidRefPoint,
		},
		{
			name:   "malformed sensor value",
			mutate: func(k *kb.Keywordlist) { k.Add("", "fr", "eighteen") },
			want:   kb.ErrMalformedValue,
		},
		{
			name:   "invalid ephemeris epoch",
			mutate: func(k *kb.Keywordlist) { k.AddInt("", "eph_month", 13) },
			want:   ErrInvalidMetadata,
		},
		{
			name:   "missing corner",
			mutate: func(k *kb.Keywordlist) { k.Add("", "last_line_last_pixel_lat", "") },
			want:   kb.ErrMalformedValue,
		},
		{
			name:   "corner longitude out of range",
			mutate: func(k *kb.Keywordlist) { k.AddFloat("", "first_line_last_pixel_lon", 400) },
			want:   ErrInvalidMetadata,
		},
		{
			name:   "corner latitude not a number",
			mutate: func(k *kb.Keywordlist) { k.Add("", "last_line_first_pixel_lat", "NaN") },
			want:   ErrInvalidMetadata,
		},
		{
			name: "degenerate srgr",
			mutate: func(k *kb.Keywordlist) {
				k.Add("", "filename", priFilename)
				k.AddFloat("", "zero_dop_range_time_c_pixel", twoWayMs(850e3))
				k.AddFloat("", "zero_dop_range_time_l_pixel", twoWayMs(861e3))
				k.AddInt("", "sc_pix", 0)
			},
			want: model.ErrDegenerateSRGR,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			kwl := kb.FromMap(sceneMetadata(t, slcFilename).Map())
			tc.mutate(kwl)

			m := NewErsSarModel()
			err := m.Open(context.Background(), kwl)
			if !errors.Is(err, tc.want) {
				t.Fatalf("Open err = %v, want %v", err, tc.want)
			}
			if m.State() != StateFailed {
				t.Fatalf("State = %v, want failed", m.State())
			}
		})
	}
}

func TestOpenNilKeywordlist(t *testing.T) {
	m := NewErsSarModel()
	if err := m.Open(context.Background(), nil); !errors.Is(err, ErrInvalidMetadata) {
		t.Fatalf("Open(nil) err = %v", err)
	}
}

func TestNewSensorModel(t *testing.T) {
	sm, err := NewSensorModel(" ERS_SAR ")
	if err != nil {
		t.Fatalf("NewSensorModel error: %v", err)
	}
	if sm.State() != StateUnloaded {
		t.Fatalf("new model state = %v", sm.State())
	}
	if err := sm.Open(context.Background(), sceneMetadata(t, slcFilename)); err != nil {
		t.Fatalf("Open error: %v", err)
	}

	if _, err := NewSensorModel("radarsat2"); !errors.Is(err, ErrUnknownModel) {
		t.Fatalf("unknown kind err = %v", err)
	}
	if kinds := Kinds(); len(kinds) != 1 || kinds[0] != KindErsSar {
		t.Fatalf("Kinds = %v", kinds)
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		StateUnloaded: "unloaded",
		StateLoading:  "loading",
		StateReady:    "ready",
		StateFailed:   "failed",
		State(9):      "state(9)",
	} {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), s.String(), want)
		}
	}
}

func TestConcurrentQueries(t *testing.T) {
	m := openScene(t, sceneMetadata(t, slcFilename))

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for _, p := range interiorPoints()[i%3:] {
				g, err := m.LineSampleToWorld(p)
				if err != nil {
					errs <- err
					return
				}
				back, err := m.WorldToLineSample(g)
				if err != nil {
					errs <- err
					return
				}
				if math.Hypot(back.Line-p.Line, back.Pixel-p.Pixel) > 0.1 {
					errs <- errors.New("round trip drifted under concurrency")
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent query: %v", err)
	}
}
