package core

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"

	"github.com/signalsfoundry/sargeom/kb"
	"github.com/signalsfoundry/sargeom/model"
)

func TestSaveLoadState(t *testing.T) {
	for _, filename := range []string{slcFilename, priFilename} {
		t.Run(filename, func(t *testing.T) {
			kwl := baseMetadata(filename)
			addCorners(t, kwl, model.ImagePoint{Line: 1, Pixel: 2})
			orig := openScene(t, kwl)

			saved := kb.New()
			if err := orig.SaveState(saved, "model."); err != nil {
				t.Fatalf("SaveState error: %v", err)
			}
			if v, _ := saved.String("model.", keyType); v != KindErsSar {
				t.Fatalf("saved type = %q", v)
			}

			// Go through the text form as a state file would.
			var buf bytes.Buffer
			if _, err := saved.WriteTo(&buf); err != nil {
				t.Fatalf("WriteTo error: %v", err)
			}
			parsed, err := kb.Parse(&buf)
			if err != nil {
				t.Fatalf("Parse error: %v", err)
			}

			restored := NewErsSarModel()
			if err := restored.LoadState(context.Background(), parsed, "model."); err != nil {
				t.Fatalf("LoadState error: %v", err)
			}
			if restored.State() != StateReady {
				t.Fatalf("restored state = %v", restored.State())
			}
			if restored.Calibration() != orig.Calibration() {
				t.Fatalf("calibration %+v, want %+v", restored.Calibration(), orig.Calibration())
			}
			if len(restored.GCPs()) != 4 {
				t.Fatalf("restored gcps = %d", len(restored.GCPs()))
			}

			od, rd := orig.Describe(), restored.Describe()
			if od.Filename != rd.Filename || od.Georeferenced != rd.Georeferenced || od.RefDate != rd.RefDate ||
				od.Width != rd.Width || od.Height != rd.Height || od.RefDistance != rd.RefDistance {
				t.Fatalf("restored description %+v, want %+v", rd, od)
			}

			for _, p := range interiorPoints() {
				want, err := orig.LineSampleToWorld(p)
				if err != nil {
					t.Fatalf("original LineSampleToWorld(%v): %v", p, err)
				}
				got, err := restored.LineSampleToWorld(p)
				if err != nil {
					t.Fatalf("restored LineSampleToWorld(%v): %v", p, err)
				}
				if math.Abs(got.Lat-want.Lat) > 1e-9 || math.Abs(got.Lon-want.Lon) > 1e-9 {
					t.Fatalf("restored model sees %v at %v, original at %v", p, got, want)
				}
			}
		})
	}
}

func TestLoadStateFailures(t *testing.T) {
	orig := openScene(t, sceneMetadata(t, priFilename))
	saved := kb.New()
	if err := orig.SaveState(saved, ""); err != nil {
		t.Fatalf("SaveState error: %v", err)
	}

	set := func(prefix, key, value string) func(*kb.Keywordlist) *kb.Keywordlist {
		return func(k *kb.Keywordlist) *kb.Keywordlist {
			k.Add(prefix, key, value)
			return k
		}
	}

	cases := []struct {
		name   string
		mutate func(*kb.Keywordlist) *kb.Keywordlist
		want   error
	}{
		{
			name: "other model type",
			mutate: func(k *kb.Keywordlist) *kb.Keywordlist {
				k.Add("", keyType, "envisat_asar")
				return k
			},
			want: ErrInvalidMetadata,
		},
		{
			name: "missing sensor value",
			mutate: func(k *kb.Keywordlist) *kb.Keywordlist {
				out := kb.New()
				for key, v := range k.Map() {
					if key != sensorPrefix+"prf" {
						out.Add("", key, v)
					}
				}
				return out
			},
			want: kb.ErrMissingKey,
		},
		{
			name: "unknown frame",
			mutate: func(k *kb.Keywordlist) *kb.Keywordlist {
				k.Add(platformPrefix, "frame", "heliocentric")
				return k
			},
			want: ErrInvalidMetadata,
		},
		{
			name: "empty srgr",
			mutate: func(k *kb.Keywordlist) *kb.Keywordlist {
				k.AddInt(srgrPrefix, "count", 0)
				return k
			},
			want: model.ErrDegenerateSRGR,
		},
		{name: "negative platform count", mutate: set(platformPrefix, "count", "-1"), want: ErrInvalidMetadata},
		{name: "huge platform count", mutate: set(platformPrefix, "count", "1125899906842624"), want: ErrInvalidMetadata},
		{name: "negative gcp count", mutate: set(gcpPrefix, "count", "-3"), want: ErrInvalidMetadata},
		{name: "huge gcp count", mutate: set(gcpPrefix, "count", "100000000"), want: ErrInvalidMetadata},
		{name: "huge srgr count", mutate: set(srgrPrefix, "count", "100000000"), want: ErrInvalidMetadata},
		{name: "zero width", mutate: set("", keyWidth, "0"), want: ErrInvalidMetadata},
		{name: "negative height", mutate: set("", keyHeight, "-2000"), want: ErrInvalidMetadata},
		{name: "singular pixel factor", mutate: set("", keyOptimizationFactorX, "1"), want: ErrInvalidMetadata},
		{name: "large line factor", mutate: set("", keyOptimizationFactorY, "-0.75"), want: ErrInvalidMetadata},
		{name: "large twist", mutate: set("", keyOptimizationTwistX, "0.001"), want: ErrInvalidMetadata},
		{name: "bias not a number", mutate: set("", keyOptimizationBiasY, "NaN"), want: ErrInvalidMetadata},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			kwl := tc.mutate(kb.FromMap(saved.Map()))
			m := NewErsSarModel()
			if err := m.LoadState(context.Background(), kwl, ""); !errors.Is(err, tc.want) {
				t.Fatalf("LoadState err = %v, want %v", err, tc.want)
			}
			if m.State() != StateFailed {
				t.Fatalf("state = %v, want failed", m.State())
			}
		})
	}

	if err := orig.LoadState(context.Background(), saved, ""); !errors.Is(err, ErrAlreadyOpened) {
		t.Fatalf("LoadState on a ready model err = %v", err)
	}
}
