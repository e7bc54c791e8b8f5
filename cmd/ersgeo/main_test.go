package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/sargeom/internal/logging"
	"github.com/signalsfoundry/sargeom/internal/synth"
)

func writeScene(t *testing.T) string {
	t.Helper()
	cfg := synth.DefaultConfig()
	cfg.TLE1 = "1 25544U 98067A   08264.51782528 -.00002182  00000-0 -11606-4 0  2927"
	cfg.TLE2 = "2 25544  51.6416 247.4627 0006703 130.5360 325.0288 15.72125391563537"
	cfg.Start = time.Date(2008, 9, 20, 12, 30, 0, 0, time.UTC)
	kwl, err := synth.Generate(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("synth.Generate: %v", err)
	}

	var buf bytes.Buffer
	if _, err := kwl.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	path := filepath.Join(t.TempDir(), "scene.geom")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write scene: %v", err)
	}
	return path
}

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), args, strings.NewReader(stdin), &out, logging.Noop())
	return out.String(), err
}

func TestForwardInverseRoundTrip(t *testing.T) {
	scene := writeScene(t)

	out, err := runCLI(t, "", "-metadata", scene, "forward", "700", "300")
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	var lat, lon, h float64
	if _, err := fmt.Sscanf(out, "%f %f %f", &lat, &lon, &h); err != nil {
		t.Fatalf("parse forward output %q: %v", out, err)
	}

	out, err = runCLI(t, "", "-metadata", scene, "-format", "json", "inverse",
		fmt.Sprint(lat), fmt.Sprint(lon), fmt.Sprint(h))
	if err != nil {
		t.Fatalf("inverse: %v", err)
	}
	var p struct{ Line, Pixel float64 }
	if err := json.Unmarshal([]byte(out), &p); err != nil {
		t.Fatalf("parse inverse output %q: %v", out, err)
	}
	if math.Hypot(p.Line-700, p.Pixel-300) > 0.1 {
		t.Fatalf("round trip came back at %+v", p)
	}
}

func TestForwardReadsStdin(t *testing.T) {
	scene := writeScene(t)
	out, err := runCLI(t, "# line pixel\n10 10\n\n1500 800\n", "-metadata", scene, "forward")
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if n := len(strings.Split(strings.TrimSpace(out), "\n")); n != 2 {
		t.Fatalf("forward printed %d lines, want 2:\n%s", n, out)
	}

	_, err = runCLI(t, "10 10\n10 ten\n", "-metadata", scene, "forward")
	if err == nil || !strings.Contains(err.Error(), "stdin line 2") {
		t.Fatalf("bad stdin err = %v", err)
	}
}

func TestSavedStateDescribesSameModel(t *testing.T) {
	scene := writeScene(t)

	state, err := runCLI(t, "", "-metadata", scene, "-prefix", "ers.", "state")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	statePath := filepath.Join(t.TempDir(), "model.kwl")
	if err := os.WriteFile(statePath, []byte(state), 0o644); err != nil {
		t.Fatalf("write state: %v", err)
	}

	fromLeader, err := runCLI(t, "", "-metadata", scene, "describe")
	if err != nil {
		t.Fatalf("describe from leader: %v", err)
	}
	fromState, err := runCLI(t, "", "-state", statePath, "-prefix", "ers.", "describe")
	if err != nil {
		t.Fatalf("describe from state: %v", err)
	}
	if fromLeader != fromState {
		t.Fatalf("describe differs:\nleader:\n%s\nstate:\n%s", fromLeader, fromState)
	}
	if !strings.Contains(fromState, "state: ready") {
		t.Fatalf("describe output missing state:\n%s", fromState)
	}
}

func TestRunErrors(t *testing.T) {
	scene := writeScene(t)
	cases := []struct {
		name string
		args []string
	}{
		{"no command", []string{"-metadata", scene}},
		{"no metadata", []string{"describe"}},
		{"unknown command", []string{"-metadata", scene, "sideways"}},
		{"too many coordinates", []string{"-metadata", scene, "forward", "1", "2", "3"}},
		{"bad format", []string{"-metadata", scene, "-format", "xml", "describe"}},
		{"missing file", []string{"-metadata", filepath.Join(t.TempDir(), "none.geom"), "describe"}},
	}
	for _, tc := range cases {
		if _, err := runCLI(t, "", tc.args...); err == nil {
			t.Errorf("%s: run succeeded", tc.name)
		}
	}
	if _, err := runCLI(t, ""); !errors.Is(err, errUsage) {
		t.Fatalf("empty args err = %v, want errUsage", err)
	}
}
