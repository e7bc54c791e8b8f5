package main

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/sargeom/internal/geocodesvc"
	"github.com/signalsfoundry/sargeom/internal/logging"
	"github.com/signalsfoundry/sargeom/internal/observability"
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

	path := filepath.Join(t.TempDir(), "scene.geom")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create scene: %v", err)
	}
	defer f.Close()
	if _, err := kwl.WriteTo(f); err != nil {
		t.Fatalf("write scene: %v", err)
	}
	return path
}

func TestGeocodeServerStartupSmoke(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}

	scene := writeScene(t)
	cfg := Config{
		ListenAddress: lis.Addr().String(),
		LogLevel:      "warn",
		LogFormat:     "text",
		Preload:       []string{scene},
	}
	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, cfg, log, lis)
	}()

	conn, err := grpc.NewClient(cfg.ListenAddress, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	defer conn.Close()

	client := geocodesvc.NewClient(conn)
	req, _ := structpb.NewStruct(map[string]interface{}{"model": scene, "line": 100, "pixel": 100})
	resp, err := client.LineSampleToWorld(ctx, req, grpc.WaitForReady(true))
	if err != nil {
		t.Fatalf("LineSampleToWorld: %v", err)
	}
	if _, ok := resp.GetFields()["lat"]; !ok {
		t.Fatalf("response has no lat: %v", resp)
	}

	cancel()

	if err := <-errCh; err != nil {
		t.Fatalf("server returned error: %v", err)
	}
}

func TestRunFailsOnBadPreload(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	defer lis.Close()

	cfg := Config{Preload: []string{filepath.Join(t.TempDir(), "missing.geom")}}
	err = run(context.Background(), cfg, nil, lis)
	if err == nil || !strings.Contains(err.Error(), "preload") {
		t.Fatalf("run error = %v, want preload failure", err)
	}
}

func TestRunRejectsTLSWithoutKeys(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	defer lis.Close()

	if err := run(context.Background(), Config{EnableTLS: true}, nil, lis); err == nil {
		t.Fatalf("run with tls and no keys succeeded")
	}
}

func TestRunRejectsUnknownTracingExporter(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	defer lis.Close()

	cfg := Config{Tracing: observability.TracingConfig{Enabled: true, Exporter: "jaeger", SampleRatio: 1}}
	if err := run(context.Background(), cfg, nil, lis); err == nil || !strings.Contains(err.Error(), "jaeger") {
		t.Fatalf("run with unknown exporter err = %v", err)
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" a.geom, ,s3://b/c.geom,")
	if len(got) != 2 || got[0] != "a.geom" || got[1] != "s3://b/c.geom" {
		t.Fatalf("splitList = %q", got)
	}
	if splitList("") != nil {
		t.Fatalf("splitList(\"\") should be nil")
	}
}
