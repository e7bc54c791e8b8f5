// Command ersgen writes synthetic ERS leader metadata for a satellite given
// as a TLE. The output opens with ersgeo and the geocoding server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/signalsfoundry/sargeom/internal/logging"
	"github.com/signalsfoundry/sargeom/internal/synth"
)

// ERS-2 elements, used when no TLE is given.
const (
	defaultTLE1 = "1 23560U 95021A   08264.49710282  .00000135  00000-0  65446-4 0  9990"
	defaultTLE2 = "2 23560  98.5327 331.0930 0001082  90.3125 269.8178 14.32200468696893"
)

func main() {
	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, log); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "ersgen:", err)
		os.Exit(2)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer, log logging.Logger) error {
	cfg := synth.DefaultConfig()
	var start, out string

	fs := flag.NewFlagSet("ersgen", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.TLE1, "tle1", defaultTLE1, "TLE line 1")
	fs.StringVar(&cfg.TLE2, "tle2", defaultTLE2, "TLE line 2")
	fs.StringVar(&start, "start", "2008-09-20T12:00:00Z", "first ephemeris sample (RFC 3339)")
	fs.IntVar(&cfg.Samples, "samples", cfg.Samples, "number of ephemeris samples")
	fs.DurationVar(&cfg.Interval, "interval", cfg.Interval, "time between ephemeris samples")
	fs.IntVar(&cfg.Width, "width", cfg.Width, "image width in pixels")
	fs.IntVar(&cfg.Height, "height", cfg.Height, "image height in lines")
	fs.Float64Var(&cfg.IncidenceDeg, "incidence", cfg.IncidenceDeg, "incidence angle at the reference pixel (degrees)")
	fs.BoolVar(&cfg.Georeferenced, "pri", false, "write a ground range (PRI) product with SRGR coefficients")
	fs.Float64Var(&cfg.GroundPixelSpacing, "ground-spacing", cfg.GroundPixelSpacing, "PRI ground pixel spacing (m)")
	fs.Float64Var(&cfg.PRF, "prf", cfg.PRF, "pulse repetition frequency (Hz)")
	fs.Float64Var(&cfg.SamplingFrequency, "fr", cfg.SamplingFrequency, "range sampling frequency (MHz)")
	fs.IntVar(&cfg.AzimuthLooks, "azimuth-looks", cfg.AzimuthLooks, "azimuth looks")
	fs.IntVar(&cfg.RangeLooks, "range-looks", cfg.RangeLooks, "range looks")
	fs.StringVar(&out, "o", "", "output file; stdout when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments %q", fs.Args())
	}

	t, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return fmt.Errorf("parse -start: %w", err)
	}
	cfg.Start = t

	kwl, err := synth.Generate(ctx, cfg, log)
	if err != nil {
		return err
	}

	w := stdout
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	if _, err := kwl.WriteTo(w); err != nil {
		return err
	}
	log.Info(ctx, "wrote synthetic scene",
		logging.String("output", out),
		logging.Int("keys", kwl.Len()),
		logging.Bool("pri", cfg.Georeferenced),
	)
	return nil
}
