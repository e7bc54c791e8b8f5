// Command ersgeo projects points through an ERS SAR sensor model built from
// leader metadata or a saved model state.
//
//	ersgeo -metadata scene.geom forward LINE PIXEL
//	ersgeo -metadata s3://bucket/scene.geom inverse LAT LON [HEIGHT]
//	ersgeo -state model.kwl describe
//	ersgeo -metadata scene.geom state > model.kwl
//
// forward and inverse read one point per line from stdin when no
// coordinates are given.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/signalsfoundry/sargeom/core"
	"github.com/signalsfoundry/sargeom/internal/logging"
	"github.com/signalsfoundry/sargeom/internal/metadatasrc"
	"github.com/signalsfoundry/sargeom/kb"
	"github.com/signalsfoundry/sargeom/model"
)

var errUsage = errors.New("usage: ersgeo [flags] forward|inverse|describe|state [coordinates]")

type options struct {
	metadata    string
	state       string
	prefix      string
	s3Region    string
	elevation   float64
	format      string
	noCornerFit bool
}

func main() {
	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, log); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "ersgeo:", err)
		os.Exit(2)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer, log logging.Logger) error {
	var opts options
	fs := flag.NewFlagSet("ersgeo", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.metadata, "metadata", "", "leader metadata file or s3:// uri")
	fs.StringVar(&opts.state, "state", "", "saved model state file or s3:// uri; replaces -metadata")
	fs.StringVar(&opts.prefix, "prefix", "", "key prefix of the saved model state")
	fs.StringVar(&opts.s3Region, "s3-region", os.Getenv("AWS_REGION"), "AWS region for s3:// uris")
	fs.Float64Var(&opts.elevation, "elevation", 0, "constant terrain height in meters")
	fs.StringVar(&opts.format, "format", "text", "output format: text or json")
	fs.BoolVar(&opts.noCornerFit, "no-corner-calibration", false, "skip fitting the calibration to the scene corners")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errUsage
	}
	if opts.format != "text" && opts.format != "json" {
		return fmt.Errorf("unknown format %q", opts.format)
	}

	m, err := openModel(ctx, opts, log)
	if err != nil {
		return err
	}

	out := newPrinter(stdout, opts.format)
	cmd, coords := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "forward":
		return eachPoint(coords, stdin, 2, func(v []float64) error {
			g, err := m.LineSampleToWorld(model.ImagePoint{Line: v[0], Pixel: v[1]})
			if err != nil {
				return err
			}
			return out.ground(g)
		})
	case "inverse":
		width, height, err := m.ImageSize()
		if err != nil {
			return err
		}
		image := model.ImageRect(width, height)
		return eachPoint(coords, stdin, 3, func(v []float64) error {
			p, err := m.WorldToLineSample(model.GroundPoint{Lat: v[0], Lon: v[1], Height: v[2]})
			if err != nil {
				return err
			}
			return out.image(p, image.Contains(p))
		})
	case "describe":
		return out.describe(m.Describe())
	case "state":
		kwl := kb.New()
		if err := m.SaveState(kwl, opts.prefix); err != nil {
			return err
		}
		_, err := kwl.WriteTo(stdout)
		return err
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func openModel(ctx context.Context, opts options, log logging.Logger) (*core.ErsSarModel, error) {
	uri := opts.metadata
	if opts.state != "" {
		uri = opts.state
	}
	if uri == "" {
		return nil, errors.New("one of -metadata or -state is required")
	}

	source := metadatasrc.Router{}
	if strings.HasPrefix(uri, "s3://") {
		s3src, err := metadatasrc.NewS3FromRegion(opts.s3Region)
		if err != nil {
			return nil, err
		}
		source.S3 = s3src
	}
	kwl, err := source.Read(ctx, uri)
	if err != nil {
		return nil, err
	}

	modelOpts := []core.Option{core.WithLogger(log), core.WithElevation(core.ConstantElevation(opts.elevation))}
	if opts.noCornerFit {
		modelOpts = append(modelOpts, core.WithoutCornerCalibration())
	}
	m := core.NewErsSarModel(modelOpts...)
	if opts.state != "" {
		err = m.LoadState(ctx, kwl, opts.prefix)
	} else {
		err = m.Open(ctx, kwl)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// eachPoint calls fn with the coordinates given on the command line, or
// with each non-empty stdin line when none are given. Trailing missing
// values default to zero; at least two are required.
func eachPoint(coords []string, stdin io.Reader, n int, fn func([]float64) error) error {
	if len(coords) > 0 {
		v, err := parseCoords(coords, n)
		if err != nil {
			return err
		}
		return fn(v)
	}

	sc := bufio.NewScanner(stdin)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		v, err := parseCoords(fields, n)
		if err != nil {
			return fmt.Errorf("stdin line %d: %w", lineNo, err)
		}
		if err := fn(v); err != nil {
			return fmt.Errorf("stdin line %d: %w", lineNo, err)
		}
	}
	return sc.Err()
}

func parseCoords(fields []string, n int) ([]float64, error) {
	if len(fields) < 2 || len(fields) > n {
		return nil, fmt.Errorf("want 2 to %d coordinates, got %d", n, len(fields))
	}
	v := make([]float64, n)
	for i, f := range fields {
		x, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("coordinate %q: %w", f, err)
		}
		v[i] = x
	}
	return v, nil
}

type printer struct {
	w    io.Writer
	json *json.Encoder
}

func newPrinter(w io.Writer, format string) *printer {
	p := &printer{w: w}
	if format == "json" {
		p.json = json.NewEncoder(w)
	}
	return p
}

func (p *printer) ground(g model.GroundPoint) error {
	if p.json != nil {
		return p.json.Encode(map[string]float64{"lat": g.Lat, "lon": g.Lon, "height": g.Height})
	}
	_, err := fmt.Fprintf(p.w, "%.9f %.9f %.3f\n", g.Lat, g.Lon, g.Height)
	return err
}

// image prints an inverse result; points outside the image are marked.
func (p *printer) image(pt model.ImagePoint, inside bool) error {
	if p.json != nil {
		return p.json.Encode(map[string]interface{}{"line": pt.Line, "pixel": pt.Pixel, "inside": inside})
	}
	mark := ""
	if !inside {
		mark = " outside"
	}
	_, err := fmt.Fprintf(p.w, "%.4f %.4f%s\n", pt.Line, pt.Pixel, mark)
	return err
}

func (p *printer) describe(d core.Description) error {
	if p.json != nil {
		return p.json.Encode(d)
	}
	lines := []string{
		fmt.Sprintf("kind: %s", d.Kind),
		fmt.Sprintf("state: %s", d.State),
		fmt.Sprintf("filename: %s", d.Filename),
		fmt.Sprintf("georeferenced: %t", d.Georeferenced),
		fmt.Sprintf("size: %dx%d", d.Width, d.Height),
		fmt.Sprintf("ref_point: %.3f %.3f", d.RefLine, d.RefPixel),
		fmt.Sprintf("ref_distance: %.3f", d.RefDistance),
		fmt.Sprintf("ref_date: %s", d.RefDate),
		fmt.Sprintf("incidence: %.4f", d.Incidence),
		fmt.Sprintf("calibration: %g %g %g %g", d.Calibration.FactorX, d.Calibration.FactorY, d.Calibration.BiasX, d.Calibration.BiasY),
		fmt.Sprintf("calibration_bilinear: %g %g %g %g", d.Calibration.SkewX, d.Calibration.SkewY, d.Calibration.TwistX, d.Calibration.TwistY),
	}
	for i, c := range d.Corners {
		lines = append(lines, fmt.Sprintf("corner%d: %.9f %.9f", i, c.Lat, c.Lon))
	}
	_, err := fmt.Fprintln(p.w, strings.Join(lines, "\n"))
	return err
}
