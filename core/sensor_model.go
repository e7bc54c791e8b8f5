package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/signalsfoundry/sargeom/internal/logging"
	"github.com/signalsfoundry/sargeom/kb"
	"github.com/signalsfoundry/sargeom/model"
)

var (
	// ErrNotReady is returned by queries on a model that has not loaded.
	ErrNotReady = errors.New("sensor model is not ready")
	// ErrAlreadyOpened is returned when Open or LoadState is called twice.
	ErrAlreadyOpened = errors.New("sensor model already opened")
	// ErrNoIntersection is returned when the range sphere does not reach
	// the ellipsoid in the zero-Doppler plane.
	ErrNoIntersection = errors.New("range sphere does not intersect the ellipsoid")
	// ErrNotConverged is returned when an iterative solve hits its cap.
	ErrNotConverged = errors.New("iteration did not converge")
	// ErrInvalidMetadata wraps load failures caused by metadata content.
	ErrInvalidMetadata = errors.New("invalid metadata")
	// ErrUnknownModel is returned by NewSensorModel for unknown kinds.
	ErrUnknownModel = errors.New("unknown sensor model")
)

// State is the lifecycle state of a sensor model.
type State int

const (
	StateUnloaded State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SensorModel converts between image and ground coordinates for one scene.
type SensorModel interface {
	// Open loads the model from leader-file metadata.
	Open(ctx context.Context, kwl *kb.Keywordlist) error
	// Kind is the factory name of the model, such as KindErsSar.
	Kind() string
	State() State
	// ImageSize returns the image width and height in pixels.
	ImageSize() (width, height int, err error)
	LineSampleToWorld(p model.ImagePoint) (model.GroundPoint, error)
	WorldToLineSample(g model.GroundPoint) (model.ImagePoint, error)
	// SaveState writes the loaded model under prefix.
	SaveState(kwl *kb.Keywordlist, prefix string) error
	// LoadState restores a model written by SaveState.
	LoadState(ctx context.Context, kwl *kb.Keywordlist, prefix string) error
	Describe() Description
}

// Description summarises a loaded model.
type Description struct {
	Kind          string
	State         State
	Filename      string
	Georeferenced bool
	Width         int
	Height        int
	RefLine       float64
	RefPixel      float64
	RefDistance   float64
	RefDate       string
	Calibration   Calibration
	GCPCount      int
	Corners       []model.GroundPoint
	Incidence     float64 // degrees at the reference point
}

// MetricsRecorder receives model lifecycle and query outcomes.
type MetricsRecorder interface {
	ObserveLoad(kind string, err error)
	ObserveGeocode(direction string, iterations int, err error)
}

// Geocode directions reported to MetricsRecorder.
const (
	DirectionForward = "forward"
	DirectionInverse = "inverse"
)

type noopMetrics struct{}

func (noopMetrics) ObserveLoad(string, error)         {}
func (noopMetrics) ObserveGeocode(string, int, error) {}

// ElevationSource supplies terrain height above the ellipsoid.
type ElevationSource interface {
	Height(latDeg, lonDeg float64) float64
}

// ConstantElevation is an ElevationSource returning the same height
// everywhere.
type ConstantElevation float64

func (c ConstantElevation) Height(float64, float64) float64 { return float64(c) }

type options struct {
	logger            logging.Logger
	metrics           MetricsRecorder
	elevation         ElevationSource
	cornerCalibration bool
}

// Option configures a sensor model.
type Option func(*options)

// WithLogger sets the model logger.
func WithLogger(l logging.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the recorder notified of loads and queries.
func WithMetrics(m MetricsRecorder) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithElevation sets the terrain used by LineSampleToWorld.
func WithElevation(src ElevationSource) Option {
	return func(o *options) {
		if src != nil {
			o.elevation = src
		}
	}
}

// WithoutCornerCalibration skips fitting the calibration to the corner
// GCPs during Open.
func WithoutCornerCalibration() Option {
	return func(o *options) { o.cornerCalibration = false }
}

func buildOptions(opts []Option) options {
	o := options{
		logger:            logging.Noop(),
		metrics:           noopMetrics{},
		elevation:         ConstantElevation(0),
		cornerCalibration: true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// KindErsSar names the ERS-1/2 SAR model.
const KindErsSar = "ers_sar"

var factories = map[string]func(...Option) SensorModel{
	KindErsSar: func(opts ...Option) SensorModel { return NewErsSarModel(opts...) },
}

// NewSensorModel returns an unloaded model of the given kind.
func NewSensorModel(kind string, opts ...Option) (SensorModel, error) {
	f, ok := factories[strings.ToLower(strings.TrimSpace(kind))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, kind)
	}
	return f(opts...), nil
}

// Kinds lists the registered sensor model kinds.
func Kinds() []string {
	res := make([]string, 0, len(factories))
	for k := range factories {
		res = append(res, k)
	}
	sort.Strings(res)
	return res
}
