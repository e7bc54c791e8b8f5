// Package geocodesvc serves loaded sensor models over gRPC.
package geocodesvc

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/sargeom/core"
	"github.com/signalsfoundry/sargeom/internal/logging"
	"github.com/signalsfoundry/sargeom/internal/metadatasrc"
	"github.com/signalsfoundry/sargeom/internal/observability"
	"github.com/signalsfoundry/sargeom/kb"
	"github.com/signalsfoundry/sargeom/model"
)

var _ core.MetricsRecorder = (*observability.GeocodeCollector)(nil)

type heightProjector interface {
	LineSampleHeightToWorld(p model.ImagePoint, h float64) (model.GroundPoint, error)
}

// Service keeps loaded sensor models by id and answers geocoding requests
// against them.
type Service struct {
	source  metadatasrc.Source
	metrics *observability.GeocodeCollector
	log     logging.Logger

	mu     sync.RWMutex
	models map[string]core.SensorModel
}

// Option configures a Service.
type Option func(*Service)

// WithSource sets where LoadModel reads metadata uris from.
func WithSource(src metadatasrc.Source) Option {
	return func(s *Service) {
		if src != nil {
			s.source = src
		}
	}
}

// WithMetrics reports model loads and queries to c.
func WithMetrics(c *observability.GeocodeCollector) Option {
	return func(s *Service) { s.metrics = c }
}

// WithLogger sets the fallback logger used outside request scope.
func WithLogger(l logging.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// NewService returns an empty service reading local metadata files.
func NewService(opts ...Option) *Service {
	s := &Service{
		source: metadatasrc.Router{},
		log:    logging.Noop(),
		models: make(map[string]core.SensorModel),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Models returns the ids of the loaded models in order.
func (s *Service) Models() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.models))
	for id := range s.models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LoadModel opens a model from a metadata uri or an inline metadata struct
// and registers it under id.
//
// Request fields: id, uri or metadata, kind (default ers_sar), elevation
// (constant terrain height in meters), corner_calibration (default true).
func (s *Service) LoadModel(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	uri, err := optionalString(req, "uri")
	if err != nil {
		return nil, ToStatusError(err)
	}
	id, err := optionalString(req, "id")
	if err != nil {
		return nil, ToStatusError(err)
	}
	if id == "" {
		id = uri
	}
	if id == "" {
		return nil, ToStatusError(fmt.Errorf("%w: id or uri is required", ErrInvalidRequest))
	}
	kind, err := optionalString(req, "kind")
	if err != nil {
		return nil, ToStatusError(err)
	}
	if kind == "" {
		kind = core.KindErsSar
	}
	elevation, err := optionalNumber(req, "elevation", 0)
	if err != nil {
		return nil, ToStatusError(err)
	}
	cornerCal, err := optionalBool(req, "corner_calibration", true)
	if err != nil {
		return nil, ToStatusError(err)
	}
	if s.lookup(id) != nil {
		return nil, ToStatusError(fmt.Errorf("%w: %q", ErrModelExists, id))
	}

	log := logging.FromContext(ctx, s.log).With(logging.String("model_id", id))

	kwl, err := s.metadata(ctx, req, uri)
	if err != nil {
		return nil, ToStatusError(err)
	}

	opts := []core.Option{core.WithLogger(log), core.WithElevation(core.ConstantElevation(elevation))}
	if s.metrics != nil {
		opts = append(opts, core.WithMetrics(s.metrics))
	}
	if !cornerCal {
		opts = append(opts, core.WithoutCornerCalibration())
	}
	m, err := core.NewSensorModel(kind, opts...)
	if err != nil {
		return nil, ToStatusError(err)
	}

	openCtx, span := startModelSpan(ctx, "geocodesvc.OpenModel", id, m.Kind())
	err = m.Open(openCtx, kwl)
	observability.EndSpan(span, err)
	if err != nil {
		return nil, ToStatusError(err)
	}

	s.mu.Lock()
	if _, exists := s.models[id]; exists {
		s.mu.Unlock()
		return nil, ToStatusError(fmt.Errorf("%w: %q", ErrModelExists, id))
	}
	s.models[id] = m
	n := len(s.models)
	s.mu.Unlock()
	s.metrics.SetModelsLoaded(n)

	log.Info(ctx, "model loaded", logging.String("kind", kind), logging.Int("models", n))
	return describeStruct(id, m.Describe())
}

func (s *Service) metadata(ctx context.Context, req *structpb.Struct, uri string) (*kb.Keywordlist, error) {
	if v, ok := field(req, "metadata"); ok {
		inline := v.GetStructValue()
		if inline == nil {
			return nil, fmt.Errorf("%w: metadata must be a struct", ErrInvalidRequest)
		}
		if uri != "" {
			return nil, fmt.Errorf("%w: uri and metadata are exclusive", ErrInvalidRequest)
		}
		return keywordlistFromStruct(inline)
	}
	if uri == "" {
		return nil, fmt.Errorf("%w: uri or metadata is required", ErrInvalidRequest)
	}

	ctx, span := observability.StartSpan(ctx, "geocodesvc.ReadMetadata", observability.AttrMetadataURI.String(uri))
	kwl, err := s.source.Read(ctx, uri)
	if err == nil {
		span.SetAttributes(observability.AttrMetadataKeys.Int(kwl.Len()))
	}
	observability.EndSpan(span, err)
	return kwl, err
}

// UnloadModel forgets the model named by the model field.
func (s *Service) UnloadModel(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := requiredString(req, "model")
	if err != nil {
		return nil, ToStatusError(err)
	}

	s.mu.Lock()
	if _, ok := s.models[id]; !ok {
		s.mu.Unlock()
		return nil, ToStatusError(fmt.Errorf("%w: %q", ErrModelNotFound, id))
	}
	delete(s.models, id)
	n := len(s.models)
	s.mu.Unlock()
	s.metrics.SetModelsLoaded(n)

	logging.FromContext(ctx, s.log).Info(ctx, "model unloaded", logging.String("model_id", id), logging.Int("models", n))
	return structpb.NewStruct(map[string]interface{}{"model": id})
}

// DescribeModel returns the summary of a loaded model.
func (s *Service) DescribeModel(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, m, err := s.model(req)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return describeStruct(id, m.Describe())
}

// LineSampleToWorld projects line and pixel to ground. With a height field
// the point is placed at that height instead of on the model terrain.
func (s *Service) LineSampleToWorld(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, m, err := s.model(req)
	if err != nil {
		return nil, ToStatusError(err)
	}
	line, err := requiredNumber(req, "line")
	if err != nil {
		return nil, ToStatusError(err)
	}
	pixel, err := requiredNumber(req, "pixel")
	if err != nil {
		return nil, ToStatusError(err)
	}
	p := model.ImagePoint{Line: line, Pixel: pixel}
	span := startGeocodeSpan(ctx, core.DirectionForward, id, m,
		observability.AttrLine.Float64(line),
		observability.AttrPixel.Float64(pixel),
	)

	var g model.GroundPoint
	if v, ok := field(req, "height"); ok {
		h, isNum := v.GetKind().(*structpb.Value_NumberValue)
		hp, ok := m.(heightProjector)
		switch {
		case !isNum:
			err = fmt.Errorf("%w: height must be a number", ErrInvalidRequest)
		case !ok:
			err = fmt.Errorf("%w: model does not accept a height", ErrInvalidRequest)
		default:
			g, err = hp.LineSampleHeightToWorld(p, h.NumberValue)
		}
	} else {
		g, err = m.LineSampleToWorld(p)
	}
	span.ground(g, err)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return structpb.NewStruct(groundMap(g))
}

// WorldToLineSample projects lat, lon and optional height to the image.
func (s *Service) WorldToLineSample(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, m, err := s.model(req)
	if err != nil {
		return nil, ToStatusError(err)
	}
	lat, err := requiredNumber(req, "lat")
	if err != nil {
		return nil, ToStatusError(err)
	}
	lon, err := requiredNumber(req, "lon")
	if err != nil {
		return nil, ToStatusError(err)
	}
	h, err := optionalNumber(req, "height", 0)
	if err != nil {
		return nil, ToStatusError(err)
	}

	span := startGeocodeSpan(ctx, core.DirectionInverse, id, m,
		observability.AttrLat.Float64(lat),
		observability.AttrLon.Float64(lon),
		observability.AttrHeight.Float64(h),
	)
	p, err := m.WorldToLineSample(model.GroundPoint{Lat: lat, Lon: lon, Height: h})
	span.image(p, err)
	if err != nil {
		return nil, ToStatusError(err)
	}
	w, hgt, err := m.ImageSize()
	if err != nil {
		return nil, ToStatusError(err)
	}
	return structpb.NewStruct(map[string]interface{}{
		"line":   p.Line,
		"pixel":  p.Pixel,
		"inside": model.ImageRect(w, hgt).Contains(p),
	})
}

func (s *Service) lookup(id string) core.SensorModel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.models[id]
}

func (s *Service) model(req *structpb.Struct) (string, core.SensorModel, error) {
	id, err := requiredString(req, "model")
	if err != nil {
		return "", nil, err
	}
	m := s.lookup(id)
	if m == nil {
		return "", nil, fmt.Errorf("%w: %q", ErrModelNotFound, id)
	}
	return id, m, nil
}

func keywordlistFromStruct(in *structpb.Struct) (*kb.Keywordlist, error) {
	kwl := kb.New()
	for key, v := range in.GetFields() {
		switch x := v.GetKind().(type) {
		case *structpb.Value_StringValue:
			kwl.Add("", key, x.StringValue)
		case *structpb.Value_NumberValue:
			kwl.AddFloat("", key, x.NumberValue)
		case *structpb.Value_BoolValue:
			kwl.AddBool("", key, x.BoolValue)
		default:
			return nil, fmt.Errorf("%w: metadata key %q must be a string, number or bool", ErrInvalidRequest, key)
		}
	}
	return kwl, nil
}

func describeStruct(id string, d core.Description) (*structpb.Struct, error) {
	corners := make([]interface{}, 0, len(d.Corners))
	for _, c := range d.Corners {
		corners = append(corners, groundMap(c))
	}
	return structpb.NewStruct(map[string]interface{}{
		"id":            id,
		"kind":          d.Kind,
		"state":         d.State.String(),
		"filename":      d.Filename,
		"georeferenced": d.Georeferenced,
		"width":         d.Width,
		"height":        d.Height,
		"ref_line":      d.RefLine,
		"ref_pixel":     d.RefPixel,
		"ref_distance":  d.RefDistance,
		"ref_date":      d.RefDate,
		"incidence":     d.Incidence,
		"gcp_count":     d.GCPCount,
		"calibration": map[string]interface{}{
			"factor_x": d.Calibration.FactorX,
			"factor_y": d.Calibration.FactorY,
			"bias_x":   d.Calibration.BiasX,
			"bias_y":   d.Calibration.BiasY,
			"skew_x":   d.Calibration.SkewX,
			"skew_y":   d.Calibration.SkewY,
			"twist_x":  d.Calibration.TwistX,
			"twist_y":  d.Calibration.TwistY,
		},
		"corners": corners,
	})
}

func groundMap(g model.GroundPoint) map[string]interface{} {
	return map[string]interface{}{"lat": g.Lat, "lon": g.Lon, "height": g.Height}
}
