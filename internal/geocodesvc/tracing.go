package geocodesvc

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/sargeom/core"
	"github.com/signalsfoundry/sargeom/internal/logging"
	"github.com/signalsfoundry/sargeom/internal/observability"
	"github.com/signalsfoundry/sargeom/model"
)

const tracerName = "github.com/signalsfoundry/sargeom/internal/geocodesvc"

// TracingUnaryServerInterceptor names the RPC span GEO/<service>/<method>,
// starting one when no stats handler has, and tags it with the request id
// and the model the request addresses.
func TracingUnaryServerInterceptor() grpc.UnaryServerInterceptor {
	tracer := otel.Tracer(tracerName)

	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		service, method := observability.SplitMethod(info.FullMethod)
		name := "GEO/" + service + "/" + method

		span := trace.SpanFromContext(ctx)
		created := !span.SpanContext().IsValid()
		if created {
			ctx, span = tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer))
		} else {
			span.SetName(name)
		}
		span.SetAttributes(requestAttributes(ctx, service, method, req)...)

		resp, err := handler(ctx, req)
		if err != nil {
			span.RecordError(err)
			span.SetAttributes(attribute.String("rpc.grpc.status_code", status.Code(err).String()))
		}
		if created {
			span.End()
		}
		return resp, err
	}
}

func requestAttributes(ctx context.Context, service, method string, req interface{}) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("rpc.system", "grpc"),
		attribute.String("rpc.service", service),
		attribute.String("rpc.method", method),
	}
	if reqID := logging.RequestIDFromContext(ctx); reqID != "" {
		attrs = append(attrs, attribute.String("request_id", reqID))
	}
	if s, ok := req.(*structpb.Struct); ok {
		if id := requestModelID(s); id != "" {
			attrs = append(attrs, observability.AttrModelID.String(id))
		}
		if kind, err := optionalString(s, "kind"); err == nil && kind != "" {
			attrs = append(attrs, observability.AttrModelKind.String(kind))
		}
	}
	return attrs
}

// requestModelID returns the model a request addresses: the model field of
// queries, or the id of LoadModel falling back to its uri.
func requestModelID(req *structpb.Struct) string {
	for _, key := range []string{"model", "id", "uri"} {
		if v, err := optionalString(req, key); err == nil && v != "" {
			return v
		}
	}
	return ""
}

// startModelSpan starts a span for work on the model registered as id.
func startModelSpan(ctx context.Context, name, id, kind string) (context.Context, trace.Span) {
	return observability.StartSpan(ctx, name,
		observability.AttrModelID.String(id),
		observability.AttrModelKind.String(kind),
	)
}

// geocodeSpan traces one projection through a loaded model.
type geocodeSpan struct {
	span trace.Span
}

func startGeocodeSpan(ctx context.Context, direction, id string, m core.SensorModel, input ...attribute.KeyValue) geocodeSpan {
	attrs := append([]attribute.KeyValue{
		observability.AttrDirection.String(direction),
		observability.AttrModelID.String(id),
		observability.AttrModelKind.String(m.Kind()),
	}, input...)
	_, span := observability.StartSpan(ctx, "geocodesvc.Geocode", attrs...)
	return geocodeSpan{span: span}
}

func (g geocodeSpan) ground(p model.GroundPoint, err error) {
	if err == nil {
		g.span.SetAttributes(
			observability.AttrLat.Float64(p.Lat),
			observability.AttrLon.Float64(p.Lon),
			observability.AttrHeight.Float64(p.Height),
		)
	}
	observability.EndSpan(g.span, err)
}

func (g geocodeSpan) image(p model.ImagePoint, err error) {
	if err == nil {
		g.span.SetAttributes(
			observability.AttrLine.Float64(p.Line),
			observability.AttrPixel.Float64(p.Pixel),
		)
	}
	observability.EndSpan(g.span, err)
}
