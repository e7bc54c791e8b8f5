package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// Outcome label values.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// GeocodeCollector bundles Prometheus metrics for sensor model loads,
// geocoding queries and the gRPC surface serving them. It satisfies
// core.MetricsRecorder.
type GeocodeCollector struct {
	gatherer prometheus.Gatherer

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec

	ModelLoads        *prometheus.CounterVec
	ModelsLoaded      prometheus.Gauge
	Geocodes          *prometheus.CounterVec
	GeocodeIterations *prometheus.HistogramVec
}

// NewGeocodeCollector registers the metrics against reg, defaulting to the
// global Prometheus registry when nil. Registering twice on the same
// registry returns the existing collectors.
func NewGeocodeCollector(reg prometheus.Registerer) (*GeocodeCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sargeom_requests_total",
		Help: "Total number of handled geocoding RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "sargeom_requests_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sargeom_request_duration_seconds",
		Help:    "Geocoding RPC latency in seconds.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
	}, []string{"service", "method"}), "sargeom_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	loads, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sargeom_model_loads_total",
		Help: "Sensor model loads, labeled by model kind and outcome.",
	}, []string{"kind", "outcome"}), "sargeom_model_loads_total")
	if err != nil {
		return nil, err
	}

	loaded, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sargeom_models_loaded",
		Help: "Current number of ready sensor models held by the service.",
	}), "sargeom_models_loaded")
	if err != nil {
		return nil, err
	}

	geocodes, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sargeom_geocode_total",
		Help: "Geocoding queries, labeled by direction (forward, inverse) and outcome.",
	}, []string{"direction", "outcome"}), "sargeom_geocode_total")
	if err != nil {
		return nil, err
	}

	iterations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sargeom_geocode_iterations",
		Help:    "Solver iterations spent on one geocoding query.",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 256},
	}, []string{"direction"}), "sargeom_geocode_iterations")
	if err != nil {
		return nil, err
	}

	return &GeocodeCollector{
		gatherer:          gatherer,
		RPCRequests:       requests,
		RPCDurations:      durations,
		ModelLoads:        loads,
		ModelsLoaded:      loaded,
		Geocodes:          geocodes,
		GeocodeIterations: iterations,
	}, nil
}

// ObserveLoad counts one model load.
func (c *GeocodeCollector) ObserveLoad(kind string, err error) {
	if c == nil || c.ModelLoads == nil {
		return
	}
	c.ModelLoads.WithLabelValues(kind, outcome(err)).Inc()
}

// ObserveGeocode counts one geocoding query and its solver iterations.
func (c *GeocodeCollector) ObserveGeocode(direction string, iterations int, err error) {
	if c == nil {
		return
	}
	if c.Geocodes != nil {
		c.Geocodes.WithLabelValues(direction, outcome(err)).Inc()
	}
	if c.GeocodeIterations != nil && err == nil {
		c.GeocodeIterations.WithLabelValues(direction).Observe(float64(iterations))
	}
}

// SetModelsLoaded sets the number of ready models held by the service.
func (c *GeocodeCollector) SetModelsLoaded(n int) {
	if c == nil || c.ModelsLoaded == nil {
		return
	}
	c.ModelsLoaded.Set(float64(n))
}

func outcome(err error) string {
	if err != nil {
		return OutcomeFailed
	}
	return OutcomeOK
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *GeocodeCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		if c.RPCRequests != nil {
			c.RPCRequests.WithLabelValues(service, method, code).Inc()
		}
		if c.RPCDurations != nil {
			c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		}

		return resp, err
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *GeocodeCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
