package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestUnaryInterceptorRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewGeocodeCollector(reg)
	if err != nil {
		t.Fatalf("NewGeocodeCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/sargeom.v1.GeocodingService/LineSampleToWorld"}

	_, err = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		time.Sleep(5 * time.Millisecond)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("interceptor handler returned error: %v", err)
	}

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("GeocodingService", "LineSampleToWorld", "OK")); got != 1 {
		t.Fatalf("sargeom_requests_total = %v, want 1", got)
	}

	if count := histogramSampleCount(t, reg, "sargeom_request_duration_seconds", map[string]string{
		"service": "GeocodingService",
		"method":  "LineSampleToWorld",
	}); count != 1 {
		t.Fatalf("sargeom_request_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestUnaryInterceptorRecordsErrorCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewGeocodeCollector(reg)
	if err != nil {
		t.Fatalf("NewGeocodeCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/sargeom.v1.GeocodingService/LoadModel"}

	_, _ = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.InvalidArgument, "boom")
	})

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("GeocodingService", "LoadModel", "InvalidArgument")); got != 1 {
		t.Fatalf("sargeom_requests_total error label = %v, want 1", got)
	}
}

func TestGeocodeObservations(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewGeocodeCollector(reg)
	if err != nil {
		t.Fatalf("NewGeocodeCollector: %v", err)
	}

	collector.ObserveLoad("ers_sar", nil)
	collector.ObserveLoad("ers_sar", errors.New("missing key"))
	collector.ObserveLoad("ers_sar", nil)
	collector.ObserveGeocode("forward", 7, nil)
	collector.ObserveGeocode("forward", 3, errors.New("no intersection"))
	collector.ObserveGeocode("inverse", 12, nil)

	if got := testutil.ToFloat64(collector.ModelLoads.WithLabelValues("ers_sar", OutcomeOK)); got != 2 {
		t.Fatalf("loads ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.ModelLoads.WithLabelValues("ers_sar", OutcomeFailed)); got != 1 {
		t.Fatalf("loads failed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.Geocodes.WithLabelValues("forward", OutcomeFailed)); got != 1 {
		t.Fatalf("forward failures = %v, want 1", got)
	}
	// Failed queries do not feed the iteration histogram.
	if count := histogramSampleCount(t, reg, "sargeom_geocode_iterations", map[string]string{"direction": "forward"}); count != 1 {
		t.Fatalf("forward iteration samples = %d, want 1", count)
	}

	var nilCollector *GeocodeCollector
	nilCollector.ObserveLoad("ers_sar", nil)
	nilCollector.ObserveGeocode("inverse", 1, nil)
	nilCollector.SetModelsLoaded(3)
}

func TestRegisteringTwiceReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewGeocodeCollector(reg)
	if err != nil {
		t.Fatalf("NewGeocodeCollector: %v", err)
	}
	second, err := NewGeocodeCollector(reg)
	if err != nil {
		t.Fatalf("second NewGeocodeCollector: %v", err)
	}
	first.ObserveLoad("ers_sar", nil)
	if got := testutil.ToFloat64(second.ModelLoads.WithLabelValues("ers_sar", OutcomeOK)); got != 1 {
		t.Fatalf("second collector sees %v loads, want 1", got)
	}
}

func TestMetricsHandlerExposesModelGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewGeocodeCollector(reg)
	if err != nil {
		t.Fatalf("NewGeocodeCollector: %v", err)
	}
	collector.SetModelsLoaded(3)
	collector.ObserveLoad("ers_sar", nil)
	collector.ObserveGeocode("inverse", 4, nil)
	collector.RPCRequests.WithLabelValues("svc", "method", "OK").Inc()
	collector.RPCDurations.WithLabelValues("svc", "method").Observe(0.01)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"sargeom_requests_total",
		"sargeom_request_duration_seconds",
		"sargeom_model_loads_total",
		"sargeom_geocode_total",
		"sargeom_geocode_iterations",
		"sargeom_models_loaded 3",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
}

func TestSplitMethod(t *testing.T) {
	cases := [][3]string{
		{"/sargeom.v1.GeocodingService/DescribeModel", "GeocodingService", "DescribeModel"},
		{"", "unknown", "unknown"},
		{"/broken", "unknown", "unknown"},
		{"/svc/", "svc", "unknown"},
	}
	for _, tc := range cases {
		service, method := SplitMethod(tc[0])
		if service != tc[1] || method != tc[2] {
			t.Errorf("SplitMethod(%q) = %q, %q, want %q, %q", tc[0], service, method, tc[1], tc[2])
		}
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
