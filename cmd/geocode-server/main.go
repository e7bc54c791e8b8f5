package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/sargeom/core"
	"github.com/signalsfoundry/sargeom/internal/geocodesvc"
	"github.com/signalsfoundry/sargeom/internal/logging"
	"github.com/signalsfoundry/sargeom/internal/metadatasrc"
	"github.com/signalsfoundry/sargeom/internal/observability"
)

// Config holds the geocoding server settings.
type Config struct {
	ListenAddress  string
	MetricsAddress string
	EnableTLS      bool
	TLSCertPath    string
	TLSKeyPath     string
	LogLevel       string
	LogFormat      string
	// S3Region enables s3:// metadata uris when set.
	S3Region string
	// Preload lists metadata uris opened before serving. Each model is
	// registered under its uri.
	Preload []string
	// Elevation is the constant terrain height used by preloaded models.
	Elevation float64
	// Tracing defaults to the SARGEOM_* environment in main.
	Tracing observability.TracingConfig
}

func (c Config) validate() error {
	if c.EnableTLS && (c.TLSCertPath == "" || c.TLSKeyPath == "") {
		return errors.New("tls enabled without cert and key paths")
	}
	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	return nil
}

func main() {
	var cfg Config
	var preload string
	flag.StringVar(&cfg.ListenAddress, "grpc-addr", ":50061", "TCP address the geocoding gRPC server listens on")
	flag.StringVar(&cfg.MetricsAddress, "metrics-addr", ":9090", "HTTP address for Prometheus /metrics; empty disables it")
	flag.BoolVar(&cfg.EnableTLS, "tls", false, "serve gRPC over TLS")
	flag.StringVar(&cfg.TLSCertPath, "tls-cert", "", "TLS certificate path")
	flag.StringVar(&cfg.TLSKeyPath, "tls-key", "", "TLS key path")
	flag.StringVar(&cfg.LogLevel, "log-level", envOr("LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	flag.StringVar(&cfg.LogFormat, "log-format", envOr("LOG_FORMAT", "text"), "log format: text or json")
	flag.StringVar(&cfg.S3Region, "s3-region", os.Getenv("AWS_REGION"), "AWS region for s3:// metadata; empty disables S3")
	flag.StringVar(&preload, "preload", "", "comma-separated metadata uris to load at startup")
	flag.Float64Var(&cfg.Elevation, "elevation", 0, "constant terrain height in meters for preloaded models")
	flag.Parse()
	cfg.Preload = splitList(preload)
	cfg.Tracing = observability.TracingConfigFromEnv()

	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	lis, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.ListenAddress), logging.Err(err))
		os.Exit(1)
	}

	if err := run(ctx, cfg, log, lis); err != nil {
		log.Error(ctx, "geocoding server failed", logging.Err(err))
		os.Exit(1)
	}
}

// run serves the geocoding service on lis until ctx is cancelled.
func run(ctx context.Context, cfg Config, log logging.Logger, lis net.Listener) error {
	if log == nil {
		log = logging.Noop()
	}
	if err := cfg.validate(); err != nil {
		return err
	}

	tracing := cfg.Tracing
	if tracing.ModelKinds == nil {
		tracing.ModelKinds = core.Kinds()
	}
	shutdownTracing, err := observability.InitTracing(ctx, tracing, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewGeocodeCollector(nil)
	if err != nil {
		return fmt.Errorf("init metrics collector: %w", err)
	}
	metricsSrv := serveMetrics(cfg.MetricsAddress, collector, log)

	source := metadatasrc.Router{}
	if cfg.S3Region != "" {
		s3src, err := metadatasrc.NewS3FromRegion(cfg.S3Region)
		if err != nil {
			return fmt.Errorf("init s3 source: %w", err)
		}
		source.S3 = s3src
	}

	svc := geocodesvc.NewService(
		geocodesvc.WithSource(source),
		geocodesvc.WithMetrics(collector),
		geocodesvc.WithLogger(log),
	)
	if err := preloadModels(ctx, svc, cfg); err != nil {
		return err
	}

	opts := geocodesvc.ServerOptions(log, collector)
	opts = append(opts, grpc.StatsHandler(otelgrpc.NewServerHandler()))
	if cfg.EnableTLS {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCertPath, cfg.TLSKeyPath)
		if err != nil {
			return fmt.Errorf("load tls credentials: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	}
	server := grpc.NewServer(opts...)
	geocodesvc.RegisterGeocodingServer(server, svc)

	log.Info(ctx, "starting geocoding gRPC server",
		logging.String("addr", lis.Addr().String()),
		logging.Int("models", len(svc.Models())),
	)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		log.Info(context.Background(), "shutting down geocoding server")
		server.GracefulStop()
		err = nil
	case err = <-serveErr:
		if err != nil {
			err = fmt.Errorf("grpc serve: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return err
}

func preloadModels(ctx context.Context, svc *geocodesvc.Service, cfg Config) error {
	for _, uri := range cfg.Preload {
		req, err := structpb.NewStruct(map[string]interface{}{"uri": uri, "elevation": cfg.Elevation})
		if err != nil {
			return err
		}
		if _, err := svc.LoadModel(ctx, req); err != nil {
			return fmt.Errorf("preload %s: %w", uri, err)
		}
	}
	return nil
}

func serveMetrics(addr string, collector *observability.GeocodeCollector, log logging.Logger) *http.Server {
	if collector == nil || addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func splitList(s string) []string {
	var res []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			res = append(res, part)
		}
	}
	return res
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
