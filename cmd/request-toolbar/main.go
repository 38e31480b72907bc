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
	"syscall"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/szibis/request-toolbar/internal/cache"
	"github.com/szibis/request-toolbar/internal/config"
	"github.com/szibis/request-toolbar/internal/health"
	"github.com/szibis/request-toolbar/internal/logging"
	"github.com/szibis/request-toolbar/internal/telemetry"
	"github.com/szibis/request-toolbar/internal/toolbar"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.ParseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	if exit, code := config.HandleEarlyExits(cfg, flag.CommandLine, os.Stdout); exit {
		return code
	}
	if err := cfg.Validate(); err != nil {
		logging.Error("invalid configuration", logging.F("error", err.Error()))
		return 1
	}

	logging.SetLevel(cfg.Level())
	resource := map[string]string{
		"service.name":    cfg.ServiceName,
		"service.version": config.GetVersion(),
	}
	if cfg.Environment != "" {
		resource["deployment.environment"] = cfg.Environment
	}
	logging.SetResource(resource)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	applyMemoryLimit(cfg.MemoryLimitRatio)

	tel, err := telemetry.Init(ctx, cfg.TelemetryConfig())
	if err != nil {
		logging.Error("telemetry init failed", logging.F("error", err.Error()))
		return 1
	}
	if tel.Enabled() {
		logging.SetHook(tel.NewLogHook())
		logging.Info("otlp telemetry enabled", logging.F("endpoint", cfg.TelemetryEndpoint, "protocol", cfg.TelemetryProtocol))
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), tel.ShutdownTimeout())
			defer cancel()
			logging.SetHook(nil)
			if err := tel.Shutdown(sctx); err != nil {
				logging.Warn("telemetry shutdown failed", logging.F("error", err.Error()))
			}
		}()
	}

	store, closeStore, err := newStore(ctx, cfg)
	if err != nil {
		logging.Error("snapshot cache init failed", logging.F("backend", cfg.CacheBackend, "error", err.Error()))
		return 1
	}
	defer closeStore()
	codec, _ := cache.ParseCodec(cfg.CacheCodec)
	snapshots := cache.NewSnapshotCache(store, codec, cfg.CacheTTL)

	collectors, err := cfg.BuildCollectors()
	if err != nil {
		logging.Error("collector config invalid", logging.F("error", err.Error()))
		return 1
	}
	tb := toolbar.New(toolbar.Options{
		Collectors:        collectors,
		Cache:             snapshots,
		Queries:           cfg.QueryConfig(),
		Debug:             cfg.Debug,
		CorrelationHeader: cfg.CorrelationHeader,
		IgnorePaths:       cfg.IgnorePaths,
		RoutePrefix:       cfg.RoutePrefix,
	})

	checker := health.New(0)
	checker.RegisterReadiness("snapshot_cache", snapshots.Ping)

	db, err := openDatabase(cfg)
	if err != nil {
		logging.Error("database open failed", logging.F("error", err.Error()))
		return 1
	}
	if db != nil {
		sqlDB, err := db.DB()
		if err != nil {
			logging.Error("database open failed", logging.F("error", err.Error()))
			return 1
		}
		defer sqlDB.Close()
		checker.RegisterReadiness("database", sqlDB.PingContext)
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(tb.UnaryServerInterceptor()))
	grpcHealth := grpchealth.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, grpcHealth)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /live", checker.LiveHandler())
	mux.Handle("GET /ready", checker.ReadyHandler())
	mux.Handle(tb.RoutePrefix()+"/", tb.SnapshotHandler())
	mux.Handle("/", tb.Middleware(toolbar.Router(demoRoutes(db))))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h2c.NewHandler(splitGRPC(grpcServer, mux), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ln, err := net.Listen("tcp", cfg.ListenAddr)
		if err != nil {
			return err
		}
		logging.Info("request-toolbar started", logging.F(
			"addr", ln.Addr().String(),
			"snapshot_route", tb.RoutePrefix()+"/requests/{id}",
			"cache_backend", cfg.CacheBackend,
			"cache_ttl", cfg.CacheTTL.String(),
			"collectors", len(tb.Collectors()),
			"database", db != nil,
		))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logging.Info("shutting down")
		checker.SetShuttingDown()
		grpcHealth.Shutdown()

		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)
		grpcServer.Stop()
		return err
	})

	if err := g.Wait(); err != nil {
		logging.Error("server stopped with error", logging.F("error", err.Error()))
		return 1
	}
	logging.Info("shutdown complete")
	return 0
}

// splitGRPC routes HTTP/2 gRPC calls to grpcServer and everything else to h.
func splitGRPC(grpcServer *grpc.Server, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ProtoMajor == 2 && strings.HasPrefix(r.Header.Get("Content-Type"), "application/grpc") {
			grpcServer.ServeHTTP(w, r)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// newStore builds the configured snapshot store and a func releasing it.
func newStore(ctx context.Context, cfg *config.Config) (cache.Store, func(), error) {
	switch cfg.CacheBackend {
	case config.CacheBackendMinIO:
		s, err := cache.NewMinIO(ctx, cfg.MinIOConfig())
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	default:
		m := cache.NewMemory(cfg.CacheCleanupInterval, cache.WithMaxEntries(cfg.CacheMaxEntries))
		return m, func() { _ = m.Close() }, nil
	}
}

func applyMemoryLimit(ratio float64) {
	if ratio <= 0 {
		return
	}
	limit, err := memlimit.SetGoMemLimitWithOpts(
		memlimit.WithRatio(ratio),
		memlimit.WithProvider(memlimit.ApplyFallback(memlimit.FromCgroup, memlimit.FromSystem)),
	)
	if err != nil {
		logging.Warn("memory limit not applied", logging.F("ratio", ratio, "error", err.Error()))
		return
	}
	logging.Info("memory limit applied", logging.F("ratio", ratio, "limit_bytes", limit))
}
