package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/datasentinel/internal/backend"
	"github.com/kailas-cloud/datasentinel/internal/backend/compiled"
	"github.com/kailas-cloud/datasentinel/internal/backend/portable"
	"github.com/kailas-cloud/datasentinel/internal/config"
	dbRedis "github.com/kailas-cloud/datasentinel/internal/db/redis"
	"github.com/kailas-cloud/datasentinel/internal/domain"
	"github.com/kailas-cloud/datasentinel/internal/engine"
	"github.com/kailas-cloud/datasentinel/internal/gpu/tensorrt"
	logpkg "github.com/kailas-cloud/datasentinel/internal/logger"
	"github.com/kailas-cloud/datasentinel/internal/metrics"
	"github.com/kailas-cloud/datasentinel/internal/repository/enginecache"
	chiTransport "github.com/kailas-cloud/datasentinel/internal/transport/chi"
	tcpTransport "github.com/kailas-cloud/datasentinel/internal/transport/tcp"
	"github.com/kailas-cloud/datasentinel/internal/usecase/detector"
	healthuc "github.com/kailas-cloud/datasentinel/internal/usecase/health"
	"github.com/kailas-cloud/datasentinel/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting datasentinel server",
		zap.String("version", version.String()),
		zap.String("env", env),
		zap.String("protocol", cfg.Server.Protocol),
		zap.Int("port", cfg.Server.Port),
		zap.String("backend", cfg.Backend.Kind),
		zap.String("model", cfg.Model.Path),
	)

	// Register metrics explicitly (no init())
	metrics.RegisterEngineMetrics()
	metrics.RegisterInferenceMetrics()
	metrics.RegisterHTTPMetrics()

	kind, err := backend.ParseKind(cfg.Backend.Kind)
	if err != nil {
		logger.Fatal("Unsupported backend", zap.Error(err))
	}

	threshold, err := config.LoadThreshold(cfg.Model.RuntimeConfigPath)
	if err != nil {
		logger.Fatal("Failed to load threshold", zap.Error(err))
	}
	logger.Info("Threshold loaded", zap.Float64("threshold", threshold))

	if err := portable.InitRuntime(cfg.Backend.ONNXRuntimeLibrary); err != nil {
		logger.Fatal("Failed to initialize ONNX Runtime", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Shared plan cache, only meaningful for the compiled backend
	var cacheStore *dbRedis.Store
	var remote engine.RemoteCache
	if kind == backend.KindCompiled && cfg.Engine.RemoteCache.Enabled {
		cacheStore, remote = connectEngineCache(ctx, cfg.Engine.RemoteCache, logger)
	}

	var toolkit *tensorrt.Toolkit
	factory := backend.NewFactory(
		portable.NewORT(cfg.Backend.IntraOpThreads),
		func() (backend.Accelerator, error) {
			tk, err := tensorrt.Open(tensorrt.Options{DeviceID: cfg.Backend.DeviceID}, logger)
			if err != nil {
				return backend.Accelerator{}, err //nolint:wrapcheck // wrapped by the factory
			}
			toolkit = tk
			return backend.Accelerator{Runtime: tk.Runtime, Device: tk.Device, Builder: tk.Builder}, nil
		},
		func(b engine.Builder) compiled.EngineStore {
			store := engine.NewStore(b, engine.BuildOptions{
				WorkspaceBytes: cfg.Engine.WorkspaceBytes,
				FastMath:       *cfg.Engine.FastMath,
			}, metrics.EngineCacheTotal, metrics.EngineBuildDuration, logger).
				WithRebuildStale(cfg.Engine.RebuildStale)
			if remote != nil {
				// A plan from another host must load here before it is cached locally.
				store.WithRemote(remote).WithPlanValidator(func(plan []byte) error {
					e, err := toolkit.Runtime.Deserialize(plan)
					if err != nil {
						return err //nolint:wrapcheck // logged by the store
					}
					return e.Close() //nolint:wrapcheck // logged by the store
				})
			}
			return store
		},
		logger,
	)

	inner, err := factory.New(ctx, kind, cfg.Model.Path)
	if err != nil {
		logger.Fatal("Failed to create inference backend", zap.Error(err))
	}

	// Compiled backends hold one execution context: one request at a time.
	var be domain.Backend = inner
	if kind == backend.KindCompiled {
		be = backend.Exclusive(be)
	}
	be = backend.Instrumented(be, logger)

	logger.Info("Inference backend ready",
		zap.String("backend", be.Name()),
		zap.Int("input_size", be.ExpectedInputSize()),
	)

	det := detector.New(be, threshold, logger)

	// Pass nil interface (not typed nil pointer!) if the cache is not configured.
	var cachePinger healthuc.CachePinger
	if cacheStore != nil {
		cachePinger = cacheStore
	}
	healthSvc := healthuc.New(be, cachePinger)
	api := chiTransport.NewServer(det, be.ExpectedInputSize(), healthSvc, logger)

	shutdownTimeout := time.Duration(cfg.Server.ShutdownSec) * time.Second
	g, gctx := errgroup.WithContext(ctx)

	switch cfg.Server.Protocol {
	case config.ProtocolTCP:
		srv := tcpTransport.NewServer(tcpTransport.Config{
			ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
			WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
			MaxLineBytes: cfg.Server.MaxLineBytes,
		}, det, be.ExpectedInputSize(), logger)
		addr := fmt.Sprintf(":%d", cfg.Server.Port)

		g.Go(func() error {
			if err := srv.ListenAndServe(addr); err != nil && !errors.Is(err, tcpTransport.ErrServerClosed) {
				return fmt.Errorf("tcp server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx) //nolint:wrapcheck // already wrapped
		})

	case config.ProtocolHTTP:
		serveHTTP(gctx, g, &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      chiTransport.NewRouter(api, cfg.Auth.APIKeys, logger),
			ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
			WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		}, "api", shutdownTimeout, logger)
	}

	if cfg.Admin.Port != 0 {
		serveHTTP(gctx, g, &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Admin.Port),
			Handler:           chiTransport.NewAdminRouter(api, logger),
			ReadHeaderTimeout: 5 * time.Second,
		}, "admin", shutdownTimeout, logger)
	}

	if err := g.Wait(); err != nil {
		logger.Error("Server error", zap.Error(err))
	}
	logger.Info("Received shutdown signal, releasing resources")

	if err := be.Close(); err != nil {
		logger.Error("Failed to close backend", zap.Error(err))
	}
	if err := toolkit.Close(); err != nil {
		logger.Error("Failed to close GPU toolkit", zap.Error(err))
	}
	if cacheStore != nil {
		cacheStore.Close()
	}
	if err := portable.ShutdownRuntime(); err != nil {
		logger.Error("Failed to shut down ONNX Runtime", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// connectEngineCache opens the shared plan cache. An unreachable Redis is not
// fatal: the store builds locally and the health check reports degraded.
func connectEngineCache(
	ctx context.Context, cfg config.RemoteCacheConfig, logger *zap.Logger,
) (*dbRedis.Store, engine.RemoteCache) {
	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Addrs,
		Password: cfg.Password,
	})
	if err != nil {
		logger.Warn("Engine cache disabled", zap.Error(err))
		return nil, nil
	}

	if err := store.WaitForReady(ctx, time.Duration(cfg.ReadinessTimeout)*time.Second); err != nil {
		logger.Warn("Engine cache not ready, continuing with local builds", zap.Error(err))
	} else {
		logger.Info("Connected to engine cache", zap.Strings("addrs", cfg.Addrs))
	}

	ttl := time.Duration(cfg.TTLHours) * time.Hour
	return store, enginecache.New(store, ttl, logger)
}

// serveHTTP runs srv in g and shuts it down when ctx ends.
func serveHTTP(
	ctx context.Context, g *errgroup.Group, srv *http.Server,
	name string, shutdownTimeout time.Duration, logger *zap.Logger,
) {
	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("name", name), zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s http server: %w", name, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("%s http shutdown: %w", name, err)
		}
		return nil
	})
}
