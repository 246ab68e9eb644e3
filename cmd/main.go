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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/cors"

	"github.com/okian/raidsync/internal/adapters/auth"
	"github.com/okian/raidsync/internal/adapters/http/api"
	"github.com/okian/raidsync/internal/adapters/http/swagger"
	"github.com/okian/raidsync/internal/adapters/repository"
	"github.com/okian/raidsync/internal/adapters/rpc"
	"github.com/okian/raidsync/internal/adapters/secrets"
	app "github.com/okian/raidsync/internal/app"
	"github.com/okian/raidsync/internal/config"
	"github.com/okian/raidsync/pkg/logger"
	"github.com/okian/raidsync/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout            = 10 * time.Second
	writeTimeout           = 10 * time.Second
	idleTimeout            = 60 * time.Second
	readHeaderTimeout      = 5 * time.Second
	shutdownTimeout        = 30 * time.Second
	serviceMetricsInterval = 5 * time.Second
)

func main() {
	if err := logger.Init(); err != nil {
		// Use stderr for initialization errors since logger isn't available yet
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> .env -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat), logger.WithLevel(cfg.LogLevel)); err != nil {
		os.Stderr.WriteString("failed to configure logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := run(ctx, cfg); err != nil {
		logger.Get().Error(ctx, "raidsync exited", logger.Error(err))
		os.Exit(1)
	}
}

// components holds everything run starts and must stop.
type components struct {
	svc     *app.Service
	client  *rpc.Client
	cache   *secrets.Cache
	closers []func() error
	handler http.Handler
}

// run wires the process and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config) error {
	log := logger.Get()
	registerRuntimeCollectors()

	c, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.stop(ctx)

	go startServiceMetricsUpdater(ctx, c.svc)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           c.handler,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
	return nil
}

// build opens the stores, connects the RPC channel and starts the service.
func build(ctx context.Context, cfg *config.Config) (*components, error) {
	c := &components{}
	fail := func(err error) (*components, error) {
		c.stop(ctx)
		return nil, err
	}

	store, err := repository.Open(ctx, cfg.StoreSettings())
	if err != nil {
		return fail(fmt.Errorf("open store: %w", err))
	}

	src, err := openSecrets(ctx, cfg, c)
	if err != nil {
		_ = store.Close()
		return fail(err)
	}
	c.cache, err = secrets.NewCache(src, cfg.SecretsTTL(), cfg.SecretsCacheSize)
	if err != nil {
		_ = store.Close()
		return fail(fmt.Errorf("secrets cache: %w", err))
	}

	rpcOpts := []rpc.Option{
		rpc.WithTimeout(cfg.RPCTimeout()),
		rpc.WithMaxPending(cfg.RPCMaxPending),
		rpc.WithReconnectInterval(cfg.RPCReconnectInterval()),
	}
	if cfg.RPCToken != "" {
		rpcOpts = append(rpcOpts, rpc.WithToken(cfg.RPCToken))
	}
	c.client = rpc.New(cfg.RPCURL, rpcOpts...)
	if err := c.client.Start(ctx); err != nil {
		_ = store.Close()
		return fail(fmt.Errorf("start rpc: %w", err))
	}

	c.svc = app.New(
		app.WithLogger(logger.Get()),
		app.WithStore(store),
		app.WithGateway(c.client),
		app.WithAuthenticator(auth.NewResolver(c.cache, c.client)),
		app.WithWindow(cfg.PendingWindow()),
		app.WithMaxUploaders(cfg.MaxUploaders),
		app.WithMaxUploads(cfg.MaxUploads),
		app.WithSweepSchedule(cfg.AdmissionSweep),
		app.WithWorkerCount(cfg.FinalizeWorkers),
		app.WithQueueSize(cfg.FinalizeQueueSize),
	)
	if err := c.svc.Start(ctx); err != nil {
		_ = store.Close()
		c.svc = nil
		return fail(fmt.Errorf("start service: %w", err))
	}

	c.handler = newHandler(cfg, c.svc, c.client)
	return c, nil
}

// openSecrets picks Redis when configured, otherwise the static signing key.
func openSecrets(ctx context.Context, cfg *config.Config, c *components) (secrets.Source, error) {
	if cfg.RedisURL == "" {
		return secrets.Static{Key: cfg.SigningKey}, nil
	}
	src, err := secrets.OpenRedis(ctx, cfg.RedisURL, "")
	if err != nil {
		return nil, fmt.Errorf("open secrets: %w", err)
	}
	c.closers = append(c.closers, src.Close)
	return src, nil
}

// newHandler builds the API and docs routes with request ids and CORS.
func newHandler(cfg *config.Config, svc *app.Service, client *rpc.Client) http.Handler {
	server := api.NewServer(svc, svc,
		api.WithMaxBodyBytes(cfg.MaxBodyBytes),
		api.WithReadinessCheck("rpc", client.Connected),
	)
	mux := http.NewServeMux()
	server.Register(mux)
	swagger.Register(mux)

	return cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Content-Encoding", api.InflatedLengthHeader, api.RequestIDHeader},
		ExposedHeaders: []string{api.RequestIDHeader},
	}).Handler(api.RequestID(mux))
}

// stop releases components in reverse start order.
func (c *components) stop(ctx context.Context) {
	if c.svc != nil {
		c.svc.Stop()
	}
	if c.client != nil {
		c.client.Stop()
	}
	if c.cache != nil {
		c.cache.Close()
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			logger.Get().Warn(ctx, "close failed", logger.Error(err))
		}
	}
	c.closers = nil
}

// registerRuntimeCollectors adds Go runtime and process metrics to the
// service registry. Repeated calls are harmless.
func registerRuntimeCollectors() {
	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		var already prometheus.AlreadyRegisteredError
		if err := metrics.GetRegistry().Register(c); err != nil && !errors.As(err, &already) {
			logger.Get().Warn(context.Background(), "register collector failed", logger.Error(err))
		}
	}
}

// startServiceMetricsUpdater refreshes gauges derived from service stats.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(svc)
		}
	}
}

// updateServiceMetrics updates service-level metrics.
func updateServiceMetrics(svc *app.Service) {
	// GetStats refreshes the pending, admission and queue gauges.
	stats := svc.GetStats()
	if workerCount, ok := stats["workerCount"].(int); ok {
		metrics.UpdateWorkerCount(workerCount)
	}
}
