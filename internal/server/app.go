// Package server wires the document store server: the PostgreSQL store, the
// gRPC endpoint with its interceptors, S3 presigning, and the metrics and
// health HTTP endpoint. It handles graceful shutdown on SIGINT/SIGTERM.
package server

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/duodeck/internal/docstore/postgres"
	"github.com/dmitrijs2005/duodeck/internal/logging"
	"github.com/dmitrijs2005/duodeck/internal/metrics"
	"github.com/dmitrijs2005/duodeck/internal/server/auth"
	"github.com/dmitrijs2005/duodeck/internal/server/config"
	"github.com/dmitrijs2005/duodeck/internal/server/httpserver"
	"github.com/dmitrijs2005/duodeck/internal/server/objectstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	gs "github.com/dmitrijs2005/duodeck/internal/server/grpc"
)

type App struct {
	config    *config.Config
	logger    logging.Logger
	store     *postgres.Store
	presigner *objectstore.S3Presigner
	registry  *prometheus.Registry
}

// MintToken writes a device token for c.Mint to w.
func MintToken(c *config.Config, w io.Writer) error {
	token, err := auth.GenerateToken(c.Mint, []byte(c.SecretKey), c.TokenValidityDuration)
	if err != nil {
		return fmt.Errorf("mint token: %w", err)
	}
	_, err = fmt.Fprintln(w, token)
	return err
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	logger := logging.New(os.Stdout, c.LogLevel, c.LogFormat)

	store, err := postgres.Open(ctx, c.DatabaseDSN, logger)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	if err := store.RunMigrations(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("db migration error: %w", err)
	}

	var presigner *objectstore.S3Presigner
	if c.S3Bucket != "" {
		presigner, err = objectstore.NewS3Presigner(ctx, objectstore.Config{
			Region:       c.S3Region,
			BaseEndpoint: c.S3BaseEndpoint,
			AccessKey:    c.S3RootUser,
			SecretKey:    c.S3RootPassword,
			Bucket:       c.S3Bucket,
		})
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("object storage init error: %w", err)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &App{config: c, logger: logger, store: store, presigner: presigner, registry: registry}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) grpcOptions() []gs.Option {
	opts := []gs.Option{gs.WithMetrics(metrics.NewCollector(app.registry))}
	if app.presigner != nil {
		opts = append(opts, gs.WithPresigner(app.presigner))
	}
	if app.config.RateLimit > 0 {
		opts = append(opts, gs.WithRateLimiter(gs.NewRateLimiter(app.config.RateLimit, app.config.RateBurst, 5*time.Minute)))
	}
	return opts
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc, opts []gs.Option) {

	s, err := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.store, app.config.SecretKey, opts...)
	if err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
		return
	}

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := httpserver.New(app.config.MetricsAddr, httpserver.NewRouter(app.registry, app.store), app.logger)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	opts := app.grpcOptions()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc, opts)
	}()

	if app.config.MetricsAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.startHTTPServer(ctx, cancelFunc)
		}()
	}

	wg.Wait()

	if err := app.store.Close(); err != nil {
		app.logger.Error(context.Background(), "closing store", "error", err)
	}
	app.logger.Info(context.Background(), "Stopped")
}
