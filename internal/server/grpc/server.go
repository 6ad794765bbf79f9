// Package grpc serves a docstore.Store, and optionally presigned object
// storage URLs, to remote clients over gRPC.
package grpc

import (
	"context"
	"net"
	"time"

	"github.com/dmitrijs2005/duodeck/internal/blobstore"
	"github.com/dmitrijs2005/duodeck/internal/docstore"
	"github.com/dmitrijs2005/duodeck/internal/logging"
	"github.com/dmitrijs2005/duodeck/internal/metrics"
	"github.com/dmitrijs2005/duodeck/internal/storerpc"
	"google.golang.org/grpc"
)

// shutdownGrace bounds GracefulStop; open change feeds are cut after it.
const shutdownGrace = 5 * time.Second

type GRPCServer struct {
	address   string
	store     docstore.Store
	presigner blobstore.Presigner
	logger    logging.Logger
	jwtSecret []byte
	limiter   *RateLimiter
	metrics   metrics.Recorder
}

// Option configures optional parts of the server.
type Option func(*GRPCServer)

// WithPresigner enables the Presign method.
func WithPresigner(p blobstore.Presigner) Option {
	return func(s *GRPCServer) { s.presigner = p }
}

// WithRateLimiter throttles every call per device.
func WithRateLimiter(l *RateLimiter) Option {
	return func(s *GRPCServer) { s.limiter = l }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(s *GRPCServer) { s.metrics = m }
}

func NewGRPCServer(a string, l logging.Logger, store docstore.Store, secretKey string, opts ...Option) (*GRPCServer, error) {
	s := &GRPCServer{
		address:   a,
		store:     store,
		logger:    logging.OrNop(l).With("module", "grpc_server"),
		jwtSecret: []byte(secretKey),
		metrics:   metrics.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(s.metricsInterceptor, s.accessTokenInterceptor, s.rateLimitInterceptor),
		grpc.ChainStreamInterceptor(s.metricsStreamInterceptor, s.accessTokenStreamInterceptor, s.rateLimitStreamInterceptor),
	)
	storerpc.RegisterDocumentStoreServer(srv, s)
	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is done, then stops gracefully.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")

		stopped := make(chan struct{})
		go func() {
			srv.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(shutdownGrace):
			srv.Stop()
		}
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(lis); err != nil {
		return err
	}

	return nil
}
