package server

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ErrServerStarted is returned by a second Listen or Serve.
var ErrServerStarted = errors.New("grpc server already started")

type GRPCConfig struct {
	Host string
	Port int
	// CertFile and KeyFile enable TLS when both are set.
	CertFile             string
	KeyFile              string
	MaxConcurrentStreams uint32
	MaxRecvMsgSize       int
	// ShutdownTimeout bounds GracefulStop before the server is stopped hard.
	ShutdownTimeout time.Duration
}

// GRPCServer collects services during bootstrap and serves them once Serve
// is called. It also serves the standard gRPC health service.
type GRPCServer struct {
	cfg    GRPCConfig
	logger logr.Logger
	health *health.Server

	mu           sync.Mutex
	services     []pendingService
	interceptors []grpc.UnaryServerInterceptor
	srv          *grpc.Server
	lis          net.Listener
}

func NewGRPCServer(cfg GRPCConfig, logger logr.Logger) *GRPCServer {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return &GRPCServer{cfg: cfg, logger: logger, health: health.NewServer()}
}

// RegisterService queues desc for the server. Registering after Serve is a
// programming error and is logged and ignored.
func (s *GRPCServer) RegisterService(desc *grpc.ServiceDesc, impl any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		s.logger.Error(ErrServerStarted, "dropping late service registration", "service", desc.ServiceName)
		return
	}
	s.services = append(s.services, pendingService{desc: desc, impl: impl})
}

func (s *GRPCServer) AddUnaryInterceptor(i grpc.UnaryServerInterceptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		s.logger.Error(ErrServerStarted, "dropping late interceptor")
		return
	}
	s.interceptors = append(s.interceptors, i)
}

// Health returns the health service so owners can flip serving status.
func (s *GRPCServer) Health() *health.Server { return s.health }

func (s *GRPCServer) serverOptions() ([]grpc.ServerOption, error) {
	var opts []grpc.ServerOption
	if s.cfg.CertFile != "" && s.cfg.KeyFile != "" {
		creds, err := credentials.NewServerTLSFromFile(s.cfg.CertFile, s.cfg.KeyFile)
		if err != nil {
			return nil, errors.Wrap(err, "load server TLS key pair")
		}
		opts = append(opts, grpc.Creds(creds))
	}
	if s.cfg.MaxConcurrentStreams > 0 {
		opts = append(opts, grpc.MaxConcurrentStreams(s.cfg.MaxConcurrentStreams))
	}
	if s.cfg.MaxRecvMsgSize > 0 {
		opts = append(opts, grpc.MaxRecvMsgSize(s.cfg.MaxRecvMsgSize))
	}
	if len(s.interceptors) > 0 {
		opts = append(opts, grpc.ChainUnaryInterceptor(s.interceptors...))
	}
	return opts, nil
}

// Listen binds the configured address. Services may still be added until
// Serve is called.
func (s *GRPCServer) Listen() error {
	lis, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)))
	if err != nil {
		return errors.Wrapf(err, "listen on %s:%d", s.cfg.Host, s.cfg.Port)
	}
	if err := s.ListenOn(lis); err != nil {
		_ = lis.Close()
		return err
	}
	return nil
}

// ListenOn is Listen with a caller supplied listener.
func (s *GRPCServer) ListenOn(lis net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis != nil {
		return ErrServerStarted
	}
	s.lis = lis
	return nil
}

// build creates the grpc server from the queued services.
func (s *GRPCServer) build() (*grpc.Server, net.Listener, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis == nil {
		return nil, nil, errors.New("grpc server is not listening")
	}
	if s.srv != nil {
		return nil, nil, ErrServerStarted
	}
	opts, err := s.serverOptions()
	if err != nil {
		return nil, nil, err
	}
	srv := grpc.NewServer(opts...)
	for _, svc := range s.services {
		srv.RegisterService(svc.desc, svc.impl)
	}
	healthpb.RegisterHealthServer(srv, s.health)
	for _, svc := range s.services {
		s.health.SetServingStatus(svc.desc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.srv = srv
	return srv, s.lis, nil
}

// Addr is the bound address, or nil before Listen.
func (s *GRPCServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis == nil {
		return nil
	}
	return s.lis.Addr()
}

// Serve registers the queued services and accepts connections until ctx is
// done, then stops gracefully.
func (s *GRPCServer) Serve(ctx context.Context) error {
	srv, lis, err := s.build()
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(lis) }()
	s.logger.Info("grpc server started", "address", lis.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.health.Shutdown()
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(s.cfg.ShutdownTimeout):
		srv.Stop()
	}
	s.logger.Info("grpc server stopped")
	return nil
}
