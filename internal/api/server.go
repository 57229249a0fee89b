package api

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"kajabook/internal/config"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const (
	// HealthService is reported next to the overall ("") status.
	HealthService     = "kajabook.Booking"
	healthServiceName = "grpc.health.v1.Health"

	healthCheckInterval = 15 * time.Second
	healthCheckTimeout  = 5 * time.Second
)

// GRPCServer exposes grpc.health.v1 for orchestrators and service meshes,
// plus seat availability when a reader is given. The serving status follows
// the storage check.
type GRPCServer struct {
	server   *grpc.Server
	health   *health.Server
	ready    func(ctx context.Context) error
	listener net.Listener
	log      zerolog.Logger
}

func NewGRPCServer(cfg *config.APIConfig, availability AvailabilityReader, ready func(ctx context.Context) error, logger *zerolog.Logger) (*GRPCServer, error) {
	addr := fmt.Sprintf(":%d", cfg.GRPC.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("grpc listen %s: %w", addr, err)
	}
	srv, err := newGRPCServer(cfg, lis, availability, ready, logger)
	if err != nil {
		_ = lis.Close()
		return nil, err
	}
	return srv, nil
}

func newGRPCServer(cfg *config.APIConfig, lis net.Listener, availability AvailabilityReader, ready func(ctx context.Context) error, logger *zerolog.Logger) (*GRPCServer, error) {
	opts := []grpc.ServerOption{
		grpc.UnaryInterceptor(ChainUnaryInterceptors(
			RecoveryUnaryInterceptor(logger),
			LoggingUnaryInterceptor(logger),
			NewAuthInterceptor(cfg).Unary(),
		)),
	}
	if cfg.GRPC.TLS.Enabled {
		tlsCfg, err := buildTLSConfig(cfg.GRPC.TLS)
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsCfg)))
	}

	s := &GRPCServer{
		server:   grpc.NewServer(opts...),
		health:   health.NewServer(),
		ready:    ready,
		listener: lis,
		log:      componentLogger(logger),
	}
	healthpb.RegisterHealthServer(s.server, s.health)
	if availability != nil {
		RegisterAvailabilityService(s.server, NewAvailabilityService(availability))
	}
	if cfg.GRPC.Reflection {
		reflection.Register(s.server)
	}
	return s, nil
}

func buildTLSConfig(cfg config.APITLSConfig) (*tls.Config, error) {
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, errors.New("grpc tls enabled but cert_file/key_file not set")
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load grpc tls keypair: %w", err)
	}
	tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	if !cfg.RequireClientCert {
		return tlsCfg, nil
	}

	if cfg.ClientCAFile == "" {
		return nil, errors.New("grpc tls require_client_cert=true but client_ca_file not set")
	}
	caPEM, err := os.ReadFile(cfg.ClientCAFile)
	if err != nil {
		return nil, fmt.Errorf("read client_ca_file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, errors.New("client_ca_file holds no PEM certificates")
	}
	tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	tlsCfg.ClientCAs = pool
	return tlsCfg, nil
}

func (s *GRPCServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// UpdateHealth checks storage once and publishes the result.
func (s *GRPCServer) UpdateHealth(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	st := healthpb.HealthCheckResponse_SERVING
	if s.ready != nil {
		if err := s.ready(ctx); err != nil {
			s.log.Warn().Err(err).Msg("health check failed")
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	for _, name := range []string{"", HealthService, availabilityServiceName} {
		s.health.SetServingStatus(name, st)
	}
	return st
}

// WatchHealth re-checks storage until ctx is done.
func (s *GRPCServer) WatchHealth(ctx context.Context) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()
	for {
		checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		s.UpdateHealth(checkCtx)
		cancel()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *GRPCServer) Serve() error {
	s.log.Info().Str("addr", s.Addr()).Msg("gRPC listening")
	return s.server.Serve(s.listener)
}

// Shutdown flips every status to NOT_SERVING, then drains calls until ctx ends.
func (s *GRPCServer) Shutdown(ctx context.Context) {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn().Msg("gRPC graceful shutdown timed out; forcing stop")
		s.server.Stop()
	}
}
