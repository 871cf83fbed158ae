package control

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/core-tools/hsu-supervisor-go/pkg/errors"
	"github.com/core-tools/hsu-supervisor-go/pkg/logging"
)

const DefaultAddress = "127.0.0.1:9615"

type ServerOptions struct {
	// Address to listen on, host:port. Port 0 picks a free port.
	Address string
}

type Server interface {
	Addr() string
	Serve() error
	Shutdown(ctx context.Context) error
}

// NewServer starts listening right away so the address is known, and a busy port
// is reported, before any app is launched
func NewServer(options ServerOptions, handler http.Handler, logger logging.Logger) (Server, error) {
	address := options.Address
	if address == "" {
		address = DefaultAddress
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, errors.NewIOError("failed to listen", err).WithContext("address", address)
	}

	logger.Infof("Control API listening at %s", listener.Addr().String())

	return &server{
		httpServer: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		listener: listener,
		logger:   logger,
	}, nil
}

type server struct {
	httpServer *http.Server
	listener   net.Listener
	logger     logging.Logger
}

func (s *server) Addr() string {
	return s.listener.Addr().String()
}

// Serve blocks until Shutdown is called
func (s *server) Serve() error {
	err := s.httpServer.Serve(s.listener)
	if err == http.ErrServerClosed {
		return nil
	}
	if err != nil {
		s.logger.Errorf("Control API server failed: %v", err)
		return errors.NewIOError("control server failed", err)
	}
	return nil
}

// Shutdown also releases the listener when Serve was never called
func (s *server) Shutdown(ctx context.Context) error {
	s.logger.Infof("Stopping control API server...")

	err := s.httpServer.Shutdown(ctx)
	// Already closed when Serve ran
	_ = s.listener.Close()
	if err != nil {
		s.logger.Warnf("Graceful shutdown of control API failed, closing: %v", err)
		s.httpServer.Close()
		return errors.NewTimeoutError("control server shutdown timed out", err)
	}

	s.logger.Infof("Control API server stopped")
	return nil
}
