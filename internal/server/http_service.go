package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/pysugar/shelflife/internal/logging"
)

const DefaultShutdownTimeout = 10 * time.Second

// HTTPService runs an http.Server under a suture supervisor.
type HTTPService struct {
	addr            string
	handler         http.Handler
	shutdownTimeout time.Duration
}

func NewHTTPService(addr string, handler http.Handler) *HTTPService {
	return &HTTPService{addr: addr, handler: handler, shutdownTimeout: DefaultShutdownTimeout}
}

// Serve implements suture.Service. Each call builds a fresh http.Server
// since a shut down server cannot be started again.
func (s *HTTPService) Serve(ctx context.Context) error {
	srv := &http.Server{Handler: s.handler, ReadHeaderTimeout: 10 * time.Second}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	logging.Info().Str("addr", ln.Addr().String()).Msg("🚀 ShelfLife listening")

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		// The serving context is already cancelled; shut down on a fresh one.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (s *HTTPService) String() string { return "http-server" }
