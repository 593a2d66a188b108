package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusServer exposes the default Prometheus registry over HTTP,
// implementing the Server interface declared above.
type PrometheusServer struct {
	srv *http.Server
}

// NewPrometheusServer builds a PrometheusServer listening on addr and
// serving the registered collectors at path.
func NewPrometheusServer(addr, path string) *PrometheusServer {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	return &PrometheusServer{srv: &http.Server{Addr: addr, Handler: mux}}
}

// Start begins serving metrics; it blocks until Shutdown is called or
// the listener fails.
func (s *PrometheusServer) Start(ctx context.Context) error {
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return ctx.Err()
	}
	return err
}

// Shutdown gracefully stops the metrics server.
func (s *PrometheusServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
