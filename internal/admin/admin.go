// Package admin exposes the operator surface of a bank node: a gRPC health
// service and an HTTP endpoint for prometheus metrics.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported next to the server-wide
// empty name.
const ServiceName = "banknode"

// HealthServer serves grpc.health.v1.Health.
type HealthServer struct {
	grpc    *grpc.Server
	health  *health.Server
	serving atomic.Bool
	logger  *logrus.Entry
}

// NewHealthServer creates a health server that starts out NOT_SERVING.
func NewHealthServer(logger *logrus.Entry) *HealthServer {
	s := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	reflection.Register(s)

	h := &HealthServer{grpc: s, health: hs, logger: logger}
	h.SetServing(false)
	return h
}

// SetServing flips the reported status.
func (h *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.serving.Store(serving)
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceName, status)
}

// Serving reports the current status.
func (h *HealthServer) Serving() bool {
	return h.serving.Load()
}

// Serve blocks serving gRPC on ln until Stop.
func (h *HealthServer) Serve(ln net.Listener) error {
	h.logger.WithField("addr", ln.Addr().String()).Info("health service listening")
	if err := h.grpc.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop reports NOT_SERVING and drains in-flight calls.
func (h *HealthServer) Stop() {
	h.SetServing(false)
	h.health.Shutdown()
	h.grpc.GracefulStop()
}

// Handler returns the HTTP mux: /metrics in prometheus format, /health
// answering 200 while ready reports true and 503 otherwise.
func Handler(ready func() bool) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil && !ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not serving\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	return mux
}

// MetricsServer serves Handler over HTTP.
type MetricsServer struct {
	srv    *http.Server
	logger *logrus.Entry
}

// NewMetricsServer creates a metrics server.
func NewMetricsServer(ready func() bool, logger *logrus.Entry) *MetricsServer {
	return &MetricsServer{
		srv: &http.Server{
			Handler:           Handler(ready),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Serve blocks serving HTTP on ln until Shutdown.
func (m *MetricsServer) Serve(ln net.Listener) error {
	m.logger.WithField("addr", ln.Addr().String()).Info("metrics listening")
	if err := m.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server, waiting for active requests up to ctx.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
