package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type healthReport struct {
	Status   string                   `json:"status"`
	Channels map[string]channelHealth `json:"channels,omitempty"`
}

type channelHealth struct {
	Healthy  bool   `json:"healthy"`
	Degraded bool   `json:"degraded,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Handler returns the mux serving /metrics and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", s.handleHealthz)
	return mux
}

// startHTTPServer must be called with mu held.
func (s *Server) startHTTPServer() error {
	addr := s.runtime.Config.Server.MetricsAddr
	if addr == "" {
		return nil
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.httpServer = server
	s.httpListener = listener

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()
	s.logger.Info("starting http server", "addr", listener.Addr().String())
	return nil
}

func (s *Server) stopHTTPServer(ctx context.Context) {
	if s.httpServer == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http server shutdown error", "error", err)
	}
	s.httpServer = nil
	s.httpListener = nil
}

// HTTPAddr returns the bound metrics address, or "" when not serving.
func (s *Server) HTTPAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// handleHealthz reports 200 while every adapter is healthy, possibly
// degraded, and 503 otherwise.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	report := healthReport{Status: "ok"}
	code := http.StatusOK
	for _, adapter := range s.adapters {
		health := adapter.HealthCheck(ctx)
		if report.Channels == nil {
			report.Channels = make(map[string]channelHealth, len(s.adapters))
		}
		report.Channels[adapter.Name()] = channelHealth{
			Healthy:  health.Healthy,
			Degraded: health.Degraded,
			Message:  health.Message,
		}
		switch {
		case !health.Healthy:
			report.Status = "unhealthy"
			code = http.StatusServiceUnavailable
		case health.Degraded && report.Status == "ok":
			report.Status = "degraded"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(report) //nolint:errcheck
}
