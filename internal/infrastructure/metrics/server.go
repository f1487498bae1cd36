// Package metrics serves the operator monitor port: Prometheus metrics,
// the aggregated health report and the live status stream on one listener.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"meld_bot/internal/core"
	ws "meld_bot/internal/infrastructure/websocket"
	"meld_bot/pkg/telemetry"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server hosts /metrics, /health and /ws
type Server struct {
	port   int
	logger core.ILogger
	health core.IHealthMonitor
	hub    *ws.Hub
	srv    *http.Server
}

// NewServer creates the monitor server. A nil health monitor reports ok;
// a nil hub disables /ws.
func NewServer(port int, logger core.ILogger, health core.IHealthMonitor, hub *ws.Hub) *Server {
	return &Server{
		port:   port,
		logger: logger.WithField("component", "monitor_server"),
		health: health,
		hub:    hub,
	}
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", s.handleHealth)
	if s.hub != nil {
		mux.Handle("/ws", ws.Handler(s.hub, s.logger))
	}
	return mux
}

// Start serves in the background until Stop
func (s *Server) Start() {
	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.routes(),
	}

	go func() {
		s.logger.Info("starting monitor server", "port", s.port)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("monitor server failed", "error", err)
		}
	}()
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.logger.Info("stopping monitor server")
	return s.srv.Shutdown(ctx)
}

// handleHealth reports overall health plus the per-component results; an
// unhealthy bot answers 503 so probes can act on the code alone.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	holder := telemetry.GetGlobalMetrics()

	activeOrders := make(map[string]int64)
	for key, n := range holder.GetActiveOrders() {
		activeOrders[key.Exchange+"/"+key.Pair] = n
	}

	payload := map[string]interface{}{
		"status":        "ok",
		"time":          time.Now(),
		"market_ready":  holder.GetMarketReady(),
		"active_orders": activeOrders,
	}

	code := http.StatusOK
	if s.health != nil {
		payload["components"] = s.health.GetStatus()
		if !s.health.IsHealthy() {
			payload["status"] = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}
