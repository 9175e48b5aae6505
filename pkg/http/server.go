package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/sirupsen/logrus"

	"siprec-bridge/pkg/metrics"
	"siprec-bridge/pkg/notify"
	"siprec-bridge/pkg/session"
)

// Engine is the slice of the signaling engine the health probe needs.
type Engine interface {
	Healthy() bool
}

// Server exposes the read-only query interface and the per-agent
// subscription channel.
type Server struct {
	logger   *logrus.Logger
	registry *session.Registry
	broker   *notify.Broker
	engine   Engine

	httpServer *http.Server
}

// NewServer wires the query interface over the registry and broker.
func NewServer(logger *logrus.Logger, registry *session.Registry, broker *notify.Broker, engine Engine) *Server {
	s := &Server{
		logger:   logger,
		registry: registry,
		broker:   broker,
		engine:   engine,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /calls", s.handleListCalls)
	mux.HandleFunc("GET /calls/{callID}", s.handleGetCall)
	mux.HandleFunc("GET /calls/agent/{agentDNIS}", s.handleAgentCalls)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws/agent/{agentDNIS}", s.handleAgentSocket)
	mux.Handle("GET /metrics", metrics.Handler())

	s.httpServer = &http.Server{Handler: mux}
	return s
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start binds the listen address and serves in the background. Bind errors
// are returned synchronously and are fatal at startup.
func (s *Server) Start(address string) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to bind HTTP endpoint %q: %w", address, err)
	}

	s.logger.WithField("address", address).Info("HTTP server listening")
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("HTTP server terminated")
		}
	}()
	return nil
}

// Shutdown drains and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleListCalls(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"calls": s.registry.ListAll(),
	})
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("callID")

	sess, err := s.registry.Get(callID)
	if err != nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleAgentCalls(w http.ResponseWriter, r *http.Request) {
	agentDNIS := r.PathValue("agentDNIS")
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"agent_calls": s.registry.ListByAgent(agentDNIS),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.engine != nil && s.engine.Healthy() {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		return
	}
	s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithError(err).Error("Failed to serialize response")
	}
}
