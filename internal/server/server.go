// ABOUTME: Server orchestrator wiring the websocket transport to the broker.
// ABOUTME: Manages HTTP listener lifecycle, health endpoints, and the liveness sweep.

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/AlekLiao/CS-System/internal/broker"
	"github.com/AlekLiao/CS-System/internal/config"
)

// Server hosts the websocket endpoint and health checks for the broker.
type Server struct {
	cfg        *config.Config
	broker     *broker.Broker
	httpServer *http.Server
	upgrader   websocket.Upgrader
	logger     *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

// New creates a Server instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) *Server {
	b := broker.New(broker.Config{
		MaxSessions:          cfg.Broker.MaxSessions,
		DefaultAgentCapacity: cfg.Broker.DefaultAgentCapacity,
		MatchDebounce:        cfg.Broker.MatchDebounce,
	}, logger)

	s := &Server{
		cfg:    cfg,
		broker: b,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients connect from arbitrary pages; the protocol
			// carries no credentials to protect.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:  logger.With("component", "server"),
		clients: make(map[*client]struct{}),
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/healthz/ready", s.handleReady)
	r.Get("/ws", s.handleWS)

	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Run starts the server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the listener fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.HTTPAddr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	go s.superviseLiveness(ctx)

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := s.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown stops the HTTP server and closes every live connection.
// Uses a fresh context since the run context is already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown stops the server and releases all connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	s.broker.Close()
	err := s.httpServer.Shutdown(ctx)

	for _, c := range s.snapshotClients() {
		c.close()
	}

	if err != nil {
		return fmt.Errorf("HTTP shutdown: %w", err)
	}
	return nil
}

// handleWS upgrades the connection and runs the client's read loop.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	c := newClient(conn, s.broker, s.logger)
	s.addClient(c)
	defer s.removeClient(c)

	go c.writePump()
	c.readPump()
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if at least one agent is connected.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	agents := s.broker.AgentCount()
	if agents == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no agents connected"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d agents)", agents)
}

// superviseLiveness probes every connection on a fixed interval. A connection
// that answered no probe across a full cycle is forcibly closed, which funnels
// into the ordinary disconnect teardown.
func (s *Server) superviseLiveness(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Broker.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepClients()
		case <-ctx.Done():
			return
		}
	}
}

// sweepClients closes still-suspected connections and marks the rest
// suspected until their next pong.
func (s *Server) sweepClients() {
	for _, c := range s.snapshotClients() {
		if !c.alive.Load() {
			role, id := c.identity()
			s.logger.Warn("closing unresponsive connection",
				"role", role,
				"id", id,
			)
			c.close()
			continue
		}
		c.alive.Store(false)
		c.requestPing()
	}
}

func (s *Server) addClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c)
}

func (s *Server) snapshotClients() []*client {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		out = append(out, c)
	}
	return out
}
