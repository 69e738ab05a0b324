// Package gateway exposes the control plane: the REST session surface,
// the canvas websocket mount, metrics, and the daemon that assembles the
// runtime from configuration.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/switchyard-ai/switchyard/internal/config"
	"github.com/switchyard-ai/switchyard/internal/sessions"
)

// Server is the HTTP control plane.
type Server struct {
	cfg      *config.Config
	sessions *sessions.Manager
	ws       http.Handler
	metrics  *Metrics
	logger   *slog.Logger

	startTime    time.Time
	httpServer   *http.Server
	httpListener net.Listener
}

// ServerOptions carries the collaborators the handlers need. WS, when
// set, is mounted at /ws/{sessionId}.
type ServerOptions struct {
	Config   *config.Config
	Sessions *sessions.Manager
	WS       http.Handler
	Metrics  *Metrics
	Logger   *slog.Logger
}

func NewServer(opts ServerOptions) (*Server, error) {
	if opts.Config == nil {
		return nil, errors.New("gateway: config is required")
	}
	if opts.Sessions == nil {
		return nil, errors.New("gateway: session manager is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       opts.Config,
		sessions:  opts.Sessions,
		ws:        opts.WS,
		metrics:   opts.Metrics,
		logger:    logger.With("component", "gateway"),
		startTime: time.Now(),
	}, nil
}

// Routes builds the control-plane mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("POST /sessions/{id}/steer", s.handleSteerSession)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleEndSession)
	mux.HandleFunc("GET /config/schema", s.handleConfigSchema)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	if s.ws != nil {
		mux.Handle("/ws/{sessionId}", s.ws)
	}
	return mux
}

// Start listens and serves in the background. Port 0 picks a free port;
// Addr reports the bound address.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.HTTPPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway: listen: %w", err)
	}

	server := &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.httpServer = server
	s.httpListener = listener

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()
	s.logger.Info("control plane listening", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	if s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

func (s *Server) Stop(ctx context.Context) {
	if s.httpServer == nil {
		return
	}
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("http server shutdown error", "error", err)
	}
	s.httpServer = nil
	s.httpListener = nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list := s.sessions.List()
	if list == nil {
		list = []sessions.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

type steerRequest struct {
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

func (s *Server) handleSteerSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	session := s.sessions.GetByID(id)
	if session == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	var req steerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	kind := sessions.SteeringKind(req.Kind)
	switch kind {
	case "":
		kind = sessions.SteerInject
	case sessions.SteerInject, sessions.SteerReminder, sessions.SteerAbort:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown steering kind %q", req.Kind))
		return
	}

	if err := session.Steer(sessions.SteeringMessage{Kind: kind, Content: req.Message}); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId": id,
		"steered":   true,
		"message":   req.Message,
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	session := s.sessions.GetByID(id)
	if session == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err := s.sessions.End(session.ContextKey()); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId": id,
		"ended":     true,
	})
}

func (s *Server) handleConfigSchema(w http.ResponseWriter, r *http.Request) {
	schema, err := config.JSONSchema()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "schema generation failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(schema)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(schema) //nolint:errcheck
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "encoding failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(status)
	_, _ = w.Write(data) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
