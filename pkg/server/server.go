// Package server exposes the agent over HTTP. Messages are answered with a
// newline-delimited JSON stream of agent events.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/jingkaihe/keel/pkg/agent"
	"github.com/jingkaihe/keel/pkg/history"
	"github.com/jingkaihe/keel/pkg/logger"
)

const (
	defaultTurnLimit         = 50
	defaultConversationLimit = 50
	shutdownTimeout          = 30 * time.Second
)

// Streamer runs one agent request.
type Streamer interface {
	Stream(ctx context.Context, req agent.Request) (<-chan agent.Event, error)
}

// Config holds the configuration for the server
type Config struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// Root is the repository every request is answered against.
	Root string `mapstructure:"-"`
}

// Validate validates the server configuration
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("host cannot be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		return errors.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.Root == "" {
		return errors.New("root cannot be empty")
	}
	return nil
}

// Server is the HTTP front of the agent.
type Server struct {
	router   *mux.Router
	streamer Streamer
	querier  history.Querier
	config   Config
	server   *http.Server
}

// MessageRequest is the body of POST /api/conversations/{id}/messages.
type MessageRequest struct {
	Message string `json:"message"`
}

// New creates a server. querier may be nil, in which case the read-only
// history routes report 503.
func New(config Config, streamer Streamer, querier history.Querier) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid server configuration")
	}

	s := &Server{
		router:   mux.NewRouter(),
		streamer: streamer,
		querier:  querier,
		config:   config,
	}
	s.setupRoutes()
	return s, nil
}

// Handler returns the routed handler, used by tests and embedders.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	// Kept on the root router so method mismatches answer 405.
	s.router.HandleFunc("/api/conversations", s.handleListConversations).Methods("GET")
	s.router.HandleFunc("/api/conversations/{id}/messages", s.handlePostMessage).Methods("POST")
	s.router.HandleFunc("/api/conversations/{id}/turns", s.handleListTurns).Methods("GET")

	s.router.Use(s.loggingMiddleware)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		logger.G(r.Context()).WithFields(map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rw.statusCode,
			"duration":    time.Since(start),
			"remote_addr": r.RemoteAddr,
		}).Info("HTTP request")
	})
}

// responseWriter captures the status code and keeps streaming flushes working.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// handlePostMessage streams the agent's events as NDJSON. The request
// context is the stream context, so a client disconnect abandons the run.
func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	var body MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeErrorResponse(ctx, w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	events, err := s.streamer.Stream(ctx, agent.Request{ConversationID: id, Message: body.Message, Root: s.config.Root})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, agent.ErrEmptyMessage) || errors.Is(err, history.ErrMissingConversationID) {
			status = http.StatusBadRequest
		}
		s.writeErrorResponse(ctx, w, status, "failed to start agent", err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	enc := json.NewEncoder(w)
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			logger.G(ctx).WithError(err).Warn("failed to write event, client gone")
			// drain so the producer can observe cancellation and exit
			for range events {
			}
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *Server) handleListTurns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.querier == nil {
		s.writeErrorResponse(ctx, w, http.StatusServiceUnavailable, "history store is not configured", nil)
		return
	}

	limit, err := queryInt(r, "limit", defaultTurnLimit)
	if err != nil {
		s.writeErrorResponse(ctx, w, http.StatusBadRequest, "invalid limit", err)
		return
	}

	turns, err := s.querier.QueryTurns(ctx, history.TurnQuery{
		ConversationID: mux.Vars(r)["id"],
		Sender:         r.URL.Query().Get("sender"),
		Contains:       r.URL.Query().Get("q"),
		Limit:          limit,
	})
	if err != nil {
		s.writeErrorResponse(ctx, w, http.StatusInternalServerError, "failed to query turns", err)
		return
	}
	if turns == nil {
		turns = []history.Turn{}
	}
	s.writeJSONResponse(ctx, w, map[string]any{"turns": turns})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.querier == nil {
		s.writeErrorResponse(ctx, w, http.StatusServiceUnavailable, "history store is not configured", nil)
		return
	}

	limit, err := queryInt(r, "limit", defaultConversationLimit)
	if err != nil {
		s.writeErrorResponse(ctx, w, http.StatusBadRequest, "invalid limit", err)
		return
	}

	conversations, err := s.querier.ListConversations(ctx, limit)
	if err != nil {
		s.writeErrorResponse(ctx, w, http.StatusInternalServerError, "failed to list conversations", err)
		return
	}
	if conversations == nil {
		conversations = []history.ConversationInfo{}
	}
	s.writeJSONResponse(ctx, w, map[string]any{"conversations": conversations})
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.Errorf("%s must be a positive integer, got %q", key, raw)
	}
	return n, nil
}

func (s *Server) writeJSONResponse(ctx context.Context, w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.G(ctx).WithError(err).Error("failed to encode JSON response")
	}
}

func (s *Server) writeErrorResponse(ctx context.Context, w http.ResponseWriter, statusCode int, message string, err error) {
	response := map[string]any{
		"error":   message,
		"status":  statusCode,
		"success": false,
	}
	if err != nil {
		logger.G(ctx).WithError(err).Warn(message)
		response["detail"] = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.G(ctx).WithError(err).Error("failed to encode error response")
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	logger.G(ctx).WithField("address", address).Info("starting server")

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "server failed")
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}
