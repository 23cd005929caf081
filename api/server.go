// Package api serves the HTTP surface: connection management, chat,
// conversation history, recipes and the platform webhook.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/PipeOpsHQ/rube/auth"
	"github.com/PipeOpsHQ/rube/chat"
	"github.com/PipeOpsHQ/rube/connections"
	"github.com/PipeOpsHQ/rube/observe/metrics"
	"github.com/PipeOpsHQ/rube/platform"
	"github.com/PipeOpsHQ/rube/state"
	"github.com/PipeOpsHQ/rube/toolsession"
)

const (
	DefaultAddr     = "127.0.0.1:3000"
	DefaultAppURL   = "http://localhost:3000"
	shutdownTimeout = 5 * time.Second
	maxBodyBytes    = 4 << 20
)

// Toolkits lists the platform's toolkit directory.
type Toolkits interface {
	ListToolkits(ctx context.Context) (platform.ToolkitPage, error)
}

type Config struct {
	Addr   string
	AppURL string

	Auth        auth.Store
	Store       state.Store
	Toolkits    Toolkits
	AuthConfigs *connections.AuthConfigs
	Registry    *connections.Registry
	Controller  *connections.Controller
	Signals     *connections.Signals
	Chat        *chat.Orchestrator

	WebhookSecret string
	Debug         DebugInfo

	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	TracerProvider trace.TracerProvider
	Logger         *zap.Logger
}

type Server struct {
	cfg    Config
	mux    *http.ServeMux
	http   *http.Server
	logger *zap.Logger
	once   sync.Once
}

func NewServer(cfg Config) *Server {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}
	if strings.TrimSpace(cfg.AppURL) == "" {
		cfg.AppURL = DefaultAppURL
	}
	cfg.AppURL = strings.TrimRight(cfg.AppURL, "/")
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:    cfg,
		mux:    http.NewServeMux(),
		logger: logger.Named("api"),
	}
	s.registerRoutes()

	var opts []otelhttp.Option
	if cfg.TracerProvider != nil {
		opts = append(opts, otelhttp.WithTracerProvider(cfg.TracerProvider))
	}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           otelhttp.NewHandler(s.mux, "rube.http", opts...),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	if s == nil {
		return http.NotFoundHandler()
	}
	return s.http.Handler
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server is nil")
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", s.cfg.Addr))
		err := s.http.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, stopping")
		if err := s.Close(); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) Close() error {
	if s == nil {
		return nil
	}
	var outErr error
	s.once.Do(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		outErr = s.http.Shutdown(shutdownCtx)
		if outErr != nil {
			s.logger.Warn("http shutdown failed", zap.Error(outErr))
			return
		}
		s.logger.Info("server stopped")
	})
	return outErr
}

func (s *Server) registerRoutes() {
	s.route("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))

	s.route("GET /api/toolkits", s.handleToolkits)
	s.route("POST /api/authConfig/create", s.require(s.handleCreateAuthConfig))
	s.route("POST /api/authConfig/createWithCredentials", s.require(s.handleCreateAuthConfigWithCredentials))
	s.route("POST /api/auth-configs", s.require(s.handleEnsureAuthConfig))

	s.route("POST /api/apps/connection/initiate", s.require(s.handleInitiateConnection))
	s.route("POST /api/apps/connection/wait", s.require(s.handleWaitConnection))
	s.route("GET /api/apps/connection", s.require(s.handleListConnections))
	s.route("POST /api/apps/connection", s.require(s.handleLinkConnection))
	s.route("DELETE /api/apps/connection", s.require(s.handleDeleteConnection))

	s.route("POST /api/chat", s.require(s.handleChat))
	s.route("GET /api/conversations", s.require(s.handleConversations))
	s.route("GET /api/conversations/{id}/messages", s.require(s.handleConversationMessages))

	s.route("GET /api/recipes", s.handleListRecipes)
	s.route("POST /api/recipes", s.require(s.handleCreateRecipe))
	s.route("GET /api/recipes/categories", s.handleRecipeCategories)
	s.route("GET /api/recipes/{id}", s.handleGetRecipe)
	s.route("PUT /api/recipes/{id}", s.require(s.handleUpdateRecipe))
	s.route("DELETE /api/recipes/{id}", s.require(s.handleDeleteRecipe))

	s.route("GET /api/composio/webhook", s.handleWebhookPing)
	s.route("POST /api/composio/webhook", s.handleWebhook)
	s.route("GET /api/auth/callback", s.handleAuthCallback)
	s.route("GET /api/debug/config", s.handleDebugConfig)
}

// route registers h under pattern and records its latency by pattern.
func (s *Server) route(pattern string, h http.HandlerFunc) {
	method, path, _ := strings.Cut(pattern, " ")
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Metrics == nil {
			h(w, r)
			return
		}
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		s.cfg.Metrics.ObserveHTTP(path, method, rec.status, time.Since(started))
	})
}

// require resolves the request's API key to a user before calling h.
func (s *Server) require(h func(http.ResponseWriter, *http.Request, auth.User)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := s.authenticate(r)
		if err != nil {
			s.logger.Debug("unauthenticated request", zap.String("path", r.URL.Path), zap.Error(err))
			writeMessage(w, http.StatusUnauthorized, "Unauthorized - Please sign in")
			return
		}
		h(w, r.WithContext(auth.WithUser(r.Context(), user)), user)
	}
}

func (s *Server) authenticate(r *http.Request) (auth.User, error) {
	key := auth.ExtractAPIKey(r)
	if key == "" {
		return auth.User{}, fmt.Errorf("missing API key")
	}
	if s.cfg.Auth == nil {
		return auth.User{}, fmt.Errorf("auth store is not configured")
	}
	k, err := s.cfg.Auth.VerifyKey(r.Context(), key)
	if err != nil {
		return auth.User{}, err
	}
	return k.User(), nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeFailure maps domain errors to status codes. fallback is the message
// used when the error itself is not meant for the client.
func (s *Server) writeFailure(w http.ResponseWriter, fallback string, err error) {
	var (
		noAuth *connections.NoAuthConfigError
		apiErr *platform.APIError
	)
	switch {
	case errors.As(err, &noAuth):
		writeJSON(w, http.StatusNotFound, errorBody{Error: noAuth.Error(), Details: noAuth.Details()})
	case errors.Is(err, connections.ErrValidation),
		errors.Is(err, connections.ErrIdentityRequired),
		errors.Is(err, chat.ErrInvalidRequest):
		writeMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, connections.ErrAccountNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: fallback, Details: connections.ErrAccountNotFound.Error()})
	case errors.Is(err, auth.ErrInvalidKey):
		writeMessage(w, http.StatusUnauthorized, "Unauthorized - Please sign in")
	case errors.Is(err, platform.ErrNotConfigured):
		writeMessage(w, http.StatusInternalServerError, platform.ErrNotConfigured.Error())
	case errors.Is(err, toolsession.ErrSessionCreationFailed):
		s.logger.Error(fallback, zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: fallback, Details: err.Error()})
	case errors.As(err, &apiErr):
		s.logger.Warn(fallback, zap.Int("status", apiErr.StatusCode), zap.String("op", apiErr.Op))
		writeJSON(w, apiErr.StatusCode, errorBody{Error: fallback, Details: apiErr.Body})
	case errors.Is(err, state.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "Not found")
	default:
		s.logger.Error(fallback, zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: fallback, Details: err.Error()})
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func decodeJSON(r *http.Request, w http.ResponseWriter, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
