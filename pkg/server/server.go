// Package server exposes the AI features to the website over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/northwind-energy/aigateway/pkg/concierge"
	"github.com/northwind-energy/aigateway/pkg/models"
	"github.com/northwind-energy/aigateway/pkg/personalize"
	"github.com/northwind-energy/aigateway/pkg/translate"
)

const maxBodyBytes = 1 << 20

// Chatter answers concierge conversations.
type Chatter interface {
	Reply(ctx context.Context, messages []models.ChatMessage) concierge.Reply
}

// Personalizer builds personalized landing copy.
type Personalizer interface {
	Personalize(ctx context.Context, req personalize.Request) personalize.Response
}

// Translator localizes keyed strings.
type Translator interface {
	Translate(ctx context.Context, req translate.Request) translate.Response
}

// Checker classifies a single message.
type Checker interface {
	Check(ctx context.Context, message string) models.SafetyVerdict
}

// Health is reported by GET /healthz. It never includes secrets.
type Health struct {
	Status       string `json:"status"`
	Provider     string `json:"provider"`
	Credential   bool   `json:"credential"`
	DurableCache bool   `json:"durable_cache"`
	// Cache holds response cache counters for this process.
	Cache *models.CacheStats `json:"cache,omitempty"`
}

// Deps are the feature callers served over HTTP.
type Deps struct {
	Concierge    Chatter
	Personalizer Personalizer
	Translator   Translator
	Safety       Checker
	Health       func() Health
}

// Server is the site-facing API server.
type Server struct {
	listen string
	deps   Deps
	log    *slog.Logger
	mux    *http.ServeMux
}

// New creates a Server wired with all feature callers.
func New(listen string, deps Deps, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		listen: listen,
		deps:   deps,
		log:    log.With("component", "server"),
		mux:    http.NewServeMux(),
	}
	s.mux.HandleFunc("/api/chat", s.handleChat)
	s.mux.HandleFunc("/api/personalize", s.handlePersonalize)
	s.mux.HandleFunc("/api/translate", s.handleTranslate)
	s.mux.HandleFunc("/api/safety", s.handleSafety)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	return s
}

// ServeHTTP implements http.Handler. Every request gets a request ID, taken
// from X-Request-ID when the client supplies one.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
	if id == "" || len(id) > 128 {
		id = uuid.NewString()
	}
	w.Header().Set("X-Request-ID", id)
	r = r.WithContext(models.WithRequestID(r.Context(), id))

	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)
	s.log.Info("request",
		"method", r.Method, "path", r.URL.Path, "status", rec.status,
		"duration_ms", time.Since(start).Milliseconds(), "request_id", id)
}

// ListenAndServe starts the server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("aigateway listening", "addr", s.listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type chatRequest struct {
	Messages []models.ChatMessage `json:"messages"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !s.decodePost(w, r, &req) {
		return
	}
	writeJSON(w, s.deps.Concierge.Reply(r.Context(), req.Messages))
}

func (s *Server) handlePersonalize(w http.ResponseWriter, r *http.Request) {
	var req personalize.Request
	if !s.decodePost(w, r, &req) {
		return
	}
	writeJSON(w, s.deps.Personalizer.Personalize(r.Context(), req))
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req translate.Request
	if !s.decodePost(w, r, &req) {
		return
	}
	for _, e := range req.Entries {
		if e.Key == "" {
			writeJSONError(w, http.StatusBadRequest, "every entry needs a key")
			return
		}
	}
	writeJSON(w, s.deps.Translator.Translate(r.Context(), req))
}

type safetyRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleSafety(w http.ResponseWriter, r *http.Request) {
	var req safetyRequest
	if !s.decodePost(w, r, &req) {
		return
	}
	writeJSON(w, s.deps.Safety.Check(r.Context(), req.Message))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	h := Health{Status: "ok"}
	if s.deps.Health != nil {
		h = s.deps.Health()
		h.Status = "ok"
	}
	writeJSON(w, h)
}

// decodePost enforces POST and decodes a bounded JSON body into dst. It
// writes the error response itself and reports whether to continue.
func (s *Server) decodePost(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		s.log.Debug("invalid request body", "path", r.URL.Path, "error", err)
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"aigateway_error","code":%d}}`, message, code)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
