package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricealert/internal/catalog"
	"github.com/JakeFAU/pricealert/internal/metrics"
	"github.com/JakeFAU/pricealert/internal/queue"
	"github.com/JakeFAU/pricealert/internal/store"
	"github.com/JakeFAU/pricealert/internal/tracking"
)

// Scheduler enqueues job runs out of band.
type Scheduler interface {
	Enqueue(ctx context.Context, job string, trigger queue.Trigger) (store.Run, error)
	TriggerNow(ctx context.Context) ([]store.Run, error)
}

// Registrar registers and removes tracked products.
type Registrar interface {
	Register(ctx context.Context, req tracking.Request) ([]catalog.Product, error)
	Unregister(ctx context.Context, userID int64, productID uuid.UUID) error
}

// CatalogReader serves product history and user settings.
type CatalogReader interface {
	catalog.ProductStore
	catalog.ListingStore
	SaveUserSettings(ctx context.Context, s catalog.UserSettings) error
}

// ReadyFunc reports whether downstream dependencies are reachable.
type ReadyFunc func(ctx context.Context) error

// Options carries the server's collaborators.
type Options struct {
	Scheduler Scheduler
	Runs      store.RunStore
	Registrar Registrar
	Catalog   CatalogReader
	Ready     ReadyFunc
	Metrics   *metrics.Recorder
	Logger    *zap.Logger
	APIKey    string
	Timeout   time.Duration
}

// Server wires HTTP handlers to the scheduler and stores.
type Server struct {
	router    chi.Router
	scheduler Scheduler
	runs      *RunHandler
	registrar Registrar
	catalog   CatalogReader
	ready     ReadyFunc
	metrics   *metrics.Recorder
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	s := &Server{
		scheduler: opts.Scheduler,
		runs:      NewRunHandler(opts.Runs, logger),
		registrar: opts.Registrar,
		catalog:   opts.Catalog,
		ready:     opts.Ready,
		metrics:   opts.Metrics,
		logger:    logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
	}
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Post("/pipeline/run", s.runPipeline)
		r.Post("/jobs/{job}/run", s.runJob)
		r.Get("/runs", s.runs.ListRuns)
		r.Get("/runs/{run_id}", s.runs.GetRun)
		r.Post("/tracked", s.registerTracked)
		r.Delete("/users/{user_id}/tracked/{product_id}", s.unregisterTracked)
		r.Put("/users/{user_id}/settings", s.saveSettings)
		r.Get("/products/{product_id}/history", s.productHistory)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) runPipeline(w http.ResponseWriter, r *http.Request) {
	runs, err := s.scheduler.TriggerNow(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"runs": toRunDTOs(runs)})
}

func (s *Server) runJob(w http.ResponseWriter, r *http.Request) {
	run, err := s.scheduler.Enqueue(r.Context(), chi.URLParam(r, "job"), queue.TriggerManual)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"run": toRunDTO(run)})
}

func (s *Server) registerTracked(w http.ResponseWriter, r *http.Request) {
	var req tracking.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	products, err := s.registrar.Register(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"products": products})
}

func (s *Server) unregisterTracked(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	productID, err := parseUUIDParam(r, "product_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.registrar.Unregister(r.Context(), userID, productID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type settingsRequest struct {
	Email        string            `json:"email"`
	Frequency    catalog.Frequency `json:"frequency"`
	EmailEnabled *bool             `json:"email_enabled"`
}

func (s *Server) saveSettings(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email required")
		return
	}
	switch req.Frequency {
	case "":
		req.Frequency = catalog.FrequencyDaily
	case catalog.FrequencyImmediately, catalog.FrequencyDaily, catalog.FrequencyWeekly:
	default:
		writeError(w, http.StatusBadRequest, "frequency must be immediately, daily or weekly")
		return
	}
	settings := catalog.UserSettings{
		UserID:       userID,
		Email:        req.Email,
		Frequency:    req.Frequency,
		EmailEnabled: req.EmailEnabled == nil || *req.EmailEnabled,
	}
	if err := s.catalog.SaveUserSettings(r.Context(), settings); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": settings})
}

type listingHistory struct {
	Listing catalog.Listing       `json:"listing"`
	Samples []catalog.PriceSample `json:"samples"`
}

func (s *Server) productHistory(w http.ResponseWriter, r *http.Request) {
	productID, err := parseUUIDParam(r, "product_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()
	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	listings, err := s.catalog.ListListings(ctx, productID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	out := make([]listingHistory, 0, len(listings))
	for _, l := range listings {
		samples, err := s.catalog.ListPriceSamples(ctx, l.ID)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		if samples == nil {
			samples = []catalog.PriceSample{}
		}
		out = append(out, listingHistory{Listing: l, Samples: samples})
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product, "listings": out})
}

// writeDomainError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrValidation), errors.Is(err, catalog.ErrUnsupportedSite):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, catalog.ErrExternalAPI):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusRequestTimeout, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", reqID),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
