package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-price-tracker/internal/clock/system"
	"github.com/JakeFAU/realtime-price-tracker/internal/queue"
	"github.com/JakeFAU/realtime-price-tracker/internal/storage"
	"github.com/JakeFAU/realtime-price-tracker/internal/telemetry"
	"github.com/JakeFAU/realtime-price-tracker/internal/tracker"
)

// Triggers is the inbound side of the dispatcher.
type Triggers interface {
	EnqueueCheck(ctx context.Context, productID int64, cause tracker.Cause) (string, error)
	EnqueueSweep(ctx context.Context) (int, error)
	EnqueueRetrain(ctx context.Context, productID int64) error
}

// Options configures optional parts of the server.
type Options struct {
	// APIKey guards /v1 when set.
	APIKey string
	// Products enables the read endpoints and lets check requests for unknown
	// products fail fast with 404.
	Products tracker.ProductStore
	// Events serves GET /v1/events.
	Events http.Handler
	// Ready reports whether downstream dependencies are reachable.
	Ready func(ctx context.Context) error
	// RetryAfter is advertised on 429 responses.
	RetryAfter     time.Duration
	RequestTimeout time.Duration
	HistoryWindow  time.Duration
	Clock          tracker.Clock
}

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router   chi.Router
	triggers Triggers
	opts     Options
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(triggers Triggers, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = time.Minute
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 7 * 24 * time.Hour
	}
	if opts.Clock == nil {
		opts.Clock = system.New()
	}
	s := &Server{triggers: triggers, opts: opts, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(telemetry.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		if opts.Events != nil {
			// Streams outlive any request timeout.
			r.Method(http.MethodGet, "/events", opts.Events)
		}
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(opts.RequestTimeout))
			r.Post("/sweeps", s.enqueueSweep)
			r.Route("/products/{product_id}", func(r chi.Router) {
				r.Post("/check", s.enqueueCheck)
				r.Post("/retrain", s.enqueueRetrain)
				if opts.Products != nil {
					products := newProductHandler(opts.Products, opts.Clock, opts.HistoryWindow, logger)
					r.Get("/", products.GetProduct)
					r.Get("/history", products.ListHistory)
				}
			})
		})
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
	if s.opts.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.opts.Ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) enqueueCheck(w http.ResponseWriter, r *http.Request) {
	productID, err := parseProductID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cause := tracker.CauseOnDemand
	if raw := r.URL.Query().Get("cause"); raw != "" {
		cause = tracker.Cause(raw)
		if !cause.External() {
			writeError(w, http.StatusBadRequest, "cause must be on_demand or manual")
			return
		}
	}
	if !s.productCheckable(w, r, productID) {
		return
	}
	requestID, err := s.triggers.EnqueueCheck(r.Context(), productID, cause)
	if err != nil {
		s.writeEnqueueError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"request_id": requestID,
		"product_id": productID,
		"cause":      cause,
	})
}

// productCheckable writes a response and returns false when the product is
// missing or inactive. Without a store every id is accepted.
func (s *Server) productCheckable(w http.ResponseWriter, r *http.Request, productID int64) bool {
	if s.opts.Products == nil {
		return true
	}
	product, err := s.opts.Products.GetProduct(r.Context(), productID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "product not found")
		return false
	case err != nil:
		s.logger.Error("product lookup failed", zap.Int64("product_id", productID), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "product store unavailable")
		return false
	case !product.Active:
		writeError(w, http.StatusConflict, "product is not active")
		return false
	}
	return true
}

func (s *Server) enqueueSweep(w http.ResponseWriter, r *http.Request) {
	n, err := s.triggers.EnqueueSweep(r.Context())
	if err != nil {
		s.logger.Warn("sweep request failed", zap.Int("queued", n), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "sweep incomplete", "queued": n})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"queued": n})
}

func (s *Server) enqueueRetrain(w http.ResponseWriter, r *http.Request) {
	productID, err := parseProductID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.triggers.EnqueueRetrain(r.Context(), productID); err != nil {
		s.logger.Warn("retrain request failed", zap.Int64("product_id", productID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "retrain request failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int64{"product_id": productID})
}

func (s *Server) writeEnqueueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, queue.ErrQueueFull):
		w.Header().Set("Retry-After", strconv.Itoa(int(s.opts.RetryAfter.Seconds())))
		writeError(w, http.StatusTooManyRequests, "check queue is full")
	case errors.Is(err, queue.ErrQueueClosed):
		writeError(w, http.StatusServiceUnavailable, "shutting down")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusRequestTimeout, "enqueue timed out")
	default:
		s.logger.Error("enqueue check failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "enqueue failed")
	}
}

func parseProductID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "product_id")
	if raw == "" {
		return 0, errors.New("product_id is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid product_id")
	}
	return id, nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.String("http_request_id", reqID),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
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
				// Browsers cannot set headers on WebSocket upgrades.
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusUnauthorized, "unauthorized")
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
