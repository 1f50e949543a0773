package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/cls-news-crawler/internal/crawler"
	"github.com/JakeFAU/cls-news-crawler/internal/history"
	"github.com/JakeFAU/cls-news-crawler/internal/metrics"
)

// ArticleReader is the read side of the history store.
type ArticleReader interface {
	LoadAll(ctx context.Context) ([]crawler.Record, error)
	Get(ctx context.Context, id string) (crawler.Record, error)
}

// Runner starts one crawl pass.
type Runner interface {
	Run(ctx context.Context) (crawler.RunSummary, error)
}

// Options wires the server's collaborators. Runs and Runner are optional.
type Options struct {
	Articles ArticleReader
	Runs     RunReader
	Runner   Runner
	Clock    crawler.Clock
	Logger   *zap.Logger
	// BaseContext parents background runs so they outlive the request.
	BaseContext context.Context
}

// Server wires HTTP handlers to the history store and the progress recorder.
type Server struct {
	router   chi.Router
	articles ArticleReader
	runner   Runner
	clock    crawler.Clock
	logger   *zap.Logger
	base     context.Context

	mu      sync.Mutex
	running bool
	runDone chan struct{}
}

// NewServer constructs a Server with middleware and routes.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	base := opts.BaseContext
	if base == nil {
		base = context.Background()
	}
	s := &Server{
		articles: opts.Articles,
		runner:   opts.Runner,
		clock:    opts.Clock,
		logger:   logger,
		base:     base,
	}
	progress := NewProgressHandler(opts.Runs, logger)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/articles", func(r chi.Router) {
			r.Get("/", s.listArticles)
			r.Get("/{id}", s.getArticle)
		})
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", progress.ListRuns)
			r.Post("/", s.startRun)
			r.Get("/{run_id}", progress.GetRun)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Wait blocks until a background run started through the API has finished.
func (s *Server) Wait() {
	s.mu.Lock()
	done := s.runDone
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.articles == nil {
		writeError(w, http.StatusServiceUnavailable, "history store unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, err := s.articles.Get(ctx, "readyz-probe"); err != nil && !errors.Is(err, history.ErrNotFound) {
		s.logger.Warn("readiness probe failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "history store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// listArticles returns the records published on ?date=YYYY-MM-DD, or on the
// previous day when date is omitted.
func (s *Server) listArticles(w http.ResponseWriter, r *http.Request) {
	if s.articles == nil {
		writeError(w, http.StatusServiceUnavailable, "history store unavailable")
		return
	}
	records, err := s.articles.LoadAll(r.Context())
	if err != nil {
		s.logger.Error("load history failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load articles")
		return
	}

	var out []crawler.Record
	if raw := r.URL.Query().Get("date"); raw != "" {
		day, err := time.Parse(crawler.DayLayout, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		out = history.OnDay(records, day)
	} else {
		out = history.LastDay(records, s.now())
	}
	writeJSON(w, http.StatusOK, map[string]any{"articles": out, "count": len(out)})
}

func (s *Server) getArticle(w http.ResponseWriter, r *http.Request) {
	if s.articles == nil {
		writeError(w, http.StatusServiceUnavailable, "history store unavailable")
		return
	}
	id := chi.URLParam(r, "id")
	rec, err := s.articles.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			writeError(w, http.StatusNotFound, "article not found")
			return
		}
		s.logger.Error("get article failed", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load article")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"article": rec})
}

// startRun launches a crawl pass in the background. Only one pass runs at a time.
func (s *Server) startRun(w http.ResponseWriter, _ *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "crawl runner unavailable")
		return
	}
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, "a crawl is already running")
		return
	}
	s.running = true
	done := make(chan struct{})
	s.runDone = done
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			close(done)
		}()
		summary, err := s.runner.Run(s.base)
		if err != nil {
			s.logger.Error("api-triggered run failed", zap.String("run_id", summary.RunID), zap.Error(err))
			return
		}
		s.logger.Info("api-triggered run finished",
			zap.String("run_id", summary.RunID),
			zap.Int("accepted", summary.Accepted),
		)
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) now() time.Time {
	if s.clock == nil {
		return time.Now()
	}
	return s.clock.Now()
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
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
				zap.Duration("dur", time.Since(start)),
				zap.String("request_id", reqID),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
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

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
