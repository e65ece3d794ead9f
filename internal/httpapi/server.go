package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/johnrirwin/avatarguard/internal/auth"
	"github.com/johnrirwin/avatarguard/internal/logging"
)

// Options configures the HTTP layer.
type Options struct {
	AllowedOrigins []string
	MaxUploadBytes int64
}

type Server struct {
	uploads        Uploader
	authMiddleware *auth.Middleware
	opts           Options
	logger         *logging.Logger

	mu     sync.Mutex
	server *http.Server
	closed bool
}

func New(uploads Uploader, authMiddleware *auth.Middleware, opts Options, logger *logging.Logger) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	return &Server{
		uploads:        uploads,
		authMiddleware: authMiddleware,
		opts:           opts,
		logger:         logger,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	uploadAPI := NewUploadAPI(s.uploads, s.opts.MaxUploadBytes, s.logger)
	uploadAPI.RegisterRoutes(r, s.authMiddleware)

	return r
}

func (s *Server) Start(addr string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return http.ErrServerClosed
	}
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	s.logger.Info("HTTP API server starting", logging.WithField("addr", addr))
	return srv.ListenAndServe()
}

// Shutdown stops the server. A Start that has not run yet returns
// http.ErrServerClosed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.server
	s.mu.Unlock()

	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Debug("HTTP request", logging.WithFields(map[string]interface{}{
			"requestId": middleware.GetReqID(r.Context()),
			"method":    r.Method,
			"path":      r.URL.Path,
			"status":    ww.Status(),
			"duration":  time.Since(start).String(),
		}))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
