// Package server implements the daemon's HTTP surface from spec §6: the
// object store, target/build, and clean endpoints that a client speaks to
// over HTTP/2. Ground: the teacher has no HTTP layer of its own; router
// shape (chi.Router plus a small middleware stack) and the writeJSON/
// writeError helpers are grounded on ternarybob-iter's internal/api/router.go
// and handlers.go, the one repo in the pack that builds a chi-based API.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"tangram/internal/config"
	"tangram/internal/evaluator"
	"tangram/internal/store"
)

// Server is the daemon's HTTP handler: object store CRUD, target/build
// dispatch, build progress, and clean (spec §6 endpoint table).
type Server struct {
	store  *store.Store
	eval   *evaluator.Evaluator
	cfg    *config.Config
	log    *zap.Logger
	router chi.Router
}

// New builds a Server wired to s, ev, and cfg.
func New(s *store.Store, ev *evaluator.Evaluator, cfg *config.Config, log *zap.Logger) *Server {
	srv := &Server{store: s, eval: ev, cfg: cfg, log: log}
	srv.setupRouter()
	return srv
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(zapLogger(s.log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "HEAD", "POST", "PUT"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/v1/objects/{id}", func(r chi.Router) {
		r.Get("/", s.handleGetObject)
		r.Head("/", s.handleHeadObject)
		r.Put("/", s.handlePutObject)
	})

	r.Route("/v1/targets/{id}/build", func(r chi.Router) {
		r.Get("/", s.handleGetTargetBuild)
		r.Post("/", s.handlePostTargetBuild)
	})

	r.Route("/v1/builds/{id}", func(r chi.Router) {
		r.Get("/children", s.handleGetBuildChildren)
		r.Get("/log", s.handleGetBuildLog)
		r.Get("/result", s.handleGetBuildResult)
	})

	r.Get("/v1/operations/{id}/state", s.handleGetOperationState)

	r.Post("/v1/clean", s.handlePostClean)

	s.router = r
}

// Handler returns the composed http.Handler for the daemon's listener.
func (s *Server) Handler() http.Handler {
	return s.router
}

// zapLogger adapts the router's per-request logging to zap, in place of
// chi middleware.Logger's stdlib-logger output (spec ambient stack: every
// other component logs through zap, and the HTTP surface is no exception).
func zapLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)),
			)
		})
	}
}

// requestID stamps each request with a UUIDv4 correlation ID (instead of
// chi's own sequential-counter default), stored the same way chi's
// middleware.RequestID stores it so middleware.GetReqID still reads it back.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
