package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/markdave123-py/Contexta/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/Contexta/internal/api/middlewares"
	"github.com/markdave123-py/Contexta/internal/metrics"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	log        *zap.Logger
}

// NewServer builds and wires all routes. docs may be nil, in which case
// the document routes are not mounted. A non-empty apiSecret puts the
// /api routes behind bearer token auth.
func NewServer(port string, log *zap.Logger, m *metrics.Metrics, embed *handlers.EmbedHandler, docs handlers.DocumentReader, apiSecret []byte) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(appMiddleware.RequestLogger(log))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8888"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", m.Handler())

	r.Route("/api", func(api chi.Router) {
		if len(apiSecret) > 0 {
			api.Use(appMiddleware.JWTMiddleware(apiSecret))
		}

		// streaming responses run as long as the pipeline does
		api.Post("/embed", embed.Embed)
		api.Post("/ingest", embed.Ingest)

		if docs != nil {
			docHandler := handlers.NewDocumentHandler(docs)
			api.Group(func(g chi.Router) {
				g.Use(middleware.Timeout(60 * time.Second))
				g.Get("/documents/{documentID}", docHandler.GetDocument)
				g.Get("/documents/{documentID}/chunks", docHandler.GetChunks)
				g.Post("/documents/{documentID}/search", docHandler.Search)
			})
		}
	})

	httpSrv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{httpServer: httpSrv, log: log}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start runs the HTTP server until Shutdown.
func (s *Server) Start() error {
	s.log.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
