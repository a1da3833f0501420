package webserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nantokaworks/giveaway-draw/internal/archive"
	"github.com/nantokaworks/giveaway-draw/internal/clock"
	"github.com/nantokaworks/giveaway-draw/internal/ledger"
	"github.com/nantokaworks/giveaway-draw/internal/localdb"
	"github.com/nantokaworks/giveaway-draw/internal/metrics"
	"github.com/nantokaworks/giveaway-draw/internal/shared/logger"
	"github.com/nantokaworks/giveaway-draw/internal/tgauth"
	"github.com/nantokaworks/giveaway-draw/internal/window"
	"go.uber.org/zap"
)

// Deps are the collaborators the HTTP layer serves.
type Deps struct {
	Store    *localdb.Store
	Ledger   *ledger.Ledger
	Archive  *archive.Archive
	Verifier *tgauth.Verifier
	Resolver window.Resolver
	Clock    clock.Clock
	Metrics  *metrics.Metrics
	Hub      *WSHub
}

type Server struct {
	deps       Deps
	router     chi.Router
	httpServer *http.Server
}

func New(deps Deps) *Server {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	s := &Server{deps: deps}
	s.router = s.routes()
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(corsMiddleware)

	r.Post("/submit-entry", s.handleSubmitEntry)
	r.Get("/winners", s.handleWinners)
	r.Get("/winner-detail", s.handleWinnerDetail)
	r.Post("/admin/auth", s.handleAdminAuth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/draw/current", s.handleCurrentDraw)
		r.Get("/tickets/{draw}/{ticket}/qr", s.handleTicketQR)
	})

	if s.deps.Hub != nil {
		r.Method(http.MethodGet, "/ws", s.deps.Hub)
	}
	r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	r.Get("/status", s.handleStatus)

	return r
}

// corsMiddleware adds CORS headers to HTTP handlers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// Start listens on port in the background. Immediate bind errors are returned.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	logger.Info("Starting web server", zap.String("address", addr))

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		WriteTimeout: 30 * time.Second,
		ReadTimeout:  10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
		close(errChan)
	}()

	// 起動直後のバインドエラーだけ待つ
	select {
	case err := <-errChan:
		if err != nil {
			logger.Error("Failed to start web server", zap.Error(err))
			return fmt.Errorf("failed to start web server on port %d: %w", port, err)
		}
	case <-time.After(100 * time.Millisecond):
	}

	return nil
}

// Shutdown gracefully shuts down the web server
func (s *Server) Shutdown(ctx context.Context) {
	if s.httpServer == nil {
		return
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown web server gracefully", zap.Error(err))
	} else {
		logger.Info("Web server shutdown complete")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
