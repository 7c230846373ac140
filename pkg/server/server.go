// Package server is the HTTP frontdoor: the chat submission API, runtime
// introspection endpoints, and the mounts for all three stream transports.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/chorus/pkg/history"
	"github.com/go-go-golems/chorus/pkg/models"
	"github.com/go-go-golems/chorus/pkg/profiles"
	"github.com/go-go-golems/chorus/pkg/streaming"
	"github.com/go-go-golems/chorus/pkg/synthesis"
	"github.com/go-go-golems/chorus/pkg/transport"
)

const shutdownTimeout = 30 * time.Second

type Config struct {
	Addr        string
	ServiceName string

	Orchestrator *streaming.Orchestrator
	Registry     *streaming.Registry
	Models       *models.Registry
	Synth        *synthesis.Synthesizer

	// Optional surfaces. A nil hub leaves its route unmounted; a nil
	// History serves 503 on the history endpoint.
	History  history.Store
	Profiles *profiles.Store
	WS       *transport.WSHub
	SSE      *transport.SSEHub
	Rooms    *transport.RoomsHub
}

type Server struct {
	cfg      Config
	upgrader websocket.Upgrader
	handler  http.Handler
}

func New(cfg Config) (*Server, error) {
	if cfg.Orchestrator == nil {
		return nil, errors.New("server orchestrator is nil")
	}
	if cfg.Registry == nil {
		return nil, errors.New("server registry is nil")
	}
	if cfg.Models == nil {
		return nil, errors.New("server model registry is nil")
	}
	if cfg.Synth == nil {
		return nil, errors.New("server synthesizer is nil")
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "chorus"
	}
	s := &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.handler = s.routes()
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, s.cfg.ServiceName)
	})

	r.Get("/healthz", s.handleHealthz)
	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Get("/stats", s.handleStats)
		r.Get("/models", s.handleModels)
		r.Get("/weights", s.handleWeights)
		r.Post("/weights", s.handleUpdateWeight)
		r.Delete("/weights", s.handleResetWeights)
		r.Get("/history/{conv}", s.handleHistory)
	})
	if s.cfg.WS != nil {
		r.Get("/ws", s.handleWS)
	}
	if s.cfg.SSE != nil {
		r.Get("/events", s.cfg.SSE.ServeHTTP)
	}
	if s.cfg.Rooms != nil {
		r.Get("/rooms", s.handleRooms)
	}
	return r
}

func (s *Server) Handler() http.Handler {
	if s == nil {
		return http.NotFoundHandler()
	}
	return s.handler
}

// Run serves until ctx is canceled, then shuts the listener down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	httpSrv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Info().
			Str("component", "http").
			Str("addr", s.cfg.Addr).
			Msg("server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Str("component", "http").Msg("server shutdown error")
			return err
		}
		log.Info().Str("component", "http").Msg("server shutdown complete")
		return nil
	})
	return eg.Wait()
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("component", "http").
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}
