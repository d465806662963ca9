// Package server exposes the engine over HTTP: the JSON message trigger, the
// Telegram webhook, Prometheus metrics and a health probe.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/hrygo/caresense/ai/conversation"
	"github.com/hrygo/caresense/ai/metrics"
	"github.com/hrygo/caresense/ai/orchestrator"
	"github.com/hrygo/caresense/internal/profile"
	"github.com/hrygo/caresense/internal/version"
	"github.com/hrygo/caresense/plugin/chat_apps"
	"github.com/hrygo/caresense/store"
)

// Processor runs one message through the engine. *orchestrator.Orchestrator satisfies it.
type Processor interface {
	Process(ctx context.Context, msg *conversation.Message) *orchestrator.Response
}

// Channels parses webhooks and delivers replies. *channels.ChannelRouter satisfies it.
type Channels interface {
	HandleWebhook(ctx context.Context, platform chat_apps.Platform, headers map[string]string, body []byte) (*chat_apps.IncomingMessage, error)
	SendResponse(ctx context.Context, platform chat_apps.Platform, msg *chat_apps.OutgoingMessage) error
}

// PatientDirectory lists patients, used to bind chat senders to a patient.
type PatientDirectory interface {
	ListPatients(ctx context.Context, find *store.FindPatient) ([]*store.Patient, error)
}

// Deps are the collaborators of the HTTP surface.
type Deps struct {
	Processor Processor
	Channels  Channels
	Patients  PatientDirectory
	Metrics   *metrics.PrometheusExporter
}

// Server is the HTTP server.
type Server struct {
	Profile *profile.Profile
	Echo    *echo.Echo

	deps   Deps
	engine *Engine
	store  *store.Store

	// webhookTimeout bounds the background processing of one webhook message.
	webhookTimeout time.Duration
	wg             sync.WaitGroup
}

// NewServer wires the engine over st and builds the HTTP server.
func NewServer(ctx context.Context, p *profile.Profile, st *store.Store) (*Server, error) {
	engine, err := NewEngine(ctx, p, st)
	if err != nil {
		return nil, err
	}
	s := New(p, Deps{
		Processor: engine.Orchestrator,
		Channels:  engine.Router,
		Patients:  st,
		Metrics:   engine.Metrics,
	})
	s.engine = engine
	s.store = st
	return s, nil
}

// New builds the HTTP server over deps.
func New(p *profile.Profile, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))

	s := &Server{
		Profile:        p,
		Echo:           e,
		deps:           deps,
		webhookTimeout: 2 * time.Minute,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.Echo.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"status":  "ok",
			"version": version.Current(s.Profile.Mode),
		})
	})
	if s.deps.Metrics != nil {
		s.Echo.GET("/metrics", echo.WrapHandler(s.deps.Metrics.Handler()))
	}

	api := s.Echo.Group("/api/v1")
	api.POST("/messages", s.handleMessage, JWTMiddleware(s.Profile.JWTSecret))
	api.POST("/channels/:platform/webhook", s.handleWebhook)
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(_ context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", address, err)
	}
	s.Echo.Listener = listener

	go func() {
		if err := s.Echo.Start(address); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to start echo server", "error", err)
		}
	}()
	return nil
}

// Shutdown stops accepting requests, drains in-flight webhook work and closes the engine.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	slog.Info("server shutting down")
	if err := s.Echo.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}
	s.Wait()

	if s.engine != nil {
		if err := s.engine.Close(); err != nil {
			slog.Error("failed to close engine", "error", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Error("failed to close database", "error", err)
		}
	}
	slog.Info("server stopped properly")
}

// Wait blocks until background webhook processing has finished.
func (s *Server) Wait() {
	s.wg.Wait()
}
