// Package server wires the gateway: handlers, middleware chain, and the
// collaborators each endpoint depends on.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/studyloop/viva/pkg/bridge"
	"github.com/studyloop/viva/pkg/evaluate"
	"github.com/studyloop/viva/pkg/exam"
	"github.com/studyloop/viva/pkg/gateway/auth"
	"github.com/studyloop/viva/pkg/gateway/config"
	"github.com/studyloop/viva/pkg/gateway/handlers"
	"github.com/studyloop/viva/pkg/gateway/lifecycle"
	"github.com/studyloop/viva/pkg/gateway/mw"
	"github.com/studyloop/viva/pkg/providers/gemini"
	"github.com/studyloop/viva/pkg/store"
	"github.com/studyloop/viva/pkg/topics"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	registry  *exam.Registry
	manager   *exam.Manager
	verifier  *auth.Verifier
	connector bridge.Connector
	persona   exam.PersonaFunc
	lifecycle *lifecycle.Lifecycle
	store     *store.Store
}

// Deps carries the collaborators a Server needs. Tests inject fakes here.
type Deps struct {
	Connector bridge.Connector
	Evaluator exam.Evaluator
	TextModel exam.TextModel
	Persona   exam.PersonaFunc
	Archive   exam.Archiver
	Topics    handlers.TopicResolver
	Store     *store.Store
}

// New builds a production server: Gemini client for the live bridge, the
// text model and the evaluator, optional Postgres archive and learning-path
// client.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client, err := gemini.New(ctx, gemini.Config{
		APIKey:    cfg.GeminiAPIKey,
		LiveModel: cfg.LiveModel,
		TextModel: cfg.TextModel,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	evaluator, err := evaluate.New(client, logger)
	if err != nil {
		return nil, fmt.Errorf("evaluation engine: %w", err)
	}

	catalog := bridge.DefaultCatalog()
	if cfg.PromptsFile != "" {
		catalog, err = bridge.LoadCatalog(cfg.PromptsFile)
		if err != nil {
			return nil, fmt.Errorf("prompts file: %w", err)
		}
	}

	deps := Deps{
		Connector: client,
		Evaluator: evaluator,
		TextModel: client,
		Persona:   catalog.SystemPrompt,
	}

	if cfg.DatabaseURL != "" {
		st, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, fmt.Errorf("migrate store: %w", err)
		}
		deps.Store = st
		deps.Archive = st
	}

	if cfg.TopicsBaseURL != "" {
		deps.Topics = topics.New(cfg.TopicsBaseURL, cfg.TopicsAPIKey)
	}

	return NewWithDeps(cfg, logger, deps), nil
}

// NewWithDeps builds a server from explicit collaborators.
func NewWithDeps(cfg config.Config, logger *slog.Logger, deps Deps) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	registry := exam.NewRegistry()
	manager := exam.NewManager(exam.ManagerDeps{
		Registry:  registry,
		Evaluator: deps.Evaluator,
		TextModel: deps.TextModel,
		Persona:   deps.Persona,
		Archive:   deps.Archive,
		Logger:    logger,
	})

	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),

		registry:  registry,
		manager:   manager,
		verifier:  auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer, cfg.RevokedTokenIDs),
		connector: deps.Connector,
		persona:   deps.Persona,
		lifecycle: &lifecycle.Lifecycle{},
		store:     deps.Store,
	}

	s.routes(deps)
	return s
}

func (s *Server) routes(deps Deps) {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, Lifecycle: s.lifecycle})

	sessions := handlers.SessionsHandler{
		Config:  s.cfg,
		Manager: s.manager,
		Topics:  deps.Topics,
		Logger:  s.logger,
	}
	s.mux.HandleFunc("POST /v1/sessions/start", sessions.Start)
	s.mux.HandleFunc("POST /v1/sessions/{id}/end", sessions.End)
	s.mux.HandleFunc("GET /v1/sessions/{id}", sessions.Get)
	s.mux.HandleFunc("POST /v1/sessions/{id}/text", sessions.Text)

	s.mux.Handle("/v1/viva", handlers.LiveHandler{
		Config:    s.cfg,
		Verifier:  s.verifier,
		Connector: s.connector,
		Manager:   s.manager,
		Persona:   s.persona,
		Logger:    s.logger,
		Lifecycle: s.lifecycle,
	})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Auth(s.cfg, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

func (s *Server) Manager() *exam.Manager { return s.manager }

// SetDraining flips readiness and makes the live endpoint refuse new
// sessions.
func (s *Server) SetDraining() {
	s.lifecycle.SetDraining(true)
}

// WarnLiveSessionsDraining notifies every connected client the gateway is
// going away.
func (s *Server) WarnLiveSessionsDraining() {
	sent := s.registry.WarnAll("draining", "gateway is draining, session will close shortly")
	if sent > 0 {
		s.logger.Info("warned live sessions", "count", sent)
	}
}

// WaitLiveSessions blocks until every session has torn down or ctx expires.
func (s *Server) WaitLiveSessions(ctx context.Context) bool {
	return s.registry.Wait(ctx)
}

// CancelLiveSessions force-cancels the sessions that outlived the grace
// period.
func (s *Server) CancelLiveSessions() {
	canceled := s.registry.CancelAll()
	if canceled > 0 {
		s.logger.Warn("canceled live sessions", "count", canceled)
	}
}

// Close releases held resources. Safe when no store is configured.
func (s *Server) Close() {
	if s.store != nil {
		s.store.Close()
	}
}
