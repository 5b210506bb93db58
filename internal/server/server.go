// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It decides:
//   - which backends the config selects (SQLite or MongoDB, Docker or Judge0)
//   - which URL patterns map to which handler functions
//   - what middleware runs on which routes
//   - how the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config
//	  → Open() builds: docstore.Store, executor.Executor, assistant.Client, GitHub provider
//	  → New() builds:  services → editor.Manager → handlers → routes
//
// This is the "composition root" pattern: every dependency is wired in one
// place rather than scattered across the codebase. Tests call New directly
// with an in-memory store and fakes.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/codeflow/internal/assistant"
	"github.com/sakif/codeflow/internal/auth"
	"github.com/sakif/codeflow/internal/autosave"
	"github.com/sakif/codeflow/internal/config"
	"github.com/sakif/codeflow/internal/docstore"
	"github.com/sakif/codeflow/internal/docstore/mongo"
	"github.com/sakif/codeflow/internal/docstore/sqlite"
	"github.com/sakif/codeflow/internal/editor"
	"github.com/sakif/codeflow/internal/executor"
	"github.com/sakif/codeflow/internal/executor/docker"
	"github.com/sakif/codeflow/internal/executor/judge0"
	"github.com/sakif/codeflow/internal/handler"
	"github.com/sakif/codeflow/internal/metrics"
	"github.com/sakif/codeflow/internal/middleware"
	"github.com/sakif/codeflow/internal/service"
)

// shutdownTimeout is how long in-flight requests get after SIGINT/SIGTERM.
const shutdownTimeout = 30 * time.Second

// Deps are the external collaborators. Open builds them from config; tests
// pass their own.
type Deps struct {
	Store docstore.Store

	// Executor may be nil: /api/execute is then not routed, editor runs
	// fail and /healthz reports no languages.
	Executor  executor.Executor
	Languages []string

	GitHub    handler.OAuthProvider
	Assistant handler.Chatter
	// AssistantConfigured is reported on /healthz.
	AssistantConfigured bool

	// closers run on shutdown after the HTTP server has drained.
	closers []func() error
}

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the store connection and the executor's containers.
// Shutdown drains HTTP, saves every open editor session, then closes them.
type Server struct {
	router   *chi.Mux
	config   *config.Config
	logger   *slog.Logger
	deps     Deps
	metrics  *metrics.Metrics
	sessions *editor.Manager
}

// Open builds the real backends from cfg and returns a ready Server.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	deps := Deps{Store: store, closers: []func() error{store.Close}}

	deps.Executor, deps.Languages, err = openExecutor(cfg, logger)
	if err != nil {
		// Execution is optional: the server still starts without it.
		logger.Warn("code execution unavailable", slog.String("error", err.Error()))
	}
	if c, ok := deps.Executor.(interface{ Close() error }); ok {
		deps.closers = append(deps.closers, c.Close)
	}

	deps.GitHub = auth.NewGitHubProvider(cfg.Auth.GitHubClientID, cfg.Auth.GitHubClientSecret, cfg.Auth.GitHubCallbackURL)
	if !deps.GitHub.Configured() {
		logger.Warn("GITHUB_CLIENT_ID/GITHUB_CLIENT_SECRET not set, GitHub login disabled")
	}

	chat := assistant.New(cfg.Assistant.APIKey, logger,
		assistant.WithBaseURL(cfg.Assistant.BaseURL),
		assistant.WithModel(cfg.Assistant.Model),
	)
	deps.Assistant = chat
	deps.AssistantConfigured = chat.Configured()

	srv, err := New(cfg, logger, deps)
	if err != nil {
		deps.close(logger)
		return nil, err
	}
	return srv, nil
}

// openStore picks the document store backend.
func openStore(ctx context.Context, cfg *config.Config) (docstore.Store, error) {
	switch cfg.Store.Backend {
	case "mongo":
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		store, err := mongo.Connect(ctx, cfg.Store.MongoURI, cfg.Store.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("server: opening store: %w", err)
		}
		return store, nil

	default:
		// Ensure the data directory exists (like `mkdir -p`).
		if dir := filepath.Dir(cfg.Store.SQLitePath); cfg.Store.SQLitePath != ":memory:" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("server: creating database directory %s: %w", dir, err)
			}
		}
		var opts []sqlite.Option
		if cfg.SnippetIndexEnabled() {
			opts = append(opts, sqlite.WithIndexes(service.SnippetListIndex))
		}
		store, err := sqlite.New(cfg.Store.SQLitePath, opts...)
		if err != nil {
			return nil, fmt.Errorf("server: opening store: %w", err)
		}
		return store, nil
	}
}

// openExecutor picks the execution backend and reports its languages.
func openExecutor(cfg *config.Config, logger *slog.Logger) (executor.Executor, []string, error) {
	ec := cfg.Executor
	switch ec.Backend {
	case "docker":
		dc := docker.DefaultConfig().Only(ec.Languages...)
		dc.Timeout = ec.Timeout
		dc.PoolSize = ec.PoolSize
		exec, err := docker.New(dc, logger)
		if err != nil {
			return nil, nil, err
		}
		return exec, exec.Languages(), nil

	case "judge0":
		client := judge0.New(logger,
			judge0.WithBaseURL(ec.Judge0URL),
			judge0.WithAuthToken(ec.Judge0Token),
		)
		return client, judge0Languages(ec.Languages), nil

	default:
		return nil, nil, errors.New("executor backend is \"none\"")
	}
}

func judge0Languages(only []string) []string {
	var out []string
	if len(only) == 0 {
		for lang := range judge0.LanguageIDs {
			out = append(out, lang)
		}
	} else {
		for _, lang := range only {
			if _, ok := judge0.LanguageIDs[lang]; ok {
				out = append(out, lang)
			}
		}
	}
	sort.Strings(out)
	return out
}

// New wires services, sessions, handlers and routes around deps.
func New(cfg *config.Config, logger *slog.Logger, deps Deps) (*Server, error) {
	if deps.Store == nil {
		return nil, errors.New("server: a store is required")
	}

	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		logger:  logger,
		deps:    deps,
		metrics: metrics.New(),
	}

	if s.deps.Executor != nil {
		s.deps.Executor = executor.Instrument(s.deps.Executor, s.metrics.Executions)
	}

	if err := s.setupRoutes(); err != nil {
		return nil, fmt.Errorf("server: setting up routes: %w", err)
	}
	return s, nil
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler { return s.router }

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	GET    /healthz, /metrics                     → public
//	GET    /auth/github/login, /auth/github/callback, POST /auth/logout
//	POST   /api/execute, /api/assistant/chat      → optional auth
//	/api/me, /api/snippets/*, /api/folders, /api/editor/* → RequireAuth
//
// MIDDLEWARE ORDER MATTERS:
//  1. RequestID: unique id per request (for tracing)
//  2. RealIP: real client IP from proxy headers
//  3. Logger: logs each request with timing info
//  4. Metrics: counts requests by route pattern
//  5. Recoverer: turns panics into 500 instead of crashing
func (s *Server) setupRoutes() error {
	cfg := s.config

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		// Sessions will not survive a restart. Set JWT_SECRET, e.g.
		//   JWT_SECRET=$(openssl rand -hex 32)
		s.logger.Warn("JWT_SECRET not set, using a random per-process secret")
		secret = randomSecret()
	}
	tokens, err := auth.NewTokenService(secret, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	// === SERVICES ===
	folders := service.NewFolderResolver(s.deps.Store, s.logger)
	snippets := service.NewSnippetService(s.deps.Store, folders, s.logger)
	users := service.NewAuthService(s.deps.Store, tokens, s.logger)

	var limiter *executor.Limiter
	if s.deps.Executor != nil {
		limiter = executor.NewLimiter(cfg.Executor.PerMinute, cfg.Executor.PerHour)
	}

	// === EDITOR SESSIONS ===
	s.sessions = editor.NewManager(editor.Deps{
		Snippets: snippets,
		Executor: s.deps.Executor,
		Limiter:  limiter,
		Logger:   s.logger,
		Autosave: []autosave.Option{
			autosave.WithDelay(cfg.Editor.AutosaveDelay),
			autosave.WithSavedDecay(cfg.Editor.SavedDecay),
			autosave.WithWriteCounter(s.metrics.AutosaveWrites),
		},
	},
		editor.WithIdleTimeout(cfg.Editor.IdleTimeout),
		editor.WithSessionGauge(s.metrics.Sessions),
	)
	if err := s.sessions.Start(cfg.Editor.SweepSchedule); err != nil {
		return err
	}

	// === HANDLERS ===
	var github handler.OAuthProvider = s.deps.GitHub
	if github == nil {
		github = auth.NewGitHubProvider("", "", "")
	}
	authHandler := handler.NewAuthHandler(github, users, tokens.TTL(), cfg.Server.SecureCookies, s.logger)
	snippetHandler := handler.NewSnippetHandler(snippets, s.logger)
	folderHandler := handler.NewFolderHandler(folders, s.logger)
	editorHandler := handler.NewEditorHandler(s.sessions, s.logger)
	healthHandler := handler.NewHealthHandler(s.deps.Store, s.deps.Languages, s.deps.AssistantConfigured, s.logger)

	// === GLOBAL MIDDLEWARE ===
	r := s.router
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.Metrics(s.metrics.HTTPRequests, s.metrics.HTTPDuration))
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", healthHandler.HandleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/auth", func(r chi.Router) {
		r.Get("/github/login", authHandler.HandleGitHubLogin)
		r.Get("/github/callback", authHandler.HandleGitHubCallback)
		r.Post("/logout", authHandler.HandleLogout)
	})

	r.Route("/api", func(r chi.Router) {
		// Anonymous callers may run code and chat; signed-in ones are
		// rate limited by user id instead of address.
		r.Group(func(r chi.Router) {
			r.Use(auth.OptionalAuth(tokens))
			if s.deps.Executor != nil {
				executeHandler := handler.NewExecuteHandler(s.deps.Executor, limiter, s.logger)
				r.Post("/execute", executeHandler.HandleExecute)
			}
			if s.deps.Assistant != nil {
				assistantHandler := handler.NewAssistantHandler(s.deps.Assistant, s.logger)
				r.Post("/assistant/chat", assistantHandler.HandleChat)
			}
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens))
			r.Use(middleware.UserLogger(s.logger))

			r.Get("/me", authHandler.HandleMe)

			r.Route("/snippets", func(r chi.Router) {
				r.Get("/", snippetHandler.HandleList)
				r.Post("/", snippetHandler.HandleCreate)
				r.Get("/{id}", snippetHandler.HandleGet)
				r.Put("/{id}", snippetHandler.HandleUpdate)
				r.Delete("/{id}", snippetHandler.HandleDelete)
				r.Patch("/{id}/meta", snippetHandler.HandleUpdateMeta)
			})

			r.Get("/folders", folderHandler.HandleList)
			r.Post("/folders", folderHandler.HandleEnsure)

			r.Route("/editor", func(r chi.Router) {
				r.Get("/", editorHandler.HandleGet)
				r.Put("/draft", editorHandler.HandleDraft)
				r.Post("/save", editorHandler.HandleSave)
				r.Post("/new", editorHandler.HandleNew)
				r.Post("/select/{id}", editorHandler.HandleSelect)
				r.Put("/autosave", editorHandler.HandleAutosave)
				r.Post("/run", editorHandler.HandleRun)
				r.Delete("/snippets/{id}", editorHandler.HandleDelete)
			})
		})
	})

	return nil
}

// Start serves HTTP until SIGINT/SIGTERM, then shuts down gracefully.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new connections
//  2. Wait for in-flight requests to finish (30s timeout)
//  3. Save every open editor session and stop the sweeper
//  4. Close the executor and the store
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Server.Port)),
			slog.String("store", s.config.Store.Backend),
			slog.String("executor", s.config.Executor.Backend),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	var runErr error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			runErr = fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.Close(ctx)
	if runErr == nil {
		s.logger.Info("server stopped gracefully")
	}
	return runErr
}

// Close saves open sessions and releases the backends. It is safe to call
// on a server that never started.
func (s *Server) Close(ctx context.Context) {
	if s.sessions != nil {
		s.sessions.Stop(ctx)
	}
	s.deps.close(s.logger)
}

func randomSecret() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func (d *Deps) close(logger *slog.Logger) {
	// Reverse order: the store opened first closes last.
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			logger.Warn("closing dependency", slog.String("error", err.Error()))
		}
	}
	d.closers = nil
}
