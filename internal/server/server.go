package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"rescue/dispatch/internal/config"
	"rescue/dispatch/internal/database"
	"rescue/dispatch/internal/dispatch"
	"rescue/dispatch/internal/notify"
	"rescue/dispatch/internal/store/memory"
	"rescue/dispatch/internal/store/postgres"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Store is what the HTTP layer needs from a backend: the engine contract plus resource
// registration.
type Store interface {
	dispatch.Store
	dispatch.Registry
}

// Server wires configuration, dependencies and HTTP routing together.
type Server struct {
	cfg       config.Config
	log       zerolog.Logger
	pool      *pgxpool.Pool
	store     Store
	engine    *dispatch.Engine
	directory *dispatch.Directory
	validate  *validator.Validate
	authMw    *AuthMiddleware
	startedAt time.Time
	closers   []func() error
}

// Dependencies lets callers supply a ready store and notifier instead of the ones New
// builds from configuration.
type Dependencies struct {
	Store    Store
	Notifier dispatch.Notifier
	Scorer   *dispatch.Scorer
	Now      func() time.Time
}

// New instantiates the HTTP server, runs DB migrations and prepares shared dependencies.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger) (*Server, error) {
	store, pool, err := OpenStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	fanout, closeSinks := notify.Build(ctx, cfg.Notify, log)

	srv, err := NewWithDependencies(ctx, cfg, log, Dependencies{Store: store, Notifier: fanout})
	if err != nil {
		_ = closeSinks()
		if pool != nil {
			pool.Close()
		}
		return nil, err
	}
	srv.pool = pool
	srv.closers = append(srv.closers, closeSinks)
	return srv, nil
}

// OpenStore selects the backend named by cfg.Database.Driver. The pool is nil for the
// memory driver; otherwise the caller owns it.
func OpenStore(ctx context.Context, cfg config.Config, log zerolog.Logger) (Store, *pgxpool.Pool, error) {
	switch cfg.Database.Driver {
	case "memory":
		log.Warn().Msg("using in-memory store, state is lost on restart")
		return memory.New(), nil, nil
	case "postgres", "":
		pool, err := database.Connect(ctx, cfg, log)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewStore(pool), pool, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Database.Driver)
	}
}

// EngineOptions translates the dispatch settings into engine options.
func EngineOptions(cfg config.DispatchConfig) dispatch.Options {
	return dispatch.Options{
		AllowUnknownVehicles: cfg.AllowUnknownVehicles,
		StrictAdvance:        cfg.StrictAdvance,
		PendingTTL:           cfg.PendingTTL,
		NotifyTimeout:        cfg.NotifyTimeout,
	}
}

// NewWithDependencies builds a server around an existing store.
func NewWithDependencies(ctx context.Context, cfg config.Config, log zerolog.Logger, deps Dependencies) (*Server, error) {
	if deps.Store == nil {
		return nil, errors.New("server: store required")
	}
	scorer := deps.Scorer
	if scorer == nil {
		scorer = dispatch.NewScorer()
	}

	authMw, err := NewAuthMiddleware(ctx, cfg.Auth, log)
	if err != nil {
		return nil, fmt.Errorf("init auth middleware: %w", err)
	}

	opts := EngineOptions(cfg.Dispatch)
	opts.Now = deps.Now
	engine := dispatch.NewEngine(deps.Store, deps.Notifier, scorer, log, opts)

	return &Server{
		cfg:       cfg,
		log:       log,
		store:     deps.Store,
		engine:    engine,
		directory: dispatch.NewDirectory(deps.Store, scorer),
		validate:  newValidator(),
		authMw:    authMw,
		startedAt: time.Now().UTC(),
	}, nil
}

// Store exposes the backing store, mainly for seeding.
func (s *Server) Store() Store { return s.store }

// Handler returns the HTTP handler with every route mounted.
func (s *Server) Handler() http.Handler { return s.routes() }

// Close releases database and notification resources.
func (s *Server) Close() {
	if s.authMw != nil {
		s.authMw.Close()
	}
	for _, c := range s.closers {
		if err := c(); err != nil {
			s.log.Warn().Err(err).Msg("close notification sinks")
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// Run starts the HTTP server and blocks until the context is cancelled or an unrecoverable error occurs.
func (s *Server) Run(ctx context.Context) error {
	dispatch.StartMetricsSync(ctx, s.store, s.log, s.cfg.Dispatch.MetricsSyncInterval)
	s.engine.StartExpirySweeper(ctx, s.cfg.Dispatch.ExpireInterval)

	httpServer := &http.Server{
		Addr:         s.cfg.HTTP.Address,
		Handler:      s.routes(),
		ReadTimeout:  s.cfg.HTTP.ReadTimeout,
		WriteTimeout: s.cfg.HTTP.WriteTimeout,
		IdleTimeout:  s.cfg.HTTP.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Error().Err(err).Msg("graceful shutdown failed")
		}
	}()

	s.log.Info().Str("addr", s.cfg.HTTP.Address).Str("store", s.cfg.Database.Driver).Msg("http server listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("severity", func(fl validator.FieldLevel) bool {
		switch dispatch.Severity(fl.Field().String()) {
		case dispatch.SeverityLow, dispatch.SeverityMedium, dispatch.SeverityHigh, dispatch.SeverityCritical:
			return true
		}
		return false
	})
	return v
}
