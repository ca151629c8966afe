package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stustapay/apiserver/config"
	"github.com/stustapay/apiserver/internal/auth"
	"github.com/stustapay/apiserver/internal/db"
	"github.com/stustapay/apiserver/internal/handlers"
	"github.com/stustapay/apiserver/internal/logging"
	"github.com/stustapay/apiserver/internal/mq"
	"github.com/stustapay/apiserver/internal/services"
	"github.com/stustapay/apiserver/internal/storage"
	"github.com/stustapay/apiserver/internal/store"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	bus        *mq.MQ
}

// Services bundles the use-case services built on one database pool.
type Services struct {
	Users     *services.UserService
	Sessions  *services.SessionService
	Terminals *services.TerminalService
}

// NewServices wires repositories, the unit of work and the auth collaborators.
// bus may be nil, in which case user events are dropped.
func NewServices(dbConn *sql.DB, jwtSecret string, bus *mq.MQ) (Services, error) {
	tokens, err := auth.NewTokenService(jwtSecret)
	if err != nil {
		return Services{}, err
	}
	hasher := auth.NewPasswordHasher(0)
	tx := db.NewTransactor(dbConn, nil)

	userRepo := store.NewUserRepository(dbConn)
	tagRepo := store.NewUserTagRepository(dbConn)
	accountRepo := store.NewAccountRepository(dbConn)
	sessionRepo := store.NewSessionRepository(dbConn)
	tillRepo := store.NewTillRepository(dbConn)

	var events *services.EventPublisher
	if bus != nil {
		events = services.NewEventPublisher(bus)
	}

	return Services{
		Users:     services.NewUserService(tx, userRepo, tagRepo, accountRepo, hasher, events),
		Sessions:  services.NewSessionService(tx, userRepo, sessionRepo, hasher, tokens),
		Terminals: services.NewTerminalService(tx, tillRepo, userRepo, tagRepo, tokens),
	}, nil
}

// New constructs a Server with basic middleware and defaults.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	log := logging.Get()

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	bus, err := mq.Open(ctx, cfg.MQ)
	if err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("open message queue: %w", err)
	}

	svc, err := NewServices(dbConn, cfg.JWTSecret, bus)
	if err != nil {
		closeAll(dbConn, bus)
		return nil, fmt.Errorf("JWT_SECRET is required: %w", err)
	}

	var (
		exporter handlers.UserExporter
		exports  handlers.ExportStore
	)
	objects, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		closeAll(dbConn, bus)
		return nil, fmt.Errorf("open object storage: %w", err)
	}
	if objects != nil {
		if err := objects.EnsureBucket(ctx); err != nil {
			log.Warn().Err(err).Str("bucket", objects.Bucket()).Msg("ensure export bucket failed")
		}
		exporter = services.NewUserExporter(svc.Users, objects)
		exports = objects
	}

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Handle("/metrics", promhttp.Handler())
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, svc.Sessions)
	})
	router.Route("/users", func(r chi.Router) {
		handlers.UserRouter(r, handlers.NewUserHandler(svc.Users, exporter, exports), handlers.RequireUser(svc.Sessions))
	})
	router.Route("/terminal", func(r chi.Router) {
		handlers.TerminalRouter(r, handlers.NewTerminalHandler(svc.Terminals, svc.Users))
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		bus:        bus,
	}, nil
}

func closeAll(dbConn *sql.DB, bus *mq.MQ) {
	if bus != nil {
		_ = bus.Close()
	}
	_ = dbConn.Close()
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	logging.Get().Info().Str("addr", s.httpServer.Addr).Msg("server listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests, then closes the bus and the pool.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.bus != nil {
		_ = s.bus.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	return err
}
