package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/shopfront/apiserver/config"
	"github.com/shopfront/apiserver/internal/auth"
	"github.com/shopfront/apiserver/internal/cache"
	"github.com/shopfront/apiserver/internal/db"
	"github.com/shopfront/apiserver/internal/events"
	"github.com/shopfront/apiserver/internal/handlers"
	"github.com/shopfront/apiserver/internal/logging"
	"github.com/shopfront/apiserver/internal/mq"
	"github.com/shopfront/apiserver/internal/services"
	"github.com/shopfront/apiserver/internal/storage"
	"github.com/shopfront/apiserver/internal/store"
	"github.com/shopfront/apiserver/internal/store/memory"
)

// Repositories groups the persistence layer the services run on.
type Repositories struct {
	Products services.ProductRepository
	Orders   services.OrderRepository
	Users    services.UserRepository
}

// OpenRepositories builds the repositories for the configured store backend.
// The returned close function releases the underlying connection.
func OpenRepositories(ctx context.Context, cfg config.Config) (Repositories, func() error, error) {
	switch cfg.StoreBackend {
	case config.StoreBackendMemory:
		s := memory.New()
		return Repositories{
			Products: s.Products(),
			Orders:   s.Orders(),
			Users:    s.Users(),
		}, func() error { return nil }, nil
	case config.StoreBackendPostgres, "":
		conn, err := db.Open(ctx, cfg.Database)
		if err != nil {
			return Repositories{}, nil, fmt.Errorf("open database: %w", err)
		}
		return Repositories{
			Products: store.NewProductRepository(conn),
			Orders:   store.NewOrderRepository(conn),
			Users:    store.NewUserRepository(conn),
		}, conn.Close, nil
	default:
		return Repositories{}, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// Server wraps the HTTP server, its router and the resources it owns.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	logger     zerolog.Logger
	closers    []func() error
}

// New wires the storefront API from cfg. Redis, object storage and the
// message queue are optional and only used when configured.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	logger := logging.New(cfg)
	s := &Server{logger: logger}

	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("JWT_SECRET: %w", err)
	}

	repos, closeRepos, err := OpenRepositories(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, closeRepos)

	productRepo, orderRepo := repos.Products, repos.Orders
	if cfg.Redis.Addr != "" {
		rc, err := cache.NewRedisCache(ctx, cfg.Redis)
		if err != nil {
			s.close()
			return nil, err
		}
		s.closers = append(s.closers, rc.Close)
		cached := cache.NewCacheAsideProductRepo(productRepo, rc, cfg.Redis.TTL)
		productRepo = cached
		orderRepo = cache.NewCacheAsideOrderRepo(orderRepo, cached)
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("product cache enabled")
	}

	var objects services.ObjectStore
	images, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		s.close()
		return nil, err
	}
	if images != nil {
		s.closers = append(s.closers, images.Close)
		objects = images
		logger.Info().Str("backend", cfg.Storage.Backend).Str("bucket", images.Bucket()).Msg("image storage enabled")
	}

	var orderEvents services.OrderEvents
	broker, err := mq.Open(ctx, cfg.MQ)
	if err != nil {
		s.close()
		return nil, err
	}
	if broker != nil {
		s.closers = append(s.closers, broker.Close)
		orderEvents = events.NewPublisher(broker, cfg.MQ.Channel)
		logger.Info().Str("backend", cfg.MQ.Backend).Str("channel", cfg.MQ.Channel).Msg("order events enabled")
	}

	userService := services.NewUserService(repos.Users)
	productService := services.NewProductService(productRepo, objects)
	orderService := services.NewOrderService(orderRepo, repos.Users, orderEvents)

	authMiddleware := handlers.RequireAuth(tokens)
	adminMiddleware := handlers.RequireAdmin(userService)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		logging.Middleware(logger),
		middleware.Recoverer,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, userService, tokens, cfg.Auth.SecureCookie)
	})
	router.Route("/products", func(r chi.Router) {
		handlers.ProductRouter(r, productService, authMiddleware, adminMiddleware)
	})
	router.Route("/orders", func(r chi.Router) {
		handlers.OrderRouter(r, orderService, authMiddleware, adminMiddleware)
	})
	router.Route("/users", func(r chi.Router) {
		handlers.UserRouter(r, userService, authMiddleware)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	s.router = router
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and releases every resource.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.close()
	return err
}

func (s *Server) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn().Err(err).Msg("release resource")
		}
	}
	s.closers = nil
}
