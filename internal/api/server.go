package api

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/crudkit-io/crudkit/internal/compiler"
	"github.com/crudkit-io/crudkit/internal/config"
	"github.com/crudkit-io/crudkit/internal/crud"
	"github.com/crudkit-io/crudkit/internal/middleware"
	"github.com/crudkit-io/crudkit/internal/observability"
	"github.com/crudkit-io/crudkit/internal/schema"
	"github.com/crudkit-io/crudkit/internal/service"
)

// Server wires the HTTP surface: one CRUD handler per configured resource
// plus health, metrics and the shared middleware chain.
type Server struct {
	app     *fiber.App
	cfg     *config.Config
	db      *pgxpool.Pool
	metrics *observability.Metrics
	parser  *crud.Parser
	cache   *service.QueryCache
}

// NewServer builds the fiber app and mounts the global routes. Resources are
// mounted by RegisterResources.
func NewServer(cfg *config.Config, db *pgxpool.Pool) *Server {
	s := &Server{
		cfg:     cfg,
		db:      db,
		metrics: observability.NewMetrics(),
		parser:  crud.NewParser(&cfg.Query),
	}

	if cfg.Redis.Enabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s.cache = service.NewQueryCache(client, time.Duration(cfg.Query.CacheTTL)*time.Second)
	}

	s.app = fiber.New(fiber.Config{
		AppName:      "crudkit",
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	s.app.Use(s.requestLogger())
	if cfg.RateLimit.Enabled {
		s.app.Use(middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Name:       "api",
			Max:        cfg.RateLimit.Max,
			Expiration: cfg.RateLimit.Window,
		}, s.metrics))
	}
	s.app.Use(middleware.JWTAuth(cfg.Auth))

	s.app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	return s
}

// App exposes the underlying fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// RegisterResources introspects every configured resource and mounts its
// routes. auth maps resource names onto auth hooks; missing entries mount
// the resource without principal scoping.
func (s *Server) RegisterResources(ctx context.Context, auth map[string]*AuthOptions) error {
	inspector := schema.NewInspector(s.db)
	for _, rc := range s.cfg.Resources {
		if err := s.registerResource(ctx, inspector, rc, auth[rc.Name]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) registerResource(ctx context.Context, inspector *schema.Inspector, rc config.ResourceConfig, auth *AuthOptions) error {
	table, err := inspector.Inspect(ctx, rc.Schema, rc.Table)
	if err != nil {
		return fmt.Errorf("failed to inspect resource %q: %w", rc.Name, err)
	}

	relTables := make(map[string]*schema.Table, len(rc.Relations))
	for _, rel := range rc.Relations {
		relSchema := rel.Schema
		if relSchema == "" {
			relSchema = rc.Schema
		}
		relTable, err := inspector.Inspect(ctx, relSchema, rel.Table)
		if err != nil {
			return fmt.Errorf("failed to inspect relation %q of resource %q: %w", rel.Name, rc.Name, err)
		}
		relTables[rel.Name] = relTable
	}

	res, err := compiler.NewResource(rc, table, relTables)
	if err != nil {
		return err
	}
	comp := compiler.New(res, compiler.DialectPostgres)
	svc := service.NewCrudService(s.db, comp, &s.cfg.Query, rc, s.cache, s.metrics)

	handler := NewCrudHandler(rc, svc, s.parser, auth)
	handler.RegisterRoutes(s.app)

	log.Info().
		Str("resource", rc.Name).
		Str("table", rc.Schema+"."+rc.Table).
		Int("relations", len(rc.Relations)).
		Msg("Mounted resource")
	return nil
}

// requestLogger logs every request and feeds the HTTP metrics.
func (s *Server) requestLogger() fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		duration := time.Since(start)
		status := c.Response().StatusCode()

		s.metrics.RecordHTTPRequest(c.Method(), c.Path(), status, duration)
		log.Debug().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("duration", duration).
			Msg("Request handled")
		return err
	}
}

// Listen serves HTTP on the configured address.
func (s *Server) Listen() error {
	log.Info().Str("address", s.cfg.Server.Address).Msg("Starting server")
	return s.app.Listen(s.cfg.Server.Address)
}

// Shutdown gracefully drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
