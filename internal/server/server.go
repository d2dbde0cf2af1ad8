/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nats-io/nats.go"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/sanctuary/internal/api"
	"github.com/friendsincode/sanctuary/internal/cache"
	"github.com/friendsincode/sanctuary/internal/clock"
	"github.com/friendsincode/sanctuary/internal/config"
	"github.com/friendsincode/sanctuary/internal/content"
	"github.com/friendsincode/sanctuary/internal/db"
	"github.com/friendsincode/sanctuary/internal/eventbus"
	"github.com/friendsincode/sanctuary/internal/events"
	"github.com/friendsincode/sanctuary/internal/logbuffer"
	"github.com/friendsincode/sanctuary/internal/output"
	"github.com/friendsincode/sanctuary/internal/presenter"
	"github.com/friendsincode/sanctuary/internal/schedule"
	"github.com/friendsincode/sanctuary/internal/telemetry"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg           *config.Config
	logger        zerolog.Logger
	router        chi.Router
	httpServer    *http.Server
	metricsServer *http.Server
	closers       []func() error

	db         *gorm.DB
	bus        events.Broker
	cache      *cache.Cache
	cachedRepo *content.CachedRepository
	logBuffer  *logbuffer.Buffer
	remotes    api.Remotes
	outputs    *output.Router
	session    *presenter.Service
	api        *api.API

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("sanctuary-api")) // Add OpenTelemetry tracing
	router.Use(telemetry.MetricsMiddleware)                  // Add Prometheus metrics
	// Skip timeout for WebSocket connections
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		logBuffer: logBuf,
	}

	if err := srv.initDependencies(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	srv.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// WriteTimeout set to 0 for websocket support - the middleware timeout
		// (60s) handles plain requests
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	if cfg.MetricsBind != "" {
		metricsMux := chi.NewRouter()
		metricsMux.Handle("/metrics", telemetry.Handler())
		srv.metricsServer = &http.Server{
			Addr:              cfg.MetricsBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 15 * time.Second,
		}
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg, s.logger)
	if err != nil {
		return err
	}
	s.DeferClose(func() error { return db.Close(database) })
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.db = database

	s.bus = s.newEventBus()

	if s.cfg.CacheEnabled || s.cfg.EventBus == config.EventBusRedis {
		s.remotes.Redis = s.connectRedis()
	}
	if s.cfg.NATSURL != "" {
		s.remotes.NATS = s.connectNATS()
	}
	if s.cfg.AMQPURL != "" {
		s.remotes.AMQP = s.connectAMQP()
	}

	store := content.NewStore(database, s.bus, s.logger)
	var repo content.Repository = store
	if s.cfg.CacheEnabled {
		if s.remotes.Redis != nil {
			cfg := cache.DefaultConfig()
			cfg.RedisAddr = s.cfg.RedisAddr
			cfg.RedisDB = s.cfg.RedisDB
			s.cache = cache.NewWithClient(s.remotes.Redis, cfg, s.logger)
		} else {
			s.cache = cache.Disabled(s.logger)
		}
		s.cachedRepo = content.NewCachedRepository(store, s.cache, s.logger)
		store.SetInvalidator(s.cachedRepo)
		repo = s.cachedRepo
	}

	sched := schedule.NewManager(repo, schedule.NewStore(database), s.bus, s.logger)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sched.Load(ctx); err != nil {
		return fmt.Errorf("load schedule: %w", err)
	}

	clk := clock.New()
	s.outputs = output.NewRouter(output.Config{DeliveryTimeout: s.cfg.DeliveryTimeout}, clk, s.bus, s.logger)
	s.DeferClose(func() error { s.outputs.Close(); return nil })

	s.session = presenter.New(presenter.Config{
		TickInterval: s.cfg.TickInterval,
		AutoAdvance:  s.cfg.AutoAdvance,
	}, repo, sched, s.outputs, clk, s.bus, s.logger)
	s.DeferClose(func() error { s.session.Close(); return nil })

	s.api = api.New(s.session, store, s.bus, s.remotes, []byte(s.cfg.JWTSigningKey), s.logBuffer, s.logger)
	return nil
}

// newEventBus picks the in-process bus or one mirrored over Redis or NATS.
func (s *Server) newEventBus() events.Broker {
	switch s.cfg.EventBus {
	case config.EventBusRedis:
		cfg := eventbus.DefaultRedisConfig()
		cfg.Addr = s.cfg.RedisAddr
		cfg.Password = s.cfg.RedisPassword
		cfg.DB = s.cfg.RedisDB
		bus := eventbus.NewRedisBus(cfg, s.cfg.InstanceID, s.logger)
		s.DeferClose(bus.Close)
		return bus
	case config.EventBusNATS:
		cfg := eventbus.DefaultNATSConfig()
		cfg.URL = s.cfg.NATSURL
		bus := eventbus.NewNATSBus(cfg, s.cfg.InstanceID, s.logger)
		s.DeferClose(bus.Close)
		return bus
	default:
		s.logger.Info().Msg("using in-memory event bus")
		return events.NewBus()
	}
}

// connectRedis returns nil when Redis does not answer.
func (s *Server) connectRedis() *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:         s.cfg.RedisAddr,
		Password:     s.cfg.RedisPassword,
		DB:           s.cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		s.logger.Warn().Err(err).Str("addr", s.cfg.RedisAddr).Msg("Redis unavailable, cache and redis targets disabled")
		_ = client.Close()
		return nil
	}
	s.DeferClose(client.Close)
	return client
}

func (s *Server) connectNATS() *nats.Conn {
	conn, err := nats.Connect(s.cfg.NATSURL, nats.Name("sanctuary-outputs"), nats.MaxReconnects(-1))
	if err != nil {
		s.logger.Warn().Err(err).Str("url", s.cfg.NATSURL).Msg("NATS unavailable, nats targets disabled")
		return nil
	}
	s.DeferClose(func() error { conn.Close(); return nil })
	return conn
}

func (s *Server) connectAMQP() *amqp.Connection {
	conn, err := amqp.Dial(s.cfg.AMQPURL)
	if err != nil {
		s.logger.Warn().Err(err).Msg("AMQP unavailable, amqp targets disabled")
		return nil
	}
	s.DeferClose(conn.Close)
	return conn
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// MetricsServer returns the Prometheus listener, or nil when metrics are
// served on the main router.
func (s *Server) MetricsServer() *http.Server {
	return s.metricsServer
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.session.Run(ctx)
	}()

	// Start database metrics updater
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.UpdateConnectionMetrics(s.db)
			}
		}
	}()

	// Start cache invalidation listener
	if s.cachedRepo != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.cachedRepo.WatchInvalidations(ctx, s.bus)
		}()
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	if s.cfg.MetricsBind == "" {
		s.router.Handle("/metrics", telemetry.Handler())
	}
	s.api.Routes(s.router)
}
