package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fleetsim/internal/analytics"
	"fleetsim/internal/api"
	"fleetsim/internal/cache"
	"fleetsim/internal/config"
	"fleetsim/internal/fleet"
	"fleetsim/internal/jobs"
	"fleetsim/internal/logger"
	"fleetsim/internal/simulator"
	"fleetsim/internal/store"
	"fleetsim/internal/stream"

	"go.uber.org/zap"
)

type Server struct {
	cfg     *config.Config
	fleet   *fleet.Service
	api     *api.Server
	hub     *stream.Hub
	redis   *cache.RedisClient
	store   *store.Datastore
	jobs    *jobs.Manager
	ctx     context.Context
	cancel  context.CancelFunc
	started time.Time
}

func NewServer(cfg *config.Config) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		hub:     stream.NewHub(),
		ctx:     ctx,
		cancel:  cancel,
		started: time.Now(),
	}

	engine := simulator.NewEngine(
		simulator.WithRand(simulator.NewRand(cfg.Simulator.Seed)),
		simulator.WithLocation(cfg.Simulator.Location()),
	)
	analyzer := analytics.NewAnalyzer(cfg.Analytics.WindowSize, cfg.Analytics.ZScoreThreshold, cfg.Alerts)

	fleetOpts := []fleet.Option{fleet.WithInterval(cfg.Simulator.TickEvery())}
	apiOpts := []api.Option{api.WithAPIKey(cfg.Server.APIKey), api.WithWebSocket(http.HandlerFunc(s.hub.ServeWS))}

	redisClient, err := cache.NewRedisClient(cfg.Redis)
	if err != nil {
		// Without Redis the hub is fed directly and history is in-memory only.
		logger.Warn("redis unavailable, running without cache", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		fleetOpts = append(fleetOpts, fleet.WithPublisher(s.hub))
	} else {
		s.redis = redisClient
		fleetOpts = append(fleetOpts, fleet.WithCache(redisClient), fleet.WithPublisher(redisClient))
		apiOpts = append(apiOpts, api.WithRedis(redisClient))
		logger.Info("redis connected", zap.String("addr", cfg.Redis.Addr))
	}

	if cfg.MySQL.Enabled {
		ds, err := store.NewDatastore(cfg.MySQL.DSN)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
		}
		if err := ds.AutoMigrate(); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to migrate MySQL schema: %w", err)
		}
		s.store = ds
		fleetOpts = append(fleetOpts, fleet.WithStore(ds))
		apiOpts = append(apiOpts, api.WithArchive(ds))
		logger.Info("mysql connected")
	}

	s.fleet = fleet.NewService(engine, analyzer, fleetOpts...)
	for _, n := range cfg.Simulator.Nodes {
		s.fleet.Register(ctx, fleet.RegisterRequest{
			ID:          n.ID,
			Online:      n.Online,
			CPU:         n.CPU,
			RAM:         n.RAM,
			Temperature: n.Temperature,
			Uptime:      n.Uptime,
		})
	}

	s.api = api.NewServer(s.fleet, apiOpts...)

	s.jobs = jobs.NewManager(ctx)
	s.jobs.Register(jobs.NewTickJob(cfg.Simulator.TickEvery(), s.fleet))
	s.jobs.Register(jobs.NewAlertJob(cfg.Simulator.AlertEvery(), s.fleet))
	if s.store != nil && cfg.MySQL.Retention() > 0 {
		s.jobs.Register(jobs.NewPruneJob(time.Hour, cfg.MySQL.Retention(), s.store.PruneHistory))
	}

	return s, nil
}

// relay forwards Redis pub/sub payloads to websocket clients so every
// instance sharing the channel streams the same updates.
func (s *Server) relay() {
	if s.redis == nil {
		return
	}
	go func() {
		if err := s.redis.Listen(s.ctx, s.hub.Broadcast); err != nil {
			logger.Error("redis listener stopped", zap.Error(err))
		}
	}()
}

func (s *Server) Run(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.api.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	s.relay()
	s.jobs.Start()

	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Info("server is shutting down")

		s.jobs.Stop()
		s.cancel()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		srv.SetKeepAlivesEnabled(false)
		if err := srv.Shutdown(ctx); err != nil {
			logger.Fatal("could not gracefully shutdown the server", zap.Error(err))
		}
		close(done)
	}()

	logger.Info("server is ready to handle requests",
		zap.String("addr", addr),
		zap.Int("nodes", len(s.cfg.Simulator.Nodes)))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("could not listen on %s: %w", addr, err)
	}

	<-done
	s.jobs.Wait()
	s.close()
	logger.Info("server stopped", zap.Duration("uptime", time.Since(s.started)))
	return nil
}

func (s *Server) close() {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			logger.Warn("failed to close mysql", zap.Error(err))
		}
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	if err := logger.Init(cfg.Logger); err != nil {
		logger.Fatal("failed to init logger", zap.Error(err))
	}
	defer logger.Sync()

	server, err := NewServer(cfg)
	if err != nil {
		logger.Fatal("failed to start", zap.Error(err))
	}

	if err := server.Run(fmt.Sprintf(":%d", cfg.Server.Port)); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
