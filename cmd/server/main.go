package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/zaqqye/bustrack/internal/authz"
	"github.com/zaqqye/bustrack/internal/config"
	"github.com/zaqqye/bustrack/internal/database"
	"github.com/zaqqye/bustrack/internal/jobs"
	"github.com/zaqqye/bustrack/internal/logging"
	"github.com/zaqqye/bustrack/internal/middleware"
	"github.com/zaqqye/bustrack/internal/routes"
	"github.com/zaqqye/bustrack/internal/store"
	"github.com/zaqqye/bustrack/internal/tracking"
	"github.com/zaqqye/bustrack/internal/ws"
)

func main() {
	// Load .env (non-fatal if missing in production)
	_ = godotenv.Load()

	cfg := config.Load()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			log.Fatal().Err(err).Msg("config file")
		}
	}
	logging.Init(cfg.LogLevel, !cfg.IsProduction())
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("server exited with error")
	}
}

func run(cfg *config.Config) error {
	var (
		backend store.Backend
		db      *gorm.DB
	)
	switch cfg.StoreBackend {
	case "memory":
		log.Warn().Msg("using in-memory store; data is lost on restart")
		backend = store.NewMemory()
	default:
		var err error
		db, err = database.Connect(cfg)
		if err != nil {
			return err
		}
		if err := database.Migrate(db); err != nil {
			return err
		}
		if err := database.SeedAdmin(db, cfg); err != nil {
			return err
		}
		if cfg.SeedDemo {
			if err := database.SeedDemoFleet(db, cfg.AdminPassword); err != nil {
				return err
			}
		}
		backend = store.NewGormStore(db)
	}

	var locations store.LocationStore = backend
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		locations = store.NewCachedLocationStore(backend, store.NewRedisLatestCache(rdb, cfg.LatestCacheTTL))
		log.Info().Str("addr", cfg.RedisAddr).Msg("latest-location cache enabled")
	}

	hub := ws.NewHub()
	resolver := authz.NewResolver(backend)
	svc := tracking.NewService(locations, backend, resolver, hub, cfg.StoreTimeout)

	sweep := &jobs.StaleSweep{Dir: backend, Store: locations, After: cfg.StaleAfter, Timeout: cfg.StoreTimeout * 6}
	scheduler, err := sweep.Schedule(cfg.StaleSweepSpec)
	if err != nil {
		return err
	}
	scheduler.Start()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logging.GinLogger("/health", "/metrics"))
	r.Use(middleware.CORS(cfg.CORSOrigin))
	r.Use(middleware.SecurityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		dbHealthy := true
		if db != nil {
			if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
				dbHealthy = false
			}
		}
		redisHealthy := rdb == nil || rdb.Ping(ctx).Err() == nil
		status := http.StatusOK
		if !dbHealthy || !redisHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "db": dbHealthy, "redis": redisHealthy})
	})

	routes.Register(r, routes.Deps{
		Cfg:      cfg,
		Dir:      backend,
		Authz:    resolver,
		Tracking: svc,
		Hub:      hub,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("store", cfg.StoreBackend).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	// hijacked websocket connections are not tracked by Shutdown
	hub.Close()
	<-scheduler.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced shutdown")
	}
	if db != nil {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	log.Info().Msg("server exited")
	return nil
}
