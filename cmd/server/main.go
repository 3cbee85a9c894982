// Command server runs the chatgpt-pool-gateway: the bot pool scheduler and
// streaming session manager behind an OpenAI-compatible HTTP surface.
// Wiring order: config → logger → storage → services → gin router →
// graceful shutdown.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/eternisai/chatgpt-pool-gateway/internal/auth"
	"github.com/eternisai/chatgpt-pool-gateway/internal/binder"
	"github.com/eternisai/chatgpt-pool-gateway/internal/config"
	"github.com/eternisai/chatgpt-pool-gateway/internal/credential"
	"github.com/eternisai/chatgpt-pool-gateway/internal/lifecycle"
	"github.com/eternisai/chatgpt-pool-gateway/internal/logger"
	"github.com/eternisai/chatgpt-pool-gateway/internal/metrics"
	"github.com/eternisai/chatgpt-pool-gateway/internal/proxy"
	"github.com/eternisai/chatgpt-pool-gateway/internal/ratelimit"
	"github.com/eternisai/chatgpt-pool-gateway/internal/scheduler"
	"github.com/eternisai/chatgpt-pool-gateway/internal/storage/pg"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/rs/cors"
)

func main() {
	config.LoadConfig()
	cfg := config.AppConfig

	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))
	log.Info("starting chatgpt-pool-gateway")

	db, err := pg.InitDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to initialize database", "error", err.Error())
		os.Exit(1)
	}
	defer db.DB.Close()

	cipher, err := credential.NewCipher(cfg.AccountKey)
	if err != nil {
		log.Error("failed to initialize credential cipher", "error", err.Error())
		os.Exit(1)
	}
	credentialStore := credential.NewStore(db.Queries, cipher)

	redisOpts, err := redis.ParseURL(cfg.RedisURI)
	if err != nil {
		log.Error("failed to parse redis_uri", "error", err.Error())
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	limiter := ratelimit.New(redisClient, ratelimit.Config{
		WorkerPoolSize: cfg.RateLimiterWorkerPoolSize,
		BufferSize:     cfg.RateLimiterBufferSize,
	}, log)
	defer limiter.Shutdown()

	sched := scheduler.New(limiter, log)
	convoBinder := binder.New(db.Queries, log)

	tokenWorker := lifecycle.New(lifecycle.Config{
		HealthCheckInterval:  cfg.HealthCheckInterval,
		LoginLoopMinInterval: cfg.LoginLoopMinInterval,
		LoginLoopMaxInterval: cfg.LoginLoopMaxInterval,
		RefreshThreshold:     time.Duration(cfg.TokenRefreshWindowSeconds) * time.Second,
		LoginWindow:          time.Duration(cfg.LoginWindowSeconds) * time.Second,
		BaseURL:              cfg.ChatGPTBaseURL,
		CaptchaURL:           cfg.CaptchaURL,
	}, credentialStore, sched, log)

	seedAccounts(context.Background(), cfg.AccountsSeedFile, credentialStore, log)

	ctx, cancelWorkers := context.WithCancel(context.Background())
	tokenWorker.Run(ctx)
	defer func() {
		cancelWorkers()
		tokenWorker.Shutdown()
	}()

	handlers := &proxy.Handlers{
		Scheduler:       sched,
		Binder:          convoBinder,
		Lifecycle:       tokenWorker,
		Log:             log,
		WaitTimeout:     time.Duration(cfg.SchedulerWaitTimeoutSeconds) * time.Second,
		UpstreamTimeout: time.Duration(cfg.UpstreamTimeoutSeconds) * time.Second,
	}

	metricsRegistry := metrics.New(sched.PoolSize, limiter.Metrics)

	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestTimingMiddleware(log))
	router.GET("/metrics", gin.WrapH(metricsRegistry.Handler()))

	allowedOrigins := []string{"*"}
	if cfg.AllowedHosts != "" && cfg.AllowedHosts != "*" {
		origins := strings.Split(cfg.AllowedHosts, ",")
		for i, o := range origins {
			origins[i] = strings.TrimSpace(o)
		}
		allowedOrigins = origins
	}
	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedHeaders: []string{"Authorization", "Content-Type", "Accept"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
	})
	router.Use(func(c *gin.Context) {
		corsMiddleware.HandlerFunc(c.Writer, c.Request)
		c.Next()
	})

	apiKeyMiddleware := auth.NewAPIKeyMiddleware(cfg.AuthToken)
	handlers.Register(router, apiKeyMiddleware.RequireAPIKey())

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info("listening", "port", cfg.Port)
		if err := serve(srv, cfg); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err.Error())
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); errors.Is(err, http.ErrServerClosed) {
		log.Info("server exited")
	} else if err != nil {
		log.Error("server forced to shutdown", "error", err.Error())
	}
}

func serve(srv *http.Server, cfg *config.Config) error {
	if cfg.SSLCertFile != "" && cfg.SSLKeyFile != "" {
		return srv.ListenAndServeTLS(cfg.SSLCertFile, cfg.SSLKeyFile)
	}
	return srv.ListenAndServe()
}

// requestTimingMiddleware logs a latency line per request keyed by the
// trace_id header.
func requestTimingMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		traceID := c.GetHeader("trace_id")

		c.Next()

		log.Info("request completed",
			"trace_id", traceID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
		)
	}
}

// seedAccounts loads the optional YAML account bootstrap file and creates
// any account that isn't already in the credential store. Missing file or
// empty list is silent; a parse failure or store error is logged but does
// not abort startup — the gateway still serves any account added via
// /admin/add_bot.
func seedAccounts(ctx context.Context, path string, store *credential.Store, log *logger.Logger) {
	seeds, err := config.LoadAccountSeeds(path)
	if err != nil {
		log.Error("failed to load account seed file", "path", path, "error", err.Error())
		return
	}

	for _, seed := range seeds {
		if _, err := store.GetAccount(ctx, seed.Email); err == nil {
			continue
		} else if !errors.Is(err, sql.ErrNoRows) {
			log.Error("failed to check existing account during seeding", "email", seed.Email, "error", err.Error())
			continue
		}

		if _, err := store.CreateAccount(ctx, seed.Email, seed.Password); err != nil {
			log.Error("failed to seed account", "email", seed.Email, "error", err.Error())
			continue
		}
		log.Info("seeded account from bootstrap file", "email", seed.Email)
	}
}
