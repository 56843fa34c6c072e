package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"teamboard-backend/internal/config"
	callHandler "teamboard-backend/internal/handler/http/call"
	pushHandler "teamboard-backend/internal/handler/http/push"
	wsHandler "teamboard-backend/internal/handler/ws"
	"teamboard-backend/internal/middleware"
	"teamboard-backend/internal/registry"
	"teamboard-backend/internal/repository/cockroach"
	redisRepo "teamboard-backend/internal/repository/redis"
	callService "teamboard-backend/internal/service/call"
	"teamboard-backend/internal/service/delivery"
	"teamboard-backend/pkg/database"
	"teamboard-backend/pkg/jwt"
	"teamboard-backend/pkg/logger"
	"teamboard-backend/pkg/push"
)

func main() {
	logger.InitDefault("call-service")
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jwtManager := jwt.NewJWTManager(cfg.JWTSecret, cfg.AccessTokenDuration)

	db := connectCockroach(ctx)
	defer db.Close()

	redisDB, err := database.NewRedisDBFromEnv()
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisDB.Close()

	chatRepo := cockroach.NewChatRepository(db.Pool)
	userRepo := cockroach.NewUserRepository(db.Pool)
	presenceRepo := redisRepo.NewPresenceRepository(redisDB.Client)
	pushTokenRepo := redisRepo.NewPushTokenRepository(redisDB.Client)

	pushProvider, err := push.NewProvider()
	if err != nil {
		logger.Fatal("Failed to initialize push provider", zap.Error(err))
	}
	if cfg.IsProduction() {
		if _, isMock := pushProvider.(*push.MockProvider); isMock {
			logger.Fatal("Mock push provider is not allowed in production")
		}
	}

	callRegistry := registry.NewMemoryRegistry()
	stopSweeper := callRegistry.StartSweeper(cfg.SweepInterval, cfg.CallIdleTimeout)
	defer stopSweeper()

	hub := wsHandler.NewSignalHub(redisDB.Client, presenceRepo)
	gateway := delivery.NewPushFallbackGateway(hub, presenceRepo, pushTokenRepo, userRepo, pushProvider)
	engine := callService.NewService(callRegistry, chatRepo, userRepo, gateway)
	hub.AttachEngine(engine)

	callHdlr := callHandler.NewHandler(engine, gateway)
	pushHdlr := pushHandler.NewHandler(pushTokenRepo)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.SetTrustedProxies(nil)

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.PrometheusMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "call-service",
			"time":    time.Now().UTC(),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	calls := router.Group("/v1/calls")
	calls.Use(middleware.AuthMiddleware(jwtManager))
	{
		calls.POST("/start", callHdlr.StartCall)
		calls.POST("/:id/offer", callHdlr.Offer)
		calls.POST("/:id/answer", callHdlr.Answer)
		calls.POST("/:id/candidate", callHdlr.Candidate)
		calls.POST("/:id/end", callHdlr.EndCall)
		calls.POST("/:id/invite", callHdlr.Invite)
		calls.POST("/:id/media", callHdlr.MediaStatus)

		calls.GET("/ws/signal", hub.ServeWS)
	}

	tokens := router.Group("/v1/push")
	tokens.Use(middleware.AuthMiddleware(jwtManager))
	{
		tokens.POST("/tokens", pushHdlr.RegisterToken)
		tokens.DELETE("/tokens/:token", pushHdlr.UnregisterToken)
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Call service starting",
			zap.String("port", cfg.Port),
			zap.String("env", cfg.Env),
			zap.Duration("call_idle_timeout", cfg.CallIdleTimeout))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}

// connectCockroach dials the cluster with exponential backoff; the service
// cannot resolve chat membership without it
func connectCockroach(ctx context.Context) *database.CockroachDB {
	const maxRetries = 5
	baseDelay := 1 * time.Second
	maxDelay := 30 * time.Second

	var db *database.CockroachDB
	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		db, err = database.NewCockroachDBFromEnv(ctx)
		if err == nil {
			logger.Info("Connected to CockroachDB", zap.Int("attempt", attempt))
			return db
		}

		delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt-1)))
		if delay > maxDelay {
			delay = maxDelay
		}
		logger.Warn(fmt.Sprintf("CockroachDB connection attempt %d failed", attempt),
			zap.Error(err),
			zap.Duration("retry_in", delay))

		select {
		case <-ctx.Done():
			logger.Fatal("Interrupted while connecting to CockroachDB")
		case <-time.After(delay):
		}
	}

	logger.Fatal("Failed to connect to CockroachDB", zap.Error(err))
	return nil
}
