package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	accountController "rechub/internal/account/controller"
	accountMW "rechub/internal/account/middleware"
	accountRepo "rechub/internal/account/repository"
	accountService "rechub/internal/account/service"
	"rechub/internal/common/cache"
	"rechub/internal/common/db"
	"rechub/internal/common/storage"
	compareController "rechub/internal/compare/controller"
	compareRepo "rechub/internal/compare/repository"
	compareService "rechub/internal/compare/service"
	"rechub/internal/liveness"
	livenessController "rechub/internal/liveness/controller"
	subController "rechub/internal/submission/controller"
	subRepo "rechub/internal/submission/repository"
	subService "rechub/internal/submission/service"
	"rechub/pkg/utils/logger"
)

const defaultConfigPath = "configs/score_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
	if err != nil {
		logger.Error(context.Background(), "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mysqlDB.Close()
	}()

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	var blobs storage.ObjectStorage
	blobs, err = storage.NewMinIOStorage(appCfg.MinIO)
	if err != nil {
		logger.Error(context.Background(), "init minio failed", zap.Error(err))
		return
	}
	if appCfg.Store.Compress {
		blobs, err = storage.NewZstdStorage(blobs)
		if err != nil {
			logger.Error(context.Background(), "init compressed storage failed", zap.Error(err))
			return
		}
	}

	tracker := liveness.NewTracker(appCfg.Store.LivenessWindow)

	dbProvider := db.NewManager(mysqlDB)

	users := accountRepo.NewUserRepository(dbProvider)
	submissions := subRepo.NewSubmissionRepository(dbProvider)
	runs := subRepo.NewRunRepository(dbProvider)
	comparisons := compareRepo.NewCompareRepository(dbProvider)

	authSvc := accountService.NewAuthService(users, redisCache, appCfg.Auth.JWTSecret, appCfg.Auth.TokenTTL)
	submissionSvc := subService.NewSubmissionService(submissions, runs, blobs, appCfg.Store.Bucket, tracker, redisCache)
	compareSvc := compareService.NewCompareService(comparisons)

	// Recompute name heuristics for rows stored before the current
	// rules, before any request is served.
	if err := submissionSvc.BackfillGuesses(context.Background()); err != nil {
		logger.Error(context.Background(), "backfill heuristics failed", zap.Error(err))
		return
	}

	httpServer := buildHTTPServer(appCfg.Server, authSvc, submissionSvc, compareSvc, tracker)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "score http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
}

func buildHTTPServer(
	cfg ServerConfig,
	authSvc *accountService.AuthService,
	submissionSvc *subService.SubmissionService,
	compareSvc *compareService.CompareService,
	tracker *liveness.Tracker,
) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(accountMW.TraceMiddleware())
	router.Use(requestLogger())

	authCtrl := accountController.NewAuthController(authSvc)
	submissionCtrl := subController.NewSubmissionController(submissionSvc)
	compareCtrl := compareController.NewCompareController(compareSvc)
	livenessCtrl := livenessController.NewLivenessController(tracker)

	api := router.Group("/api/v1")
	api.POST("/auth/token", authCtrl.Token)

	authed := api.Group("", accountMW.AuthMiddleware(authSvc))
	authed.GET("/pending/:os", submissionCtrl.Pending)

	authed.POST("/submissions", submissionCtrl.Upload)
	authed.GET("/submissions", submissionCtrl.List)
	authed.GET("/submissions/:id", submissionCtrl.Detail)
	authed.GET("/submissions/:id/download", submissionCtrl.Download)
	authed.GET("/submissions/:id/runs", submissionCtrl.ListRuns)
	authed.POST("/submissions/:id/runs", submissionCtrl.ReportRun)
	authed.GET("/runs", submissionCtrl.LatestRuns)

	authed.GET("/compare/:os1/:os2", compareCtrl.Differences)
	authed.GET("/compare/:os1/:os2/count", compareCtrl.DifferenceCount)
	authed.GET("/desyncs", compareCtrl.Desyncs)
	authed.GET("/leaderboard/:metric", compareCtrl.Leaderboard)

	authed.GET("/runners/live", livenessCtrl.Live)
	authed.GET("/runners", livenessCtrl.All)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
