package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"rechub/internal/runner"
	"rechub/internal/runner/client"
	"rechub/internal/runner/verify"
	"rechub/pkg/utils/logger"
)

func main() {
	if err := logger.Init(logger.Config{Level: "info", Format: "console"}); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx := context.Background()

	cfg, err := loadRunnerConfig()
	if err != nil {
		logger.Fatal(ctx, "runner configuration invalid", zap.Error(err))
	}

	invoker, err := verify.NewInvoker(cfg.OS, cfg.RecverifyPath, cfg.GamePath, cfg.Timeout)
	if err != nil {
		logger.Fatal(ctx, "init invoker failed", zap.Error(err))
	}

	api := client.New(cfg.Server, nil)
	if err := api.Login(ctx, cfg.Username, cfg.Password); err != nil {
		logger.Fatal(ctx, "authentication failed", zap.Error(err))
	}
	logger.Info(ctx, "runner authenticated",
		zap.String("server", cfg.Server),
		zap.String("username", cfg.Username),
		zap.String("os", cfg.OS))

	loop := runner.NewLoop(api, invoker, cfg.OS, cfg.WorkDir)

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := loop.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(ctx, "runner loop stopped", zap.Error(err))
		return
	}
	logger.Info(ctx, "runner stopped")
}
