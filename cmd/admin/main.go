package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"catalog-api/internal/app"
	"catalog-api/internal/core/config"
	"catalog-api/internal/core/logger"
	"catalog-api/internal/core/server"
	"catalog-api/internal/transport/http/router"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, cleanup := logger.New(cfg.Log)
	defer cleanup()

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	a, err := app.Build(startCtx, cfg, log)
	if err != nil {
		cancelStart()
		log.Fatal("bootstrap failed", zap.Error(err))
	}
	defer a.Close()

	// 配置里的邮箱提升为 admin，首次部署用
	if n, err := a.Users.PromoteBootstrapAdmins(startCtx, cfg.Auth.BootstrapAdmins); err != nil {
		log.Error("promote bootstrap admins", zap.Error(err))
	} else if n > 0 {
		log.Info("bootstrap admins promoted", zap.Int("count", n))
	}
	cancelStart()

	// 路由（后台端）：分组统一 登录 + admin
	r := router.NewAdminEngine(log, a.AdminRegistry(), a.EngineOptions(), a.Guards.User, a.Guards.Admin)

	// HTTP Server
	addr := server.Addr(cfg.App.Admin.Host, cfg.App.Admin.Port)
	srv := server.BuildServer(addr, r, 5*time.Second, 10*time.Second, 60*time.Second)

	// 启动前打印可点击地址
	host4human := cfg.App.Admin.Host
	if host4human == "" || host4human == "0.0.0.0" {
		host4human = "127.0.0.1"
	}
	baseURL := "http://" + host4human + ":" + fmt.Sprint(cfg.App.Admin.Port)
	log.Info("admin api starting",
		zap.String("addr", addr),
		zap.String("health", baseURL+"/health"),
		zap.String("admin_v1", baseURL+"/admin/v1"),
	)

	// 异步启动；失败立即退出
	errCh := make(chan error, 1)
	go func() {
		if err := server.StartHTTP(srv, log); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		log.Error("admin api start FAILED", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("shutdown", zap.Error(err))
	}
	log.Info("admin api stopped gracefully")
}
