package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"catalog-api/internal/core/server"
	mdw "catalog-api/internal/transport/http/middleware"
)

// Limits 是两个 engine 共用的流量护栏
type Limits struct {
	RPS            rate.Limit
	Burst          int
	PerIPRPS       rate.Limit
	PerIPBurst     int
	MaxConcurrent  int64
	MaxBodyBytes   int64
	RequestTimeout time.Duration
}

func DefaultLimits() Limits {
	return Limits{
		RPS:            200,
		Burst:          400,
		PerIPRPS:       20,
		PerIPBurst:     40,
		MaxConcurrent:  300,
		MaxBodyBytes:   16 << 20,
		RequestTimeout: 10 * time.Second,
	}
}

type EngineOptions struct {
	Mode        string
	CORSOrigins []string
	Limits      Limits
}

func newEngine(l *zap.Logger, name string, opt EngineOptions) *gin.Engine {
	lim := opt.Limits
	r := server.NewRouter(l, server.Options{
		Name:        name,
		Mode:        opt.Mode,
		CORSOrigins: opt.CORSOrigins,
		Recovery:    mdw.RecoveryHandler,
	})

	// 中间件
	r.Use(
		mdw.RequestID(),
		mdw.RateLimit(lim.RPS, lim.Burst),
		mdw.RateLimitPerIP(lim.PerIPRPS, lim.PerIPBurst, 10*time.Minute),
		mdw.ConcurrencyLimit(lim.MaxConcurrent),
		mdw.MaxBodyBytes(lim.MaxBodyBytes),
		mdw.Timeout(lim.RequestTimeout),
		mdw.Metrics(name),
		mdw.AccessLog(l, "/health", "/metrics"),
	)

	// 健康检查 + 指标
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": 1}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// NewAPIEngine 用户端：/api/v1，鉴权按路由在 handler 内挂
func NewAPIEngine(l *zap.Logger, reg *Registry, opt EngineOptions) *gin.Engine {
	r := newEngine(l, "api", opt)

	// 前缀
	api := r.Group("/api/v1")
	reg.MountAPI(api)
	return r
}
