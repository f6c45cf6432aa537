// Package app 组装 api 与 admin 两个进程共用的依赖
package app

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"catalog-api/internal/core/auth"
	"catalog-api/internal/core/cache"
	"catalog-api/internal/core/config"
	"catalog-api/internal/core/database"
	"catalog-api/internal/core/events"
	"catalog-api/internal/core/storage"
	"catalog-api/internal/repo"
	"catalog-api/internal/service"
	"catalog-api/internal/transport/http/handler"
	"catalog-api/internal/transport/http/router"
)

type App struct {
	Cfg     *config.Config
	Log     *zap.Logger
	DB      *gorm.DB
	Auth    *service.AuthService
	Catalog *service.CatalogService
	Users   *service.UserService
	Gate    *service.Gate
	Guards  handler.Guards
	Images  handler.ImageStore // 未配置存储时为 nil

	closers []func()
}

// Build 按 cfg 打开各后端服务；Redis/NATS/S3 可选，数据库必需
func Build(ctx context.Context, cfg *config.Config, l *zap.Logger) (*App, error) {
	a := &App{Cfg: cfg, Log: l}

	db, err := database.NewGorm(database.Opts{
		Driver:             cfg.DB.Driver,
		DSN:                cfg.DB.DSN,
		Username:           cfg.DB.Username,
		Password:           cfg.DB.Password,
		MaxOpenConns:       cfg.DB.MaxOpenConns,
		MaxIdleConns:       cfg.DB.MaxIdleConns,
		ConnMaxLifetimeMin: cfg.DB.ConnMaxLifetimeMin,
		LogLevel:           cfg.DB.LogLevel,
	}, l)
	if err != nil {
		return nil, err
	}
	a.DB = db
	l.Info("database connected", zap.String("driver", cfg.DB.Driver))
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, func() { _ = sqlDB.Close() })
	}

	if cfg.DB.AutoMigrate {
		if err := database.AutoMigrate(db); err != nil {
			a.Close()
			return nil, err
		}
		l.Info("automigrate done")
	}

	jwter := &auth.JWTer{Secret: []byte(cfg.JWT.Secret), Issuer: cfg.JWT.Issuer, TTL: cfg.JWT.TTL()}
	users := repo.NewUserRepo(db)

	deps := service.AuthServiceDeps{Users: users, Tokens: jwter, Logger: l.Named("auth")}
	if cfg.Redis.Addr != "" {
		rdb := cache.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err := cache.Ping(ctx, rdb); err != nil {
			// 限流器不可用时放行，不阻塞登录
			l.Warn("redis unavailable, signin limiter disabled", zap.Error(err))
			_ = rdb.Close()
		} else {
			deps.Limiter = cache.NewAttemptLimiter(rdb, cfg.Auth.MaxSigninAttempts, cfg.Auth.SigninWindow())
			a.closers = append(a.closers, func() { _ = rdb.Close() })
		}
	}
	if a.Auth, err = service.NewAuthService(deps); err != nil {
		a.Close()
		return nil, err
	}
	a.Gate = service.NewGate(a.Auth)
	a.Guards = handler.NewGuards(a.Gate)

	catDeps := service.CatalogServiceDeps{
		Store:                repo.NewCatalogRepo(db),
		Logger:               l.Named("catalog"),
		FallbackCategoryID:   cfg.Catalog.FallbackCategoryID,
		FallbackCategoryName: cfg.Catalog.FallbackCategoryName,
		StoreTimeout:         cfg.Catalog.StoreTimeout(),
		MaxPageSize:          cfg.Catalog.MaxPageSize,
	}
	if cfg.Events.URL != "" {
		nc, err := events.Connect(cfg.Events.URL, l.Named("nats"))
		if err != nil {
			l.Warn("nats unavailable, catalog events disabled", zap.Error(err))
		} else {
			catDeps.Events = events.NewNATSPublisher(nc, cfg.Events.SubjectPrefix)
			a.closers = append(a.closers, func() { _ = nc.Drain() })
		}
	}
	if a.Catalog, err = service.NewCatalogService(catDeps); err != nil {
		a.Close()
		return nil, err
	}
	if _, err := a.Catalog.EnsureFallbackCategory(ctx); err != nil {
		a.Close()
		return nil, err
	}

	if a.Users, err = service.NewUserService(users, l.Named("users")); err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Storage.Bucket != "" {
		s3, err := storage.NewS3ImageStore(ctx, cfg.Storage)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Images = s3
	}
	return a, nil
}

// APIRegistry 用户端 handler；配置了桶才挂图片路由
func (a *App) APIRegistry() *router.Registry {
	reg := router.NewRegistry(
		handler.NewAuthHandler(a.Auth, a.Guards, a.Log),
		handler.NewProductHandler(a.Catalog, a.Guards, a.Log),
		handler.NewCategoryHandler(a.Catalog, a.Guards, a.Log),
	)
	if a.Images != nil {
		reg.Register(handler.NewImageHandler(a.Images, a.Guards, a.Log))
	}
	return reg
}

func (a *App) AdminRegistry() *router.Registry {
	return router.NewRegistry(handler.NewAdminHandler(a.Users, a.Catalog, a.Log))
}

func (a *App) EngineOptions() router.EngineOptions {
	return router.EngineOptions{
		Mode:        a.Cfg.App.Mode,
		CORSOrigins: a.Cfg.App.CORSOrigins,
		Limits:      router.DefaultLimits(),
	}
}

// Close 按获取的逆序释放资源
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
