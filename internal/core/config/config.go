package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type HTTP struct {
	Host            string
	Port            int
	ReadTimeoutSec  int
	WriteTimeoutSec int
	IdleTimeoutSec  int
}
type AdminHTTP struct {
	Host string
	Port int
}

type App struct {
	Name        string
	Env         string
	Mode        string // gin 模式：debug / release / test
	CORSOrigins []string
	HTTP        HTTP
	Admin       AdminHTTP
}

type Rotate struct {
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

type Log struct {
	Level  string
	JSON   bool
	Rotate Rotate // Filename 为空则不写文件
}

type JWT struct {
	Secret            string
	Issuer            string
	AccessTokenTTLMin int
}

func (j JWT) TTL() time.Duration { return time.Duration(j.AccessTokenTTLMin) * time.Minute }

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type DB struct {
	Driver             string
	DSN                string
	Username           string
	Password           string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetimeMin int
	AutoMigrate        bool
	LogLevel           string
}

type Catalog struct {
	FallbackCategoryID   string
	FallbackCategoryName string
	StoreTimeoutSec      int
	MaxPageSize          int
}

func (c Catalog) StoreTimeout() time.Duration { return time.Duration(c.StoreTimeoutSec) * time.Second }

type Auth struct {
	MaxSigninAttempts int
	SigninWindowMin   int
	BootstrapAdmins   []string
}

func (a Auth) SigninWindow() time.Duration { return time.Duration(a.SigninWindowMin) * time.Minute }

// Storage S3 兼容的图片桶；Bucket 为空则不挂图片路由
type Storage struct {
	Bucket        string
	Region        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	PublicBaseURL string
	Prefix        string
}

// Events 目录事件的 NATS 出口；URL 为空则不发布
type Events struct {
	URL           string
	SubjectPrefix string
}

type Config struct {
	App     App
	Log     Log
	JWT     JWT
	DB      DB
	Redis   Redis `mapstructure:"redis"`
	Catalog Catalog
	Auth    Auth
	Storage Storage
	Events  Events
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "catalog-api")
	v.SetDefault("app.env", "local")
	v.SetDefault("app.mode", "release")
	v.SetDefault("app.http.port", 8080)
	v.SetDefault("app.http.readTimeoutSec", 5)
	v.SetDefault("app.http.writeTimeoutSec", 10)
	v.SetDefault("app.http.idleTimeoutSec", 60)
	v.SetDefault("app.admin.port", 8081)
	v.SetDefault("log.level", "info")
	v.SetDefault("jwt.issuer", "catalog-api")
	v.SetDefault("jwt.accessTokenTTLMin", 60)
	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.maxOpenConns", 20)
	v.SetDefault("db.maxIdleConns", 10)
	v.SetDefault("db.connMaxLifetimeMin", 30)
	v.SetDefault("catalog.fallbackCategoryId", "uncategorized")
	v.SetDefault("catalog.fallbackCategoryName", "Uncategorized")
	v.SetDefault("catalog.storeTimeoutSec", 5)
	v.SetDefault("catalog.maxPageSize", 100)
	v.SetDefault("auth.maxSigninAttempts", 5)
	v.SetDefault("auth.signinWindowMin", 15)
	v.SetDefault("events.subjectPrefix", "catalog")
}

// Load 读取 path（或 CONFIG_PATH）指向的 YAML，再用 APP_* 环境变量覆盖
// 文件不存在时只用环境变量
func Load(path string) (*Config, error) {
	v := viper.New()
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
		if path == "" {
			path = "./configs/config.local.yaml"
		}
	}
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv 只认 viper 已知的 key，这里补绑
	for _, k := range []string{"jwt.secret", "db.dsn", "db.username", "db.password", "redis.addr",
		"redis.password", "storage.bucket", "storage.region", "storage.endpoint", "storage.accessKey",
		"storage.secretKey", "storage.publicBaseURL", "events.url"} {
		_ = v.BindEnv(k)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.JWT.Secret) == "" {
		errs = append(errs, errors.New("jwt.secret is required (APP_JWT_SECRET)"))
	}
	if c.JWT.AccessTokenTTLMin <= 0 {
		errs = append(errs, errors.New("jwt.accessTokenTTLMin must be positive"))
	}
	switch c.DB.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("db.driver %q is not supported", c.DB.Driver))
	}
	if strings.TrimSpace(c.Catalog.FallbackCategoryID) == "" {
		errs = append(errs, errors.New("catalog.fallbackCategoryId is required"))
	}
	if c.Catalog.MaxPageSize <= 0 {
		errs = append(errs, errors.New("catalog.maxPageSize must be positive"))
	}
	if c.Auth.MaxSigninAttempts <= 0 {
		errs = append(errs, errors.New("auth.maxSigninAttempts must be positive"))
	}
	if c.Auth.SigninWindowMin <= 0 {
		errs = append(errs, errors.New("auth.signinWindowMin must be positive"))
	}
	return errors.Join(errs...)
}
