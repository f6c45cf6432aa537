package database

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"catalog-api/internal/feature/catalog"
	"catalog-api/internal/feature/user"
)

var ErrUnsupportedDriver = errors.New("database: unsupported driver")

type Opts struct {
	Driver             string
	DSN                string
	Username           string
	Password           string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetimeMin int
	LogLevel           string
}

func NewGorm(o Opts, l *zap.Logger) (*gorm.DB, error) {
	var dial gorm.Dialector
	switch o.Driver {
	case "postgres":
		dial = postgres.Open(o.DSN)
	case "mysql":
		dsn := mysqlDSN(o.DSN, o.Username, o.Password)
		l.Info("mysql dsn", zap.String("dsn", maskDSN(dsn)))
		dial = mysql.Open(dsn)
	case "sqlite":
		dial = sqlite.Open(o.DSN)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, o.Driver)
	}

	lvl := logger.Warn
	switch o.LogLevel {
	case "silent":
		lvl = logger.Silent
	case "error":
		lvl = logger.Error
	case "info":
		lvl = logger.Info
	}
	db, err := gorm.Open(dial, &gorm.Config{
		Logger: logger.Default.LogMode(lvl),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if o.Driver == "sqlite" {
		// 单连接：":memory:" 库共享同一份数据，写入串行
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(o.MaxOpenConns)
		sqlDB.SetMaxIdleConns(o.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(time.Duration(o.ConnMaxLifetimeMin) * time.Minute)
	}
	db = db.Session(&gorm.Session{
		PrepareStmt:            o.Driver != "sqlite",
		CreateBatchSize:        200,
		SkipDefaultTransaction: true, // 目录写操作自己开 Tx
	})
	return db, nil
}

// AutoMigrate 建用户、分类、商品与成员关系表
func AutoMigrate(db *gorm.DB) error {
	models := append([]any{&user.UserModel{}}, catalog.Models()...)
	if err := db.AutoMigrate(models...); err != nil {
		return err
	}
	if err := backfillFold(db, &catalog.ProductModel{}); err != nil {
		return fmt.Errorf("backfill products.name_fold: %w", err)
	}
	if err := backfillFold(db, &user.UserModel{}); err != nil {
		return fmt.Errorf("backfill users.name_fold: %w", err)
	}
	return nil
}

// backfillFold 为加列之前写入的行补 name_fold
// 已更新的行不再命中条件，每批都会推进
func backfillFold(db *gorm.DB, model any) error {
	type row struct {
		ID   string
		Name string
	}
	for {
		var rows []row
		err := db.Model(model).Select("id", "name").
			Where("name_fold = '' AND name <> ''").
			Limit(500).Find(&rows).Error
		if err != nil || len(rows) == 0 {
			return err
		}
		for _, r := range rows {
			if err := db.Model(model).Where("id = ?", r.ID).UpdateColumn("name_fold", strings.ToLower(r.Name)).Error; err != nil {
				return err
			}
		}
	}
}

// mysqlDSN mysql:// URL 转 go-sql-driver 格式，其它原样返回
func mysqlDSN(input, userOverride, passOverride string) string {
	in := strings.TrimPrefix(strings.TrimSpace(input), "jdbc:")
	if !strings.HasPrefix(in, "mysql://") {
		return in
	}
	u, err := url.Parse(in)
	if err != nil {
		return in
	}
	var usr, pass string
	if u.User != nil {
		usr = u.User.Username()
		pass, _ = u.User.Password()
	}
	if userOverride != "" {
		usr = userOverride
	}
	if passOverride != "" {
		pass = passOverride
	}
	q := u.Query()
	if q.Get("parseTime") == "" {
		q.Set("parseTime", "true")
	}
	if q.Get("charset") == "" {
		q.Set("charset", "utf8mb4")
	}

	cred := usr
	if pass != "" {
		cred += ":" + pass
	}
	if cred != "" {
		cred += "@"
	}
	return fmt.Sprintf("%stcp(%s)/%s?%s", cred, u.Host, strings.TrimPrefix(u.Path, "/"), q.Encode())
}

func maskDSN(dsn string) string {
	at := strings.Index(dsn, "@")
	if at <= 0 {
		return dsn
	}
	if colon := strings.Index(dsn[:at], ":"); colon > 0 {
		return dsn[:colon+1] + "****" + dsn[at:]
	}
	return dsn
}
