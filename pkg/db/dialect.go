package db

import (
	"fmt"

	puresqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func Dialect(cfg Config) (gorm.Dialector, error) {
	switch cfg.Type {
	case "mysql":
		return mysql.Open(fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			cfg.User,
			cfg.Password,
			cfg.Host,
			cfg.Port,
			cfg.Name,
		)), nil
	case "postgres":
		return postgres.Open(fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			cfg.Host,
			cfg.User,
			cfg.Password,
			cfg.Name,
			cfg.Port,
			cfg.SSLMode,
		)), nil
	case "sqlite":
		return sqlite.Open(sqlitePath(cfg)), nil
	case "sqlite-pure":
		// cgo-free driver, used by tests and static builds
		return puresqlite.Open(sqlitePath(cfg)), nil
	default:
		return nil, fmt.Errorf("unsupported %s type", cfg.Type)
	}
}

func sqlitePath(cfg Config) string {
	if cfg.Path == "" {
		return "kitchenbill.db"
	}
	return cfg.Path
}
