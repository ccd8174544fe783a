package migration

import (
	"strings"

	"github.com/smallbiznis/kitchenbill/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(Apply),
)

func Apply(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	log = log.Named("migration")
	if strings.EqualFold(strings.TrimSpace(cfg.DBType), "postgres") {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		if err := RunMigrations(sqlDB); err != nil {
			return err
		}
		log.Info("schema migrated", zap.String("driver", "postgres"))
		return nil
	}

	if err := AutoMigrate(conn); err != nil {
		return err
	}
	log.Info("schema migrated", zap.String("driver", cfg.DBType))
	return nil
}
