package migration

import (
	"github.com/smallbiznis/cashback/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if !cfg.DBAutoMigrate {
			log.Info("migrations skipped", zap.Bool("auto_migrate", false))
			return nil
		}
		if cfg.DBType != "postgres" {
			log.Warn("migrations skipped for non-postgres database", zap.String("db_type", cfg.DBType))
			return nil
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		_, err = Up(sqlDB, log)
		return err
	}),
)
