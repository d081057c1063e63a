package db

import (
	"collaborative-office-suite/internal/config"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DSN builds the postgres connection string. The LISTEN/NOTIFY broker
// opens its own connection with it.
func DSN(cfg config.Config) string {
	return fmt.Sprintf("host=%v user=%v password=%v dbname=%v port=%v sslmode=disable",
		cfg.DBHost,
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBName,
		cfg.DBPort,
	)
}

func logLevel(environment string) logger.LogLevel {
	if environment == "production" {
		return logger.Error
	}
	return logger.Info
}

// Connect opens the database with gorm's SQL log routed through zap.
func Connect(cfg config.Config, log *zap.Logger) (*gorm.DB, error) {
	gormLogger := logger.New(
		zap.NewStdLog(log.With(zap.String("component", "gorm"))),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logLevel(cfg.Environment),
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(postgres.Open(DSN(cfg)), &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("error connecting to db: %w", err)
	}

	log.Info("Success connecting to db", zap.String("host", cfg.DBHost), zap.String("name", cfg.DBName))
	return db, nil
}

func Close(db *gorm.DB, log *zap.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Error("failed to close db", zap.Error(err))
		return
	}
	log.Info("Closing DB")
}
