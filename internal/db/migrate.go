package db

import (
	"collaborative-office-suite/internal/errors"
	"collaborative-office-suite/internal/store/pgstore"
	"collaborative-office-suite/internal/user"
	"context"
	defError "errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Migrate runs database migrations
func Migrate(db *gorm.DB, log *zap.Logger) error {
	err := db.AutoMigrate(
		&user.User{},
		&pgstore.DocumentRow{},
	)
	if err != nil {
		return err
	}

	log.Info("Database schema migrated successfully")
	return nil
}

const (
	seedEmail    = "test@example.com"
	seedPassword = "password123"
)

// SeedData creates a test account for development.
func SeedData(ctx context.Context, users user.Service, log *zap.Logger) {
	_, err := users.SignUp(ctx, seedEmail, seedPassword, "Test User")
	switch {
	case err == nil:
		log.Info("Created test user", zap.String("email", seedEmail))
	case defError.Is(err, errors.ErrValidationConflict):
		log.Info("Test user already exists", zap.String("email", seedEmail))
	default:
		log.Warn("Error creating test user", zap.Error(err))
	}
}
