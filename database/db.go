package database

import (
	"fmt"

	"storefront/config"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Connect opens the Postgres connection. The handle is returned to the caller
// and injected into each component constructor rather than held as package
// state, so tests can substitute their own.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		cfg.PostgresHost, cfg.PostgresUser, cfg.PostgresPassword,
		cfg.PostgresDB, cfg.PostgresPort, cfg.PostgresSSLMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}
