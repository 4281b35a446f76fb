// Package storage selects the personalization store backend from configuration.
package storage

import (
	"context"
	"fmt"
	"strconv"

	"personalization-sync/internal/common/errors"
	"personalization-sync/internal/config"
	"personalization-sync/internal/personalization"
	"personalization-sync/internal/storage/memory"
	"personalization-sync/internal/storage/postgres"
	"personalization-sync/internal/storage/sqlite"
)

// New creates the store named by cfg.DatabaseType
func New(ctx context.Context, cfg *config.Config) (personalization.Store, error) {
	switch cfg.DatabaseType {
	case "sqlite":
		return sqlite.NewAdapter(&sqlite.Config{DatabasePath: cfg.DatabasePath})

	case "postgres", "postgresql":
		port, err := strconv.Atoi(cfg.PostgresPort)
		if err != nil {
			return nil, errors.ConfigurationError(fmt.Sprintf("invalid PostgreSQL port: %s", cfg.PostgresPort))
		}
		return postgres.NewAdapter(ctx, &postgres.Config{
			Host:     cfg.PostgresHost,
			Port:     port,
			Database: cfg.PostgresDB,
			Username: cfg.PostgresUser,
			Password: cfg.PostgresPassword,
			SSLMode:  cfg.PostgresSSLMode,
		})

	case "memory":
		return memory.NewStore(), nil

	default:
		return nil, errors.ConfigurationError(fmt.Sprintf("unsupported database type: %s", cfg.DatabaseType))
	}
}
