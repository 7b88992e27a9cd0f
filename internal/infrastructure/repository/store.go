package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/procsight/baseline-monitor/internal/infrastructure/config"
)

// Store holds the connection pool shared by the persistence adapters. The
// detection and alerting core never touches this package; it is the external
// store collaborator that persists emitted records.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewStore connects a pgx pool from configuration.
func NewStore(ctx context.Context, cfg *config.DatabaseConfig, logger *zap.Logger) (*Store, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, fmt.Errorf("database config with url is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	logger.Info("database store initialized",
		zap.Int32("max_conns", poolConfig.MaxConns))

	return &Store{pool: pool, logger: logger}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Deviations returns the deviation persistence adapter.
func (s *Store) Deviations() *DeviationRepository {
	return &DeviationRepository{pool: s.pool, logger: s.logger}
}

// Alerts returns the alert persistence adapter.
func (s *Store) Alerts() *AlertRepository {
	return &AlertRepository{pool: s.pool, logger: s.logger}
}
