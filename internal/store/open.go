package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/surveyfill/internal/config"
)

// Open selects a backend from configuration: PostgreSQL when a database URL is set, otherwise
// files under the data directory, otherwise memory. The returned func releases the backend.
func Open(ctx context.Context, cfg config.Interface, logger *zap.Logger) (KV, func(), error) {
	db := cfg.Database()
	if db.URL != "" {
		pool, err := pgxpool.New(ctx, db.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
		}
		kv, err := NewPostgresKV(ctx, pool, db.Table, logger)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("Using PostgreSQL store", zap.String("table", db.Table))
		return kv, pool.Close, nil
	}

	if dir := cfg.Storage().DataDir; dir != "" {
		kv, err := NewFileKV(dir)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Using file store", zap.String("dir", dir))
		return kv, func() {}, nil
	}

	logger.Warn("No database or data directory configured, state will not survive a restart")
	return NewMemoryKV(), func() {}, nil
}
