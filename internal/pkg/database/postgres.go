package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Database keeps the history of sensors and devices, and the heating plans.
type Database struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Connect opens a pool on url and checks it answers.
func Connect(ctx context.Context, url string) (*Database, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return New(pool), nil
}

func New(pool *pgxpool.Pool) *Database {
	return &Database{
		pool:   pool,
		logger: zap.L(),
	}
}

func (db *Database) Close() error {
	if db.pool != nil {
		db.pool.Close()
	}
	return nil
}
