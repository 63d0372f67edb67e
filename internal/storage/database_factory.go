package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bilal060/devicesync-server/internal/config"
	"github.com/bilal060/devicesync-server/internal/devices"
	devpg "github.com/bilal060/devicesync-server/internal/devices/postgres"
	"github.com/bilal060/devicesync-server/internal/queue"
	queuepg "github.com/bilal060/devicesync-server/internal/queue/postgres"
	"github.com/bilal060/devicesync-server/internal/records"
	recpg "github.com/bilal060/devicesync-server/internal/records/postgres"
)

// DatabaseFactory creates Postgres-backed storage components sharing one
// connection pool.
type DatabaseFactory struct {
	config *config.Config
	pool   *pgxpool.Pool
}

var _ Factory = (*DatabaseFactory)(nil)

// NewDatabaseFactory creates a new Postgres-backed storage factory. It
// establishes a connection pool to the configured database.
func NewDatabaseFactory(ctx context.Context, cfg *config.Config) (*DatabaseFactory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Database == nil {
		return nil, fmt.Errorf("database configuration is required for postgres storage type")
	}

	slog.Info("Creating database-backed storage factory")

	pool, err := buildDatabaseConnectionPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection pool: %w", err)
	}

	return &DatabaseFactory{
		config: cfg,
		pool:   pool,
	}, nil
}

// CreateQueueStore implements Factory.
func (d *DatabaseFactory) CreateQueueStore(_ context.Context) (queue.Store, error) {
	slog.Debug("Creating database-backed queue store")
	return queuepg.New(
		queuepg.WithConnectionPool(d.pool),
		queuepg.WithMaxAttempts(d.config.Queue.GetMaxAttempts()),
	)
}

// CreateRepositories implements Factory.
func (d *DatabaseFactory) CreateRepositories(_ context.Context) (map[records.DataType]records.Repository, error) {
	slog.Debug("Creating database-backed record repositories")
	return recpg.NewRepositories(d.pool)
}

// CreateDeviceStore implements Factory.
func (d *DatabaseFactory) CreateDeviceStore(_ context.Context) (devices.Store, error) {
	slog.Debug("Creating database-backed device store")
	return devpg.New(devpg.WithConnectionPool(d.pool))
}

// Cleanup implements Factory. Closes the connection pool and any active
// connections.
func (d *DatabaseFactory) Cleanup() {
	if d.pool != nil {
		slog.Info("Closing database connection pool")
		d.pool.Close()
	}
}

// buildDatabaseConnectionPool creates a connection pool from the configured
// connection string and pool bounds.
func buildDatabaseConnectionPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	connStr, err := cfg.Database.GetConnectionString()
	if err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database connection string: %w", err)
	}

	if cfg.Database.MaxOpenConns > 0 {
		poolConfig.MaxConns = cfg.Database.MaxOpenConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection pool: %w", err)
	}

	slog.Info("Database connection pool created successfully")
	return pool, nil
}
