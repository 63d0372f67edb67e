// Package postgres provides the Postgres-backed device store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bilal060/devicesync-server/internal/devices"
	"github.com/bilal060/devicesync-server/internal/records"
)

type store struct {
	pool *pgxpool.Pool
}

var _ devices.Store = (*store)(nil)

// Option configures the store.
type Option func(*store)

// WithConnectionPool sets the database connection pool.
func WithConnectionPool(pool *pgxpool.Pool) Option {
	return func(s *store) {
		s.pool = pool
	}
}

// New creates a Postgres-backed device store. A connection pool is required.
func New(opts ...Option) (devices.Store, error) {
	s := &store{}
	for _, opt := range opts {
		opt(s)
	}
	if s.pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}
	return s, nil
}

// ApplyDelta implements devices.Store. GREATEST keeps the stamps monotonic
// when batches complete out of order.
func (s *store) ApplyDelta(ctx context.Context, deviceID string, dt records.DataType, newCount int, completedAt time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO devices (device_id, last_seen)
		VALUES ($1, $2)
		ON CONFLICT (device_id)
		DO UPDATE SET last_seen = GREATEST(devices.last_seen, EXCLUDED.last_seen)`,
		deviceID, completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert device: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO device_sync_stats (device_id, data_type, record_count, last_sync)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (device_id, data_type)
		DO UPDATE SET
			record_count = device_sync_stats.record_count + EXCLUDED.record_count,
			last_sync = GREATEST(device_sync_stats.last_sync, EXCLUDED.last_sync)`,
		deviceID, string(dt), newCount, completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert device stats: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit device delta: %w", err)
	}
	return nil
}

// Get implements devices.Store.
func (s *store) Get(ctx context.Context, deviceID string) (*devices.Device, error) {
	d := &devices.Device{
		DeviceID: deviceID,
		Stats:    make(map[records.DataType]int),
		LastSync: make(map[records.DataType]time.Time),
	}
	err := s.pool.QueryRow(ctx,
		`SELECT last_seen FROM devices WHERE device_id = $1`, deviceID,
	).Scan(&d.LastSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, devices.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	if err := s.loadStats(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// List implements devices.Store.
func (s *store) List(ctx context.Context) ([]*devices.Device, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT device_id, last_seen FROM devices ORDER BY last_seen DESC, device_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	out := make([]*devices.Device, 0)
	for rows.Next() {
		d := &devices.Device{
			Stats:    make(map[records.DataType]int),
			LastSync: make(map[records.DataType]time.Time),
		}
		if err := rows.Scan(&d.DeviceID, &d.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	for _, d := range out {
		if err := s.loadStats(ctx, d); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *store) loadStats(ctx context.Context, d *devices.Device) error {
	rows, err := s.pool.Query(ctx, `
		SELECT data_type, record_count, last_sync
		FROM device_sync_stats
		WHERE device_id = $1`, d.DeviceID,
	)
	if err != nil {
		return fmt.Errorf("failed to load device stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var dt records.DataType
		var count int
		var lastSync *time.Time
		if err := rows.Scan(&dt, &count, &lastSync); err != nil {
			return fmt.Errorf("failed to scan device stats: %w", err)
		}
		d.Stats[dt] = count
		if lastSync != nil {
			d.LastSync[dt] = *lastSync
		}
	}
	return rows.Err()
}
