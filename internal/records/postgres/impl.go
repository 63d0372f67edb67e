// Package postgres provides the Postgres-backed record repositories. Each
// data type gets its own table; records are stored as JSONB keyed by the
// per-type dedup key.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bilal060/devicesync-server/internal/records"
)

// tables maps each data type to its backing table. Table names are fixed at
// compile time and never interpolated from user input.
var tables = map[records.DataType]string{
	records.DataTypeContacts:      "synced_contacts",
	records.DataTypeCallLogs:      "synced_call_logs",
	records.DataTypeMessages:      "synced_messages",
	records.DataTypeNotifications: "synced_notifications",
	records.DataTypeEmailAccounts: "synced_email_accounts",
}

// repo implements records.Repository for a single data type.
type repo struct {
	pool     *pgxpool.Pool
	dataType records.DataType
	table    string
}

var _ records.Repository = (*repo)(nil)

// Option configures a repository.
type Option func(*repo)

// WithConnectionPool sets the database connection pool.
func WithConnectionPool(pool *pgxpool.Pool) Option {
	return func(r *repo) {
		r.pool = pool
	}
}

// New creates a Postgres repository for one data type. A connection pool is
// required.
func New(dataType records.DataType, opts ...Option) (records.Repository, error) {
	table, ok := tables[dataType]
	if !ok {
		return nil, fmt.Errorf("data type %q is not supported", dataType)
	}

	r := &repo{
		dataType: dataType,
		table:    table,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}
	return r, nil
}

// NewRepositories creates one Postgres repository per supported data type,
// keyed for the reconciler dispatch table.
func NewRepositories(pool *pgxpool.Pool) (map[records.DataType]records.Repository, error) {
	repos := make(map[records.DataType]records.Repository, len(records.AllDataTypes()))
	for _, dt := range records.AllDataTypes() {
		r, err := New(dt, WithConnectionPool(pool))
		if err != nil {
			return nil, err
		}
		repos[dt] = r
	}
	return repos, nil
}

// UpsertByKey implements records.Repository. The xmax check distinguishes a
// fresh insert from a conflict update within a single round trip.
func (r *repo) UpsertByKey(ctx context.Context, deviceID string, rec records.Record) (records.UpsertResult, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return records.ResultCreated, fmt.Errorf("failed to encode record: %w", err)
	}

	var inserted bool
	err = r.pool.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %s (device_id, dedup_key, record, synced_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (device_id, dedup_key)
		DO UPDATE SET record = EXCLUDED.record, synced_at = now()
		RETURNING (xmax = 0)`, r.table),
		deviceID, rec.Key(), body,
	).Scan(&inserted)
	if err != nil {
		return records.ResultCreated, fmt.Errorf("failed to upsert record: %w", err)
	}

	if inserted {
		return records.ResultCreated, nil
	}
	return records.ResultUpdated, nil
}

// List implements records.Repository.
func (r *repo) List(ctx context.Context, deviceID string, page, limit int) ([]*records.Synced, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 100
	}

	var total int
	err := r.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT count(*) FROM %s WHERE device_id = $1`, r.table,
	), deviceID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count records: %w", err)
	}

	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT record, synced_at FROM %s
		WHERE device_id = $1
		ORDER BY synced_at DESC, dedup_key
		LIMIT $2 OFFSET $3`, r.table),
		deviceID, limit, (page-1)*limit,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	out := make([]*records.Synced, 0, limit)
	for rows.Next() {
		var synced records.Synced
		var body []byte
		if err := rows.Scan(&body, &synced.SyncedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan record: %w", err)
		}
		rec, err := records.Parse(r.dataType, body)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to decode stored record: %w", err)
		}
		synced.DeviceID = deviceID
		synced.Record = rec
		out = append(out, &synced)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to list records: %w", err)
	}
	return out, total, nil
}
