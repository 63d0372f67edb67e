// Package postgres provides the Postgres-backed queue Store. Claiming uses
// FOR UPDATE SKIP LOCKED so multiple dispatchers can share one queue without
// double-processing.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bilal060/devicesync-server/internal/queue"
)

const itemColumns = `id, device_id, data_type, payload, data_count, status,
	processed_count, failed_count, attempts, max_attempts, error_message,
	created_at, processing_started_at, processing_completed_at`

const summaryColumns = `id, device_id, data_type, data_count, status,
	processed_count, failed_count, attempts, max_attempts, error_message,
	created_at, processing_started_at, processing_completed_at`

type store struct {
	pool        *pgxpool.Pool
	maxAttempts int
}

var _ queue.Store = (*store)(nil)

// Option configures the store.
type Option func(*store)

// WithConnectionPool sets the database connection pool.
func WithConnectionPool(pool *pgxpool.Pool) Option {
	return func(s *store) {
		s.pool = pool
	}
}

// WithMaxAttempts sets the attempt bound stamped on enqueued items that do
// not carry one.
func WithMaxAttempts(n int) Option {
	return func(s *store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// New creates a Postgres-backed queue store. A connection pool is required.
func New(opts ...Option) (queue.Store, error) {
	s := &store{
		maxAttempts: queue.DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}
	return s, nil
}

// Enqueue implements queue.Store.
func (s *store) Enqueue(ctx context.Context, item *queue.Item) (string, error) {
	if item == nil {
		return "", fmt.Errorf("queue item is required")
	}
	if item.DeviceID == "" {
		return "", fmt.Errorf("queue item deviceId is required")
	}
	if !item.DataType.Valid() {
		return "", fmt.Errorf("queue item data type %q is not supported", item.DataType)
	}

	payload, err := json.Marshal(item.Payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}

	maxAttempts := item.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.maxAttempts
	}

	id := uuid.NewString()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO sync_queue (id, device_id, data_type, payload, data_count, status, max_attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())`,
		id, item.DeviceID, string(item.DataType), payload, len(item.Payload), string(queue.StatusPending), maxAttempts,
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue item: %w", err)
	}
	return id, nil
}

// ClaimNext implements queue.Store. The inner SELECT with SKIP LOCKED is the
// serialization point: concurrent callers lock disjoint rows.
func (s *store) ClaimNext(ctx context.Context) (*queue.Item, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE sync_queue
		SET status = $1, attempts = attempts + 1, processing_started_at = now()
		WHERE id = (
			SELECT id FROM sync_queue
			WHERE status = $2
			ORDER BY created_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+itemColumns,
		string(queue.StatusProcessing), string(queue.StatusPending),
	)
	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim queue item: %w", err)
	}
	return item, nil
}

// RecordProgress implements queue.Store.
func (s *store) RecordProgress(ctx context.Context, id string, processedDelta, failedDelta int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_queue
		SET processed_count = processed_count + $2, failed_count = failed_count + $3
		WHERE id = $1 AND status = $4`,
		id, processedDelta, failedDelta, string(queue.StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("failed to record progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.stateError(ctx, "record progress on", id)
	}
	return nil
}

// Finalize implements queue.Store.
func (s *store) Finalize(ctx context.Context, id string, status queue.Status, errorMessage string) error {
	if !status.Terminal() {
		return fmt.Errorf("finalize to non-terminal status %q: %w", status, queue.ErrInvalidState)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_queue
		SET status = $2, error_message = $3, processing_completed_at = now()
		WHERE id = $1 AND status = $4`,
		id, string(status), errorMessage, string(queue.StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("failed to finalize queue item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.stateError(ctx, "finalize", id)
	}
	return nil
}

// Requeue implements queue.Store.
func (s *store) Requeue(ctx context.Context, id string, errorMessage string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_queue
		SET status = $2, processed_count = 0, failed_count = 0,
		    error_message = $3, processing_started_at = NULL
		WHERE id = $1 AND status = $4`,
		id, string(queue.StatusPending), errorMessage, string(queue.StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("failed to requeue item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.stateError(ctx, "requeue", id)
	}
	return nil
}

// Retry implements queue.Store.
func (s *store) Retry(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_queue
		SET status = $2, attempts = 0, processed_count = 0, failed_count = 0,
		    error_message = '', processing_started_at = NULL, processing_completed_at = NULL
		WHERE id = $1 AND status = $3`,
		id, string(queue.StatusPending), string(queue.StatusFailed),
	)
	if err != nil {
		return fmt.Errorf("failed to retry item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.stateError(ctx, "retry", id)
	}
	return nil
}

// Delete implements queue.Store.
func (s *store) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM sync_queue
		WHERE id = $1 AND status NOT IN ($2, $3)`,
		id, string(queue.StatusProcessing), string(queue.StatusCompleted),
	)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.stateError(ctx, "delete", id)
	}
	return nil
}

// DeleteFailed implements queue.Store.
func (s *store) DeleteFailed(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM sync_queue WHERE status = $1`, string(queue.StatusFailed),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete failed items: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Get implements queue.Store.
func (s *store) Get(ctx context.Context, id string) (*queue.Item, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM sync_queue WHERE id = $1`, id,
	)
	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, queue.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue item: %w", err)
	}
	return item, nil
}

// List implements queue.Store.
func (s *store) List(ctx context.Context, opts queue.ListOptions) (*queue.ListResult, error) {
	opts.Normalize()

	where, args := listFilter(opts)

	var total int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM sync_queue`+where, args...).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("failed to count queue items: %w", err)
	}

	limitArgs := append(args, opts.Limit, (opts.Page-1)*opts.Limit)
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM sync_queue%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		summaryColumns, where, len(args)+1, len(args)+2,
	), limitArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue items: %w", err)
	}
	defer rows.Close()

	summaries := make([]*queue.Summary, 0, opts.Limit)
	for rows.Next() {
		var item queue.Item
		err := rows.Scan(
			&item.ID, &item.DeviceID, &item.DataType, &item.DataCount, &item.Status,
			&item.ProcessedCount, &item.FailedCount, &item.Attempts, &item.MaxAttempts,
			&item.ErrorMessage, &item.CreatedAt, &item.ProcessingStartedAt, &item.ProcessingCompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		summaries = append(summaries, item.Summarize())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list queue items: %w", err)
	}

	return &queue.ListResult{
		Items:      summaries,
		Total:      total,
		Page:       opts.Page,
		Limit:      opts.Limit,
		TotalPages: (total + opts.Limit - 1) / opts.Limit,
	}, nil
}

// Stats implements queue.Store.
func (s *store) Stats(ctx context.Context) (*queue.Stats, error) {
	byStatus, err := s.groupStats(ctx, "status")
	if err != nil {
		return nil, err
	}
	byDevice, err := s.groupStats(ctx, "device_id")
	if err != nil {
		return nil, err
	}
	byType, err := s.groupStats(ctx, "data_type")
	if err != nil {
		return nil, err
	}

	summary := make(map[queue.Status]int, len(byStatus))
	for _, g := range byStatus {
		summary[queue.Status(g.Key)] = g.TotalItems
	}

	return &queue.Stats{
		Summary:    summary,
		ByStatus:   byStatus,
		ByDevice:   byDevice,
		ByDataType: byType,
	}, nil
}

// groupStats aggregates queue counters grouped by one of the sync_queue
// grouping columns. column is never user input.
func (s *store) groupStats(ctx context.Context, column string) ([]queue.GroupStats, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s, count(*), coalesce(sum(data_count), 0),
		       coalesce(sum(processed_count), 0), coalesce(sum(failed_count), 0)
		FROM sync_queue
		GROUP BY %s
		ORDER BY count(*) DESC, %s`, column, column, column))
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate queue stats by %s: %w", column, err)
	}
	defer rows.Close()

	groups := make([]queue.GroupStats, 0)
	for rows.Next() {
		var g queue.GroupStats
		if err := rows.Scan(&g.Key, &g.TotalItems, &g.TotalData, &g.TotalProcessed, &g.TotalFailed); err != nil {
			return nil, fmt.Errorf("failed to scan queue stats: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to aggregate queue stats by %s: %w", column, err)
	}
	return groups, nil
}

// stateError explains why a guarded UPDATE or DELETE matched no row: either
// the item does not exist or its current status forbids the operation.
func (s *store) stateError(ctx context.Context, op, id string) error {
	var status queue.Status
	err := s.pool.QueryRow(ctx, `SELECT status FROM sync_queue WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return queue.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to inspect queue item state: %w", err)
	}
	return fmt.Errorf("%s %s item: %w", op, status, queue.ErrInvalidState)
}

func listFilter(opts queue.ListOptions) (string, []any) {
	clauses := make([]string, 0, 3)
	args := make([]any, 0, 3)
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if opts.DeviceID != "" {
		args = append(args, opts.DeviceID)
		clauses = append(clauses, fmt.Sprintf("device_id = $%d", len(args)))
	}
	if opts.DataType != "" {
		args = append(args, string(opts.DataType))
		clauses = append(clauses, fmt.Sprintf("data_type = $%d", len(args)))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanItem(row pgx.Row) (*queue.Item, error) {
	var item queue.Item
	var payload []byte
	err := row.Scan(
		&item.ID, &item.DeviceID, &item.DataType, &payload, &item.DataCount, &item.Status,
		&item.ProcessedCount, &item.FailedCount, &item.Attempts, &item.MaxAttempts,
		&item.ErrorMessage, &item.CreatedAt, &item.ProcessingStartedAt, &item.ProcessingCompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &item.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode payload: %w", err)
		}
	}
	return &item, nil
}
