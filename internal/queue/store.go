package queue

import (
	"context"

	"github.com/bilal060/devicesync-server/internal/records"
)

// Default pagination bounds for List.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ListOptions filters and paginates queue item listings. Zero values mean
// "no filter"; Page and Limit are normalized by the store.
type ListOptions struct {
	Status   Status
	DeviceID string
	DataType records.DataType
	Page     int
	Limit    int
}

// Normalize clamps pagination to sane bounds.
func (o *ListOptions) Normalize() {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.Limit < 1 {
		o.Limit = DefaultPageSize
	}
	if o.Limit > MaxPageSize {
		o.Limit = MaxPageSize
	}
}

// ListResult is one page of queue item summaries.
type ListResult struct {
	Items      []*Summary `json:"queueItems"`
	Total      int        `json:"total"`
	Page       int        `json:"page"`
	Limit      int        `json:"limit"`
	TotalPages int        `json:"totalPages"`
}

// GroupStats aggregates queue counters for one grouping key (a device id, a
// data type, or a status).
type GroupStats struct {
	Key            string `json:"key"`
	TotalItems     int    `json:"totalItems"`
	TotalData      int    `json:"totalDataCount"`
	TotalProcessed int    `json:"totalProcessedCount"`
	TotalFailed    int    `json:"totalFailedCount"`
}

// Stats is the aggregate queue breakdown by status, device and data type.
type Stats struct {
	Summary    map[Status]int `json:"summary"`
	ByStatus   []GroupStats   `json:"statusBreakdown"`
	ByDevice   []GroupStats   `json:"deviceStats"`
	ByDataType []GroupStats   `json:"dataTypeStats"`
}

// Store is the durable queue of sync batches. Every operation is atomic at
// item granularity; ClaimNext is the sole serialization point between
// concurrent dispatchers.
type Store interface {
	// Enqueue persists a new pending item and returns its id. The store
	// assigns ID, CreatedAt and Status and derives DataCount from the
	// payload length.
	Enqueue(ctx context.Context, item *Item) (string, error)

	// ClaimNext atomically selects the oldest pending item, transitions it
	// to processing, increments its attempt counter and stamps
	// processingStartedAt. Two concurrent callers never claim the same
	// item. Returns (nil, nil) when no item is pending.
	ClaimNext(ctx context.Context) (*Item, error)

	// RecordProgress adds to the processed/failed counters of a processing
	// item.
	RecordProgress(ctx context.Context, id string, processedDelta, failedDelta int) error

	// Finalize moves a processing item to a terminal status and stamps
	// processingCompletedAt. errorMessage is stored verbatim and may be
	// empty.
	Finalize(ctx context.Context, id string, status Status, errorMessage string) error

	// Requeue returns a processing item to pending for another cycle,
	// keeping its attempt counter but clearing the counters accumulated by
	// the aborted cycle.
	Requeue(ctx context.Context, id string, errorMessage string) error

	// Retry resets a failed item for reprocessing: attempts, counters and
	// error message are cleared and the status returns to pending. Fails
	// with ErrInvalidState for any other status.
	Retry(ctx context.Context, id string) error

	// Delete removes an item. Fails with ErrInvalidState while the item is
	// processing or completed.
	Delete(ctx context.Context, id string) error

	// DeleteFailed removes every failed item and returns how many were
	// removed.
	DeleteFailed(ctx context.Context) (int, error)

	// Get returns a single item by id, payload included.
	Get(ctx context.Context, id string) (*Item, error)

	// List returns a filtered, paginated view of item summaries, newest
	// first.
	List(ctx context.Context, opts ListOptions) (*ListResult, error)

	// Stats aggregates queue counters grouped by status, device and data
	// type.
	Stats(ctx context.Context) (*Stats, error)
}
