// Package queue defines the durable sync queue: the item model, its status
// state machine, and the Store interface implemented by the in-memory and
// Postgres backends.
package queue

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/bilal060/devicesync-server/internal/records"
)

// Status is the lifecycle state of a queue item.
type Status string

// Queue item states. Transitions are monotonic except the explicit
// failed -> pending retry: pending -> processing -> {completed,
// partially_completed, failed}, with processing -> pending allowed only for
// a requeued cycle that has attempts left.
const (
	StatusPending            Status = "pending"
	StatusProcessing         Status = "processing"
	StatusCompleted          Status = "completed"
	StatusPartiallyCompleted Status = "partially_completed"
	StatusFailed             Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusPartiallyCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s ends normal processing. A failed item can still
// leave the terminal state through an explicit retry.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartiallyCompleted, StatusFailed:
		return true
	}
	return false
}

// Sentinel errors surfaced by Store implementations.
var (
	// ErrNotFound is returned for an unknown queue item id.
	ErrNotFound = errors.New("queue item not found")

	// ErrInvalidState is returned when an operation is attempted from a
	// status that does not allow it (retry of a non-failed item, delete of
	// a processing or completed item, finalize of a non-processing item).
	ErrInvalidState = errors.New("operation not allowed in current queue item state")
)

// DefaultMaxAttempts bounds processing cycles per item unless configured.
const DefaultMaxAttempts = 3

// Item is one queued batch of records for a single device and data type.
type Item struct {
	ID       string            `json:"id"`
	DeviceID string            `json:"deviceId"`
	DataType records.DataType  `json:"dataType"`
	Payload  []json.RawMessage `json:"payload,omitempty"`

	// DataCount is the payload length at enqueue time and never changes.
	DataCount int `json:"dataCount"`

	Status         Status `json:"status"`
	ProcessedCount int    `json:"processedCount"`
	FailedCount    int    `json:"failedCount"`
	Attempts       int    `json:"attempts"`
	MaxAttempts    int    `json:"maxAttempts"`
	ErrorMessage   string `json:"errorMessage,omitempty"`

	CreatedAt             time.Time  `json:"createdAt"`
	ProcessingStartedAt   *time.Time `json:"processingStartedAt,omitempty"`
	ProcessingCompletedAt *time.Time `json:"processingCompletedAt,omitempty"`
}

// Progress returns the processed share of the batch in whole percent.
func (i *Item) Progress() int {
	if i.DataCount == 0 {
		return 0
	}
	return (i.ProcessedCount * 100) / i.DataCount
}

// Clone returns a deep copy so callers cannot mutate store state.
func (i *Item) Clone() *Item {
	out := *i
	if i.Payload != nil {
		out.Payload = make([]json.RawMessage, len(i.Payload))
		copy(out.Payload, i.Payload)
	}
	if i.ProcessingStartedAt != nil {
		t := *i.ProcessingStartedAt
		out.ProcessingStartedAt = &t
	}
	if i.ProcessingCompletedAt != nil {
		t := *i.ProcessingCompletedAt
		out.ProcessingCompletedAt = &t
	}
	return &out
}

// Summary is the externally visible shape of a queue item: everything except
// the raw payload, plus the derived progress percentage.
type Summary struct {
	ID                    string           `json:"id"`
	DeviceID              string           `json:"deviceId"`
	DataType              records.DataType `json:"dataType"`
	Status                Status           `json:"status"`
	DataCount             int              `json:"dataCount"`
	ProcessedCount        int              `json:"processedCount"`
	FailedCount           int              `json:"failedCount"`
	Progress              int              `json:"progress"`
	Attempts              int              `json:"attempts"`
	MaxAttempts           int              `json:"maxAttempts"`
	ErrorMessage          string           `json:"errorMessage,omitempty"`
	CreatedAt             time.Time        `json:"createdAt"`
	ProcessingStartedAt   *time.Time       `json:"processingStartedAt,omitempty"`
	ProcessingCompletedAt *time.Time       `json:"processingCompletedAt,omitempty"`
}

// Summarize strips the payload from an item for listing and dashboards.
func (i *Item) Summarize() *Summary {
	return &Summary{
		ID:                    i.ID,
		DeviceID:              i.DeviceID,
		DataType:              i.DataType,
		Status:                i.Status,
		DataCount:             i.DataCount,
		ProcessedCount:        i.ProcessedCount,
		FailedCount:           i.FailedCount,
		Progress:              i.Progress(),
		Attempts:              i.Attempts,
		MaxAttempts:           i.MaxAttempts,
		ErrorMessage:          i.ErrorMessage,
		CreatedAt:             i.CreatedAt,
		ProcessingStartedAt:   i.ProcessingStartedAt,
		ProcessingCompletedAt: i.ProcessingCompletedAt,
	}
}
