package records

import (
	"context"
	"errors"
	"time"
)

// UpsertResult classifies what an upsert did to the stored record.
type UpsertResult int

const (
	// ResultCreated means the record did not exist and was inserted.
	ResultCreated UpsertResult = iota
	// ResultUpdated means an existing record with the same dedup key was
	// replaced with the incoming fields.
	ResultUpdated
)

// String returns the wire token for the result.
func (r UpsertResult) String() string {
	if r == ResultCreated {
		return "created"
	}
	return "updated"
}

// ErrNotFound is returned when a synced record or device scope is unknown.
var ErrNotFound = errors.New("record not found")

// Synced is a stored record together with its device scope and sync stamp.
type Synced struct {
	DeviceID string    `json:"deviceId"`
	Record   Record    `json:"record"`
	SyncedAt time.Time `json:"syncedAt"`
}

// Repository stores synced records for one data type.
//
// UpsertByKey looks up the record's dedup key within the device scope,
// merges the incoming fields over any existing record, and stamps syncedAt.
// The classification must be exact: ResultCreated only when no record with
// that key existed before the call.
type Repository interface {
	UpsertByKey(ctx context.Context, deviceID string, rec Record) (UpsertResult, error)

	// List returns a page of the device's records ordered by syncedAt
	// descending, plus the total count for the device.
	List(ctx context.Context, deviceID string, page, limit int) ([]*Synced, int, error)
}
