package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/bilal060/devicesync-server/internal/records"
)

// progressChunkSize is how many records are reconciled between progress
// writes, so long batches surface partial counts while still in flight.
const progressChunkSize = 100

// RecordError describes one record that could not be reconciled. Index is
// the record's position in the submitted batch.
type RecordError struct {
	Index  int    `json:"index"`
	Key    string `json:"key,omitempty"`
	Reason string `json:"reason"`
}

// BatchResult aggregates per-record outcomes for one reconciled batch.
type BatchResult struct {
	Created int           `json:"newRecords"`
	Updated int           `json:"updatedRecords"`
	Failed  int           `json:"errorRecords"`
	Errors  []RecordError `json:"errors,omitempty"`
}

// Processed returns how many records were stored, created and updated
// combined.
func (r *BatchResult) Processed() int {
	return r.Created + r.Updated
}

// ProgressFunc receives counter deltas as a batch is reconciled. Invoked at
// most once per progress chunk.
type ProgressFunc func(ctx context.Context, processedDelta, failedDelta int) error

// Reconciler upserts raw batch payloads into the per-type record
// repositories.
type Reconciler struct {
	repos map[records.DataType]records.Repository
}

// NewReconciler creates a reconciler over the given repository dispatch
// table.
func NewReconciler(repos map[records.DataType]records.Repository) (*Reconciler, error) {
	for _, dt := range records.AllDataTypes() {
		if _, ok := repos[dt]; !ok {
			return nil, fmt.Errorf("no repository for data type %q", dt)
		}
	}
	return &Reconciler{repos: repos}, nil
}

// ReconcileBatch upserts every record of the payload into the repository for
// the data type. A record that fails to decode, validate or store is counted
// and reported, and reconciliation continues with the next record. The
// progress callback, when non-nil, receives counter deltas per chunk; its
// error aborts the batch early since progress can no longer be persisted.
func (r *Reconciler) ReconcileBatch(
	ctx context.Context,
	deviceID string,
	dt records.DataType,
	payload []json.RawMessage,
	progress ProgressFunc,
) (*BatchResult, error) {
	repo, ok := r.repos[dt]
	if !ok {
		return nil, fmt.Errorf("no repository for data type %q", dt)
	}

	result := &BatchResult{}
	chunkProcessed, chunkFailed := 0, 0

	flush := func() error {
		if progress == nil || (chunkProcessed == 0 && chunkFailed == 0) {
			return nil
		}
		if err := progress(ctx, chunkProcessed, chunkFailed); err != nil {
			return fmt.Errorf("persist batch progress: %w", err)
		}
		chunkProcessed, chunkFailed = 0, 0
		return nil
	}

	for i, raw := range payload {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		rec, err := records.Parse(dt, raw)
		if err != nil {
			result.Failed++
			chunkFailed++
			result.Errors = append(result.Errors, RecordError{Index: i, Reason: err.Error()})
			slog.Debug("Record rejected",
				"device_id", deviceID,
				"data_type", dt,
				"index", i,
				"error", err)
			continue
		}

		res, err := repo.UpsertByKey(ctx, deviceID, rec)
		if err != nil {
			result.Failed++
			chunkFailed++
			result.Errors = append(result.Errors, RecordError{
				Index:  i,
				Key:    rec.Key(),
				Reason: err.Error(),
			})
			slog.Warn("Record upsert failed",
				"device_id", deviceID,
				"data_type", dt,
				"key", rec.Key(),
				"error", err)
			continue
		}

		switch res {
		case records.ResultCreated:
			result.Created++
		case records.ResultUpdated:
			result.Updated++
		}
		chunkProcessed++

		if (i+1)%progressChunkSize == 0 {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}

	if err := flush(); err != nil {
		return result, err
	}
	return result, nil
}
