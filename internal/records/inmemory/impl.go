// Package inmemory provides an in-memory implementation of the record
// repositories, used by tests and by deployments without Postgres.
package inmemory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bilal060/devicesync-server/internal/records"
)

// repo implements records.Repository for a single data type.
type repo struct {
	mu sync.RWMutex

	// deviceID -> dedup key -> stored record
	byDevice map[string]map[string]*records.Synced

	now func() time.Time
}

var _ records.Repository = (*repo)(nil)

// Option configures a repository.
type Option func(*repo)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *repo) {
		r.now = now
	}
}

// New creates an empty in-memory repository.
func New(opts ...Option) records.Repository {
	r := &repo{
		byDevice: make(map[string]map[string]*records.Synced),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewRepositories creates one in-memory repository per supported data type,
// keyed for the reconciler dispatch table.
func NewRepositories(opts ...Option) map[records.DataType]records.Repository {
	repos := make(map[records.DataType]records.Repository, len(records.AllDataTypes()))
	for _, dt := range records.AllDataTypes() {
		repos[dt] = New(opts...)
	}
	return repos
}

// UpsertByKey implements records.Repository.
func (r *repo) UpsertByKey(_ context.Context, deviceID string, rec records.Record) (records.UpsertResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	scope, ok := r.byDevice[deviceID]
	if !ok {
		scope = make(map[string]*records.Synced)
		r.byDevice[deviceID] = scope
	}

	key := rec.Key()
	_, existed := scope[key]
	scope[key] = &records.Synced{
		DeviceID: deviceID,
		Record:   rec,
		SyncedAt: r.now(),
	}
	if existed {
		return records.ResultUpdated, nil
	}
	return records.ResultCreated, nil
}

// List implements records.Repository.
func (r *repo) List(_ context.Context, deviceID string, page, limit int) ([]*records.Synced, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 100
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	scope := r.byDevice[deviceID]
	all := make([]*records.Synced, 0, len(scope))
	for _, s := range scope {
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].SyncedAt.Equal(all[j].SyncedAt) {
			return all[i].SyncedAt.After(all[j].SyncedAt)
		}
		return all[i].Record.Key() < all[j].Record.Key()
	})

	total := len(all)
	start := (page - 1) * limit
	if start >= total {
		return []*records.Synced{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}
