// Package inmemory provides the in-memory queue Store, used by tests and by
// deployments without Postgres.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bilal060/devicesync-server/internal/queue"
)

// store implements queue.Store with a mutex-guarded map. ClaimNext performs
// the pending -> processing transition under the same lock that selects the
// item, so concurrent dispatchers never double-claim.
type store struct {
	mu    sync.Mutex
	items map[string]*queue.Item

	maxAttempts int
	now         func() time.Time
}

var _ queue.Store = (*store)(nil)

// Option configures the store.
type Option func(*store)

// WithMaxAttempts sets the attempt bound stamped on enqueued items that do
// not carry one.
func WithMaxAttempts(n int) Option {
	return func(s *store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *store) {
		s.now = now
	}
}

// New creates an empty in-memory queue store.
func New(opts ...Option) queue.Store {
	s := &store{
		items:       make(map[string]*queue.Item),
		maxAttempts: queue.DefaultMaxAttempts,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue implements queue.Store.
func (s *store) Enqueue(_ context.Context, item *queue.Item) (string, error) {
	if item == nil {
		return "", fmt.Errorf("queue item is required")
	}
	if item.DeviceID == "" {
		return "", fmt.Errorf("queue item deviceId is required")
	}
	if !item.DataType.Valid() {
		return "", fmt.Errorf("queue item data type %q is not supported", item.DataType)
	}

	stored := item.Clone()
	stored.ID = uuid.NewString()
	stored.Status = queue.StatusPending
	stored.DataCount = len(stored.Payload)
	stored.ProcessedCount = 0
	stored.FailedCount = 0
	stored.Attempts = 0
	if stored.MaxAttempts <= 0 {
		stored.MaxAttempts = s.maxAttempts
	}
	stored.CreatedAt = s.now()
	stored.ProcessingStartedAt = nil
	stored.ProcessingCompletedAt = nil
	stored.ErrorMessage = ""

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[stored.ID] = stored
	return stored.ID, nil
}

// ClaimNext implements queue.Store.
func (s *store) ClaimNext(_ context.Context) (*queue.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *queue.Item
	for _, item := range s.items {
		if item.Status != queue.StatusPending {
			continue
		}
		if oldest == nil || item.CreatedAt.Before(oldest.CreatedAt) {
			oldest = item
		}
	}
	if oldest == nil {
		return nil, nil
	}

	now := s.now()
	oldest.Status = queue.StatusProcessing
	oldest.Attempts++
	oldest.ProcessingStartedAt = &now
	return oldest.Clone(), nil
}

// RecordProgress implements queue.Store.
func (s *store) RecordProgress(_ context.Context, id string, processedDelta, failedDelta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return queue.ErrNotFound
	}
	if item.Status != queue.StatusProcessing {
		return fmt.Errorf("record progress on %s item: %w", item.Status, queue.ErrInvalidState)
	}
	item.ProcessedCount += processedDelta
	item.FailedCount += failedDelta
	return nil
}

// Finalize implements queue.Store.
func (s *store) Finalize(_ context.Context, id string, status queue.Status, errorMessage string) error {
	if !status.Terminal() {
		return fmt.Errorf("finalize to non-terminal status %q: %w", status, queue.ErrInvalidState)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return queue.ErrNotFound
	}
	if item.Status != queue.StatusProcessing {
		return fmt.Errorf("finalize %s item: %w", item.Status, queue.ErrInvalidState)
	}

	now := s.now()
	item.Status = status
	item.ErrorMessage = errorMessage
	item.ProcessingCompletedAt = &now
	return nil
}

// Requeue implements queue.Store.
func (s *store) Requeue(_ context.Context, id string, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return queue.ErrNotFound
	}
	if item.Status != queue.StatusProcessing {
		return fmt.Errorf("requeue %s item: %w", item.Status, queue.ErrInvalidState)
	}

	item.Status = queue.StatusPending
	item.ProcessedCount = 0
	item.FailedCount = 0
	item.ErrorMessage = errorMessage
	item.ProcessingStartedAt = nil
	return nil
}

// Retry implements queue.Store.
func (s *store) Retry(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return queue.ErrNotFound
	}
	if item.Status != queue.StatusFailed {
		return fmt.Errorf("retry %s item: %w", item.Status, queue.ErrInvalidState)
	}

	item.Status = queue.StatusPending
	item.Attempts = 0
	item.ProcessedCount = 0
	item.FailedCount = 0
	item.ErrorMessage = ""
	item.ProcessingStartedAt = nil
	item.ProcessingCompletedAt = nil
	return nil
}

// Delete implements queue.Store.
func (s *store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return queue.ErrNotFound
	}
	if item.Status == queue.StatusProcessing || item.Status == queue.StatusCompleted {
		return fmt.Errorf("delete %s item: %w", item.Status, queue.ErrInvalidState)
	}
	delete(s.items, id)
	return nil
}

// DeleteFailed implements queue.Store.
func (s *store) DeleteFailed(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, item := range s.items {
		if item.Status == queue.StatusFailed {
			delete(s.items, id)
			removed++
		}
	}
	return removed, nil
}

// Get implements queue.Store.
func (s *store) Get(_ context.Context, id string) (*queue.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return nil, queue.ErrNotFound
	}
	return item.Clone(), nil
}

// List implements queue.Store.
func (s *store) List(_ context.Context, opts queue.ListOptions) (*queue.ListResult, error) {
	opts.Normalize()

	s.mu.Lock()
	matched := make([]*queue.Item, 0, len(s.items))
	for _, item := range s.items {
		if opts.Status != "" && item.Status != opts.Status {
			continue
		}
		if opts.DeviceID != "" && item.DeviceID != opts.DeviceID {
			continue
		}
		if opts.DataType != "" && item.DataType != opts.DataType {
			continue
		}
		matched = append(matched, item.Clone())
	}
	s.mu.Unlock()

	// Newest first, id as tiebreaker for a stable order.
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	totalPages := (total + opts.Limit - 1) / opts.Limit
	start := (opts.Page - 1) * opts.Limit
	if start > total {
		start = total
	}
	end := start + opts.Limit
	if end > total {
		end = total
	}

	summaries := make([]*queue.Summary, 0, end-start)
	for _, item := range matched[start:end] {
		summaries = append(summaries, item.Summarize())
	}
	return &queue.ListResult{
		Items:      summaries,
		Total:      total,
		Page:       opts.Page,
		Limit:      opts.Limit,
		TotalPages: totalPages,
	}, nil
}

// Stats implements queue.Store.
func (s *store) Stats(_ context.Context) (*queue.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary := make(map[queue.Status]int)
	byStatus := make(map[string]*queue.GroupStats)
	byDevice := make(map[string]*queue.GroupStats)
	byType := make(map[string]*queue.GroupStats)

	accumulate := func(m map[string]*queue.GroupStats, key string, item *queue.Item) {
		g, ok := m[key]
		if !ok {
			g = &queue.GroupStats{Key: key}
			m[key] = g
		}
		g.TotalItems++
		g.TotalData += item.DataCount
		g.TotalProcessed += item.ProcessedCount
		g.TotalFailed += item.FailedCount
	}

	for _, item := range s.items {
		summary[item.Status]++
		accumulate(byStatus, string(item.Status), item)
		accumulate(byDevice, item.DeviceID, item)
		accumulate(byType, string(item.DataType), item)
	}

	return &queue.Stats{
		Summary:    summary,
		ByStatus:   sortedGroups(byStatus),
		ByDevice:   sortedGroups(byDevice),
		ByDataType: sortedGroups(byType),
	}, nil
}

// sortedGroups orders groups by item count descending, key ascending.
func sortedGroups(m map[string]*queue.GroupStats) []queue.GroupStats {
	out := make([]queue.GroupStats, 0, len(m))
	for _, g := range m {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalItems != out[j].TotalItems {
			return out[i].TotalItems > out[j].TotalItems
		}
		return out[i].Key < out[j].Key
	})
	return out
}
