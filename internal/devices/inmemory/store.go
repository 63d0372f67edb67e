// Package inmemory provides the in-memory device store, used by tests and by
// deployments without Postgres.
package inmemory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bilal060/devicesync-server/internal/devices"
	"github.com/bilal060/devicesync-server/internal/records"
)

type store struct {
	mu      sync.RWMutex
	devices map[string]*devices.Device
}

var _ devices.Store = (*store)(nil)

// New creates an empty in-memory device store.
func New() devices.Store {
	return &store{devices: make(map[string]*devices.Device)}
}

// ApplyDelta implements devices.Store.
func (s *store) ApplyDelta(_ context.Context, deviceID string, dt records.DataType, newCount int, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[deviceID]
	if !ok {
		d = &devices.Device{
			DeviceID: deviceID,
			Stats:    make(map[records.DataType]int),
			LastSync: make(map[records.DataType]time.Time),
		}
		s.devices[deviceID] = d
	}

	d.Stats[dt] += newCount
	if completedAt.After(d.LastSync[dt]) {
		d.LastSync[dt] = completedAt
	}
	if completedAt.After(d.LastSeen) {
		d.LastSeen = completedAt
	}
	return nil
}

// Get implements devices.Store.
func (s *store) Get(_ context.Context, deviceID string) (*devices.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.devices[deviceID]
	if !ok {
		return nil, devices.ErrNotFound
	}
	return d.Clone(), nil
}

// List implements devices.Store.
func (s *store) List(_ context.Context) ([]*devices.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*devices.Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].DeviceID < out[j].DeviceID
	})
	return out, nil
}
