package storage

import (
	"context"
	"log/slog"

	"github.com/bilal060/devicesync-server/internal/config"
	"github.com/bilal060/devicesync-server/internal/devices"
	devmem "github.com/bilal060/devicesync-server/internal/devices/inmemory"
	"github.com/bilal060/devicesync-server/internal/queue"
	queuemem "github.com/bilal060/devicesync-server/internal/queue/inmemory"
	"github.com/bilal060/devicesync-server/internal/records"
	recmem "github.com/bilal060/devicesync-server/internal/records/inmemory"
)

// MemoryFactory creates in-memory storage components. All state is lost when
// the process exits; intended for tests and local development.
type MemoryFactory struct {
	config *config.Config
}

var _ Factory = (*MemoryFactory)(nil)

// NewMemoryFactory creates a new in-memory storage factory.
func NewMemoryFactory(cfg *config.Config) *MemoryFactory {
	slog.Info("Creating in-memory storage factory")
	return &MemoryFactory{config: cfg}
}

// CreateQueueStore implements Factory.
func (m *MemoryFactory) CreateQueueStore(_ context.Context) (queue.Store, error) {
	return queuemem.New(queuemem.WithMaxAttempts(m.config.Queue.GetMaxAttempts())), nil
}

// CreateRepositories implements Factory.
func (*MemoryFactory) CreateRepositories(_ context.Context) (map[records.DataType]records.Repository, error) {
	return recmem.NewRepositories(), nil
}

// CreateDeviceStore implements Factory.
func (*MemoryFactory) CreateDeviceStore(_ context.Context) (devices.Store, error) {
	return devmem.New(), nil
}

// Cleanup implements Factory. Nothing to release for in-memory storage.
func (*MemoryFactory) Cleanup() {}
