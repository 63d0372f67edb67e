// Package storage provides factory functions for creating storage-dependent
// components. It implements the Abstract Factory pattern so the queue store,
// record repositories and device store always share one backend.
package storage

import (
	"context"
	"fmt"

	"github.com/bilal060/devicesync-server/internal/config"
	"github.com/bilal060/devicesync-server/internal/devices"
	"github.com/bilal060/devicesync-server/internal/queue"
	"github.com/bilal060/devicesync-server/internal/records"
)

// Factory creates storage-dependent components as a family. Implementations
// ensure all components are backed by the same storage (all in-memory or all
// Postgres). It also manages the lifecycle of storage resources.
type Factory interface {
	// CreateQueueStore creates the durable sync queue.
	CreateQueueStore(ctx context.Context) (queue.Store, error)

	// CreateRepositories creates one record repository per data type.
	CreateRepositories(ctx context.Context) (map[records.DataType]records.Repository, error)

	// CreateDeviceStore creates the per-device sync ledger.
	CreateDeviceStore(ctx context.Context) (devices.Store, error)

	// Cleanup releases any resources held by this factory. For database
	// factories this closes the connection pool; for memory factories it is
	// a no-op. Should be called when the application shuts down.
	Cleanup()
}

// NewStorageFactory creates a storage factory based on the configured storage
// type.
func NewStorageFactory(ctx context.Context, cfg *config.Config) (Factory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	switch cfg.Storage.GetType() {
	case config.StorageTypePostgres:
		return NewDatabaseFactory(ctx, cfg)
	case config.StorageTypeMemory:
		return NewMemoryFactory(cfg), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Storage.GetType())
	}
}
