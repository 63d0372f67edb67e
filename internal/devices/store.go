// Package devices tracks per-device sync state: cumulative record counts and
// last-sync stamps per data type.
package devices

import (
	"context"
	"errors"
	"time"

	"github.com/bilal060/devicesync-server/internal/records"
)

// ErrNotFound is returned for an unknown device id.
var ErrNotFound = errors.New("device not found")

// Device is the sync ledger for one device. Stats holds the cumulative count
// of records created per data type; LastSync holds the completion time of the
// most recent batch per data type.
type Device struct {
	DeviceID string                         `json:"deviceId"`
	Stats    map[records.DataType]int       `json:"stats"`
	LastSync map[records.DataType]time.Time `json:"lastSync"`
	LastSeen time.Time                      `json:"lastSeen"`
}

// Clone returns a deep copy so callers cannot mutate store state.
func (d *Device) Clone() *Device {
	out := &Device{
		DeviceID: d.DeviceID,
		Stats:    make(map[records.DataType]int, len(d.Stats)),
		LastSync: make(map[records.DataType]time.Time, len(d.LastSync)),
		LastSeen: d.LastSeen,
	}
	for k, v := range d.Stats {
		out.Stats[k] = v
	}
	for k, v := range d.LastSync {
		out.LastSync[k] = v
	}
	return out
}

// TotalRecords returns the device's cumulative record count across all data
// types.
func (d *Device) TotalRecords() int {
	total := 0
	for _, n := range d.Stats {
		total += n
	}
	return total
}

// Store persists per-device sync state.
type Store interface {
	// ApplyDelta registers a finished batch for the device: newCount is
	// added to the data type's cumulative counter and the data type's
	// last-sync stamp moves to completedAt. The device is created on first
	// use.
	ApplyDelta(ctx context.Context, deviceID string, dt records.DataType, newCount int, completedAt time.Time) error

	// Get returns one device's sync state.
	Get(ctx context.Context, deviceID string) (*Device, error)

	// List returns every known device ordered by last-seen descending.
	List(ctx context.Context) ([]*Device, error)
}
