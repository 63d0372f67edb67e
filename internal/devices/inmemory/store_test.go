package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bilal060/devicesync-server/internal/devices"
	"github.com/bilal060/devicesync-server/internal/records"
)

func TestApplyDeltaCreatesAndAccumulates(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	t1 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	require.NoError(t, s.ApplyDelta(ctx, "device-1", records.DataTypeContacts, 10, t1))
	require.NoError(t, s.ApplyDelta(ctx, "device-1", records.DataTypeContacts, 5, t2))
	require.NoError(t, s.ApplyDelta(ctx, "device-1", records.DataTypeMessages, 3, t1))

	d, err := s.Get(ctx, "device-1")
	require.NoError(t, err)
	assert.Equal(t, 15, d.Stats[records.DataTypeContacts])
	assert.Equal(t, 3, d.Stats[records.DataTypeMessages])
	assert.Equal(t, 18, d.TotalRecords())
	assert.Equal(t, t2, d.LastSync[records.DataTypeContacts])
	assert.Equal(t, t1, d.LastSync[records.DataTypeMessages])
	assert.Equal(t, t2, d.LastSeen)
}

func TestApplyDeltaIgnoresStaleStamp(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	t1 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	earlier := t1.Add(-time.Hour)

	require.NoError(t, s.ApplyDelta(ctx, "device-1", records.DataTypeContacts, 10, t1))
	require.NoError(t, s.ApplyDelta(ctx, "device-1", records.DataTypeContacts, 2, earlier))

	d, err := s.Get(ctx, "device-1")
	require.NoError(t, err)
	assert.Equal(t, 12, d.Stats[records.DataTypeContacts], "count still accumulates")
	assert.Equal(t, t1, d.LastSync[records.DataTypeContacts], "stamp never moves backwards")
	assert.Equal(t, t1, d.LastSeen)
}

func TestGetUnknownDevice(t *testing.T) {
	t.Parallel()

	s := New()
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, devices.ErrNotFound)
}

func TestListOrdersByLastSeen(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.ApplyDelta(ctx, "device-old", records.DataTypeContacts, 1, base))
	require.NoError(t, s.ApplyDelta(ctx, "device-new", records.DataTypeContacts, 1, base.Add(time.Minute)))

	listed, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "device-new", listed[0].DeviceID)
	assert.Equal(t, "device-old", listed[1].DeviceID)
}

func TestGetReturnsCopy(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, s.ApplyDelta(ctx, "device-1", records.DataTypeContacts, 1, now))

	d, err := s.Get(ctx, "device-1")
	require.NoError(t, err)
	d.Stats[records.DataTypeContacts] = 999

	fresh, err := s.Get(ctx, "device-1")
	require.NoError(t, err)
	assert.Equal(t, 1, fresh.Stats[records.DataTypeContacts])
}
