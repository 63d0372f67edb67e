package inmemory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bilal060/devicesync-server/internal/records"
)

func fakeClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func TestUpsertByKeyClassification(t *testing.T) {
	t.Parallel()

	r := New(WithClock(fakeClock()))
	ctx := context.Background()

	contact := &records.Contact{ContactID: "c-1", Name: "Ada", PhoneNumber: "+1555000"}

	res, err := r.UpsertByKey(ctx, "device-1", contact)
	require.NoError(t, err)
	assert.Equal(t, records.ResultCreated, res)

	// Same key again: updated, and the newer fields win.
	res, err = r.UpsertByKey(ctx, "device-1", &records.Contact{
		ContactID: "c-1", Name: "Ada L.", PhoneNumber: "+1555999",
	})
	require.NoError(t, err)
	assert.Equal(t, records.ResultUpdated, res)

	synced, total, err := r.List(ctx, "device-1", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, synced, 1)
	assert.Equal(t, "Ada L.", synced[0].Record.(*records.Contact).Name)

	// Same key on another device is its own record.
	res, err = r.UpsertByKey(ctx, "device-2", contact)
	require.NoError(t, err)
	assert.Equal(t, records.ResultCreated, res)
}

func TestListOrderAndPagination(t *testing.T) {
	t.Parallel()

	r := New(WithClock(fakeClock()))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := r.UpsertByKey(ctx, "device-1", &records.Contact{
			ContactID:   fmt.Sprintf("c-%d", i),
			Name:        fmt.Sprintf("Contact %d", i),
			PhoneNumber: "+1555000",
		})
		require.NoError(t, err)
	}

	page1, total, err := r.List(ctx, "device-1", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page1, 2)
	// Newest sync first.
	assert.Equal(t, "c-4", page1[0].Record.Key())
	assert.Equal(t, "c-3", page1[1].Record.Key())

	page3, total, err := r.List(ctx, "device-1", 3, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page3, 1)
	assert.Equal(t, "c-0", page3[0].Record.Key())

	empty, total, err := r.List(ctx, "device-1", 4, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Empty(t, empty)

	none, total, err := r.List(ctx, "unknown-device", 1, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, none)
}

func TestNewRepositoriesCoversAllDataTypes(t *testing.T) {
	t.Parallel()

	repos := NewRepositories()
	assert.Len(t, repos, len(records.AllDataTypes()))
	for _, dt := range records.AllDataTypes() {
		assert.Contains(t, repos, dt)
	}
}
