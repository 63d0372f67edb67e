package postgres

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bilal060/devicesync-server/database"
	"github.com/bilal060/devicesync-server/internal/queue"
	"github.com/bilal060/devicesync-server/internal/records"
)

func payloadOf(t *testing.T, bodies ...string) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, 0, len(bodies))
	for _, b := range bodies {
		out = append(out, json.RawMessage(b))
	}
	return out
}

func TestStore(t *testing.T) {
	t.Parallel()

	pool, cleanup := database.SetupTestPool(t)
	t.Cleanup(cleanup)

	s, err := New(WithConnectionPool(pool), WithMaxAttempts(3))
	require.NoError(t, err)

	ctx := context.Background()

	t.Run("enqueue validates input", func(t *testing.T) {
		_, err := s.Enqueue(ctx, nil)
		assert.Error(t, err)

		_, err = s.Enqueue(ctx, &queue.Item{DataType: records.DataTypeContacts})
		assert.Error(t, err)

		_, err = s.Enqueue(ctx, &queue.Item{DeviceID: "d-1", DataType: "bogus"})
		assert.Error(t, err)
	})

	t.Run("enqueue and get round trip", func(t *testing.T) {
		id, err := s.Enqueue(ctx, &queue.Item{
			DeviceID: "rt-device",
			DataType: records.DataTypeContacts,
			Payload:  payloadOf(t, `{"contactId":"c-1","name":"Ada"}`, `{"contactId":"c-2","name":"Grace"}`),
		})
		require.NoError(t, err)

		item, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "rt-device", item.DeviceID)
		assert.Equal(t, records.DataTypeContacts, item.DataType)
		assert.Equal(t, queue.StatusPending, item.Status)
		assert.Equal(t, 2, item.DataCount)
		assert.Equal(t, 3, item.MaxAttempts)
		assert.Equal(t, 0, item.Attempts)
		assert.Len(t, item.Payload, 2)
		assert.JSONEq(t, `{"contactId":"c-1","name":"Ada"}`, string(item.Payload[0]))
		assert.Nil(t, item.ProcessingStartedAt)

		require.NoError(t, s.Delete(ctx, id))
	})

	t.Run("get unknown id", func(t *testing.T) {
		_, err := s.Get(ctx, "00000000-0000-0000-0000-000000000000")
		assert.ErrorIs(t, err, queue.ErrNotFound)
	})

	t.Run("claim takes oldest pending and increments attempts", func(t *testing.T) {
		first, err := s.Enqueue(ctx, &queue.Item{
			DeviceID: "claim-device",
			DataType: records.DataTypeMessages,
			Payload:  payloadOf(t, `{"messageId":"m-1","type":"SMS","address":"+1"}`),
		})
		require.NoError(t, err)
		second, err := s.Enqueue(ctx, &queue.Item{
			DeviceID: "claim-device",
			DataType: records.DataTypeMessages,
			Payload:  payloadOf(t, `{"messageId":"m-2","type":"SMS","address":"+1"}`),
		})
		require.NoError(t, err)

		claimed, err := s.ClaimNext(ctx)
		require.NoError(t, err)
		require.NotNil(t, claimed)
		assert.Equal(t, first, claimed.ID)
		assert.Equal(t, queue.StatusProcessing, claimed.Status)
		assert.Equal(t, 1, claimed.Attempts)
		assert.NotNil(t, claimed.ProcessingStartedAt)

		// Finish both so later subtests see an empty queue.
		require.NoError(t, s.Finalize(ctx, first, queue.StatusCompleted, ""))
		next, err := s.ClaimNext(ctx)
		require.NoError(t, err)
		require.NotNil(t, next)
		assert.Equal(t, second, next.ID)
		require.NoError(t, s.Finalize(ctx, second, queue.StatusCompleted, ""))

		empty, err := s.ClaimNext(ctx)
		require.NoError(t, err)
		assert.Nil(t, empty)
	})

	t.Run("progress and finalize", func(t *testing.T) {
		id, err := s.Enqueue(ctx, &queue.Item{
			DeviceID: "prog-device",
			DataType: records.DataTypeCallLogs,
			Payload:  payloadOf(t, `{"callId":"1"}`, `{"callId":"2"}`, `{"callId":"3"}`),
		})
		require.NoError(t, err)

		// Progress on a pending item is rejected.
		err = s.RecordProgress(ctx, id, 1, 0)
		assert.ErrorIs(t, err, queue.ErrInvalidState)

		claimed, err := s.ClaimNext(ctx)
		require.NoError(t, err)
		require.Equal(t, id, claimed.ID)

		require.NoError(t, s.RecordProgress(ctx, id, 2, 0))
		require.NoError(t, s.RecordProgress(ctx, id, 0, 1))

		err = s.Finalize(ctx, id, queue.StatusPending, "")
		assert.ErrorIs(t, err, queue.ErrInvalidState)

		require.NoError(t, s.Finalize(ctx, id, queue.StatusPartiallyCompleted, "1 of 3 records failed"))

		item, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusPartiallyCompleted, item.Status)
		assert.Equal(t, 2, item.ProcessedCount)
		assert.Equal(t, 1, item.FailedCount)
		assert.Equal(t, "1 of 3 records failed", item.ErrorMessage)
		assert.NotNil(t, item.ProcessingCompletedAt)

		// Finalize is one-shot.
		err = s.Finalize(ctx, id, queue.StatusCompleted, "")
		assert.ErrorIs(t, err, queue.ErrInvalidState)
	})

	t.Run("requeue keeps attempts and clears cycle counters", func(t *testing.T) {
		id, err := s.Enqueue(ctx, &queue.Item{
			DeviceID: "requeue-device",
			DataType: records.DataTypeNotifications,
			Payload:  payloadOf(t, `{"notificationId":"n-1","appName":"mail"}`),
		})
		require.NoError(t, err)

		claimed, err := s.ClaimNext(ctx)
		require.NoError(t, err)
		require.Equal(t, id, claimed.ID)
		require.NoError(t, s.RecordProgress(ctx, id, 0, 1))

		require.NoError(t, s.Requeue(ctx, id, "storage unavailable"))

		item, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusPending, item.Status)
		assert.Equal(t, 1, item.Attempts)
		assert.Equal(t, 0, item.ProcessedCount)
		assert.Equal(t, 0, item.FailedCount)
		assert.Equal(t, "storage unavailable", item.ErrorMessage)
		assert.Nil(t, item.ProcessingStartedAt)

		reclaimed, err := s.ClaimNext(ctx)
		require.NoError(t, err)
		require.Equal(t, id, reclaimed.ID)
		assert.Equal(t, 2, reclaimed.Attempts)

		require.NoError(t, s.Finalize(ctx, id, queue.StatusFailed, "all 1 records failed"))
	})

	t.Run("retry resets a failed item", func(t *testing.T) {
		id, err := s.Enqueue(ctx, &queue.Item{
			DeviceID: "retry-device",
			DataType: records.DataTypeEmailAccounts,
			Payload:  payloadOf(t, `{"emailAddress":"a@b.c"}`),
		})
		require.NoError(t, err)

		// Only failed items can be retried.
		err = s.Retry(ctx, id)
		assert.ErrorIs(t, err, queue.ErrInvalidState)

		claimed, err := s.ClaimNext(ctx)
		require.NoError(t, err)
		require.Equal(t, id, claimed.ID)
		require.NoError(t, s.RecordProgress(ctx, id, 0, 1))
		require.NoError(t, s.Finalize(ctx, id, queue.StatusFailed, "boom"))

		require.NoError(t, s.Retry(ctx, id))

		item, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusPending, item.Status)
		assert.Equal(t, 0, item.Attempts)
		assert.Equal(t, 0, item.FailedCount)
		assert.Empty(t, item.ErrorMessage)
		assert.Nil(t, item.ProcessingCompletedAt)

		reclaimed, err := s.ClaimNext(ctx)
		require.NoError(t, err)
		require.Equal(t, id, reclaimed.ID)
		require.NoError(t, s.Finalize(ctx, id, queue.StatusCompleted, ""))
	})

	t.Run("delete state rules", func(t *testing.T) {
		id, err := s.Enqueue(ctx, &queue.Item{
			DeviceID: "del-device",
			DataType: records.DataTypeContacts,
			Payload:  payloadOf(t, `{"contactId":"c-9"}`),
		})
		require.NoError(t, err)

		claimed, err := s.ClaimNext(ctx)
		require.NoError(t, err)
		require.Equal(t, id, claimed.ID)

		err = s.Delete(ctx, id)
		assert.ErrorIs(t, err, queue.ErrInvalidState)

		require.NoError(t, s.Finalize(ctx, id, queue.StatusCompleted, ""))
		err = s.Delete(ctx, id)
		assert.ErrorIs(t, err, queue.ErrInvalidState)

		err = s.Delete(ctx, "00000000-0000-0000-0000-000000000001")
		assert.ErrorIs(t, err, queue.ErrNotFound)
	})

	t.Run("delete failed sweeps all failed items", func(t *testing.T) {
		for range 2 {
			id, err := s.Enqueue(ctx, &queue.Item{
				DeviceID: "sweep-device",
				DataType: records.DataTypeContacts,
				Payload:  payloadOf(t, `{"contactId":"c-s"}`),
			})
			require.NoError(t, err)
			claimed, err := s.ClaimNext(ctx)
			require.NoError(t, err)
			require.Equal(t, id, claimed.ID)
			require.NoError(t, s.Finalize(ctx, id, queue.StatusFailed, "boom"))
		}

		n, err := s.DeleteFailed(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = s.DeleteFailed(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("list filters and paginates", func(t *testing.T) {
		for range 3 {
			_, err := s.Enqueue(ctx, &queue.Item{
				DeviceID: "list-device",
				DataType: records.DataTypeMessages,
				Payload:  payloadOf(t, `{"messageId":"m-l","type":"SMS"}`),
			})
			require.NoError(t, err)
		}

		res, err := s.List(ctx, queue.ListOptions{DeviceID: "list-device", Status: queue.StatusPending})
		require.NoError(t, err)
		assert.Equal(t, 3, res.Total)
		assert.Len(t, res.Items, 3)
		for _, it := range res.Items {
			assert.Equal(t, "list-device", it.DeviceID)
			assert.Equal(t, queue.StatusPending, it.Status)
		}

		page, err := s.List(ctx, queue.ListOptions{DeviceID: "list-device", Page: 2, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, 3, page.Total)
		assert.Equal(t, 2, page.TotalPages)
		assert.Len(t, page.Items, 1)

		none, err := s.List(ctx, queue.ListOptions{DeviceID: "list-device", DataType: records.DataTypeContacts})
		require.NoError(t, err)
		assert.Equal(t, 0, none.Total)
		assert.Empty(t, none.Items)
	})

	t.Run("stats aggregates by status device and type", func(t *testing.T) {
		stats, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.NotEmpty(t, stats.Summary)
		assert.Equal(t, 3, stats.Summary[queue.StatusPending])

		var listDevice *queue.GroupStats
		for i := range stats.ByDevice {
			if stats.ByDevice[i].Key == "list-device" {
				listDevice = &stats.ByDevice[i]
			}
		}
		require.NotNil(t, listDevice)
		assert.Equal(t, 3, listDevice.TotalItems)
		assert.Equal(t, 3, listDevice.TotalData)
	})
}

func TestNewRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := New()
	require.Error(t, err)
}
