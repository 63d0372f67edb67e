package v0_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v0 "github.com/bilal060/devicesync-server/internal/api/v0"
	"github.com/bilal060/devicesync-server/internal/devices"
	devmem "github.com/bilal060/devicesync-server/internal/devices/inmemory"
	"github.com/bilal060/devicesync-server/internal/queue"
	queuemem "github.com/bilal060/devicesync-server/internal/queue/inmemory"
	"github.com/bilal060/devicesync-server/internal/records"
	recmem "github.com/bilal060/devicesync-server/internal/records/inmemory"
	syncsvc "github.com/bilal060/devicesync-server/internal/sync"
)

type fixture struct {
	router     http.Handler
	store      queue.Store
	devices    devices.Store
	dispatcher *syncsvc.Dispatcher
}

func newFixture(t *testing.T, gatewayOpts ...syncsvc.GatewayOption) *fixture {
	t.Helper()

	store := queuemem.New()
	repos := recmem.NewRepositories()
	reconciler, err := syncsvc.NewReconciler(repos)
	require.NoError(t, err)
	deviceStore := devmem.New()

	dispatcher := syncsvc.NewDispatcher(store, reconciler, deviceStore,
		syncsvc.WithPollInterval(time.Millisecond),
		syncsvc.WithIdleInterval(time.Millisecond),
	)
	t.Cleanup(func() { _ = dispatcher.Stop() })

	gateway := syncsvc.NewGateway(store, reconciler, deviceStore, gatewayOpts...)

	r := chi.NewRouter()
	r.Mount("/api", v0.Router(gateway, dispatcher, store, deviceStore, repos))
	return &fixture{
		router:     r,
		store:      store,
		devices:    deviceStore,
		dispatcher: dispatcher,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(out))
}

func contactBody(deviceID string, n int) map[string]any {
	contacts := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		contacts = append(contacts, map[string]any{
			"contactId":   fmt.Sprintf("c-%d", i),
			"name":        fmt.Sprintf("Contact %d", i),
			"phoneNumber": "+1555000",
		})
	}
	return map[string]any{"deviceId": deviceID, "contacts": contacts}
}

func TestSyncBatchInline(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/contacts/sync", contactBody("device-1", 3))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success        bool   `json:"success"`
		Queued         bool   `json:"queued"`
		NewRecords     int    `json:"newRecords"`
		UpdatedRecords int    `json:"updatedRecords"`
		ErrorRecords   int    `json:"errorRecords"`
		TotalProcessed int    `json:"totalProcessed"`
		QueueID        string `json:"queueId"`
	}
	decode(t, rec, &resp)
	assert.True(t, resp.Success)
	assert.False(t, resp.Queued)
	assert.Equal(t, 3, resp.NewRecords)
	assert.Equal(t, 3, resp.TotalProcessed)
	assert.Empty(t, resp.QueueID)

	// Re-sync updates instead of creating.
	rec = f.do(t, http.MethodPost, "/api/contacts/sync", contactBody("device-1", 3))
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &resp)
	assert.Zero(t, resp.NewRecords)
	assert.Equal(t, 3, resp.UpdatedRecords)
}

func TestSyncBatchGenericRecordsField(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/contacts/sync", map[string]any{
		"deviceId": "device-1",
		"records": []map[string]any{
			{"contactId": "c-1", "name": "Ada", "phoneNumber": "+1555000"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSyncBatchQueued(t *testing.T) {
	t.Parallel()

	f := newFixture(t, syncsvc.WithQueueThreshold(2))

	rec := f.do(t, http.MethodPost, "/api/contacts/sync", contactBody("device-1", 3))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		Success bool   `json:"success"`
		Queued  bool   `json:"queued"`
		QueueID string `json:"queueId"`
	}
	decode(t, rec, &resp)
	assert.True(t, resp.Success)
	assert.True(t, resp.Queued)
	require.NotEmpty(t, resp.QueueID)

	item, err := f.store.Get(context.Background(), resp.QueueID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusPending, item.Status)
}

func TestSyncBatchValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{
			name: "unknown data type",
			path: "/api/photos/sync",
			body: contactBody("device-1", 1),
			want: http.StatusBadRequest,
		},
		{
			name: "missing device id",
			path: "/api/contacts/sync",
			body: contactBody("", 1),
			want: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := f.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestSyncBatchEmptyRecords(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	// An empty records array succeeds with zero counts.
	rec := f.do(t, http.MethodPost, "/api/contacts/sync", map[string]any{
		"deviceId": "device-1",
		"contacts": []any{},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success        bool `json:"success"`
		Queued         bool `json:"queued"`
		New            int  `json:"newRecords"`
		Updated        int  `json:"updatedRecords"`
		Errors         int  `json:"errorRecords"`
		TotalProcessed int  `json:"totalProcessed"`
	}
	decode(t, rec, &resp)
	assert.True(t, resp.Success)
	assert.False(t, resp.Queued)
	assert.Zero(t, resp.New)
	assert.Zero(t, resp.Updated)
	assert.Zero(t, resp.Errors)
	assert.Zero(t, resp.TotalProcessed)
}

func TestSyncBatchMalformedBody(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/contacts/sync", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListRecords(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/contacts/sync", contactBody("device-1", 5))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/contacts/device-1?page=1&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		DeviceID string            `json:"deviceId"`
		Records  []json.RawMessage `json:"records"`
		Total    int               `json:"total"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, "device-1", resp.DeviceID)
	assert.Equal(t, 5, resp.Total)
	assert.Len(t, resp.Records, 2)

	// Unknown device is an empty page, not an error.
	rec = f.do(t, http.MethodGet, "/api/contacts/unknown-device", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &resp)
	assert.Zero(t, resp.Total)
}

func TestDeviceEndpoints(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/devices/device-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Inline sync creates the device ledger.
	resp := f.do(t, http.MethodPost, "/api/contacts/sync", contactBody("device-1", 2))
	require.Equal(t, http.StatusOK, resp.Code)

	rec = f.do(t, http.MethodGet, "/api/devices/device-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var device struct {
		DeviceID string         `json:"deviceId"`
		Stats    map[string]int `json:"stats"`
	}
	decode(t, rec, &device)
	assert.Equal(t, "device-1", device.DeviceID)
	assert.Equal(t, 2, device.Stats["contacts"])

	rec = f.do(t, http.MethodGet, "/api/devices", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Total int `json:"total"`
	}
	decode(t, rec, &listed)
	assert.Equal(t, 1, listed.Total)
}

func TestQueueLifecycleEndpoints(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/queue/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		IsProcessing bool `json:"isProcessing"`
	}
	decode(t, rec, &status)
	assert.False(t, status.IsProcessing)

	rec = f.do(t, http.MethodPost, "/api/queue/start", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/queue/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "second start conflicts")

	rec = f.do(t, http.MethodGet, "/api/queue/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &status)
	assert.True(t, status.IsProcessing)

	rec = f.do(t, http.MethodPost, "/api/queue/stop", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/queue/stop", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "second stop conflicts")
}

func TestQueueItemEndpoints(t *testing.T) {
	t.Parallel()

	f := newFixture(t, syncsvc.WithQueueThreshold(1))
	ctx := context.Background()

	rec := f.do(t, http.MethodPost, "/api/contacts/sync", contactBody("device-1", 2))
	require.Equal(t, http.StatusAccepted, rec.Code)
	var queued struct {
		QueueID string `json:"queueId"`
	}
	decode(t, rec, &queued)

	// List and get.
	rec = f.do(t, http.MethodGet, "/api/queue/items?status=pending&deviceId=device-1&dataType=contacts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Total int `json:"total"`
	}
	decode(t, rec, &listed)
	assert.Equal(t, 1, listed.Total)

	rec = f.do(t, http.MethodGet, "/api/queue/items/"+queued.QueueID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary struct {
		Status    string `json:"status"`
		DataCount int    `json:"dataCount"`
	}
	decode(t, rec, &summary)
	assert.Equal(t, "pending", summary.Status)
	assert.Equal(t, 2, summary.DataCount)

	rec = f.do(t, http.MethodGet, "/api/queue/items/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/queue/items?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Retry is rejected while the item is pending.
	rec = f.do(t, http.MethodPost, "/api/queue/items/"+queued.QueueID+"/retry", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Fail the item, then retry succeeds.
	_, err := f.store.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, f.store.Finalize(ctx, queued.QueueID, queue.StatusFailed, "boom"))

	rec = f.do(t, http.MethodPost, "/api/queue/items/"+queued.QueueID+"/retry", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Pending items can be deleted.
	rec = f.do(t, http.MethodDelete, "/api/queue/items/"+queued.QueueID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/queue/items/"+queued.QueueID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteFailedItems(t *testing.T) {
	t.Parallel()

	f := newFixture(t, syncsvc.WithQueueThreshold(1))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		rec := f.do(t, http.MethodPost, "/api/contacts/sync", contactBody("device-1", 2))
		require.Equal(t, http.StatusAccepted, rec.Code)
		item, err := f.store.ClaimNext(ctx)
		require.NoError(t, err)
		require.NoError(t, f.store.Finalize(ctx, item.ID, queue.StatusFailed, "boom"))
	}

	rec := f.do(t, http.MethodDelete, "/api/queue/items/failed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Deleted int `json:"deleted"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, 2, resp.Deleted)
}

func TestQueueStats(t *testing.T) {
	t.Parallel()

	f := newFixture(t, syncsvc.WithQueueThreshold(1))

	rec := f.do(t, http.MethodPost, "/api/contacts/sync", contactBody("device-1", 2))
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/messages/sync", map[string]any{
		"deviceId": "device-2",
		"messages": []map[string]any{
			{"messageId": "m-1", "address": "+1555000", "body": "hi", "type": "SMS", "timestamp": "2025-06-01T10:00:00Z"},
			{"messageId": "m-2", "address": "+1555000", "body": "yo", "type": "SMS", "timestamp": "2025-06-01T10:01:00Z"},
		},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/queue/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats struct {
		Summary     map[string]int `json:"summary"`
		DeviceStats []struct {
			Key        string `json:"key"`
			TotalItems int    `json:"totalItems"`
		} `json:"deviceStats"`
	}
	decode(t, rec, &stats)
	assert.Equal(t, 2, stats.Summary["pending"])
	assert.Len(t, stats.DeviceStats, 2)
}

func TestEnqueueTestEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	// A caller-chosen dataCount is honored on the queued item.
	rec := f.do(t, http.MethodPost, "/api/queue/test", map[string]any{
		"deviceId":  "device-9",
		"dataType":  string(records.DataTypeMessages),
		"dataCount": 50,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp struct {
		Queued    bool   `json:"queued"`
		QueueID   string `json:"queueId"`
		DataCount int    `json:"dataCount"`
	}
	decode(t, rec, &resp)
	assert.True(t, resp.Queued)
	assert.Equal(t, 50, resp.DataCount)

	item, err := f.store.Get(context.Background(), resp.QueueID)
	require.NoError(t, err)
	assert.Equal(t, "device-9", item.DeviceID)
	assert.Equal(t, records.DataTypeMessages, item.DataType)
	assert.Equal(t, 50, item.DataCount)

	// Omitting dataCount falls back to the default size.
	rec = f.do(t, http.MethodPost, "/api/queue/test", map[string]any{
		"deviceId": "device-9",
		"dataType": string(records.DataTypeContacts),
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	decode(t, rec, &resp)
	assert.Equal(t, syncsvc.DefaultTestBatchSize, resp.DataCount)

	// deviceId and dataType are required.
	rec = f.do(t, http.MethodPost, "/api/queue/test", map[string]any{"dataCount": 10})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown data type.
	rec = f.do(t, http.MethodPost, "/api/queue/test", map[string]any{
		"deviceId": "device-9",
		"dataType": "photos",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueuedBatchProcessedEndToEnd(t *testing.T) {
	t.Parallel()

	f := newFixture(t, syncsvc.WithQueueThreshold(1))

	rec := f.do(t, http.MethodPost, "/api/contacts/sync", contactBody("device-1", 3))
	require.Equal(t, http.StatusAccepted, rec.Code)
	var queued struct {
		QueueID string `json:"queueId"`
	}
	decode(t, rec, &queued)

	rec = f.do(t, http.MethodPost, "/api/queue/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		item, err := f.store.Get(context.Background(), queued.QueueID)
		require.NoError(t, err)
		return item.Status == queue.StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	// The records are visible and the device ledger moved.
	rec = f.do(t, http.MethodGet, "/api/contacts/device-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Total int `json:"total"`
	}
	decode(t, rec, &listed)
	assert.Equal(t, 3, listed.Total)

	rec = f.do(t, http.MethodPost, "/api/queue/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
