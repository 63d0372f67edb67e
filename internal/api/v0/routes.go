// Package v0 provides the REST API handlers for device data sync.
package v0

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/bilal060/devicesync-server/internal/api/common"
	"github.com/bilal060/devicesync-server/internal/devices"
	"github.com/bilal060/devicesync-server/internal/queue"
	"github.com/bilal060/devicesync-server/internal/records"
	syncsvc "github.com/bilal060/devicesync-server/internal/sync"
	"github.com/bilal060/devicesync-server/internal/versions"
)

// Routes defines the routes for the sync API with dependency injection
type Routes struct {
	gateway    *syncsvc.Gateway
	dispatcher *syncsvc.Dispatcher
	store      queue.Store
	devices    devices.Store
	repos      map[records.DataType]records.Repository
}

// NewRoutes creates a new Routes instance with the provided dependencies
func NewRoutes(
	gateway *syncsvc.Gateway,
	dispatcher *syncsvc.Dispatcher,
	store queue.Store,
	deviceStore devices.Store,
	repos map[records.DataType]records.Repository,
) *Routes {
	return &Routes{
		gateway:    gateway,
		dispatcher: dispatcher,
		store:      store,
		devices:    deviceStore,
		repos:      repos,
	}
}

// Router creates a new router for the sync API
func Router(
	gateway *syncsvc.Gateway,
	dispatcher *syncsvc.Dispatcher,
	store queue.Store,
	deviceStore devices.Store,
	repos map[records.DataType]records.Repository,
) http.Handler {
	routes := NewRoutes(gateway, dispatcher, store, deviceStore, repos)

	r := chi.NewRouter()

	// Queue operations
	r.Route("/queue", func(r chi.Router) {
		r.Get("/status", routes.getQueueStatus)
		r.Get("/stats", routes.getQueueStats)
		r.Post("/start", routes.startDispatcher)
		r.Post("/stop", routes.stopDispatcher)
		r.Post("/test", routes.enqueueTestBatch)
		r.Route("/items", func(r chi.Router) {
			r.Get("/", routes.listQueueItems)
			r.Delete("/failed", routes.deleteFailedItems)
			r.Get("/{queueId}", routes.getQueueItem)
			r.Delete("/{queueId}", routes.deleteQueueItem)
			r.Post("/{queueId}/retry", routes.retryQueueItem)
		})
	})

	// Device state
	r.Route("/devices", func(r chi.Router) {
		r.Get("/", routes.listDevices)
		r.Get("/{deviceId}", routes.getDevice)
	})

	// Ingestion and record access per data type
	r.Route("/{dataType}", func(r chi.Router) {
		r.Post("/sync", routes.syncBatch)
		r.Get("/{deviceId}", routes.listRecords)
	})

	return r
}

// syncRequest is the ingestion payload. Records may arrive under the generic
// "records" field or under a field named after the data type, matching what
// device clients send.
type syncRequest struct {
	DeviceID      string            `json:"deviceId"`
	Records       []json.RawMessage `json:"records,omitempty"`
	Contacts      []json.RawMessage `json:"contacts,omitempty"`
	CallLogs      []json.RawMessage `json:"call_logs,omitempty"`
	Messages      []json.RawMessage `json:"messages,omitempty"`
	Notifications []json.RawMessage `json:"notifications,omitempty"`
	EmailAccounts []json.RawMessage `json:"email_accounts,omitempty"`
}

// payloadFor returns the batch for the requested data type, preferring the
// generic records field.
func (s *syncRequest) payloadFor(dt records.DataType) []json.RawMessage {
	if len(s.Records) > 0 {
		return s.Records
	}
	switch dt {
	case records.DataTypeContacts:
		return s.Contacts
	case records.DataTypeCallLogs:
		return s.CallLogs
	case records.DataTypeMessages:
		return s.Messages
	case records.DataTypeNotifications:
		return s.Notifications
	case records.DataTypeEmailAccounts:
		return s.EmailAccounts
	}
	return nil
}

// syncResponse is the ingestion response. Message distinguishes the queued
// and inline paths for clients that only look at text.
type syncResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	*syncsvc.SyncResult
}

// syncBatch handles POST /api/{dataType}/sync
func (rr *Routes) syncBatch(w http.ResponseWriter, r *http.Request) {
	dt, err := records.ParseDataType(chi.URLParam(r, "dataType"))
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.WriteErrorResponse(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	result, err := rr.gateway.Sync(r.Context(), req.DeviceID, dt, req.payloadFor(dt))
	if err != nil {
		rr.writeServiceError(w, err, "Failed to accept sync batch")
		return
	}

	message := "Data synced successfully"
	status := http.StatusOK
	if result.Queued {
		message = "Data queued for processing"
		status = http.StatusAccepted
	}
	common.WriteJSONResponse(w, syncResponse{
		Success:    true,
		Message:    message,
		SyncResult: result,
	}, status)
}

// recordListResponse is one page of a device's synced records.
type recordListResponse struct {
	DeviceID string            `json:"deviceId"`
	DataType records.DataType  `json:"dataType"`
	Records  []*records.Synced `json:"records"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	Limit    int               `json:"limit"`
}

// listRecords handles GET /api/{dataType}/{deviceId}
func (rr *Routes) listRecords(w http.ResponseWriter, r *http.Request) {
	dt, err := records.ParseDataType(chi.URLParam(r, "dataType"))
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	deviceID, err := common.PathParam(r, "deviceId")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 100)

	repo, ok := rr.repos[dt]
	if !ok {
		common.WriteErrorResponse(w, "Unsupported data type", http.StatusBadRequest)
		return
	}

	synced, total, err := repo.List(r.Context(), deviceID, page, limit)
	if err != nil {
		slog.Error("Failed to list records", "data_type", dt, "device_id", deviceID, "error", err)
		common.WriteErrorResponse(w, "Failed to list records", http.StatusInternalServerError)
		return
	}

	common.WriteJSONResponse(w, recordListResponse{
		DeviceID: deviceID,
		DataType: dt,
		Records:  synced,
		Total:    total,
		Page:     page,
		Limit:    limit,
	}, http.StatusOK)
}

// listDevices handles GET /api/devices
func (rr *Routes) listDevices(w http.ResponseWriter, r *http.Request) {
	listed, err := rr.devices.List(r.Context())
	if err != nil {
		slog.Error("Failed to list devices", "error", err)
		common.WriteErrorResponse(w, "Failed to list devices", http.StatusInternalServerError)
		return
	}
	common.WriteJSONResponse(w, map[string]any{
		"devices": listed,
		"total":   len(listed),
	}, http.StatusOK)
}

// getDevice handles GET /api/devices/{deviceId}
func (rr *Routes) getDevice(w http.ResponseWriter, r *http.Request) {
	deviceID, err := common.PathParam(r, "deviceId")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	device, err := rr.devices.Get(r.Context(), deviceID)
	if err != nil {
		rr.writeServiceError(w, err, "Failed to get device")
		return
	}
	common.WriteJSONResponse(w, device, http.StatusOK)
}

// queueStatusResponse reports whether the dispatcher runs and how the queue
// is populated.
type queueStatusResponse struct {
	IsProcessing bool                 `json:"isProcessing"`
	Queue        map[queue.Status]int `json:"queue"`
}

// getQueueStatus handles GET /api/queue/status
func (rr *Routes) getQueueStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := rr.store.Stats(r.Context())
	if err != nil {
		slog.Error("Failed to get queue stats", "error", err)
		common.WriteErrorResponse(w, "Failed to get queue status", http.StatusInternalServerError)
		return
	}
	common.WriteJSONResponse(w, queueStatusResponse{
		IsProcessing: rr.dispatcher.IsRunning(),
		Queue:        stats.Summary,
	}, http.StatusOK)
}

// getQueueStats handles GET /api/queue/stats
func (rr *Routes) getQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := rr.store.Stats(r.Context())
	if err != nil {
		slog.Error("Failed to get queue stats", "error", err)
		common.WriteErrorResponse(w, "Failed to get queue stats", http.StatusInternalServerError)
		return
	}
	common.WriteJSONResponse(w, stats, http.StatusOK)
}

// startDispatcher handles POST /api/queue/start
func (rr *Routes) startDispatcher(w http.ResponseWriter, r *http.Request) {
	// The dispatcher loop outlives the request, so it must not inherit the
	// request cancellation.
	if err := rr.dispatcher.Start(context.WithoutCancel(r.Context())); err != nil {
		rr.writeServiceError(w, err, "Failed to start queue processing")
		return
	}
	common.WriteJSONResponse(w, map[string]any{
		"success": true,
		"message": "Queue processing started",
	}, http.StatusOK)
}

// stopDispatcher handles POST /api/queue/stop
func (rr *Routes) stopDispatcher(w http.ResponseWriter, _ *http.Request) {
	if err := rr.dispatcher.Stop(); err != nil {
		rr.writeServiceError(w, err, "Failed to stop queue processing")
		return
	}
	common.WriteJSONResponse(w, map[string]any{
		"success": true,
		"message": "Queue processing stopped",
	}, http.StatusOK)
}

// testRequest is the body of POST /api/queue/test. DataCount falls back to
// the gateway default when absent or zero.
type testRequest struct {
	DeviceID  string `json:"deviceId"`
	DataType  string `json:"dataType"`
	DataCount int    `json:"dataCount"`
}

// enqueueTestBatch handles POST /api/queue/test
func (rr *Routes) enqueueTestBatch(w http.ResponseWriter, r *http.Request) {
	var req testRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.WriteErrorResponse(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	if req.DeviceID == "" || req.DataType == "" {
		common.WriteErrorResponse(w, "deviceId and dataType are required", http.StatusBadRequest)
		return
	}
	dt, err := records.ParseDataType(req.DataType)
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := rr.gateway.EnqueueTest(r.Context(), req.DeviceID, dt, req.DataCount)
	if err != nil {
		rr.writeServiceError(w, err, "Failed to enqueue test batch")
		return
	}
	common.WriteJSONResponse(w, syncResponse{
		Success:    true,
		Message:    "Test batch queued",
		SyncResult: result,
	}, http.StatusAccepted)
}

// listQueueItems handles GET /api/queue/items
func (rr *Routes) listQueueItems(w http.ResponseWriter, r *http.Request) {
	opts := queue.ListOptions{
		DeviceID: r.URL.Query().Get("deviceId"),
		Page:     queryInt(r, "page", 1),
		Limit:    queryInt(r, "limit", queue.DefaultPageSize),
	}
	if s := r.URL.Query().Get("status"); s != "" {
		status := queue.Status(s)
		if !status.Valid() {
			common.WriteErrorResponse(w, "Unknown status filter", http.StatusBadRequest)
			return
		}
		opts.Status = status
	}
	if s := r.URL.Query().Get("dataType"); s != "" {
		dt, err := records.ParseDataType(s)
		if err != nil {
			common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
		opts.DataType = dt
	}

	listed, err := rr.store.List(r.Context(), opts)
	if err != nil {
		slog.Error("Failed to list queue items", "error", err)
		common.WriteErrorResponse(w, "Failed to list queue items", http.StatusInternalServerError)
		return
	}
	common.WriteJSONResponse(w, listed, http.StatusOK)
}

// getQueueItem handles GET /api/queue/items/{queueId}
func (rr *Routes) getQueueItem(w http.ResponseWriter, r *http.Request) {
	id, err := common.PathParam(r, "queueId")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	item, err := rr.store.Get(r.Context(), id)
	if err != nil {
		rr.writeServiceError(w, err, "Failed to get queue item")
		return
	}
	common.WriteJSONResponse(w, item.Summarize(), http.StatusOK)
}

// retryQueueItem handles POST /api/queue/items/{queueId}/retry
func (rr *Routes) retryQueueItem(w http.ResponseWriter, r *http.Request) {
	id, err := common.PathParam(r, "queueId")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := rr.store.Retry(r.Context(), id); err != nil {
		rr.writeServiceError(w, err, "Failed to retry queue item")
		return
	}
	common.WriteJSONResponse(w, map[string]any{
		"success": true,
		"message": "Queue item queued for retry",
		"queueId": id,
	}, http.StatusOK)
}

// deleteQueueItem handles DELETE /api/queue/items/{queueId}
func (rr *Routes) deleteQueueItem(w http.ResponseWriter, r *http.Request) {
	id, err := common.PathParam(r, "queueId")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := rr.store.Delete(r.Context(), id); err != nil {
		rr.writeServiceError(w, err, "Failed to delete queue item")
		return
	}
	common.WriteJSONResponse(w, map[string]any{
		"success": true,
		"message": "Queue item deleted",
		"queueId": id,
	}, http.StatusOK)
}

// deleteFailedItems handles DELETE /api/queue/items/failed
func (rr *Routes) deleteFailedItems(w http.ResponseWriter, r *http.Request) {
	removed, err := rr.store.DeleteFailed(r.Context())
	if err != nil {
		slog.Error("Failed to delete failed queue items", "error", err)
		common.WriteErrorResponse(w, "Failed to delete failed queue items", http.StatusInternalServerError)
		return
	}
	common.WriteJSONResponse(w, map[string]any{
		"success": true,
		"deleted": removed,
	}, http.StatusOK)
}

// writeServiceError maps service errors to HTTP status codes.
func (*Routes) writeServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, syncsvc.ErrValidation):
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, queue.ErrNotFound), errors.Is(err, devices.ErrNotFound),
		errors.Is(err, records.ErrNotFound):
		common.WriteErrorResponse(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, queue.ErrInvalidState),
		errors.Is(err, syncsvc.ErrAlreadyRunning),
		errors.Is(err, syncsvc.ErrNotRunning):
		common.WriteErrorResponse(w, err.Error(), http.StatusConflict)
	default:
		slog.Error("Request failed", "error", err)
		common.WriteErrorResponse(w, fallback, http.StatusInternalServerError)
	}
}

// queryInt parses an integer query parameter with a fallback.
func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

// HealthRouter creates a router for health check endpoints
func HealthRouter(store queue.Store) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", healthHandler)
	r.Get("/readiness", readinessHandler(store))
	r.Get("/version", versionHandler)

	return r
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

// readinessHandler handles readiness check requests. The server is ready
// when the queue store answers.
func readinessHandler(store queue.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := store.Stats(r.Context()); err != nil {
			common.WriteErrorResponse(w, "Queue store not ready: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	}
}

// versionHandler handles version information requests
func versionHandler(w http.ResponseWriter, _ *http.Request) {
	info := versions.GetVersionInfo()

	common.WriteJSONResponse(w, map[string]string{
		"version":    info.Version,
		"commit":     info.Commit,
		"build_date": info.BuildDate,
		"go_version": info.GoVersion,
		"platform":   info.Platform,
	}, http.StatusOK)
}
