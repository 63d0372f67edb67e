package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bilal060/devicesync-server/internal/devices"
	"github.com/bilal060/devicesync-server/internal/queue"
	"github.com/bilal060/devicesync-server/internal/records"
	"github.com/bilal060/devicesync-server/internal/telemetry"
)

// DefaultQueueThreshold is the batch size above which ingestion defers to
// the queue instead of reconciling inline.
const DefaultQueueThreshold = 500

// DefaultTestBatchSize is the record count generated by a test batch when
// the caller does not ask for a specific size.
const DefaultTestBatchSize = 600

// ErrValidation marks a sync request the server refuses to accept. The HTTP
// layer maps it to a 400 response.
var ErrValidation = errors.New("invalid sync request")

// SyncResult is the ingestion outcome returned to the device. For a queued
// batch only QueueID and DataCount are meaningful; for an inline batch the
// per-record counts are final.
type SyncResult struct {
	Queued    bool   `json:"queued"`
	QueueID   string `json:"queueId,omitempty"`
	DataCount int    `json:"dataCount"`

	New            int `json:"newRecords"`
	Updated        int `json:"updatedRecords"`
	Errors         int `json:"errorRecords"`
	TotalProcessed int `json:"totalProcessed"`
}

// Gateway accepts sync batches from devices. Small batches are reconciled on
// the request path; batches above the threshold are queued for the
// dispatcher.
type Gateway struct {
	store      queue.Store
	reconciler *Reconciler
	devices    devices.Store

	threshold   int
	maxAttempts int

	metrics *telemetry.QueueMetrics
}

// GatewayOption is a function that configures the gateway.
type GatewayOption func(*Gateway)

// WithQueueThreshold sets the inline-versus-queue batch size boundary.
func WithQueueThreshold(n int) GatewayOption {
	return func(g *Gateway) {
		if n > 0 {
			g.threshold = n
		}
	}
}

// WithMaxAttempts sets the attempt bound stamped on queued items.
func WithMaxAttempts(n int) GatewayOption {
	return func(g *Gateway) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// WithGatewayMetrics sets the queue metrics for the gateway.
func WithGatewayMetrics(metrics *telemetry.QueueMetrics) GatewayOption {
	return func(g *Gateway) {
		g.metrics = metrics
	}
}

// NewGateway creates an ingestion gateway with injected dependencies.
func NewGateway(
	store queue.Store,
	reconciler *Reconciler,
	deviceStore devices.Store,
	opts ...GatewayOption,
) *Gateway {
	g := &Gateway{
		store:       store,
		reconciler:  reconciler,
		devices:     deviceStore,
		threshold:   DefaultQueueThreshold,
		maxAttempts: queue.DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Sync accepts one batch for a device. The response tells the device whether
// the batch was stored immediately or queued.
func (g *Gateway) Sync(ctx context.Context, deviceID string, dt records.DataType, payload []json.RawMessage) (*SyncResult, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: deviceId is required", ErrValidation)
	}
	if !dt.Valid() {
		return nil, fmt.Errorf("%w: unsupported data type %q", ErrValidation, dt)
	}

	// An empty batch is a valid sequence: it stores nothing and reports
	// zero counts.
	if len(payload) > g.threshold {
		return g.enqueue(ctx, deviceID, dt, payload)
	}
	return g.reconcileInline(ctx, deviceID, dt, payload)
}

// EnqueueTest generates a synthetic batch and queues it unconditionally,
// bypassing the inline threshold. count falls back to DefaultTestBatchSize
// when not positive.
func (g *Gateway) EnqueueTest(ctx context.Context, deviceID string, dt records.DataType, count int) (*SyncResult, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: deviceId is required", ErrValidation)
	}
	if !dt.Valid() {
		return nil, fmt.Errorf("%w: unsupported data type %q", ErrValidation, dt)
	}
	if count <= 0 {
		count = DefaultTestBatchSize
	}

	payload, err := generateTestPayload(dt, count)
	if err != nil {
		return nil, err
	}
	return g.enqueue(ctx, deviceID, dt, payload)
}

func (g *Gateway) enqueue(ctx context.Context, deviceID string, dt records.DataType, payload []json.RawMessage) (*SyncResult, error) {
	id, err := g.store.Enqueue(ctx, &queue.Item{
		DeviceID:    deviceID,
		DataType:    dt,
		Payload:     payload,
		MaxAttempts: g.maxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue sync batch: %w", err)
	}

	g.metrics.RecordEnqueued(ctx, string(dt))
	slog.Info("Sync batch queued",
		"queue_id", id,
		"device_id", deviceID,
		"data_type", dt,
		"data_count", len(payload))

	return &SyncResult{
		Queued:    true,
		QueueID:   id,
		DataCount: len(payload),
	}, nil
}

func (g *Gateway) reconcileInline(ctx context.Context, deviceID string, dt records.DataType, payload []json.RawMessage) (*SyncResult, error) {
	result, err := g.reconciler.ReconcileBatch(ctx, deviceID, dt, payload, nil)
	if err != nil {
		return nil, fmt.Errorf("reconcile sync batch: %w", err)
	}

	g.metrics.RecordReconciled(ctx, string(dt), result.Created, result.Updated, result.Failed)

	if result.Processed() > 0 {
		if err := g.devices.ApplyDelta(ctx, deviceID, dt, result.Created, time.Now()); err != nil {
			slog.Error("Error updating device sync state",
				"device_id", deviceID,
				"data_type", dt,
				"error", err)
		}
	}

	slog.Info("Sync batch stored inline",
		"device_id", deviceID,
		"data_type", dt,
		"new_records", result.Created,
		"updated_records", result.Updated,
		"failed_records", result.Failed)

	return &SyncResult{
		DataCount:      len(payload),
		New:            result.Created,
		Updated:        result.Updated,
		Errors:         result.Failed,
		TotalProcessed: result.Processed(),
	}, nil
}

// generateTestPayload builds count synthetic records of the given type.
func generateTestPayload(dt records.DataType, count int) ([]json.RawMessage, error) {
	now := time.Now().UTC()
	payload := make([]json.RawMessage, 0, count)

	for i := 0; i < count; i++ {
		var rec records.Record
		switch dt {
		case records.DataTypeContacts:
			rec = &records.Contact{
				ContactID:   fmt.Sprintf("test-contact-%d", i),
				Name:        fmt.Sprintf("Test Contact %d", i),
				PhoneNumber: fmt.Sprintf("+1555%07d", i),
			}
		case records.DataTypeCallLogs:
			rec = &records.CallLog{
				CallID:      fmt.Sprintf("test-call-%d", i),
				PhoneNumber: fmt.Sprintf("+1555%07d", i),
				CallType:    records.CallTypeIncoming,
				Timestamp:   now.Add(-time.Duration(i) * time.Minute),
				Duration:    i % 300,
			}
		case records.DataTypeMessages:
			rec = &records.Message{
				MessageID: fmt.Sprintf("test-message-%d", i),
				Address:   fmt.Sprintf("+1555%07d", i),
				Body:      fmt.Sprintf("Test message %d", i),
				Type:      records.MessageTypeSMS,
				Timestamp: now.Add(-time.Duration(i) * time.Minute),
			}
		case records.DataTypeNotifications:
			rec = &records.Notification{
				NotificationID: fmt.Sprintf("test-notification-%d", i),
				PackageName:    "com.example.test",
				AppName:        "Test App",
				Title:          fmt.Sprintf("Test notification %d", i),
				Timestamp:      now.Add(-time.Duration(i) * time.Minute),
			}
		case records.DataTypeEmailAccounts:
			rec = &records.EmailAccount{
				AccountID:    fmt.Sprintf("test-account-%d", i),
				EmailAddress: fmt.Sprintf("test%d@example.com", i),
				Provider:     "example",
			}
		default:
			return nil, fmt.Errorf("unsupported data type %q", dt)
		}

		raw, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("marshal test record: %w", err)
		}
		payload = append(payload, raw)
	}
	return payload, nil
}
