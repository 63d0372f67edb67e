// Package sync implements the device synchronization pipeline: accepting
// batches from devices, queueing them durably, and reconciling them into
// per-type record stores in the background.
//
// # Core Components
//
//   - Gateway: ingestion front door. Validates incoming batches, decides
//     between inline reconciliation and queueing based on batch size, and
//     exposes queue inspection and retry/delete operations.
//   - Dispatcher: background worker. Claims pending queue items one at a
//     time, reconciles them, and finalizes them with a terminal status.
//     Supports start/stop lifecycle control at runtime.
//   - Reconciler: applies a batch to storage, upserting each record by its
//     deduplication key and tracking created/updated/failed counts. The
//     caller (Gateway inline, Dispatcher for queued items) folds the
//     resulting counts into the per-device sync ledger.
//
// # Processing Outcomes
//
// Reconciliation is per-record: a batch where some records fail and others
// succeed finalizes as partially completed rather than failing wholesale.
// Items that fail entirely are requeued by the dispatcher up to the
// configured attempt limit before being marked failed. A failed item can be
// returned to pending through the queue store's Retry operation, which
// resets its attempts and counters.
//
// The package depends only on the queue, records, and devices storage
// interfaces, so it runs unchanged against the in-memory and Postgres
// backends.
package sync
