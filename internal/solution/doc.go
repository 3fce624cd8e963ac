// Package solution is the orchestration core: it coordinates pluggable
// training/prediction solutions through a uniform model lifecycle. It is
// structured into small files by concern:
//
//   - manager.go: core Manager type, model creation, lookup by id/nickname.
//   - errors.go: error types and helpers (IsModelNotFound, IsStateNotAllowed, ...).
//   - feed.go: training-data ingestion and the DATA_FEEDING guard.
//   - train.go: the async training job runner and streaming bridge.
//   - predict.go: prediction jobs (by resource id and by raw payload).
//   - metrics.go: Prometheus job counters.
//
// Lifecycle states move strictly forward (CREATED -> DATA_FEEDING ->
// TRAINING -> MODEL_USABLE) with a single rollback edge TRAINING ->
// DATA_FEEDING on job failure. Every transition goes through the store's
// guarded compare-and-swap; the guard is also what rejects a second training
// request while one is in flight, so no per-model locks exist beyond it.
//
// Training and prediction each run on their own goroutine. Progress and
// results flow back to the synchronous caller over a bounded channel; the
// producer blocks when the channel is full (backpressure, not drop), and a
// closed channel is the end-of-stream sentinel. Jobs are never cancelled:
// a consumer going away does not stop the background work, and the model's
// persisted state is reconciled before the terminal message is delivered.
package solution
