// Package store provides SQLite-backed durable storage for per-tenant
// offline write queues.
//
// Each tenant owns one row holding the serialized queue. The blob is opaque
// to the store; decoding and corruption handling belong to the queue.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
