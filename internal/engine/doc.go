// Package engine implements the per-tenant single-writer event loop.
//
// Every mutation of a tenant's order store flows through one FIFO queue:
// realtime events from the transport, results of remote writes and local
// timer callbacks. Run drains the queue on one goroutine, so handlers never
// race each other and events for an order apply in the order received.
//
// Event Processing Flow:
//  1. Producers call Enqueue, Inbound, Dispatch or Do from any goroutine
//  2. Run dequeues one event at a time and stamps it with the logical clock
//  3. Inbound events are normalized and routed by name
//  4. Handlers update the order store, the print machine and the course
//     tracker, and emit notifications
//
// Processing failures are logged and the loop continues.
package engine
