// Package audit implements async event dispatching for security-relevant operations.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, slog, no-op).
//   - [Dispatcher]: ordered async relay. A full queue drops (logged, counted) or
//     blocks; a panicking sink loses one event; Close drains until DrainTimeout.
//   - [Event]: structured audit record with timestamp, type, account, tenant, IP, metadata.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which events
// to emit; the Engine does.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import authcore or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
