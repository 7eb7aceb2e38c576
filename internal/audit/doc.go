// Package audit delivers security-relevant events to a caller-supplied sink
// without blocking the request path.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, zap, no-op).
//   - [Dispatcher]: hands each event to an [async.Runner] as a fire-and-forget task.
//   - [Event]: structured audit record with timestamp, type, user, session, IP, metadata.
//
// # Architecture boundaries
//
// This package owns sink delivery. It does NOT decide which events to emit;
// that belongs to the Engine.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import authcore.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
