// Package audit carries security events out of the request path.
//
// # Components
//
//   - [Event]: versioned record (see [SchemaVersion]) with a fixed [Details] payload.
//   - [Sink]: consumer interface; slog, JSON lines, channel, Kafka and fan-out
//     implementations live here, the Postgres sink lives with the durable store.
//   - [Dispatcher]: bounded async relay with drop-if-full or block-if-full delivery.
//
// # What this package must NOT do
//
//   - Decide which events to emit.
//   - Block the request path when configured with DropIfFull.
package audit
