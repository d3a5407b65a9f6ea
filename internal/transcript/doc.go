// Package transcript implements an append-only batch recorder for stream
// events.
//
// The recorder is purely observational: it consumes events off a request
// handle and batch-inserts them into the chat_events table. It never feeds
// back into connection control flow.
package transcript
