// Package connection maintains streaming WebSocket connections to the
// chat-completion service.
//
// Three pieces, composed top-down:
//   - Registry: at most one connection per conversation, reused across
//     exchanges within a turn and replaced when the turn changes
//   - Conn: one socket's lifecycle (connect, frame dispatch, dispose)
//   - Request: one outstanding exchange (event stream, settle-once)
package connection
