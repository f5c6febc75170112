// Package signaling binds the signaling engine to WebSocket connections.
//
// Each accepted socket becomes one engine connection. The HTTP handler
// goroutine reads frames and hands them to the engine; a writer goroutine per
// socket owns every write (queued frames, pings and the close frame) so the
// engine never blocks on the network while it holds its lock.
package signaling
