// Package ws is the websocket edge of the sync engine. It upgrades HTTP
// connections, walks each one through the AUTH then ID handshake, and
// routes inbound frames to the store and engine.
//
// One goroutine per connection reads frames in arrival order; frame N's
// handler finishes before frame N+1 is read, so a session's operations
// apply in the order the browser emitted them. Outbound writes can come
// from the read loop or from dispatcher goroutines and are serialized
// inside conn.
package ws
