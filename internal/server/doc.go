// Package server hosts the broker's websocket transport.
//
// # Overview
//
// The Server upgrades connections on /ws, wraps each in a client with a read
// pump and a write pump, and dispatches decoded protocol messages to the
// broker. Health endpoints live on /healthz (process alive) and
// /healthz/ready (at least one agent connected).
//
// # Connection lifecycle
//
//  1. HTTP GET /ws upgrades to a websocket.
//  2. The first hello message declares the connection's role; everything
//     before it is dropped.
//  3. Inbound messages are dispatched to the broker by role.
//  4. A read error (close, timeout, forced termination) triggers the broker's
//     disconnect teardown for the declared identity.
//
// # Writer discipline
//
// Each connection has exactly one writer goroutine. Broker notifications go
// through a buffered send channel, and liveness pings are requested through a
// separate channel so control frames never race data frames.
//
// # Liveness
//
// A fixed-interval sweep marks every connection suspected and sends a ping;
// a pong clears the suspicion. A connection still suspected at the next sweep
// is forcibly closed, bounding how long a half-open peer can hold queue
// position or session capacity.
package server
