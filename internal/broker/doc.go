// Package broker pairs waiting customers with support agents and relays chat
// between the two members of each session.
//
// # Overview
//
// The Broker owns four structures: the registry of declared agent and
// customer connections, the waiting queue of customers awaiting assignment,
// per-agent capacity counters, and the conversation table of active sessions.
// Nothing outside the broker mutates them; every change happens inside a
// reaction to a protocol message, a connection-close event, or a scheduled
// matching pass, serialized by one mutex.
//
// # Matching
//
// A matching pass is greedy minimum-load: among agents strictly under their
// declared capacity, the one with the smallest active count takes the head of
// the queue, ties broken by connection order. Passes are bounded by a global
// session ceiling. Any event that could enable a match (queue join, capacity
// raise, agent connect, session end) schedules a pass through a debounce
// window, so bursts of triggers cost one scan.
//
// # Session lifecycle
//
//	queued customer ──match──▶ active conversation ──end──▶ removed
//
// A conversation ends by explicit request from either party, by either
// party's disconnect, or by cascade when an agent connection drops. Agent
// loss re-queues each still-live customer at the tail, in the order the
// sessions were created.
//
// # Delivery
//
// Outbound notifications go through the Sender interface and are
// fire-and-forget: a send never blocks a reaction and delivery is at most
// once, bounded by the underlying connection's own reliability.
package broker
