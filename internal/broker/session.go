// ABOUTME: Conversation lifecycle: relay, explicit termination, and teardown.
// ABOUTME: Ending by any reason unlinks both parties and frees agent capacity.

package broker

import "github.com/AlekLiao/CS-System/internal/protocol"

// Relay forwards a chat payload to the session counterpart. The session must
// exist and the sender must be its agent or customer of record; anything else
// is a silent drop. Forwarded payloads carry a server-assigned timestamp.
func (b *Broker) Relay(role, senderID, roomID, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	conv, ok := b.conversations[roomID]
	if !ok {
		return
	}

	ts := b.now().UnixMilli()
	switch role {
	case protocol.RoleAgent:
		if conv.agentID != senderID {
			return
		}
		if cust, ok := b.customers[conv.customerID]; ok {
			cust.conn.Send(protocol.ChatRelayToCustomer(roomID, text, ts))
		}
	case protocol.RoleCustomer:
		if conv.customerID != senderID {
			return
		}
		if agent, ok := b.agents[conv.agentID]; ok {
			agent.conn.Send(protocol.ChatRelayToAgent(roomID, conv.customerID, text, ts))
		}
	}
}

// EndSession terminates a conversation at either party's request. A room id
// with no live conversation is a silent no-op, which makes termination
// idempotent.
func (b *Broker) EndSession(roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.endSessionLocked(roomID, protocol.ReasonEndedByUser)
}

// endSessionLocked removes the conversation, notifies both parties, and frees
// the agent's slot. Freed capacity means waiting customers may now be
// placeable, so every end schedules a matching pass. When the agent side
// dropped and the customer is still live, the customer goes back to the
// queue tail first.
func (b *Broker) endSessionLocked(roomID, reason string) {
	conv, ok := b.conversations[roomID]
	if !ok {
		return
	}

	agent := b.agents[conv.agentID]
	cust := b.customers[conv.customerID]

	if agent != nil {
		agent.conn.Send(protocol.ChatEndedForAgent(roomID, conv.customerID, reason))
		agent.rooms = removeID(agent.rooms, roomID)
		if agent.activeCount > 0 {
			agent.activeCount--
		}
	}
	if cust != nil {
		cust.conn.Send(protocol.ChatEndedForCustomer(roomID, conv.agentID, reason))
		cust.roomID = ""
	}

	delete(b.conversations, roomID)
	b.logger.Info("session ended",
		"room_id", roomID,
		"agent_id", conv.agentID,
		"customer_id", conv.customerID,
		"reason", reason,
	)
	b.broadcastStatsLocked()

	if reason == protocol.ReasonAgentDisconnected && cust != nil && cust.conn.Live() {
		b.queue.push(conv.customerID)
		cust.conn.Send(protocol.Requeued())
	}
	b.scheduleMatchLocked()
}
