// ABOUTME: Greedy minimum-load matcher pairing queued customers with agents.
// ABOUTME: Passes are debounced so bursts of triggers cost one scan, not N.

package broker

import (
	"time"

	"github.com/google/uuid"

	"github.com/AlekLiao/CS-System/internal/protocol"
)

// scheduleMatchLocked arms one deferred matching pass. Triggers arriving while
// a pass is pending are coalesced into it.
func (b *Broker) scheduleMatchLocked() {
	if b.closed || b.matchPending {
		return
	}
	b.matchPending = true
	time.AfterFunc(b.cfg.MatchDebounce, b.runScheduledMatch)
}

// runScheduledMatch is the timer callback for a pending pass.
func (b *Broker) runScheduledMatch() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.matchPending = false
	if b.closed {
		return
	}
	b.matchLocked()
}

// matchLocked runs one atomic matching pass over the queue and agent set.
// Customers whose connections died in the queue are discarded, not re-queued.
func (b *Broker) matchLocked() {
	if len(b.conversations) >= b.cfg.MaxSessions {
		return
	}
	if len(b.queue) == 0 {
		return
	}

	candidates := make([]*agentRecord, 0, len(b.agents))
	for _, id := range b.agentOrder {
		if agent := b.agents[id]; agent.activeCount < agent.capacity {
			candidates = append(candidates, agent)
		}
	}
	if len(candidates) == 0 {
		return
	}

	for len(b.queue) > 0 && len(candidates) > 0 && len(b.conversations) < b.cfg.MaxSessions {
		customerID, _ := b.queue.popHead()
		cust, ok := b.customers[customerID]
		if !ok || !cust.conn.Live() {
			continue
		}

		var agent *agentRecord
		agent, candidates = pickLeastLoaded(candidates)
		if agent == nil {
			// No candidate can take this customer; keep its queue position.
			b.queue.restoreHead(customerID)
			break
		}

		b.startSessionLocked(agent, cust)

		if agent.activeCount >= agent.capacity {
			candidates = removeCandidate(candidates, agent)
		}
	}

	b.broadcastStatsLocked()
}

// startSessionLocked opens a conversation and notifies both parties.
func (b *Broker) startSessionLocked(agent *agentRecord, cust *customerRecord) {
	roomID := uuid.New().String()
	b.conversations[roomID] = conversation{agentID: agent.id, customerID: cust.id}
	agent.activeCount++
	agent.rooms = append(agent.rooms, roomID)
	cust.roomID = roomID

	cust.conn.Send(protocol.ChatStartedForCustomer(roomID, agent.id, agent.name))
	agent.conn.Send(protocol.ChatStartedForAgent(roomID, cust.id))

	b.logger.Info("session started",
		"room_id", roomID,
		"agent_id", agent.id,
		"customer_id", cust.id,
		"agent_load", agent.activeCount,
		"agent_capacity", agent.capacity,
	)
}

// pickLeastLoaded selects the candidate with the strictly smallest active
// count, first found winning ties. Candidates discovered at capacity are
// pruned and selection retries without consuming another customer.
func pickLeastLoaded(candidates []*agentRecord) (*agentRecord, []*agentRecord) {
	for len(candidates) > 0 {
		idx := 0
		for i, agent := range candidates[1:] {
			if agent.activeCount < candidates[idx].activeCount {
				idx = i + 1
			}
		}
		if candidates[idx].activeCount >= candidates[idx].capacity {
			candidates = append(candidates[:idx], candidates[idx+1:]...)
			continue
		}
		return candidates[idx], candidates
	}
	return nil, candidates
}

// removeCandidate drops the given agent from the candidate slice.
func removeCandidate(candidates []*agentRecord, agent *agentRecord) []*agentRecord {
	for i, a := range candidates {
		if a == agent {
			return append(candidates[:i], candidates[i+1:]...)
		}
	}
	return candidates
}
