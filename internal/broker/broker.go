// ABOUTME: Broker owns the registry, waiting queue, and conversation table.
// ABOUTME: All state mutations run under one mutex as run-to-completion reactions.

package broker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AlekLiao/CS-System/internal/protocol"
)

// Sender is the outbound half of a connection. Send is fire-and-forget: it
// must never block and must silently discard when the connection is gone.
type Sender interface {
	Send(msg protocol.Message)
	Live() bool
}

// Config holds the broker tuning knobs.
type Config struct {
	// MaxSessions caps concurrently active conversations across all agents.
	MaxSessions int

	// DefaultAgentCapacity is used when an agent declares no capacity.
	DefaultAgentCapacity int

	// MatchDebounce coalesces match triggers into one deferred pass.
	MatchDebounce time.Duration
}

// agentRecord tracks one declared agent connection.
type agentRecord struct {
	id          string
	name        string
	capacity    int
	activeCount int
	rooms       []string // creation order; teardown order on disconnect
	conn        Sender
}

// customerRecord tracks one declared customer connection.
type customerRecord struct {
	id     string
	roomID string // empty when unmatched
	conn   Sender
}

// conversation links one agent to one customer under a room id.
type conversation struct {
	agentID    string
	customerID string
}

// Broker pairs queued customers with under-capacity agents and relays chat
// between the two members of each session. All structures are memory-resident
// and owned exclusively by the broker.
type Broker struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu            sync.Mutex
	agents        map[string]*agentRecord
	agentOrder    []string // connection order; tie-break order for matching
	customers     map[string]*customerRecord
	queue         waitingQueue
	conversations map[string]conversation
	matchPending  bool
	closed        bool
}

// New creates a Broker. Pass nil logger for the default.
func New(cfg Config, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 1
	}
	if cfg.DefaultAgentCapacity <= 0 {
		cfg.DefaultAgentCapacity = 1
	}
	return &Broker{
		cfg:           cfg,
		logger:        logger.With("component", "broker"),
		now:           time.Now,
		agents:        make(map[string]*agentRecord),
		customers:     make(map[string]*customerRecord),
		conversations: make(map[string]conversation),
	}
}

// Close stops the broker from scheduling further matching passes. Connected
// clients are not torn down; the transport owns their lifecycle.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

// RegisterAgent admits an agent role declaration and returns the effective
// agent id. An empty id gets a generated one; re-declaring an existing id
// rebinds the connection while keeping the agent's active sessions, which
// supports reconnection under the same identity. A reconnect hello that
// omits name or capacity keeps the previously declared values.
func (b *Broker) RegisterAgent(conn Sender, id, name string, capacity int) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if id == "" {
		id = uuid.New().String()
	}

	if existing, ok := b.agents[id]; ok {
		existing.conn = conn
		if name != "" {
			existing.name = name
		}
		if capacity >= 1 {
			existing.capacity = capacity
		}
	} else {
		if name == "" {
			name = "Agent-" + shortID(id)
		}
		if capacity < 1 {
			capacity = b.cfg.DefaultAgentCapacity
		}
		b.agents[id] = &agentRecord{
			id:       id,
			name:     name,
			capacity: capacity,
			conn:     conn,
		}
		b.agentOrder = append(b.agentOrder, id)
	}

	agent := b.agents[id]
	b.logger.Info("agent connected",
		"agent_id", id,
		"name", agent.name,
		"capacity", agent.capacity,
		"total_agents", len(b.agents),
	)

	conn.Send(protocol.AgentHelloAck(id, agent.name, agent.capacity))
	b.broadcastStatsLocked()
	b.scheduleMatchLocked()
	return id
}

// RegisterCustomer admits a customer role declaration and returns the
// effective customer id. Re-declaring an existing id rebinds the connection
// while keeping any active session pointer.
func (b *Broker) RegisterCustomer(conn Sender, id string) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if id == "" {
		id = uuid.New().String()
	}

	if existing, ok := b.customers[id]; ok {
		existing.conn = conn
	} else {
		b.customers[id] = &customerRecord{id: id, conn: conn}
	}

	b.logger.Info("customer connected",
		"customer_id", id,
		"total_customers", len(b.customers),
	)

	conn.Send(protocol.CustomerHelloAck(id))
	return id
}

// JoinQueue appends a customer to the waiting queue. A customer that is
// unknown, already queued, or already in a session is a silent no-op.
func (b *Broker) JoinQueue(customerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cust, ok := b.customers[customerID]
	if !ok || cust.roomID != "" || b.queue.contains(customerID) {
		return
	}

	b.queue.push(customerID)
	cust.conn.Send(protocol.Queued(len(b.queue)))
	b.logger.Debug("customer queued", "customer_id", customerID, "position", len(b.queue))
	b.broadcastStatsLocked()
	b.scheduleMatchLocked()
}

// SetCapacity adjusts an agent's declared concurrency, clamped to at least 1.
// Dropping below the current active count does not end sessions; it only
// blocks new matches until load falls under the new ceiling.
func (b *Broker) SetCapacity(agentID string, capacity int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	agent, ok := b.agents[agentID]
	if !ok {
		return
	}

	if capacity < 1 {
		capacity = 1
	}
	agent.capacity = capacity
	b.logger.Debug("capacity changed", "agent_id", agentID, "capacity", capacity, "active", agent.activeCount)
	b.broadcastStatsLocked()
	b.scheduleMatchLocked()
}

// DisconnectAgent tears down every session the agent owns and removes the
// record. The conn argument guards against a stale close event racing a
// reconnection under the same id.
func (b *Broker) DisconnectAgent(agentID string, conn Sender) {
	b.mu.Lock()
	defer b.mu.Unlock()

	agent, ok := b.agents[agentID]
	if !ok || agent.conn != conn {
		return
	}

	rooms := make([]string, len(agent.rooms))
	copy(rooms, agent.rooms)
	for _, roomID := range rooms {
		b.endSessionLocked(roomID, protocol.ReasonAgentDisconnected)
	}

	delete(b.agents, agentID)
	b.agentOrder = removeID(b.agentOrder, agentID)
	b.logger.Info("agent disconnected",
		"agent_id", agentID,
		"torn_down", len(rooms),
		"total_agents", len(b.agents),
	)
	b.broadcastStatsLocked()
}

// DisconnectCustomer removes the customer from the queue and, if it holds a
// session, tears the session down. The conn argument guards against a stale
// close event racing a reconnection under the same id.
func (b *Broker) DisconnectCustomer(customerID string, conn Sender) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cust, ok := b.customers[customerID]
	if !ok || cust.conn != conn {
		return
	}

	b.queue.remove(customerID)
	if cust.roomID != "" {
		b.endSessionLocked(cust.roomID, protocol.ReasonCustomerDisconnected)
	}

	delete(b.customers, customerID)
	b.logger.Info("customer disconnected",
		"customer_id", customerID,
		"total_customers", len(b.customers),
	)
	b.broadcastStatsLocked()
}

// AgentCount reports the number of connected agents.
func (b *Broker) AgentCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.agents)
}

// SessionCount reports the number of active conversations.
func (b *Broker) SessionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conversations)
}

// WaitingCount reports the current queue length.
func (b *Broker) WaitingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// broadcastStatsLocked sends each agent the queue length and its own load.
func (b *Broker) broadcastStatsLocked() {
	waiting := len(b.queue)
	for _, id := range b.agentOrder {
		agent := b.agents[id]
		agent.conn.Send(protocol.Stats(waiting, agent.activeCount, agent.capacity))
	}
}

// removeID drops the first occurrence of id from ids, preserving order.
func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// shortID returns the first four characters for display names.
func shortID(id string) string {
	if len(id) > 4 {
		return id[:4]
	}
	return id
}
