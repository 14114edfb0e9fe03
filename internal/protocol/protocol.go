// ABOUTME: Wire protocol types for the broker's websocket transport.
// ABOUTME: One flat JSON envelope per message, discriminated by the type field.

package protocol

import "encoding/json"

// Message type values, client to server.
const (
	TypeHello       = "hello"
	TypeJoinQueue   = "join_queue"
	TypeSetCapacity = "set_capacity"
	TypeChatMessage = "chat_message"
	TypeEndChat     = "end_chat"
)

// Message type values, server to client.
const (
	TypeHelloAck    = "hello_ack"
	TypeQueued      = "queued"
	TypeStats       = "stats"
	TypeChatStarted = "chat_started"
	TypeChatEnded   = "chat_ended"
	TypeRequeued    = "requeued"
)

// Role values carried in hello and hello_ack messages.
const (
	RoleAgent    = "agent"
	RoleCustomer = "customer"
)

// Reason tags carried in chat_ended messages.
const (
	ReasonEndedByUser          = "ended_by_user"
	ReasonAgentDisconnected    = "agent_disconnected"
	ReasonCustomerDisconnected = "customer_disconnected"
)

// Message is the single envelope exchanged in both directions. Fields are
// populated per message type; unused fields are omitted on the wire. Numeric
// fields that are meaningful at zero (capacity, position, stats counters) are
// pointers so a legitimate zero still gets marshaled.
type Message struct {
	Type string `json:"type"`

	// Identity fields
	Role       string `json:"role,omitempty"`
	AgentID    string `json:"agentId,omitempty"`
	CustomerID string `json:"customerId,omitempty"`
	Name       string `json:"name,omitempty"`

	Capacity *int `json:"capacity,omitempty"`

	// Queue fields
	Position *int `json:"position,omitempty"`

	// Stats fields
	Waiting     *int `json:"waiting,omitempty"`
	ActiveCount *int `json:"activeCount,omitempty"`

	// Session fields
	RoomID    string `json:"roomId,omitempty"`
	AgentName string `json:"agentName,omitempty"`
	Reason    string `json:"reason,omitempty"`

	// Chat fields. Text is a pointer so an empty chat line is distinguishable
	// from a message that carries no text at all.
	From string  `json:"from,omitempty"`
	Text *string `json:"text,omitempty"`
	TS   int64   `json:"ts,omitempty"`
}

// Decode parses a raw payload into a Message. Returns false when the payload
// is not valid JSON or carries no type; the caller drops such messages.
func Decode(data []byte) (Message, bool) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, false
	}
	if msg.Type == "" {
		return Message{}, false
	}
	return msg, true
}

// CapacityValue returns the declared capacity, or 0 if none was supplied.
func (m Message) CapacityValue() int {
	return deref(m.Capacity)
}

// PositionValue returns the queue position, or 0 if none was supplied.
func (m Message) PositionValue() int {
	return deref(m.Position)
}

// WaitingValue returns the waiting count, or 0 if none was supplied.
func (m Message) WaitingValue() int {
	return deref(m.Waiting)
}

// ActiveCountValue returns the active session count, or 0 if none was supplied.
func (m Message) ActiveCountValue() int {
	return deref(m.ActiveCount)
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

// TextValue returns the chat text, or "" if none was supplied.
func (m Message) TextValue() string {
	if m.Text == nil {
		return ""
	}
	return *m.Text
}

// IntPtr is a convenience for building messages with optional numeric fields.
func IntPtr(v int) *int {
	return &v
}

// StrPtr is a convenience for building messages with optional string fields.
func StrPtr(v string) *string {
	return &v
}

// AgentHelloAck acknowledges an agent role declaration.
func AgentHelloAck(agentID, name string, capacity int) Message {
	return Message{
		Type:     TypeHelloAck,
		Role:     RoleAgent,
		AgentID:  agentID,
		Name:     name,
		Capacity: IntPtr(capacity),
	}
}

// CustomerHelloAck acknowledges a customer role declaration.
func CustomerHelloAck(customerID string) Message {
	return Message{
		Type:       TypeHelloAck,
		Role:       RoleCustomer,
		CustomerID: customerID,
	}
}

// Queued acknowledges a queue admission with the 1-based position.
func Queued(position int) Message {
	return Message{Type: TypeQueued, Position: IntPtr(position)}
}

// Stats reports load to a single agent.
func Stats(waiting, activeCount, capacity int) Message {
	return Message{
		Type:        TypeStats,
		Waiting:     IntPtr(waiting),
		ActiveCount: IntPtr(activeCount),
		Capacity:    IntPtr(capacity),
	}
}

// ChatStartedForCustomer notifies a customer that a session opened.
func ChatStartedForCustomer(roomID, agentID, agentName string) Message {
	return Message{
		Type:      TypeChatStarted,
		RoomID:    roomID,
		AgentID:   agentID,
		AgentName: agentName,
	}
}

// ChatStartedForAgent notifies an agent that a session opened.
func ChatStartedForAgent(roomID, customerID string) Message {
	return Message{
		Type:       TypeChatStarted,
		RoomID:     roomID,
		CustomerID: customerID,
	}
}

// ChatEndedForAgent notifies an agent that a session closed.
func ChatEndedForAgent(roomID, customerID, reason string) Message {
	return Message{
		Type:       TypeChatEnded,
		RoomID:     roomID,
		CustomerID: customerID,
		Reason:     reason,
	}
}

// ChatEndedForCustomer notifies a customer that a session closed.
func ChatEndedForCustomer(roomID, agentID, reason string) Message {
	return Message{
		Type:    TypeChatEnded,
		RoomID:  roomID,
		AgentID: agentID,
		Reason:  reason,
	}
}

// Requeued notifies a customer that it was put back in the waiting queue.
func Requeued() Message {
	return Message{Type: TypeRequeued}
}

// ChatRelayToCustomer forwards an agent's chat line to the customer.
func ChatRelayToCustomer(roomID, text string, ts int64) Message {
	return Message{
		Type:   TypeChatMessage,
		RoomID: roomID,
		From:   RoleAgent,
		Text:   StrPtr(text),
		TS:     ts,
	}
}

// ChatRelayToAgent forwards a customer's chat line to the agent. The customer
// id rides along so a multi-session agent UI can attribute the line.
func ChatRelayToAgent(roomID, customerID, text string, ts int64) Message {
	return Message{
		Type:       TypeChatMessage,
		RoomID:     roomID,
		From:       RoleCustomer,
		Text:       StrPtr(text),
		TS:         ts,
		CustomerID: customerID,
	}
}
