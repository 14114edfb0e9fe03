// ABOUTME: End-to-end tests driving the websocket transport against the broker.
// ABOUTME: Covers the full hello/match/relay/end flow, health checks, and liveness.

package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlekLiao/CS-System/internal/config"
	"github.com/AlekLiao/CS-System/internal/protocol"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Broker: config.BrokerConfig{
			MaxSessions:          10,
			DefaultAgentCapacity: 3,
			MatchDebounce:        5 * time.Millisecond,
			HeartbeatInterval:    time.Minute,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(cfg, logger)
	ts := httptest.NewServer(s.httpServer.Handler)
	t.Cleanup(ts.Close)
	return s, ts
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendMsg(t *testing.T, conn *websocket.Conn, msg protocol.Message) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

// readUntil reads messages until one of the wanted type arrives, skipping
// interleaved stats broadcasts and the like.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) protocol.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		var msg protocol.Message
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %s", msgType)
		if msg.Type == msgType {
			return msg
		}
	}
}

func TestEndToEndConversation(t *testing.T) {
	_, ts := newTestServer(t)

	agent := dialWS(t, ts)
	sendMsg(t, agent, protocol.Message{
		Type:     protocol.TypeHello,
		Role:     protocol.RoleAgent,
		Name:     "Ada",
		Capacity: protocol.IntPtr(2),
	})
	agentAck := readUntil(t, agent, protocol.TypeHelloAck)
	require.NotEmpty(t, agentAck.AgentID)
	assert.Equal(t, "Ada", agentAck.Name)
	assert.Equal(t, 2, agentAck.CapacityValue())

	customer := dialWS(t, ts)
	sendMsg(t, customer, protocol.Message{
		Type: protocol.TypeHello,
		Role: protocol.RoleCustomer,
	})
	custAck := readUntil(t, customer, protocol.TypeHelloAck)
	require.NotEmpty(t, custAck.CustomerID)

	sendMsg(t, customer, protocol.Message{Type: protocol.TypeJoinQueue})
	queued := readUntil(t, customer, protocol.TypeQueued)
	assert.Equal(t, 1, queued.PositionValue())

	custStarted := readUntil(t, customer, protocol.TypeChatStarted)
	assert.Equal(t, agentAck.AgentID, custStarted.AgentID)
	assert.Equal(t, "Ada", custStarted.AgentName)
	require.NotEmpty(t, custStarted.RoomID)

	agentStarted := readUntil(t, agent, protocol.TypeChatStarted)
	assert.Equal(t, custStarted.RoomID, agentStarted.RoomID)
	assert.Equal(t, custAck.CustomerID, agentStarted.CustomerID)

	sendMsg(t, customer, protocol.Message{
		Type:   protocol.TypeChatMessage,
		RoomID: custStarted.RoomID,
		Text:   protocol.StrPtr("my order never arrived"),
	})
	relayed := readUntil(t, agent, protocol.TypeChatMessage)
	assert.Equal(t, protocol.RoleCustomer, relayed.From)
	assert.Equal(t, "my order never arrived", relayed.TextValue())
	assert.Equal(t, custAck.CustomerID, relayed.CustomerID)
	assert.Greater(t, relayed.TS, int64(0))

	sendMsg(t, agent, protocol.Message{
		Type:   protocol.TypeChatMessage,
		RoomID: custStarted.RoomID,
		Text:   protocol.StrPtr("let me check that for you"),
	})
	reply := readUntil(t, customer, protocol.TypeChatMessage)
	assert.Equal(t, protocol.RoleAgent, reply.From)

	sendMsg(t, agent, protocol.Message{Type: protocol.TypeEndChat, RoomID: custStarted.RoomID})
	agentEnded := readUntil(t, agent, protocol.TypeChatEnded)
	custEnded := readUntil(t, customer, protocol.TypeChatEnded)
	assert.Equal(t, protocol.ReasonEndedByUser, agentEnded.Reason)
	assert.Equal(t, protocol.ReasonEndedByUser, custEnded.Reason)
}

func TestHealthEndpoints(t *testing.T) {
	s, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/healthz/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	agent := dialWS(t, ts)
	sendMsg(t, agent, protocol.Message{Type: protocol.TypeHello, Role: protocol.RoleAgent})
	readUntil(t, agent, protocol.TypeHelloAck)
	require.Equal(t, 1, s.broker.AgentCount())

	resp, err = http.Get(ts.URL + "/healthz/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPreDeclarationAndMalformedMessagesDropped(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dialWS(t, ts)

	// None of these may kill the connection or produce a reply.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	sendMsg(t, conn, protocol.Message{Type: protocol.TypeJoinQueue})
	sendMsg(t, conn, protocol.Message{Type: protocol.TypeChatMessage, RoomID: "x", Text: protocol.StrPtr("y")})

	sendMsg(t, conn, protocol.Message{Type: protocol.TypeHello, Role: protocol.RoleCustomer})
	ack := readUntil(t, conn, protocol.TypeHelloAck)
	assert.Equal(t, protocol.RoleCustomer, ack.Role)
}

func TestEmptyChatLineRelayed(t *testing.T) {
	_, ts := newTestServer(t)

	agent := dialWS(t, ts)
	sendMsg(t, agent, protocol.Message{Type: protocol.TypeHello, Role: protocol.RoleAgent, AgentID: "a1"})
	readUntil(t, agent, protocol.TypeHelloAck)

	customer := dialWS(t, ts)
	sendMsg(t, customer, protocol.Message{Type: protocol.TypeHello, Role: protocol.RoleCustomer, CustomerID: "c1"})
	readUntil(t, customer, protocol.TypeHelloAck)
	sendMsg(t, customer, protocol.Message{Type: protocol.TypeJoinQueue})
	started := readUntil(t, customer, protocol.TypeChatStarted)
	readUntil(t, agent, protocol.TypeChatStarted)

	// A chat_message with no text field at all is dropped; one carrying an
	// empty string is a legitimate (blank) line and goes through.
	sendMsg(t, customer, protocol.Message{Type: protocol.TypeChatMessage, RoomID: started.RoomID})
	sendMsg(t, customer, protocol.Message{Type: protocol.TypeChatMessage, RoomID: started.RoomID, Text: protocol.StrPtr("")})
	sendMsg(t, customer, protocol.Message{Type: protocol.TypeChatMessage, RoomID: started.RoomID, Text: protocol.StrPtr("still there?")})

	first := readUntil(t, agent, protocol.TypeChatMessage)
	require.NotNil(t, first.Text)
	assert.Equal(t, "", first.TextValue())

	second := readUntil(t, agent, protocol.TypeChatMessage)
	assert.Equal(t, "still there?", second.TextValue())
}

func TestDuplicateHelloIgnored(t *testing.T) {
	s, ts := newTestServer(t)
	conn := dialWS(t, ts)

	sendMsg(t, conn, protocol.Message{Type: protocol.TypeHello, Role: protocol.RoleAgent, AgentID: "a1"})
	readUntil(t, conn, protocol.TypeHelloAck)

	// A second declaration must not re-register or change the role.
	sendMsg(t, conn, protocol.Message{Type: protocol.TypeHello, Role: protocol.RoleCustomer, CustomerID: "c1"})

	assert.Never(t, func() bool {
		return s.broker.AgentCount() != 1
	}, 100*time.Millisecond, 20*time.Millisecond)
}

func TestLivenessSweepClosesUnresponsiveConnection(t *testing.T) {
	s, ts := newTestServer(t)
	conn := dialWS(t, ts)

	sendMsg(t, conn, protocol.Message{Type: protocol.TypeHello, Role: protocol.RoleAgent, AgentID: "a1"})
	readUntil(t, conn, protocol.TypeHelloAck)
	require.Equal(t, 1, s.broker.AgentCount())

	// Swallow pings so the connection never answers a probe.
	conn.SetPingHandler(func(string) error { return nil })
	readDone := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				readDone <- err
				return
			}
		}
	}()

	s.sweepClients() // marks suspected, sends probe
	time.Sleep(50 * time.Millisecond)
	s.sweepClients() // still suspected: force close

	select {
	case <-readDone:
	case <-time.After(2 * time.Second):
		t.Fatal("connection was not closed by the liveness sweep")
	}

	assert.Eventually(t, func() bool {
		return s.broker.AgentCount() == 0
	}, 2*time.Second, 10*time.Millisecond, "teardown should remove the agent")
}
