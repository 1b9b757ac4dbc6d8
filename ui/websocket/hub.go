package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/evocrm/wabridge/infrastructure/valkey"
	"github.com/sirupsen/logrus"
	valkeylib "github.com/valkey-io/valkey-go"
)

const wsChannel = "wabridge:ws_broadcast"

// Envelope is the frame every server→client event travels in.
type Envelope struct {
	Event    string `json:"event"`
	TicketID string `json:"ticketId,omitempty"`
	Data     any    `json:"data,omitempty"`
}

// relayFrame wraps an Envelope for cross-server fan-out over Valkey.
type relayFrame struct {
	Envelope
	SenderID string `json:"sender_id"`
}

// wsConn is the write surface the hub needs from a connection. The real
// implementation is *websocket.Conn.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
}

type subscriber struct {
	id      string
	conn    wsConn
	userID  string
	writeMu sync.Mutex
	tickets map[string]struct{}
}

func (s *subscriber) write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	// 1 == TextMessage in the websocket wire protocol.
	return s.conn.WriteMessage(1, data)
}

// Hub owns the subscription state: ticket→connections and the reverse
// connection→tickets mapping for O(1) cleanup on disconnect. The maps are
// never exposed; mutations happen synchronously under one mutex with no
// blocking call inside the critical section.
type Hub struct {
	mu      sync.Mutex
	tickets map[string]map[string]*subscriber
	conns   map[string]*subscriber

	vkClient *valkey.Client
	serverID string
}

func NewHub() *Hub {
	return &Hub{
		tickets: make(map[string]map[string]*subscriber),
		conns:   make(map[string]*subscriber),
	}
}

// EnableDistribution relays broadcasts through Valkey pub/sub so sessions
// connected to other servers receive them too.
func (h *Hub) EnableDistribution(client *valkey.Client, serverID string) {
	h.vkClient = client
	h.serverID = serverID
	h.startRelaySubscriber()
}

// Register adds a connection to the hub without any subscriptions yet.
func (h *Hub) Register(connID string, conn wsConn, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[connID] = &subscriber{
		id:      connID,
		conn:    conn,
		userID:  userID,
		tickets: make(map[string]struct{}),
	}
	logrus.Debugf("[WS] Connection registered: %s", connID)
}

// Join subscribes the connection to a ticket and returns the subscriber
// count. Unknown ticket ids are accepted: a conversation may be joined
// before its first message is stored.
func (h *Hub) Join(connID, ticketID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.conns[connID]
	if !ok {
		return 0
	}

	set, ok := h.tickets[ticketID]
	if !ok {
		set = make(map[string]*subscriber)
		h.tickets[ticketID] = set
	}
	set[connID] = sub
	sub.tickets[ticketID] = struct{}{}

	return len(set)
}

// Subscribers reports how many connections are joined to a ticket.
func (h *Hub) Subscribers(ticketID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.tickets[ticketID])
}

// Leave removes the connection from one ticket, pruning the ticket entry
// once its subscriber set is empty.
func (h *Hub) Leave(connID, ticketID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(connID, ticketID)
}

func (h *Hub) leaveLocked(connID, ticketID string) {
	if sub, ok := h.conns[connID]; ok {
		delete(sub.tickets, ticketID)
	}
	if set, ok := h.tickets[ticketID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(h.tickets, ticketID)
		}
	}
}

// Disconnect removes the connection from every ticket it joined.
func (h *Hub) Disconnect(connID string) {
	h.mu.Lock()
	sub, ok := h.conns[connID]
	if ok {
		for ticketID := range sub.tickets {
			h.leaveLocked(connID, ticketID)
		}
		delete(h.conns, connID)
	}
	h.mu.Unlock()

	if ok {
		logrus.Debugf("[WS] Connection unregistered: %s", connID)
	}
}

// Broadcast delivers the event to every subscriber of the ticket and
// returns the local recipient count. Zero subscribers is a logged no-op,
// never an error: persistence happened upstream and does not depend on
// anyone listening.
func (h *Hub) Broadcast(ticketID, event string, payload any) int {
	envelope := Envelope{Event: event, TicketID: ticketID, Data: payload}
	count := h.broadcastLocal(envelope)

	if h.vkClient != nil {
		h.publishRelay(envelope)
	}
	return count
}

// Send delivers an event to one connection only (request/reply paths).
func (h *Hub) Send(connID, event, ticketID string, payload any) error {
	h.mu.Lock()
	sub, ok := h.conns[connID]
	h.mu.Unlock()
	if !ok {
		return nil
	}

	raw, err := json.Marshal(Envelope{Event: event, TicketID: ticketID, Data: payload})
	if err != nil {
		return err
	}
	return sub.write(raw)
}

func (h *Hub) broadcastLocal(envelope Envelope) int {
	raw, err := json.Marshal(envelope)
	if err != nil {
		logrus.Errorf("[WS] Marshal error: %v", err)
		return 0
	}

	// Snapshot targets under the lock, write outside it so a slow client
	// cannot stall join/leave bookkeeping.
	h.mu.Lock()
	set := h.tickets[envelope.TicketID]
	targets := make([]*subscriber, 0, len(set))
	for _, sub := range set {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	if len(targets) == 0 {
		logrus.Debugf("[WS] No subscribers for %s (%s)", envelope.TicketID, envelope.Event)
		return 0
	}

	delivered := 0
	for _, sub := range targets {
		if err := sub.write(raw); err != nil {
			logrus.Errorf("[WS] Write error on %s: %v", sub.id, err)
			h.Disconnect(sub.id)
			continue
		}
		delivered++
	}
	return delivered
}

func (h *Hub) publishRelay(envelope Envelope) {
	frame := relayFrame{Envelope: envelope, SenderID: h.serverID}
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	ctx := context.Background()
	cmd := h.vkClient.Inner().B().Publish().Channel(wsChannel).Message(string(data)).Build()
	if err := h.vkClient.Inner().Do(ctx, cmd).Error(); err != nil {
		logrus.Errorf("[WS] Failed to publish relay frame: %v", err)
	}
}

func (h *Hub) startRelaySubscriber() {
	logrus.Info("[WS] Starting Valkey Pub/Sub subscriber for distributed events")
	go func() {
		inner := h.vkClient.Inner()
		err := inner.Receive(context.Background(), inner.B().Subscribe().Channel(wsChannel).Build(), func(msg valkeylib.PubSubMessage) {
			var frame relayFrame
			if err := json.Unmarshal([]byte(msg.Message), &frame); err != nil {
				return
			}
			// Avoid loops: ignore frames published by this same server.
			if frame.SenderID == h.serverID {
				return
			}
			h.broadcastLocal(frame.Envelope)
		})
		if err != nil {
			logrus.Errorf("[WS] Valkey subscriber failed: %v", err)
		}
	}()
}

// HubStats is a point-in-time snapshot for the health endpoint.
type HubStats struct {
	Connections   int `json:"connections"`
	Tickets       int `json:"tickets"`
	Subscriptions int `json:"subscriptions"`
}

func (h *Hub) Stats() HubStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := 0
	for _, set := range h.tickets {
		subs += len(set)
	}
	return HubStats{
		Connections:   len(h.conns),
		Tickets:       len(h.tickets),
		Subscriptions: subs,
	}
}
