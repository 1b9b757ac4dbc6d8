package application

import (
	"context"
	"time"

	"github.com/evocrm/wabridge/crm/domain"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Broadcaster pushes an event to every live session subscribed to a ticket
// and reports how many received it.
type Broadcaster interface {
	Broadcast(ticketID, event string, payload any) int
}

// InboundMessage carries the normalized fields the writer needs; the raw
// payload polymorphism was already collapsed upstream.
type InboundMessage struct {
	Content          string
	SenderName       string
	ChannelMessageID string
	Timestamp        time.Time
	FromSelf         bool
	Media            map[string]any
}

// MessageWriter persists messages attached to their resolved ticket. A
// malformed ticket id degrades to an orphan write; the message is never
// dropped.
type MessageWriter struct {
	messages    domain.MessageRepository
	broadcaster Broadcaster
}

func NewMessageWriter(messages domain.MessageRepository, broadcaster Broadcaster) *MessageWriter {
	return &MessageWriter{messages: messages, broadcaster: broadcaster}
}

// SaveInbound records a customer message and broadcasts it to the ticket's
// subscribers. Duplicate webhook deliveries (same channel message id) return
// the stored semantics without a second row.
func (w *MessageWriter) SaveInbound(ctx context.Context, ticketID string, in InboundMessage) (*domain.Message, error) {
	sender := domain.SenderCustomer
	if in.FromSelf {
		sender = domain.SenderSystem
	}

	msg := &domain.Message{
		Content:          in.Content,
		Sender:           sender,
		SenderName:       in.SenderName,
		ChannelMessageID: in.ChannelMessageID,
		CreatedAt:        in.Timestamp,
		Metadata:         map[string]any{},
	}
	if len(in.Media) > 0 {
		msg.Metadata["media"] = in.Media
	}

	w.attachTicket(msg, ticketID)

	if err := w.messages.Create(ctx, msg); err != nil {
		if err == domain.ErrDuplicateMessage {
			logrus.Debugf("[WRITER] Duplicate delivery ignored: %s", in.ChannelMessageID)
			return msg, err
		}
		return nil, err
	}

	if !in.FromSelf && msg.TicketID != nil {
		w.broadcast(*msg.TicketID, msg)
	}
	return msg, nil
}

// SaveOutbound records an agent (or internal note) message and broadcasts it.
func (w *MessageWriter) SaveOutbound(ctx context.Context, ticketID, content, senderName string, internal bool) (*domain.Message, error) {
	msg := &domain.Message{
		Content:    content,
		Sender:     domain.SenderAgent,
		SenderName: senderName,
		CreatedAt:  time.Now(),
		Metadata:   map[string]any{"internal": internal},
	}

	w.attachTicket(msg, ticketID)

	if err := w.messages.Create(ctx, msg); err != nil {
		return nil, err
	}

	if msg.TicketID != nil {
		w.broadcast(*msg.TicketID, msg)
	}
	return msg, nil
}

// attachTicket validates the ticket reference. Anything that is not a
// well-formed store id is kept aside in metadata for later reconciliation.
func (w *MessageWriter) attachTicket(msg *domain.Message, ticketID string) {
	if _, err := uuid.Parse(ticketID); err != nil {
		logrus.Warnf("[WRITER] Malformed ticket id %q, persisting message as orphan", ticketID)
		msg.TicketID = nil
		msg.Metadata["orphan"] = true
		if ticketID != "" {
			msg.Metadata["original_ticket_id"] = ticketID
		}
		return
	}
	msg.TicketID = &ticketID
}

func (w *MessageWriter) broadcast(ticketID string, msg *domain.Message) {
	if w.broadcaster == nil {
		return
	}
	recipients := w.broadcaster.Broadcast(ticketID, "new-message", msg)
	if recipients == 0 {
		logrus.Debugf("[WRITER] No subscribers for ticket %s", ticketID)
	}
}
