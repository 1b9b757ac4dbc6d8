package bridge

import (
	"context"

	crmDomain "github.com/evocrm/wabridge/crm/domain"
)

// InboundEvent is a raw gateway webhook delivery before normalization.
type InboundEvent struct {
	Event    string         `json:"event"`
	Instance string         `json:"instance"`
	Data     map[string]any `json:"data"`
}

// WebhookResponse is the acknowledgement body returned for every webhook
// delivery, whether or not the event produced a stored message.
type WebhookResponse struct {
	Received  bool   `json:"received"`
	Timestamp string `json:"timestamp"`
	Event     string `json:"event,omitempty"`
	Instance  string `json:"instance,omitempty"`
	Processed bool   `json:"processed"`
	Message   string `json:"message,omitempty"`
	TicketID  string `json:"ticketId,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Websocket bool   `json:"websocket,omitempty"`
}

// TicketStatusRequest updates a ticket's lifecycle status.
type TicketStatusRequest struct {
	TicketID string `json:"ticket_id" uri:"ticket_id"`
	Status   string `json:"status" form:"status"`
}

type IBridgeUsecase interface {
	// ProcessEvent runs one webhook delivery through the pipeline. A non-nil
	// error means persistence infrastructure failed and the delivery should
	// be retried by the gateway.
	ProcessEvent(ctx context.Context, evt InboundEvent) (WebhookResponse, error)

	// Messages returns the most recent messages of a ticket, oldest first.
	Messages(ctx context.Context, ticketID string, limit int) ([]*crmDomain.Message, error)

	// SendMessage persists an agent message on a ticket, broadcasts it to
	// subscribers and, for external whatsapp tickets, relays it through the
	// gateway.
	SendMessage(ctx context.Context, ticketID, content string, internal bool, userID, senderName string) (*crmDomain.Message, error)

	// UpdateTicketStatus transitions a ticket and notifies subscribers.
	UpdateTicketStatus(ctx context.Context, req TicketStatusRequest) (*crmDomain.Ticket, error)
}
