package domain

import "time"

// ChannelType identifies the messaging channel a ticket belongs to.
type ChannelType string

const (
	ChannelWhatsApp ChannelType = "whatsapp"
	ChannelWebChat  ChannelType = "webchat"
)

// TicketStatus enumerates the lifecycle states of a conversation.
type TicketStatus string

const (
	StatusOpen       TicketStatus = "open"
	StatusInProgress TicketStatus = "in_progress"
	StatusClosed     TicketStatus = "closed"
	StatusResolved   TicketStatus = "resolved"
	StatusCancelled  TicketStatus = "cancelled"
)

// OpenStatuses are the statuses a ticket can be in while still actionable.
// Anything else is terminal: it must never be reused for new inbound
// messages.
var OpenStatuses = []TicketStatus{StatusOpen, StatusInProgress}

// IsOpenClass reports whether the status still accepts inbound messages.
func (s TicketStatus) IsOpenClass() bool {
	return s == StatusOpen || s == StatusInProgress
}

// IsValid reports whether s is one of the known statuses.
func (s TicketStatus) IsValid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusClosed, StatusResolved, StatusCancelled:
		return true
	}
	return false
}

// Customer represents a messaging-channel contact. At most one record exists
// per canonical phone.
type Customer struct {
	ID             string         `json:"id"`
	DisplayName    string         `json:"display_name"`
	Phone          string         `json:"phone"`
	PhoneFormatted string         `json:"phone_formatted"`
	Instance       string         `json:"instance"`
	Metadata       map[string]any `json:"metadata"`
	LastContactAt  *time.Time     `json:"last_contact_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Ticket represents one open-or-closed chat thread with a Customer.
type Ticket struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	Status        TicketStatus   `json:"status"`
	CustomerID    string         `json:"customer_id"`
	Channel       ChannelType    `json:"channel"`
	Instance      string         `json:"instance"`
	Phone         string         `json:"phone"`
	Metadata      map[string]any `json:"metadata"`
	LastMessageAt *time.Time     `json:"last_message_at,omitempty"`
	ClosedAt      *time.Time     `json:"closed_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// MessageSender classifies who produced a message.
type MessageSender string

const (
	SenderCustomer MessageSender = "customer"
	SenderAgent    MessageSender = "agent"
	SenderSystem   MessageSender = "system"
)

// Message represents one chat message in either direction. TicketID is nil
// for orphan messages kept for later reconciliation.
type Message struct {
	ID               string         `json:"id"`
	TicketID         *string        `json:"ticket_id,omitempty"`
	Content          string         `json:"content"`
	Sender           MessageSender  `json:"sender"`
	SenderName       string         `json:"sender_name"`
	ChannelMessageID string         `json:"channel_message_id,omitempty"`
	Metadata         map[string]any `json:"metadata"`
	CreatedAt        time.Time      `json:"created_at"`
}
