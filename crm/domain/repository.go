package domain

import (
	"context"
	"time"
)

// CustomerRepository is the store contract for customer profiles.
type CustomerRepository interface {
	InitSchema(ctx context.Context) error
	Create(ctx context.Context, customer *Customer) error
	GetByID(ctx context.Context, id string) (*Customer, error)
	// GetByPhone matches the canonical digit string, the formatted variant
	// or the synthetic placeholder handle derived from it.
	GetByPhone(ctx context.Context, phone string) (*Customer, error)
	Update(ctx context.Context, customer *Customer) error
	UpdateLastContact(ctx context.Context, id string, at time.Time) error
}

// TicketRepository is the store contract for conversation threads.
type TicketRepository interface {
	InitSchema(ctx context.Context) error
	Create(ctx context.Context, ticket *Ticket) error
	GetByID(ctx context.Context, id string) (*Ticket, error)
	// FindOpenByCustomer returns the most recent OPEN-class ticket for the
	// customer on the given instance, or ErrTicketNotFound. Terminal tickets
	// are excluded unconditionally.
	FindOpenByCustomer(ctx context.Context, customerID, instance string) (*Ticket, error)
	Update(ctx context.Context, ticket *Ticket) error
	// Touch updates last_message_at and the phone of record in one write.
	Touch(ctx context.Context, id, phone string, at time.Time) error
	SetStatus(ctx context.Context, id string, status TicketStatus) error
}

// MessageRepository is the store contract for chat messages.
type MessageRepository interface {
	InitSchema(ctx context.Context) error
	// Create persists the message; duplicates on channel_message_id are
	// ignored and reported as ErrDuplicateMessage.
	Create(ctx context.Context, message *Message) error
	ListByTicket(ctx context.Context, ticketID string, limit int) ([]*Message, error)
	// ListOrphans returns messages stored without a ticket reference.
	ListOrphans(ctx context.Context, limit int) ([]*Message, error)
	// AttachTicket links an orphan message to a ticket after reconciliation.
	AttachTicket(ctx context.Context, id, ticketID string) error
	SetDeliveryStatus(ctx context.Context, id string, delivered bool, detail string) error
}
