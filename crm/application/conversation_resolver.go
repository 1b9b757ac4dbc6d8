package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/evocrm/wabridge/crm/domain"
	"github.com/sirupsen/logrus"
)

const titleExcerptLen = 60

// ConversationResolver maps (customer, instance) to the open ticket,
// creating one when none exists. A terminal ticket is never returned and
// never reused; the matching happens on customer + instance with terminal
// statuses excluded at the query.
type ConversationResolver struct {
	tickets domain.TicketRepository
}

func NewConversationResolver(tickets domain.TicketRepository) *ConversationResolver {
	return &ConversationResolver{tickets: tickets}
}

// Resolve returns the id of the ticket the message belongs to and whether it
// was created by this call. When the store rejects the create, a
// locally-synthesized id is returned so the writer can still record the
// message as an orphan instead of losing it.
func (r *ConversationResolver) Resolve(ctx context.Context, customer *domain.Customer, phone, instance, firstContent string) (string, bool, error) {
	ticket, err := r.tickets.FindOpenByCustomer(ctx, customer.ID, instance)
	if err != nil && !errors.Is(err, domain.ErrTicketNotFound) {
		return "", false, err
	}

	if ticket != nil {
		if err := r.tickets.Touch(ctx, ticket.ID, phone, time.Now()); err != nil {
			logrus.WithError(err).Warnf("[CONVERSATION] Failed to touch ticket %s", ticket.ID)
		}
		return ticket.ID, false, nil
	}

	ticket = &domain.Ticket{
		Title:      "Atendimento - " + customer.DisplayName,
		Status:     domain.StatusOpen,
		CustomerID: customer.ID,
		Channel:    domain.ChannelWhatsApp,
		Instance:   instance,
		Phone:      phone,
		Metadata: map[string]any{
			"instance":      instance,
			"first_message": excerpt(firstContent),
		},
	}
	now := time.Now()
	ticket.LastMessageAt = &now

	if err := r.tickets.Create(ctx, ticket); err != nil {
		// Recoverable: hand back a placeholder so the message survives as an
		// orphan. The id is deliberately not a store identifier.
		logrus.WithError(err).Errorf("[CONVERSATION] Ticket create failed for customer %s", customer.ID)
		return fmt.Sprintf("unpersisted-%d", now.UnixNano()), false, nil
	}

	logrus.Infof("[CONVERSATION] Ticket created: %s for customer %s", ticket.ID, customer.ID)
	return ticket.ID, true, nil
}

func excerpt(content string) string {
	runes := []rune(content)
	if len(runes) <= titleExcerptLen {
		return content
	}
	return string(runes[:titleExcerptLen]) + "..."
}
