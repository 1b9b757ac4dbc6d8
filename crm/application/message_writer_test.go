package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/evocrm/wabridge/crm/application"
	"github.com/evocrm/wabridge/crm/domain"
	"github.com/google/uuid"
)

type recordingBroadcaster struct {
	calls []string
}

func (b *recordingBroadcaster) Broadcast(ticketID, event string, payload any) int {
	b.calls = append(b.calls, ticketID+"/"+event)
	return 1
}

func TestSaveInboundMalformedTicketBecomesOrphan(t *testing.T) {
	repos := setupTestRepos(t)
	broadcaster := &recordingBroadcaster{}
	writer := application.NewMessageWriter(repos.messages, broadcaster)

	msg, err := writer.SaveInbound(context.Background(), "unpersisted-12345", application.InboundMessage{
		Content:          "Olá",
		SenderName:       "Maria",
		ChannelMessageID: "WAMID-1",
		Timestamp:        time.Now(),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if msg.TicketID != nil {
		t.Errorf("expected nil ticket reference, got %v", *msg.TicketID)
	}
	if orphan, _ := msg.Metadata["orphan"].(bool); !orphan {
		t.Error("expected orphan flag in metadata")
	}
	if got := msg.Metadata["original_ticket_id"]; got != "unpersisted-12345" {
		t.Errorf("expected original id preserved, got %v", got)
	}
	if len(broadcaster.calls) != 0 {
		t.Errorf("orphan message must not broadcast, got %v", broadcaster.calls)
	}
}

func TestSaveInboundBroadcastsOnce(t *testing.T) {
	repos := setupTestRepos(t)
	broadcaster := &recordingBroadcaster{}
	writer := application.NewMessageWriter(repos.messages, broadcaster)

	ticketID := uuid.New().String()
	_, err := writer.SaveInbound(context.Background(), ticketID, application.InboundMessage{
		Content:          "Olá",
		SenderName:       "Maria",
		ChannelMessageID: "WAMID-2",
		Timestamp:        time.Now(),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(broadcaster.calls) != 1 || broadcaster.calls[0] != ticketID+"/new-message" {
		t.Errorf("expected one new-message broadcast, got %v", broadcaster.calls)
	}
}

func TestSaveInboundDeduplicatesRetries(t *testing.T) {
	repos := setupTestRepos(t)
	writer := application.NewMessageWriter(repos.messages, nil)
	ctx := context.Background()

	ticketID := uuid.New().String()
	in := application.InboundMessage{
		Content:          "Olá",
		SenderName:       "Maria",
		ChannelMessageID: "WAMID-3",
		Timestamp:        time.Now(),
	}

	if _, err := writer.SaveInbound(ctx, ticketID, in); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if _, err := writer.SaveInbound(ctx, ticketID, in); err != domain.ErrDuplicateMessage {
		t.Fatalf("expected ErrDuplicateMessage, got %v", err)
	}

	stored, err := repos.messages.ListByTicket(ctx, ticketID, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(stored) != 1 {
		t.Errorf("expected exactly one row, got %d", len(stored))
	}
}

func TestSaveInboundFromSelfDoesNotBroadcast(t *testing.T) {
	repos := setupTestRepos(t)
	broadcaster := &recordingBroadcaster{}
	writer := application.NewMessageWriter(repos.messages, broadcaster)

	msg, err := writer.SaveInbound(context.Background(), uuid.New().String(), application.InboundMessage{
		Content:          "auto reply",
		ChannelMessageID: "WAMID-4",
		Timestamp:        time.Now(),
		FromSelf:         true,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if msg.Sender != domain.SenderSystem {
		t.Errorf("expected system sender, got %s", msg.Sender)
	}
	if len(broadcaster.calls) != 0 {
		t.Errorf("self-sent message must not broadcast, got %v", broadcaster.calls)
	}
}

func TestSaveOutboundBroadcasts(t *testing.T) {
	repos := setupTestRepos(t)
	broadcaster := &recordingBroadcaster{}
	writer := application.NewMessageWriter(repos.messages, broadcaster)

	ticketID := uuid.New().String()
	msg, err := writer.SaveOutbound(context.Background(), ticketID, "Em que posso ajudar?", "Agente Ana", false)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if msg.Sender != domain.SenderAgent {
		t.Errorf("expected agent sender, got %s", msg.Sender)
	}
	if len(broadcaster.calls) != 1 {
		t.Errorf("expected one broadcast, got %v", broadcaster.calls)
	}
}
