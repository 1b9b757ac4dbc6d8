package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	crmApp "github.com/evocrm/wabridge/crm/application"
	crmDomain "github.com/evocrm/wabridge/crm/domain"
	domainBridge "github.com/evocrm/wabridge/domains/bridge"
	"github.com/evocrm/wabridge/infrastructure/evolution"
	pkgError "github.com/evocrm/wabridge/pkg/error"
	"github.com/evocrm/wabridge/pkg/msgworker"
	"github.com/evocrm/wabridge/pkg/phone"
	"github.com/sirupsen/logrus"
)

// dedupTTL bounds how long a channel message id is remembered as processed.
// Gateway retries arrive within seconds; a day is generous.
const dedupTTL = 24 * time.Hour

// RealtimeHub is the slice of the websocket hub the pipeline needs.
type RealtimeHub interface {
	Broadcast(ticketID, event string, payload any) int
	Subscribers(ticketID string) int
}

// GatewaySender relays agent messages back out through the gateway.
type GatewaySender interface {
	SendText(ctx context.Context, instance, rawPhone, text string, opts *evolution.SendOptions) (*evolution.SendResult, error)
}

// EventDeduper remembers processed channel message ids across deliveries.
// The valkey client implements it; memoryDeduper is the single-node fallback.
type EventDeduper interface {
	MarkProcessed(ctx context.Context, messageID string, ttl time.Duration) (alreadySeen bool, err error)
	Forget(ctx context.Context, messageID string) error
}

// BridgeDeps wires the pipeline. Gateway, Pool and Dedup are optional.
type BridgeDeps struct {
	Normalizer      *evolution.Normalizer
	Identity        *crmApp.IdentityResolver
	Conversation    *crmApp.ConversationResolver
	Writer          *crmApp.MessageWriter
	Customers       crmDomain.CustomerRepository
	Tickets         crmDomain.TicketRepository
	Messages        crmDomain.MessageRepository
	Hub             RealtimeHub
	Gateway         GatewaySender
	Pool            *msgworker.Pool
	Dedup           EventDeduper
	DefaultInstance string
	CountryCode     string
}

type serviceBridge struct {
	deps BridgeDeps
}

func NewBridgeService(deps BridgeDeps) domainBridge.IBridgeUsecase {
	if deps.Dedup == nil {
		deps.Dedup = newMemoryDeduper()
	}
	return &serviceBridge{deps: deps}
}

// ProcessEvent classifies the delivery and runs the matching handler. Every
// recognized-but-unprocessable delivery still returns a response; only
// persistence failures surface as errors.
func (service *serviceBridge) ProcessEvent(ctx context.Context, evt domainBridge.InboundEvent) (domainBridge.WebhookResponse, error) {
	instance := evt.Instance
	if instance == "" {
		instance = service.deps.DefaultInstance
	}

	resp := domainBridge.WebhookResponse{
		Received:  true,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Event:     evt.Event,
		Instance:  instance,
	}

	switch evolution.ParseEventType(evt.Event) {
	case evolution.EventMessageUpsert:
		return service.processMessage(ctx, evt, instance, resp)

	case evolution.EventConnectionUpdate:
		service.broadcastInstanceEvent(instance, "connection-update", evt.Data)
		resp.Processed = true
		resp.Message = "connection state broadcast"
		return resp, nil

	case evolution.EventQRCodeUpdate:
		service.broadcastInstanceEvent(instance, "qrcode-updated", evt.Data)
		resp.Processed = true
		resp.Message = "qrcode broadcast"
		return resp, nil

	case evolution.EventContactsUpdate:
		resp.Processed = service.enrichContact(ctx, evt.Data)
		resp.Message = "contact enrichment"
		return resp, nil

	case evolution.EventMessageUpdate, evolution.EventChatsUpdate:
		resp.Message = "event acknowledged"
		return resp, nil
	}

	logrus.Debugf("[BRIDGE] Unrecognized event %q from instance %s", evt.Event, instance)
	resp.Message = "unrecognized event"
	return resp, nil
}

// processMessage runs normalize, resolve, persist and broadcast for one
// inbound message. The persistence stage is routed through the worker pool
// so deliveries from the same conversation never interleave.
func (service *serviceBridge) processMessage(ctx context.Context, evt domainBridge.InboundEvent, instance string, resp domainBridge.WebhookResponse) (domainBridge.WebhookResponse, error) {
	intent, err := service.deps.Normalizer.Normalize(evolution.WebhookEvent{
		Event:    evt.Event,
		Instance: instance,
		Data:     evt.Data,
	})
	if err != nil {
		var skip *evolution.SkipError
		if errors.As(err, &skip) {
			logrus.Debugf("[BRIDGE] Skipping delivery: %v", skip)
			resp.Message = skip.Error()
			return resp, nil
		}
		return resp, err
	}

	marked := false
	if intent.RawMessageID != "" {
		seen, derr := service.deps.Dedup.MarkProcessed(ctx, instance+":"+intent.RawMessageID, dedupTTL)
		if derr != nil {
			// The store-level unique index still catches the duplicate.
			logrus.WithError(derr).Warn("[BRIDGE] Dedup cache unavailable")
		} else if seen {
			resp.Message = "duplicate delivery ignored"
			return resp, nil
		} else {
			marked = true
		}
	}

	var pipelineErr error
	run := func(runCtx context.Context) error {
		resp, pipelineErr = service.persistIntent(runCtx, intent, instance, resp)
		return pipelineErr
	}

	if service.deps.Pool != nil {
		if err := service.deps.Pool.DispatchWait(ctx, msgworker.Job{
			Instance: instance,
			Chat:     intent.SenderPhone,
			Handler:  run,
		}); err != nil && pipelineErr == nil {
			pipelineErr = err
		}
	} else if err := run(ctx); err != nil {
		pipelineErr = err
	}

	// A failed pipeline surfaces as a 500 and the gateway retries; the mark
	// must not outlive the failure or the retry would be dropped.
	if pipelineErr != nil && marked {
		if derr := service.deps.Dedup.Forget(ctx, instance+":"+intent.RawMessageID); derr != nil {
			logrus.WithError(derr).Warnf("[BRIDGE] Could not release dedup mark for %s", intent.RawMessageID)
		}
	}

	return resp, pipelineErr
}

func (service *serviceBridge) persistIntent(ctx context.Context, intent *evolution.MessageIntent, instance string, resp domainBridge.WebhookResponse) (domainBridge.WebhookResponse, error) {
	customer, err := service.deps.Identity.Resolve(ctx, intent.SenderPhone, instance, intent.PushName)
	if err != nil {
		if errors.Is(err, crmDomain.ErrCustomerNotFound) {
			resp.Message = "sender phone unusable"
			return resp, nil
		}
		return resp, err
	}

	ticketID, created, err := service.deps.Conversation.Resolve(ctx, customer, customer.Phone, instance, intent.Content)
	if err != nil {
		return resp, err
	}
	if created {
		service.deps.Hub.Broadcast(ticketID, "ticket-created", map[string]any{
			"ticket_id":     ticketID,
			"customer_id":   customer.ID,
			"customer_name": customer.DisplayName,
			"instance":      instance,
		})
	}

	in := crmApp.InboundMessage{
		Content:          intent.Content,
		SenderName:       customer.DisplayName,
		ChannelMessageID: intent.RawMessageID,
		Timestamp:        intent.Timestamp,
		FromSelf:         intent.IsFromSelf,
	}
	if intent.Media != nil {
		in.Media = map[string]any{
			"kind":       intent.Media.Kind,
			"mimetype":   intent.Media.MimeType,
			"url":        intent.Media.URL,
			"filename":   intent.Media.FileName,
			"seconds":    intent.Media.Seconds,
			"latitude":   intent.Media.Latitude,
			"longitude":  intent.Media.Longitude,
			"caption":    intent.Media.Caption,
			"media_kind": string(intent.Kind),
		}
	}

	msg, err := service.deps.Writer.SaveInbound(ctx, ticketID, in)
	if err != nil {
		if errors.Is(err, crmDomain.ErrDuplicateMessage) {
			resp.Message = "duplicate delivery ignored"
			return resp, nil
		}
		return resp, err
	}

	resp.Processed = true
	resp.Message = "message stored"
	resp.TicketID = ticketID
	resp.MessageID = msg.ID
	resp.Websocket = service.deps.Hub.Subscribers(ticketID) > 0
	return resp, nil
}

// broadcastInstanceEvent fans instance lifecycle payloads out on the
// synthetic "instance:<name>" topic; dashboards join it like any ticket.
func (service *serviceBridge) broadcastInstanceEvent(instance, event string, data map[string]any) {
	topic := "instance:" + instance
	if n := service.deps.Hub.Broadcast(topic, event, data); n == 0 {
		logrus.Debugf("[BRIDGE] No subscribers for %s", topic)
	}
}

// enrichContact upgrades placeholder customer names from contacts.update
// payloads. The gateway sends either a single contact or a list.
func (service *serviceBridge) enrichContact(ctx context.Context, data map[string]any) bool {
	contacts := []map[string]any{}
	if list, ok := data["contacts"].([]any); ok {
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				contacts = append(contacts, m)
			}
		}
	} else if len(data) > 0 {
		contacts = append(contacts, data)
	}

	updated := false
	for _, contact := range contacts {
		jid, _ := contact["remoteJid"].(string)
		if jid == "" {
			jid, _ = contact["id"].(string)
		}
		name, _ := contact["pushName"].(string)
		if name == "" {
			name, _ = contact["name"].(string)
		}
		if jid == "" || strings.TrimSpace(name) == "" || phone.IsGroupJID(jid) {
			continue
		}

		canonical := phone.Canonicalize(phone.ExtractFromJID(jid), service.deps.CountryCode)
		if canonical == "" {
			continue
		}
		customer, err := service.deps.Customers.GetByPhone(ctx, canonical)
		if err != nil || customer == nil {
			continue
		}
		if !isPlaceholderCustomerName(customer.DisplayName) {
			continue
		}
		customer.DisplayName = strings.TrimSpace(name)
		if err := service.deps.Customers.Update(ctx, customer); err != nil {
			logrus.WithError(err).Warnf("[BRIDGE] Contact enrichment failed for %s", customer.ID)
			continue
		}
		updated = true
	}
	return updated
}

func isPlaceholderCustomerName(name string) bool {
	name = strings.TrimSpace(name)
	return name == "" || strings.HasPrefix(name, "Cliente ")
}

// Messages loads recent ticket history for a websocket session.
func (service *serviceBridge) Messages(ctx context.Context, ticketID string, limit int) ([]*crmDomain.Message, error) {
	return service.deps.Messages.ListByTicket(ctx, ticketID, limit)
}

// SendMessage persists an agent message, broadcasts it, and relays external
// whatsapp messages through the gateway. An outbound relay failure is
// recorded on the message and logged; the stored message is never rolled
// back.
func (service *serviceBridge) SendMessage(ctx context.Context, ticketID, content string, internal bool, userID, senderName string) (*crmDomain.Message, error) {
	ticket, err := service.deps.Tickets.GetByID(ctx, ticketID)
	if err != nil && !errors.Is(err, crmDomain.ErrTicketNotFound) {
		return nil, err
	}

	if senderName == "" {
		senderName = userID
	}
	msg, err := service.deps.Writer.SaveOutbound(ctx, ticketID, content, senderName, internal)
	if err != nil {
		return nil, err
	}

	if internal || ticket == nil || ticket.Channel != crmDomain.ChannelWhatsApp || service.deps.Gateway == nil {
		return msg, nil
	}

	result, sendErr := service.deps.Gateway.SendText(ctx, ticket.Instance, ticket.Phone, content, nil)
	if sendErr != nil || (result != nil && !result.Success) {
		detail := "gateway send failed"
		if sendErr != nil {
			detail = sendErr.Error()
		} else if result.Error != "" {
			detail = result.Error
		}
		logrus.WithError(sendErr).Errorf("[BRIDGE] Outbound relay failed for ticket %s", ticketID)
		if err := service.deps.Messages.SetDeliveryStatus(ctx, msg.ID, false, detail); err != nil {
			logrus.WithError(err).Warnf("[BRIDGE] Could not record delivery failure for %s", msg.ID)
		}
		msg.Metadata["delivered"] = false
		msg.Metadata["delivery_detail"] = detail
		return msg, nil
	}

	if err := service.deps.Messages.SetDeliveryStatus(ctx, msg.ID, true, ""); err != nil {
		logrus.WithError(err).Warnf("[BRIDGE] Could not record delivery for %s", msg.ID)
	}
	msg.Metadata["delivered"] = true
	if result != nil && result.MessageID != "" {
		msg.Metadata["gateway_message_id"] = result.MessageID
	}
	return msg, nil
}

// UpdateTicketStatus transitions a ticket and notifies its subscribers.
func (service *serviceBridge) UpdateTicketStatus(ctx context.Context, req domainBridge.TicketStatusRequest) (*crmDomain.Ticket, error) {
	status := crmDomain.TicketStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if !status.IsValid() {
		return nil, pkgError.ValidationError("invalid ticket status: " + req.Status)
	}

	if err := service.deps.Tickets.SetStatus(ctx, req.TicketID, status); err != nil {
		if errors.Is(err, crmDomain.ErrTicketNotFound) {
			return nil, pkgError.NotFoundError("ticket not found: " + req.TicketID)
		}
		return nil, err
	}
	ticket, err := service.deps.Tickets.GetByID(ctx, req.TicketID)
	if err != nil {
		if errors.Is(err, crmDomain.ErrTicketNotFound) {
			return nil, pkgError.NotFoundError("ticket not found: " + req.TicketID)
		}
		return nil, err
	}

	service.deps.Hub.Broadcast(ticket.ID, "ticket-updated", ticket)
	return ticket, nil
}

// memoryDeduper is the in-process fallback when no valkey client is
// configured. Entries expire lazily on the next mark.
type memoryDeduper struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func newMemoryDeduper() *memoryDeduper {
	return &memoryDeduper{seen: make(map[string]time.Time)}
}

func (d *memoryDeduper) MarkProcessed(ctx context.Context, messageID string, ttl time.Duration) (bool, error) {
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if expiry, ok := d.seen[messageID]; ok && now.Before(expiry) {
		return true, nil
	}
	if len(d.seen) > 10000 {
		for k, expiry := range d.seen {
			if now.After(expiry) {
				delete(d.seen, k)
			}
		}
	}
	d.seen[messageID] = now.Add(ttl)
	return false, nil
}

func (d *memoryDeduper) Forget(ctx context.Context, messageID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, messageID)
	return nil
}
