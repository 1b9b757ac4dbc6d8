package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	crmDomain "github.com/evocrm/wabridge/crm/domain"
	domainBridge "github.com/evocrm/wabridge/domains/bridge"
	pkgError "github.com/evocrm/wabridge/pkg/error"
	"github.com/evocrm/wabridge/ui/rest/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBridge struct {
	lastEvent domainBridge.InboundEvent
	response  domainBridge.WebhookResponse
	err       error
	ticket    *crmDomain.Ticket
	ticketErr error
}

func (s *stubBridge) ProcessEvent(ctx context.Context, evt domainBridge.InboundEvent) (domainBridge.WebhookResponse, error) {
	s.lastEvent = evt
	return s.response, s.err
}

func (s *stubBridge) Messages(ctx context.Context, ticketID string, limit int) ([]*crmDomain.Message, error) {
	return nil, nil
}

func (s *stubBridge) SendMessage(ctx context.Context, ticketID, content string, internal bool, userID, senderName string) (*crmDomain.Message, error) {
	return nil, nil
}

func (s *stubBridge) UpdateTicketStatus(ctx context.Context, req domainBridge.TicketStatusRequest) (*crmDomain.Ticket, error) {
	if s.ticketErr != nil {
		return nil, s.ticketErr
	}
	return s.ticket, nil
}

func setupWebhookApp(stub *stubBridge) *fiber.App {
	app := fiber.New()
	app.Use(middleware.Recovery())
	InitRestWebhook(app, stub)
	return app
}

func postJSON(t *testing.T, app *fiber.App, path string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestWebhookReceiveAcknowledges(t *testing.T) {
	stub := &stubBridge{response: domainBridge.WebhookResponse{Received: true, Processed: true, TicketID: "t-1"}}
	app := setupWebhookApp(stub)

	resp := postJSON(t, app, "/webhook/evolution", map[string]any{
		"event":    "messages.upsert",
		"instance": "main",
		"data":     map[string]any{"key": map[string]any{"id": "WAMID-1"}},
	})
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body domainBridge.WebhookResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Received)
	assert.True(t, body.Processed)
	assert.Equal(t, "messages.upsert", stub.lastEvent.Event)
}

func TestWebhookReceiveEventFromPath(t *testing.T) {
	stub := &stubBridge{response: domainBridge.WebhookResponse{Received: true}}
	app := setupWebhookApp(stub)

	resp := postJSON(t, app, "/webhook/evolution/connection-update", map[string]any{
		"instance": "main",
		"data":     map[string]any{"state": "open"},
	})
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "connection.update", stub.lastEvent.Event)
}

func TestWebhookReceiveMalformedBodyStill200(t *testing.T) {
	stub := &stubBridge{}
	app := setupWebhookApp(stub)

	req := httptest.NewRequest(http.MethodPost, "/webhook/evolution", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body domainBridge.WebhookResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Received)
	assert.False(t, body.Processed)
}

func TestWebhookReceiveInfrastructureFailure500(t *testing.T) {
	stub := &stubBridge{err: errors.New("store unavailable")}
	app := setupWebhookApp(stub)

	resp := postJSON(t, app, "/webhook/evolution", map[string]any{"event": "messages.upsert"})
	defer resp.Body.Close()

	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestUpdateTicketStatusEndpoint(t *testing.T) {
	stub := &stubBridge{ticket: &crmDomain.Ticket{ID: "t-1", Status: crmDomain.StatusClosed}}
	app := setupWebhookApp(stub)

	raw, _ := json.Marshal(map[string]any{"status": "closed"})
	req := httptest.NewRequest(http.MethodPut, "/webhook/tickets/t-1/status", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUpdateTicketStatusUnknownTicket404(t *testing.T) {
	stub := &stubBridge{ticketErr: pkgError.NotFoundError("ticket not found: t-missing")}
	app := setupWebhookApp(stub)

	raw, _ := json.Marshal(map[string]any{"status": "closed"})
	req := httptest.NewRequest(http.MethodPut, "/webhook/tickets/t-missing/status", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUpdateTicketStatusMissingStatus400(t *testing.T) {
	stub := &stubBridge{}
	app := setupWebhookApp(stub)

	raw, _ := json.Marshal(map[string]any{})
	req := httptest.NewRequest(http.MethodPut, "/webhook/tickets/t-1/status", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
