package websocket

import (
	"context"
	"encoding/json"

	crmDomain "github.com/evocrm/wabridge/crm/domain"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RealtimeService is the send/fetch surface the transport needs. Implemented
// by the bridge usecase.
type RealtimeService interface {
	Messages(ctx context.Context, ticketID string, limit int) ([]*crmDomain.Message, error)
	SendMessage(ctx context.Context, ticketID, content string, internal bool, userID, senderName string) (*crmDomain.Message, error)
}

// clientFrame is the single shape every client→server event arrives in.
type clientFrame struct {
	Event      string `json:"event"`
	TicketID   string `json:"ticketId"`
	UserID     string `json:"userId,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Content    string `json:"content,omitempty"`
	IsInternal bool   `json:"isInternal,omitempty"`
	SenderName string `json:"senderName,omitempty"`
}

// RegisterRoutes mounts the realtime endpoint at /ws.
func RegisterRoutes(app fiber.Router, hub *Hub, service RealtimeService) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return c.SendStatus(fiber.StatusUpgradeRequired)
	})

	app.Get("/ws", websocket.New(func(conn *websocket.Conn) {
		connID := uuid.New().String()
		hub.Register(connID, conn, "")

		defer func() {
			// Transport disconnects are normal lifecycle, not errors.
			hub.Disconnect(connID)
			_ = conn.Close()
		}()

		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					logrus.Debugf("[WS] Read error on %s: %v", connID, err)
				}
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}

			var frame clientFrame
			if err := json.Unmarshal(message, &frame); err != nil {
				_ = hub.Send(connID, "error", "", fiber.Map{"message": "malformed frame"})
				continue
			}

			handleFrame(hub, service, connID, frame)
		}
	}))
}

func handleFrame(hub *Hub, service RealtimeService, connID string, frame clientFrame) {
	ctx := context.Background()

	switch frame.Event {
	case "join-ticket":
		count := hub.Join(connID, frame.TicketID)
		_ = hub.Send(connID, "joined-ticket", frame.TicketID, fiber.Map{
			"ticketId":    frame.TicketID,
			"subscribers": count,
		})

	case "leave-ticket":
		hub.Leave(connID, frame.TicketID)

	case "request-messages":
		messages, err := service.Messages(ctx, frame.TicketID, frame.Limit)
		if err != nil {
			_ = hub.Send(connID, "error", frame.TicketID, fiber.Map{"message": err.Error()})
			return
		}
		// Replies go to the requester only, never broadcast.
		_ = hub.Send(connID, "messages-loaded", frame.TicketID, fiber.Map{
			"ticketId": frame.TicketID,
			"messages": messages,
		})

	case "send-message":
		if frame.Content == "" {
			_ = hub.Send(connID, "error", frame.TicketID, fiber.Map{"message": "content is required"})
			return
		}
		msg, err := service.SendMessage(ctx, frame.TicketID, frame.Content, frame.IsInternal, frame.UserID, frame.SenderName)
		if err != nil {
			_ = hub.Send(connID, "error", frame.TicketID, fiber.Map{"message": err.Error()})
			return
		}
		// The message persisted either way; a failed gateway relay is
		// reported back to the sender only.
		if delivered, ok := msg.Metadata["delivered"].(bool); ok && !delivered {
			_ = hub.Send(connID, "error", frame.TicketID, fiber.Map{
				"message":   "message stored but gateway delivery failed",
				"messageId": msg.ID,
			})
		}

	default:
		_ = hub.Send(connID, "error", "", fiber.Map{"message": "unknown event: " + frame.Event})
	}
}
