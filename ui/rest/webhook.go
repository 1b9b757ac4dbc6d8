package rest

import (
	"strings"
	"time"

	domainBridge "github.com/evocrm/wabridge/domains/bridge"
	"github.com/evocrm/wabridge/pkg/utils"
	"github.com/evocrm/wabridge/validations"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type Webhook struct {
	Service domainBridge.IBridgeUsecase
}

func InitRestWebhook(app fiber.Router, service domainBridge.IBridgeUsecase) Webhook {
	rest := Webhook{Service: service}
	app.Post("/webhook/evolution", rest.Receive)
	app.Post("/webhook/evolution/:event", rest.Receive)
	app.Put("/webhook/tickets/:ticket_id/status", rest.UpdateTicketStatus)
	return rest
}

// Receive acknowledges every delivery with a 200 so the gateway does not
// retry storms on payloads we cannot use. Only persistence failures return
// a 5xx, which asks the gateway to redeliver.
func (controller *Webhook) Receive(c *fiber.Ctx) error {
	var event domainBridge.InboundEvent
	if err := c.BodyParser(&event); err != nil {
		logrus.WithError(err).Warn("[WEBHOOK] Malformed payload")
		return c.JSON(domainBridge.WebhookResponse{
			Received:  true,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Message:   "malformed payload",
		})
	}

	// Some gateway versions carry the event name only in the URL.
	if event.Event == "" {
		event.Event = strings.ReplaceAll(c.Params("event"), "-", ".")
	}

	response, err := controller.Service.ProcessEvent(c.UserContext(), event)
	if err != nil {
		logrus.WithError(err).Errorf("[WEBHOOK] Processing failed for event %q", event.Event)
		return c.Status(500).JSON(utils.ResponseData{
			Status:  500,
			Code:    "INTERNAL_SERVER_ERROR",
			Message: err.Error(),
		})
	}

	return c.JSON(response)
}

func (controller *Webhook) UpdateTicketStatus(c *fiber.Ctx) error {
	var request domainBridge.TicketStatusRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)
	request.TicketID = c.Params("ticket_id")

	err = validations.ValidateTicketStatus(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	ticket, err := controller.Service.UpdateTicketStatus(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Success update ticket status",
		Results: ticket,
	})
}
