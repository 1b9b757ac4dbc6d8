package rest

import (
	domainSend "github.com/evocrm/wabridge/domains/send"
	"github.com/evocrm/wabridge/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

type Send struct {
	Service domainSend.ISendUsecase
}

func InitRestSend(app fiber.Router, service domainSend.ISendUsecase) Send {
	rest := Send{Service: service}
	app.Post("/webhook/send-message", rest.SendText)
	return rest
}

func (controller *Send) SendText(c *fiber.Ctx) error {
	var request domainSend.TextRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)

	response, err := controller.Service.SendText(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Success send message",
		Results: response,
	})
}
