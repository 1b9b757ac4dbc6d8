package rest

import (
	domainHealth "github.com/evocrm/wabridge/domains/health"
	"github.com/evocrm/wabridge/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

type Health struct {
	Service domainHealth.IHealthUsecase
}

func InitRestHealth(app fiber.Router, service domainHealth.IHealthUsecase) Health {
	rest := Health{Service: service}
	app.Get("/webhook/health", rest.Status)
	return rest
}

func (controller *Health) Status(c *fiber.Ctx) error {
	status := controller.Service.GetStatus(c.UserContext())
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Health status",
		Results: status,
	})
}
