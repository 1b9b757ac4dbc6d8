package usecase

import (
	"context"

	domainSend "github.com/evocrm/wabridge/domains/send"
	"github.com/evocrm/wabridge/infrastructure/evolution"
	pkgError "github.com/evocrm/wabridge/pkg/error"
	"github.com/evocrm/wabridge/validations"
	"github.com/sirupsen/logrus"
)

type serviceSend struct {
	gateway         GatewaySender
	defaultInstance string
}

func NewSendService(gateway GatewaySender, defaultInstance string) domainSend.ISendUsecase {
	return &serviceSend{gateway: gateway, defaultInstance: defaultInstance}
}

// SendText relays a free-standing text message through the gateway. Ticket
// conversations go through the bridge service instead; this endpoint exists
// for notifications that have no conversation.
func (service serviceSend) SendText(ctx context.Context, request domainSend.TextRequest) (domainSend.TextResponse, error) {
	var response domainSend.TextResponse

	if err := validations.ValidateSendText(ctx, request); err != nil {
		return response, err
	}

	instance := request.Instance
	if instance == "" {
		instance = service.defaultInstance
	}

	opts := &evolution.SendOptions{
		DelayMs:     request.DelayMs,
		LinkPreview: request.LinkPreview,
	}
	result, err := service.gateway.SendText(ctx, instance, request.Phone, request.Text, opts)
	if err != nil {
		return response, err
	}
	if !result.Success {
		logrus.Errorf("[SEND] Gateway rejected message for %s: %s", request.Phone, result.Error)
		return response, pkgError.InternalServerError("gateway rejected message: " + result.Error)
	}

	response.MessageID = result.MessageID
	response.Status = result.Status
	return response, nil
}
