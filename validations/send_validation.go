package validations

import (
	"context"

	domainBridge "github.com/evocrm/wabridge/domains/bridge"
	domainSend "github.com/evocrm/wabridge/domains/send"
	pkgError "github.com/evocrm/wabridge/pkg/error"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

func ValidateSendText(ctx context.Context, request domainSend.TextRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.Phone, validation.Required),
		validation.Field(&request.Text, validation.Required, validation.Length(1, 4096)),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}

func ValidateTicketStatus(ctx context.Context, request domainBridge.TicketStatusRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.TicketID, validation.Required),
		validation.Field(&request.Status, validation.Required),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}
