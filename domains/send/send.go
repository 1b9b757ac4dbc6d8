package send

import "context"

// TextRequest sends a plain text message through the gateway, outside of
// any ticket conversation.
type TextRequest struct {
	Phone       string `json:"phone" form:"phone"`
	Text        string `json:"text" form:"text"`
	Instance    string `json:"instance,omitempty" form:"instance"`
	DelayMs     int    `json:"delay_ms,omitempty" form:"delay_ms"`
	LinkPreview *bool  `json:"link_preview,omitempty" form:"link_preview"`
}

type TextResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

type ISendUsecase interface {
	SendText(ctx context.Context, req TextRequest) (TextResponse, error)
}
