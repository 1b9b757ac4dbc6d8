package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/evocrm/wabridge/crm/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// --- Persistence Model ---

type messageModel struct {
	ID               string  `gorm:"primaryKey"`
	TicketID         *string `gorm:"index:idx_messages_ticket"`
	Content          string  `gorm:"type:text;not null"`
	Sender           string  `gorm:"not null"`
	SenderName       string
	// Pointer so agent messages without a gateway id skip the unique index.
	ChannelMessageID *string   `gorm:"uniqueIndex:idx_messages_channel_id"`
	Metadata         string    `gorm:"type:text;default:'{}'"` // JSON
	CreatedAt        time.Time `gorm:"not null;index:idx_messages_created"`
}

func (messageModel) TableName() string {
	return "messages"
}

// --- Repository Implementation ---

type MessageGormRepository struct {
	db *gorm.DB
}

func NewMessageGormRepository(db *gorm.DB) *MessageGormRepository {
	return &MessageGormRepository{db: db}
}

func (r *MessageGormRepository) InitSchema(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&messageModel{})
}

// Create persists the message. Retried webhook deliveries carry the same
// channel message id; those land on the unique index and are ignored, so the
// caller sees ErrDuplicateMessage instead of a second row.
func (r *MessageGormRepository) Create(ctx context.Context, message *domain.Message) error {
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}

	model, err := toMessageModel(message)
	if err != nil {
		return err
	}

	tx := r.db.WithContext(ctx)
	if message.ChannelMessageID != "" {
		tx = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "channel_message_id"}},
			DoNothing: true,
		})
	}

	result := tx.Create(&model)
	if result.Error != nil {
		if isDuplicateErr(result.Error) {
			return domain.ErrDuplicateMessage
		}
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrDuplicateMessage
	}
	return nil
}

func (r *MessageGormRepository) ListByTicket(ctx context.Context, ticketID string, limit int) ([]*domain.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var models []messageModel
	err := r.db.WithContext(ctx).
		Where("ticket_id = ?", ticketID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	// Oldest first for the client.
	messages := make([]*domain.Message, 0, len(models))
	for i := len(models) - 1; i >= 0; i-- {
		msg, err := fromMessageModel(models[i])
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// ListOrphans returns messages persisted without a ticket reference,
// oldest first.
func (r *MessageGormRepository) ListOrphans(ctx context.Context, limit int) ([]*domain.Message, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}

	var models []messageModel
	err := r.db.WithContext(ctx).
		Where("ticket_id IS NULL").
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	messages := make([]*domain.Message, 0, len(models))
	for _, m := range models {
		msg, err := fromMessageModel(m)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// AttachTicket links an orphan message to a ticket and clears the orphan
// marker from its metadata.
func (r *MessageGormRepository) AttachTicket(ctx context.Context, id, ticketID string) error {
	var m messageModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.ErrMessageNotFound
		}
		return err
	}

	meta := map[string]any{}
	if m.Metadata != "" {
		if err := json.Unmarshal([]byte(m.Metadata), &meta); err != nil {
			meta = map[string]any{}
		}
	}
	delete(meta, "orphan")
	delete(meta, "original_ticket_id")
	meta["reconciled_at"] = time.Now().UTC().Format(time.RFC3339)

	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(&messageModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"ticket_id": ticketID,
			"metadata":  string(raw),
		}).Error
}

// SetDeliveryStatus attaches outbound delivery metadata after the gateway
// confirms or rejects a send. The content itself is never mutated.
func (r *MessageGormRepository) SetDeliveryStatus(ctx context.Context, id string, delivered bool, detail string) error {
	var m messageModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.ErrMessageNotFound
		}
		return err
	}

	meta := map[string]any{}
	if m.Metadata != "" {
		if err := json.Unmarshal([]byte(m.Metadata), &meta); err != nil {
			meta = map[string]any{}
		}
	}
	meta["delivered"] = delivered
	if detail != "" {
		meta["delivery_detail"] = detail
	}

	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(&messageModel{}).
		Where("id = ?", id).
		Update("metadata", string(raw)).Error
}

// --- Mappers ---

func toMessageModel(msg *domain.Message) (messageModel, error) {
	meta, err := json.Marshal(orEmptyMap(msg.Metadata))
	if err != nil {
		return messageModel{}, err
	}

	model := messageModel{
		ID:         msg.ID,
		TicketID:   msg.TicketID,
		Content:    msg.Content,
		Sender:     string(msg.Sender),
		SenderName: msg.SenderName,
		Metadata:   string(meta),
		CreatedAt:  msg.CreatedAt,
	}
	if msg.ChannelMessageID != "" {
		id := msg.ChannelMessageID
		model.ChannelMessageID = &id
	}
	return model, nil
}

func fromMessageModel(m messageModel) (*domain.Message, error) {
	meta := map[string]any{}
	if m.Metadata != "" {
		if err := json.Unmarshal([]byte(m.Metadata), &meta); err != nil {
			return nil, err
		}
	}

	msg := &domain.Message{
		ID:         m.ID,
		TicketID:   m.TicketID,
		Content:    m.Content,
		Sender:     domain.MessageSender(m.Sender),
		SenderName: m.SenderName,
		Metadata:   meta,
		CreatedAt:  m.CreatedAt,
	}
	if m.ChannelMessageID != nil {
		msg.ChannelMessageID = *m.ChannelMessageID
	}
	return msg, nil
}
