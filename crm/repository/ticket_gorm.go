package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/evocrm/wabridge/crm/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// --- Persistence Model ---

type ticketModel struct {
	ID            string `gorm:"primaryKey"`
	Title         string
	Status        string `gorm:"index:idx_tickets_status;not null;default:'open'"`
	CustomerID    string `gorm:"index:idx_tickets_customer;not null"`
	Channel       string `gorm:"not null;default:'whatsapp'"`
	Instance      string `gorm:"index:idx_tickets_instance"`
	Phone         string `gorm:"index:idx_tickets_phone"`
	Metadata      string `gorm:"type:text;default:'{}'"` // JSON
	LastMessageAt *time.Time
	ClosedAt      *time.Time
	CreatedAt     time.Time `gorm:"not null;index:idx_tickets_created"`
	UpdatedAt     time.Time `gorm:"not null"`
}

func (ticketModel) TableName() string {
	return "tickets"
}

// --- Repository Implementation ---

type TicketGormRepository struct {
	db *gorm.DB
}

func NewTicketGormRepository(db *gorm.DB) *TicketGormRepository {
	return &TicketGormRepository{db: db}
}

func (r *TicketGormRepository) InitSchema(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&ticketModel{})
}

func (r *TicketGormRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	if ticket.ID == "" {
		ticket.ID = uuid.New().String()
	}
	now := time.Now()
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = now
	}
	ticket.UpdatedAt = now
	if ticket.Status == "" {
		ticket.Status = domain.StatusOpen
	}

	model, err := toTicketModel(ticket)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *TicketGormRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	var m ticketModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrTicketNotFound
		}
		return nil, err
	}
	return fromTicketModel(m)
}

// FindOpenByCustomer returns the most recent still-actionable ticket for the
// customer on the instance. Terminal statuses are excluded here and nowhere
// else: a finalized conversation must never silently reopen.
func (r *TicketGormRepository) FindOpenByCustomer(ctx context.Context, customerID, instance string) (*domain.Ticket, error) {
	statuses := make([]string, 0, len(domain.OpenStatuses))
	for _, s := range domain.OpenStatuses {
		statuses = append(statuses, string(s))
	}

	query := r.db.WithContext(ctx).
		Where("customer_id = ? AND status IN ?", customerID, statuses)
	if instance != "" {
		query = query.Where("instance = ?", instance)
	}

	var m ticketModel
	if err := query.Order("created_at DESC").First(&m).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrTicketNotFound
		}
		return nil, err
	}
	return fromTicketModel(m)
}

func (r *TicketGormRepository) Update(ctx context.Context, ticket *domain.Ticket) error {
	ticket.UpdatedAt = time.Now()
	model, err := toTicketModel(ticket)
	if err != nil {
		return err
	}

	result := r.db.WithContext(ctx).Model(&ticketModel{ID: ticket.ID}).Select("*").Updates(&model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrTicketNotFound
	}
	return nil
}

func (r *TicketGormRepository) Touch(ctx context.Context, id, phone string, at time.Time) error {
	updates := map[string]any{
		"last_message_at": at,
		"updated_at":      time.Now(),
	}
	if phone != "" {
		updates["phone"] = phone
	}

	result := r.db.WithContext(ctx).Model(&ticketModel{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrTicketNotFound
	}
	return nil
}

func (r *TicketGormRepository) SetStatus(ctx context.Context, id string, status domain.TicketStatus) error {
	updates := map[string]any{
		"status":     string(status),
		"updated_at": time.Now(),
	}
	if !status.IsOpenClass() {
		now := time.Now()
		updates["closed_at"] = &now
	}

	result := r.db.WithContext(ctx).Model(&ticketModel{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrTicketNotFound
	}
	return nil
}

// --- Mappers ---

func toTicketModel(t *domain.Ticket) (ticketModel, error) {
	meta, err := json.Marshal(orEmptyMap(t.Metadata))
	if err != nil {
		return ticketModel{}, err
	}

	return ticketModel{
		ID:            t.ID,
		Title:         t.Title,
		Status:        string(t.Status),
		CustomerID:    t.CustomerID,
		Channel:       string(t.Channel),
		Instance:      t.Instance,
		Phone:         t.Phone,
		Metadata:      string(meta),
		LastMessageAt: t.LastMessageAt,
		ClosedAt:      t.ClosedAt,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}, nil
}

func fromTicketModel(m ticketModel) (*domain.Ticket, error) {
	meta := map[string]any{}
	if m.Metadata != "" {
		if err := json.Unmarshal([]byte(m.Metadata), &meta); err != nil {
			return nil, err
		}
	}

	return &domain.Ticket{
		ID:            m.ID,
		Title:         m.Title,
		Status:        domain.TicketStatus(m.Status),
		CustomerID:    m.CustomerID,
		Channel:       domain.ChannelType(m.Channel),
		Instance:      m.Instance,
		Phone:         m.Phone,
		Metadata:      meta,
		LastMessageAt: m.LastMessageAt,
		ClosedAt:      m.ClosedAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}, nil
}
