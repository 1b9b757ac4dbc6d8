package repository

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/evocrm/wabridge/crm/domain"
	"github.com/evocrm/wabridge/pkg/phone"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// --- Persistence Model ---

type customerModel struct {
	ID             string `gorm:"primaryKey"`
	DisplayName    string `gorm:"index:idx_customers_display_name"`
	Phone          string `gorm:"uniqueIndex:idx_customers_phone;not null"`
	PhoneFormatted string `gorm:"index:idx_customers_phone_formatted"`
	Handle         string `gorm:"index:idx_customers_handle"`
	Instance       string
	Metadata       string     `gorm:"type:text;default:'{}'"` // JSON
	LastContactAt  *time.Time `gorm:"column:last_contact_at"`
	CreatedAt      time.Time  `gorm:"not null"`
	UpdatedAt      time.Time  `gorm:"not null"`
}

func (customerModel) TableName() string {
	return "customers"
}

// --- Repository Implementation ---

type CustomerGormRepository struct {
	db *gorm.DB
}

func NewCustomerGormRepository(db *gorm.DB) *CustomerGormRepository {
	return &CustomerGormRepository{db: db}
}

func (r *CustomerGormRepository) InitSchema(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&customerModel{})
}

func (r *CustomerGormRepository) Create(ctx context.Context, customer *domain.Customer) error {
	if customer.ID == "" {
		customer.ID = uuid.New().String()
	}
	now := time.Now()
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = now
	}
	customer.UpdatedAt = now

	model, err := toCustomerModel(customer)
	if err != nil {
		return err
	}

	result := r.db.WithContext(ctx).Create(&model)
	if result.Error != nil {
		if isDuplicateErr(result.Error) {
			return domain.ErrDuplicateCustomer
		}
		return result.Error
	}
	return nil
}

func (r *CustomerGormRepository) GetByID(ctx context.Context, id string) (*domain.Customer, error) {
	var m customerModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrCustomerNotFound
		}
		return nil, err
	}
	return fromCustomerModel(m)
}

// GetByPhone resolves by canonical digits first, then the formatted variant,
// then the synthetic placeholder handle.
func (r *CustomerGormRepository) GetByPhone(ctx context.Context, rawPhone string) (*domain.Customer, error) {
	digits := phone.OnlyDigits(rawPhone)

	var m customerModel
	err := r.db.WithContext(ctx).
		Where("phone = ? OR phone_formatted = ? OR handle = ?",
			digits, phone.Format(digits), phone.PlaceholderHandle(digits)).
		First(&m).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrCustomerNotFound
		}
		return nil, err
	}
	return fromCustomerModel(m)
}

func (r *CustomerGormRepository) Update(ctx context.Context, customer *domain.Customer) error {
	customer.UpdatedAt = time.Now()
	model, err := toCustomerModel(customer)
	if err != nil {
		return err
	}

	result := r.db.WithContext(ctx).Model(&customerModel{ID: customer.ID}).Select("*").Updates(&model)
	if result.Error != nil {
		if isDuplicateErr(result.Error) {
			return domain.ErrDuplicateCustomer
		}
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrCustomerNotFound
	}
	return nil
}

func (r *CustomerGormRepository) UpdateLastContact(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&customerModel{}).
		Where("id = ?", id).
		Updates(map[string]any{"last_contact_at": at, "updated_at": time.Now()}).Error
}

// --- Mappers ---

func toCustomerModel(c *domain.Customer) (customerModel, error) {
	meta, err := json.Marshal(orEmptyMap(c.Metadata))
	if err != nil {
		return customerModel{}, err
	}

	return customerModel{
		ID:             c.ID,
		DisplayName:    c.DisplayName,
		Phone:          c.Phone,
		PhoneFormatted: c.PhoneFormatted,
		Handle:         phone.PlaceholderHandle(c.Phone),
		Instance:       c.Instance,
		Metadata:       string(meta),
		LastContactAt:  c.LastContactAt,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}, nil
}

func fromCustomerModel(m customerModel) (*domain.Customer, error) {
	meta := map[string]any{}
	if m.Metadata != "" {
		if err := json.Unmarshal([]byte(m.Metadata), &meta); err != nil {
			return nil, err
		}
	}

	return &domain.Customer{
		ID:             m.ID,
		DisplayName:    m.DisplayName,
		Phone:          m.Phone,
		PhoneFormatted: m.PhoneFormatted,
		Instance:       m.Instance,
		Metadata:       meta,
		LastContactAt:  m.LastContactAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}, nil
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func isDuplicateErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
