package application

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/evocrm/wabridge/crm/domain"
	"github.com/evocrm/wabridge/pkg/phone"
	"github.com/sirupsen/logrus"
)

// IdentityResolver maps a phone-derived identifier to a customer record,
// creating one lazily on first contact. There is one resolver for every
// entry point; the lookup/create logic is not duplicated elsewhere.
type IdentityResolver struct {
	customers   domain.CustomerRepository
	countryCode string
}

func NewIdentityResolver(customers domain.CustomerRepository, countryCode string) *IdentityResolver {
	return &IdentityResolver{customers: customers, countryCode: countryCode}
}

// Resolve finds or creates the customer for rawPhone. pushName is a
// best-effort enrichment: it replaces a generated placeholder name but never
// overwrites a real one.
func (r *IdentityResolver) Resolve(ctx context.Context, rawPhone, instance, pushName string) (*domain.Customer, error) {
	canonical := phone.Canonicalize(rawPhone, r.countryCode)
	if canonical == "" {
		return nil, domain.ErrCustomerNotFound
	}

	customer, err := r.customers.GetByPhone(ctx, canonical)
	if err != nil && !errors.Is(err, domain.ErrCustomerNotFound) {
		return nil, err
	}

	if customer != nil {
		r.enrich(ctx, customer, pushName)
		return customer, nil
	}

	customer = &domain.Customer{
		DisplayName:    displayNameFor(canonical, pushName),
		Phone:          canonical,
		PhoneFormatted: phone.Format(canonical),
		Instance:       instance,
		Metadata: map[string]any{
			"source":        "webhook",
			"first_contact": time.Now().UTC().Format(time.RFC3339),
		},
	}

	if err := r.customers.Create(ctx, customer); err != nil {
		if errors.Is(err, domain.ErrDuplicateCustomer) {
			// Lost a create race; the winner's row is what we want.
			logrus.Debugf("[IDENTITY] Create race for %s, re-resolving", canonical)
			return r.customers.GetByPhone(ctx, canonical)
		}
		return nil, err
	}

	logrus.Infof("[IDENTITY] Customer created: %s (%s)", customer.DisplayName, canonical)
	return customer, nil
}

// enrich updates the stored name when a better one arrives and refreshes the
// last-contact marker. Failures here are logged, not surfaced: the resolution
// itself already succeeded.
func (r *IdentityResolver) enrich(ctx context.Context, customer *domain.Customer, pushName string) {
	now := time.Now()

	pushName = strings.TrimSpace(pushName)
	if pushName != "" && isPlaceholderName(customer.DisplayName) {
		customer.DisplayName = pushName
		if err := r.customers.Update(ctx, customer); err != nil {
			logrus.WithError(err).Warnf("[IDENTITY] Failed to enrich name for %s", customer.ID)
		}
	}

	if err := r.customers.UpdateLastContact(ctx, customer.ID, now); err != nil {
		logrus.WithError(err).Warnf("[IDENTITY] Failed to update last contact for %s", customer.ID)
	}
	customer.LastContactAt = &now
}

func displayNameFor(canonical, pushName string) string {
	if name := strings.TrimSpace(pushName); name != "" {
		return name
	}
	return phone.MaskedName(canonical)
}

func isPlaceholderName(name string) bool {
	name = strings.TrimSpace(name)
	return name == "" || strings.HasPrefix(name, "Cliente ")
}
