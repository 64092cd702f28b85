package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"chatbot-gateway/internal/domain"
	"chatbot-gateway/internal/repository"
)

// channelPrefix is stripped from raw channel addresses before identity
// lookup; the prefix-bearing form is still used when replying on the wire.
const channelPrefix = "whatsapp:"

// IdentityStore is the persistence contract for customer identities.
type IdentityStore interface {
	FindCustomer(ctx context.Context, tenantID, phone string) (domain.Customer, bool, error)
	CreateCustomer(ctx context.Context, cust domain.Customer) error
}

// IdentityResolver maps a raw sender address to a stable customer identity,
// creating one on first contact.
type IdentityResolver struct {
	store IdentityStore
}

// NewIdentityResolver creates an IdentityResolver.
func NewIdentityResolver(store IdentityStore) (*IdentityResolver, error) {
	if store == nil {
		return nil, errors.New("usecase: identity store must not be nil")
	}
	return &IdentityResolver{store: store}, nil
}

// NormalizeAddress strips the channel protocol prefix, producing the
// canonical phone key used for identity lookups.
func NormalizeAddress(raw string) string {
	return strings.TrimPrefix(strings.TrimSpace(raw), channelPrefix)
}

// ResolveCustomer looks up the customer by (tenant, phone) and creates one if
// absent. A uniqueness violation on create means a concurrent delivery just
// created the same customer, so the resolver re-fetches instead of failing.
func (r *IdentityResolver) ResolveCustomer(ctx context.Context, tenantID, rawAddress, displayAlias string) (domain.Customer, error) {
	phone := NormalizeAddress(rawAddress)
	if phone == "" {
		return domain.Customer{}, errors.New("usecase: sender address must not be empty")
	}

	cust, found, err := r.store.FindCustomer(ctx, tenantID, phone)
	if err != nil {
		return domain.Customer{}, err
	}
	if found {
		return cust, nil
	}

	fresh := domain.Customer{
		ID:           newCustomerID(),
		TenantID:     tenantID,
		DisplayAlias: displayAlias,
		Phone:        phone,
		RegisteredAt: timeNow(),
	}
	createErr := r.store.CreateCustomer(ctx, fresh)
	if createErr == nil {
		return fresh, nil
	}
	if !errors.Is(createErr, repository.ErrUniqueViolation) {
		return domain.Customer{}, createErr
	}

	cust, found, err = r.store.FindCustomer(ctx, tenantID, phone)
	if err != nil {
		return domain.Customer{}, err
	}
	if !found {
		return domain.Customer{}, fmt.Errorf("usecase: customer create raced but re-fetch found nothing: %w", createErr)
	}
	return cust, nil
}

var newCustomerID = func() string {
	return uuid.NewString()
}
