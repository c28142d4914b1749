// internal/bank/service.go
package bank

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"guaranteedesk/pkg/domain"
)

// Service defines the interface for the bank directory.
type Service interface {
	Register(ctx context.Context, req RegisterRequest) (*Profile, error)
	GetBank(ctx context.Context, id uuid.UUID) (*Profile, error)
	List(ctx context.Context, activeOnly bool) ([]*Profile, error)
	UpdateRates(ctx context.Context, id uuid.UUID, rates map[domain.GuaranteeType]decimal.Decimal) (*Profile, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) (*Profile, error)
}
