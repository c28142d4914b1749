// internal/bank/implementation.go
package bank

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"guaranteedesk/pkg/domain"
)

// Option configures the service.
type Option func(*service)

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// service implements the Service interface.
type service struct {
	store     Store
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates a new bank directory service.
func NewService(store Store, opts ...Option) Service {
	s := &service{
		store:     store,
		validator: domain.NewValidator(),
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register validates and stores a new branch. New branches start active.
func (s *service) Register(ctx context.Context, req RegisterRequest) (*Profile, error) {
	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	req.Address = req.Address.Normalized()
	req.Contact = req.Contact.Normalized()
	req.BranchManager = req.BranchManager.Normalized()

	if err := req.Validate(s.validator); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	p := &Profile{
		ID:              uuid.New(),
		Code:            req.Code,
		Name:            strings.TrimSpace(req.Name),
		BranchName:      strings.TrimSpace(req.BranchName),
		Address:         req.Address,
		Contact:         req.Contact,
		BranchManager:   req.BranchManager,
		CommissionRates: req.CommissionRates,
		ProcessingDays:  req.ProcessingDays,
		WorkingDays:     req.WorkingDays,
		WorkingHours:    req.WorkingHours,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         1,
	}

	evt := Event{Type: "BankRegistered", Data: BankRegisteredEvent{ID: p.ID, Code: p.Code, Name: p.Name}}
	if err := s.store.Create(ctx, p, evt); err != nil {
		if errors.Is(err, ErrDuplicateCode) {
			return nil, domain.Invalid("code", "is already registered")
		}
		return nil, fmt.Errorf("failed to store bank: %w", err)
	}

	s.logger.Info("bank registered", zap.String("bank_id", p.ID.String()), zap.String("code", p.Code))
	return p, nil
}

// GetBank retrieves a branch by its ID.
func (s *service) GetBank(ctx context.Context, id uuid.UUID) (*Profile, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, &domain.NotFoundError{Resource: "bank", ID: id.String()}
		}
		return nil, fmt.Errorf("failed to get bank: %w", err)
	}
	return p, nil
}

// List returns branches ordered by code.
func (s *service) List(ctx context.Context, activeOnly bool) ([]*Profile, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list banks: %w", err)
	}
	if !activeOnly {
		return all, nil
	}
	out := all[:0]
	for _, p := range all {
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

// UpdateRates replaces the commission table. Existing guarantees keep the
// rates captured when they were created.
func (s *service) UpdateRates(ctx context.Context, id uuid.UUID, rates map[domain.GuaranteeType]decimal.Decimal) (*Profile, error) {
	if err := ValidateRates(rates); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, func(p *Profile) Event {
		p.CommissionRates = rates
		return Event{Type: "BankRatesUpdated", Data: RatesUpdatedEvent{ID: id, Rates: rates}}
	})
}

// SetActive enables or disables a branch for new guarantees.
func (s *service) SetActive(ctx context.Context, id uuid.UUID, active bool) (*Profile, error) {
	return s.mutate(ctx, id, func(p *Profile) Event {
		p.IsActive = active
		return Event{Type: "BankStatusChanged", Data: StatusChangedEvent{ID: id, IsActive: active}}
	})
}

func (s *service) mutate(ctx context.Context, id uuid.UUID, apply func(p *Profile) Event) (*Profile, error) {
	current, err := s.GetBank(ctx, id)
	if err != nil {
		return nil, err
	}

	next := current.Clone()
	evt := apply(next)
	next.Version = current.Version + 1
	next.UpdatedAt = s.now().UTC()

	if err := s.store.Update(ctx, next, current.Version, evt); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("bank %s was modified concurrently: %w", id, err)
		}
		return nil, fmt.Errorf("failed to update bank: %w", err)
	}

	s.logger.Info("bank updated", zap.String("bank_id", id.String()), zap.String("event", evt.Type))
	return next, nil
}
