// internal/bank/domain.go
package bank

import (
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"guaranteedesk/pkg/domain"
)

// ProcessingDays is how long the branch takes to issue a guarantee.
type ProcessingDays struct {
	Standard int `json:"standard"`
	Urgent   int `json:"urgent"`
}

// WorkingHours uses 24h "HH:MM" strings in the branch's local time.
type WorkingHours struct {
	Open  string `json:"open"`
	Close string `json:"close"`
}

// Profile describes a guaranteeing bank branch. Guarantees embed a copy of the
// profile taken at issuance, so edits here never reach existing guarantees.
type Profile struct {
	ID              uuid.UUID                                `json:"id"`
	Code            string                                   `json:"code"`
	Name            string                                   `json:"name"`
	BranchName      string                                   `json:"branch_name"`
	Address         domain.Address                           `json:"address"`
	Contact         domain.Contact                           `json:"contact"`
	BranchManager   domain.Contact                           `json:"branch_manager"`
	CommissionRates map[domain.GuaranteeType]decimal.Decimal `json:"commission_rates"`
	ProcessingDays  ProcessingDays                           `json:"processing_days"`
	WorkingDays     []time.Weekday                           `json:"working_days"`
	WorkingHours    WorkingHours                             `json:"working_hours"`
	IsActive        bool                                     `json:"is_active"`
	CreatedAt       time.Time                                `json:"created_at"`
	UpdatedAt       time.Time                                `json:"updated_at"`
	Version         int                                      `json:"version"`
}

// RateFor returns the commission rate (percent) configured for a guarantee type.
func (p *Profile) RateFor(t domain.GuaranteeType) (decimal.Decimal, bool) {
	rate, ok := p.CommissionRates[t]
	return rate, ok
}

// Clone returns a deep copy.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	c.CommissionRates = maps.Clone(p.CommissionRates)
	c.WorkingDays = slices.Clone(p.WorkingDays)
	return &c
}

// RegisterRequest is the input for adding a bank branch.
type RegisterRequest struct {
	Code            string                                   `json:"code" validate:"required,max=16"`
	Name            string                                   `json:"name" validate:"required"`
	BranchName      string                                   `json:"branch_name" validate:"required"`
	Address         domain.Address                           `json:"address"`
	Contact         domain.Contact                           `json:"contact"`
	BranchManager   domain.Contact                           `json:"branch_manager"`
	CommissionRates map[domain.GuaranteeType]decimal.Decimal `json:"commission_rates" validate:"required"`
	ProcessingDays  ProcessingDays                           `json:"processing_days"`
	WorkingDays     []time.Weekday                           `json:"working_days"`
	WorkingHours    WorkingHours                             `json:"working_hours"`
}

// Event is published on bank profile changes.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// BankRegisteredEvent is journaled when a branch is added.
type BankRegisteredEvent struct {
	ID   uuid.UUID `json:"id"`
	Code string    `json:"code"`
	Name string    `json:"name"`
}

// RatesUpdatedEvent is journaled when the commission table changes.
type RatesUpdatedEvent struct {
	ID    uuid.UUID                                `json:"id"`
	Rates map[domain.GuaranteeType]decimal.Decimal `json:"rates"`
}

// StatusChangedEvent is journaled on activation or deactivation.
type StatusChangedEvent struct {
	ID       uuid.UUID `json:"id"`
	IsActive bool      `json:"is_active"`
}
