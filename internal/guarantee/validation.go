// internal/guarantee/validation.go
package guarantee

import (
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"guaranteedesk/pkg/domain"
)

// Rules are the tunable bounds of the business rules.
type Rules struct {
	MinAmount            decimal.Decimal
	MaxAmount            decimal.Decimal
	MaxCommissionRate    decimal.Decimal
	MinExpiryDays        int
	NearExpiryDays       int
	MaxFileSize          int64
	MinTitleLength       int
	MinRenewalNoticeDays int
	MaxRenewalNoticeDays int
}

// DefaultRules returns the standard desk rules.
func DefaultRules() Rules {
	return Rules{
		MinAmount:            decimal.NewFromInt(1_000),
		MaxAmount:            decimal.NewFromInt(100_000_000),
		MaxCommissionRate:    decimal.NewFromInt(10),
		MinExpiryDays:        30,
		NearExpiryDays:       30,
		MaxFileSize:          10 * 1024 * 1024,
		MinTitleLength:       5,
		MinRenewalNoticeDays: 7,
		MaxRenewalNoticeDays: 365,
	}
}

func (r Rules) check() error {
	switch {
	case !r.MinAmount.IsPositive() || r.MaxAmount.LessThan(r.MinAmount):
		return fmt.Errorf("amount bounds [%s, %s] are inconsistent", r.MinAmount, r.MaxAmount)
	case r.MaxCommissionRate.IsNegative():
		return fmt.Errorf("max commission rate %s is negative", r.MaxCommissionRate)
	case r.MinExpiryDays < 0 || r.NearExpiryDays <= 0:
		return fmt.Errorf("expiry horizons (%d, %d) are inconsistent", r.MinExpiryDays, r.NearExpiryDays)
	case r.MaxFileSize <= 0 || r.MinTitleLength < 0:
		return fmt.Errorf("file size %d or title length %d is invalid", r.MaxFileSize, r.MinTitleLength)
	case r.MinRenewalNoticeDays <= 0 || r.MaxRenewalNoticeDays < r.MinRenewalNoticeDays:
		return fmt.Errorf("renewal notice bounds [%d, %d] are inconsistent", r.MinRenewalNoticeDays, r.MaxRenewalNoticeDays)
	}
	return nil
}

// requiredDocuments lists the document kinds each guarantee type must carry.
// Every type also needs the common set.
var (
	commonDocuments   = []string{"commercial_register", "tax_card"}
	requiredDocuments = map[domain.GuaranteeType][]string{
		domain.GuaranteePerformance:    {"contract"},
		domain.GuaranteeAdvancePayment: {"contract", "advance_invoice"},
		domain.GuaranteeMaintenance:    {"contract", "delivery_certificate"},
		domain.GuaranteeBidBond:        {"tender_document"},
		domain.GuaranteeCustoms:        {"customs_declaration"},
		domain.GuaranteeFinalPayment:   {"contract", "final_invoice"},
	}
)

// RequiredDocuments returns the document kinds a guarantee of type t needs.
func RequiredDocuments(t domain.GuaranteeType) []string {
	return append(slices.Clone(commonDocuments), requiredDocuments[t]...)
}

// PartyForm is the submitted shape of an applicant or beneficiary.
type PartyForm struct {
	Name                string               `json:"name" validate:"required"`
	LegalName           string               `json:"legal_name,omitempty"`
	RegistrationNumber  string               `json:"registration_number,omitempty" validate:"omitempty,regno"`
	TaxID               string               `json:"tax_id,omitempty" validate:"omitempty,taxid"`
	Address             domain.Address       `json:"address"`
	Contact             domain.Contact       `json:"contact"`
	BankAccount         *BankAccount         `json:"bank_account,omitempty" validate:"omitempty"`
	LegalRepresentative *LegalRepresentative `json:"legal_representative,omitempty" validate:"omitempty"`
}

// DocumentForm is the metadata of an already uploaded file.
type DocumentForm struct {
	FileID   string `json:"file_id" validate:"required"`
	Name     string `json:"name" validate:"required"`
	Kind     string `json:"kind" validate:"required"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size" validate:"gt=0"`
}

// CreateForm is the input for a new guarantee.
type CreateForm struct {
	Type              domain.GuaranteeType `json:"type" validate:"guarantee_type"`
	Priority          Priority             `json:"priority,omitempty" validate:"omitempty,oneof=low medium high urgent"`
	Title             string               `json:"title" validate:"required"`
	Description       string               `json:"description,omitempty"`
	ReferenceNumber   string               `json:"reference_number,omitempty"`
	Applicant         PartyForm            `json:"applicant"`
	Beneficiary       PartyForm            `json:"beneficiary"`
	BankID            uuid.UUID            `json:"bank_id" validate:"required"`
	Amount            decimal.Decimal      `json:"amount"`
	Currency          domain.Currency      `json:"currency" validate:"currency"`
	ExpiryDate        time.Time            `json:"expiry_date" validate:"required"`
	IsRenewable       bool                 `json:"is_renewable"`
	AutoRenewal       bool                 `json:"auto_renewal"`
	RenewalNoticeDays int                  `json:"renewal_notice_days,omitempty"`
	Documents         []DocumentForm       `json:"documents" validate:"dive"`
	Tags              []string             `json:"tags,omitempty" validate:"dive,required"`
	Notes             string               `json:"notes,omitempty"`
}

// Validator checks forms, documents and stored aggregates against Rules.
// It is pure: inputs are never modified.
type Validator struct {
	rules Rules
	tags  *validator.Validate
}

// NewValidator builds a validator. It panics when rules are inconsistent,
// since that is a wiring mistake rather than bad input.
func NewValidator(rules Rules) *Validator {
	if err := rules.check(); err != nil {
		panic("guarantee: " + err.Error())
	}
	return &Validator{rules: rules, tags: domain.NewValidator()}
}

// Rules returns the bounds in force.
func (v *Validator) Rules() Rules { return v.rules }

// ValidateForm runs tag rules first and business rules after, returning every
// violation in that order. applicationDate is the creation instant.
func (v *Validator) ValidateForm(f *CreateForm, applicationDate time.Time) error {
	ve := &domain.ValidationError{}
	if err := domain.ValidateStruct(v.tags, f, ve); err != nil {
		return err
	}

	v.checkAmount("amount", f.Amount, ve)
	v.checkExpiry(f.ExpiryDate, applicationDate, ve)
	v.checkRenewalNotice(f.IsRenewable, f.RenewalNoticeDays, ve)
	if n := utf8.RuneCountInString(strings.TrimSpace(f.Title)); n > 0 && n < v.rules.MinTitleLength {
		ve.Addf("title", "must be at least %d characters", v.rules.MinTitleLength)
	}
	for i, d := range f.Documents {
		v.checkFileSize(fmt.Sprintf("documents[%d].size", i), d.Size, ve)
	}
	if f.Type.IsValid() {
		v.checkRequiredDocuments(f.Type, f.Documents, ve)
	}
	return ve.OrNil()
}

// ValidateDocument checks a single attachment added after creation.
func (v *Validator) ValidateDocument(d DocumentForm) error {
	ve := &domain.ValidationError{}
	if err := domain.ValidateStruct(v.tags, d, ve); err != nil {
		return err
	}
	v.checkFileSize("size", d.Size, ve)
	return ve.OrNil()
}

// ValidateCommissionRate checks a rate taken from a bank's table.
func (v *Validator) ValidateCommissionRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(v.rules.MaxCommissionRate) {
		return domain.Invalid("commission_rate", fmt.Sprintf("must be between 0 and %s percent", v.rules.MaxCommissionRate))
	}
	return nil
}

// ValidateGuarantee checks the invariants of a fully populated aggregate.
func (v *Validator) ValidateGuarantee(g *Guarantee) error {
	ve := &domain.ValidationError{}
	if g.GuaranteeNumber == "" {
		ve.Add("guarantee_number", "is required")
	}
	if !g.Type.IsValid() {
		ve.Add("type", "must be a supported guarantee type")
	}
	if !g.Status.IsValid() {
		ve.Add("status", "is not a lifecycle state")
	}
	if !g.Currency.IsValid() {
		ve.Add("currency", "must be one of YER, SAR, USD, EUR")
	}
	v.checkAmount("amount", g.Amount, ve)
	if g.CommissionRate.IsNegative() || g.CommissionRate.GreaterThan(v.rules.MaxCommissionRate) {
		ve.Addf("commission_rate", "must be between 0 and %s percent", v.rules.MaxCommissionRate)
	}
	if !CommissionHolds(g) {
		ve.Add("commission_amount", "does not match amount and commission rate")
	}
	if g.ExpiryDate.Before(g.ApplicationDate.AddDate(0, 0, v.rules.MinExpiryDays)) {
		ve.Addf("expiry_date", "must be at least %d days after the application date", v.rules.MinExpiryDays)
	}
	v.checkRenewalNotice(g.IsRenewable, g.RenewalNoticeDays, ve)
	last, ok := g.LastChange()
	switch {
	case !ok:
		ve.Add("status_history", "must not be empty")
	case last.Status != g.Status:
		ve.Add("status_history", "last entry does not match the current status")
	}
	for i, d := range g.Documents {
		v.checkFileSize(fmt.Sprintf("documents[%d].size", i), d.Size, ve)
	}
	return ve.OrNil()
}

func (v *Validator) checkAmount(field string, amount decimal.Decimal, ve *domain.ValidationError) {
	if amount.LessThan(v.rules.MinAmount) {
		ve.Addf(field, "must be at least %s", v.rules.MinAmount)
	} else if amount.GreaterThan(v.rules.MaxAmount) {
		ve.Addf(field, "must not exceed %s", v.rules.MaxAmount)
	}
}

func (v *Validator) checkExpiry(expiry, applicationDate time.Time, ve *domain.ValidationError) {
	if expiry.IsZero() {
		return
	}
	if !expiry.After(applicationDate) {
		ve.Add("expiry_date", "must be in the future")
		return
	}
	if expiry.Before(applicationDate.AddDate(0, 0, v.rules.MinExpiryDays)) {
		ve.Addf("expiry_date", "must be at least %d days after the application date", v.rules.MinExpiryDays)
	}
}

func (v *Validator) checkRenewalNotice(renewable bool, days int, ve *domain.ValidationError) {
	if !renewable && days == 0 {
		return
	}
	if days < v.rules.MinRenewalNoticeDays || days > v.rules.MaxRenewalNoticeDays {
		ve.Addf("renewal_notice_days", "must be between %d and %d", v.rules.MinRenewalNoticeDays, v.rules.MaxRenewalNoticeDays)
	}
}

func (v *Validator) checkFileSize(field string, size int64, ve *domain.ValidationError) {
	if size > v.rules.MaxFileSize {
		ve.Addf(field, "must not exceed %d bytes", v.rules.MaxFileSize)
	}
}

func (v *Validator) checkRequiredDocuments(t domain.GuaranteeType, docs []DocumentForm, ve *domain.ValidationError) {
	for _, kind := range RequiredDocuments(t) {
		found := slices.ContainsFunc(docs, func(d DocumentForm) bool { return d.Kind == kind })
		if !found {
			ve.Addf("documents", "missing required document %q", kind)
		}
	}
}

func checkRanges(f Filter, ve *domain.ValidationError) {
	if f.AmountMin != nil && f.AmountMax != nil && f.AmountMin.GreaterThan(*f.AmountMax) {
		ve.Add("amount_min", "must not exceed amount_max")
	}
	if f.ApplicationFrom != nil && f.ApplicationTo != nil && f.ApplicationFrom.After(*f.ApplicationTo) {
		ve.Add("application_from", "must not be after application_to")
	}
	if f.ExpiryFrom != nil && f.ExpiryTo != nil && f.ExpiryFrom.After(*f.ExpiryTo) {
		ve.Add("expiry_from", "must not be after expiry_to")
	}
}
