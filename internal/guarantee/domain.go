// internal/guarantee/domain.go
package guarantee

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"guaranteedesk/internal/bank"
	"guaranteedesk/pkg/domain"
)

// Status is a lifecycle state of a guarantee.
type Status string

const (
	StatusDraft       Status = "draft"
	StatusSubmitted   Status = "submitted"
	StatusUnderReview Status = "under_review"
	StatusApproved    Status = "approved"
	StatusIssued      Status = "issued"
	StatusActive      Status = "active"
	StatusExpired     Status = "expired"
	StatusCancelled   Status = "cancelled"
	StatusRejected    Status = "rejected"
	StatusReturned    Status = "returned"
)

// Statuses lists every state in lifecycle order.
var Statuses = []Status{
	StatusDraft, StatusSubmitted, StatusUnderReview, StatusApproved, StatusIssued,
	StatusActive, StatusExpired, StatusCancelled, StatusRejected, StatusReturned,
}

func (s Status) IsValid() bool {
	return slices.Contains(Statuses, s)
}

// Priority orders work in the guarantee desk queue.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// PartyRole distinguishes the two counterparties.
type PartyRole string

const (
	RoleApplicant   PartyRole = "applicant"
	RoleBeneficiary PartyRole = "beneficiary"
)

type BankAccount struct {
	BankName      string `json:"bank_name" validate:"required"`
	AccountNumber string `json:"account_number" validate:"required"`
	IBAN          string `json:"iban,omitempty"`
	SwiftCode     string `json:"swift_code,omitempty" validate:"omitempty,min=8,max=11"`
}

type LegalRepresentative struct {
	Name     string `json:"name" validate:"required"`
	Title    string `json:"title,omitempty"`
	IDNumber string `json:"id_number,omitempty"`
	Phone    string `json:"phone,omitempty" validate:"omitempty,ye_phone"`
}

// Party is the applicant or the beneficiary of a guarantee.
type Party struct {
	ID                  uuid.UUID            `json:"id"`
	Role                PartyRole            `json:"role"`
	Name                string               `json:"name"`
	LegalName           string               `json:"legal_name,omitempty"`
	RegistrationNumber  string               `json:"registration_number,omitempty"`
	TaxID               string               `json:"tax_id,omitempty"`
	Address             domain.Address       `json:"address"`
	Contact             domain.Contact       `json:"contact"`
	BankAccount         *BankAccount         `json:"bank_account,omitempty"`
	LegalRepresentative *LegalRepresentative `json:"legal_representative,omitempty"`
}

// DocumentStatus is the review outcome of an attachment.
type DocumentStatus string

const (
	DocumentPending     DocumentStatus = "pending"
	DocumentApproved    DocumentStatus = "approved"
	DocumentRejected    DocumentStatus = "rejected"
	DocumentNeedsUpdate DocumentStatus = "needs_update"
)

func (s DocumentStatus) IsValid() bool {
	switch s {
	case DocumentPending, DocumentApproved, DocumentRejected, DocumentNeedsUpdate:
		return true
	}
	return false
}

// Document references an uploaded file by its opaque FileID.
type Document struct {
	ID          uuid.UUID      `json:"id"`
	FileID      string         `json:"file_id"`
	Name        string         `json:"name"`
	Kind        string         `json:"kind"`
	MimeType    string         `json:"mime_type,omitempty"`
	Size        int64          `json:"size"`
	UploadedAt  time.Time      `json:"uploaded_at"`
	UploadedBy  string         `json:"uploaded_by"`
	Status      DocumentStatus `json:"status"`
	ReviewNotes string         `json:"review_notes,omitempty"`
	ReviewedBy  string         `json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time     `json:"reviewed_at,omitempty"`
}

// StatusChange is one entry of the append-only status history.
type StatusChange struct {
	PreviousStatus Status    `json:"previous_status,omitempty"`
	Status         Status    `json:"status"`
	ChangedAt      time.Time `json:"changed_at"`
	ChangedBy      string    `json:"changed_by"`
	Reason         string    `json:"reason,omitempty"`
	Notes          string    `json:"notes,omitempty"`
}

type AlertKind string

const (
	AlertExpiryWarning  AlertKind = "expiry_warning"
	AlertRenewalDue     AlertKind = "renewal_due"
	AlertExpired        AlertKind = "expired"
	AlertDocumentAction AlertKind = "document_action"
)

type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Alert is a notice attached to a guarantee. Alerts are resolved one by one
// and never removed.
type Alert struct {
	ID             uuid.UUID     `json:"id"`
	Kind           AlertKind     `json:"kind"`
	Severity       AlertSeverity `json:"severity"`
	Title          string        `json:"title"`
	Message        string        `json:"message"`
	TriggerDate    time.Time     `json:"trigger_date"`
	DueDate        *time.Time    `json:"due_date,omitempty"`
	IsRead         bool          `json:"is_read"`
	ActionRequired bool          `json:"action_required"`
	IsResolved     bool          `json:"is_resolved"`
	ResolvedAt     *time.Time    `json:"resolved_at,omitempty"`
	ResolvedBy     string        `json:"resolved_by,omitempty"`
}

type NoteVisibility string

const (
	VisibilityInternal NoteVisibility = "internal"
	VisibilityBank     NoteVisibility = "bank"
	VisibilityAll      NoteVisibility = "all"
)

func (v NoteVisibility) IsValid() bool {
	switch v {
	case VisibilityInternal, VisibilityBank, VisibilityAll:
		return true
	}
	return false
}

type Note struct {
	ID         uuid.UUID      `json:"id"`
	Content    string         `json:"content"`
	Visibility NoteVisibility `json:"visibility"`
	IsPrivate  bool           `json:"is_private"`
	CreatedAt  time.Time      `json:"created_at"`
	CreatedBy  string         `json:"created_by"`
}

type ExtensionStatus string

const (
	ExtensionPending  ExtensionStatus = "pending"
	ExtensionApproved ExtensionStatus = "approved"
	ExtensionRejected ExtensionStatus = "rejected"
)

// ExtensionRequest asks the bank to push the expiry date out.
type ExtensionRequest struct {
	ID            uuid.UUID       `json:"id"`
	CurrentExpiry time.Time       `json:"current_expiry"`
	RequestedDate time.Time       `json:"requested_date"`
	Reason        string          `json:"reason"`
	Status        ExtensionStatus `json:"status"`
	RequestedAt   time.Time       `json:"requested_at"`
	RequestedBy   string          `json:"requested_by"`
	DecidedAt     *time.Time      `json:"decided_at,omitempty"`
	DecidedBy     string          `json:"decided_by,omitempty"`
	DecisionNotes string          `json:"decision_notes,omitempty"`
}

// Guarantee is the bank guarantee aggregate.
type Guarantee struct {
	ID              uuid.UUID            `json:"id"`
	GuaranteeNumber string               `json:"guarantee_number"`
	ReferenceNumber string               `json:"reference_number,omitempty"`
	Type            domain.GuaranteeType `json:"type"`
	Status          Status               `json:"status"`
	Priority        Priority             `json:"priority"`
	Title           string               `json:"title"`
	Description     string               `json:"description,omitempty"`

	Applicant   Party        `json:"applicant"`
	Beneficiary Party        `json:"beneficiary"`
	Bank        bank.Profile `json:"bank"`

	Amount           decimal.Decimal `json:"amount"`
	Currency         domain.Currency `json:"currency"`
	CommissionRate   decimal.Decimal `json:"commission_rate"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`

	ApplicationDate time.Time          `json:"application_date"`
	IssueDate       *time.Time         `json:"issue_date,omitempty"`
	EffectiveDate   *time.Time         `json:"effective_date,omitempty"`
	ExpiryDate      time.Time          `json:"expiry_date"`
	ExtensionDate   *time.Time         `json:"extension_date,omitempty"`
	Extensions      []ExtensionRequest `json:"extensions"`

	Documents []Document `json:"documents"`

	SubmittedBy   string `json:"submitted_by,omitempty"`
	ReviewedBy    string `json:"reviewed_by,omitempty"`
	ApprovedBy    string `json:"approved_by,omitempty"`
	BankReference string `json:"bank_reference,omitempty"`
	BankNotes     string `json:"bank_notes,omitempty"`
	BankOfficer   string `json:"bank_officer,omitempty"`

	StatusHistory []StatusChange `json:"status_history"`
	Alerts        []Alert        `json:"alerts"`

	IsRenewable       bool `json:"is_renewable"`
	AutoRenewal       bool `json:"auto_renewal"`
	RenewalNoticeDays int  `json:"renewal_notice_days"`

	Tags           []string  `json:"tags"`
	Notes          []Note    `json:"notes"`
	CreatedAt      time.Time `json:"created_at"`
	CreatedBy      string    `json:"created_by"`
	LastModified   time.Time `json:"last_modified"`
	LastModifiedBy string    `json:"last_modified_by"`
	Version        string    `json:"version"`
	Revision       int       `json:"revision"`
	IsArchived     bool      `json:"is_archived"`
}

// EffectiveStatus is the status as observed at now: an active guarantee past
// its expiry date reads as expired until the sweep persists the transition.
func (g *Guarantee) EffectiveStatus(now time.Time) Status {
	if g.Status == StatusActive && IsExpired(g.ExpiryDate, now) {
		return StatusExpired
	}
	return g.Status
}

// LastChange returns the newest history entry.
func (g *Guarantee) LastChange() (StatusChange, bool) {
	if len(g.StatusHistory) == 0 {
		return StatusChange{}, false
	}
	return g.StatusHistory[len(g.StatusHistory)-1], true
}

func (g *Guarantee) document(id uuid.UUID) *Document {
	for i := range g.Documents {
		if g.Documents[i].ID == id {
			return &g.Documents[i]
		}
	}
	return nil
}

func (g *Guarantee) alert(id uuid.UUID) *Alert {
	for i := range g.Alerts {
		if g.Alerts[i].ID == id {
			return &g.Alerts[i]
		}
	}
	return nil
}

func (g *Guarantee) extension(id uuid.UUID) *ExtensionRequest {
	for i := range g.Extensions {
		if g.Extensions[i].ID == id {
			return &g.Extensions[i]
		}
	}
	return nil
}

// Clone returns a deep copy so a failed operation never leaks into the
// stored aggregate.
func (g *Guarantee) Clone() *Guarantee {
	if g == nil {
		return nil
	}
	c := *g
	c.Applicant = g.Applicant.clone()
	c.Beneficiary = g.Beneficiary.clone()
	c.Bank = *g.Bank.Clone()
	c.IssueDate = cloneTime(g.IssueDate)
	c.EffectiveDate = cloneTime(g.EffectiveDate)
	c.ExtensionDate = cloneTime(g.ExtensionDate)

	c.Extensions = slices.Clone(g.Extensions)
	for i := range c.Extensions {
		c.Extensions[i].DecidedAt = cloneTime(c.Extensions[i].DecidedAt)
	}
	c.Documents = slices.Clone(g.Documents)
	for i := range c.Documents {
		c.Documents[i].ReviewedAt = cloneTime(c.Documents[i].ReviewedAt)
	}
	c.Alerts = slices.Clone(g.Alerts)
	for i := range c.Alerts {
		c.Alerts[i].DueDate = cloneTime(c.Alerts[i].DueDate)
		c.Alerts[i].ResolvedAt = cloneTime(c.Alerts[i].ResolvedAt)
	}
	c.StatusHistory = slices.Clone(g.StatusHistory)
	c.Tags = slices.Clone(g.Tags)
	c.Notes = slices.Clone(g.Notes)
	return &c
}

func (p Party) clone() Party {
	if p.BankAccount != nil {
		acct := *p.BankAccount
		p.BankAccount = &acct
	}
	if p.LegalRepresentative != nil {
		rep := *p.LegalRepresentative
		p.LegalRepresentative = &rep
	}
	return p
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
