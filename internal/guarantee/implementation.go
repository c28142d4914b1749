// internal/guarantee/implementation.go
package guarantee

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"guaranteedesk/internal/bank"
	"guaranteedesk/internal/guarantee/metrics"
	"guaranteedesk/pkg/domain"
)

// SystemActor is recorded on changes made by the sweeper.
const SystemActor = "system"

const (
	initialVersion           = "1.0.0"
	defaultRenewalNoticeDays = 30
)

// Option configures the service.
type Option func(*service)

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithMetrics sets the Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *service) {
		s.metrics = m
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// WithRules replaces the default business rules.
func WithRules(rules Rules) Option {
	return func(s *service) {
		s.rules = rules
	}
}

// service implements the Service interface.
type service struct {
	repo       Repository
	banks      BankDirectory
	rules      Rules
	validator  *Validator
	dispatcher *Dispatcher
	logger     *zap.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	now        func() time.Time
}

// NewService creates the guarantee service. It panics on a nil repository or
// bank directory, or on inconsistent rules.
func NewService(repo Repository, banks BankDirectory, opts ...Option) Service {
	if repo == nil || banks == nil {
		panic("guarantee: repository and bank directory are required")
	}
	s := &service{
		repo:   repo,
		banks:  banks,
		rules:  DefaultRules(),
		logger: zap.NewNop(),
		tracer: otel.Tracer("guaranteedesk/guarantee"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New(prometheus.NewRegistry())
	}
	s.validator = NewValidator(s.rules)
	s.dispatcher = NewDispatcher(s.logger, s.metrics)
	return s
}

func (s *service) clock() time.Time {
	return s.now().UTC()
}

// Create validates the form, resolves the bank, freezes the commission and
// stores a new draft guarantee.
func (s *service) Create(ctx context.Context, form CreateForm, actor string) (*Guarantee, error) {
	start := time.Now()
	defer s.metrics.ObserveOperation("create", start)
	ctx, span := s.tracer.Start(ctx, "guarantee.create")
	defer span.End()

	now := s.clock()
	if form.IsRenewable && form.RenewalNoticeDays == 0 {
		form.RenewalNoticeDays = defaultRenewalNoticeDays
	}
	if form.Priority == "" {
		form.Priority = PriorityMedium
	}
	if err := s.validator.ValidateForm(&form, now); err != nil {
		return nil, s.fail(span, err)
	}

	profile, err := s.banks.GetBank(ctx, form.BankID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, s.fail(span, &BankUnavailableError{BankID: form.BankID, Reason: "not registered"})
		}
		return nil, s.fail(span, fmt.Errorf("failed to resolve bank: %w", err))
	}
	if !profile.IsActive {
		return nil, s.fail(span, &BankUnavailableError{BankID: form.BankID, Reason: "inactive"})
	}
	rate, ok := profile.RateFor(form.Type)
	if !ok {
		return nil, s.fail(span, domain.Invalid("bank_id", fmt.Sprintf("bank has no commission rate for %s guarantees", form.Type)))
	}
	if err := s.validator.ValidateCommissionRate(rate); err != nil {
		return nil, s.fail(span, err)
	}

	seq, err := s.repo.NextSequence(ctx, numberPeriod(now))
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("failed to allocate guarantee number: %w", err))
	}

	number, err := FormatNumber(now, seq)
	if err != nil {
		return nil, s.fail(span, err)
	}

	g := materialize(form, *profile.Clone(), rate, now, actor)
	g.GuaranteeNumber = number
	span.SetAttributes(attribute.String("guarantee.id", g.ID.String()), attribute.String("guarantee.number", g.GuaranteeNumber))

	evt := Event{
		Type:      EventCreated,
		Payload:   CreatedPayload{GuaranteeID: g.ID, GuaranteeNumber: g.GuaranteeNumber, CreatedBy: actor},
		Timestamp: now,
	}
	if err := s.repo.Create(ctx, g, evt); err != nil {
		return nil, s.fail(span, fmt.Errorf("failed to store guarantee: %w", err))
	}

	s.metrics.IncrementCreated()
	s.logger.Info("guarantee created",
		zap.String("guarantee_id", g.ID.String()),
		zap.String("number", g.GuaranteeNumber),
		zap.String("actor", actor),
	)
	s.dispatcher.Dispatch(ctx, evt)
	return g, nil
}

func materialize(form CreateForm, profile bank.Profile, rate decimal.Decimal, now time.Time, actor string) *Guarantee {
	g := &Guarantee{
		ID:                uuid.New(),
		ReferenceNumber:   strings.TrimSpace(form.ReferenceNumber),
		Type:              form.Type,
		Status:            StatusDraft,
		Priority:          form.Priority,
		Title:             strings.TrimSpace(form.Title),
		Description:       strings.TrimSpace(form.Description),
		Applicant:         newParty(RoleApplicant, form.Applicant),
		Beneficiary:       newParty(RoleBeneficiary, form.Beneficiary),
		Bank:              profile,
		Amount:            form.Amount,
		Currency:          form.Currency,
		CommissionRate:    rate,
		CommissionAmount:  Commission(form.Amount, rate),
		ApplicationDate:   now,
		ExpiryDate:        form.ExpiryDate.UTC(),
		Extensions:        []ExtensionRequest{},
		Documents:         make([]Document, 0, len(form.Documents)),
		Alerts:            []Alert{},
		IsRenewable:       form.IsRenewable,
		AutoRenewal:       form.AutoRenewal,
		RenewalNoticeDays: form.RenewalNoticeDays,
		Tags:              normalizeTags(form.Tags),
		Notes:             []Note{},
		CreatedAt:         now,
		CreatedBy:         actor,
		LastModified:      now,
		LastModifiedBy:    actor,
		Version:           initialVersion,
		Revision:          1,
		StatusHistory: []StatusChange{{
			Status:    StatusDraft,
			ChangedAt: now,
			ChangedBy: actor,
			Reason:    "created",
		}},
	}
	for _, d := range form.Documents {
		g.Documents = append(g.Documents, newDocument(d, now, actor))
	}
	if note := strings.TrimSpace(form.Notes); note != "" {
		g.Notes = append(g.Notes, Note{
			ID:         uuid.New(),
			Content:    note,
			Visibility: VisibilityInternal,
			CreatedAt:  now,
			CreatedBy:  actor,
		})
	}
	return g
}

func newParty(role PartyRole, f PartyForm) Party {
	p := Party{
		ID:                 uuid.New(),
		Role:               role,
		Name:               strings.TrimSpace(f.Name),
		LegalName:          strings.TrimSpace(f.LegalName),
		RegistrationNumber: strings.TrimSpace(f.RegistrationNumber),
		TaxID:              strings.TrimSpace(f.TaxID),
		Address:            f.Address.Normalized(),
		Contact:            f.Contact.Normalized(),
	}
	if f.BankAccount != nil {
		acct := *f.BankAccount
		acct.IBAN = strings.ToUpper(strings.ReplaceAll(acct.IBAN, " ", ""))
		p.BankAccount = &acct
	}
	if f.LegalRepresentative != nil {
		rep := *f.LegalRepresentative
		if phone, ok := domain.NormalizePhone(rep.Phone); ok {
			rep.Phone = phone
		}
		p.LegalRepresentative = &rep
	}
	return p
}

func newDocument(d DocumentForm, now time.Time, actor string) Document {
	return Document{
		ID:         uuid.New(),
		FileID:     d.FileID,
		Name:       strings.TrimSpace(d.Name),
		Kind:       strings.TrimSpace(d.Kind),
		MimeType:   d.MimeType,
		Size:       d.Size,
		UploadedAt: now,
		UploadedBy: actor,
		Status:     DocumentPending,
	}
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

// Get returns a live guarantee. Archived guarantees read as not found.
func (s *service) Get(ctx context.Context, id uuid.UUID) (*Guarantee, error) {
	return s.load(ctx, id)
}

func (s *service) load(ctx context.Context, id uuid.UUID) (*Guarantee, error) {
	g, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, &domain.NotFoundError{Resource: "guarantee", ID: id.String()}
		}
		return nil, fmt.Errorf("failed to get guarantee: %w", err)
	}
	if g.IsArchived {
		return nil, &domain.NotFoundError{Resource: "guarantee", ID: id.String()}
	}
	return g, nil
}

// Query runs q over the whole collection.
func (s *service) Query(ctx context.Context, q Query) (*Result, error) {
	defer s.metrics.ObserveQuery(time.Now())
	ctx, span := s.tracer.Start(ctx, "guarantee.query")
	defer span.End()

	if err := ValidateQuery(q); err != nil {
		return nil, s.fail(span, err)
	}
	items, err := s.repo.List(ctx)
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("failed to list guarantees: %w", err))
	}
	res, err := RunQuery(items, q, s.clock(), s.rules.NearExpiryDays)
	if err != nil {
		return nil, s.fail(span, err)
	}
	span.SetAttributes(attribute.Int("query.total", res.Total))
	return res, nil
}

// History returns the journal of a guarantee, including archived ones.
func (s *service) History(ctx context.Context, id uuid.UUID) ([]JournalEntry, error) {
	journal, ok := s.repo.(Journal)
	if !ok {
		return nil, errors.New("repository does not keep a journal")
	}
	entries, err := journal.History(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, &domain.NotFoundError{Resource: "guarantee", ID: id.String()}
		}
		return nil, fmt.Errorf("failed to load journal: %w", err)
	}
	return entries, nil
}

// SubmitToBank sends a draft to the bank under the bank's reference.
func (s *service) SubmitToBank(ctx context.Context, id uuid.UUID, bankReference, notes, actor string) (*Guarantee, error) {
	bankReference = strings.TrimSpace(bankReference)
	if bankReference == "" {
		return nil, domain.Invalid("bank_reference", "is required")
	}
	return s.mutate(ctx, "submit_to_bank", id, actor, func(g *Guarantee, now time.Time) (Event, error) {
		if g.Status != StatusDraft {
			return Event{}, &IllegalTransitionError{From: g.Status, To: StatusSubmitted}
		}
		g.BankReference = bankReference
		g.BankNotes = notes
		g.SubmittedBy = actor
		return s.transition(g, StatusSubmitted, actor, "submitted to bank", notes, now)
	})
}

// RecordBankResponse records the bank's decision on a submitted or reviewed
// guarantee. The history entry carries the status the decision was made from.
func (s *service) RecordBankResponse(ctx context.Context, id uuid.UUID, approved bool, notes, referenceNumber, actor string) (*Guarantee, error) {
	target, reason := StatusRejected, "rejected by bank"
	if approved {
		target, reason = StatusApproved, "approved by bank"
	}
	return s.mutate(ctx, "record_bank_response", id, actor, func(g *Guarantee, now time.Time) (Event, error) {
		if g.Status != StatusSubmitted && g.Status != StatusUnderReview {
			return Event{}, &IllegalTransitionError{From: g.Status, To: target}
		}
		if approved {
			g.ApprovedBy = actor
			if ref := strings.TrimSpace(referenceNumber); ref != "" {
				g.ReferenceNumber = ref
			}
		}
		if notes != "" {
			g.BankNotes = notes
		}
		return s.transition(g, target, actor, reason, notes, now)
	})
}

// StartReview moves a submitted guarantee under review.
func (s *service) StartReview(ctx context.Context, id uuid.UUID, actor string) (*Guarantee, error) {
	return s.mutate(ctx, "start_review", id, actor, func(g *Guarantee, now time.Time) (Event, error) {
		g.ReviewedBy = actor
		return s.transition(g, StatusUnderReview, actor, "review started", "", now)
	})
}

// ReturnForCorrection sends a guarantee back to the applicant.
func (s *service) ReturnForCorrection(ctx context.Context, id uuid.UUID, reason, actor string) (*Guarantee, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, domain.Invalid("reason", "is required")
	}
	return s.mutate(ctx, "return_for_correction", id, actor, func(g *Guarantee, now time.Time) (Event, error) {
		return s.transition(g, StatusReturned, actor, reason, "", now)
	})
}

// Reopen turns a returned guarantee back into an editable draft.
func (s *service) Reopen(ctx context.Context, id uuid.UUID, actor string) (*Guarantee, error) {
	return s.mutate(ctx, "reopen", id, actor, func(g *Guarantee, now time.Time) (Event, error) {
		return s.transition(g, StatusDraft, actor, "reopened for correction", "", now)
	})
}

// Issue records the bank's issuance. A zero issueDate means now.
func (s *service) Issue(ctx context.Context, id uuid.UUID, issueDate time.Time, actor string) (*Guarantee, error) {
	return s.mutate(ctx, "issue", id, actor, func(g *Guarantee, now time.Time) (Event, error) {
		at := dateOrNow(issueDate, now)
		if !at.Before(g.ExpiryDate) {
			return Event{}, domain.Invalid("issue_date", "must be before the expiry date")
		}
		if at.Before(g.ApplicationDate) {
			return Event{}, domain.Invalid("issue_date", "must not be before the application date")
		}
		evt, err := s.transition(g, StatusIssued, actor, "issued by bank", "", now)
		if err == nil {
			g.IssueDate = &at
		}
		return evt, err
	})
}

// Activate puts an issued guarantee in force. A zero effectiveDate means now.
func (s *service) Activate(ctx context.Context, id uuid.UUID, effectiveDate time.Time, actor string) (*Guarantee, error) {
	return s.mutate(ctx, "activate", id, actor, func(g *Guarantee, now time.Time) (Event, error) {
		at := dateOrNow(effectiveDate, now)
		if !at.Before(g.ExpiryDate) {
			return Event{}, domain.Invalid("effective_date", "must be before the expiry date")
		}
		if g.IssueDate != nil && at.Before(*g.IssueDate) {
			return Event{}, domain.Invalid("effective_date", "must not be before the issue date")
		}
		evt, err := s.transition(g, StatusActive, actor, "activated", "", now)
		if err == nil {
			g.EffectiveDate = &at
		}
		return evt, err
	})
}

// Renew extends an active guarantee to newExpiry.
func (s *service) Renew(ctx context.Context, id uuid.UUID, newExpiry time.Time, actor string) (*Guarantee, error) {
	return s.mutate(ctx, "renew", id, actor, func(g *Guarantee, now time.Time) (Event, error) {
		return s.renew(g, newExpiry.UTC(), actor, "renewed", now)
	})
}

func (s *service) renew(g *Guarantee, newExpiry time.Time, actor, reason string, now time.Time) (Event, error) {
	if from := g.EffectiveStatus(now); from != StatusActive {
		return Event{}, &IllegalTransitionError{From: from, To: StatusActive}
	}
	if !newExpiry.After(g.ExpiryDate) {
		return Event{}, domain.Invalid("expiry_date", "must be after the current expiry date")
	}
	previous := g.ExpiryDate
	evt, err := s.transition(g, StatusActive, actor, reason,
		fmt.Sprintf("expiry moved from %s to %s", previous.Format(time.DateOnly), newExpiry.Format(time.DateOnly)), now)
	if err != nil {
		return Event{}, err
	}
	g.ExpiryDate = newExpiry
	g.ExtensionDate = &newExpiry
	resolveAlertsDue(g, previous, actor, now)
	return evt, nil
}

// Cancel withdraws a guarantee from any non-terminal state.
func (s *service) Cancel(ctx context.Context, id uuid.UUID, reason, actor string) (*Guarantee, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, domain.Invalid("reason", "is required")
	}
	return s.mutate(ctx, "cancel", id, actor, func(g *Guarantee, now time.Time) (Event, error) {
		return s.transition(g, StatusCancelled, actor, reason, "", now)
	})
}

// Expire persists the expiry of an active guarantee whose expiry date passed.
func (s *service) Expire(ctx context.Context, id uuid.UUID, actor string) (*Guarantee, error) {
	return s.mutate(ctx, "expire", id, actor, func(g *Guarantee, now time.Time) (Event, error) {
		if g.Status == StatusActive && !IsExpired(g.ExpiryDate, now) {
			return Event{}, domain.Invalid("expiry_date", "has not passed yet")
		}
		return s.transition(g, StatusExpired, actor, "expiry date passed", "", now)
	})
}

// dedicatedTargets are the statuses whose operation sets fields or checks
// dates beyond the edge itself. Transition refuses them.
var dedicatedTargets = map[Status]string{
	StatusSubmitted: "submit",
	StatusIssued:    "issue",
	StatusActive:    "activate or renew",
	StatusExpired:   "expire",
}

// Transition applies an edge of the lifecycle table for administrative
// tooling. Targets with their own operation must go through it.
func (s *service) Transition(ctx context.Context, id uuid.UUID, target Status, reason, actor string) (*Guarantee, error) {
	if !target.IsValid() {
		return nil, domain.Invalid("status", fmt.Sprintf("unknown status %q", target))
	}
	if op, ok := dedicatedTargets[target]; ok {
		return nil, domain.Invalid("status", fmt.Sprintf("%s is reached through %s", target, op))
	}
	return s.mutate(ctx, "transition", id, actor, func(g *Guarantee, now time.Time) (Event, error) {
		return s.transition(g, target, actor, reason, "", now)
	})
}

// AddDocument attaches an uploaded file for review.
func (s *service) AddDocument(ctx context.Context, id uuid.UUID, form DocumentForm, actor string) (*Guarantee, error) {
	if err := s.validator.ValidateDocument(form); err != nil {
		return nil, err
	}
	return s.mutate(ctx, "add_document", id, actor, func(g *Guarantee, now time.Time) (Event, error) {
		if status := g.EffectiveStatus(now); IsTerminal(status) {
			return Event{}, domain.Invalid("status", fmt.Sprintf("documents cannot be added to a %s guarantee", status))
		}
		doc := newDocument(form, now, actor)
		g.Documents = append(g.Documents, doc)
		return s.event(EventDocumentAdded, g, actor, doc.ID, doc.Kind, 0), nil
	})
}

// ReviewDocument records a review decision. Rejections and update requests
// raise an action-required alert.
func (s *service) ReviewDocument(ctx context.Context, id, documentID uuid.UUID, decision DocumentStatus, notes, actor string) (*Guarantee, error) {
	if decision == DocumentPending || !decision.IsValid() {
		return nil, domain.Invalid("decision", "must be one of: approved, rejected, needs_update")
	}
	if decision != DocumentApproved && strings.TrimSpace(notes) == "" {
		return nil, domain.Invalid("notes", "are required when a document is not approved")
	}
	return s.mutate(ctx, "review_document", id, actor, func(g *Guarantee, now time.Time) (Event, error) {
		doc := g.document(documentID)
		if doc == nil {
			return Event{}, &domain.NotFoundError{Resource: "document", ID: documentID.String()}
		}
		doc.Status = decision
		doc.ReviewNotes = notes
		doc.ReviewedBy = actor
		doc.ReviewedAt = &now

		if decision != DocumentApproved {
			g.Alerts = append(g.Alerts, Alert{
				ID:             uuid.New(),
				Kind:           AlertDocumentAction,
				Severity:       SeverityWarning,
				Title:          "Document needs attention",
				Message:        fmt.Sprintf("Document %q was marked %s: %s", doc.Name, decision, notes),
				TriggerDate:    now,
				ActionRequired: true,
			})
			s.metrics.AddAlerts(string(AlertDocumentAction), 1)
		}
		return s.event(EventDocumentReviewed, g, actor, doc.ID, string(decision), 0), nil
	})
}

// AddNote appends a note. An empty visibility means internal.
func (s *service) AddNote(ctx context.Context, id uuid.UUID, content string, visibility NoteVisibility, private bool, actor string) (*Guarantee, error) {
	content = strings.TrimSpace(content)
	if visibility == "" {
		visibility = VisibilityInternal
	}
	ve := &domain.ValidationError{}
	if content == "" {
		ve.Add("content", "is required")
	}
	if !visibility.IsValid() {
		ve.Add("visibility", "must be one of: internal, bank, all")
	}
	if err := ve.OrNil(); err != nil {
		return nil, err
	}
	return s.mutate(ctx, "add_note", id, actor, func(g *Guarantee, now time.Time) (Event, error) {
		note := Note{
			ID:         uuid.New(),
			Content:    content,
			Visibility: visibility,
			IsPrivate:  private,
			CreatedAt:  now,
			CreatedBy:  actor,
		}
		g.Notes = append(g.Notes, note)
		return s.event(EventNoteAdded, g, actor, note.ID, string(visibility), 0), nil
	})
}

// RequestExtension asks for a later expiry on an active guarantee. Only one
// request may be pending at a time.
func (s *service) RequestExtension(ctx context.Context, id uuid.UUID, newExpiry time.Time, reason, actor string) (*Guarantee, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, domain.Invalid("reason", "is required")
	}
	newExpiry = newExpiry.UTC()
	return s.mutate(ctx, "request_extension", id, actor, func(g *Guarantee, now time.Time) (Event, error) {
		ve := &domain.ValidationError{}
		if g.EffectiveStatus(now) != StatusActive {
			ve.Add("status", "extensions can only be requested for active guarantees")
		}
		if !newExpiry.After(g.ExpiryDate) {
			ve.Add("requested_date", "must be after the current expiry date")
		}
		if slices.ContainsFunc(g.Extensions, func(e ExtensionRequest) bool { return e.Status == ExtensionPending }) {
			ve.Add("extensions", "an extension request is already pending")
		}
		if err := ve.OrNil(); err != nil {
			return Event{}, err
		}

		ext := ExtensionRequest{
			ID:            uuid.New(),
			CurrentExpiry: g.ExpiryDate,
			RequestedDate: newExpiry,
			Reason:        reason,
			Status:        ExtensionPending,
			RequestedAt:   now,
			RequestedBy:   actor,
		}
		g.Extensions = append(g.Extensions, ext)
		return s.event(EventExtensionRequested, g, actor, ext.ID, newExpiry.Format(time.DateOnly), 0), nil
	})
}

// DecideExtension approves or rejects a pending extension. Approval renews
// the guarantee to the requested date.
func (s *service) DecideExtension(ctx context.Context, id, extensionID uuid.UUID, approve bool, notes, actor string) (*Guarantee, error) {
	return s.mutate(ctx, "decide_extension", id, actor, func(g *Guarantee, now time.Time) (Event, error) {
		ext := g.extension(extensionID)
		if ext == nil {
			return Event{}, &domain.NotFoundError{Resource: "extension request", ID: extensionID.String()}
		}
		if ext.Status != ExtensionPending {
			return Event{}, domain.Invalid("extension", fmt.Sprintf("request is already %s", ext.Status))
		}

		ext.Status = ExtensionRejected
		if approve {
			if _, err := s.renew(g, ext.RequestedDate, actor, "extension approved", now); err != nil {
				return Event{}, err
			}
			ext.Status = ExtensionApproved
		}
		ext.DecidedAt = &now
		ext.DecidedBy = actor
		ext.DecisionNotes = notes
		return s.event(EventExtensionDecided, g, actor, ext.ID, string(ext.Status), 0), nil
	})
}

// Archive hides a guarantee from reads. The status is left as is.
func (s *service) Archive(ctx context.Context, id uuid.UUID, actor string) (*Guarantee, error) {
	return s.mutate(ctx, "archive", id, actor, func(g *Guarantee, now time.Time) (Event, error) {
		g.IsArchived = true
		return s.event(EventArchived, g, actor, uuid.Nil, string(g.Status), 0), nil
	})
}

// MarkAlertRead flags an alert as read.
func (s *service) MarkAlertRead(ctx context.Context, id, alertID uuid.UUID, actor string) (*Guarantee, error) {
	return s.updateAlert(ctx, "mark_alert_read", id, alertID, actor, func(a *Alert, now time.Time) string {
		a.IsRead = true
		return "read"
	})
}

// ResolveAlert closes an alert. Resolving also marks it read.
func (s *service) ResolveAlert(ctx context.Context, id, alertID uuid.UUID, actor string) (*Guarantee, error) {
	return s.updateAlert(ctx, "resolve_alert", id, alertID, actor, func(a *Alert, now time.Time) string {
		a.IsRead = true
		a.IsResolved = true
		a.ResolvedAt = &now
		a.ResolvedBy = actor
		return "resolved"
	})
}

func (s *service) updateAlert(ctx context.Context, op string, id, alertID uuid.UUID, actor string, apply func(a *Alert, now time.Time) string) (*Guarantee, error) {
	return s.mutate(ctx, op, id, actor, func(g *Guarantee, now time.Time) (Event, error) {
		a := g.alert(alertID)
		if a == nil {
			return Event{}, &domain.NotFoundError{Resource: "alert", ID: alertID.String()}
		}
		detail := apply(a, now)
		return s.event(EventAlertUpdated, g, actor, a.ID, detail, 0), nil
	})
}

// RefreshAlerts materializes the alerts every live guarantee should carry.
// A guarantee that changed concurrently is skipped until the next run.
func (s *service) RefreshAlerts(ctx context.Context) (int, error) {
	items, err := s.repo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list guarantees: %w", err)
	}

	raised := 0
	window := s.rules.NearExpiryDays
	for _, item := range items {
		if len(EvaluateAlerts(item, s.clock(), window)) == 0 {
			continue
		}
		var added []Alert
		_, err := s.mutate(ctx, "refresh_alerts", item.ID, SystemActor, func(g *Guarantee, now time.Time) (Event, error) {
			added = EvaluateAlerts(g, now, window)
			if len(added) == 0 {
				return Event{}, errNothingToDo
			}
			g.Alerts = append(g.Alerts, added...)
			return s.event(EventAlertsRaised, g, SystemActor, uuid.Nil, string(added[0].Kind), len(added)), nil
		})
		if err != nil {
			if !errors.Is(err, errNothingToDo) {
				s.logger.Warn("alert refresh skipped guarantee", zap.String("guarantee_id", item.ID.String()), zap.Error(err))
			}
			continue
		}
		for _, a := range added {
			s.metrics.AddAlerts(string(a.Kind), 1)
		}
		raised += len(added)
	}

	s.logger.Info("alerts refreshed", zap.Int("guarantees", len(items)), zap.Int("raised", raised))
	return raised, nil
}

// SweepExpired persists active -> expired for every live guarantee past its
// expiry date and returns how many were expired.
func (s *service) SweepExpired(ctx context.Context) (int, error) {
	items, err := s.repo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list guarantees: %w", err)
	}

	expired := 0
	for _, item := range items {
		if item.IsArchived || item.Status != StatusActive || !IsExpired(item.ExpiryDate, s.clock()) {
			continue
		}
		if _, err := s.Expire(ctx, item.ID, SystemActor); err != nil {
			s.logger.Warn("expiry sweep skipped guarantee", zap.String("guarantee_id", item.ID.String()), zap.Error(err))
			continue
		}
		expired++
	}

	s.logger.Info("expiry sweep finished", zap.Int("guarantees", len(items)), zap.Int("expired", expired))
	return expired, nil
}

func (s *service) Subscribe(l Listener) Subscription {
	return s.dispatcher.Subscribe(l)
}

func (s *service) Unsubscribe(sub Subscription) bool {
	return s.dispatcher.Unsubscribe(sub)
}

var errNothingToDo = errors.New("nothing to do")

// mutate loads a live guarantee, applies fn to a copy and saves the copy
// against the loaded revision. The stored aggregate is untouched when fn or
// the save fails.
func (s *service) mutate(ctx context.Context, op string, id uuid.UUID, actor string, fn func(g *Guarantee, now time.Time) (Event, error)) (*Guarantee, error) {
	start := time.Now()
	defer s.metrics.ObserveOperation(op, start)
	ctx, span := s.tracer.Start(ctx, "guarantee."+op, trace.WithAttributes(
		attribute.String("guarantee.id", id.String()),
		attribute.String("actor", actor),
	))
	defer span.End()

	current, err := s.load(ctx, id)
	if err != nil {
		return nil, s.fail(span, err)
	}

	now := s.clock()
	next := current.Clone()
	evt, err := fn(next, now)
	if err != nil {
		var ite *IllegalTransitionError
		if errors.As(err, &ite) {
			s.metrics.IncrementDenied(string(ite.From), string(ite.To))
		}
		return nil, s.fail(span, err)
	}

	next.Revision = current.Revision + 1
	next.LastModified = now
	next.LastModifiedBy = actor
	evt.Timestamp = now

	if err := s.repo.Update(ctx, next, current.Revision, evt); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			err = &domain.NotFoundError{Resource: "guarantee", ID: id.String()}
		case errors.Is(err, ErrConcurrencyConflict):
		default:
			err = fmt.Errorf("failed to store guarantee: %w", err)
		}
		return nil, s.fail(span, err)
	}

	if len(next.StatusHistory) > len(current.StatusHistory) {
		last, _ := next.LastChange()
		s.metrics.IncrementTransition(string(last.PreviousStatus), string(last.Status))
		s.logger.Info("guarantee status changed",
			zap.String("guarantee_id", id.String()),
			zap.String("from", string(last.PreviousStatus)),
			zap.String("to", string(last.Status)),
			zap.String("actor", actor),
		)
	}
	s.dispatcher.Dispatch(ctx, evt)
	return next, nil
}

// transition moves g to target. An active guarantee past its expiry date is
// already expired, so the only edge left to it is the expiry itself.
func (s *service) transition(g *Guarantee, target Status, actor, reason, notes string, now time.Time) (Event, error) {
	from := g.Status
	if effective := g.EffectiveStatus(now); effective != from && target != effective {
		return Event{}, &IllegalTransitionError{From: effective, To: target}
	}
	if err := applyTransition(g, target, actor, reason, notes, now); err != nil {
		return Event{}, err
	}
	return Event{
		Type: EventStatusChanged,
		Payload: StatusChangedPayload{
			GuaranteeID:     g.ID,
			GuaranteeNumber: g.GuaranteeNumber,
			PreviousStatus:  from,
			Status:          target,
			ChangedBy:       actor,
			Reason:          reason,
		},
	}, nil
}

func (s *service) event(t EventType, g *Guarantee, actor string, subject uuid.UUID, detail string, count int) Event {
	return Event{
		Type: t,
		Payload: GuaranteePayload{
			GuaranteeID:     g.ID,
			GuaranteeNumber: g.GuaranteeNumber,
			Actor:           actor,
			SubjectID:       subject,
			Detail:          detail,
			Count:           count,
		},
	}
}

func (s *service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func dateOrNow(t, now time.Time) time.Time {
	if t.IsZero() {
		return now
	}
	return t.UTC()
}

// resolveAlertsDue closes the open expiry alerts tied to an old expiry date.
func resolveAlertsDue(g *Guarantee, due time.Time, actor string, now time.Time) {
	for i := range g.Alerts {
		a := &g.Alerts[i]
		if a.IsResolved || a.DueDate == nil || !a.DueDate.Equal(due) {
			continue
		}
		if a.Kind == AlertExpiryWarning || a.Kind == AlertRenewalDue {
			a.IsResolved = true
			a.ResolvedAt = &now
			a.ResolvedBy = actor
		}
	}
}
