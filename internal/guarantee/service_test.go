package guarantee

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guaranteedesk/pkg/domain"
)

func TestCreateFreezesCommissionAndBank(t *testing.T) {
	h := newHarness(t)

	g := h.create(t)

	assert.Equal(t, "BG-202503-000001", g.GuaranteeNumber)
	assert.Equal(t, StatusDraft, g.Status)
	assert.Equal(t, PriorityMedium, g.Priority)
	assert.Equal(t, "1.0.0", g.Version)
	assert.Equal(t, 1, g.Revision)
	assert.True(t, g.CommissionRate.Equal(decimal.RequireFromString("2.5")))
	assert.Equal(t, "1250.00", g.CommissionAmount.StringFixed(2))
	assert.True(t, CommissionHolds(g))
	assert.Equal(t, "YKB-02", g.Bank.Code)
	assert.Equal(t, fixedNow, g.ApplicationDate)

	assert.Equal(t, "+967777123456", g.Applicant.Contact.Phone)
	assert.Equal(t, "+967733123456", g.Beneficiary.Contact.Phone)
	assert.Equal(t, "YE", g.Applicant.Address.Country)
	assert.Equal(t, RoleBeneficiary, g.Beneficiary.Role)

	require.Len(t, g.Documents, 3)
	for _, d := range g.Documents {
		assert.Equal(t, DocumentPending, d.Status)
		assert.Equal(t, "clerk", d.UploadedBy)
	}

	require.Len(t, g.StatusHistory, 1)
	assert.Equal(t, StatusDraft, g.StatusHistory[0].Status)
	assert.Equal(t, "clerk", g.StatusHistory[0].ChangedBy)

	_, err := h.banks.UpdateRates(context.Background(), h.bankID, map[domain.GuaranteeType]decimal.Decimal{
		domain.GuaranteePerformance: decimal.NewFromInt(5),
	})
	require.NoError(t, err)
	stored, err := h.svc.Get(context.Background(), g.ID)
	require.NoError(t, err)
	assert.True(t, stored.CommissionRate.Equal(decimal.RequireFromString("2.5")), "rate is frozen at creation")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.GuaranteesCreated))
}

func TestCreateAllocatesSequentialNumbers(t *testing.T) {
	h := newHarness(t)

	var numbers []string
	for range 3 {
		numbers = append(numbers, h.create(t).GuaranteeNumber)
	}
	assert.Equal(t, []string{"BG-202503-000001", "BG-202503-000002", "BG-202503-000003"}, numbers)
}

func TestCreateStopsWhenMonthNumbersRunOut(t *testing.T) {
	h := newHarness(t)
	h.repo.sequences[numberPeriod(fixedNow)] = MaxSequence - 1

	g := h.create(t)
	assert.Equal(t, "BG-202503-999999", g.GuaranteeNumber)

	_, err := h.svc.Create(context.Background(), h.form(), "clerk")
	require.ErrorIs(t, err, ErrNumbersExhausted)

	all, err := h.repo.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestFormatNumber(t *testing.T) {
	n, err := FormatNumber(fixedNow, 42)
	require.NoError(t, err)
	assert.Equal(t, "BG-202503-000042", n)

	for _, seq := range []int{0, MaxSequence + 1} {
		_, err := FormatNumber(fixedNow, seq)
		assert.ErrorIs(t, err, ErrNumbersExhausted, seq)
	}
}

func TestCreateRejectsShortExpiry(t *testing.T) {
	h := newHarness(t)
	form := h.form()
	form.ExpiryDate = fixedNow.AddDate(0, 0, 10)

	_, err := h.svc.Create(context.Background(), form, "clerk")

	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	require.True(t, ve.HasField("expiry_date"))
	assert.Contains(t, ve.Error(), "30 days")

	items, err := h.repo.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestCreateRequiresAvailableBank(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	form := h.form()
	form.BankID = uuid.New()
	_, err := h.svc.Create(ctx, form, "clerk")
	var bue *BankUnavailableError
	require.ErrorAs(t, err, &bue)
	assert.Equal(t, "not registered", bue.Reason)
	assert.False(t, domain.IsValidation(err))

	_, err = h.banks.SetActive(ctx, h.bankID, false)
	require.NoError(t, err)
	_, err = h.svc.Create(ctx, h.form(), "clerk")
	require.ErrorAs(t, err, &bue)
	assert.Equal(t, "inactive", bue.Reason)
}

func TestCreateRequiresRateForType(t *testing.T) {
	h := newHarness(t)
	form := h.form()
	form.Type = domain.GuaranteeCustoms
	form.Documents = append(form.Documents, DocumentForm{FileID: "file-4", Name: "declaration.pdf", Kind: "customs_declaration", Size: 100})

	_, err := h.svc.Create(context.Background(), form, "clerk")

	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.True(t, ve.HasField("bank_id"))
}

func TestSubmitAndRecordApproval(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	g := h.create(t)

	g, err := h.svc.SubmitToBank(ctx, g.ID, "QAS-2024-789", "urgent tender", "clerk")
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, g.Status)
	assert.Equal(t, "QAS-2024-789", g.BankReference)
	assert.Equal(t, "clerk", g.SubmittedBy)

	g, err = h.svc.RecordBankResponse(ctx, g.ID, true, "approved as requested", "REF-1", "officer")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, g.Status)
	assert.Equal(t, "REF-1", g.ReferenceNumber)
	assert.Equal(t, "officer", g.ApprovedBy)

	last, ok := g.LastChange()
	require.True(t, ok)
	assert.Equal(t, StatusSubmitted, last.PreviousStatus)
	assert.Equal(t, StatusApproved, last.Status)
	assert.Equal(t, 3, g.Revision)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Transitions.WithLabelValues("submitted", "approved")))
}

func TestSubmitRequiresBankReference(t *testing.T) {
	h := newHarness(t)
	g := h.create(t)

	_, err := h.svc.SubmitToBank(context.Background(), g.ID, "  ", "", "clerk")

	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.True(t, ve.HasField("bank_reference"))
}

func TestRecordBankResponseKeepsActualPreviousStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	g := h.create(t)

	_, err := h.svc.SubmitToBank(ctx, g.ID, "QAS-1", "", "clerk")
	require.NoError(t, err)
	_, err = h.svc.StartReview(ctx, g.ID, "officer")
	require.NoError(t, err)
	g, err = h.svc.RecordBankResponse(ctx, g.ID, false, "insufficient collateral", "", "officer")
	require.NoError(t, err)

	assert.Equal(t, StatusRejected, g.Status)
	assert.Equal(t, "insufficient collateral", g.BankNotes)
	last, _ := g.LastChange()
	assert.Equal(t, StatusUnderReview, last.PreviousStatus)
	assert.True(t, IsTerminal(g.Status))
}

func TestIllegalTransitionLeavesGuaranteeUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	g := h.create(t)

	_, err := h.svc.Issue(ctx, g.ID, time.Time{}, "officer")

	var ite *IllegalTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, StatusDraft, ite.From)
	assert.Equal(t, StatusIssued, ite.To)

	stored, err := h.svc.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Revision)
	assert.Nil(t, stored.IssueDate)
	assert.Len(t, stored.StatusHistory, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.TransitionsDenied.WithLabelValues("draft", "issued")))
}

func TestFullLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	g := h.activate(t, h.form())

	assert.Equal(t, StatusActive, g.Status)
	require.NotNil(t, g.IssueDate)
	require.NotNil(t, g.EffectiveDate)
	assert.Equal(t,
		[]Status{StatusDraft, StatusSubmitted, StatusApproved, StatusIssued, StatusActive},
		statusesOf(g.StatusHistory))

	_, err := h.svc.Cancel(ctx, g.ID, "", "clerk")
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)

	g, err = h.svc.Cancel(ctx, g.ID, "contract terminated", "clerk")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, g.Status)

	_, err = h.svc.Renew(ctx, g.ID, fixedNow.AddDate(1, 0, 0), "clerk")
	var ite *IllegalTransitionError
	require.ErrorAs(t, err, &ite)
}

func TestReturnForCorrectionAndReopen(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	g := h.create(t)

	_, err := h.svc.SubmitToBank(ctx, g.ID, "QAS-1", "", "clerk")
	require.NoError(t, err)
	g, err = h.svc.ReturnForCorrection(ctx, g.ID, "missing company stamp", "officer")
	require.NoError(t, err)
	assert.Equal(t, StatusReturned, g.Status)

	g, err = h.svc.Reopen(ctx, g.ID, "clerk")
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, g.Status)

	g, err = h.svc.SubmitToBank(ctx, g.ID, "QAS-2", "", "clerk")
	require.NoError(t, err)
	assert.Equal(t, "QAS-2", g.BankReference)
	assert.Equal(t,
		[]Status{StatusDraft, StatusSubmitted, StatusReturned, StatusDraft, StatusSubmitted},
		statusesOf(g.StatusHistory))
}

func TestIssueAndActivateCheckDates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	g := h.create(t)

	_, err := h.svc.SubmitToBank(ctx, g.ID, "QAS-1", "", "clerk")
	require.NoError(t, err)
	_, err = h.svc.RecordBankResponse(ctx, g.ID, true, "", "", "officer")
	require.NoError(t, err)

	_, err = h.svc.Issue(ctx, g.ID, g.ExpiryDate, "officer")
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.True(t, ve.HasField("issue_date"))

	issued := fixedNow.AddDate(0, 0, 2)
	g, err = h.svc.Issue(ctx, g.ID, issued, "officer")
	require.NoError(t, err)
	assert.Equal(t, issued, *g.IssueDate)

	_, err = h.svc.Activate(ctx, g.ID, fixedNow.AddDate(0, 0, 1), "officer")
	require.ErrorAs(t, err, &ve)
	assert.True(t, ve.HasField("effective_date"))
}

func TestRefreshAlertsAndRenew(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	form := h.form()
	form.IsRenewable = true
	g := h.activate(t, form)
	assert.Equal(t, 30, g.RenewalNoticeDays)

	raised, err := h.svc.RefreshAlerts(ctx)
	require.NoError(t, err)
	assert.Zero(t, raised)

	h.clock.Advance(80 * 24 * time.Hour)
	raised, err = h.svc.RefreshAlerts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, raised)

	raised, err = h.svc.RefreshAlerts(ctx)
	require.NoError(t, err)
	assert.Zero(t, raised, "alerts are not raised twice for the same due date")

	g, err = h.svc.Get(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, g.Alerts, 2)
	kinds := []AlertKind{g.Alerts[0].Kind, g.Alerts[1].Kind}
	assert.ElementsMatch(t, []AlertKind{AlertExpiryWarning, AlertRenewalDue}, kinds)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.AlertsRaised.WithLabelValues("expiry_warning")))

	_, err = h.svc.Renew(ctx, g.ID, g.ExpiryDate, "clerk")
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)

	newExpiry := fixedNow.AddDate(0, 0, 180)
	g, err = h.svc.Renew(ctx, g.ID, newExpiry, "clerk")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, g.Status)
	assert.Equal(t, newExpiry, g.ExpiryDate)
	require.NotNil(t, g.ExtensionDate)
	assert.Equal(t, newExpiry, *g.ExtensionDate)
	for _, a := range g.Alerts {
		assert.True(t, a.IsResolved, "alert %s", a.Kind)
	}
	last, _ := g.LastChange()
	assert.Equal(t, StatusActive, last.PreviousStatus)
	assert.Equal(t, "renewed", last.Reason)
}

func TestAlertReadAndResolve(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	g := h.activate(t, h.form())

	h.clock.Advance(85 * 24 * time.Hour)
	_, err := h.svc.RefreshAlerts(ctx)
	require.NoError(t, err)
	g, err = h.svc.Get(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, g.Alerts, 1)
	assert.Equal(t, SeverityCritical, g.Alerts[0].Severity)
	alertID := g.Alerts[0].ID

	g, err = h.svc.MarkAlertRead(ctx, g.ID, alertID, "clerk")
	require.NoError(t, err)
	assert.True(t, g.Alerts[0].IsRead)
	assert.False(t, g.Alerts[0].IsResolved)

	g, err = h.svc.ResolveAlert(ctx, g.ID, alertID, "clerk")
	require.NoError(t, err)
	assert.True(t, g.Alerts[0].IsResolved)
	assert.Equal(t, "clerk", g.Alerts[0].ResolvedBy)

	_, err = h.svc.ResolveAlert(ctx, g.ID, uuid.New(), "clerk")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSweepExpiredPersistsExpiry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	g := h.activate(t, h.form())

	_, err := h.svc.Expire(ctx, g.ID, "clerk")
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)

	h.clock.Advance(91 * 24 * time.Hour)

	stored, err := h.svc.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, stored.Status)
	assert.Equal(t, StatusExpired, stored.EffectiveStatus(h.clock.Now()))

	res, err := h.svc.Query(ctx, Query{Filter: Filter{Statuses: []Status{StatusExpired}}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)

	n, err := h.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err = h.svc.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, stored.Status)
	last, _ := stored.LastChange()
	assert.Equal(t, SystemActor, last.ChangedBy)

	n, err = h.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLapsedGuaranteeOnlyExpires(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	g := h.activate(t, h.form())

	h.clock.Advance(120 * 24 * time.Hour)

	_, err := h.svc.Renew(ctx, g.ID, h.clock.Now().AddDate(0, 6, 0), "clerk")
	var ite *IllegalTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, StatusExpired, ite.From)
	assert.Equal(t, StatusActive, ite.To)

	_, err = h.svc.Cancel(ctx, g.ID, "contract terminated", "clerk")
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, StatusExpired, ite.From)
	assert.Equal(t, StatusCancelled, ite.To)

	_, err = h.svc.AddDocument(ctx, g.ID, DocumentForm{FileID: "file-9", Name: "late.pdf", Kind: "contract", Size: 10}, "clerk")
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.True(t, ve.HasField("status"))

	stored, err := h.svc.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, stored.Status)
	assert.Len(t, stored.StatusHistory, 5)

	g, err = h.svc.Expire(ctx, g.ID, "clerk")
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, g.Status)
}

func TestLapsedGuaranteeRejectsExtensionApproval(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	g := h.activate(t, h.form())

	g, err := h.svc.RequestExtension(ctx, g.ID, g.ExpiryDate.AddDate(0, 3, 0), "project delayed", "clerk")
	require.NoError(t, err)
	ext := g.Extensions[0].ID

	h.clock.Advance(91 * 24 * time.Hour)

	_, err = h.svc.DecideExtension(ctx, g.ID, ext, true, "", "officer")
	var ite *IllegalTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, StatusExpired, ite.From)

	stored, err := h.svc.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, ExtensionPending, stored.Extensions[0].Status)
}

func TestTransitionRefusesTargetsWithTheirOwnOperation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	g := h.activate(t, h.form())

	for _, target := range []Status{StatusExpired, StatusActive, StatusIssued, StatusSubmitted} {
		_, err := h.svc.Transition(ctx, g.ID, target, "", "admin")
		var ve *domain.ValidationError
		require.ErrorAs(t, err, &ve, target)
		assert.True(t, ve.HasField("status"), target)
	}

	stored, err := h.svc.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, stored.Status)
	assert.Len(t, stored.StatusHistory, 5)
	assert.Equal(t, g.ExpiryDate, stored.ExpiryDate)
}

func TestDocuments(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	g := h.create(t)

	g, err := h.svc.AddDocument(ctx, g.ID, DocumentForm{FileID: "file-9", Name: "addendum.pdf", Kind: "addendum", Size: 512}, "clerk")
	require.NoError(t, err)
	require.Len(t, g.Documents, 4)

	_, err = h.svc.AddDocument(ctx, g.ID, DocumentForm{FileID: "file-10", Name: "scan.tiff", Kind: "scan", Size: 11 * 1024 * 1024}, "clerk")
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.True(t, ve.HasField("size"))

	docID := g.Documents[0].ID
	_, err = h.svc.ReviewDocument(ctx, g.ID, docID, DocumentRejected, "", "officer")
	require.ErrorAs(t, err, &ve)
	assert.True(t, ve.HasField("notes"))

	g, err = h.svc.ReviewDocument(ctx, g.ID, docID, DocumentRejected, "expired registration", "officer")
	require.NoError(t, err)
	assert.Equal(t, DocumentRejected, g.Documents[0].Status)
	assert.Equal(t, "officer", g.Documents[0].ReviewedBy)
	require.Len(t, g.Alerts, 1)
	assert.Equal(t, AlertDocumentAction, g.Alerts[0].Kind)
	assert.True(t, g.Alerts[0].ActionRequired)

	g, err = h.svc.ReviewDocument(ctx, g.ID, g.Documents[1].ID, DocumentApproved, "", "officer")
	require.NoError(t, err)
	assert.Len(t, g.Alerts, 1)

	_, err = h.svc.ReviewDocument(ctx, g.ID, uuid.New(), DocumentApproved, "", "officer")
	var nfe *domain.NotFoundError
	require.ErrorAs(t, err, &nfe)
	assert.Equal(t, "document", nfe.Resource)
}

func TestNotes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	g := h.create(t)

	_, err := h.svc.AddNote(ctx, g.ID, "  ", "public", false, "clerk")
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.True(t, ve.HasField("content"))
	assert.True(t, ve.HasField("visibility"))

	g, err = h.svc.AddNote(ctx, g.ID, "Called the branch manager", "", true, "clerk")
	require.NoError(t, err)
	require.Len(t, g.Notes, 1)
	assert.Equal(t, VisibilityInternal, g.Notes[0].Visibility)
	assert.True(t, g.Notes[0].IsPrivate)
}

func TestExtensionRequests(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	draft := h.create(t)
	_, err := h.svc.RequestExtension(ctx, draft.ID, fixedNow.AddDate(0, 0, 200), "project delayed", "clerk")
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.True(t, ve.HasField("status"))

	g := h.activate(t, h.form())
	_, err = h.svc.RequestExtension(ctx, g.ID, g.ExpiryDate.AddDate(0, 0, -1), "project delayed", "clerk")
	require.ErrorAs(t, err, &ve)
	assert.True(t, ve.HasField("requested_date"))

	requested := g.ExpiryDate.AddDate(0, 2, 0)
	g, err = h.svc.RequestExtension(ctx, g.ID, requested, "project delayed", "clerk")
	require.NoError(t, err)
	require.Len(t, g.Extensions, 1)
	ext := g.Extensions[0]
	assert.Equal(t, ExtensionPending, ext.Status)

	_, err = h.svc.RequestExtension(ctx, g.ID, requested.AddDate(0, 1, 0), "again", "clerk")
	require.ErrorAs(t, err, &ve)
	assert.True(t, ve.HasField("extensions"))

	g, err = h.svc.DecideExtension(ctx, g.ID, ext.ID, true, "bank agreed", "officer")
	require.NoError(t, err)
	assert.Equal(t, ExtensionApproved, g.Extensions[0].Status)
	assert.Equal(t, requested, g.ExpiryDate)
	require.NotNil(t, g.ExtensionDate)
	last, _ := g.LastChange()
	assert.Equal(t, "extension approved", last.Reason)

	_, err = h.svc.DecideExtension(ctx, g.ID, ext.ID, false, "", "officer")
	require.ErrorAs(t, err, &ve)
	assert.True(t, ve.HasField("extension"))

	g, err = h.svc.RequestExtension(ctx, g.ID, requested.AddDate(0, 1, 0), "second delay", "clerk")
	require.NoError(t, err)
	g, err = h.svc.DecideExtension(ctx, g.ID, g.Extensions[1].ID, false, "not this time", "officer")
	require.NoError(t, err)
	assert.Equal(t, ExtensionRejected, g.Extensions[1].Status)
	assert.Equal(t, requested, g.ExpiryDate)
}

func TestArchiveHidesGuarantee(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	g := h.create(t)

	g, err := h.svc.Archive(ctx, g.ID, "clerk")
	require.NoError(t, err)
	assert.True(t, g.IsArchived)
	assert.Equal(t, StatusDraft, g.Status)

	_, err = h.svc.Get(ctx, g.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	res, err := h.svc.Query(ctx, Query{})
	require.NoError(t, err)
	assert.Zero(t, res.Total)

	res, err = h.svc.Query(ctx, Query{Filter: Filter{IncludeArchived: true}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)

	entries, err := h.svc.History(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, string(EventArchived), entries[1].Type)
}

func TestHistoryJournalsEveryChange(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	g := h.create(t)
	_, err := h.svc.SubmitToBank(ctx, g.ID, "QAS-1", "", "clerk")
	require.NoError(t, err)

	entries, err := h.svc.History(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, string(EventCreated), entries[0].Type)
	assert.Equal(t, 1, entries[0].Revision)
	assert.Equal(t, string(EventStatusChanged), entries[1].Type)
	assert.Equal(t, 2, entries[1].Revision)
	assert.Contains(t, string(entries[1].Payload), `"previous_status":"draft"`)

	_, err = h.svc.History(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetUnknownGuarantee(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Get(context.Background(), uuid.New())

	var nfe *domain.NotFoundError
	require.ErrorAs(t, err, &nfe)
	assert.Equal(t, "guarantee", nfe.Resource)
}

func TestTransitionValidatesTarget(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	g := h.create(t)

	_, err := h.svc.Transition(ctx, g.ID, "closed", "", "admin")
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)

	g, err = h.svc.Transition(ctx, g.ID, StatusCancelled, "duplicate request", "admin")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, g.Status)
}

func TestListenersAreIsolated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var mu sync.Mutex
	var seen []EventType
	h.svc.Subscribe(ListenerFunc(func(context.Context, Event) error { panic("boom") }))
	h.svc.Subscribe(ListenerFunc(func(context.Context, Event) error { return errors.New("mail server down") }))
	sub := h.svc.Subscribe(ListenerFunc(func(_ context.Context, evt Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, evt.Type)
		return nil
	}))

	g := h.create(t)
	_, err := h.svc.SubmitToBank(ctx, g.ID, "QAS-1", "", "clerk")
	require.NoError(t, err)

	assert.Equal(t, []EventType{EventCreated, EventStatusChanged}, seen)
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.ListenerFailures.WithLabelValues(string(EventCreated))))

	assert.True(t, h.svc.Unsubscribe(sub))
	assert.False(t, h.svc.Unsubscribe(sub))

	_, err = h.svc.AddNote(ctx, g.ID, "follow up", VisibilityBank, false, "clerk")
	require.NoError(t, err)
	assert.Len(t, seen, 2)
}

func TestEventPayloads(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var events []Event
	h.svc.Subscribe(ListenerFunc(func(_ context.Context, evt Event) error {
		events = append(events, evt)
		return nil
	}))

	g := h.create(t)
	_, err := h.svc.SubmitToBank(ctx, g.ID, "QAS-1", "", "clerk")
	require.NoError(t, err)

	require.Len(t, events, 2)
	created, ok := events[0].Payload.(CreatedPayload)
	require.True(t, ok)
	assert.Equal(t, g.GuaranteeNumber, created.GuaranteeNumber)

	changed, ok := events[1].Payload.(StatusChangedPayload)
	require.True(t, ok)
	assert.Equal(t, StatusDraft, changed.PreviousStatus)
	assert.Equal(t, StatusSubmitted, changed.Status)
	assert.Equal(t, fixedNow, events[1].Timestamp)
}

func TestConcurrentMutationsNeverLoseUpdates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	g := h.create(t)

	const writers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.AddNote(ctx, g.ID, "parallel note", VisibilityInternal, false, "clerk")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrConcurrencyConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, writers, succeeded+conflicts)
	stored, err := h.svc.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Notes, succeeded)
	assert.Equal(t, 1+succeeded, stored.Revision)
}

func TestNewServicePanicsWithoutDependencies(t *testing.T) {
	assert.Panics(t, func() { NewService(nil, nil) })
	assert.Panics(t, func() {
		rules := DefaultRules()
		rules.MaxAmount = decimal.NewFromInt(1)
		NewService(NewMemoryRepository(), newHarness(t).banks, WithRules(rules))
	})
}
