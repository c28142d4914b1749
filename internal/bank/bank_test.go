package bank

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guaranteedesk/pkg/domain"
)

var fixedNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func validRequest() RegisterRequest {
	return RegisterRequest{
		Code:       "ybrd-01",
		Name:       "Yemen Bank for Reconstruction and Development",
		BranchName: "Tahrir Branch",
		Address: domain.Address{
			Street:      "Tahrir Square",
			City:        "Sanaa",
			Governorate: "Amanat_Al_Asimah",
		},
		Contact:       domain.Contact{Name: "Front Desk", Phone: "01-274-371"},
		BranchManager: domain.Contact{Name: "Ali Saleh", Phone: "+967 777 123 456", Email: "ali@example.ye"},
		CommissionRates: map[domain.GuaranteeType]decimal.Decimal{
			domain.GuaranteePerformance: decimal.RequireFromString("1.5"),
			domain.GuaranteeBidBond:     decimal.RequireFromString("0.75"),
		},
		ProcessingDays: ProcessingDays{Standard: 5, Urgent: 2},
		WorkingDays:    []time.Weekday{time.Saturday, time.Sunday, time.Monday, time.Tuesday, time.Wednesday},
		WorkingHours:   WorkingHours{Open: "08:00", Close: "14:00"},
	}
}

func newTestService() (Service, *MemoryStore) {
	store := NewMemoryStore()
	return NewService(store, WithClock(func() time.Time { return fixedNow })), store
}

func TestRegisterNormalizesAndStores(t *testing.T) {
	svc, store := newTestService()

	p, err := svc.Register(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, "YBRD-01", p.Code)
	assert.Equal(t, domain.GovernorateAmanatAlAsimah, p.Address.Governorate)
	assert.Equal(t, "+967777123456", p.BranchManager.Phone)
	assert.True(t, p.IsActive)
	assert.Equal(t, 1, p.Version)
	assert.Equal(t, fixedNow, p.CreatedAt)

	rate, ok := p.RateFor(domain.GuaranteePerformance)
	require.True(t, ok)
	assert.True(t, rate.Equal(decimal.RequireFromString("1.5")))

	journal := store.Journal(p.ID)
	require.Len(t, journal, 1)
	assert.Equal(t, "BankRegistered", journal[0].Type)
}

func TestRegisterRejectsInvalidProfile(t *testing.T) {
	svc, _ := newTestService()

	req := validRequest()
	req.Name = ""
	req.Contact.Phone = "12"
	req.CommissionRates[domain.GuaranteeCustoms] = decimal.NewFromInt(11)
	req.ProcessingDays = ProcessingDays{Standard: 31, Urgent: 0}
	req.WorkingHours = WorkingHours{Open: "14:00", Close: "08:00"}

	_, err := svc.Register(context.Background(), req)
	require.Error(t, err)

	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	for _, field := range []string{
		"name",
		"contact.phone",
		"commission_rates.customs",
		"processing_days.standard",
		"processing_days.urgent",
		"working_hours.close",
	} {
		assert.True(t, ve.HasField(field), "expected violation on %s, got %v", field, ve.Violations)
	}
}

func TestRegisterRejectsDuplicateCode(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Register(context.Background(), validRequest())
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), validRequest())
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.True(t, ve.HasField("code"))
}

func TestUpdateRatesAndDeactivate(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	p, err := svc.Register(ctx, validRequest())
	require.NoError(t, err)

	updated, err := svc.UpdateRates(ctx, p.ID, map[domain.GuaranteeType]decimal.Decimal{
		domain.GuaranteePerformance: decimal.NewFromInt(2),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	_, ok := updated.RateFor(domain.GuaranteeBidBond)
	assert.False(t, ok)

	_, err = svc.UpdateRates(ctx, p.ID, map[domain.GuaranteeType]decimal.Decimal{
		domain.GuaranteePerformance: decimal.NewFromInt(-1),
	})
	assert.True(t, domain.IsValidation(err))

	off, err := svc.SetActive(ctx, p.ID, false)
	require.NoError(t, err)
	assert.False(t, off.IsActive)
	assert.Equal(t, 3, off.Version)

	active, err := svc.List(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := svc.List(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	assert.Len(t, store.Journal(p.ID), 3)
}

func TestGetBankNotFound(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.GetBank(context.Background(), uuid.New())
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "bank", nf.Resource)
}

func TestMemoryStoreRejectsStaleVersion(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	p, err := svc.Register(ctx, validRequest())
	require.NoError(t, err)

	stale := p.Clone()
	stale.Version = 2
	require.NoError(t, store.Update(ctx, stale, 1, Event{Type: "BankStatusChanged"}))
	assert.ErrorIs(t, store.Update(ctx, stale, 1, Event{Type: "BankStatusChanged"}), domain.ErrConflict)
}

func TestProfileCloneIsDeep(t *testing.T) {
	svc, _ := newTestService()
	p, err := svc.Register(context.Background(), validRequest())
	require.NoError(t, err)

	c := p.Clone()
	c.CommissionRates[domain.GuaranteePerformance] = decimal.NewFromInt(9)
	c.WorkingDays[0] = time.Friday

	rate, _ := p.RateFor(domain.GuaranteePerformance)
	assert.True(t, rate.Equal(decimal.RequireFromString("1.5")))
	assert.Equal(t, time.Saturday, p.WorkingDays[0])
}

func TestHandlerRegisterAndGet(t *testing.T) {
	svc, _ := newTestService()
	r := chi.NewRouter()
	NewHandler(svc).Routes(r)

	body, err := json.Marshal(validRequest())
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/banks/", bytes.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created Profile
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/banks/"+created.ID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/banks/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/banks/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerRegisterValidationFailure(t *testing.T) {
	svc, _ := newTestService()
	r := chi.NewRouter()
	NewHandler(svc).Routes(r)

	req := validRequest()
	req.Code = ""
	body, err := json.Marshal(req)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/banks/", bytes.NewReader(body)))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp struct {
		Error      string              `json:"error"`
		Violations []domain.FieldError `json:"violations"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "validation_failed", resp.Error)
	assert.Contains(t, resp.Violations, domain.FieldError{Field: "code", Message: "is required"})
}
