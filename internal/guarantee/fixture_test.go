package guarantee

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"guaranteedesk/internal/bank"
	"guaranteedesk/internal/guarantee/metrics"
	"guaranteedesk/pkg/domain"
)

var fixedNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc     Service
	repo    *MemoryRepository
	banks   bank.Service
	bankID  uuid.UUID
	clock   *testClock
	metrics *metrics.Metrics
}

func newHarness(t require.TestingT, opts ...Option) *harness {
	banks := bank.NewService(bank.NewMemoryStore())
	profile, err := banks.Register(context.Background(), bank.RegisterRequest{
		Code:       "YKB-02",
		Name:       "Yemen Kuwait Bank",
		BranchName: "Zubairi Branch",
		Address: domain.Address{
			Street:      "Zubairi Street",
			City:        "Sanaa",
			Governorate: domain.GovernorateAmanatAlAsimah,
		},
		Contact:       domain.Contact{Name: "Guarantees Desk", Phone: "01-274-371"},
		BranchManager: domain.Contact{Name: "Nabil Qassem", Phone: "771234567"},
		CommissionRates: map[domain.GuaranteeType]decimal.Decimal{
			domain.GuaranteePerformance: decimal.RequireFromString("2.5"),
			domain.GuaranteeBidBond:     decimal.RequireFromString("1"),
		},
		ProcessingDays: bank.ProcessingDays{Standard: 5, Urgent: 2},
		WorkingDays:    []time.Weekday{time.Saturday, time.Sunday, time.Monday, time.Tuesday, time.Wednesday},
		WorkingHours:   bank.WorkingHours{Open: "08:00", Close: "14:00"},
	})
	require.NoError(t, err)

	clock := &testClock{now: fixedNow}
	m := metrics.New(prometheus.NewRegistry())
	repo := NewMemoryRepository()
	base := []Option{WithClock(clock.Now), WithMetrics(m)}
	svc := NewService(repo, banks, append(base, opts...)...)

	return &harness{svc: svc, repo: repo, banks: banks, bankID: profile.ID, clock: clock, metrics: m}
}

func (h *harness) form() CreateForm {
	return CreateForm{
		Type:  domain.GuaranteePerformance,
		Title: "Kitchen equipment supply contract",
		Applicant: PartyForm{
			Name:               "Al-Saeed Restaurant",
			RegistrationNumber: "12345678",
			TaxID:              "123456789",
			Address: domain.Address{
				Street:      "Hadda Street",
				City:        "Sanaa",
				Governorate: domain.GovernorateAmanatAlAsimah,
			},
			Contact: domain.Contact{Name: "Omar Saeed", Phone: "777 123 456"},
		},
		Beneficiary: PartyForm{
			Name: "Aden Food Supplies",
			Address: domain.Address{
				Street:      "Port Road",
				City:        "Aden",
				Governorate: domain.GovernorateAden,
			},
			Contact: domain.Contact{Name: "Huda Nasser", Phone: "0733123456"},
		},
		BankID:     h.bankID,
		Amount:     decimal.NewFromInt(50_000),
		Currency:   domain.CurrencyYER,
		ExpiryDate: fixedNow.AddDate(0, 0, 90),
		Documents: []DocumentForm{
			{FileID: "file-1", Name: "register.pdf", Kind: "commercial_register", Size: 1024},
			{FileID: "file-2", Name: "tax.pdf", Kind: "tax_card", Size: 2048},
			{FileID: "file-3", Name: "contract.pdf", Kind: "contract", Size: 4096},
		},
	}
}

func (h *harness) create(t require.TestingT) *Guarantee {
	g, err := h.svc.Create(context.Background(), h.form(), "clerk")
	require.NoError(t, err)
	return g
}

// activate walks a new guarantee through to active.
func (h *harness) activate(t require.TestingT, form CreateForm) *Guarantee {
	ctx := context.Background()

	g, err := h.svc.Create(ctx, form, "clerk")
	require.NoError(t, err)
	_, err = h.svc.SubmitToBank(ctx, g.ID, "QAS-2024-789", "", "clerk")
	require.NoError(t, err)
	_, err = h.svc.RecordBankResponse(ctx, g.ID, true, "", "REF-1", "officer")
	require.NoError(t, err)
	_, err = h.svc.Issue(ctx, g.ID, time.Time{}, "officer")
	require.NoError(t, err)
	g, err = h.svc.Activate(ctx, g.ID, time.Time{}, "officer")
	require.NoError(t, err)
	return g
}

func statusesOf(history []StatusChange) []Status {
	out := make([]Status, 0, len(history))
	for _, h := range history {
		out = append(out, h.Status)
	}
	return out
}
