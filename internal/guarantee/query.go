// internal/guarantee/query.go
package guarantee

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"guaranteedesk/pkg/domain"
)

// DefaultPageSize applies when a query leaves the page size unset.
const DefaultPageSize = 20

// Filter selects guarantees. Set fields combine with AND; within a list the
// values combine with OR. The zero Filter matches every live guarantee.
type Filter struct {
	Statuses        []Status               `json:"statuses,omitempty"`
	Types           []domain.GuaranteeType `json:"types,omitempty"`
	Currencies      []domain.Currency      `json:"currencies,omitempty"`
	Priorities      []Priority             `json:"priorities,omitempty"`
	BankIDs         []uuid.UUID            `json:"bank_ids,omitempty"`
	Tags            []string               `json:"tags,omitempty"`
	Search          string                 `json:"search,omitempty"`
	AmountMin       *decimal.Decimal       `json:"amount_min,omitempty"`
	AmountMax       *decimal.Decimal       `json:"amount_max,omitempty"`
	ApplicationFrom *time.Time             `json:"application_from,omitempty"`
	ApplicationTo   *time.Time             `json:"application_to,omitempty"`
	ExpiryFrom      *time.Time             `json:"expiry_from,omitempty"`
	ExpiryTo        *time.Time             `json:"expiry_to,omitempty"`
	NearExpiry      bool                   `json:"near_expiry,omitempty"`
	Expired         bool                   `json:"expired,omitempty"`
	IncludeArchived bool                   `json:"include_archived,omitempty"`
}

// SortField names a sortable attribute.
type SortField string

const (
	SortApplicationDate  SortField = "application_date"
	SortAmount           SortField = "amount"
	SortExpiryDate       SortField = "expiry_date"
	SortCreatedAt        SortField = "created_at"
	SortLastModified     SortField = "last_modified"
	SortGuaranteeNumber  SortField = "guarantee_number"
	SortTitle            SortField = "title"
	SortCommissionAmount SortField = "commission_amount"
)

var comparators = map[SortField]func(a, b *Guarantee) int{
	SortApplicationDate:  func(a, b *Guarantee) int { return a.ApplicationDate.Compare(b.ApplicationDate) },
	SortAmount:           func(a, b *Guarantee) int { return a.Amount.Cmp(b.Amount) },
	SortExpiryDate:       func(a, b *Guarantee) int { return a.ExpiryDate.Compare(b.ExpiryDate) },
	SortCreatedAt:        func(a, b *Guarantee) int { return a.CreatedAt.Compare(b.CreatedAt) },
	SortLastModified:     func(a, b *Guarantee) int { return a.LastModified.Compare(b.LastModified) },
	SortGuaranteeNumber:  func(a, b *Guarantee) int { return cmp.Compare(a.GuaranteeNumber, b.GuaranteeNumber) },
	SortTitle:            func(a, b *Guarantee) int { return cmp.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title)) },
	SortCommissionAmount: func(a, b *Guarantee) int { return a.CommissionAmount.Cmp(b.CommissionAmount) },
}

// Sort orders results by one field. An empty field keeps collection order.
type Sort struct {
	Field      SortField `json:"field,omitempty"`
	Descending bool      `json:"descending,omitempty"`
}

// Query is a filter plus ordering and a 1-indexed page.
type Query struct {
	Filter   Filter `json:"filter"`
	Sort     Sort   `json:"sort"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
}

// Stats are computed over the filtered set before pagination.
type Stats struct {
	Total            int                                 `json:"total"`
	ByStatus         map[Status]int                      `json:"by_status"`
	ByType           map[domain.GuaranteeType]int        `json:"by_type"`
	ByCurrency       map[domain.Currency]int             `json:"by_currency"`
	TotalAmount      decimal.Decimal                     `json:"total_amount"`
	AverageAmount    decimal.Decimal                     `json:"average_amount"`
	TotalCommission  decimal.Decimal                     `json:"total_commission"`
	NearExpiry       int                                 `json:"near_expiry"`
	Expired          int                                 `json:"expired"`
	AmountByCurrency map[domain.Currency]decimal.Decimal `json:"amount_by_currency"`
}

// Result is one page of guarantees plus the total and stats of the whole
// filtered set.
type Result struct {
	Items    []*Guarantee `json:"items"`
	Total    int          `json:"total"`
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
	Stats    Stats        `json:"stats"`
}

// RunQuery filters, sorts, paginates and aggregates items at instant now.
// window is the near-expiry horizon in days. items is not modified.
func RunQuery(items []*Guarantee, q Query, now time.Time, window int) (*Result, error) {
	if err := ValidateQuery(q); err != nil {
		return nil, err
	}

	matched := make([]*Guarantee, 0, len(items))
	for _, g := range items {
		if Matches(g, q.Filter, now, window) {
			matched = append(matched, g)
		}
	}

	if less, ok := comparators[q.Sort.Field]; ok {
		slices.SortStableFunc(matched, func(a, b *Guarantee) int {
			if q.Sort.Descending {
				return less(b, a)
			}
			return less(a, b)
		})
	}

	page, size := q.Page, q.PageSize
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = DefaultPageSize
	}

	return &Result{
		Items:    paginate(matched, page, size),
		Total:    len(matched),
		Page:     page,
		PageSize: size,
		Stats:    ComputeStats(matched, now, window),
	}, nil
}

// ValidateQuery rejects unordered ranges and unknown sort fields.
func ValidateQuery(q Query) error {
	ve := &domain.ValidationError{}
	checkRanges(q.Filter, ve)
	if q.Sort.Field != "" {
		if _, ok := comparators[q.Sort.Field]; !ok {
			ve.Addf("sort.field", "unknown sort field %q", q.Sort.Field)
		}
	}
	if q.Page < 0 {
		ve.Add("page", "must not be negative")
	}
	if q.PageSize < 0 {
		ve.Add("page_size", "must not be negative")
	}
	return ve.OrNil()
}

// Matches reports whether g satisfies every set criterion of f at now.
func Matches(g *Guarantee, f Filter, now time.Time, window int) bool {
	if g.IsArchived && !f.IncludeArchived {
		return false
	}
	status := g.EffectiveStatus(now)
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, status) {
		return false
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, g.Type) {
		return false
	}
	if len(f.Currencies) > 0 && !slices.Contains(f.Currencies, g.Currency) {
		return false
	}
	if len(f.Priorities) > 0 && !slices.Contains(f.Priorities, g.Priority) {
		return false
	}
	if len(f.BankIDs) > 0 && !slices.Contains(f.BankIDs, g.Bank.ID) {
		return false
	}
	if len(f.Tags) > 0 && !slices.ContainsFunc(f.Tags, func(t string) bool { return slices.Contains(g.Tags, t) }) {
		return false
	}
	if s := strings.ToLower(strings.TrimSpace(f.Search)); s != "" {
		if !strings.Contains(strings.ToLower(g.Title), s) && !strings.Contains(strings.ToLower(g.GuaranteeNumber), s) {
			return false
		}
	}
	if f.AmountMin != nil && g.Amount.LessThan(*f.AmountMin) {
		return false
	}
	if f.AmountMax != nil && g.Amount.GreaterThan(*f.AmountMax) {
		return false
	}
	if f.ApplicationFrom != nil && g.ApplicationDate.Before(*f.ApplicationFrom) {
		return false
	}
	if f.ApplicationTo != nil && g.ApplicationDate.After(*f.ApplicationTo) {
		return false
	}
	if f.ExpiryFrom != nil && g.ExpiryDate.Before(*f.ExpiryFrom) {
		return false
	}
	if f.ExpiryTo != nil && g.ExpiryDate.After(*f.ExpiryTo) {
		return false
	}
	if f.NearExpiry && !IsNearExpiry(g.ExpiryDate, now, window) {
		return false
	}
	if f.Expired && status != StatusExpired {
		return false
	}
	return true
}

// ComputeStats aggregates items. NearExpiry counts active guarantees inside
// the window; Expired counts guarantees whose effective status is expired.
func ComputeStats(items []*Guarantee, now time.Time, window int) Stats {
	st := Stats{
		ByStatus:         make(map[Status]int),
		ByType:           make(map[domain.GuaranteeType]int),
		ByCurrency:       make(map[domain.Currency]int),
		TotalAmount:      decimal.Zero,
		AverageAmount:    decimal.Zero,
		TotalCommission:  decimal.Zero,
		AmountByCurrency: make(map[domain.Currency]decimal.Decimal),
	}
	for _, g := range items {
		status := g.EffectiveStatus(now)
		st.Total++
		st.ByStatus[status]++
		st.ByType[g.Type]++
		st.ByCurrency[g.Currency]++
		st.TotalAmount = st.TotalAmount.Add(g.Amount)
		st.TotalCommission = st.TotalCommission.Add(g.CommissionAmount)
		st.AmountByCurrency[g.Currency] = st.AmountByCurrency[g.Currency].Add(g.Amount)
		if status == StatusActive && IsNearExpiry(g.ExpiryDate, now, window) {
			st.NearExpiry++
		}
		if status == StatusExpired {
			st.Expired++
		}
	}
	if st.Total > 0 {
		st.AverageAmount = st.TotalAmount.Div(decimal.NewFromInt(int64(st.Total))).Round(2)
	}
	return st
}

// paginate slices a 1-indexed page. The page count is checked before the
// offset is computed so huge page numbers cannot overflow it.
func paginate(items []*Guarantee, page, size int) []*Guarantee {
	pages := len(items) / size
	if len(items)%size != 0 {
		pages++
	}
	if page-1 >= pages {
		return []*Guarantee{}
	}
	start := (page - 1) * size
	end := len(items)
	if size < end-start {
		end = start + size
	}
	return items[start:end]
}
