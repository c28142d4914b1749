// internal/guarantee/handler.go
package guarantee

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"guaranteedesk/internal/platform/httpx"
	"guaranteedesk/pkg/domain"
)

type Handler struct {
	service Service
	limit   func(http.Handler) http.Handler
}

// HandlerOption configures the HTTP handler.
type HandlerOption func(*Handler)

// WithRateLimit throttles mutating routes.
func WithRateLimit(perMinute, burst int) HandlerOption {
	return func(h *Handler) {
		h.limit = httpx.RateLimit(perMinute, burst)
	}
}

func NewHandler(service Service, opts ...HandlerOption) *Handler {
	h := &Handler{service: service, limit: httpx.RateLimit(0, 1)}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes mounts the guarantee endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/guarantees", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/query", h.handleQuery)
		r.Get("/{id}", h.handleGet)
		r.Get("/{id}/history", h.handleHistory)

		r.Group(func(r chi.Router) {
			r.Use(h.limit)
			r.Post("/", h.handleCreate)
			r.Post("/alerts/refresh", h.handleRefreshAlerts)
			r.Post("/sweep", h.handleSweep)

			r.Post("/{id}/submit", h.handleSubmit)
			r.Post("/{id}/bank-response", h.handleBankResponse)
			r.Post("/{id}/review", h.simple(h.service.StartReview))
			r.Post("/{id}/return", h.withReason(h.service.ReturnForCorrection))
			r.Post("/{id}/reopen", h.simple(h.service.Reopen))
			r.Post("/{id}/issue", h.handleIssue)
			r.Post("/{id}/activate", h.handleActivate)
			r.Post("/{id}/renew", h.handleRenew)
			r.Post("/{id}/cancel", h.withReason(h.service.Cancel))
			r.Post("/{id}/transition", h.handleTransition)
			r.Post("/{id}/archive", h.simple(h.service.Archive))

			r.Post("/{id}/documents", h.handleAddDocument)
			r.Post("/{id}/documents/{documentID}/review", h.handleReviewDocument)
			r.Post("/{id}/notes", h.handleAddNote)
			r.Post("/{id}/extensions", h.handleRequestExtension)
			r.Post("/{id}/extensions/{extensionID}/decision", h.handleDecideExtension)
			r.Post("/{id}/alerts/{alertID}/read", h.alert(h.service.MarkAlertRead))
			r.Post("/{id}/alerts/{alertID}/resolve", h.alert(h.service.ResolveAlert))
		})
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var form CreateForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		writeError(w, err)
		return
	}

	g, err := h.service.Create(r.Context(), form, httpx.ActorFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusCreated, g)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	g, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, g)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	entries, err := h.service.History(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q, err := queryFromURL(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}
	h.runQuery(w, r, q)
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	var q Query
	if err := httpx.DecodeJSON(r, &q); err != nil {
		writeError(w, err)
		return
	}
	h.runQuery(w, r, q)
}

func (h *Handler) runQuery(w http.ResponseWriter, r *http.Request, q Query) {
	res, err := h.service.Query(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, res)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BankReference string `json:"bank_reference"`
		Notes         string `json:"notes"`
	}
	h.mutation(w, r, &req, func(id uuid.UUID, actor string) (*Guarantee, error) {
		return h.service.SubmitToBank(r.Context(), id, req.BankReference, req.Notes, actor)
	})
}

func (h *Handler) handleBankResponse(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Approved        bool   `json:"approved"`
		Notes           string `json:"notes"`
		ReferenceNumber string `json:"reference_number"`
	}
	h.mutation(w, r, &req, func(id uuid.UUID, actor string) (*Guarantee, error) {
		return h.service.RecordBankResponse(r.Context(), id, req.Approved, req.Notes, req.ReferenceNumber, actor)
	})
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IssueDate time.Time `json:"issue_date"`
	}
	h.mutation(w, r, &req, func(id uuid.UUID, actor string) (*Guarantee, error) {
		return h.service.Issue(r.Context(), id, req.IssueDate, actor)
	})
}

func (h *Handler) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EffectiveDate time.Time `json:"effective_date"`
	}
	h.mutation(w, r, &req, func(id uuid.UUID, actor string) (*Guarantee, error) {
		return h.service.Activate(r.Context(), id, req.EffectiveDate, actor)
	})
}

func (h *Handler) handleRenew(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExpiryDate time.Time `json:"expiry_date"`
	}
	h.mutation(w, r, &req, func(id uuid.UUID, actor string) (*Guarantee, error) {
		return h.service.Renew(r.Context(), id, req.ExpiryDate, actor)
	})
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status Status `json:"status"`
		Reason string `json:"reason"`
	}
	h.mutation(w, r, &req, func(id uuid.UUID, actor string) (*Guarantee, error) {
		return h.service.Transition(r.Context(), id, req.Status, req.Reason, actor)
	})
}

func (h *Handler) handleAddDocument(w http.ResponseWriter, r *http.Request) {
	var req DocumentForm
	h.mutation(w, r, &req, func(id uuid.UUID, actor string) (*Guarantee, error) {
		return h.service.AddDocument(r.Context(), id, req, actor)
	})
}

func (h *Handler) handleReviewDocument(w http.ResponseWriter, r *http.Request) {
	docID, ok := parseID(w, r, "documentID")
	if !ok {
		return
	}
	var req struct {
		Decision DocumentStatus `json:"decision"`
		Notes    string         `json:"notes"`
	}
	h.mutation(w, r, &req, func(id uuid.UUID, actor string) (*Guarantee, error) {
		return h.service.ReviewDocument(r.Context(), id, docID, req.Decision, req.Notes, actor)
	})
}

func (h *Handler) handleAddNote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content    string         `json:"content"`
		Visibility NoteVisibility `json:"visibility"`
		Private    bool           `json:"is_private"`
	}
	h.mutation(w, r, &req, func(id uuid.UUID, actor string) (*Guarantee, error) {
		return h.service.AddNote(r.Context(), id, req.Content, req.Visibility, req.Private, actor)
	})
}

func (h *Handler) handleRequestExtension(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RequestedDate time.Time `json:"requested_date"`
		Reason        string    `json:"reason"`
	}
	h.mutation(w, r, &req, func(id uuid.UUID, actor string) (*Guarantee, error) {
		return h.service.RequestExtension(r.Context(), id, req.RequestedDate, req.Reason, actor)
	})
}

func (h *Handler) handleDecideExtension(w http.ResponseWriter, r *http.Request) {
	extID, ok := parseID(w, r, "extensionID")
	if !ok {
		return
	}
	var req struct {
		Approve bool   `json:"approve"`
		Notes   string `json:"notes"`
	}
	h.mutation(w, r, &req, func(id uuid.UUID, actor string) (*Guarantee, error) {
		return h.service.DecideExtension(r.Context(), id, extID, req.Approve, req.Notes, actor)
	})
}

func (h *Handler) handleRefreshAlerts(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.RefreshAlerts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]int{"raised": n})
}

func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.SweepExpired(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]int{"expired": n})
}

func (h *Handler) simple(op func(ctx context.Context, id uuid.UUID, actor string) (*Guarantee, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.mutation(w, r, nil, func(id uuid.UUID, actor string) (*Guarantee, error) {
			return op(r.Context(), id, actor)
		})
	}
}

func (h *Handler) withReason(op func(ctx context.Context, id uuid.UUID, reason, actor string) (*Guarantee, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Reason string `json:"reason"`
		}
		h.mutation(w, r, &req, func(id uuid.UUID, actor string) (*Guarantee, error) {
			return op(r.Context(), id, req.Reason, actor)
		})
	}
}

func (h *Handler) alert(op func(ctx context.Context, id, alertID uuid.UUID, actor string) (*Guarantee, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		alertID, ok := parseID(w, r, "alertID")
		if !ok {
			return
		}
		h.mutation(w, r, nil, func(id uuid.UUID, actor string) (*Guarantee, error) {
			return op(r.Context(), id, alertID, actor)
		})
	}
}

// mutation parses the guarantee id, decodes an optional body into req and
// responds with the updated guarantee.
func (h *Handler) mutation(w http.ResponseWriter, r *http.Request, req any, op func(id uuid.UUID, actor string) (*Guarantee, error)) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	if req != nil && r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, req); err != nil {
			writeError(w, err)
			return
		}
	}

	g, err := op(id, httpx.ActorFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, g)
}

func parseID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "invalid_id", "invalid "+param)
		return uuid.Nil, false
	}
	return id, true
}

// queryFromURL reads a Query from list-style parameters. Repeated or
// comma-separated values combine with OR.
func queryFromURL(v url.Values) (Query, error) {
	ve := &domain.ValidationError{}
	q := Query{
		Filter: Filter{
			Search:          v.Get("search"),
			NearExpiry:      v.Get("near_expiry") == "true",
			Expired:         v.Get("expired") == "true",
			IncludeArchived: v.Get("include_archived") == "true",
		},
		Sort: Sort{
			Field:      SortField(v.Get("sort")),
			Descending: v.Get("order") == "desc",
		},
	}
	for _, s := range list(v, "status") {
		q.Filter.Statuses = append(q.Filter.Statuses, Status(s))
	}
	for _, s := range list(v, "type") {
		q.Filter.Types = append(q.Filter.Types, domain.GuaranteeType(s))
	}
	for _, s := range list(v, "currency") {
		q.Filter.Currencies = append(q.Filter.Currencies, domain.Currency(strings.ToUpper(s)))
	}
	for _, s := range list(v, "priority") {
		q.Filter.Priorities = append(q.Filter.Priorities, Priority(s))
	}
	for _, s := range list(v, "bank_id") {
		id, err := uuid.Parse(s)
		if err != nil {
			ve.Add("bank_id", "must be a UUID")
			continue
		}
		q.Filter.BankIDs = append(q.Filter.BankIDs, id)
	}
	q.Filter.Tags = list(v, "tag")

	q.Filter.AmountMin = parseDecimal(v, "amount_min", ve)
	q.Filter.AmountMax = parseDecimal(v, "amount_max", ve)
	q.Filter.ApplicationFrom = parseDate(v, "application_from", ve)
	q.Filter.ApplicationTo = parseDate(v, "application_to", ve)
	q.Filter.ExpiryFrom = parseDate(v, "expiry_from", ve)
	q.Filter.ExpiryTo = parseDate(v, "expiry_to", ve)
	q.Page = parseInt(v, "page", ve)
	q.PageSize = parseInt(v, "page_size", ve)
	return q, ve.OrNil()
}

func list(v url.Values, key string) []string {
	var out []string
	for _, raw := range v[key] {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func parseDecimal(v url.Values, key string, ve *domain.ValidationError) *decimal.Decimal {
	raw := v.Get(key)
	if raw == "" {
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		ve.Add(key, "must be a decimal number")
		return nil
	}
	return &d
}

// parseDate accepts RFC 3339 timestamps or plain dates (UTC midnight).
func parseDate(v url.Values, key string, ve *domain.ValidationError) *time.Time {
	raw := v.Get(key)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	ve.Add(key, "must be a date (YYYY-MM-DD) or RFC 3339 timestamp")
	return nil
}

func parseInt(v url.Values, key string, ve *domain.ValidationError) int {
	raw := v.Get(key)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		ve.Add(key, "must be an integer")
		return 0
	}
	return n
}

func writeError(w http.ResponseWriter, err error) {
	var (
		ve  *domain.ValidationError
		bue *BankUnavailableError
		ite *IllegalTransitionError
	)
	switch {
	case errors.As(err, &ve):
		httpx.RespondValidation(w, ve)
	case errors.As(err, &bue):
		httpx.RespondError(w, http.StatusUnprocessableEntity, "bank_unavailable", bue.Error())
	case errors.Is(err, domain.ErrNotFound):
		httpx.RespondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.As(err, &ite):
		httpx.RespondError(w, http.StatusConflict, "illegal_transition", ite.Error())
	case errors.Is(err, ErrConcurrencyConflict), errors.Is(err, domain.ErrConflict):
		httpx.RespondError(w, http.StatusConflict, "conflict", err.Error())
	default:
		httpx.RespondError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}
