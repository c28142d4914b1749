// internal/bank/handler.go
package bank

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"guaranteedesk/internal/platform/httpx"
	"guaranteedesk/pkg/domain"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the bank endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/banks", func(r chi.Router) {
		r.Post("/", h.handleRegister)
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)
		r.Put("/{id}/rates", h.handleUpdateRates)
		r.Post("/{id}/activate", h.handleSetActive(true))
		r.Post("/{id}/deactivate", h.handleSetActive(false))
	})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	p, err := h.service.Register(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusCreated, p)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	banks, err := h.service.List(r.Context(), activeOnly)
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, banks)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	p, err := h.service.GetBank(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, p)
}

func (h *Handler) handleUpdateRates(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req struct {
		Rates map[domain.GuaranteeType]decimal.Decimal `json:"commission_rates"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	p, err := h.service.UpdateRates(r.Context(), id, req.Rates)
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, p)
}

func (h *Handler) handleSetActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r)
		if !ok {
			return
		}
		p, err := h.service.SetActive(r.Context(), id, active)
		if err != nil {
			writeError(w, err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, p)
	}
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "invalid_id", "invalid bank ID")
		return uuid.Nil, false
	}
	return id, true
}

func writeError(w http.ResponseWriter, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		httpx.RespondValidation(w, ve)
	case errors.Is(err, domain.ErrNotFound):
		httpx.RespondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrConflict):
		httpx.RespondError(w, http.StatusConflict, "conflict", err.Error())
	default:
		httpx.RespondError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}
