package http

import (
	"net/http"

	"github.com/shopspring/decimal"

	"finledger/internal/core"
	"finledger/internal/recurring"
)

type recurringRequest struct {
	Title            string               `json:"title"`
	Amount           decimal.Decimal      `json:"amount"`
	Category         string               `json:"category"`
	Type             core.TransactionType `json:"type"`
	Frequency        core.Frequency       `json:"frequency"`
	StartDate        core.Date            `json:"startDate"`
	EndDate          *core.Date           `json:"endDate"`
	OriginalCurrency string               `json:"originalCurrency"`
	Description      string               `json:"description"`
}

type recurringPatchRequest struct {
	Title            *string               `json:"title"`
	Amount           *decimal.Decimal      `json:"amount"`
	Category         *string               `json:"category"`
	Type             *core.TransactionType `json:"type"`
	Frequency        *core.Frequency       `json:"frequency"`
	StartDate        *core.Date            `json:"startDate"`
	EndDate          *core.Date            `json:"endDate"`
	ClearEndDate     bool                  `json:"clearEndDate"`
	IsActive         *bool                 `json:"isActive"`
	OriginalCurrency *string               `json:"originalCurrency"`
	Description      *string               `json:"description"`
}

func (s *Server) handleListRecurring(w http.ResponseWriter, r *http.Request) {
	templates := s.finance.RecurringTemplates()
	if templates == nil {
		templates = []core.RecurringTemplate{}
	}
	OK(map[string]any{"recurring": templates, "count": len(templates)}).Write(w)
}

func (s *Server) handleGetRecurring(w http.ResponseWriter, r *http.Request) {
	rt, err := s.finance.RecurringTemplate(r.PathValue("id"))
	if err != nil {
		FromError(r, err).Write(w)
		return
	}
	OK(rt).Write(w)
}

func (s *Server) handleCreateRecurring(w http.ResponseWriter, r *http.Request) {
	var req recurringRequest
	if bad := DecodeJSON(w, r, &req); bad != nil {
		bad.Write(w)
		return
	}
	rt, err := s.finance.CreateRecurring(r.Context(), recurring.TemplateDraft{
		Title:            sanitizeInput(req.Title),
		Amount:           req.Amount,
		Category:         sanitizeInput(req.Category),
		Type:             req.Type,
		Frequency:        req.Frequency,
		StartDate:        req.StartDate,
		EndDate:          req.EndDate,
		OriginalCurrency: req.OriginalCurrency,
		Description:      sanitizeInput(req.Description),
	})
	if err != nil {
		FromError(r, err).Write(w)
		return
	}
	Created(rt).Header("Location", "/api/recurring/"+rt.ID).Write(w)
}

// handleUpdateRecurring edits a template. With ?propagate=true the new
// fields are copied onto the entries it already generated.
func (s *Server) handleUpdateRecurring(w http.ResponseWriter, r *http.Request) {
	propagate, bad := ParseBoolParam(r.URL.Query(), "propagate")
	if bad != nil {
		bad.Write(w)
		return
	}
	var req recurringPatchRequest
	if bad := DecodeJSON(w, r, &req); bad != nil {
		bad.Write(w)
		return
	}
	id := r.PathValue("id")

	// Activation has its own action so reactivation rules stay in one place.
	if req.IsActive != nil && req.isActivationOnly() {
		rt, err := s.finance.SetRecurringActive(r.Context(), id, *req.IsActive)
		if err != nil {
			FromError(r, err).Write(w)
			return
		}
		OK(rt).Write(w)
		return
	}

	rt, err := s.finance.UpdateRecurring(r.Context(), id, recurring.TemplatePatch{
		Title:            sanitizePtr(req.Title),
		Amount:           req.Amount,
		Category:         sanitizePtr(req.Category),
		Type:             req.Type,
		Frequency:        req.Frequency,
		StartDate:        req.StartDate,
		EndDate:          req.EndDate,
		ClearEndDate:     req.ClearEndDate,
		IsActive:         req.IsActive,
		OriginalCurrency: req.OriginalCurrency,
		Description:      sanitizePtr(req.Description),
	}, propagate)
	if err != nil {
		FromError(r, err).Write(w)
		return
	}
	OK(rt).Write(w)
}

func (req recurringPatchRequest) isActivationOnly() bool {
	return req.Title == nil && req.Amount == nil && req.Category == nil && req.Type == nil &&
		req.Frequency == nil && req.StartDate == nil && req.EndDate == nil && !req.ClearEndDate &&
		req.OriginalCurrency == nil && req.Description == nil
}

// handleDeleteRecurring removes the template and every entry it generated.
func (s *Server) handleDeleteRecurring(w http.ResponseWriter, r *http.Request) {
	removed, err := s.finance.DeleteRecurring(r.Context(), r.PathValue("id"))
	if err != nil {
		FromError(r, err).Write(w)
		return
	}
	OK(map[string]int{"removedTransactions": removed}).Write(w)
}

// handleGenerateRecurring runs one projection pass now.
func (s *Server) handleGenerateRecurring(w http.ResponseWriter, r *http.Request) {
	n, err := s.finance.GenerateRecurring(r.Context())
	if err != nil {
		FromError(r, err).Write(w)
		return
	}
	OK(map[string]int{"generated": n}).Write(w)
}
