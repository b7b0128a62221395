package http

import (
	"net/http"

	"github.com/shopspring/decimal"

	"finledger/internal/budget"
	"finledger/internal/core"
)

type budgetRequest struct {
	Category       string          `json:"category"`
	MonthlyLimit   decimal.Decimal `json:"monthlyLimit"`
	AlertThreshold float64         `json:"alertThreshold"`
	Currency       string          `json:"currency"`
}

type budgetPatchRequest struct {
	Category       *string          `json:"category"`
	MonthlyLimit   *decimal.Decimal `json:"monthlyLimit"`
	AlertThreshold *float64         `json:"alertThreshold"`
	IsActive       *bool            `json:"isActive"`
	Currency       *string          `json:"currency"`
}

func (s *Server) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	budgets := s.finance.Budgets()
	if budgets == nil {
		budgets = []core.CategoryBudget{}
	}
	OK(map[string]any{"budgets": budgets, "count": len(budgets)}).Write(w)
}

func (s *Server) handleGetBudget(w http.ResponseWriter, r *http.Request) {
	b, err := s.finance.Budget(r.PathValue("id"))
	if err != nil {
		FromError(r, err).Write(w)
		return
	}
	OK(b).Write(w)
}

func (s *Server) handleCreateBudget(w http.ResponseWriter, r *http.Request) {
	var req budgetRequest
	if bad := DecodeJSON(w, r, &req); bad != nil {
		bad.Write(w)
		return
	}
	b, err := s.finance.CreateBudget(r.Context(), budget.Draft{
		Category:       sanitizeInput(req.Category),
		MonthlyLimit:   req.MonthlyLimit,
		AlertThreshold: req.AlertThreshold,
		Currency:       req.Currency,
	})
	if err != nil {
		FromError(r, err).Write(w)
		return
	}
	Created(b).Header("Location", "/api/budgets/"+b.ID).Write(w)
}

func (s *Server) handleUpdateBudget(w http.ResponseWriter, r *http.Request) {
	var req budgetPatchRequest
	if bad := DecodeJSON(w, r, &req); bad != nil {
		bad.Write(w)
		return
	}
	b, err := s.finance.UpdateBudget(r.Context(), r.PathValue("id"), budget.Patch{
		Category:       sanitizePtr(req.Category),
		MonthlyLimit:   req.MonthlyLimit,
		AlertThreshold: req.AlertThreshold,
		IsActive:       req.IsActive,
		Currency:       req.Currency,
	})
	if err != nil {
		FromError(r, err).Write(w)
		return
	}
	OK(b).Write(w)
}

func (s *Server) handleDeleteBudget(w http.ResponseWriter, r *http.Request) {
	if err := s.finance.DeleteBudget(r.Context(), r.PathValue("id")); err != nil {
		FromError(r, err).Write(w)
		return
	}
	NoContent().Write(w)
}

// handleBudgetProgress reports spend against every active budget for the
// requested month (default: current).
func (s *Server) handleBudgetProgress(w http.ResponseWriter, r *http.Request) {
	params, bad := ParseMonthParams(r.URL.Query(), s.today())
	if bad != nil {
		bad.Write(w)
		return
	}
	progress := s.finance.BudgetProgress(params.Month, params.Year)
	if progress == nil {
		progress = []budget.Progress{}
	}
	OK(map[string]any{"month": params.Month, "year": params.Year, "budgets": progress}).Write(w)
}
