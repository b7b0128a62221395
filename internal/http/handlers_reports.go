package http

import (
	"net/http"

	"github.com/shopspring/decimal"

	"finledger/internal/core"
	"finledger/internal/services"
)

type settingsRequest struct {
	Currency             *string `json:"currency"`
	NotificationsEnabled *bool   `json:"notificationsEnabled"`
}

type netWorthResponse struct {
	Month       int             `json:"month"`
	Year        int             `json:"year"`
	Currency    string          `json:"currency"`
	NetWorth    decimal.Decimal `json:"netWorth"`
	CashBalance decimal.Decimal `json:"cashBalance"`
}

// handleSummary returns the month aggregates in the reference currency.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	params, bad := ParseMonthParams(r.URL.Query(), s.today())
	if bad != nil {
		bad.Write(w)
		return
	}
	OK(s.finance.Summary(params.Month, params.Year)).Write(w)
}

func (s *Server) handleNetWorth(w http.ResponseWriter, r *http.Request) {
	params, bad := ParseMonthParams(r.URL.Query(), s.today())
	if bad != nil {
		bad.Write(w)
		return
	}
	OK(netWorthResponse{
		Month:       params.Month,
		Year:        params.Year,
		Currency:    s.finance.Settings().Currency,
		NetWorth:    s.finance.NetWorth(params.Month, params.Year),
		CashBalance: s.finance.CashBalance(),
	}).Write(w)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	OK(s.finance.Settings()).Write(w)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if bad := DecodeJSON(w, r, &req); bad != nil {
		bad.Write(w)
		return
	}
	settings, err := s.finance.UpdateSettings(r.Context(), services.SettingsPatch{
		Currency:             req.Currency,
		NotificationsEnabled: req.NotificationsEnabled,
	})
	if err != nil {
		FromError(r, err).Write(w)
		return
	}
	OK(settings).Write(w)
}

func (s *Server) handleExportSnapshot(w http.ResponseWriter, r *http.Request) {
	OK(s.finance.ExportSnapshot()).
		Header("Content-Disposition", `attachment; filename="finledger-snapshot.json"`).
		Write(w)
}

// handleImportSnapshot replaces the ledger with the uploaded snapshot. A
// snapshot that fails validation changes nothing.
func (s *Server) handleImportSnapshot(w http.ResponseWriter, r *http.Request) {
	var snap core.Snapshot
	if bad := DecodeJSON(w, r, &snap); bad != nil {
		bad.Write(w)
		return
	}
	if err := s.finance.ImportSnapshot(r.Context(), snap); err != nil {
		FromError(r, err).Write(w)
		return
	}
	OK(map[string]int{
		"transactions": len(snap.Transactions),
		"budgets":      len(snap.Budgets),
		"recurring":    len(snap.RecurringTransactions),
	}).Write(w)
}

// handleReload re-reads every collection from storage.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.finance.Flush(r.Context()); err != nil {
		FromError(r, err).Write(w)
		return
	}
	if err := s.finance.Reload(r.Context()); err != nil {
		FromError(r, err).Write(w)
		return
	}
	NoContent().Write(w)
}
