package http

import (
	"net/http"

	"github.com/shopspring/decimal"

	"finledger/internal/core"
	"finledger/internal/ledger"
	"finledger/internal/log"
)

type transactionRequest struct {
	Title            string               `json:"title"`
	Amount           decimal.Decimal      `json:"amount"`
	Category         string               `json:"category"`
	Type             core.TransactionType `json:"type"`
	Date             core.Date            `json:"date"`
	OriginalCurrency string               `json:"originalCurrency"`
	Description      string               `json:"description"`
}

type transactionPatchRequest struct {
	Title            *string               `json:"title"`
	Amount           *decimal.Decimal      `json:"amount"`
	Category         *string               `json:"category"`
	Type             *core.TransactionType `json:"type"`
	Date             *core.Date            `json:"date"`
	OriginalCurrency *string               `json:"originalCurrency"`
	Description      *string               `json:"description"`
}

type importRequest struct {
	Transactions []core.Transaction `json:"transactions"`
	Replace      bool               `json:"replace"`
}

type transactionList struct {
	Transactions []core.Transaction `json:"transactions"`
	Count        int                `json:"count"`
}

// handleListTransactions returns the whole ledger, or one month when month
// or year is given. type and category narrow the result further.
func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	txs := s.finance.Transactions()

	if q.Has("month") || q.Has("year") {
		params, bad := ParseMonthParams(q, s.today())
		if bad != nil {
			bad.Write(w)
			return
		}
		txs = core.FilterMonth(txs, params.Month, params.Year)
	}
	if typ := core.TransactionType(q.Get("type")); typ != "" {
		if !typ.IsValid() {
			BadRequestError("invalid type " + string(typ)).Write(w)
			return
		}
		txs = filter(txs, func(tx core.Transaction) bool { return tx.Type == typ })
	}
	if cat := q.Get("category"); cat != "" {
		norm := core.NormalizeCategory(cat)
		txs = filter(txs, func(tx core.Transaction) bool { return core.NormalizeCategory(tx.Category) == norm })
	}
	if txs == nil {
		txs = []core.Transaction{}
	}
	OK(transactionList{Transactions: txs, Count: len(txs)}).Write(w)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := s.finance.Transaction(r.PathValue("id"))
	if err != nil {
		FromError(r, err).Write(w)
		return
	}
	OK(tx).Write(w)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if bad := DecodeJSON(w, r, &req); bad != nil {
		bad.Write(w)
		return
	}
	tx, err := s.finance.AddTransaction(r.Context(), ledger.Draft{
		Title:            sanitizeInput(req.Title),
		Amount:           req.Amount,
		Category:         sanitizeInput(req.Category),
		Type:             req.Type,
		Date:             req.Date,
		OriginalCurrency: req.OriginalCurrency,
		Description:      sanitizeInput(req.Description),
	})
	if err != nil {
		FromError(r, err).Write(w)
		return
	}
	log.NewStructuredLogger(log.FromContext(r.Context())).LogTransactionCreated(r.Context(),
		tx.ID, string(tx.Type), tx.Amount.String(), tx.OriginalCurrency, tx.Category)
	Created(tx).Header("Location", "/api/transactions/"+tx.ID).Write(w)
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionPatchRequest
	if bad := DecodeJSON(w, r, &req); bad != nil {
		bad.Write(w)
		return
	}
	tx, err := s.finance.UpdateTransaction(r.Context(), r.PathValue("id"), ledger.Patch{
		Title:            sanitizePtr(req.Title),
		Amount:           req.Amount,
		Category:         sanitizePtr(req.Category),
		Type:             req.Type,
		Date:             req.Date,
		OriginalCurrency: req.OriginalCurrency,
		Description:      sanitizePtr(req.Description),
	})
	if err != nil {
		FromError(r, err).Write(w)
		return
	}
	OK(tx).Write(w)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := s.finance.DeleteTransaction(r.Context(), r.PathValue("id")); err != nil {
		FromError(r, err).Write(w)
		return
	}
	NoContent().Write(w)
}

// handleImportTransactions bulk-loads records, skipping ids that are already
// present or tombstoned.
func (s *Server) handleImportTransactions(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if bad := DecodeJSON(w, r, &req); bad != nil {
		bad.Write(w)
		return
	}
	n, err := s.finance.ImportTransactions(r.Context(), req.Transactions, ledger.ImportOptions{Replace: req.Replace})
	if err != nil {
		FromError(r, err).Write(w)
		return
	}
	OK(map[string]int{"imported": n}).Write(w)
}

func filter(txs []core.Transaction, keep func(core.Transaction) bool) []core.Transaction {
	out := make([]core.Transaction, 0, len(txs))
	for _, tx := range txs {
		if keep(tx) {
			out = append(out, tx)
		}
	}
	return out
}
