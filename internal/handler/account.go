package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/pocketmoney/internal/allowance"
	"github.com/dukerupert/pocketmoney/internal/auth"
	"github.com/dukerupert/pocketmoney/internal/ledger"
	"github.com/dukerupert/pocketmoney/internal/model"
	"github.com/dukerupert/pocketmoney/internal/store"
)

type AccountHandler struct {
	engine    *ledger.Engine
	allowance *allowance.Scheduler
	logger    *slog.Logger
}

func NewAccountHandler(engine *ledger.Engine, sched *allowance.Scheduler, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{engine: engine, allowance: sched, logger: logger}
}

type accountRequest struct {
	Name            string          `json:"name"`
	Timezone        string          `json:"timezone"`
	WeeklyAllowance decimal.Decimal `json:"weekly_allowance"`
}

// Create handles POST /api/accounts
func (h *AccountHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if !decode(w, r, &req) {
		return
	}
	acct, err := h.engine.OpenAccount(r.Context(), ledger.NewAccount{
		Name:            req.Name,
		Timezone:        req.Timezone,
		WeeklyAllowance: req.WeeklyAllowance,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

func (h *AccountHandler) List(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.engine.ListAccounts(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if accounts == nil {
		accounts = []model.Account{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

type accountView struct {
	*model.Account
	NextAllowanceDue time.Time `json:"next_allowance_due"`
}

func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	acct, err := h.engine.GetAccount(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, accountView{Account: acct, NextAllowanceDue: h.allowance.NextDue(acct)})
}

type allowanceRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// SetAllowance handles PUT /api/accounts/{id}/allowance
func (h *AccountHandler) SetAllowance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req allowanceRequest
	if !decode(w, r, &req) {
		return
	}
	acct, err := h.allowance.SetWeeklyAmount(r.Context(), id, req.Amount)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// PayAllowance handles POST /api/accounts/{id}/allowance/pay
func (h *AccountHandler) PayAllowance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	txn, err := h.allowance.PayWeeklyAllowance(r.Context(), id, auth.ActorID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, txn)
}

func (h *AccountHandler) Balance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	balance, err := h.engine.GetBalance(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account_id": id, "balance": balance})
}

// Transactions handles GET /api/accounts/{id}/transactions with optional
// kind, since, until, limit and offset query parameters.
func (h *AccountHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	f, err := transactionFilter(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	txns, err := h.engine.ListTransactions(r.Context(), id, f)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if txns == nil {
		txns = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, txns)
}

func transactionFilter(r *http.Request) (store.TransactionFilter, error) {
	var f store.TransactionFilter
	var err error
	if k := r.URL.Query().Get("kind"); k != "" {
		f.Kind = model.Kind(k)
		if !f.Kind.Valid() {
			return f, model.ErrInvalidKind
		}
	}
	if f.Since, err = queryTime(r, "since"); err != nil {
		return f, err
	}
	if f.Until, err = queryTime(r, "until"); err != nil {
		return f, err
	}
	if f.Limit, err = queryInt(r, "limit"); err != nil {
		return f, err
	}
	if f.Offset, err = queryInt(r, "offset"); err != nil {
		return f, err
	}
	return f, nil
}

type mutationRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Kind        model.Kind      `json:"kind"`
	Description string          `json:"description"`
	SourceRef   *string         `json:"source_ref"`
}

// Mutate handles POST /api/accounts/{id}/transactions
func (h *AccountHandler) Mutate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req mutationRequest
	if !decode(w, r, &req) {
		return
	}
	txn, err := h.engine.ApplyMutation(r.Context(), ledger.Mutation{
		AccountID:   id,
		Amount:      req.Amount,
		Kind:        req.Kind,
		Description: req.Description,
		ActorID:     auth.ActorID(r.Context()),
		SourceRef:   req.SourceRef,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, txn)
}

// Verify handles GET /api/accounts/{id}/verify by replaying the account's
// transactions against its stored balance.
func (h *AccountHandler) Verify(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	err := h.engine.Verify(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"account_id": id, "consistent": true})
	case errors.Is(err, model.ErrLedgerCorrupt):
		h.logger.Error("ledger verification failed", "account_id", id, "error", err)
		writeJSON(w, http.StatusOK, map[string]any{"account_id": id, "consistent": false, "error": err.Error()})
	default:
		writeError(w, h.logger, err)
	}
}
