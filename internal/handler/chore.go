package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/pocketmoney/internal/auth"
	"github.com/dukerupert/pocketmoney/internal/chore"
	"github.com/dukerupert/pocketmoney/internal/model"
	"github.com/dukerupert/pocketmoney/internal/store"
)

type ChoreHandler struct {
	service *chore.Service
	logger  *slog.Logger
}

func NewChoreHandler(svc *chore.Service, logger *slog.Logger) *ChoreHandler {
	return &ChoreHandler{service: svc, logger: logger}
}

type choreRequest struct {
	AccountID    int64           `json:"account_id"`
	Title        string          `json:"title"`
	Reward       decimal.Decimal `json:"reward"`
	RequirePhoto bool            `json:"require_photo"`
	DueDate      *time.Time      `json:"due_date"`
}

// Create handles POST /api/chores for one-off chores.
func (h *ChoreHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req choreRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.service.CreateInstance(r.Context(), chore.NewInstance{
		AccountID:    req.AccountID,
		Title:        req.Title,
		Reward:       req.Reward,
		RequirePhoto: req.RequirePhoto,
		DueDate:      req.DueDate,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// List handles GET /api/chores?account_id=&template_id=&status=&limit=&offset=
func (h *ChoreHandler) List(w http.ResponseWriter, r *http.Request) {
	var f store.InstanceFilter
	var err error
	if f.AccountID, err = queryInt64(r, "account_id"); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if f.TemplateID, err = queryInt64(r, "template_id"); err != nil {
		writeError(w, h.logger, err)
		return
	}
	f.Status = model.ChoreStatus(r.URL.Query().Get("status"))
	if f.Limit, err = queryInt(r, "limit"); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if f.Offset, err = queryInt(r, "offset"); err != nil {
		writeError(w, h.logger, err)
		return
	}

	chores, err := h.service.ListInstances(r.Context(), f)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if chores == nil {
		chores = []model.ChoreInstance{}
	}
	writeJSON(w, http.StatusOK, chores)
}

func (h *ChoreHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *ChoreHandler) Start(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := h.service.Start(r.Context(), id, auth.ActorID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type completeRequest struct {
	ProofRef string `json:"proof_ref"`
}

func (h *ChoreHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req completeRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	c, err := h.service.Complete(r.Context(), id, req.ProofRef, auth.ActorID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type reviewRequest struct {
	Notes string `json:"notes"`
}

// Approve handles POST /api/chores/{id}/approve and returns the reward
// transaction.
func (h *ChoreHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req reviewRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	txn, err := h.service.Approve(r.Context(), id, req.Notes, auth.ActorID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

func (h *ChoreHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req reviewRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	c, err := h.service.Reject(r.Context(), id, req.Notes, auth.ActorID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Expire handles POST /api/chores/{id}/expire. Instances that are not past
// due, or already terminal, come back unchanged.
func (h *ChoreHandler) Expire(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := h.service.Expire(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
