package handler

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/pocketmoney/internal/chore"
	"github.com/dukerupert/pocketmoney/internal/model"
)

type templateRequest struct {
	AccountID        int64           `json:"account_id"`
	Title            string          `json:"title"`
	Reward           decimal.Decimal `json:"reward"`
	Recurrence       string          `json:"recurrence"`
	RequirePhoto     bool            `json:"require_photo"`
	AutoApproveAfter *string         `json:"auto_approve_after"`
	DueAfter         *string         `json:"due_after"`
}

// CreateTemplate handles POST /api/templates. Durations are Go duration
// strings such as "48h".
func (h *ChoreHandler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if !decode(w, r, &req) {
		return
	}
	autoApprove, err := parseDuration("auto_approve_after", req.AutoApproveAfter)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	dueAfter, err := parseDuration("due_after", req.DueAfter)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	t, err := h.service.CreateTemplate(r.Context(), chore.NewTemplate{
		AccountID:        req.AccountID,
		Title:            req.Title,
		Reward:           req.Reward,
		Recurrence:       req.Recurrence,
		RequirePhoto:     req.RequirePhoto,
		AutoApproveAfter: autoApprove,
		DueAfter:         dueAfter,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// ListTemplates handles GET /api/accounts/{id}/templates
func (h *ChoreHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	templates, err := h.service.ListTemplates(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if templates == nil {
		templates = []model.ChoreTemplate{}
	}
	writeJSON(w, http.StatusOK, templates)
}

type templateUpdateRequest struct {
	Title            *string          `json:"title"`
	Reward           *decimal.Decimal `json:"reward"`
	Active           *bool            `json:"active"`
	RequirePhoto     *bool            `json:"require_photo"`
	AutoApproveAfter *string          `json:"auto_approve_after"`
	DueAfter         *string          `json:"due_after"`
}

// UpdateTemplate handles PUT /api/templates/{id}. Omitted fields are left
// alone; a duration of "0" clears it.
func (h *ChoreHandler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req templateUpdateRequest
	if !decode(w, r, &req) {
		return
	}
	autoApprove, err := parseDuration("auto_approve_after", req.AutoApproveAfter)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	dueAfter, err := parseDuration("due_after", req.DueAfter)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	t, err := h.service.UpdateTemplate(r.Context(), id, chore.TemplateUpdate{
		Title:            req.Title,
		Reward:           req.Reward,
		Active:           req.Active,
		RequirePhoto:     req.RequirePhoto,
		AutoApproveAfter: autoApprove,
		DueAfter:         dueAfter,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Upcoming handles GET /api/templates/{id}/upcoming?days=N, listing the days
// the template will generate an instance.
func (h *ChoreHandler) Upcoming(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	days, err := queryInt(r, "days")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if days == 0 {
		days = 14
	}
	dates, err := h.service.Upcoming(r.Context(), id, days)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if dates == nil {
		dates = []model.Date{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"template_id": id, "dates": dates})
}
