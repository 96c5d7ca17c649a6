package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/pocketmoney/internal/clock"
	"github.com/dukerupert/pocketmoney/internal/ledger"
	"github.com/dukerupert/pocketmoney/internal/push"
)

type PushHandler struct {
	service *push.Service
	engine  *ledger.Engine
	clock   clock.Clock
	logger  *slog.Logger
}

func NewPushHandler(svc *push.Service, engine *ledger.Engine, c clock.Clock, logger *slog.Logger) *PushHandler {
	return &PushHandler{service: svc, engine: engine, clock: c, logger: logger}
}

type subscribeRequest struct {
	AccountID  int64  `json:"account_id"`
	Endpoint   string `json:"endpoint"`
	P256dh     string `json:"p256dh"`
	Auth       string `json:"auth"`
	DeviceName string `json:"device_name"`
}

// Subscribe handles POST /api/push/subscribe
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if !decode(w, r, &req) {
		return
	}
	if _, err := h.engine.GetAccount(r.Context(), req.AccountID); err != nil {
		writeError(w, h.logger, err)
		return
	}

	sub, err := h.service.Subscribe(r.Context(), push.NewSubscription{
		AccountID:  req.AccountID,
		Endpoint:   req.Endpoint,
		P256dhKey:  req.P256dh,
		AuthKey:    req.Auth,
		DeviceName: req.DeviceName,
	}, h.clock.Now())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

// Unsubscribe handles DELETE /api/push/subscriptions/{id}
func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.Unsubscribe(r.Context(), id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// VAPIDKey handles GET /api/push/vapid-key
func (h *PushHandler) VAPIDKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"public_key": h.service.VAPIDPublicKey()})
}
