package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/pocketmoney/internal/backup"
	"github.com/dukerupert/pocketmoney/internal/model"
)

type BackupHandler struct {
	manager *backup.Manager
	logger  *slog.Logger
}

func NewBackupHandler(m *backup.Manager, logger *slog.Logger) *BackupHandler {
	return &BackupHandler{manager: m, logger: logger}
}

// Run handles POST /api/backups, taking a snapshot synchronously.
func (h *BackupHandler) Run(w http.ResponseWriter, r *http.Request) {
	b, err := h.manager.Run(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// List handles GET /api/backups
func (h *BackupHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if limit == 0 {
		limit = 20
	}
	backups, err := h.manager.List(r.Context(), limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if backups == nil {
		backups = []model.Backup{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": h.manager.Status(), "backups": backups})
}
