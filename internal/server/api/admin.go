package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"reddot-watch/feedcache/internal/admin"
)

// Commands is the admin surface the handler drives. *admin.Commands implements it.
type Commands interface {
	RefreshUser(ctx context.Context, userID string) (admin.Report, error)
	RefreshStale(ctx context.Context, minValidRows, batchLimit int) admin.Report
	RefreshAll(ctx context.Context, force bool) admin.Report
}

// AdminHandler exposes regeneration triggers. Each request blocks until the job finishes.
type AdminHandler struct {
	cmds Commands
}

func NewAdminHandler(cmds Commands) *AdminHandler {
	return &AdminHandler{cmds: cmds}
}

// RefreshUser handles POST /v1/admin/refresh/users/{userID}.
func (h *AdminHandler) RefreshUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	report, err := h.cmds.RefreshUser(r.Context(), userID)
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("Rejected refresh request")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, r, report)
}

// RefreshStale handles POST /v1/admin/refresh/stale[?min_valid_rows=&batch_limit=].
func (h *AdminHandler) RefreshStale(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	minValidRows, err := optionalPositiveInt(query.Get("min_valid_rows"))
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid 'min_valid_rows' parameter: %v", err), http.StatusBadRequest)
		return
	}
	batchLimit, err := optionalPositiveInt(query.Get("batch_limit"))
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid 'batch_limit' parameter: %v", err), http.StatusBadRequest)
		return
	}
	writeJSON(w, r, h.cmds.RefreshStale(r.Context(), minValidRows, batchLimit))
}

// RefreshAll handles POST /v1/admin/refresh/all[?force=true].
func (h *AdminHandler) RefreshAll(w http.ResponseWriter, r *http.Request) {
	force := false
	if v := r.URL.Query().Get("force"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "Invalid 'force' parameter: must be a boolean", http.StatusBadRequest)
			return
		}
		force = parsed
	}
	writeJSON(w, r, h.cmds.RefreshAll(r.Context(), force))
}

func optionalPositiveInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("must be positive, got %d", n)
	}
	return n, nil
}
