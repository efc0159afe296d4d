package handlers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/brandviz/brandviz/internal/apperr"
	"github.com/brandviz/brandviz/internal/models"
	"github.com/brandviz/brandviz/services"
)

// Dashboard handles GET /api/brand/{id}/dashboard.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	brandID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	dashboard, err := h.svc.Data.Dashboard(r.Context(), currentUser(r), brandID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "ok", dashboard)
}

// Matrix handles GET /api/brand/{id}/matrix?analysisId=.
func (h *Handler) Matrix(w http.ResponseWriter, r *http.Request) {
	brandID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var analysisID *uuid.UUID
	if raw := r.URL.Query().Get("analysisId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, r, apperr.Validation(map[string]string{"analysisId": "uuid"}))
			return
		}
		analysisID = &id
	}

	matrix, err := h.svc.Data.Matrix(r.Context(), currentUser(r), brandID, analysisID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "ok", matrix)
}

// Logs handles GET /api/brand/{id}/logs?page&limit&model&stage.
func (h *Handler) Logs(w http.ResponseWriter, r *http.Request) {
	brandID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	query, err := h.logQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	logs, err := h.svc.Data.Logs(r.Context(), currentUser(r), brandID, query)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "ok", logs)
}

func (h *Handler) logQuery(r *http.Request) (services.LogQuery, error) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		return services.LogQuery{}, err
	}
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		return services.LogQuery{}, err
	}

	q := r.URL.Query()
	query := services.LogQuery{
		Page:  page,
		Limit: limit,
		Model: models.AIModel(strings.ToLower(q.Get("model"))),
		Stage: models.FunnelStage(strings.ToUpper(q.Get("stage"))),
	}
	// page and limit are clamped by the service
	if err := h.check(h.validate.StructPartial(query, "Model", "Stage")); err != nil {
		return services.LogQuery{}, err
	}
	return query, nil
}
