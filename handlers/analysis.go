package handlers

import (
	"net/http"

	"github.com/brandviz/brandviz/services"
)

// StartAnalysis handles POST /api/brand/{id}/analysis. An empty body runs
// every configured model across every funnel stage.
func (h *Handler) StartAnalysis(w http.ResponseWriter, r *http.Request) {
	brandID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req services.AnalysisRequest
	if err := h.decode(w, r, &req, true); err != nil {
		writeError(w, r, err)
		return
	}

	view, err := h.svc.Analysis.StartAnalysis(r.Context(), currentUser(r), brandID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusAccepted, "analysis started", view)
}

func (h *Handler) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	brandID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		writeError(w, r, err)
		return
	}

	views, err := h.svc.Analysis.ListAnalyses(r.Context(), currentUser(r), brandID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "ok", views)
}

func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	brandID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	analysisID, err := pathUUID(r, "analysisId")
	if err != nil {
		writeError(w, r, err)
		return
	}

	view, err := h.svc.Analysis.GetAnalysis(r.Context(), currentUser(r), brandID, analysisID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "ok", view)
}

func (h *Handler) CancelAnalysis(w http.ResponseWriter, r *http.Request) {
	brandID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	analysisID, err := pathUUID(r, "analysisId")
	if err != nil {
		writeError(w, r, err)
		return
	}

	view, err := h.svc.Analysis.CancelAnalysis(r.Context(), currentUser(r), brandID, analysisID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "analysis cancelled", view)
}
