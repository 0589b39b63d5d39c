package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"subscription-lifecycle/internal/domain"
	"subscription-lifecycle/internal/domain/model"
	"subscription-lifecycle/internal/usecase"

	"github.com/rs/zerolog"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statsHandler serves subscription counts by status and the open discrepancy count.
func statsHandler(statsUC usecase.StatsUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := statsUC.Snapshot(r.Context())
		if err != nil {
			http.Error(w, "Failed to get stats", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// discrepanciesListHandler returns open discrepancies, oldest first.
// It accepts a 'limit' query parameter.
func discrepanciesListHandler(reconcileUC usecase.ReconcileUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 || limit > 500 {
			limit = 100
		}

		items, err := reconcileUC.ListOpen(r.Context(), limit)
		if err != nil {
			http.Error(w, "Failed to list discrepancies", http.StatusInternalServerError)
			return
		}
		if items == nil {
			items = []*model.Discrepancy{}
		}

		response := struct {
			Data  []*model.Discrepancy `json:"data"`
			Limit int                  `json:"limit"`
		}{
			Data:  items,
			Limit: limit,
		}
		writeJSON(w, http.StatusOK, response)
	}
}

type resolveRequest struct {
	Note string `json:"note"`
}

func discrepancyResolveHandler(reconcileUC usecase.ReconcileUseCase, log *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if id == "" {
			http.Error(w, "Discrepancy ID is required", http.StatusBadRequest)
			return
		}

		var req resolveRequest
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "Invalid request body", http.StatusBadRequest)
				return
			}
		}

		if err := reconcileUC.Resolve(r.Context(), id, req.Note); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				http.NotFound(w, r)
				return
			}
			log.Error().Err(err).Str("discrepancy_id", id).Msg("manual resolve failed")
			http.Error(w, "Failed to resolve discrepancy", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// reconcileHandler runs one reconciliation pass on demand.
func reconcileHandler(reconcileUC usecase.ReconcileUseCase, batch int, log *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, err := reconcileUC.ReconcileOpen(r.Context(), batch)
		if err != nil {
			log.Error().Err(err).Msg("manual reconcile failed")
			http.Error(w, "Failed to reconcile", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	}
}
