package handlers

import (
	"net/http"

	"github.com/greenshelf/strainscan/internal/dedupe"
	"github.com/greenshelf/strainscan/internal/models"
)

type duplicatesResponse struct {
	Operator  string                  `json:"operator,omitempty"`
	Scanned   int                     `json:"scanned"`
	Threshold int                     `json:"threshold"`
	Groups    []models.DuplicateGroup `json:"groups"`
}

// HandleDuplicates groups near-identical records in an operator's catalog
func (h *Handler) HandleDuplicates(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		h.writeError(w, "Catalog not configured", http.StatusServiceUnavailable)
		return
	}
	operator := r.URL.Query().Get("operator")
	records, err := h.catalog.List(r.Context(), operator)
	if err != nil {
		h.writeError(w, "Failed to list catalog: "+err.Error(), http.StatusInternalServerError)
		return
	}
	groups := dedupe.FindGroups(records, h.weights)
	if groups == nil {
		groups = []models.DuplicateGroup{}
	}
	h.writeJSON(w, duplicatesResponse{
		Operator:  operator,
		Scanned:   len(records),
		Threshold: h.weights.Threshold,
		Groups:    groups,
	})
}
