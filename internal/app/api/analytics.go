package api

import "net/http"

func (h *Handler) handleDailyStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Analytics.Daily(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleStatsRange(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rows, err := h.Analytics.Range(r.Context(), q.Get("from"), q.Get("to"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rows)
}
