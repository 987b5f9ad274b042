package api

import (
	"net/http"
	"sort"

	"github.com/todo-1m/tms/internal/app/insights"
)

type summaryResponse struct {
	Date    string `json:"date"`
	Summary string `json:"summary"`
}

func (h *Handler) handleAISummary(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Analytics.Daily(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	u, _ := PrincipalFrom(r.Context())
	h.writeJSON(w, http.StatusOK, summaryResponse{
		Date:    stats.Date,
		Summary: h.Insights.Summarize(r.Context(), u, stats),
	})
}

// handleOverdueRisks scores every open task of the caller, highest risk first.
func (h *Handler) handleOverdueRisks(w http.ResponseWriter, r *http.Request) {
	u, _ := PrincipalFrom(r.Context())
	open, err := h.Tasks.ListOpen(r.Context(), u.ID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	risks := make([]insights.Risk, 0, len(open))
	for _, t := range open {
		risks = append(risks, h.Insights.OverdueRisk(r.Context(), u, t))
	}
	sort.SliceStable(risks, func(i, j int) bool { return risks[i].RiskScore > risks[j].RiskScore })
	h.writeJSON(w, http.StatusOK, risks)
}

func (h *Handler) handleOverdueRisk(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "taskID")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	u, _ := PrincipalFrom(r.Context())
	task, err := h.Tasks.Get(r.Context(), u.ID, id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.Insights.OverdueRisk(r.Context(), u, task))
}

// handleRecommendation re-ranks the caller's open tasks due tomorrow.
func (h *Handler) handleRecommendation(w http.ResponseWriter, r *http.Request) {
	u, _ := PrincipalFrom(r.Context())
	due, err := h.Tasks.DueOn(r.Context(), u.ID, h.Now().AddDate(0, 0, 1), h.Location)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.Insights.Rerank(r.Context(), u, due))
}

func (h *Handler) handlePatterns(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", 30)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	history, err := h.Analytics.Recent(r.Context(), days)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	u, _ := PrincipalFrom(r.Context())
	h.writeJSON(w, http.StatusOK, h.Insights.Patterns(r.Context(), u, history))
}
