package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/petercort/RunWatch-sub000/db"
	"github.com/petercort/RunWatch-sub000/models"
	"github.com/petercort/RunWatch-sub000/pagination"
)

type runSummary struct {
	ID         int64              `json:"id"`
	Number     int64              `json:"number"`
	Repository models.Repository  `json:"repository"`
	Workflow   models.WorkflowRef `json:"workflow"`
	Status     models.RunStatus   `json:"status"`
	Conclusion models.Conclusion  `json:"conclusion"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
	URL        string             `json:"url"`
	JobCount   int                `json:"job_count"`
}

func summarize(run models.Run) runSummary {
	return runSummary{
		ID:         run.ID,
		Number:     run.Number,
		Repository: run.Repository,
		Workflow:   run.Workflow,
		Status:     run.Status,
		Conclusion: run.Conclusion,
		CreatedAt:  run.CreatedAt,
		UpdatedAt:  run.UpdatedAt,
		URL:        run.URL,
		JobCount:   len(run.Jobs),
	}
}

type runPage struct {
	Runs       []runSummary `json:"runs"`
	Total      int64        `json:"total"`
	Page       int          `json:"page"`
	PageSize   int          `json:"page_size"`
	TotalPages int          `json:"total_pages"`
}

func pageFromRequest(r *http.Request) pagination.Page {
	page := pagination.FirstPage()
	if n, err := strconv.Atoi(r.URL.Query().Get("per_page")); err == nil && n > 0 && n <= 100 {
		page.Limit = n
	}
	if n, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && n > 1 {
		page.Offset = (n - 1) * page.Limit
	}
	return page
}

func (s *Server) listRuns(w http.ResponseWriter, q db.RunQuery) {
	runs, total, err := s.db.GetRuns(q)
	if err != nil {
		s.l.Error("failed to list runs", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	summaries := make([]runSummary, 0, len(runs))
	for _, run := range runs {
		summaries = append(summaries, summarize(run))
	}

	writeJSON(w, http.StatusOK, runPage{
		Runs:       summaries,
		Total:      total,
		Page:       q.Page.Number(),
		PageSize:   q.Page.Limit,
		TotalPages: pagination.TotalPages(total, q.Page.Limit),
	})
}

func (s *Server) ListRuns(w http.ResponseWriter, r *http.Request) {
	s.listRuns(w, db.RunQuery{
		Search: r.URL.Query().Get("search"),
		Status: r.URL.Query().Get("status"),
		Page:   pageFromRequest(r),
	})
}

func (s *Server) ListRepositoryRuns(w http.ResponseWriter, r *http.Request) {
	fullName := fmt.Sprintf("%s/%s", chi.URLParam(r, "owner"), chi.URLParam(r, "repo"))
	s.listRuns(w, db.RunQuery{
		Repository: fullName,
		Workflow:   r.URL.Query().Get("workflow"),
		Status:     r.URL.Query().Get("status"),
		Page:       pageFromRequest(r),
	})
}

func (s *Server) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	run, err := s.db.GetRun(id)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.l.Error("failed to get run", "run", id, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	writeJSON(w, http.StatusOK, run)
}

func (s *Server) WorkflowStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.GetWorkflowStats()
	if err != nil {
		s.l.Error("failed to compute stats", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
