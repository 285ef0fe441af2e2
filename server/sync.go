package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/petercort/RunWatch-sub000/db"
	"github.com/petercort/RunWatch-sub000/models"
)

type triggerSyncRequest struct {
	Organization    string `json:"organization"`
	MaxWorkflowRuns int    `json:"maxWorkflowRuns"`
}

// TriggerSync starts a crawl and blocks until it finishes; progress
// is observable over /events while the call is outstanding. Only one
// crawl runs at a time.
func (s *Server) TriggerSync(w http.ResponseWriter, r *http.Request) {
	var req triggerSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Organization == "" {
		req.Organization = s.cfg.Sync.Organization
	}
	if req.Organization == "" {
		writeError(w, http.StatusBadRequest, "no organization given")
		return
	}

	if !s.syncMu.TryLock() {
		writeError(w, http.StatusConflict, "a sync is already running")
		return
	}
	defer s.syncMu.Unlock()

	result, err := s.engine.Run(r.Context(), req.Organization, models.SyncConfig{
		MaxRunsPerWorkflow: req.MaxWorkflowRuns,
	})
	if err != nil {
		s.l.Error("sync failed", "org", req.Organization, "err", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) ActiveSync(w http.ResponseWriter, r *http.Request) {
	session, err := s.tracker.LatestActive()
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no active sync")
		return
	}
	if err != nil {
		s.l.Error("failed to read active sync", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to read active sync")
		return
	}

	// reinterpret, never rewrite: a session abandoned by a dead
	// process reads as interrupted
	session.Status = session.ReadStatus(time.Now())
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) SyncHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 && n <= 100 {
		limit = n
	}

	sessions, err := s.tracker.History(limit)
	if err != nil {
		s.l.Error("failed to read sync history", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to read sync history")
		return
	}

	now := time.Now()
	for i := range sessions {
		sessions[i].Status = sessions[i].ReadStatus(now)
	}
	writeJSON(w, http.StatusOK, sessions)
}
