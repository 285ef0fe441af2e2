package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petercort/RunWatch-sub000/config"
	"github.com/petercort/RunWatch-sub000/db"
	"github.com/petercort/RunWatch-sub000/models"
	"github.com/petercort/RunWatch-sub000/notifier"
	"github.com/petercort/RunWatch-sub000/reconcile"
	"github.com/petercort/RunWatch-sub000/syncer"
)

const testSecret = "s3cret"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	d, err := db.Make(filepath.Join(t.TempDir(), "runwatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	l := slog.New(slog.DiscardHandler)
	n := notifier.New()
	return &Server{
		cfg: &config.Config{
			Server: config.Server{WebhookSecret: testSecret},
		},
		db:      d,
		n:       n,
		rec:     reconcile.New(d, n, l),
		tracker: syncer.NewTracker(d, n, l),
		l:       l,
	}
}

func sign(body string) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func runWebhookBody(id int64, status, conclusion string, updatedAt time.Time) string {
	return fmt.Sprintf(`{
		"action": "completed",
		"workflow_run": {
			"id": %d,
			"run_number": 8,
			"status": %q,
			"conclusion": %q,
			"created_at": %q,
			"updated_at": %q
		},
		"workflow": {"id": 7, "name": "ci", "path": ".github/workflows/ci.yml"},
		"repository": {"id": 1, "full_name": "acme/widgets", "owner": {"login": "acme"}}
	}`, id, status, conclusion,
		updatedAt.Add(-time.Minute).Format(time.RFC3339),
		updatedAt.Format(time.RFC3339))
}

func postWebhook(t *testing.T, router http.Handler, event, body, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(body))
	req.Header.Set("X-GitHub-Event", event)
	req.Header.Set("X-GitHub-Delivery", "test-delivery")
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestWebhookWorkflowRun(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	now := time.Now().UTC().Truncate(time.Second)
	body := runWebhookBody(123, "completed", "success", now)
	rec := postWebhook(t, router, "workflow_run", body, sign(body))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	run, err := s.db.GetRun(123)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, run.Status)
	assert.Equal(t, models.ConclusionSuccess, run.Conclusion)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	body := runWebhookBody(123, "completed", "success", time.Now())
	rec := postWebhook(t, router, "workflow_run", body, "sha256=deadbeef")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = postWebhook(t, router, "workflow_run", body, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	_, err := s.db.GetRun(123)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestWebhookDevModeSkipsSignature(t *testing.T) {
	s := newTestServer(t)
	s.cfg.Server.Dev = true
	router := s.Router()

	body := runWebhookBody(123, "completed", "success", time.Now().UTC())
	rec := postWebhook(t, router, "workflow_run", body, "sha256=deadbeef")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	_, err := s.db.GetRun(123)
	require.NoError(t, err)
}

func TestWebhookStaleDeliveryIgnored(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	now := time.Now().UTC().Truncate(time.Second)
	body := runWebhookBody(123, "completed", "success", now)
	rec := postWebhook(t, router, "workflow_run", body, sign(body))
	require.Equal(t, http.StatusNoContent, rec.Code)

	// an older delivery for the same run is accepted but changes nothing
	stale := runWebhookBody(123, "in_progress", "", now.Add(-time.Hour))
	rec = postWebhook(t, router, "workflow_run", stale, sign(stale))
	require.Equal(t, http.StatusNoContent, rec.Code)

	run, err := s.db.GetRun(123)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, run.Status)
}

func TestWebhookWorkflowJobBeforeRun(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	body := `{
		"action": "in_progress",
		"workflow_job": {
			"id": 55,
			"run_id": 777,
			"name": "build",
			"status": "in_progress",
			"workflow_name": "ci"
		},
		"repository": {"id": 1, "full_name": "acme/widgets", "owner": {"login": "acme"}}
	}`
	rec := postWebhook(t, router, "workflow_job", body, sign(body))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	run, err := s.db.GetRun(777)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, run.Status)
	require.Len(t, run.Jobs, 1)
	assert.Equal(t, "build", run.Jobs[0].Name)
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	body := `{"action": "created"}`
	rec := postWebhook(t, router, "issues", body, sign(body))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestWebhookRejectsMalformedPayload(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	body := `{"action": "completed"}`
	rec := postWebhook(t, router, "workflow_run", body, sign(body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func seedRuns(t *testing.T, s *Server) {
	t.Helper()
	base := time.Now().UTC().Truncate(time.Second)
	runs := []*models.Run{
		{
			ID: 1, Number: 1,
			Repository: models.Repository{FullName: "acme/widgets", Owner: "acme"},
			Workflow:   models.WorkflowRef{Name: "ci"},
			Status:     models.StatusCompleted, Conclusion: models.ConclusionSuccess,
			CreatedAt: base.Add(-2 * time.Hour), UpdatedAt: base.Add(-2 * time.Hour),
			Jobs: []models.Job{{ID: 9, Name: "build"}},
		},
		{
			ID: 2, Number: 2,
			Repository: models.Repository{FullName: "acme/widgets", Owner: "acme"},
			Workflow:   models.WorkflowRef{Name: "deploy"},
			Status:     models.StatusInProgress,
			CreatedAt:  base.Add(-time.Hour), UpdatedAt: base.Add(-time.Hour),
		},
		{
			ID: 3, Number: 3,
			Repository: models.Repository{FullName: "acme/gadgets", Owner: "acme"},
			Workflow:   models.WorkflowRef{Name: "ci"},
			Status:     models.StatusCompleted, Conclusion: models.ConclusionFailure,
			CreatedAt: base, UpdatedAt: base,
		},
	}
	for _, run := range runs {
		require.NoError(t, s.db.PutRun(run))
	}
}

func getJSON(t *testing.T, router http.Handler, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if out != nil && rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec
}

func TestListRunsEndpoint(t *testing.T) {
	s := newTestServer(t)
	seedRuns(t, s)
	router := s.Router()

	var page runPage
	rec := getJSON(t, router, "/api/runs", &page)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, page.Total)
	require.Len(t, page.Runs, 3)
	assert.EqualValues(t, 3, page.Runs[0].ID, "newest first")
	assert.Equal(t, 1, page.Runs[2].JobCount)

	rec = getJSON(t, router, "/api/runs?status=in_progress", &page)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, page.Total)

	rec = getJSON(t, router, "/api/runs?search=gadg", &page)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, page.Runs, 1)
	assert.Equal(t, "acme/gadgets", page.Runs[0].Repository.FullName)

	rec = getJSON(t, router, "/api/runs?per_page=2&page=2", &page)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Runs, 1)
}

func TestRepositoryRunsEndpoint(t *testing.T) {
	s := newTestServer(t)
	seedRuns(t, s)
	router := s.Router()

	var page runPage
	rec := getJSON(t, router, "/api/repositories/acme/widgets/runs", &page)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, page.Total)

	rec = getJSON(t, router, "/api/repositories/acme/widgets/runs?workflow=deploy", &page)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, page.Runs, 1)
	assert.Equal(t, "deploy", page.Runs[0].Workflow.Name)
}

func TestGetRunEndpoint(t *testing.T) {
	s := newTestServer(t)
	seedRuns(t, s)
	router := s.Router()

	var run models.Run
	rec := getJSON(t, router, "/api/runs/1", &run)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, run.ID)
	require.Len(t, run.Jobs, 1, "the detail view carries full job documents")

	rec = getJSON(t, router, "/api/runs/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = getJSON(t, router, "/api/runs/notanumber", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsEndpoint(t *testing.T) {
	s := newTestServer(t)
	seedRuns(t, s)
	router := s.Router()

	var stats db.WorkflowStats
	rec := getJSON(t, router, "/api/stats", &stats)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, stats.TotalRuns)
	assert.EqualValues(t, 1, stats.SuccessfulRuns)
	assert.EqualValues(t, 1, stats.FailedRuns)
	assert.EqualValues(t, 1, stats.InProgressRuns)
}

func TestActiveSyncEndpoint(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	rec := getJSON(t, router, "/api/sync/active", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	session, err := s.tracker.Start(models.Organization{Name: "acme"}, models.SyncConfig{})
	require.NoError(t, err)

	var got models.SyncSession
	rec = getJSON(t, router, "/api/sync/active", &got)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, session.ID, got.ID)
	assert.Equal(t, models.SessionInProgress, got.Status)
}

func TestActiveSyncReportsInterrupted(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	// a session last touched an hour ago reads as interrupted, but
	// the stored record is untouched
	stale := &models.SyncSession{
		ID:           "stale",
		Organization: models.Organization{Name: "acme"},
		Status:       models.SessionInProgress,
		StartedAt:    time.Now().UTC().Add(-2 * time.Hour),
		UpdatedAt:    time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, s.db.PutSession(stale))

	var got models.SyncSession
	rec := getJSON(t, router, "/api/sync/active", &got)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.SessionInterrupted, got.Status)

	stored, err := s.db.GetSession("stale")
	require.NoError(t, err)
	assert.Equal(t, models.SessionInProgress, stored.Status)
}

func TestSyncHistoryEndpoint(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	base := time.Now().UTC()
	for i, status := range []models.SessionStatus{models.SessionCompleted, models.SessionFailed} {
		require.NoError(t, s.db.PutSession(&models.SyncSession{
			ID:           fmt.Sprintf("s%d", i),
			Organization: models.Organization{Name: "acme"},
			Status:       status,
			StartedAt:    base.Add(time.Duration(i) * time.Minute),
			UpdatedAt:    base,
		}))
	}

	var sessions []models.SyncSession
	rec := getJSON(t, router, "/api/sync/history", &sessions)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, sessions, 2)
	assert.Equal(t, "s1", sessions[0].ID, "most recent first")
}

func TestTriggerSyncRequiresOrganization(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	req := httptest.NewRequest(http.MethodPost, "/api/sync/", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
