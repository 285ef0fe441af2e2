package forge

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petercort/RunWatch-sub000/pagination"
)

func newClient(t *testing.T, handler http.Handler) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewHTTPClient(srv.URL, "test-token")
	require.NoError(t, err)
	return c
}

func TestListRepositoriesSendsAuthAndPagination(t *testing.T) {
	var gotAuth, gotAccept, gotPage, gotPerPage string
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		gotPage = r.URL.Query().Get("page")
		gotPerPage = r.URL.Query().Get("per_page")
		fmt.Fprint(w, `[{"id": 1, "name": "widgets", "full_name": "acme/widgets", "owner": {"login": "acme"}}]`)
	}))

	repos, err := c.ListRepositories(context.Background(), "acme", pagination.Page{Offset: 100, Limit: 50})
	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.Equal(t, "acme/widgets", repos[0].FullName)

	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "application/vnd.github+json", gotAccept)
	assert.Equal(t, "50", gotPerPage)
	assert.Equal(t, "3", gotPage, "offset 100 at limit 50 is page 3")
}

func TestListWorkflowsUnwrapsEnvelope(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/widgets/actions/workflows", r.URL.Path)
		fmt.Fprint(w, `{"total_count": 1, "workflows": [{"id": 7, "name": "ci", "path": ".github/workflows/ci.yml", "state": "active"}]}`)
	}))

	workflows, err := c.ListWorkflows(context.Background(), "acme", "widgets", pagination.FirstPage())
	require.NoError(t, err)
	require.Len(t, workflows, 1)
	assert.Equal(t, "ci", workflows[0].Name)
}

func TestListRunsUnwrapsEnvelope(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/widgets/actions/workflows/7/runs", r.URL.Path)
		fmt.Fprint(w, `{"total_count": 1, "workflow_runs": [{"id": 101, "run_number": 8, "status": "completed", "conclusion": "success"}]}`)
	}))

	runs, err := c.ListRuns(context.Background(), "acme", "widgets", 7, pagination.FirstPage())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.EqualValues(t, 101, runs[0].ID)
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"id": 10, "login": "acme", "type": "Organization"}`)
	}))

	org, err := c.Organization(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", org.Login)
	assert.EqualValues(t, 3, calls.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message": "Not Found"}`)
	}))

	_, err := c.Organization(context.Background(), "ghost")
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestRateLimitParsesCoreResource(t *testing.T) {
	reset := time.Now().Add(time.Hour).Unix()
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rate_limit", r.URL.Path)
		fmt.Fprintf(w, `{"resources": {"core": {"limit": 5000, "remaining": 4321, "reset": %d}}}`, reset)
	}))

	rl, err := c.RateLimit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5000, rl.Limit)
	assert.Equal(t, 4321, rl.Remaining)
	assert.Equal(t, reset, rl.ResetAt.Unix())
}
