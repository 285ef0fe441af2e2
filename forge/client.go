package forge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/petercort/RunWatch-sub000/pagination"
)

// HTTPClient implements Client over the REST API with bearer token
// auth. Server errors are retried with backoff; 4xx responses are
// returned to the caller immediately.
type HTTPClient struct {
	Url    *url.URL
	token  string
	client *http.Client
}

func NewHTTPClient(apiBase, token string) (*HTTPClient, error) {
	u, err := url.Parse(apiBase)
	if err != nil {
		return nil, err
	}

	return &HTTPClient{
		Url:   u,
		token: token,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

var _ Client = &HTTPClient{}

func (c *HTTPClient) newRequest(ctx context.Context, endpoint string, query url.Values) (*http.Request, error) {
	reqUrl := c.Url.JoinPath(endpoint)

	if query != nil {
		reqUrl.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqUrl.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

type apiError struct {
	StatusCode int
	Body       string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Body)
}

func do[T any](ctx context.Context, c *HTTPClient, endpoint string, query url.Values) (*T, error) {
	var result *T

	err := retry.Do(func() error {
		req, err := c.newRequest(ctx, endpoint, query)
		if err != nil {
			return retry.Unrecoverable(err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		if resp.StatusCode >= 500 {
			return &apiError{StatusCode: resp.StatusCode, Body: string(body)}
		}
		if resp.StatusCode >= 400 {
			return retry.Unrecoverable(&apiError{StatusCode: resp.StatusCode, Body: string(body)})
		}

		var decoded T
		if err := json.Unmarshal(body, &decoded); err != nil {
			return retry.Unrecoverable(fmt.Errorf("decoding %s: %w", endpoint, err))
		}
		result = &decoded
		return nil
	},
		retry.Attempts(4),
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(time.Second),
		retry.Context(ctx),
	)
	if err != nil {
		return nil, err
	}

	return result, nil
}

func pageQuery(page pagination.Page) url.Values {
	q := url.Values{}
	q.Set("per_page", strconv.Itoa(page.Limit))
	q.Set("page", strconv.Itoa(page.Number()))
	return q
}

func (c *HTTPClient) Organization(ctx context.Context, login string) (*Organization, error) {
	return do[Organization](ctx, c, fmt.Sprintf("/orgs/%s", login), nil)
}

func (c *HTTPClient) ListRepositories(ctx context.Context, org string, page pagination.Page) ([]Repository, error) {
	repos, err := do[[]Repository](ctx, c, fmt.Sprintf("/orgs/%s/repos", org), pageQuery(page))
	if err != nil {
		return nil, err
	}
	return *repos, nil
}

type workflowList struct {
	TotalCount int64      `json:"total_count"`
	Workflows  []Workflow `json:"workflows"`
}

func (c *HTTPClient) ListWorkflows(ctx context.Context, owner, repo string, page pagination.Page) ([]Workflow, error) {
	list, err := do[workflowList](ctx, c, fmt.Sprintf("/repos/%s/%s/actions/workflows", owner, repo), pageQuery(page))
	if err != nil {
		return nil, err
	}
	return list.Workflows, nil
}

type runList struct {
	TotalCount   int64         `json:"total_count"`
	WorkflowRuns []WorkflowRun `json:"workflow_runs"`
}

func (c *HTTPClient) ListRuns(ctx context.Context, owner, repo string, workflowID int64, page pagination.Page) ([]WorkflowRun, error) {
	endpoint := fmt.Sprintf("/repos/%s/%s/actions/workflows/%d/runs", owner, repo, workflowID)
	list, err := do[runList](ctx, c, endpoint, pageQuery(page))
	if err != nil {
		return nil, err
	}
	return list.WorkflowRuns, nil
}

type jobList struct {
	TotalCount int64         `json:"total_count"`
	Jobs       []WorkflowJob `json:"jobs"`
}

func (c *HTTPClient) ListJobs(ctx context.Context, owner, repo string, runID int64, page pagination.Page) ([]WorkflowJob, error) {
	endpoint := fmt.Sprintf("/repos/%s/%s/actions/runs/%d/jobs", owner, repo, runID)
	list, err := do[jobList](ctx, c, endpoint, pageQuery(page))
	if err != nil {
		return nil, err
	}
	return list.Jobs, nil
}

type rateLimitResponse struct {
	Resources struct {
		Core struct {
			Limit     int   `json:"limit"`
			Remaining int   `json:"remaining"`
			Reset     int64 `json:"reset"`
		} `json:"core"`
	} `json:"resources"`
}

func (c *HTTPClient) RateLimit(ctx context.Context) (*RateLimit, error) {
	resp, err := do[rateLimitResponse](ctx, c, "/rate_limit", nil)
	if err != nil {
		return nil, err
	}

	return &RateLimit{
		Limit:     resp.Resources.Core.Limit,
		Remaining: resp.Resources.Core.Remaining,
		ResetAt:   time.Unix(resp.Resources.Core.Reset, 0),
	}, nil
}
