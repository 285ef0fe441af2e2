// Package forge talks to the source-control automation API that owns
// the CI history being mirrored. The wire shapes follow the GitHub
// Actions REST API.
package forge

import (
	"context"
	"time"

	"github.com/petercort/RunWatch-sub000/pagination"
)

type Organization struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Type  string `json:"type"`
}

type Repository struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	Owner    Owner  `json:"owner"`
}

type Owner struct {
	Login string `json:"login"`
}

type Workflow struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Path  string `json:"path"`
	State string `json:"state"`
}

type WorkflowRun struct {
	ID         int64     `json:"id"`
	RunNumber  int64     `json:"run_number"`
	Status     string    `json:"status"`
	Conclusion string    `json:"conclusion"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	HTMLURL    string    `json:"html_url"`
}

type WorkflowJob struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	Conclusion  string     `json:"conclusion"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	Steps       []JobStep  `json:"steps"`
}

type JobStep struct {
	Number      int        `json:"number"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	Conclusion  string     `json:"conclusion"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

type RateLimit struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Client is the read surface of the automation API. Listings are
// paginated; a short page means exhaustion.
type Client interface {
	Organization(ctx context.Context, login string) (*Organization, error)
	ListRepositories(ctx context.Context, org string, page pagination.Page) ([]Repository, error)
	ListWorkflows(ctx context.Context, owner, repo string, page pagination.Page) ([]Workflow, error)
	ListRuns(ctx context.Context, owner, repo string, workflowID int64, page pagination.Page) ([]WorkflowRun, error)
	ListJobs(ctx context.Context, owner, repo string, runID int64, page pagination.Page) ([]WorkflowJob, error)
	RateLimit(ctx context.Context) (*RateLimit, error)
}
