package reconcile

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/petercort/RunWatch-sub000/forge"
	"github.com/petercort/RunWatch-sub000/models"
)

// RunEvent and JobEvent are the canonical payloads the reconciler
// consumes. Crawl-derived and push-derived shapes are both mapped
// into them here, so the write path never inspects provider JSON.

type RunEvent struct {
	Repository models.Repository  `json:"repository"`
	Workflow   models.WorkflowRef `json:"workflow"`
	RunID      int64              `json:"run_id"`
	Number     int64              `json:"number"`
	Status     models.RunStatus   `json:"status"`
	Conclusion models.Conclusion  `json:"conclusion"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
	URL        string             `json:"url"`
}

type JobEvent struct {
	Repository   models.Repository `json:"repository"`
	WorkflowName string            `json:"workflow_name"`
	RunID        int64             `json:"run_id"`
	Job          models.Job        `json:"job"`
}

func (ev RunEvent) newRun() *models.Run {
	status := ev.Status
	if status == "" {
		status = models.StatusPending
	}
	return &models.Run{
		ID:         ev.RunID,
		Number:     ev.Number,
		Repository: ev.Repository,
		Workflow:   ev.Workflow,
		Status:     status,
		Conclusion: ev.Conclusion,
		CreatedAt:  ev.CreatedAt,
		UpdatedAt:  ev.UpdatedAt,
		URL:        ev.URL,
	}
}

// newRun builds a run skeleton from job-derived fields, for the case
// where a job event arrives before its run has ever been seen.
func (ev JobEvent) newRun() *models.Run {
	now := time.Now().UTC()
	created := now
	if ev.Job.StartedAt != nil {
		created = *ev.Job.StartedAt
	}
	return &models.Run{
		ID:         ev.RunID,
		Repository: ev.Repository,
		Workflow:   models.WorkflowRef{Name: ev.WorkflowName},
		Status:     models.StatusPending,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

func StatusFromString(s string) models.RunStatus {
	switch models.RunStatus(s) {
	case models.StatusPending, models.StatusRequested, models.StatusQueued,
		models.StatusWaiting, models.StatusInProgress, models.StatusCompleted:
		return models.RunStatus(s)
	default:
		return models.StatusPending
	}
}

func repositoryFromForge(repo forge.Repository) models.Repository {
	return models.Repository{
		ID:       repo.ID,
		FullName: repo.FullName,
		Owner:    repo.Owner.Login,
	}
}

func jobFromForge(job forge.WorkflowJob) models.Job {
	out := models.Job{
		ID:          job.ID,
		Name:        job.Name,
		Status:      StatusFromString(job.Status),
		Conclusion:  models.Conclusion(job.Conclusion),
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}
	for _, s := range job.Steps {
		out.Steps = append(out.Steps, models.Step{
			Number:      s.Number,
			Name:        s.Name,
			Status:      StatusFromString(s.Status),
			Conclusion:  models.Conclusion(s.Conclusion),
			StartedAt:   s.StartedAt,
			CompletedAt: s.CompletedAt,
		})
	}
	return out
}

// NormalizeCrawlRun maps one crawled run into the canonical run
// payload. Effective-status overrides are the crawler's business and
// are applied by the caller on the returned event.
func NormalizeCrawlRun(repo forge.Repository, wf forge.Workflow, run forge.WorkflowRun) RunEvent {
	return RunEvent{
		Repository: repositoryFromForge(repo),
		Workflow: models.WorkflowRef{
			ID:   wf.ID,
			Name: wf.Name,
			Path: wf.Path,
		},
		RunID:      run.ID,
		Number:     run.RunNumber,
		Status:     StatusFromString(run.Status),
		Conclusion: models.Conclusion(run.Conclusion),
		CreatedAt:  run.CreatedAt,
		UpdatedAt:  run.UpdatedAt,
		URL:        run.HTMLURL,
	}
}

func NormalizeCrawlJob(repo forge.Repository, wf forge.Workflow, runID int64, job forge.WorkflowJob) JobEvent {
	return JobEvent{
		Repository:   repositoryFromForge(repo),
		WorkflowName: wf.Name,
		RunID:        runID,
		Job:          jobFromForge(job),
	}
}

// provider webhook shapes

type runWebhookPayload struct {
	Action      string            `json:"action"`
	WorkflowRun forge.WorkflowRun `json:"workflow_run"`
	Workflow    forge.Workflow    `json:"workflow"`
	Repository  forge.Repository  `json:"repository"`
}

type jobWebhookPayload struct {
	Action      string           `json:"action"`
	WorkflowJob workflowJobEvent `json:"workflow_job"`
	Repository  forge.Repository `json:"repository"`
}

type workflowJobEvent struct {
	forge.WorkflowJob
	RunID        int64  `json:"run_id"`
	WorkflowName string `json:"workflow_name"`
}

// NormalizeRunWebhook decodes a workflow_run push event into the
// canonical run payload.
func NormalizeRunWebhook(raw []byte) (RunEvent, error) {
	var payload runWebhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return RunEvent{}, fmt.Errorf("decoding workflow_run event: %w", err)
	}
	if payload.WorkflowRun.ID == 0 {
		return RunEvent{}, fmt.Errorf("workflow_run event without a run id")
	}
	return NormalizeCrawlRun(payload.Repository, payload.Workflow, payload.WorkflowRun), nil
}

// NormalizeJobWebhook decodes a workflow_job push event into the
// canonical job payload.
func NormalizeJobWebhook(raw []byte) (JobEvent, error) {
	var payload jobWebhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return JobEvent{}, fmt.Errorf("decoding workflow_job event: %w", err)
	}
	if payload.WorkflowJob.RunID == 0 {
		return JobEvent{}, fmt.Errorf("workflow_job event without a run id")
	}
	return JobEvent{
		Repository:   repositoryFromForge(payload.Repository),
		WorkflowName: payload.WorkflowJob.WorkflowName,
		RunID:        payload.WorkflowJob.RunID,
		Job:          jobFromForge(payload.WorkflowJob.WorkflowJob),
	}, nil
}
