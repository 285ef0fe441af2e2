package models

import (
	"time"
)

type RunStatus string

const (
	StatusPending    RunStatus = "pending"
	StatusRequested  RunStatus = "requested"
	StatusQueued     RunStatus = "queued"
	StatusWaiting    RunStatus = "waiting"
	StatusInProgress RunStatus = "in_progress"
	StatusCompleted  RunStatus = "completed"
)

type Conclusion string

const (
	ConclusionNone           Conclusion = ""
	ConclusionSuccess        Conclusion = "success"
	ConclusionFailure        Conclusion = "failure"
	ConclusionCancelled      Conclusion = "cancelled"
	ConclusionSkipped        Conclusion = "skipped"
	ConclusionTimedOut       Conclusion = "timed_out"
	ConclusionActionRequired Conclusion = "action_required"
	ConclusionNeutral        Conclusion = "neutral"
	ConclusionStale          Conclusion = "stale"
)

type Repository struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
	Owner    string `json:"owner"`
}

type WorkflowRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// Run is one execution of a workflow definition. UpdatedAt is the
// monotonic driver for update acceptance: the stored value never
// regresses for a given run id.
type Run struct {
	ID         int64       `json:"id"`
	Number     int64       `json:"number"`
	Repository Repository  `json:"repository"`
	Workflow   WorkflowRef `json:"workflow"`
	Status     RunStatus   `json:"status"`
	Conclusion Conclusion  `json:"conclusion"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
	URL        string      `json:"url"`
	Jobs       []Job       `json:"jobs"`
}

type Job struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Status      RunStatus  `json:"status"`
	Conclusion  Conclusion `json:"conclusion"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	Steps       []Step     `json:"steps"`
}

type Step struct {
	Number      int        `json:"number"`
	Name        string     `json:"name"`
	Status      RunStatus  `json:"status"`
	Conclusion  Conclusion `json:"conclusion"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// MergeJob replaces the job with the same id in place, or appends it
// if the run has not seen this job before.
func (r *Run) MergeJob(job Job) {
	for i := range r.Jobs {
		if r.Jobs[i].ID == job.ID {
			r.Jobs[i] = job
			return
		}
	}
	r.Jobs = append(r.Jobs, job)
}

func (r *Run) Job(id int64) *Job {
	for i := range r.Jobs {
		if r.Jobs[i].ID == id {
			return &r.Jobs[i]
		}
	}
	return nil
}

// DeriveEffectiveStatus recomputes run-level status and conclusion
// from job-level state. The raw run status reported upstream can lag
// behind its jobs: when every job has completed the run is completed
// with failure if any job failed, success otherwise; when any job is
// still in progress the run is in progress. ok is false when the
// jobs give no signal and the reported run status should stand.
func DeriveEffectiveStatus(jobs []Job) (RunStatus, Conclusion, bool) {
	if len(jobs) == 0 {
		return "", ConclusionNone, false
	}

	allCompleted := true
	anyRunning := false
	anyFailed := false
	for _, j := range jobs {
		if j.Status != StatusCompleted {
			allCompleted = false
		}
		if j.Status == StatusInProgress {
			anyRunning = true
		}
		if j.Conclusion == ConclusionFailure {
			anyFailed = true
		}
	}

	if allCompleted {
		if anyFailed {
			return StatusCompleted, ConclusionFailure, true
		}
		return StatusCompleted, ConclusionSuccess, true
	}
	if anyRunning {
		return StatusInProgress, ConclusionNone, true
	}
	return "", ConclusionNone, false
}
