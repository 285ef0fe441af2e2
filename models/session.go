package models

import (
	"time"

	"github.com/dustin/go-humanize"
)

type SessionStatus string

const (
	SessionInProgress  SessionStatus = "in_progress"
	SessionPaused      SessionStatus = "paused"
	SessionCompleted   SessionStatus = "completed"
	SessionFailed      SessionStatus = "failed"
	SessionInterrupted SessionStatus = "interrupted"
)

type Organization struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type SyncConfig struct {
	MaxRunsPerWorkflow int `json:"max_runs_per_workflow"`
}

type SyncProgress struct {
	RepoIndex       int     `json:"repo_index"`
	RepoTotal       int     `json:"repo_total"`
	WorkflowIndex   int     `json:"workflow_index"`
	WorkflowTotal   int     `json:"workflow_total"`
	CurrentRepo     string  `json:"current_repo"`
	CurrentWorkflow string  `json:"current_workflow"`
	Repositories    int     `json:"repositories"`
	Workflows       int     `json:"workflows"`
	Runs            int     `json:"runs"`
	Percent         float64 `json:"percent"`
}

type RateLimitSnapshot struct {
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	ResetAt   time.Time `json:"reset_at"`
}

type SyncErrorCategory string

const (
	SyncErrorRepository SyncErrorCategory = "repository"
	SyncErrorWorkflow   SyncErrorCategory = "workflow"
	SyncErrorRun        SyncErrorCategory = "run"
)

type SyncError struct {
	Category   SyncErrorCategory `json:"category"`
	Identifier string            `json:"identifier"`
	Message    string            `json:"message"`
}

type PauseInfo struct {
	PausedAt time.Time `json:"paused_at"`
	ResumeAt time.Time `json:"resume_at"`
}

// SyncSession is the persisted record of one crawl: configuration,
// live progress, rate-limit state and accumulated errors.
type SyncSession struct {
	ID           string             `json:"id"`
	Organization Organization       `json:"organization"`
	Status       SessionStatus      `json:"status"`
	Config       SyncConfig         `json:"config"`
	Progress     SyncProgress       `json:"progress"`
	RateLimit    *RateLimitSnapshot `json:"rate_limit,omitempty"`
	Errors       []SyncError        `json:"errors"`
	Pause        *PauseInfo         `json:"pause,omitempty"`
	StartedAt    time.Time          `json:"started_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	FinishedAt   *time.Time         `json:"finished_at,omitempty"`
}

// sessions that stop heartbeating are reinterpreted on read, never
// rewritten in place
const sessionStaleAfter = 30 * time.Minute

// ReadStatus reinterprets a session's stored status for readers: a
// session still marked in_progress whose record has not moved for a
// while belongs to a dead process and reads as interrupted.
func (s *SyncSession) ReadStatus(now time.Time) SessionStatus {
	if s.Status == SessionInProgress && now.Sub(s.UpdatedAt) > sessionStaleAfter {
		return SessionInterrupted
	}
	return s.Status
}

func (s *SyncSession) Active() bool {
	return s.Status == SessionInProgress || s.Status == SessionPaused
}

// ResumeIn renders the scheduled resume time of a paused session in
// human terms, e.g. "23 minutes from now".
func (s *SyncSession) ResumeIn() string {
	if s.Pause == nil {
		return ""
	}
	return humanize.Time(s.Pause.ResumeAt)
}
