package syncer

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/petercort/RunWatch-sub000/db"
	"github.com/petercort/RunWatch-sub000/models"
	"github.com/petercort/RunWatch-sub000/notifier"
)

// Tracker owns SyncSession records: it is the only component that
// writes them, and every write is also published so observers can
// follow a crawl without polling.
type Tracker struct {
	db *db.DB
	n  *notifier.Notifier
	l  *slog.Logger
}

func NewTracker(d *db.DB, n *notifier.Notifier, l *slog.Logger) *Tracker {
	return &Tracker{db: d, n: n, l: l}
}

func (t *Tracker) Start(org models.Organization, cfg models.SyncConfig) (*models.SyncSession, error) {
	now := time.Now().UTC()
	session := &models.SyncSession{
		ID:           uuid.NewString(),
		Organization: org,
		Status:       models.SessionInProgress,
		Config:       cfg,
		StartedAt:    now,
		UpdatedAt:    now,
	}
	if err := t.db.PutSession(session); err != nil {
		return nil, err
	}
	t.l.Info("sync session started", "session", session.ID, "org", org.Name)
	t.n.Publish(notifier.EventSyncStatus, session)
	return session, nil
}

func (t *Tracker) persist(session *models.SyncSession) error {
	session.UpdatedAt = time.Now().UTC()
	return t.db.PutSession(session)
}

// UpdateProgress writes a new progress snapshot. The reported
// percentage never moves backwards within one session.
func (t *Tracker) UpdateProgress(session *models.SyncSession, progress models.SyncProgress) error {
	if progress.Percent < session.Progress.Percent {
		progress.Percent = session.Progress.Percent
	}
	session.Progress = progress
	if err := t.persist(session); err != nil {
		return err
	}
	t.n.Publish(notifier.EventSyncProgress, session)
	return nil
}

func (t *Tracker) UpdateRateLimit(session *models.SyncSession, snapshot models.RateLimitSnapshot) error {
	session.RateLimit = &snapshot
	if err := t.persist(session); err != nil {
		return err
	}
	t.n.Publish(notifier.EventRateLimitUpdate, session)
	return nil
}

func (t *Tracker) RecordError(session *models.SyncSession, category models.SyncErrorCategory, identifier string, err error) {
	t.l.Error("crawl error", "category", category, "id", identifier, "err", err)
	session.Errors = append(session.Errors, models.SyncError{
		Category:   category,
		Identifier: identifier,
		Message:    err.Error(),
	})
	if perr := t.persist(session); perr != nil {
		t.l.Error("failed to persist session error", "session", session.ID, "err", perr)
	}
}

func (t *Tracker) Pause(session *models.SyncSession, resumeAt time.Time) error {
	session.Status = models.SessionPaused
	session.Pause = &models.PauseInfo{
		PausedAt: time.Now().UTC(),
		ResumeAt: resumeAt,
	}
	if err := t.persist(session); err != nil {
		return err
	}
	t.l.Info("sync session paused", "session", session.ID, "resume", session.ResumeIn())
	t.n.Publish(notifier.EventSyncStatus, session)
	return nil
}

func (t *Tracker) Resume(session *models.SyncSession) error {
	session.Status = models.SessionInProgress
	session.Pause = nil
	if err := t.persist(session); err != nil {
		return err
	}
	t.l.Info("sync session resumed", "session", session.ID)
	t.n.Publish(notifier.EventSyncStatus, session)
	return nil
}

func (t *Tracker) Complete(session *models.SyncSession) error {
	now := time.Now().UTC()
	session.Status = models.SessionCompleted
	session.FinishedAt = &now
	if err := t.persist(session); err != nil {
		return err
	}
	t.l.Info("sync session completed",
		"session", session.ID,
		"repositories", session.Progress.Repositories,
		"workflows", session.Progress.Workflows,
		"runs", session.Progress.Runs,
		"errors", len(session.Errors),
	)
	t.n.Publish(notifier.EventSyncStatus, session)
	return nil
}

func (t *Tracker) Fail(session *models.SyncSession, cause error) error {
	now := time.Now().UTC()
	session.Status = models.SessionFailed
	session.FinishedAt = &now
	session.Errors = append(session.Errors, models.SyncError{
		Category:   models.SyncErrorRepository,
		Identifier: session.Organization.Name,
		Message:    cause.Error(),
	})
	if err := t.persist(session); err != nil {
		return err
	}
	t.l.Error("sync session failed", "session", session.ID, "err", cause)
	t.n.Publish(notifier.EventSyncStatus, session)
	return nil
}

func (t *Tracker) LatestActive() (*models.SyncSession, error) {
	return t.db.LatestActiveSession()
}

func (t *Tracker) History(limit int) ([]models.SyncSession, error) {
	return t.db.GetSessions(limit)
}
