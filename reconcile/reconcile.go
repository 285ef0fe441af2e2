// Package reconcile is the only write path for run, job and step
// data. Both the bulk crawler and the live webhook intake funnel
// their payloads through here, so the ordering rules that keep the
// two channels from corrupting each other live in this package.
package reconcile

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/petercort/RunWatch-sub000/db"
	"github.com/petercort/RunWatch-sub000/models"
	"github.com/petercort/RunWatch-sub000/notifier"
)

// Store is the slice of the record repository the reconciler writes
// through. A missing run reports db.ErrNotFound.
type Store interface {
	GetRun(id int64) (*models.Run, error)
	PutRun(run *models.Run) error
}

type Reconciler struct {
	store Store
	n     *notifier.Notifier
	l     *slog.Logger

	mu    sync.Mutex
	locks map[int64]*runLock
}

type runLock struct {
	mu   sync.Mutex
	refs int
}

func New(store Store, n *notifier.Notifier, l *slog.Logger) *Reconciler {
	return &Reconciler{
		store: store,
		n:     n,
		l:     l,
		locks: make(map[int64]*runLock),
	}
}

// lockRun serializes reconciliation per run id. Calls for different
// run ids proceed independently. Entries are refcounted and dropped
// once the last holder releases, so the map tracks in-flight runs
// rather than every run id ever seen.
func (r *Reconciler) lockRun(id int64) func() {
	r.mu.Lock()
	l, ok := r.locks[id]
	if !ok {
		l = &runLock{}
		r.locks[id] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, id)
		}
		r.mu.Unlock()
	}
}

// ApplyRun upserts a run-level payload. A payload whose updated_at is
// not strictly newer than the stored record is a no-op returning the
// stored run unchanged; this is what makes replaying history through
// the crawler safe while live events land for the same run.
func (r *Reconciler) ApplyRun(ev RunEvent) (*models.Run, error) {
	unlock := r.lockRun(ev.RunID)
	defer unlock()

	existing, err := r.store.GetRun(ev.RunID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}

	if existing == nil {
		run := ev.newRun()
		if err := r.store.PutRun(run); err != nil {
			return nil, err
		}
		r.l.Debug("created run", "run", run.ID, "repo", run.Repository.FullName)
		r.n.Publish(notifier.EventRunChanged, run)
		return run, nil
	}

	if !ev.UpdatedAt.After(existing.UpdatedAt) {
		// stale or duplicate delivery
		return existing, nil
	}

	existing.Status = ev.Status
	existing.Conclusion = ev.Conclusion
	existing.UpdatedAt = ev.UpdatedAt
	if ev.URL != "" {
		existing.URL = ev.URL
	}

	if err := r.store.PutRun(existing); err != nil {
		return nil, err
	}
	r.n.Publish(notifier.EventRunChanged, existing)
	return existing, nil
}

// ApplyJob merges a job-level payload into its parent run, creating
// the run from job-derived fields when the job event outran the run
// event. A job reported in_progress forces the parent run to
// in_progress regardless of the run's own last-known status:
// job-level progress is more authoritative for liveness.
func (r *Reconciler) ApplyJob(ev JobEvent) (*models.Run, error) {
	unlock := r.lockRun(ev.RunID)
	defer unlock()

	run, err := r.store.GetRun(ev.RunID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}

	if run == nil {
		run = ev.newRun()
		r.l.Debug("created run from job event", "run", run.ID, "job", ev.Job.ID)
	}

	run.MergeJob(ev.Job)
	if ev.Job.Status == models.StatusInProgress {
		run.Status = models.StatusInProgress
	}

	if err := r.store.PutRun(run); err != nil {
		return nil, err
	}
	r.n.Publish(notifier.EventJobsChanged, run)
	return run, nil
}
