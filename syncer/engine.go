// Package syncer implements the bulk historical crawl: a single
// sequential walk over repository → workflow → run → job, governed
// by API quota, checkpointed into a SyncSession, and feeding every
// record through the reconciler.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/petercort/RunWatch-sub000/forge"
	"github.com/petercort/RunWatch-sub000/models"
	"github.com/petercort/RunWatch-sub000/pagination"
	"github.com/petercort/RunWatch-sub000/reconcile"
)

const (
	defaultPageSize           = 50
	defaultMaxRunsPerWorkflow = 100
)

type Engine struct {
	client   forge.Client
	tracker  *Tracker
	rec      *reconcile.Reconciler
	gov      *Governor
	l        *slog.Logger
	pageSize int
}

func NewEngine(client forge.Client, tracker *Tracker, rec *reconcile.Reconciler, gov *Governor, l *slog.Logger, pageSize int) *Engine {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Engine{
		client:   client,
		tracker:  tracker,
		rec:      rec,
		gov:      gov,
		l:        l,
		pageSize: pageSize,
	}
}

type Result struct {
	SessionID    string             `json:"session_id"`
	Repositories int                `json:"repositories"`
	Workflows    int                `json:"workflows"`
	Runs         int                `json:"runs"`
	Errors       []models.SyncError `json:"errors"`
}

// Run crawls one organization's full workflow history. Errors at
// repository, workflow or run granularity are recorded on the
// session and skipped; only setup failures abort the crawl.
func (e *Engine) Run(ctx context.Context, orgLogin string, cfg models.SyncConfig) (*Result, error) {
	if cfg.MaxRunsPerWorkflow <= 0 {
		cfg.MaxRunsPerWorkflow = defaultMaxRunsPerWorkflow
	}

	org, err := e.client.Organization(ctx, orgLogin)
	if err != nil {
		err = fmt.Errorf("resolving organization %s: %w", orgLogin, err)
		if session, serr := e.tracker.Start(models.Organization{Name: orgLogin}, cfg); serr == nil {
			if ferr := e.tracker.Fail(session, err); ferr != nil {
				e.l.Error("failed to mark session failed", "session", session.ID, "err", ferr)
			}
		}
		return nil, err
	}

	session, err := e.tracker.Start(models.Organization{
		ID:   org.ID,
		Name: org.Login,
		Type: org.Type,
	}, cfg)
	if err != nil {
		return nil, err
	}

	repos, err := e.collectRepositories(ctx, session, org.Login)
	if err != nil {
		err = fmt.Errorf("listing repositories for %s: %w", orgLogin, err)
		if ferr := e.tracker.Fail(session, err); ferr != nil {
			e.l.Error("failed to mark session failed", "session", session.ID, "err", ferr)
		}
		return nil, err
	}

	result := &Result{SessionID: session.ID}
	session.Progress.RepoTotal = len(repos)

	for ri, repo := range repos {
		e.l.Debug("crawling repository", "repo", repo.FullName, "index", ri, "total", len(repos))
		if err := e.crawlRepository(ctx, session, result, cfg, repo, ri, len(repos)); err != nil {
			e.tracker.RecordError(session, models.SyncErrorRepository, repo.FullName, err)
			continue
		}
		result.Repositories++
	}

	e.finishProgress(session, result, len(repos))
	if err := e.tracker.Complete(session); err != nil {
		return nil, err
	}

	result.Errors = session.Errors
	if result.Errors == nil {
		result.Errors = []models.SyncError{}
	}
	return result, nil
}

func (e *Engine) collectRepositories(ctx context.Context, session *models.SyncSession, org string) ([]forge.Repository, error) {
	var repos []forge.Repository
	err := pagination.IterateAllFrom(pagination.WithLimit(e.pageSize),
		func(page pagination.Page) ([]forge.Repository, error) {
			if err := e.gov.Guard(ctx, session); err != nil {
				return nil, err
			}
			return e.client.ListRepositories(ctx, org, page)
		},
		func(items []forge.Repository) error {
			repos = append(repos, items...)
			return nil
		},
	)
	return repos, err
}

func (e *Engine) crawlRepository(ctx context.Context, session *models.SyncSession, result *Result, cfg models.SyncConfig, repo forge.Repository, ri, repoTotal int) error {
	var workflows []forge.Workflow
	err := pagination.IterateAllFrom(pagination.WithLimit(e.pageSize),
		func(page pagination.Page) ([]forge.Workflow, error) {
			if err := e.gov.Guard(ctx, session); err != nil {
				return nil, err
			}
			return e.client.ListWorkflows(ctx, repo.Owner.Login, repo.Name, page)
		},
		func(items []forge.Workflow) error {
			workflows = append(workflows, items...)
			return nil
		},
	)
	if err != nil {
		return err
	}

	if len(workflows) == 0 {
		e.updateProgress(session, result, repo.FullName, "", ri, repoTotal, 0, 0)
		return nil
	}

	for wi, wf := range workflows {
		if err := e.crawlWorkflow(ctx, session, result, cfg, repo, wf); err != nil {
			e.tracker.RecordError(session, models.SyncErrorWorkflow, fmt.Sprintf("%s/%s", repo.FullName, wf.Name), err)
		} else {
			result.Workflows++
		}
		e.updateProgress(session, result, repo.FullName, wf.Name, ri, repoTotal, wi+1, len(workflows))
	}
	return nil
}

// crawlWorkflow pages through a runs listing, newest first, stopping
// once the per-workflow cap is reached. The page size stays constant
// across requests: the wire protocol numbers pages as offset/limit,
// so a shrunken final request would land on the wrong page. The cap
// is enforced by trimming the final page before submission, and no
// request is ever issued once the cap is satisfied.
func (e *Engine) crawlWorkflow(ctx context.Context, session *models.SyncSession, result *Result, cfg models.SyncConfig, repo forge.Repository, wf forge.Workflow) error {
	remaining := cfg.MaxRunsPerWorkflow
	fetched := 0

	for remaining > 0 {
		page := pagination.Page{Offset: fetched, Limit: e.pageSize}

		if err := e.gov.Guard(ctx, session); err != nil {
			return err
		}
		runs, err := e.client.ListRuns(ctx, repo.Owner.Login, repo.Name, wf.ID, page)
		if err != nil {
			return err
		}

		exhausted := len(runs) < page.Limit
		if len(runs) > remaining {
			runs = runs[:remaining]
		}

		for _, run := range runs {
			if err := e.processRun(ctx, session, result, repo, wf, run); err != nil {
				e.tracker.RecordError(session, models.SyncErrorRun, fmt.Sprintf("%s#%d", repo.FullName, run.ID), err)
			} else {
				result.Runs++
			}
			remaining--
		}

		if exhausted {
			break
		}
		fetched += page.Limit
	}
	return nil
}

// processRun collects a run's jobs to exhaustion, derives the
// effective run status from them, and submits run first, then jobs,
// through the reconciler.
func (e *Engine) processRun(ctx context.Context, session *models.SyncSession, result *Result, repo forge.Repository, wf forge.Workflow, run forge.WorkflowRun) error {
	var jobEvents []reconcile.JobEvent
	err := pagination.IterateAllFrom(pagination.WithLimit(e.pageSize),
		func(page pagination.Page) ([]forge.WorkflowJob, error) {
			if err := e.gov.Guard(ctx, session); err != nil {
				return nil, err
			}
			return e.client.ListJobs(ctx, repo.Owner.Login, repo.Name, run.ID, page)
		},
		func(jobs []forge.WorkflowJob) error {
			for _, job := range jobs {
				jobEvents = append(jobEvents, reconcile.NormalizeCrawlJob(repo, wf, run.ID, job))
			}
			return nil
		},
	)
	if err != nil {
		return err
	}

	ev := reconcile.NormalizeCrawlRun(repo, wf, run)

	// the raw run-level status can lag behind job-level truth
	jobs := make([]models.Job, 0, len(jobEvents))
	for _, je := range jobEvents {
		jobs = append(jobs, je.Job)
	}
	if status, conclusion, ok := models.DeriveEffectiveStatus(jobs); ok {
		ev.Status = status
		ev.Conclusion = conclusion
	}

	if _, err := e.rec.ApplyRun(ev); err != nil {
		return err
	}
	for _, je := range jobEvents {
		if _, err := e.rec.ApplyJob(je); err != nil {
			return err
		}
	}
	return nil
}

// updateProgress recomputes the weighted percentage: whole
// repositories completed plus the workflow fraction inside the
// current one, over the repository total.
func (e *Engine) updateProgress(session *models.SyncSession, result *Result, repoName, wfName string, ri, repoTotal, wfDone, wfTotal int) {
	var percent float64
	if repoTotal > 0 {
		repoFraction := float64(ri)
		if wfTotal > 0 {
			repoFraction += float64(wfDone) / float64(wfTotal)
		} else {
			repoFraction++
		}
		percent = repoFraction / float64(repoTotal) * 100
	}

	progress := models.SyncProgress{
		RepoIndex:       ri,
		RepoTotal:       repoTotal,
		WorkflowIndex:   wfDone,
		WorkflowTotal:   wfTotal,
		CurrentRepo:     repoName,
		CurrentWorkflow: wfName,
		Repositories:    result.Repositories,
		Workflows:       result.Workflows,
		Runs:            result.Runs,
		Percent:         math.Round(percent*100) / 100,
	}
	if err := e.tracker.UpdateProgress(session, progress); err != nil {
		e.l.Error("failed to update progress", "session", session.ID, "err", err)
	}
}

func (e *Engine) finishProgress(session *models.SyncSession, result *Result, repoTotal int) {
	progress := session.Progress
	progress.Repositories = result.Repositories
	progress.Workflows = result.Workflows
	progress.Runs = result.Runs
	progress.RepoIndex = repoTotal
	progress.Percent = 100
	if err := e.tracker.UpdateProgress(session, progress); err != nil {
		e.l.Error("failed to update progress", "session", session.ID, "err", err)
	}
}
