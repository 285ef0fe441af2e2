package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/petercort/RunWatch-sub000/models"
	"github.com/petercort/RunWatch-sub000/pagination"
)

// PutRun upserts the full run document. The on-conflict guard only
// lets a write through when its updated_at is not older than the
// stored one; this is the storage-level backstop for the
// reconciler's monotonicity check under concurrent writers.
func (d *DB) PutRun(run *models.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshalling run %d: %w", run.ID, err)
	}

	_, err = d.Exec(`
		insert into runs (run_id, repository, workflow, status, conclusion, created_at, updated_at, data)
		values (?, ?, ?, ?, ?, ?, ?, ?)
		on conflict(run_id) do update set
			repository = excluded.repository,
			workflow = excluded.workflow,
			status = excluded.status,
			conclusion = excluded.conclusion,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			data = excluded.data
		where excluded.updated_at >= runs.updated_at
	`,
		run.ID,
		run.Repository.FullName,
		run.Workflow.Name,
		string(run.Status),
		string(run.Conclusion),
		run.CreatedAt.UTC().Format(time.RFC3339),
		run.UpdatedAt.UnixNano(),
		string(data),
	)
	return err
}

func (d *DB) GetRun(id int64) (*models.Run, error) {
	var data string
	err := d.QueryRow(`select data from runs where run_id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var run models.Run
	if err := json.Unmarshal([]byte(data), &run); err != nil {
		return nil, fmt.Errorf("unmarshalling run %d: %w", id, err)
	}
	return &run, nil
}

type RunQuery struct {
	Search     string
	Status     string
	Repository string
	Workflow   string
	Page       pagination.Page
}

// GetRuns returns one page of runs, newest first, plus the total
// count matching the query.
func (d *DB) GetRuns(q RunQuery) ([]models.Run, int64, error) {
	var conditions []string
	var args []any

	if q.Search != "" {
		conditions = append(conditions, "(repository like ? or workflow like ?)")
		pat := "%" + q.Search + "%"
		args = append(args, pat, pat)
	}
	if q.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, q.Status)
	}
	if q.Repository != "" {
		conditions = append(conditions, "repository = ?")
		args = append(args, q.Repository)
	}
	if q.Workflow != "" {
		conditions = append(conditions, "workflow = ?")
		args = append(args, q.Workflow)
	}

	where := ""
	if conditions != nil {
		where = " where " + strings.Join(conditions, " and ")
	}

	var total int64
	err := d.QueryRow(`select count(1) from runs`+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		select data from runs
		%s
		order by created_at desc, run_id desc
		limit ? offset ?
	`, where)
	rows, err := d.Query(query, append(args, q.Page.Limit, q.Page.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, 0, err
		}
		var run models.Run
		if err := json.Unmarshal([]byte(data), &run); err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return runs, total, nil
}

type RepositoryStats struct {
	Repository     string `json:"repository"`
	TotalRuns      int64  `json:"total_runs"`
	SuccessfulRuns int64  `json:"successful_runs"`
	FailedRuns     int64  `json:"failed_runs"`
}

type WorkflowStats struct {
	TotalRuns      int64             `json:"total_runs"`
	SuccessfulRuns int64             `json:"successful_runs"`
	FailedRuns     int64             `json:"failed_runs"`
	InProgressRuns int64             `json:"in_progress_runs"`
	SuccessRate    float64           `json:"success_rate"`
	Repositories   []RepositoryStats `json:"repositories"`
}

func (d *DB) GetWorkflowStats() (*WorkflowStats, error) {
	var stats WorkflowStats
	err := d.QueryRow(`
		select
			count(1),
			count(case when conclusion = 'success' then 1 end),
			count(case when conclusion = 'failure' then 1 end),
			count(case when status = 'in_progress' then 1 end)
		from runs
	`).Scan(&stats.TotalRuns, &stats.SuccessfulRuns, &stats.FailedRuns, &stats.InProgressRuns)
	if err != nil {
		return nil, err
	}

	if stats.TotalRuns > 0 {
		rate := float64(stats.SuccessfulRuns) / float64(stats.TotalRuns) * 100
		stats.SuccessRate = math.Round(rate*100) / 100
	}

	rows, err := d.Query(`
		select
			repository,
			count(1),
			count(case when conclusion = 'success' then 1 end),
			count(case when conclusion = 'failure' then 1 end)
		from runs
		group by repository
		order by count(1) desc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var rs RepositoryStats
		if err := rows.Scan(&rs.Repository, &rs.TotalRuns, &rs.SuccessfulRuns, &rs.FailedRuns); err != nil {
			return nil, err
		}
		stats.Repositories = append(stats.Repositories, rs)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &stats, nil
}
