package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/petercort/RunWatch-sub000/models"
)

func (d *DB) PutSession(s *models.SyncSession) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshalling session %s: %w", s.ID, err)
	}

	_, err = d.Exec(`
		insert into sync_sessions (id, organization, status, started_at, data)
		values (?, ?, ?, ?, ?)
		on conflict(id) do update set
			organization = excluded.organization,
			status = excluded.status,
			started_at = excluded.started_at,
			data = excluded.data
	`,
		s.ID,
		s.Organization.Name,
		string(s.Status),
		s.StartedAt.UTC().Format(time.RFC3339),
		string(data),
	)
	return err
}

func (d *DB) GetSession(id string) (*models.SyncSession, error) {
	var data string
	err := d.QueryRow(`select data from sync_sessions where id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var session models.SyncSession
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("unmarshalling session %s: %w", id, err)
	}
	return &session, nil
}

// LatestActiveSession returns the most recently started session that
// is still in_progress or paused, so a reconnecting client can
// reattach to an in-flight crawl.
func (d *DB) LatestActiveSession() (*models.SyncSession, error) {
	var data string
	err := d.QueryRow(`
		select data from sync_sessions
		where status in (?, ?)
		order by started_at desc
		limit 1
	`, string(models.SessionInProgress), string(models.SessionPaused)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var session models.SyncSession
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetSessions returns the most recent sessions by start time,
// descending, optionally narrowed by filters.
func (d *DB) GetSessions(limit int, filters ...filter) ([]models.SyncSession, error) {
	where, args := whereClause(filters)

	limitClause := ""
	if limit > 0 {
		limitClause = fmt.Sprintf(" limit %d", limit)
	}

	query := fmt.Sprintf(`
		select data from sync_sessions
		%s
		order by started_at desc
		%s
	`, where, limitClause)

	rows, err := d.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.SyncSession
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var session models.SyncSession
		if err := json.Unmarshal([]byte(data), &session); err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}
