package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

var ErrNotFound = errors.New("db: not found")

type DB struct {
	*sql.DB
}

func Make(dbPath string) (*DB, error) {
	// https://github.com/mattn/go-sqlite3#connection-string
	opts := []string{
		"_foreign_keys=1",
		"_journal_mode=WAL",
		"_synchronous=NORMAL",
		"_busy_timeout=5000",
	}

	db, err := sql.Open("sqlite3", dbPath+"?"+strings.Join(opts, "&"))
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		create table if not exists runs (
			run_id integer primary key,
			repository text not null,
			workflow text not null,
			status text not null,
			conclusion text not null,
			created_at text not null,
			updated_at integer not null, -- unix nanos, drives the upsert guard
			data text not null -- full run document, json
		);
		create index if not exists idx_runs_repository on runs(repository);
		create index if not exists idx_runs_status on runs(status);
		create index if not exists idx_runs_created_at on runs(created_at);

		create table if not exists sync_sessions (
			id text primary key,
			organization text not null,
			status text not null,
			started_at text not null,
			data text not null -- full session document, json
		);
		create index if not exists idx_sync_sessions_status on sync_sessions(status);
		create index if not exists idx_sync_sessions_started_at on sync_sessions(started_at);
	`)
	if err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

type filter struct {
	key string
	arg any
	cmp string
}

func newFilter(key, cmp string, arg any) filter {
	return filter{
		key: key,
		arg: arg,
		cmp: cmp,
	}
}

func FilterEq(key string, arg any) filter   { return newFilter(key, "=", arg) }
func FilterLike(key string, arg any) filter { return newFilter(key, "like", arg) }

func (f filter) Condition() string {
	return fmt.Sprintf("%s %s ?", f.key, f.cmp)
}

func (f filter) Arg() any {
	return f.arg
}

func whereClause(filters []filter) (string, []any) {
	if len(filters) == 0 {
		return "", nil
	}

	var conditions []string
	var args []any
	for _, f := range filters {
		conditions = append(conditions, f.Condition())
		args = append(args, f.Arg())
	}
	return " where " + strings.Join(conditions, " and "), args
}
