package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/payops-sentinel/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS workflow_states (
	thread_id  TEXT PRIMARY KEY,
	stage      TEXT NOT NULL,
	state      TEXT NOT NULL,
	version    INTEGER NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS action_history (
	seq              INTEGER PRIMARY KEY AUTOINCREMENT,
	id               TEXT NOT NULL UNIQUE,
	thread_id        TEXT NOT NULL,
	cycle_id         TEXT NOT NULL,
	region           TEXT NOT NULL,
	gateway          TEXT NOT NULL,
	previous_gateway TEXT NOT NULL DEFAULT '',
	result           TEXT NOT NULL,
	executed_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_workflow_states_stage ON workflow_states(stage);
CREATE INDEX IF NOT EXISTS idx_action_history_region ON action_history(region);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context, threadID string) (*model.WorkflowState, error) {
	var (
		data    string
		version int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT state, version FROM workflow_states WHERE thread_id = ?`, threadID,
	).Scan(&data, &version)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "thread %s", threadID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load state %s", threadID)
	}
	return decodeState([]byte(data), version)
}

func (s *SQLiteStore) Save(ctx context.Context, state *model.WorkflowState) error {
	if err := state.Validate(); err != nil {
		return eris.Wrap(err, "sqlite: save")
	}
	next := state.Version + 1
	data, err := encodeState(state, next)
	if err != nil {
		return err
	}

	var res sql.Result
	if state.Version == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO workflow_states (thread_id, stage, state, version, updated_at) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(thread_id) DO NOTHING`,
			state.ThreadID, string(state.Stage), string(data), next, nowUTC(),
		)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE workflow_states SET stage = ?, state = ?, version = ?, updated_at = ? WHERE thread_id = ? AND version = ?`,
			string(state.Stage), string(data), next, nowUTC(), state.ThreadID, state.Version,
		)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: save state %s", state.ThreadID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrConflict, "thread %s at version %d", state.ThreadID, state.Version)
	}
	state.Version = next
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, threadID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflow_states WHERE thread_id = ?`, threadID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete state %s", threadID)
	}
	return checkRowsAffected(res, threadID)
}

func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT thread_id FROM workflow_states ORDER BY thread_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list states")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan thread id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: list states iterate")
}

func (s *SQLiteStore) AppendAction(ctx context.Context, rec model.ActionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO action_history (id, thread_id, cycle_id, region, gateway, previous_gateway, result, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ThreadID, rec.CycleID, rec.Region, rec.Gateway, rec.PreviousGateway, rec.Result, rec.ExecutedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: append action")
}

func (s *SQLiteStore) RecentActions(ctx context.Context, k int) ([]model.ActionRecord, error) {
	if k <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, cycle_id, region, gateway, previous_gateway, result, executed_at
		 FROM action_history ORDER BY seq DESC LIMIT ?`, k,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: recent actions")
	}
	defer rows.Close()

	var recs []model.ActionRecord
	for rows.Next() {
		var (
			r  model.ActionRecord
			at time.Time
		)
		if err := rows.Scan(&r.ID, &r.ThreadID, &r.CycleID, &r.Region, &r.Gateway, &r.PreviousGateway, &r.Result, &at); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan action")
		}
		r.ExecutedAt = at.UTC()
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: recent actions iterate")
	}
	reverseRecords(recs)
	return recs, nil
}

// helpers

func checkRowsAffected(res sql.Result, threadID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "thread %s", threadID)
	}
	return nil
}
