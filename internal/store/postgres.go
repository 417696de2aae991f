package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/payops-sentinel/internal/db"
	"github.com/sells-group/payops-sentinel/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	pgLoadState    = `SELECT state, version FROM workflow_states WHERE thread_id = $1`
	pgInsertState  = `INSERT INTO workflow_states (thread_id, stage, state, version, updated_at) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (thread_id) DO NOTHING`
	pgUpdateState  = `UPDATE workflow_states SET stage = $1, state = $2, version = $3, updated_at = $4 WHERE thread_id = $5 AND version = $6`
	pgDeleteState  = `DELETE FROM workflow_states WHERE thread_id = $1`
	pgListStates   = `SELECT thread_id FROM workflow_states ORDER BY thread_id`
	pgAppendAction = `INSERT INTO action_history (id, thread_id, cycle_id, region, gateway, previous_gateway, result, executed_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	pgRecentAction = `SELECT id, thread_id, cycle_id, region, gateway, previous_gateway, result, executed_at FROM action_history ORDER BY seq DESC LIMIT $1`
)

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"load_state":     pgLoadState,
	"insert_state":   pgInsertState,
	"update_state":   pgUpdateState,
	"append_action":  pgAppendAction,
	"recent_actions": pgRecentAction,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS workflow_states (
	thread_id  TEXT PRIMARY KEY,
	stage      TEXT NOT NULL,
	state      JSONB NOT NULL,
	version    BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS action_history (
	seq              BIGSERIAL PRIMARY KEY,
	id               TEXT NOT NULL UNIQUE,
	thread_id        TEXT NOT NULL,
	cycle_id         TEXT NOT NULL,
	region           TEXT NOT NULL,
	gateway          TEXT NOT NULL,
	previous_gateway TEXT NOT NULL DEFAULT '',
	result           TEXT NOT NULL,
	executed_at      TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_workflow_states_stage ON workflow_states(stage);
CREATE INDEX IF NOT EXISTS idx_action_history_region ON action_history(region);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, threadID string) (*model.WorkflowState, error) {
	var (
		data    []byte
		version int64
	)
	err := s.pool.QueryRow(ctx, pgLoadState, threadID).Scan(&data, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "thread %s", threadID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load state %s", threadID)
	}
	return decodeState(data, version)
}

func (s *PostgresStore) Save(ctx context.Context, state *model.WorkflowState) error {
	if err := state.Validate(); err != nil {
		return eris.Wrap(err, "postgres: save")
	}
	next := state.Version + 1
	data, err := encodeState(state, next)
	if err != nil {
		return err
	}

	var rows int64
	if state.Version == 0 {
		tag, execErr := s.pool.Exec(ctx, pgInsertState, state.ThreadID, string(state.Stage), data, next, nowUTC())
		err, rows = execErr, tag.RowsAffected()
	} else {
		tag, execErr := s.pool.Exec(ctx, pgUpdateState, string(state.Stage), data, next, nowUTC(), state.ThreadID, state.Version)
		err, rows = execErr, tag.RowsAffected()
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: save state %s", state.ThreadID)
	}
	if rows == 0 {
		return eris.Wrapf(ErrConflict, "thread %s at version %d", state.ThreadID, state.Version)
	}
	state.Version = next
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, threadID string) error {
	tag, err := s.pool.Exec(ctx, pgDeleteState, threadID)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete state %s", threadID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "thread %s", threadID)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, pgListStates)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list states")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan thread id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "postgres: list states iterate")
}

func (s *PostgresStore) AppendAction(ctx context.Context, rec model.ActionRecord) error {
	_, err := s.pool.Exec(ctx, pgAppendAction,
		rec.ID, rec.ThreadID, rec.CycleID, rec.Region, rec.Gateway, rec.PreviousGateway, rec.Result, rec.ExecutedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: append action")
}

func (s *PostgresStore) RecentActions(ctx context.Context, k int) ([]model.ActionRecord, error) {
	if k <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, pgRecentAction, k)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: recent actions")
	}
	defer rows.Close()

	var recs []model.ActionRecord
	for rows.Next() {
		var r model.ActionRecord
		if err := rows.Scan(&r.ID, &r.ThreadID, &r.CycleID, &r.Region, &r.Gateway, &r.PreviousGateway, &r.Result, &r.ExecutedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan action")
		}
		r.ExecutedAt = r.ExecutedAt.UTC()
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: recent actions iterate")
	}
	reverseRecords(recs)
	return recs, nil
}
