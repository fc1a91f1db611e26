package journal

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS turns (
			turn_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			input TEXT NOT NULL,
			effects TEXT[] NOT NULL DEFAULT '{}',
			output_speech TEXT NOT NULL DEFAULT '',
			outcome TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_turns_session_started ON turns (session_id, started_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_turns_started ON turns (started_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init journal schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveTurn(ctx context.Context, record Record) error {
	effects := record.Effects
	if effects == nil {
		effects = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO turns (
			turn_id, session_id, user_id, input, effects, output_speech, outcome, started_at, ended_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9
		)
		ON CONFLICT (turn_id) DO UPDATE SET
			session_id=EXCLUDED.session_id,
			user_id=EXCLUDED.user_id,
			input=EXCLUDED.input,
			effects=EXCLUDED.effects,
			output_speech=EXCLUDED.output_speech,
			outcome=EXCLUDED.outcome,
			started_at=EXCLUDED.started_at,
			ended_at=EXCLUDED.ended_at`,
		record.TurnID,
		record.SessionID,
		record.UserID,
		record.Input,
		effects,
		record.OutputSpeech,
		record.Outcome,
		record.StartedAt,
		record.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert turn: %w", err)
	}
	return nil
}

func (s *PostgresStore) Recent(ctx context.Context, sessionID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	var (
		rows pgx.Rows
		err  error
	)
	const columns = `turn_id, session_id, user_id, input, effects, output_speech, outcome, started_at, ended_at`
	if sessionID == "" {
		rows, err = s.pool.Query(ctx,
			`SELECT `+columns+` FROM turns ORDER BY started_at DESC LIMIT $1`,
			limit,
		)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+columns+` FROM turns WHERE session_id=$1 ORDER BY started_at DESC LIMIT $2`,
			sessionID, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, limit)
	for rows.Next() {
		var record Record
		if err := rows.Scan(
			&record.TurnID,
			&record.SessionID,
			&record.UserID,
			&record.Input,
			&record.Effects,
			&record.OutputSpeech,
			&record.Outcome,
			&record.StartedAt,
			&record.EndedAt,
		); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
