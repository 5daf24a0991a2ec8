// Package history persists sessions and their caption logs to Postgres.
// It is an optional collaborator: the session engine runs fine without
// it, and nothing here feeds back into the real-time path.
package history

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	voice "github.com/codervipul775/voice-agent/sdk"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store writes session history through a pgx pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Open connects, runs pending migrations and returns a ready store.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := migrate(dsn); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open history pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping history database: %w", err)
	}
	logger.Info("history store ready")
	return &Store{pool: pool, logger: logger}, nil
}

func migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("run history migrations: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// CreateSession records a new session id. Idempotent on conflict.
func (s *Store) CreateSession(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, started_at)
		VALUES ($1, now())
		ON CONFLICT (id) DO NOTHING`, sessionID)
	if err != nil {
		return fmt.Errorf("create session %s: %w", sessionID, err)
	}
	return nil
}

// EndSession stamps the session as finished.
func (s *Store) EndSession(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sessions SET ended_at = now() WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("end session %s: %w", sessionID, err)
	}
	return nil
}

// SaveCaption upserts one caption keyed on its id, mirroring the live
// merge semantics: interim rows are overwritten in place, final rows are
// immutable.
func (s *Store) SaveCaption(ctx context.Context, sessionID string, c voice.Caption) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO captions (id, session_id, speaker, text, spoken_at, is_final)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET text = EXCLUDED.text,
		    spoken_at = EXCLUDED.spoken_at,
		    is_final = EXCLUDED.is_final
		WHERE captions.is_final = false`,
		c.ID, sessionID, string(c.Speaker), c.Text,
		time.UnixMilli(c.TimestampMS).UTC(), c.IsFinal)
	if err != nil {
		return fmt.Errorf("save caption %s: %w", c.ID, err)
	}
	return nil
}

// Captions returns the stored caption log for a session in spoken order.
func (s *Store) Captions(ctx context.Context, sessionID string) ([]voice.Caption, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, speaker, text, spoken_at, is_final
		FROM captions
		WHERE session_id = $1
		ORDER BY spoken_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load captions for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []voice.Caption
	for rows.Next() {
		var (
			c        voice.Caption
			speaker  string
			spokenAt time.Time
		)
		if err := rows.Scan(&c.ID, &speaker, &c.Text, &spokenAt, &c.IsFinal); err != nil {
			return nil, fmt.Errorf("scan caption: %w", err)
		}
		c.Speaker = voice.Speaker(speaker)
		c.TimestampMS = spokenAt.UnixMilli()
		out = append(out, c)
	}
	return out, rows.Err()
}
