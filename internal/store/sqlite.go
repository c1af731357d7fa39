package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/metacards/internal/domain"
	"github.com/ashureev/metacards/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Pragmas in the DSN apply to every pooled connection.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		run_id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		chat_id INTEGER NOT NULL,
		state TEXT NOT NULL,
		state_description TEXT NOT NULL,
		metaphor TEXT NOT NULL,
		cards_json TEXT NOT NULL,
		responses_json TEXT NOT NULL,
		analysis TEXT,
		recommendations TEXT,
		summary TEXT,
		started_at INTEGER NOT NULL,
		completed_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, completed_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_completed ON sessions(completed_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveSession stores a completed session. The write is retried when the
// database is busy.
func (s *SQLiteStore) SaveSession(ctx context.Context, sess *domain.Session) error {
	cards, err := json.Marshal(sess.Cards)
	if err != nil {
		return fmt.Errorf("encode cards: %w", err)
	}
	responses, err := json.Marshal(sess.Responses)
	if err != nil {
		return fmt.Errorf("encode responses: %w", err)
	}

	query := `
	INSERT INTO sessions (
		run_id, user_id, chat_id, state, state_description, metaphor,
		cards_json, responses_json, analysis, recommendations, summary,
		started_at, completed_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(run_id) DO UPDATE SET
		state = excluded.state,
		cards_json = excluded.cards_json,
		responses_json = excluded.responses_json,
		analysis = excluded.analysis,
		recommendations = excluded.recommendations,
		summary = excluded.summary,
		completed_at = excluded.completed_at`

	completedAt := sess.LastActivity
	if completedAt.IsZero() {
		completedAt = s.now()
	}

	return shared.RetryOnConflict(ctx, "save session", func() error {
		_, err := s.db.ExecContext(ctx, query,
			sess.RunID, sess.UserID, sess.ChatID, sess.State.String(),
			sess.StateDescription, sess.Metaphor,
			string(cards), string(responses),
			nullable(sess.Analysis), nullable(sess.Recommendations), nullable(sess.Summary),
			sess.StartedAt.UnixMilli(), completedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("upsert session: %w", err)
		}
		return nil
	})
}

// ListSessions returns the user's archived sessions, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, userID int64, limit int) ([]*domain.Session, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT run_id, user_id, chat_id, state, state_description, metaphor,
		       cards_json, responses_json, analysis, recommendations, summary,
		       started_at, completed_at
		FROM sessions WHERE user_id = ?
		ORDER BY completed_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	var out []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

func scanSession(rows *sql.Rows) (*domain.Session, error) {
	var (
		sess                     domain.Session
		state                    string
		cardsJSON, responsesJSON string
		analysis, recs, summary  sql.NullString
		startedAt, completedAt   int64
	)
	if err := rows.Scan(
		&sess.RunID, &sess.UserID, &sess.ChatID, &state,
		&sess.StateDescription, &sess.Metaphor,
		&cardsJSON, &responsesJSON,
		&analysis, &recs, &summary,
		&startedAt, &completedAt,
	); err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	st, err := domain.ParseState(state)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sess.RunID, err)
	}
	sess.State = st
	if err := json.Unmarshal([]byte(cardsJSON), &sess.Cards); err != nil {
		return nil, fmt.Errorf("decode cards for %s: %w", sess.RunID, err)
	}
	if err := json.Unmarshal([]byte(responsesJSON), &sess.Responses); err != nil {
		return nil, fmt.Errorf("decode responses for %s: %w", sess.RunID, err)
	}
	sess.Analysis = analysis.String
	sess.Recommendations = recs.String
	sess.Summary = summary.String
	sess.StartedAt = time.UnixMilli(startedAt)
	sess.LastActivity = time.UnixMilli(completedAt)
	return &sess, nil
}

// CountSessions returns the number of archived sessions.
func (s *SQLiteStore) CountSessions(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

// CleanupArchive removes sessions completed more than ttl ago.
func (s *SQLiteStore) CleanupArchive(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := s.now().Add(-ttl).UnixMilli()
	var deleted int64
	err := shared.RetryOnConflict(ctx, "cleanup archive", func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE completed_at < ?`, threshold)
		if err != nil {
			return fmt.Errorf("cleanup archive: %w", err)
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
