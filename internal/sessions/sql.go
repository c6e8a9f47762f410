package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/teller/pkg/models"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// Dialect selects the SQL flavour used by SQLStore and Migrator.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// rebind rewrites $N placeholders to ? for SQLite. Queries must use each
// placeholder once, in order.
func (d Dialect) rebind(query string) string {
	if d != DialectSQLite {
		return query
	}
	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		if query[i] == '$' && i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
			b.WriteByte('?')
			for i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
				i++
			}
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// SQLConfig holds connection pool settings for SQL stores.
type SQLConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultSQLConfig returns default configuration.
func DefaultSQLConfig() *SQLConfig {
	return &SQLConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// SQLStore implements Store on PostgreSQL or SQLite. The schema is created
// by Migrator.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// NewPostgresStore opens a PostgreSQL-backed store from a DSN or URL.
func NewPostgresStore(dsn string, config *SQLConfig) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultSQLConfig()
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return NewSQLStore(db, DialectPostgres), nil
}

// NewSQLiteStore opens a SQLite-backed store at path. Use ":memory:" for a
// throwaway database.
func NewSQLiteStore(path string) (*SQLStore, error) {
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps ":memory:"
	// databases shared across calls.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{`PRAGMA foreign_keys = ON`, `PRAGMA busy_timeout = 5000`} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to configure sqlite: %w", err)
		}
	}
	return NewSQLStore(db, DialectSQLite), nil
}

// NewSQLStore wraps an open database.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, now: time.Now}
}

// DB exposes the underlying database connection for the migrator and locker.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Dialect reports the SQL flavour of the store.
func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

func (s *SQLStore) q(query string) string {
	return s.dialect.rebind(query)
}

func (s *SQLStore) Load(ctx context.Context, conversationID string) (*models.Conversation, error) {
	var updatedAt time.Time
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT updated_at FROM conversations WHERE id = $1
	`), conversationID).Scan(&updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, kind, content, tool_calls, tool_call_id, tool_name, is_error, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY seq ASC
	`), conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	conv := &models.Conversation{ID: conversationID, UpdatedAt: updatedAt}
	for rows.Next() {
		var (
			rec        models.MessageRecord
			kind       string
			toolCalls  sql.NullString
			toolCallID sql.NullString
			toolName   sql.NullString
		)
		if err := rows.Scan(&rec.ID, &kind, &rec.Content, &toolCalls, &toolCallID, &toolName, &rec.IsError, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		rec.Kind = models.MessageKind(kind)
		if toolCalls.Valid && toolCalls.String != "" {
			rec.ToolCalls = json.RawMessage(toolCalls.String)
		}
		rec.ToolCallID = toolCallID.String
		rec.ToolName = toolName.String

		msg, err := models.DecodeMessage(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to decode message %s: %w", rec.ID, err)
		}
		conv.Messages = append(conv.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return conv, nil
}

func (s *SQLStore) Append(ctx context.Context, conversationID string, msgs ...models.Message) error {
	if conversationID == "" {
		return errors.New("conversation id is required")
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.appendTx(ctx, tx, conversationID, msgs)
	})
}

func (s *SQLStore) appendTx(ctx context.Context, tx *sql.Tx, conversationID string, msgs []models.Message) error {
	now := s.now().UTC()
	if _, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO conversations (id, created_at, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET updated_at = EXCLUDED.updated_at
	`), conversationID, now, now); err != nil {
		return fmt.Errorf("failed to upsert conversation: %w", err)
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, s.q(`
		SELECT COALESCE(MAX(seq), 0) FROM messages WHERE conversation_id = $1
	`), conversationID).Scan(&seq); err != nil {
		return fmt.Errorf("failed to read sequence: %w", err)
	}

	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		rec, err := models.EncodeMessage(msg)
		if err != nil {
			return err
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		seq++
		if _, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO messages (conversation_id, seq, id, kind, content, tool_calls, tool_call_id, tool_name, is_error, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`),
			conversationID,
			seq,
			rec.ID,
			string(rec.Kind),
			rec.Content,
			nullString(string(rec.ToolCalls)),
			nullString(rec.ToolCallID),
			nullString(rec.ToolName),
			rec.IsError,
			rec.CreatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) GetInterrupt(ctx context.Context, conversationID string) (*models.Interrupt, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT payload FROM interrupts WHERE conversation_id = $1
	`), conversationID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load interrupt: %w", err)
	}
	var interrupt models.Interrupt
	if err := json.Unmarshal([]byte(payload), &interrupt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal interrupt: %w", err)
	}
	return &interrupt, nil
}

func (s *SQLStore) SetInterrupt(ctx context.Context, interrupt *models.Interrupt) error {
	if interrupt == nil || interrupt.ID == "" || interrupt.ConversationID == "" {
		return errors.New("interrupt id and conversation id are required")
	}
	payload, err := json.Marshal(interrupt)
	if err != nil {
		return fmt.Errorf("failed to marshal interrupt: %w", err)
	}
	now := s.now().UTC()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO conversations (id, created_at, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET updated_at = EXCLUDED.updated_at
		`), interrupt.ConversationID, now, now); err != nil {
			return fmt.Errorf("failed to upsert conversation: %w", err)
		}
		result, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO interrupts (conversation_id, id, payload, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (conversation_id) DO NOTHING
		`), interrupt.ConversationID, interrupt.ID, string(payload), now)
		if err != nil {
			return fmt.Errorf("failed to insert interrupt: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to insert interrupt: %w", err)
		}
		if n == 0 {
			return ErrInterruptPending
		}
		return nil
	})
}

func (s *SQLStore) ClearInterrupt(ctx context.Context, conversationID string) error {
	if _, err := s.db.ExecContext(ctx, s.q(`
		DELETE FROM interrupts WHERE conversation_id = $1
	`), conversationID); err != nil {
		return fmt.Errorf("failed to clear interrupt: %w", err)
	}
	return nil
}

func (s *SQLStore) ResolveInterrupt(ctx context.Context, conversationID, interruptID string, msgs ...models.Message) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx, s.q(`
			DELETE FROM interrupts WHERE conversation_id = $1 RETURNING id
		`), conversationID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to resolve interrupt: %w", err)
		}
		if current != interruptID {
			return ErrInterruptMismatch
		}
		return s.appendTx(ctx, tx, conversationID, msgs)
	})
}

func (s *SQLStore) Reset(ctx context.Context, conversationID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, query := range []string{
			`DELETE FROM interrupts WHERE conversation_id = $1`,
			`DELETE FROM messages WHERE conversation_id = $1`,
			`DELETE FROM conversations WHERE id = $1`,
		} {
			if _, err := tx.ExecContext(ctx, s.q(query), conversationID); err != nil {
				return fmt.Errorf("failed to reset conversation: %w", err)
			}
		}
		return nil
	})
}

func (s *SQLStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan).UTC()
	var removed int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		const stale = `
			SELECT id FROM conversations
			WHERE updated_at < $1
			AND id NOT IN (SELECT conversation_id FROM interrupts)`
		if _, err := tx.ExecContext(ctx, s.q(`
			DELETE FROM messages WHERE conversation_id IN (`+stale+`)
		`), cutoff); err != nil {
			return fmt.Errorf("failed to prune messages: %w", err)
		}
		result, err := tx.ExecContext(ctx, s.q(`
			DELETE FROM conversations WHERE id IN (`+stale+`)
		`), cutoff)
		if err != nil {
			return fmt.Errorf("failed to prune conversations: %w", err)
		}
		removed, err = result.RowsAffected()
		return err
	})
	return removed, err
}

func (s *SQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
