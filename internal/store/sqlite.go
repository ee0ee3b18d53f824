package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/book-search-labs/bsl-chat/internal/model/chat"
)

// SQLiteStore implements FeedbackRepository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ FeedbackRepository = (*SQLiteStore)(nil)

// NewSQLite opens (and creates if needed) the database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		rating TEXT NOT NULL,
		reason_code TEXT,
		comment TEXT,
		flag_hallucination INTEGER,
		flag_insufficient INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_session ON feedback(session_id, id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// SaveFeedback inserts a feedback record.
func (s *SQLiteStore) SaveFeedback(ctx context.Context, fb chat.Feedback) (int64, error) {
	query := `
	INSERT INTO feedback (session_id, message_id, rating, reason_code, comment,
		flag_hallucination, flag_insufficient, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := s.db.ExecContext(ctx, query,
		fb.SessionID, fb.MessageID, string(fb.Rating),
		nullString(fb.ReasonCode), nullString(fb.Comment),
		nullBool(fb.FlagHallucination), nullBool(fb.FlagInsufficient),
		time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert feedback: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read feedback id: %w", err)
	}
	return id, nil
}

// ListFeedback returns the feedback of one session.
func (s *SQLiteStore) ListFeedback(ctx context.Context, sessionID string) ([]FeedbackRecord, error) {
	query := `
		SELECT id, session_id, message_id, rating, reason_code, comment,
		       flag_hallucination, flag_insufficient, created_at
		FROM feedback WHERE session_id = ? ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query feedback: %w", err)
	}
	defer rows.Close()

	var records []FeedbackRecord
	for rows.Next() {
		var (
			rec                         FeedbackRecord
			rating                      string
			reasonCode, comment         sql.NullString
			hallucination, insufficient sql.NullBool
			createdAt                   int64
		)
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.MessageID, &rating, &reasonCode, &comment,
			&hallucination, &insufficient, &createdAt); err != nil {
			return nil, fmt.Errorf("scan feedback row: %w", err)
		}

		rec.Rating = chat.Rating(rating)
		rec.ReasonCode = reasonCode.String
		rec.Comment = comment.String
		rec.FlagHallucination = boolPtr(hallucination)
		rec.FlagInsufficient = boolPtr(insufficient)
		rec.CreatedAt = time.UnixMilli(createdAt).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feedback rows: %w", err)
	}
	return records, nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullBool(v *bool) sql.NullBool {
	if v == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *v, Valid: true}
}

func boolPtr(v sql.NullBool) *bool {
	if !v.Valid {
		return nil
	}
	b := v.Bool
	return &b
}
