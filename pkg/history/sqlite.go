package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// SQLiteStore keeps stream records in a local sqlite database. Model
// responses and the model list are stored as JSON columns so the schema
// stays flat.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = &SQLiteStore{}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite history store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) SaveRecord(ctx context.Context, rec Record) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite history store: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	rec.ConversationID = strings.TrimSpace(rec.ConversationID)
	if rec.ConversationID == "" {
		return errors.New("sqlite history store: conversation id is empty")
	}
	responses, err := json.Marshal(rec.ModelResponses)
	if err != nil {
		return errors.Wrap(err, "sqlite history store: marshal responses")
	}
	used, err := json.Marshal(rec.ModelsUsed)
	if err != nil {
		return errors.Wrap(err, "sqlite history store: marshal model list")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO stream_records (
			conv_id, prompt, final_response, model_responses, models_used,
			token_count, started_at_ms, completed_at_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ConversationID, rec.Prompt, rec.FinalResponse, string(responses), string(used),
		rec.TokenCount, rec.StartedAt.UnixMilli(), rec.CompletedAt.UnixMilli())
	if err != nil {
		return errors.Wrap(err, "sqlite history store: insert record")
	}
	return nil
}

func (s *SQLiteStore) Records(ctx context.Context, conversationID string) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite history store: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, errors.New("sqlite history store: conversation id is empty")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conv_id, prompt, final_response, model_responses, models_used,
		       token_count, started_at_ms, completed_at_ms
		FROM stream_records
		WHERE conv_id = ?
		ORDER BY id ASC
	`, conversationID)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite history store: query records")
	}
	defer func() { _ = rows.Close() }()

	var records []Record
	for rows.Next() {
		var (
			rec         Record
			responses   string
			used        string
			startedMs   int64
			completedMs int64
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.ConversationID,
			&rec.Prompt,
			&rec.FinalResponse,
			&responses,
			&used,
			&rec.TokenCount,
			&startedMs,
			&completedMs,
		); err != nil {
			return nil, errors.Wrap(err, "sqlite history store: scan record")
		}
		if responses != "" {
			if err := json.Unmarshal([]byte(responses), &rec.ModelResponses); err != nil {
				return nil, errors.Wrap(err, "sqlite history store: decode responses")
			}
		}
		if used != "" {
			if err := json.Unmarshal([]byte(used), &rec.ModelsUsed); err != nil {
				return nil, errors.Wrap(err, "sqlite history store: decode model list")
			}
		}
		rec.StartedAt = time.UnixMilli(startedMs)
		rec.CompletedAt = time.UnixMilli(completedMs)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite history store: iterate records")
	}
	return records, nil
}

// SQLiteDSNForFile builds a DSN for a database file.
func SQLiteDSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite history store: empty path")
	}
	// WAL for concurrent readers + writer. busy_timeout to avoid transient SQLITE_BUSY.
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}

func (s *SQLiteStore) migrate() error {
	if s == nil || s.db == nil {
		return errors.New("sqlite history store: db is nil")
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS stream_records (
		  id INTEGER PRIMARY KEY AUTOINCREMENT,
		  conv_id TEXT NOT NULL,
		  prompt TEXT NOT NULL,
		  final_response TEXT NOT NULL,
		  model_responses TEXT NOT NULL DEFAULT '{}',
		  models_used TEXT NOT NULL DEFAULT '[]',
		  token_count INTEGER NOT NULL DEFAULT 0,
		  started_at_ms INTEGER NOT NULL,
		  completed_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS stream_records_by_conv
		  ON stream_records(conv_id, id);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite history store: migrate")
		}
	}
	return nil
}
