package revival

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const revivalSchema = `
CREATE TABLE IF NOT EXISTS revival_entries (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	context TEXT NOT NULL,
	user_message TEXT NOT NULL,
	assistant_reply TEXT NOT NULL,
	emotional_weight REAL NOT NULL,
	topics TEXT NOT NULL DEFAULT '[]',
	label TEXT NOT NULL,
	revival_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_revival_entries_user_id ON revival_entries (user_id);
`

// SQLiteBackend stores revival entries in a SQLite database so they
// survive restarts.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (and if needed initializes) the database at
// dsn.
func NewSQLiteBackend(dsn string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open revival database")
	}
	if _, err := db.Exec(revivalSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to initialize revival schema")
	}
	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) SaveEntry(entry *Entry) error {
	topics, err := json.Marshal(entry.Topics)
	if err != nil {
		return errors.Wrap(err, "failed to marshal topics")
	}

	_, err = b.db.Exec(`
		INSERT INTO revival_entries (
			id, user_id, context, user_message, assistant_reply,
			emotional_weight, topics, label, revival_count, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.UserID, entry.Context, entry.UserMessage,
		entry.AssistantReply, entry.EmotionalWeight, string(topics),
		entry.Label, entry.RevivalCount, entry.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrap(err, "failed to insert revival entry")
	}
	return nil
}

func (b *SQLiteBackend) UpdateRevivalCount(id string, count int) error {
	_, err := b.db.Exec(`UPDATE revival_entries SET revival_count = ? WHERE id = ?`, count, id)
	if err != nil {
		return errors.Wrap(err, "failed to update revival count")
	}
	return nil
}

func (b *SQLiteBackend) DeleteEntries(ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	_, err := b.db.Exec(
		`DELETE FROM revival_entries WHERE id IN (`+strings.Join(placeholders, ", ")+`)`,
		args...,
	)
	if err != nil {
		return errors.Wrap(err, "failed to delete revival entries")
	}
	return nil
}

func (b *SQLiteBackend) LoadEntries() ([]*Entry, error) {
	rows, err := b.db.Query(`
		SELECT id, user_id, context, user_message, assistant_reply,
			emotional_weight, topics, label, revival_count, created_at
		FROM revival_entries
		ORDER BY created_at`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query revival entries")
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry := &Entry{}
		var topics, createdAt string
		if err := rows.Scan(
			&entry.ID, &entry.UserID, &entry.Context, &entry.UserMessage,
			&entry.AssistantReply, &entry.EmotionalWeight, &topics,
			&entry.Label, &entry.RevivalCount, &createdAt,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan revival entry")
		}
		if err := json.Unmarshal([]byte(topics), &entry.Topics); err != nil {
			return nil, errors.Wrap(err, "failed to parse topics")
		}
		if entry.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, errors.Wrap(err, "failed to parse created_at")
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate revival entries")
	}
	return entries, nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

var _ Backend = (*SQLiteBackend)(nil)
