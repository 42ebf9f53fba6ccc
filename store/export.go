package store

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// ExportedSession is one conversation in a user export, with its full
// history.
type ExportedSession struct {
	SessionID string    `json:"session_id"`
	Context   string    `json:"context"`
	Mode      string    `json:"mode"`
	CreatedAt time.Time `json:"created_at"`
	Messages  []Message `json:"messages"`
}

// UserExport is the payload written by ExportUser.
type UserExport struct {
	UserID     string            `json:"user_id"`
	ExportDate time.Time         `json:"export_date"`
	Sessions   []ExportedSession `json:"sessions"`
}

// ExportUser writes every session of the user, with full histories,
// to a timestamped directory under {data}/export/ and returns the
// path of the written file.
func (s *Store) ExportUser(ctx context.Context, userID string) (string, error) {
	records, err := s.UserSessions(ctx, userID)
	if err != nil {
		return "", err
	}

	export := UserExport{
		UserID:     userID,
		ExportDate: time.Now().UTC(),
		Sessions:   make([]ExportedSession, 0, len(records)),
	}
	for _, record := range records {
		full, err := s.GetSession(ctx, record.SessionID)
		if err != nil {
			return "", err
		}
		if full == nil {
			continue
		}
		export.Sessions = append(export.Sessions, ExportedSession{
			SessionID: full.SessionID,
			Context:   full.Context,
			Mode:      full.Mode,
			CreatedAt: full.CreatedAt,
			Messages:  full.Messages,
		})
	}

	dir := filepath.Join(s.profile.Data, "export",
		"eva_export_"+userID+"_"+time.Now().Format("20060102_150405"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "failed to create export directory")
	}

	path := filepath.Join(dir, "eva_conversations.json")
	if err := s.writeJSONAtomic(path, export, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
