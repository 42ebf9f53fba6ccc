// Package store persists conversation sessions and memory service
// mappings to disk, with an in-memory cache as the authority for the
// running process.
package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/evahq/eva/internal/profile"
	"github.com/evahq/eva/store/cache"
)

const (
	// InlineMessageLimit is the number of trailing messages kept
	// inline in the session index; longer histories move to a
	// per-session sidecar file.
	InlineMessageLimit = 10

	// DefaultRetentionDays is how long inactive sessions stay on disk.
	DefaultRetentionDays = 30

	// RestoreWindow is how far back sessions are rehydrated into the
	// cache on startup.
	RestoreWindow = 24 * time.Hour
)

// Store persists sessions under {data}/sessions/. Disk writes that
// fail are logged; the in-memory copy stays authoritative so the
// conversation can continue.
type Store struct {
	profile *profile.Profile

	// sessions holds full histories for the running process; entries
	// that expire or fall off the LRU are rehydrated from disk.
	sessions *cache.Cache

	mu       sync.RWMutex
	index    map[string]*Session // inline records as persisted
	mappings map[string]string   // session id -> memory service session id
}

// New creates a store rooted at the profile's data directory and loads
// the persisted index and mapping files.
func New(p *profile.Profile) (*Store, error) {
	s := &Store{
		profile: p,
		sessions: cache.New(cache.Config{
			DefaultTTL:      time.Hour,
			CleanupInterval: 10 * time.Minute,
			MaxItems:        1024,
		}),
		index:    make(map[string]*Session),
		mappings: make(map[string]string),
	}
	if err := os.MkdirAll(s.conversationsDir(), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create sessions directory")
	}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	if err := s.loadMappings(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) sessionsDir() string {
	return filepath.Join(s.profile.Data, "sessions")
}

func (s *Store) conversationsDir() string {
	return filepath.Join(s.sessionsDir(), "conversations")
}

func (s *Store) indexPath() string {
	return filepath.Join(s.sessionsDir(), "active_sessions.json")
}

func (s *Store) mappingsPath() string {
	return filepath.Join(s.sessionsDir(), "zep_mappings.json")
}

func (s *Store) sidecarPath(sessionID string) string {
	return filepath.Join(s.conversationsDir(), sessionID+".json")
}

type sessionIndex struct {
	Sessions map[string]*Session `json:"sessions"`
}

type sidecarFile struct {
	SessionID string    `json:"session_id"`
	Messages  []Message `json:"messages"`
}

func (s *Store) loadIndex() error {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "failed to read session index")
	}
	var idx sessionIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return errors.Wrap(err, "failed to parse session index")
	}
	if idx.Sessions != nil {
		s.index = idx.Sessions
	}
	return nil
}

func (s *Store) loadMappings() error {
	data, err := os.ReadFile(s.mappingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "failed to read memory mappings")
	}
	if err := json.Unmarshal(data, &s.mappings); err != nil {
		return errors.Wrap(err, "failed to parse memory mappings")
	}
	return nil
}

// SaveSession caches the session and writes it to disk. The index
// keeps at most InlineMessageLimit trailing messages; the full history
// goes to a sidecar file when longer. A disk failure is returned after
// the cache update, so callers can log it and keep going.
func (s *Store) SaveSession(ctx context.Context, session *Session) error {
	now := time.Now().UTC()

	s.mu.Lock()
	full := session.Clone()
	full.LastSaved = now
	if full.CreatedAt.IsZero() {
		full.CreatedAt = now
	}
	session.LastSaved = full.LastSaved
	session.CreatedAt = full.CreatedAt
	s.sessions.Set(full.SessionID, full)

	inline := full.Clone()
	needsSidecar := len(inline.Messages) > InlineMessageLimit
	if needsSidecar {
		inline.Messages = append([]Message(nil), inline.Messages[len(inline.Messages)-InlineMessageLimit:]...)
		inline.FullHistoryAvailable = true
	}
	s.index[inline.SessionID] = inline
	s.mu.Unlock()

	if needsSidecar {
		sidecar := sidecarFile{SessionID: full.SessionID, Messages: full.Messages}
		if err := s.writeJSONAtomic(s.sidecarPath(full.SessionID), sidecar, 0o644); err != nil {
			slog.Error("failed to write conversation sidecar",
				slog.String("session_id", full.SessionID), slog.Any("error", err))
			return errors.Wrap(err, "failed to write conversation sidecar")
		}
	}
	if err := s.flushIndex(); err != nil {
		slog.Error("failed to write session index",
			slog.String("session_id", full.SessionID), slog.Any("error", err))
		return err
	}
	return nil
}

// GetSession returns a copy of the session, rehydrating from the
// sidecar file when the full history is not cached. Returns nil when
// the session is unknown.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	if cached, ok := s.sessions.Get(sessionID); ok {
		return cached.(*Session).Clone(), nil
	}

	s.mu.RLock()
	record, ok := s.index[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	full := record.Clone()
	if record.FullHistoryAvailable {
		messages, err := s.readSidecar(sessionID)
		if err != nil {
			// Fall back to the inline tail rather than losing
			// the session entirely.
			slog.Error("failed to read conversation sidecar",
				slog.String("session_id", sessionID), slog.Any("error", err))
		} else {
			full.Messages = messages
		}
	}

	s.sessions.Set(sessionID, full)
	return full.Clone(), nil
}

// EvictSession drops the session from the in-memory cache. The
// on-disk record is untouched.
func (s *Store) EvictSession(sessionID string) {
	s.sessions.Delete(sessionID)
}

// Close stops the session cache's cleanup loop.
func (s *Store) Close() {
	s.sessions.Close()
}

func (s *Store) readSidecar(sessionID string) ([]Message, error) {
	data, err := os.ReadFile(s.sidecarPath(sessionID))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read sidecar file")
	}
	var sc sidecarFile
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, errors.Wrap(err, "failed to parse sidecar file")
	}
	return sc.Messages, nil
}

// RestoreRecent rehydrates every session saved within RestoreWindow
// into the cache and returns how many were restored.
func (s *Store) RestoreRecent(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-RestoreWindow)

	s.mu.RLock()
	var ids []string
	for id, record := range s.index {
		if record.LastSaved.After(cutoff) {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()

	restored := 0
	for _, id := range ids {
		session, err := s.GetSession(ctx, id)
		if err != nil {
			slog.Error("failed to restore session",
				slog.String("session_id", id), slog.Any("error", err))
			continue
		}
		if session != nil {
			restored++
		}
	}
	return restored, nil
}

// CleanupOld deletes sessions not saved for retentionDays, removing
// index entries, cached copies and sidecar files. Returns the number
// of sessions removed.
func (s *Store) CleanupOld(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	s.mu.Lock()
	var removed []string
	for id, record := range s.index {
		if record.LastSaved.Before(cutoff) {
			removed = append(removed, id)
			delete(s.index, id)
			delete(s.mappings, id)
		}
	}
	s.mu.Unlock()

	for _, id := range removed {
		s.sessions.Delete(id)
		if err := os.Remove(s.sidecarPath(id)); err != nil && !os.IsNotExist(err) {
			slog.Error("failed to remove conversation sidecar",
				slog.String("session_id", id), slog.Any("error", err))
		}
	}
	if len(removed) > 0 {
		if err := s.flushIndex(); err != nil {
			return len(removed), err
		}
		if err := s.flushMappings(); err != nil {
			return len(removed), err
		}
	}
	return len(removed), nil
}

// UserSessions lists index records for a user, newest first. Messages
// in the result are the inline tails, not full histories.
func (s *Store) UserSessions(ctx context.Context, userID string) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sessions []*Session
	for _, record := range s.index {
		if record.UserID == userID {
			sessions = append(sessions, record.Clone())
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastSaved.After(sessions[j].LastSaved)
	})
	return sessions, nil
}

// SaveMemoryMapping records the memory service session id for a
// conversation session.
func (s *Store) SaveMemoryMapping(ctx context.Context, sessionID, memorySessionID string) error {
	s.mu.Lock()
	s.mappings[sessionID] = memorySessionID
	s.mu.Unlock()

	if err := s.flushMappings(); err != nil {
		slog.Error("failed to write memory mappings",
			slog.String("session_id", sessionID), slog.Any("error", err))
		return err
	}
	return nil
}

// GetMemoryMapping returns the memory service session id for a
// conversation session, or "" when none is recorded.
func (s *Store) GetMemoryMapping(ctx context.Context, sessionID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mappings[sessionID], nil
}

func (s *Store) flushIndex() error {
	s.mu.RLock()
	idx := sessionIndex{Sessions: make(map[string]*Session, len(s.index))}
	for id, record := range s.index {
		idx.Sessions[id] = record.Clone()
	}
	s.mu.RUnlock()

	if err := s.writeJSONAtomic(s.indexPath(), idx, 0o644); err != nil {
		return errors.Wrap(err, "failed to write session index")
	}
	return nil
}

func (s *Store) flushMappings() error {
	s.mu.RLock()
	mappings := make(map[string]string, len(s.mappings))
	for k, v := range s.mappings {
		mappings[k] = v
	}
	s.mu.RUnlock()

	if err := s.writeJSONAtomic(s.mappingsPath(), mappings, 0o644); err != nil {
		return errors.Wrap(err, "failed to write memory mappings")
	}
	return nil
}

// writeJSONAtomic writes v as JSON through a temp file in the target
// directory, then renames it into place.
func (s *Store) writeJSONAtomic(path string, v any, perm os.FileMode) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal json")
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temp file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "failed to write temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "failed to close temp file")
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "failed to set file mode")
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "failed to rename temp file")
	}
	return nil
}
