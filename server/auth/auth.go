// Package auth implements password protection for designated
// conversation contexts, with bounded-lifetime tickets issued on
// successful verification.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 100000
	saltSize         = 32
	keySize          = 32

	// TicketTTL is the absolute lifetime of an auth ticket from
	// creation. Access slides last_access but never extends expiry.
	TicketTTL = 24 * time.Hour
)

// ErrInvalidPassword is returned when a supplied password does not
// match the stored entry.
var ErrInvalidPassword = errors.New("invalid password")

type passwordEntry struct {
	Salt       string    `json:"salt"`
	DerivedKey string    `json:"derived_key"`
	Iterations int       `json:"iterations"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at"`
}

// Ticket proves a past password verification for a user and context.
type Ticket struct {
	TicketID   string    `json:"ticket_id"`
	UserID     string    `json:"user_id"`
	Context    string    `json:"context"`
	CreatedAt  time.Time `json:"created_at"`
	LastAccess time.Time `json:"last_access"`
}

// Gate guards protected contexts. Password entries persist in a
// single owner-only file; tickets live in memory and expire on their
// own.
type Gate struct {
	path string

	mu      sync.Mutex
	entries map[string]*passwordEntry
	tickets map[string]*Ticket
}

// NewGate loads the auth file at path, creating its directory if
// needed.
func NewGate(path string) (*Gate, error) {
	g := &Gate{
		path:    path,
		entries: make(map[string]*passwordEntry),
		tickets: make(map[string]*Ticket),
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create auth directory")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return g, nil
		}
		return nil, errors.Wrap(err, "failed to read auth file")
	}
	if err := json.Unmarshal(data, &g.entries); err != nil {
		return nil, errors.Wrap(err, "failed to parse auth file")
	}
	return g, nil
}

func entryKey(userID, context string) string {
	return userID + "_" + context
}

// SetPassword derives and stores a password entry for the user and
// context. Existing tickets for the pair are revoked.
func (g *Gate) SetPassword(userID, context, password string) error {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return errors.Wrap(err, "failed to generate salt")
	}
	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, keySize, sha256.New)

	g.mu.Lock()
	g.entries[entryKey(userID, context)] = &passwordEntry{
		Salt:       base64.StdEncoding.EncodeToString(salt),
		DerivedKey: base64.StdEncoding.EncodeToString(key),
		Iterations: pbkdf2Iterations,
		Enabled:    true,
		CreatedAt:  time.Now().UTC(),
	}
	g.revokeLocked(userID, context)
	err := g.flushLocked()
	g.mu.Unlock()
	return err
}

// RemovePassword disables protection for the user and context and
// revokes any tickets issued for it.
func (g *Gate) RemovePassword(userID, context string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := entryKey(userID, context)
	if _, ok := g.entries[key]; !ok {
		return nil
	}
	delete(g.entries, key)
	g.revokeLocked(userID, context)
	return g.flushLocked()
}

// IsRequired reports whether the user and context currently require a
// password.
func (g *Gate) IsRequired(userID, context string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.entries[entryKey(userID, context)]
	return ok && entry.Enabled
}

// VerifyPassword checks a password against the stored entry. A
// missing or disabled entry grants access.
func (g *Gate) VerifyPassword(userID, context, password string) bool {
	g.mu.Lock()
	entry, ok := g.entries[entryKey(userID, context)]
	g.mu.Unlock()
	if !ok || !entry.Enabled {
		return true
	}

	salt, err := base64.StdEncoding.DecodeString(entry.Salt)
	if err != nil {
		slog.Error("corrupt auth entry salt",
			slog.String("user_id", userID), slog.String("context", context))
		return false
	}
	stored, err := base64.StdEncoding.DecodeString(entry.DerivedKey)
	if err != nil {
		slog.Error("corrupt auth entry key",
			slog.String("user_id", userID), slog.String("context", context))
		return false
	}

	iterations := entry.Iterations
	if iterations <= 0 {
		iterations = pbkdf2Iterations
	}
	derived := pbkdf2.Key([]byte(password), salt, iterations, len(stored), sha256.New)
	return hmac.Equal(derived, stored)
}

// CreateTicket issues a new 32-byte URL-safe ticket for the user and
// context.
func (g *Gate) CreateTicket(userID, context string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", errors.Wrap(err, "failed to generate ticket")
	}
	id := base64.RawURLEncoding.EncodeToString(raw)

	now := time.Now().UTC()
	g.mu.Lock()
	g.tickets[id] = &Ticket{
		TicketID:   id,
		UserID:     userID,
		Context:    context,
		CreatedAt:  now,
		LastAccess: now,
	}
	g.mu.Unlock()
	return id, nil
}

// VerifyTicket reports whether the ticket exists, matches the user
// and context, and has not passed its absolute expiry. A valid access
// updates last_access.
func (g *Gate) VerifyTicket(ticketID, userID, context string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	ticket, ok := g.tickets[ticketID]
	if !ok {
		return false
	}
	if time.Since(ticket.CreatedAt) > TicketTTL {
		delete(g.tickets, ticketID)
		return false
	}
	if ticket.UserID != userID || ticket.Context != context {
		return false
	}
	ticket.LastAccess = time.Now().UTC()
	return true
}

// RevokeTicket invalidates a single ticket.
func (g *Gate) RevokeTicket(ticketID string) {
	g.mu.Lock()
	delete(g.tickets, ticketID)
	g.mu.Unlock()
}

// CleanupExpired drops expired tickets and returns how many were
// removed.
func (g *Gate) CleanupExpired() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for id, ticket := range g.tickets {
		if time.Since(ticket.CreatedAt) > TicketTTL {
			delete(g.tickets, id)
			removed++
		}
	}
	return removed
}

func (g *Gate) revokeLocked(userID, context string) {
	for id, ticket := range g.tickets {
		if ticket.UserID == userID && ticket.Context == context {
			delete(g.tickets, id)
		}
	}
}

// flushLocked rewrites the auth file atomically with owner-only
// permissions. Callers hold g.mu.
func (g *Gate) flushLocked() error {
	data, err := json.MarshalIndent(g.entries, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal auth entries")
	}

	dir := filepath.Dir(g.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(g.path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temp auth file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "failed to write temp auth file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "failed to close temp auth file")
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "failed to restrict auth file mode")
	}
	if err := os.Rename(tmpName, g.path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "failed to rename temp auth file")
	}
	return nil
}
