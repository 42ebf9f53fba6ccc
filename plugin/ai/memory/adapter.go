// Package memory provides the narrow interface to the external
// long-term memory service. State is partitioned by (base user,
// context): each user has a separate virtual identity per context, so
// a work conversation cannot read personal memories by default.
package memory

import (
	"context"
	"time"
)

// CrossContextHeader prefixes research-context material appended to a
// work-context retrieval.
const CrossContextHeader = "[Related Research Context]:"

// Adapter is the memory service interface consumed by the
// conversation orchestrator. Implementations must never be load
// bearing: callers swallow and log retrieval failures, and treat
// append failures as advisory because the in-memory session is
// authoritative.
type Adapter interface {
	// EnsureUser registers the context-scoped identity for a base
	// user. Idempotent.
	EnsureUser(ctx context.Context, baseUserID, contextName string) (string, error)

	// EnsureSession binds a conversation session to an external
	// memory session, reusing a persisted mapping when one exists so
	// the same logical session rebinds after a restart.
	EnsureSession(ctx context.Context, sessionID, baseUserID, contextName, mode string) (string, error)

	// Append records conversation messages. Assistant messages are
	// tagged with context and mode metadata.
	Append(ctx context.Context, sessionID string, messages []Message) error

	// RetrieveContext returns the memory context for a session, or ""
	// when none is available. When includeCrossContext is set and the
	// session belongs to the work context, the same user's research
	// context is appended under CrossContextHeader.
	RetrieveContext(ctx context.Context, sessionID string, includeCrossContext bool) (string, error)

	// SwitchContext creates a parallel session in a new context,
	// preserving the user identity, and returns the new session id.
	SwitchContext(ctx context.Context, sessionID, newContext, newMode string) (string, error)
}

// Message is one conversation message sent to the memory service.
type Message struct {
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp,omitempty"`
}

// MappingStore persists the binding between conversation sessions and
// external memory sessions.
type MappingStore interface {
	SaveMemoryMapping(ctx context.Context, sessionID, memorySessionID string) error
	GetMemoryMapping(ctx context.Context, sessionID string) (string, error)
}
