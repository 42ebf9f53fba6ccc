package store

import (
	"strings"
	"time"
)

// Context and mode names used throughout the service. "private" is an
// accepted alias that shares the protection rules of "personal".
const (
	ContextWork     = "work"
	ContextPersonal = "personal"
	ContextCreative = "creative"
	ContextResearch = "research"
	ContextGeneral  = "general"
	ContextPrivate  = "private"
)

const (
	ModeAssistant = "assistant"
	ModeCoach     = "coach"
	ModeTutor     = "tutor"
	ModeAdvisor   = "advisor"
	ModeFriend    = "friend"
	ModeAnalyst   = "analyst"
	ModeCreative  = "creative"
)

// KnownContexts lists every accepted conversation context.
var KnownContexts = []string{
	ContextWork, ContextPersonal, ContextCreative,
	ContextResearch, ContextGeneral, ContextPrivate,
}

// KnownModes lists every accepted conversation mode.
var KnownModes = []string{
	ModeAssistant, ModeCoach, ModeTutor, ModeAdvisor,
	ModeFriend, ModeAnalyst, ModeCreative,
}

// IsKnownContext reports whether name is a recognized context.
func IsKnownContext(name string) bool {
	for _, c := range KnownContexts {
		if c == name {
			return true
		}
	}
	return false
}

// IsKnownMode reports whether name is a recognized mode.
func IsKnownMode(name string) bool {
	for _, m := range KnownModes {
		if m == name {
			return true
		}
	}
	return false
}

// IsProtectedContext reports whether conversations in the context may
// require password authentication before use.
func IsProtectedContext(name string) bool {
	return name == ContextPersonal || name == ContextPrivate
}

// SessionID builds the canonical session identifier for a user,
// context and mode triple.
func SessionID(userID, context, mode string) string {
	return userID + "_" + context + "_" + mode
}

// ParseSessionID splits a canonical session identifier back into its
// user, context and mode. User ids may contain underscores, so the
// trailing two components are taken as mode and context.
func ParseSessionID(sessionID string) (userID, context, mode string, ok bool) {
	modeIdx := strings.LastIndex(sessionID, "_")
	if modeIdx <= 0 {
		return "", "", "", false
	}
	mode = sessionID[modeIdx+1:]
	rest := sessionID[:modeIdx]

	contextIdx := strings.LastIndex(rest, "_")
	if contextIdx <= 0 {
		return "", "", "", false
	}
	context = rest[contextIdx+1:]
	userID = rest[:contextIdx]

	if !IsKnownContext(context) || !IsKnownMode(mode) {
		return "", "", "", false
	}
	return userID, context, mode, true
}

// ContentPart is one piece of a multimodal message body.
type ContentPart struct {
	Type     string `json:"type"` // "text" or "image_url"
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// ToolCall records a tool invocation requested by the model, with its
// arguments kept as the raw JSON the model produced.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is a single persisted conversation message.
type Message struct {
	Role       string        `json:"role"`
	Content    string        `json:"content"`
	Parts      []ContentPart `json:"parts,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	CreatedAt  time.Time     `json:"created_at,omitempty"`
}

// Session is a persisted conversation session. The index file keeps at
// most InlineMessageLimit trailing messages per session; older history
// lives in a per-session sidecar file and FullHistoryAvailable is set.
type Session struct {
	SessionID            string    `json:"session_id"`
	UserID               string    `json:"user_id"`
	Context              string    `json:"context"`
	Mode                 string    `json:"mode"`
	Messages             []Message `json:"messages"`
	VoiceEnabled         bool      `json:"voice_enabled,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	LastSaved            time.Time `json:"last_saved"`
	FullHistoryAvailable bool      `json:"full_history_available,omitempty"`
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Messages = make([]Message, len(s.Messages))
	copy(cp.Messages, s.Messages)
	for i := range cp.Messages {
		if len(s.Messages[i].Parts) > 0 {
			cp.Messages[i].Parts = append([]ContentPart(nil), s.Messages[i].Parts...)
		}
		if len(s.Messages[i].ToolCalls) > 0 {
			cp.Messages[i].ToolCalls = append([]ToolCall(nil), s.Messages[i].ToolCalls...)
		}
	}
	return &cp
}

// FindSession narrows session lookups.
type FindSession struct {
	SessionID *string
	UserID    *string
	Context   *string
}
