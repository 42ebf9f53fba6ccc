package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/evahq/eva/store"
)

// MockAdapter is an in-memory Adapter implementation for testing.
type MockAdapter struct {
	mu       sync.RWMutex
	users    map[string]bool
	sessions map[string]string // session id -> external id
	messages map[string][]Message
	contexts map[string]string // session id -> canned context

	// FailAppend and FailRetrieve force errors so callers can be
	// checked for swallow-and-log behaviour.
	FailAppend   bool
	FailRetrieve bool
}

// NewMockAdapter creates an empty MockAdapter.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		users:    make(map[string]bool),
		sessions: make(map[string]string),
		messages: make(map[string][]Message),
		contexts: make(map[string]string),
	}
}

// SetContext sets the canned context returned for a session.
func (m *MockAdapter) SetContext(sessionID, context string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contexts[sessionID] = context
}

// Messages returns a copy of the messages appended for a session.
func (m *MockAdapter) Messages(sessionID string) []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Message(nil), m.messages[sessionID]...)
}

func (m *MockAdapter) EnsureUser(_ context.Context, baseUserID, contextName string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	scoped := ScopedUserID(baseUserID, contextName)
	m.users[scoped] = true
	return scoped, nil
}

func (m *MockAdapter) EnsureSession(_ context.Context, sessionID, baseUserID, contextName, mode string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if external, ok := m.sessions[sessionID]; ok {
		return external, nil
	}
	external := "ext-" + sessionID
	m.sessions[sessionID] = external
	m.users[ScopedUserID(baseUserID, contextName)] = true
	return external, nil
}

func (m *MockAdapter) Append(_ context.Context, sessionID string, messages []Message) error {
	if m.FailAppend {
		return errors.New("memory service unavailable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[sessionID] = append(m.messages[sessionID], messages...)
	return nil
}

func (m *MockAdapter) RetrieveContext(_ context.Context, sessionID string, includeCrossContext bool) (string, error) {
	if m.FailRetrieve {
		return "", errors.New("memory service unavailable")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	primary := m.contexts[sessionID]
	userID, contextName, mode, ok := store.ParseSessionID(sessionID)
	if !ok || !includeCrossContext || contextName != store.ContextWork {
		return primary, nil
	}
	research := m.contexts[store.SessionID(userID, store.ContextResearch, mode)]
	if research == "" {
		return primary, nil
	}
	parts := []string{}
	if primary != "" {
		parts = append(parts, primary)
	}
	parts = append(parts, CrossContextHeader+"\n"+research)
	return strings.Join(parts, "\n\n"), nil
}

func (m *MockAdapter) SwitchContext(_ context.Context, sessionID, newContext, newMode string) (string, error) {
	userID, _, mode, ok := store.ParseSessionID(sessionID)
	if !ok {
		return "", errors.Errorf("malformed session id: %s", sessionID)
	}
	if newMode == "" {
		newMode = mode
	}
	newSessionID := store.SessionID(userID, newContext, newMode)
	if _, err := m.EnsureSession(context.Background(), newSessionID, userID, newContext, newMode); err != nil {
		return "", err
	}
	return newSessionID, nil
}

var _ Adapter = (*MockAdapter)(nil)
