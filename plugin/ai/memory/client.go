package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/evahq/eva/store"
)

const clientTimeout = 10 * time.Second

// Client talks to the external memory service over REST. It is safe
// for concurrent use.
type Client struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	mappings MappingStore
}

// NewClient creates a memory client. mappings persists the session
// bindings across restarts.
func NewClient(baseURL, apiKey string, mappings MappingStore) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		http:     &http.Client{Timeout: clientTimeout},
		mappings: mappings,
	}
}

// ScopedUserID builds the context-scoped virtual identity for a base
// user.
func ScopedUserID(baseUserID, contextName string) string {
	return baseUserID + "_" + contextName
}

// EnsureUser registers the context-scoped identity. An already
// registered identity is not an error.
func (c *Client) EnsureUser(ctx context.Context, baseUserID, contextName string) (string, error) {
	scoped := ScopedUserID(baseUserID, contextName)
	body := map[string]string{"user_id": scoped}
	if err := c.post(ctx, "/api/v2/users", body, nil); err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusConflict {
			return scoped, nil
		}
		return "", errors.Wrap(err, "failed to ensure memory user")
	}
	return scoped, nil
}

// EnsureSession returns the external memory session for a
// conversation session, creating and persisting the binding when none
// exists yet.
func (c *Client) EnsureSession(ctx context.Context, sessionID, baseUserID, contextName, mode string) (string, error) {
	if existing, err := c.mappings.GetMemoryMapping(ctx, sessionID); err == nil && existing != "" {
		return existing, nil
	}

	if _, err := c.EnsureUser(ctx, baseUserID, contextName); err != nil {
		return "", err
	}

	external := uuid.NewString()
	body := map[string]any{
		"session_id": external,
		"user_id":    ScopedUserID(baseUserID, contextName),
		"metadata":   map[string]string{"context": contextName, "mode": mode},
	}
	if err := c.post(ctx, "/api/v2/sessions", body, nil); err != nil {
		return "", errors.Wrap(err, "failed to create memory session")
	}

	if err := c.mappings.SaveMemoryMapping(ctx, sessionID, external); err != nil {
		slog.Error("failed to persist memory mapping",
			slog.String("session_id", sessionID), slog.Any("error", err))
	}
	return external, nil
}

// Append records messages against the session's external memory
// session. Assistant messages carry context and mode metadata.
func (c *Client) Append(ctx context.Context, sessionID string, messages []Message) error {
	external, err := c.mappings.GetMemoryMapping(ctx, sessionID)
	if err != nil || external == "" {
		return errors.New("no memory session bound")
	}

	body := map[string]any{"messages": messages}
	path := fmt.Sprintf("/api/v2/sessions/%s/memory", url.PathEscape(external))
	if err := c.post(ctx, path, body, nil); err != nil {
		return errors.Wrap(err, "failed to append to memory session")
	}
	return nil
}

type contextResponse struct {
	Context string `json:"context"`
}

// RetrieveContext returns the synthesized memory context for a
// session. For work sessions with includeCrossContext set, the same
// user's research context is appended under CrossContextHeader; a
// failure on that secondary lookup is logged and skipped.
func (c *Client) RetrieveContext(ctx context.Context, sessionID string, includeCrossContext bool) (string, error) {
	primary, err := c.retrieveBySessionID(ctx, sessionID)
	if err != nil {
		return "", err
	}

	userID, contextName, mode, ok := store.ParseSessionID(sessionID)
	if !ok || !includeCrossContext || contextName != store.ContextWork {
		return primary, nil
	}

	researchID := store.SessionID(userID, store.ContextResearch, mode)
	research, err := c.retrieveBySessionID(ctx, researchID)
	if err != nil {
		slog.Warn("failed to retrieve research context",
			slog.String("session_id", researchID), slog.Any("error", err))
		return primary, nil
	}
	if research == "" {
		return primary, nil
	}
	if primary == "" {
		return CrossContextHeader + "\n" + research, nil
	}
	return primary + "\n\n" + CrossContextHeader + "\n" + research, nil
}

func (c *Client) retrieveBySessionID(ctx context.Context, sessionID string) (string, error) {
	external, err := c.mappings.GetMemoryMapping(ctx, sessionID)
	if err != nil || external == "" {
		return "", nil
	}

	var resp contextResponse
	path := fmt.Sprintf("/api/v2/sessions/%s/memory", url.PathEscape(external))
	if err := c.get(ctx, path, &resp); err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return "", nil
		}
		return "", errors.Wrap(err, "failed to retrieve memory context")
	}
	return resp.Context, nil
}

// SwitchContext binds a parallel session in a new context for the
// same user and returns its conversation session id.
func (c *Client) SwitchContext(ctx context.Context, sessionID, newContext, newMode string) (string, error) {
	userID, _, mode, ok := store.ParseSessionID(sessionID)
	if !ok {
		return "", errors.Errorf("malformed session id: %s", sessionID)
	}
	if newMode == "" {
		newMode = mode
	}

	newSessionID := store.SessionID(userID, newContext, newMode)
	if _, err := c.EnsureSession(ctx, newSessionID, userID, newContext, newMode); err != nil {
		return "", err
	}
	return newSessionID, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("memory service returned %d: %s", e.code, e.body)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "failed to marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Api-Key "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "memory service request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrap(err, "failed to read memory service response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(data))}
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return errors.Wrap(err, "failed to parse memory service response")
		}
	}
	return nil
}

var _ Adapter = (*Client)(nil)
