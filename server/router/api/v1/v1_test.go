package v1

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evahq/eva/internal/profile"
	"github.com/evahq/eva/plugin/ai"
	"github.com/evahq/eva/plugin/ai/agent"
	"github.com/evahq/eva/server/auth"
	"github.com/evahq/eva/server/middleware"
	"github.com/evahq/eva/server/service/session"
	"github.com/evahq/eva/store"
)

// scriptedLLM returns canned responses in order.
type scriptedLLM struct {
	responses []*ai.ChatResponse
	err       error
	calls     int
}

func (s *scriptedLLM) Chat(context.Context, []ai.Message) (string, error) {
	return "", s.err
}

func (s *scriptedLLM) ChatWithTools(context.Context, []ai.Message, []ai.ToolDescriptor, *ai.ChatOptions) (*ai.ChatResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	resp := s.responses[s.calls%len(s.responses)]
	s.calls++
	return resp, nil
}

func newTestService(t *testing.T, llm ai.LLMService) (*APIV1Service, *echo.Echo, *auth.Gate) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.New(&profile.Profile{Data: dir})
	require.NoError(t, err)
	gate, err := auth.NewGate(filepath.Join(dir, "auth.json"))
	require.NoError(t, err)

	sessions := session.NewRouter(st, gate)
	orchestrator := agent.NewOrchestrator(llm, agent.NewRegistry(), st, nil, nil, agent.Config{})
	service := NewAPIV1Service(st, gate, sessions, orchestrator, middleware.NewRateLimiter(1000, 1000))

	e := echo.New()
	service.Register(e)
	return service, e, gate
}

func doJSON(e *echo.Echo, method, path string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestTurnBasic(t *testing.T) {
	llm := &scriptedLLM{responses: []*ai.ChatResponse{{Content: "Hello Alice."}}}
	_, e, _ := newTestService(t, llm)

	rec := doJSON(e, http.MethodPost, "/api/v1/turn",
		`{"user_id":"alice","context":"general","mode":"assistant","message":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp turnResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Hello Alice.", resp.AssistantMessage)
	assert.Equal(t, "alice_general_assistant", resp.SessionID)
	assert.Empty(t, resp.AuthTicketID)
}

func TestTurnBySessionID(t *testing.T) {
	llm := &scriptedLLM{responses: []*ai.ChatResponse{{Content: "ok"}}}
	_, e, _ := newTestService(t, llm)

	rec := doJSON(e, http.MethodPost, "/api/v1/turn",
		`{"session_id":"alice_work_analyst","message":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp turnResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "alice_work_analyst", resp.SessionID)
}

func TestTurnValidation(t *testing.T) {
	llm := &scriptedLLM{responses: []*ai.ChatResponse{{Content: "ok"}}}
	_, e, _ := newTestService(t, llm)

	rec := doJSON(e, http.MethodPost, "/api/v1/turn", `{"user_id":"alice","message":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(e, http.MethodPost, "/api/v1/turn",
		`{"user_id":"alice","context":"dungeon","mode":"assistant","message":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(e, http.MethodPost, "/api/v1/turn", `{"session_id":"garbage","message":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTurnAuthFlow(t *testing.T) {
	llm := &scriptedLLM{responses: []*ai.ChatResponse{{Content: "secret reply"}}}
	_, e, gate := newTestService(t, llm)

	// Set a password for the personal context.
	rec := doJSON(e, http.MethodPost, "/api/v1/users/alice/password",
		`{"context":"personal","password":"p1"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, gate.IsRequired("alice", "personal"))

	// No password: auth_required.
	rec = doJSON(e, http.MethodPost, "/api/v1/turn",
		`{"user_id":"alice","context":"personal","mode":"friend","message":"hi"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "auth_required")

	// Wrong password: auth_invalid.
	rec = doJSON(e, http.MethodPost, "/api/v1/turn",
		`{"user_id":"alice","context":"personal","mode":"friend","message":"hi","password":"nope"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "auth_invalid")

	// Correct password: success and a ticket comes back.
	rec = doJSON(e, http.MethodPost, "/api/v1/turn",
		`{"user_id":"alice","context":"personal","mode":"friend","message":"hi","password":"p1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp turnResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.AuthTicketID)
	assert.Equal(t, "secret reply", resp.AssistantMessage)

	// The ticket alone authorizes the next turn.
	rec = doJSON(e, http.MethodPost, "/api/v1/turn",
		`{"user_id":"alice","context":"personal","mode":"friend","message":"again","auth_ticket_id":"`+resp.AuthTicketID+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthRequiredDoesNotAppend(t *testing.T) {
	llm := &scriptedLLM{responses: []*ai.ChatResponse{{Content: "ok"}}}
	service, e, gate := newTestService(t, llm)
	require.NoError(t, gate.SetPassword("alice", "personal", "p1"))

	rec := doJSON(e, http.MethodPost, "/api/v1/turn",
		`{"user_id":"alice","context":"personal","mode":"friend","message":"hi"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	loaded, err := service.store.GetSession(context.Background(), "alice_personal_friend")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

// slowLLM answers after a delay so that turns can overlap.
type slowLLM struct {
	delay time.Duration
}

func (s *slowLLM) Chat(context.Context, []ai.Message) (string, error) {
	return "done", nil
}

func (s *slowLLM) ChatWithTools(ctx context.Context, _ []ai.Message, _ []ai.ToolDescriptor, _ *ai.ChatOptions) (*ai.ChatResponse, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.delay):
	}
	return &ai.ChatResponse{Content: "done"}, nil
}

func TestOverlappingTurnsKeepBothExchanges(t *testing.T) {
	llm := &slowLLM{delay: 150 * time.Millisecond}
	service, e, _ := newTestService(t, llm)

	var wg sync.WaitGroup
	codes := make([]int, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := doJSON(e, http.MethodPost, "/api/v1/turn",
				fmt.Sprintf(`{"user_id":"alice","context":"general","mode":"assistant","message":"turn %d"}`, i))
			codes[i] = rec.Code
		}()
	}
	wg.Wait()

	for _, code := range codes {
		require.Equal(t, http.StatusOK, code)
	}

	// Both exchanges survive: neither turn clobbers the other's pair.
	loaded, err := service.store.GetSession(context.Background(), "alice_general_assistant")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Len(t, loaded.Messages, 4)
}

func TestTurnProviderUnavailable(t *testing.T) {
	llm := &scriptedLLM{err: assert.AnError}
	_, e, _ := newTestService(t, llm)

	rec := doJSON(e, http.MethodPost, "/api/v1/turn",
		`{"user_id":"alice","context":"general","mode":"assistant","message":"hi"}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "provider_unavailable")
	assert.Contains(t, rec.Body.String(), "I apologize, but I encountered an error: ")
}

func TestUserSessionsAndExport(t *testing.T) {
	llm := &scriptedLLM{responses: []*ai.ChatResponse{{Content: "noted"}}}
	_, e, _ := newTestService(t, llm)

	rec := doJSON(e, http.MethodPost, "/api/v1/turn",
		`{"user_id":"alice","context":"general","mode":"assistant","message":"remember this"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(e, http.MethodGet, "/api/v1/users/alice/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Sessions []store.Session `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing.Sessions, 1)
	assert.Equal(t, "alice_general_assistant", listing.Sessions[0].SessionID)

	rec = doJSON(e, http.MethodGet, "/api/v1/users/alice/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var export map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &export))
	assert.Contains(t, export["path"], "eva_conversations.json")
}

func TestRateLimit(t *testing.T) {
	llm := &scriptedLLM{responses: []*ai.ChatResponse{{Content: "ok"}}}
	dir := t.TempDir()
	st, err := store.New(&profile.Profile{Data: dir})
	require.NoError(t, err)
	gate, err := auth.NewGate(filepath.Join(dir, "auth.json"))
	require.NoError(t, err)
	sessions := session.NewRouter(st, gate)
	orchestrator := agent.NewOrchestrator(llm, agent.NewRegistry(), st, nil, nil, agent.Config{})
	service := NewAPIV1Service(st, gate, sessions, orchestrator, middleware.NewRateLimiter(1, 2))

	e := echo.New()
	service.Register(e)

	codes := make(map[int]int)
	for i := 0; i < 5; i++ {
		rec := doJSON(e, http.MethodPost, "/api/v1/turn",
			`{"user_id":"alice","context":"general","mode":"assistant","message":"hi"}`)
		codes[rec.Code]++
	}
	assert.Greater(t, codes[http.StatusTooManyRequests], 0)
}
