package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestFileToolReadWriteList(t *testing.T) {
	ctx := context.Background()
	tool := NewFileTool(t.TempDir())

	result, err := tool.Execute(ctx, map[string]any{
		"action": "write", "path": "notes/todo.txt", "content": "buy milk",
	})
	require.NoError(t, err)
	assert.Equal(t, 8, result["bytes_written"])

	result, err = tool.Execute(ctx, map[string]any{
		"action": "read", "path": "notes/todo.txt", "content": nil,
	})
	require.NoError(t, err)
	assert.Equal(t, "buy milk", result["content"])

	result, err = tool.Execute(ctx, map[string]any{
		"action": "list", "path": "notes", "content": nil,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"todo.txt"}, result["entries"])
}

func TestFileToolSandbox(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	tool := NewFileTool(root)

	secret := filepath.Join(filepath.Dir(root), "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("hidden"), 0o644))

	tests := []string{
		"../secret.txt",
		"notes/../../secret.txt",
		"/etc/passwd",
	}
	for _, path := range tests {
		_, err := tool.Execute(ctx, map[string]any{"action": "read", "path": path, "content": nil})
		assert.Error(t, err, path)
	}

	// Dot-dot segments that stay inside the sandbox are fine.
	_, err := tool.Execute(ctx, map[string]any{
		"action": "write", "path": "a/../inside.txt", "content": "ok",
	})
	assert.NoError(t, err)
}

func TestMailTool(t *testing.T) {
	var sentTo []string
	var sentMsg string
	tool := NewMailTool("smtp.example.com:587", "eva@example.com", nil)
	tool.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		sentTo = to
		sentMsg = string(msg)
		return nil
	}

	result, err := tool.Execute(context.Background(), map[string]any{
		"to": []any{"a@b.com"}, "subject": "Hi", "body": "Hello",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a@b.com"}, sentTo)
	assert.Contains(t, sentMsg, "Subject: Hi")
	assert.Contains(t, sentMsg, "Hello")
	assert.NotEmpty(t, result["message_id"])

	_, err = tool.Execute(context.Background(), map[string]any{
		"to": []any{"not-an-address"}, "subject": "Hi", "body": "Hello",
	})
	assert.Error(t, err)

	_, err = tool.Execute(context.Background(), map[string]any{
		"to": []any{}, "subject": "Hi", "body": "Hello",
	})
	assert.Error(t, err)
}

func TestWebSearchTool(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "berlin weather", r.URL.Query().Get("q"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]string{
				{"title": "Weather Berlin", "url": "https://w.example", "snippet": "Sunny"},
			},
		})
	}))
	defer server.Close()

	tool := NewWebSearchTool(server.URL, "test-key")
	result, err := tool.Execute(context.Background(), map[string]any{"query": "berlin weather"})
	require.NoError(t, err)

	results := result["results"].([]map[string]any)
	require.Len(t, results, 1)
	assert.Equal(t, "Weather Berlin", results[0]["title"])
}

func TestImageToolBackendRouting(t *testing.T) {
	var gotModel string
	dalle := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		gotModel, _ = body["model"].(string)
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"url": "https://img.example/dalle.png"}},
		})
	}))
	defer dalle.Close()

	flux := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"url": "https://img.example/flux.png"}},
		})
	}))
	defer flux.Close()

	tool := NewImageTool(map[string]ImageBackend{
		"dall-e": {BaseURL: dalle.URL},
		"flux":   {BaseURL: flux.URL},
	}, "dall-e")

	result, err := tool.Execute(context.Background(), map[string]any{
		"prompt": "a lighthouse", "model": "flux-schnell",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/flux.png", result["url"])

	// Omitted model routes to the default backend.
	result, err = tool.Execute(context.Background(), map[string]any{
		"prompt": "a lighthouse", "model": nil,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/dalle.png", result["url"])
	assert.Equal(t, "dall-e", gotModel)
}

func TestUnrestrictedImageToolDisablesFilter(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"url": "https://img.example/raw.png"}},
		})
	}))
	defer server.Close()

	tool := NewUnrestrictedImageTool(ImageBackend{BaseURL: server.URL}, "flux-dev")
	result, err := tool.Execute(context.Background(), map[string]any{"prompt": "anything"})
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/raw.png", result["url"])
	assert.Equal(t, false, body["safety_checker"])
}

func TestMusicTool(t *testing.T) {
	var gotAuth, gotPath, gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotMethod = r.Method
		if r.URL.Path == "/v1/me/player" {
			json.NewEncoder(w).Encode(map[string]any{
				"is_playing": true,
				"item":       map[string]string{"name": "Holiday", "artist": "Bell Choir"},
			})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	tool := NewMusicTool(server.URL, &oauth2.Token{AccessToken: "tok"}, nil)

	result, err := tool.Execute(context.Background(), map[string]any{"action": "pause", "query": nil})
	require.NoError(t, err)
	assert.Equal(t, "pause", result["action"])
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "/v1/me/player/pause", gotPath)
	assert.Equal(t, http.MethodPut, gotMethod)

	result, err = tool.Execute(context.Background(), map[string]any{"action": "status", "query": nil})
	require.NoError(t, err)
	assert.Equal(t, true, result["is_playing"])
	assert.Equal(t, "Holiday", result["track"])
}

func TestMessagingTool(t *testing.T) {
	var payload map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	tool := NewMessagingTool(server.URL)
	result, err := tool.Execute(context.Background(), map[string]any{
		"channel": "#family", "message": "Running late, home by 7.",
	})
	require.NoError(t, err)
	assert.Equal(t, true, result["delivered"])
	assert.Equal(t, "#family", payload["channel"])

	_, err = tool.Execute(context.Background(), map[string]any{"channel": "", "message": "x"})
	assert.Error(t, err)
}
