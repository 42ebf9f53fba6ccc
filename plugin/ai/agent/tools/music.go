package tools

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	"github.com/evahq/eva/plugin/ai/agent"
)

// MusicTool controls the user's music player through an OAuth-scoped
// API.
type MusicTool struct {
	baseURL string
	source  oauth2.TokenSource
	timeout time.Duration
}

// NewMusicTool creates a music tool. token and refreshToken come from
// the deployment profile; the oauth2 transport refreshes as needed.
func NewMusicTool(baseURL string, token *oauth2.Token, config *oauth2.Config) *MusicTool {
	var source oauth2.TokenSource
	if config != nil {
		source = config.TokenSource(context.Background(), token)
	} else {
		source = oauth2.StaticTokenSource(token)
	}
	return &MusicTool{baseURL: baseURL, source: source, timeout: 10 * time.Second}
}

func (t *MusicTool) Name() string { return "music" }

func (t *MusicTool) Description() string {
	return "Control music playback: play, pause, skip, queue a track, or report what's playing."
}

func (t *MusicTool) Parameters() agent.ParameterSchema {
	return agent.ParameterSchema{
		Properties: map[string]agent.Property{
			"action": {Type: "string", Enum: []string{"play", "pause", "next", "previous", "queue", "status"}},
			"query":  {Type: "string", Description: "What to play or queue; null for other actions."},
		},
		Required: []string{"action", "query"},
	}
}

func (t *MusicTool) Execute(ctx context.Context, args map[string]any) (map[string]any, error) {
	action, _ := args["action"].(string)

	client := oauth2.NewClient(ctx, t.source)
	client.Timeout = t.timeout

	switch action {
	case "play":
		query, _ := args["query"].(string)
		endpoint := t.baseURL + "/v1/me/player/play"
		if query != "" {
			endpoint += "?q=" + url.QueryEscape(query)
		}
		return t.command(ctx, client, http.MethodPut, endpoint, map[string]any{"action": "play", "query": query})
	case "pause":
		return t.command(ctx, client, http.MethodPut, t.baseURL+"/v1/me/player/pause", map[string]any{"action": "pause"})
	case "next":
		return t.command(ctx, client, http.MethodPost, t.baseURL+"/v1/me/player/next", map[string]any{"action": "next"})
	case "previous":
		return t.command(ctx, client, http.MethodPost, t.baseURL+"/v1/me/player/previous", map[string]any{"action": "previous"})
	case "queue":
		query, _ := args["query"].(string)
		if query == "" {
			return nil, errors.New("queue requires a query")
		}
		endpoint := t.baseURL + "/v1/me/player/queue?uri=" + url.QueryEscape(query)
		return t.command(ctx, client, http.MethodPost, endpoint, map[string]any{"action": "queue", "query": query})
	case "status":
		return t.status(ctx, client)
	default:
		return nil, errors.Errorf("unknown action: %s", action)
	}
}

func (t *MusicTool) command(ctx context.Context, client *http.Client, method, endpoint string, result map[string]any) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build player request")
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "player request failed")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return nil, errors.Errorf("player returned %d", resp.StatusCode)
	}
	return result, nil
}

func (t *MusicTool) status(ctx context.Context, client *http.Client) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/v1/me/player", nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build player request")
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "player request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read player response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("player returned %d", resp.StatusCode)
	}

	var parsed struct {
		IsPlaying bool `json:"is_playing"`
		Item      struct {
			Name   string `json:"name"`
			Artist string `json:"artist"`
		} `json:"item"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, errors.Wrap(err, "failed to parse player response")
	}
	return map[string]any{
		"action":     "status",
		"is_playing": parsed.IsPlaying,
		"track":      parsed.Item.Name,
		"artist":     parsed.Item.Artist,
	}, nil
}
