package tools

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/evahq/eva/plugin/ai/agent"
)

// WebSearchTool queries an external search API.
type WebSearchTool struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewWebSearchTool creates a search tool against baseURL.
func NewWebSearchTool(baseURL, apiKey string) *WebSearchTool {
	return &WebSearchTool{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web for current information: news, weather, prices, facts."
}

func (t *WebSearchTool) Parameters() agent.ParameterSchema {
	return agent.ParameterSchema{
		Properties: map[string]agent.Property{
			"query": {Type: "string", Description: "The search query."},
		},
		Required: []string{"query"},
	}
}

type searchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any) (map[string]any, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return nil, errors.New("'query' must be a non-empty string")
	}

	endpoint := t.baseURL + "/search?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build search request")
	}
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "search request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read search response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("search backend returned %d", resp.StatusCode)
	}

	var parsed struct {
		Results []searchResult `json:"results"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errors.Wrap(err, "failed to parse search response")
	}

	results := make([]map[string]any, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		results = append(results, map[string]any{
			"title":   r.Title,
			"url":     r.URL,
			"snippet": r.Snippet,
		})
	}
	return map[string]any{"query": query, "results": results}, nil
}
