package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/evahq/eva/plugin/ai/agent"
)

// ImageBackend is one image generation endpoint.
type ImageBackend struct {
	BaseURL string
	APIKey  string
}

// ImageTool generates images, routing to a backend by model name
// prefix. An empty or unknown model falls back to the default
// backend.
type ImageTool struct {
	backends map[string]ImageBackend // key is the model prefix
	fallback string                  // prefix of the default backend
	http     *http.Client
}

// NewImageTool creates an image tool. backends maps model prefixes
// (e.g. "dall-e", "flux") to endpoints; fallback names the prefix
// used when the model is omitted.
func NewImageTool(backends map[string]ImageBackend, fallback string) *ImageTool {
	return &ImageTool{
		backends: backends,
		fallback: fallback,
		http:     &http.Client{Timeout: 60 * time.Second},
	}
}

func (t *ImageTool) Name() string { return "generate_image" }

func (t *ImageTool) Description() string {
	return "Generate an image from a text prompt. The model prefix selects the backend."
}

func (t *ImageTool) Parameters() agent.ParameterSchema {
	return agent.ParameterSchema{
		Properties: map[string]agent.Property{
			"prompt": {Type: "string", Description: "What to draw."},
			"model":  {Type: "string", Description: "Model name; null for the default."},
		},
		Required: []string{"prompt", "model"},
	}
}

func (t *ImageTool) Execute(ctx context.Context, args map[string]any) (map[string]any, error) {
	prompt, _ := args["prompt"].(string)
	if prompt == "" {
		return nil, errors.New("'prompt' must be a non-empty string")
	}
	model, _ := args["model"].(string)

	backend, resolvedModel, err := t.pick(model)
	if err != nil {
		return nil, err
	}
	return generateImage(ctx, t.http, backend, resolvedModel, prompt, false)
}

func (t *ImageTool) pick(model string) (ImageBackend, string, error) {
	if model == "" {
		backend, ok := t.backends[t.fallback]
		if !ok {
			return ImageBackend{}, "", errors.New("no default image backend configured")
		}
		return backend, t.fallback, nil
	}
	for prefix, backend := range t.backends {
		if strings.HasPrefix(model, prefix) {
			return backend, model, nil
		}
	}
	backend, ok := t.backends[t.fallback]
	if !ok {
		return ImageBackend{}, "", errors.Errorf("no backend for model %s", model)
	}
	return backend, model, nil
}

// generateImage posts a generation request and returns the image URL.
func generateImage(ctx context.Context, client *http.Client, backend ImageBackend, model, prompt string, unrestricted bool) (map[string]any, error) {
	payload := map[string]any{
		"model":  model,
		"prompt": prompt,
		"n":      1,
	}
	if unrestricted {
		payload["safety_checker"] = false
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal image request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		backend.BaseURL+"/v1/images/generations", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build image request")
	}
	req.Header.Set("Content-Type", "application/json")
	if backend.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+backend.APIKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "image request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read image response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("image backend returned %d", resp.StatusCode)
	}

	var parsed struct {
		Data []struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, errors.Wrap(err, "failed to parse image response")
	}
	if len(parsed.Data) == 0 {
		return nil, errors.New("image backend returned no images")
	}
	return map[string]any{"url": parsed.Data[0].URL, "model": model}, nil
}

// UnrestrictedImageTool is the separate variant that targets one
// specific backend with its content filter disabled. It carries its
// own schema and never routes by prefix.
type UnrestrictedImageTool struct {
	backend ImageBackend
	model   string
	http    *http.Client
}

// NewUnrestrictedImageTool creates the unrestricted variant pinned to
// one backend and model.
func NewUnrestrictedImageTool(backend ImageBackend, model string) *UnrestrictedImageTool {
	return &UnrestrictedImageTool{
		backend: backend,
		model:   model,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (t *UnrestrictedImageTool) Name() string { return "generate_image_unrestricted" }

func (t *UnrestrictedImageTool) Description() string {
	return "Generate an image without the standard content filter. Only for explicitly permitted requests."
}

func (t *UnrestrictedImageTool) Parameters() agent.ParameterSchema {
	return agent.ParameterSchema{
		Properties: map[string]agent.Property{
			"prompt": {Type: "string", Description: "What to draw."},
		},
		Required: []string{"prompt"},
	}
}

func (t *UnrestrictedImageTool) Execute(ctx context.Context, args map[string]any) (map[string]any, error) {
	prompt, _ := args["prompt"].(string)
	if prompt == "" {
		return nil, errors.New("'prompt' must be a non-empty string")
	}
	return generateImage(ctx, t.http, t.backend, t.model, prompt, true)
}
