package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/evahq/eva/plugin/ai/agent"
)

// MessagingTool relays a message to a named channel through an
// outbound webhook.
type MessagingTool struct {
	webhookURL string
	http       *http.Client
}

// NewMessagingTool creates a messaging relay against webhookURL.
func NewMessagingTool(webhookURL string) *MessagingTool {
	return &MessagingTool{
		webhookURL: webhookURL,
		http:       &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *MessagingTool) Name() string { return "send_message" }

func (t *MessagingTool) Description() string {
	return "Relay a short message to a messaging channel on the user's behalf."
}

func (t *MessagingTool) Parameters() agent.ParameterSchema {
	return agent.ParameterSchema{
		Properties: map[string]agent.Property{
			"channel": {Type: "string", Description: "Target channel or recipient handle."},
			"message": {Type: "string", Description: "The message text."},
		},
		Required: []string{"channel", "message"},
	}
}

func (t *MessagingTool) Execute(ctx context.Context, args map[string]any) (map[string]any, error) {
	channel, _ := args["channel"].(string)
	message, _ := args["message"].(string)
	if channel == "" || message == "" {
		return nil, errors.New("'channel' and 'message' must be non-empty")
	}

	payload, err := json.Marshal(map[string]string{"channel": channel, "text": message})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal relay payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build relay request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "relay request failed")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return nil, errors.Errorf("relay returned %d", resp.StatusCode)
	}
	return map[string]any{"channel": channel, "delivered": true}, nil
}
