// Package tools implements the built-in tool set: mail, files, web
// search, image generation, music control, appointments, and message
// relay.
package tools

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/pkg/errors"

	"github.com/evahq/eva/plugin/ai/agent"
)

// MailTool sends plain-text mail through a configured SMTP relay.
type MailTool struct {
	host string // host:port
	from string
	auth smtp.Auth

	// send is swappable for tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewMailTool creates a mail tool. auth may be nil for an open relay.
func NewMailTool(host, from string, auth smtp.Auth) *MailTool {
	return &MailTool{host: host, from: from, auth: auth, send: smtp.SendMail}
}

func (t *MailTool) Name() string { return "send_mail" }

func (t *MailTool) Description() string {
	return "Send an email. Requires recipient addresses, a subject, and a body."
}

func (t *MailTool) Parameters() agent.ParameterSchema {
	return agent.ParameterSchema{
		Properties: map[string]agent.Property{
			"to":      {Type: "array", Description: "Recipient email addresses.", Items: &agent.Property{Type: "string"}},
			"subject": {Type: "string", Description: "Subject line."},
			"body":    {Type: "string", Description: "Plain-text body."},
		},
		Required: []string{"to", "subject", "body"},
	}
}

func (t *MailTool) Execute(ctx context.Context, args map[string]any) (map[string]any, error) {
	recipients, err := stringSlice(args["to"])
	if err != nil || len(recipients) == 0 {
		return nil, errors.New("'to' must be a non-empty list of addresses")
	}
	subject, _ := args["subject"].(string)
	body, _ := args["body"].(string)

	for _, addr := range recipients {
		if !strings.Contains(addr, "@") {
			return nil, errors.Errorf("invalid recipient address: %s", addr)
		}
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		t.from, strings.Join(recipients, ", "), subject, body)

	if err := t.send(t.host, t.auth, t.from, recipients, []byte(msg)); err != nil {
		return nil, errors.Wrap(err, "failed to send mail")
	}
	return map[string]any{
		"message_id": fmt.Sprintf("<%d@%s>", len(msg), strings.Split(t.host, ":")[0]),
		"recipients": recipients,
	}, nil
}

func stringSlice(v any) ([]string, error) {
	raw, ok := v.([]any)
	if !ok {
		return nil, errors.New("expected a list")
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, errors.New("expected a list of strings")
		}
		out = append(out, s)
	}
	return out, nil
}
