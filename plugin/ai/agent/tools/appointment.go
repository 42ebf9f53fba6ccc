package tools

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/evahq/eva/plugin/ai"
	"github.com/evahq/eva/plugin/ai/agent"
)

// AppointmentTool drafts appointment material: an agenda, talking
// points, and a confirmation message. It only generates content; it
// never books anything.
type AppointmentTool struct {
	llm ai.LLMService
}

// NewAppointmentTool creates an appointment tool backed by the given
// model.
func NewAppointmentTool(llm ai.LLMService) *AppointmentTool {
	return &AppointmentTool{llm: llm}
}

func (t *AppointmentTool) Name() string { return "prepare_appointment" }

func (t *AppointmentTool) Description() string {
	return "Draft an agenda and confirmation text for an appointment. Does not book anything."
}

func (t *AppointmentTool) Parameters() agent.ParameterSchema {
	return agent.ParameterSchema{
		Properties: map[string]agent.Property{
			"title":        {Type: "string", Description: "What the appointment is about."},
			"datetime":     {Type: "string", Description: "When it takes place, ISO 8601."},
			"participants": {Type: "array", Description: "Who attends; null if unknown.", Items: &agent.Property{Type: "string"}},
			"notes":        {Type: "string", Description: "Extra context; null if none."},
		},
		Required: []string{"title", "datetime", "participants", "notes"},
	}
}

func (t *AppointmentTool) Execute(ctx context.Context, args map[string]any) (map[string]any, error) {
	title, _ := args["title"].(string)
	datetime, _ := args["datetime"].(string)
	if title == "" || datetime == "" {
		return nil, errors.New("'title' and 'datetime' must be non-empty")
	}
	participants, _ := stringSlice(args["participants"])
	notes, _ := args["notes"].(string)

	prompt := fmt.Sprintf(
		"Draft a short agenda and a one-paragraph confirmation message for this appointment.\n"+
			"Title: %s\nWhen: %s\nParticipants: %v\nNotes: %s",
		title, datetime, participants, notes)

	content, err := t.llm.Chat(ctx, []ai.Message{
		ai.SystemPrompt("You prepare concise, professional meeting material."),
		ai.UserMessage(prompt),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to draft appointment material")
	}

	return map[string]any{
		"title":    title,
		"datetime": datetime,
		"content":  content,
	}, nil
}
