package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Message represents a chat message on the provider wire.
type Message struct {
	Role    string // system, user, assistant, tool
	Content string

	// Parts carries a structured multipart payload (image inputs).
	// When non-empty it replaces Content on the wire.
	Parts []ContentPart

	// ToolCalls is set on assistant messages that request tool invocations.
	ToolCalls []ToolCall

	// ToolCallID is set on tool messages and references the call answered.
	ToolCallID string
}

// ContentPart is one element of a multipart message payload.
type ContentPart struct {
	Type     string // "text" or "image_url"
	Text     string
	ImageURL string
}

// ToolDescriptor describes one tool exposed to the LLM.
type ToolDescriptor struct {
	Name        string
	Description string
	// Parameters is the JSON Schema for the tool arguments, serialized.
	Parameters string
}

// ToolCall is a tool invocation requested by the LLM.
type ToolCall struct {
	ID       string
	Type     string
	Function FunctionCall
}

// FunctionCall carries the call target and its raw JSON arguments.
type FunctionCall struct {
	Name      string
	Arguments string
}

// ChatResponse is the assistant message returned by ChatWithTools.
type ChatResponse struct {
	Content   string
	ToolCalls []ToolCall
}

// ChatOptions tunes a single ChatWithTools call.
type ChatOptions struct {
	// ToolChoice is "auto" (default) or "required".
	ToolChoice string
	// ParallelToolCalls allows the provider to emit several calls per turn.
	ParallelToolCalls bool
}

// LLMService is the LLM service interface.
type LLMService interface {
	// Chat performs synchronous chat.
	Chat(ctx context.Context, messages []Message) (string, error)

	// ChatWithTools performs chat with native tool calling.
	ChatWithTools(ctx context.Context, messages []Message, tools []ToolDescriptor, opts *ChatOptions) (*ChatResponse, error)
}

type llmService struct {
	client *openai.Client
	config *LLMConfig
}

// NewLLMService creates a new LLMService backed by an OpenAI-compatible endpoint.
func NewLLMService(cfg *LLMConfig) (LLMService, error) {
	if cfg == nil {
		cfg = DefaultLLMConfig()
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &llmService{
		client: openai.NewClientWithConfig(clientConfig),
		config: cfg,
	}, nil
}

func (s *llmService) Chat(ctx context.Context, messages []Message) (string, error) {
	var result string
	err := s.doWithRetry(ctx, func(ctx context.Context) error {
		req := openai.ChatCompletionRequest{
			Model:     s.config.Model,
			Messages:  convertMessages(messages),
			MaxTokens: s.config.MaxTokens,
		}

		resp, err := s.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("empty chat response")
		}
		result = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to complete chat: %w", err)
	}
	return result, nil
}

func (s *llmService) ChatWithTools(ctx context.Context, messages []Message, tools []ToolDescriptor, opts *ChatOptions) (*ChatResponse, error) {
	req := openai.ChatCompletionRequest{
		Model:     s.config.Model,
		Messages:  convertMessages(messages),
		MaxTokens: s.config.MaxTokens,
		Tools:     convertTools(tools),
	}
	if opts != nil {
		if opts.ToolChoice != "" {
			req.ToolChoice = opts.ToolChoice
		}
		if opts.ParallelToolCalls {
			req.ParallelToolCalls = true
		}
	}

	var result *ChatResponse
	err := s.doWithRetry(ctx, func(ctx context.Context) error {
		resp, err := s.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("empty chat response")
		}

		choice := resp.Choices[0].Message
		out := &ChatResponse{Content: choice.Content}
		for _, tc := range choice.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:   tc.ID,
				Type: string(tc.Type),
				Function: FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		result = out
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to complete chat with tools: %w", err)
	}
	return result, nil
}

// doWithRetry executes a request with the configured deadline and
// exponential backoff retry.
func (s *llmService) doWithRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < s.config.MaxRetries; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
		err := fn(reqCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < s.config.MaxRetries-1 {
			waitTime := time.Duration(math.Pow(2, float64(attempt))) * time.Second
			slog.Debug("LLM request failed, retrying",
				"attempt", attempt+1,
				"wait_time", waitTime,
				"error", err)
			select {
			case <-time.After(waitTime):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		if len(m.Parts) > 0 {
			msg.Content = ""
			msg.MultiContent = convertParts(m.Parts)
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolType(tc.Type),
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out[i] = msg
	}
	return out
}

func convertParts(parts []ContentPart) []openai.ChatMessagePart {
	out := make([]openai.ChatMessagePart, len(parts))
	for i, p := range parts {
		switch p.Type {
		case "image_url":
			out[i] = openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: p.ImageURL},
			}
		default:
			out[i] = openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: p.Text,
			}
		}
	}
	return out
}

func convertTools(tools []ToolDescriptor) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		params := json.RawMessage(t.Parameters)
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		}
	}
	return out
}

// SystemPrompt creates a system message.
func SystemPrompt(content string) Message {
	return Message{Role: "system", Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// AssistantMessage creates an assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: "assistant", Content: content}
}

// ToolMessage creates a tool result message answering toolCallID.
func ToolMessage(toolCallID, content string) Message {
	return Message{Role: "tool", ToolCallID: toolCallID, Content: content}
}
