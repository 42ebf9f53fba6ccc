package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/evahq/eva/plugin/ai"
)

// Registry holds the closed tool set and is the single barrier
// between tool handlers and the turn loop: Invoke never panics and
// never returns a malformed result.
type Registry struct {
	tools   map[string]Tool
	order   []string
	timeout time.Duration
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		timeout: ToolCallTimeout,
	}
}

// Register adds a tool. Duplicate names are an error.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return errors.New("tool cannot be nil")
	}
	name := tool.Name()
	if name == "" {
		return errors.New("tool name cannot be empty")
	}
	if _, exists := r.tools[name]; exists {
		return errors.Errorf("tool %s already registered", name)
	}
	r.tools[name] = tool
	r.order = append(r.order, name)
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	tool, exists := r.tools[name]
	return tool, exists
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	return len(r.tools)
}

// Schema returns the tool descriptors in registration order.
func (r *Registry) Schema() []ai.ToolDescriptor {
	descriptors := make([]ai.ToolDescriptor, 0, len(r.tools))
	for _, name := range r.order {
		tool := r.tools[name]
		descriptors = append(descriptors, ai.ToolDescriptor{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.Parameters().JSON(),
		})
	}
	return descriptors
}

// Describe returns a short listing for the system prompt.
func (r *Registry) Describe() string {
	if len(r.tools) == 0 {
		return "No tools available."
	}
	var b strings.Builder
	for _, name := range r.order {
		b.WriteString("- ")
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(r.tools[name].Description())
		b.WriteString("\n")
	}
	return b.String()
}

// Invoke executes one tool call under the per-call deadline. Every
// failure mode, including handler panics and unserializable results,
// comes back as a structured failure result.
func (r *Registry) Invoke(ctx context.Context, call ToolCall) ToolResult {
	tool, ok := r.tools[call.Name]
	if !ok {
		return r.failure(call, fmt.Sprintf("Unknown tool '%s'", call.Name))
	}

	args := map[string]any{}
	if strings.TrimSpace(call.Arguments) != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return r.failure(call, fmt.Sprintf("Invalid tool arguments: %v", err))
		}
	}
	if err := validateArgs(tool.Parameters(), args); err != nil {
		return r.failure(call, err.Error())
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	started := time.Now()
	result, err := r.run(callCtx, tool, args)
	elapsed := time.Since(started)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			slog.Warn("tool call timed out",
				slog.String("tool", call.Name), slog.Duration("elapsed", elapsed))
			return r.failure(call, toolTimeoutError)
		}
		slog.Warn("tool call failed",
			slog.String("tool", call.Name), slog.Any("error", err))
		return r.failure(call, err.Error())
	}

	if result == nil {
		result = map[string]any{}
	}
	if _, ok := result["success"]; !ok {
		result["success"] = true
	}
	payload, err := json.Marshal(result)
	if err != nil {
		slog.Warn("tool result not serializable",
			slog.String("tool", call.Name), slog.Any("error", err))
		return r.failure(call, fmt.Sprintf("Tool result could not be serialized: %v", err))
	}

	slog.Debug("tool call completed",
		slog.String("tool", call.Name), slog.Duration("elapsed", elapsed))
	return ToolResult{
		ToolCallID: call.ID,
		Name:       call.Name,
		Success:    result["success"] == true,
		Payload:    string(payload),
	}
}

// run executes the handler in its own goroutine so a deadline can cut
// it off and a panic cannot escape.
func (r *Registry) run(ctx context.Context, tool Tool, args map[string]any) (result map[string]any, err error) {
	type outcome struct {
		result map[string]any
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: errors.Errorf("tool panicked: %v", rec)}
			}
		}()
		res, execErr := tool.Execute(ctx, args)
		done <- outcome{result: res, err: execErr}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-done:
		if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) {
			return nil, context.DeadlineExceeded
		}
		return out.result, out.err
	}
}

func (r *Registry) failure(call ToolCall, message string) ToolResult {
	payload, _ := json.Marshal(map[string]any{
		"success":     false,
		"error":       message,
		"recoverable": true,
	})
	return ToolResult{
		ToolCallID: call.ID,
		Name:       call.Name,
		Success:    false,
		Payload:    string(payload),
	}
}

// validateArgs enforces the strict parameter contract: every required
// field present, no fields outside the schema.
func validateArgs(schema ParameterSchema, args map[string]any) error {
	for _, key := range schema.Required {
		if _, ok := args[key]; !ok {
			return errors.Errorf("Missing required '%s'", key)
		}
	}

	var unknown []string
	for key := range args {
		if _, ok := schema.Properties[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return errors.Errorf("Unknown parameter '%s'", strings.Join(unknown, "', '"))
	}
	return nil
}
