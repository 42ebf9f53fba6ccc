package agent

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/evahq/eva/plugin/ai"
	"github.com/evahq/eva/plugin/ai/memory"
	"github.com/evahq/eva/plugin/ai/revival"
	"github.com/evahq/eva/store"
)

// Config tunes the orchestrator.
type Config struct {
	// MaxIterations caps LLM calls per turn. Zero means the package
	// default.
	MaxIterations int

	// ParallelToolCalls asks the provider for several calls per turn
	// when it wants them.
	ParallelToolCalls bool
}

// Orchestrator runs one conversation turn end to end. All
// collaborators are injected; memory and revivals are optional.
type Orchestrator struct {
	llm      ai.LLMService
	registry *Registry
	store    *store.Store
	memory   memory.Adapter
	revivals *revival.Engine
	config   Config
}

// NewOrchestrator wires a turn loop. store is required; mem and
// revivals may be nil to disable those features.
func NewOrchestrator(llm ai.LLMService, registry *Registry, st *store.Store, mem memory.Adapter, revivals *revival.Engine, config Config) *Orchestrator {
	if config.MaxIterations <= 0 || config.MaxIterations > MaxIterations {
		config.MaxIterations = MaxIterations
	}
	return &Orchestrator{
		llm:      llm,
		registry: registry,
		store:    st,
		memory:   mem,
		revivals: revivals,
		config:   config,
	}
}

// Run executes one turn: append the user message, loop the model over
// the tool set, settle on a reply, and persist. On a provider error
// the user message stays in the session so a retry has continuity.
func (o *Orchestrator) Run(ctx context.Context, session *store.Session, userMessage string) (string, []Event, error) {
	slog.Info("turn started",
		slog.String("session_id", session.SessionID),
		slog.String("mode", session.Mode),
		slog.Bool("voice", session.VoiceEnabled))

	session.Messages = append(session.Messages, store.Message{
		Role:      "user",
		Content:   userMessage,
		CreatedAt: time.Now().UTC(),
	})

	memoryContext := o.retrieveMemory(ctx, session)
	system := BuildSystemPrompt(session.Context, session.Mode, session.VoiceEnabled,
		o.registry.Describe(), memoryContext)

	wire := make([]ai.Message, 0, len(session.Messages)+1)
	wire = append(wire, ai.SystemPrompt(system))
	wire = append(wire, historyToWire(session.Messages)...)

	var events []Event
	reply := ""
	settled := false

	for iteration := 1; iteration <= o.config.MaxIterations; iteration++ {
		opts := &ai.ChatOptions{ParallelToolCalls: o.config.ParallelToolCalls}
		if iteration == 1 && o.forceSearch(userMessage) {
			opts.ToolChoice = "required"
		}

		resp, err := o.llm.ChatWithTools(ctx, wire, o.registry.Schema(), opts)
		if err != nil {
			o.persist(ctx, session)
			return "", events, errors.Wrap(err, "llm call failed")
		}

		if len(resp.ToolCalls) == 0 {
			reply = resp.Content
			if strings.TrimSpace(reply) == "" {
				reply = EmptyResponsePlaceholder
			}
			settled = true
			break
		}

		calls := normalizeCalls(resp.ToolCalls)
		wire = append(wire, ai.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: wireCalls(calls),
		})
		session.Messages = append(session.Messages, assistantToolMessage(resp.Content, calls))

		results := o.dispatch(ctx, calls)

		// Results go back to the model ordered by tool call id, not by
		// completion or call order.
		order := make([]int, len(calls))
		for i := range order {
			order[i] = i
		}
		sort.Slice(order, func(a, b int) bool { return calls[order[a]].ID < calls[order[b]].ID })

		for _, i := range order {
			result := results[i]
			events = append(events,
				Event{Type: "tool_use", Name: calls[i].Name, Detail: calls[i].Arguments},
				Event{Type: "tool_result", Name: calls[i].Name, Detail: result.Payload})
			wire = append(wire, ai.ToolMessage(result.ToolCallID, result.Payload))
			session.Messages = append(session.Messages, store.Message{
				Role:       "tool",
				Content:    result.Payload,
				ToolCallID: result.ToolCallID,
				CreatedAt:  time.Now().UTC(),
			})
		}
	}

	if !settled {
		slog.Warn("turn hit iteration cap", slog.String("session_id", session.SessionID))
		reply = IterationCapMessage
	}

	// Scoring sees the raw exchange; the revival aside is appended
	// afterwards so it never feeds back into its own vocabulary.
	if o.revivals != nil {
		o.revivals.Observe(session.UserID, session.Context, userMessage, reply)
	}
	if revived := o.maybeRevive(session, userMessage); revived != "" {
		reply = reply + " " + revived
		events = append(events, Event{Type: "revival", Detail: revived})
	}

	session.Messages = append(session.Messages, store.Message{
		Role:      "assistant",
		Content:   reply,
		CreatedAt: time.Now().UTC(),
	})

	o.persist(ctx, session)
	o.appendMemory(ctx, session, userMessage, reply)

	events = append(events, Event{Type: "answer", Detail: reply})
	slog.Info("turn completed", slog.String("session_id", session.SessionID))
	return reply, events, nil
}

// dispatch runs the turn's tool calls in parallel and returns results
// in call order.
func (o *Orchestrator) dispatch(ctx context.Context, calls []ToolCall) []ToolResult {
	results := make([]ToolResult, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = o.registry.Invoke(gctx, call)
			return nil
		})
	}
	g.Wait()
	return results
}

func (o *Orchestrator) forceSearch(userMessage string) bool {
	if !NeedsSearch(userMessage) {
		return false
	}
	_, ok := o.registry.Get("web_search")
	return ok
}

func (o *Orchestrator) retrieveMemory(ctx context.Context, session *store.Session) string {
	if o.memory == nil {
		return ""
	}
	if _, err := o.memory.EnsureSession(ctx, session.SessionID, session.UserID, session.Context, session.Mode); err != nil {
		slog.Warn("memory session unavailable",
			slog.String("session_id", session.SessionID), slog.Any("error", err))
		return ""
	}
	includeCross := session.Context == store.ContextWork
	memoryContext, err := o.memory.RetrieveContext(ctx, session.SessionID, includeCross)
	if err != nil {
		slog.Warn("memory retrieval failed",
			slog.String("session_id", session.SessionID), slog.Any("error", err))
		return ""
	}
	return memoryContext
}

func (o *Orchestrator) appendMemory(ctx context.Context, session *store.Session, userMessage, reply string) {
	if o.memory == nil {
		return
	}
	err := o.memory.Append(ctx, session.SessionID, []memory.Message{
		{Role: "user", Content: userMessage},
		{Role: "assistant", Content: reply, Metadata: map[string]string{
			"context": session.Context,
			"mode":    session.Mode,
		}},
	})
	if err != nil {
		slog.Warn("memory append failed",
			slog.String("session_id", session.SessionID), slog.Any("error", err))
	}
}

// maybeRevive decides whether to tack a remembered moment onto the
// reply, then records the current exchange for future revivals.
func (o *Orchestrator) maybeRevive(session *store.Session, userMessage string) string {
	if o.revivals == nil {
		return ""
	}

	revived := ""
	if o.revivals.ShouldRevive(session.UserID, userMessage, len(session.Messages), session.VoiceEnabled) {
		if entry := o.revivals.Retrieve(session.UserID, userMessage); entry != nil {
			revived = o.revivals.Synthesize(entry, session.VoiceEnabled)
		}
	}
	return revived
}

func (o *Orchestrator) persist(ctx context.Context, session *store.Session) {
	if err := o.store.SaveSession(ctx, session); err != nil {
		slog.Error("failed to persist session",
			slog.String("session_id", session.SessionID), slog.Any("error", err))
	}
}

// normalizeCalls converts wire tool calls, synthesizing ids for
// providers that omit them.
func normalizeCalls(calls []ai.ToolCall) []ToolCall {
	normalized := make([]ToolCall, 0, len(calls))
	for _, call := range calls {
		id := call.ID
		if id == "" {
			id = "call_" + shortuuid.New()
		}
		normalized = append(normalized, ToolCall{
			ID:        id,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	return normalized
}

func wireCalls(calls []ToolCall) []ai.ToolCall {
	wire := make([]ai.ToolCall, 0, len(calls))
	for _, call := range calls {
		wire = append(wire, ai.ToolCall{
			ID:   call.ID,
			Type: "function",
			Function: ai.FunctionCall{
				Name:      call.Name,
				Arguments: call.Arguments,
			},
		})
	}
	return wire
}

func assistantToolMessage(content string, calls []ToolCall) store.Message {
	msg := store.Message{
		Role:      "assistant",
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if strings.TrimSpace(msg.Content) == "" {
		msg.Content = PersistedNullPlaceholder
	}
	for _, call := range calls {
		msg.ToolCalls = append(msg.ToolCalls, store.ToolCall{
			ID:        call.ID,
			Name:      call.Name,
			Arguments: call.Arguments,
		})
	}
	return msg
}

// historyToWire converts persisted history to provider messages,
// keeping placeholders for null contents.
func historyToWire(messages []store.Message) []ai.Message {
	wire := make([]ai.Message, 0, len(messages))
	for _, msg := range messages {
		converted := ai.Message{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		if msg.Role == "assistant" && strings.TrimSpace(converted.Content) == "" {
			converted.Content = PersistedNullPlaceholder
		}
		for _, part := range msg.Parts {
			converted.Parts = append(converted.Parts, ai.ContentPart{
				Type:     part.Type,
				Text:     part.Text,
				ImageURL: part.ImageURL,
			})
		}
		for _, call := range msg.ToolCalls {
			converted.ToolCalls = append(converted.ToolCalls, ai.ToolCall{
				ID:   call.ID,
				Type: "function",
				Function: ai.FunctionCall{
					Name:      call.Name,
					Arguments: call.Arguments,
				},
			})
		}
		wire = append(wire, converted)
	}
	return wire
}
