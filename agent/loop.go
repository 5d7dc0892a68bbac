package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"looper_server/llm"
	"looper_server/todo"
)

// DefaultMaxIterations caps the model/tool loop when no limit is configured.
const DefaultMaxIterations = 25

// Agent drives the tool-calling loop between the decision engine and the
// registered tools.
type Agent struct {
	Name          string
	Model         string
	LLM           llm.Client
	SystemPrompt  string
	Tools         []Tool
	Hooks         []Hook
	MaxIterations int
	MaxTokens     int
	Temperature   *float64
	Log           logrus.FieldLogger

	// Streaming selects Client.Stream for engine turns. When false each turn
	// is one Client.Call and its content is emitted as a single delta.
	Streaming bool
}

// Option configures an Agent.
type Option func(*Agent)

func WithName(name string) Option            { return func(a *Agent) { a.Name = name } }
func WithModel(model string) Option          { return func(a *Agent) { a.Model = model } }
func WithSystemPrompt(p string) Option       { return func(a *Agent) { a.SystemPrompt = p } }
func WithTools(tools ...Tool) Option         { return func(a *Agent) { a.Tools = append(a.Tools, tools...) } }
func WithHooks(hooks ...Hook) Option         { return func(a *Agent) { a.Hooks = append(a.Hooks, hooks...) } }
func WithMaxIterations(n int) Option         { return func(a *Agent) { a.MaxIterations = n } }
func WithTemperature(t *float64) Option      { return func(a *Agent) { a.Temperature = t } }
func WithLogger(l logrus.FieldLogger) Option { return func(a *Agent) { a.Log = l } }
func WithStreaming(on bool) Option           { return func(a *Agent) { a.Streaming = on } }

// New creates an Agent backed by client.
func New(client llm.Client, opts ...Option) *Agent {
	a := &Agent{
		Name:          "looper",
		LLM:           client,
		MaxIterations: DefaultMaxIterations,
		MaxTokens:     4096,
		Log:           logrus.StandardLogger(),
		Streaming:     true,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.MaxIterations <= 0 {
		a.MaxIterations = DefaultMaxIterations
	}
	return a
}

// RunStream executes the agent and streams events to eventCh, ending with
// a "done" or "error" event. eventCh is closed when the run finishes and
// the caller must read until then.
func (a *Agent) RunStream(ctx context.Context, sess *Session, prompt string, eventCh chan<- StreamEvent) {
	defer close(eventCh)

	start := time.Now()
	log := a.Log.WithField("session_id", sess.ID)

	_, err := a.runLoop(ctx, sess, prompt, eventCh)
	if err != nil {
		log.WithError(err).Warn("agent run failed")
		eventCh <- StreamEvent{Event: EventError, SessionID: sess.ID, Err: err, Data: map[string]string{"error": err.Error()}}
		return
	}
	log.WithField("duration_ms", time.Since(start).Milliseconds()).Info("agent run finished")
	eventCh <- StreamEvent{Event: EventDone, SessionID: sess.ID}
}

// emit sends ev unless the consumer has gone away.
func emit(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) {
	select {
	case ch <- ev:
	case <-ctx.Done():
	}
}

func (a *Agent) runLoop(ctx context.Context, sess *Session, prompt string, eventCh chan<- StreamEvent) (string, error) {
	ctx = WithSession(ctx, sess)
	tr := TraceFromContext(ctx)
	log := a.Log.WithField("session_id", sess.ID)

	for _, hook := range a.Hooks {
		s := startSpan(tr, "hook.before_agent/"+hook.Name())
		if err := hook.BeforeAgent(ctx, sess); err != nil {
			s.Set("error", err.Error()).End()
			return "", fmt.Errorf("hook %s BeforeAgent: %w", hook.Name(), err)
		}
		s.End()
	}

	toolMap := make(map[string]Tool)
	for _, t := range a.Tools {
		toolMap[t.Name()] = t
	}
	for name, t := range sess.Tools.All() {
		toolMap[name] = t
	}
	toolSchemas := buildToolSchemas(toolMap)
	if tr != nil {
		names := make([]string, len(toolSchemas))
		for i, s := range toolSchemas {
			names[i] = s.Name
		}
		tr.RecordEvent("tools.available", map[string]any{"count": len(names), "tools": names})
	}

	modelCall := a.buildModelChain(toolSchemas, eventCh)
	toolCall := a.buildToolCallChain(toolMap)

	sess.Append(Human(prompt))

	for iter := 0; iter < a.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		ilog := log.WithField("iteration", iter)

		msgs := sess.Messages()
		for _, hook := range a.Hooks {
			var err error
			msgs, err = hook.ModifyRequest(ctx, sess, msgs)
			if err != nil {
				return "", fmt.Errorf("hook %s ModifyRequest: %w", hook.Name(), err)
			}
		}

		emit(ctx, eventCh, StreamEvent{Event: EventModelStart, Name: a.Model})
		resp, err := modelCall(ctx, msgs)
		if err != nil {
			return "", fmt.Errorf("model call: %w", err)
		}
		emit(ctx, eventCh, StreamEvent{Event: EventModelEnd, Name: a.Model})

		sess.Append(AI(resp.Content, resp.ToolCalls...))
		emit(ctx, eventCh, StreamEvent{
			Event:     EventMessage,
			Name:      a.Model,
			Text:      resp.Content,
			SessionID: sess.ID,
			Data:      MessageSnapshot{Todos: sess.Todos.List()},
		})

		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}

		// One call at a time, in the order the engine asked for them.
		for _, tc := range resp.ToolCalls {
			emit(ctx, eventCh, StreamEvent{
				Event: EventToolStart,
				Name:  tc.Name,
				RunID: tc.ID,
				Data:  map[string]any{"input": tc.Args},
			})

			result, err := toolCall(ctx, tc)
			if err != nil {
				ilog.WithField("tool", tc.Name).WithError(err).Error("tool aborted run")
				return "", fmt.Errorf("tool %s: %w", tc.Name, err)
			}
			if result == nil {
				result = &ToolResult{ToolCallID: tc.ID, Name: tc.Name}
			}

			emit(ctx, eventCh, StreamEvent{
				Event: EventToolEnd,
				Name:  tc.Name,
				RunID: tc.ID,
				Data:  map[string]any{"output": result.Output},
			})
			sess.Append(ToolMsg(tc.ID, tc.Name, result.Output))
		}
	}

	log.WithField("max_iterations", a.MaxIterations).Warn("iteration cap reached")
	return "", ErrMaxIterations
}

// MessageSnapshot is the payload of an on_message event: the todo list as
// it stood when the message completed.
type MessageSnapshot struct {
	Todos []todo.Item `json:"todos"`
}

func (a *Agent) executeTool(ctx context.Context, tc ToolCall, toolMap map[string]Tool) (*ToolResult, error) {
	tool, ok := toolMap[tc.Name]
	if !ok {
		return &ToolResult{
			ToolCallID: tc.ID,
			Name:       tc.Name,
			Error:      fmt.Errorf("%w: %s", ErrUnknownTool, tc.Name).Error(),
			Output:     fmt.Sprintf("Error: tool %q not found", tc.Name),
		}, nil
	}

	output, err := tool.Execute(ctx, tc.Args)
	if err != nil {
		if IsAbort(err) {
			return nil, err
		}
		return &ToolResult{
			ToolCallID: tc.ID,
			Name:       tc.Name,
			Error:      err.Error(),
			Output:     "Error: " + err.Error(),
		}, nil
	}
	return &ToolResult{ToolCallID: tc.ID, Name: tc.Name, Output: output}, nil
}

func (a *Agent) buildModelChain(toolSchemas []llm.ToolSchema, eventCh chan<- StreamEvent) ModelCallWrapFunc {
	base := func(ctx context.Context, msgs []Message) (*llm.Response, error) {
		req := llm.Request{
			Model:        a.Model,
			Messages:     convertMessages(msgs),
			Tools:        toolSchemas,
			SystemPrompt: a.SystemPrompt,
			MaxTokens:    a.MaxTokens,
			Temperature:  a.Temperature,
		}

		if !a.Streaming {
			resp, err := a.LLM.Call(ctx, req)
			if err != nil {
				return nil, err
			}
			if resp.Content != "" {
				emit(ctx, eventCh, StreamEvent{Event: EventModelStream, Name: a.Model, Text: resp.Content})
			}
			return resp, nil
		}

		chunkCh := make(chan llm.StreamChunk, 64)
		errCh := make(chan error, 1)
		go func() { errCh <- a.LLM.Stream(ctx, req, chunkCh) }()

		var (
			content   strings.Builder
			toolCalls []ToolCall
			chunkErr  error
		)
		// Drain fully so the client can always finish sending.
		for chunk := range chunkCh {
			if chunk.Error != nil {
				if chunkErr == nil {
					chunkErr = chunk.Error
				}
				continue
			}
			if chunkErr != nil {
				continue
			}
			if chunk.Delta != "" {
				content.WriteString(chunk.Delta)
				emit(ctx, eventCh, StreamEvent{Event: EventModelStream, Name: a.Model, Text: chunk.Delta})
			}
			if chunk.ToolCall != nil {
				toolCalls = append(toolCalls, *chunk.ToolCall)
			}
		}
		if err := <-errCh; err != nil {
			return nil, err
		}
		if chunkErr != nil {
			return nil, chunkErr
		}
		return &llm.Response{Content: content.String(), ToolCalls: toolCalls}, nil
	}

	fn := ModelCallWrapFunc(base)
	for i := len(a.Hooks) - 1; i >= 0; i-- {
		hook := a.Hooks[i]
		prev := fn
		fn = func(ctx context.Context, msgs []Message) (*llm.Response, error) {
			resp, err := hook.WrapModelCall(ctx, msgs, prev)
			if err != nil {
				return nil, err
			}
			if resp == nil {
				return nil, errors.New("hook " + hook.Name() + " returned no response")
			}
			return resp, nil
		}
	}
	return fn
}

// buildToolCallChain wraps tool execution with every WrapToolCall hook,
// index 0 outermost.
func (a *Agent) buildToolCallChain(toolMap map[string]Tool) ToolCallFunc {
	fn := ToolCallFunc(func(ctx context.Context, tc ToolCall) (*ToolResult, error) {
		return a.executeTool(ctx, tc, toolMap)
	})
	for i := len(a.Hooks) - 1; i >= 0; i-- {
		hook := a.Hooks[i]
		prev := fn
		fn = func(ctx context.Context, tc ToolCall) (*ToolResult, error) {
			return hook.WrapToolCall(ctx, tc, prev)
		}
	}
	return fn
}

func buildToolSchemas(toolMap map[string]Tool) []llm.ToolSchema {
	schemas := make([]llm.ToolSchema, 0, len(toolMap))
	for _, t := range toolMap {
		schemas = append(schemas, llm.ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })
	return schemas
}
