package hooks

import (
	"context"
	"strings"

	"looper_server/agent"
)

// ValidationPrefix is the todo prefix that unlocks execute_python when the
// validation gate is on.
const ValidationPrefix = "Write Python code to"

// ValidationGateHook refuses execute_python until the session's plan holds a
// todo starting with ValidationPrefix (case-insensitive).
type ValidationGateHook struct {
	agent.BaseHook
}

func NewValidationGateHook() *ValidationGateHook { return &ValidationGateHook{} }

func (h *ValidationGateHook) Name() string { return "validation_gate" }

func (h *ValidationGateHook) WrapToolCall(ctx context.Context, call agent.ToolCall, next agent.ToolCallFunc) (*agent.ToolResult, error) {
	if call.Name != ToolExecutePython {
		return next(ctx, call)
	}
	sess := agent.SessionFromContext(ctx)
	if sess != nil && hasValidationTodo(sess) {
		return next(ctx, call)
	}
	msg := `execute_python requires a todo prefixed with "` + ValidationPrefix + `..."; add one with create_todos first`
	return &agent.ToolResult{
		ToolCallID: call.ID,
		Name:       call.Name,
		Error:      msg,
		Output:     "Error: " + msg,
	}, nil
}

func hasValidationTodo(sess *agent.Session) bool {
	prefix := strings.ToLower(ValidationPrefix)
	for _, it := range sess.Todos.List() {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(it.Description)), prefix) {
			return true
		}
	}
	return false
}
