package hooks

import (
	"context"
	"errors"

	"looper_server/agent"
	"looper_server/backend"
)

// ToolExecutePython is the name of the code execution tool.
const ToolExecutePython = "execute_python"

type executePythonArgs struct {
	Code string `json:"code" jsonschema_description:"Python source to run"`
}

// CodeExecHook registers execute_python, backed by a sandbox executor.
type CodeExecHook struct {
	agent.BaseHook
	exec *backend.Executor
}

// NewCodeExecHook creates the hook.
func NewCodeExecHook(exec *backend.Executor) *CodeExecHook {
	return &CodeExecHook{exec: exec}
}

func (h *CodeExecHook) Name() string { return "codeexec" }

func (h *CodeExecHook) BeforeAgent(ctx context.Context, sess *agent.Session) error {
	sess.Tools.Register(h.Tool())
	return nil
}

// Tool returns the execute_python tool. A missing result is reported back to
// the engine; a sandbox service failure aborts the run.
func (h *CodeExecHook) Tool() agent.Tool {
	return agent.NewTypedTool(ToolExecutePython,
		"Execute Python code in the code interpreter.",
		func(ctx context.Context, args executePythonArgs) (string, error) {
			out, err := h.exec.Execute(ctx, args.Code)
			if err != nil {
				var svcErr *backend.ServiceError
				if errors.As(err, &svcErr) {
					return "", agent.Abort(err)
				}
				return "", err
			}
			return out, nil
		})
}
