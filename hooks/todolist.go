package hooks

import (
	"context"
	"errors"

	"looper_server/agent"
	"looper_server/todo"
)

// PlanningPrompt is the default system instruction: plan with the todo
// tools, solve analytically, then validate with Python.
const PlanningPrompt = `
You are given a problem to solve, by using your todo tools to plan a list of steps, then carrying out each step in turn.
You also have access to an execute_python tool to run Python.
Your plan should include solving the problem without Python, then writing and executing Python code to validate your solution.
To use the execute_python tool to validate your solution, you must have a task on your todo list prefixed with "Write Python code to...".
Now use the todo list tools, create a plan, carry out the steps, and reply with the solution.
`

// NoTodoAtIndex is returned to the engine when mark_complete misses.
const NoTodoAtIndex = "No todo at this index."

// Tool names registered by TodoListHook.
const (
	ToolCreateTodos  = "create_todos"
	ToolMarkComplete = "mark_complete"
	ToolListTodos    = "list_todos"
)

type createTodosArgs struct {
	Descriptions []string `json:"descriptions" jsonschema_description:"Texts of the todos to add, in order"`
}

type markCompleteArgs struct {
	Index int `json:"index" jsonschema_description:"Position of the todo, starting from 1"`
}

type listTodosArgs struct{}

// TodoListHook exposes the session's todo list to the engine. Every tool
// answers with the full current report so the engine's view never drifts
// from the store.
type TodoListHook struct {
	agent.BaseHook
	renderer *todo.Renderer
}

// NewTodoListHook creates a todo list hook. A nil renderer uses the markup style.
func NewTodoListHook(renderer *todo.Renderer) *TodoListHook {
	if renderer == nil {
		renderer = todo.NewRenderer(nil)
	}
	return &TodoListHook{renderer: renderer}
}

func (h *TodoListHook) Name() string { return "todolist" }

// BeforeAgent binds the todo tools to the session's store.
func (h *TodoListHook) BeforeAgent(ctx context.Context, sess *agent.Session) error {
	sess.Tools.Register(h.Tools(sess.Todos)...)
	return nil
}

// Tools returns the todo tools operating on store.
func (h *TodoListHook) Tools(store *todo.Store) []agent.Tool {
	return []agent.Tool{
		agent.NewTypedTool(ToolCreateTodos,
			"Add new todos from a list of descriptions and return the full list",
			func(ctx context.Context, args createTodosArgs) (string, error) {
				store.Create(args.Descriptions)
				return h.renderer.Render(store), nil
			}),
		agent.NewTypedTool(ToolMarkComplete,
			"Mark complete the todo at the given position (starting from 1) and return the full list",
			func(ctx context.Context, args markCompleteArgs) (string, error) {
				if err := store.MarkComplete(args.Index); err != nil {
					if errors.Is(err, todo.ErrInvalidIndex) {
						return NoTodoAtIndex, nil
					}
					return "", err
				}
				return h.renderer.Render(store), nil
			}),
		agent.NewTypedTool(ToolListTodos,
			"Return the full list of todos with completed ones checked off",
			func(ctx context.Context, _ listTodosArgs) (string, error) {
				return h.renderer.Render(store), nil
			}),
	}
}
