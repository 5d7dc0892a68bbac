package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"looper_server/agent"
	"looper_server/backend"
	"looper_server/llm"
	"looper_server/todo"
)

func toolByName(t *testing.T, tools []agent.Tool, name string) agent.Tool {
	t.Helper()
	for _, tl := range tools {
		if tl.Name() == name {
			return tl
		}
	}
	t.Fatalf("tool %s not registered", name)
	return nil
}

func TestTodoListHook_Tools(t *testing.T) {
	store := todo.NewStore()
	tools := NewTodoListHook(nil).Tools(store)
	ctx := context.Background()

	create := toolByName(t, tools, ToolCreateTodos)
	out, err := create.Execute(ctx, map[string]any{"descriptions": []any{"Solve 2+2 analytically", "Write Python code to validate 2+2"}})
	if err != nil {
		t.Fatal(err)
	}
	want := "Todo #1: [ ] Solve 2+2 analytically\n" +
		"Todo #2: [ ] [red]Write Python code to validate 2+2[/red]\n"
	if out != want {
		t.Fatalf("expected report\n%q\ngot\n%q", want, out)
	}

	mark := toolByName(t, tools, ToolMarkComplete)
	out, err = mark.Execute(ctx, map[string]any{"index": float64(1)})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "Todo #1: [X] [strike][green]Solve 2+2 analytically[/strike][/green]\n") {
		t.Fatalf("unexpected report %q", out)
	}

	for _, idx := range []float64{0, 3, -1} {
		out, err = mark.Execute(ctx, map[string]any{"index": idx})
		if err != nil {
			t.Fatal(err)
		}
		if out != NoTodoAtIndex {
			t.Fatalf("index %v: expected %q, got %q", idx, NoTodoAtIndex, out)
		}
	}

	list := toolByName(t, tools, ToolListTodos)
	out, err = list.Execute(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out != todo.Render(store) {
		t.Fatalf("list_todos must return the full report, got %q", out)
	}
}

func TestTodoListHook_RegistersOnSession(t *testing.T) {
	sess := agent.NewSession()
	if err := NewTodoListHook(nil).BeforeAgent(context.Background(), sess); err != nil {
		t.Fatal(err)
	}
	got := strings.Join(sess.Tools.List(), ",")
	if got != "create_todos,list_todos,mark_complete" {
		t.Fatalf("unexpected tools %q", got)
	}

	params := sess.Tools.Get(ToolMarkComplete).Parameters()
	props, _ := params["properties"].(map[string]any)
	index, _ := props["index"].(map[string]any)
	if index["type"] != "integer" {
		t.Fatalf("expected integer index, got %v", index)
	}
}

func TestCodeExecHook(t *testing.T) {
	ctx := context.Background()

	t.Run("returns serialized last result", func(t *testing.T) {
		sb := &backend.ScriptedSandbox{Events: []backend.Event{
			{Result: &backend.EventResult{Content: json.RawMessage(`"partial"`)}},
			{Result: &backend.EventResult{Content: json.RawMessage(`"4"`)}},
		}}
		out, err := NewCodeExecHook(backend.NewExecutor(sb, nil)).Tool().Execute(ctx, map[string]any{"code": "print(2+2)"})
		if err != nil {
			t.Fatal(err)
		}
		if out != `"4"` {
			t.Fatalf("unexpected output %q", out)
		}
	})

	t.Run("no result is a tool error", func(t *testing.T) {
		sb := &backend.ScriptedSandbox{Events: []backend.Event{{Stdout: "x"}}}
		_, err := NewCodeExecHook(backend.NewExecutor(sb, nil)).Tool().Execute(ctx, map[string]any{"code": "x"})
		if !errors.Is(err, backend.ErrNoResult) || agent.IsAbort(err) {
			t.Fatalf("expected plain ErrNoResult, got %v", err)
		}
	})

	t.Run("service failure aborts", func(t *testing.T) {
		sb := &backend.ScriptedSandbox{Err: errors.New("unreachable")}
		_, err := NewCodeExecHook(backend.NewExecutor(sb, nil)).Tool().Execute(ctx, map[string]any{"code": "x"})
		if !agent.IsAbort(err) {
			t.Fatalf("expected abort, got %v", err)
		}
	})
}

func TestValidationGateHook(t *testing.T) {
	h := NewValidationGateHook()
	ran := false
	next := func(ctx context.Context, call agent.ToolCall) (*agent.ToolResult, error) {
		ran = true
		return &agent.ToolResult{Output: "ran"}, nil
	}
	sess := agent.NewSession()
	ctx := agent.WithSession(context.Background(), sess)
	py := agent.ToolCall{ID: "c1", Name: ToolExecutePython}

	res, err := h.WrapToolCall(ctx, py, next)
	if err != nil {
		t.Fatal(err)
	}
	if ran || !strings.HasPrefix(res.Output, "Error: ") {
		t.Fatalf("expected refusal, got %+v", res)
	}

	ran = false
	if _, err := h.WrapToolCall(ctx, agent.ToolCall{Name: ToolListTodos}, next); err != nil || !ran {
		t.Fatal("other tools must pass through")
	}

	sess.Todos.Create([]string{"  write python code to check the sum"})
	ran = false
	res, err = h.WrapToolCall(ctx, py, next)
	if err != nil || !ran || res.Output != "ran" {
		t.Fatalf("expected pass-through once the todo exists, got %+v %v", res, err)
	}
}

func TestLoggingHook_PassesThrough(t *testing.T) {
	h := NewLoggingHook(nil)
	resp, err := h.WrapModelCall(context.Background(), nil, func(ctx context.Context, msgs []agent.Message) (*llm.Response, error) {
		return &llm.Response{Content: "x"}, nil
	})
	if err != nil || resp.Content != "x" {
		t.Fatalf("unexpected %+v %v", resp, err)
	}
	boom := errors.New("boom")
	_, err = h.WrapToolCall(context.Background(), agent.ToolCall{Name: "t"}, func(ctx context.Context, call agent.ToolCall) (*agent.ToolResult, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected error to propagate, got %v", err)
	}
}

// runToEnd drains a run and returns its final message text.
func runToEnd(a *agent.Agent, sess *agent.Session, prompt string) (string, error) {
	ch := make(chan agent.StreamEvent, 64)
	go a.RunStream(context.Background(), sess, prompt, ch)
	var (
		answer string
		err    error
	)
	for ev := range ch {
		switch ev.Event {
		case agent.EventMessage:
			answer = ev.Text
		case agent.EventError:
			err = ev.Err
		}
	}
	return answer, err
}

func TestEndToEnd_TwoPlusTwo(t *testing.T) {
	client := llm.NewScriptedClient(
		llm.Turn{ToolCalls: []agent.ToolCall{{ID: "c1", Name: ToolCreateTodos, Args: map[string]any{
			"descriptions": []any{"Solve 2+2 analytically", "Write Python code to validate 2+2"},
		}}}},
		llm.Turn{ToolCalls: []agent.ToolCall{{ID: "c2", Name: ToolExecutePython, Args: map[string]any{"code": "print(2+2)"}}}},
		llm.Turn{ToolCalls: []agent.ToolCall{
			{ID: "c3", Name: ToolMarkComplete, Args: map[string]any{"index": float64(1)}},
			{ID: "c4", Name: ToolMarkComplete, Args: map[string]any{"index": float64(2)}},
		}},
		llm.Turn{Chunks: []string{"2+2 = 4"}},
	)
	sb := &backend.ScriptedSandbox{Events: []backend.Event{{Result: &backend.EventResult{Content: json.RawMessage(`"4"`)}}}}

	a := agent.New(client,
		agent.WithSystemPrompt(PlanningPrompt),
		agent.WithHooks(NewTodoListHook(nil), NewCodeExecHook(backend.NewExecutor(sb, nil)), NewValidationGateHook()),
	)
	sess := agent.NewSession()
	answer, err := runToEnd(a, sess, "What is 2+2, validate with code")
	if err != nil {
		t.Fatal(err)
	}
	if answer != "2+2 = 4" {
		t.Fatalf("unexpected answer %q", answer)
	}

	msgs := sess.Messages()
	if msgs[4].Name != ToolExecutePython || msgs[4].Content != `"4"` {
		t.Fatalf("unexpected execute_python result %+v", msgs[4])
	}
	want := "Todo #1: [X] [strike][green]Solve 2+2 analytically[/strike][/green]\n" +
		"Todo #2: [X] [strike][green][red]Write Python code to validate 2+2[/red][/strike][/green]\n"
	if got := todo.Render(sess.Todos); got != want {
		t.Fatalf("expected\n%q\ngot\n%q", want, got)
	}
	if reqs := sb.Requests(); len(reqs) != 1 || reqs[0].Code != "print(2+2)" {
		t.Fatalf("unexpected sandbox requests %+v", reqs)
	}
}
