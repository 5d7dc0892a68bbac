package tracing

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"looper_server/agent"
	"looper_server/llm"
)

func TestStore_EvictsOldest(t *testing.T) {
	s := NewStore(2)
	var ids []string
	for i := 0; i < 3; i++ {
		tr := NewTrace(fmt.Sprintf("s%d", i), "m", "invoke", "p")
		ids = append(ids, tr.TraceID)
		s.Put(tr)
	}
	if s.Get(ids[0]) != nil {
		t.Fatal("expected oldest trace evicted")
	}
	list := s.List(0)
	if len(list) != 2 || list[0].TraceID != ids[2] || list[1].TraceID != ids[1] {
		t.Fatalf("expected newest first, got %d traces", len(list))
	}
	if got := s.List(1); len(got) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(got))
	}
}

func TestTrace_SpansAndFinish(t *testing.T) {
	tr := NewTrace("s", "m", "stream", "2+2")
	tr.StartSpan("llm.call").Set("k", 1).End()
	tr.RecordEvent("tools.available", map[string]any{"count": 4})
	tr.Finish(errors.New("boom"))

	snap := tr.Snapshot()
	if len(snap.Spans) != 2 || snap.Spans[0].Metadata["k"] != 1 {
		t.Fatalf("unexpected spans %+v", snap.Spans)
	}
	if snap.Error != "boom" || snap.EndTime.IsZero() {
		t.Fatalf("unexpected finish state %+v", snap)
	}
	if FromContext(WithTrace(context.Background(), tr)) != tr {
		t.Fatal("context round trip failed")
	}
}

func TestHook_RecordsCalls(t *testing.T) {
	tr := NewTrace("s", "m", "invoke", "p")
	ctx := WithTrace(context.Background(), tr)
	h := NewHook()

	_, _ = h.WrapModelCall(ctx, nil, func(ctx context.Context, msgs []agent.Message) (*llm.Response, error) {
		return &llm.Response{ToolCalls: []llm.ToolCall{{Name: "list_todos"}}}, nil
	})
	_, _ = h.WrapToolCall(ctx, agent.ToolCall{ID: "c1", Name: "list_todos"}, func(ctx context.Context, call agent.ToolCall) (*agent.ToolResult, error) {
		return &agent.ToolResult{Output: "Todo #1: [ ] a\n"}, nil
	})

	snap := tr.Snapshot()
	if len(snap.Spans) != 2 || snap.Spans[0].Name != "llm.call" || snap.Spans[1].Name != "tool.call" {
		t.Fatalf("unexpected spans %+v", snap.Spans)
	}
	if snap.Spans[1].Metadata["tool_name"] != "list_todos" {
		t.Fatalf("unexpected metadata %v", snap.Spans[1].Metadata)
	}

	// untraced contexts pass straight through
	res, err := h.WrapToolCall(context.Background(), agent.ToolCall{}, func(ctx context.Context, call agent.ToolCall) (*agent.ToolResult, error) {
		return &agent.ToolResult{Output: "x"}, nil
	})
	if err != nil || res.Output != "x" {
		t.Fatal("expected pass-through")
	}
}
