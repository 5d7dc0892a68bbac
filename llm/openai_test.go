package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func sseServer(t *testing.T, lines []string, inspect func(body chatRequest)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body chatRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if inspect != nil {
			inspect(body)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, l := range lines {
			fmt.Fprintf(w, "data: %s\n\n", l)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func collect(t *testing.T, c Client, req Request) ([]StreamChunk, error) {
	t.Helper()
	ch := make(chan StreamChunk, 64)
	errCh := make(chan error, 1)
	go func() { errCh <- c.Stream(context.Background(), req, ch) }()
	var out []StreamChunk
	for chunk := range ch {
		out = append(out, chunk)
	}
	return out, <-errCh
}

func TestOpenAIClient_StreamText(t *testing.T) {
	srv := sseServer(t, []string{
		`{"choices":[{"delta":{"content":"The answer "}}]}`,
		`{"choices":[{"delta":{"content":"is 4."}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
	}, func(body chatRequest) {
		if !body.Stream {
			t.Error("expected stream=true")
		}
		if len(body.Messages) == 0 || body.Messages[0].Role != RoleSystem {
			t.Errorf("expected system message first, got %+v", body.Messages)
		}
	})
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, "key", "gpt-test")
	chunks, err := collect(t, c, Request{
		SystemPrompt: "plan",
		Messages:     []Message{{Role: RoleUser, Content: "2+2"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	var text strings.Builder
	for _, ch := range chunks {
		text.WriteString(ch.Delta)
		if ch.ToolCall != nil {
			t.Fatalf("unexpected tool call %+v", ch.ToolCall)
		}
	}
	if text.String() != "The answer is 4." {
		t.Fatalf("expected joined text, got %q", text.String())
	}
	if !chunks[len(chunks)-1].Done {
		t.Fatal("expected final Done chunk")
	}
}

func TestOpenAIClient_StreamToolCalls(t *testing.T) {
	srv := sseServer(t, []string{
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"c1","function":{"name":"create_todos","arguments":"{\"descriptions\":"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":1,"id":"c2","function":{"name":"list_todos","arguments":"{}"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"[\"a\"]}"}}]}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
	}, nil)
	defer srv.Close()

	chunks, err := collect(t, NewOpenAIClient(srv.URL, "key", "gpt-test"), Request{})
	if err != nil {
		t.Fatal(err)
	}

	var calls []*ToolCall
	for _, ch := range chunks {
		if ch.ToolCall != nil {
			calls = append(calls, ch.ToolCall)
		}
	}
	if len(calls) != 2 {
		t.Fatalf("expected 2 tool calls, got %d", len(calls))
	}
	if calls[0].ID != "c1" || calls[0].Name != "create_todos" {
		t.Fatalf("unexpected first call %+v", calls[0])
	}
	descs, _ := calls[0].Args["descriptions"].([]any)
	if len(descs) != 1 || descs[0] != "a" {
		t.Fatalf("expected accumulated args, got %+v", calls[0].Args)
	}
	if calls[1].Name != "list_todos" {
		t.Fatalf("unexpected second call %+v", calls[1])
	}
}

func TestOpenAIClient_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := collect(t, NewOpenAIClient(srv.URL, "key", "m"), Request{})
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected 502 error, got %v", err)
	}
}

func TestOpenAIClient_Call(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("unexpected auth header %q", got)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[{"id":"c1","type":"function","function":{"name":"mark_complete","arguments":"{\"index\":1}"}}]}}]}`)
	}))
	defer srv.Close()

	resp, err := NewOpenAIClient(srv.URL, "key", "m").Call(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Args["index"] != float64(1) {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestOpenAIClient_MissingToolCallIDs(t *testing.T) {
	t.Run("stream", func(t *testing.T) {
		srv := sseServer(t, []string{
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"name":"list_todos","arguments":"{}"}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":1,"function":{"name":"list_todos","arguments":"{}"}}]}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		}, nil)
		defer srv.Close()

		chunks, err := collect(t, NewOpenAIClient(srv.URL, "key", "m"), Request{})
		if err != nil {
			t.Fatal(err)
		}
		var ids []string
		for _, ch := range chunks {
			if ch.ToolCall != nil {
				ids = append(ids, ch.ToolCall.ID)
			}
		}
		if len(ids) != 2 || !strings.HasPrefix(ids[0], "call_") || ids[0] == ids[1] {
			t.Fatalf("expected distinct generated ids, got %q", ids)
		}
	})

	t.Run("call", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","tool_calls":[{"type":"function","function":{"name":"list_todos","arguments":"{}"}}]}}]}`)
		}))
		defer srv.Close()

		resp, err := NewOpenAIClient(srv.URL, "key", "m").Call(context.Background(), Request{})
		if err != nil {
			t.Fatal(err)
		}
		if len(resp.ToolCalls) != 1 || !strings.HasPrefix(resp.ToolCalls[0].ID, "call_") {
			t.Fatalf("expected a generated id, got %+v", resp.ToolCalls)
		}
	})
}

func TestParseArgs(t *testing.T) {
	if got := parseArgs(""); len(got) != 0 {
		t.Fatalf("expected empty map, got %v", got)
	}
	if got := parseArgs("{not json"); len(got) != 0 {
		t.Fatalf("expected empty map for bad json, got %v", got)
	}
	if got := parseArgs(`{"code":"print(1)"}`); got["code"] != "print(1)" {
		t.Fatalf("unexpected args %v", got)
	}
}
