package agent

import (
	"context"
	"strings"
	"testing"
	"time"
)

type greetArgs struct {
	Name  string   `json:"name" jsonschema_description:"who to greet"`
	Times int      `json:"times,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}

func TestNewTypedTool(t *testing.T) {
	tool := NewTypedTool("greet", "say hello", func(ctx context.Context, args greetArgs) (string, error) {
		return strings.Repeat("hi "+args.Name+" ", args.Times), nil
	})

	params := tool.Parameters()
	if params["type"] != "object" {
		t.Fatalf("expected object schema, got %v", params)
	}
	if _, ok := params["$schema"]; ok {
		t.Fatal("expected $schema to be stripped")
	}
	props, _ := params["properties"].(map[string]any)
	name, _ := props["name"].(map[string]any)
	if name["type"] != "string" || name["description"] != "who to greet" {
		t.Fatalf("unexpected name schema %v", name)
	}
	required, _ := params["required"].([]any)
	if len(required) != 1 || required[0] != "name" {
		t.Fatalf("expected only name required, got %v", params["required"])
	}

	out, err := tool.Execute(context.Background(), map[string]any{"name": "bob", "times": float64(2)})
	if err != nil {
		t.Fatal(err)
	}
	if out != "hi bob hi bob " {
		t.Fatalf("unexpected output %q", out)
	}

	if _, err := tool.Execute(context.Background(), map[string]any{"times": "two"}); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestSchemaFor_Empty(t *testing.T) {
	params := SchemaFor[struct{}]()
	if params["type"] != "object" {
		t.Fatalf("unexpected schema %v", params)
	}
	if _, ok := params["properties"].(map[string]any); !ok {
		t.Fatalf("expected properties map, got %v", params["properties"])
	}
}

func TestToolRegistry(t *testing.T) {
	r := NewToolRegistry()
	r.Register(
		&FuncTool{ToolName: "b"},
		&FuncTool{ToolName: "a"},
	)
	if got := strings.Join(r.List(), ","); got != "a,b" {
		t.Fatalf("expected sorted names, got %q", got)
	}
	if r.Get("a") == nil || r.Get("zzz") != nil {
		t.Fatal("unexpected lookup results")
	}
	all := r.All()
	delete(all, "a")
	if r.Get("a") == nil {
		t.Fatal("All must return a copy")
	}
}

func TestSessionStore(t *testing.T) {
	ss := NewSessionStore()
	first := NewSession()
	second := NewSession()
	second.CreatedAt = first.CreatedAt.Add(time.Second)

	ss.Put(second)
	ss.Put(first)
	if ss.Len() != 2 {
		t.Fatalf("expected 2 sessions, got %d", ss.Len())
	}
	list := ss.List()
	if list[0] != first || list[1] != second {
		t.Fatal("expected oldest first")
	}
	if ss.Get(first.ID) != first {
		t.Fatal("lookup failed")
	}
	ss.Delete(first.ID)
	if ss.Get(first.ID) != nil || ss.Len() != 1 {
		t.Fatal("delete failed")
	}
	if first.ID == second.ID {
		t.Fatal("session IDs must be unique")
	}
}
