package looperserver

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"looper_server/agent"
	"looper_server/hooks"
)

func TestParseAgentFile(t *testing.T) {
	t.Run("empty document gets defaults", func(t *testing.T) {
		f, err := ParseAgentFile([]byte(""))
		if err != nil {
			t.Fatal(err)
		}
		if f.Model.Provider != "openai" || f.Model.APIKeyEnv != "OPENAI_API_KEY" {
			t.Fatalf("unexpected model defaults %+v", f.Model)
		}
		if f.SystemPrompt != hooks.PlanningPrompt {
			t.Fatal("expected the planning prompt by default")
		}
		if f.MaxIterations != agent.DefaultMaxIterations {
			t.Fatalf("expected %d iterations, got %d", agent.DefaultMaxIterations, f.MaxIterations)
		}
		if f.InvocationTimeout() != 300*time.Second {
			t.Fatalf("unexpected timeout %v", f.InvocationTimeout())
		}
		if f.Stream == nil || !*f.Stream {
			t.Fatal("expected streaming by default")
		}
		if f.Sandbox.Type != "local" || f.Report.Style != "markup" || f.RequireValidationTodo {
			t.Fatalf("unexpected defaults %+v", f)
		}
	})

	t.Run("full document", func(t *testing.T) {
		doc := `
model:
  provider: anthropic
  model: claude-test
  temperature: 0.2
system_prompt: be brief
max_iterations: 7
timeout: 30
require_validation_todo: true
stream: false
sandbox:
  type: remote
  url: http://sandbox:8080
report:
  style: plain
`
		f, err := ParseAgentFile([]byte(doc))
		if err != nil {
			t.Fatal(err)
		}
		if f.Model.Provider != "anthropic" || f.Model.APIKeyEnv != "ANTHROPIC_API_KEY" {
			t.Fatalf("unexpected model %+v", f.Model)
		}
		if f.Model.Temperature == nil || *f.Model.Temperature != 0.2 {
			t.Fatal("temperature not parsed")
		}
		if f.SystemPrompt != "be brief" || f.MaxIterations != 7 || f.Timeout != 30 || !f.RequireValidationTodo || *f.Stream {
			t.Fatalf("unexpected file %+v", f)
		}
		if f.Sandbox.URL != "http://sandbox:8080" || f.Report.Style != "plain" {
			t.Fatalf("unexpected sandbox/report %+v %+v", f.Sandbox, f.Report)
		}
	})

	for name, tc := range map[string]struct {
		doc  string
		want string
	}{
		"unknown provider":    {"model: {provider: cohere}", "unknown model provider"},
		"unknown sandbox":     {"sandbox: {type: firecracker}", "unknown sandbox type"},
		"remote without url":  {"sandbox: {type: remote}", "requires url"},
		"unknown style":       {"report: {style: neon}", "unknown report style"},
		"negative iterations": {"max_iterations: -1", "max_iterations"},
		"negative timeout":    {"timeout: -5", "timeout"},
		"malformed yaml":      {"model: [", "failed to parse config"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseAgentFile([]byte(tc.doc))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadAgentFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "looper.yaml")
	if err := os.WriteFile(path, []byte("sandbox:\n  type: local\n  workdir: work\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := LoadAgentFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if f.Sandbox.Workdir != filepath.Join(dir, "work") {
		t.Fatalf("expected workdir resolved against config dir, got %q", f.Sandbox.Workdir)
	}

	if _, err := LoadAgentFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
