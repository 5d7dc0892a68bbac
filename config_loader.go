package looperserver

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"looper_server/agent"
	"looper_server/backend"
	"looper_server/hooks"
	"looper_server/llm"
	"looper_server/todo"
)

// AgentFile is the top-level structure of looper.yaml.
type AgentFile struct {
	Model                 llm.Spec       `yaml:"model"`
	SystemPrompt          string         `yaml:"system_prompt"`
	MaxIterations         int            `yaml:"max_iterations"`
	Timeout               int            `yaml:"timeout"` // seconds
	RequireValidationTodo bool           `yaml:"require_validation_todo"`
	Stream                *bool          `yaml:"stream"` // default true
	Sandbox               backend.Config `yaml:"sandbox"`
	Report                ReportConfig   `yaml:"report"`
}

// ReportConfig selects the todo report decoration.
type ReportConfig struct {
	Style string `yaml:"style"` // markup, ansi, plain
}

const defaultTimeoutSeconds = 300

var knownProviders = map[string]bool{
	"openai":           true,
	"langchain-openai": true,
	"anthropic":        true,
	"ollama":           true,
}

// DefaultAgentFile returns the configuration used when no file is given.
func DefaultAgentFile() *AgentFile {
	f := &AgentFile{}
	f.applyDefaults()
	return f
}

// LoadAgentFile reads and validates looper.yaml. Relative sandbox workdirs
// resolve against the file's directory.
func LoadAgentFile(path string) (*AgentFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	f, err := ParseAgentFile(data)
	if err != nil {
		return nil, err
	}
	if f.Sandbox.Workdir != "" && !filepath.IsAbs(f.Sandbox.Workdir) && f.Sandbox.Type != "docker" {
		configDir, _ := filepath.Abs(filepath.Dir(path))
		f.Sandbox.Workdir = filepath.Join(configDir, f.Sandbox.Workdir)
	}
	return f, nil
}

// ParseAgentFile decodes, defaults and validates an agent config document.
func ParseAgentFile(data []byte) (*AgentFile, error) {
	var f AgentFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	f.applyDefaults()
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *AgentFile) applyDefaults() {
	if f.Model.Provider == "" {
		f.Model.Provider = "openai"
	}
	if f.Model.Model == "" {
		f.Model.Model = "gpt-4o-mini"
	}
	if f.Model.APIKey == "" && f.Model.APIKeyEnv == "" {
		switch f.Model.Provider {
		case "openai", "langchain-openai":
			f.Model.APIKeyEnv = "OPENAI_API_KEY"
		case "anthropic":
			f.Model.APIKeyEnv = "ANTHROPIC_API_KEY"
		}
	}
	if f.SystemPrompt == "" {
		f.SystemPrompt = hooks.PlanningPrompt
	}
	if f.MaxIterations == 0 {
		f.MaxIterations = agent.DefaultMaxIterations
	}
	if f.Timeout == 0 {
		f.Timeout = defaultTimeoutSeconds
	}
	if f.Stream == nil {
		on := true
		f.Stream = &on
	}
	if f.Sandbox.Type == "" {
		f.Sandbox.Type = "local"
	}
	if f.Report.Style == "" {
		f.Report.Style = todo.StyleMarkup
	}
}

// Validate reports the first invalid field.
func (f *AgentFile) Validate() error {
	if !knownProviders[f.Model.Provider] {
		return fmt.Errorf("unknown model provider: %q", f.Model.Provider)
	}
	if f.MaxIterations < 0 {
		return fmt.Errorf("max_iterations must be positive, got %d", f.MaxIterations)
	}
	if f.Timeout < 0 {
		return fmt.Errorf("timeout must be positive, got %d", f.Timeout)
	}
	switch f.Sandbox.Type {
	case "local", "docker":
	case "remote":
		if f.Sandbox.URL == "" {
			return fmt.Errorf("remote sandbox requires url")
		}
	default:
		return fmt.Errorf("unknown sandbox type: %q", f.Sandbox.Type)
	}
	if _, err := todo.StyleByName(f.Report.Style); err != nil {
		return err
	}
	return nil
}

// InvocationTimeout returns the per-invocation deadline.
func (f *AgentFile) InvocationTimeout() time.Duration {
	return time.Duration(f.Timeout) * time.Second
}
