package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Sandbox executes source code somewhere isolated and streams back events.
type Sandbox interface {
	// ID returns the sandbox identifier.
	ID() string

	// ExecuteCode runs req and sends events to ch in the order they occur.
	// Implementations close ch before returning. A non-nil error means the
	// sandbox itself failed, not the submitted program.
	ExecuteCode(ctx context.Context, req CodeRequest, ch chan<- Event) error
}

// CodeRequest is the payload of an executeCode call.
type CodeRequest struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

// Event is one streamed execution event. Only events whose Result carries
// Content are meaningful to callers; the rest are progress.
type Event struct {
	Result *EventResult `json:"result,omitempty"`
	Stdout string       `json:"stdout,omitempty"`
}

// EventResult is the result payload of an event.
type EventResult struct {
	Content json.RawMessage `json:"content,omitempty"`
	IsError bool            `json:"isError,omitempty"`
}

// HasContent reports whether the event carries a result payload.
func (e Event) HasContent() bool {
	return e.Result != nil && e.Result.Content != nil
}

// ContentBlock is the text block shape produced by the built-in sandboxes.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// TextResult builds a result event holding a single text block.
func TextResult(text string, isError bool) Event {
	content, _ := encodeJSON([]ContentBlock{{Type: "text", Text: text}})
	return Event{Result: &EventResult{Content: content, IsError: isError}}
}

// encodeJSON marshals v without escaping <, > and &, so the engine reads
// program output as printed.
func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// LanguagePython is the only language tag the planner submits.
const LanguagePython = "python"

// ErrNoResult means the sandbox stream ended without any result payload.
var ErrNoResult = errors.New("sandbox produced no result")

// ServiceError is a failure of the sandbox service or its transport.
type ServiceError struct {
	Sandbox string
	Op      string
	Err     error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("sandbox %s %s: %v", e.Sandbox, e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }
