package agent

// Event names emitted by the loop.
const (
	EventModelStart  = "on_chat_model_start"
	EventModelStream = "on_chat_model_stream"
	EventModelEnd    = "on_chat_model_end"
	EventMessage     = "on_message"
	EventToolStart   = "on_tool_start"
	EventToolEnd     = "on_tool_end"
	EventDone        = "done"
	EventError       = "error"
)

// StreamEvent is sent from the agent loop to its consumer.
type StreamEvent struct {
	Event     string `json:"event"`
	Name      string `json:"name,omitempty"` // tool name or model name
	RunID     string `json:"run_id,omitempty"`
	Text      string `json:"text,omitempty"` // delta for on_chat_model_stream, full content for on_message
	Data      any    `json:"data,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Err       error  `json:"-"` // set on "error"
}
