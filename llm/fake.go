package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Turn is one scripted engine reply.
type Turn struct {
	// Chunks are streamed as text deltas in order; their concatenation is
	// the turn's content.
	Chunks    []string
	ToolCalls []ToolCall
	// Err fails the call instead of replying.
	Err error
}

// ScriptedClient replays a fixed sequence of turns. It records every request
// so tests can inspect what the loop sent. Running past the script is an error.
type ScriptedClient struct {
	mu       sync.Mutex
	turns    []Turn
	next     int
	requests []Request
}

// NewScriptedClient creates a client that replays turns.
func NewScriptedClient(turns ...Turn) *ScriptedClient {
	return &ScriptedClient{turns: turns}
}

// Requests returns the requests received so far.
func (c *ScriptedClient) Requests() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Request, len(c.requests))
	copy(out, c.requests)
	return out
}

func (c *ScriptedClient) take(req Request) (Turn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if c.next >= len(c.turns) {
		return Turn{}, fmt.Errorf("scripted client: no turn %d", c.next+1)
	}
	t := c.turns[c.next]
	c.next++
	return t, nil
}

// Call returns the next turn as a whole.
func (c *ScriptedClient) Call(ctx context.Context, req Request) (*Response, error) {
	t, err := c.take(req)
	if err != nil {
		return nil, err
	}
	if t.Err != nil {
		return nil, t.Err
	}
	return &Response{Content: strings.Join(t.Chunks, ""), ToolCalls: t.ToolCalls}, nil
}

// Stream emits the next turn's chunks then its tool calls.
func (c *ScriptedClient) Stream(ctx context.Context, req Request, ch chan<- StreamChunk) error {
	defer close(ch)
	t, err := c.take(req)
	if err != nil {
		return err
	}
	if t.Err != nil {
		return t.Err
	}
	for _, d := range t.Chunks {
		select {
		case ch <- StreamChunk{Delta: d}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for i := range t.ToolCalls {
		tc := t.ToolCalls[i]
		ch <- StreamChunk{ToolCall: &tc}
	}
	ch <- StreamChunk{Done: true}
	return nil
}
