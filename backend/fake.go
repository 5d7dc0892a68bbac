package backend

import (
	"context"
	"sync"
)

// ScriptedSandbox replays canned events for every call and records the
// requests it receives.
type ScriptedSandbox struct {
	Events []Event
	Err    error

	mu       sync.Mutex
	requests []CodeRequest
}

func (s *ScriptedSandbox) ID() string { return "scripted" }

func (s *ScriptedSandbox) ExecuteCode(ctx context.Context, req CodeRequest, ch chan<- Event) error {
	defer close(ch)
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	for _, ev := range s.Events {
		select {
		case ch <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.Err
}

// Requests returns the requests received so far.
func (s *ScriptedSandbox) Requests() []CodeRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CodeRequest, len(s.requests))
	copy(out, s.requests)
	return out
}
