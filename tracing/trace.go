package tracing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"looper_server/agent"
)

// Span is a single timed operation within a trace.
type Span struct {
	Name       string         `json:"name"`
	StartTime  time.Time      `json:"start_time"`
	EndTime    time.Time      `json:"end_time"`
	DurationMs float64        `json:"duration_ms"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Trace collects the spans of one invocation. Implements agent.TraceRecorder.
type Trace struct {
	mu         sync.Mutex
	TraceID    string    `json:"trace_id"`
	SessionID  string    `json:"session_id"`
	Model      string    `json:"model"`
	Method     string    `json:"method"` // invoke, stream, ws, cli
	Prompt     string    `json:"prompt"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	DurationMs float64   `json:"duration_ms"`
	Spans      []Span    `json:"spans"`
	Error      string    `json:"error,omitempty"`
}

var _ agent.TraceRecorder = (*Trace)(nil)

// NewTrace starts a trace for one invocation.
func NewTrace(sessionID, model, method, prompt string) *Trace {
	return &Trace{
		TraceID:   uuid.NewString(),
		SessionID: sessionID,
		Model:     model,
		Method:    method,
		Prompt:    prompt,
		StartTime: time.Now(),
		Spans:     []Span{},
	}
}

// SpanRecorder is returned by StartSpan. Implements agent.SpanHandle.
type SpanRecorder struct {
	trace *Trace
	span  Span
}

var _ agent.SpanHandle = (*SpanRecorder)(nil)

func (t *Trace) StartSpan(name string) agent.SpanHandle {
	return &SpanRecorder{
		trace: t,
		span:  Span{Name: name, StartTime: time.Now(), Metadata: map[string]any{}},
	}
}

func (t *Trace) RecordEvent(name string, metadata map[string]any) {
	now := time.Now()
	t.addSpan(Span{Name: name, StartTime: now, EndTime: now, Metadata: metadata})
}

func (sr *SpanRecorder) Set(key string, value any) agent.SpanHandle {
	sr.span.Metadata[key] = value
	return sr
}

func (sr *SpanRecorder) End() {
	sr.span.EndTime = time.Now()
	sr.span.DurationMs = float64(sr.span.EndTime.Sub(sr.span.StartTime)) / float64(time.Millisecond)
	sr.trace.addSpan(sr.span)
}

func (t *Trace) addSpan(s Span) {
	t.mu.Lock()
	t.Spans = append(t.Spans, s)
	t.mu.Unlock()
}

// Finish closes the trace with an optional error.
func (t *Trace) Finish(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.EndTime = time.Now()
	t.DurationMs = float64(t.EndTime.Sub(t.StartTime)) / float64(time.Millisecond)
	if err != nil {
		t.Error = err.Error()
	}
}

// Snapshot returns a copy safe to serialize while the trace is still open.
func (t *Trace) Snapshot() *Trace {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := &Trace{
		TraceID:    t.TraceID,
		SessionID:  t.SessionID,
		Model:      t.Model,
		Method:     t.Method,
		Prompt:     t.Prompt,
		StartTime:  t.StartTime,
		EndTime:    t.EndTime,
		DurationMs: t.DurationMs,
		Error:      t.Error,
		Spans:      make([]Span, len(t.Spans)),
	}
	copy(cp.Spans, t.Spans)
	return cp
}

// Store holds recent traces in memory with bounded capacity.
type Store struct {
	mu     sync.RWMutex
	traces map[string]*Trace
	order  []string // FIFO order for eviction
	max    int
}

// DefaultStoreSize is the number of traces kept when no size is given.
const DefaultStoreSize = 1000

// NewStore creates a store that retains up to maxSize traces.
func NewStore(maxSize int) *Store {
	if maxSize <= 0 {
		maxSize = DefaultStoreSize
	}
	return &Store{
		traces: make(map[string]*Trace),
		order:  make([]string, 0, maxSize),
		max:    maxSize,
	}
}

// Put stores a trace, evicting the oldest at capacity.
func (s *Store) Put(t *Trace) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.order) >= s.max {
		oldest := s.order[0]
		delete(s.traces, oldest)
		s.order = s.order[1:]
	}
	s.traces[t.TraceID] = t
	s.order = append(s.order, t.TraceID)
}

// Get returns a trace by ID, or nil.
func (s *Store) Get(traceID string) *Trace {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.traces[traceID]
}

// List returns up to limit traces, newest first.
func (s *Store) List(limit int) []*Trace {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.order)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*Trace, limit)
	for i := 0; i < limit; i++ {
		out[i] = s.traces[s.order[n-1-i]]
	}
	return out
}

// WithTrace stores the trace in ctx as the agent's TraceRecorder.
func WithTrace(ctx context.Context, t *Trace) context.Context {
	return agent.WithTraceRecorder(ctx, t)
}

// FromContext extracts the concrete *Trace from ctx.
func FromContext(ctx context.Context) *Trace {
	t, _ := agent.TraceFromContext(ctx).(*Trace)
	return t
}
