// Package invoke is the single entrypoint for running the planner on a
// prompt and streaming its output back as text.
package invoke

import (
	"context"
	"errors"
	"iter"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"looper_server/agent"
	"looper_server/todo"
	"looper_server/tracing"
)

// ErrEmptyPrompt is returned for a blank prompt.
var ErrEmptyPrompt = errors.New("prompt is required")

// Handler turns one prompt into a lazy stream of text chunks.
type Handler struct {
	agent    *agent.Agent
	sessions *agent.SessionStore
	renderer *todo.Renderer
	traces   *tracing.Store
	timeout  time.Duration
	log      logrus.FieldLogger
}

// Option configures a Handler.
type Option func(*Handler)

// WithSessionStore registers running sessions in ss.
func WithSessionStore(ss *agent.SessionStore) Option { return func(h *Handler) { h.sessions = ss } }

// WithRenderer sets the renderer for report snapshots.
func WithRenderer(r *todo.Renderer) Option { return func(h *Handler) { h.renderer = r } }

// WithTraceStore records a trace of every invocation in ts.
func WithTraceStore(ts *tracing.Store) Option { return func(h *Handler) { h.traces = ts } }

// WithTimeout bounds every invocation.
func WithTimeout(d time.Duration) Option { return func(h *Handler) { h.timeout = d } }

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option { return func(h *Handler) { h.log = l } }

// New creates a Handler around a.
func New(a *agent.Agent, opts ...Option) *Handler {
	h := &Handler{
		agent:    a,
		sessions: agent.NewSessionStore(),
		renderer: todo.NewRenderer(nil),
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Sessions returns the store of running sessions.
func (h *Handler) Sessions() *agent.SessionStore { return h.sessions }

// Invoke runs prompt in a fresh session. See InvokeSession.
func (h *Handler) Invoke(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return h.InvokeSession(ctx, agent.NewSession(), "invoke", prompt)
}

// InvokeSession runs prompt in sess and yields, in engine order, every text
// chunk the engine streams and, after each completed assistant message, a
// newline followed by the todo report as it stood at that moment. A failed
// run yields its error once and stops. Stopping the iteration early cancels
// the run.
//
// The sequence is single-use; method labels the trace.
func (h *Handler) InvokeSession(ctx context.Context, sess *agent.Session, method, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if strings.TrimSpace(prompt) == "" {
			yield("", ErrEmptyPrompt)
			return
		}

		var cancel context.CancelFunc
		if h.timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, h.timeout)
		} else {
			ctx, cancel = context.WithCancel(ctx)
		}
		defer cancel()

		log := h.log.WithFields(logrus.Fields{"session_id": sess.ID, "method": method})
		h.sessions.Put(sess)
		defer h.sessions.Delete(sess.ID)

		var trace *tracing.Trace
		if h.traces != nil {
			trace = tracing.NewTrace(sess.ID, h.agent.Model, method, prompt)
			h.traces.Put(trace)
			ctx = tracing.WithTrace(ctx, trace)
		}

		log.Info("invocation started")
		ch := make(chan agent.StreamEvent, 64)
		go h.agent.RunStream(ctx, sess, prompt, ch)

		var runErr error
		defer func() {
			cancel()
			for range ch {
			}
			if trace != nil {
				trace.Finish(runErr)
			}
		}()

		for ev := range ch {
			switch ev.Event {
			case agent.EventModelStream:
				if ev.Text == "" {
					continue
				}
				if !yield(ev.Text, nil) {
					log.Info("consumer stopped early")
					return
				}
			case agent.EventMessage:
				var items []todo.Item
				if snap, ok := ev.Data.(agent.MessageSnapshot); ok {
					items = snap.Todos
				} else {
					items = sess.Todos.List()
				}
				if !yield("\n"+h.renderer.RenderItems(items), nil) {
					log.Info("consumer stopped early")
					return
				}
			case agent.EventError:
				runErr = ev.Err
				log.WithError(runErr).Warn("invocation failed")
				yield("", runErr)
				return
			case agent.EventDone:
				log.WithField("todos", sess.Todos.Len()).Info("invocation finished")
			}
		}
	}
}
