package looperserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"looper_server/agent"
	"looper_server/backend"
	"looper_server/handlers"
	"looper_server/hooks"
	"looper_server/invoke"
	"looper_server/llm"
	"looper_server/todo"
	"looper_server/tracing"
)

// Server is the main looperserver instance. Create one with New(), then call
// Start() to run the HTTP server or Build() to use the invoker directly.
type Server struct {
	host        string
	port        int
	authSecret  string
	reportStyle string

	agentFile *AgentFile
	client    llm.Client
	sandbox   backend.Sandbox
	log       logrus.FieldLogger

	traces  *tracing.Store
	invoker *invoke.Handler
	handler http.Handler
	srv     *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithPort sets the listen port (default 8000).
func WithPort(port int) Option {
	return func(s *Server) { s.port = port }
}

// WithHost sets the listen host (default "0.0.0.0").
func WithHost(host string) Option {
	return func(s *Server) { s.host = host }
}

// WithAgentFile sets the agent configuration (default DefaultAgentFile()).
func WithAgentFile(f *AgentFile) Option {
	return func(s *Server) { s.agentFile = f }
}

// WithAuthSecret enables bearer auth on the API routes.
func WithAuthSecret(secret string) Option {
	return func(s *Server) { s.authSecret = secret }
}

// WithReportStyle overrides the report style of the agent file.
func WithReportStyle(style string) Option {
	return func(s *Server) { s.reportStyle = style }
}

// WithLLMClient replaces the engine resolved from the agent file.
func WithLLMClient(c llm.Client) Option {
	return func(s *Server) { s.client = c }
}

// WithSandbox replaces the sandbox built from the agent file.
func WithSandbox(sb backend.Sandbox) Option {
	return func(s *Server) { s.sandbox = sb }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) { s.log = l }
}

// New creates a new Server with the given options.
func New(opts ...Option) *Server {
	s := &Server{
		host: "0.0.0.0",
		port: 8000,
		log:  logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NewAgent assembles the planning agent. Hook order is outermost first.
func NewAgent(f *AgentFile, client llm.Client, exec *backend.Executor, renderer *todo.Renderer, log logrus.FieldLogger) *agent.Agent {
	hs := []agent.Hook{
		tracing.NewHook(),
		hooks.NewLoggingHook(log),
		hooks.NewTodoListHook(renderer),
		hooks.NewCodeExecHook(exec),
	}
	if f.RequireValidationTodo {
		hs = append(hs, hooks.NewValidationGateHook())
	}
	a := agent.New(client,
		agent.WithName("looper"),
		agent.WithModel(f.Model.Model),
		agent.WithSystemPrompt(f.SystemPrompt),
		agent.WithMaxIterations(f.MaxIterations),
		agent.WithTemperature(f.Model.Temperature),
		agent.WithStreaming(f.Stream == nil || *f.Stream),
		agent.WithHooks(hs...),
		agent.WithLogger(log),
	)
	if f.Model.MaxTokens > 0 {
		a.MaxTokens = f.Model.MaxTokens
	}
	return a
}

// Build resolves the engine and sandbox and wires the HTTP surface. It is
// idempotent.
func (s *Server) Build() error {
	if s.handler != nil {
		return nil
	}
	f := s.agentFile
	if f == nil {
		f = DefaultAgentFile()
		s.agentFile = f
	}

	if s.client == nil {
		c, err := llm.Resolve(f.Model)
		if err != nil {
			return fmt.Errorf("failed to resolve model: %w", err)
		}
		s.client = c
	}
	if s.sandbox == nil {
		sb, err := backend.New(f.Sandbox, s.log)
		if err != nil {
			return fmt.Errorf("failed to build sandbox: %w", err)
		}
		s.sandbox = sb
	}

	styleName := f.Report.Style
	if s.reportStyle != "" {
		styleName = s.reportStyle
	}
	style, err := todo.StyleByName(styleName)
	if err != nil {
		return err
	}
	renderer := todo.NewRenderer(style)

	a := NewAgent(f, s.client, backend.NewExecutor(s.sandbox, s.log), renderer, s.log)
	s.traces = tracing.NewStore(1000)
	s.invoker = invoke.New(a,
		invoke.WithRenderer(renderer),
		invoke.WithTraceStore(s.traces),
		invoke.WithTimeout(f.InvocationTimeout()),
		invoke.WithLogger(s.log),
	)

	deps := &handlers.Deps{
		Invoker:  s.invoker,
		Traces:   s.traces,
		Renderer: renderer,
		Log:      s.log,
	}
	if s.authSecret != "" {
		deps.Auth = authMiddleware([]byte(s.authSecret), s.log)
	}
	s.handler = corsMiddleware(handlers.NewRouter(deps))
	return nil
}

// Handler returns the HTTP handler. Build must have succeeded.
func (s *Server) Handler() http.Handler { return s.handler }

// Invoker returns the invocation handler. Build must have succeeded.
func (s *Server) Invoker() *invoke.Handler { return s.invoker }

// Start builds the server and runs it until ctx is done or the process
// receives SIGINT/SIGTERM.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Build(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if ds, ok := s.sandbox.(*backend.DockerSandbox); ok {
		go func() {
			if err := ds.EnsureContainer(ctx); err != nil {
				s.log.WithError(err).Error("sandbox container launch failed")
			}
		}()
	}

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // disable for streaming
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.ListenAndServe()
	}()

	s.log.WithFields(logrus.Fields{
		"addr":    addr,
		"model":   s.agentFile.Model.Model,
		"sandbox": s.sandbox.ID(),
		"auth":    s.authSecret != "",
	}).Info("looper_server starting")

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info("shutting down")
	return s.Shutdown()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
