package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"looper_server/agent"
	"looper_server/invoke"
	"looper_server/sse"
	"looper_server/todo"
	"looper_server/tracing"
)

// Deps holds shared dependencies injected into handlers.
type Deps struct {
	Invoker  *invoke.Handler
	Traces   *tracing.Store
	Renderer *todo.Renderer
	Log      logrus.FieldLogger

	// Auth guards the invocation, session and trace routes when set.
	Auth mux.MiddlewareFunc

	// KeepAlive is the SSE comment ping interval (default 15s, negative
	// disables).
	KeepAlive time.Duration
}

type handler struct {
	deps     *Deps
	upgrader websocket.Upgrader
}

// NewRouter builds the HTTP surface.
func NewRouter(deps *Deps) *mux.Router {
	if deps.Renderer == nil {
		deps.Renderer = todo.NewRenderer(nil)
	}
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}
	if deps.KeepAlive == 0 {
		deps.KeepAlive = 15 * time.Second
	}
	h := &handler{
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	r := mux.NewRouter()
	r.HandleFunc("/ping", h.ping).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	if deps.Auth != nil {
		api.Use(deps.Auth)
	}
	api.HandleFunc("/invocations", h.invocations).Methods(http.MethodPost)
	api.HandleFunc("/invocations/stream", h.stream).Methods(http.MethodPost)
	api.HandleFunc("/invocations/ws", h.websocket).Methods(http.MethodGet)
	api.HandleFunc("/sessions", h.listSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/todos", h.sessionTodos).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/todos/{todoID}", h.sessionTodo).Methods(http.MethodGet)
	api.HandleFunc("/traces", h.listTraces).Methods(http.MethodGet)
	api.HandleFunc("/traces/{id}", h.getTrace).Methods(http.MethodGet)
	return r
}

type invokeRequest struct {
	Prompt string `json:"prompt"`
}

func decodeInvokeRequest(r *http.Request) (invokeRequest, string) {
	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, "invalid JSON: " + err.Error()
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return req, "prompt is required"
	}
	return req, ""
}

func (h *handler) ping(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "Healthy"})
}

// invocations streams the plain-text body: model chunks interleaved with
// report snapshots.
func (h *handler) invocations(w http.ResponseWriter, r *http.Request) {
	req, msg := decodeInvokeRequest(r)
	if msg != "" {
		writeJSONError(w, http.StatusBadRequest, msg)
		return
	}

	flusher, _ := w.(http.Flusher)
	sess := agent.NewSession()
	log := h.deps.Log.WithField("session_id", sess.ID)
	wrote := false

	for chunk, err := range h.deps.Invoker.InvokeSession(r.Context(), sess, "invoke", req.Prompt) {
		if err != nil {
			log.WithError(err).Error("invocation failed")
			if !wrote {
				writeJSONError(w, http.StatusInternalServerError, err.Error())
				return
			}
			// Headers are gone; drop the connection so the caller sees a failure.
			panic(http.ErrAbortHandler)
		}
		if !wrote {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("X-Session-Id", sess.ID)
			w.WriteHeader(http.StatusOK)
			wrote = true
		}
		if _, err := w.Write([]byte(chunk)); err != nil {
			log.WithError(err).Warn("client went away")
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (h *handler) stream(w http.ResponseWriter, r *http.Request) {
	req, msg := decodeInvokeRequest(r)
	if msg != "" {
		writeJSONError(w, http.StatusBadRequest, msg)
		return
	}

	sw := sse.NewWriter(w)
	if sw == nil {
		writeJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sess := agent.NewSession()
	log := h.deps.Log.WithField("session_id", sess.ID)
	defer h.keepAlive(sw)()

	for chunk, err := range h.deps.Invoker.InvokeSession(r.Context(), sess, "stream", req.Prompt) {
		if err != nil {
			log.WithError(err).Error("invocation failed")
			sw.SendEvent("error", map[string]string{"error": err.Error()})
			return
		}
		if err := sw.SendEvent("chunk", map[string]string{"text": chunk}); err != nil {
			log.WithError(err).Warn("client went away")
			return
		}
	}
	sw.SendEvent("done", map[string]string{"session_id": sess.ID})
}

// keepAlive pings sw until the returned stop func is called. Stop waits for
// the ticker goroutine so nothing writes after the handler returns.
func (h *handler) keepAlive(sw *sse.Writer) func() {
	if h.deps.KeepAlive < 0 {
		return func() {}
	}
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		t := time.NewTicker(h.deps.KeepAlive)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if err := sw.SendComment("ping"); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		close(done)
		<-exited
	}
}

// maxCloseReason keeps close frames within the 125-byte control frame limit.
const maxCloseReason = 120

// truncateReason cuts s to at most max bytes without splitting a rune.
func truncateReason(s string, max int) string {
	if len(s) <= max {
		return s
	}
	n := max
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func (h *handler) websocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.deps.Log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	closeWith := func(code int, reason string) {
		reason = truncateReason(reason, maxCloseReason)
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	}

	var req invokeRequest
	if err := conn.ReadJSON(&req); err != nil {
		closeWith(websocket.CloseUnsupportedData, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		closeWith(websocket.ClosePolicyViolation, "prompt is required")
		return
	}

	sess := agent.NewSession()
	log := h.deps.Log.WithField("session_id", sess.ID)
	for chunk, err := range h.deps.Invoker.InvokeSession(r.Context(), sess, "ws", req.Prompt) {
		if err != nil {
			log.WithError(err).Error("invocation failed")
			closeWith(websocket.CloseInternalServerErr, err.Error())
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte(chunk)); err != nil {
			log.WithError(err).Warn("client went away")
			return
		}
	}
	closeWith(websocket.CloseNormalClosure, "")
}

type sessionInfo struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	Todos     int       `json:"todos"`
	Pending   int       `json:"pending"`
}

func (h *handler) listSessions(w http.ResponseWriter, r *http.Request) {
	live := h.deps.Invoker.Sessions().List()
	out := make([]sessionInfo, len(live))
	for i, s := range live {
		out[i] = sessionInfo{
			SessionID: s.ID,
			CreatedAt: s.CreatedAt,
			Todos:     s.Todos.Len(),
			Pending:   s.Todos.Pending(),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type todoView struct {
	Position int `json:"position"`
	todo.Item
}

func (h *handler) sessionTodos(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess := h.deps.Invoker.Sessions().Get(id)
	if sess == nil {
		writeJSONError(w, http.StatusNotFound, "session not found: "+id)
		return
	}
	items := sess.Todos.List()
	views := make([]todoView, len(items))
	for i, it := range items {
		views[i] = todoView{Position: i + 1, Item: it}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"todos":      views,
		"report":     h.deps.Renderer.RenderItems(items),
	})
}

func (h *handler) sessionTodo(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sess := h.deps.Invoker.Sessions().Get(vars["id"])
	if sess == nil {
		writeJSONError(w, http.StatusNotFound, "session not found: "+vars["id"])
		return
	}
	it, pos, ok := sess.Todos.Get(vars["todoID"])
	if !ok {
		writeJSONError(w, http.StatusNotFound, "todo not found: "+vars["todoID"])
		return
	}
	writeJSON(w, http.StatusOK, todoView{Position: pos, Item: it})
}

func (h *handler) listTraces(w http.ResponseWriter, r *http.Request) {
	if h.deps.Traces == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	traces := h.deps.Traces.List(limit)
	out := make([]*tracing.Trace, len(traces))
	for i, t := range traces {
		out[i] = t.Snapshot()
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) getTrace(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var t *tracing.Trace
	if h.deps.Traces != nil {
		t = h.deps.Traces.Get(id)
	}
	if t == nil {
		writeJSONError(w, http.StatusNotFound, "trace not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, t.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
