package backend

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// maxCodeBytes bounds the request body of /executeCode.
const maxCodeBytes = 10 * 1024 * 1024

// Server exposes a Sandbox over the executeCode protocol that RemoteSandbox
// speaks: POST /executeCode with a CodeRequest, answered by one JSON event per
// line.
type Server struct {
	sandbox Sandbox
	apiKey  string
	log     logrus.FieldLogger
}

// NewServer wraps sb. When apiKey is set, requests must carry it as a
// Bearer token.
func NewServer(sb Sandbox, apiKey string, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{sandbox: sb, apiKey: apiKey, log: log.WithField("component", "sandboxd")}
}

// Router returns the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "Healthy", "sandbox": s.sandbox.ID()})
	}).Methods(http.MethodGet)
	r.HandleFunc("/executeCode", s.executeCode).Methods(http.MethodPost)
	return r
}

func (s *Server) authorized(r *http.Request) bool {
	if s.apiKey == "" {
		return true
	}
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(got), []byte(s.apiKey)) == 1
}

func (s *Server) executeCode(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
		return
	}

	var req CodeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCodeBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if req.Language == "" {
		req.Language = LanguagePython
	}

	ch := make(chan Event, 16)
	errCh := make(chan error, 1)
	go func() { errCh <- s.sandbox.ExecuteCode(r.Context(), req, ch) }()

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	wrote := false
	for ev := range ch {
		if !wrote {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.WriteHeader(http.StatusOK)
			wrote = true
		}
		if err := enc.Encode(ev); err != nil {
			s.log.WithError(err).Warn("client went away")
			for range ch {
			}
			<-errCh
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	if err := <-errCh; err != nil {
		s.log.WithError(err).Error("execution failed")
		if !wrote {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		// The status is already sent; a broken stream is the only signal left.
		panic(http.ErrAbortHandler)
	}
	if !wrote {
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
