package backend

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// Executor brokers source code to a Sandbox and reduces the event stream to
// the content of its last result-bearing event.
type Executor struct {
	sandbox Sandbox
	log     logrus.FieldLogger
}

// NewExecutor creates an Executor over sb.
func NewExecutor(sb Sandbox, log logrus.FieldLogger) *Executor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Executor{sandbox: sb, log: log}
}

// Execute runs code as Python and returns the JSON encoding of the last
// result payload. Earlier events, partial output included, are discarded.
// A sandbox failure is returned as *ServiceError; a stream without any
// result payload returns ErrNoResult.
func (e *Executor) Execute(ctx context.Context, code string) (string, error) {
	start := time.Now()
	ch := make(chan Event, 16)
	errCh := make(chan error, 1)
	go func() {
		errCh <- e.sandbox.ExecuteCode(ctx, CodeRequest{Language: LanguagePython, Code: code}, ch)
	}()

	var (
		last   json.RawMessage
		found  bool
		events int
	)
	for ev := range ch {
		events++
		if ev.HasContent() {
			last, found = ev.Result.Content, true
		}
	}

	entry := e.log.WithFields(logrus.Fields{
		"sandbox":     e.sandbox.ID(),
		"events":      events,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	if err := <-errCh; err != nil {
		entry.WithError(err).Warn("sandbox call failed")
		var svcErr *ServiceError
		if errors.As(err, &svcErr) {
			return "", err
		}
		return "", &ServiceError{Sandbox: e.sandbox.ID(), Op: "executeCode", Err: err}
	}
	if !found {
		entry.Warn("sandbox produced no result")
		return "", ErrNoResult
	}

	out, err := encodeJSON(last)
	if err != nil {
		return "", &ServiceError{Sandbox: e.sandbox.ID(), Op: "decode result", Err: err}
	}
	entry.Debug("sandbox call finished")
	return string(out), nil
}
