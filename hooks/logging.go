package hooks

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"looper_server/agent"
	"looper_server/llm"
)

// LoggingHook logs every model call and tool call.
type LoggingHook struct {
	agent.BaseHook
	log logrus.FieldLogger
}

func NewLoggingHook(log logrus.FieldLogger) *LoggingHook {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LoggingHook{log: log}
}

func (h *LoggingHook) Name() string { return "logging" }

func (h *LoggingHook) entry(ctx context.Context) *logrus.Entry {
	e := h.log.WithFields(logrus.Fields{})
	if sess := agent.SessionFromContext(ctx); sess != nil {
		e = e.WithField("session_id", sess.ID)
	}
	return e
}

func (h *LoggingHook) WrapModelCall(ctx context.Context, msgs []agent.Message, next agent.ModelCallWrapFunc) (*llm.Response, error) {
	start := time.Now()
	resp, err := next(ctx, msgs)
	e := h.entry(ctx).WithFields(logrus.Fields{
		"messages":    len(msgs),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	if err != nil {
		e.WithError(err).Warn("model call failed")
		return nil, err
	}
	e.WithField("tool_calls", len(resp.ToolCalls)).Debug("model call")
	return resp, nil
}

func (h *LoggingHook) WrapToolCall(ctx context.Context, call agent.ToolCall, next agent.ToolCallFunc) (*agent.ToolResult, error) {
	start := time.Now()
	res, err := next(ctx, call)
	e := h.entry(ctx).WithFields(logrus.Fields{
		"tool":        call.Name,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	switch {
	case err != nil:
		e.WithError(err).Error("tool call aborted")
	case res != nil && res.Error != "":
		e.WithField("error", res.Error).Warn("tool call returned error")
	case res != nil:
		e.WithField("output_length", len(res.Output)).Debug("tool call")
	}
	return res, err
}
