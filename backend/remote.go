package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// RemoteSandbox calls a hosted code interpreter over HTTP. The service
// answers POST {url}/executeCode with newline-delimited JSON events.
type RemoteSandbox struct {
	url    string
	apiKey string
	client *http.Client
	log    logrus.FieldLogger
}

// NewRemoteSandbox creates a sandbox backed by the service at url.
func NewRemoteSandbox(url, apiKey string, client *http.Client, log logrus.FieldLogger) *RemoteSandbox {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RemoteSandbox{
		url:    strings.TrimRight(url, "/"),
		apiKey: apiKey,
		client: client,
		log:    log.WithField("sandbox", "remote"),
	}
}

func (s *RemoteSandbox) ID() string { return "remote" }

func (s *RemoteSandbox) ExecuteCode(ctx context.Context, req CodeRequest, ch chan<- Event) error {
	defer close(ch)

	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+"/executeCode", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			s.log.WithError(err).Warn("skipping malformed event")
			continue
		}
		select {
		case ch <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return sc.Err()
}
