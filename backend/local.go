package backend

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LocalSandbox runs Python in a child process on the host.
// Useful for local development without Docker.
type LocalSandbox struct {
	python  string
	workdir string
	lim     limits
	log     logrus.FieldLogger
}

// NewLocalSandbox creates a host sandbox. Zero values pick defaults.
func NewLocalSandbox(python, workdir string, timeout float64, maxOutputBytes int, log logrus.FieldLogger) *LocalSandbox {
	if python == "" {
		python = "python3"
	}
	if workdir == "" {
		workdir = filepath.Join(os.TempDir(), "looper-sandbox")
	}
	if abs, err := filepath.Abs(workdir); err == nil {
		workdir = abs
	}
	if timeout == 0 {
		timeout = 60
	}
	if maxOutputBytes == 0 {
		maxOutputBytes = 100_000
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	os.MkdirAll(workdir, 0o755)

	return &LocalSandbox{
		python:  python,
		workdir: workdir,
		lim: limits{
			timeout:        time.Duration(timeout * float64(time.Second)),
			maxOutputBytes: maxOutputBytes,
		},
		log: log.WithField("sandbox", "local"),
	}
}

func (s *LocalSandbox) ID() string { return "local" }

// ExecuteCode pipes req.Code into the interpreter's stdin.
func (s *LocalSandbox) ExecuteCode(ctx context.Context, req CodeRequest, ch chan<- Event) error {
	defer close(ch)
	if req.Language != LanguagePython {
		return fmt.Errorf("unsupported language %q", req.Language)
	}

	s.log.WithField("bytes", len(req.Code)).Debug("executing code")
	return runProcess(ctx, s.lim, func(ctx context.Context) *exec.Cmd {
		cmd := exec.CommandContext(ctx, s.python, "-u", "-")
		cmd.Dir = s.workdir
		return cmd
	}, strings.NewReader(req.Code), ch)
}
