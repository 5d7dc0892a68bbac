package backend

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Container lifecycle states reported by DockerSandbox.Status.
const (
	StatusIdle     = "idle"
	StatusLaunched = "launched"
	StatusError    = "error"
)

// DockerSandbox runs Python inside a long-lived Docker container via
// `docker exec`. The container is launched on first use.
type DockerSandbox struct {
	containerName string
	image         string
	dockerHost    string
	workdir       string
	python        string
	lim           limits
	log           logrus.FieldLogger

	mu     sync.Mutex
	status string
	err    string
}

// NewDockerSandbox creates a Docker sandbox. Zero values pick defaults.
func NewDockerSandbox(containerName, image, dockerHost, python string, timeout float64, maxOutputBytes int, log logrus.FieldLogger) *DockerSandbox {
	if containerName == "" {
		containerName = "looper-sandbox"
	}
	if image == "" {
		image = "python:3.12-slim"
	}
	if python == "" {
		python = "python3"
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
	return &DockerSandbox{
		containerName: containerName,
		image:         image,
		dockerHost:    dockerHost,
		workdir:       "/workspace",
		python:        python,
		lim: limits{
			timeout:        time.Duration(timeout * float64(time.Second)),
			maxOutputBytes: maxOutputBytes,
		},
		log:    log.WithField("sandbox", containerName),
		status: StatusIdle,
	}
}

func (s *DockerSandbox) ID() string { return s.containerName }

// Status returns the container state and the last launch error, if any.
func (s *DockerSandbox) Status() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.err
}

// dockerCmd builds a docker CLI argv, optionally targeting a remote host.
func (s *DockerSandbox) dockerCmd(args ...string) []string {
	cmd := []string{"docker"}
	if s.dockerHost != "" {
		cmd = append(cmd, "-H", s.dockerHost)
	}
	return append(cmd, args...)
}

// EnsureContainer checks that the container is running and launches it
// otherwise.
func (s *DockerSandbox) EnsureContainer(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusLaunched {
		return nil
	}

	inspect := s.dockerCmd("inspect", "--format", "{{.State.Running}}", s.containerName)
	out, err := exec.CommandContext(ctx, inspect[0], inspect[1:]...).CombinedOutput()
	if err == nil && strings.Contains(strings.ToLower(string(out)), "true") {
		s.status, s.err = StatusLaunched, ""
		return nil
	}

	target := s.dockerHost
	if target == "" {
		target = "local daemon"
	}
	s.log.WithField("target", target).Info("launching sandbox container")

	rm := s.dockerCmd("rm", "-f", s.containerName)
	exec.CommandContext(ctx, rm[0], rm[1:]...).Run()

	run := s.dockerCmd("run", "-d",
		"--name", s.containerName,
		"-w", s.workdir,
		s.image,
		"sleep", "infinity",
	)
	out, err = exec.CommandContext(ctx, run[0], run[1:]...).CombinedOutput()
	if err != nil {
		s.status, s.err = StatusError, strings.TrimSpace(string(out))
		return fmt.Errorf("launch container: %s: %w", strings.TrimSpace(string(out)), err)
	}
	s.status, s.err = StatusLaunched, ""
	s.log.Info("sandbox container launched")
	return nil
}

// Stop removes the container.
func (s *DockerSandbox) Stop(ctx context.Context) error {
	rm := s.dockerCmd("rm", "-f", s.containerName)
	err := exec.CommandContext(ctx, rm[0], rm[1:]...).Run()
	s.mu.Lock()
	s.status = StatusIdle
	s.mu.Unlock()
	return err
}

// ExecuteCode pipes req.Code into the interpreter inside the container.
func (s *DockerSandbox) ExecuteCode(ctx context.Context, req CodeRequest, ch chan<- Event) error {
	defer close(ch)
	if req.Language != LanguagePython {
		return fmt.Errorf("unsupported language %q", req.Language)
	}
	if err := s.EnsureContainer(ctx); err != nil {
		return err
	}

	argv := s.dockerCmd("exec", "-i", "-w", s.workdir, s.containerName, s.python, "-u", "-")
	return runProcess(ctx, s.lim, func(ctx context.Context) *exec.Cmd {
		return exec.CommandContext(ctx, argv[0], argv[1:]...)
	}, strings.NewReader(req.Code), ch)
}
