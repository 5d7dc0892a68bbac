package backend

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

// limits bounds a single program run.
type limits struct {
	timeout        time.Duration
	maxOutputBytes int
}

// runProcess starts the command built by mk, streams each stdout line as a
// progress event and finishes with one result event summarising the run.
// It returns an error only when the process could not be run at all.
func runProcess(parent context.Context, lim limits, mk func(ctx context.Context) *exec.Cmd, stdin io.Reader, ch chan<- Event) error {
	ctx, cancel := context.WithTimeout(parent, lim.timeout)
	defer cancel()

	cmd := mk(ctx)
	cmd.Stdin = stdin

	var stderr strings.Builder
	cmd.Stderr = &stderr
	pipe, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	var stdout strings.Builder
	r := bufio.NewReader(pipe)
	for {
		line, readErr := r.ReadString('\n')
		if line != "" {
			captureCapped(&stdout, line, lim.maxOutputBytes)
			select {
			case ch <- Event{Stdout: clip(strings.TrimSuffix(line, "\n"), lim.maxOutputBytes)}:
			case <-ctx.Done():
			}
		}
		if readErr != nil {
			break
		}
	}
	// drain so the child never blocks on a full pipe
	io.Copy(io.Discard, pipe)
	runErr := cmd.Wait()

	if err := parent.Err(); err != nil {
		return err
	}
	text, isError, err := summarize(ctx, stdout.String(), stderr.String(), runErr, lim)
	if err != nil {
		return err
	}
	select {
	case ch <- TextResult(text, isError):
		return nil
	case <-parent.Done():
		return parent.Err()
	}
}

// captureCapped appends s to b, keeping one byte past max so summarize
// still sees the overflow. max <= 0 keeps everything.
func captureCapped(b *strings.Builder, s string, max int) {
	if max > 0 {
		room := max + 1 - b.Len()
		if room <= 0 {
			return
		}
		if len(s) > room {
			s = s[:room]
		}
	}
	b.WriteString(s)
}

func clip(s string, max int) string {
	if max > 0 && len(s) > max {
		return s[:max]
	}
	return s
}

// summarize folds captured output into the text of a result event.
func summarize(ctx context.Context, stdoutStr, stderrStr string, runErr error, lim limits) (string, bool, error) {
	var parts []string
	if stdoutStr != "" {
		parts = append(parts, strings.TrimRight(stdoutStr, "\n"))
	}
	if stderrStr != "" {
		for _, line := range strings.Split(strings.TrimSpace(stderrStr), "\n") {
			parts = append(parts, "[stderr] "+line)
		}
	}

	output := "<no output>"
	if len(parts) > 0 {
		output = strings.Join(parts, "\n")
	}
	if lim.maxOutputBytes > 0 && len(output) > lim.maxOutputBytes {
		output = output[:lim.maxOutputBytes] + fmt.Sprintf("\n\n... Output truncated at %d bytes.", lim.maxOutputBytes)
	}

	if runErr == nil {
		return output, false, nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Sprintf("Error: execution timed out after %.1f seconds.", lim.timeout.Seconds()), true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return output + fmt.Sprintf("\n\nExit code: %d", exitErr.ExitCode()), true, nil
	}
	return "", false, runErr
}
