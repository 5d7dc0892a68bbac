package backend

import (
	"context"
	"encoding/json"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func requirePython(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
}

func runLocal(t *testing.T, sb *LocalSandbox, code string) []Event {
	t.Helper()
	ch := make(chan Event, 16)
	errCh := make(chan error, 1)
	go func() {
		errCh <- sb.ExecuteCode(context.Background(), CodeRequest{Language: LanguagePython, Code: code}, ch)
	}()
	var events []Event
	for ev := range ch {
		events = append(events, ev)
	}
	if err := <-errCh; err != nil {
		t.Fatal(err)
	}
	return events
}

func resultText(t *testing.T, ev Event) string {
	t.Helper()
	var blocks []ContentBlock
	if err := json.Unmarshal(ev.Result.Content, &blocks); err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 1 || blocks[0].Type != "text" {
		t.Fatalf("unexpected blocks %+v", blocks)
	}
	return blocks[0].Text
}

func TestLocalSandbox_ID(t *testing.T) {
	if id := NewLocalSandbox("", t.TempDir(), 0, 0, nil).ID(); id != "local" {
		t.Fatalf("expected 'local', got %q", id)
	}
}

func TestLocalSandbox_UnsupportedLanguage(t *testing.T) {
	sb := NewLocalSandbox("", t.TempDir(), 0, 0, nil)
	ch := make(chan Event, 1)
	if err := sb.ExecuteCode(context.Background(), CodeRequest{Language: "ruby", Code: "p 1"}, ch); err == nil {
		t.Fatal("expected error")
	}
	if _, open := <-ch; open {
		t.Fatal("expected closed channel")
	}
}

func TestLocalSandbox_Execute(t *testing.T) {
	requirePython(t)
	sb := NewLocalSandbox("", t.TempDir(), 10, 10_000, nil)

	t.Run("streams lines then result", func(t *testing.T) {
		events := runLocal(t, sb, "print('a')\nprint('b')\n")
		if len(events) != 3 {
			t.Fatalf("expected 3 events, got %+v", events)
		}
		if events[0].Stdout != "a" || events[1].Stdout != "b" {
			t.Fatalf("unexpected partial events %+v", events[:2])
		}
		last := events[2]
		if !last.HasContent() || last.Result.IsError {
			t.Fatalf("expected successful result, got %+v", last)
		}
		if got := resultText(t, last); got != "a\nb" {
			t.Fatalf("expected %q, got %q", "a\nb", got)
		}
	})

	t.Run("nonzero exit", func(t *testing.T) {
		events := runLocal(t, sb, "import sys\nprint('oops', file=sys.stderr)\nsys.exit(3)\n")
		last := events[len(events)-1]
		if !last.Result.IsError {
			t.Fatal("expected error result")
		}
		text := resultText(t, last)
		if !strings.Contains(text, "[stderr] oops") || !strings.Contains(text, "Exit code: 3") {
			t.Fatalf("unexpected text %q", text)
		}
	})

	t.Run("no output", func(t *testing.T) {
		events := runLocal(t, sb, "x = 1\n")
		if got := resultText(t, events[len(events)-1]); got != "<no output>" {
			t.Fatalf("unexpected text %q", got)
		}
	})
}

func TestLocalSandbox_Timeout(t *testing.T) {
	requirePython(t)
	sb := NewLocalSandbox("", t.TempDir(), 0.5, 10_000, nil)
	events := runLocal(t, sb, "import time\ntime.sleep(5)\n")
	last := events[len(events)-1]
	if !last.Result.IsError || !strings.Contains(resultText(t, last), "timed out") {
		t.Fatalf("expected timeout result, got %+v", last)
	}
}

func TestSummarize_Truncates(t *testing.T) {
	lim := limits{maxOutputBytes: 5}
	text, isError, err := summarize(context.Background(), "abcdefghij\n", "", nil, lim)
	if err != nil || isError {
		t.Fatalf("unexpected err=%v isError=%v", err, isError)
	}
	if !strings.HasPrefix(text, "abcde") || !strings.Contains(text, "truncated at 5 bytes") {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestLocalSandbox_LongLine(t *testing.T) {
	requirePython(t)
	sb := NewLocalSandbox("", t.TempDir(), 10, 100, nil)
	out, err := NewExecutor(sb, nil).Execute(context.Background(), "print('x'*2000000)\nprint('after')")
	if err != nil {
		t.Fatal(err)
	}
	var blocks []ContentBlock
	if err := json.Unmarshal([]byte(out), &blocks); err != nil {
		t.Fatal(err)
	}
	text := blocks[0].Text
	if !strings.HasPrefix(text, strings.Repeat("x", 100)) || !strings.Contains(text, "Output truncated at 100 bytes.") {
		t.Fatalf("expected truncated output, got %.200q", text)
	}
}

func TestRunProcess_LongLineKeepsReading(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	lim := limits{timeout: 10 * time.Second, maxOutputBytes: 0}
	mk := func(ctx context.Context) *exec.Cmd {
		return exec.CommandContext(ctx, "sh", "-c", "head -c 2000000 /dev/zero | tr '\\000' x; echo; echo after")
	}
	ch := make(chan Event, 16)
	if err := runProcess(context.Background(), lim, mk, nil, ch); err != nil {
		t.Fatal(err)
	}
	close(ch)

	var events []Event
	for ev := range ch {
		events = append(events, ev)
	}
	if len(events) != 3 {
		t.Fatalf("expected 2 lines and a result, got %d events", len(events))
	}
	if len(events[0].Stdout) != 2_000_000 || events[1].Stdout != "after" {
		t.Fatalf("unexpected line events: %d bytes, %q", len(events[0].Stdout), events[1].Stdout)
	}
	if got := resultText(t, events[2]); !strings.HasSuffix(got, "\nafter") || len(got) != 2_000_006 {
		t.Fatalf("unexpected result of %d bytes", len(got))
	}
}
