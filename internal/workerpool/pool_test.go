package workerpool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/switchyard-ai/switchyard/internal/tools"
)

func inlinePool(registry *tools.Registry) *Pool {
	return New(Options{Size: 2, Registry: registry, ShutdownTimeout: time.Second})
}

func lsTask(t *testing.T) *Task {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	return &Task{
		Tool:    "ls",
		Args:    json.RawMessage(`{}`),
		Context: TaskContext{SessionID: "s1", Cwd: dir},
	}
}

func TestInlineExecute(t *testing.T) {
	pool := inlinePool(tools.NewDefaultRegistry(tools.Deps{}))
	defer pool.Shutdown()

	result, err := pool.Execute(context.Background(), lsTask(t), nil, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	if !strings.Contains(result.Output, "hello.txt") {
		t.Errorf("output = %q", result.Output)
	}

	stats := pool.Stats()
	if stats.TotalTasks != 1 || stats.CompletedTasks != 1 || stats.FailedTasks != 0 || stats.QueuedTasks != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestInlineNoRegistryRefuses(t *testing.T) {
	pool := inlinePool(nil)
	defer pool.Shutdown()

	result, err := pool.Execute(context.Background(), lsTask(t), nil, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Success || !strings.Contains(result.Error, "no tool registry") {
		t.Errorf("result = %+v", result)
	}
	if stats := pool.Stats(); stats.FailedTasks != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestPreAbortedRejectsWithoutStats(t *testing.T) {
	pool := inlinePool(tools.NewDefaultRegistry(tools.Deps{}))
	defer pool.Shutdown()

	cancel := make(chan struct{})
	close(cancel)

	_, err := pool.Execute(context.Background(), lsTask(t), cancel, nil)
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("err = %v, want ErrAborted", err)
	}
	if stats := pool.Stats(); stats != (Stats{}) {
		t.Errorf("pre-aborted task counted: %+v", stats)
	}
}

func TestExecuteAfterShutdown(t *testing.T) {
	pool := inlinePool(tools.NewDefaultRegistry(tools.Deps{}))
	pool.Shutdown()

	if _, err := pool.Execute(context.Background(), lsTask(t), nil, nil); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("err = %v, want ErrPoolClosed", err)
	}
	// Shutdown is idempotent.
	pool.Shutdown()
}

func TestInlineFailureCounted(t *testing.T) {
	pool := inlinePool(tools.NewDefaultRegistry(tools.Deps{}))
	defer pool.Shutdown()

	task := lsTask(t)
	task.Tool = "no_such_tool"
	result, err := pool.Execute(context.Background(), task, nil, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Success {
		t.Fatal("unknown tool succeeded")
	}
	stats := pool.Stats()
	if stats.TotalTasks != 1 || stats.FailedTasks != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestServeRoundTrip(t *testing.T) {
	registry := tools.NewDefaultRegistry(tools.Deps{})
	task := lsTask(t)

	req, err := json.Marshal(&Message{Kind: KindExecute, TaskID: "t1", Task: task})
	if err != nil {
		t.Fatal(err)
	}
	input := bytes.NewReader(append(req, '\n'))
	var output bytes.Buffer

	if err := Serve(context.Background(), input, &output, registry, nil); err != nil {
		t.Fatalf("serve: %v", err)
	}

	var got *Message
	for _, line := range strings.Split(strings.TrimSpace(output.String()), "\n") {
		var msg Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		if msg.Kind == KindResult && msg.TaskID == "t1" {
			got = &msg
		}
	}
	if got == nil || got.Result == nil {
		t.Fatalf("no result message in %q", output.String())
	}
	if !got.Result.Success || !strings.Contains(got.Result.Output, "hello.txt") {
		t.Errorf("result = %+v", got.Result)
	}
}

func TestServeForwardsProgress(t *testing.T) {
	registry := tools.NewDefaultRegistry(tools.Deps{})
	dir := t.TempDir()
	task := &Task{
		Tool:    "bash",
		Args:    json.RawMessage(`{"command":["echo","progress-check"]}`),
		Context: TaskContext{SessionID: "s1", Cwd: dir},
	}

	req, _ := json.Marshal(&Message{Kind: KindExecute, TaskID: "t2", Task: task})
	var output bytes.Buffer
	if err := Serve(context.Background(), bytes.NewReader(append(req, '\n')), &output, registry, nil); err != nil {
		t.Fatalf("serve: %v", err)
	}

	var sawProgress, sawResult bool
	for _, line := range strings.Split(strings.TrimSpace(output.String()), "\n") {
		var msg Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			continue
		}
		switch msg.Kind {
		case KindProgress:
			sawProgress = true
		case KindResult:
			sawResult = true
			if !msg.Result.Success || !strings.Contains(msg.Result.Output, "progress-check") {
				t.Errorf("result = %+v", msg.Result)
			}
		}
	}
	if !sawProgress {
		t.Error("no progress message forwarded")
	}
	if !sawResult {
		t.Error("no result message")
	}
}

func TestServeIgnoresGarbage(t *testing.T) {
	input := io.MultiReader(
		strings.NewReader("not json\n"),
		strings.NewReader(`{"kind":"progress"}`+"\n"),
	)
	var output bytes.Buffer
	if err := Serve(context.Background(), input, &output, tools.NewDefaultRegistry(tools.Deps{}), nil); err != nil {
		t.Fatalf("serve: %v", err)
	}
	if output.Len() != 0 {
		t.Errorf("unexpected output %q", output.String())
	}
}
