package workerpool

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/switchyard-ai/switchyard/internal/config"
	"github.com/switchyard-ai/switchyard/internal/security"
	"github.com/switchyard-ai/switchyard/internal/tools"
)

// Serve is the worker-side loop: read execute messages from r, run them
// against the registry, and write progress and result messages to w. It
// returns when r reaches EOF.
func Serve(ctx context.Context, r io.Reader, w io.Writer, registry *tools.Registry, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "worker")

	var writeMu sync.Mutex
	emit := func(msg *Message) {
		writeMu.Lock()
		defer writeMu.Unlock()
		data, err := json.Marshal(msg)
		if err != nil {
			logger.Error("encode message failed", "error", err)
			return
		}
		w.Write(append(data, '\n'))
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			logger.Warn("malformed message", "error", err)
			continue
		}
		if msg.Kind != KindExecute || msg.Task == nil {
			continue
		}

		result := runTask(ctx, registry, msg.Task, func(update string) {
			emit(&Message{Kind: KindProgress, TaskID: msg.TaskID, Update: update})
		})
		emit(&Message{Kind: KindResult, TaskID: msg.TaskID, Result: result})
	}
	return scanner.Err()
}

// runTask reconstructs a full tool context from the serialised subset and
// executes the tool.
func runTask(ctx context.Context, registry *tools.Registry, task *Task, onProgress func(string)) *tools.Result {
	if registry == nil {
		return &tools.Result{Success: false, Error: "no tool registry configured"}
	}

	tc, err := reconstructContext(&task.Context, onProgress, ctx.Done())
	if err != nil {
		return &tools.Result{Success: false, Error: fmt.Sprintf("reconstruct context: %v", err)}
	}
	return registry.Execute(ctx, task.Tool, task.Args, tc)
}

// reconstructContext rebuilds the security policy from the minimal task
// context. Autonomy is full: confirmation gating happened in the parent.
func reconstructContext(taskCtx *TaskContext, onProgress func(string), abort <-chan struct{}) (*tools.Context, error) {
	policy, err := security.NewPolicy(security.Options{
		WorkspaceRoot:    taskCtx.Cwd,
		Autonomy:         security.AutonomyFull,
		CommandAllowlist: config.DefaultCommandAllowlist(),
	})
	if err != nil {
		return nil, err
	}
	return &tools.Context{
		SessionID:  taskCtx.SessionID,
		Cwd:        policy.Root(),
		Policy:     policy,
		Abort:      abort,
		OnProgress: onProgress,
	}, nil
}
