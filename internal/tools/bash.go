package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"sync"
	"time"
)

const (
	defaultCommandTimeout = 60 * time.Second
	maxCommandOutput      = 64 * 1024
)

// BashTool runs an allowlisted command inside the workspace. Heavyweight:
// the engine may dispatch it to the worker pool.
type BashTool struct {
	base

	mu      sync.Mutex
	running *exec.Cmd
}

func NewBashTool() *BashTool {
	return &BashTool{base: newBase(
		"bash",
		"Run an allowlisted command in the working directory. No shell interpretation.",
		Heavyweight,
		`{
			"type": "object",
			"properties": {
				"command": {
					"type": "array",
					"items": {"type": "string"},
					"minItems": 1,
					"description": "Command and arguments as separate strings."
				},
				"timeout_seconds": {"type": "integer", "minimum": 1, "maximum": 600}
			},
			"required": ["command"],
			"additionalProperties": false
		}`,
	)}
}

func (t *BashTool) Execute(ctx context.Context, args json.RawMessage, tc *Context) *Result {
	var input struct {
		Command        []string `json:"command"`
		TimeoutSeconds int      `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return failure("decode arguments: %v", err)
	}

	if err := tc.Policy.ValidateCommand(input.Command); err != nil {
		return securityFailure(err)
	}

	timeout := defaultCommandTimeout
	if input.TimeoutSeconds > 0 {
		timeout = time.Duration(input.TimeoutSeconds) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, input.Command[0], input.Command[1:]...)
	cmd.Dir = tc.Cwd
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	t.mu.Lock()
	t.running = cmd
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.running = nil
		t.mu.Unlock()
	}()

	tc.Progress("running " + input.Command[0])
	runErr := cmd.Run()

	output := buf.String()
	if len(output) > maxCommandOutput {
		output = output[:maxCommandOutput] + "\n[output truncated]"
	}
	output, redactions := tc.Policy.SanitizeOutput(output)

	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	meta := map[string]any{
		"command":    input.Command[0],
		"exit_code":  exitCode,
		"redactions": redactions,
	}

	if runCtx.Err() == context.DeadlineExceeded {
		return &Result{Success: false, Output: output, Error: "command timed out", Metadata: meta}
	}
	if runErr != nil {
		return &Result{Success: false, Output: output, Error: runErr.Error(), Metadata: meta}
	}
	return &Result{Success: true, Output: output, Metadata: meta}
}

// AbortExecution kills the in-flight command, if any.
func (t *BashTool) AbortExecution(_ string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running != nil && t.running.Process != nil {
		_ = t.running.Process.Kill()
	}
}
