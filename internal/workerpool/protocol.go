// Package workerpool runs heavyweight tools in a bounded pool of reusable
// subprocesses. Parent and worker exchange newline-delimited JSON messages
// over the worker's stdio.
package workerpool

import (
	"encoding/json"

	"github.com/switchyard-ai/switchyard/internal/tools"
)

// MessageKind discriminates protocol messages.
type MessageKind string

const (
	KindExecute  MessageKind = "execute"
	KindProgress MessageKind = "progress"
	KindResult   MessageKind = "result"
	KindError    MessageKind = "error"
)

// TaskContext is the minimal serialisable slice of a tool context. The
// worker reconstructs a full context from it; policy is rebuilt with
// autonomy=full because the parent already gated the call.
type TaskContext struct {
	SessionID string `json:"session_id"`
	Cwd       string `json:"cwd"`
}

// Task is one heavyweight tool invocation.
type Task struct {
	Tool    string          `json:"tool"`
	Args    json.RawMessage `json:"args"`
	Context TaskContext     `json:"context"`
}

// Message is the wire envelope in both directions.
type Message struct {
	Kind   MessageKind   `json:"kind"`
	TaskID string        `json:"task_id,omitempty"`
	Task   *Task         `json:"task,omitempty"`
	Update string        `json:"update,omitempty"`
	Result *tools.Result `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}
