// Package tools implements the standard tool set the engine offers to
// providers: filesystem access, grep, command execution, web fetch and
// search, memory, skills, canvas rendering, and the MCP bridge. Every tool
// validates its arguments against a JSON schema and consults the security
// policy before touching anything.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/switchyard-ai/switchyard/internal/canvas"
	"github.com/switchyard-ai/switchyard/internal/memory"
	"github.com/switchyard-ai/switchyard/internal/security"
	"github.com/switchyard-ai/switchyard/internal/x402"
)

// Weight classifies execution cost. Heavyweight tools may be dispatched to
// the worker pool.
type Weight string

const (
	Lightweight Weight = "lightweight"
	Heavyweight Weight = "heavyweight"
)

// Result is the outcome of one tool execution. Tool-level failures are
// reported here, not as Go errors, so the conversation can recover.
type Result struct {
	Success  bool           `json:"success"`
	Output   string         `json:"output"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Context carries the per-invocation environment: session identity, working
// directory, security policy, abort signal, progress sink, and the optional
// backends a tool may need. Backends that hold functions or keys (signer)
// cannot cross the worker boundary and are nil in workers.
type Context struct {
	SessionID  string
	Cwd        string
	Policy     *security.Policy
	Abort      <-chan struct{}
	OnProgress func(update string)

	Memory *memory.Store
	Canvas *canvas.Board
	Signer x402.Signer
}

// Progress reports an intermediate update if a sink is wired.
func (c *Context) Progress(update string) {
	if c != nil && c.OnProgress != nil {
		c.OnProgress(update)
	}
}

// Aborted reports whether the invocation has been aborted.
func (c *Context) Aborted() bool {
	if c == nil || c.Abort == nil {
		return false
	}
	select {
	case <-c.Abort:
		return true
	default:
		return false
	}
}

// Tool is one named, schema-validated operation.
type Tool interface {
	Name() string
	Description() string
	Weight() Weight
	Schema() json.RawMessage
	Validate(args json.RawMessage) error
	Execute(ctx context.Context, args json.RawMessage, tc *Context) *Result
}

// Aborter is implemented by tools that can interrupt an in-flight execution.
type Aborter interface {
	AbortExecution(reason string)
}

// Snapshotter is implemented by tools that expose inspectable state.
type Snapshotter interface {
	StateSnapshot(args json.RawMessage, tc *Context) (map[string]any, error)
}

// base carries the descriptor fields and schema validation shared by all
// standard tools.
type base struct {
	name        string
	description string
	weight      Weight
	schema      json.RawMessage
	compiled    *jsonschema.Schema
}

func newBase(name, description string, weight Weight, schema string) base {
	compiler := jsonschema.NewCompiler()
	url := name + ".schema.json"
	if err := compiler.AddResource(url, strings.NewReader(schema)); err != nil {
		panic(fmt.Sprintf("tools: schema for %s: %v", name, err))
	}
	return base{
		name:        name,
		description: description,
		weight:      weight,
		schema:      json.RawMessage(schema),
		compiled:    compiler.MustCompile(url),
	}
}

func (b *base) Name() string            { return b.name }
func (b *base) Description() string     { return b.description }
func (b *base) Weight() Weight          { return b.weight }
func (b *base) Schema() json.RawMessage { return b.schema }

// Validate checks args against the tool's parameter schema.
func (b *base) Validate(args json.RawMessage) error {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	var value any
	if err := json.Unmarshal(args, &value); err != nil {
		return fmt.Errorf("tools: arguments are not valid JSON: %w", err)
	}
	if err := b.compiled.Validate(value); err != nil {
		return fmt.Errorf("tools: invalid arguments for %s: %w", b.name, err)
	}
	return nil
}

func success(output string) *Result {
	return &Result{Success: true, Output: output}
}

func failure(format string, args ...any) *Result {
	return &Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// securityFailure flags a policy refusal so callers can distinguish it from
// ordinary tool failures.
func securityFailure(err error) *Result {
	return &Result{
		Success:  false,
		Error:    err.Error(),
		Metadata: map[string]any{"security_violation": true},
	}
}
