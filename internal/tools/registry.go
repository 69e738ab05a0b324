package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"

	"github.com/switchyard-ai/switchyard/internal/mcp"
	"github.com/switchyard-ai/switchyard/pkg/models"
)

// Registry maps tool names to tools. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any existing tool with the same name.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns the registered tool names sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions exports all tools as provider tool definitions, sorted by
// name for deterministic prompts.
func (r *Registry) Definitions() []models.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]models.ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, models.ToolDefinition{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.Schema(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute validates the arguments and runs the named tool. Unknown tools
// and validation failures come back as failed Results, not Go errors.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage, tc *Context) *Result {
	tool, ok := r.Get(name)
	if !ok {
		return failure("unknown tool: %s", name)
	}
	if err := tool.Validate(args); err != nil {
		return failure("%v", err)
	}
	if tc.Aborted() {
		return failure("aborted before execution")
	}
	return tool.Execute(ctx, args, tc)
}

// Deps carries the process-level backends the default tool set needs.
// Session-level backends (memory, canvas, signer) travel in the Context.
type Deps struct {
	MCP        *mcp.Manager
	Search     SearchBackend
	Skills     map[string]string
	HTTPClient *http.Client
	WebFetch   WebFetchOptions
}

// NewDefaultRegistry builds the standard tool set.
func NewDefaultRegistry(deps Deps) *Registry {
	r := NewRegistry()
	r.Register(NewFileReadTool())
	r.Register(NewFileWriteTool())
	r.Register(NewFileEditTool())
	r.Register(NewFileAppendTool())
	r.Register(NewLsTool())
	r.Register(NewStatTool())
	r.Register(NewGrepTool())
	r.Register(NewBashTool())
	r.Register(NewWebFetchTool(deps.HTTPClient, deps.WebFetch))
	r.Register(NewWebSearchTool(deps.Search))
	r.Register(NewMemoryStoreTool())
	r.Register(NewMemoryRecallTool())
	r.Register(NewLoadSkillTool(deps.Skills))
	r.Register(NewCanvasRenderTool())
	r.Register(NewMCPClientTool(deps.MCP))
	return r
}
