package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/switchyard-ai/switchyard/internal/memory"
)

// MemoryStoreTool upserts an entry into the hybrid memory store.
type MemoryStoreTool struct{ base }

func NewMemoryStoreTool() *MemoryStoreTool {
	return &MemoryStoreTool{base: newBase(
		"memory_store",
		"Store or update a memory entry under a hierarchical key (e.g. u:telegram:42:prefs or global:facts).",
		Lightweight,
		`{
			"type": "object",
			"properties": {
				"key": {"type": "string", "minLength": 1},
				"content": {"type": "string", "minLength": 1},
				"metadata": {"type": "object"}
			},
			"required": ["key", "content"],
			"additionalProperties": false
		}`,
	)}
}

func (t *MemoryStoreTool) Execute(ctx context.Context, args json.RawMessage, tc *Context) *Result {
	var input struct {
		Key      string         `json:"key"`
		Content  string         `json:"content"`
		Metadata map[string]any `json:"metadata"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return failure("decode arguments: %v", err)
	}
	if tc.Memory == nil {
		return failure("memory backend not available")
	}

	if err := tc.Memory.Store(ctx, input.Key, input.Content, input.Metadata); err != nil {
		return failure("store: %v", err)
	}
	res := success(fmt.Sprintf("stored %s", input.Key))
	res.Metadata = map[string]any{"key": input.Key}
	return res
}

// MemoryRecallTool runs a hybrid keyword+vector search.
type MemoryRecallTool struct{ base }

func NewMemoryRecallTool() *MemoryRecallTool {
	return &MemoryRecallTool{base: newBase(
		"memory_recall",
		"Recall memory entries matching a query. key_prefix strictly scopes results to a namespace.",
		Lightweight,
		`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "minLength": 1},
				"limit": {"type": "integer", "minimum": 1, "maximum": 50},
				"min_score": {"type": "number", "minimum": 0, "maximum": 1},
				"key_prefix": {"type": "string"}
			},
			"required": ["query"],
			"additionalProperties": false
		}`,
	)}
}

func (t *MemoryRecallTool) Execute(ctx context.Context, args json.RawMessage, tc *Context) *Result {
	var input struct {
		Query     string  `json:"query"`
		Limit     int     `json:"limit"`
		MinScore  float64 `json:"min_score"`
		KeyPrefix string  `json:"key_prefix"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return failure("decode arguments: %v", err)
	}
	if tc.Memory == nil {
		return failure("memory backend not available")
	}
	if input.Limit == 0 {
		input.Limit = 10
	}

	results, err := tc.Memory.Recall(ctx, input.Query, &memory.RecallOptions{
		Limit:     input.Limit,
		MinScore:  input.MinScore,
		KeyPrefix: input.KeyPrefix,
	})
	if err != nil {
		return failure("recall: %v", err)
	}

	var sb strings.Builder
	for _, r := range results {
		fmt.Fprintf(&sb, "[%.2f] %s: %s\n", r.Score, r.Entry.Key, r.Entry.Content)
	}
	if sb.Len() == 0 {
		sb.WriteString("no matching memories\n")
	}

	res := success(sb.String())
	res.Metadata = map[string]any{"query": input.Query, "results": len(results)}
	return res
}
