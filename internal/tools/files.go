package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/switchyard-ai/switchyard/internal/security"
)

// maxReadBytes bounds a single file_read.
const maxReadBytes = 256 * 1024

// gatePath resolves a possibly-relative path against the invocation cwd and
// runs it through the security policy. The returned path is canonical.
func gatePath(tc *Context, path string, op security.PathOp) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(tc.Cwd, path)
	}
	return tc.Policy.ValidatePath(path, op)
}

// FileReadTool reads a file inside the workspace.
type FileReadTool struct{ base }

func NewFileReadTool() *FileReadTool {
	return &FileReadTool{base: newBase(
		"file_read",
		"Read a file from the workspace. Large files are truncated.",
		Lightweight,
		`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "File path, relative to the working directory or absolute."},
				"offset": {"type": "integer", "minimum": 0, "description": "Byte offset to start reading from."},
				"max_bytes": {"type": "integer", "minimum": 1, "description": "Maximum bytes to return."}
			},
			"required": ["path"],
			"additionalProperties": false
		}`,
	)}
}

func (t *FileReadTool) Execute(_ context.Context, args json.RawMessage, tc *Context) *Result {
	var input struct {
		Path     string `json:"path"`
		Offset   int64  `json:"offset"`
		MaxBytes int    `json:"max_bytes"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return failure("decode arguments: %v", err)
	}

	resolved, err := gatePath(tc, input.Path, security.OpRead)
	if err != nil {
		return securityFailure(err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return failure("read %s: %v", input.Path, err)
	}

	limit := maxReadBytes
	if input.MaxBytes > 0 && input.MaxBytes < limit {
		limit = input.MaxBytes
	}
	if input.Offset > int64(len(data)) {
		input.Offset = int64(len(data))
	}
	chunk := data[input.Offset:]
	truncated := false
	if len(chunk) > limit {
		chunk = chunk[:limit]
		truncated = true
	}

	res := success(string(chunk))
	res.Metadata = map[string]any{
		"path":      input.Path,
		"bytes":     len(chunk),
		"size":      len(data),
		"truncated": truncated,
	}
	return res
}

// FileWriteTool creates or replaces a file.
type FileWriteTool struct{ base }

func NewFileWriteTool() *FileWriteTool {
	return &FileWriteTool{base: newBase(
		"file_write",
		"Write content to a file, creating parent directories as needed. Replaces existing content.",
		Lightweight,
		`{
			"type": "object",
			"properties": {
				"path": {"type": "string"},
				"content": {"type": "string"}
			},
			"required": ["path", "content"],
			"additionalProperties": false
		}`,
	)}
}

func (t *FileWriteTool) Execute(_ context.Context, args json.RawMessage, tc *Context) *Result {
	var input struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return failure("decode arguments: %v", err)
	}

	resolved, err := gatePath(tc, input.Path, security.OpWrite)
	if err != nil {
		return securityFailure(err)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return failure("create parent dirs: %v", err)
	}
	if err := os.WriteFile(resolved, []byte(input.Content), 0o644); err != nil {
		return failure("write %s: %v", input.Path, err)
	}

	res := success(fmt.Sprintf("wrote %d bytes to %s", len(input.Content), input.Path))
	res.Metadata = map[string]any{"path": input.Path, "bytes": len(input.Content)}
	return res
}

// FileEditTool replaces an exact substring in a file.
type FileEditTool struct{ base }

func NewFileEditTool() *FileEditTool {
	return &FileEditTool{base: newBase(
		"file_edit",
		"Replace an exact string in a file. The old string must match exactly once unless replace_all is set.",
		Lightweight,
		`{
			"type": "object",
			"properties": {
				"path": {"type": "string"},
				"old_string": {"type": "string", "minLength": 1},
				"new_string": {"type": "string"},
				"replace_all": {"type": "boolean"}
			},
			"required": ["path", "old_string", "new_string"],
			"additionalProperties": false
		}`,
	)}
}

func (t *FileEditTool) Execute(_ context.Context, args json.RawMessage, tc *Context) *Result {
	var input struct {
		Path       string `json:"path"`
		OldString  string `json:"old_string"`
		NewString  string `json:"new_string"`
		ReplaceAll bool   `json:"replace_all"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return failure("decode arguments: %v", err)
	}

	resolved, err := gatePath(tc, input.Path, security.OpWrite)
	if err != nil {
		return securityFailure(err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return failure("read %s: %v", input.Path, err)
	}
	content := string(data)

	count := strings.Count(content, input.OldString)
	if count == 0 {
		return failure("old_string not found in %s", input.Path)
	}
	if count > 1 && !input.ReplaceAll {
		return failure("old_string matches %d times in %s; pass replace_all or disambiguate", count, input.Path)
	}

	replacements := 1
	if input.ReplaceAll {
		replacements = count
	}
	content = strings.Replace(content, input.OldString, input.NewString, replacements)

	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return failure("write %s: %v", input.Path, err)
	}

	res := success(fmt.Sprintf("replaced %d occurrence(s) in %s", replacements, input.Path))
	res.Metadata = map[string]any{"path": input.Path, "replacements": replacements}
	return res
}

// FileAppendTool appends to a file, creating it if absent.
type FileAppendTool struct{ base }

func NewFileAppendTool() *FileAppendTool {
	return &FileAppendTool{base: newBase(
		"file_append",
		"Append content to a file, creating it if it does not exist.",
		Lightweight,
		`{
			"type": "object",
			"properties": {
				"path": {"type": "string"},
				"content": {"type": "string"}
			},
			"required": ["path", "content"],
			"additionalProperties": false
		}`,
	)}
}

func (t *FileAppendTool) Execute(_ context.Context, args json.RawMessage, tc *Context) *Result {
	var input struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return failure("decode arguments: %v", err)
	}

	resolved, err := gatePath(tc, input.Path, security.OpWrite)
	if err != nil {
		return securityFailure(err)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return failure("create parent dirs: %v", err)
	}

	f, err := os.OpenFile(resolved, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return failure("open %s: %v", input.Path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(input.Content); err != nil {
		return failure("append to %s: %v", input.Path, err)
	}

	res := success(fmt.Sprintf("appended %d bytes to %s", len(input.Content), input.Path))
	res.Metadata = map[string]any{"path": input.Path, "bytes": len(input.Content)}
	return res
}

// LsTool lists a directory.
type LsTool struct{ base }

func NewLsTool() *LsTool {
	return &LsTool{base: newBase(
		"ls",
		"List the entries of a directory.",
		Lightweight,
		`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "Directory to list. Defaults to the working directory."}
			},
			"additionalProperties": false
		}`,
	)}
}

func (t *LsTool) Execute(_ context.Context, args json.RawMessage, tc *Context) *Result {
	var input struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return failure("decode arguments: %v", err)
	}
	if input.Path == "" {
		input.Path = "."
	}

	resolved, err := gatePath(tc, input.Path, security.OpRead)
	if err != nil {
		return securityFailure(err)
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return failure("list %s: %v", input.Path, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var sb strings.Builder
	for _, entry := range entries {
		if entry.IsDir() {
			sb.WriteString(entry.Name() + "/\n")
			continue
		}
		info, err := entry.Info()
		if err != nil {
			sb.WriteString(entry.Name() + "\n")
			continue
		}
		fmt.Fprintf(&sb, "%s\t%d\n", entry.Name(), info.Size())
	}

	res := success(sb.String())
	res.Metadata = map[string]any{"path": input.Path, "entries": len(entries)}
	return res
}

// StatTool reports file metadata.
type StatTool struct{ base }

func NewStatTool() *StatTool {
	return &StatTool{base: newBase(
		"stat",
		"Report size, mode, and modification time of a file or directory.",
		Lightweight,
		`{
			"type": "object",
			"properties": {
				"path": {"type": "string"}
			},
			"required": ["path"],
			"additionalProperties": false
		}`,
	)}
}

func (t *StatTool) Execute(_ context.Context, args json.RawMessage, tc *Context) *Result {
	var input struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return failure("decode arguments: %v", err)
	}

	resolved, err := gatePath(tc, input.Path, security.OpRead)
	if err != nil {
		return securityFailure(err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return failure("stat %s: %v", input.Path, err)
	}

	res := success(fmt.Sprintf("%s\tsize=%d\tmode=%s\tmodified=%s\tdir=%t",
		input.Path, info.Size(), info.Mode(), info.ModTime().UTC().Format("2006-01-02T15:04:05Z"), info.IsDir()))
	res.Metadata = map[string]any{
		"path":     input.Path,
		"size":     info.Size(),
		"mode":     info.Mode().String(),
		"is_dir":   info.IsDir(),
		"mod_time": info.ModTime().UTC(),
	}
	return res
}
