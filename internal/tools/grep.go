package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/switchyard-ai/switchyard/internal/security"
)

const (
	grepMaxFileSize = 10 << 20
	grepMaxResults  = 500
)

// binaryExtensions are skipped without opening the file.
var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true,
	".ico": true, ".pdf": true, ".zip": true, ".gz": true, ".tar": true,
	".bz2": true, ".xz": true, ".7z": true, ".exe": true, ".dll": true,
	".so": true, ".dylib": true, ".a": true, ".o": true, ".bin": true,
	".wasm": true, ".sqlite": true, ".db": true, ".mp3": true, ".mp4": true,
	".mov": true, ".avi": true, ".woff": true, ".woff2": true, ".ttf": true,
}

// vendoredDirs are never descended into.
var vendoredDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true, ".venv": true,
	"venv": true, "__pycache__": true, "dist": true, "build": true,
	".next": true, "target": true,
}

// GrepTool scans workspace files line by line for a regex.
type GrepTool struct{ base }

func NewGrepTool() *GrepTool {
	return &GrepTool{base: newBase(
		"grep",
		"Search file contents with a regular expression. Modes: content, files_with_matches, count.",
		Lightweight,
		`{
			"type": "object",
			"properties": {
				"pattern": {"type": "string", "minLength": 1, "description": "Go regular expression."},
				"path": {"type": "string", "description": "Directory or file to search. Defaults to the working directory."},
				"glob": {"type": "string", "description": "Filename glob filter, brace expansion supported (e.g. *.{go,md})."},
				"mode": {"type": "string", "enum": ["content", "files_with_matches", "count"]},
				"case_insensitive": {"type": "boolean"}
			},
			"required": ["pattern"],
			"additionalProperties": false
		}`,
	)}
}

func (t *GrepTool) Execute(ctx context.Context, args json.RawMessage, tc *Context) *Result {
	var input struct {
		Pattern         string `json:"pattern"`
		Path            string `json:"path"`
		Glob            string `json:"glob"`
		Mode            string `json:"mode"`
		CaseInsensitive bool   `json:"case_insensitive"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return failure("decode arguments: %v", err)
	}
	if input.Path == "" {
		input.Path = "."
	}
	if input.Mode == "" {
		input.Mode = "content"
	}

	pattern := input.Pattern
	if input.CaseInsensitive {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return failure("invalid pattern: %v", err)
	}

	root, err := gatePath(tc, input.Path, security.OpRead)
	if err != nil {
		return securityFailure(err)
	}

	globs := expandBraces(input.Glob)

	var (
		hits      []*grepFileHits
		total     int
		truncated bool
	)

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if tc.Aborted() {
			return fmt.Errorf("aborted")
		}
		if d.IsDir() {
			if vendoredDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if binaryExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		if len(globs) > 0 && !matchesAnyGlob(globs, d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > grepMaxFileSize {
			return nil
		}

		fh := t.scanFile(path, root, re, input.Mode, &total, &truncated)
		if fh != nil && fh.count > 0 {
			hits = append(hits, fh)
		}
		if truncated {
			return filepath.SkipAll
		}
		return nil
	})
	if walkErr != nil && !truncated {
		return failure("search failed: %v", walkErr)
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].path < hits[j].path })

	var sb strings.Builder
	matchedFiles := len(hits)
	switch input.Mode {
	case "files_with_matches":
		for _, fh := range hits {
			sb.WriteString(fh.path + "\n")
		}
	case "count":
		for _, fh := range hits {
			fmt.Fprintf(&sb, "%s:%d\n", fh.path, fh.count)
		}
	default:
		for _, fh := range hits {
			for _, line := range fh.lines {
				sb.WriteString(line + "\n")
			}
		}
	}
	if truncated {
		fmt.Fprintf(&sb, "[truncated at %d results]\n", grepMaxResults)
	}
	if sb.Len() == 0 {
		sb.WriteString("no matches\n")
	}

	res := success(sb.String())
	res.Metadata = map[string]any{
		"mode":      input.Mode,
		"files":     matchedFiles,
		"matches":   total,
		"truncated": truncated,
	}
	return res
}

type grepFileHits struct {
	path  string
	lines []string
	count int
}

func (t *GrepTool) scanFile(path, root string, re *regexp.Regexp, mode string, total *int, truncated *bool) *grepFileHits {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	fh := &grepFileHits{path: rel}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if !re.MatchString(line) {
			continue
		}
		fh.count++
		*total++
		if mode == "content" {
			fh.lines = append(fh.lines, fmt.Sprintf("%s:%d:%s", rel, lineNo, line))
		}
		if *total >= grepMaxResults {
			*truncated = true
			break
		}
		if mode == "files_with_matches" {
			// One hit is enough to report the file.
			break
		}
	}
	return fh
}

// expandBraces turns "*.{go,md}" into ["*.go", "*.md"]. A single level of
// braces is supported; a glob without braces passes through unchanged.
func expandBraces(glob string) []string {
	if glob == "" {
		return nil
	}
	start := strings.Index(glob, "{")
	end := strings.Index(glob, "}")
	if start < 0 || end < start {
		return []string{glob}
	}
	prefix, suffix := glob[:start], glob[end+1:]
	var out []string
	for _, alt := range strings.Split(glob[start+1:end], ",") {
		out = append(out, prefix+alt+suffix)
	}
	return out
}

func matchesAnyGlob(globs []string, name string) bool {
	for _, g := range globs {
		if ok, err := filepath.Match(g, name); err == nil && ok {
			return true
		}
	}
	return false
}
