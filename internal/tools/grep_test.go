package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/switchyard-ai/switchyard/internal/security"
)

func seedGrepTree(t *testing.T, tc *Context) {
	t.Helper()
	files := map[string]string{
		"main.go":             "package main\nfunc main() {}\n",
		"util.go":             "package main\nfunc helper() {}\n",
		"README.md":           "func is also a word here\n",
		"vendor/dep/dep.go":   "func vendored() {}\n",
		"assets/logo.png":     "func inside binary\n",
		"node_modules/x/x.js": "function x() {}\n",
	}
	for name, content := range files {
		path := filepath.Join(tc.Cwd, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestGrepContentMode(t *testing.T) {
	tc := newTestContext(t, security.AutonomyFull)
	seedGrepTree(t, tc)

	res := NewGrepTool().Execute(context.Background(), mustArgs(t, map[string]any{
		"pattern": `func \w+\(`,
	}), tc)
	if !res.Success {
		t.Fatalf("grep failed: %s", res.Error)
	}
	if !strings.Contains(res.Output, "main.go:2:func main() {}") {
		t.Errorf("missing content hit:\n%s", res.Output)
	}
	if strings.Contains(res.Output, "vendor/") || strings.Contains(res.Output, "node_modules") {
		t.Errorf("vendored dirs not skipped:\n%s", res.Output)
	}
	if strings.Contains(res.Output, "logo.png") {
		t.Errorf("binary extension not skipped:\n%s", res.Output)
	}
}

func TestGrepBraceGlobAndModes(t *testing.T) {
	tc := newTestContext(t, security.AutonomyFull)
	seedGrepTree(t, tc)
	ctx := context.Background()
	grep := NewGrepTool()

	res := grep.Execute(ctx, mustArgs(t, map[string]any{
		"pattern": "func", "glob": "*.{go,md}", "mode": "files_with_matches",
	}), tc)
	if !res.Success {
		t.Fatalf("grep failed: %s", res.Error)
	}
	for _, want := range []string{"main.go", "util.go", "README.md"} {
		if !strings.Contains(res.Output, want) {
			t.Errorf("missing %s in:\n%s", want, res.Output)
		}
	}

	res = grep.Execute(ctx, mustArgs(t, map[string]any{
		"pattern": "func", "glob": "*.go", "mode": "count",
	}), tc)
	if !strings.Contains(res.Output, "main.go:2") {
		t.Errorf("count mode output:\n%s", res.Output)
	}
}

func TestGrepCaseInsensitiveAndNoMatch(t *testing.T) {
	tc := newTestContext(t, security.AutonomyFull)
	seedGrepTree(t, tc)
	ctx := context.Background()
	grep := NewGrepTool()

	res := grep.Execute(ctx, mustArgs(t, map[string]any{
		"pattern": "FUNC MAIN", "case_insensitive": true,
	}), tc)
	if !strings.Contains(res.Output, "main.go") {
		t.Errorf("case-insensitive miss:\n%s", res.Output)
	}

	res = grep.Execute(ctx, mustArgs(t, map[string]any{"pattern": "zzznothing"}), tc)
	if !strings.Contains(res.Output, "no matches") {
		t.Errorf("empty result output = %q", res.Output)
	}
}

func TestGrepResultCap(t *testing.T) {
	tc := newTestContext(t, security.AutonomyFull)
	var sb strings.Builder
	for i := 0; i < grepMaxResults+50; i++ {
		fmt.Fprintf(&sb, "needle line %d\n", i)
	}
	if err := os.WriteFile(filepath.Join(tc.Cwd, "big.txt"), []byte(sb.String()), 0o644); err != nil {
		t.Fatal(err)
	}

	res := NewGrepTool().Execute(context.Background(), mustArgs(t, map[string]any{
		"pattern": "needle",
	}), tc)
	if !res.Success {
		t.Fatalf("grep failed: %s", res.Error)
	}
	if res.Metadata["truncated"] != true {
		t.Errorf("not truncated: %+v", res.Metadata)
	}
	if !strings.Contains(res.Output, "[truncated at 500 results]") {
		t.Error("truncation notice missing")
	}
	if got := res.Metadata["matches"].(int); got != grepMaxResults {
		t.Errorf("matches = %d, want %d", got, grepMaxResults)
	}
}

func TestGrepSkipsOversizeFiles(t *testing.T) {
	tc := newTestContext(t, security.AutonomyFull)
	big := strings.Repeat("needle pad pad pad pad pad pad pad\n", (grepMaxFileSize/35)+10)
	if err := os.WriteFile(filepath.Join(tc.Cwd, "huge.txt"), []byte(big), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tc.Cwd, "small.txt"), []byte("needle\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	res := NewGrepTool().Execute(context.Background(), mustArgs(t, map[string]any{
		"pattern": "needle", "mode": "files_with_matches",
	}), tc)
	if strings.Contains(res.Output, "huge.txt") {
		t.Error("oversize file scanned")
	}
	if !strings.Contains(res.Output, "small.txt") {
		t.Error("small file missed")
	}
}

func TestGrepInvalidPattern(t *testing.T) {
	tc := newTestContext(t, security.AutonomyFull)
	res := NewGrepTool().Execute(context.Background(), mustArgs(t, map[string]any{
		"pattern": "([unclosed",
	}), tc)
	if res.Success || !strings.Contains(res.Error, "invalid pattern") {
		t.Errorf("result = %+v", res)
	}
}

func TestExpandBraces(t *testing.T) {
	tests := []struct {
		glob string
		want []string
	}{
		{"", nil},
		{"*.go", []string{"*.go"}},
		{"*.{go,md}", []string{"*.go", "*.md"}},
		{"test_{a,b,c}.txt", []string{"test_a.txt", "test_b.txt", "test_c.txt"}},
	}
	for _, tt := range tests {
		got := expandBraces(tt.glob)
		if len(got) != len(tt.want) {
			t.Errorf("expandBraces(%q) = %v, want %v", tt.glob, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("expandBraces(%q)[%d] = %q, want %q", tt.glob, i, got[i], tt.want[i])
			}
		}
	}
}
