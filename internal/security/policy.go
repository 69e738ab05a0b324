// Package security gates filesystem, command, and output surfaces for the
// agent. All tool-driven access flows through a single Policy.
package security

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Autonomy controls which actions proceed without operator confirmation.
type Autonomy string

const (
	AutonomyReadonly   Autonomy = "readonly"
	AutonomySupervised Autonomy = "supervised"
	AutonomyFull       Autonomy = "full"
)

// PathOp is the access class requested for a path.
type PathOp string

const (
	OpRead    PathOp = "read"
	OpWrite   PathOp = "write"
	OpExecute PathOp = "execute"
)

// shellMetachars matches characters that enable command injection when
// arguments reach a shell.
var shellMetachars = regexp.MustCompile(`[;&|` + "`" + `$<>]`)

// defaultBlockedPaths returns system directories and sensitive dotfile roots
// no tool may touch regardless of workspace placement.
func defaultBlockedPaths() []string {
	blocked := []string{"/etc", "/root", "/proc", "/sys", "/dev", "/boot"}
	if home, err := os.UserHomeDir(); err == nil {
		for _, sub := range []string{".ssh", ".gnupg", ".aws", filepath.Join(".config", "gcloud")} {
			blocked = append(blocked, filepath.Join(home, sub))
		}
	}
	return blocked
}

// Policy is the security façade. It is immutable after construction and safe
// for concurrent use.
type Policy struct {
	rootAbs         string
	autonomy        Autonomy
	blocked         []string
	allowlist       map[string]bool
	allowShellMeta  bool
	enforceSymlinks bool
	redactors       []redactor
}

// Options configures a Policy.
type Options struct {
	WorkspaceRoot    string
	Autonomy         Autonomy
	BlockedPaths     []string // appended to the default blocked set
	CommandAllowlist []string
	AllowShellMeta   bool
	EnforceSymlinks  bool
}

// NewPolicy canonicalizes the workspace root and builds the façade.
func NewPolicy(opts Options) (*Policy, error) {
	root := opts.WorkspaceRoot
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	// Resolve the root itself so symlinked workspaces compare consistently.
	if resolved, err := filepath.EvalSymlinks(rootAbs); err == nil {
		rootAbs = resolved
	}

	autonomy := opts.Autonomy
	if autonomy == "" {
		autonomy = AutonomySupervised
	}

	allowlist := make(map[string]bool, len(opts.CommandAllowlist))
	for _, cmd := range opts.CommandAllowlist {
		allowlist[cmd] = true
	}

	blocked := append(defaultBlockedPaths(), opts.BlockedPaths...)
	for i, b := range blocked {
		if abs, err := filepath.Abs(b); err == nil {
			blocked[i] = filepath.Clean(abs)
		}
	}

	return &Policy{
		rootAbs:         rootAbs,
		autonomy:        autonomy,
		blocked:         blocked,
		allowlist:       allowlist,
		allowShellMeta:  opts.AllowShellMeta,
		enforceSymlinks: opts.EnforceSymlinks,
		redactors:       defaultRedactors(),
	}, nil
}

// Root returns the canonical workspace root.
func (p *Policy) Root() string { return p.rootAbs }

// Autonomy returns the configured autonomy level.
func (p *Policy) Autonomy() Autonomy { return p.autonomy }

// ValidatePath checks path for op and returns its canonical absolute form.
// Checks run in order: null bytes, blocked set, workspace escape, symlink
// escape. Errors carry only the categorical reason.
func (p *Policy) ValidatePath(path string, op PathOp) (string, error) {
	if strings.Contains(path, "\x00") {
		return "", &ViolationError{Op: string(op), Reason: ReasonNullByte}
	}

	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", &ViolationError{Op: string(op), Reason: ReasonWorkspaceEscape}
	}
	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(p.rootAbs, clean)
	}

	for _, b := range p.blocked {
		if target == b || strings.HasPrefix(target, b+string(os.PathSeparator)) {
			return "", &ViolationError{Op: string(op), Reason: ReasonBlockedPath}
		}
	}

	if !within(p.rootAbs, target) {
		return "", &ViolationError{Op: string(op), Reason: ReasonWorkspaceEscape}
	}

	if p.enforceSymlinks {
		if real, err := filepath.EvalSymlinks(target); err == nil {
			if !within(p.rootAbs, real) {
				return "", &ViolationError{Op: string(op), Reason: ReasonSymlinkEscape}
			}
		}
		// A non-existent path cannot be a symlink; write targets pass.
	}

	return target, nil
}

// within reports whether target is root or a descendant of root.
func within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}

// ValidateCommand checks that argv[0] is allowlisted and, unless shell
// metacharacters are explicitly opted in, that no argument can reach a shell.
func (p *Policy) ValidateCommand(argv []string) error {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return &ViolationError{Op: "execute", Reason: ReasonEmptyCommand}
	}
	program := filepath.Base(argv[0])
	if !p.allowlist[program] {
		return &ViolationError{Op: "execute " + program, Reason: ReasonNotAllowlisted}
	}
	if !p.allowShellMeta {
		for _, arg := range argv {
			if shellMetachars.MatchString(arg) {
				return &ViolationError{Op: "execute " + program, Reason: ReasonShellMetachar}
			}
		}
	}
	return nil
}

// Action describes something the agent wants to do, for confirmation gating.
type Action struct {
	Type    string
	Target  string
	Details string
}

var (
	readKeywords = []string{"read", "get", "list", "view", "stat", "search", "recall", "fetch", "grep", "ls"}
	execKeywords = []string{"exec", "run", "bash", "shell", "command", "spawn"}
)

// classify maps an action type to an access class by lowercase keyword
// match. Unknown types are treated as writes.
func classify(actionType string) PathOp {
	lower := strings.ToLower(actionType)
	for _, kw := range execKeywords {
		if strings.Contains(lower, kw) {
			return OpExecute
		}
	}
	for _, kw := range readKeywords {
		if strings.Contains(lower, kw) {
			return OpRead
		}
	}
	return OpWrite
}

// RequiresConfirmation applies the autonomy policy table:
// readonly confirms writes and executes, supervised confirms executes,
// full confirms nothing.
func (p *Policy) RequiresConfirmation(action Action) bool {
	switch classify(action.Type) {
	case OpRead:
		return false
	case OpWrite:
		return p.autonomy == AutonomyReadonly
	default:
		return p.autonomy != AutonomyFull
	}
}

type redactor struct {
	pattern     *regexp.Regexp
	replacement string
}

func defaultRedactors() []redactor {
	return []redactor{
		{regexp.MustCompile(`sk-[A-Za-z0-9_-]{20,}`), "[REDACTED_API_KEY]"},
		{regexp.MustCompile(`AKIA[0-9A-Z]{16}`), "[REDACTED_AWS_KEY]"},
		{regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/-]{16,}=*`), "[REDACTED_BEARER_TOKEN]"},
		{regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`), "[REDACTED_PRIVATE_KEY]"},
		{regexp.MustCompile(`(?i)(postgres|postgresql|mysql|mongodb(\+srv)?|redis|amqp)://[^\s:@]+:[^\s@]+@[^\s]+`), "[REDACTED_CONNECTION_STRING]"},
		{regexp.MustCompile(`eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}`), "[REDACTED_JWT]"},
	}
}

// SanitizeOutput redacts secret-shaped substrings and returns the cleaned
// text plus the number of redactions. Idempotent.
func (p *Policy) SanitizeOutput(text string) (string, int) {
	redacted := 0
	for _, r := range p.redactors {
		text = r.pattern.ReplaceAllStringFunc(text, func(string) string {
			redacted++
			return r.replacement
		})
	}
	return text, redacted
}
