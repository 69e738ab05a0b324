package security

import (
	"fmt"
	"os"
	"path/filepath"
)

// Finding is one result of the configuration audit.
type Finding struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// AuditConfig is the subset of configuration the auditor inspects.
type AuditConfig struct {
	WorkspaceRoot    string
	Autonomy         Autonomy
	BlockedPaths     []string
	CommandAllowlist []string
	SecretsFile      string
}

var systemDirs = []string{"/", "/etc", "/root", "/usr", "/var", "/bin", "/sbin"}

// dangerousCommands should never appear on an allowlist; each one grants
// arbitrary write, network, or privilege escalation.
var dangerousCommands = map[string]bool{
	"rm": true, "dd": true, "mkfs": true, "sudo": true, "su": true,
	"chmod": true, "chown": true, "curl": true, "wget": true, "nc": true,
	"eval": true, "ssh": true,
}

// Audit runs the fixed check battery and returns findings in battery order.
func Audit(cfg AuditConfig) []Finding {
	var findings []Finding
	add := func(id, name string, sev Severity, format string, args ...any) {
		findings = append(findings, Finding{
			ID:       id,
			Name:     name,
			Severity: sev,
			Message:  fmt.Sprintf(format, args...),
		})
	}

	// 1. Workspace exists.
	root := cfg.WorkspaceRoot
	if info, err := os.Stat(root); err != nil {
		add("workspace-exists", "Workspace exists", SeverityCritical, "workspace root %q is not accessible: %v", root, err)
	} else if !info.IsDir() {
		add("workspace-exists", "Workspace exists", SeverityCritical, "workspace root %q is not a directory", root)
	} else {
		add("workspace-exists", "Workspace exists", SeverityInfo, "workspace root %q is a directory", root)
	}

	// 2. Workspace is not a system directory.
	rootClean := filepath.Clean(root)
	isSystem := false
	for _, d := range systemDirs {
		if rootClean == d {
			isSystem = true
			break
		}
	}
	if isSystem {
		add("workspace-system-dir", "Workspace placement", SeverityCritical, "workspace root %q is a system directory", rootClean)
	} else {
		add("workspace-system-dir", "Workspace placement", SeverityInfo, "workspace root is not a system directory")
	}

	// 3. Autonomy level.
	switch cfg.Autonomy {
	case AutonomyFull:
		add("autonomy-level", "Autonomy level", SeverityHigh, "autonomy is full; no actions require confirmation")
	case AutonomySupervised:
		add("autonomy-level", "Autonomy level", SeverityInfo, "autonomy is supervised")
	case AutonomyReadonly:
		add("autonomy-level", "Autonomy level", SeverityInfo, "autonomy is readonly")
	default:
		add("autonomy-level", "Autonomy level", SeverityHigh, "unknown autonomy level %q", cfg.Autonomy)
	}

	// 4. Blocked path count.
	if len(cfg.BlockedPaths) == 0 {
		add("blocked-paths", "Blocked paths", SeverityMedium, "no extra blocked paths configured; only built-in defaults apply")
	} else {
		add("blocked-paths", "Blocked paths", SeverityInfo, "%d extra blocked paths configured", len(cfg.BlockedPaths))
	}

	// 5. Allowlist size.
	switch n := len(cfg.CommandAllowlist); {
	case n == 0:
		add("command-allowlist", "Command allowlist", SeverityInfo, "allowlist is empty; bash tool is disabled")
	case n > 40:
		add("command-allowlist", "Command allowlist", SeverityMedium, "allowlist has %d entries; consider trimming", n)
	default:
		add("command-allowlist", "Command allowlist", SeverityInfo, "allowlist has %d entries", n)
	}

	// 6. Secrets file permissions.
	if cfg.SecretsFile == "" {
		add("secrets-file-mode", "Secrets file permissions", SeverityInfo, "no secrets file configured")
	} else if info, err := os.Stat(cfg.SecretsFile); err != nil {
		add("secrets-file-mode", "Secrets file permissions", SeverityInfo, "secrets file %q does not exist yet", cfg.SecretsFile)
	} else if mode := info.Mode().Perm(); mode != 0o600 {
		add("secrets-file-mode", "Secrets file permissions", SeverityHigh, "secrets file %q has mode %o, want 600", cfg.SecretsFile, mode)
	} else {
		add("secrets-file-mode", "Secrets file permissions", SeverityInfo, "secrets file mode is 600")
	}

	// 7. Dangerous commands on the allowlist.
	var danger []string
	for _, cmd := range cfg.CommandAllowlist {
		if dangerousCommands[cmd] {
			danger = append(danger, cmd)
		}
	}
	if len(danger) > 0 {
		add("dangerous-commands", "Dangerous commands", SeverityHigh, "allowlist contains dangerous commands: %v", danger)
	} else {
		add("dangerous-commands", "Dangerous commands", SeverityInfo, "no dangerous commands on the allowlist")
	}

	return findings
}
