package security

import (
	"os"
	"path/filepath"
	"testing"
)

func findingByID(findings []Finding, id string) (Finding, bool) {
	for _, f := range findings {
		if f.ID == id {
			return f, true
		}
	}
	return Finding{}, false
}

func TestAuditOrderIsFixed(t *testing.T) {
	findings := Audit(AuditConfig{WorkspaceRoot: t.TempDir(), Autonomy: AutonomySupervised})
	wantOrder := []string{
		"workspace-exists", "workspace-system-dir", "autonomy-level",
		"blocked-paths", "command-allowlist", "secrets-file-mode",
		"dangerous-commands",
	}
	if len(findings) != len(wantOrder) {
		t.Fatalf("got %d findings, want %d", len(findings), len(wantOrder))
	}
	for i, id := range wantOrder {
		if findings[i].ID != id {
			t.Errorf("finding[%d].ID = %q, want %q", i, findings[i].ID, id)
		}
	}
}

func TestAuditFlagsProblems(t *testing.T) {
	secrets := filepath.Join(t.TempDir(), "secrets.json")
	if err := os.WriteFile(secrets, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	findings := Audit(AuditConfig{
		WorkspaceRoot:    "/does/not/exist",
		Autonomy:         AutonomyFull,
		CommandAllowlist: []string{"ls", "rm", "curl"},
		SecretsFile:      secrets,
	})

	tests := []struct {
		id   string
		want Severity
	}{
		{"workspace-exists", SeverityCritical},
		{"autonomy-level", SeverityHigh},
		{"secrets-file-mode", SeverityHigh},
		{"dangerous-commands", SeverityHigh},
	}
	for _, tt := range tests {
		f, ok := findingByID(findings, tt.id)
		if !ok {
			t.Errorf("missing finding %q", tt.id)
			continue
		}
		if f.Severity != tt.want {
			t.Errorf("%s severity = %s, want %s (%s)", tt.id, f.Severity, tt.want, f.Message)
		}
	}
}

func TestAuditCleanConfig(t *testing.T) {
	findings := Audit(AuditConfig{
		WorkspaceRoot:    t.TempDir(),
		Autonomy:         AutonomySupervised,
		BlockedPaths:     []string{"/var/lib/private"},
		CommandAllowlist: []string{"ls", "cat", "grep"},
	})
	for _, f := range findings {
		if f.Severity == SeverityCritical || f.Severity == SeverityHigh {
			t.Errorf("clean config produced %s finding %s: %s", f.Severity, f.ID, f.Message)
		}
	}
}

func TestAuditSystemWorkspace(t *testing.T) {
	findings := Audit(AuditConfig{WorkspaceRoot: "/etc", Autonomy: AutonomyReadonly})
	f, ok := findingByID(findings, "workspace-system-dir")
	if !ok {
		t.Fatal("missing workspace-system-dir finding")
	}
	if f.Severity != SeverityCritical {
		t.Errorf("severity = %s, want critical", f.Severity)
	}
}
