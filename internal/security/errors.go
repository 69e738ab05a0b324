package security

import "fmt"

// Violation reasons. These are categorical on purpose: violation errors may
// surface in model-visible tool results and must not leak path internals.
const (
	ReasonNullByte        = "null_byte"
	ReasonBlockedPath     = "blocked_path"
	ReasonWorkspaceEscape = "workspace_escape"
	ReasonSymlinkEscape   = "symlink_escape"
	ReasonNotAllowlisted  = "command_not_allowlisted"
	ReasonShellMetachar   = "shell_metachar"
	ReasonEmptyCommand    = "empty_command"
)

// ViolationError is returned for every denied path or command.
type ViolationError struct {
	Op     string
	Reason string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("security violation: %s denied (%s)", e.Op, e.Reason)
}

// IsViolation reports whether err is a security violation.
func IsViolation(err error) bool {
	_, ok := err.(*ViolationError)
	return ok
}
