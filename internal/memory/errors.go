package memory

import "fmt"

// Error wraps memory-layer failures. Embedding failures are non-fatal:
// the store degrades to keyword-only storage and reports the Error to its
// logger instead of the caller.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("memory %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
