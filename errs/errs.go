// Package errs gives loader and VM failures a uniform shape for the
// CLI layer: a run ID, the source file, and the underlying error,
// following the teacher's own practice of attaching source name and
// line to a single descriptive message (see undump.go's
// errNotPrecompiledChunk/errVersionMismatch and scanner.go's
// scanError).
package errs

import "fmt"

// RunError wraps a load or execution failure with the file that
// produced it and the run ID the CLI tagged it with (see package
// runner), so concurrent batch output can be attributed correctly.
type RunError struct {
	RunID string
	File  string
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.RunID, e.File, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }
