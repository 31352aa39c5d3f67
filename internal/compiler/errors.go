package compiler

import (
	"errors"
	"fmt"

	"github.com/anvil-platform/enclave/internal/graph"
)

// ErrCompilation is matched by every compilation failure.
var ErrCompilation = errors.New("compilation failed")

// CompilationError carries the root artifact of the failed compilation and
// the underlying cause.
type CompilationError struct {
	Root graph.ID
	Err  error
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("compile %s: %v", e.Root, e.Err)
}

func (e *CompilationError) Unwrap() []error { return []error{ErrCompilation, e.Err} }

func fail(root graph.ID, err error) error {
	return &CompilationError{Root: root, Err: err}
}
