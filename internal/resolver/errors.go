package resolver

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrWorkerNotFound reports that no worker entry candidate exists.
	ErrWorkerNotFound = errors.New("worker entry point not found")
	// ErrRuntimeMissing reports that no bundled interpreter exists and the
	// profile forbids falling back to the system interpreter.
	ErrRuntimeMissing = errors.New("embedded python runtime missing")
)

// ResolutionError carries every location that was checked before resolution
// gave up.
type ResolutionError struct {
	Err     error
	Checked []string
	Detail  string
}

func (e *ResolutionError) Error() string {
	var b strings.Builder
	b.WriteString(e.Err.Error())
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if len(e.Checked) > 0 {
		fmt.Fprintf(&b, " (checked: %s)", strings.Join(e.Checked, ", "))
	}
	return b.String()
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}
