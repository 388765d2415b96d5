// Package invariant carries the error-handling policy for programming-logic
// violations: log-and-continue in production, fail-fast under test. The
// policy is injected so both builds run the same code paths.
package invariant

import (
	"fmt"

	"github.com/bthost/acl"
)

// Policy decides what happens on an invariant violation.
type Policy interface {
	Violation(format string, args ...interface{})
}

// LogPolicy absorbs violations with an error log line.
type LogPolicy struct {
	Log acl.Logger
}

func (p LogPolicy) Violation(format string, args ...interface{}) {
	l := p.Log
	if l == nil {
		l = acl.GetLogger()
	}
	l.Errorf("invariant violation: "+format, args...)
}

// PanicPolicy terminates on violation; for tests and debug builds only.
type PanicPolicy struct{}

func (PanicPolicy) Violation(format string, args ...interface{}) {
	panic(fmt.Sprintf("invariant violation: "+format, args...))
}
