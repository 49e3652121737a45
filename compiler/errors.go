package compiler

import (
	"fmt"
	"strings"
)

// CompileError is a single diagnostic with the position of the offending
// token.
type CompileError struct {
	Line    int
	Column  int
	Message string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

// ErrorList is the error returned by Compile. Errors are in source order;
// the first is the one that made compilation fail.
type ErrorList []*CompileError

func (l ErrorList) Error() string {
	switch len(l) {
	case 0:
		return "no errors"
	case 1:
		return l[0].Error()
	}
	var sb strings.Builder
	sb.WriteString(l[0].Error())
	fmt.Fprintf(&sb, " (and %d more errors)", len(l)-1)
	return sb.String()
}

// Unwrap exposes the individual errors to errors.As.
func (l ErrorList) Unwrap() []error {
	errs := make([]error, len(l))
	for i, e := range l {
		errs[i] = e
	}
	return errs
}

// Err returns nil for an empty list and the list otherwise.
func (l ErrorList) Err() error {
	if len(l) == 0 {
		return nil
	}
	return l
}
