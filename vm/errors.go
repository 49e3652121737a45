package vm

import (
	"fmt"
	"strings"
)

// TraceEntry is one active call at the moment a runtime error was raised,
// innermost first.
type TraceEntry struct {
	Function string
	Line     int
}

// String formats the entry as "[line N] in name".
func (e TraceEntry) String() string {
	return fmt.Sprintf("[line %d] in %s", e.Line, e.Function)
}

// RuntimeError is returned by Run when execution halts abnormally.
type RuntimeError struct {
	Message string
	Line    int
	Trace   []TraceEntry
}

func (e *RuntimeError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}

// FormatTrace renders the call trace one entry per line.
func (e *RuntimeError) FormatTrace() string {
	var sb strings.Builder
	for _, t := range e.Trace {
		sb.WriteString(t.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// runtimeErrorf raises a RuntimeError from inside the dispatch loop. Run
// recovers it, attaches the location and unwinds.
func runtimeErrorf(format string, args ...any) {
	panic(&RuntimeError{Message: fmt.Sprintf(format, args...)})
}
