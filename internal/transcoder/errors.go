package transcoder

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Match them with errors.Is against any error returned by this package.
var (
	ErrInvalidMedia     = errors.New("invalid media")
	ErrConfiguration    = errors.New("configuration error")
	ErrFilterSyntax     = errors.New("filter syntax error")
	ErrEngineExecution  = errors.New("engine execution failed")
	ErrResource         = errors.New("resource error")
	ErrExportInProgress = errors.New("an export is already in progress")
)

// ExportError is the typed failure returned by Exporter.Export
type ExportError struct {
	Kind     error
	Op       string
	Err      error
	Progress float64
	Command  []string
	LogTail  []string
}

func (e *ExportError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	} else {
		b.WriteString(e.Kind.Error())
	}
	if len(e.LogTail) > 0 {
		b.WriteString("\nengine log:\n")
		b.WriteString(strings.Join(e.LogTail, "\n"))
	}
	return b.String()
}

// Unwrap exposes both the kind sentinel and the underlying cause
func (e *ExportError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func configErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

func invalidMediaErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidMedia, fmt.Sprintf(format, args...))
}

func filterSyntaxErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrFilterSyntax, fmt.Sprintf(format, args...))
}

func resourceError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrResource, op, err)
}

// EngineError carries the diagnostic detail of a failed engine invocation
type EngineError struct {
	Args    []string
	LogTail []string
	Err     error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("ffmpeg failed: %v", e.Err)
}

func (e *EngineError) Unwrap() []error {
	return []error{ErrEngineExecution, e.Err}
}
