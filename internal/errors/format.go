package errors

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// FormatForCLI formats an error for CLI output.
// Uses a concise format suitable for terminal display.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if !stderrors.As(err, &e) {
		e = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Error: %s\n", e.Message))

	if e.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", e.Suggestion))
	}

	sb.WriteString(fmt.Sprintf("  Code: %s\n", e.Code))

	return sb.String()
}

// LogAttrs formats an error as slog attributes.
// Plain errors produce a single "error" attribute.
func LogAttrs(err error) []any {
	if err == nil {
		return nil
	}

	var e *Error
	if !stderrors.As(err, &e) {
		return []any{slog.String("error", err.Error())}
	}

	attrs := []any{
		slog.String("error_code", e.Code),
		slog.String("error", e.Message),
		slog.String("category", string(e.Category)),
		slog.String("severity", string(e.Severity)),
	}

	if e.Cause != nil {
		attrs = append(attrs, slog.String("cause", e.Cause.Error()))
	}

	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.String(k, e.Details[k]))
	}

	return attrs
}
