package schema

import (
	"fmt"
	"strings"
)

// ValidationSeverity tells blocking issues from advisory ones.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue is one problem found in an interaction, workflow config or
// agent parameters. Path points into the payload, e.g. "enabled_agents[2]".
type ValidationIssue struct {
	Path     string             `json:"path"`
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

// ValidationResult collects issues. Only errors block; warnings are logged.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

func (r *ValidationResult) AddError(path, code, message string) {
	r.Errors = append(r.Errors, ValidationIssue{Path: path, Code: code, Message: message, Severity: SeverityError})
}

func (r *ValidationResult) AddWarning(path, code, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{Path: path, Code: code, Message: message, Severity: SeverityWarning})
}

// WarningMessages returns "path: message" for every warning.
func (r *ValidationResult) WarningMessages() []string {
	out := make([]string, 0, len(r.Warnings))
	for _, w := range r.Warnings {
		out = append(out, w.Path+": "+w.Message)
	}
	return out
}

// ToError returns nil when valid. When every error carries the same code
// (CONFIG_NOT_FOUND for an unknown agent, TOOL_NOT_FOUND for an unknown tool)
// that code is kept; mixed issues collapse to VALIDATION_ERROR.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	code := r.Errors[0].Code
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		if e.Code != code {
			code = ErrCodeValidation
		}
		msgs = append(msgs, e.Message)
	}
	if code == "" {
		code = ErrCodeValidation
	}

	msg := msgs[0]
	if len(msgs) > 1 {
		msg = fmt.Sprintf("%d validation errors: %s", len(msgs), strings.Join(msgs, "; "))
	}
	return NewError(code, msg).WithDetails(map[string]any{
		"errors":   r.Errors,
		"warnings": r.Warnings,
	})
}
