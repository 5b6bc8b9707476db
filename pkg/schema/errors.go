package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeConfigNotFound     = "CONFIG_NOT_FOUND"
	ErrCodeToolNotFound       = "TOOL_NOT_FOUND"
	ErrCodeDuplicateTool      = "DUPLICATE_TOOL"
	ErrCodeAgentProcessing    = "AGENT_PROCESSING_ERROR"
	ErrCodeGraphConfiguration = "GRAPH_CONFIGURATION_ERROR"
	ErrCodeWorkflowTimeout    = "WORKFLOW_TIMEOUT"
	ErrCodeMaxSteps           = "MAX_STEPS_EXCEEDED"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeCancelled          = "CANCELLED"
	ErrCodeCircuitOpen        = "CIRCUIT_OPEN"
	ErrCodeStore              = "STORE_ERROR"
	ErrCodeInvalidTransition  = "INVALID_TRANSITION"
	ErrCodeShutdown           = "SHUTDOWN"
)

// ShopSyncError is the structured error type for all coordination operations.
type ShopSyncError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Agent   AgentType      `json:"agent,omitempty"`
	Tool    string         `json:"tool,omitempty"`
	Cause   error          `json:"-"`
}

func (e *ShopSyncError) Error() string {
	switch {
	case e.Agent != "" && e.Tool != "":
		return fmt.Sprintf("[%s] agent %s tool %s: %s", e.Code, e.Agent, e.Tool, e.Message)
	case e.Agent != "":
		return fmt.Sprintf("[%s] agent %s: %s", e.Code, e.Agent, e.Message)
	case e.Tool != "":
		return fmt.Sprintf("[%s] tool %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ShopSyncError) Unwrap() error {
	return e.Cause
}

// NewError creates a new ShopSyncError.
func NewError(code, message string) *ShopSyncError {
	return &ShopSyncError{Code: code, Message: message}
}

// NewErrorf creates a new ShopSyncError with a formatted message.
func NewErrorf(code, format string, args ...any) *ShopSyncError {
	return &ShopSyncError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithAgent attaches the agent type that raised the error.
func (e *ShopSyncError) WithAgent(t AgentType) *ShopSyncError {
	e.Agent = t
	return e
}

// WithTool attaches the tool name involved in the failure.
func (e *ShopSyncError) WithTool(name string) *ShopSyncError {
	e.Tool = name
	return e
}

// WithCause attaches an underlying cause.
func (e *ShopSyncError) WithCause(err error) *ShopSyncError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *ShopSyncError) WithDetails(details map[string]any) *ShopSyncError {
	e.Details = details
	return e
}

// HasCode reports whether any ShopSyncError in err's chain carries code.
func HasCode(err error, code string) bool {
	for err != nil {
		var se *ShopSyncError
		if !errors.As(err, &se) {
			return false
		}
		if se.Code == code {
			return true
		}
		err = se.Cause
	}
	return false
}

// ErrorCode returns the code of the outermost ShopSyncError in err's chain, or "".
func ErrorCode(err error) string {
	var se *ShopSyncError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}
