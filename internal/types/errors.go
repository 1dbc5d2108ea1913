package types

import (
	"errors"
	"fmt"
)

// ErrorKind is the coarse error taxonomy used across component
// boundaries. Kinds drive retry and surfacing policy; concrete causes
// travel in the wrapped error.
type ErrorKind string

const (
	KindConfig               ErrorKind = "ConfigError"
	KindStorageUnavailable   ErrorKind = "StorageUnavailable"
	KindAgentBusy            ErrorKind = "AgentBusy"
	KindBudgetExceeded       ErrorKind = "BudgetExceeded"
	KindLLMTransient         ErrorKind = "LLMTransient"
	KindLLMMalformed         ErrorKind = "LLMMalformed"
	KindLLMAuth              ErrorKind = "LLMAuth"
	KindToolSchema           ErrorKind = "ToolSchemaError"
	KindToolFailure          ErrorKind = "ToolFailure"
	KindApprovalDenied       ErrorKind = "ApprovalDenied"
	KindCancelled            ErrorKind = "Cancelled"
	KindEmbeddingUnavailable ErrorKind = "EmbeddingUnavailable"
	KindGitUnavailable       ErrorKind = "GitUnavailable"
	KindSecurityViolation    ErrorKind = "SecurityViolation"
)

// AgentError is a structured error crossing component boundaries.
type AgentError struct {
	Kind      ErrorKind
	Component string
	Message   string
	Cause     error
}

// NewAgentError builds an AgentError.
func NewAgentError(kind ErrorKind, component, message string, cause error) *AgentError {
	return &AgentError{Kind: kind, Component: component, Message: message, Cause: cause}
}

func (e *AgentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s [%s]: %s: %v", e.Kind, e.Component, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Component, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *AgentError) Unwrap() error { return e.Cause }

// KindOf extracts the error kind from err, unwrapping as needed.
// Returns empty string if err carries no AgentError.
func KindOf(err error) ErrorKind {
	var ae *AgentError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether an error kind is worth retrying.
// Schema failures, denials, cancellations and auth errors are terminal.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindToolSchema, KindApprovalDenied, KindCancelled, KindLLMAuth, KindSecurityViolation:
		return false
	}
	return true
}
