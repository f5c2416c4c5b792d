package agent

import "fmt"

// ErrorKind classifies a runtime failure by the subsystem that produced it.
type ErrorKind string

const (
	// KindModel covers provider-side failures surfaced through the bridge.
	KindModel ErrorKind = "model"

	// KindTool covers tool lookup, validation, and execution failures.
	KindTool ErrorKind = "tool"

	// KindSession covers session store failures.
	KindSession ErrorKind = "session"

	// KindAgent covers engine invariant violations: iteration limits,
	// missing model, missing handler, duplicate sub-agents.
	KindAgent ErrorKind = "agent"

	// KindConfig covers invalid construction inputs.
	KindConfig ErrorKind = "config"

	// KindCancelled covers orderly cancellation by the caller.
	KindCancelled ErrorKind = "cancelled"
)

// Error is a classified runtime error.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause.
func (e *Error) Unwrap() error { return e.Cause }

// NewError builds a classified error.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func configErrorf(format string, args ...any) *Error {
	return &Error{Kind: KindConfig, Message: fmt.Sprintf(format, args...)}
}

func agentErrorf(format string, args ...any) *Error {
	return &Error{Kind: KindAgent, Message: fmt.Sprintf(format, args...)}
}
