// Package rerrors provides the local-system-error channel described in
// spec.md §7: the errno-shaped failures returned directly by init, submit
// and synchronous, as distinct from the per-query Status channel (see
// Status, in this same package) that travels inside a completed answer.
package rerrors

import "fmt"

// Code categorizes a local system error.
type Code string

const (
	CodeConfig   Code = "CONFIG_ERROR"   // malformed resolv.conf-style text
	CodeSocket   Code = "SOCKET_ERROR"   // socket()/bind() failure
	CodeArgument Code = "ARGUMENT_ERROR" // invalid caller argument
	CodeMemory   Code = "MEMORY_ERROR"   // allocation failure
	CodeInternal Code = "INTERNAL_ERROR"
)

// Error is a structured local error with an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Code == t.Code
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func NewConfigError(message string, cause error) *Error   { return Wrap(CodeConfig, message, cause) }
func NewSocketError(message string, cause error) *Error   { return Wrap(CodeSocket, message, cause) }
func NewArgumentError(message string) *Error              { return New(CodeArgument, message) }
func NewMemoryError(message string, cause error) *Error   { return Wrap(CodeMemory, message, cause) }
func NewInternalError(message string, cause error) *Error { return Wrap(CodeInternal, message, cause) }
