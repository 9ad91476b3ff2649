package master

import (
	"errors"
	"fmt"
)

// EventCommandError is emitted on a device channel when a command cannot
// produce a result.
const EventCommandError = "command_error"

// Error codes carried by CommandError.
const (
	CodeUnknownCommand = "UNKNOWN_COMMAND"
	CodeHandlerFailure = "HANDLER_FAILURE"
	CodeTimeout        = "TIMEOUT"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrHandlerFailure = errors.New("command handler failed")
)

// CommandError is the payload of a command_error message.
type CommandError struct {
	Code    string `json:"code"`
	Command string `json:"command"`
	Message string `json:"message"`

	err error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s %q: %s", e.Code, e.Command, e.Message)
}

func (e *CommandError) Unwrap() error {
	return e.err
}

func unknownCommand(name string) *CommandError {
	return &CommandError{
		Code:    CodeUnknownCommand,
		Command: name,
		Message: "Unknown command: " + name,
		err:     ErrUnknownCommand,
	}
}

func handlerFailure(name string, err error) *CommandError {
	return &CommandError{
		Code:    CodeHandlerFailure,
		Command: name,
		Message: err.Error(),
		err:     fmt.Errorf("%w: %w", ErrHandlerFailure, err),
	}
}

func timedOut(name string, err error) *CommandError {
	return &CommandError{
		Code:    CodeTimeout,
		Command: name,
		Message: "Command timed out",
		err:     err,
	}
}
