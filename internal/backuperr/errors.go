// Package backuperr defines the failure taxonomy shared by the executor,
// scheduler and storage layers.
package backuperr

import (
	"errors"
	"fmt"
)

// Kind classifies a backup failure.
type Kind string

const (
	KindConfiguration  Kind = "configuration"
	KindConnectivity   Kind = "connectivity"
	KindAuthentication Kind = "authentication"
	KindExecution      Kind = "execution"
	KindTransfer       Kind = "transfer"
	KindSync           Kind = "sync"
	KindSchedulerFatal Kind = "scheduler_fatal"
	KindUnknown        Kind = "unknown"
)

// maxOutput bounds the raw device output kept on an execution error.
const maxOutput = 4096

// Error is a typed backup failure. Step is 1-based and only set for
// execution failures.
type Error struct {
	Kind   Kind
	Op     string
	Step   int
	Output string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind) + " error"
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Step > 0 {
		msg = fmt.Sprintf("%s at step %d", msg, e.Step)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Configuration reports a problem detected before any network call.
func Configuration(op string, format string, args ...any) *Error {
	return newError(KindConfiguration, op, fmt.Errorf(format, args...))
}

// Connectivity wraps an unreachable host or dial timeout.
func Connectivity(op string, err error) *Error {
	return newError(KindConnectivity, op, err)
}

// Authentication wraps a credential rejection by the device.
func Authentication(op string, err error) *Error {
	return newError(KindAuthentication, op, err)
}

// Execution records a failed command step with its raw output.
func Execution(op string, step int, output string, err error) *Error {
	if len(output) > maxOutput {
		output = output[:maxOutput]
	}
	return &Error{Kind: KindExecution, Op: op, Step: step, Output: output, Err: err}
}

// Transfer wraps an incomplete or corrupt artifact download.
func Transfer(op string, err error) *Error {
	return newError(KindTransfer, op, err)
}

// Sync wraps a secondary provider upload failure.
func Sync(op string, err error) *Error {
	return newError(KindSync, op, err)
}

// SchedulerFatal wraps an unexpected fault while evaluating one job.
func SchedulerFatal(op string, err error) *Error {
	return newError(KindSchedulerFatal, op, err)
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindUnknown
}

// StepOf returns the failing step of an execution error, or 0.
func StepOf(err error) int {
	var be *Error
	if errors.As(err, &be) {
		return be.Step
	}
	return 0
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether the next scheduled tick may succeed without
// operator action. Authentication and configuration failures need a fix
// first.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindConnectivity, KindExecution, KindTransfer, KindSync, KindSchedulerFatal:
		return true
	default:
		return false
	}
}

// Message is the user-facing text of err: kind, step and cause without the
// operation or raw output.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var be *Error
	if !errors.As(err, &be) {
		return err.Error()
	}
	msg := string(be.Kind) + " error"
	if be.Step > 0 {
		msg = fmt.Sprintf("%s at step %d", msg, be.Step)
	}
	if be.Err != nil {
		msg += ": " + be.Err.Error()
	}
	return msg
}
