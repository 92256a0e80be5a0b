package vecenv

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrProtocolMisuse matches every violation of the async/wait call
	// sequence. These are programming errors and are never retried.
	ErrProtocolMisuse     = errors.New("vecenv: protocol misuse")
	ErrAlreadyPendingCall = errors.New("vecenv: a call is already pending")
	ErrNoAsyncCall        = errors.New("vecenv: no matching async call")

	ErrTimeout      = errors.New("vecenv: timed out waiting for workers")
	ErrRemote       = errors.New("vecenv: remote execution failed")
	ErrAttribute    = errors.New("vecenv: attribute error")
	ErrConstruction = errors.New("vecenv: construction failed")
	ErrClosed       = errors.New("vecenv: closed")
)

// AlreadyPendingCallError is returned by an async call started while another
// call is in flight.
type AlreadyPendingCallError struct {
	Pending CallState
}

func (e *AlreadyPendingCallError) Error() string {
	return fmt.Sprintf("vecenv: cannot start a call while a %s call is pending", e.Pending)
}

func (e *AlreadyPendingCallError) Unwrap() []error {
	return []error{ErrAlreadyPendingCall, ErrProtocolMisuse}
}

// NoAsyncCallError is returned by a wait call that does not match the
// pending async call.
type NoAsyncCallError struct {
	Expected CallState
	Actual   CallState
}

func (e *NoAsyncCallError) Error() string {
	return fmt.Sprintf("vecenv: wait for %s called while state is %s", e.Expected, e.Actual)
}

func (e *NoAsyncCallError) Unwrap() []error {
	return []error{ErrNoAsyncCall, ErrProtocolMisuse}
}

// TimeoutError lists the workers whose replies had not been read when the
// wait gave up. Late replies are discarded by round number.
type TimeoutError struct {
	Call    string
	Timeout time.Duration
	Pending []int
}

func (e *TimeoutError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("vecenv: %s timed out after %s waiting for workers %v", e.Call, e.Timeout, e.Pending)
	}
	return fmt.Sprintf("vecenv: %s deadline exceeded waiting for workers %v", e.Call, e.Pending)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// RemoteError carries the failure a worker reported for its slot.
type RemoteError struct {
	Index       int
	Description string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("vecenv: worker %d: %s", e.Index, e.Description)
}

func (e *RemoteError) Unwrap() error { return ErrRemote }

// AttributeError names an attribute some addressed workers do not have.
type AttributeError struct {
	Name    string
	Missing []int
}

func (e *AttributeError) Error() string {
	return fmt.Sprintf("vecenv: attribute %q missing on workers %v", e.Name, e.Missing)
}

func (e *AttributeError) Unwrap() error { return ErrAttribute }

// ConstructionError reports the worker that could not be started.
type ConstructionError struct {
	Index int
	Err   error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("vecenv: worker %d failed to start: %v", e.Index, e.Err)
}

func (e *ConstructionError) Unwrap() []error {
	return []error{ErrConstruction, e.Err}
}

// errWorkerExited is the description used when a worker's channel closes
// before it replies.
const errWorkerExited = "worker exited"
