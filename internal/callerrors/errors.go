// Package callerrors defines the failure taxonomy for call sessions.
// Every failure inside a call is classified so the session state machine
// can decide between retry, graceful degradation, escalation, and teardown
// without per-call-site policy.
package callerrors

import (
	"context"
	"errors"
	"fmt"
)

// ErrTransportClosed means the underlying audio transport is gone. Fatal to
// the session, never retried.
var ErrTransportClosed = errors.New("audio transport closed")

// ErrAIUnavailable means no realtime AI session could be established, either
// on the initial dial or on the single reconnect. Fatal to the session.
var ErrAIUnavailable = errors.New("realtime AI session unavailable")

// ErrSlotTaken means a concurrent confirmation won the slot. The booking
// attempt fails; the call continues.
var ErrSlotTaken = errors.New("appointment slot already taken")

// AdapterError wraps a failure from an external adapter call. Timeout reports
// whether the adapter exceeded its hard deadline rather than failing outright.
type AdapterError struct {
	Adapter string
	Timeout bool
	Err     error
}

func (e *AdapterError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s adapter timed out: %v", e.Adapter, e.Err)
	}
	return fmt.Sprintf("%s adapter failed: %v", e.Adapter, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// WrapAdapter classifies err as an adapter failure, marking deadline errors
// as timeouts.
func WrapAdapter(adapter string, err error) error {
	if err == nil {
		return nil
	}
	return &AdapterError{
		Adapter: adapter,
		Timeout: errors.Is(err, context.DeadlineExceeded),
		Err:     err,
	}
}

// IsAdapterTimeout reports whether err is an adapter call that ran out of budget.
func IsAdapterTimeout(err error) bool {
	var ae *AdapterError
	return errors.As(err, &ae) && ae.Timeout
}

// RecognitionError is a failed or unusable speech recognition result. These
// are counted by the session; a run of them triggers escalation.
type RecognitionError struct {
	Err error
}

func (e *RecognitionError) Error() string {
	return fmt.Sprintf("recognition failure: %v", e.Err)
}

func (e *RecognitionError) Unwrap() error { return e.Err }

// DataConflict records a disagreement between extraction or classification
// results. Resolved by merge policy, logged, never surfaced to the caller.
type DataConflict struct {
	Field    string
	Existing string
	Incoming string
}

func (e *DataConflict) Error() string {
	return fmt.Sprintf("data conflict on %s: kept %q, rejected %q", e.Field, e.Existing, e.Incoming)
}
