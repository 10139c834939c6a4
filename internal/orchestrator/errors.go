// ABOUTME: Typed run errors distinguishing backend failures, timeouts, transport and protocol faults
// ABOUTME: Error text is what end users see after the inbound adapter prefixes it

package orchestrator

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a turn did not produce an answer.
type ErrorKind string

const (
	KindFailed      ErrorKind = "failed"
	KindCancelled   ErrorKind = "cancelled"
	KindExpired     ErrorKind = "expired"
	KindTimeout     ErrorKind = "timeout"
	KindTransport   ErrorKind = "transport"
	KindProtocol    ErrorKind = "protocol"
	KindInterrupted ErrorKind = "interrupted"
)

// RunError is returned by Orchestrator.Run for every unsuccessful turn.
type RunError struct {
	Kind   ErrorKind
	RunID  string
	Status RunStatus
	// Op names the backend call that failed, for transport errors.
	Op string
	// Detail is a backend- or protocol-supplied explanation.
	Detail string
	Err    error
}

func (e *RunError) Error() string {
	switch e.Kind {
	case KindFailed, KindCancelled, KindExpired:
		msg := fmt.Sprintf("Run failed with status: %s", e.Status)
		if e.Detail != "" {
			msg += " (" + e.Detail + ")"
		}
		return msg
	case KindTimeout:
		return "Run timed out"
	case KindTransport:
		return fmt.Sprintf("Failed to %s: %v", e.Op, e.Err)
	case KindInterrupted:
		return fmt.Sprintf("Run interrupted: %v", e.Err)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Detail, e.Err)
		}
		return e.Detail
	}
}

func (e *RunError) Unwrap() error { return e.Err }

// IsKind reports whether err is a RunError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var runErr *RunError
	return errors.As(err, &runErr) && runErr.Kind == kind
}

func transportError(op string, err error) *RunError {
	return &RunError{Kind: KindTransport, Op: op, Err: err}
}

func protocolError(detail string) *RunError {
	return &RunError{Kind: KindProtocol, Detail: detail}
}
