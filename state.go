package glue

import (
	"github.com/aws/aws-sdk-go-v2/service/glue/types"
)

// SessionState is the client's view of a remote session.
type SessionState string

const (
	// SessionUnknown means the state has not been observed yet.
	SessionUnknown      SessionState = ""
	SessionProvisioning SessionState = "PROVISIONING"
	SessionReady        SessionState = "READY"
	SessionFailed       SessionState = "FAILED"
	// SessionClosed covers stopped, timed out, deleted and unreachable sessions.
	SessionClosed SessionState = "CLOSED"
)

func (s SessionState) String() string {
	if s == SessionUnknown {
		return "UNKNOWN"
	}
	return string(s)
}

// sticky reports whether the state is trusted without asking the service again.
func (s SessionState) sticky() bool {
	return s == SessionReady || s == SessionFailed
}

func sessionStateFromSDK(status types.SessionStatus) SessionState {
	switch status {
	case types.SessionStatusProvisioning:
		return SessionProvisioning
	case types.SessionStatusReady:
		return SessionReady
	case types.SessionStatusFailed:
		return SessionFailed
	default:
		// TIMEOUT, STOPPING, STOPPED
		return SessionClosed
	}
}

// Session is a remote compute session.
type Session struct {
	ID    string
	State SessionState

	// Status is the raw remote status behind State
	Status       string
	ErrorMessage string

	// Reused is true when Connect adopted an existing session instead of creating one
	Reused bool
}

// StatementState mirrors Glue's statement states.
type StatementState string

const (
	StatementWaiting    StatementState = "WAITING"
	StatementRunning    StatementState = "RUNNING"
	StatementAvailable  StatementState = "AVAILABLE"
	StatementCancelling StatementState = "CANCELLING"
	StatementCancelled  StatementState = "CANCELLED"
	StatementError      StatementState = "ERROR"
)

// Terminal reports whether no further transition is expected.
func (s StatementState) Terminal() bool {
	switch s {
	case StatementAvailable, StatementCancelled, StatementError:
		return true
	}
	return false
}

// Statement is one unit of code submitted to a session.
type Statement struct {
	SessionID string
	ID        int32
	Code      string
	State     StatementState
	Progress  float64

	// Output is the text/plain output of the statement
	Output string

	// OutputStatus is the execution status the runtime reported with the output.
	// A statement can be AVAILABLE with an ERROR output status.
	OutputStatus StatementState

	ErrorName  string
	ErrorValue string
	Traceback  []string
}

func (s *Statement) failed() bool {
	return s.State == StatementError || s.OutputStatus == StatementError
}
