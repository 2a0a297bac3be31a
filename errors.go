package glue

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every error returned by a Connection or Cursor matches one of
// these with errors.Is, except context cancellation, which is returned
// wrapped as is. A connect failure caused by a setup statement matches
// ErrConnect and also wraps that statement's error.
var (
	// ErrConnect reports that a session could not be created or initialized.
	ErrConnect = errors.New("glue: connect failed")

	// ErrTimeout reports that a session did not become READY before the
	// provisioning timeout.
	ErrTimeout = errors.New("glue: session provisioning timed out")

	// ErrStatement reports that the remote runtime failed a statement.
	ErrStatement = errors.New("glue: statement failed")

	// ErrStatementTimeout reports that a statement did not finish before the
	// statement timeout. The remote statement keeps running.
	ErrStatementTimeout = errors.New("glue: statement timed out")

	// ErrStatementCancelled reports that a statement was cancelled remotely.
	ErrStatementCancelled = errors.New("glue: statement cancelled")

	// ErrNoSession reports a statement operation without a current session.
	ErrNoSession = errors.New("glue: no current session")

	// ErrNoEnvelope reports statement output that holds no result envelope.
	ErrNoEnvelope = errors.New("glue: no result envelope in statement output")
)

// SessionError is returned by the session lifecycle (Connect and friends).
type SessionError struct {
	// Kind is ErrConnect or ErrTimeout
	Kind error

	// SessionID is the session being created or initialized, if known
	SessionID string

	// Err is the underlying cause, possibly nil
	Err error
}

func (e *SessionError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.SessionID != "" {
		fmt.Fprintf(&b, " (session %s)", e.SessionID)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *SessionError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// StatementError is returned when a single statement fails, times out or is
// cancelled. The session stays usable for the next statement.
type StatementError struct {
	// Kind is ErrStatement, ErrStatementTimeout or ErrStatementCancelled
	Kind error

	SessionID string

	// StatementID is NotSubmitted when the service rejected the statement
	StatementID int32

	// ErrorName and ErrorValue are the remote exception class and message
	ErrorName  string
	ErrorValue string

	// Traceback is the remote stack trace, innermost frame last
	Traceback []string

	// Err is the service call error, when the failure is not remote
	// statement output
	Err error
}

// NotSubmitted is the StatementID of a statement the service never accepted.
const NotSubmitted int32 = -1

func (e *StatementError) Error() string {
	var msg string
	if e.StatementID == NotSubmitted {
		msg = fmt.Sprintf("%s (session %s)", e.Kind.Error(), e.SessionID)
	} else {
		msg = fmt.Sprintf("%s (session %s, statement %d)", e.Kind.Error(), e.SessionID, e.StatementID)
	}
	switch {
	case e.ErrorName != "" && e.ErrorValue != "":
		msg = fmt.Sprintf("%s: %s: %s", msg, e.ErrorName, e.ErrorValue)
	case e.ErrorValue != "":
		msg += ": " + e.ErrorValue
	case e.ErrorName != "":
		msg += ": " + e.ErrorName
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StatementError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func connectError(sessionID string, err error) error {
	return &SessionError{Kind: ErrConnect, SessionID: sessionID, Err: err}
}
