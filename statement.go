package glue

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Execute runs code on the current session and waits for it to finish.
//
// It polls the statement every PollInterval until it is AVAILABLE, ERROR or
// CANCELLED, or until StatementTimeout. Only a successful AVAILABLE statement
// is returned; every other outcome except context cancellation is a
// *StatementError, including service calls that fail. Timing out locally
// leaves the remote statement running; call CancelStatement to stop it.
func (c *Connection) Execute(ctx context.Context, code string) (*Statement, error) {
	sessionID := c.SessionID()
	if sessionID == "" {
		return nil, ErrNoSession
	}

	id, err := c.client.RunStatement(ctx, sessionID, code)
	if err != nil {
		logAPIError(log.Debug(), err).Str("session_id", sessionID).Msg("run statement rejected")
		return nil, &StatementError{
			Kind:        ErrStatement,
			SessionID:   sessionID,
			StatementID: NotSubmitted,
			ErrorValue:  "submit rejected",
			Err:         err,
		}
	}
	log.Debug().Str("session_id", sessionID).Int32("statement_id", id).Msg("statement submitted")

	return c.waitStatement(ctx, sessionID, id)
}

// waitStatement polls a submitted statement until it settles.
func (c *Connection) waitStatement(ctx context.Context, sessionID string, id int32) (*Statement, error) {
	timeout := c.cfg.StatementTimeout.Duration
	start := c.clock.Now()

	for {
		st, err := c.client.GetStatement(ctx, sessionID, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("glue: waiting for statement %d interrupted: %w", id, ctx.Err())
			}
			return nil, &StatementError{
				Kind:        ErrStatement,
				SessionID:   sessionID,
				StatementID: id,
				ErrorValue:  "status lookup failed",
				Err:         err,
			}
		}

		if st.State.Terminal() {
			return settle(st)
		}

		elapsed := c.clock.Now().Sub(start)
		if timeout > 0 && elapsed >= timeout {
			log.Debug().Str("session_id", sessionID).Int32("statement_id", id).Dur("elapsed", elapsed).Msg("statement timed out, leaving it running")
			return nil, &StatementError{
				Kind:        ErrStatementTimeout,
				SessionID:   sessionID,
				StatementID: id,
				ErrorValue:  fmt.Sprintf("still %s after %s", st.State, elapsed),
			}
		}
		if err := c.clock.Sleep(ctx, c.cfg.PollInterval.Duration); err != nil {
			return nil, fmt.Errorf("glue: waiting for statement %d interrupted: %w", id, err)
		}
	}
}

// settle maps a terminal statement to its result.
func settle(st *Statement) (*Statement, error) {
	switch {
	case st.State == StatementCancelled:
		return nil, &StatementError{
			Kind:        ErrStatementCancelled,
			SessionID:   st.SessionID,
			StatementID: st.ID,
		}
	case st.failed():
		log.Debug().Str("session_id", st.SessionID).Int32("statement_id", st.ID).Str("error_name", st.ErrorName).Msg("statement failed")
		return nil, &StatementError{
			Kind:        ErrStatement,
			SessionID:   st.SessionID,
			StatementID: st.ID,
			ErrorName:   st.ErrorName,
			ErrorValue:  st.ErrorValue,
			Traceback:   st.Traceback,
		}
	}
	log.Debug().Str("session_id", st.SessionID).Int32("statement_id", st.ID).Int("output_bytes", len(st.Output)).Msg("statement available")
	return st, nil
}
