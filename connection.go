package glue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/sourcegraph/conc/pool"
)

// Fixed session arguments. Extra libraries are appended per Config.
const (
	argCatalog   = "--enable-glue-datacatalog"
	argCrossJoin = "--spark.sql.crossJoin.enabled"
	argExtraJars = "--extra-jars"
	argExtraPy   = "--extra-py-files"
)

// Option configures a Connection.
type Option func(*Connection)

// WithClock replaces the clock driving the poll loops.
func WithClock(clock Clock) Option {
	return func(c *Connection) {
		c.clock = clock
	}
}

// WithSessionStore persists the session id across processes.
func WithSessionStore(store SessionStore) Option {
	return func(c *Connection) {
		c.store = store
	}
}

// Connection owns one remote session: it provisions or reuses it, runs
// statements on it and tears it down. A Connection is used by one goroutine
// at a time; open one Connection per worker.
type Connection struct {
	client *Client
	cfg    *Config
	clock  Clock
	store  SessionStore

	// mu protects sessionID, state and reused
	mu        sync.Mutex
	sessionID string
	state     SessionState
	reused    bool
}

// NewConnection returns an unconnected Connection. cfg.SessionID, if set, is
// the session Connect tries to reuse; Connect writes the session it ends up
// with back into cfg.
func NewConnection(client *Client, cfg *Config, opts ...Option) *Connection {
	cfg.applyDefaults()
	c := &Connection{
		client: client,
		cfg:    cfg,
		clock:  realClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// --- Accessors ---

// SessionID returns the current session id, or "" before Connect.
func (c *Connection) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Session returns a snapshot of the current session.
func (c *Connection) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Session{ID: c.sessionID, State: c.state, Reused: c.reused}
}

// Config returns the connection's configuration.
func (c *Connection) Config() *Config {
	return c.cfg
}

func (c *Connection) setSession(id string, state SessionState, reused bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = id
	c.state = state
	c.reused = reused
}

func (c *Connection) setState(state SessionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

// --- Session lifecycle ---

// Connect makes sure the connection has an initialized READY session and
// returns its id. A known session id is reused unless the service reports it
// closed; otherwise a new session is provisioned.
func (c *Connection) Connect(ctx context.Context) (string, error) {
	log.Debug().Msg("connect called")

	priorID, err := c.priorSessionID()
	if err != nil {
		return "", connectError("", err)
	}

	if priorID == "" {
		log.Debug().Msg("no known session, starting one")
		if err := c.createSession(ctx); err != nil {
			return "", err
		}
	} else {
		if c.SessionID() != priorID {
			c.setSession(priorID, SessionUnknown, true)
		}
		state := c.State(ctx)
		log.Debug().Str("session_id", priorID).Stringer("state", state).Msg("existing session")

		switch state {
		case SessionClosed:
			if err := c.createSession(ctx); err != nil {
				return "", err
			}
		case SessionProvisioning:
			if err := c.waitReady(ctx); err != nil {
				return "", err
			}
		}
	}

	id := c.SessionID()
	if err := c.initSession(ctx); err != nil {
		return "", connectError(id, err)
	}

	c.cfg.SessionID = id
	if c.store != nil {
		if err := c.store.Save(id); err != nil {
			log.Debug().Err(err).Str("session_id", id).Msg("failed to persist session id")
		}
	}
	return id, nil
}

// priorSessionID picks the session to try first: the one already held, then
// the configured one, then the stored one.
func (c *Connection) priorSessionID() (string, error) {
	if id := c.SessionID(); id != "" {
		return id, nil
	}
	if c.cfg.SessionID != "" {
		return c.cfg.SessionID, nil
	}
	if c.store == nil {
		return "", nil
	}
	return c.store.Load()
}

// sessionRequest builds the CreateSession request from the config.
func (c *Connection) sessionRequest() SessionRequest {
	args := map[string]string{
		argCatalog:   "true",
		argCrossJoin: "true",
	}
	if c.cfg.ExtraJars != "" {
		args[argExtraJars] = c.cfg.ExtraJars
	}
	if c.cfg.ExtraPyFiles != "" {
		args[argExtraPy] = c.cfg.ExtraPyFiles
	}

	return SessionRequest{
		Name:        c.cfg.SessionPrefix + uuid.NewString(),
		Role:        c.cfg.RoleARN,
		Arguments:   args,
		Workers:     c.cfg.Workers,
		WorkerType:  c.cfg.WorkerType,
		GlueVersion: c.cfg.GlueVersion,
		IdleTimeout: int32(c.cfg.IdleTimeout.Round(time.Minute) / time.Minute),
		Tags:        c.cfg.Tags,
	}
}

// createSession provisions a new session and waits until it is READY.
// A rejected request marks the connection FAILED and is not retried.
func (c *Connection) createSession(ctx context.Context) error {
	req := c.sessionRequest()
	log.Debug().Str("session_id", req.Name).Int32("workers", req.Workers).Str("worker_type", req.WorkerType).Msg("creating session")

	session, err := c.client.CreateSession(ctx, req)
	if err != nil {
		c.setSession("", SessionFailed, false)
		logAPIError(log.Debug(), err).Str("session_id", req.Name).Msg("create session rejected")
		return connectError(req.Name, err)
	}

	// The state is re-read from the service even when CreateSession already
	// returned one, so the poll loop owns every transition.
	c.setSession(session.ID, SessionUnknown, false)
	return c.waitReady(ctx)
}

// waitReady polls State every PollInterval until READY. The deadline is
// checked after every poll, so a timeout of N intervals makes at most N+1
// state checks.
func (c *Connection) waitReady(ctx context.Context) error {
	id := c.SessionID()
	timeout := c.cfg.ProvisioningTimeout.Duration
	start := c.clock.Now()

	for {
		state := c.State(ctx)
		elapsed := c.clock.Now().Sub(start)
		switch state {
		case SessionReady:
			log.Debug().Str("session_id", id).Dur("elapsed", elapsed).Msg("session ready")
			return nil
		case SessionFailed:
			return connectError(id, errors.New("session failed while provisioning"))
		}

		if elapsed >= timeout {
			log.Debug().Str("session_id", id).Dur("elapsed", elapsed).Stringer("state", state).Msg("session provisioning timed out")
			return &SessionError{Kind: ErrTimeout, SessionID: id, Err: fmt.Errorf("not ready after %s", elapsed)}
		}
		if err := c.clock.Sleep(ctx, c.cfg.PollInterval.Duration); err != nil {
			return connectError(id, err)
		}
	}
}

// State returns the session state. READY and FAILED are answered from the
// last observation; anything else is fetched from the service. A failed
// lookup, including an unknown session, reads as CLOSED.
func (c *Connection) State(ctx context.Context) SessionState {
	c.mu.Lock()
	id, state := c.sessionID, c.state
	c.mu.Unlock()

	if state.sticky() {
		return state
	}
	if id == "" {
		c.setState(SessionClosed)
		return SessionClosed
	}

	session, err := c.client.GetSession(ctx, id)
	if err != nil {
		ev := log.Debug().Str("session_id", id).Bool("not_found", isNotFound(err))
		logAPIError(ev, err).Msg("session lookup failed, treating as closed")
		c.setState(SessionClosed)
		return SessionClosed
	}
	c.setState(session.State)
	return session.State
}

// initSession installs the helper program and selects the default database.
func (c *Connection) initSession(ctx context.Context) error {
	log.Debug().Str("session_id", c.SessionID()).Msg("initializing session")

	if _, err := c.Execute(ctx, HelperProgram); err != nil {
		return fmt.Errorf("failed to install helper program: %w", err)
	}
	if c.cfg.Database == "" {
		return nil
	}
	if _, err := c.Execute(ctx, useDatabaseCode(c.cfg.Database)); err != nil {
		return fmt.Errorf("failed to select database %q: %w", c.cfg.Database, err)
	}
	return nil
}

// --- Statement control ---

// Statements lists every statement of the current session.
func (c *Connection) Statements(ctx context.Context) ([]Statement, error) {
	id := c.SessionID()
	if id == "" {
		return nil, ErrNoSession
	}
	return c.client.ListStatements(ctx, id)
}

// Cancel requests cancellation of every RUNNING statement of the current
// session. It does not wait for the statements to reach CANCELLED.
func (c *Connection) Cancel(ctx context.Context) error {
	log.Debug().Msg("cancel called")
	statements, err := c.Statements(ctx)
	if err != nil {
		return err
	}

	running := lo.Filter(statements, func(s Statement, _ int) bool {
		return s.State == StatementRunning
	})
	if len(running) == 0 {
		return nil
	}

	p := pool.New().WithErrors().WithContext(ctx)
	for _, s := range running {
		p.Go(func(ctx context.Context) error {
			return c.CancelStatement(ctx, s.ID)
		})
	}
	return p.Wait()
}

// CancelStatement requests cancellation of one statement.
func (c *Connection) CancelStatement(ctx context.Context, id int32) error {
	sessionID := c.SessionID()
	if sessionID == "" {
		return ErrNoSession
	}
	log.Debug().Str("session_id", sessionID).Int32("statement_id", id).Msg("cancelling statement")
	if err := c.client.CancelStatement(ctx, sessionID, id); err != nil {
		return fmt.Errorf("glue: failed to cancel statement %d: %w", id, err)
	}
	return nil
}

// CloseSession deletes the current remote session and forgets its id.
// Without a current session it does nothing.
func (c *Connection) CloseSession(ctx context.Context) error {
	id := c.SessionID()
	if id == "" {
		id = c.cfg.SessionID
	}
	if id == "" {
		return nil
	}

	log.Debug().Str("session_id", id).Msg("deleting session")
	if err := c.client.DeleteSession(ctx, id); err != nil && !isNotFound(err) {
		return fmt.Errorf("glue: failed to delete session %s: %w", id, err)
	}

	c.setSession("", SessionClosed, false)
	c.cfg.SessionID = ""
	if c.store != nil {
		return c.store.Clear()
	}
	return nil
}

// Close does nothing: the session outlives the connection so it can be
// reused. Use CloseSession to release it.
func (c *Connection) Close() error {
	log.Debug().Msg("close is a no-op, session kept for reuse")
	return nil
}

// Rollback does nothing; sessions have no transactions.
func (c *Connection) Rollback() error {
	log.Debug().Msg("rollback is a no-op")
	return nil
}
