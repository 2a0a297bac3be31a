package glue

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

func init() {
	sql.Register("glue", &glueDriver{})
}

// --- DSN Parsing ---

// dsnConfig holds the parsed DSN parameters.
type dsnConfig struct {
	cfg          *Config
	closeSession bool
}

// parseDSN parses a Glue DSN string.
//
// Format: glue://region?role_arn=...[&key=value...]
//
// Query params: role_arn, workers, worker_type, database, location,
// session_id, session_prefix, extra_jars, extra_py_files, glue_version,
// session_provisioning_timeout, statement_timeout, poll_interval,
// idle_timeout, close_session. Durations accept seconds or strings like "2m".
func parseDSN(dsn string) (*dsnConfig, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid DSN: %w", err)
	}
	if u.Scheme != "glue" {
		return nil, fmt.Errorf("unsupported scheme %q: must be glue", u.Scheme)
	}

	dc := &dsnConfig{cfg: &Config{Region: u.Hostname()}}
	cfg := dc.cfg

	for key, values := range u.Query() {
		val := values[0]
		switch key {
		case "role_arn":
			cfg.RoleARN = val
		case "workers":
			n, err := strconv.ParseInt(val, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("invalid workers %q: %w", val, err)
			}
			cfg.Workers = int32(n)
		case "worker_type":
			cfg.WorkerType = val
		case "database":
			cfg.Database = val
		case "location":
			cfg.Location = val
		case "session_id":
			cfg.SessionID = val
		case "session_prefix":
			cfg.SessionPrefix = val
		case "extra_jars":
			cfg.ExtraJars = val
		case "extra_py_files":
			cfg.ExtraPyFiles = val
		case "glue_version":
			cfg.GlueVersion = val
		case "session_provisioning_timeout", "statement_timeout", "poll_interval", "idle_timeout":
			d, err := ParseDuration(val)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", key, err)
			}
			switch key {
			case "session_provisioning_timeout":
				cfg.ProvisioningTimeout = Duration{d}
			case "statement_timeout":
				cfg.StatementTimeout = Duration{d}
			case "poll_interval":
				cfg.PollInterval = Duration{d}
			default:
				cfg.IdleTimeout = Duration{d}
			}
		case "close_session":
			b, err := strconv.ParseBool(val)
			if err != nil {
				return nil, fmt.Errorf("invalid close_session %q: %w", val, err)
			}
			dc.closeSession = b
		default:
			return nil, fmt.Errorf("unknown DSN parameter %q", key)
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return dc, nil
}

// --- Parameter Interpolation ---

// valueToSQL converts a Go driver.Value to a Spark SQL literal.
func valueToSQL(v driver.Value) (string, error) {
	switch val := v.(type) {
	case nil:
		return "NULL", nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case bool:
		if val {
			return "TRUE", nil
		}
		return "FALSE", nil
	case string:
		escaped := strings.ReplaceAll(strings.ReplaceAll(val, `\`, `\\`), "'", `\'`)
		return "'" + escaped + "'", nil
	case []byte:
		return "X'" + hex.EncodeToString(val) + "'", nil
	case time.Time:
		return "TIMESTAMP '" + val.Format("2006-01-02 15:04:05.000000") + "'", nil
	default:
		return "", fmt.Errorf("unsupported parameter type: %T", v)
	}
}

// interpolateParams replaces ? placeholders in the query with SQL literals.
// It skips ? characters inside single-quoted string literals.
func interpolateParams(query string, args []driver.Value) (string, error) {
	if len(args) == 0 {
		return query, nil
	}

	var buf strings.Builder
	buf.Grow(len(query) + len(args)*8)
	argIdx := 0
	inString := false

	for i := 0; i < len(query); i++ {
		ch := query[i]
		if inString && ch == '\\' && i+1 < len(query) {
			buf.WriteByte(ch)
			buf.WriteByte(query[i+1])
			i++
			continue
		}
		if ch == '\'' {
			inString = !inString
			buf.WriteByte(ch)
			continue
		}
		if ch == '?' && !inString {
			if argIdx >= len(args) {
				return "", fmt.Errorf("not enough arguments: query has more placeholders than the %d provided arguments", len(args))
			}
			s, err := valueToSQL(args[argIdx])
			if err != nil {
				return "", err
			}
			buf.WriteString(s)
			argIdx++
			continue
		}
		buf.WriteByte(ch)
	}

	if argIdx != len(args) {
		return "", fmt.Errorf("too many arguments: %d provided but only %d placeholders in query", len(args), argIdx)
	}
	return buf.String(), nil
}

// --- Driver Types ---

// glueDriver implements driver.Driver and driver.DriverContext.
type glueDriver struct{}

var _ driver.Driver = (*glueDriver)(nil)
var _ driver.DriverContext = (*glueDriver)(nil)

// Open implements driver.Driver.
func (d *glueDriver) Open(dsn string) (driver.Conn, error) {
	connector, err := NewConnector(dsn)
	if err != nil {
		return nil, err
	}
	return connector.Connect(context.Background())
}

// OpenConnector implements driver.DriverContext.
func (d *glueDriver) OpenConnector(dsn string) (driver.Connector, error) {
	return NewConnector(dsn)
}

// --- Connector ---

// ConnectorOption configures a glueConnector.
type ConnectorOption func(*glueConnector)

// WithAPI makes the connector talk to api instead of a Glue client built
// from the default AWS configuration.
func WithAPI(api API) ConnectorOption {
	return func(c *glueConnector) {
		c.client = NewClientFromAPI(api)
	}
}

// WithConnectionOptions applies opts to every Connection the connector opens.
func WithConnectionOptions(opts ...Option) ConnectorOption {
	return func(c *glueConnector) {
		c.connOpts = append(c.connOpts, opts...)
	}
}

// glueConnector implements driver.Connector. It creates a shared Client
// (via sync.Once) and a new Connection, with its own session, per Connect.
type glueConnector struct {
	dsn      *dsnConfig
	client   *Client
	once     sync.Once
	err      error
	connOpts []Option

	// presetClaimed is set while a driver connection holds the DSN session
	// id; other connections provision their own. A failed connect releases it.
	mu            sync.Mutex
	presetClaimed bool
}

var _ driver.Connector = (*glueConnector)(nil)

// NewConnector creates a new driver.Connector from a DSN string.
// Use this with sql.OpenDB for connection pool management.
func NewConnector(dsn string, opts ...ConnectorOption) (driver.Connector, error) {
	cfg, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}
	c := &glueConnector{dsn: cfg}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Connect implements driver.Connector.
func (c *glueConnector) Connect(ctx context.Context) (driver.Conn, error) {
	c.once.Do(func() {
		if c.client != nil {
			return
		}
		c.client, c.err = NewClient(ctx, c.dsn.cfg.Region)
	})
	if c.err != nil {
		return nil, c.err
	}

	cfg := c.dsn.cfg.Clone()
	c.mu.Lock()
	preset := cfg.SessionID != "" && !c.presetClaimed
	if preset {
		c.presetClaimed = true
	} else {
		cfg.SessionID = ""
	}
	c.mu.Unlock()

	conn := NewConnection(c.client, cfg, c.connOpts...)
	if _, err := conn.Connect(ctx); err != nil {
		if preset {
			c.mu.Lock()
			c.presetClaimed = false
			c.mu.Unlock()
		}
		return nil, err
	}
	return &glueConn{conn: conn, closeSession: c.dsn.closeSession}, nil
}

// Driver implements driver.Connector.
func (c *glueConnector) Driver() driver.Driver {
	return &glueDriver{}
}

// --- Connection ---

// glueConn implements driver.Conn, driver.QueryerContext, driver.ExecerContext,
// and driver.ConnBeginTx.
type glueConn struct {
	conn         *Connection
	closeSession bool
	closed       bool
}

var _ driver.Conn = (*glueConn)(nil)
var _ driver.QueryerContext = (*glueConn)(nil)
var _ driver.ExecerContext = (*glueConn)(nil)
var _ driver.ConnBeginTx = (*glueConn)(nil)

// Prepare implements driver.Conn.
func (c *glueConn) Prepare(query string) (driver.Stmt, error) {
	return &glueStmt{conn: c, query: query}, nil
}

// Close implements driver.Conn. The remote session survives unless the DSN
// asked for close_session.
func (c *glueConn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.closeSession {
		return c.conn.CloseSession(context.Background())
	}
	return c.conn.Close()
}

// Begin implements driver.Conn. Use BeginTx instead.
func (c *glueConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// BeginTx implements driver.ConnBeginTx. Sessions have no transactions, so
// the returned Tx only exists to satisfy callers that always open one.
func (c *glueConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if opts.Isolation != driver.IsolationLevel(sql.LevelDefault) {
		return nil, fmt.Errorf("glue: isolation level %d is not supported", opts.Isolation)
	}
	log.Debug().Str("session_id", c.conn.SessionID()).Msg("begin is a no-op")
	return &glueTx{conn: c}, nil
}

// QueryContext implements driver.QueryerContext.
func (c *glueConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	res, err := c.run(ctx, query, args)
	if err != nil {
		return nil, err
	}
	return &glueRows{result: res}, nil
}

// ExecContext implements driver.ExecerContext.
func (c *glueConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	res, err := c.run(ctx, query, args)
	if err != nil {
		return nil, err
	}
	return &glueResult{rowCount: int64(res.RowCount)}, nil
}

// run interpolates args and executes the query through a dict cursor.
func (c *glueConn) run(ctx context.Context, query string, args []driver.NamedValue) (*Result, error) {
	if c.closed {
		return nil, driver.ErrBadConn
	}
	interpolated, err := interpolateParams(query, namedToPositional(args))
	if err != nil {
		return nil, err
	}

	cur := c.conn.DictCursor()
	if err := cur.Execute(ctx, interpolated); err != nil {
		return nil, err
	}
	return cur.result, nil
}

// namedToPositional converts named values to positional driver.Value slice.
func namedToPositional(args []driver.NamedValue) []driver.Value {
	positional := make([]driver.Value, len(args))
	for i, arg := range args {
		positional[i] = arg.Value
	}
	return positional
}

// --- Result ---

// glueResult implements driver.Result.
type glueResult struct {
	rowCount int64
}

var _ driver.Result = (*glueResult)(nil)

// LastInsertId implements driver.Result. Spark has no auto-increment ids.
func (r *glueResult) LastInsertId() (int64, error) {
	return 0, fmt.Errorf("glue: LastInsertId is not supported")
}

// RowsAffected implements driver.Result. It reports the row count of the
// statement's result set, which is 0 for DDL and DML.
func (r *glueResult) RowsAffected() (int64, error) {
	return r.rowCount, nil
}

// --- Rows ---

// glueRows implements driver.Rows over a fully buffered Result.
type glueRows struct {
	result *Result
	pos    int
	closed bool
}

var _ driver.Rows = (*glueRows)(nil)

// Columns implements driver.Rows.
func (r *glueRows) Columns() []string {
	names := make([]string, len(r.result.Columns))
	for i, col := range r.result.Columns {
		names[i] = col.Name
	}
	return names
}

// Close implements driver.Rows.
func (r *glueRows) Close() error {
	r.closed = true
	return nil
}

// Next implements driver.Rows.
func (r *glueRows) Next(dest []driver.Value) error {
	if r.closed || r.pos >= len(r.result.Records) {
		return io.EOF
	}
	rec := r.result.Records[r.pos]
	r.pos++

	for i, col := range r.result.Columns {
		val, err := convertValue(rec[col.Name], col.Type)
		if err != nil {
			return fmt.Errorf("glue: column %s: %w", col.Name, err)
		}
		dest[i] = val
	}
	return nil
}

// ColumnTypeDatabaseTypeName implements driver.RowsColumnTypeDatabaseTypeName.
func (r *glueRows) ColumnTypeDatabaseTypeName(index int) string {
	if index < 0 || index >= len(r.result.Columns) {
		return ""
	}
	return strings.ToUpper(normalizeType(r.result.Columns[index].Type))
}

// ColumnTypeScanType implements driver.RowsColumnTypeScanType.
func (r *glueRows) ColumnTypeScanType(index int) reflect.Type {
	if index < 0 || index >= len(r.result.Columns) {
		return reflect.TypeOf("")
	}
	return scanTypeForSparkType(r.result.Columns[index].Type)
}

// --- Statement ---

// glueStmt implements driver.Stmt, driver.StmtQueryContext, and driver.StmtExecContext.
type glueStmt struct {
	conn  *glueConn
	query string
}

var _ driver.Stmt = (*glueStmt)(nil)
var _ driver.StmtQueryContext = (*glueStmt)(nil)
var _ driver.StmtExecContext = (*glueStmt)(nil)

// Close implements driver.Stmt.
func (s *glueStmt) Close() error {
	return nil
}

// NumInput implements driver.Stmt. Returns -1 to disable driver-side validation.
func (s *glueStmt) NumInput() int {
	return -1
}

// Exec implements driver.Stmt.
func (s *glueStmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.ExecContext(context.Background(), namedValues(args))
}

// Query implements driver.Stmt.
func (s *glueStmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.QueryContext(context.Background(), namedValues(args))
}

// ExecContext implements driver.StmtExecContext.
func (s *glueStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	return s.conn.ExecContext(ctx, s.query, args)
}

// QueryContext implements driver.StmtQueryContext.
func (s *glueStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	return s.conn.QueryContext(ctx, s.query, args)
}

// namedValues converts positional args to NamedValue slice.
func namedValues(args []driver.Value) []driver.NamedValue {
	named := make([]driver.NamedValue, len(args))
	for i, v := range args {
		named[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return named
}

// --- Transaction ---

// glueTx implements driver.Tx. Statements run and persist immediately, so
// Commit and Rollback only log.
type glueTx struct {
	conn *glueConn
}

var _ driver.Tx = (*glueTx)(nil)

// Commit implements driver.Tx.
func (tx *glueTx) Commit() error {
	log.Debug().Str("session_id", tx.conn.conn.SessionID()).Msg("commit is a no-op")
	return nil
}

// Rollback implements driver.Tx.
func (tx *glueTx) Rollback() error {
	return tx.conn.conn.Rollback()
}
