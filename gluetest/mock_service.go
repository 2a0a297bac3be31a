// Package gluetest provides an in-memory Glue interactive-session service and
// a fake clock for testing code built on the glue package.
package gluetest

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/glue/types"

	gluesql "github.com/MarcBook/dbt-glue"
)

// --- Data Models ---

// StatementTemplate defines the outcome of a SQL statement, matched on its
// trimmed text. It is the blueprint for every statement that runs that SQL.
type StatementTemplate struct {
	SQL     string           // The SQL text used for matching.
	Columns []gluesql.Column // Result columns; nil means a null-schema envelope.
	Rows    []map[string]any // Result rows keyed by column name.
	// Row values are printed the way the helper program prints them: nested
	// maps as objects, []byte as base64 and non-finite floats as strings.

	// ErrorName and ErrorValue make the statement fail with an ERROR state.
	ErrorName  string
	ErrorValue string

	// RunningPolls is how many GetStatement calls report RUNNING before the
	// statement settles.
	RunningPolls int
}

// CodeTemplate defines the outcome of raw (non-SQL) session code, matched on
// the exact code.
type CodeTemplate struct {
	Code         string
	Output       string
	ErrorName    string
	ErrorValue   string
	RunningPolls int

	// Cancelled makes the statement end CANCELLED, as if another client had
	// cancelled it.
	Cancelled bool
}

type mockStatement struct {
	id           int32
	code         string
	state        types.StatementState
	output       string
	errorName    string
	errorValue   string
	pollsLeft    int
	finalState   types.StatementState
	outputStatus types.StatementState
}

type mockSession struct {
	id        string
	status    types.SessionStatus
	pollsLeft int // GetSession calls still reporting PROVISIONING
	input     *glue.CreateSessionInput
	nextID    int32
	stmts     []*mockStatement
}

// --- Mock Service Implementation ---

// MockService implements glue.API in memory. Sql statements submitted
// through SqlWrapper2 are split on ';' like the helper program does, and
// only the last part produces output.
type MockService struct {
	mu sync.Mutex

	sessions      map[string]*mockSession
	templates     map[string]*StatementTemplate
	codeTemplates map[string]*CodeTemplate

	// ProvisioningPolls is how many GetSession calls a new session reports
	// PROVISIONING before it turns READY.
	ProvisioningPolls int

	// NeverReady keeps new sessions PROVISIONING forever.
	NeverReady bool

	// CreateError, when set, is returned by every CreateSession call.
	CreateError error

	// GetSessionError, when set, is returned by every GetSession call.
	GetSessionError error

	createInputs   []*glue.CreateSessionInput
	getSessionHits int
	deleted        []string
	cancelled      []int32
	executedSQL    []string
	submittedCode  []string
}

var _ gluesql.API = (*MockService)(nil)

// NewMockService returns an empty service.
func NewMockService() *MockService {
	return &MockService{
		sessions:      make(map[string]*mockSession),
		templates:     make(map[string]*StatementTemplate),
		codeTemplates: make(map[string]*CodeTemplate),
	}
}

// AddStatement registers a SQL template.
func (m *MockService) AddStatement(tmpl *StatementTemplate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[strings.TrimSpace(tmpl.SQL)] = tmpl
}

// AddCode registers a raw code template.
func (m *MockService) AddCode(tmpl *CodeTemplate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codeTemplates[tmpl.Code] = tmpl
}

// AddSession registers an existing session with the given status. A
// PROVISIONING session turns READY after ProvisioningPolls lookups.
func (m *MockService) AddSession(id string, status types.SessionStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = &mockSession{id: id, status: status, pollsLeft: m.ProvisioningPolls}
}

// SetSessionStatus changes the status of a known session.
func (m *MockService) SetSessionStatus(id string, status types.SessionStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.status = status
		s.pollsLeft = 0
	}
}

// AddRunningStatement adds a statement in the given state to a session,
// as if another client had submitted it.
func (m *MockService) AddRunningStatement(sessionID string, state types.StatementState) int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[sessionID]
	s.nextID++
	s.stmts = append(s.stmts, &mockStatement{id: s.nextID, state: state, finalState: state})
	return s.nextID
}

// --- glue.API ---

func (m *MockService) CreateSession(_ context.Context, in *glue.CreateSessionInput, _ ...func(*glue.Options)) (*glue.CreateSessionOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.createInputs = append(m.createInputs, in)
	if m.CreateError != nil {
		return nil, m.CreateError
	}

	id := aws.ToString(in.Id)
	if _, exists := m.sessions[id]; exists {
		return nil, &types.AlreadyExistsException{Message: aws.String("session " + id + " already exists")}
	}
	s := &mockSession{
		id:        id,
		status:    types.SessionStatusProvisioning,
		pollsLeft: m.ProvisioningPolls,
		input:     in,
	}
	m.sessions[id] = s
	return &glue.CreateSessionOutput{Session: &types.Session{Id: aws.String(id), Status: s.status}}, nil
}

func (m *MockService) GetSession(_ context.Context, in *glue.GetSessionInput, _ ...func(*glue.Options)) (*glue.GetSessionOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.getSessionHits++
	if m.GetSessionError != nil {
		return nil, m.GetSessionError
	}
	s, err := m.session(aws.ToString(in.Id))
	if err != nil {
		return nil, err
	}

	if s.status == types.SessionStatusProvisioning && !m.NeverReady {
		if s.pollsLeft > 0 {
			s.pollsLeft--
		} else {
			s.status = types.SessionStatusReady
		}
	}
	return &glue.GetSessionOutput{Session: &types.Session{Id: aws.String(s.id), Status: s.status}}, nil
}

func (m *MockService) DeleteSession(_ context.Context, in *glue.DeleteSessionInput, _ ...func(*glue.Options)) (*glue.DeleteSessionOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := aws.ToString(in.Id)
	if _, err := m.session(id); err != nil {
		return nil, err
	}
	delete(m.sessions, id)
	m.deleted = append(m.deleted, id)
	return &glue.DeleteSessionOutput{Id: aws.String(id)}, nil
}

func (m *MockService) ListStatements(_ context.Context, in *glue.ListStatementsInput, _ ...func(*glue.Options)) (*glue.ListStatementsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.session(aws.ToString(in.SessionId))
	if err != nil {
		return nil, err
	}
	out := &glue.ListStatementsOutput{}
	for _, st := range s.stmts {
		out.Statements = append(out.Statements, st.sdk(false))
	}
	return out, nil
}

func (m *MockService) RunStatement(_ context.Context, in *glue.RunStatementInput, _ ...func(*glue.Options)) (*glue.RunStatementOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.session(aws.ToString(in.SessionId))
	if err != nil {
		return nil, err
	}
	if s.status != types.SessionStatusReady {
		return nil, &types.IllegalSessionStateException{Message: aws.String("session " + s.id + " is " + string(s.status))}
	}

	code := aws.ToString(in.Code)
	m.submittedCode = append(m.submittedCode, code)

	s.nextID++
	st := &mockStatement{
		id:           s.nextID,
		code:         code,
		state:        types.StatementStateWaiting,
		finalState:   types.StatementStateAvailable,
		outputStatus: types.StatementStateAvailable,
	}
	m.plan(st)
	s.stmts = append(s.stmts, st)
	return &glue.RunStatementOutput{Id: st.id}, nil
}

func (m *MockService) GetStatement(_ context.Context, in *glue.GetStatementInput, _ ...func(*glue.Options)) (*glue.GetStatementOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.session(aws.ToString(in.SessionId))
	if err != nil {
		return nil, err
	}
	st := s.statement(aws.ToInt32(in.Id))
	if st == nil {
		return nil, &types.EntityNotFoundException{Message: aws.String(fmt.Sprintf("statement %d not found", aws.ToInt32(in.Id)))}
	}

	switch {
	case terminal(st.state):
	case st.pollsLeft > 0:
		st.state = types.StatementStateRunning
		st.pollsLeft--
	default:
		st.state = st.finalState
	}
	sdk := st.sdk(true)
	return &glue.GetStatementOutput{Statement: &sdk}, nil
}

func (m *MockService) CancelStatement(_ context.Context, in *glue.CancelStatementInput, _ ...func(*glue.Options)) (*glue.CancelStatementOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.session(aws.ToString(in.SessionId))
	if err != nil {
		return nil, err
	}
	id := aws.ToInt32(in.Id)
	st := s.statement(id)
	if st == nil {
		return nil, &types.EntityNotFoundException{Message: aws.String(fmt.Sprintf("statement %d not found", id))}
	}
	st.state = types.StatementStateCancelled
	st.finalState = types.StatementStateCancelled
	m.cancelled = append(m.cancelled, id)
	return &glue.CancelStatementOutput{}, nil
}

// --- Protocol Emulation ---

// plan decides what a submitted statement eventually reports.
func (m *MockService) plan(st *mockStatement) {
	if sql, ok := unwrapSQL(st.code); ok {
		parts := splitStatements(sql)
		m.executedSQL = append(m.executedSQL, parts...)
		if len(parts) == 0 {
			return
		}
		// Every part runs; a failing part stops the batch.
		for i, part := range parts {
			tmpl := m.templates[part]
			if tmpl == nil {
				continue
			}
			st.pollsLeft += tmpl.RunningPolls
			if tmpl.ErrorName != "" || tmpl.ErrorValue != "" {
				st.fail(tmpl.ErrorName, tmpl.ErrorValue)
				return
			}
			if i == len(parts)-1 {
				st.output = envelope(part, tmpl)
			}
		}
		if m.templates[parts[len(parts)-1]] == nil {
			st.output = envelope(parts[len(parts)-1], nil)
		}
		return
	}

	if tmpl, ok := m.codeTemplates[st.code]; ok {
		st.pollsLeft = tmpl.RunningPolls
		st.output = tmpl.Output
		if tmpl.Cancelled {
			st.finalState = types.StatementStateCancelled
		}
		if tmpl.ErrorName != "" || tmpl.ErrorValue != "" {
			st.fail(tmpl.ErrorName, tmpl.ErrorValue)
		}
	}
}

func (st *mockStatement) fail(name, value string) {
	// Glue reports Python exceptions as AVAILABLE with an ERROR output status.
	st.outputStatus = types.StatementStateError
	st.errorName = name
	st.errorValue = value
}

func (st *mockStatement) sdk(withOutput bool) types.Statement {
	out := types.Statement{
		Id:    st.id,
		Code:  aws.String(st.code),
		State: st.state,
	}
	if withOutput && terminal(st.state) && st.state != types.StatementStateCancelled {
		out.Output = &types.StatementOutput{
			Status: st.outputStatus,
			Data:   &types.StatementOutputData{TextPlain: aws.String(st.output)},
		}
		if st.errorName != "" || st.errorValue != "" {
			out.Output.ErrorName = aws.String(st.errorName)
			out.Output.ErrorValue = aws.String(st.errorValue)
			out.Output.Traceback = []string{"Traceback (most recent call last):", st.errorName + ": " + st.errorValue}
		}
	}
	return out
}

func terminal(s types.StatementState) bool {
	switch s {
	case types.StatementStateAvailable, types.StatementStateCancelled, types.StatementStateError:
		return true
	}
	return false
}

func (m *MockService) session(id string) (*mockSession, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, &types.EntityNotFoundException{Message: aws.String("session " + id + " not found")}
	}
	return s, nil
}

func (s *mockSession) statement(id int32) *mockStatement {
	for _, st := range s.stmts {
		if st.id == id {
			return st
		}
	}
	return nil
}

const (
	wrapPrefix = `SqlWrapper2.execute("""`
	wrapSuffix = `""")`
)

// unwrapSQL recovers the SQL from code produced by glue.WrapSQL.
func unwrapSQL(code string) (string, bool) {
	if !strings.HasPrefix(code, wrapPrefix) || !strings.HasSuffix(code, wrapSuffix) {
		return "", false
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(code, wrapPrefix), wrapSuffix)
	return strings.NewReplacer(`\\`, `\`, `\"`, `"`).Replace(inner), true
}

func splitStatements(sql string) []string {
	var parts []string
	for _, p := range strings.Split(sql, ";") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// envelope renders the helper program's output for one statement.
func envelope(sql string, tmpl *StatementTemplate) string {
	if tmpl == nil || tmpl.Columns == nil {
		b, _ := json.Marshal(struct {
			Type    string `json:"type"`
			SQL     string `json:"sql"`
			Schema  any    `json:"schema"`
			Results any    `json:"results"`
		}{Type: "results", SQL: sql})
		return string(b) + "\n"
	}

	type record struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	results := make([]record, len(tmpl.Rows))
	for i, row := range tmpl.Rows {
		results[i] = record{Type: "record", Data: plain(row).(map[string]any)}
	}
	b, _ := json.Marshal(struct {
		Type        string           `json:"type"`
		RowCount    int              `json:"rowcount"`
		Results     []record         `json:"results"`
		Description []gluesql.Column `json:"description"`
	}{Type: "results", RowCount: len(results), Results: results, Description: tmpl.Columns})
	return string(b) + "\n"
}

// plain mirrors the helper program's value encoding for float values JSON
// cannot carry; json.Marshal already writes []byte as base64.
func plain(v any) any {
	switch x := v.(type) {
	case float64:
		switch {
		case math.IsNaN(x):
			return "NaN"
		case math.IsInf(x, 1):
			return "Infinity"
		case math.IsInf(x, -1):
			return "-Infinity"
		}
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = plain(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = plain(val)
		}
		return out
	}
	return v
}

// --- Inspection ---

// CreateInputs returns every CreateSession request received.
func (m *MockService) CreateInputs() []*glue.CreateSessionInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*glue.CreateSessionInput(nil), m.createInputs...)
}

// GetSessionCalls returns how many GetSession calls were made.
func (m *MockService) GetSessionCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getSessionHits
}

// Deleted returns the ids of deleted sessions, in order.
func (m *MockService) Deleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

// Cancelled returns the ids of cancelled statements, sorted.
func (m *MockService) Cancelled() []int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := append([]int32(nil), m.cancelled...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ExecutedSQL returns every SQL part run through SqlWrapper2, in order.
func (m *MockService) ExecutedSQL() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.executedSQL...)
}

// SubmittedCode returns the code of every RunStatement call, in order.
func (m *MockService) SubmittedCode() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.submittedCode...)
}

// SessionStatus returns the status of a session and whether it exists.
func (m *MockService) SessionStatus(id string) (types.SessionStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return "", false
	}
	return s.status, true
}

// --- Fake Clock ---

// Clock is a glue.Clock whose Sleep advances time instantly.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps int
}

var _ gluesql.Clock = (*Clock)(nil)

// NewClock returns a clock starting at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps++
	return nil
}

// Sleeps returns how many times Sleep was called.
func (c *Clock) Sleeps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sleeps
}
