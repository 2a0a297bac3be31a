package glue

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/glue/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// API is the subset of the Glue interactive-session API the client uses.
// *glue.Client satisfies it; gluetest.MockService is an in-memory fake.
type API interface {
	CreateSession(ctx context.Context, in *glue.CreateSessionInput, optFns ...func(*glue.Options)) (*glue.CreateSessionOutput, error)
	GetSession(ctx context.Context, in *glue.GetSessionInput, optFns ...func(*glue.Options)) (*glue.GetSessionOutput, error)
	DeleteSession(ctx context.Context, in *glue.DeleteSessionInput, optFns ...func(*glue.Options)) (*glue.DeleteSessionOutput, error)
	ListStatements(ctx context.Context, in *glue.ListStatementsInput, optFns ...func(*glue.Options)) (*glue.ListStatementsOutput, error)
	RunStatement(ctx context.Context, in *glue.RunStatementInput, optFns ...func(*glue.Options)) (*glue.RunStatementOutput, error)
	GetStatement(ctx context.Context, in *glue.GetStatementInput, optFns ...func(*glue.Options)) (*glue.GetStatementOutput, error)
	CancelStatement(ctx context.Context, in *glue.CancelStatementInput, optFns ...func(*glue.Options)) (*glue.CancelStatementOutput, error)
}

var _ API = (*glue.Client)(nil)

// Glue command for interactive Spark sessions.
const (
	CommandName   = "glueetl"
	PythonVersion = "3"
)

// Client translates between the Glue SDK shapes and this package's Session
// and Statement types. It holds no session state.
type Client struct {
	api API
}

// NewClient builds a Client from the default AWS credential chain for region.
func NewClient(ctx context.Context, region string, optFns ...func(*awsconfig.LoadOptions) error) (*Client, error) {
	opts := append([]func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}, optFns...)
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("glue: failed to load AWS config: %w", err)
	}
	return &Client{api: glue.NewFromConfig(cfg)}, nil
}

// NewClientFromAPI wraps an existing API implementation.
func NewClientFromAPI(api API) *Client {
	return &Client{api: api}
}

// SessionRequest holds everything CreateSession sends.
type SessionRequest struct {
	Name        string
	Role        string
	Arguments   map[string]string
	Workers     int32
	WorkerType  string
	GlueVersion string
	IdleTimeout int32 // minutes, 0 leaves the service default
	Tags        map[string]string
}

// CreateSession submits a new session. The returned session is usually
// still PROVISIONING.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	in := &glue.CreateSessionInput{
		Id:   aws.String(req.Name),
		Role: aws.String(req.Role),
		Command: &types.SessionCommand{
			Name:          aws.String(CommandName),
			PythonVersion: aws.String(PythonVersion),
		},
		DefaultArguments: req.Arguments,
		NumberOfWorkers:  aws.Int32(req.Workers),
		WorkerType:       types.WorkerType(req.WorkerType),
		Tags:             req.Tags,
	}
	if req.GlueVersion != "" {
		in.GlueVersion = aws.String(req.GlueVersion)
	}
	if req.IdleTimeout > 0 {
		in.IdleTimeout = aws.Int32(req.IdleTimeout)
	}

	out, err := c.api.CreateSession(ctx, in)
	if err != nil {
		return nil, err
	}
	if out.Session == nil {
		// The service echoes the requested id, so fall back to it.
		return &Session{ID: req.Name, State: SessionProvisioning}, nil
	}
	return sessionFromSDK(out.Session), nil
}

// GetSession fetches the remote session.
func (c *Client) GetSession(ctx context.Context, id string) (*Session, error) {
	out, err := c.api.GetSession(ctx, &glue.GetSessionInput{Id: aws.String(id)})
	if err != nil {
		return nil, err
	}
	if out.Session == nil {
		return nil, fmt.Errorf("glue: empty GetSession response for %s", id)
	}
	return sessionFromSDK(out.Session), nil
}

// DeleteSession deletes the remote session and stops its workers.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	_, err := c.api.DeleteSession(ctx, &glue.DeleteSessionInput{Id: aws.String(id)})
	return err
}

// ListStatements returns every statement of a session, following pagination.
func (c *Client) ListStatements(ctx context.Context, sessionID string) ([]Statement, error) {
	var (
		statements []Statement
		token      *string
	)
	for {
		out, err := c.api.ListStatements(ctx, &glue.ListStatementsInput{
			SessionId: aws.String(sessionID),
			NextToken: token,
		})
		if err != nil {
			return nil, err
		}
		statements = append(statements, lo.Map(out.Statements, func(s types.Statement, _ int) Statement {
			return statementFromSDK(sessionID, &s)
		})...)
		if lo.FromPtr(out.NextToken) == "" {
			return statements, nil
		}
		token = out.NextToken
	}
}

// RunStatement submits code and returns the new statement id.
func (c *Client) RunStatement(ctx context.Context, sessionID, code string) (int32, error) {
	out, err := c.api.RunStatement(ctx, &glue.RunStatementInput{
		SessionId: aws.String(sessionID),
		Code:      aws.String(code),
	})
	if err != nil {
		return 0, err
	}
	return out.Id, nil
}

// GetStatement fetches one statement with its output.
func (c *Client) GetStatement(ctx context.Context, sessionID string, id int32) (*Statement, error) {
	out, err := c.api.GetStatement(ctx, &glue.GetStatementInput{
		SessionId: aws.String(sessionID),
		Id:        aws.Int32(id),
	})
	if err != nil {
		return nil, err
	}
	if out.Statement == nil {
		return nil, fmt.Errorf("glue: empty GetStatement response for statement %d", id)
	}
	st := statementFromSDK(sessionID, out.Statement)
	return &st, nil
}

// CancelStatement asks the service to cancel a statement. It does not wait
// for the statement to reach CANCELLED.
func (c *Client) CancelStatement(ctx context.Context, sessionID string, id int32) error {
	_, err := c.api.CancelStatement(ctx, &glue.CancelStatementInput{
		SessionId: aws.String(sessionID),
		Id:        aws.Int32(id),
	})
	return err
}

// isNotFound reports whether err is Glue's EntityNotFoundException.
func isNotFound(err error) bool {
	var nf *types.EntityNotFoundException
	return errors.As(err, &nf)
}

// logAPIError attaches the service error code, when there is one, to ev.
func logAPIError(ev *zerolog.Event, err error) *zerolog.Event {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		ev = ev.Str("error_code", ae.ErrorCode())
	}
	return ev.Err(err)
}

func sessionFromSDK(s *types.Session) *Session {
	return &Session{
		ID:           lo.FromPtr(s.Id),
		State:        sessionStateFromSDK(s.Status),
		Status:       string(s.Status),
		ErrorMessage: lo.FromPtr(s.ErrorMessage),
	}
}

func statementFromSDK(sessionID string, s *types.Statement) Statement {
	st := Statement{
		SessionID: sessionID,
		ID:        s.Id,
		Code:      lo.FromPtr(s.Code),
		State:     StatementState(s.State),
		Progress:  s.Progress,
	}
	if out := s.Output; out != nil {
		st.OutputStatus = StatementState(out.Status)
		st.ErrorName = lo.FromPtr(out.ErrorName)
		st.ErrorValue = lo.FromPtr(out.ErrorValue)
		st.Traceback = out.Traceback
		if out.Data != nil {
			st.Output = lo.FromPtr(out.Data.TextPlain)
		}
	}
	return st
}

