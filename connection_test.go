package glue_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue/types"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	glue "github.com/MarcBook/dbt-glue"
	"github.com/MarcBook/dbt-glue/gluetest"
)

const testRole = "arn:aws:iam::123456789012:role/GlueInteractiveSession"

func testConfig() *glue.Config {
	return &glue.Config{
		Region:              "eu-west-1",
		RoleARN:             testRole,
		ProvisioningTimeout: glue.Duration{Duration: 5 * time.Second},
		StatementTimeout:    glue.Duration{Duration: 10 * time.Second},
		PollInterval:        glue.Duration{Duration: time.Second},
	}
}

func newTestConnection(svc *gluetest.MockService, cfg *glue.Config, opts ...glue.Option) (*glue.Connection, *gluetest.Clock) {
	clock := gluetest.NewClock()
	opts = append([]glue.Option{glue.WithClock(clock)}, opts...)
	return glue.NewConnection(glue.NewClientFromAPI(svc), cfg, opts...), clock
}

func TestConnect_CreatesSession(t *testing.T) {
	svc := gluetest.NewMockService()
	svc.ProvisioningPolls = 2
	cfg := testConfig()
	cfg.ExtraJars = "s3://bucket/a.jar"
	cfg.Tags = map[string]string{"team": "data"}
	conn, clock := newTestConnection(svc, cfg)

	id, err := conn.Connect(context.Background())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(id, glue.DefaultSessionPrefix), id)
	assert.Equal(t, id, conn.SessionID())
	assert.Equal(t, id, cfg.SessionID)
	assert.Equal(t, glue.SessionReady, conn.State(context.Background()))
	assert.False(t, conn.Session().Reused)

	// two PROVISIONING answers, then READY
	assert.Equal(t, 3, svc.GetSessionCalls())
	assert.Equal(t, 2, clock.Sleeps())

	inputs := svc.CreateInputs()
	require.Len(t, inputs, 1)
	in := inputs[0]
	assert.Equal(t, id, aws.ToString(in.Id))
	assert.Equal(t, testRole, aws.ToString(in.Role))
	assert.Equal(t, glue.CommandName, aws.ToString(in.Command.Name))
	assert.Equal(t, int32(glue.DefaultWorkers), aws.ToInt32(in.NumberOfWorkers))
	assert.Equal(t, types.WorkerType(glue.DefaultWorkerType), in.WorkerType)
	assert.Equal(t, "true", in.DefaultArguments["--enable-glue-datacatalog"])
	assert.Equal(t, "s3://bucket/a.jar", in.DefaultArguments["--extra-jars"])
	assert.NotContains(t, in.DefaultArguments, "--extra-py-files")
	assert.Equal(t, map[string]string{"team": "data"}, in.Tags)

	assert.Equal(t, []string{glue.HelperProgram}, svc.SubmittedCode())
}

func TestConnect_SelectsDatabase(t *testing.T) {
	svc := gluetest.NewMockService()
	cfg := testConfig()
	cfg.Database = "analytics"
	conn, _ := newTestConnection(svc, cfg)

	_, err := conn.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{glue.HelperProgram, `spark.sql("use analytics")`}, svc.SubmittedCode())
}

func TestConnect_Twice(t *testing.T) {
	svc := gluetest.NewMockService()
	conn, _ := newTestConnection(svc, testConfig())

	first, err := conn.Connect(context.Background())
	require.NoError(t, err)
	calls := svc.GetSessionCalls()

	second, err := conn.Connect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, svc.CreateInputs(), 1)
	// READY is remembered, so no lookup; the helper is installed again
	assert.Equal(t, calls, svc.GetSessionCalls())
	assert.Equal(t, []string{glue.HelperProgram, glue.HelperProgram}, svc.SubmittedCode())
}

func TestConnect_ReusesConfiguredSession(t *testing.T) {
	svc := gluetest.NewMockService()
	svc.AddSession("dbt-glue-existing", types.SessionStatusReady)
	cfg := testConfig()
	cfg.SessionID = "dbt-glue-existing"
	conn, _ := newTestConnection(svc, cfg)

	id, err := conn.Connect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "dbt-glue-existing", id)
	assert.True(t, conn.Session().Reused)
	assert.Empty(t, svc.CreateInputs())
}

func TestConnect_WaitsForProvisioningSession(t *testing.T) {
	svc := gluetest.NewMockService()
	svc.ProvisioningPolls = 1
	svc.AddSession("dbt-glue-warming", types.SessionStatusProvisioning)
	cfg := testConfig()
	cfg.SessionID = "dbt-glue-warming"
	conn, _ := newTestConnection(svc, cfg)

	id, err := conn.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "dbt-glue-warming", id)
	assert.Empty(t, svc.CreateInputs())
	assert.Equal(t, 2, svc.GetSessionCalls())
}

func TestConnect_ReplacesClosedSession(t *testing.T) {
	tests := []struct {
		name  string
		setup func(svc *gluetest.MockService)
	}{
		{
			name: "stopped",
			setup: func(svc *gluetest.MockService) {
				svc.AddSession("dbt-glue-old", types.SessionStatusStopped)
			},
		},
		{
			name: "timed out",
			setup: func(svc *gluetest.MockService) {
				svc.AddSession("dbt-glue-old", types.SessionStatusTimeout)
			},
		},
		{
			name:  "unknown to the service",
			setup: func(svc *gluetest.MockService) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := gluetest.NewMockService()
			tt.setup(svc)
			cfg := testConfig()
			cfg.SessionID = "dbt-glue-old"
			conn, _ := newTestConnection(svc, cfg)

			id, err := conn.Connect(context.Background())
			require.NoError(t, err)

			assert.NotEqual(t, "dbt-glue-old", id)
			assert.Len(t, svc.CreateInputs(), 1)
			assert.Equal(t, id, cfg.SessionID)
			assert.False(t, conn.Session().Reused)
		})
	}
}

func TestConnect_FailedSessionIsNotReplaced(t *testing.T) {
	svc := gluetest.NewMockService()
	svc.AddSession("dbt-glue-broken", types.SessionStatusFailed)
	cfg := testConfig()
	cfg.SessionID = "dbt-glue-broken"
	conn, _ := newTestConnection(svc, cfg)

	_, err := conn.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, glue.ErrConnect)
	assert.Empty(t, svc.CreateInputs())
	assert.Equal(t, glue.SessionFailed, conn.State(context.Background()))
}

func TestConnect_CreateRejected(t *testing.T) {
	svc := gluetest.NewMockService()
	svc.CreateError = &types.AccessDeniedException{Message: aws.String("not allowed")}
	conn, clock := newTestConnection(svc, testConfig())

	_, err := conn.Connect(context.Background())
	require.Error(t, err)

	assert.ErrorIs(t, err, glue.ErrConnect)
	var denied *types.AccessDeniedException
	assert.ErrorAs(t, err, &denied)

	var se *glue.SessionError
	require.ErrorAs(t, err, &se)
	assert.True(t, strings.HasPrefix(se.SessionID, glue.DefaultSessionPrefix))

	assert.Equal(t, glue.SessionFailed, conn.State(context.Background()))
	assert.Equal(t, "", conn.SessionID())
	assert.Zero(t, svc.GetSessionCalls())
	assert.Zero(t, clock.Sleeps())
}

func TestConnect_ProvisioningTimeout(t *testing.T) {
	svc := gluetest.NewMockService()
	svc.NeverReady = true
	conn, clock := newTestConnection(svc, testConfig())

	_, err := conn.Connect(context.Background())
	require.Error(t, err)

	assert.ErrorIs(t, err, glue.ErrTimeout)
	assert.False(t, errors.Is(err, glue.ErrConnect))
	// 5s timeout at 1s intervals: checks at 0s..5s
	assert.Equal(t, 6, svc.GetSessionCalls())
	assert.Equal(t, 5, clock.Sleeps())
	assert.Equal(t, glue.SessionProvisioning, conn.State(context.Background()))
}

func TestConnect_ContextCancelled(t *testing.T) {
	svc := gluetest.NewMockService()
	svc.NeverReady = true
	conn, _ := newTestConnection(svc, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := conn.Connect(ctx)
	assert.ErrorIs(t, err, glue.ErrConnect)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConnect_SessionStore(t *testing.T) {
	svc := gluetest.NewMockService()
	fs := afero.NewMemMapFs()
	store := glue.NewFileSessionStore(fs, "/state/session")

	first, _ := newTestConnection(svc, testConfig(), glue.WithSessionStore(store))
	id, err := first.Connect(context.Background())
	require.NoError(t, err)

	stored, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, id, stored)

	second, _ := newTestConnection(svc, testConfig(), glue.WithSessionStore(store))
	reused, err := second.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, id, reused)
	assert.True(t, second.Session().Reused)
	assert.Len(t, svc.CreateInputs(), 1)

	require.NoError(t, second.CloseSession(context.Background()))
	stored, err = store.Load()
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestState_BeforeConnect(t *testing.T) {
	svc := gluetest.NewMockService()
	conn, _ := newTestConnection(svc, testConfig())

	assert.Equal(t, glue.SessionClosed, conn.State(context.Background()))
	assert.Zero(t, svc.GetSessionCalls())
}

func TestCancel(t *testing.T) {
	svc := gluetest.NewMockService()
	conn, _ := newTestConnection(svc, testConfig())
	id, err := conn.Connect(context.Background())
	require.NoError(t, err)

	r1 := svc.AddRunningStatement(id, types.StatementStateRunning)
	svc.AddRunningStatement(id, types.StatementStateWaiting)
	r2 := svc.AddRunningStatement(id, types.StatementStateRunning)

	require.NoError(t, conn.Cancel(context.Background()))
	assert.Equal(t, []int32{r1, r2}, svc.Cancelled())

	statements, err := conn.Statements(context.Background())
	require.NoError(t, err)
	states := make(map[int32]glue.StatementState)
	for _, st := range statements {
		states[st.ID] = st.State
	}
	assert.Equal(t, glue.StatementCancelled, states[r1])
	assert.Equal(t, glue.StatementCancelled, states[r2])
}

func TestCancel_NothingRunning(t *testing.T) {
	svc := gluetest.NewMockService()
	conn, _ := newTestConnection(svc, testConfig())
	_, err := conn.Connect(context.Background())
	require.NoError(t, err)

	require.NoError(t, conn.Cancel(context.Background()))
	assert.Empty(t, svc.Cancelled())
}

func TestCancel_NoSession(t *testing.T) {
	conn, _ := newTestConnection(gluetest.NewMockService(), testConfig())
	assert.ErrorIs(t, conn.Cancel(context.Background()), glue.ErrNoSession)
}

func TestCloseSession(t *testing.T) {
	svc := gluetest.NewMockService()
	cfg := testConfig()
	conn, _ := newTestConnection(svc, cfg)
	id, err := conn.Connect(context.Background())
	require.NoError(t, err)

	require.NoError(t, conn.CloseSession(context.Background()))
	assert.Equal(t, []string{id}, svc.Deleted())
	assert.Equal(t, "", conn.SessionID())
	assert.Equal(t, "", cfg.SessionID)
	assert.Equal(t, glue.SessionClosed, conn.State(context.Background()))

	// nothing left to delete
	require.NoError(t, conn.CloseSession(context.Background()))
	assert.Len(t, svc.Deleted(), 1)

	next, err := conn.Connect(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, id, next)
	assert.Len(t, svc.CreateInputs(), 2)
}

func TestCloseSession_AlreadyGone(t *testing.T) {
	svc := gluetest.NewMockService()
	cfg := testConfig()
	cfg.SessionID = "dbt-glue-vanished"
	conn, _ := newTestConnection(svc, cfg)

	require.NoError(t, conn.CloseSession(context.Background()))
	assert.Empty(t, svc.Deleted())
	assert.Equal(t, "", cfg.SessionID)
}

func TestCloseAndRollbackKeepSession(t *testing.T) {
	svc := gluetest.NewMockService()
	conn, _ := newTestConnection(svc, testConfig())
	id, err := conn.Connect(context.Background())
	require.NoError(t, err)

	assert.NoError(t, conn.Rollback())
	assert.NoError(t, conn.Close())
	assert.Equal(t, id, conn.SessionID())
	assert.Empty(t, svc.Deleted())
	status, ok := svc.SessionStatus(id)
	assert.True(t, ok)
	assert.Equal(t, types.SessionStatusReady, status)
}
