package workflow

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/claimflow/pkg/eventbus"
	"github.com/dukex/claimflow/pkg/events"
	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/nodes/casestatus"
	"github.com/dukex/claimflow/pkg/nodes/letter"
	"github.com/dukex/claimflow/pkg/nodes/notify"
	"github.com/dukex/claimflow/pkg/nodes/reminder"
	"github.com/dukex/claimflow/pkg/persistence"
	"github.com/dukex/claimflow/pkg/persistence/file"
	"github.com/dukex/claimflow/pkg/protocol"
	"github.com/dukex/claimflow/pkg/registry"
	"github.com/dukex/claimflow/pkg/submission"
	"github.com/dukex/claimflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recorder struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (r *recorder) Publish(_ context.Context, _ string, event eventbus.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)

	return nil
}

func (r *recorder) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()

	types := make([]events.EventType, 0, len(r.events))
	for _, event := range r.events {
		types = append(types, event.GetType())
	}

	return types
}

// gatedRunner blocks the named node until release is closed.
type gatedRunner struct {
	next    NodeRunner
	nodeID  string
	entered chan struct{}
	release chan struct{}
}

func (g *gatedRunner) Execute(ctx context.Context, input protocol.NodeInput) (protocol.Result, error) {
	if input.Node.ID == g.nodeID {
		g.entered <- struct{}{}
		<-g.release
	}

	return g.next.Execute(ctx, input)
}

type fixture struct {
	store    *file.Persistence
	clock    *clocktesting.FakeClock
	queue    *submission.Queue
	registry *registry.Registry
	events   *recorder
	executor *Executor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := testLogger()
	store := file.NewPersistence(t.TempDir())
	clk := clocktesting.NewFakeClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	queue := submission.NewQueue(store.SubmissionRepository(), store.CaseRepository(), nil, logger,
		submission.WithQueueClock(clk))

	reg := registry.NewRegistry(logger)
	reg.RegisterDefaultNodes(registry.Collaborators{
		Cases:     store.CaseRepository(),
		Queue:     queue,
		Letters:   letter.NewTemplateGenerator(nil),
		Notifier:  notify.NewLogNotifier(logger),
		Status:    casestatus.NewRepositoryUpdater(store.CaseRepository()),
		Reminders: reminder.NewMemoryScheduler(),
	})

	f := &fixture{store: store, clock: clk, queue: queue, registry: reg, events: &recorder{}}
	f.executor = NewExecutor(store, reg, logger, WithClock(clk), WithPublisher(f.events))

	require.NoError(t, store.CaseRepository().Save(context.Background(), testutil.CreateTestCase("42", "fedex")))

	return f
}

// gate makes nodeID block until the returned release func is called.
func (f *fixture) gate(nodeID string) (entered <-chan struct{}, release func()) {
	runner := &gatedRunner{
		next:    f.registry,
		nodeID:  nodeID,
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	f.executor.nodes = runner

	return runner.entered, func() { close(runner.release) }
}

func (f *fixture) save(t *testing.T, workflow *models.WorkflowDefinition) *models.WorkflowDefinition {
	t.Helper()

	require.NoError(t, f.store.WorkflowRepository().Save(context.Background(), workflow))

	return workflow
}

func (f *fixture) execution(t *testing.T, id string) *models.WorkflowExecution {
	t.Helper()

	execution, err := f.executor.GetExecution(context.Background(), id)
	require.NoError(t, err)

	return execution
}

func (f *fixture) stepNodes(t *testing.T, executionID string) []string {
	t.Helper()

	steps, err := f.executor.Steps(context.Background(), executionID)
	require.NoError(t, err)

	ids := make([]string, 0, len(steps))
	for _, step := range steps {
		ids = append(ids, step.NodeID)
	}

	return ids
}

func TestExecuteWorkflow_FilesClaimEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	workflow := f.save(t, testutil.CreateFilingWorkflow())

	id, err := f.executor.ExecuteWorkflow(ctx, workflow.ID, map[string]any{"caseId": 42, "credentialId": 7})
	require.NoError(t, err)

	execution := f.execution(t, id)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, "42", execution.SubjectID)
	assert.NotNil(t, execution.CompletedAt)
	assert.Equal(t, "Claim for case 42", execution.Context["letterContent"])
	assert.Equal(t, true, execution.Context["queued"])
	assert.Equal(t, models.CaseStatusFiled, execution.Context["caseStatus"])

	steps, err := f.executor.Steps(ctx, id)
	require.NoError(t, err)
	require.Len(t, steps, 5)

	for _, step := range steps {
		assert.Equal(t, models.StepStatusCompleted, step.Status, step.NodeID)
		assert.NotNil(t, step.CompletedAt)
	}

	assert.Equal(t, []string{"start", "letter", "file", "status", "end"}, f.stepNodes(t, id))

	items, err := f.queue.List(ctx, persistence.SubmissionFilter{CaseID: "42"})
	require.NoError(t, err)
	require.Len(t, items, 1)

	item := items[0]
	assert.Equal(t, execution.Context["submissionId"], item.ID)
	assert.Equal(t, models.SubmissionStatusQueued, item.Status)
	assert.Equal(t, models.SubmissionTypeNewClaim, item.SubmissionType)
	assert.Equal(t, models.PriorityHigh, item.Priority)
	assert.Equal(t, "7", item.CredentialID)
	assert.Equal(t, "fedex", item.Target)

	subject, err := f.store.CaseRepository().GetByID(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusFiled, subject.Status)

	stored, err := f.store.WorkflowRepository().GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.ExecutionCount)
	assert.Equal(t, 1, stored.SuccessCount)
	assert.Equal(t, 0, stored.FailureCount)

	types := f.events.types()
	assert.Equal(t, events.WorkflowExecutionStartedEvent, types[0])
	assert.Equal(t, events.WorkflowExecutionCompletedEvent, types[len(types)-1])
	assert.Len(t, types, 7)
}

func TestExecuteWorkflow_RejectsMalformedGraph(t *testing.T) {
	tests := []struct {
		name  string
		nodes []*models.Node
		edges []*models.Edge
	}{
		{
			name: "two start nodes",
			nodes: []*models.Node{
				testutil.Node("a", models.StartParams{}),
				testutil.Node("b", models.StartParams{}),
				testutil.Node("end", models.EndParams{}),
			},
			edges: []*models.Edge{testutil.Edge("a", "end"), testutil.Edge("b", "end")},
		},
		{
			name: "no start node",
			nodes: []*models.Node{
				testutil.Node("a", models.StartParams{}),
				testutil.Node("b", models.EndParams{}),
			},
			edges: []*models.Edge{testutil.Edge("a", "b"), testutil.Edge("b", "a")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			workflow := f.save(t, testutil.CreateTestWorkflow(testutil.WithGraph(tt.nodes, tt.edges...)))

			id, err := f.executor.ExecuteWorkflow(context.Background(), workflow.ID, nil)
			require.ErrorIs(t, err, models.ErrMalformedGraph)
			assert.True(t, IsInvocationError(err))
			assert.Empty(t, id)

			executions, err := f.executor.ListExecutions(context.Background(), workflow.ID)
			require.NoError(t, err)
			assert.Empty(t, executions)
		})
	}
}

func TestExecuteWorkflow_InactiveWorkflow(t *testing.T) {
	f := newFixture(t)
	workflow := f.save(t, testutil.CreateTestWorkflow(testutil.WithInactive()))

	_, err := f.executor.ExecuteWorkflow(context.Background(), workflow.ID, nil)
	require.ErrorIs(t, err, models.ErrWorkflowInactive)

	_, err = f.executor.StartWorkflow(context.Background(), workflow.ID, nil)
	require.ErrorIs(t, err, models.ErrWorkflowInactive)
}

func TestExecuteWorkflow_UnknownWorkflow(t *testing.T) {
	f := newFixture(t)

	_, err := f.executor.ExecuteWorkflow(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestExecuteWorkflow_ConditionalEdges(t *testing.T) {
	graph := func() *models.WorkflowDefinition {
		return testutil.CreateTestWorkflow(testutil.WithGraph(
			[]*models.Node{
				testutil.Node("start", models.StartParams{}),
				testutil.Node("high", models.EndParams{}),
				testutil.Node("low", models.EndParams{}),
			},
			testutil.ConditionalEdge("start", "high", models.Condition{
				Field: "amount", Operator: models.OperatorGreaterThan, Value: 100.0,
			}),
			testutil.ConditionalEdge("start", "low", models.Condition{
				Field: "amount", Operator: models.OperatorLessThan, Value: 100.0,
			}),
		))
	}

	tests := []struct {
		name     string
		input    map[string]any
		expected []string
	}{
		{name: "high amount", input: map[string]any{"amount": 250}, expected: []string{"start", "high"}},
		{name: "low amount", input: map[string]any{"amount": 50}, expected: []string{"start", "low"}},
		{name: "missing field fails closed", input: map[string]any{}, expected: []string{"start"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			workflow := f.save(t, graph())

			id, err := f.executor.ExecuteWorkflow(context.Background(), workflow.ID, tt.input)
			require.NoError(t, err)

			assert.Equal(t, models.ExecutionStatusCompleted, f.execution(t, id).Status)
			assert.Equal(t, tt.expected, f.stepNodes(t, id))
		})
	}
}

func TestExecuteWorkflow_DiamondJoinRunsOnce(t *testing.T) {
	f := newFixture(t)
	workflow := f.save(t, testutil.CreateTestWorkflow(testutil.WithGraph(
		[]*models.Node{
			testutil.Node("start", models.StartParams{}),
			testutil.Node("left", models.CreateReminderParams{Title: "Call carrier", DueIn: "24h"}),
			testutil.Node("right", models.SendNotificationParams{Channel: "internal", Recipient: "ops", Message: "Filed {{.caseId}}"}),
			testutil.Node("join", models.EndParams{}),
		},
		testutil.Edge("start", "left"),
		testutil.Edge("start", "right"),
		testutil.Edge("left", "join"),
		testutil.Edge("right", "join"),
	)))

	id, err := f.executor.ExecuteWorkflow(context.Background(), workflow.ID, map[string]any{"caseId": "42"})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, f.execution(t, id).Status)
	assert.Equal(t, []string{"start", "left", "right", "join"}, f.stepNodes(t, id))
}

func TestExecuteWorkflow_SkipsDeadPathButRunsJoin(t *testing.T) {
	f := newFixture(t)
	workflow := f.save(t, testutil.CreateTestWorkflow(testutil.WithGraph(
		[]*models.Node{
			testutil.Node("start", models.StartParams{}),
			testutil.Node("notify", models.SendNotificationParams{Channel: "email", Recipient: "a@b.c", Message: "hi"}),
			testutil.Node("after-notify", models.CreateReminderParams{Title: "Follow up", DueIn: "1h"}),
			testutil.Node("join", models.EndParams{}),
		},
		testutil.ConditionalEdge("start", "notify", models.Condition{
			Field: "notify", Operator: models.OperatorEquals, Value: true,
		}),
		testutil.Edge("notify", "after-notify"),
		testutil.Edge("after-notify", "join"),
		testutil.Edge("start", "join"),
	)))

	id, err := f.executor.ExecuteWorkflow(context.Background(), workflow.ID, map[string]any{"notify": false})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, f.execution(t, id).Status)
	assert.Equal(t, []string{"start", "join"}, f.stepNodes(t, id))
}

func TestExecuteWorkflow_NodeFailure(t *testing.T) {
	f := newFixture(t)
	workflow := f.save(t, testutil.CreateFilingWorkflow())

	// No caseId in the context.
	id, err := f.executor.ExecuteWorkflow(context.Background(), workflow.ID, map[string]any{"credentialId": 7})
	require.ErrorIs(t, err, protocol.ErrMissingCaseID)
	require.NotEmpty(t, id)

	execution := f.execution(t, id)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Contains(t, execution.Error, "caseId")

	steps, err := f.executor.Steps(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, steps, 3)

	failed := steps[2]
	assert.Equal(t, "file", failed.NodeID)
	assert.Equal(t, models.StepStatusFailed, failed.Status)
	assert.NotEmpty(t, failed.Error)

	stored, err := f.store.WorkflowRepository().GetByID(context.Background(), workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.FailureCount)

	assert.Contains(t, f.events.types(), events.NodeExecutionFailedEvent)
	assert.Contains(t, f.events.types(), events.WorkflowExecutionFailedEvent)
}

func TestExecuteWorkflow_WaitPausesUntilDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	workflow := f.save(t, testutil.CreateTestWorkflow(testutil.WithGraph(
		[]*models.Node{
			testutil.Node("start", models.StartParams{}),
			testutil.Node("wait", models.WaitParams{Duration: "48h"}),
			testutil.Node("end", models.EndParams{}),
		},
		testutil.Edge("start", "wait"),
		testutil.Edge("wait", "end"),
	)))

	id, err := f.executor.ExecuteWorkflow(ctx, workflow.ID, nil)
	require.NoError(t, err)

	execution := f.execution(t, id)
	assert.Equal(t, models.ExecutionStatusPaused, execution.Status)
	require.NotNil(t, execution.ResumeAt)
	assert.True(t, f.clock.Now().Add(48*time.Hour).Equal(*execution.ResumeAt))
	assert.Equal(t, []string{"start", "wait"}, f.stepNodes(t, id))

	resumed, err := f.executor.ResumeDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, resumed)

	f.clock.Step(48 * time.Hour)

	resumed, err = f.executor.ResumeDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)

	f.executor.Wait()

	assert.Equal(t, models.ExecutionStatusCompleted, f.execution(t, id).Status)
	assert.Equal(t, []string{"start", "wait", "end"}, f.stepNodes(t, id))
}

func TestExecuteWorkflow_EarlyResumeWaitsAgain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	workflow := f.save(t, testutil.CreateTestWorkflow(testutil.WithGraph(
		[]*models.Node{
			testutil.Node("start", models.StartParams{}),
			testutil.Node("wait", models.WaitParams{Duration: "1h"}),
			testutil.Node("end", models.EndParams{}),
		},
		testutil.Edge("start", "wait"),
		testutil.Edge("wait", "end"),
	)))

	id, err := f.executor.ExecuteWorkflow(ctx, workflow.ID, nil)
	require.NoError(t, err)

	_, err = f.executor.ResumeExecution(ctx, id)
	require.NoError(t, err)
	f.executor.Wait()

	execution := f.execution(t, id)
	assert.Equal(t, models.ExecutionStatusPaused, execution.Status)
	assert.NotNil(t, execution.ResumeAt)
	assert.Equal(t, []string{"start", "wait"}, f.stepNodes(t, id))
}

func TestExecutor_PauseAndResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	workflow := f.save(t, testutil.CreateFilingWorkflow())
	entered, release := f.gate("file")

	started, err := f.executor.StartWorkflow(ctx, workflow.ID, map[string]any{"caseId": "42", "credentialId": "7"})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, started.Status)

	<-entered

	paused, err := f.executor.PauseExecution(ctx, started.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPaused, paused.Status)

	release()
	f.executor.Wait()

	// The running node finishes; nothing after it starts.
	execution := f.execution(t, started.ID)
	assert.Equal(t, models.ExecutionStatusPaused, execution.Status)
	assert.Nil(t, execution.ResumeAt)
	assert.Equal(t, []string{"start", "letter", "file"}, f.stepNodes(t, started.ID))
	assert.Contains(t, execution.Context, "submissionId")

	_, err = f.executor.PauseExecution(ctx, started.ID)
	require.ErrorIs(t, err, models.ErrInvalidTransition)

	resumed, err := f.executor.ResumeExecution(ctx, started.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, resumed.Status)

	f.executor.Wait()

	assert.Equal(t, models.ExecutionStatusCompleted, f.execution(t, started.ID).Status)
	assert.Equal(t, []string{"start", "letter", "file", "status", "end"}, f.stepNodes(t, started.ID))
}

func TestExecutor_CancelStopsAtNodeBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	workflow := f.save(t, testutil.CreateFilingWorkflow())
	entered, release := f.gate("letter")

	started, err := f.executor.StartWorkflow(ctx, workflow.ID, map[string]any{"caseId": "42", "credentialId": "7"})
	require.NoError(t, err)

	<-entered

	cancelled, err := f.executor.CancelExecution(ctx, started.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, cancelled.Status)

	release()
	f.executor.Wait()

	execution := f.execution(t, started.ID)
	assert.Equal(t, models.ExecutionStatusCancelled, execution.Status)
	assert.NotNil(t, execution.CompletedAt)
	assert.Equal(t, []string{"start", "letter"}, f.stepNodes(t, started.ID))

	_, err = f.executor.ResumeExecution(ctx, started.ID)
	require.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = f.executor.CancelExecution(ctx, started.ID)
	require.ErrorIs(t, err, models.ErrInvalidTransition)

	items, err := f.queue.List(ctx, persistence.SubmissionFilter{CaseID: "42"})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestExecutor_CancelPausedExecution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	workflow := f.save(t, testutil.CreateTestWorkflow(testutil.WithGraph(
		[]*models.Node{
			testutil.Node("start", models.StartParams{}),
			testutil.Node("wait", models.WaitParams{Duration: "1h"}),
			testutil.Node("end", models.EndParams{}),
		},
		testutil.Edge("start", "wait"),
		testutil.Edge("wait", "end"),
	)))

	id, err := f.executor.ExecuteWorkflow(ctx, workflow.ID, nil)
	require.NoError(t, err)

	_, err = f.executor.CancelExecution(ctx, id)
	require.NoError(t, err)

	f.clock.Step(2 * time.Hour)

	resumed, err := f.executor.ResumeDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, resumed)
	assert.Equal(t, models.ExecutionStatusCancelled, f.execution(t, id).Status)
}

func TestExecutor_ShutdownPausesForResumer(t *testing.T) {
	f := newFixture(t)
	workflow := f.save(t, testutil.CreateFilingWorkflow())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	id, err := f.executor.ExecuteWorkflow(ctx, workflow.ID, map[string]any{"caseId": "42", "credentialId": "7"})
	require.NoError(t, err)

	execution := f.execution(t, id)
	assert.Equal(t, models.ExecutionStatusPaused, execution.Status)
	require.NotNil(t, execution.ResumeAt)
	assert.Empty(t, f.stepNodes(t, id))

	resumed, err := f.executor.ResumeDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)

	f.executor.Wait()
	assert.Equal(t, models.ExecutionStatusCompleted, f.execution(t, id).Status)
}

func TestExecutor_ShutdownPausesBackgroundExecution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	workflow := f.save(t, testutil.CreateFilingWorkflow())
	entered, release := f.gate("file")

	started, err := f.executor.StartWorkflow(ctx, workflow.ID, map[string]any{"caseId": "42", "credentialId": "7"})
	require.NoError(t, err)

	<-entered

	expired, cancel := context.WithCancel(ctx)
	cancel()

	// the gated node is still running
	require.ErrorIs(t, f.executor.Shutdown(expired), context.Canceled)

	release()
	require.NoError(t, f.executor.Shutdown(ctx))

	execution := f.execution(t, started.ID)
	assert.Equal(t, models.ExecutionStatusPaused, execution.Status)
	require.NotNil(t, execution.ResumeAt)
	assert.True(t, f.clock.Now().Equal(*execution.ResumeAt))
	assert.Equal(t, []string{"start", "letter", "file"}, f.stepNodes(t, started.ID))

	// a fresh executor picks the execution up where it stopped
	next := NewExecutor(f.store, f.registry, testLogger(), WithClock(f.clock))

	resumed, err := next.ResumeDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)

	next.Wait()

	assert.Equal(t, models.ExecutionStatusCompleted, f.execution(t, started.ID).Status)
	assert.Equal(t, []string{"start", "letter", "file", "status", "end"}, f.stepNodes(t, started.ID))
}
