package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/persistence"
	"github.com/dukex/claimflow/pkg/persistence/postgresql"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	// Drop tables in reverse dependency order (children first, parents last)
	for _, table := range []string{
		"submission_history", "submission_queue", "cases", "portal_credentials", "portal_configs",
		"workflow_execution_steps", "workflow_executions", "workflows", "schema_migrations",
	} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	if testing.Short() {
		t.Skip("postgres container tests skipped in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("claimflow_test"),
			postgres.WithUsername("claimflow"),
			postgres.WithPassword("claimflow"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	persistence, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = persistence.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return persistence, ctx, databaseURL
}

func saveWorkflow(ctx context.Context, t *testing.T, p *postgresql.Persistence) *models.WorkflowDefinition {
	t.Helper()

	start, err := models.NewNode("start", &models.StartParams{})
	require.NoError(t, err)

	claim, err := models.NewNode("claim", &models.FileClaimParams{CredentialID: "7", Priority: models.PriorityHigh})
	require.NoError(t, err)

	workflow := &models.WorkflowDefinition{
		Name:        "Damaged parcel",
		Category:    "claims",
		Nodes:       []*models.Node{start, claim},
		Edges:       []*models.Edge{{ID: "e1", Source: "start", Target: "claim"}},
		TriggerType: models.TriggerTypeManual,
		IsActive:    true,
	}

	require.NoError(t, p.WorkflowRepository().Save(ctx, workflow))

	return workflow
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	for _, table := range []string{"workflows", "workflow_executions", "submission_queue", "portal_credentials"} {
		var exists bool

		err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s table should exist", table)
	}

	var version int

	err = db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}

func TestNewPersistence_HealthCheck(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	err := p.HealthCheck(ctx)
	assert.NoError(t, err)
}

func TestWorkflowRepository_Lifecycle(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	workflow := saveWorkflow(ctx, t, p)
	assert.NotEmpty(t, workflow.ID)

	retrieved, err := p.WorkflowRepository().GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, "Damaged parcel", retrieved.Name)
	require.Len(t, retrieved.Nodes, 2)
	require.Len(t, retrieved.Edges, 1)

	params, err := retrieved.Nodes[1].Decode()
	require.NoError(t, err)
	assert.Equal(t, models.PriorityHigh, params.(*models.FileClaimParams).Priority)

	require.NoError(t, p.WorkflowRepository().IncrementCounters(ctx, workflow.ID, 1, 0, 1))

	retrieved, err = p.WorkflowRepository().GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, retrieved.ExecutionCount)
	assert.Equal(t, 1, retrieved.FailureCount)

	require.NoError(t, p.WorkflowRepository().Delete(ctx, workflow.ID))

	_, err = p.WorkflowRepository().GetByID(ctx, workflow.ID)
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestExecutionRepository_CompareAndSwapAndSteps(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	workflow := saveWorkflow(ctx, t, p)
	repo := p.ExecutionRepository()
	now := time.Now().UTC().Truncate(time.Millisecond)

	execution := &models.WorkflowExecution{
		ID:         uuid.NewString(),
		WorkflowID: workflow.ID,
		Status:     models.ExecutionStatusRunning,
		Context:    map[string]any{"caseId": "42"},
		StartedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, repo.Create(ctx, execution))

	resumeAt := now.Add(-time.Second)
	execution.ResumeAt = &resumeAt
	require.NoError(t, execution.Transition(models.ExecutionStatusPaused, now))
	require.NoError(t, repo.CompareAndSwap(ctx, execution, models.ExecutionStatusRunning))

	stale := *execution
	stale.Status = models.ExecutionStatusCompleted
	assert.True(t, persistence.IsStatusConflict(repo.CompareAndSwap(ctx, &stale, models.ExecutionStatusRunning)))

	checkpoint := &models.Checkpoint{Ready: []string{"claim"}, Pending: map[string]int{}, Activated: map[string]bool{"claim": true}}
	require.NoError(t, repo.SaveCheckpoint(ctx, execution.ID, map[string]any{"caseId": "42", "x": 1}, checkpoint))

	due, err := repo.DueForResume(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, []string{"claim"}, due[0].Checkpoint.Ready)
	assert.InDelta(t, 1.0, due[0].Context["x"], 0)

	step := &models.WorkflowExecutionStep{
		ID:          uuid.NewString(),
		ExecutionID: execution.ID,
		NodeID:      "start",
		NodeType:    models.NodeTypeStart,
		Status:      models.StepStatusRunning,
		StartedAt:   now,
	}
	require.NoError(t, repo.CreateStep(ctx, step))

	step.Finish(models.StepStatusCompleted, map[string]any{"started": true}, nil, now.Add(5*time.Millisecond))
	require.NoError(t, repo.UpdateStep(ctx, step))

	steps, err := repo.Steps(ctx, execution.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, models.StepStatusCompleted, steps[0].Status)
	assert.Equal(t, int64(5), steps[0].DurationMS)

	executions, err := repo.ListByWorkflow(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Len(t, executions, 1)
}

func TestSubmissionRepository_ClaimNext(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	repo := p.SubmissionRepository()
	now := time.Now().UTC().Truncate(time.Millisecond)

	for _, item := range []*models.SubmissionQueueItem{
		{ID: "low", Priority: models.PriorityLow, ScheduledFor: now.Add(-time.Hour)},
		{ID: "urgent", Priority: models.PriorityUrgent, ScheduledFor: now},
		{ID: "later", Priority: models.PriorityUrgent, ScheduledFor: now.Add(time.Hour)},
		{ID: "medium", Priority: models.PriorityMedium, ScheduledFor: now},
	} {
		item.CaseID = "42"
		item.Target = "fedex"
		item.CredentialID = "7"
		item.SubmissionType = models.SubmissionTypeNewClaim
		item.Status = models.SubmissionStatusQueued
		item.MaxAttempts = 3
		item.CreatedAt = now
		item.UpdatedAt = now
		require.NoError(t, repo.Create(ctx, item))
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed []string
	)

	for range 6 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			item, err := repo.ClaimNext(ctx, now)
			if err != nil {
				return
			}

			mu.Lock()
			claimed = append(claimed, item.ID)
			mu.Unlock()
		}()
	}

	wg.Wait()
	assert.ElementsMatch(t, []string{"urgent", "medium", "low"}, claimed)

	_, err := repo.ClaimNext(ctx, now)
	require.ErrorIs(t, err, persistence.ErrNoSubmissionDue)

	urgent, err := repo.GetByID(ctx, "urgent")
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionStatusInProgress, urgent.Status)
	assert.Equal(t, 1, urgent.AttemptCount)

	urgent.Status = models.SubmissionStatusCompleted
	urgent.ConfirmationNumber = "CONF-1"
	require.NoError(t, repo.Update(ctx, urgent, models.SubmissionStatusInProgress))
	assert.True(t, persistence.IsStatusConflict(repo.Update(ctx, urgent, models.SubmissionStatusInProgress)))

	require.NoError(t, repo.AppendHistory(ctx, &models.SubmissionHistoryEntry{
		ID: uuid.NewString(), SubmissionID: "urgent", CaseID: "42", Target: "fedex",
		Action: models.HistoryActionConfirm, Status: "SUCCESS", Timestamp: now,
	}))

	history, err := repo.History(ctx, "urgent")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.HistoryActionConfirm, history[0].Action)

	completed, err := repo.List(ctx, persistence.SubmissionFilter{Status: models.SubmissionStatusCompleted})
	require.NoError(t, err)
	assert.Len(t, completed, 1)
}

func TestCredentialPortalAndCaseRepositories(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	require.NoError(t, p.CredentialRepository().Save(ctx, &models.PortalCredential{
		ID: "7", Target: "ups", Username: "enc-user", Password: "enc-pass",
		ValidationStatus: models.ValidationNeedsVerification,
	}))

	at := time.Now().UTC()
	require.NoError(t, p.CredentialRepository().UpdateValidation(ctx, "7", models.ValidationInvalid, at))

	credential, err := p.CredentialRepository().GetByID(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, "enc-pass", credential.Password)
	assert.Equal(t, models.ValidationInvalid, credential.ValidationStatus)

	require.NoError(t, p.CredentialRepository().Delete(ctx, "7"))
	assert.True(t, persistence.IsCredentialNotFound(p.CredentialRepository().Delete(ctx, "7")))

	require.NoError(t, p.PortalConfigRepository().Save(ctx, &models.PortalConfig{
		Target: "ups", LoginURL: "https://ups.example/login", ClaimsURL: "https://ups.example/claims",
		MaxConcurrentSessions: 2, SessionTimeout: 90 * time.Second,
		Selectors: models.Selectors{Username: "#user"},
	}))

	config, err := p.PortalConfigRepository().GetByTarget(ctx, "ups")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, config.SessionTimeout)
	assert.Equal(t, "#user", config.Selectors.Username)

	require.NoError(t, p.CaseRepository().Save(ctx, &models.Case{ID: "42", Status: models.CaseStatusOpen}))
	require.NoError(t, p.CaseRepository().MarkFiled(ctx, "42", models.CaseStatusFiled, "CLM-1"))

	c, err := p.CaseRepository().GetByID(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "CLM-1", c.ClaimNumber)
}
