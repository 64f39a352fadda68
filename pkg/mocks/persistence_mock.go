package mocks

import (
	"context"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockWorkflowRepository is a mock implementation of persistence.WorkflowRepository interface.
type MockWorkflowRepository struct {
	mock.Mock
}

func (m *MockWorkflowRepository) GetAll(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowDefinition), args.Error(1)
}

func (m *MockWorkflowRepository) Save(ctx context.Context, workflow *models.WorkflowDefinition) error {
	args := m.Called(ctx, workflow)

	return args.Error(0)
}

func (m *MockWorkflowRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowDefinition), args.Error(1)
}

func (m *MockWorkflowRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

func (m *MockWorkflowRepository) IncrementCounters(ctx context.Context, id string, executions, successes, failures int) error {
	args := m.Called(ctx, id, executions, successes, failures)

	return args.Error(0)
}

// MockPersistence is a mock implementation of persistence.Persistence interface.
// Repositories other than workflows are returned from expectations.
type MockPersistence struct {
	mock.Mock

	workflowRepo *MockWorkflowRepository
}

// NewMockPersistence creates a new MockPersistence with a mock workflow repository.
func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		workflowRepo: &MockWorkflowRepository{},
	}
}

// GetMockWorkflowRepository returns the underlying mock workflow repository for setting up expectations.
func (m *MockPersistence) GetMockWorkflowRepository() *MockWorkflowRepository {
	return m.workflowRepo
}

func (m *MockPersistence) WorkflowRepository() persistence.WorkflowRepository {
	return m.workflowRepo
}

func (m *MockPersistence) ExecutionRepository() persistence.ExecutionRepository {
	args := m.Called()

	repo, _ := args.Get(0).(persistence.ExecutionRepository)

	return repo
}

func (m *MockPersistence) SubmissionRepository() persistence.SubmissionRepository {
	args := m.Called()

	repo, _ := args.Get(0).(persistence.SubmissionRepository)

	return repo
}

func (m *MockPersistence) CredentialRepository() persistence.CredentialRepository {
	args := m.Called()

	repo, _ := args.Get(0).(persistence.CredentialRepository)

	return repo
}

func (m *MockPersistence) PortalConfigRepository() persistence.PortalConfigRepository {
	args := m.Called()

	repo, _ := args.Get(0).(persistence.PortalConfigRepository)

	return repo
}

func (m *MockPersistence) CaseRepository() persistence.CaseRepository {
	args := m.Called()

	repo, _ := args.Get(0).(persistence.CaseRepository)

	return repo
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
