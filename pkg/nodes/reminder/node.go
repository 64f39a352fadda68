// Package reminder provides CREATE_REMINDER.
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/protocol"
	"github.com/google/uuid"
)

type Reminder struct {
	ID          string
	CaseID      string
	ExecutionID string
	Title       string
	DueAt       time.Time
}

// Scheduler stores reminders for the case system's task list.
type Scheduler interface {
	CreateReminder(ctx context.Context, reminder Reminder) (string, error)
}

type Node struct {
	scheduler Scheduler
	logger    *slog.Logger
}

func New(scheduler Scheduler, logger *slog.Logger) *Node {
	return &Node{scheduler: scheduler, logger: logger.With("module", "reminder_node")}
}

func (*Node) Type() models.NodeType { return models.NodeTypeCreateReminder }
func (*Node) Name() string          { return "Create Reminder" }
func (*Node) Description() string   { return "Creates a follow-up reminder on the case" }

func (*Node) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{
				"type":     "string",
				"examples": []string{"Check claim status with carrier"},
			},
			"due_in": map[string]any{
				"type":        "string",
				"description": "Go duration from now, e.g. 72h",
				"pattern":     `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`,
			},
		},
		"required": []string{"title", "due_in"},
	}
}

func (n *Node) Execute(ctx context.Context, input protocol.NodeInput) (protocol.Result, error) {
	params, err := protocol.Params[*models.CreateReminderParams](input)
	if err != nil {
		return protocol.Result{}, err
	}

	caseID, err := protocol.CaseID(input)
	if err != nil {
		return protocol.Result{}, err
	}

	dueIn, err := time.ParseDuration(params.DueIn)
	if err != nil {
		return protocol.Result{}, protocol.NewNodeActionError(input, fmt.Errorf("invalid due_in: %w", err))
	}

	dueAt := input.Now.Add(dueIn).UTC()

	id, err := n.scheduler.CreateReminder(ctx, Reminder{
		CaseID:      caseID,
		ExecutionID: input.ExecutionID,
		Title:       params.Title,
		DueAt:       dueAt,
	})
	if err != nil {
		return protocol.Result{}, protocol.NewNodeActionError(input, err)
	}

	return protocol.Result{Output: map[string]any{
		"reminderId":    id,
		"reminderDueAt": dueAt.Format(time.RFC3339),
	}}, nil
}

// MemoryScheduler keeps reminders in process.
type MemoryScheduler struct {
	mu        sync.Mutex
	reminders []Reminder
}

func NewMemoryScheduler() *MemoryScheduler {
	return &MemoryScheduler{}
}

func (s *MemoryScheduler) CreateReminder(_ context.Context, reminder Reminder) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reminder.ID = uuid.Must(uuid.NewV7()).String()
	s.reminders = append(s.reminders, reminder)

	return reminder.ID, nil
}

// Due lists reminders due at or before now.
func (s *MemoryScheduler) Due(now time.Time) []Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.DeleteFunc(slices.Clone(s.reminders), func(r Reminder) bool {
		return r.DueAt.After(now)
	})
}
