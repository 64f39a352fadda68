// Package notify provides SEND_NOTIFICATION.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/protocol"
	"github.com/dukex/claimflow/pkg/template"
)

type Notification struct {
	Channel   string
	Recipient string
	Message   string
	CaseID    string
}

// Notifier delivers notifications. Email and SMS transport live behind it.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

type Node struct {
	notifier Notifier
	logger   *slog.Logger
}

func New(notifier Notifier, logger *slog.Logger) *Node {
	return &Node{notifier: notifier, logger: logger.With("module", "notification_node")}
}

func (*Node) Type() models.NodeType { return models.NodeTypeSendNotification }
func (*Node) Name() string          { return "Send Notification" }

func (*Node) Description() string {
	return "Sends a templated message over email, sms or the internal feed"
}

func (*Node) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"channel": map[string]any{
				"type":    "string",
				"enum":    []string{"email", "sms", "internal"},
				"default": "internal",
			},
			"recipient": map[string]any{
				"type":     "string",
				"examples": []string{"claims-team", "{{.case.customer_email}}"},
			},
			"message": map[string]any{
				"type":        "string",
				"description": "Message body. Supports templating with execution context data.",
				"examples": []string{
					"Claim for case {{.caseId}} queued as {{.submissionId}}",
				},
			},
		},
		"required": []string{"channel", "recipient", "message"},
	}
}

func (n *Node) Execute(ctx context.Context, input protocol.NodeInput) (protocol.Result, error) {
	params, err := protocol.Params[*models.SendNotificationParams](input)
	if err != nil {
		return protocol.Result{}, err
	}

	recipient, err := template.RenderWithContext(params.Recipient, input.ExecutionID, input.WorkflowID, input.Context)
	if err != nil {
		return protocol.Result{}, protocol.NewNodeActionError(input, fmt.Errorf("recipient: %w", err))
	}

	message, err := template.RenderWithContext(params.Message, input.ExecutionID, input.WorkflowID, input.Context)
	if err != nil {
		return protocol.Result{}, protocol.NewNodeActionError(input, fmt.Errorf("message: %w", err))
	}

	caseID, _ := models.StringID(input.Context[protocol.ContextKeyCaseID])

	err = n.notifier.Notify(ctx, Notification{
		Channel:   params.Channel,
		Recipient: recipient,
		Message:   message,
		CaseID:    caseID,
	})
	if err != nil {
		return protocol.Result{}, protocol.NewNodeActionError(input, err)
	}

	return protocol.Result{Output: map[string]any{
		"notified": true,
		"channel":  params.Channel,
	}}, nil
}

// LogNotifier writes notifications to the log. It stands in for a real
// transport in development.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("module", "notifier")}
}

func (l *LogNotifier) Notify(ctx context.Context, notification Notification) error {
	logger := l.logger.With(
		"channel", notification.Channel,
		"recipient", notification.Recipient,
		"case_id", notification.CaseID,
	)

	switch notification.Channel {
	case "internal":
		logger.InfoContext(ctx, notification.Message)
	default:
		logger.WarnContext(ctx, "no transport configured, notification logged only", "message", notification.Message)
	}

	return nil
}
