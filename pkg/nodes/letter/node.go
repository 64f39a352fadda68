// Package letter provides GENERATE_LETTER and a template-backed generator.
package letter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/protocol"
	"github.com/dukex/claimflow/pkg/template"
	"github.com/google/uuid"
)

var ErrUnknownTemplate = errors.New("unknown letter template")

// Request is what a generator gets to build one letter.
type Request struct {
	ExecutionID string
	WorkflowID  string
	TemplateID  string
	// Template overrides the registered body for TemplateID when set.
	Template string
	Context  map[string]any
}

type Letter struct {
	ID      string
	Content string
}

// Generator produces letters. Document storage lives behind it.
type Generator interface {
	GenerateLetter(ctx context.Context, req Request) (Letter, error)
}

type Node struct {
	generator Generator
	logger    *slog.Logger
}

func New(generator Generator, logger *slog.Logger) *Node {
	return &Node{generator: generator, logger: logger.With("module", "letter_node")}
}

func (*Node) Type() models.NodeType { return models.NodeTypeGenerateLetter }
func (*Node) Name() string          { return "Generate Letter" }

func (*Node) Description() string {
	return "Renders a letter from a template and the execution context"
}

func (*Node) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"template_id": map[string]any{
				"type":        "string",
				"description": "Registered template to render",
				"examples":    []string{"claim-intent", "appeal"},
			},
			"template": map[string]any{
				"type":        "string",
				"description": "Inline template body; overrides the registered one",
				"examples":    []string{"Dear {{.case.customer}}, we filed claim {{.submissionId}}."},
			},
		},
		"required": []string{"template_id"},
	}
}

func (n *Node) Execute(ctx context.Context, input protocol.NodeInput) (protocol.Result, error) {
	params, err := protocol.Params[*models.GenerateLetterParams](input)
	if err != nil {
		return protocol.Result{}, err
	}

	letter, err := n.generator.GenerateLetter(ctx, Request{
		ExecutionID: input.ExecutionID,
		WorkflowID:  input.WorkflowID,
		TemplateID:  params.TemplateID,
		Template:    params.Template,
		Context:     input.Context,
	})
	if err != nil {
		return protocol.Result{}, protocol.NewNodeActionError(input, err)
	}

	n.logger.InfoContext(ctx, "letter generated",
		"execution_id", input.ExecutionID, "letter_id", letter.ID, "template_id", params.TemplateID)

	return protocol.Result{Output: map[string]any{
		"letterContent": letter.Content,
		"letterId":      letter.ID,
	}}, nil
}

// TemplateGenerator renders registered templates in memory.
type TemplateGenerator struct {
	mu        sync.RWMutex
	templates map[string]string
}

func NewTemplateGenerator(templates map[string]string) *TemplateGenerator {
	g := &TemplateGenerator{templates: make(map[string]string, len(templates))}
	for id, body := range templates {
		g.templates[id] = body
	}

	return g
}

func (g *TemplateGenerator) Register(id, body string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.templates[id] = body
}

func (g *TemplateGenerator) GenerateLetter(_ context.Context, req Request) (Letter, error) {
	body := req.Template
	if body == "" {
		g.mu.RLock()
		registered, ok := g.templates[req.TemplateID]
		g.mu.RUnlock()

		if !ok {
			return Letter{}, fmt.Errorf("%w: %s", ErrUnknownTemplate, req.TemplateID)
		}

		body = registered
	}

	content, err := template.RenderWithContext(body, req.ExecutionID, req.WorkflowID, req.Context)
	if err != nil {
		return Letter{}, err
	}

	return Letter{ID: uuid.Must(uuid.NewV7()).String(), Content: content}, nil
}
