// Package template renders letters and notification messages from the
// execution context.
package template

import (
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"
)

// Render executes templateStr against data. Missing keys render empty.
func Render(templateStr string, data any) (string, error) {
	tmpl, err := template.
		New("render").
		Option("missingkey=zero").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"date": func(layout string, value any) string {
				t, ok := asTime(value)
				if !ok {
					return ""
				}

				return t.Format(layout)
			},
			"money": money,
			"upper": strings.ToUpper,
			"lower": strings.ToLower,
			"default": func(fallback, value any) any {
				if value == nil || value == "" {
					return fallback
				}

				return value
			},
		}).Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf strings.Builder

	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return strings.ReplaceAll(buf.String(), "<no value>", ""), nil
}

// RenderWithContext exposes the execution context at the top level, plus
// .execution with its ids.
func RenderWithContext(input, executionID, workflowID string, executionCtx map[string]any) (string, error) {
	data := make(map[string]any, len(executionCtx)+1)
	for k, v := range executionCtx {
		data[k] = v
	}

	data["execution"] = map[string]any{
		"id":          executionID,
		"workflow_id": workflowID,
	}

	return Render(input, data)
}

func money(value any) string {
	var amount float64

	switch v := value.(type) {
	case float64:
		amount = v
	case int:
		amount = float64(v)
	case int64:
		amount = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return v
		}

		amount = parsed
	default:
		return fmt.Sprint(value)
	}

	return strconv.FormatFloat(amount, 'f', 2, 64)
}

func asTime(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case string:
		t, err := time.Parse(time.RFC3339, v)

		return t, err == nil
	default:
		return time.Time{}, false
	}
}
