package workflow

import (
	"fmt"
	"strings"

	"github.com/malbeclabs/lakeql/agent/pkg/workflow/prompts"
)

// Prompts contains the workflow prompts loaded from embedded files.
type Prompts struct {
	Generate  string // Query generation
	Fix       string // Query repair after a rejection or execution error
	Intent    string // Ambiguity check
	Summarize string // Answer synthesis
}

// LoadPrompts loads all prompts from the embedded filesystem, substituting
// the SQL dialect name of the active data source.
func LoadPrompts(dialect string) (*Prompts, error) {
	if dialect == "" {
		dialect = "SQL"
	}
	p := &Prompts{}

	var err error
	if p.Generate, err = loadPrompt("GENERATE.md", dialect); err != nil {
		return nil, fmt.Errorf("failed to load GENERATE: %w", err)
	}
	if p.Fix, err = loadPrompt("FIX.md", dialect); err != nil {
		return nil, fmt.Errorf("failed to load FIX: %w", err)
	}
	if p.Intent, err = loadPrompt("INTENT.md", dialect); err != nil {
		return nil, fmt.Errorf("failed to load INTENT: %w", err)
	}
	if p.Summarize, err = loadPrompt("SUMMARIZE.md", dialect); err != nil {
		return nil, fmt.Errorf("failed to load SUMMARIZE: %w", err)
	}
	return p, nil
}

func loadPrompt(path, dialect string) (string, error) {
	data, err := prompts.PromptsFS.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return strings.ReplaceAll(strings.TrimSpace(string(data)), "{{DIALECT}}", dialect), nil
}

// buildSystemPrompt appends the rendered schema to a base prompt.
func buildSystemPrompt(base, schema string) string {
	if schema == "" {
		return base
	}
	return base + "\n\n## Database Schema\n\n```\n" + strings.TrimRight(schema, "\n") + "\n```"
}

// formatHistory renders conversation history for inclusion in a user prompt.
func formatHistory(history []Message) string {
	var sb strings.Builder
	for _, m := range history {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
		if m.Query != "" {
			fmt.Fprintf(&sb, "(query: %s)\n", m.Query)
		}
	}
	return sb.String()
}
