package workflow

import (
	"fmt"
	"strings"
)

// previewRows is the number of result rows rendered in summaries.
const previewRows = 10

// finish records the summary and appends the turn to history.
func (s State) finish(summary string) State {
	s.Summary = summary
	return s.withHistory(
		s.userMessage(),
		Message{Role: RoleAssistant, Content: summary, Query: s.ValidatedQuery},
	)
}

// fallbackSummary describes the outcome of a turn without an LLM.
func fallbackSummary(s State) string {
	var sb strings.Builder
	switch {
	case s.TerminalError != nil:
		f := s.TerminalError
		if f.Kind == FailureRetryExhausted {
			fmt.Fprintf(&sb, "I couldn't produce a working query after %d attempts. ", s.RetryCount)
			f = f.Terminal()
		} else {
			sb.WriteString("I couldn't answer that question. ")
		}
		fmt.Fprintf(&sb, "The last error was: %s.", f.Error())
		if q := s.query(); q != "" {
			fmt.Fprintf(&sb, "\n\nLast query tried:\n```sql\n%s\n```", q)
		}
	case s.Result != nil:
		r := s.Result
		switch {
		case r.Count == 0:
			sb.WriteString("The query returned no rows.")
		case r.Count == 1:
			sb.WriteString("The query returned 1 row.")
		default:
			fmt.Fprintf(&sb, "The query returned %d rows.", r.Count)
		}
		if r.Truncated {
			fmt.Fprintf(&sb, " Results were truncated to the first %d rows.", len(r.Rows))
		}
		if table := PreviewTable(r, previewRows); table != "" {
			sb.WriteString("\n\n")
			sb.WriteString(table)
		}
		if s.ValidatedQuery != "" {
			fmt.Fprintf(&sb, "\n\n```sql\n%s\n```", s.ValidatedQuery)
		}
	default:
		sb.WriteString("No result was produced.")
	}
	return sb.String()
}

// PreviewTable renders the first limit rows of r as a markdown table.
func PreviewTable(r *QueryResult, limit int) string {
	if r == nil || len(r.Columns) == 0 || len(r.Rows) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("| " + strings.Join(r.Columns, " | ") + " |\n")
	sb.WriteString("|" + strings.Repeat(" --- |", len(r.Columns)) + "\n")
	for i, row := range r.Rows {
		if i >= limit {
			fmt.Fprintf(&sb, "\n_%d more rows not shown_\n", len(r.Rows)-limit)
			break
		}
		cells := make([]string, len(r.Columns))
		for j, col := range r.Columns {
			cells[j] = formatCell(row[col])
		}
		sb.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatCell(v any) string {
	if v == nil {
		return "NULL"
	}
	s := fmt.Sprint(v)
	s = strings.ReplaceAll(s, "|", `\|`)
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > 80 {
		s = s[:77] + "..."
	}
	return s
}
