package catalog

import (
	"strings"
)

// Format renders the schema as prompt-ready text.
func (s *Schema) Format() string {
	if s == nil || len(s.Tables) == 0 {
		return "No tables available.\n"
	}

	var tables, views []string
	for _, t := range s.Tables {
		if t.View {
			views = append(views, t.Name)
		} else {
			tables = append(tables, t.Name)
		}
	}

	var sb strings.Builder

	sb.WriteString("## AVAILABLE TABLES (use ONLY these exact names)\n\n")
	if len(tables) > 0 {
		sb.WriteString("Tables:\n")
		for _, t := range tables {
			sb.WriteString("  - " + t + "\n")
		}
		sb.WriteString("\n")
	}
	if len(views) > 0 {
		sb.WriteString("Views:\n")
		for _, t := range views {
			sb.WriteString("  - " + t + "\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("---\n\n## TABLE DETAILS\n\n")

	fks := make(map[string]Relationship)
	for _, r := range s.Relationships {
		fks[strings.ToLower(r.FromTable+"."+r.FromColumn)] = r
	}

	for _, t := range s.Tables {
		if t.View {
			sb.WriteString(t.Name + " (VIEW):\n")
		} else {
			sb.WriteString(t.Name + ":\n")
		}
		for _, c := range t.Columns {
			line := "  - " + c.Name + " (" + c.Type + ")"
			if r, ok := fks[strings.ToLower(t.Name+"."+c.Name)]; ok {
				line += " [FK -> " + r.ToTable + "." + r.ToColumn + "]"
			}
			if len(c.Samples) > 0 {
				line += " values: " + strings.Join(c.Samples, ", ")
			}
			sb.WriteString(line + "\n")
		}
		if t.Definition != "" {
			sb.WriteString("  Definition: " + t.Definition + "\n")
		}
		sb.WriteString("\n")
	}

	if len(s.Relationships) > 0 {
		sb.WriteString("## RELATIONSHIPS\n\n")
		for _, r := range s.Relationships {
			sb.WriteString("  - " + r.FromTable + "." + r.FromColumn + " -> " + r.ToTable + "." + r.ToColumn + "\n")
		}
	}

	return sb.String()
}

// IsCategoricalType reports whether sample values are worth collecting for a
// column of the given type.
func IsCategoricalType(colType string) bool {
	t := strings.ToLower(colType)
	if strings.Contains(t, "enum") {
		return true
	}
	if strings.Contains(t, "lowcardinality") && strings.Contains(t, "string") {
		return true
	}
	switch t {
	case "string", "nullable(string)", "text", "varchar", "character varying":
		return true
	}
	return false
}

// ShouldSkipColumn reports whether a column is likely high-cardinality
// (identifiers, timestamps, free text) and should not be sampled.
func ShouldSkipColumn(colName string) bool {
	name := strings.ToLower(colName)
	for _, suffix := range []string{"_id", "_key", "_code", "_at", "_time", "_timestamp", "_date", "_hash", "_address", "_email"} {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	for _, prefix := range []string{"id_", "uuid_"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	switch name {
	case "id", "uuid", "name", "email", "description", "comment", "message", "error", "reason":
		return true
	}
	return false
}
