package validator

import (
	"fmt"
	"strings"
)

// Kind classifies why a query was rejected.
type Kind string

const (
	KindUnsafeStatement Kind = "unsafe_statement"
	KindUnknownTable    Kind = "unknown_table"
	KindUnknownColumn   Kind = "unknown_column"
	KindAmbiguousColumn Kind = "ambiguous_column"
)

// Rejection is the typed reason a query failed validation.
type Rejection struct {
	Kind Kind

	// Keyword is the offending statement keyword for KindUnsafeStatement.
	Keyword string
	// Table is the unresolved table (KindUnknownTable) or the table a
	// column was resolved against (KindUnknownColumn).
	Table string
	// Column is the unresolved or ambiguous column name.
	Column string
	// Candidates lists the in-scope tables that all define an ambiguous column.
	Candidates []string
	// Detail is extra context, e.g. for statements that are not a single SELECT.
	Detail string
}

func (r *Rejection) Error() string {
	switch r.Kind {
	case KindUnsafeStatement:
		msg := "unsafe statement"
		if r.Keyword != "" {
			msg += ": " + r.Keyword
		}
		if r.Detail != "" {
			msg += " (" + r.Detail + ")"
		}
		return msg
	case KindUnknownTable:
		return fmt.Sprintf("unknown table: %s", r.Table)
	case KindUnknownColumn:
		if r.Table == "" {
			return fmt.Sprintf("unknown column: %s", r.Column)
		}
		return fmt.Sprintf("unknown column: %s.%s", r.Table, r.Column)
	case KindAmbiguousColumn:
		if len(r.Candidates) > 0 {
			return fmt.Sprintf("ambiguous column: %s (matches %s)", r.Column, strings.Join(r.Candidates, ", "))
		}
		return fmt.Sprintf("ambiguous column: %s", r.Column)
	}
	return string(r.Kind)
}

func unsafeStatement(keyword, detail string) *Rejection {
	return &Rejection{Kind: KindUnsafeStatement, Keyword: keyword, Detail: detail}
}
