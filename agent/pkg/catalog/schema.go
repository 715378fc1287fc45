package catalog

import (
	"sort"
	"strings"
)

// Schema is the table/column/relationship metadata of a data source.
type Schema struct {
	Database      string
	Tables        []Table
	Relationships []Relationship
}

// Table describes a table or view.
type Table struct {
	Name       string
	View       bool
	Definition string // view body, if known
	Columns    []Column
}

// Column describes a single table column.
type Column struct {
	Name    string
	Type    string
	Samples []string // distinct values for low-cardinality columns
}

// Relationship is a declared foreign key between two tables.
type Relationship struct {
	FromTable  string
	FromColumn string
	ToTable    string
	ToColumn   string
}

// Table looks up a table by name, case-insensitively. A qualified name
// ("db.table") matches when the qualifier is empty, equals the schema's
// database, or the table was registered with the same qualifier.
func (s *Schema) Table(name string) (*Table, bool) {
	if s == nil {
		return nil, false
	}
	name = strings.ToLower(strings.TrimSpace(name))
	qualifier, bare := "", name
	if i := strings.LastIndex(name, "."); i != -1 {
		qualifier, bare = name[:i], name[i+1:]
	}
	for i := range s.Tables {
		t := &s.Tables[i]
		tn := strings.ToLower(t.Name)
		if tn == name {
			return t, true
		}
		if qualifier == "" {
			continue
		}
		if tn == bare && (qualifier == strings.ToLower(s.Database) || s.Database == "") {
			return t, true
		}
	}
	return nil, false
}

// Column looks up a column by name, case-insensitively.
func (t *Table) Column(name string) (*Column, bool) {
	name = strings.ToLower(name)
	for i := range t.Columns {
		if strings.ToLower(t.Columns[i].Name) == name {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// TableNames returns the sorted table names.
func (s *Schema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for _, t := range s.Tables {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	return names
}

// ColumnsOfType returns "table.column" for every column whose type contains
// any of the given substrings (case-insensitive).
func (s *Schema) ColumnsOfType(substrings ...string) []string {
	var out []string
	for _, t := range s.Tables {
		for _, c := range t.Columns {
			ct := strings.ToLower(c.Type)
			for _, sub := range substrings {
				if strings.Contains(ct, strings.ToLower(sub)) {
					out = append(out, t.Name+"."+c.Name)
					break
				}
			}
		}
	}
	return out
}

// Sort orders tables by name, keeping column order as declared.
func (s *Schema) Sort() {
	sort.SliceStable(s.Tables, func(i, j int) bool { return s.Tables[i].Name < s.Tables[j].Name })
	sort.SliceStable(s.Relationships, func(i, j int) bool {
		a, b := s.Relationships[i], s.Relationships[j]
		if a.FromTable != b.FromTable {
			return a.FromTable < b.FromTable
		}
		return a.FromColumn < b.FromColumn
	})
}
