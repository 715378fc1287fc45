package handlers

import (
	"net/http"

	"github.com/malbeclabs/lakeql/agent/pkg/catalog"
)

type ColumnInfo struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Samples []string `json:"samples,omitempty"`
}

type TableInfo struct {
	Name       string       `json:"name"`
	View       bool         `json:"view,omitempty"`
	Definition string       `json:"definition,omitempty"`
	Columns    []ColumnInfo `json:"columns"`
}

type RelationshipInfo struct {
	FromTable  string `json:"from_table"`
	FromColumn string `json:"from_column"`
	ToTable    string `json:"to_table"`
	ToColumn   string `json:"to_column"`
}

// SchemaResponse is the schema the workflow sees, structured and as the
// prompt text given to the LLM.
type SchemaResponse struct {
	Database      string             `json:"database"`
	Tables        []TableInfo        `json:"tables"`
	Relationships []RelationshipInfo `json:"relationships,omitempty"`
	Text          string             `json:"text"`
}

// GetSchema returns the described schema of the data source. Pass
// refresh=true to drop a cached copy first.
func (s *Server) GetSchema(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") == "true" {
		if inv, ok := s.catalog.(invalidator); ok {
			inv.Invalidate()
		}
	}

	schema, err := s.catalog.Describe(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, internalError("Failed to load schema", err))
		return
	}
	writeJSON(w, http.StatusOK, toSchemaResponse(schema))
}

func toSchemaResponse(schema *catalog.Schema) SchemaResponse {
	resp := SchemaResponse{
		Database: schema.Database,
		Tables:   make([]TableInfo, 0, len(schema.Tables)),
		Text:     schema.Format(),
	}
	for _, t := range schema.Tables {
		info := TableInfo{
			Name:       t.Name,
			View:       t.View,
			Definition: t.Definition,
			Columns:    make([]ColumnInfo, 0, len(t.Columns)),
		}
		for _, c := range t.Columns {
			info.Columns = append(info.Columns, ColumnInfo{Name: c.Name, Type: c.Type, Samples: c.Samples})
		}
		resp.Tables = append(resp.Tables, info)
	}
	for _, rel := range schema.Relationships {
		resp.Relationships = append(resp.Relationships, RelationshipInfo(rel))
	}
	return resp
}
