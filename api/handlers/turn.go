package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/malbeclabs/lakeql/agent/pkg/workflow"
	"github.com/malbeclabs/lakeql/api/metrics"
)

// TurnRequest asks one question in a conversation. History is the history
// returned by the previous turn; to answer a clarification question, send
// the answer as Question together with that history.
type TurnRequest struct {
	ConversationID string             `json:"conversation_id,omitempty"`
	Question       string             `json:"question"`
	History        []workflow.Message `json:"history,omitempty"`
}

// TurnResponse is the outcome of a turn.
type TurnResponse struct {
	ConversationID string `json:"conversation_id"`
	TurnID         string `json:"turn_id"`
	*workflow.TurnResult
}

// PostTurn runs one conversation turn.
func (s *Server) PostTurn(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "Question is required")
		return
	}
	for _, m := range req.History {
		if m.Role != workflow.RoleUser && m.Role != workflow.RoleAssistant {
			writeError(w, http.StatusBadRequest, "History roles must be user or assistant")
			return
		}
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	} else if _, err := uuid.Parse(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid conversation_id")
		return
	}
	turnID := uuid.NewString()

	if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
		hub.Scope().SetTag("conversation_id", conversationID)
		hub.Scope().SetTag("turn_id", turnID)
	}

	ctx := workflow.ContextWithTurnIDs(r.Context(), conversationID, turnID)
	result, err := s.workflow.RunTurn(ctx, req.Question, req.History)
	if err != nil {
		metrics.RecordTurnRequest("error")
		writeError(w, http.StatusInternalServerError, internalError("Failed to run turn", err))
		return
	}
	metrics.RecordTurnRequest(string(result.Status))

	out := sanitizeResult(result, len(req.History))
	writeJSON(w, http.StatusOK, TurnResponse{
		ConversationID: conversationID,
		TurnID:         turnID,
		TurnResult:     out,
	})
}

// sanitizeResult returns a copy of result with database-originated failure
// text sanitized in the error, the summary and the history messages appended
// by this turn. Earlier history came from the caller and is returned as is.
func sanitizeResult(result *workflow.TurnResult, prior int) *workflow.TurnResult {
	out := *result
	out.Error = sanitizeFailure(result.Error)

	replacer := detailReplacer(result.Error)
	if replacer == nil {
		return &out
	}
	out.Summary = replacer.Replace(result.Summary)
	if prior > len(result.History) {
		prior = len(result.History)
	}
	out.History = make([]workflow.Message, len(result.History))
	copy(out.History, result.History)
	for i := prior; i < len(out.History); i++ {
		out.History[i].Content = replacer.Replace(out.History[i].Content)
	}
	return &out
}

// detailReplacer maps every raw database-originated detail in the failure
// chain to its sanitized form, or returns nil when nothing changes.
func detailReplacer(f *workflow.Failure) *strings.Replacer {
	var pairs []string
	for ; f != nil; f = f.Last {
		switch f.Kind {
		case workflow.FailureExecutionFailed, workflow.FailureSchemaUnavailable:
			if clean := sanitizeMessage(f.Detail); clean != f.Detail {
				pairs = append(pairs, f.Detail, clean)
			}
		}
	}
	if len(pairs) == 0 {
		return nil
	}
	return strings.NewReplacer(pairs...)
}

// sanitizeFailure strips connection details from database-originated
// failure text before it leaves the process.
func sanitizeFailure(f *workflow.Failure) *workflow.Failure {
	if f == nil {
		return nil
	}
	out := *f
	switch f.Kind {
	case workflow.FailureExecutionFailed, workflow.FailureSchemaUnavailable:
		out.Detail = sanitizeMessage(f.Detail)
	}
	out.Last = sanitizeFailure(f.Last)
	return &out
}
