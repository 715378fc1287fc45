package workflow

import (
	"github.com/malbeclabs/lakeql/agent/pkg/catalog"
)

// State is the conversation state threaded through the workflow nodes.
// Nodes receive a State by value and return a new one; History is never
// modified in place, only extended through withHistory.
type State struct {
	Question string    // The turn's question; on resume, the original question
	History  []Message // Conversation so far, excluding the current turn until it completes

	Schema  string          // Rendered schema text
	Catalog *catalog.Schema // Structured schema used for validation

	CandidateQuery       string
	CandidateExplanation string
	ValidatedQuery       string // Set only when the current candidate was accepted

	Result         *QueryResult
	ExecutionError string

	RetryCount int

	ClarificationNeeded   bool
	ClarificationQuestion string
	ClarificationResponse string

	LastFailure   *Failure // Most recent failure, the fix context
	TerminalError *Failure // Why the turn failed

	Summary string

	Suspended bool // Halted at the clarification gate
	Cancelled bool // Halted by context cancellation
}

// withHistory returns a copy of s with msgs appended to a fresh history slice.
func (s State) withHistory(msgs ...Message) State {
	history := make([]Message, 0, len(s.History)+len(msgs))
	history = append(history, s.History...)
	s.History = append(history, msgs...)
	return s
}

// withCandidate replaces the candidate and clears everything derived from
// the previous one.
func (s State) withCandidate(c Candidate) State {
	s.CandidateQuery = c.Query
	s.CandidateExplanation = c.Explanation
	s.ValidatedQuery = ""
	s.Result = nil
	s.ExecutionError = ""
	return s
}

// effectiveQuestion is what the generator is asked to answer.
func (s State) effectiveQuestion() string {
	if s.ClarificationResponse == "" {
		return s.Question
	}
	return s.Question + "\n\nClarification: " + s.ClarificationResponse
}

// userMessage is what the user typed this turn.
func (s State) userMessage() Message {
	content := s.Question
	if s.ClarificationResponse != "" {
		content = s.ClarificationResponse
	}
	return Message{Role: RoleUser, Content: content}
}

// query returns the most relevant query of the turn for reporting.
func (s State) query() string {
	if s.ValidatedQuery != "" {
		return s.ValidatedQuery
	}
	return s.CandidateQuery
}

func windowHistory(history []Message, n int) []Message {
	if n <= 0 || len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
