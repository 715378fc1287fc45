package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/lakeql/agent/pkg/catalog"
)

// Context keys for workflow tracing
type ctxKeyConversationID struct{}
type ctxKeyTurnID struct{}

// ContextWithTurnIDs adds conversation and turn IDs to a context for tracing.
func ContextWithTurnIDs(ctx context.Context, conversationID, turnID string) context.Context {
	ctx = context.WithValue(ctx, ctxKeyConversationID{}, conversationID)
	ctx = context.WithValue(ctx, ctxKeyTurnID{}, turnID)
	return ctx
}

// ConversationIDFromContext extracts the conversation ID from context, if present.
func ConversationIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKeyConversationID{}).(string)
	return id, ok
}

// TurnIDFromContext extracts the turn ID from context, if present.
func TurnIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKeyTurnID{}).(string)
	return id, ok
}

const (
	DefaultMaxRetries    = 3
	DefaultHistoryWindow = 10
	DefaultStepTimeout   = 60 * time.Second
)

// Config holds the configuration for the workflow.
type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock

	Catalog    SchemaCatalog
	Generator  QueryGenerator
	Executor   QueryExecutor
	Summarizer Summarizer     // Optional; a local summary is used when nil or failing
	Intent     IntentAnalyzer // Optional; questions are treated as clear when nil
	Redactor   ResultRedactor // Optional; masks sensitive values in every query result

	MaxRetries    int           // Max fix attempts per turn (default 3)
	RetryUnsafe   bool          // Let the fix loop rewrite unsafe statements instead of failing the turn
	HistoryWindow int           // Number of trailing history messages sent to collaborators (default 10)
	StepTimeout   time.Duration // Timeout for each collaborator call (default 60s)
}

// CompleteOptions holds options for LLM completion.
type CompleteOptions struct {
	CacheSystemPrompt bool // Enable prompt caching for the system prompt
}

// CompleteOption is a functional option for Complete.
type CompleteOption func(*CompleteOptions)

// WithCacheControl enables prompt caching for the system prompt.
// The schema-bearing system prompts are large and identical across the
// generate and fix calls of a turn.
func WithCacheControl() CompleteOption {
	return func(o *CompleteOptions) {
		o.CacheSystemPrompt = true
	}
}

// LLMClient is the interface for interacting with an LLM.
type LLMClient interface {
	// Complete sends a prompt and returns the response text.
	Complete(ctx context.Context, systemPrompt, userPrompt string, opts ...CompleteOption) (string, error)
}

// SchemaCatalog describes the tables of the active data source.
// Implementations should wrap failures with ErrSchemaUnavailable.
type SchemaCatalog interface {
	Describe(ctx context.Context) (*catalog.Schema, error)
}

// QueryGenerator produces candidate queries. Implementations should wrap
// failures with ErrGenerationFailed.
type QueryGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (Candidate, error)
	Fix(ctx context.Context, req FixRequest) (Candidate, error)
}

// QueryExecutor runs validated queries. Implementations should wrap
// failures with ErrExecutionFailed.
type QueryExecutor interface {
	Run(ctx context.Context, query string) (*QueryResult, error)
}

// Summarizer turns a turn's outcome into the assistant's reply.
type Summarizer interface {
	Summarize(ctx context.Context, req SummaryRequest) (string, error)
}

// IntentAnalyzer decides whether a question is too ambiguous to answer.
type IntentAnalyzer interface {
	Analyze(ctx context.Context, question string, history []Message) (Intent, error)
}

// ResultRedactor masks sensitive values in a query result in place before it
// reaches the summarizer or the caller. It returns the number of values masked.
type ResultRedactor interface {
	RedactResult(r *QueryResult) int
}

// GenerateRequest is the input for generating a query from a question.
type GenerateRequest struct {
	Question string // Effective question, including any clarification answer
	Schema   string // Rendered schema text
	History  []Message
}

// FixRequest is the input for repairing a rejected or failed query.
type FixRequest struct {
	Question   string
	PriorQuery string
	Reason     *Failure
	Schema     string
}

// Candidate is a generated, not yet validated query.
type Candidate struct {
	Query       string
	Explanation string
}

// SummaryRequest is the input for summarizing a finished turn.
type SummaryRequest struct {
	Question string
	Query    string
	Result   *QueryResult // Set on success
	Failure  *Failure     // Set when the turn failed
	History  []Message
}

// Intent is the outcome of intent analysis.
type Intent struct {
	Ambiguous bool   `json:"ambiguous"`
	Question  string `json:"clarification_question,omitempty"` // Question to ask the user when ambiguous
	Reasoning string `json:"reasoning,omitempty"`
}

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a message in conversation history.
type Message struct {
	Role          Role   `json:"role"`
	Content       string `json:"content"`
	Clarification bool   `json:"clarification,omitempty"` // Assistant asked for clarification
	Query         string `json:"query,omitempty"`         // Query executed in this turn (assistant only)
}

// QueryResult holds the result of a query execution.
type QueryResult struct {
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	Count     int              `json:"count"`
	Truncated bool             `json:"truncated,omitempty"` // More rows matched than were returned
}

// TurnStatus is the outcome of a turn.
type TurnStatus string

const (
	StatusDone               TurnStatus = "done"
	StatusNeedsClarification TurnStatus = "needs_clarification"
	StatusFailed             TurnStatus = "failed"
)

// TurnResult is returned to the caller of RunTurn.
type TurnResult struct {
	Status                TurnStatus   `json:"status"`
	Query                 string       `json:"query,omitempty"`
	Explanation           string       `json:"explanation,omitempty"`
	Result                *QueryResult `json:"result,omitempty"`
	ClarificationQuestion string       `json:"clarification_question,omitempty"`
	Summary               string       `json:"summary,omitempty"`
	Error                 *Failure     `json:"error,omitempty"`
	RetryCount            int          `json:"retry_count"`
	History               []Message    `json:"history"`
}

// ProgressStage represents a stage in the workflow execution.
type ProgressStage string

const (
	StageIntent     ProgressStage = "intent"
	StageClarify    ProgressStage = "clarify"
	StageSchema     ProgressStage = "schema"
	StageGenerating ProgressStage = "generating"
	StageValidating ProgressStage = "validating"
	StageExecuting  ProgressStage = "executing"
	StageFixing     ProgressStage = "fixing"
	StageSummarize  ProgressStage = "summarizing"
	StageComplete   ProgressStage = "complete"
	StageError      ProgressStage = "error"
)

// Progress represents the current state of workflow execution.
type Progress struct {
	Stage      ProgressStage
	Query      string   // Current candidate query, if any
	RetryCount int      // Fix attempts so far
	Rows       int      // Rows returned by the executed query, once there is a result
	Failure    *Failure // Most recent failure, if any
}

// ProgressCallback is called before each node of the workflow runs, and once
// more with StageComplete or StageError when the turn ends.
type ProgressCallback func(Progress)
