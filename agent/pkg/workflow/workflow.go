package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/lakeql/agent/pkg/metrics"
)

// Workflow answers questions one turn at a time. It holds only immutable
// configuration and is safe for concurrent use by independent conversations.
type Workflow struct {
	cfg *Config
}

// New creates a new Workflow.
func New(cfg *Config) (*Workflow, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("schema catalog is required")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("query generator is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("query executor is required")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must not be negative")
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.HistoryWindow == 0 {
		cfg.HistoryWindow = DefaultHistoryWindow
	}
	if cfg.StepTimeout == 0 {
		cfg.StepTimeout = DefaultStepTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Workflow{cfg: cfg}, nil
}

// logInfo logs an info message if a logger is configured.
func (w *Workflow) logInfo(msg string, args ...any) {
	if w.cfg.Logger != nil {
		w.cfg.Logger.Info(msg, args...)
	}
}

func (w *Workflow) logWarn(msg string, args ...any) {
	if w.cfg.Logger != nil {
		w.cfg.Logger.Warn(msg, args...)
	}
}

// RunTurn answers one user message. To resume after a clarification, call
// RunTurn again with the returned history and the user's answer as question.
func (w *Workflow) RunTurn(ctx context.Context, question string, history []Message) (*TurnResult, error) {
	return w.RunTurnWithProgress(ctx, question, history, nil)
}

// RunTurnWithProgress is RunTurn with a callback invoked before every node.
func (w *Workflow) RunTurnWithProgress(ctx context.Context, question string, history []Message, onProgress ProgressCallback) (*TurnResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("question is required")
	}

	start := w.cfg.Clock.Now()
	s := seedState(question, history)

	engine, err := NewEngine(w.nodes(), EngineConfig{
		Logger:   w.cfg.Logger,
		Clock:    w.cfg.Clock,
		MaxSteps: maxSteps(w.cfg.MaxRetries),
		OnNode: func(n Node, s State) {
			if onProgress != nil {
				onProgress(Progress{
					Stage:      stageFor(n),
					Query:      s.CandidateQuery,
					RetryCount: s.RetryCount,
					Rows:       rowCount(s.Result),
					Failure:    s.LastFailure,
				})
			}
		},
	})
	if err != nil {
		return nil, err
	}

	final, runErr := engine.Run(ctx, s)
	if runErr != nil && !final.Cancelled {
		return nil, fmt.Errorf("workflow run failed: %w", runErr)
	}

	result := turnResult(final, runErr)
	duration := w.cfg.Clock.Since(start)
	metrics.RecordTurn(string(result.Status), duration)

	logArgs := []any{"status", result.Status, "retries", result.RetryCount, "duration", duration}
	if id, ok := ConversationIDFromContext(ctx); ok {
		logArgs = append(logArgs, "conversation", id)
	}
	if id, ok := TurnIDFromContext(ctx); ok {
		logArgs = append(logArgs, "turn", id)
	}
	if result.Error != nil {
		logArgs = append(logArgs, "error", result.Error)
	}
	w.logInfo("workflow: turn complete", logArgs...)

	if onProgress != nil {
		p := Progress{Stage: StageComplete, Query: result.Query, RetryCount: result.RetryCount, Rows: rowCount(result.Result), Failure: result.Error}
		if result.Status == StatusFailed {
			p.Stage = StageError
		}
		onProgress(p)
	}
	return result, nil
}

// seedState builds the initial state of a turn. When the history ends with
// a clarification request, the question is the user's answer and the
// original question is restored from history.
func seedState(question string, history []Message) State {
	s := State{Question: question, History: history}
	n := len(history)
	if n >= 2 && history[n-1].Role == RoleAssistant && history[n-1].Clarification && history[n-2].Role == RoleUser {
		s.Question = history[n-2].Content
		s.ClarificationResponse = question
	}
	return s
}

func turnResult(s State, runErr error) *TurnResult {
	r := &TurnResult{
		Query:       s.query(),
		Explanation: s.CandidateExplanation,
		Result:      s.Result,
		Summary:     s.Summary,
		RetryCount:  s.RetryCount,
		History:     s.History,
	}
	switch {
	case s.Cancelled:
		r.Status = StatusFailed
		detail := "turn cancelled"
		if runErr != nil {
			detail = runErr.Error()
		}
		r.Error = &Failure{Kind: FailureCancelled, Detail: detail}
	case s.Suspended:
		r.Status = StatusNeedsClarification
		r.ClarificationQuestion = s.ClarificationQuestion
	case s.TerminalError != nil:
		r.Status = StatusFailed
		r.Error = s.TerminalError
	default:
		r.Status = StatusDone
	}
	return r
}

func rowCount(r *QueryResult) int {
	if r == nil {
		return 0
	}
	return r.Count
}

// maxSteps bounds a run: the straight path plus one validate/execute/fix
// cycle per retry.
func maxSteps(maxRetries int) int {
	return 10 + 3*(maxRetries+1)
}

func stageFor(n Node) ProgressStage {
	switch n {
	case NodeIntent:
		return StageIntent
	case NodeClarify:
		return StageClarify
	case NodeSchemaLookup:
		return StageSchema
	case NodeGenerate:
		return StageGenerating
	case NodeValidate:
		return StageValidating
	case NodeExecute:
		return StageExecuting
	case NodeFix:
		return StageFixing
	case NodeSummarize:
		return StageSummarize
	}
	return StageComplete
}

// wrapSentinel wraps err with sentinel unless it already carries it.
func wrapSentinel(sentinel, err error) error {
	if errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}
