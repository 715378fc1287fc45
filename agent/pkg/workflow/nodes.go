package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/malbeclabs/lakeql/agent/pkg/metrics"
	"github.com/malbeclabs/lakeql/agent/pkg/validator"
)

const defaultClarificationQuestion = "Could you clarify what you would like to know?"

func (w *Workflow) nodes() map[Node]NodeFunc {
	return map[Node]NodeFunc{
		NodeIntent:       w.intent,
		NodeClarify:      w.clarify,
		NodeSchemaLookup: w.schemaLookup,
		NodeGenerate:     w.generate,
		NodeValidate:     w.validate,
		NodeExecute:      w.execute,
		NodeFix:          w.fix,
		NodeSummarize:    w.summarize,
	}
}

// stepContext bounds a single collaborator call.
func (w *Workflow) stepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if w.cfg.StepTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, w.cfg.StepTimeout)
}

func (w *Workflow) history(s State) []Message {
	return windowHistory(s.History, w.cfg.HistoryWindow)
}

func (w *Workflow) intent(ctx context.Context, s State) (State, error) {
	// A resumed turn has already been through the gate.
	if s.ClarificationResponse != "" || w.cfg.Intent == nil {
		return s, nil
	}

	ctx, cancel := w.stepContext(ctx)
	defer cancel()

	intent, err := w.cfg.Intent.Analyze(ctx, s.Question, w.history(s))
	if err != nil {
		return s, fmt.Errorf("intent analysis failed: %w", err)
	}
	if intent.Ambiguous {
		s.ClarificationNeeded = true
		s.ClarificationQuestion = strings.TrimSpace(intent.Question)
		if s.ClarificationQuestion == "" {
			s.ClarificationQuestion = defaultClarificationQuestion
		}
	}
	return s, nil
}

func (w *Workflow) clarify(_ context.Context, s State) (State, error) {
	if s.ClarificationResponse != "" {
		s.ClarificationNeeded = false
		return s, nil
	}
	s = s.withHistory(
		s.userMessage(),
		Message{Role: RoleAssistant, Content: s.ClarificationQuestion, Clarification: true},
	)
	s.Suspended = true
	w.logInfo("workflow: clarification requested", "question", s.ClarificationQuestion)
	return s, nil
}

func (w *Workflow) schemaLookup(ctx context.Context, s State) (State, error) {
	ctx, cancel := w.stepContext(ctx)
	defer cancel()

	schema, err := w.cfg.Catalog.Describe(ctx)
	if err != nil {
		return s, wrapSentinel(ErrSchemaUnavailable, err)
	}
	if schema == nil || len(schema.Tables) == 0 {
		return s, fmt.Errorf("%w: no tables found", ErrSchemaUnavailable)
	}
	s.Catalog = schema
	s.Schema = schema.Format()
	return s, nil
}

func (w *Workflow) generate(ctx context.Context, s State) (State, error) {
	ctx, cancel := w.stepContext(ctx)
	defer cancel()

	c, err := w.cfg.Generator.Generate(ctx, GenerateRequest{
		Question: s.effectiveQuestion(),
		Schema:   s.Schema,
		History:  w.history(s),
	})
	if err != nil {
		return s, wrapSentinel(ErrGenerationFailed, err)
	}
	if strings.TrimSpace(c.Query) == "" {
		return s, fmt.Errorf("%w: empty query", ErrGenerationFailed)
	}
	s = s.withCandidate(c)
	s.LastFailure = nil
	return s, nil
}

func (w *Workflow) validate(_ context.Context, s State) (State, error) {
	if err := validator.Validate(s.CandidateQuery, s.Catalog); err != nil {
		var r *validator.Rejection
		if !errors.As(err, &r) {
			return s, err
		}
		metrics.RecordRejection(string(r.Kind))
		w.logInfo("workflow: query rejected", "reason", r.Error(), "retries", s.RetryCount)
		s.ValidatedQuery = ""
		s.LastFailure = failureFromRejection(r)
		return s, nil
	}
	s.ValidatedQuery = s.CandidateQuery
	s.LastFailure = nil
	return s, nil
}

func (w *Workflow) execute(ctx context.Context, s State) (State, error) {
	ctx, cancel := w.stepContext(ctx)
	defer cancel()

	result, err := w.cfg.Executor.Run(ctx, s.ValidatedQuery)
	if err != nil {
		return s, wrapSentinel(ErrExecutionFailed, err)
	}
	if result == nil {
		result = &QueryResult{}
	}
	if w.cfg.Redactor != nil {
		if n := w.cfg.Redactor.RedactResult(result); n > 0 {
			w.logInfo("workflow: redacted sensitive values in result", "count", n)
		}
	}
	s.Result = result
	s.ExecutionError = ""
	s.LastFailure = nil
	return s, nil
}

// fix counts the failure against the retry budget and asks the generator for
// a repaired candidate while budget remains.
func (w *Workflow) fix(ctx context.Context, s State) (State, error) {
	f := s.LastFailure
	if f == nil {
		f = &Failure{Kind: FailureGenerationFailed, Detail: "no candidate query"}
	}

	retryable := f.Retryable() || (w.cfg.RetryUnsafe && f.Kind == FailureUnsafeStatement)
	if !retryable {
		s.TerminalError = f
		return s, nil
	}

	s.RetryCount++
	metrics.RecordRetry(string(f.Kind))
	if s.RetryCount >= w.cfg.MaxRetries {
		s.TerminalError = retryExhausted(f)
		return s, nil
	}

	ctx, cancel := w.stepContext(ctx)
	defer cancel()

	var (
		c   Candidate
		err error
	)
	if s.CandidateQuery == "" {
		c, err = w.cfg.Generator.Generate(ctx, GenerateRequest{
			Question: s.effectiveQuestion(),
			Schema:   s.Schema,
			History:  w.history(s),
		})
	} else {
		c, err = w.cfg.Generator.Fix(ctx, FixRequest{
			Question:   s.effectiveQuestion(),
			PriorQuery: s.CandidateQuery,
			Reason:     f,
			Schema:     s.Schema,
		})
	}
	if err != nil {
		return s, wrapSentinel(ErrGenerationFailed, err)
	}
	if strings.TrimSpace(c.Query) == "" {
		return s, fmt.Errorf("%w: empty query", ErrGenerationFailed)
	}

	w.logInfo("workflow: retrying with repaired query", "attempt", s.RetryCount, "reason", f.Error())
	return s.withCandidate(c), nil
}

func (w *Workflow) summarize(ctx context.Context, s State) (State, error) {
	var summary string
	if w.cfg.Summarizer != nil {
		ctx, cancel := w.stepContext(ctx)
		defer cancel()

		text, err := w.cfg.Summarizer.Summarize(ctx, SummaryRequest{
			Question: s.effectiveQuestion(),
			Query:    s.query(),
			Result:   s.Result,
			Failure:  s.TerminalError,
			History:  w.history(s),
		})
		if err != nil {
			w.logWarn("workflow: summarizer failed, using fallback summary", "error", err)
		} else {
			summary = strings.TrimSpace(text)
		}
	}
	if summary == "" {
		summary = fallbackSummary(s)
	}
	return s.finish(summary), nil
}
