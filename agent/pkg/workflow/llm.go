package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// intentHistoryWindow is the number of trailing messages the intent
// analyzer sees. Older turns rarely change whether a question is clear.
const intentHistoryWindow = 3

// LLMGenerator implements QueryGenerator using an LLM.
type LLMGenerator struct {
	llm     LLMClient
	prompts *Prompts
}

// NewLLMGenerator creates a new LLM-backed query generator.
func NewLLMGenerator(llm LLMClient, prompts *Prompts) *LLMGenerator {
	return &LLMGenerator{llm: llm, prompts: prompts}
}

// Generate writes a candidate query for the question.
func (g *LLMGenerator) Generate(ctx context.Context, req GenerateRequest) (Candidate, error) {
	var sb strings.Builder
	if h := formatHistory(req.History); h != "" {
		sb.WriteString("## Conversation so far\n\n")
		sb.WriteString(h)
		sb.WriteString("\n")
	}
	sb.WriteString("## Question\n\n")
	sb.WriteString(req.Question)

	return g.complete(ctx, buildSystemPrompt(g.prompts.Generate, req.Schema), sb.String())
}

// Fix repairs a query using the reason it was rejected or failed.
func (g *LLMGenerator) Fix(ctx context.Context, req FixRequest) (Candidate, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Question\n\n%s\n\n", req.Question)
	fmt.Fprintf(&sb, "## Previous query\n\n```sql\n%s\n```\n\n", req.PriorQuery)
	if req.Reason != nil {
		fmt.Fprintf(&sb, "## Problem\n\nKind: %s\n%s\n", req.Reason.Kind, req.Reason.Error())
		if len(req.Reason.Candidates) > 0 {
			fmt.Fprintf(&sb, "Possible sources: %s\n", strings.Join(req.Reason.Candidates, ", "))
		}
	}

	return g.complete(ctx, buildSystemPrompt(g.prompts.Fix, req.Schema), sb.String())
}

func (g *LLMGenerator) complete(ctx context.Context, system, user string) (Candidate, error) {
	response, err := g.llm.Complete(ctx, system, user, WithCacheControl())
	if err != nil {
		return Candidate{}, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	sql, explanation, err := parseGenerateResponse(response)
	if err != nil {
		return Candidate{}, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	return Candidate{Query: sql, Explanation: explanation}, nil
}

// LLMIntentAnalyzer implements IntentAnalyzer using an LLM.
type LLMIntentAnalyzer struct {
	llm     LLMClient
	prompts *Prompts
}

// NewLLMIntentAnalyzer creates a new LLM-backed intent analyzer.
func NewLLMIntentAnalyzer(llm LLMClient, prompts *Prompts) *LLMIntentAnalyzer {
	return &LLMIntentAnalyzer{llm: llm, prompts: prompts}
}

// Analyze asks the LLM whether the question needs clarification.
func (a *LLMIntentAnalyzer) Analyze(ctx context.Context, question string, history []Message) (Intent, error) {
	var sb strings.Builder
	if h := formatHistory(windowHistory(history, intentHistoryWindow)); h != "" {
		sb.WriteString("## Recent conversation\n\n")
		sb.WriteString(h)
		sb.WriteString("\n")
	}
	sb.WriteString("## Question\n\n")
	sb.WriteString(question)

	response, err := a.llm.Complete(ctx, a.prompts.Intent, sb.String())
	if err != nil {
		return Intent{}, err
	}
	jsonStr := extractJSON(response)
	if jsonStr == "" {
		return Intent{}, fmt.Errorf("no JSON in intent response")
	}
	var intent Intent
	if err := json.Unmarshal([]byte(jsonStr), &intent); err != nil {
		return Intent{}, fmt.Errorf("failed to parse intent response: %w", err)
	}
	return intent, nil
}

// LLMSummarizer implements Summarizer using an LLM.
type LLMSummarizer struct {
	llm     LLMClient
	prompts *Prompts
}

// NewLLMSummarizer creates a new LLM-backed summarizer.
func NewLLMSummarizer(llm LLMClient, prompts *Prompts) *LLMSummarizer {
	return &LLMSummarizer{llm: llm, prompts: prompts}
}

// Summarize writes the assistant's reply for a finished turn.
func (s *LLMSummarizer) Summarize(ctx context.Context, req SummaryRequest) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Question\n\n%s\n\n", req.Question)
	switch {
	case req.Failure != nil:
		fmt.Fprintf(&sb, "## Outcome\n\nThe query failed: %s\n", req.Failure.Error())
	case req.Result != nil:
		fmt.Fprintf(&sb, "## Results (%d rows", req.Result.Count)
		if req.Result.Truncated {
			sb.WriteString(", truncated")
		}
		sb.WriteString(")\n\n")
		if table := PreviewTable(req.Result, 50); table != "" {
			sb.WriteString(table)
		} else {
			sb.WriteString("No rows.")
		}
		sb.WriteString("\n")
	}

	response, err := s.llm.Complete(ctx, s.prompts.Summarize, sb.String())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(response), nil
}
