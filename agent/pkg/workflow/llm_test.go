package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLLM struct {
	response string
	err      error

	system string
	user   string
	opts   CompleteOptions
}

func (f *fakeLLM) Complete(_ context.Context, system, user string, opts ...CompleteOption) (string, error) {
	f.system, f.user = system, user
	f.opts = CompleteOptions{}
	for _, opt := range opts {
		opt(&f.opts)
	}
	return f.response, f.err
}

func testPrompts(t *testing.T) *Prompts {
	t.Helper()
	p, err := LoadPrompts("ClickHouse")
	require.NoError(t, err)
	return p
}

func TestLoadPrompts(t *testing.T) {
	t.Parallel()

	p := testPrompts(t)
	for name, prompt := range map[string]string{
		"generate":  p.Generate,
		"fix":       p.Fix,
		"intent":    p.Intent,
		"summarize": p.Summarize,
	} {
		assert.NotEmpty(t, prompt, name)
		assert.NotContains(t, prompt, "{{DIALECT}}", name)
	}
	assert.Contains(t, p.Generate, "ClickHouse")

	generic, err := LoadPrompts("")
	require.NoError(t, err)
	assert.Contains(t, generic.Generate, "over a SQL database")
}

func TestLLMGenerator_Generate(t *testing.T) {
	t.Parallel()

	llm := &fakeLLM{response: `{"sql": "SELECT region FROM sales;", "explanation": "regions"}`}
	g := NewLLMGenerator(llm, testPrompts(t))

	c, err := g.Generate(context.Background(), GenerateRequest{
		Question: "list regions",
		Schema:   "sales:\n  - region (String)\n",
		History: []Message{
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, Content: "hello", Query: "SELECT 1"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, Candidate{Query: "SELECT region FROM sales", Explanation: "regions"}, c)

	assert.True(t, llm.opts.CacheSystemPrompt)
	assert.Contains(t, llm.system, "## Database Schema")
	assert.Contains(t, llm.system, "region (String)")
	assert.Contains(t, llm.user, "user: hi")
	assert.Contains(t, llm.user, "(query: SELECT 1)")
	assert.Contains(t, llm.user, "## Question\n\nlist regions")
}

func TestLLMGenerator_Fix(t *testing.T) {
	t.Parallel()

	llm := &fakeLLM{response: "```sql\nSELECT s.region FROM sales s JOIN customers c ON s.customer_id = c.id\n```"}
	g := NewLLMGenerator(llm, testPrompts(t))

	c, err := g.Fix(context.Background(), FixRequest{
		Question:   "regions",
		PriorQuery: "SELECT region FROM sales s JOIN customers c ON s.customer_id = c.id",
		Reason:     &Failure{Kind: FailureAmbiguousColumn, Column: "region", Candidates: []string{"s", "c"}},
		Schema:     "schema",
	})
	require.NoError(t, err)
	assert.Equal(t, "SELECT s.region FROM sales s JOIN customers c ON s.customer_id = c.id", c.Query)

	assert.Contains(t, llm.user, "## Previous query")
	assert.Contains(t, llm.user, "Kind: ambiguous_column")
	assert.Contains(t, llm.user, "Possible sources: s, c")
}

func TestLLMGenerator_Errors(t *testing.T) {
	t.Parallel()

	t.Run("llm error", func(t *testing.T) {
		t.Parallel()
		g := NewLLMGenerator(&fakeLLM{err: errors.New("429")}, testPrompts(t))
		_, err := g.Generate(context.Background(), GenerateRequest{Question: "q"})
		require.ErrorIs(t, err, ErrGenerationFailed)
	})

	t.Run("unparseable", func(t *testing.T) {
		t.Parallel()
		g := NewLLMGenerator(&fakeLLM{response: "I don't know."}, testPrompts(t))
		_, err := g.Fix(context.Background(), FixRequest{Question: "q", PriorQuery: "SELECT 1"})
		require.ErrorIs(t, err, ErrGenerationFailed)
	})
}

func TestLLMIntentAnalyzer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		response string
		want     Intent
		wantErr  bool
	}{
		{
			name:     "clear",
			response: `{"ambiguous": false, "reasoning": "names a metric"}`,
			want:     Intent{Reasoning: "names a metric"},
		},
		{
			name:     "ambiguous in code block",
			response: "```json\n{\"ambiguous\": true, \"clarification_question\": \"Which data?\", \"reasoning\": \"one word\"}\n```",
			want:     Intent{Ambiguous: true, Question: "Which data?", Reasoning: "one word"},
		},
		{
			name:     "no json",
			response: "looks fine",
			wantErr:  true,
		},
		{
			name:     "malformed json",
			response: `{"ambiguous": "maybe"}`,
			wantErr:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := NewLLMIntentAnalyzer(&fakeLLM{response: tt.response}, testPrompts(t))
			got, err := a.Analyze(context.Background(), "data", nil)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLLMIntentAnalyzer_UsesRecentHistory(t *testing.T) {
	t.Parallel()

	llm := &fakeLLM{response: `{"ambiguous": false}`}
	a := NewLLMIntentAnalyzer(llm, testPrompts(t))
	history := []Message{
		{Role: RoleUser, Content: "oldest"},
		{Role: RoleAssistant, Content: "m2"},
		{Role: RoleUser, Content: "m3"},
		{Role: RoleAssistant, Content: "m4"},
	}

	_, err := a.Analyze(context.Background(), "and that one?", history)
	require.NoError(t, err)
	assert.NotContains(t, llm.user, "oldest")
	assert.Contains(t, llm.user, "assistant: m4")
	assert.False(t, llm.opts.CacheSystemPrompt)
}

func TestLLMSummarizer(t *testing.T) {
	t.Parallel()

	t.Run("result", func(t *testing.T) {
		t.Parallel()
		llm := &fakeLLM{response: "  EMEA leads.\n"}
		s := NewLLMSummarizer(llm, testPrompts(t))
		r := testResult()
		r.Truncated = true

		got, err := s.Summarize(context.Background(), SummaryRequest{Question: "revenue", Result: r})
		require.NoError(t, err)
		assert.Equal(t, "EMEA leads.", got)
		assert.Contains(t, llm.user, "## Results (2 rows, truncated)")
		assert.Contains(t, llm.user, "| emea | 120.5 |")
	})

	t.Run("empty result", func(t *testing.T) {
		t.Parallel()
		llm := &fakeLLM{response: "Nothing found."}
		s := NewLLMSummarizer(llm, testPrompts(t))

		_, err := s.Summarize(context.Background(), SummaryRequest{Question: "q", Result: &QueryResult{}})
		require.NoError(t, err)
		assert.Contains(t, llm.user, "No rows.")
	})

	t.Run("failure", func(t *testing.T) {
		t.Parallel()
		llm := &fakeLLM{response: "Sorry."}
		s := NewLLMSummarizer(llm, testPrompts(t))

		_, err := s.Summarize(context.Background(), SummaryRequest{
			Question: "q",
			Failure:  &Failure{Kind: FailureUnknownTable, Table: "orders"},
		})
		require.NoError(t, err)
		assert.Contains(t, llm.user, "The query failed: unknown table: orders")
	})
}
