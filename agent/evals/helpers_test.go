//go:build evals

package evals_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/joho/godotenv"
	"github.com/malbeclabs/lakeql/admin/pkg/sampledata"
	"github.com/malbeclabs/lakeql/agent/pkg/datasource"
	"github.com/malbeclabs/lakeql/agent/pkg/datasource/connect"
	"github.com/malbeclabs/lakeql/agent/pkg/workflow"
	"github.com/stretchr/testify/require"
)

func init() {
	_ = godotenv.Load(".env")
}

func requireAPIKey(t *testing.T) {
	t.Helper()
	if os.Getenv("ANTHROPIC_API_KEY") == "" {
		t.Skip("ANTHROPIC_API_KEY not set, skipping eval test")
	}
}

func testLogger(t *testing.T) *slog.Logger {
	level := slog.LevelInfo
	if _, debug := getDebugLevel(); debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// getDebugLevel parses the DEBUG environment variable
func getDebugLevel() (int, bool) {
	debugLevel := 0
	switch os.Getenv("DEBUG") {
	case "1", "true", "TRUE":
		debugLevel = 1
	case "2":
		debugLevel = 2
	}
	return debugLevel, debugLevel > 0
}

// evalEnv is a workflow over a freshly migrated copy of the sample dataset.
type evalEnv struct {
	workflow *workflow.Workflow
	source   datasource.Source
}

func setupWorkflow(t *testing.T) *evalEnv {
	t.Helper()
	ctx := t.Context()
	log := testLogger(t)

	cfg := datasource.Config{
		Type: datasource.TypeSQLite,
		URL:  filepath.Join(t.TempDir(), "shop.db"),
	}
	require.NoError(t, sampledata.Migrate(ctx, log, cfg))

	src, err := connect.Open(ctx, log, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })

	prompts, err := workflow.LoadPrompts(src.Dialect())
	require.NoError(t, err)

	var llm workflow.LLMClient = workflow.NewAnthropicLLMClient(anthropic.ModelClaudeHaiku4_5, 4096)
	if level, debug := getDebugLevel(); debug {
		llm = &debugLLMClient{LLMClient: llm, t: t, debugLevel: level}
	}

	wf, err := workflow.New(&workflow.Config{
		Logger:     log,
		Catalog:    src,
		Generator:  workflow.NewLLMGenerator(llm, prompts),
		Executor:   src,
		Summarizer: workflow.NewLLMSummarizer(llm, prompts),
		Intent:     workflow.NewLLMIntentAnalyzer(llm, prompts),
		MaxRetries: 4,
	})
	require.NoError(t, err)

	return &evalEnv{workflow: wf, source: src}
}

// debugLLMClient logs prompts and responses when DEBUG is set.
type debugLLMClient struct {
	workflow.LLMClient
	t          *testing.T
	debugLevel int
}

func (c *debugLLMClient) Complete(ctx context.Context, systemPrompt, userPrompt string, opts ...workflow.CompleteOption) (string, error) {
	if c.debugLevel >= 2 {
		c.t.Logf("LLM system prompt:\n%s", systemPrompt)
	}
	c.t.Logf("LLM user prompt:\n%s", userPrompt)
	resp, err := c.LLMClient.Complete(ctx, systemPrompt, userPrompt, opts...)
	if err != nil {
		c.t.Logf("LLM error: %v", err)
		return "", err
	}
	c.t.Logf("LLM response:\n%s", resp)
	return resp, nil
}

// Expectation represents a specific expectation for the evaluator to check
type Expectation struct {
	// Description describes what should be present (e.g., "revenue for the EU region")
	Description string
	// ExpectedValue is the expected value (e.g., "588.40")
	ExpectedValue string
	// Rationale explains why this value is expected (optional, helps the evaluator understand the context)
	Rationale string
}

// evaluateResponse asks the model whether the response answers the question
// with the expected values.
func evaluateResponse(t *testing.T, ctx context.Context, question, response string, expectations ...Expectation) (bool, error) {
	var expectationsSection string
	if len(expectations) > 0 {
		lines := make([]string, 0, len(expectations))
		for i, exp := range expectations {
			line := fmt.Sprintf("%d. %s: %s", i+1, exp.Description, exp.ExpectedValue)
			if exp.Rationale != "" {
				line += fmt.Sprintf(" (%s)", exp.Rationale)
			}
			lines = append(lines, line)
		}
		expectationsSection = fmt.Sprintf(`
Expectations to verify (ALL must be present):
%s

If ALL expectations are met, respond with "YES" even if the response contains additional relevant information.
Only respond with "NO" if one or more expectations are NOT met.
`, strings.Join(lines, "\n"))
	}

	currentDate := time.Now().UTC().Format("January 2, 2006")
	evalPrompt := fmt.Sprintf(`You are evaluating whether an assistant's response correctly answers a user's question about a database.

Current date: %s

Question: %s

Assistant's Response:
%s
%s
IMPORTANT:
- The expectations define the correct values for the test data. Do NOT fact-check against external knowledge.
- Small formatting differences in numbers (rounding to cents, thousands separators) are acceptable.

Respond with only "YES" or "NO" followed by a brief explanation.`, currentDate, question, response, expectationsSection)

	llm := workflow.NewAnthropicLLMClient(anthropic.ModelClaudeHaiku4_5, 1024)
	evalResponse, err := llm.Complete(ctx, "You are a test evaluator. Respond with YES or NO followed by a brief explanation.", evalPrompt)
	if err != nil {
		return false, fmt.Errorf("evaluation API call failed: %w", err)
	}

	verdict := strings.TrimSpace(evalResponse)
	upper := strings.ToUpper(verdict)
	switch {
	case strings.HasPrefix(upper, "YES"):
		t.Logf("Evaluation (PASS): %s", strings.TrimLeft(verdict[3:], ":-\t "))
		return true, nil
	case strings.HasPrefix(upper, "NO"):
		t.Logf("Evaluation (FAIL): %s", strings.TrimLeft(verdict[2:], ":-\t "))
		return false, nil
	}
	t.Logf("Evaluation response was unclear: %s", evalResponse)
	return false, nil
}
