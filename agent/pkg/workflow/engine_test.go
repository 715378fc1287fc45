package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// passthrough returns a node set where every body returns its input.
func passthrough() map[Node]NodeFunc {
	nodes := make(map[Node]NodeFunc)
	for n := range transitions {
		nodes[n] = func(_ context.Context, s State) (State, error) { return s, nil }
	}
	return nodes
}

func TestNewEngine_MissingBody(t *testing.T) {
	t.Parallel()

	nodes := passthrough()
	delete(nodes, NodeExecute)
	_, err := NewEngine(nodes, EngineConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing body for node execute")
}

func TestTransitions(t *testing.T) {
	t.Parallel()

	withCatalog := State{Catalog: testSchema()}

	tests := []struct {
		name  string
		from  Node
		state State
		want  Node
	}{
		{"intent clear", NodeIntent, State{}, NodeSchemaLookup},
		{"intent ambiguous", NodeIntent, State{ClarificationNeeded: true}, NodeClarify},
		{"intent resumed", NodeIntent, State{ClarificationResponse: "2024"}, NodeClarify},
		{"clarify suspends", NodeClarify, State{Suspended: true}, NodeDone},
		{"clarify resumes", NodeClarify, State{}, NodeSchemaLookup},
		{"schema ok", NodeSchemaLookup, withCatalog, NodeGenerate},
		{"schema failed", NodeSchemaLookup, State{TerminalError: &Failure{Kind: FailureSchemaUnavailable}}, NodeSummarize},
		{"schema missing", NodeSchemaLookup, State{}, NodeSummarize},
		{"generate ok", NodeGenerate, State{CandidateQuery: "SELECT 1"}, NodeValidate},
		{"generate empty", NodeGenerate, State{}, NodeFix},
		{"validate accepted", NodeValidate, State{ValidatedQuery: "SELECT 1"}, NodeExecute},
		{"validate rejected", NodeValidate, State{CandidateQuery: "SELECT x"}, NodeFix},
		{"execute ok", NodeExecute, State{Result: &QueryResult{}}, NodeSummarize},
		{"execute failed", NodeExecute, State{ExecutionError: "boom"}, NodeFix},
		{"fix retried", NodeFix, State{CandidateQuery: "SELECT 1"}, NodeValidate},
		{"fix exhausted", NodeFix, State{TerminalError: &Failure{Kind: FailureRetryExhausted}}, NodeSummarize},
		{"summarize", NodeSummarize, State{}, NodeDone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, transitions[tt.from](tt.state))
		})
	}
}

func TestEngine_Run_VisitsNodesInOrder(t *testing.T) {
	t.Parallel()

	nodes := passthrough()
	nodes[NodeSchemaLookup] = func(_ context.Context, s State) (State, error) {
		s.Catalog = testSchema()
		return s, nil
	}
	nodes[NodeGenerate] = func(_ context.Context, s State) (State, error) {
		return s.withCandidate(Candidate{Query: "SELECT 1"}), nil
	}
	nodes[NodeValidate] = func(_ context.Context, s State) (State, error) {
		s.ValidatedQuery = s.CandidateQuery
		return s, nil
	}
	nodes[NodeExecute] = func(_ context.Context, s State) (State, error) {
		s.Result = &QueryResult{Count: 1}
		return s, nil
	}

	var visited []Node
	e, err := NewEngine(nodes, EngineConfig{OnNode: func(n Node, _ State) { visited = append(visited, n) }})
	require.NoError(t, err)

	out, err := e.Run(context.Background(), State{Question: "q"})
	require.NoError(t, err)
	assert.Equal(t, []Node{NodeIntent, NodeSchemaLookup, NodeGenerate, NodeValidate, NodeExecute, NodeSummarize}, visited)
	assert.Equal(t, 1, out.Result.Count)
}

func TestEngine_Run_StepLimit(t *testing.T) {
	t.Parallel()

	// A fix body that never gives up loops validate -> fix forever.
	nodes := passthrough()
	nodes[NodeSchemaLookup] = func(_ context.Context, s State) (State, error) {
		s.Catalog = testSchema()
		return s, nil
	}
	e, err := NewEngine(nodes, EngineConfig{MaxSteps: 8})
	require.NoError(t, err)

	_, err = e.Run(context.Background(), State{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeded 8 steps")
}

func TestEngine_Run_RecoversNodeErrors(t *testing.T) {
	t.Parallel()

	nodes := passthrough()
	nodes[NodeSchemaLookup] = func(context.Context, State) (State, error) {
		return State{}, errors.New("catalog down")
	}
	e, err := NewEngine(nodes, EngineConfig{})
	require.NoError(t, err)

	out, err := e.Run(context.Background(), State{Question: "q"})
	require.NoError(t, err)
	require.NotNil(t, out.TerminalError)
	assert.Equal(t, FailureSchemaUnavailable, out.TerminalError.Kind)
	assert.Equal(t, "catalog down", out.TerminalError.Detail)
	assert.Equal(t, "q", out.Question, "recovery applies to the node's input state")
}

func TestEngine_Run_RecoversPanics(t *testing.T) {
	t.Parallel()

	nodes := passthrough()
	nodes[NodeSummarize] = func(context.Context, State) (State, error) {
		panic("nil map")
	}
	nodes[NodeSchemaLookup] = func(_ context.Context, s State) (State, error) {
		return s, errors.New("down")
	}
	e, err := NewEngine(nodes, EngineConfig{})
	require.NoError(t, err)

	out, err := e.Run(context.Background(), State{Question: "q"})
	require.NoError(t, err)
	assert.NotEmpty(t, out.Summary)
	require.Len(t, out.History, 2)
	assert.Equal(t, "q", out.History[0].Content)
}

func TestEngine_Run_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	nodes := passthrough()
	nodes[NodeSchemaLookup] = func(_ context.Context, s State) (State, error) {
		cancel()
		s.Catalog = testSchema()
		return s, nil
	}
	e, err := NewEngine(nodes, EngineConfig{})
	require.NoError(t, err)

	out, err := e.Run(ctx, State{Question: "q"})
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, out.Cancelled)
	assert.Nil(t, out.Catalog, "result of the cancelled node is discarded")
}
