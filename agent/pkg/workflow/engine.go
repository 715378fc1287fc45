package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/lakeql/agent/pkg/metrics"
)

// Node names a step of the workflow graph.
type Node string

const (
	NodeIntent       Node = "intent"
	NodeClarify      Node = "clarify"
	NodeSchemaLookup Node = "schema_lookup"
	NodeGenerate     Node = "generate"
	NodeValidate     Node = "validate"
	NodeExecute      Node = "execute"
	NodeFix          Node = "fix"
	NodeSummarize    Node = "summarize"
	NodeDone         Node = "done"
)

// NodeFunc is the body of a node. It must not modify its input state.
type NodeFunc func(ctx context.Context, s State) (State, error)

// transitions maps each node to the edge function evaluated on its output.
var transitions = map[Node]func(State) Node{
	NodeIntent: func(s State) Node {
		if s.ClarificationNeeded || s.ClarificationResponse != "" {
			return NodeClarify
		}
		return NodeSchemaLookup
	},
	NodeClarify: func(s State) Node {
		if s.Suspended {
			return NodeDone
		}
		return NodeSchemaLookup
	},
	NodeSchemaLookup: func(s State) Node {
		if s.TerminalError != nil || s.Catalog == nil {
			return NodeSummarize
		}
		return NodeGenerate
	},
	NodeGenerate: func(s State) Node {
		if s.CandidateQuery == "" {
			return NodeFix
		}
		return NodeValidate
	},
	NodeValidate: func(s State) Node {
		if s.ValidatedQuery != "" {
			return NodeExecute
		}
		return NodeFix
	},
	NodeExecute: func(s State) Node {
		if s.Result != nil {
			return NodeSummarize
		}
		return NodeFix
	},
	NodeFix: func(s State) Node {
		if s.TerminalError != nil {
			return NodeSummarize
		}
		return NodeValidate
	},
	NodeSummarize: func(State) Node {
		return NodeDone
	},
}

// recoveries convert a node error into typed state, applied to the node's
// input state. The result is routed through the normal edges.
var recoveries = map[Node]func(State, error) State{
	NodeIntent: func(s State, _ error) State {
		// Intent analysis fails open.
		s.ClarificationNeeded = false
		return s
	},
	NodeSchemaLookup: func(s State, err error) State {
		s.TerminalError = newFailure(FailureSchemaUnavailable, err)
		s.LastFailure = s.TerminalError
		return s
	},
	NodeGenerate: func(s State, err error) State {
		s = s.withCandidate(Candidate{})
		s.LastFailure = newFailure(FailureGenerationFailed, err)
		return s
	},
	NodeValidate: func(s State, err error) State {
		s.ValidatedQuery = ""
		s.LastFailure = &Failure{Kind: FailureUnsafeStatement, Detail: fmt.Sprintf("validation error: %v", err)}
		return s
	},
	NodeExecute: func(s State, err error) State {
		f := newFailure(FailureExecutionFailed, err)
		s.Result = nil
		s.ExecutionError = f.Error()
		s.LastFailure = f
		return s
	},
	NodeFix: func(s State, err error) State {
		// The attempt counts even though the collaborator failed.
		s.RetryCount++
		s.LastFailure = newFailure(FailureGenerationFailed, err)
		s.TerminalError = retryExhausted(s.LastFailure)
		return s
	},
	NodeSummarize: func(s State, _ error) State {
		return s.finish(fallbackSummary(s))
	},
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	Logger   *slog.Logger
	Clock    clockwork.Clock
	MaxSteps int               // Upper bound on node executions per run
	OnNode   func(Node, State) // Called before each node runs
}

// Engine runs the workflow graph over a set of node bodies.
type Engine struct {
	nodes    map[Node]NodeFunc
	log      *slog.Logger
	clock    clockwork.Clock
	maxSteps int
	onNode   func(Node, State)
}

// NewEngine creates an engine. Every node of the transition table must have
// a body.
func NewEngine(nodes map[Node]NodeFunc, cfg EngineConfig) (*Engine, error) {
	for n := range transitions {
		if nodes[n] == nil {
			return nil, fmt.Errorf("missing body for node %s", n)
		}
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 64
	}
	return &Engine{
		nodes:    nodes,
		log:      cfg.Logger,
		clock:    cfg.Clock,
		maxSteps: cfg.MaxSteps,
		onNode:   cfg.OnNode,
	}, nil
}

func (e *Engine) logDebug(msg string, args ...any) {
	if e.log != nil {
		e.log.Debug(msg, args...)
	}
}

func (e *Engine) logWarn(msg string, args ...any) {
	if e.log != nil {
		e.log.Warn(msg, args...)
	}
}

// Run executes the graph from NodeIntent until NodeDone.
//
// The context is checked between nodes. On cancellation Run returns the last
// completed state with Cancelled set, together with the context error; a
// node result produced after cancellation is discarded.
func (e *Engine) Run(ctx context.Context, s State) (State, error) {
	current := NodeIntent
	for step := 0; current != NodeDone; step++ {
		if step >= e.maxSteps {
			return s, fmt.Errorf("workflow exceeded %d steps at node %s", e.maxSteps, current)
		}
		if err := ctx.Err(); err != nil {
			s.Cancelled = true
			return s, err
		}
		if e.onNode != nil {
			e.onNode(current, s)
		}

		start := e.clock.Now()
		out, err := e.runNode(ctx, current, s)
		duration := e.clock.Since(start)
		metrics.RecordNode(string(current), duration, err)

		if ctxErr := ctx.Err(); ctxErr != nil {
			s.Cancelled = true
			return s, ctxErr
		}
		if err != nil {
			e.logWarn("workflow: node failed", "node", current, "error", err)
			if rec, ok := recoveries[current]; ok {
				out = rec(s, err)
			} else {
				out = s
			}
		}

		next := transitions[current](out)
		e.logDebug("workflow: node complete", "node", current, "next", next, "duration", duration, "retries", out.RetryCount)
		s, current = out, next
	}
	return s, nil
}

// runNode runs one node body, converting a panic into an error.
func (e *Engine) runNode(ctx context.Context, n Node, s State) (out State, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logWarn("workflow: node panicked", "node", n, "panic", r, "stack", string(debug.Stack()))
			out, err = s, fmt.Errorf("panic in %s node: %v", n, r)
		}
	}()
	return e.nodes[n](ctx, s)
}
