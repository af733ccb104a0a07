package graph

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ternarybob/repoagent/pkg/events"
	"github.com/ternarybob/repoagent/pkg/session"
)

// Run is one execution of a workflow: it owns a session store, an event
// bus, and a cancellation signal, and is never shared with another run.
type Run struct {
	ID     string
	Store  *session.Store
	Bus    *events.Bus
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRun creates a fresh Run bound to ctx. Cancelling the returned Run
// (or the parent ctx) causes in-flight and future node invocations to
// fail with *CancelledError at the next node boundary.
func NewRun(ctx context.Context, metrics *events.Metrics) *Run {
	runCtx, cancel := context.WithCancel(ctx)
	if metrics != nil {
		metrics.ActiveRuns.Inc()
	}
	return &Run{
		ID:     uuid.NewString(),
		Store:  session.New(),
		Bus:    events.NewBus(metrics),
		ctx:    runCtx,
		cancel: cancel,
	}
}

// Cancel sets the run's cancellation signal.
func (r *Run) Cancel() { r.cancel() }

// Context returns the run's cancellable context.
func (r *Run) Context() context.Context { return r.ctx }

// RunContext is passed to every node body: a handle on the owning Run
// plus the subgraph currently executing, so node implementations can
// read/write the session store, emit events, and observe cancellation.
type RunContext struct {
	Run      *Run
	Subgraph *Subgraph
}

// Context returns the run's cancellable context, for node bodies that
// perform I/O and must observe cancellation themselves.
func (rc *RunContext) Context() context.Context { return rc.Run.Context() }

// Runtime drives subgraph execution.
type Runtime struct{}

// NewRuntime creates a Runtime. Runtime holds no state of its own; all
// per-execution state lives on the Run.
func NewRuntime() *Runtime { return &Runtime{} }

// Run executes graph's named subgraph start-to-finish against
// initialInput and returns the finish node's output, or an error.
//
// Execution semantics: begin at start, invoke the node, evaluate
// outgoing edges in insertion order against the output, take the first
// match, fail with *NoApplicableEdgeError if none match, and repeat
// until the finish node's output is produced.
func (rt *Runtime) Run(run *Run, g *Graph, subgraphName string, initialInput any) (any, error) {
	sg, ok := g.Subgraph(subgraphName)
	if !ok {
		return nil, &MissingNodeError{Subgraph: subgraphName, Node: "<subgraph>"}
	}
	rc := &RunContext{Run: run, Subgraph: sg}
	return rt.runSubgraph(rc, initialInput)
}

func (rt *Runtime) runSubgraph(rc *RunContext, initialInput any) (any, error) {
	sg := rc.Subgraph
	current := sg.Start
	input := initialInput

	for {
		if err := rc.Context().Err(); err != nil {
			rc.Run.Bus.Emit(events.Error("cancelled"))
			return nil, &CancelledError{}
		}

		node, ok := sg.Nodes[current]
		if !ok {
			return nil, &MissingNodeError{Subgraph: sg.Name, Node: current}
		}

		started := time.Now()
		rc.Run.Bus.Emit(events.NodeStarted(node.Name, node.Kind.String()))

		output, err := node.Fn(rc, input)
		if err != nil {
			rc.Run.Bus.Emit(events.Error(err.Error()))
			return nil, err
		}

		rc.Run.Bus.Emit(events.NodeCompleted(node.Name, time.Since(started).Milliseconds()))

		if current == sg.Finish {
			return output, nil
		}

		next, matched := firstMatch(sg.Edges[current], output)
		if !matched {
			return nil, &NoApplicableEdgeError{Subgraph: sg.Name, Node: current}
		}

		current = next
		input = output
	}
}

// firstMatch evaluates edges' predicates in insertion order and returns
// the first match's destination node name.
func firstMatch(edges []*Edge, output any) (string, bool) {
	for _, e := range edges {
		if e.Predicate(output) {
			return e.To, true
		}
	}
	return "", false
}
