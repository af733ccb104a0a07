package graph

import "fmt"

// Builder assembles a set of Subgraphs. Identical registration calls
// across two builds of the same strategy produce observably identical
// graphs, since Builder only ever appends to plain data structures.
type Builder struct {
	subgraphs map[string]*Subgraph
	order     []string
	frozen    bool
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{subgraphs: make(map[string]*Subgraph)}
}

// SubgraphOpts configures a new subgraph at construction time.
type SubgraphOpts struct {
	Start   string
	Finish  string
	ToolCat []string
}

// SubgraphBuilder accumulates nodes and edges for one subgraph.
type SubgraphBuilder struct {
	parent *Builder
	sg     *Subgraph
}

// Subgraph registers a new named subgraph and returns a builder scoped
// to it. Registering the same name twice panics: subgraph names are an
// engine invariant, not a runtime decision.
func (b *Builder) Subgraph(name string, opts SubgraphOpts) *SubgraphBuilder {
	if b.frozen {
		panic("graph: cannot register a subgraph after Build()")
	}
	if _, exists := b.subgraphs[name]; exists {
		panic(fmt.Sprintf("graph: subgraph %q already registered", name))
	}

	sg := &Subgraph{
		Name:    name,
		Start:   opts.Start,
		Finish:  opts.Finish,
		Nodes:   make(map[string]*Node),
		Edges:   make(map[string][]*Edge),
		ToolCat: opts.ToolCat,
	}
	b.subgraphs[name] = sg
	b.order = append(b.order, name)
	return &SubgraphBuilder{parent: b, sg: sg}
}

// Node registers a node inside the active subgraph.
func (sb *SubgraphBuilder) Node(name string, kind NodeKind, fn NodeFunc) *SubgraphBuilder {
	if _, exists := sb.sg.Nodes[name]; exists {
		panic(fmt.Sprintf("graph: node %q already registered in subgraph %q", name, sb.sg.Name))
	}
	sb.sg.Nodes[name] = &Node{Name: name, Kind: kind, Fn: fn}
	return sb
}

// Edge registers a directed edge with a predicate, in insertion order.
// At a branching node, the first edge whose predicate matches is taken.
func (sb *SubgraphBuilder) Edge(from, to string, predicate Predicate) *SubgraphBuilder {
	sb.sg.Edges[from] = append(sb.sg.Edges[from], &Edge{
		From:      from,
		To:        to,
		Predicate: predicate,
		label:     fmt.Sprintf("%s->%s", from, to),
	})
	return sb
}

// Done returns to the parent Builder after validating the subgraph's
// structural invariants.
func (sb *SubgraphBuilder) Done() *Builder {
	if err := sb.sg.validate(); err != nil {
		panic(err.Error())
	}
	return sb.parent
}

// Build freezes the builder and returns the constructed Graph. Further
// registration on this Builder panics.
func (b *Builder) Build() *Graph {
	b.frozen = true
	g := &Graph{subgraphs: make(map[string]*Subgraph, len(b.subgraphs))}
	for name, sg := range b.subgraphs {
		g.subgraphs[name] = sg
	}
	return g
}

// Graph is the immutable, built set of subgraphs ready to run.
type Graph struct {
	subgraphs map[string]*Subgraph
}

// Subgraph looks up a subgraph by name.
func (g *Graph) Subgraph(name string) (*Subgraph, bool) {
	sg, ok := g.subgraphs[name]
	return sg, ok
}
