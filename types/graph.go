package types

import (
	"fmt"
	"sort"
	"strings"
)

const (
	MIMEText = "text/plain"
	MIMEJSON = "application/json"
	// MIMEJSONLines is one JSON value per line.
	MIMEJSONLines = "application/jsonl"
)

// NormalizeMIME lowercases a MIME tag and strips any parameters, so
// "Text/Plain; charset=utf-8" compares equal to "text/plain".
func NormalizeMIME(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

// IntersectMIME returns the sorted, normalized tags present in both sets.
func IntersectMIME(a, b []string) []string {
	set := make(map[string]bool, len(a))
	for _, m := range a {
		set[NormalizeMIME(m)] = true
	}
	out := make([]string, 0)
	seen := make(map[string]bool)
	for _, m := range b {
		m = NormalizeMIME(m)
		if set[m] && !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}

// Port is a named input or output slot on a node.
type Port struct {
	Name string
	// MIMETypes is the accepted set for an input port and the produced set
	// for an output port.
	MIMETypes []string
	// Optional input ports may be left unwired.
	Optional bool
}

func (p *Port) Accepts(mimeType string) bool {
	mimeType = NormalizeMIME(mimeType)
	for _, m := range p.MIMETypes {
		if NormalizeMIME(m) == mimeType {
			return true
		}
	}
	return false
}

// Node is one processing step. Type selects the function in the registry,
// Config is handed to that function unchanged.
type Node struct {
	ID      string
	Type    string
	Config  Data
	Inputs  []*Port
	Outputs []*Port
}

func findPort(ports []*Port, name string) (*Port, bool) {
	for _, p := range ports {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

func (n *Node) InputPort(name string) (*Port, bool) {
	return findPort(n.Inputs, name)
}

func (n *Node) OutputPort(name string) (*Port, bool) {
	return findPort(n.Outputs, name)
}

// Edge links a source output port to a target input port.
type Edge struct {
	SourceNode string
	SourcePort string
	TargetNode string
	TargetPort string
}

func (e *Edge) String() string {
	return fmt.Sprintf("%s.%s -> %s.%s", e.SourceNode, e.SourcePort, e.TargetNode, e.TargetPort)
}

// InputEdge binds a named workflow input to a node input port.
type InputEdge struct {
	Input      string
	TargetNode string
	TargetPort string
}

func (e *InputEdge) String() string {
	return fmt.Sprintf("$%s -> %s.%s", e.Input, e.TargetNode, e.TargetPort)
}

// Graph is a workflow definition. It is built once per run and never
// mutated while executing.
type Graph struct {
	Version    string
	Nodes      []*Node
	Edges      []*Edge
	InputEdges []*InputEdge
}

// Node looks a node up by id, the first match wins.
func (g *Graph) Node(id string) (*Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return nil, false
}

// IncomingEdges returns the edges whose target is nodeID, in definition order.
func (g *Graph) IncomingEdges(nodeID string) []*Edge {
	edges := make([]*Edge, 0)
	for _, e := range g.Edges {
		if e.TargetNode == nodeID {
			edges = append(edges, e)
		}
	}
	return edges
}

// IsTerminal reports whether no edge leaves nodeID.
func (g *Graph) IsTerminal(nodeID string) bool {
	for _, e := range g.Edges {
		if e.SourceNode == nodeID {
			return false
		}
	}
	return true
}

// InputNames lists the distinct workflow input names, sorted.
func (g *Graph) InputNames() []string {
	seen := make(map[string]bool)
	names := make([]string, 0, len(g.InputEdges))
	for _, ie := range g.InputEdges {
		if !seen[ie.Input] {
			seen[ie.Input] = true
			names = append(names, ie.Input)
		}
	}
	sort.Strings(names)
	return names
}
