package runtime

import (
	"container/heap"
	"fmt"
	"sort"
	"strings"

	"github.com/juju/errors"
	"github.com/warriorguo/dagflow/types"
)

// Validate checks graph without executing anything. Any failure is a
// *types.GraphValidationError.
func Validate(graph *types.Graph) error {
	_, err := plan(graph)
	return err
}

// Order returns the execution order of graph. Among nodes that become
// ready together the smaller id goes first, so the order is the same on
// every call.
func Order(graph *types.Graph) ([]string, error) {
	return plan(graph)
}

// plan validates graph and computes its order in the same pass. No order
// is returned unless every check passed.
func plan(graph *types.Graph) ([]string, error) {
	if graph == nil {
		return nil, types.NewGraphValidationError(errors.NotValidf("nil graph"))
	}
	if err := checkNodes(graph); err != nil {
		return nil, types.NewGraphValidationError(err)
	}
	if err := checkEdges(graph); err != nil {
		return nil, types.NewGraphValidationError(err)
	}
	order, err := kahn(graph)
	if err != nil {
		return nil, types.NewGraphValidationError(err)
	}
	return order, nil
}

func checkPorts(node *types.Node, ports []*types.Port, direction types.PortDirection) error {
	seen := make(map[string]bool, len(ports))
	for i, p := range ports {
		field := fmt.Sprintf("node %s %s port %d", node.ID, direction, i)
		if p == nil || p.Name == "" {
			return &types.DefinitionError{Field: field, Reason: "empty port name"}
		}
		if strings.Contains(p.Name, "/") {
			return &types.DefinitionError{Field: field, Reason: fmt.Sprintf("port name %q contains '/'", p.Name)}
		}
		if seen[p.Name] {
			return &types.DefinitionError{Field: field, Reason: fmt.Sprintf("duplicate port %q", p.Name)}
		}
		seen[p.Name] = true
	}
	return nil
}

func checkNodes(graph *types.Graph) error {
	seen := make(map[string]bool, len(graph.Nodes))
	for i, n := range graph.Nodes {
		if n == nil || n.ID == "" {
			return &types.DefinitionError{Field: fmt.Sprintf("node %d", i), Reason: "empty node id"}
		}
		if seen[n.ID] {
			return &types.DuplicateNodeError{NodeID: n.ID}
		}
		seen[n.ID] = true
		if err := checkPorts(n, n.Inputs, types.DirectionInput); err != nil {
			return err
		}
		if err := checkPorts(n, n.Outputs, types.DirectionOutput); err != nil {
			return err
		}
	}
	return nil
}

func lookupPort(graph *types.Graph, nodeID, port string, direction types.PortDirection, ref string) (*types.Port, error) {
	node, exists := graph.Node(nodeID)
	if !exists {
		return nil, &types.UnknownNodeError{NodeID: nodeID, Ref: ref}
	}
	var p *types.Port
	if direction == types.DirectionInput {
		p, exists = node.InputPort(port)
	} else {
		p, exists = node.OutputPort(port)
	}
	if !exists {
		return nil, &types.UnknownPortError{NodeID: nodeID, Port: port, Direction: direction, Ref: ref}
	}
	return p, nil
}

// checkEdges verifies every endpoint, MIME compatibility and that each
// input port has at most one producer.
func checkEdges(graph *types.Graph) error {
	producers := make(map[string]string)
	claim := func(nodeID, port, producer string) error {
		key := nodeID + "\x00" + port
		if first, exists := producers[key]; exists {
			return &types.DuplicateEdgeError{NodeID: nodeID, Port: port, First: first, Second: producer}
		}
		producers[key] = producer
		return nil
	}

	for i, e := range graph.Edges {
		if e == nil {
			return &types.DefinitionError{Field: fmt.Sprintf("edge %d", i), Reason: "nil edge"}
		}
		ref := e.String()
		src, err := lookupPort(graph, e.SourceNode, e.SourcePort, types.DirectionOutput, ref)
		if err != nil {
			return err
		}
		dst, err := lookupPort(graph, e.TargetNode, e.TargetPort, types.DirectionInput, ref)
		if err != nil {
			return err
		}
		if len(types.IntersectMIME(src.MIMETypes, dst.MIMETypes)) == 0 {
			return &types.TypeMismatchError{
				SourceNode: e.SourceNode,
				SourcePort: e.SourcePort,
				Produced:   src.MIMETypes,
				TargetNode: e.TargetNode,
				TargetPort: e.TargetPort,
				Accepted:   dst.MIMETypes,
			}
		}
		if err := claim(e.TargetNode, e.TargetPort, ref); err != nil {
			return err
		}
	}

	for i, ie := range graph.InputEdges {
		if ie == nil || ie.Input == "" {
			return &types.DefinitionError{Field: fmt.Sprintf("input edge %d", i), Reason: "empty input name"}
		}
		ref := ie.String()
		if _, err := lookupPort(graph, ie.TargetNode, ie.TargetPort, types.DirectionInput, ref); err != nil {
			return err
		}
		if err := claim(ie.TargetNode, ie.TargetPort, ref); err != nil {
			return err
		}
	}
	return nil
}

type readySet []string

func (r readySet) Len() int           { return len(r) }
func (r readySet) Less(i, j int) bool { return r[i] < r[j] }
func (r readySet) Swap(i, j int)      { r[i], r[j] = r[j], r[i] }
func (r *readySet) Push(x any)        { *r = append(*r, x.(string)) }
func (r *readySet) Pop() any {
	old := *r
	n := len(old)
	x := old[n-1]
	*r = old[:n-1]
	return x
}

// kahn expects endpoints to be checked already. Parallel edges between two
// nodes each count towards the in-degree.
func kahn(graph *types.Graph) ([]string, error) {
	indegree := make(map[string]int, len(graph.Nodes))
	successors := make(map[string][]string, len(graph.Nodes))
	predecessors := make(map[string][]string, len(graph.Nodes))
	for _, n := range graph.Nodes {
		indegree[n.ID] = 0
	}
	for _, e := range graph.Edges {
		indegree[e.TargetNode]++
		successors[e.SourceNode] = append(successors[e.SourceNode], e.TargetNode)
		predecessors[e.TargetNode] = append(predecessors[e.TargetNode], e.SourceNode)
	}

	ready := &readySet{}
	for _, n := range graph.Nodes {
		if indegree[n.ID] == 0 {
			heap.Push(ready, n.ID)
		}
	}

	order := make([]string, 0, len(graph.Nodes))
	for ready.Len() > 0 {
		id := heap.Pop(ready).(string)
		order = append(order, id)
		for _, next := range successors[id] {
			if indegree[next]--; indegree[next] == 0 {
				heap.Push(ready, next)
			}
		}
	}

	if len(order) < len(graph.Nodes) {
		return nil, &types.CycleDetectedError{Cycle: findCycle(indegree, predecessors)}
	}
	return order, nil
}

// findCycle walks predecessors among the nodes Kahn could not remove. Each
// of them still has such a predecessor, so the walk must revisit a node.
func findCycle(indegree map[string]int, predecessors map[string][]string) []string {
	remaining := make([]string, 0)
	for id, d := range indegree {
		if d > 0 {
			remaining = append(remaining, id)
		}
	}
	if len(remaining) == 0 {
		return nil
	}
	sort.Strings(remaining)

	visitedAt := make(map[string]int)
	path := make([]string, 0)
	current := remaining[0]
	for {
		if at, exists := visitedAt[current]; exists {
			cycle := append([]string(nil), path[at:]...)
			cycle = append(cycle, current)
			// path runs against the edges, flip it
			for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
				cycle[i], cycle[j] = cycle[j], cycle[i]
			}
			return cycle
		}
		visitedAt[current] = len(path)
		path = append(path, current)

		next := ""
		for _, p := range predecessors[current] {
			if indegree[p] > 0 && (next == "" || p < next) {
				next = p
			}
		}
		current = next
	}
}
