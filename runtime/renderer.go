package runtime

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/warriorguo/dagflow/types"
)

// RenderDOT renders graph in graphviz DOT. Nodes are filled by state:
// white pending or ready, yellow running, green completed, red failed.
// A nil states map renders the bare graph.
func RenderDOT(graph *types.Graph, states map[string]types.NodeState) string {
	records := make(map[string]*types.NodeTraceRecord, len(states))
	for nodeID, state := range states {
		records[nodeID] = &types.NodeTraceRecord{NodeID: nodeID, State: state}
	}
	return newDAGRenderer(records, false).generateDOT(graph)
}

// RenderRecords renders graph colored by recorded node history, each
// record is attached to its node as a DOT comment.
func RenderRecords(graph *types.Graph, records map[string]*types.NodeTraceRecord) string {
	return newDAGRenderer(records, true).generateDOT(graph)
}

func newDAGRenderer(records map[string]*types.NodeTraceRecord, withComment bool) *dagRenderer {
	if records == nil {
		records = make(map[string]*types.NodeTraceRecord)
	}
	return &dagRenderer{records: records, withComment: withComment, sb: &strings.Builder{}}
}

type dagRenderer struct {
	records     map[string]*types.NodeTraceRecord
	withComment bool
	sb          *strings.Builder
}

func (d *dagRenderer) generateDOT(graph *types.Graph) string {
	d.write("digraph D {")
	d.write("rankdir=LR")
	for _, name := range graph.InputNames() {
		d.write("%s [label=%s shape=\"ellipse\"]", inputID(name), quoteString("$"+name))
	}
	for _, node := range graph.Nodes {
		d.drawNode(node)
	}
	for _, ie := range graph.InputEdges {
		d.write("%s -> %s [label=%s]", inputID(ie.Input), idString(ie.TargetNode), quoteString(ie.TargetPort))
	}
	for _, e := range graph.Edges {
		d.write("%s -> %s [label=%s]", idString(e.SourceNode), idString(e.TargetNode),
			quoteString(e.SourcePort+":"+e.TargetPort))
	}
	if graph.Version != "" {
		d.write("label=%s", quoteString("version "+graph.Version))
	}
	d.write("}")
	return d.sb.String()
}

func packToComment(r *types.NodeTraceRecord) string {
	s, _ := json.Marshal(r)
	return formatNL(addSlashes(string(s)))
}

func stateColor(state types.NodeState) string {
	switch state {
	case types.NodeRunning:
		return "yellow"
	case types.NodeCompleted:
		return "green"
	case types.NodeFailed:
		return "red"
	default:
		return "white"
	}
}

func (d *dagRenderer) calcAttr(nodeID string) string {
	record, exists := d.records[nodeID]
	if !exists {
		return " style=\"filled\" color=\"white\""
	}
	attr := fmt.Sprintf(" style=\"filled\" color=\"%s\"", stateColor(record.State))
	if d.withComment {
		attr += fmt.Sprintf(" comment=\"%s\"", packToComment(record))
	}
	return attr
}

func portNames(ports []*types.Port) string {
	names := make([]string, 0, len(ports))
	for _, p := range ports {
		names = append(names, escapeRecord(p.Name))
	}
	return strings.Join(names, "|")
}

// drawNode lays a node out as {inputs}|id: type|{outputs}.
func (d *dagRenderer) drawNode(node *types.Node) {
	label := fmt.Sprintf("{%s}|%s: %s|{%s}", portNames(node.Inputs), escapeRecord(node.ID),
		escapeRecord(node.Type), portNames(node.Outputs))
	d.write("%s [label=%s shape=\"record\"%s]", idString(node.ID), quoteString(label), d.calcAttr(node.ID))
}

func (d *dagRenderer) write(format string, s ...any) {
	d.sb.WriteString(fmt.Sprintf(format+"\n", s...))
}

var (
	slashesToken = []string{"\\", "\"", "'", " "}
	recordTokens = []string{"{", "}", "|", "<", ">"}
)

func addSlashes(s string) string {
	for _, token := range slashesToken {
		s = strings.ReplaceAll(s, token, "\\"+token)
	}
	return s
}

func escapeRecord(s string) string {
	for _, token := range recordTokens {
		s = strings.ReplaceAll(s, token, "\\"+token)
	}
	return s
}

func formatNL(s string) string {
	return strings.ReplaceAll(s, "\n", "\\n")
}

func quoteString(s string) string {
	return "\"" + strings.ReplaceAll(s, "\"", "\\\"") + "\""
}

var idleChars = []string{" ", "'", "\"", "(", ")", "*", "&", "^", "%", "$", "#", "@", "!", "?", "<", ">", "[", "]", "{", "}", ".", "-", "/", ":"}

func idString(s string) string {
	for _, ch := range idleChars {
		s = strings.ReplaceAll(s, ch, "_")
	}
	return "n_" + s
}

func inputID(name string) string {
	return "in_" + strings.TrimPrefix(idString(name), "n_")
}
