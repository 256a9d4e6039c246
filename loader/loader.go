package loader

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/juju/errors"
	"github.com/warriorguo/dagflow/functions"
	"github.com/warriorguo/dagflow/types"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// SupportedMajor is the only graph version major this loader reads.
const SupportedMajor = "v1"

// DefaultVersion is assumed when a document has no version tag.
const DefaultVersion = "v1.0.0"

type portDoc struct {
	Name     string   `yaml:"name"`
	MIME     []string `yaml:"mime,flow"`
	Optional bool     `yaml:"optional,omitempty"`
}

type nodeDoc struct {
	ID      string         `yaml:"id"`
	Type    string         `yaml:"type"`
	Config  map[string]any `yaml:"config,omitempty"`
	Inputs  []portDoc      `yaml:"inputs,omitempty"`
	Outputs []portDoc      `yaml:"outputs,omitempty"`
}

type edgeDoc struct {
	Source     string `yaml:"source"`
	SourcePort string `yaml:"source_port"`
	Target     string `yaml:"target"`
	TargetPort string `yaml:"target_port"`
}

type inputEdgeDoc struct {
	Input      string `yaml:"input"`
	Target     string `yaml:"target"`
	TargetPort string `yaml:"target_port"`
}

// document is the on-disk form of a workflow graph. JSON documents are
// read through the same YAML decoder.
type document struct {
	Version    string         `yaml:"version,omitempty"`
	Nodes      []nodeDoc      `yaml:"nodes"`
	Edges      []edgeDoc      `yaml:"edges,omitempty"`
	InputEdges []inputEdgeDoc `yaml:"input_edges,omitempty"`
}

func definitionError(field, format string, args ...any) error {
	return &types.DefinitionError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Parse reads a YAML or JSON workflow definition. Schema violations are
// *types.DefinitionError, a version with another major is
// *types.UnsupportedVersionError. Graph level checks such as cycles are
// left to runtime.Validate.
func Parse(b []byte) (*types.Graph, error) {
	return Decode(bytes.NewReader(b))
}

func Decode(r io.Reader) (*types.Graph, error) {
	doc := &document{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(doc); err != nil {
		if err == io.EOF {
			return nil, definitionError("document", "empty")
		}
		return nil, definitionError("document", "%v", err)
	}
	return doc.graph()
}

// LoadFile parses the definition at path.
func LoadFile(path string) (*types.Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Annotatef(err, "open workflow definition %s", path)
	}
	defer f.Close()

	g, err := Decode(f)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// canonicalVersion accepts "1.2.3" as well as "v1.2.3".
func canonicalVersion(v string) (string, error) {
	if v == "" {
		return DefaultVersion, nil
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return "", definitionError("version", "%q is not a semantic version", v)
	}
	if semver.Major(v) != SupportedMajor {
		return "", &types.UnsupportedVersionError{Version: v, Supported: SupportedMajor + ".x"}
	}
	return v, nil
}

func (d *document) graph() (*types.Graph, error) {
	version, err := canonicalVersion(d.Version)
	if err != nil {
		return nil, err
	}

	g := &types.Graph{Version: version}
	for i := range d.Nodes {
		n, err := d.Nodes[i].node(i)
		if err != nil {
			return nil, err
		}
		g.Nodes = append(g.Nodes, n)
	}
	for i, e := range d.Edges {
		field := fmt.Sprintf("edges[%d]", i)
		if e.Source == "" || e.SourcePort == "" || e.Target == "" || e.TargetPort == "" {
			return nil, definitionError(field, "source, source_port, target and target_port are required")
		}
		g.Edges = append(g.Edges, &types.Edge{
			SourceNode: e.Source,
			SourcePort: e.SourcePort,
			TargetNode: e.Target,
			TargetPort: e.TargetPort,
		})
	}
	for i, ie := range d.InputEdges {
		field := fmt.Sprintf("input_edges[%d]", i)
		if ie.Input == "" || ie.Target == "" || ie.TargetPort == "" {
			return nil, definitionError(field, "input, target and target_port are required")
		}
		g.InputEdges = append(g.InputEdges, &types.InputEdge{
			Input:      ie.Input,
			TargetNode: ie.Target,
			TargetPort: ie.TargetPort,
		})
	}
	return g, nil
}

// node falls back to the builtin ports of the node type when the document
// declares no ports at all.
func (n *nodeDoc) node(i int) (*types.Node, error) {
	field := fmt.Sprintf("nodes[%d]", i)
	if n.ID == "" {
		return nil, definitionError(field, "id is required")
	}
	if n.Type == "" {
		return nil, definitionError(field, "type of node %s is required", n.ID)
	}

	node := &types.Node{ID: n.ID, Type: n.Type, Config: types.Data(n.Config)}
	if len(n.Inputs) == 0 && len(n.Outputs) == 0 {
		if inputs, outputs, ok := functions.DefaultPorts(n.Type, node.Config); ok {
			node.Inputs, node.Outputs = inputs, outputs
			return node, nil
		}
	}

	var err error
	if node.Inputs, err = ports(field+".inputs", n.Inputs); err != nil {
		return nil, err
	}
	if node.Outputs, err = ports(field+".outputs", n.Outputs); err != nil {
		return nil, err
	}
	return node, nil
}

func ports(field string, docs []portDoc) ([]*types.Port, error) {
	out := make([]*types.Port, 0, len(docs))
	for i, p := range docs {
		f := fmt.Sprintf("%s[%d]", field, i)
		if p.Name == "" {
			return nil, definitionError(f, "name is required")
		}
		if strings.Contains(p.Name, "/") {
			return nil, definitionError(f, "port name %q must not contain '/'", p.Name)
		}
		if len(p.MIME) == 0 {
			return nil, definitionError(f, "port %s declares no MIME type", p.Name)
		}
		mimeTypes := make([]string, 0, len(p.MIME))
		for _, m := range p.MIME {
			mimeTypes = append(mimeTypes, types.NormalizeMIME(m))
		}
		out = append(out, &types.Port{Name: p.Name, MIMETypes: mimeTypes, Optional: p.Optional})
	}
	return out, nil
}

func portDocs(ports []*types.Port) []portDoc {
	docs := make([]portDoc, 0, len(ports))
	for _, p := range ports {
		docs = append(docs, portDoc{Name: p.Name, MIME: p.MIMETypes, Optional: p.Optional})
	}
	return docs
}

// Marshal writes graph as a YAML definition that Parse reads back.
func Marshal(graph *types.Graph) ([]byte, error) {
	if graph == nil {
		return nil, errors.NotValidf("nil graph")
	}
	doc := &document{Version: graph.Version}
	for _, n := range graph.Nodes {
		doc.Nodes = append(doc.Nodes, nodeDoc{
			ID:      n.ID,
			Type:    n.Type,
			Config:  n.Config,
			Inputs:  portDocs(n.Inputs),
			Outputs: portDocs(n.Outputs),
		})
	}
	for _, e := range graph.Edges {
		doc.Edges = append(doc.Edges, edgeDoc{Source: e.SourceNode, SourcePort: e.SourcePort, Target: e.TargetNode, TargetPort: e.TargetPort})
	}
	for _, ie := range graph.InputEdges {
		doc.InputEdges = append(doc.InputEdges, inputEdgeDoc{Input: ie.Input, Target: ie.TargetNode, TargetPort: ie.TargetPort})
	}

	b, err := yaml.Marshal(doc)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return b, nil
}
