package types

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

const (
	MetaProducer   = "producer"
	MetaNodeType   = "node_type"
	MetaProducedAt = "produced_at"
)

// File is a content-addressed payload. Size and Digest are computed from
// Content on creation; a File is never modified afterwards.
type File struct {
	MIMEType string `json:",omitempty"`
	Size     int64
	Digest   string `json:",omitempty"`
	Content  []byte `json:",omitempty"`
}

// NewFile copies content and computes its size and sha256 digest.
func NewFile(mimeType string, content []byte) *File {
	c := append([]byte(nil), content...)
	sum := sha256.Sum256(c)
	return &File{
		MIMEType: NormalizeMIME(mimeType),
		Size:     int64(len(c)),
		Digest:   hex.EncodeToString(sum[:]),
		Content:  c,
	}
}

func NewTextFile(text string) *File {
	return NewFile(MIMEText, []byte(text))
}

// Bytes returns a copy of the content.
func (f *File) Bytes() []byte {
	return append([]byte(nil), f.Content...)
}

func (f *File) Text() string {
	return string(f.Content)
}

// FileExecutionData is the persisted record of one node's one output.
type FileExecutionData struct {
	RunID    string
	NodeID   string
	Port     string
	File     *File
	Metadata Data `json:",omitempty"`
}

// NewFileExecutionData stamps the producing node and time into the
// metadata blob.
func NewFileExecutionData(runID string, node *Node, port string, file *File, at time.Time) *FileExecutionData {
	return &FileExecutionData{
		RunID:  runID,
		NodeID: node.ID,
		Port:   port,
		File:   file,
		Metadata: Data{
			MetaProducer:   node.ID,
			MetaNodeType:   node.Type,
			MetaProducedAt: at.UTC().Format(time.RFC3339Nano),
		},
	}
}

// PortOutputs maps output port -> data for one node.
type PortOutputs map[string]*FileExecutionData

// RunOutputs maps node id -> port outputs.
type RunOutputs map[string]PortOutputs

func (r RunOutputs) Clone() RunOutputs {
	c := make(RunOutputs, len(r))
	for node, ports := range r {
		pc := make(PortOutputs, len(ports))
		for p, d := range ports {
			pc[p] = d
		}
		c[node] = pc
	}
	return c
}
