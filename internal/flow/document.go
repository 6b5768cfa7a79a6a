package flow

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// DocumentVersion is written into every serialized workflow document.
const DocumentVersion = "1.0"

// WorkflowMeta carries the descriptive fields of a workflow.
type WorkflowMeta struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	IsPublic    bool   `json:"isPublic" yaml:"is_public"`
}

// NodeDocument is the persisted form of a node. Runtime status and outputs
// are not part of the document.
type NodeDocument struct {
	ID       string         `json:"id" yaml:"id"`
	Type     string         `json:"type" yaml:"type"`
	Position Position       `json:"position" yaml:"position"`
	Data     map[string]any `json:"data" yaml:"data"`
}

// Canvas is the editor viewport.
type Canvas struct {
	Pan  Position `json:"pan" yaml:"pan"`
	Zoom float64  `json:"zoom" yaml:"zoom"`
}

// DefaultCanvas is the viewport of a fresh workflow.
func DefaultCanvas() Canvas {
	return Canvas{Zoom: 1}
}

// Document is the portable workflow format used for export, save and
// submission to the execution backend.
type Document struct {
	Version     string         `json:"version" yaml:"version"`
	Workflow    WorkflowMeta   `json:"workflow" yaml:"workflow"`
	Nodes       []NodeDocument `json:"nodes" yaml:"nodes"`
	Connections []Connection   `json:"connections" yaml:"connections"`
	Canvas      Canvas         `json:"canvas" yaml:"canvas"`
}

// Clone returns a copy of d that shares no slices or maps with it. Nested
// values inside node data are copied by reference.
func (d *Document) Clone() *Document {
	cp := *d
	cp.Nodes = make([]NodeDocument, len(d.Nodes))
	for i, n := range d.Nodes {
		n.Data = maps.Clone(n.Data)
		cp.Nodes[i] = n
	}
	cp.Connections = slices.Clone(d.Connections)
	return &cp
}

// Format selects a document encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the encoding from a file extension; JSON is the default.
func FormatFromPath(path string) Format {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml") {
		return FormatYAML
	}
	return FormatJSON
}

// DecodeDocument reads a document in the given format.
func DecodeDocument(r io.Reader, format Format) (*Document, error) {
	var doc Document
	switch format {
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode yaml document: %w", err)
		}
	default:
		if err := json.NewDecoder(r).Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode json document: %w", err)
		}
	}
	if doc.Version == "" {
		doc.Version = DocumentVersion
	}
	for i := range doc.Nodes {
		if doc.Nodes[i].Data == nil {
			doc.Nodes[i].Data = map[string]any{}
		}
	}
	return &doc, nil
}

// EncodeDocument writes doc in the given format.
func EncodeDocument(w io.Writer, doc *Document, format Format) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode yaml document: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode json document: %w", err)
		}
		return nil
	}
}
