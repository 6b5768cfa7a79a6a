// Package catalog holds the read-only node-type definitions that the graph
// and analyzer consult. A catalog is injected rather than global so tests
// can use synthetic node types.
package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/soochol/nodeflow/internal/flow"
	"gopkg.in/yaml.v3"
)

//go:embed builtin.yaml
var builtinYAML []byte

// Catalog looks up node-type definitions synchronously.
type Catalog interface {
	Definition(nodeType string) (*flow.NodeTypeDefinition, bool)
	List() []flow.NodeTypeDefinition
}

// IsTrigger reports whether nodes of nodeType start a flow: either the
// catalog marks the type as a trigger or it is one of the reserved types.
func IsTrigger(c Catalog, nodeType string) bool {
	if flow.IsReservedTrigger(nodeType) {
		return true
	}
	if c == nil {
		return false
	}
	def, ok := c.Definition(nodeType)
	return ok && def.IsTrigger
}

// Registry is a thread-safe Catalog backed by a map.
type Registry struct {
	mu    sync.RWMutex
	types map[string]flow.NodeTypeDefinition
}

var _ Catalog = (*Registry)(nil)

// New creates an empty registry.
func New() *Registry {
	return &Registry{types: make(map[string]flow.NodeTypeDefinition)}
}

// Register adds or replaces a definition after validating its ports.
func (r *Registry) Register(def flow.NodeTypeDefinition) error {
	if def.Type == "" {
		return fmt.Errorf("node type definition has no type")
	}
	if err := checkPorts(def.Type, "input", def.Inputs); err != nil {
		return err
	}
	if err := checkPorts(def.Type, "output", def.Outputs); err != nil {
		return err
	}
	if def.Name == "" {
		def.Name = def.Type
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[def.Type] = def
	return nil
}

func checkPorts(nodeType, kind string, ports []flow.PortDefinition) error {
	seen := make(map[string]bool, len(ports))
	for _, p := range ports {
		if p.ID == "" {
			return fmt.Errorf("node type %q: %s port without id", nodeType, kind)
		}
		if seen[p.ID] {
			return fmt.Errorf("node type %q: duplicate %s port %q", nodeType, kind, p.ID)
		}
		if !p.Type.Valid() {
			return fmt.Errorf("node type %q: %s port %q has unknown type %q", nodeType, kind, p.ID, p.Type)
		}
		seen[p.ID] = true
	}
	return nil
}

// Definition returns a copy of the definition for nodeType.
func (r *Registry) Definition(nodeType string) (*flow.NodeTypeDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.types[nodeType]
	if !ok {
		return nil, false
	}
	return &def, true
}

// List returns all definitions ordered by category, then type.
func (r *Registry) List() []flow.NodeTypeDefinition {
	r.mu.RLock()
	out := make([]flow.NodeTypeDefinition, 0, len(r.types))
	for _, def := range r.types {
		out = append(out, def)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Type < out[j].Type
	})
	return out
}

type catalogFile struct {
	NodeTypes []flow.NodeTypeDefinition `yaml:"node_types"`
}

// LoadYAML registers every definition found in a catalog YAML document.
func (r *Registry) LoadYAML(rd io.Reader) error {
	var f catalogFile
	if err := yaml.NewDecoder(rd).Decode(&f); err != nil {
		return fmt.Errorf("parsing catalog: %w", err)
	}
	for _, def := range f.NodeTypes {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile registers the definitions of a catalog YAML file.
func (r *Registry) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening catalog file: %w", err)
	}
	defer f.Close()
	return r.LoadYAML(f)
}

// Default returns a registry pre-loaded with the built-in node types.
func Default() *Registry {
	r := New()
	if err := r.LoadYAML(bytes.NewReader(builtinYAML)); err != nil {
		panic(fmt.Sprintf("builtin catalog: %v", err))
	}
	return r
}
