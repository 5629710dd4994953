// Package definition loads the declarative deployment document and
// extracts per-machine desired state. A machine block names its backend
// with an explicit type tag; the matching parser is looked up in a
// registry rather than inferred from runtime types, so adding a backend
// kind means registering one parser.
package definition

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Definition is the validated, read-only desired state for one machine
// during a single reconciliation pass.
type Definition struct {
	// Name of the machine within the deployment.
	Name string

	// Backend is the type tag selecting the hypervisor backend.
	Backend string

	// BaseImage is either an absolute path to a disk image or a build
	// reference resolved by the image resolver.
	BaseImage string

	// MemorySizeMB is the machine memory allocation in megabytes.
	MemorySizeMB int

	// Headless starts the machine without an interactive console.
	Headless bool
}

// ValidationError reports a missing or malformed definition attribute.
// It is raised at load time and is fatal; no state is mutated.
type ValidationError struct {
	Machine string
	Field   string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("machine %q: invalid definition: %s: %s", e.Machine, e.Field, e.Reason)
}

// ParseFunc parses one backend's attribute subtree into a Definition.
type ParseFunc func(machine string, attrs *yaml.Node) (*Definition, error)

var parsers = map[string]ParseFunc{}

// Register adds a backend parser under its type tag. Later registrations
// for the same tag replace earlier ones.
func Register(backend string, fn ParseFunc) {
	parsers[backend] = fn
}

// Backends returns whether a parser is registered for the given tag.
func Backends(backend string) bool {
	_, ok := parsers[backend]
	return ok
}

// Document is a parsed deployment document.
type Document struct {
	Name     string                 `yaml:"name"`
	Machines map[string]machineNode `yaml:"machines"`
}

type machineNode struct {
	Backend string    `yaml:"backend"`
	node    yaml.Node `yaml:"-"`
}

func (m *machineNode) UnmarshalYAML(value *yaml.Node) error {
	var header struct {
		Backend string `yaml:"backend"`
	}
	if err := value.Decode(&header); err != nil {
		return err
	}
	m.Backend = header.Backend
	m.node = *value
	return nil
}

// LoadFile reads and parses a deployment document from disk.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read deployment document: %w", err)
	}
	return Load(data)
}

// Load parses a deployment document.
func Load(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse deployment document: %w", err)
	}
	if doc.Name == "" {
		return nil, &ValidationError{Machine: "", Field: "name", Reason: "deployment name is required"}
	}
	return &doc, nil
}

// Machine extracts and validates the Definition for one named machine.
func (d *Document) Machine(name string) (*Definition, error) {
	m, ok := d.Machines[name]
	if !ok {
		return nil, &ValidationError{Machine: name, Field: "machines", Reason: "machine not defined"}
	}
	if m.Backend == "" {
		return nil, &ValidationError{Machine: name, Field: "backend", Reason: "backend type tag is required"}
	}
	parse, ok := parsers[m.Backend]
	if !ok {
		return nil, &ValidationError{Machine: name, Field: "backend", Reason: fmt.Sprintf("unknown backend %q", m.Backend)}
	}

	// Hand the parser its own attribute subtree, keyed by the backend tag.
	attrs := childNode(&m.node, m.Backend)
	if attrs == nil {
		return nil, &ValidationError{Machine: name, Field: m.Backend, Reason: "backend attributes are required"}
	}

	defn, err := parse(name, attrs)
	if err != nil {
		return nil, err
	}
	defn.Name = name
	defn.Backend = m.Backend
	return defn, nil
}

// childNode returns the value node for a key in a YAML mapping node.
func childNode(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}
