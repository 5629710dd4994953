package state

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// deploymentFile is the on-disk document: deployment identity plus one
// record per machine.
type deploymentFile struct {
	UUID     string                    `yaml:"uuid,omitempty"`
	Machines map[string]map[string]any `yaml:"machines"`
}

// FilePersister stores all machine records of one deployment in a single
// YAML file. The file is written with mode 0600 since records carry
// private key material.
type FilePersister struct {
	Path string
}

// NewFilePersister creates a persister for the given state file path.
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{Path: path}
}

func (f *FilePersister) read() (*deploymentFile, error) {
	doc := &deploymentFile{Machines: map[string]map[string]any{}}
	data, err := os.ReadFile(f.Path)
	if os.IsNotExist(err) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", f.Path, err)
	}
	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("failed to parse state file %s: %w", f.Path, err)
	}
	if doc.Machines == nil {
		doc.Machines = map[string]map[string]any{}
	}
	return doc, nil
}

// write commits the document via a temp file and rename, so a crash
// mid-write never leaves a truncated state file behind.
func (f *FilePersister) write(doc *deploymentFile) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to serialise state file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write state file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.Path); err != nil {
		return fmt.Errorf("failed to commit state file %s: %w", f.Path, err)
	}
	return nil
}

// Save implements Persister.
func (f *FilePersister) Save(machine string, record map[string]any) error {
	doc, err := f.read()
	if err != nil {
		return err
	}
	doc.Machines[machine] = record
	return f.write(doc)
}

// Load implements Persister.
func (f *FilePersister) Load(machine string) (map[string]any, bool, error) {
	doc, err := f.read()
	if err != nil {
		return nil, false, err
	}
	record, ok := doc.Machines[machine]
	return record, ok, nil
}

// Delete implements Persister.
func (f *FilePersister) Delete(machine string) error {
	doc, err := f.read()
	if err != nil {
		return err
	}
	delete(doc.Machines, machine)
	return f.write(doc)
}

// UUID returns the persisted deployment UUID, if any.
func (f *FilePersister) UUID() (string, error) {
	doc, err := f.read()
	if err != nil {
		return "", err
	}
	return doc.UUID, nil
}

// SetUUID persists the deployment UUID.
func (f *FilePersister) SetUUID(id string) error {
	doc, err := f.read()
	if err != nil {
		return err
	}
	doc.UUID = id
	return f.write(doc)
}
