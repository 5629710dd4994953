// Package deploy provides deployment-level identity and naming. A
// deployment groups machines under a stable UUID so that resource
// identifiers derived from it are deterministic across reconciliation
// runs: re-invoking create for the same deployment and machine always
// targets the same hypervisor resource.
package deploy

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
)

// IDPrefix is the leading component of every machine resource id.
const IDPrefix = "ops"

// Deployment identifies one deployment and the local directories its
// machines use for key material.
type Deployment struct {
	Name string
	UUID uuid.UUID

	// TempDir holds per-machine key files materialised for SSH access.
	TempDir string
}

// New creates a Deployment with a freshly generated UUID.
func New(name, tempDir string) *Deployment {
	return &Deployment{Name: name, UUID: uuid.New(), TempDir: tempDir}
}

// Load restores a Deployment from a previously persisted UUID string.
func Load(name, id, tempDir string) (*Deployment, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("deployment %q: invalid uuid %q: %w", name, id, err)
	}
	return &Deployment{Name: name, UUID: u, TempDir: tempDir}, nil
}

// MachineID derives the deterministic resource id for a machine.
// Format: ops-<deployment-uuid>-<machine-name>.
func (d *Deployment) MachineID(machine string) string {
	return fmt.Sprintf("%s-%s-%s", IDPrefix, d.UUID, machine)
}

// KeyFilePath returns the path of the materialised private key file for
// a machine.
func (d *Deployment) KeyFilePath(machine string) string {
	return filepath.Join(d.TempDir, fmt.Sprintf("id_%s-%s", IDPrefix, machine))
}
