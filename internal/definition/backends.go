package definition

import (
	"gopkg.in/yaml.v3"
)

// Backend type tags.
const (
	BackendVirtualBox = "virtualbox"
	BackendLibvirt    = "libvirt"
)

// machineAttrs is the shared attribute trio both backends require.
// Pointer fields distinguish absent from zero-valued attributes.
type machineAttrs struct {
	BaseImage  *string `yaml:"baseImage"`
	MemorySize *int    `yaml:"memorySize"`
	Headless   *bool   `yaml:"headless"`
}

func parseAttrs(machine string, attrs *yaml.Node) (*Definition, error) {
	var a machineAttrs
	if err := attrs.Decode(&a); err != nil {
		return nil, &ValidationError{Machine: machine, Field: "attrs", Reason: err.Error()}
	}
	if a.BaseImage == nil || *a.BaseImage == "" {
		return nil, &ValidationError{Machine: machine, Field: "baseImage", Reason: "required attribute is missing"}
	}
	if a.MemorySize == nil {
		return nil, &ValidationError{Machine: machine, Field: "memorySize", Reason: "required attribute is missing"}
	}
	if *a.MemorySize <= 0 {
		return nil, &ValidationError{Machine: machine, Field: "memorySize", Reason: "must be > 0"}
	}
	if a.Headless == nil {
		return nil, &ValidationError{Machine: machine, Field: "headless", Reason: "required attribute is missing"}
	}
	return &Definition{
		BaseImage:    *a.BaseImage,
		MemorySizeMB: *a.MemorySize,
		Headless:     *a.Headless,
	}, nil
}

func init() {
	Register(BackendVirtualBox, parseAttrs)
	Register(BackendLibvirt, parseAttrs)
}
