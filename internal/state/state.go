// Package state holds the persisted provisioning record for each
// machine. The record tracks what has actually been provisioned so that
// a crash or interruption mid-provisioning resumes at the first
// unsatisfied step instead of repeating destructive work.
package state

// Persisted mapping keys. Top-level optional fields are omitted when
// unset; the nested virtualMachine group is always present once any
// create step has run.
const (
	keyResourceID     = "resourceId"
	keyPrivateAddress = "privateAddress"
	keyVirtualMachine = "virtualMachine"
	keyDisk           = "disk"
	keyDiskAttached   = "diskAttached"
	keyStarted        = "started"
	keyPrivateKey     = "credentialPrivateKey"
	keyPublicKey      = "credentialPublicKey"
)

// State is the mutable provisioning record for one machine.
//
// Invariants: DiskAttached implies DiskPath is set; Started implies
// ResourceID is set; PrivateAddress is only set after at least one
// successful start and a completed address discovery.
type State struct {
	ResourceID           string
	PrivateAddress       string
	DiskPath             string
	DiskAttached         bool
	Started              bool
	CredentialPrivateKey string
	CredentialPublicKey  string
}

// Serialise converts the record to its persisted nested-mapping form.
// Optional fields are omitted when unset rather than written as empty.
func (s *State) Serialise() map[string]any {
	x := map[string]any{}
	if s.ResourceID != "" {
		x[keyResourceID] = s.ResourceID
	}
	if s.PrivateAddress != "" {
		x[keyPrivateAddress] = s.PrivateAddress
	}

	y := map[string]any{}
	if s.DiskPath != "" {
		y[keyDisk] = s.DiskPath
	}
	if s.CredentialPrivateKey != "" {
		y[keyPrivateKey] = s.CredentialPrivateKey
	}
	if s.CredentialPublicKey != "" {
		y[keyPublicKey] = s.CredentialPublicKey
	}
	y[keyDiskAttached] = s.DiskAttached
	y[keyStarted] = s.Started
	x[keyVirtualMachine] = y

	return x
}

// Deserialise restores the record from its persisted form. Fields absent
// from the mapping restore to their zero defaults.
func (s *State) Deserialise(x map[string]any) {
	*s = State{}
	s.ResourceID = stringValue(x, keyResourceID)
	s.PrivateAddress = stringValue(x, keyPrivateAddress)

	y, _ := x[keyVirtualMachine].(map[string]any)
	if y == nil {
		return
	}
	s.DiskPath = stringValue(y, keyDisk)
	s.DiskAttached = boolValue(y, keyDiskAttached)
	s.Started = boolValue(y, keyStarted)
	s.CredentialPrivateKey = stringValue(y, keyPrivateKey)
	s.CredentialPublicKey = stringValue(y, keyPublicKey)
}

// Reset returns the record to its fully unset form. Used by destroy once
// the underlying resource and its storage are gone.
func (s *State) Reset() {
	*s = State{}
}

func stringValue(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func boolValue(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}
