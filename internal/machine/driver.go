// Package machine implements the reconciliation core: the idempotent,
// resumable create state machine and the start/stop/destroy lifecycle
// operations built on the same primitives. All hypervisor access goes
// through the Driver interface; all collaborator access goes through the
// small interfaces in this file, so tests drive the whole engine with
// in-memory doubles.
package machine

import "context"

// PowerState is the observed power state of a resource as reported by
// the backend. The reported state may be unreliable briefly while the
// resource is mid-transition; callers poll rather than trusting a
// single read.
type PowerState string

const (
	StateUnknown    PowerState = "unknown"
	StateRunning    PowerState = "running"
	StateStopping   PowerState = "stopping"
	StatePoweredOff PowerState = "poweroff"
	StateAborted    PowerState = "aborted"
)

// Logical guest-fact keys. Drivers map these onto their backend's
// side-channel metadata interface.
const (
	// FactAddress is the machine's discovered private network address,
	// published by the guest once networking is up.
	FactAddress = "address"

	// FactClientPublicKey is the credential public key published to the
	// guest before start.
	FactClientPublicKey = "clientPublicKey"
)

// NetworkSpec describes the single private network adapter configured
// on a resource.
type NetworkSpec struct {
	// HostAdapter is the host-side adapter the private NIC attaches to.
	HostAdapter string
}

// Driver is the synchronous command boundary to one hypervisor backend.
// Every call blocks for the duration of one external control operation.
// Mutating calls return *CommandError on failure; queries return
// *QueryError when the backend's report is empty or unparseable.
type Driver interface {
	// CreateResource registers a new resource under the given id.
	CreateResource(ctx context.Context, id string) error

	// QueryState reports the resource's current power state.
	QueryState(ctx context.Context, id string) (PowerState, error)

	// SetGuestFact publishes a key/value datum to the resource's
	// metadata side channel.
	SetGuestFact(ctx context.Context, id, key, value string) error

	// GetGuestFact reads a guest-published datum. ok=false means the
	// value is not yet published; that is a retry signal, not an error.
	GetGuestFact(ctx context.Context, id, key string) (value string, ok bool, err error)

	// StartResource powers the resource on.
	StartResource(ctx context.Context, id string, headless bool) error

	// ConfigureResource applies memory and network adapter settings.
	ConfigureResource(ctx context.Context, id string, memoryMB int, network NetworkSpec) error

	// StorageDir locates the resource's storage directory. The directory
	// must already exist once the resource is registered; absence is a
	// *QueryError.
	StorageDir(ctx context.Context, id string) (string, error)

	// CloneDisk copies a base image into a new disk at destPath.
	CloneDisk(ctx context.Context, sourcePath, destPath string) error

	// DiskFileName is the backend's filename for the machine's primary
	// disk inside its storage directory.
	DiskFileName() string

	// AttachStorage creates a storage controller if absent and attaches
	// the disk to the resource.
	AttachStorage(ctx context.Context, id, diskPath string) error

	// PowerOff forcibly powers the resource off. Best-effort: a failure
	// is not fatal, the caller re-polls the power state.
	PowerOff(ctx context.Context, id string) error

	// DeleteResource removes the resource and its attached storage.
	DeleteResource(ctx context.Context, id string) error
}

// ImageResolver resolves a definition's base image reference into a
// local artifact path. It may invoke an external build system; failure
// is fatal for the enclosing create.
type ImageResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// CredentialGenerator produces the per-machine credential keypair.
type CredentialGenerator interface {
	Generate() (privateKey, publicKey string, err error)
}

// TrustStore invalidates a cached host-identity record for an address.
// An address may be reassigned to a different resource over time, so
// stale records must not survive an address change.
type TrustStore interface {
	Invalidate(address string) error
}

// ShutdownRequester asks the running guest to shut itself down
// gracefully, typically over SSH using the machine's credential private
// key. The request only initiates shutdown; the caller polls the power
// state for convergence.
type ShutdownRequester interface {
	RequestShutdown(ctx context.Context, address, privateKey string) error
}
