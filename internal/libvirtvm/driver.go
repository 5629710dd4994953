package libvirtvm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/digitalocean/go-libvirt"
	"libvirt.org/go/libvirtxml"

	"github.com/atsukotakahashi/ops/internal/command"
	"github.com/atsukotakahashi/ops/internal/machine"
)

const (
	// DefaultStorageBase is the directory machine storage lives under.
	DefaultStorageBase = "/var/lib/libvirt/images"

	// diskFileName is the primary disk's filename inside the machine's
	// storage directory.
	diskFileName = "disk1.qcow2"
)

// Driver drives a libvirt hypervisor.
type Driver struct {
	// Client is the libvirt connection.
	Client libvirtClient

	// Runner executes qemu-img for disk clones; defaults to
	// command.ExecRunner.
	Runner command.Runner

	// StorageBase overrides the machine storage base directory.
	StorageBase string
}

var _ machine.Driver = (*Driver)(nil)

func (d *Driver) runner() command.Runner {
	if d.Runner == nil {
		return command.ExecRunner{}
	}
	return d.Runner
}

func (d *Driver) storageBase() string {
	if d.StorageBase == "" {
		return DefaultStorageBase
	}
	return d.StorageBase
}

func (d *Driver) lookup(id string) (libvirt.Domain, error) {
	dom, err := d.Client.DomainLookupByName(id)
	if err != nil {
		return libvirt.Domain{}, fmt.Errorf("domain %s not found: %w", id, err)
	}
	return dom, nil
}

// currentXML fetches and parses the domain's current definition.
func (d *Driver) currentXML(dom libvirt.Domain) (*libvirtxml.Domain, error) {
	raw, err := d.Client.DomainGetXMLDesc(dom, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch domain XML: %w", err)
	}
	var domain libvirtxml.Domain
	if err := domain.Unmarshal(raw); err != nil {
		return nil, fmt.Errorf("failed to parse domain XML: %w", err)
	}
	return &domain, nil
}

// redefine applies a mutated definition back to libvirt. Defining a
// domain under an existing name updates its persistent configuration.
func (d *Driver) redefine(domain *libvirtxml.Domain) error {
	raw, err := domain.Marshal()
	if err != nil {
		return fmt.Errorf("failed to generate domain XML: %w", err)
	}
	if _, err := d.Client.DomainDefineXML(raw); err != nil {
		return fmt.Errorf("failed to define domain: %w", err)
	}
	return nil
}

// CreateResource defines a minimal domain and creates its storage
// directory.
func (d *Driver) CreateResource(_ context.Context, id string) error {
	xml, err := baseDomainXML(id)
	if err != nil {
		return &machine.CommandError{Op: "define domain", Err: err}
	}
	if _, err := d.Client.DomainDefineXML(xml); err != nil {
		return &machine.CommandError{Op: "define domain", Err: err}
	}
	dir := filepath.Join(d.storageBase(), id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &machine.CommandError{Op: "create storage dir", Err: err}
	}
	return nil
}

// QueryState maps the domain state onto the shared power-state set.
func (d *Driver) QueryState(_ context.Context, id string) (machine.PowerState, error) {
	dom, err := d.lookup(id)
	if err != nil {
		return machine.StateUnknown, &machine.QueryError{Op: "domain state", Err: err}
	}
	st, _, err := d.Client.DomainGetState(dom, 0)
	if err != nil {
		return machine.StateUnknown, &machine.QueryError{Op: "domain state", Err: err}
	}
	switch libvirt.DomainState(st) {
	case libvirt.DomainRunning:
		return machine.StateRunning, nil
	case libvirt.DomainShutdown:
		return machine.StateStopping, nil
	case libvirt.DomainShutoff:
		return machine.StatePoweredOff, nil
	case libvirt.DomainCrashed:
		return machine.StateAborted, nil
	default:
		return machine.StateUnknown, nil
	}
}

// SetGuestFact stores a fact in the domain's metadata. An empty value
// clears the fact.
func (d *Driver) SetGuestFact(_ context.Context, id, key, value string) error {
	dom, err := d.lookup(id)
	if err != nil {
		return &machine.CommandError{Op: "set guest fact", Err: err}
	}
	facts, err := loadFacts(d.Client, dom)
	if err != nil {
		return &machine.CommandError{Op: "set guest fact", Err: err}
	}
	if value == "" {
		delete(facts, key)
	} else {
		facts[key] = value
	}
	if err := storeFacts(d.Client, dom, facts); err != nil {
		return &machine.CommandError{Op: "set guest fact", Err: err}
	}
	return nil
}

// GetGuestFact reads a guest-published fact. The address fact comes from
// the hypervisor's DHCP lease table for the domain; everything else from
// domain metadata. An address not yet leased is a retry signal.
func (d *Driver) GetGuestFact(_ context.Context, id, key string) (string, bool, error) {
	dom, err := d.lookup(id)
	if err != nil {
		return "", false, &machine.QueryError{Op: "get guest fact", Err: err}
	}

	if key == machine.FactAddress {
		ifaces, err := d.Client.DomainInterfaceAddresses(dom, uint32(libvirt.DomainInterfaceAddressesSrcLease), 0)
		if err != nil {
			// The lease table is unavailable while the domain is still
			// coming up; retry rather than fail.
			return "", false, nil
		}
		for _, iface := range ifaces {
			for _, addr := range iface.Addrs {
				if addr.Addr != "" {
					return addr.Addr, true, nil
				}
			}
		}
		return "", false, nil
	}

	facts, err := loadFacts(d.Client, dom)
	if err != nil {
		return "", false, &machine.QueryError{Op: "get guest fact", Err: err}
	}
	value, ok := facts[key]
	return value, ok, nil
}

// StartResource materialises the credential seed ISO from the published
// facts and powers the domain on. libvirt domains have no interactive
// window to suppress; headless only governs whether a viewer is attached
// later, so it is accepted and ignored here.
func (d *Driver) StartResource(_ context.Context, id string, _ bool) error {
	dom, err := d.lookup(id)
	if err != nil {
		return &machine.CommandError{Op: "start domain", Err: err}
	}

	facts, err := loadFacts(d.Client, dom)
	if err != nil {
		return &machine.CommandError{Op: "start domain", Err: err}
	}
	if publicKey := facts[machine.FactClientPublicKey]; publicKey != "" {
		iso, err := buildSeedISO(publicKey)
		if err != nil {
			return &machine.CommandError{Op: "build seed iso", Err: err}
		}
		isoPath := filepath.Join(d.storageBase(), id, seedISOFileName)
		if err := os.WriteFile(isoPath, iso, 0o644); err != nil {
			return &machine.CommandError{Op: "write seed iso", Err: err}
		}
		domain, err := d.currentXML(dom)
		if err != nil {
			return &machine.CommandError{Op: "attach seed iso", Err: err}
		}
		applySeedISO(domain, isoPath)
		if err := d.redefine(domain); err != nil {
			return &machine.CommandError{Op: "attach seed iso", Err: err}
		}
	}

	if err := d.Client.DomainCreate(dom); err != nil {
		return &machine.CommandError{Op: "start domain", Err: err}
	}
	return nil
}

// ConfigureResource applies memory and network adapter settings to the
// persistent domain definition.
func (d *Driver) ConfigureResource(_ context.Context, id string, memoryMB int, network machine.NetworkSpec) error {
	dom, err := d.lookup(id)
	if err != nil {
		return &machine.CommandError{Op: "configure domain", Err: err}
	}
	domain, err := d.currentXML(dom)
	if err != nil {
		return &machine.CommandError{Op: "configure domain", Err: err}
	}
	applyConfiguration(domain, memoryMB, network.HostAdapter)
	if err := d.redefine(domain); err != nil {
		return &machine.CommandError{Op: "configure domain", Err: err}
	}
	return nil
}

// StorageDir locates the machine's storage directory, which must exist
// once the domain is defined.
func (d *Driver) StorageDir(_ context.Context, id string) (string, error) {
	dir := filepath.Join(d.storageBase(), id)
	fi, err := os.Stat(dir)
	if err != nil || !fi.IsDir() {
		return "", &machine.QueryError{Op: "locate storage dir", Err: fmt.Errorf("machine directory %s does not exist", dir)}
	}
	return dir, nil
}

// DiskFileName implements machine.Driver.
func (d *Driver) DiskFileName() string { return diskFileName }

// CloneDisk copies the base image into a new qcow2 disk via qemu-img.
func (d *Driver) CloneDisk(ctx context.Context, sourcePath, destPath string) error {
	err := d.runner().Run(ctx, "qemu-img", "convert", "-O", "qcow2", sourcePath, destPath)
	if err != nil {
		return &machine.CommandError{Op: "qemu-img convert", Err: err}
	}
	return nil
}

// AttachStorage adds the disk to the persistent domain definition.
func (d *Driver) AttachStorage(_ context.Context, id, diskPath string) error {
	dom, err := d.lookup(id)
	if err != nil {
		return &machine.CommandError{Op: "attach storage", Err: err}
	}
	domain, err := d.currentXML(dom)
	if err != nil {
		return &machine.CommandError{Op: "attach storage", Err: err}
	}
	applyDisk(domain, diskPath)
	if err := d.redefine(domain); err != nil {
		return &machine.CommandError{Op: "attach storage", Err: err}
	}
	return nil
}

// PowerOff forcibly stops the domain. Best-effort; the caller re-polls.
func (d *Driver) PowerOff(_ context.Context, id string) error {
	dom, err := d.lookup(id)
	if err != nil {
		return nil
	}
	_ = d.Client.DomainDestroy(dom)
	return nil
}

// DeleteResource undefines the domain and removes its storage directory.
func (d *Driver) DeleteResource(_ context.Context, id string) error {
	dom, err := d.lookup(id)
	if err != nil {
		return &machine.CommandError{Op: "undefine domain", Err: err}
	}
	err = d.Client.DomainUndefineFlags(dom, libvirt.DomainUndefineManagedSave|libvirt.DomainUndefineNvram)
	if err != nil {
		return &machine.CommandError{Op: "undefine domain", Err: err}
	}
	dir := filepath.Join(d.storageBase(), id)
	if err := os.RemoveAll(dir); err != nil {
		return &machine.CommandError{Op: "remove storage dir", Err: err}
	}
	return nil
}
