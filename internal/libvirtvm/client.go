// Package libvirtvm implements the machine.Driver capability set on a
// libvirt hypervisor. Domains are defined from generated XML, guest
// facts live in domain metadata, the credential public key is handed to
// the guest through a seed ISO, and disk clones run through qemu-img.
package libvirtvm

import (
	"fmt"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/digitalocean/go-libvirt/socket/dialers"
)

// DefaultSocketPath is the local libvirt daemon socket (qemu:///system).
const DefaultSocketPath = "/var/run/libvirt/libvirt-sock"

// Connect establishes a connection to the local libvirt daemon. The
// returned client must be closed with Disconnect when done.
func Connect(socketPath string, timeout time.Duration) (*libvirt.Libvirt, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	dialer := dialers.NewLocal(
		dialers.WithSocket(socketPath),
		dialers.WithLocalTimeout(timeout),
	)
	l := libvirt.NewWithDialer(dialer)
	if err := l.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to libvirt at %s: %w", socketPath, err)
	}
	return l, nil
}

// libvirtClient is the subset of *libvirt.Libvirt operations the driver
// needs. In production it is satisfied by *libvirt.Libvirt directly; in
// tests by a mock.
type libvirtClient interface {
	DomainLookupByName(name string) (libvirt.Domain, error)
	DomainDefineXML(xml string) (libvirt.Domain, error)
	DomainCreate(dom libvirt.Domain) error
	DomainGetState(dom libvirt.Domain, flags uint32) (state int32, reason int32, err error)
	DomainGetXMLDesc(dom libvirt.Domain, flags libvirt.DomainXMLFlags) (string, error)
	DomainDestroy(dom libvirt.Domain) error
	DomainUndefineFlags(dom libvirt.Domain, flags libvirt.DomainUndefineFlagsValues) error
	DomainSetMetadata(dom libvirt.Domain, typ int32, metadata libvirt.OptString, key libvirt.OptString, uris libvirt.OptString, flags libvirt.DomainModificationImpact) error
	DomainGetMetadata(dom libvirt.Domain, typ int32, uri libvirt.OptString, flags libvirt.DomainModificationImpact) (string, error)
	DomainInterfaceAddresses(dom libvirt.Domain, source uint32, flags uint32) ([]libvirt.DomainInterface, error)
}
