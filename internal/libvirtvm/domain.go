package libvirtvm

import (
	"fmt"

	"libvirt.org/go/libvirtxml"
)

// defaultPrivateNetwork is the libvirt network the private NIC joins
// when the caller does not specify a host adapter.
const defaultPrivateNetwork = "ops-private"

// baseDomainXML generates the minimal domain definition created at
// resource allocation. Memory, network adapters and disks are applied
// later by ConfigureResource and AttachStorage.
func baseDomainXML(id string) (string, error) {
	domain := &libvirtxml.Domain{
		Type: "kvm",
		Name: id,
		Memory: &libvirtxml.DomainMemory{
			Value: 128,
			Unit:  "MiB",
		},
		VCPU: &libvirtxml.DomainVCPU{
			Placement: "static",
			Value:     1,
		},
		OS: &libvirtxml.DomainOS{
			Type: &libvirtxml.DomainOSType{
				Arch: "x86_64",
				Type: "hvm",
			},
		},
		Devices: &libvirtxml.DomainDeviceList{},
	}
	xml, err := domain.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to generate domain XML: %w", err)
	}
	return xml, nil
}

// applyConfiguration sets memory and the two network adapters: NIC 1 on
// the default NAT network, NIC 2 on the private network the discovered
// address lives on. A VNC listener is defined so a console can be
// attached on demand.
func applyConfiguration(domain *libvirtxml.Domain, memoryMB int, privateNetwork string) {
	if privateNetwork == "" {
		privateNetwork = defaultPrivateNetwork
	}

	domain.Memory = &libvirtxml.DomainMemory{
		Value: uint(memoryMB),
		Unit:  "MiB",
	}
	domain.CurrentMemory = nil

	if domain.Devices == nil {
		domain.Devices = &libvirtxml.DomainDeviceList{}
	}
	domain.Devices.Interfaces = []libvirtxml.DomainInterface{
		{
			Source: &libvirtxml.DomainInterfaceSource{
				Network: &libvirtxml.DomainInterfaceSourceNetwork{Network: "default"},
			},
			Model: &libvirtxml.DomainInterfaceModel{Type: "virtio"},
		},
		{
			Source: &libvirtxml.DomainInterfaceSource{
				Network: &libvirtxml.DomainInterfaceSourceNetwork{Network: privateNetwork},
			},
			Model: &libvirtxml.DomainInterfaceModel{Type: "virtio"},
		},
	}
	domain.Devices.Graphics = []libvirtxml.DomainGraphic{
		{
			VNC: &libvirtxml.DomainGraphicVNC{Port: -1, AutoPort: "yes"},
		},
	}
}

// applyDisk attaches the primary disk as vda. Attaching again with the
// same path is a no-op, keeping AttachStorage idempotent.
func applyDisk(domain *libvirtxml.Domain, diskPath string) {
	if domain.Devices == nil {
		domain.Devices = &libvirtxml.DomainDeviceList{}
	}
	for _, disk := range domain.Devices.Disks {
		if disk.Source != nil && disk.Source.File != nil && disk.Source.File.File == diskPath {
			return
		}
	}
	domain.Devices.Disks = append(domain.Devices.Disks, libvirtxml.DomainDisk{
		Device: "disk",
		Driver: &libvirtxml.DomainDiskDriver{Name: "qemu", Type: "qcow2"},
		Source: &libvirtxml.DomainDiskSource{
			File: &libvirtxml.DomainDiskSourceFile{File: diskPath},
		},
		Target: &libvirtxml.DomainDiskTarget{Dev: "vda", Bus: "virtio"},
	})
}

// applySeedISO attaches the credential seed ISO as a read-only cdrom.
func applySeedISO(domain *libvirtxml.Domain, isoPath string) {
	if domain.Devices == nil {
		domain.Devices = &libvirtxml.DomainDeviceList{}
	}
	for _, disk := range domain.Devices.Disks {
		if disk.Source != nil && disk.Source.File != nil && disk.Source.File.File == isoPath {
			return
		}
	}
	domain.Devices.Disks = append(domain.Devices.Disks, libvirtxml.DomainDisk{
		Device: "cdrom",
		Driver: &libvirtxml.DomainDiskDriver{Name: "qemu", Type: "raw"},
		Source: &libvirtxml.DomainDiskSource{
			File: &libvirtxml.DomainDiskSourceFile{File: isoPath},
		},
		Target:   &libvirtxml.DomainDiskTarget{Dev: "sda", Bus: "sata"},
		ReadOnly: &libvirtxml.DomainDiskReadOnly{},
	})
}
