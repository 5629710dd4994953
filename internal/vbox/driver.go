// Package vbox implements the machine.Driver capability set on top of
// the VBoxManage command-line tool. Each capability is one external
// command invocation; all execution goes through an injectable
// command.Runner so tests can simulate exit codes and report output.
package vbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/atsukotakahashi/ops/internal/command"
	"github.com/atsukotakahashi/ops/internal/machine"
)

const (
	// DefaultCommand is the VBoxManage binary name.
	DefaultCommand = "VBoxManage"

	// DefaultHostAdapter is the host-only adapter the private NIC
	// attaches to when the caller does not specify one.
	DefaultHostAdapter = "vboxnet0"

	// diskFileName is the primary disk's filename inside the machine
	// directory.
	diskFileName = "disk1.vdi"

	// controllerName is the SATA storage controller created before
	// attaching the disk.
	controllerName = "SATA"
)

// Guest property paths backing the logical guest-fact keys.
const (
	addressProperty   = "/VirtualBox/GuestInfo/Net/1/V4/IP"
	publicKeyProperty = "/VirtualBox/GuestInfo/Ops/ClientPublicKey"
)

// Driver drives VirtualBox through VBoxManage.
type Driver struct {
	// Runner executes external commands; defaults to command.ExecRunner.
	Runner command.Runner

	// Command is the VBoxManage binary; defaults to DefaultCommand.
	Command string

	// Home overrides the user home directory used to locate the
	// "VirtualBox VMs" storage base. Defaults to the current user's.
	Home string
}

var _ machine.Driver = (*Driver)(nil)

func (d *Driver) runner() command.Runner {
	if d.Runner == nil {
		return command.ExecRunner{}
	}
	return d.Runner
}

func (d *Driver) command() string {
	if d.Command == "" {
		return DefaultCommand
	}
	return d.Command
}

// factProperty maps a logical guest-fact key onto its guest property
// path.
func factProperty(key string) (string, error) {
	switch key {
	case machine.FactAddress:
		return addressProperty, nil
	case machine.FactClientPublicKey:
		return publicKeyProperty, nil
	default:
		return "", fmt.Errorf("unknown guest fact %q", key)
	}
}

// CreateResource registers a new VM under the given id.
func (d *Driver) CreateResource(ctx context.Context, id string) error {
	err := d.runner().Run(ctx, d.command(), "createvm", "--name", id, "--ostype", "Linux", "--register")
	if err != nil {
		return &machine.CommandError{Op: "createvm", Err: err}
	}
	return nil
}

// QueryState parses `showvminfo --machinereadable` into a power state.
// The command's exit status is deliberately ignored: VBoxManage may exit
// nonzero while the VM is shutting down even though the report on stdout
// is complete. An empty report or a report without VMState is a query
// error.
func (d *Driver) QueryState(ctx context.Context, id string) (machine.PowerState, error) {
	out, _ := d.runner().Output(ctx, d.command(), "showvminfo", "--machinereadable", id)
	info, err := parseVMInfo(out)
	if err != nil {
		return machine.StateUnknown, &machine.QueryError{Op: "showvminfo", Err: err}
	}
	raw, ok := info["VMState"]
	if !ok {
		return machine.StateUnknown, &machine.QueryError{Op: "showvminfo", Err: fmt.Errorf("report has no VMState")}
	}
	return powerState(raw), nil
}

// parseVMInfo splits a machine-readable report into key/value pairs.
func parseVMInfo(out []byte) (map[string]string, error) {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	info := make(map[string]string, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		info[k] = strings.Trim(v, `"`)
	}
	if len(info) == 0 {
		return nil, fmt.Errorf("empty machine-readable report")
	}
	return info, nil
}

func powerState(raw string) machine.PowerState {
	switch raw {
	case "running":
		return machine.StateRunning
	case "stopping":
		return machine.StateStopping
	case "poweroff":
		return machine.StatePoweredOff
	case "aborted":
		return machine.StateAborted
	default:
		return machine.PowerState(raw)
	}
}

// SetGuestFact publishes a guest property. Setting the empty string
// clears a previously published value.
func (d *Driver) SetGuestFact(ctx context.Context, id, key, value string) error {
	prop, err := factProperty(key)
	if err != nil {
		return &machine.CommandError{Op: "guestproperty set", Err: err}
	}
	if err := d.runner().Run(ctx, d.command(), "guestproperty", "set", id, prop, value); err != nil {
		return &machine.CommandError{Op: "guestproperty set", Err: err}
	}
	return nil
}

// GetGuestFact reads a guest property. A response without the "Value: "
// presence marker means the guest has not published the value yet; that
// is a retry signal, not an error.
func (d *Driver) GetGuestFact(ctx context.Context, id, key string) (string, bool, error) {
	prop, err := factProperty(key)
	if err != nil {
		return "", false, &machine.QueryError{Op: "guestproperty get", Err: err}
	}
	out, err := d.runner().Output(ctx, d.command(), "guestproperty", "get", id, prop)
	if err != nil {
		return "", false, &machine.QueryError{Op: "guestproperty get", Err: err}
	}
	resp := strings.TrimSpace(string(out))
	value, ok := strings.CutPrefix(resp, "Value: ")
	if !ok {
		return "", false, nil
	}
	return value, true, nil
}

// StartResource powers the VM on, optionally without a console.
func (d *Driver) StartResource(ctx context.Context, id string, headless bool) error {
	args := []string{"startvm", id}
	if headless {
		args = append(args, "--type", "headless")
	}
	if err := d.runner().Run(ctx, d.command(), args...); err != nil {
		return &machine.CommandError{Op: "startvm", Err: err}
	}
	return nil
}

// ConfigureResource applies memory and network adapter settings. NIC 1
// is the NAT adapter, NIC 2 the host-only private network the discovered
// address lives on.
func (d *Driver) ConfigureResource(ctx context.Context, id string, memoryMB int, network machine.NetworkSpec) error {
	adapter := network.HostAdapter
	if adapter == "" {
		adapter = DefaultHostAdapter
	}
	err := d.runner().Run(ctx, d.command(), "modifyvm", id,
		"--memory", strconv.Itoa(memoryMB), "--vram", "10",
		"--nictype1", "virtio", "--nictype2", "virtio",
		"--nic2", "hostonly", "--hostonlyadapter2", adapter,
		"--nestedpaging", "off")
	if err != nil {
		return &machine.CommandError{Op: "modifyvm", Err: err}
	}
	return nil
}

// StorageDir locates the VM's machine directory. It must already exist
// once the VM is registered; absence means the report and the filesystem
// disagree and is surfaced as a query error.
func (d *Driver) StorageDir(_ context.Context, id string) (string, error) {
	home := d.Home
	if home == "" {
		var err error
		home, err = os.UserHomeDir()
		if err != nil {
			return "", &machine.QueryError{Op: "locate storage dir", Err: err}
		}
	}
	dir := filepath.Join(home, "VirtualBox VMs", id)
	fi, err := os.Stat(dir)
	if err != nil || !fi.IsDir() {
		return "", &machine.QueryError{Op: "locate storage dir", Err: fmt.Errorf("machine directory %s does not exist", dir)}
	}
	return dir, nil
}

// DiskFileName implements machine.Driver.
func (d *Driver) DiskFileName() string { return diskFileName }

// CloneDisk copies a base image into a new VDI disk.
func (d *Driver) CloneDisk(ctx context.Context, sourcePath, destPath string) error {
	if err := d.runner().Run(ctx, d.command(), "clonehd", sourcePath, destPath); err != nil {
		return &machine.CommandError{Op: "clonehd", Err: err}
	}
	return nil
}

// AttachStorage creates the SATA controller and attaches the disk to
// port 0.
func (d *Driver) AttachStorage(ctx context.Context, id, diskPath string) error {
	err := d.runner().Run(ctx, d.command(), "storagectl", id,
		"--name", controllerName, "--add", "sata", "--sataportcount", "2",
		"--bootable", "on", "--hostiocache", "on")
	if err != nil {
		return &machine.CommandError{Op: "storagectl", Err: err}
	}
	err = d.runner().Run(ctx, d.command(), "storageattach", id,
		"--storagectl", controllerName, "--port", "0", "--device", "0",
		"--type", "hdd", "--medium", diskPath)
	if err != nil {
		return &machine.CommandError{Op: "storageattach", Err: err}
	}
	return nil
}

// PowerOff forcibly powers the VM off. Best-effort: the caller confirms
// convergence by polling QueryState.
func (d *Driver) PowerOff(ctx context.Context, id string) error {
	_ = d.runner().Run(ctx, d.command(), "controlvm", id, "poweroff")
	return nil
}

// DeleteResource unregisters the VM and deletes its storage.
func (d *Driver) DeleteResource(ctx context.Context, id string) error {
	if err := d.runner().Run(ctx, d.command(), "unregistervm", "--delete", id); err != nil {
		return &machine.CommandError{Op: "unregistervm", Err: err}
	}
	return nil
}
