package main

import (
	"fmt"
	"path/filepath"

	"github.com/digitalocean/go-libvirt"

	"github.com/atsukotakahashi/ops/internal/definition"
	"github.com/atsukotakahashi/ops/internal/deploy"
	"github.com/atsukotakahashi/ops/internal/image"
	"github.com/atsukotakahashi/ops/internal/keys"
	"github.com/atsukotakahashi/ops/internal/knownhosts"
	"github.com/atsukotakahashi/ops/internal/libvirtvm"
	"github.com/atsukotakahashi/ops/internal/machine"
	"github.com/atsukotakahashi/ops/internal/state"
	"github.com/atsukotakahashi/ops/internal/vbox"
)

// env is the wired reconciliation environment for one machine: its
// definition, the state store, backend driver, and collaborators.
type env struct {
	defn    *definition.Definition
	machine *machine.Machine
	lv      *libvirt.Libvirt
}

func (e *env) close() {
	if e.lv != nil {
		_ = e.lv.Disconnect()
	}
}

// newEnv loads the deployment document and builds the machine with its
// backend driver and collaborators.
func newEnv(name string) (*env, error) {
	doc, err := definition.LoadFile(flagConfig)
	if err != nil {
		return nil, err
	}
	defn, err := doc.Machine(name)
	if err != nil {
		return nil, err
	}

	persister := state.NewFilePersister(flagState)
	dep, err := loadDeployment(doc.Name, persister)
	if err != nil {
		return nil, err
	}

	store, err := state.NewStore(name, persister)
	if err != nil {
		return nil, err
	}

	trust, err := trustStore()
	if err != nil {
		return nil, err
	}

	e := &env{defn: defn}
	drv, err := e.driver(defn.Backend)
	if err != nil {
		return nil, err
	}

	e.machine = &machine.Machine{
		Name:        name,
		Deployment:  dep,
		Driver:      drv,
		Store:       store,
		Images:      &image.Resolver{BuildCommand: flagBuildCmd},
		Credentials: keys.Generator{},
		Trust:       trust,
		Shutdown:    &sshShutdown{keyPath: dep.KeyFilePath(name)},
		Log:         machine.NewLogger(name),
	}
	return e, nil
}

// loadDeployment restores the deployment identity persisted alongside
// the machine records, creating it on first use so that machine ids
// stay deterministic across runs.
func loadDeployment(name string, persister *state.FilePersister) (*deploy.Deployment, error) {
	keyDir := flagKeyDir
	if keyDir == "" {
		keyDir = filepath.Join(filepath.Dir(flagState), "keys")
	}

	id, err := persister.UUID()
	if err != nil {
		return nil, err
	}
	if id == "" {
		dep := deploy.New(name, keyDir)
		if err := persister.SetUUID(dep.UUID.String()); err != nil {
			return nil, err
		}
		return dep, nil
	}
	return deploy.Load(name, id, keyDir)
}

func trustStore() (machine.TrustStore, error) {
	if flagKnownHosts != "" {
		return &knownhosts.File{Path: flagKnownHosts}, nil
	}
	return knownhosts.Default()
}

// driver builds the backend driver selected by the definition's type
// tag.
func (e *env) driver(backend string) (machine.Driver, error) {
	switch backend {
	case definition.BackendVirtualBox:
		return &vbox.Driver{}, nil
	case definition.BackendLibvirt:
		lv, err := libvirtvm.Connect("", 0)
		if err != nil {
			return nil, err
		}
		e.lv = lv
		return &libvirtvm.Driver{Client: lv}, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}
