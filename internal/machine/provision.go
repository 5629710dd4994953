package machine

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/atsukotakahashi/ops/internal/definition"
	"github.com/atsukotakahashi/ops/internal/deploy"
	"github.com/atsukotakahashi/ops/internal/state"
)

// DefaultSettleDelay is how long destroy waits after power-off
// convergence before deleting the resource. The backend briefly reports
// the resource as locked right after power-off.
const DefaultSettleDelay = time.Second

// Machine reconciles one named machine against its definition. All
// external effects flow through the Driver and the collaborator
// interfaces; the Store is written through after every mutating step.
//
// A Machine assumes exclusive access to its state record. Reconciling
// the same machine from two owners at once is the caller's bug.
type Machine struct {
	Name       string
	Deployment *deploy.Deployment
	Driver     Driver
	Store      *state.Store

	Images      ImageResolver
	Credentials CredentialGenerator
	Trust       TrustStore
	Shutdown    ShutdownRequester
	Log         Logger

	// Network is the private adapter spec applied by ConfigureResource.
	Network NetworkSpec

	// PollInterval overrides the fixed poll delay; zero means
	// DefaultPollInterval.
	PollInterval time.Duration

	// SettleDelay overrides the post-power-off settle delay; zero means
	// DefaultSettleDelay.
	SettleDelay time.Duration

	// sleepFn is replaced in tests to skip real settle delays.
	sleepFn func(time.Duration)
}

func (m *Machine) log() Logger {
	if m.Log == nil {
		m.Log = NewLogger(m.Name)
	}
	return m.Log
}

func (m *Machine) sleep(d time.Duration) {
	if m.sleepFn != nil {
		m.sleepFn(d)
		return
	}
	time.Sleep(d)
}

func (m *Machine) settleDelay() time.Duration {
	if m.SettleDelay > 0 {
		return m.SettleDelay
	}
	return DefaultSettleDelay
}

// fail surfaces a fatal condition with the machine name attached.
func (m *Machine) fail(err error) error {
	return fmt.Errorf("machine %q: %w", m.Name, err)
}

// Create drives the machine from its current provisioned state to fully
// running. Every step is guarded by the state field it establishes and
// is followed by a state write, so re-invoking Create after a crash or
// command failure resumes at the first unsatisfied step without
// repeating earlier work. When check is true, the observed power state
// is re-validated and the address re-discovered even if the record says
// the machine is already up.
func (m *Machine) Create(ctx context.Context, defn *definition.Definition, check bool) error {
	st := m.Store.State()

	// Step 1: allocate identity.
	if st.ResourceID == "" {
		m.log().Info("creating virtual machine...")
		id := m.Deployment.MachineID(m.Name)
		if err := m.Driver.CreateResource(ctx, id); err != nil {
			return m.fail(err)
		}
		st.ResourceID = id
		if err := m.Store.Write(); err != nil {
			return err
		}
	}

	// Step 2: resolve the base image and clone it into the machine's
	// storage directory.
	if st.DiskPath == "" {
		dir, err := m.Driver.StorageDir(ctx, st.ResourceID)
		if err != nil {
			return m.fail(err)
		}
		base, err := m.Images.Resolve(ctx, defn.BaseImage)
		if err != nil {
			return m.fail(&CommandError{Op: "resolve base image", Err: err})
		}
		diskPath := filepath.Join(dir, m.Driver.DiskFileName())
		if err := m.Driver.CloneDisk(ctx, base, diskPath); err != nil {
			return m.fail(err)
		}
		st.DiskPath = diskPath
		if err := m.Store.Write(); err != nil {
			return err
		}
	}

	// Step 3: attach storage.
	if !st.DiskAttached {
		if err := m.Driver.AttachStorage(ctx, st.ResourceID, st.DiskPath); err != nil {
			return m.fail(err)
		}
		st.DiskAttached = true
		if err := m.Store.Write(); err != nil {
			return err
		}
	}

	// Step 4: consistency check against the observed power state.
	if check {
		ps, err := m.Driver.QueryState(ctx, st.ResourceID)
		if err != nil {
			return m.fail(err)
		}
		if ps == StateRunning {
			st.Started = true
		} else {
			m.log().Info("virtual machine went down, restarting...")
			st.Started = false
			if err := m.Store.Write(); err != nil {
				return err
			}
		}
	}

	// Step 5: ensure credentials.
	if st.CredentialPrivateKey == "" {
		priv, pub, err := m.Credentials.Generate()
		if err != nil {
			return m.fail(fmt.Errorf("failed to generate credential keypair: %w", err))
		}
		st.CredentialPrivateKey = priv
		st.CredentialPublicKey = pub
		if err := m.Store.Write(); err != nil {
			return err
		}
	}

	// Step 6: configure and start.
	if !st.Started {
		if err := m.Driver.ConfigureResource(ctx, st.ResourceID, defn.MemorySizeMB, m.Network); err != nil {
			return m.fail(err)
		}
		if err := m.startResource(ctx, defn.Headless); err != nil {
			return err
		}
	}

	// Step 7: discover the private address.
	if st.PrivateAddress == "" || check {
		if err := m.discoverAddress(ctx); err != nil {
			return err
		}
	}

	return nil
}

// startResource clears any stale previously-published address fact,
// publishes the credential public key, and powers the resource on.
// Configuration is applied separately; lifecycle Start deliberately
// retries only this part.
func (m *Machine) startResource(ctx context.Context, headless bool) error {
	st := m.Store.State()

	if err := m.Driver.SetGuestFact(ctx, st.ResourceID, FactAddress, ""); err != nil {
		return m.fail(err)
	}
	if err := m.Driver.SetGuestFact(ctx, st.ResourceID, FactClientPublicKey, st.CredentialPublicKey); err != nil {
		return m.fail(err)
	}
	if err := m.Driver.StartResource(ctx, st.ResourceID, headless); err != nil {
		return m.fail(err)
	}

	st.Started = true
	return m.Store.Write()
}

// discoverAddress polls the address guest fact until the guest publishes
// it, then records it and invalidates cached trust records. Both the new
// address (which may previously have belonged to another machine) and
// the machine's previous address (which may be reassigned elsewhere) are
// invalidated.
func (m *Machine) discoverAddress(ctx context.Context) error {
	st := m.Store.State()
	prev := st.PrivateAddress

	m.log().Info("waiting for address...")
	var addr string
	err := Poll(ctx, m.PollInterval, func(ctx context.Context) (bool, error) {
		v, ok, err := m.Driver.GetGuestFact(ctx, st.ResourceID, FactAddress)
		if err != nil {
			return false, err
		}
		if !ok || v == "" {
			return false, nil
		}
		addr = v
		return true, nil
	})
	if err != nil {
		return m.fail(err)
	}

	st.PrivateAddress = addr
	if m.Trust != nil {
		if err := m.Trust.Invalidate(addr); err != nil {
			return m.fail(fmt.Errorf("failed to invalidate trust record for %s: %w", addr, err))
		}
		if prev != "" && prev != addr {
			if err := m.Trust.Invalidate(prev); err != nil {
				return m.fail(fmt.Errorf("failed to invalidate trust record for %s: %w", prev, err))
			}
		}
	}
	if err := m.Store.Write(); err != nil {
		return err
	}

	m.log().Info(fmt.Sprintf("address is %s", addr))
	return nil
}
