package machine

import (
	"context"
	"fmt"
)

// Start powers the machine back on if the backend reports it down.
// Configuration is intentionally not reapplied; only the start step is
// retried, followed by address re-discovery. If the newly discovered
// address differs from the persisted one a warning is emitted, but the
// operation still succeeds.
func (m *Machine) Start(ctx context.Context, headless bool) error {
	st := m.Store.State()
	if st.ResourceID == "" {
		return m.fail(fmt.Errorf("not provisioned"))
	}

	ps, err := m.Driver.QueryState(ctx, st.ResourceID)
	if err != nil {
		return m.fail(err)
	}
	if ps == StateRunning {
		return nil
	}

	m.log().Info("restarting...")
	prev := st.PrivateAddress

	if err := m.startResource(ctx, headless); err != nil {
		return err
	}
	if err := m.discoverAddress(ctx); err != nil {
		return err
	}

	if prev != "" && st.PrivateAddress != prev {
		m.log().Warn(fmt.Sprintf(
			"address changed from %s to %s; dependent machines may need to be redeployed",
			prev, st.PrivateAddress))
	}
	return nil
}

// Stop gracefully shuts the machine down: an in-guest shutdown request,
// then polling until the backend reports powered off.
func (m *Machine) Stop(ctx context.Context) error {
	st := m.Store.State()
	if st.ResourceID == "" {
		return nil
	}

	ps, err := m.Driver.QueryState(ctx, st.ResourceID)
	if err != nil {
		return m.fail(err)
	}
	if ps != StateRunning {
		return nil
	}

	m.log().Info("shutting down...")
	if m.Shutdown != nil {
		if err := m.Shutdown.RequestShutdown(ctx, st.PrivateAddress, st.CredentialPrivateKey); err != nil {
			return m.fail(fmt.Errorf("failed to request guest shutdown: %w", err))
		}
	}

	err = Poll(ctx, m.PollInterval, func(ctx context.Context) (bool, error) {
		ps, err := m.Driver.QueryState(ctx, st.ResourceID)
		if err != nil {
			return false, err
		}
		return ps == StatePoweredOff, nil
	})
	if err != nil {
		return m.fail(err)
	}

	st.Started = false
	return m.Store.Write()
}

// Destroy powers the machine off if needed, waits for the backend to
// reach a terminal state, then deletes the resource and its storage and
// returns the state record to fully unset.
func (m *Machine) Destroy(ctx context.Context) error {
	st := m.Store.State()
	if st.ResourceID == "" {
		return nil
	}

	m.log().Info("destroying virtual machine...")

	ps, err := m.Driver.QueryState(ctx, st.ResourceID)
	if err != nil {
		return m.fail(err)
	}
	if ps == StateRunning {
		// Best-effort; convergence is confirmed by polling below.
		_ = m.Driver.PowerOff(ctx, st.ResourceID)
	}

	err = Poll(ctx, m.PollInterval, func(ctx context.Context) (bool, error) {
		ps, err := m.Driver.QueryState(ctx, st.ResourceID)
		if err != nil {
			return false, err
		}
		return ps == StatePoweredOff || ps == StateAborted, nil
	})
	if err != nil {
		return m.fail(err)
	}

	// The backend reports the resource as locked for a moment after
	// power-off; deleting immediately fails spuriously.
	m.sleep(m.settleDelay())

	if err := m.Driver.DeleteResource(ctx, st.ResourceID); err != nil {
		return m.fail(err)
	}

	st.Reset()
	return m.Store.Write()
}

// Status reports the backend's observed power state, or StateUnknown if
// the machine has never been provisioned.
func (m *Machine) Status(ctx context.Context) (PowerState, error) {
	st := m.Store.State()
	if st.ResourceID == "" {
		return StateUnknown, nil
	}
	ps, err := m.Driver.QueryState(ctx, st.ResourceID)
	if err != nil {
		return StateUnknown, m.fail(err)
	}
	return ps, nil
}
