package machine

import (
	"context"
	"strings"
	"testing"
	"time"
)

// provisionedMachine returns a test machine whose record says it is
// fully provisioned and running.
func provisionedMachine(t *testing.T) *testMachine {
	t.Helper()
	tm := newTestMachine("web")
	st := tm.store.State()
	st.ResourceID = "ops-" + testDeploymentUUID + "-web"
	st.DiskPath = "/vms/x/disk1.vdi"
	st.DiskAttached = true
	st.Started = true
	st.PrivateAddress = "192.168.56.50"
	st.CredentialPrivateKey = "PRIVATE"
	st.CredentialPublicKey = "ssh-rsa PUBLIC"
	if err := tm.store.Write(); err != nil {
		t.Fatalf("failed to seed state: %v", err)
	}
	return tm
}

func TestStart_NoOpWhenRunning(t *testing.T) {
	tm := provisionedMachine(t)

	if err := tm.m.Start(context.Background(), false); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if tm.driver.mutatingCalls() != 0 {
		t.Error("Start issued mutating commands although the machine is running")
	}
}

func TestStart_WarnsOnAddressChange(t *testing.T) {
	tm := provisionedMachine(t)
	tm.driver.queryStateFunc = func(id string) (PowerState, error) {
		return StatePoweredOff, nil
	}
	// The backend hands out a different address after restart.
	tm.driver.getGuestFactFunc = func(id, key string) (string, bool, error) {
		return "192.168.56.77", true, nil
	}

	if err := tm.m.Start(context.Background(), false); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if len(tm.driver.startResourceCalls) != 1 {
		t.Errorf("startResource calls = %d, want 1", len(tm.driver.startResourceCalls))
	}
	// Start deliberately does not reapply configuration.
	if len(tm.driver.configureResourceCalls) != 0 {
		t.Error("Start reapplied configuration")
	}

	if got := tm.store.State().PrivateAddress; got != "192.168.56.77" {
		t.Errorf("PrivateAddress = %q, want new address", got)
	}

	found := false
	for _, w := range tm.logger.warns {
		if strings.Contains(w, "192.168.56.50") && strings.Contains(w, "192.168.56.77") {
			found = true
		}
	}
	if !found {
		t.Errorf("no address-change warning emitted, warns = %v", tm.logger.warns)
	}

	// Trust records for both the new and the previous address are gone.
	hasOld, hasNew := false, false
	for _, a := range tm.trust.invalidated {
		switch a {
		case "192.168.56.50":
			hasOld = true
		case "192.168.56.77":
			hasNew = true
		}
	}
	if !hasOld || !hasNew {
		t.Errorf("invalidated = %v, want both addresses", tm.trust.invalidated)
	}
}

func TestStop_NoOpWhenNotRunning(t *testing.T) {
	tm := provisionedMachine(t)
	tm.driver.queryStateFunc = func(id string) (PowerState, error) {
		return StatePoweredOff, nil
	}

	if err := tm.m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if len(tm.stop.requests) != 0 {
		t.Error("shutdown requested although the machine is down")
	}
	// The record still says started; the machine was stopped elsewhere.
	if !tm.store.State().Started {
		t.Error("Started mutated by no-op stop")
	}
}

func TestStop_WaitsForPowerOff(t *testing.T) {
	tm := provisionedMachine(t)
	polls := 0
	tm.driver.queryStateFunc = func(id string) (PowerState, error) {
		polls++
		// Initial check: running. Then two convergence polls.
		switch polls {
		case 1, 2:
			return StateRunning, nil
		default:
			return StatePoweredOff, nil
		}
	}

	if err := tm.m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if got := tm.stop.requests; len(got) != 1 || got[0] != "192.168.56.50" {
		t.Errorf("shutdown requests = %v", got)
	}
	if tm.store.State().Started {
		t.Error("Started = true after stop")
	}
}

func TestDestroy_Convergence(t *testing.T) {
	tm := provisionedMachine(t)
	var states []PowerState
	tm.driver.queryStateFunc = func(id string) (PowerState, error) {
		// Initial check reports running; the convergence polls walk
		// through stopping before reaching powered off.
		seq := []PowerState{StateRunning, StateRunning, StateStopping, StatePoweredOff}
		i := len(states)
		if i >= len(seq) {
			i = len(seq) - 1
		}
		states = append(states, seq[i])

		// deleteResource must not run before convergence completes.
		if len(tm.driver.deleteResourceCalls) != 0 {
			t.Fatal("deleteResource called before power state converged")
		}
		return seq[i], nil
	}

	if err := tm.m.Destroy(context.Background()); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}

	if len(tm.driver.powerOffCalls) != 1 {
		t.Errorf("powerOff calls = %d, want exactly 1", len(tm.driver.powerOffCalls))
	}
	if len(tm.driver.deleteResourceCalls) != 1 {
		t.Errorf("deleteResource calls = %d, want 1", len(tm.driver.deleteResourceCalls))
	}
	if len(states) != 4 {
		t.Errorf("queryState polled %d times, want 4", len(states))
	}

	// The record returns to fully unset.
	st := tm.store.State()
	if st.ResourceID != "" || st.DiskPath != "" || st.Started || st.DiskAttached {
		t.Errorf("state not cleared after destroy: %+v", st)
	}
}

func TestDestroy_AbortedIsTerminal(t *testing.T) {
	tm := provisionedMachine(t)
	polls := 0
	tm.driver.queryStateFunc = func(id string) (PowerState, error) {
		polls++
		if polls == 1 {
			return StateRunning, nil
		}
		return StateAborted, nil
	}

	if err := tm.m.Destroy(context.Background()); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if len(tm.driver.deleteResourceCalls) != 1 {
		t.Error("deleteResource not called for aborted machine")
	}
}

func TestDestroy_SettlesBeforeDelete(t *testing.T) {
	tm := provisionedMachine(t)
	tm.driver.queryStateFunc = func(id string) (PowerState, error) {
		return StatePoweredOff, nil
	}

	var slept time.Duration
	tm.m.sleepFn = func(d time.Duration) {
		slept = d
		if len(tm.driver.deleteResourceCalls) != 0 {
			t.Fatal("deleteResource ran before the settle delay")
		}
	}

	if err := tm.m.Destroy(context.Background()); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if slept != DefaultSettleDelay {
		t.Errorf("settle delay = %v, want %v", slept, DefaultSettleDelay)
	}
	if len(tm.driver.powerOffCalls) != 0 {
		t.Error("powerOff called although the machine was already off")
	}
}

func TestDestroy_NothingProvisioned(t *testing.T) {
	tm := newTestMachine("web")
	if err := tm.m.Destroy(context.Background()); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if tm.driver.totalCalls() != 0 {
		t.Error("backend touched for an unprovisioned machine")
	}
}
