package machine

import (
	"context"
	"fmt"
	"time"

	"github.com/atsukotakahashi/ops/internal/deploy"
	"github.com/atsukotakahashi/ops/internal/state"
)

// testDeploymentUUID keeps derived resource ids deterministic in tests.
const testDeploymentUUID = "6ba7b810-9dad-11d1-80b4-00c04fd430c8"

func testDeployment() *deploy.Deployment {
	d, err := deploy.Load("test", testDeploymentUUID, "/tmp/ops-test")
	if err != nil {
		panic(fmt.Sprintf("failed to build test deployment: %v", err))
	}
	return d
}

// mockDriver is a mock implementation of the Driver interface for
// testing.
type mockDriver struct {
	// Configurable behavior
	createResourceFunc    func(id string) error
	queryStateFunc        func(id string) (PowerState, error)
	setGuestFactFunc      func(id, key, value string) error
	getGuestFactFunc      func(id, key string) (string, bool, error)
	startResourceFunc     func(id string, headless bool) error
	configureResourceFunc func(id string, memoryMB int, network NetworkSpec) error
	storageDirFunc        func(id string) (string, error)
	cloneDiskFunc         func(src, dst string) error
	attachStorageFunc     func(id, diskPath string) error
	powerOffFunc          func(id string) error
	deleteResourceFunc    func(id string) error

	// Call tracking
	createResourceCalls    []string
	queryStateCalls        []string
	setGuestFactCalls      [][3]string
	getGuestFactCalls      [][2]string
	startResourceCalls     []string
	configureResourceCalls []string
	storageDirCalls        []string
	cloneDiskCalls         [][2]string
	attachStorageCalls     [][2]string
	powerOffCalls          []string
	deleteResourceCalls    []string
}

// newMockDriver creates a mock driver whose defaults simulate a healthy
// backend: commands succeed, the machine reports running, and the
// address fact is already published.
func newMockDriver() *mockDriver {
	m := &mockDriver{}
	m.createResourceFunc = func(id string) error { return nil }
	m.queryStateFunc = func(id string) (PowerState, error) { return StateRunning, nil }
	m.setGuestFactFunc = func(id, key, value string) error { return nil }
	m.getGuestFactFunc = func(id, key string) (string, bool, error) {
		if key == FactAddress {
			return "192.168.56.101", true, nil
		}
		return "", false, nil
	}
	m.startResourceFunc = func(id string, headless bool) error { return nil }
	m.configureResourceFunc = func(id string, memoryMB int, network NetworkSpec) error { return nil }
	m.storageDirFunc = func(id string) (string, error) { return "/vms/" + id, nil }
	m.cloneDiskFunc = func(src, dst string) error { return nil }
	m.attachStorageFunc = func(id, diskPath string) error { return nil }
	m.powerOffFunc = func(id string) error { return nil }
	m.deleteResourceFunc = func(id string) error { return nil }
	return m
}

// mutatingCalls counts the one-shot mutating backend commands issued.
func (m *mockDriver) mutatingCalls() int {
	return len(m.createResourceCalls) +
		len(m.setGuestFactCalls) +
		len(m.startResourceCalls) +
		len(m.configureResourceCalls) +
		len(m.cloneDiskCalls) +
		len(m.attachStorageCalls) +
		len(m.powerOffCalls) +
		len(m.deleteResourceCalls)
}

func (m *mockDriver) totalCalls() int {
	return m.mutatingCalls() +
		len(m.queryStateCalls) +
		len(m.getGuestFactCalls) +
		len(m.storageDirCalls)
}

func (m *mockDriver) CreateResource(_ context.Context, id string) error {
	m.createResourceCalls = append(m.createResourceCalls, id)
	return m.createResourceFunc(id)
}

func (m *mockDriver) QueryState(_ context.Context, id string) (PowerState, error) {
	m.queryStateCalls = append(m.queryStateCalls, id)
	return m.queryStateFunc(id)
}

func (m *mockDriver) SetGuestFact(_ context.Context, id, key, value string) error {
	m.setGuestFactCalls = append(m.setGuestFactCalls, [3]string{id, key, value})
	return m.setGuestFactFunc(id, key, value)
}

func (m *mockDriver) GetGuestFact(_ context.Context, id, key string) (string, bool, error) {
	m.getGuestFactCalls = append(m.getGuestFactCalls, [2]string{id, key})
	return m.getGuestFactFunc(id, key)
}

func (m *mockDriver) StartResource(_ context.Context, id string, headless bool) error {
	m.startResourceCalls = append(m.startResourceCalls, id)
	return m.startResourceFunc(id, headless)
}

func (m *mockDriver) ConfigureResource(_ context.Context, id string, memoryMB int, network NetworkSpec) error {
	m.configureResourceCalls = append(m.configureResourceCalls, id)
	return m.configureResourceFunc(id, memoryMB, network)
}

func (m *mockDriver) StorageDir(_ context.Context, id string) (string, error) {
	m.storageDirCalls = append(m.storageDirCalls, id)
	return m.storageDirFunc(id)
}

func (m *mockDriver) DiskFileName() string { return "disk1.vdi" }

func (m *mockDriver) CloneDisk(_ context.Context, src, dst string) error {
	m.cloneDiskCalls = append(m.cloneDiskCalls, [2]string{src, dst})
	return m.cloneDiskFunc(src, dst)
}

func (m *mockDriver) AttachStorage(_ context.Context, id, diskPath string) error {
	m.attachStorageCalls = append(m.attachStorageCalls, [2]string{id, diskPath})
	return m.attachStorageFunc(id, diskPath)
}

func (m *mockDriver) PowerOff(_ context.Context, id string) error {
	m.powerOffCalls = append(m.powerOffCalls, id)
	return m.powerOffFunc(id)
}

func (m *mockDriver) DeleteResource(_ context.Context, id string) error {
	m.deleteResourceCalls = append(m.deleteResourceCalls, id)
	return m.deleteResourceFunc(id)
}

// memPersister is an in-memory Persister tracking how many writes were
// committed.
type memPersister struct {
	records map[string]map[string]any
	saves   int
}

func newMemPersister() *memPersister {
	return &memPersister{records: map[string]map[string]any{}}
}

func (p *memPersister) Save(machine string, record map[string]any) error {
	p.records[machine] = record
	p.saves++
	return nil
}

func (p *memPersister) Load(machine string) (map[string]any, bool, error) {
	r, ok := p.records[machine]
	return r, ok, nil
}

func (p *memPersister) Delete(machine string) error {
	delete(p.records, machine)
	return nil
}

// fakeResolver resolves every reference to a fixed path.
type fakeResolver struct {
	path  string
	calls []string
}

func (f *fakeResolver) Resolve(_ context.Context, ref string) (string, error) {
	f.calls = append(f.calls, ref)
	return f.path, nil
}

// fakeCredentials returns a fixed keypair.
type fakeCredentials struct {
	calls int
}

func (f *fakeCredentials) Generate() (string, string, error) {
	f.calls++
	return "PRIVATE", "ssh-rsa PUBLIC", nil
}

// fakeTrust records invalidated addresses.
type fakeTrust struct {
	invalidated []string
}

func (f *fakeTrust) Invalidate(address string) error {
	f.invalidated = append(f.invalidated, address)
	return nil
}

// fakeShutdown records shutdown requests.
type fakeShutdown struct {
	requests []string
	err      error
}

func (f *fakeShutdown) RequestShutdown(_ context.Context, address, _ string) error {
	f.requests = append(f.requests, address)
	return f.err
}

// recordingLogger captures emitted messages.
type recordingLogger struct {
	infos []string
	warns []string
}

func (l *recordingLogger) Info(msg string) { l.infos = append(l.infos, msg) }
func (l *recordingLogger) Warn(msg string) { l.warns = append(l.warns, msg) }

// testMachine wires a Machine against the mock driver and in-memory
// collaborators.
type testMachine struct {
	m       *Machine
	driver  *mockDriver
	store   *state.Store
	p       *memPersister
	trust   *fakeTrust
	logger  *recordingLogger
	creds   *fakeCredentials
	stop    *fakeShutdown
	resolve *fakeResolver
}

func newTestMachine(name string) *testMachine {
	driver := newMockDriver()
	p := newMemPersister()
	store, err := state.NewStore(name, p)
	if err != nil {
		panic(fmt.Sprintf("failed to build test store: %v", err))
	}
	trust := &fakeTrust{}
	logger := &recordingLogger{}
	creds := &fakeCredentials{}
	stop := &fakeShutdown{}
	resolve := &fakeResolver{path: "/images/base.vdi"}

	m := &Machine{
		Name:         name,
		Deployment:   testDeployment(),
		Driver:       driver,
		Store:        store,
		Images:       resolve,
		Credentials:  creds,
		Trust:        trust,
		Shutdown:     stop,
		Log:          logger,
		PollInterval: 1, // effectively immediate re-poll in tests
		sleepFn:      func(d time.Duration) {},
	}
	return &testMachine{
		m: m, driver: driver, store: store, p: p,
		trust: trust, logger: logger, creds: creds, stop: stop, resolve: resolve,
	}
}
