package state

import (
	"fmt"
)

// Persister saves and loads one machine's serialised record. The local
// file implementation lives in this package; alternative backends only
// need to satisfy this interface.
type Persister interface {
	// Save durably stores the serialised record for a machine.
	Save(machine string, record map[string]any) error

	// Load returns the serialised record for a machine, or ok=false if
	// no record exists.
	Load(machine string) (record map[string]any, ok bool, err error)

	// Delete removes the machine's record entirely.
	Delete(machine string) error
}

// Store binds one machine's in-memory State to a Persister. Write must
// be called after every mutating provisioning step so that a crash
// between steps leaves only fully committed state behind.
//
// The Store assumes exclusive access to its record; coordinating
// concurrent reconciliation of the same machine is the caller's problem.
type Store struct {
	machine string
	state   State
	p       Persister
}

// NewStore creates a Store for a machine, loading any previously
// persisted record.
func NewStore(machine string, p Persister) (*Store, error) {
	s := &Store{machine: machine, p: p}
	record, ok, err := p.Load(machine)
	if err != nil {
		return nil, fmt.Errorf("machine %q: failed to load state: %w", machine, err)
	}
	if ok {
		s.state.Deserialise(record)
	}
	return s, nil
}

// Machine returns the name of the machine this store tracks.
func (s *Store) Machine() string { return s.machine }

// State returns the in-memory record for reading and mutation.
func (s *Store) State() *State { return &s.state }

// Write persists the current in-memory record.
func (s *Store) Write() error {
	if err := s.p.Save(s.machine, s.state.Serialise()); err != nil {
		return fmt.Errorf("machine %q: failed to persist state: %w", s.machine, err)
	}
	return nil
}

// Remove deletes the persisted record and clears the in-memory state.
func (s *Store) Remove() error {
	if err := s.p.Delete(s.machine); err != nil {
		return fmt.Errorf("machine %q: failed to remove state: %w", s.machine, err)
	}
	s.state.Reset()
	return nil
}
