package state

import (
	"reflect"
	"testing"
)

func TestSerialise_OmitsUnsetFields(t *testing.T) {
	s := &State{}
	x := s.Serialise()

	if _, ok := x[keyResourceID]; ok {
		t.Error("unset resourceId serialised")
	}
	if _, ok := x[keyPrivateAddress]; ok {
		t.Error("unset privateAddress serialised")
	}

	// The nested group is always present, carrying the two booleans.
	y, ok := x[keyVirtualMachine].(map[string]any)
	if !ok {
		t.Fatal("virtualMachine group missing")
	}
	if got := y[keyDiskAttached]; got != false {
		t.Errorf("diskAttached = %v, want false", got)
	}
	if got := y[keyStarted]; got != false {
		t.Errorf("started = %v, want false", got)
	}
	if _, ok := y[keyDisk]; ok {
		t.Error("unset disk serialised")
	}
	if _, ok := y[keyPrivateKey]; ok {
		t.Error("unset private key serialised")
	}
}

func TestRoundTrip_FieldSubsets(t *testing.T) {
	tests := []struct {
		name string
		in   State
	}{
		{"empty", State{}},
		{"identity only", State{ResourceID: "ops-1-web"}},
		{"identity and disk", State{ResourceID: "ops-1-web", DiskPath: "/vms/web/disk1.vdi"}},
		{"attached", State{ResourceID: "ops-1-web", DiskPath: "/d", DiskAttached: true}},
		{"started with keys", State{
			ResourceID:           "ops-1-web",
			DiskPath:             "/d",
			DiskAttached:         true,
			Started:              true,
			CredentialPrivateKey: "PRIV",
			CredentialPublicKey:  "ssh-rsa PUB",
		}},
		{"fully provisioned", State{
			ResourceID:           "ops-1-web",
			PrivateAddress:       "192.168.56.101",
			DiskPath:             "/d",
			DiskAttached:         true,
			Started:              true,
			CredentialPrivateKey: "PRIV",
			CredentialPublicKey:  "ssh-rsa PUB",
		}},
		{"address without start flag", State{ResourceID: "x", PrivateAddress: "10.0.0.1", Started: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out State
			out.Deserialise(tt.in.Serialise())
			if !reflect.DeepEqual(out, tt.in) {
				t.Errorf("round trip changed state:\nin:  %+v\nout: %+v", tt.in, out)
			}
		})
	}
}

func TestDeserialise_MissingFieldsDefault(t *testing.T) {
	// A record from before some fields existed, or with optionals
	// omitted, restores to defaults.
	var s State
	s.Deserialise(map[string]any{
		keyResourceID: "ops-1-web",
		keyVirtualMachine: map[string]any{
			keyDisk: "/d",
		},
	})

	if s.ResourceID != "ops-1-web" || s.DiskPath != "/d" {
		t.Errorf("set fields lost: %+v", s)
	}
	if s.DiskAttached || s.Started {
		t.Errorf("booleans did not default to false: %+v", s)
	}
	if s.PrivateAddress != "" || s.CredentialPrivateKey != "" || s.CredentialPublicKey != "" {
		t.Errorf("optionals did not default to unset: %+v", s)
	}
}

func TestDeserialise_NoNestedGroup(t *testing.T) {
	var s State
	s.ResourceID = "stale"
	s.Started = true
	s.Deserialise(map[string]any{})

	if !reflect.DeepEqual(s, State{}) {
		t.Errorf("empty mapping did not reset the record: %+v", s)
	}
}

func TestReset(t *testing.T) {
	s := &State{ResourceID: "x", Started: true, DiskAttached: true, DiskPath: "/d"}
	s.Reset()
	if !reflect.DeepEqual(*s, State{}) {
		t.Errorf("Reset left fields set: %+v", *s)
	}
}
