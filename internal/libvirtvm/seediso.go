package libvirtvm

import (
	"bytes"
	"fmt"

	"github.com/kdomanski/iso9660"
)

// seedVolumeLabel is the volume identifier of the credential seed ISO.
const seedVolumeLabel = "OPSDATA"

// seedISOFileName is the seed ISO's filename inside the machine's
// storage directory.
const seedISOFileName = "seed.iso"

// buildSeedISO creates the ISO image handed to the guest as a cdrom at
// start. It carries a single file, client-key, holding the credential
// public key in authorized_keys form; the guest's first-boot hook
// installs it.
func buildSeedISO(publicKey string) ([]byte, error) {
	writer, err := iso9660.NewWriter()
	if err != nil {
		return nil, fmt.Errorf("failed to create ISO writer: %w", err)
	}
	defer func() {
		_ = writer.Cleanup()
	}()

	if err := writer.AddFile(bytes.NewReader([]byte(publicKey)), "client-key"); err != nil {
		return nil, fmt.Errorf("failed to add client-key: %w", err)
	}

	var buf bytes.Buffer
	if err := writer.WriteTo(&buf, seedVolumeLabel); err != nil {
		return nil, fmt.Errorf("failed to write ISO image: %w", err)
	}
	return buf.Bytes(), nil
}
