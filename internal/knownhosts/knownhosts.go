// Package knownhosts maintains the SSH trust-record store. When a
// private address is discovered or reassigned, any cached host key for
// that address must be dropped: the address may now belong to a
// different machine, and a stale record would block the first
// connection.
package knownhosts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh/knownhosts"
)

// File is a trust-record store backed by an OpenSSH known_hosts file.
type File struct {
	Path string
}

// Default returns the store for the current user's known_hosts file.
func Default() (*File, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to locate home directory: %w", err)
	}
	return &File{Path: filepath.Join(home, ".ssh", "known_hosts")}, nil
}

// Invalidate removes every record for the given address. A missing file
// means there is nothing to invalidate. Hashed entries are left alone;
// they cannot be matched without the original hostname salt.
func (f *File) Invalidate(address string) error {
	data, err := os.ReadFile(f.Path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", f.Path, err)
	}

	target := knownhosts.Normalize(address)
	var kept []string
	changed := false
	for _, line := range strings.Split(string(data), "\n") {
		if matchesHost(line, target) {
			changed = true
			continue
		}
		kept = append(kept, line)
	}
	if !changed {
		return nil
	}

	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strings.Join(kept, "\n")), 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.Path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", f.Path, err)
	}
	return nil
}

// matchesHost reports whether a known_hosts line's host field contains
// the normalized target host.
func matchesHost(line, target string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return false
	}
	fields := strings.Fields(trimmed)
	if len(fields) < 3 {
		return false
	}
	hosts := fields[0]
	// Marker lines (@revoked, @cert-authority) carry the host field in
	// the second position.
	if strings.HasPrefix(hosts, "@") {
		if len(fields) < 4 {
			return false
		}
		hosts = fields[1]
	}
	for _, h := range strings.Split(hosts, ",") {
		if knownhosts.Normalize(h) == target {
			return true
		}
	}
	return false
}
