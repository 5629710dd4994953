package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/atsukotakahashi/ops/internal/command"
	"github.com/atsukotakahashi/ops/internal/keys"
)

// sshShutdown requests a graceful in-guest shutdown over SSH using the
// machine's credential private key. The key is materialised to a 0600
// file on first use; the shutdown command is backgrounded in the guest
// so the session closing does not abort it.
type sshShutdown struct {
	keyPath string
	runner  command.Runner
}

func (s *sshShutdown) RequestShutdown(ctx context.Context, address, privateKey string) error {
	if address == "" {
		return fmt.Errorf("no address on record")
	}
	if err := os.MkdirAll(filepath.Dir(s.keyPath), 0o700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := keys.MaterialiseFile(s.keyPath, privateKey); err != nil {
		return err
	}

	r := s.runner
	if r == nil {
		r = command.ExecRunner{}
	}
	args := append(keys.SSHFlags(s.keyPath), "root@"+address, "poweroff &")
	return r.Run(ctx, "ssh", args...)
}
