// Package image resolves a definition's base image reference into a
// concrete local artifact path. A literal absolute path resolves to
// itself; anything else is treated as a build reference handed to an
// external build command whose output names the artifact.
package image

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/atsukotakahashi/ops/internal/command"
)

// Resolver resolves base image references.
type Resolver struct {
	// Runner executes the build command; defaults to command.ExecRunner.
	Runner command.Runner

	// BuildCommand is the external builder invoked for build references;
	// the reference is appended as the final argument and the built
	// artifact path is read from stdout. Empty means build references
	// cannot be resolved.
	BuildCommand []string
}

func (r *Resolver) runner() command.Runner {
	if r.Runner == nil {
		return command.ExecRunner{}
	}
	return r.Runner
}

// Resolve returns the local path for a base image reference.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	if filepath.IsAbs(ref) {
		return ref, nil
	}

	if len(r.BuildCommand) == 0 {
		return "", fmt.Errorf("base image %q is a build reference but no build command is configured", ref)
	}

	args := append(append([]string{}, r.BuildCommand[1:]...), ref)
	out, err := r.runner().Output(ctx, r.BuildCommand[0], args...)
	if err != nil {
		return "", fmt.Errorf("failed to build base image %q: %w", ref, err)
	}
	path := strings.TrimSpace(string(out))
	if path == "" {
		return "", fmt.Errorf("build of base image %q produced no artifact path", ref)
	}
	return path, nil
}
