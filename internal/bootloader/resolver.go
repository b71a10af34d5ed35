package bootloader

import (
	"go.uber.org/zap"

	"github.com/Nova1545/gnome-shell-extension-customreboot/internal/runner"
)

// Resolver picks the authoritative bootloader from filesystem state.
// It holds no state of its own; every call looks at the disk again.
type Resolver struct {
	paths  Paths
	run    runner.Runner
	logger *zap.Logger
}

// NewResolver creates a Resolver whose backends use run to invoke tools.
func NewResolver(paths Paths, run runner.Runner, logger *zap.Logger) *Resolver {
	return &Resolver{
		paths:  paths,
		run:    run,
		logger: logger.Named("bootloader"),
	}
}

// CurrentKind returns Grub if any GRUB config exists, otherwise SystemdBoot.
// systemd-boot is assumed without checking that it is installed.
func (r *Resolver) CurrentKind() Kind {
	if firstExisting(r.paths.GrubConfigs) != "" {
		return Grub
	}
	return SystemdBoot
}

// CurrentBackend returns a backend for CurrentKind.
func (r *Resolver) CurrentBackend() Backend {
	return r.Backend(r.CurrentKind())
}

// Backend returns the backend for an explicit kind.
func (r *Resolver) Backend(kind Kind) Backend {
	if kind == Grub {
		return NewGrub(r.paths, r.run, r.logger)
	}
	return NewSystemdBoot(r.paths, r.run, r.logger)
}
