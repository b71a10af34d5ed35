package bootloader

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"regexp"

	"go.uber.org/zap"

	"github.com/Nova1545/gnome-shell-extension-customreboot/internal/runner"
)

var (
	menuEntryRe = regexp.MustCompile(`^menuentry ['"]([^'"]+)`)
	// Only this character class is accepted; "${saved_entry}" and the like do not match.
	defaultRe = regexp.MustCompile(`set default="([A-Za-z0-9 ()/\-]*)"`)
)

const readableConfigMode = 0644

// GrubBackend manages GRUB through grub.cfg, grub-reboot and update-grub.
type GrubBackend struct {
	paths  Paths
	run    runner.Runner
	logger *zap.Logger
}

// NewGrub creates a GRUB backend.
func NewGrub(paths Paths, run runner.Runner, logger *zap.Logger) *GrubBackend {
	return &GrubBackend{
		paths:  paths,
		run:    run,
		logger: logger.With(zap.String("backend", "grub")),
	}
}

// Kind returns Grub.
func (g *GrubBackend) Kind() Kind { return Grub }

// ListEntries parses the top-level menuentry titles out of grub.cfg.
// Both ID and Label are the raw title, which is what grub-reboot accepts.
func (g *GrubBackend) ListEntries(ctx context.Context) (*Listing, error) {
	cfgPath := firstExisting(g.paths.GrubConfigs)
	if cfgPath == "" {
		return nil, fmt.Errorf("%w: tried %v", ErrConfigNotFound, g.paths.GrubConfigs)
	}

	f, err := os.Open(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("opening grub config: %w", err)
	}
	defer f.Close()

	listing := &Listing{}
	var defaultEntry string

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if m := menuEntryRe.FindStringSubmatch(line); m != nil {
			listing.Entries = append(listing.Entries, BootEntry{ID: m[1], Label: m[1]})
		}
		if m := defaultRe.FindStringSubmatch(line); m != nil {
			defaultEntry = m[1]
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading grub config %s: %w", cfgPath, err)
	}

	if defaultEntry == "" && len(listing.Entries) > 0 {
		defaultEntry = listing.Entries[0].ID
	}
	listing.Default = defaultEntry

	g.logger.Debug("Parsed grub config",
		zap.String("path", cfgPath),
		zap.Int("entries", len(listing.Entries)),
		zap.String("default", listing.Default))
	return listing, nil
}

// SetNextBoot runs grub-reboot with id as its only argument.
func (g *GrubBackend) SetNextBoot(ctx context.Context, id string) (bool, error) {
	res, err := g.run.Run(ctx, []string{g.paths.GrubReboot, id})
	if err != nil {
		return false, err
	}
	if !res.Success() {
		g.logger.Warn("grub-reboot failed",
			zap.String("entry", id),
			zap.Int("code", res.ExitCode),
			zap.String("output", res.Output()))
		return false, nil
	}
	g.logger.Info("Next boot entry set", zap.String("entry", id))
	return true, nil
}

// SetReadable sets the located grub.cfg to mode 0644. The service must
// have the privileges to change the file's mode.
func (g *GrubBackend) SetReadable(ctx context.Context) error {
	cfgPath := firstExisting(g.paths.GrubConfigs)
	if cfgPath == "" {
		return fmt.Errorf("%w: tried %v", ErrConfigNotFound, g.paths.GrubConfigs)
	}
	if err := os.Chmod(cfgPath, readableConfigMode); err != nil {
		return fmt.Errorf("making grub config readable: %w", err)
	}
	g.logger.Info("Made grub config readable", zap.String("path", cfgPath))
	return nil
}

// QuickRebootEnabled reports whether the helper script is installed.
func (g *GrubBackend) QuickRebootEnabled() (bool, error) {
	_, err := os.Stat(g.paths.QuickRebootTarget)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("checking quick reboot script: %w", err)
}

// regenerate rebuilds grub.cfg.
func (g *GrubBackend) regenerate(ctx context.Context) error {
	res, err := g.run.Run(ctx, []string{g.paths.UpdateGrub})
	if err != nil {
		return err
	}
	if !res.Success() {
		return fmt.Errorf("%w: %s exited with code %d", ErrCommandFailed, g.paths.UpdateGrub, res.ExitCode)
	}
	return nil
}
