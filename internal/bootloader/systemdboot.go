package bootloader

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Nova1545/gnome-shell-extension-customreboot/internal/runner"
)

// SystemdBootBackend reads entries through bootctl.
// Selecting the next boot entry, quick reboot and SetReadable are not supported.
type SystemdBootBackend struct {
	paths  Paths
	run    runner.Runner
	logger *zap.Logger
}

// NewSystemdBoot creates a systemd-boot backend.
func NewSystemdBoot(paths Paths, run runner.Runner, logger *zap.Logger) *SystemdBootBackend {
	return &SystemdBootBackend{
		paths:  paths,
		run:    run,
		logger: logger.With(zap.String("backend", "systemd-boot")),
	}
}

// Kind returns SystemdBoot.
func (s *SystemdBootBackend) Kind() Kind { return SystemdBoot }

// ListEntries runs "bootctl list". The raw output is always returned in
// Listing.Raw; entries are parsed from it on a best-effort basis and a
// non-zero exit code is left for the caller to judge.
func (s *SystemdBootBackend) ListEntries(ctx context.Context) (*Listing, error) {
	bootctl := firstExisting(s.paths.BootctlPaths)
	if bootctl == "" {
		return nil, fmt.Errorf("%w: tried %v", ErrBinaryNotFound, s.paths.BootctlPaths)
	}

	res, err := s.run.Run(ctx, []string{bootctl, "list"})
	if err != nil {
		return nil, err
	}
	if !res.Success() {
		s.logger.Warn("bootctl list exited non-zero", zap.Int("code", res.ExitCode))
	}

	entries, def := parseBootctlList(res.Lines)
	return &Listing{Entries: entries, Default: def, Raw: res}, nil
}

// SetNextBoot is not supported.
func (s *SystemdBootBackend) SetNextBoot(ctx context.Context, id string) (bool, error) {
	return false, fmt.Errorf("systemd-boot: set next boot: %w", ErrUnsupported)
}

// SetReadable is not supported; entries are read through bootctl.
func (s *SystemdBootBackend) SetReadable(ctx context.Context) error {
	return fmt.Errorf("systemd-boot: set readable: %w", ErrUnsupported)
}

// EnableQuickReboot is not supported.
func (s *SystemdBootBackend) EnableQuickReboot(ctx context.Context) error {
	return fmt.Errorf("systemd-boot: quick reboot: %w", ErrUnsupported)
}

// DisableQuickReboot is not supported.
func (s *SystemdBootBackend) DisableQuickReboot(ctx context.Context) error {
	return fmt.Errorf("systemd-boot: quick reboot: %w", ErrUnsupported)
}

// QuickRebootEnabled is not supported.
func (s *SystemdBootBackend) QuickRebootEnabled() (bool, error) {
	return false, fmt.Errorf("systemd-boot: quick reboot: %w", ErrUnsupported)
}

// parseBootctlList pairs each "title:" line with the "id:" line of the same
// record. The entry whose title is marked "(default)" becomes the default.
//
//	        title: Arch Linux (default) (selected)
//	           id: arch.conf
func parseBootctlList(lines []string) ([]BootEntry, string) {
	var (
		entries []BootEntry
		def     string
		title   string
		isDef   bool
		pending bool
	)

	for _, line := range lines {
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			if strings.TrimSpace(line) == "" {
				pending = false
			}
			continue
		}
		value = strings.TrimSpace(value)

		switch key {
		case "title":
			title, isDef = stripMarkers(value)
			pending = true
		case "id":
			if !pending {
				continue
			}
			entries = append(entries, BootEntry{ID: value, Label: title})
			if isDef {
				def = value
			}
			pending = false
		}
	}
	return entries, def
}

// stripMarkers removes the status markers bootctl appends to a title.
func stripMarkers(title string) (string, bool) {
	var isDefault bool
	for {
		switch {
		case strings.HasSuffix(title, "(default)"):
			title = strings.TrimSpace(strings.TrimSuffix(title, "(default)"))
			isDefault = true
		case strings.HasSuffix(title, "(selected)"):
			title = strings.TrimSpace(strings.TrimSuffix(title, "(selected)"))
		case strings.HasSuffix(title, "(reported/absent)"):
			title = strings.TrimSpace(strings.TrimSuffix(title, "(reported/absent)"))
		default:
			return title, isDefault
		}
	}
}
