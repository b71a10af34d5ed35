// Package bootloader abstracts over the bootloaders that can pick the next boot
// target: GRUB and systemd-boot. The Resolver decides which one is
// authoritative on this machine; each Backend lists entries and sets the next
// boot entry through the bootloader's own tools.
package bootloader

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/Nova1545/gnome-shell-extension-customreboot/internal/runner"
)

var (
	// ErrConfigNotFound is returned when none of the GRUB config paths exist.
	ErrConfigNotFound = errors.New("bootloader config not found")

	// ErrBinaryNotFound is returned when none of the bootctl paths exist.
	ErrBinaryNotFound = errors.New("bootloader control binary not found")

	// ErrCommandFailed is returned when a tool whose failure must abort the
	// operation, such as update-grub, exits non-zero.
	ErrCommandFailed = errors.New("command failed")

	// ErrUnsupported is returned by operations the backend does not implement.
	ErrUnsupported = errors.New("operation not supported by bootloader")
)

// Kind identifies a bootloader backend.
type Kind int

const (
	// SystemdBoot is assumed whenever no GRUB config is present.
	SystemdBoot Kind = iota
	// Grub is selected when any of the GRUB config paths exists.
	Grub
)

// String returns the display name of the bootloader.
func (k Kind) String() string {
	switch k {
	case SystemdBoot:
		return "Systemd Boot"
	case Grub:
		return "Grub"
	default:
		return "Unknown Boot Loader"
	}
}

// BootEntry is a selectable boot option.
type BootEntry struct {
	ID    string
	Label string
}

// Listing is the result of enumerating a bootloader's entries.
type Listing struct {
	Entries []BootEntry
	// Default is the ID of the entry booted when nothing else is selected.
	Default string
	// Raw is the captured tool output, when the listing came from a command.
	Raw *runner.Result
}

// Backend is the capability set shared by all bootloaders.
type Backend interface {
	Kind() Kind

	// ListEntries enumerates the boot entries in bootloader order.
	ListEntries(ctx context.Context) (*Listing, error)

	// SetNextBoot selects the entry used on the next reboot. The bool is
	// false when the bootloader tool ran but exited non-zero.
	SetNextBoot(ctx context.Context, id string) (bool, error)

	// SetReadable makes the bootloader config readable by every user so
	// that ListEntries works without privileges.
	SetReadable(ctx context.Context) error

	// EnableQuickReboot installs the helper that lets the next boot entry
	// be chosen without showing the menu; DisableQuickReboot removes it.
	EnableQuickReboot(ctx context.Context) error
	DisableQuickReboot(ctx context.Context) error

	// QuickRebootEnabled reports whether the helper is installed.
	QuickRebootEnabled() (bool, error)
}

// Paths lists every filesystem location the backends touch.
type Paths struct {
	GrubConfigs  []string
	BootctlPaths []string
	GrubReboot   string
	UpdateGrub   string

	// QuickRebootScript is the helper shipped with the shell extension.
	QuickRebootScript string
	// QuickRebootTarget is where the helper is installed for grub-mkconfig.
	QuickRebootTarget string
}

// Well-known bootloader locations, in search order.
var (
	DefaultGrubConfigs  = []string{"/boot/grub/grub.cfg", "/boot/grub2/grub.cfg"}
	DefaultBootctlPaths = []string{"/usr/sbin/bootctl", "/usr/bin/bootctl"}
)

// Default tool and install locations.
const (
	DefaultGrubReboot        = "/usr/sbin/grub-reboot"
	DefaultUpdateGrub        = "/usr/sbin/update-grub"
	DefaultQuickRebootTarget = "/etc/grub.d/42_custom_reboot"
)

// DefaultQuickRebootScript returns the helper script path inside the user's
// installed extension directory.
func DefaultQuickRebootScript() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "gnome-shell", "extensions",
		"customreboot@nova1545", "42_custom_reboot")
}

// DefaultPaths returns the well-known locations used on common distributions.
func DefaultPaths() Paths {
	return Paths{
		GrubConfigs:       append([]string(nil), DefaultGrubConfigs...),
		BootctlPaths:      append([]string(nil), DefaultBootctlPaths...),
		GrubReboot:        DefaultGrubReboot,
		UpdateGrub:        DefaultUpdateGrub,
		QuickRebootScript: DefaultQuickRebootScript(),
		QuickRebootTarget: DefaultQuickRebootTarget,
	}
}

// firstExisting returns the first path that exists, or "".
func firstExisting(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
