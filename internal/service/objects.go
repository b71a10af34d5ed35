package service

import (
	"context"
	"errors"
	"io/fs"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"go.uber.org/zap"

	"github.com/Nova1545/gnome-shell-extension-customreboot/internal/bootloader"
	"github.com/Nova1545/gnome-shell-extension-customreboot/internal/runner"
)

// Wire names of the exported methods, keyed by Go method name.
var (
	entryMethodNames = map[string]string{
		"Echo":               "echo",
		"GetBootOptions":     "get_boot_options",
		"SetBootOption":      "set_boot_option",
		"SetReadable":        "set_readable",
		"EnableQuickReboot":  "enable_quick_reboot",
		"DisableQuickReboot": "disable_quick_reboot",
		"IsQuickReboot":      "is_quick_reboot",
		"RebootInto":         "reboot_into",
	}
	quitMethodNames = map[string]string{
		"Quit": "quit",
	}
)

// entryObject implements EntryInterface.
type entryObject struct {
	s *Service
}

// Echo returns the display name of the bootloader handling requests.
func (o *entryObject) Echo() (string, *dbus.Error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()

	return o.s.resolver.CurrentKind().String(), nil
}

// GetBootOptions returns the boot entries and the default entry ID.
func (o *entryObject) GetBootOptions() ([]bootloader.BootEntry, string, *dbus.Error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()

	listing, err := o.s.resolver.CurrentBackend().ListEntries(context.Background())
	if err != nil {
		o.s.logger.Warn("Listing boot entries failed", zap.Error(err))
		return nil, "", toDBusError(err)
	}
	entries := listing.Entries
	if entries == nil {
		entries = []bootloader.BootEntry{}
	}
	return entries, listing.Default, nil
}

// SetBootOption selects the entry booted next.
func (o *entryObject) SetBootOption(id string) (bool, *dbus.Error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()

	return o.s.setNextBoot(id), nil
}

// SetReadable lets an unprivileged caller read the bootloader config
// after get_boot_options failed with PermissionDenied.
func (o *entryObject) SetReadable() (bool, *dbus.Error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()

	err := o.s.resolver.CurrentBackend().SetReadable(context.Background())
	if err != nil {
		o.s.logger.Warn("Making bootloader config readable failed", zap.Error(err))
	}
	return err == nil, nil
}

// EnableQuickReboot installs the GRUB helper script.
func (o *entryObject) EnableQuickReboot() (bool, *dbus.Error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()

	err := o.s.resolver.CurrentBackend().EnableQuickReboot(context.Background())
	if err != nil {
		o.s.logger.Warn("Enabling quick reboot failed", zap.Error(err))
	}
	return err == nil, nil
}

// DisableQuickReboot removes the GRUB helper script.
func (o *entryObject) DisableQuickReboot() (bool, *dbus.Error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()

	err := o.s.resolver.CurrentBackend().DisableQuickReboot(context.Background())
	if err != nil {
		o.s.logger.Warn("Disabling quick reboot failed", zap.Error(err))
	}
	return err == nil, nil
}

// IsQuickReboot reports false when the backend cannot tell.
func (o *entryObject) IsQuickReboot() (bool, *dbus.Error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()

	enabled, err := o.s.resolver.CurrentBackend().QuickRebootEnabled()
	if err != nil {
		o.s.logger.Debug("Quick reboot state unavailable", zap.Error(err))
		return false, nil
	}
	return enabled, nil
}

// RebootInto sets the next boot entry and asks logind to reboot.
func (o *entryObject) RebootInto(id string) (bool, *dbus.Error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()

	if !o.s.setNextBoot(id) {
		return false, nil
	}

	r, err := o.s.newRebooter()
	if err != nil {
		o.s.logger.Warn("Connecting to logind failed", zap.Error(err))
		return false, nil
	}
	defer r.Close()

	o.s.logger.Info("Rebooting", zap.String("entry", id))
	r.Reboot(true)
	return true, nil
}

// quitObject implements QuitInterface.
type quitObject struct {
	s *Service
}

// Quit stops the run loop. It does not take the call lock so it is never
// stuck behind a slow call.
func (o *quitObject) Quit() *dbus.Error {
	o.s.logger.Info("Quit called")
	o.s.RequestStop()
	return nil
}

func (s *Service) setNextBoot(id string) bool {
	ok, err := s.resolver.CurrentBackend().SetNextBoot(context.Background(), id)
	if err != nil {
		s.logger.Warn("Setting next boot entry failed", zap.String("entry", id), zap.Error(err))
		return false
	}
	return ok
}

// toDBusError names the error after the failure kind so callers can tell
// a missing bootloader from a broken one.
func toDBusError(err error) *dbus.Error {
	kind := "Failed"
	switch {
	case errors.Is(err, bootloader.ErrConfigNotFound):
		kind = "ConfigNotFound"
	case errors.Is(err, bootloader.ErrBinaryNotFound):
		kind = "BinaryNotFound"
	case errors.Is(err, bootloader.ErrUnsupported):
		kind = "Unsupported"
	case errors.Is(err, bootloader.ErrCommandFailed):
		kind = "CommandFailed"
	case errors.Is(err, runner.ErrExecution):
		kind = "ExecutionError"
	case errors.Is(err, runner.ErrTruncated):
		kind = "OutputTruncated"
	case errors.Is(err, fs.ErrPermission):
		kind = "PermissionDenied"
	}
	return dbus.NewError(errorPrefix+kind, []interface{}{err.Error()})
}

func introspectable() introspect.Introspectable {
	out := func(name, typ string) introspect.Arg {
		return introspect.Arg{Name: name, Type: typ, Direction: "out"}
	}
	in := func(name, typ string) introspect.Arg {
		return introspect.Arg{Name: name, Type: typ, Direction: "in"}
	}

	node := &introspect.Node{
		Name: string(ObjectPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name: EntryInterface,
				Methods: []introspect.Method{
					{Name: "echo", Args: []introspect.Arg{out("bootloader", "s")}},
					{Name: "get_boot_options", Args: []introspect.Arg{out("entries", "a(ss)"), out("default", "s")}},
					{Name: "set_boot_option", Args: []introspect.Arg{in("id", "s"), out("ok", "b")}},
					{Name: "set_readable", Args: []introspect.Arg{out("ok", "b")}},
					{Name: "enable_quick_reboot", Args: []introspect.Arg{out("ok", "b")}},
					{Name: "disable_quick_reboot", Args: []introspect.Arg{out("ok", "b")}},
					{Name: "is_quick_reboot", Args: []introspect.Arg{out("enabled", "b")}},
					{Name: "reboot_into", Args: []introspect.Arg{in("id", "s"), out("ok", "b")}},
				},
			},
			{
				Name:    QuitInterface,
				Methods: []introspect.Method{{Name: "quit"}},
			},
		},
	}
	return introspect.NewIntrospectable(node)
}
