package service

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	baseName = "com.nova1545.custom_reboot"

	// BusName is the well-known name owned by the running service.
	BusName = baseName + ".BootService"

	// EntryInterface carries echo and the bootloader operations.
	EntryInterface = baseName + ".BootEntryInterface"
	// QuitInterface carries quit.
	QuitInterface = baseName + ".QuitInterface"

	errorPrefix = baseName + ".Error."

	// ObjectPath is where both interfaces are exported.
	ObjectPath dbus.ObjectPath = "/Custom_RebootObject"

	introspectInterface = "org.freedesktop.DBus.Introspectable"
)

// Conn is the part of *dbus.Conn used by the service and its client.
type Conn interface {
	RequestName(name string, flags dbus.RequestNameFlags) (dbus.RequestNameReply, error)
	ReleaseName(name string) (dbus.ReleaseNameReply, error)
	Export(v interface{}, path dbus.ObjectPath, iface string) error
	ExportWithMap(v interface{}, mapping map[string]string, path dbus.ObjectPath, iface string) error
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
	Close() error
}

// Dial connects to the session or system bus.
func Dial(busType string) (Conn, error) {
	var (
		conn *dbus.Conn
		err  error
	)
	switch busType {
	case "system":
		conn, err = dbus.ConnectSystemBus()
	case "session", "":
		conn, err = dbus.ConnectSessionBus()
	default:
		return nil, fmt.Errorf("unknown bus type %q", busType)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to %s bus: %w", busType, err)
	}
	return conn, nil
}
