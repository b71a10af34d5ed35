// Package bustest provides an in-memory message bus for tests. It implements
// name ownership and dispatches method calls to exported Go objects the way
// godbus does, without a bus daemon.
package bustest

import (
	"context"
	"reflect"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
)

// Bus arbitrates well-known names between connections.
type Bus struct {
	mu     sync.Mutex
	owners map[string]*Conn
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{owners: make(map[string]*Conn)}
}

// Conn opens a new connection on the bus.
func (b *Bus) Conn() *Conn {
	return &Conn{
		bus:     b,
		exports: make(map[dbus.ObjectPath]map[string]export),
	}
}

// HasOwner reports whether some connection owns name.
func (b *Bus) HasOwner(name string) bool {
	return b.owner(name) != nil
}

func (b *Bus) owner(name string) *Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.owners[name]
}

type export struct {
	v       interface{}
	mapping map[string]string
}

var dbusErrorType = reflect.TypeOf((*dbus.Error)(nil))

// method finds the Go method serving the wire member name.
func (e export) method(member string) reflect.Value {
	name := member
	found := false
	for goName, wire := range e.mapping {
		if wire == member {
			name, found = goName, true
			break
		}
	}
	if _, renamed := e.mapping[member]; !found && renamed {
		return reflect.Value{}
	}

	m := reflect.ValueOf(e.v).MethodByName(name)
	if !m.IsValid() {
		return m
	}
	t := m.Type()
	if t.NumOut() == 0 || t.Out(t.NumOut()-1) != dbusErrorType {
		return reflect.Value{}
	}
	return m
}

// Conn is a connection to a Bus. It satisfies the connection interface of
// the service package.
type Conn struct {
	bus *Bus

	mu      sync.Mutex
	exports map[dbus.ObjectPath]map[string]export
	closed  bool
}

// RequestName claims name for c. With NameFlagDoNotQueue a taken name
// yields RequestNameReplyExists.
func (c *Conn) RequestName(name string, flags dbus.RequestNameFlags) (dbus.RequestNameReply, error) {
	if c.isClosed() {
		return 0, dbus.ErrClosed
	}
	b := c.bus
	b.mu.Lock()
	defer b.mu.Unlock()

	switch owner := b.owners[name]; {
	case owner == c:
		return dbus.RequestNameReplyAlreadyOwner, nil
	case owner != nil && flags&dbus.NameFlagDoNotQueue != 0:
		return dbus.RequestNameReplyExists, nil
	case owner != nil:
		return dbus.RequestNameReplyInQueue, nil
	}
	b.owners[name] = c
	return dbus.RequestNameReplyPrimaryOwner, nil
}

// ReleaseName gives up name if c owns it.
func (c *Conn) ReleaseName(name string) (dbus.ReleaseNameReply, error) {
	if c.isClosed() {
		return 0, dbus.ErrClosed
	}
	b := c.bus
	b.mu.Lock()
	defer b.mu.Unlock()

	switch owner := b.owners[name]; {
	case owner == nil:
		return dbus.ReleaseNameReplyNonExistent, nil
	case owner != c:
		return dbus.ReleaseNameReplyNotOwner, nil
	}
	delete(b.owners, name)
	return dbus.ReleaseNameReplyReleased, nil
}

// Export registers v without a method name mapping.
func (c *Conn) Export(v interface{}, path dbus.ObjectPath, iface string) error {
	return c.ExportWithMap(v, nil, path, iface)
}

// ExportWithMap registers v under path and iface. A nil v removes the export.
func (c *Conn) ExportWithMap(v interface{}, mapping map[string]string, path dbus.ObjectPath, iface string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v == nil {
		delete(c.exports[path], iface)
		return nil
	}
	if c.exports[path] == nil {
		c.exports[path] = make(map[string]export)
	}
	c.exports[path][iface] = export{v: v, mapping: mapping}
	return nil
}

// Exported reports whether anything is exported under path and iface.
func (c *Conn) Exported(path dbus.ObjectPath, iface string) bool {
	_, ok := c.lookup(path, iface)
	return ok
}

// Object returns a proxy that calls objects exported by the owner of dest.
func (c *Conn) Object(dest string, path dbus.ObjectPath) dbus.BusObject {
	return &object{conn: c, dest: dest, path: path}
}

// Close drops every name owned by the connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	b := c.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	for name, owner := range b.owners {
		if owner == c {
			delete(b.owners, name)
		}
	}
	return nil
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	return c.isClosed()
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) lookup(path dbus.ObjectPath, iface string) (export, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	exp, ok := c.exports[path][iface]
	return exp, ok
}

// object is a remote object proxy. Methods other than those below are not
// implemented and panic through the nil embedded interface.
type object struct {
	dbus.BusObject

	conn *Conn
	dest string
	path dbus.ObjectPath
}

func (o *object) Destination() string { return o.dest }

func (o *object) Path() dbus.ObjectPath { return o.path }

func (o *object) Call(method string, flags dbus.Flags, args ...interface{}) *dbus.Call {
	return o.CallWithContext(context.Background(), method, flags, args...)
}

func (o *object) CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call {
	call := &dbus.Call{Destination: o.dest, Path: o.path, Method: method, Args: args}

	if o.conn.isClosed() {
		call.Err = dbus.ErrClosed
		return call
	}
	if err := ctx.Err(); err != nil {
		call.Err = err
		return call
	}

	owner := o.conn.bus.owner(o.dest)
	if owner == nil {
		call.Err = busError("org.freedesktop.DBus.Error.ServiceUnknown",
			"The name "+o.dest+" was not provided by any .service files")
		return call
	}

	i := strings.LastIndex(method, ".")
	if i < 0 {
		call.Err = busError("org.freedesktop.DBus.Error.UnknownMethod", "no interface in "+method)
		return call
	}
	iface, member := method[:i], method[i+1:]

	exp, ok := owner.lookup(o.path, iface)
	if !ok {
		call.Err = busError("org.freedesktop.DBus.Error.UnknownObject", "no "+iface+" at "+string(o.path))
		return call
	}
	fn := exp.method(member)
	if !fn.IsValid() {
		call.Err = busError("org.freedesktop.DBus.Error.UnknownMethod", "unknown method "+member)
		return call
	}

	ft := fn.Type()
	if ft.NumIn() != len(args) {
		call.Err = busError("org.freedesktop.DBus.Error.InvalidArgs", "wrong argument count")
		return call
	}
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		v := reflect.ValueOf(a)
		if !v.IsValid() || !v.Type().AssignableTo(ft.In(i)) {
			call.Err = busError("org.freedesktop.DBus.Error.InvalidArgs", "wrong argument type")
			return call
		}
		in[i] = v
	}

	out := fn.Call(in)
	if last := out[len(out)-1]; !last.IsNil() {
		call.Err = *last.Interface().(*dbus.Error)
		return call
	}
	for _, v := range out[:len(out)-1] {
		call.Body = append(call.Body, v.Interface())
	}
	return call
}

func busError(name, msg string) dbus.Error {
	return dbus.Error{Name: name, Body: []interface{}{msg}}
}
