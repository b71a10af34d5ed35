package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"
)

// Bus errors meaning nobody owns the requested name.
var notRunningErrors = map[string]bool{
	"org.freedesktop.DBus.Error.ServiceUnknown": true,
	"org.freedesktop.DBus.Error.NameHasNoOwner": true,
}

// Client calls a running Service.
type Client struct {
	conn    Conn
	timeout time.Duration
}

// NewClient creates a client on conn. A zero timeout means calls wait for
// the bus to answer.
func NewClient(conn Conn, timeout time.Duration) *Client {
	return &Client{conn: conn, timeout: timeout}
}

// Stop asks the running service to quit. It returns ErrNotRunning when no
// service owns BusName.
func (c *Client) Stop(ctx context.Context) error {
	return c.call(ctx, QuitInterface+".quit")
}

// Echo returns the name of the bootloader the service is using.
func (c *Client) Echo(ctx context.Context) (string, error) {
	var name string
	if err := c.call(ctx, EntryInterface+".echo", &name); err != nil {
		return "", err
	}
	return name, nil
}

func (c *Client) call(ctx context.Context, method string, ret ...interface{}) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	call := c.conn.Object(BusName, ObjectPath).CallWithContext(ctx, method, 0)
	if call.Err != nil {
		return classify(method, call.Err)
	}
	if len(ret) == 0 {
		return nil
	}
	if err := call.Store(ret...); err != nil {
		return fmt.Errorf("%s: decoding reply: %w", method, err)
	}
	return nil
}

func classify(method string, err error) error {
	var name string
	var valErr dbus.Error
	var ptrErr *dbus.Error
	switch {
	case errors.As(err, &valErr):
		name = valErr.Name
	case errors.As(err, &ptrErr):
		name = ptrErr.Name
	}
	if notRunningErrors[name] {
		return fmt.Errorf("%w: nothing owns %s", ErrNotRunning, BusName)
	}
	return fmt.Errorf("%s: %w", method, err)
}
