// Package service exposes the bootloader resolver on D-Bus.
// Only one instance may own the well-known name at a time; a second
// instance fails immediately instead of queueing.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/coreos/go-systemd/v22/login1"
	"github.com/godbus/dbus/v5"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Nova1545/gnome-shell-extension-customreboot/internal/bootloader"
)

var (
	// ErrAlreadyRunning is returned by New when another process owns BusName.
	ErrAlreadyRunning = errors.New("server is already running")

	// ErrNotRunning is returned by Client calls when nothing owns BusName.
	ErrNotRunning = errors.New("server is not running")
)

const defaultShutdownGrace = 200 * time.Millisecond

// Rebooter asks the system to reboot.
type Rebooter interface {
	Reboot(askForAuth bool)
	Close()
}

// Service owns the bus connection, the well-known name and the run loop.
type Service struct {
	conn     Conn
	resolver *bootloader.Resolver
	logger   *zap.Logger

	// mu serializes remote calls; one call runs to completion before the next.
	mu sync.Mutex

	stop     chan struct{}
	stopOnce sync.Once

	grace       time.Duration
	notify      func(state string)
	newRebooter func() (Rebooter, error)
}

// Option configures a Service.
type Option func(*Service)

// WithShutdownGrace sets how long Run waits after a stop request before
// closing the connection, so the reply to quit() can be delivered.
func WithShutdownGrace(d time.Duration) Option {
	return func(s *Service) { s.grace = d }
}

// WithNotifier replaces the sd_notify hook.
func WithNotifier(fn func(state string)) Option {
	return func(s *Service) { s.notify = fn }
}

// WithRebooter replaces the logind connection used by reboot_into.
func WithRebooter(fn func() (Rebooter, error)) Option {
	return func(s *Service) { s.newRebooter = fn }
}

// New exports the service objects on conn and claims BusName.
// On success the Service owns conn and closes it when Run returns.
// If the name is taken it returns ErrAlreadyRunning and leaves conn to the caller.
func New(conn Conn, resolver *bootloader.Resolver, logger *zap.Logger, opts ...Option) (*Service, error) {
	s := &Service{
		conn:        conn,
		resolver:    resolver,
		logger:      logger.Named("service"),
		stop:        make(chan struct{}),
		grace:       defaultShutdownGrace,
		notify:      sdNotify,
		newRebooter: logindRebooter,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.export(); err != nil {
		s.unexport()
		return nil, fmt.Errorf("exporting objects: %w", err)
	}

	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		s.unexport()
		return nil, fmt.Errorf("requesting bus name %s: %w", BusName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		s.unexport()
		return nil, ErrAlreadyRunning
	}

	return s, nil
}

// Run blocks until quit() is called, RequestStop is called or ctx is done.
// It then releases the bus name and closes the connection.
func (s *Service) Run(ctx context.Context) error {
	s.notify(daemon.SdNotifyReady)
	s.logger.Info("Service listening",
		zap.String("name", BusName),
		zap.String("path", string(ObjectPath)))

	select {
	case <-ctx.Done():
		s.logger.Info("Context cancelled, shutting down")
	case <-s.stop:
		s.logger.Info("Stop requested, shutting down")
	}
	s.notify(daemon.SdNotifyStopping)

	var errs error
	if _, err := s.conn.ReleaseName(BusName); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("releasing bus name: %w", err))
	}

	if s.grace > 0 {
		time.Sleep(s.grace)
	}

	// wait for a call still in progress
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.conn.Close(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("closing bus connection: %w", err))
	}
	return errs
}

// RequestStop makes Run return. Safe to call more than once.
func (s *Service) RequestStop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Done is closed once a stop has been requested.
func (s *Service) Done() <-chan struct{} {
	return s.stop
}

func (s *Service) export() error {
	if err := s.conn.ExportWithMap(&entryObject{s: s}, entryMethodNames, ObjectPath, EntryInterface); err != nil {
		return err
	}
	if err := s.conn.ExportWithMap(&quitObject{s: s}, quitMethodNames, ObjectPath, QuitInterface); err != nil {
		return err
	}
	return s.conn.Export(introspectable(), ObjectPath, introspectInterface)
}

func (s *Service) unexport() {
	for _, iface := range []string{EntryInterface, QuitInterface, introspectInterface} {
		_ = s.conn.Export(nil, ObjectPath, iface)
	}
}

func sdNotify(state string) {
	// Returns false without error when not started by systemd.
	_, _ = daemon.SdNotify(false, state)
}

func logindRebooter() (Rebooter, error) {
	conn, err := login1.New()
	if err != nil {
		return nil, err
	}
	return conn, nil
}
