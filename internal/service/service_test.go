package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Nova1545/gnome-shell-extension-customreboot/internal/bootloader"
	"github.com/Nova1545/gnome-shell-extension-customreboot/internal/runner"
	"github.com/Nova1545/gnome-shell-extension-customreboot/internal/service/bustest"
)

type fakeRunner struct {
	codes map[string]int
	calls [][]string
}

func (f *fakeRunner) Run(_ context.Context, argv []string) (*runner.Result, error) {
	f.calls = append(f.calls, argv)
	return &runner.Result{ExitCode: f.codes[argv[0]]}, nil
}

type fakeRebooter struct {
	rebooted bool
	closed   bool
}

func (f *fakeRebooter) Reboot(askForAuth bool) { f.rebooted = askForAuth }
func (f *fakeRebooter) Close()                 { f.closed = true }

type fixture struct {
	paths    bootloader.Paths
	runner   *fakeRunner
	rebooter *fakeRebooter
	notified []string
	resolver *bootloader.Resolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	script := filepath.Join(dir, "42_custom_reboot")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "grub.d"), 0755))

	f := &fixture{
		paths: bootloader.Paths{
			GrubConfigs:       []string{filepath.Join(dir, "grub.cfg")},
			BootctlPaths:      []string{filepath.Join(dir, "bootctl")},
			GrubReboot:        "grub-reboot",
			UpdateGrub:        "update-grub",
			QuickRebootScript: script,
			QuickRebootTarget: filepath.Join(dir, "grub.d", "42_custom_reboot"),
		},
		runner:   &fakeRunner{codes: map[string]int{}},
		rebooter: &fakeRebooter{},
	}
	f.resolver = bootloader.NewResolver(f.paths, f.runner, zaptest.NewLogger(t))
	return f
}

func (f *fixture) useGrub(t *testing.T, cfg string) {
	t.Helper()
	require.NoError(t, os.WriteFile(f.paths.GrubConfigs[0], []byte(cfg), 0644))
}

func (f *fixture) newService(t *testing.T, conn Conn) (*Service, error) {
	t.Helper()
	return New(conn, f.resolver, zaptest.NewLogger(t),
		WithShutdownGrace(0),
		WithNotifier(func(state string) { f.notified = append(f.notified, state) }),
		WithRebooter(func() (Rebooter, error) { return f.rebooter, nil }),
	)
}

// start runs the service in the background and returns a channel that
// receives Run's result.
func start(t *testing.T, s *Service) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	return done
}

func waitRun(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run loop did not exit")
	}
}

func TestService_EchoReportsBackend(t *testing.T) {
	f := newFixture(t)
	bus := bustest.New()
	s, err := f.newService(t, bus.Conn())
	require.NoError(t, err)
	done := start(t, s)

	client := NewClient(bus.Conn(), time.Second)
	ctx := context.Background()

	name, err := client.Echo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Systemd Boot", name)

	f.useGrub(t, "menuentry 'Ubuntu' {\n}\n")
	name, err = client.Echo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Grub", name)

	require.NoError(t, client.Stop(ctx))
	waitRun(t, done)
}

func TestService_SecondInstanceFails(t *testing.T) {
	f := newFixture(t)
	bus := bustest.New()
	first, err := f.newService(t, bus.Conn())
	require.NoError(t, err)
	done := start(t, first)

	secondConn := bus.Conn()
	second, err := f.newService(t, secondConn)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Nil(t, second)
	assert.False(t, secondConn.Exported(ObjectPath, EntryInterface), "failed instance must not leave exports behind")

	select {
	case <-first.Done():
		t.Fatal("first instance was stopped")
	default:
	}
	client := NewClient(bus.Conn(), time.Second)
	_, err = client.Echo(context.Background())
	assert.NoError(t, err)

	first.RequestStop()
	waitRun(t, done)
}

func TestService_StopEndsRunLoop(t *testing.T) {
	f := newFixture(t)
	bus := bustest.New()
	conn := bus.Conn()
	s, err := f.newService(t, conn)
	require.NoError(t, err)
	done := start(t, s)

	client := NewClient(bus.Conn(), time.Second)
	ctx := context.Background()
	require.NoError(t, client.Stop(ctx))
	waitRun(t, done)

	assert.False(t, bus.HasOwner(BusName))
	assert.True(t, conn.Closed())
	assert.Equal(t, []string{daemon.SdNotifyReady, daemon.SdNotifyStopping}, f.notified)

	_, err = client.Echo(ctx)
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.ErrorIs(t, client.Stop(ctx), ErrNotRunning)

	// the name is free again
	_, err = f.newService(t, bus.Conn())
	assert.NoError(t, err)
}

func TestService_ContextCancelEndsRunLoop(t *testing.T) {
	f := newFixture(t)
	bus := bustest.New()
	s, err := f.newService(t, bus.Conn())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	waitRun(t, done)
	assert.False(t, bus.HasOwner(BusName))
}

func TestService_RequestStopIdempotent(t *testing.T) {
	f := newFixture(t)
	s, err := f.newService(t, bustest.New().Conn())
	require.NoError(t, err)

	s.RequestStop()
	s.RequestStop()
	<-s.Done()
}

func TestClient_StopWithoutServer(t *testing.T) {
	client := NewClient(bustest.New().Conn(), time.Second)
	err := client.Stop(context.Background())
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		wantNotRunning bool
	}{
		{"service unknown", dbus.Error{Name: "org.freedesktop.DBus.Error.ServiceUnknown"}, true},
		{"no owner pointer", &dbus.Error{Name: "org.freedesktop.DBus.Error.NameHasNoOwner"}, true},
		{"other bus error", dbus.Error{Name: "org.freedesktop.DBus.Error.AccessDenied"}, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("m", tt.err)
			assert.Equal(t, tt.wantNotRunning, errors.Is(err, ErrNotRunning))
		})
	}
}
