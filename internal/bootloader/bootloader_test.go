package bootloader

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Nova1545/gnome-shell-extension-customreboot/internal/runner"
)

// fakeRunner returns canned results keyed by argv[0] and records every call.
type fakeRunner struct {
	results map[string]*runner.Result
	errs    map[string]error
	calls   [][]string
}

func (f *fakeRunner) Run(_ context.Context, argv []string) (*runner.Result, error) {
	f.calls = append(f.calls, argv)
	if err := f.errs[argv[0]]; err != nil {
		return nil, err
	}
	if res, ok := f.results[argv[0]]; ok {
		return res, nil
	}
	return &runner.Result{}, nil
}

func testPaths(t *testing.T) Paths {
	t.Helper()
	dir := t.TempDir()
	grubDir := filepath.Join(dir, "etc", "grub.d")
	require.NoError(t, os.MkdirAll(grubDir, 0755))

	script := filepath.Join(dir, "extension", "42_custom_reboot")
	require.NoError(t, os.MkdirAll(filepath.Dir(script), 0755))
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho custom\n"), 0644))

	return Paths{
		GrubConfigs:       []string{filepath.Join(dir, "boot", "grub", "grub.cfg"), filepath.Join(dir, "boot", "grub2", "grub.cfg")},
		BootctlPaths:      []string{filepath.Join(dir, "usr", "sbin", "bootctl"), filepath.Join(dir, "usr", "bin", "bootctl")},
		GrubReboot:        "/usr/sbin/grub-reboot",
		UpdateGrub:        "/usr/sbin/update-grub",
		QuickRebootScript: script,
		QuickRebootTarget: filepath.Join(grubDir, "42_custom_reboot"),
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0755))
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "Grub", Grub.String())
	assert.Equal(t, "Systemd Boot", SystemdBoot.String())
	assert.Equal(t, "Unknown Boot Loader", Kind(42).String())
}

func TestResolver_CurrentKind(t *testing.T) {
	tests := []struct {
		name   string
		create []int // indexes of GrubConfigs to create
		want   Kind
	}{
		{"no grub config", nil, SystemdBoot},
		{"grub", []int{0}, Grub},
		{"grub2", []int{1}, Grub},
		{"both", []int{0, 1}, Grub},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			paths := testPaths(t)
			for _, i := range tt.create {
				writeFile(t, paths.GrubConfigs[i], "")
			}
			r := NewResolver(paths, &fakeRunner{}, zaptest.NewLogger(t))

			assert.Equal(t, tt.want, r.CurrentKind())
			assert.Equal(t, tt.want, r.CurrentBackend().Kind())
		})
	}
}

func TestResolver_NotCached(t *testing.T) {
	paths := testPaths(t)
	r := NewResolver(paths, &fakeRunner{}, zaptest.NewLogger(t))
	require.Equal(t, SystemdBoot, r.CurrentKind())

	writeFile(t, paths.GrubConfigs[1], "menuentry 'x' {}\n")
	assert.Equal(t, Grub, r.CurrentKind())

	require.NoError(t, os.Remove(paths.GrubConfigs[1]))
	assert.Equal(t, SystemdBoot, r.CurrentKind())
}

func TestResolver_IgnoresBootctlPresence(t *testing.T) {
	paths := testPaths(t)
	r := NewResolver(paths, &fakeRunner{}, zaptest.NewLogger(t))
	// no bootctl binary anywhere, still systemd-boot
	assert.Equal(t, SystemdBoot, r.CurrentKind())

	writeFile(t, paths.BootctlPaths[0], "")
	writeFile(t, paths.GrubConfigs[0], "")
	assert.Equal(t, Grub, r.CurrentKind())
}

func TestDefaultPaths(t *testing.T) {
	p := DefaultPaths()
	assert.Equal(t, []string{"/boot/grub/grub.cfg", "/boot/grub2/grub.cfg"}, p.GrubConfigs)
	assert.Equal(t, []string{"/usr/sbin/bootctl", "/usr/bin/bootctl"}, p.BootctlPaths)
	assert.Equal(t, "/etc/grub.d/42_custom_reboot", p.QuickRebootTarget)
	assert.True(t, strings.HasSuffix(p.QuickRebootScript, "customreboot@nova1545/42_custom_reboot"))

	// callers may modify the returned slices
	p.GrubConfigs[0] = "changed"
	assert.Equal(t, "/boot/grub/grub.cfg", DefaultGrubConfigs[0])
}
