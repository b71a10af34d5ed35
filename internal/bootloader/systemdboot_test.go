package bootloader

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Nova1545/gnome-shell-extension-customreboot/internal/runner"
)

const sampleBootctlList = `Boot Loader Entries:
         type: Boot Loader Specification Type #1 (.conf)
        title: Arch Linux (default) (selected)
           id: arch.conf
       source: /boot/loader/entries/arch.conf
        linux: /vmlinuz-linux
       initrd: /initramfs-linux.img
      options: root=PARTUUID=abcd rw

         type: Boot Loader Specification Type #1 (.conf)
        title: Arch Linux (fallback initramfs)
           id: arch-fallback.conf
       source: /boot/loader/entries/arch-fallback.conf

         type: Automatic
        title: Windows Boot Manager
           id: auto-windows
       source: /sys/firmware/efi/efivars/LoaderEntries-4a67b082-0a4c-41cf-b6c7-440b29bb8c4f

         type: Automatic
        title: Reboot Into Firmware Interface
           id: auto-reboot-to-firmware-setup
       source: /sys/firmware/efi/efivars/LoaderEntries-4a67b082-0a4c-41cf-b6c7-440b29bb8c4f
`

func TestSystemdBoot_ListEntries(t *testing.T) {
	paths := testPaths(t)
	writeFile(t, paths.BootctlPaths[1], "")
	out := &runner.Result{Lines: strings.Split(sampleBootctlList, "\n")}
	fr := &fakeRunner{results: map[string]*runner.Result{paths.BootctlPaths[1]: out}}
	s := NewSystemdBoot(paths, fr, zaptest.NewLogger(t))

	listing, err := s.ListEntries(context.Background())
	require.NoError(t, err)

	require.Len(t, fr.calls, 1)
	assert.Equal(t, []string{paths.BootctlPaths[1], "list"}, fr.calls[0])
	assert.Same(t, out, listing.Raw)

	assert.Equal(t, []BootEntry{
		{ID: "arch.conf", Label: "Arch Linux"},
		{ID: "arch-fallback.conf", Label: "Arch Linux (fallback initramfs)"},
		{ID: "auto-windows", Label: "Windows Boot Manager"},
		{ID: "auto-reboot-to-firmware-setup", Label: "Reboot Into Firmware Interface"},
	}, listing.Entries)
	assert.Equal(t, "arch.conf", listing.Default)
}

func TestSystemdBoot_ListEntriesNonZeroExit(t *testing.T) {
	paths := testPaths(t)
	writeFile(t, paths.BootctlPaths[0], "")
	out := &runner.Result{Lines: []string{"Failed to open ESP"}, ExitCode: 1}
	fr := &fakeRunner{results: map[string]*runner.Result{paths.BootctlPaths[0]: out}}
	s := NewSystemdBoot(paths, fr, zaptest.NewLogger(t))

	listing, err := s.ListEntries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, listing.Raw.ExitCode)
	assert.Empty(t, listing.Entries)
}

func TestSystemdBoot_ListEntriesErrors(t *testing.T) {
	t.Run("binary not found", func(t *testing.T) {
		s := NewSystemdBoot(testPaths(t), &fakeRunner{}, zaptest.NewLogger(t))
		_, err := s.ListEntries(context.Background())
		assert.ErrorIs(t, err, ErrBinaryNotFound)
	})

	t.Run("execution error", func(t *testing.T) {
		paths := testPaths(t)
		writeFile(t, paths.BootctlPaths[0], "")
		fr := &fakeRunner{errs: map[string]error{paths.BootctlPaths[0]: runner.ErrExecution}}
		s := NewSystemdBoot(paths, fr, zaptest.NewLogger(t))
		_, err := s.ListEntries(context.Background())
		assert.ErrorIs(t, err, runner.ErrExecution)
	})
}

func TestSystemdBoot_Unsupported(t *testing.T) {
	fr := &fakeRunner{}
	s := NewSystemdBoot(testPaths(t), fr, zaptest.NewLogger(t))
	ctx := context.Background()

	ok, err := s.SetNextBoot(ctx, "arch.conf")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrUnsupported)

	assert.ErrorIs(t, s.SetReadable(ctx), ErrUnsupported)
	assert.ErrorIs(t, s.EnableQuickReboot(ctx), ErrUnsupported)
	assert.ErrorIs(t, s.DisableQuickReboot(ctx), ErrUnsupported)

	enabled, err := s.QuickRebootEnabled()
	assert.False(t, enabled)
	assert.ErrorIs(t, err, ErrUnsupported)

	assert.Empty(t, fr.calls)
}

func TestParseBootctlList(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		want        []BootEntry
		wantDefault string
	}{
		{
			name:  "empty",
			input: "",
		},
		{
			name:  "id without title is ignored",
			input: "  id: orphan.conf\n\n  title: Real\n  id: real.conf\n",
			want:  []BootEntry{{ID: "real.conf", Label: "Real"}},
		},
		{
			name:        "title with colon",
			input:       "  title: Linux: LTS (default)\n  id: lts.conf\n",
			want:        []BootEntry{{ID: "lts.conf", Label: "Linux: LTS"}},
			wantDefault: "lts.conf",
		},
		{
			name:  "title without id is dropped at record end",
			input: "  title: Broken\n\n  id: stray.conf\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, def := parseBootctlList(strings.Split(tt.input, "\n"))
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantDefault, def)
		})
	}
}
