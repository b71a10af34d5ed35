package bootloader

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const quickRebootMode = 0755

// EnableQuickReboot installs the helper script into /etc/grub.d and
// regenerates grub.cfg. If regeneration fails the previous state of the
// install path is restored.
func (g *GrubBackend) EnableQuickReboot(ctx context.Context) error {
	target := g.paths.QuickRebootTarget
	if err := checkWritable(filepath.Dir(target)); err != nil {
		return err
	}

	prev, err := snapshot(target)
	if err != nil {
		return err
	}

	if err := copyScript(g.paths.QuickRebootScript, target); err != nil {
		return multierr.Append(
			fmt.Errorf("installing quick reboot script: %w", err),
			restore(target, prev))
	}

	if err := g.regenerate(ctx); err != nil {
		g.logger.Warn("Regenerating grub config failed, rolling back", zap.Error(err))
		return multierr.Append(err, restore(target, prev))
	}

	g.logger.Info("Quick reboot enabled", zap.String("script", target))
	return nil
}

// DisableQuickReboot removes the helper script and regenerates grub.cfg,
// putting the script back if regeneration fails.
func (g *GrubBackend) DisableQuickReboot(ctx context.Context) error {
	target := g.paths.QuickRebootTarget

	prev, err := snapshot(target)
	if err != nil {
		return err
	}
	if !prev.existed {
		return fmt.Errorf("removing quick reboot script: %w", os.ErrNotExist)
	}

	if err := os.Remove(target); err != nil {
		return fmt.Errorf("removing quick reboot script: %w", err)
	}

	if err := g.regenerate(ctx); err != nil {
		g.logger.Warn("Regenerating grub config failed, rolling back", zap.Error(err))
		return multierr.Append(err, restore(target, prev))
	}

	g.logger.Info("Quick reboot disabled", zap.String("script", target))
	return nil
}

func checkWritable(dir string) error {
	if err := unix.Access(dir, unix.W_OK); err != nil {
		return fmt.Errorf("%s is not writable: %w", dir, err)
	}
	return nil
}

// fileState is the content and mode of a path captured before a change.
type fileState struct {
	data    []byte
	mode    os.FileMode
	existed bool
}

// snapshot reads the current contents and permissions of path, if any.
func snapshot(path string) (fileState, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return fileState{}, nil
	}
	if err != nil {
		return fileState{}, fmt.Errorf("reading %s: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fileState{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return fileState{data: data, mode: info.Mode().Perm(), existed: true}, nil
}

// restore puts path back to the state captured by snapshot.
func restore(path string, prev fileState) error {
	if !prev.existed {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("rollback: removing %s: %w", path, err)
		}
		return nil
	}
	if err := os.WriteFile(path, prev.data, prev.mode); err != nil {
		return fmt.Errorf("rollback: restoring %s: %w", path, err)
	}
	// WriteFile leaves the mode of an existing file alone.
	if err := os.Chmod(path, prev.mode); err != nil {
		return fmt.Errorf("rollback: restoring %s: %w", path, err)
	}
	return nil
}

func copyScript(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, quickRebootMode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	// OpenFile's mode is filtered by the umask.
	return os.Chmod(dst, quickRebootMode)
}
