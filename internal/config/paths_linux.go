package config

import (
	"os"
	"path/filepath"
)

func configSearchPaths() []string {
	var paths []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, "custom-reboot", "config.yaml"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "custom-reboot", "config.yaml"))
	}
	return append(paths, "/etc/custom-reboot/config.yaml")
}
